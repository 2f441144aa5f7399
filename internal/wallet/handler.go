package wallet

import (
	"errors"
	"net/http"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/helix-pay/helix_custody/internal/chains"
)

// Handler exposes wallet HTTP endpoints.
type Handler struct {
	service *Service
}

// NewHandler builds a wallet HTTP handler.
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

type addressRequest struct {
	Address     string `json:"address"`
	Network     string `json:"network"`
	SignerIndex uint32 `json:"signer_index"`
	Shared      bool   `json:"shared"`
}

type createRequest struct {
	OwnerID   string                    `json:"owner_id"`
	Addresses map[string]addressRequest `json:"addresses"`
}

type addressResponse struct {
	Address     string `json:"address"`
	Network     string `json:"network"`
	SignerIndex uint32 `json:"signer_index"`
	Shared      bool   `json:"shared"`
}

type walletResponse struct {
	ID        string                     `json:"id"`
	OwnerID   string                     `json:"owner_id"`
	Status    string                     `json:"status"`
	CreatedAt time.Time                  `json:"created_at"`
	Addresses map[string]addressResponse `json:"addresses"`
}

func toResponse(w Wallet) walletResponse {
	resp := walletResponse{
		ID:        w.ID,
		OwnerID:   w.OwnerID,
		Status:    w.Status,
		CreatedAt: w.CreatedAt,
		Addresses: make(map[string]addressResponse, len(w.Addresses)),
	}
	for chain, addr := range w.Addresses {
		resp.Addresses[string(chain)] = addressResponse{
			Address:     addr.Address,
			Network:     addr.Network,
			SignerIndex: addr.SignerIndex,
			Shared:      addr.Shared,
		}
	}
	return resp
}

// Create provisions a wallet with its per-chain deposit addresses.
func (h *Handler) Create(c *fiber.Ctx) error {
	var req createRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, err.Error())
	}

	addrs := make(map[chains.Chain]AddressInput, len(req.Addresses))
	for name, in := range req.Addresses {
		chain, err := chains.Parse(name)
		if err != nil {
			return fiber.NewError(http.StatusBadRequest, err.Error())
		}
		addrs[chain] = AddressInput{
			Address:     in.Address,
			Network:     in.Network,
			SignerIndex: in.SignerIndex,
			Shared:      in.Shared,
		}
	}

	wallet, err := h.service.Create(c.UserContext(), CreateInput{OwnerID: req.OwnerID, Addresses: addrs})
	if err != nil {
		return fiber.NewError(http.StatusBadRequest, err.Error())
	}
	return c.Status(http.StatusCreated).JSON(toResponse(wallet))
}

// Get returns wallet metadata.
func (h *Handler) Get(c *fiber.Ctx) error {
	wallet, err := h.service.Get(c.UserContext(), c.Params("walletId"))
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return fiber.NewError(http.StatusNotFound, err.Error())
		}
		return fiber.NewError(http.StatusBadRequest, err.Error())
	}
	return c.Status(http.StatusOK).JSON(toResponse(wallet))
}

// Balance returns the wallet's per-chain and aggregate balances.
func (h *Handler) Balance(c *fiber.Ctx) error {
	balance, err := h.service.Balance(c.UserContext(), c.Params("walletId"))
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return fiber.NewError(http.StatusNotFound, err.Error())
		}
		return fiber.NewError(http.StatusBadRequest, err.Error())
	}

	byChain := make(map[string]int64, len(balance.ByChain))
	for chain, amount := range balance.ByChain {
		byChain[string(chain)] = amount
	}
	return c.Status(http.StatusOK).JSON(fiber.Map{
		"wallet_id": balance.WalletID,
		"total":     balance.Total,
		"by_chain":  byChain,
		"timestamp": balance.AsOf,
	})
}
