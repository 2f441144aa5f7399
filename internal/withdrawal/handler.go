package withdrawal

import (
	"errors"
	"net/http"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/helix-pay/helix_custody/internal/chains"
	"github.com/helix-pay/helix_custody/internal/ledger"
	"github.com/helix-pay/helix_custody/internal/utxo"
	"github.com/helix-pay/helix_custody/internal/wallet"
)

// Handler exposes withdrawal, consolidation and deposit-ingest endpoints.
type Handler struct {
	service *Service
}

// NewHandler constructs a withdrawal handler.
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

type withdrawRequest struct {
	WalletID  string `json:"wallet_id"`
	Chain     string `json:"chain"`
	ToAddress string `json:"to_address"`
	Amount    int64  `json:"amount"`
}

type transactionResponse struct {
	ID        string    `json:"id"`
	WalletID  string    `json:"wallet_id"`
	Chain     string    `json:"chain"`
	ToAddress string    `json:"to_address"`
	Amount    int64     `json:"amount"`
	Fee       int64     `json:"fee"`
	TxHash    string    `json:"tx_hash,omitempty"`
	Status    string    `json:"status"`
	Reason    string    `json:"reason,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func toTransactionResponse(tx ledger.Transaction) transactionResponse {
	return transactionResponse{
		ID:        tx.ID,
		WalletID:  tx.WalletID,
		Chain:     string(tx.Chain),
		ToAddress: tx.ToAddress,
		Amount:    tx.Amount,
		Fee:       tx.Fee,
		TxHash:    tx.TxHash,
		Status:    string(tx.Status),
		Reason:    tx.Reason,
		CreatedAt: tx.CreatedAt,
		UpdatedAt: tx.UpdatedAt,
	}
}

// Withdraw accepts a withdrawal: the amount plus the fee estimate is debited
// immediately and the transaction is queued for serialized processing.
func (h *Handler) Withdraw(c *fiber.Ctx) error {
	var req withdrawRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, err.Error())
	}
	chain, err := chains.Parse(req.Chain)
	if err != nil {
		return fiber.NewError(http.StatusBadRequest, err.Error())
	}

	record, err := h.service.Request(c.UserContext(), RequestInput{
		WalletID:  req.WalletID,
		Chain:     chain,
		ToAddress: req.ToAddress,
		Amount:    req.Amount,
	})
	if err != nil {
		return withdrawalError(err)
	}
	return c.Status(http.StatusAccepted).JSON(toTransactionResponse(record))
}

// Get returns one withdrawal record, terminal or not.
func (h *Handler) Get(c *fiber.Ctx) error {
	record, err := h.service.Transaction(c.UserContext(), c.Params("transactionId"))
	if err != nil {
		if errors.Is(err, ledger.ErrTransactionNotFound) {
			return fiber.NewError(http.StatusNotFound, err.Error())
		}
		return fiber.NewError(http.StatusBadRequest, err.Error())
	}
	return c.Status(http.StatusOK).JSON(toTransactionResponse(record))
}

type consolidateRequest struct {
	MaxFeeRate int64 `json:"max_fee_rate"`
}

// Consolidate triggers a maintenance merge of the wallet's small outputs.
// Declines, such as a pool not worth merging, come back 200 with a message
// rather than as errors.
func (h *Handler) Consolidate(c *fiber.Ctx) error {
	chain, err := chains.Parse(c.Params("chain"))
	if err != nil {
		return fiber.NewError(http.StatusBadRequest, err.Error())
	}
	var req consolidateRequest
	if len(c.Body()) > 0 {
		if err := c.BodyParser(&req); err != nil {
			return fiber.NewError(http.StatusBadRequest, err.Error())
		}
	}

	result, err := h.service.Consolidate(c.UserContext(), c.Params("walletId"), chain, req.MaxFeeRate)
	if err != nil {
		return withdrawalError(err)
	}
	return c.Status(http.StatusOK).JSON(fiber.Map{
		"consolidated": result.Consolidated,
		"tx_hash":      result.TxHash,
		"message":      result.Message,
	})
}

type depositOutputRequest struct {
	Vout   uint32 `json:"vout"`
	Amount int64  `json:"amount"`
	Script string `json:"script"`
}

type depositRequest struct {
	WalletID string                 `json:"wallet_id"`
	Chain    string                 `json:"chain"`
	TxHash   string                 `json:"tx_hash"`
	Outputs  []depositOutputRequest `json:"outputs"`
}

// Deposit ingests an observed inbound transaction: credits the balance and
// records the spendable outputs.
func (h *Handler) Deposit(c *fiber.Ctx) error {
	var req depositRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, err.Error())
	}
	chain, err := chains.Parse(req.Chain)
	if err != nil {
		return fiber.NewError(http.StatusBadRequest, err.Error())
	}

	outputs := make([]DepositOutput, 0, len(req.Outputs))
	for _, out := range req.Outputs {
		outputs = append(outputs, DepositOutput{Vout: out.Vout, Amount: out.Amount, Script: out.Script})
	}

	if err := h.service.RecordDeposit(c.UserContext(), req.WalletID, chain, req.TxHash, outputs); err != nil {
		return withdrawalError(err)
	}
	return c.SendStatus(http.StatusCreated)
}

// withdrawalError maps service errors onto HTTP statuses: economic
// objections are unprocessable, missing wallets are 404, the rest are bad
// requests.
func withdrawalError(err error) error {
	var (
		dust         *utxo.DustError
		insufficient *utxo.InsufficientFundsError
		uneconomical *UneconomicalError
	)
	switch {
	case errors.Is(err, wallet.ErrNotFound), errors.Is(err, ledger.ErrWalletNotFound):
		return fiber.NewError(http.StatusNotFound, err.Error())
	case errors.Is(err, ledger.ErrInsufficientFunds):
		return fiber.NewError(http.StatusUnprocessableEntity, err.Error())
	case errors.As(err, &dust), errors.As(err, &insufficient), errors.As(err, &uneconomical):
		return fiber.NewError(http.StatusUnprocessableEntity, err.Error())
	default:
		return fiber.NewError(http.StatusBadRequest, err.Error())
	}
}
