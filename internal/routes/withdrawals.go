package routes

import (
	"github.com/gofiber/fiber/v2"

	"github.com/helix-pay/helix_custody/internal/withdrawal"
)

// RegisterWithdrawalRoutes wires withdrawal, consolidation and deposit-ingest
// endpoints.
func RegisterWithdrawalRoutes(r fiber.Router, h *withdrawal.Handler) {
	r.Post("/withdrawals", h.Withdraw)
	r.Get("/withdrawals/:transactionId", h.Get)
	r.Post("/wallets/:walletId/chains/:chain/consolidate", h.Consolidate)
	r.Post("/deposits", h.Deposit)
}
