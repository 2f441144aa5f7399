package withdrawal

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/helix-pay/helix_custody/internal/broadcast"
	"github.com/helix-pay/helix_custody/internal/chains"
	"github.com/helix-pay/helix_custody/internal/fees"
	"github.com/helix-pay/helix_custody/internal/ledger"
	"github.com/helix-pay/helix_custody/internal/notification"
	"github.com/helix-pay/helix_custody/internal/reconcile"
	"github.com/helix-pay/helix_custody/internal/utxo"
	"github.com/helix-pay/helix_custody/internal/wallet"
)

// Config bounds the retry and confirmation-wait behavior. The bounds are
// deliberately configurable rather than canonical constants.
type Config struct {
	// MaxAttempts caps in-process rebuilds after a lost input race.
	MaxAttempts int
	// ConsolidationPollInterval is the fixed delay between confirmation
	// checks while waiting on an auto-consolidation.
	ConsolidationPollInterval time.Duration
	// ConsolidationPollLimit caps the number of confirmation checks.
	ConsolidationPollLimit int
	// MaxConsolidationFeeRate skips consolidation when the network is more
	// expensive than this (minor units per byte). Zero disables the cap.
	MaxConsolidationFeeRate int64
}

func (c Config) withDefaults() Config {
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 3
	}
	if c.ConsolidationPollInterval <= 0 {
		c.ConsolidationPollInterval = 30 * time.Second
	}
	if c.ConsolidationPollLimit <= 0 {
		c.ConsolidationPollLimit = 60 // 30 minutes at the default interval
	}
	return c
}

// UneconomicalError rejects a withdrawal before any balance is touched: the
// available pool cannot fund it sensibly.
type UneconomicalError struct {
	Reason       string
	MaxSpendable int64
}

func (e *UneconomicalError) Error() string { return e.Reason }

// ConsolidationResult reports the outcome of a consolidation attempt.
// Consolidated=false with a message is a graceful decline, not an error.
type ConsolidationResult struct {
	Consolidated bool
	TxHash       string
	Message      string
}

// Service drives the withdrawal state machine for UTXO chains, from the
// atomic debit through selection, broadcast, retries and the terminal
// COMPLETED or FAILED(+refund) states.
type Service struct {
	store      ledger.Store
	wallets    *wallet.Service
	oracle     fees.Oracle
	builder    broadcast.TxBuilder
	explorer   broadcast.Explorer
	notifier   notification.Notifier
	reconciler *reconcile.Reconciler
	queue      *Queue
	logger     *slog.Logger
	cfg        Config
}

// NewService wires the withdrawal engine. The queue it owns is started by the
// caller via Queue().Run.
func NewService(store ledger.Store, wallets *wallet.Service, oracle fees.Oracle,
	builder broadcast.TxBuilder, explorer broadcast.Explorer, notifier notification.Notifier,
	reconciler *reconcile.Reconciler, logger *slog.Logger, cfg Config) *Service {

	s := &Service{
		store:      store,
		wallets:    wallets,
		oracle:     oracle,
		builder:    builder,
		explorer:   explorer,
		notifier:   notifier,
		reconciler: reconciler,
		logger:     logger,
		cfg:        cfg.withDefaults(),
	}
	s.queue = NewQueue(s.Process, logger)
	return s
}

// Queue exposes the serialized processor for startup and for the API layer.
func (s *Service) Queue() *Queue {
	return s.queue
}

// RequestInput describes a withdrawal request.
type RequestInput struct {
	WalletID  string
	Chain     chains.Chain
	ToAddress string
	Amount    int64
}

// Request validates the withdrawal, debits the balance atomically with the
// PENDING record and enqueues it. Economic objections (dust, insufficient or
// uneconomical pools that consolidation cannot fix) surface here, before any
// balance mutation.
func (s *Service) Request(ctx context.Context, input RequestInput) (ledger.Transaction, error) {
	p, err := chains.ParamsFor(input.Chain)
	if err != nil {
		return ledger.Transaction{}, err
	}
	if !chains.ValidAddress(input.ToAddress, input.Chain) {
		return ledger.Transaction{}, fmt.Errorf("address %q is not valid for %s", input.ToAddress, p.Name)
	}
	if input.Amount < p.DustThreshold {
		return ledger.Transaction{}, &utxo.DustError{Amount: input.Amount, Threshold: p.DustThreshold}
	}
	if _, err := s.wallets.ChainAddress(ctx, input.WalletID, input.Chain); err != nil {
		return ledger.Transaction{}, err
	}

	rate := s.feeRate(ctx, input.Chain, p)
	pool, err := s.store.UnspentUTXOs(ctx, input.WalletID, input.Chain)
	if err != nil {
		return ledger.Transaction{}, err
	}

	est := utxo.MinimumWithdrawal(pool, input.Amount, rate, p)
	fee := est.Fee
	if !est.Economical {
		if !utxo.ShouldConsolidate(pool, rate, p) {
			return ledger.Transaction{}, &UneconomicalError{Reason: est.Reason, MaxSpendable: est.MaxSpendable}
		}
		// Consolidation during processing should make the pool usable;
		// debit with a conservative two-input estimate until then.
		fee = int64(2*chains.BytesPerInput+2*chains.BytesPerOutput+chains.BytesOverhead) * rate
	}

	record, err := s.store.BeginWithdrawal(ctx, input.WalletID, input.Chain, input.ToAddress, input.Amount, fee)
	if err != nil {
		return ledger.Transaction{}, err
	}

	s.queue.Add(record.ID)
	s.logger.Info("withdrawal accepted",
		"transaction_id", record.ID, "wallet_id", record.WalletID,
		"chain", record.Chain, "amount", record.Amount, "fee_estimate", record.Fee)
	return record, nil
}

// Transaction fetches one withdrawal record.
func (s *Service) Transaction(ctx context.Context, id string) (ledger.Transaction, error) {
	return s.store.Transaction(ctx, id)
}

// Process runs one queued withdrawal to a terminal state. It is the queue's
// worker function and never processes the same id twice: the claim is a
// conditional PENDING -> PROCESSING update.
func (s *Service) Process(ctx context.Context, id string) {
	record, claimed, err := s.store.ClaimPending(ctx, id)
	if err != nil {
		s.logger.Error("claim withdrawal", "transaction_id", id, "error", err)
		return
	}
	if !claimed {
		s.logger.Info("withdrawal already claimed", "transaction_id", id)
		return
	}

	txHash, finalFee, err := s.execute(ctx, record)
	if err != nil {
		s.fail(ctx, record, err)
		return
	}
	s.complete(ctx, record, txHash, finalFee)
}

func (s *Service) complete(ctx context.Context, record ledger.Transaction, txHash string, finalFee int64) {
	if err := s.store.CompleteWithdrawal(ctx, record.ID, txHash, finalFee); err != nil {
		s.logger.Error("complete withdrawal", "transaction_id", record.ID, "tx_hash", txHash, "error", err)
		return
	}

	addr, err := s.wallets.ChainAddress(ctx, record.WalletID, record.Chain)
	if err == nil && addr.Shared {
		key := reconcile.Key(record.WalletID, addr.SignerIndex, record.Chain, addr.Network)
		if err := s.reconciler.RecordOutflow(ctx, key, record.Amount+finalFee); err != nil {
			s.logger.Error("private ledger outflow", "transaction_id", record.ID, "error", err)
		}
	}

	s.logger.Info("withdrawal completed", "transaction_id", record.ID, "tx_hash", txHash, "fee", finalFee)
	_ = s.notifier.Send(ctx, notification.Message{
		Kind:        notification.KindWithdrawalCompleted,
		Destination: record.WalletID,
		Body:        fmt.Sprintf("Your withdrawal of %d on %s is on its way (transaction %s).", record.Amount, record.Chain, txHash),
	})
}

func (s *Service) fail(ctx context.Context, record ledger.Transaction, cause error) {
	reason := failureReason(cause)
	if err := s.store.FailWithdrawal(ctx, record.ID, reason); err != nil {
		s.logger.Error("fail withdrawal", "transaction_id", record.ID, "error", err)
		return
	}

	s.logger.Warn("withdrawal failed", "transaction_id", record.ID, "reason", reason, "error", cause)
	_ = s.notifier.Send(ctx, notification.Message{
		Kind:        notification.KindWithdrawalFailed,
		Destination: record.WalletID,
		Body:        fmt.Sprintf("Your withdrawal of %d on %s failed and was refunded: %s", record.Amount, record.Chain, reason),
	})
}

// execute runs the UTXO withdrawal flow: pre-validate economics (with an
// auto-consolidation detour when the pool is fragmented), then build, sign
// and broadcast under the UTXO row locks, retrying up to the configured bound
// when another spender wins an input race.
func (s *Service) execute(ctx context.Context, record ledger.Transaction) (string, int64, error) {
	p, err := chains.ParamsFor(record.Chain)
	if err != nil {
		return "", 0, err
	}
	addr, err := s.wallets.ChainAddress(ctx, record.WalletID, record.Chain)
	if err != nil {
		return "", 0, err
	}
	rate := s.feeRate(ctx, record.Chain, p)

	pool, err := s.store.UnspentUTXOs(ctx, record.WalletID, record.Chain)
	if err != nil {
		return "", 0, err
	}
	est := utxo.MinimumWithdrawal(pool, record.Amount, rate, p)
	if !est.Economical {
		if !utxo.ShouldConsolidate(pool, rate, p) {
			return "", 0, &UneconomicalError{Reason: est.Reason, MaxSpendable: est.MaxSpendable}
		}

		res, err := s.Consolidate(ctx, record.WalletID, record.Chain, s.cfg.MaxConsolidationFeeRate)
		if err != nil {
			return "", 0, fmt.Errorf("auto-consolidation: %w", err)
		}
		if res.Consolidated {
			if err := s.waitConfirmed(ctx, record.Chain, res.TxHash); err != nil {
				return "", 0, err
			}
		}

		pool, err = s.store.UnspentUTXOs(ctx, record.WalletID, record.Chain)
		if err != nil {
			return "", 0, err
		}
		if est = utxo.MinimumWithdrawal(pool, record.Amount, rate, p); !est.Economical {
			return "", 0, &UneconomicalError{Reason: est.Reason, MaxSpendable: est.MaxSpendable}
		}
	}

	for attempt := 1; attempt <= s.cfg.MaxAttempts; attempt++ {
		var (
			txHash    string
			finalFee  int64
			attempted []utxo.UTXO
		)
		err := s.store.SpendUTXOs(ctx, record.WalletID, record.Chain, func(view ledger.UTXOView) error {
			plan, err := utxo.SelectAndBuild(view.Unspent(), record.Amount, rate, p)
			if err != nil {
				return err
			}
			attempted = plan.Inputs

			hash, err := s.builder.BuildAndBroadcast(ctx, record.Chain, plan, record.ToAddress, addr.Address)
			if err != nil {
				var accepted *broadcast.AcceptedError
				if !errors.As(err, &accepted) {
					return err
				}
				// The network took the transaction; finish the
				// bookkeeping instead of retrying or refunding.
				s.logger.Warn("broadcast errored after acceptance",
					"transaction_id", record.ID, "tx_hash", accepted.TxHash, "error", accepted.Err)
				hash = accepted.TxHash
			}

			for _, in := range plan.Inputs {
				if err := view.MarkSpent(in.ID); err != nil {
					return err
				}
			}
			if plan.Change > 0 {
				script, err := broadcast.ScriptHexFor(addr.Address, p)
				if err != nil {
					return err
				}
				if err := view.Create(utxo.UTXO{
					WalletID: record.WalletID,
					TxID:     hash,
					Vout:     1,
					Amount:   plan.Change,
					Script:   script,
				}); err != nil {
					return err
				}
			}

			txHash = hash
			finalFee = plan.Fee
			return nil
		})
		if err == nil {
			return txHash, finalFee, nil
		}

		var spent *broadcast.InputSpentError
		if !errors.As(err, &spent) {
			return "", 0, err
		}

		s.logger.Warn("lost input race, reselecting",
			"transaction_id", record.ID, "attempt", attempt, "reason", spent.Reason)
		if err := s.markLostInputs(ctx, record, addr, spent, attempted); err != nil {
			return "", 0, err
		}
	}

	return "", 0, fmt.Errorf("inputs kept being spent after %d attempts", s.cfg.MaxAttempts)
}

// markLostInputs records the outputs another spender took. Outpoints parsed
// from the provider message are used directly; an unparseable message
// degrades to querying each attempted input's spent status on-chain, which is
// slower but authoritative.
func (s *Service) markLostInputs(ctx context.Context, record ledger.Transaction, addr wallet.ChainAddress,
	spent *broadcast.InputSpentError, attempted []utxo.UTXO) error {

	outs := spent.Outpoints
	lost := int64(0)
	if len(outs) == 0 {
		for _, u := range attempted {
			taken, err := s.explorer.OutSpent(ctx, record.Chain, u.TxID, u.Vout)
			if err != nil {
				return fmt.Errorf("verify input %s:%d: %w", u.TxID, u.Vout, err)
			}
			if taken {
				outs = append(outs, utxo.Outpoint{TxID: u.TxID, Vout: u.Vout})
				lost += u.Amount
			}
		}
	} else {
		byOutpoint := make(map[utxo.Outpoint]int64, len(attempted))
		for _, u := range attempted {
			byOutpoint[utxo.Outpoint{TxID: u.TxID, Vout: u.Vout}] = u.Amount
		}
		for _, o := range outs {
			lost += byOutpoint[o]
		}
	}
	if len(outs) == 0 {
		return fmt.Errorf("provider reported spent inputs but none of the attempted inputs are spent on-chain: %s", spent.Reason)
	}

	marked, err := s.store.MarkOutpointsSpent(ctx, record.WalletID, record.Chain, outs)
	if err != nil {
		return err
	}
	s.logger.Info("marked lost inputs spent", "transaction_id", record.ID, "count", marked)

	if addr.Shared {
		key := reconcile.Key(record.WalletID, addr.SignerIndex, record.Chain, addr.Network)
		if err := s.reconciler.RecordOutflow(ctx, key, lost); err != nil {
			return err
		}
	} else if lost > 0 {
		s.logger.Error("unshared wallet lost inputs to an external spender",
			"wallet_id", record.WalletID, "chain", record.Chain, "amount", lost)
	}
	return nil
}

// Consolidate merges the wallet's small unspent outputs into one, paying at
// most maxFeeRate per byte. Declines gracefully (no broadcast, no mutation)
// when the pool is not worth merging or the network is too expensive.
func (s *Service) Consolidate(ctx context.Context, walletID string, chain chains.Chain, maxFeeRate int64) (ConsolidationResult, error) {
	p, err := chains.ParamsFor(chain)
	if err != nil {
		return ConsolidationResult{}, err
	}
	addr, err := s.wallets.ChainAddress(ctx, walletID, chain)
	if err != nil {
		return ConsolidationResult{}, err
	}

	rate := s.feeRate(ctx, chain, p)
	if maxFeeRate > 0 && rate > maxFeeRate {
		return ConsolidationResult{
			Message: fmt.Sprintf("current fee rate %d exceeds the maximum acceptable %d", rate, maxFeeRate),
		}, nil
	}

	var result ConsolidationResult
	err = s.store.SpendUTXOs(ctx, walletID, chain, func(view ledger.UTXOView) error {
		plan, err := utxo.PlanConsolidation(view.Unspent(), rate, p)
		if err != nil {
			return err
		}

		hash, err := s.builder.BuildAndBroadcast(ctx, chain, plan, addr.Address, "")
		if err != nil {
			var accepted *broadcast.AcceptedError
			if !errors.As(err, &accepted) {
				return err
			}
			hash = accepted.TxHash
		}

		for _, in := range plan.Inputs {
			if err := view.MarkSpent(in.ID); err != nil {
				return err
			}
		}
		script, err := broadcast.ScriptHexFor(addr.Address, p)
		if err != nil {
			return err
		}
		if err := view.Create(utxo.UTXO{
			WalletID: walletID,
			TxID:     hash,
			Vout:     0,
			Amount:   plan.Amount,
			Script:   script,
		}); err != nil {
			return err
		}
		// The fee burned by the merge leaves the wallet's spendable sum;
		// mirror it on the balance inside the same transaction.
		if err := view.AdjustBalance(-plan.Fee); err != nil {
			return err
		}

		result = ConsolidationResult{
			Consolidated: true,
			TxHash:       hash,
			Message:      fmt.Sprintf("consolidated %d utxos into one of %d", len(plan.Inputs), plan.Amount),
		}
		return nil
	})
	if err != nil {
		if errors.Is(err, utxo.ErrTooFewUTXOs) || errors.Is(err, utxo.ErrConsolidationDust) {
			return ConsolidationResult{Message: err.Error()}, nil
		}
		return ConsolidationResult{}, err
	}

	s.logger.Info("consolidation broadcast", "wallet_id", walletID, "chain", chain, "tx_hash", result.TxHash)
	return result, nil
}

// DepositOutput is one output of an observed deposit transaction addressed
// to the wallet.
type DepositOutput struct {
	Vout   uint32
	Amount int64
	Script string
}

// RecordDeposit credits the deposit and records its outputs as spendable
// UTXOs. The UTXO bookkeeping is best-effort: a failure there is logged and
// must never block the balance credit.
func (s *Service) RecordDeposit(ctx context.Context, walletID string, chain chains.Chain, txHash string, outputs []DepositOutput) error {
	if len(outputs) == 0 {
		return fmt.Errorf("deposit has no outputs")
	}

	var total int64
	for _, out := range outputs {
		total += out.Amount
	}
	if err := s.store.CreditBalance(ctx, walletID, chain, total); err != nil {
		return err
	}

	for _, out := range outputs {
		err := s.store.CreateUTXO(ctx, chain, utxo.UTXO{
			WalletID: walletID,
			TxID:     txHash,
			Vout:     out.Vout,
			Amount:   out.Amount,
			Script:   out.Script,
		})
		if err != nil {
			s.logger.Warn("deposit utxo bookkeeping failed",
				"wallet_id", walletID, "tx_hash", txHash, "vout", out.Vout, "error", err)
		}
	}

	if addr, err := s.wallets.ChainAddress(ctx, walletID, chain); err == nil && addr.Shared {
		key := reconcile.Key(walletID, addr.SignerIndex, chain, addr.Network)
		if err := s.reconciler.RecordInflow(ctx, key, total); err != nil {
			s.logger.Error("private ledger inflow", "wallet_id", walletID, "error", err)
		}
	}
	return nil
}

func (s *Service) waitConfirmed(ctx context.Context, chain chains.Chain, txHash string) error {
	for i := 0; i < s.cfg.ConsolidationPollLimit; i++ {
		confirmed, _, err := s.explorer.Confirmed(ctx, chain, txHash)
		if err != nil {
			s.logger.Warn("confirmation check failed", "tx_hash", txHash, "error", err)
		} else if confirmed {
			return nil
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(s.cfg.ConsolidationPollInterval):
		}
	}
	return fmt.Errorf("transaction %s not confirmed after %d checks", txHash, s.cfg.ConsolidationPollLimit)
}

func (s *Service) feeRate(ctx context.Context, chain chains.Chain, p chains.Params) int64 {
	rate, err := s.oracle.FeeRate(ctx, chain)
	if err != nil || rate <= 0 {
		s.logger.Warn("fee oracle unavailable, using default rate",
			"chain", chain, "default", p.DefaultFeeRate, "error", err)
		return p.DefaultFeeRate
	}
	return rate
}

// failureReason maps an error to the human-readable string stored on the
// FAILED row and sent to the user.
func failureReason(err error) string {
	var (
		insufficient *utxo.InsufficientFundsError
		dust         *utxo.DustError
		uneconomical *UneconomicalError
		rejected     *broadcast.RejectedError
		provider     *broadcast.ProviderError
	)
	switch {
	case errors.As(err, &insufficient):
		return fmt.Sprintf("the available coins cannot cover this amount plus network fees (maximum spendable: %d)", insufficient.MaxSpendable)
	case errors.As(err, &uneconomical):
		return uneconomical.Reason
	case errors.As(err, &dust):
		return fmt.Sprintf("the amount is below the network minimum of %d", dust.Threshold)
	case errors.As(err, &rejected):
		return fmt.Sprintf("the network rejected the transaction: %s", rejected.Reason)
	case errors.As(err, &provider):
		return "a network provider was unavailable; the amount has been refunded"
	default:
		return err.Error()
	}
}
