// Package service coordinates the settlement engine with the surrounding
// infrastructure: distributed locking, persistence, event publication, and
// operator alerts. Handlers talk to this layer, never to the engine directly.
package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/apexlabs-eth/flasharb/internal/domain"
)

// executionLockKey serializes submissions across replicas sharing one engine
// deployment.
const executionLockKey = "flasharb:execution"

// Executor is the engine surface the service depends on.
type Executor interface {
	ExecuteArbitrage(ctx context.Context, caller common.Address, req domain.ArbitrageRequest) (*domain.SettlementResult, error)
	Balance(token common.Address) *big.Int
	EmergencyWithdraw(ctx context.Context, caller, token common.Address, amount *big.Int) error
}

// Notifier delivers operator alerts for selected event types.
type Notifier interface {
	Notify(ctx context.Context, event, title, message string) error
}

// ArbConfig holds the service-level tunables.
type ArbConfig struct {
	LockTTL time.Duration
	Channel string // pub/sub channel for live settlement events
	Stream  string // durable stream for settlement events
}

// ArbService drives one arbitrage submission end to end: acquire the
// execution lock, run the engine, persist the settlement record, publish the
// event, and alert operators. Persistence and publication failures are logged
// but never mask the settlement outcome.
type ArbService struct {
	engine   Executor
	store    domain.SettlementStore
	locks    domain.LockManager
	bus      domain.SignalBus
	notifier Notifier
	cfg      ArbConfig
	logger   *slog.Logger
}

// NewArbService creates an ArbService with all required dependencies. The
// bus and notifier may be nil; those side effects are then skipped.
func NewArbService(
	eng Executor,
	store domain.SettlementStore,
	locks domain.LockManager,
	bus domain.SignalBus,
	notifier Notifier,
	cfg ArbConfig,
	logger *slog.Logger,
) *ArbService {
	if cfg.LockTTL <= 0 {
		cfg.LockTTL = 30 * time.Second
	}
	if cfg.Channel == "" {
		cfg.Channel = "settlements"
	}
	if cfg.Stream == "" {
		cfg.Stream = "settlements:log"
	}
	return &ArbService{
		engine:   eng,
		store:    store,
		locks:    locks,
		bus:      bus,
		notifier: notifier,
		cfg:      cfg,
		logger:   logger.With(slog.String("component", "arb_service")),
	}
}

// Execute submits one arbitrage request on behalf of caller. The returned
// SettlementResult is non-nil whenever settlement was entered, including
// aborted runs; precondition rejections return (nil, err).
func (s *ArbService) Execute(ctx context.Context, caller common.Address, req domain.ArbitrageRequest) (*domain.SettlementResult, error) {
	unlock, err := s.locks.Acquire(ctx, executionLockKey, s.cfg.LockTTL)
	if err != nil {
		if errors.Is(err, domain.ErrLockHeld) {
			return nil, fmt.Errorf("arb_service: %w", domain.ErrExecutionInProgress)
		}
		return nil, fmt.Errorf("arb_service: acquire execution lock: %w", err)
	}
	defer unlock()

	res, execErr := s.engine.ExecuteArbitrage(ctx, caller, req)
	if res != nil {
		s.record(ctx, res)
	}
	if execErr != nil {
		return res, execErr
	}

	s.logger.InfoContext(ctx, "arb_service: settlement executed",
		slog.String("settlement_id", res.ID),
		slog.String("profit", res.Profit.String()),
	)
	return res, nil
}

// record persists and publishes one settlement outcome. Failures here are
// logged; the settlement itself already happened and must be reported as-is.
func (s *ArbService) record(ctx context.Context, res *domain.SettlementResult) {
	if err := s.store.Create(ctx, *res); err != nil {
		s.logger.ErrorContext(ctx, "arb_service: persist settlement failed",
			slog.String("settlement_id", res.ID),
			slog.String("error", err.Error()),
		)
	}

	if s.bus != nil {
		payload, _ := json.Marshal(domain.Event{
			Type: domain.EventArbitrageExecuted,
			At:   res.ExecutedAt,
			Data: res,
		})
		if err := s.bus.Publish(ctx, s.cfg.Channel, payload); err != nil {
			s.logger.WarnContext(ctx, "arb_service: publish settlement failed",
				slog.String("settlement_id", res.ID),
				slog.String("error", err.Error()),
			)
		}
		if err := s.bus.StreamAppend(ctx, s.cfg.Stream, payload); err != nil {
			s.logger.WarnContext(ctx, "arb_service: append settlement to stream failed",
				slog.String("settlement_id", res.ID),
				slog.String("error", err.Error()),
			)
		}
	}

	if s.notifier != nil {
		title := "Arbitrage settled"
		msg := fmt.Sprintf("%s -> %s, borrowed %s, profit %s",
			res.TokenIn.Hex(), res.TokenOut.Hex(), res.AmountBorrowed, res.Profit)
		if !res.Success {
			title = "Arbitrage aborted"
			msg = fmt.Sprintf("%s -> %s, borrowed %s: %s",
				res.TokenIn.Hex(), res.TokenOut.Hex(), res.AmountBorrowed, res.FailReason)
		}
		if err := s.notifier.Notify(ctx, string(domain.EventArbitrageExecuted), title, msg); err != nil {
			s.logger.WarnContext(ctx, "arb_service: notify failed",
				slog.String("settlement_id", res.ID),
				slog.String("error", err.Error()),
			)
		}
	}
}

// Get returns one settlement by ID.
func (s *ArbService) Get(ctx context.Context, id string) (domain.SettlementResult, error) {
	res, err := s.store.GetByID(ctx, id)
	if err != nil {
		return domain.SettlementResult{}, fmt.Errorf("arb_service: get %q: %w", id, err)
	}
	return res, nil
}

// ListRecent returns the most recent settlements up to limit.
func (s *ArbService) ListRecent(ctx context.Context, limit int) ([]domain.SettlementResult, error) {
	out, err := s.store.ListRecent(ctx, limit)
	if err != nil {
		return nil, fmt.Errorf("arb_service: list recent: %w", err)
	}
	return out, nil
}

// ProfitSince sums realized profit for token since the given time.
func (s *ArbService) ProfitSince(ctx context.Context, token common.Address, since time.Time) (*big.Int, error) {
	sum, err := s.store.SumProfit(ctx, token, since)
	if err != nil {
		return nil, fmt.Errorf("arb_service: sum profit: %w", err)
	}
	return sum, nil
}

// Balance reports the engine's holding of token.
func (s *ArbService) Balance(token common.Address) *big.Int {
	return s.engine.Balance(token)
}

// Withdraw runs an emergency withdrawal on behalf of caller.
func (s *ArbService) Withdraw(ctx context.Context, caller, token common.Address, amount *big.Int) error {
	if err := s.engine.EmergencyWithdraw(ctx, caller, token, amount); err != nil {
		return fmt.Errorf("arb_service: withdraw: %w", err)
	}
	return nil
}
