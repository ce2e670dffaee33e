// Package engine implements the loan orchestrator and the settlement engine.
// ExecuteArbitrage validates a request and asks the lending facility for a
// flash loan; the facility calls back into OnFlashLoan, which runs both trade
// legs, enforces the profit invariant, repays the loan, and forwards the
// surplus to the owner. Every failure after disbursement restores the balance
// book and the adapters' market state, so an aborted settlement leaves no
// trace.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/google/uuid"

	"github.com/apexlabs-eth/flasharb/internal/codec"
	"github.com/apexlabs-eth/flasharb/internal/dex"
	"github.com/apexlabs-eth/flasharb/internal/domain"
	"github.com/apexlabs-eth/flasharb/internal/ledger"
	"github.com/apexlabs-eth/flasharb/internal/lender"
	"github.com/apexlabs-eth/flasharb/internal/registry"
)

// Limits are the engine's global request bounds, set by deployment
// configuration.
type Limits struct {
	MaxLoanAmount *big.Int
	ProfitFloor   *big.Int
}

// pendingLoan tracks the one loan the engine may have outstanding. The hash
// ties the facility callback to the context this engine encoded; consumed
// blocks re-entrant callbacks within the same execution.
type pendingLoan struct {
	hash     common.Hash
	consumed bool
	result   *domain.SettlementResult
	err      error
}

// Engine is the arbitrage executor. It holds funds under its own ledger
// account and mutates balances only inside a settlement or an emergency
// withdrawal.
type Engine struct {
	account  common.Address
	facility common.Address
	limits   Limits

	access *registry.AccessControl
	reg    *registry.Registry
	book   *ledger.Ledger
	pool   *lender.Pool
	exec   dex.Executor
	sink   domain.EventSink
	logger *slog.Logger

	inFlight atomic.Bool
	mu       sync.Mutex
	pending  *pendingLoan
}

// New creates an Engine holding funds under account. The trusted facility
// address is taken from the pool; callbacks from anyone else are rejected.
func New(
	account common.Address,
	limits Limits,
	access *registry.AccessControl,
	reg *registry.Registry,
	book *ledger.Ledger,
	pool *lender.Pool,
	exec dex.Executor,
	sink domain.EventSink,
	logger *slog.Logger,
) *Engine {
	if sink == nil {
		sink = domain.NopSink
	}
	return &Engine{
		account:  account,
		facility: pool.Address(),
		limits:   limits,
		access:   access,
		reg:      reg,
		book:     book,
		pool:     pool,
		exec:     exec,
		sink:     sink,
		logger:   logger.With(slog.String("component", "engine")),
	}
}

// Address returns the engine's ledger account.
func (e *Engine) Address() common.Address {
	return e.account
}

// Balance returns the engine's holding of token.
func (e *Engine) Balance(token common.Address) *big.Int {
	return e.book.Balance(token, e.account)
}

// ExecuteArbitrage validates the request and drives one flash-loan arbitrage
// to completion. Precondition failures reject before any loan is requested.
// The returned SettlementResult is non-nil whenever settlement was entered,
// on aborts as well as successes; precondition rejections return nil.
func (e *Engine) ExecuteArbitrage(ctx context.Context, caller common.Address, req domain.ArbitrageRequest) (*domain.SettlementResult, error) {
	if err := e.validate(caller, req); err != nil {
		return nil, err
	}

	if !e.inFlight.CompareAndSwap(false, true) {
		return nil, fmt.Errorf("engine: %w", domain.ErrExecutionInProgress)
	}
	defer e.inFlight.Store(false)

	lc := domain.LoanContext{
		Asset:     req.TokenIn,
		Amount:    req.Amount,
		Fee:       e.pool.Fee(req.Amount),
		Initiator: e.account,
		Request:   req,
	}
	data := codec.EncodeContext(lc)

	e.mu.Lock()
	e.pending = &pendingLoan{hash: common.BytesToHash(ethcrypto.Keccak256(data))}
	e.mu.Unlock()
	defer func() {
		e.mu.Lock()
		e.pending = nil
		e.mu.Unlock()
	}()

	e.logger.InfoContext(ctx, "requesting flash loan",
		slog.String("token_in", req.TokenIn.Hex()),
		slog.String("token_out", req.TokenOut.Hex()),
		slog.String("amount", req.Amount.String()),
	)

	_, loanErr := e.pool.FlashLoan(ctx, e, e.account, req.TokenIn, req.Amount, data)

	e.mu.Lock()
	pend := e.pending
	e.mu.Unlock()

	if loanErr != nil {
		if pend.err != nil {
			// Settlement was entered and aborted; surface its error with
			// the aborted result attached.
			return pend.result, pend.err
		}
		return nil, fmt.Errorf("engine: %w: %v", domain.ErrLoanRequestFailed, loanErr)
	}
	return pend.result, nil
}

// validate applies the orchestrator's precondition chain in order, failing
// fast with the first violation.
func (e *Engine) validate(caller common.Address, req domain.ArbitrageRequest) error {
	if !e.access.IsAuthorized(caller) {
		return fmt.Errorf("engine: caller %s: %w", caller.Hex(), domain.ErrUnauthorized)
	}
	if !e.reg.IsTokenWhitelisted(req.TokenIn) {
		return fmt.Errorf("engine: token %s: %w", req.TokenIn.Hex(), domain.ErrTokenNotWhitelisted)
	}
	if !e.reg.IsTokenWhitelisted(req.TokenOut) {
		return fmt.Errorf("engine: token %s: %w", req.TokenOut.Hex(), domain.ErrTokenNotWhitelisted)
	}
	if !e.reg.IsRouterEnabled(req.Router1) {
		return fmt.Errorf("engine: router %s: %w", req.Router1.Hex(), domain.ErrRouterNotConfigured)
	}
	if !e.reg.IsRouterEnabled(req.Router2) {
		return fmt.Errorf("engine: router %s: %w", req.Router2.Hex(), domain.ErrRouterNotConfigured)
	}
	if req.Amount == nil || req.Amount.Sign() <= 0 {
		return fmt.Errorf("engine: %w", domain.ErrInvalidAmount)
	}
	if e.limits.MaxLoanAmount != nil && req.Amount.Cmp(e.limits.MaxLoanAmount) > 0 {
		return fmt.Errorf("engine: amount %s over limit %s: %w",
			req.Amount, e.limits.MaxLoanAmount, domain.ErrAmountExceedsLimit)
	}
	if e.limits.ProfitFloor != nil && orZero(req.MinProfit).Cmp(e.limits.ProfitFloor) < 0 {
		return fmt.Errorf("engine: min profit %s under floor %s: %w",
			orZero(req.MinProfit), e.limits.ProfitFloor, domain.ErrProfitBelowMinimum)
	}
	return nil
}

// OnFlashLoan is the lending facility callback. It runs the settlement
// sequence with the borrowed funds already credited to the engine's account.
func (e *Engine) OnFlashLoan(ctx context.Context, caller, asset common.Address, amount, fee *big.Int, initiator common.Address, data []byte) error {
	if caller != e.facility {
		return fmt.Errorf("engine: callback from %s: %w", caller.Hex(), domain.ErrInvalidCaller)
	}
	if initiator != e.account {
		return fmt.Errorf("engine: initiator %s: %w", initiator.Hex(), domain.ErrInvalidInitiator)
	}

	e.mu.Lock()
	pend := e.pending
	if pend == nil || pend.consumed {
		e.mu.Unlock()
		return fmt.Errorf("engine: unsolicited callback: %w", domain.ErrInvalidCaller)
	}
	pend.consumed = true
	e.mu.Unlock()

	if common.BytesToHash(ethcrypto.Keccak256(data)) != pend.hash {
		pend.err = fmt.Errorf("engine: context does not match pending loan: %w", domain.ErrMalformedContext)
		return pend.err
	}
	lc, err := codec.DecodeContext(data)
	if err != nil {
		pend.err = err
		return err
	}
	if lc.Asset != asset || lc.Request.TokenIn != asset || lc.Amount.Cmp(amount) != 0 {
		pend.err = fmt.Errorf("engine: context inconsistent with loan terms: %w", domain.ErrMalformedContext)
		return pend.err
	}
	req := lc.Request

	result := &domain.SettlementResult{
		ID:             uuid.New().String(),
		TokenIn:        req.TokenIn,
		TokenOut:       req.TokenOut,
		AmountBorrowed: new(big.Int).Set(amount),
		Fee:            new(big.Int).Set(fee),
		Router1:        req.Router1,
		Router2:        req.Router2,
		ExecutedAt:     time.Now().UTC(),
	}
	// An abort must undo everything a partial settlement touched: ledger
	// balances, and the market state mutated by any leg that completed
	// (pool reserves, consumed levels).
	snap := e.book.Snapshot()
	var restoreMarkets func()
	if s, ok := e.exec.(dex.Snapshotter); ok {
		restoreMarkets = s.Snapshot()
	}

	abort := func(stage string, cause error) error {
		e.book.Restore(snap)
		if restoreMarkets != nil {
			restoreMarkets()
		}
		result.Profit = new(big.Int)
		result.FailReason = cause.Error()
		pend.result = result
		pend.err = fmt.Errorf("engine: %s: %w", stage, cause)
		e.logger.WarnContext(ctx, "settlement aborted",
			slog.String("settlement_id", result.ID),
			slog.String("stage", stage),
			slog.String("error", cause.Error()),
		)
		return pend.err
	}

	out1, err := e.exec.Trade(ctx, e.account, req.Router1, req.TokenIn, req.TokenOut, amount)
	if err != nil {
		return abort("leg1", err)
	}
	final, err := e.exec.Trade(ctx, e.account, req.Router2, req.TokenOut, req.TokenIn, out1)
	if err != nil {
		return abort("leg2", err)
	}

	owing := new(big.Int).Add(amount, fee)
	required := new(big.Int).Add(owing, orZero(req.MinProfit))
	if final.Cmp(required) < 0 {
		return abort("profit check", fmt.Errorf("recovered %s, need %s: %w", final, required, domain.ErrInsufficientProfit))
	}

	if err := e.book.Transfer(asset, e.account, e.facility, owing); err != nil {
		return abort("repayment", fmt.Errorf("%v: %w", err, domain.ErrRepaymentShortfall))
	}

	profit := new(big.Int).Sub(final, owing)
	if profit.Sign() > 0 {
		if err := e.book.Transfer(asset, e.account, e.access.Owner(), profit); err != nil {
			return abort("profit distribution", err)
		}
	}

	result.Profit = profit
	result.Success = true
	pend.result = result

	e.logger.InfoContext(ctx, "settlement complete",
		slog.String("settlement_id", result.ID),
		slog.String("token_in", req.TokenIn.Hex()),
		slog.String("token_out", req.TokenOut.Hex()),
		slog.String("amount", amount.String()),
		slog.String("profit", profit.String()),
	)
	e.sink.Emit(ctx, domain.Event{
		Type: domain.EventArbitrageExecuted,
		At:   result.ExecutedAt,
		Data: result,
	})
	return nil
}

// EmergencyWithdraw moves amount of token from the engine's account to the
// owner. Owner-only. It claims the same execution permit as settlements, so
// a withdrawal can neither start during a settlement nor have its transfer
// swallowed by a concurrent settlement's rollback.
func (e *Engine) EmergencyWithdraw(ctx context.Context, caller, token common.Address, amount *big.Int) error {
	if !e.access.IsOwner(caller) {
		return fmt.Errorf("engine: emergency withdraw: %w", domain.ErrUnauthorized)
	}
	if amount == nil || amount.Sign() <= 0 {
		return fmt.Errorf("engine: emergency withdraw: %w", domain.ErrInvalidAmount)
	}
	if !e.inFlight.CompareAndSwap(false, true) {
		return fmt.Errorf("engine: emergency withdraw: %w", domain.ErrExecutionInProgress)
	}
	defer e.inFlight.Store(false)

	owner := e.access.Owner()
	if err := e.book.Transfer(token, e.account, owner, amount); err != nil {
		return fmt.Errorf("engine: emergency withdraw: %w", err)
	}

	e.logger.WarnContext(ctx, "emergency withdrawal",
		slog.String("token", token.Hex()),
		slog.String("amount", amount.String()),
		slog.String("owner", owner.Hex()),
	)
	e.sink.Emit(ctx, domain.Event{
		Type: domain.EventEmergencyWithdrawal,
		At:   time.Now().UTC(),
		Data: map[string]any{
			"token":  token.Hex(),
			"amount": amount.String(),
			"owner":  owner.Hex(),
		},
	})
	return nil
}

func orZero(n *big.Int) *big.Int {
	if n == nil {
		return new(big.Int)
	}
	return n
}

var _ lender.Borrower = (*Engine)(nil)
