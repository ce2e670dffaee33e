// Package lender implements the flash-loan facility. A loan is only ever
// observable in its completed form: either the borrower's callback repaid
// principal plus fee, or the entire balance book is rolled back to the state
// before disbursement.
package lender

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"

	"github.com/apexlabs-eth/flasharb/internal/domain"
	"github.com/apexlabs-eth/flasharb/internal/ledger"
)

const bpsDenominator = 10000

// DefaultFeeBps is the facility fee charged on the borrowed amount, 0.09%.
const DefaultFeeBps = 9

// Borrower receives flash-loaned funds. OnFlashLoan runs with the principal
// already credited to Address() and must repay principal plus fee to the
// caller before returning nil.
type Borrower interface {
	Address() common.Address
	OnFlashLoan(ctx context.Context, caller, asset common.Address, amount, fee *big.Int, initiator common.Address, data []byte) error
}

// Pool is the lending facility. It owns a ledger account that holds the
// deposited liquidity and accrues fees.
type Pool struct {
	mu      sync.Mutex
	book    *ledger.Ledger
	account common.Address
	feeBps  int64
	logger  *slog.Logger
}

// NewPool creates a facility holding liquidity under account, charging
// feeBps on every loan.
func NewPool(book *ledger.Ledger, account common.Address, feeBps int64, logger *slog.Logger) *Pool {
	return &Pool{
		book:    book,
		account: account,
		feeBps:  feeBps,
		logger:  logger.With(slog.String("component", "lender")),
	}
}

// Address returns the facility's ledger account. Borrower callbacks see it as
// the caller, and repayments are transfers to it.
func (p *Pool) Address() common.Address {
	return p.account
}

// Fee quotes the facility fee for borrowing amount.
func (p *Pool) Fee(amount *big.Int) *big.Int {
	fee := new(big.Int).Mul(amount, big.NewInt(p.feeBps))
	return fee.Div(fee, big.NewInt(bpsDenominator))
}

// Fund mints amount of token into the facility. Genesis seeding only; running
// liquidity grows through deposits and accrued fees.
func (p *Pool) Fund(token common.Address, amount *big.Int) {
	p.book.Mint(token, p.account, amount)
}

// Deposit moves amount of token from a depositor into the facility.
func (p *Pool) Deposit(ctx context.Context, from, token common.Address, amount *big.Int) error {
	if amount == nil || amount.Sign() <= 0 {
		return fmt.Errorf("lender: deposit: %w", domain.ErrInvalidAmount)
	}
	if err := p.book.Transfer(token, from, p.account, amount); err != nil {
		return fmt.Errorf("lender: deposit: %w", err)
	}
	p.logger.InfoContext(ctx, "liquidity deposited",
		slog.String("token", token.Hex()),
		slog.String("amount", amount.String()),
	)
	return nil
}

// Liquidity returns the facility's current balance of token.
func (p *Pool) Liquidity(token common.Address) *big.Int {
	return p.book.Balance(token, p.account)
}

// FlashLoan disburses amount of asset to the borrower, invokes its callback,
// and verifies repayment. Any callback error, and any repayment short of
// principal plus fee, restores the balance book to its pre-loan state, so a
// failed loan has no effect at all. On success the returned value is the fee
// retained by the facility.
//
// The pool lock serializes loans; the facility never holds two outstanding
// loans at once.
func (p *Pool) FlashLoan(ctx context.Context, borrower Borrower, initiator, asset common.Address, amount *big.Int, data []byte) (*big.Int, error) {
	if amount == nil || amount.Sign() <= 0 {
		return nil, fmt.Errorf("lender: flash loan: %w", domain.ErrInvalidAmount)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	before := p.book.Balance(asset, p.account)
	if before.Cmp(amount) < 0 {
		return nil, fmt.Errorf("lender: flash loan of %s exceeds liquidity %s: %w",
			amount, before, domain.ErrInsufficientLiquidity)
	}
	fee := p.Fee(amount)

	snap := p.book.Snapshot()
	if err := p.book.Transfer(asset, p.account, borrower.Address(), amount); err != nil {
		return nil, fmt.Errorf("lender: disburse: %w", err)
	}

	if err := borrower.OnFlashLoan(ctx, p.account, asset, amount, fee, initiator, data); err != nil {
		p.book.Restore(snap)
		p.logger.WarnContext(ctx, "flash loan rolled back",
			slog.String("asset", asset.Hex()),
			slog.String("amount", amount.String()),
			slog.String("error", err.Error()),
		)
		return nil, fmt.Errorf("lender: callback: %w", err)
	}

	// Repayment check: the facility must end with at least its pre-loan
	// balance plus the fee.
	owed := new(big.Int).Add(before, fee)
	after := p.book.Balance(asset, p.account)
	if after.Cmp(owed) < 0 {
		p.book.Restore(snap)
		p.logger.WarnContext(ctx, "flash loan repayment short",
			slog.String("asset", asset.Hex()),
			slog.String("repaid", new(big.Int).Sub(after, new(big.Int).Sub(before, amount)).String()),
			slog.String("owed", new(big.Int).Add(amount, fee).String()),
		)
		return nil, fmt.Errorf("lender: repaid %s, owed %s: %w", after, owed, domain.ErrRepaymentShortfall)
	}

	p.logger.InfoContext(ctx, "flash loan settled",
		slog.String("asset", asset.Hex()),
		slog.String("amount", amount.String()),
		slog.String("fee", fee.String()),
	)
	return fee, nil
}
