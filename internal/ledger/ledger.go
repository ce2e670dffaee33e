// Package ledger implements the in-memory token balance book that backs the
// settlement engine. It is the only mutable shared state in the system:
// every trade, repayment, and distribution is a Transfer, and the whole book
// can be captured and restored atomically so an aborted settlement leaves no
// trace.
package ledger

import (
	"fmt"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"

	"github.com/apexlabs-eth/flasharb/internal/domain"
)

// Ledger tracks per-token, per-account balances in base units.
type Ledger struct {
	mu       sync.Mutex
	balances map[common.Address]map[common.Address]*big.Int // token -> account -> balance
}

// Snapshot is an opaque copy of the full balance book, produced by
// Ledger.Snapshot and consumed by Ledger.Restore.
type Snapshot struct {
	balances map[common.Address]map[common.Address]*big.Int
}

// New creates an empty Ledger.
func New() *Ledger {
	return &Ledger{
		balances: make(map[common.Address]map[common.Address]*big.Int),
	}
}

// Mint credits account with amount of token out of thin air. It exists for
// genesis funding (pool liquidity, market-maker inventory) and is not used by
// the settlement path.
func (l *Ledger) Mint(token, account common.Address, amount *big.Int) {
	if amount == nil || amount.Sign() <= 0 {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.credit(token, account, amount)
}

// Balance returns a copy of account's balance of token. Missing entries are
// zero.
func (l *Ledger) Balance(token, account common.Address) *big.Int {
	l.mu.Lock()
	defer l.mu.Unlock()
	if accts, ok := l.balances[token]; ok {
		if b, ok := accts[account]; ok {
			return new(big.Int).Set(b)
		}
	}
	return new(big.Int)
}

// Transfer moves amount of token from one account to another. It returns
// domain.ErrInsufficientBalance when the sender does not hold amount, and
// domain.ErrInvalidAmount for nil, zero, or negative amounts.
func (l *Ledger) Transfer(token, from, to common.Address, amount *big.Int) error {
	if amount == nil || amount.Sign() < 0 {
		return domain.ErrInvalidAmount
	}
	if amount.Sign() == 0 || from == to {
		return nil
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	accts, ok := l.balances[token]
	if !ok {
		return fmt.Errorf("ledger: transfer %s of token %s: %w", amount, token.Hex(), domain.ErrInsufficientBalance)
	}
	bal, ok := accts[from]
	if !ok || bal.Cmp(amount) < 0 {
		return fmt.Errorf("ledger: transfer %s of token %s: %w", amount, token.Hex(), domain.ErrInsufficientBalance)
	}

	bal.Sub(bal, amount)
	l.credit(token, to, amount)
	return nil
}

// Snapshot captures the entire balance book. The returned Snapshot is
// independent of subsequent mutations.
func (l *Ledger) Snapshot() Snapshot {
	l.mu.Lock()
	defer l.mu.Unlock()

	cp := make(map[common.Address]map[common.Address]*big.Int, len(l.balances))
	for token, accts := range l.balances {
		inner := make(map[common.Address]*big.Int, len(accts))
		for acct, bal := range accts {
			inner[acct] = new(big.Int).Set(bal)
		}
		cp[token] = inner
	}
	return Snapshot{balances: cp}
}

// Restore replaces the balance book with the state captured in snap. Every
// mutation made since the snapshot is discarded.
func (l *Ledger) Restore(snap Snapshot) {
	l.mu.Lock()
	defer l.mu.Unlock()

	cp := make(map[common.Address]map[common.Address]*big.Int, len(snap.balances))
	for token, accts := range snap.balances {
		inner := make(map[common.Address]*big.Int, len(accts))
		for acct, bal := range accts {
			inner[acct] = new(big.Int).Set(bal)
		}
		cp[token] = inner
	}
	l.balances = cp
}

// credit adds amount to account's balance of token. Caller must hold l.mu.
func (l *Ledger) credit(token, account common.Address, amount *big.Int) {
	accts, ok := l.balances[token]
	if !ok {
		accts = make(map[common.Address]*big.Int)
		l.balances[token] = accts
	}
	bal, ok := accts[account]
	if !ok {
		bal = new(big.Int)
		accts[account] = bal
	}
	bal.Add(bal, amount)
}
