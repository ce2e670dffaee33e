package dex

import (
	"context"
	"fmt"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"

	"github.com/apexlabs-eth/flasharb/internal/domain"
	"github.com/apexlabs-eth/flasharb/internal/ledger"
)

// Level is one resting quote on a directed book: up to AmountIn of the input
// token fills at the level's implied price, paying AmountOut for a full fill.
// Partial fills pay out pro rata, rounded down.
type Level struct {
	AmountIn  *big.Int
	AmountOut *big.Int
}

// bookKey identifies a directed market under one router.
type bookKey struct {
	tokenIn, tokenOut common.Address
}

// OrderBookAdapter fills trades by walking resting levels best-first. Fills
// consume the levels, so liquidity depletes across trades the same way pool
// reserves do on the AMM side.
type OrderBookAdapter struct {
	mu    sync.Mutex
	book  *ledger.Ledger
	books map[common.Address]map[bookKey][]*Level // router -> market -> levels, best first
}

// NewOrderBookAdapter creates an adapter with no markets.
func NewOrderBookAdapter(book *ledger.Ledger) *OrderBookAdapter {
	return &OrderBookAdapter{
		book:  book,
		books: make(map[common.Address]map[bookKey][]*Level),
	}
}

// SetBook installs the resting levels for one directed market and mints the
// output-side inventory to the router's ledger account. Levels are consumed
// in the order given, so callers list them best price first.
func (o *OrderBookAdapter) SetBook(router, tokenIn, tokenOut common.Address, levels []Level) {
	o.mu.Lock()
	defer o.mu.Unlock()

	byMarket, ok := o.books[router]
	if !ok {
		byMarket = make(map[bookKey][]*Level)
		o.books[router] = byMarket
	}

	cp := make([]*Level, len(levels))
	inventory := new(big.Int)
	for i, lvl := range levels {
		cp[i] = &Level{
			AmountIn:  new(big.Int).Set(lvl.AmountIn),
			AmountOut: new(big.Int).Set(lvl.AmountOut),
		}
		inventory.Add(inventory, lvl.AmountOut)
	}
	byMarket[bookKey{tokenIn: tokenIn, tokenOut: tokenOut}] = cp

	o.book.Mint(tokenOut, router, inventory)
}

// Trade fills amountIn against the router's resting levels and settles both
// sides on the ledger. A request deeper than the book fails whole with
// domain.ErrInsufficientLiquidity and fills nothing.
func (o *OrderBookAdapter) Trade(_ context.Context, trader, router, tokenIn, tokenOut common.Address, amountIn *big.Int) (*big.Int, error) {
	if amountIn == nil || amountIn.Sign() <= 0 {
		return nil, fmt.Errorf("dex: orderbook trade: %w", domain.ErrInvalidAmount)
	}

	o.mu.Lock()
	defer o.mu.Unlock()

	byMarket, ok := o.books[router]
	if !ok {
		return nil, fmt.Errorf("dex: no books on router %s: %w", router.Hex(), domain.ErrInsufficientLiquidity)
	}
	key := bookKey{tokenIn: tokenIn, tokenOut: tokenOut}
	levels, ok := byMarket[key]
	if !ok {
		return nil, fmt.Errorf("dex: no book %s->%s on router %s: %w",
			tokenIn.Hex(), tokenOut.Hex(), router.Hex(), domain.ErrInsufficientLiquidity)
	}

	fills, out, err := planFill(levels, amountIn)
	if err != nil {
		return nil, fmt.Errorf("dex: orderbook trade through %s: %w", router.Hex(), err)
	}

	if err := o.book.Transfer(tokenIn, trader, router, amountIn); err != nil {
		return nil, fmt.Errorf("dex: orderbook trade: pull input: %w", err)
	}
	if err := o.book.Transfer(tokenOut, router, trader, out); err != nil {
		return nil, fmt.Errorf("dex: orderbook trade: pay output: %w", err)
	}

	byMarket[key] = applyFill(levels, fills)
	return out, nil
}

// Snapshot deep-copies the resting levels of every market and returns a
// function that reinstates them, undoing any consumption made since the
// snapshot.
func (o *OrderBookAdapter) Snapshot() func() {
	o.mu.Lock()
	defer o.mu.Unlock()

	saved := make(map[common.Address]map[bookKey][]*Level, len(o.books))
	for router, byMarket := range o.books {
		cp := make(map[bookKey][]*Level, len(byMarket))
		for key, levels := range byMarket {
			lvls := make([]*Level, len(levels))
			for i, lvl := range levels {
				lvls[i] = &Level{
					AmountIn:  new(big.Int).Set(lvl.AmountIn),
					AmountOut: new(big.Int).Set(lvl.AmountOut),
				}
			}
			cp[key] = lvls
		}
		saved[router] = cp
	}

	return func() {
		o.mu.Lock()
		defer o.mu.Unlock()
		o.books = saved
	}
}

// fill records how much of one level a trade consumes.
type fill struct {
	takeIn  *big.Int
	takeOut *big.Int
}

// planFill walks levels best-first and computes the per-level consumption for
// amountIn. It mutates nothing; the walk fails if the book is too shallow.
func planFill(levels []*Level, amountIn *big.Int) ([]fill, *big.Int, error) {
	remaining := new(big.Int).Set(amountIn)
	out := new(big.Int)
	fills := make([]fill, 0, len(levels))

	for _, lvl := range levels {
		if remaining.Sign() == 0 {
			break
		}
		take := new(big.Int).Set(remaining)
		if take.Cmp(lvl.AmountIn) > 0 {
			take.Set(lvl.AmountIn)
		}

		// Pro-rata payout, floored: takeOut = AmountOut * take / AmountIn.
		takeOut := new(big.Int).Mul(lvl.AmountOut, take)
		takeOut.Div(takeOut, lvl.AmountIn)

		out.Add(out, takeOut)
		remaining.Sub(remaining, take)
		fills = append(fills, fill{takeIn: take, takeOut: takeOut})
	}

	if remaining.Sign() > 0 {
		return nil, nil, domain.ErrInsufficientLiquidity
	}
	if out.Sign() <= 0 {
		return nil, nil, domain.ErrInsufficientLiquidity
	}
	return fills, out, nil
}

// applyFill consumes the planned fills from the book and drops exhausted
// levels.
func applyFill(levels []*Level, fills []fill) []*Level {
	kept := levels[:0]
	for i, lvl := range levels {
		if i < len(fills) {
			lvl.AmountIn.Sub(lvl.AmountIn, fills[i].takeIn)
			lvl.AmountOut.Sub(lvl.AmountOut, fills[i].takeOut)
		}
		if lvl.AmountIn.Sign() > 0 {
			kept = append(kept, lvl)
		}
	}
	return kept
}

var (
	_ Executor    = (*OrderBookAdapter)(nil)
	_ Snapshotter = (*OrderBookAdapter)(nil)
)
