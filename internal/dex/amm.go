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

const bpsDenominator = 10000

// pairKey identifies an unordered token pair within one router.
type pairKey struct {
	token0, token1 common.Address
}

func newPairKey(a, b common.Address) pairKey {
	if bytesLess(b, a) {
		a, b = b, a
	}
	return pairKey{token0: a, token1: b}
}

func bytesLess(a, b common.Address) bool {
	for i := range a {
		if a[i] != b[i] {
			return a[i] < b[i]
		}
	}
	return false
}

// ammPool is one constant-product reserve pair. Reserves mutate on every
// trade, so repeated trades move the price against the trader.
type ammPool struct {
	key      pairKey
	reserve0 *big.Int
	reserve1 *big.Int
	feeBps   int64
}

// AMMAdapter executes swaps against constant-product pools in the Uniswap v2
// style. The router account on the ledger holds the pool inventory, so every
// fill is a real balance movement, not a quote.
type AMMAdapter struct {
	mu     sync.Mutex
	book   *ledger.Ledger
	pools  map[common.Address]map[pairKey]*ammPool // router -> pair -> pool
	feeBps int64
}

// NewAMMAdapter creates an adapter whose pools charge feeBps on the input
// amount, matching the v2 router fee model.
func NewAMMAdapter(book *ledger.Ledger, feeBps int64) *AMMAdapter {
	return &AMMAdapter{
		book:   book,
		pools:  make(map[common.Address]map[pairKey]*ammPool),
		feeBps: feeBps,
	}
}

// AddPool seeds a reserve pair under router and mints the reserves to the
// router's ledger account. Calling it again for the same pair replaces the
// reserves and mints the new amounts on top; it is meant for genesis setup.
func (a *AMMAdapter) AddPool(router, tokenA, tokenB common.Address, reserveA, reserveB *big.Int) {
	a.mu.Lock()
	defer a.mu.Unlock()

	key := newPairKey(tokenA, tokenB)
	r0, r1 := new(big.Int).Set(reserveA), new(big.Int).Set(reserveB)
	if key.token0 != tokenA {
		r0, r1 = r1, r0
	}

	byPair, ok := a.pools[router]
	if !ok {
		byPair = make(map[pairKey]*ammPool)
		a.pools[router] = byPair
	}
	byPair[key] = &ammPool{key: key, reserve0: r0, reserve1: r1, feeBps: a.feeBps}

	a.book.Mint(tokenA, router, reserveA)
	a.book.Mint(tokenB, router, reserveB)
}

// Trade swaps amountIn of tokenIn for tokenOut through the router's pool and
// settles both legs on the ledger. The output follows the constant-product
// formula with the fee taken from the input side.
func (a *AMMAdapter) Trade(_ context.Context, trader, router, tokenIn, tokenOut common.Address, amountIn *big.Int) (*big.Int, error) {
	if amountIn == nil || amountIn.Sign() <= 0 {
		return nil, fmt.Errorf("dex: amm trade: %w", domain.ErrInvalidAmount)
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	pool, reserveIn, reserveOut, err := a.lookup(router, tokenIn, tokenOut)
	if err != nil {
		return nil, err
	}

	out := getAmountOut(amountIn, reserveIn, reserveOut, pool.feeBps)
	if out.Sign() <= 0 {
		return nil, fmt.Errorf("dex: amm trade through %s: %w", router.Hex(), domain.ErrInsufficientLiquidity)
	}

	if err := a.book.Transfer(tokenIn, trader, router, amountIn); err != nil {
		return nil, fmt.Errorf("dex: amm trade: pull input: %w", err)
	}
	if err := a.book.Transfer(tokenOut, router, trader, out); err != nil {
		return nil, fmt.Errorf("dex: amm trade: pay output: %w", err)
	}

	reserveIn.Add(reserveIn, amountIn)
	reserveOut.Sub(reserveOut, out)
	return out, nil
}

// Snapshot deep-copies every pool's reserves and returns a function that
// reinstates them, undoing any fills made since the snapshot.
func (a *AMMAdapter) Snapshot() func() {
	a.mu.Lock()
	defer a.mu.Unlock()

	saved := make(map[common.Address]map[pairKey]*ammPool, len(a.pools))
	for router, byPair := range a.pools {
		cp := make(map[pairKey]*ammPool, len(byPair))
		for key, pool := range byPair {
			cp[key] = &ammPool{
				key:      pool.key,
				reserve0: new(big.Int).Set(pool.reserve0),
				reserve1: new(big.Int).Set(pool.reserve1),
				feeBps:   pool.feeBps,
			}
		}
		saved[router] = cp
	}

	return func() {
		a.mu.Lock()
		defer a.mu.Unlock()
		a.pools = saved
	}
}

// lookup resolves the pool and orients its reserves as (in, out). Caller must
// hold a.mu.
func (a *AMMAdapter) lookup(router, tokenIn, tokenOut common.Address) (*ammPool, *big.Int, *big.Int, error) {
	byPair, ok := a.pools[router]
	if !ok {
		return nil, nil, nil, fmt.Errorf("dex: no pools on router %s: %w", router.Hex(), domain.ErrInsufficientLiquidity)
	}
	key := newPairKey(tokenIn, tokenOut)
	pool, ok := byPair[key]
	if !ok {
		return nil, nil, nil, fmt.Errorf("dex: no pool %s/%s on router %s: %w",
			tokenIn.Hex(), tokenOut.Hex(), router.Hex(), domain.ErrInsufficientLiquidity)
	}
	if key.token0 == tokenIn {
		return pool, pool.reserve0, pool.reserve1, nil
	}
	return pool, pool.reserve1, pool.reserve0, nil
}

// getAmountOut is the v2 quote: in * (10000 - fee) * rOut / (rIn * 10000 + in * (10000 - fee)).
func getAmountOut(amountIn, reserveIn, reserveOut *big.Int, feeBps int64) *big.Int {
	if reserveIn.Sign() <= 0 || reserveOut.Sign() <= 0 {
		return new(big.Int)
	}
	inWithFee := new(big.Int).Mul(amountIn, big.NewInt(bpsDenominator-feeBps))
	numerator := new(big.Int).Mul(inWithFee, reserveOut)
	denominator := new(big.Int).Mul(reserveIn, big.NewInt(bpsDenominator))
	denominator.Add(denominator, inWithFee)
	return numerator.Div(numerator, denominator)
}

var (
	_ Executor    = (*AMMAdapter)(nil)
	_ Snapshotter = (*AMMAdapter)(nil)
)
