package dex

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"

	"github.com/apexlabs-eth/flasharb/internal/domain"
	"github.com/apexlabs-eth/flasharb/internal/ledger"
)

var (
	trader  = common.HexToAddress("0x00000000000000000000000000000000000000aa")
	routerA = common.HexToAddress("0xa5E0829CaCEd8fFDD4De3c43696c57F7D7A678ff")
	routerB = common.HexToAddress("0x1b02dA8Cb0d097eB8D57A175b88c7D8b47997506")
	usdc    = common.HexToAddress("0x2791Bca1f2de4661ED88A30C99A7a9449Aa84174")
	weth    = common.HexToAddress("0x7ceB23fD6bC0adD59E62ac25578270cFf1b9f619")
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestGetAmountOut(t *testing.T) {
	// 1000 in against 1e6/1e6 reserves at 30 bps:
	// 1000*9970*1e6 / (1e6*10000 + 1000*9970) = 995.02... -> 995
	out := getAmountOut(big.NewInt(1000), big.NewInt(1_000_000), big.NewInt(1_000_000), 30)
	if out.Int64() != 995 {
		t.Fatalf("out = %s, want 995", out)
	}

	if out := getAmountOut(big.NewInt(1000), big.NewInt(0), big.NewInt(1_000_000), 30); out.Sign() != 0 {
		t.Fatalf("empty reserve out = %s, want 0", out)
	}
}

func TestAMMTradeSettlesLedger(t *testing.T) {
	book := ledger.New()
	amm := NewAMMAdapter(book, 30)
	amm.AddPool(routerA, usdc, weth, big.NewInt(1_000_000), big.NewInt(1_000_000))
	book.Mint(usdc, trader, big.NewInt(1000))

	out, err := amm.Trade(context.Background(), trader, routerA, usdc, weth, big.NewInt(1000))
	if err != nil {
		t.Fatalf("trade: %v", err)
	}
	if out.Int64() != 995 {
		t.Fatalf("out = %s, want 995", out)
	}

	if got := book.Balance(usdc, trader); got.Sign() != 0 {
		t.Fatalf("trader usdc = %s, want 0", got)
	}
	if got := book.Balance(weth, trader); got.Cmp(out) != 0 {
		t.Fatalf("trader weth = %s, want %s", got, out)
	}
	if got := book.Balance(usdc, routerA); got.Int64() != 1_001_000 {
		t.Fatalf("router usdc = %s, want 1001000", got)
	}
}

func TestAMMPriceImpact(t *testing.T) {
	book := ledger.New()
	amm := NewAMMAdapter(book, 30)
	amm.AddPool(routerA, usdc, weth, big.NewInt(1_000_000), big.NewInt(1_000_000))
	book.Mint(usdc, trader, big.NewInt(20_000))

	first, err := amm.Trade(context.Background(), trader, routerA, usdc, weth, big.NewInt(10_000))
	if err != nil {
		t.Fatalf("first trade: %v", err)
	}
	second, err := amm.Trade(context.Background(), trader, routerA, usdc, weth, big.NewInt(10_000))
	if err != nil {
		t.Fatalf("second trade: %v", err)
	}
	if second.Cmp(first) >= 0 {
		t.Fatalf("second fill %s not worse than first %s", second, first)
	}
}

func TestAMMSnapshotRestoresReserves(t *testing.T) {
	book := ledger.New()
	amm := NewAMMAdapter(book, 30)
	amm.AddPool(routerA, usdc, weth, big.NewInt(1_000_000), big.NewInt(1_000_000))
	book.Mint(usdc, trader, big.NewInt(2000))

	lsnap := book.Snapshot()
	restore := amm.Snapshot()
	if _, err := amm.Trade(context.Background(), trader, routerA, usdc, weth, big.NewInt(1000)); err != nil {
		t.Fatalf("trade: %v", err)
	}
	book.Restore(lsnap)
	restore()

	// Reserves are back at genesis, so the same trade quotes the same fill
	// instead of the post-impact price.
	out, err := amm.Trade(context.Background(), trader, routerA, usdc, weth, big.NewInt(1000))
	if err != nil {
		t.Fatalf("trade after restore: %v", err)
	}
	if out.Int64() != 995 {
		t.Fatalf("out = %s, want 995", out)
	}
}

func TestAMMUnknownPool(t *testing.T) {
	amm := NewAMMAdapter(ledger.New(), 30)

	_, err := amm.Trade(context.Background(), trader, routerA, usdc, weth, big.NewInt(1000))
	if !errors.Is(err, domain.ErrInsufficientLiquidity) {
		t.Fatalf("err = %v, want ErrInsufficientLiquidity", err)
	}
}

func TestAMMTraderUnderfunded(t *testing.T) {
	book := ledger.New()
	amm := NewAMMAdapter(book, 30)
	amm.AddPool(routerA, usdc, weth, big.NewInt(1_000_000), big.NewInt(1_000_000))

	_, err := amm.Trade(context.Background(), trader, routerA, usdc, weth, big.NewInt(1000))
	if !errors.Is(err, domain.ErrInsufficientBalance) {
		t.Fatalf("err = %v, want ErrInsufficientBalance", err)
	}
}

func TestOrderBookWalksLevels(t *testing.T) {
	book := ledger.New()
	ob := NewOrderBookAdapter(book)
	ob.SetBook(routerB, usdc, weth, []Level{
		{AmountIn: big.NewInt(500), AmountOut: big.NewInt(510)},
		{AmountIn: big.NewInt(1000), AmountOut: big.NewInt(1000)},
	})
	book.Mint(usdc, trader, big.NewInt(800))

	// 500 at the best level pays 510, the remaining 300 fills the second
	// level pro rata for 300.
	out, err := ob.Trade(context.Background(), trader, routerB, usdc, weth, big.NewInt(800))
	if err != nil {
		t.Fatalf("trade: %v", err)
	}
	if out.Int64() != 810 {
		t.Fatalf("out = %s, want 810", out)
	}

	if got := book.Balance(weth, trader); got.Int64() != 810 {
		t.Fatalf("trader weth = %s, want 810", got)
	}
}

func TestOrderBookDepletes(t *testing.T) {
	book := ledger.New()
	ob := NewOrderBookAdapter(book)
	ob.SetBook(routerB, usdc, weth, []Level{
		{AmountIn: big.NewInt(500), AmountOut: big.NewInt(510)},
		{AmountIn: big.NewInt(1000), AmountOut: big.NewInt(1000)},
	})
	book.Mint(usdc, trader, big.NewInt(2000))

	if _, err := ob.Trade(context.Background(), trader, routerB, usdc, weth, big.NewInt(500)); err != nil {
		t.Fatalf("first trade: %v", err)
	}
	// Best level is gone; the next 500 fills at the second level's price.
	out, err := ob.Trade(context.Background(), trader, routerB, usdc, weth, big.NewInt(500))
	if err != nil {
		t.Fatalf("second trade: %v", err)
	}
	if out.Int64() != 500 {
		t.Fatalf("out = %s, want 500", out)
	}
}

func TestOrderBookSnapshotRestoresLevels(t *testing.T) {
	book := ledger.New()
	ob := NewOrderBookAdapter(book)
	ob.SetBook(routerB, usdc, weth, []Level{
		{AmountIn: big.NewInt(500), AmountOut: big.NewInt(510)},
		{AmountIn: big.NewInt(1000), AmountOut: big.NewInt(1000)},
	})
	book.Mint(usdc, trader, big.NewInt(1000))

	lsnap := book.Snapshot()
	restore := ob.Snapshot()
	if _, err := ob.Trade(context.Background(), trader, routerB, usdc, weth, big.NewInt(500)); err != nil {
		t.Fatalf("trade: %v", err)
	}
	book.Restore(lsnap)
	restore()

	// The best level is back, so the same fill clears at the best price
	// again rather than at the second level's.
	out, err := ob.Trade(context.Background(), trader, routerB, usdc, weth, big.NewInt(500))
	if err != nil {
		t.Fatalf("trade after restore: %v", err)
	}
	if out.Int64() != 510 {
		t.Fatalf("out = %s, want 510", out)
	}
}

func TestOrderBookTooDeepFillsNothing(t *testing.T) {
	book := ledger.New()
	ob := NewOrderBookAdapter(book)
	ob.SetBook(routerB, usdc, weth, []Level{
		{AmountIn: big.NewInt(500), AmountOut: big.NewInt(510)},
	})
	book.Mint(usdc, trader, big.NewInt(1000))

	_, err := ob.Trade(context.Background(), trader, routerB, usdc, weth, big.NewInt(1000))
	if !errors.Is(err, domain.ErrInsufficientLiquidity) {
		t.Fatalf("err = %v, want ErrInsufficientLiquidity", err)
	}
	// All-or-nothing: the failed walk must not move funds or consume levels.
	if got := book.Balance(usdc, trader); got.Int64() != 1000 {
		t.Fatalf("trader usdc = %s, want 1000", got)
	}
	out, err := ob.Trade(context.Background(), trader, routerB, usdc, weth, big.NewInt(500))
	if err != nil || out.Int64() != 510 {
		t.Fatalf("book changed by failed trade: out=%v err=%v", out, err)
	}
}

// staticKinds resolves router kinds from a fixed map.
type staticKinds map[common.Address]domain.AdapterKind

func (s staticKinds) RouterKind(router common.Address) (domain.AdapterKind, bool) {
	kind, ok := s[router]
	return kind, ok
}

func TestDispatcherRouting(t *testing.T) {
	book := ledger.New()
	amm := NewAMMAdapter(book, 30)
	amm.AddPool(routerA, usdc, weth, big.NewInt(1_000_000), big.NewInt(1_000_000))
	book.Mint(usdc, trader, big.NewInt(1000))

	d := NewDispatcher(staticKinds{routerA: domain.AdapterAMMV2}, testLogger())
	d.Register(domain.AdapterAMMV2, amm)

	out, err := d.Trade(context.Background(), trader, routerA, usdc, weth, big.NewInt(1000))
	if err != nil {
		t.Fatalf("trade: %v", err)
	}
	if out.Int64() != 995 {
		t.Fatalf("out = %s, want 995", out)
	}
}

func TestDispatcherUnsupported(t *testing.T) {
	d := NewDispatcher(staticKinds{routerA: domain.AdapterKind("curve_v1")}, testLogger())
	d.Register(domain.AdapterAMMV2, NewAMMAdapter(ledger.New(), 30))

	// Unknown router.
	if _, err := d.Trade(context.Background(), trader, routerB, usdc, weth, big.NewInt(1)); !errors.Is(err, domain.ErrUnsupportedDex) {
		t.Fatalf("unknown router err = %v, want ErrUnsupportedDex", err)
	}
	// Known router, no adapter for its kind.
	if _, err := d.Trade(context.Background(), trader, routerA, usdc, weth, big.NewInt(1)); !errors.Is(err, domain.ErrUnsupportedDex) {
		t.Fatalf("unregistered kind err = %v, want ErrUnsupportedDex", err)
	}
}
