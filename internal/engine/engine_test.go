package engine

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"math/big"
	"math/rand"
	"sync"
	"testing"

	"github.com/ethereum/go-ethereum/common"

	"github.com/apexlabs-eth/flasharb/internal/dex"
	"github.com/apexlabs-eth/flasharb/internal/domain"
	"github.com/apexlabs-eth/flasharb/internal/ledger"
	"github.com/apexlabs-eth/flasharb/internal/lender"
	"github.com/apexlabs-eth/flasharb/internal/registry"
)

var (
	owner      = common.HexToAddress("0x0000000000000000000000000000000000000001")
	operator   = common.HexToAddress("0x0000000000000000000000000000000000000002")
	stranger   = common.HexToAddress("0x0000000000000000000000000000000000000003")
	engineAcct = common.HexToAddress("0x00000000000000000000000000000000000000e1")
	poolAcct   = common.HexToAddress("0x00000000000000000000000000000000000000f1")
	usdc       = common.HexToAddress("0x2791Bca1f2de4661ED88A30C99A7a9449Aa84174")
	weth       = common.HexToAddress("0x7ceB23fD6bC0adD59E62ac25578270cFf1b9f619")
	dai        = common.HexToAddress("0x8f3Cf7ad23Cd3CaDbD9735AFf958023239c6A063")
	routerA    = common.HexToAddress("0xa5E0829CaCEd8fFDD4De3c43696c57F7D7A678ff")
	routerB    = common.HexToAddress("0x1b02dA8Cb0d097eB8D57A175b88c7D8b47997506")
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// recordingSink collects emitted events for assertions.
type recordingSink struct {
	mu     sync.Mutex
	events []domain.Event
}

func (s *recordingSink) Emit(_ context.Context, evt domain.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, evt)
}

func (s *recordingSink) count(t domain.EventType) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, e := range s.events {
		if e.Type == t {
			n++
		}
	}
	return n
}

// scriptedExec is a trade executor with fixed per-router outputs. It settles
// the input leg on the ledger and mints the output, so engine-side rollback
// behavior is exercised for real.
type scriptedExec struct {
	book *ledger.Ledger
	outs map[common.Address]*big.Int
	fail map[common.Address]error
	hook func(router common.Address) error
}

func (s *scriptedExec) Trade(_ context.Context, trader, router, tokenIn, tokenOut common.Address, amountIn *big.Int) (*big.Int, error) {
	if err := s.fail[router]; err != nil {
		return nil, err
	}
	if s.hook != nil {
		if err := s.hook(router); err != nil {
			return nil, err
		}
	}
	if err := s.book.Transfer(tokenIn, trader, router, amountIn); err != nil {
		return nil, err
	}
	out := s.outs[router]
	s.book.Mint(tokenOut, trader, out)
	return new(big.Int).Set(out), nil
}

type fixture struct {
	book   *ledger.Ledger
	access *registry.AccessControl
	reg    *registry.Registry
	pool   *lender.Pool
	exec   *scriptedExec
	sink   *recordingSink
	engine *Engine
}

// newFixture builds the standard test topology: a funded facility, a
// whitelist covering usdc/weth and both routers, and an authorized operator.
// Facility fee is 20 bps so a 1000 loan owes a fee of 2.
func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()

	book := ledger.New()
	sink := &recordingSink{}
	access := registry.NewAccessControl(owner, sink, testLogger())
	reg := registry.New(access, sink, testLogger())
	pool := lender.NewPool(book, poolAcct, 20, testLogger())
	pool.Fund(usdc, big.NewInt(1_000_000))

	if err := access.AuthorizeOperator(ctx, owner, operator, true); err != nil {
		t.Fatalf("authorize operator: %v", err)
	}
	for _, token := range []common.Address{usdc, weth} {
		if err := reg.SetTokenWhitelisted(ctx, owner, token, true); err != nil {
			t.Fatalf("whitelist token: %v", err)
		}
	}
	for _, router := range []common.Address{routerA, routerB} {
		if err := reg.SetRouterConfig(ctx, owner, router, domain.AdapterAMMV2, true); err != nil {
			t.Fatalf("configure router: %v", err)
		}
	}

	exec := &scriptedExec{
		book: book,
		outs: map[common.Address]*big.Int{},
		fail: map[common.Address]error{},
	}
	eng := New(engineAcct, Limits{
		MaxLoanAmount: big.NewInt(100_000),
		ProfitFloor:   big.NewInt(1),
	}, access, reg, book, pool, exec, sink, testLogger())

	return &fixture{book: book, access: access, reg: reg, pool: pool, exec: exec, sink: sink, engine: eng}
}

func baseRequest() domain.ArbitrageRequest {
	return domain.ArbitrageRequest{
		TokenIn:   usdc,
		TokenOut:  weth,
		Amount:    big.NewInt(1000),
		Router1:   routerA,
		Router2:   routerB,
		MinProfit: big.NewInt(5),
	}
}

// balances captures every account/token pair the tests care about.
func (f *fixture) balances() map[string]*big.Int {
	snap := make(map[string]*big.Int)
	for _, token := range []common.Address{usdc, weth} {
		for _, acct := range []common.Address{owner, operator, engineAcct, poolAcct, routerA, routerB} {
			snap[token.Hex()+"/"+acct.Hex()] = f.book.Balance(token, acct)
		}
	}
	return snap
}

func assertBalancesEqual(t *testing.T, want, got map[string]*big.Int) {
	t.Helper()
	for key, w := range want {
		if got[key].Cmp(w) != 0 {
			t.Fatalf("balance %s = %s, want %s", key, got[key], w)
		}
	}
}

func TestExecuteArbitrageSuccess(t *testing.T) {
	f := newFixture(t)
	// Leg 1 sells 1000 usdc for 600 weth, leg 2 recovers 1010 usdc.
	// Owing = 1000 + 2, so profit is 8 against a floor of 5.
	f.exec.outs[routerA] = big.NewInt(600)
	f.exec.outs[routerB] = big.NewInt(1010)

	res, err := f.engine.ExecuteArbitrage(context.Background(), operator, baseRequest())
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if !res.Success {
		t.Fatalf("result not successful: %+v", res)
	}
	if res.Profit.Int64() != 8 {
		t.Fatalf("profit = %s, want 8", res.Profit)
	}
	if res.Fee.Int64() != 2 {
		t.Fatalf("fee = %s, want 2", res.Fee)
	}

	if got := f.book.Balance(usdc, owner); got.Int64() != 8 {
		t.Fatalf("owner usdc = %s, want 8", got)
	}
	if got := f.pool.Liquidity(usdc); got.Int64() != 1_000_002 {
		t.Fatalf("pool liquidity = %s, want 1000002", got)
	}
	if got := f.book.Balance(usdc, engineAcct); got.Sign() != 0 {
		t.Fatalf("engine retains %s usdc, want 0", got)
	}
	if got := f.sink.count(domain.EventArbitrageExecuted); got != 1 {
		t.Fatalf("ArbitrageExecuted events = %d, want 1", got)
	}
}

func TestExecuteArbitrageInsufficientProfit(t *testing.T) {
	f := newFixture(t)
	f.exec.outs[routerA] = big.NewInt(600)
	f.exec.outs[routerB] = big.NewInt(1000) // recovers only the principal

	before := f.balances()
	res, err := f.engine.ExecuteArbitrage(context.Background(), operator, baseRequest())
	if !errors.Is(err, domain.ErrInsufficientProfit) {
		t.Fatalf("err = %v, want ErrInsufficientProfit", err)
	}
	if res == nil || res.Success {
		t.Fatalf("expected aborted result, got %+v", res)
	}
	if res.FailReason == "" {
		t.Fatal("aborted result must carry a fail reason")
	}
	assertBalancesEqual(t, before, f.balances())
	if got := f.sink.count(domain.EventArbitrageExecuted); got != 0 {
		t.Fatalf("aborted settlement emitted %d events, want 0", got)
	}
}

func TestExecuteArbitragePreconditions(t *testing.T) {
	f := newFixture(t)
	f.exec.outs[routerA] = big.NewInt(600)
	f.exec.outs[routerB] = big.NewInt(1010)

	cases := []struct {
		name   string
		caller common.Address
		mutate func(*domain.ArbitrageRequest)
		want   error
	}{
		{"unauthorized caller", stranger, func(*domain.ArbitrageRequest) {}, domain.ErrUnauthorized},
		{"token in not whitelisted", operator, func(r *domain.ArbitrageRequest) { r.TokenIn = dai }, domain.ErrTokenNotWhitelisted},
		{"token out not whitelisted", operator, func(r *domain.ArbitrageRequest) { r.TokenOut = dai }, domain.ErrTokenNotWhitelisted},
		{"router1 unknown", operator, func(r *domain.ArbitrageRequest) { r.Router1 = common.HexToAddress("0xcc") }, domain.ErrRouterNotConfigured},
		{"router2 unknown", operator, func(r *domain.ArbitrageRequest) { r.Router2 = common.HexToAddress("0xcc") }, domain.ErrRouterNotConfigured},
		{"nil amount", operator, func(r *domain.ArbitrageRequest) { r.Amount = nil }, domain.ErrInvalidAmount},
		{"zero amount", operator, func(r *domain.ArbitrageRequest) { r.Amount = big.NewInt(0) }, domain.ErrInvalidAmount},
		{"negative amount", operator, func(r *domain.ArbitrageRequest) { r.Amount = big.NewInt(-5) }, domain.ErrInvalidAmount},
		{"amount over limit", operator, func(r *domain.ArbitrageRequest) { r.Amount = big.NewInt(100_001) }, domain.ErrAmountExceedsLimit},
		{"min profit under floor", operator, func(r *domain.ArbitrageRequest) { r.MinProfit = big.NewInt(0) }, domain.ErrProfitBelowMinimum},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := baseRequest()
			tc.mutate(&req)
			before := f.balances()

			res, err := f.engine.ExecuteArbitrage(context.Background(), tc.caller, req)
			if !errors.Is(err, tc.want) {
				t.Fatalf("err = %v, want %v", err, tc.want)
			}
			if res != nil {
				t.Fatalf("precondition failure returned a result: %+v", res)
			}
			assertBalancesEqual(t, before, f.balances())
		})
	}
}

func TestExecuteArbitrageLoanRequestFailed(t *testing.T) {
	f := newFixture(t)
	f.engine.limits.MaxLoanAmount = big.NewInt(10_000_000)

	// Passes every precondition but exceeds the facility's liquidity.
	req := baseRequest()
	req.Amount = big.NewInt(2_000_000)

	res, err := f.engine.ExecuteArbitrage(context.Background(), operator, req)
	if !errors.Is(err, domain.ErrLoanRequestFailed) {
		t.Fatalf("err = %v, want ErrLoanRequestFailed", err)
	}
	if res != nil {
		t.Fatalf("facility rejection returned a result: %+v", res)
	}
}

func TestAtomicityUnderRandomAdapterFailures(t *testing.T) {
	f := newFixture(t)
	f.exec.outs[routerA] = big.NewInt(600)
	f.exec.outs[routerB] = big.NewInt(1010)
	rng := rand.New(rand.NewSource(1))
	boom := errors.New("router reverted")

	before := f.balances()
	for i := 0; i < 50; i++ {
		victim := routerA
		if rng.Intn(2) == 1 {
			victim = routerB
		}
		f.exec.fail[victim] = boom

		res, err := f.engine.ExecuteArbitrage(context.Background(), operator, baseRequest())
		if !errors.Is(err, boom) {
			t.Fatalf("iteration %d: err = %v, want injected failure", i, err)
		}
		if res == nil || res.Success {
			t.Fatalf("iteration %d: expected aborted result, got %+v", i, res)
		}
		assertBalancesEqual(t, before, f.balances())

		delete(f.exec.fail, victim)
	}

	// The topology still works once failures stop.
	res, err := f.engine.ExecuteArbitrage(context.Background(), operator, baseRequest())
	if err != nil || !res.Success {
		t.Fatalf("post-failure execute: res=%+v err=%v", res, err)
	}
}

func TestCallbackAuthenticity(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	amount, fee := big.NewInt(1000), big.NewInt(2)

	// Unsolicited: no loan pending.
	err := f.engine.OnFlashLoan(ctx, poolAcct, usdc, amount, fee, engineAcct, nil)
	if !errors.Is(err, domain.ErrInvalidCaller) {
		t.Fatalf("unsolicited err = %v, want ErrInvalidCaller", err)
	}

	// Wrong caller.
	err = f.engine.OnFlashLoan(ctx, stranger, usdc, amount, fee, engineAcct, nil)
	if !errors.Is(err, domain.ErrInvalidCaller) {
		t.Fatalf("wrong caller err = %v, want ErrInvalidCaller", err)
	}

	// Wrong initiator.
	err = f.engine.OnFlashLoan(ctx, poolAcct, usdc, amount, fee, stranger, nil)
	if !errors.Is(err, domain.ErrInvalidInitiator) {
		t.Fatalf("wrong initiator err = %v, want ErrInvalidInitiator", err)
	}
}

func TestReentrantExecutionRejected(t *testing.T) {
	f := newFixture(t)
	f.exec.outs[routerA] = big.NewInt(600)
	f.exec.outs[routerB] = big.NewInt(1010)

	var nestedErr error
	f.exec.hook = func(router common.Address) error {
		if router != routerA {
			return nil
		}
		// An adapter turning around and submitting its own request mid-flight.
		_, nestedErr = f.engine.ExecuteArbitrage(context.Background(), operator, baseRequest())
		return nil
	}

	res, err := f.engine.ExecuteArbitrage(context.Background(), operator, baseRequest())
	if !errors.Is(nestedErr, domain.ErrExecutionInProgress) {
		t.Fatalf("nested err = %v, want ErrExecutionInProgress", nestedErr)
	}
	// The outer execution is unaffected by the rejected nested attempt.
	if err != nil || !res.Success {
		t.Fatalf("outer execute: res=%+v err=%v", res, err)
	}
	if got := f.book.Balance(usdc, owner); got.Int64() != 8 {
		t.Fatalf("owner usdc = %s, want 8", got)
	}
}

func TestEmergencyWithdraw(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.book.Mint(usdc, engineAcct, big.NewInt(77)) // stuck balance

	if err := f.engine.EmergencyWithdraw(ctx, stranger, usdc, big.NewInt(77)); !errors.Is(err, domain.ErrUnauthorized) {
		t.Fatalf("non-owner err = %v, want ErrUnauthorized", err)
	}
	if err := f.engine.EmergencyWithdraw(ctx, owner, usdc, big.NewInt(0)); !errors.Is(err, domain.ErrInvalidAmount) {
		t.Fatalf("zero amount err = %v, want ErrInvalidAmount", err)
	}
	if err := f.engine.EmergencyWithdraw(ctx, owner, usdc, big.NewInt(77)); err != nil {
		t.Fatalf("withdraw: %v", err)
	}
	if got := f.book.Balance(usdc, owner); got.Int64() != 77 {
		t.Fatalf("owner usdc = %s, want 77", got)
	}
	if got := f.sink.count(domain.EventEmergencyWithdrawal); got != 1 {
		t.Fatalf("EmergencyWithdrawal events = %d, want 1", got)
	}
}

func TestEmergencyWithdrawRejectedDuringSettlement(t *testing.T) {
	f := newFixture(t)
	f.exec.outs[routerA] = big.NewInt(600)
	f.exec.outs[routerB] = big.NewInt(1010)
	f.book.Mint(usdc, engineAcct, big.NewInt(50)) // stuck balance

	var withdrawErr error
	f.exec.hook = func(router common.Address) error {
		if router == routerA {
			// The owner pulling funds while the settlement holds them.
			withdrawErr = f.engine.EmergencyWithdraw(context.Background(), owner, usdc, big.NewInt(50))
		}
		return nil
	}

	res, err := f.engine.ExecuteArbitrage(context.Background(), operator, baseRequest())
	if !errors.Is(withdrawErr, domain.ErrExecutionInProgress) {
		t.Fatalf("withdraw err = %v, want ErrExecutionInProgress", withdrawErr)
	}
	if err != nil || !res.Success {
		t.Fatalf("outer execute: res=%+v err=%v", res, err)
	}
	// The rejected withdrawal moved nothing.
	if got := f.book.Balance(usdc, engineAcct); got.Int64() != 50 {
		t.Fatalf("engine usdc = %s, want 50", got)
	}

	// Once the settlement is done the withdrawal goes through.
	f.exec.hook = nil
	if err := f.engine.EmergencyWithdraw(context.Background(), owner, usdc, big.NewInt(50)); err != nil {
		t.Fatalf("withdraw after settlement: %v", err)
	}
}

// TestEndToEndWithAMMs runs the full path against real constant-product
// pools: router A prices weth cheap, router B prices it dear, so borrowing
// usdc and round-tripping through both is profitable.
func TestEndToEndWithAMMs(t *testing.T) {
	f := newFixture(t)

	amm := dex.NewAMMAdapter(f.book, 30)
	amm.AddPool(routerA, usdc, weth, big.NewInt(1_000_000), big.NewInt(2_000_000))
	amm.AddPool(routerB, weth, usdc, big.NewInt(1_000_000), big.NewInt(2_000_000))

	d := dex.NewDispatcher(f.reg, testLogger())
	d.Register(domain.AdapterAMMV2, amm)
	f.engine.exec = d

	req := baseRequest()
	res, err := f.engine.ExecuteArbitrage(context.Background(), operator, req)
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if !res.Success || res.Profit.Sign() <= 0 {
		t.Fatalf("expected profitable settlement, got %+v", res)
	}
	if got := f.book.Balance(usdc, owner); got.Cmp(res.Profit) != 0 {
		t.Fatalf("owner usdc = %s, want profit %s", got, res.Profit)
	}
}

// TestAbortLeavesMarketStateUntouched checks rollback against real pools: a
// request on fresh reserves must realize the same profit whether or not an
// aborted attempt ran first. If an abort left reserve movement behind, the
// second run would price against a shifted pool.
func TestAbortLeavesMarketStateUntouched(t *testing.T) {
	run := func(t *testing.T, abortFirst bool) *big.Int {
		t.Helper()
		f := newFixture(t)

		amm := dex.NewAMMAdapter(f.book, 30)
		amm.AddPool(routerA, usdc, weth, big.NewInt(1_000_000), big.NewInt(2_000_000))
		amm.AddPool(routerB, weth, usdc, big.NewInt(1_000_000), big.NewInt(2_000_000))

		d := dex.NewDispatcher(f.reg, testLogger())
		d.Register(domain.AdapterAMMV2, amm)
		f.engine.exec = d

		if abortFirst {
			// Both legs execute against the pools before the profit check
			// rejects the unreachable target and aborts.
			req := baseRequest()
			req.MinProfit = big.NewInt(1_000_000)
			_, err := f.engine.ExecuteArbitrage(context.Background(), operator, req)
			if !errors.Is(err, domain.ErrInsufficientProfit) {
				t.Fatalf("seeded abort err = %v, want ErrInsufficientProfit", err)
			}
		}

		res, err := f.engine.ExecuteArbitrage(context.Background(), operator, baseRequest())
		if err != nil || !res.Success {
			t.Fatalf("execute: res=%+v err=%v", res, err)
		}
		return res.Profit
	}

	control := run(t, false)
	afterAbort := run(t, true)
	if control.Cmp(afterAbort) != 0 {
		t.Fatalf("profit after an aborted attempt = %s, control = %s", afterAbort, control)
	}
}
