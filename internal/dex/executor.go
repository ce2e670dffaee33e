// Package dex implements the trade-executor abstraction: one adapter per
// router family, dispatched by the adapter kind configured in the registry.
// Adapters settle against the ledger and always report the amount actually
// received, never the amount requested.
package dex

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"github.com/apexlabs-eth/flasharb/internal/domain"
)

// Executor performs one swap through a router. The caller must already hold
// amountIn of tokenIn; the returned value is the realized output amount.
type Executor interface {
	Trade(ctx context.Context, trader, router, tokenIn, tokenOut common.Address, amountIn *big.Int) (*big.Int, error)
}

// KindResolver maps a router address to its configured adapter kind. It is
// implemented by the registry.
type KindResolver interface {
	RouterKind(router common.Address) (domain.AdapterKind, bool)
}

// Snapshotter is implemented by adapters whose market state mutates on fills
// (pool reserves, resting levels). Snapshot captures that state and returns a
// function that reinstates it. Settlement rollback pairs the returned restore
// with the ledger snapshot so an abort also undoes reserve movement and level
// consumption from legs that completed before the failure.
type Snapshotter interface {
	Snapshot() (restore func())
}

// Dispatcher routes Trade calls to the adapter registered for the router's
// family.
type Dispatcher struct {
	kinds    KindResolver
	adapters map[domain.AdapterKind]Executor
	logger   *slog.Logger
}

// NewDispatcher creates a Dispatcher with no adapters registered.
func NewDispatcher(kinds KindResolver, logger *slog.Logger) *Dispatcher {
	return &Dispatcher{
		kinds:    kinds,
		adapters: make(map[domain.AdapterKind]Executor),
		logger:   logger.With(slog.String("component", "dex")),
	}
}

// Register installs the adapter for a router family, replacing any previous
// registration.
func (d *Dispatcher) Register(kind domain.AdapterKind, exec Executor) {
	d.adapters[kind] = exec
}

// Trade resolves the router's adapter and executes the swap through it.
// Routers whose kind is unknown or has no registered adapter fail with
// domain.ErrUnsupportedDex.
func (d *Dispatcher) Trade(ctx context.Context, trader, router, tokenIn, tokenOut common.Address, amountIn *big.Int) (*big.Int, error) {
	kind, ok := d.kinds.RouterKind(router)
	if !ok {
		return nil, fmt.Errorf("dex: router %s: %w", router.Hex(), domain.ErrUnsupportedDex)
	}
	adapter, ok := d.adapters[kind]
	if !ok {
		return nil, fmt.Errorf("dex: no adapter for kind %q: %w", kind, domain.ErrUnsupportedDex)
	}

	out, err := adapter.Trade(ctx, trader, router, tokenIn, tokenOut, amountIn)
	if err != nil {
		return nil, err
	}

	d.logger.DebugContext(ctx, "trade executed",
		slog.String("router", router.Hex()),
		slog.String("kind", string(kind)),
		slog.String("amount_in", amountIn.String()),
		slog.String("amount_out", out.String()),
	)
	return out, nil
}

// Snapshot captures the market state of every registered adapter that carries
// any. The returned function restores all of them.
func (d *Dispatcher) Snapshot() func() {
	restores := make([]func(), 0, len(d.adapters))
	for _, adapter := range d.adapters {
		if s, ok := adapter.(Snapshotter); ok {
			restores = append(restores, s.Snapshot())
		}
	}
	return func() {
		for _, restore := range restores {
			restore()
		}
	}
}

// Compile-time interface checks.
var (
	_ Executor    = (*Dispatcher)(nil)
	_ Snapshotter = (*Dispatcher)(nil)
)
