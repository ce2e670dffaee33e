package registry

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"

	"github.com/ethereum/go-ethereum/common"

	"github.com/apexlabs-eth/flasharb/internal/domain"
)

var (
	owner    = common.HexToAddress("0x0000000000000000000000000000000000000001")
	operator = common.HexToAddress("0x0000000000000000000000000000000000000002")
	stranger = common.HexToAddress("0x0000000000000000000000000000000000000003")
	usdc     = common.HexToAddress("0x2791Bca1f2de4661ED88A30C99A7a9449Aa84174")
	routerA  = common.HexToAddress("0xa5E0829CaCEd8fFDD4De3c43696c57F7D7A678ff")
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

func TestOwnerAuthorization(t *testing.T) {
	ac := NewAccessControl(owner, nil, testLogger())

	if !ac.IsAuthorized(owner) {
		t.Fatal("owner must be authorized")
	}
	if ac.IsAuthorized(operator) {
		t.Fatal("unknown principal must not be authorized")
	}
}

func TestAuthorizeOperator(t *testing.T) {
	ctx := context.Background()
	sink := &recordingSink{}
	ac := NewAccessControl(owner, sink, testLogger())

	if err := ac.AuthorizeOperator(ctx, owner, operator, true); err != nil {
		t.Fatalf("authorize: %v", err)
	}
	if !ac.IsAuthorized(operator) {
		t.Fatal("operator must be authorized after enable")
	}

	if err := ac.AuthorizeOperator(ctx, owner, operator, false); err != nil {
		t.Fatalf("deauthorize: %v", err)
	}
	if ac.IsAuthorized(operator) {
		t.Fatal("operator must not be authorized after disable")
	}
	if got := sink.count(domain.EventBotAuthorized); got != 2 {
		t.Fatalf("BotAuthorized events = %d, want 2", got)
	}
}

func TestAuthorizeOperatorNonOwner(t *testing.T) {
	ctx := context.Background()
	ac := NewAccessControl(owner, nil, testLogger())

	err := ac.AuthorizeOperator(ctx, stranger, operator, true)
	if !errors.Is(err, domain.ErrUnauthorized) {
		t.Fatalf("err = %v, want ErrUnauthorized", err)
	}
	if ac.IsAuthorized(operator) {
		t.Fatal("failed call must not mutate the operator set")
	}
}

func TestTransferOwnership(t *testing.T) {
	ctx := context.Background()
	sink := &recordingSink{}
	ac := NewAccessControl(owner, sink, testLogger())

	if err := ac.TransferOwnership(ctx, stranger, stranger); !errors.Is(err, domain.ErrUnauthorized) {
		t.Fatalf("non-owner transfer err = %v, want ErrUnauthorized", err)
	}

	if err := ac.TransferOwnership(ctx, owner, operator); err != nil {
		t.Fatalf("transfer: %v", err)
	}
	if ac.Owner() != operator {
		t.Fatalf("owner = %s, want %s", ac.Owner().Hex(), operator.Hex())
	}
	// Previous owner loses its privileges.
	if err := ac.AuthorizeOperator(ctx, owner, stranger, true); !errors.Is(err, domain.ErrUnauthorized) {
		t.Fatalf("old owner err = %v, want ErrUnauthorized", err)
	}
	if got := sink.count(domain.EventOwnershipTransferred); got != 1 {
		t.Fatalf("OwnershipTransferred events = %d, want 1", got)
	}
}

func TestTokenWhitelistToggle(t *testing.T) {
	ctx := context.Background()
	sink := &recordingSink{}
	ac := NewAccessControl(owner, nil, testLogger())
	reg := New(ac, sink, testLogger())

	if reg.IsTokenWhitelisted(usdc) {
		t.Fatal("fresh registry must not whitelist anything")
	}

	// Idempotent toggle: enabling twice yields the same state and emits a
	// change record each time.
	for i := 0; i < 2; i++ {
		if err := reg.SetTokenWhitelisted(ctx, owner, usdc, true); err != nil {
			t.Fatalf("whitelist (call %d): %v", i+1, err)
		}
	}
	if !reg.IsTokenWhitelisted(usdc) {
		t.Fatal("token must be whitelisted")
	}
	if got := sink.count(domain.EventTokenWhitelisted); got != 2 {
		t.Fatalf("TokenWhitelisted events = %d, want 2 (emitted per call)", got)
	}

	if err := reg.SetTokenWhitelisted(ctx, owner, usdc, false); err != nil {
		t.Fatalf("unwhitelist: %v", err)
	}
	if reg.IsTokenWhitelisted(usdc) {
		t.Fatal("token must not be whitelisted after disable")
	}
}

func TestTokenWhitelistNonOwner(t *testing.T) {
	ctx := context.Background()
	ac := NewAccessControl(owner, nil, testLogger())
	reg := New(ac, nil, testLogger())

	err := reg.SetTokenWhitelisted(ctx, stranger, usdc, true)
	if !errors.Is(err, domain.ErrUnauthorized) {
		t.Fatalf("err = %v, want ErrUnauthorized", err)
	}
	if reg.IsTokenWhitelisted(usdc) {
		t.Fatal("failed call must not mutate the whitelist")
	}
}

func TestRouterConfig(t *testing.T) {
	ctx := context.Background()
	ac := NewAccessControl(owner, nil, testLogger())
	reg := New(ac, nil, testLogger())

	if reg.IsRouterEnabled(routerA) {
		t.Fatal("unknown router must be disabled")
	}

	if err := reg.SetRouterConfig(ctx, owner, routerA, domain.AdapterAMMV2, true); err != nil {
		t.Fatalf("set router: %v", err)
	}
	if !reg.IsRouterEnabled(routerA) {
		t.Fatal("router must be enabled")
	}
	kind, ok := reg.RouterKind(routerA)
	if !ok || kind != domain.AdapterAMMV2 {
		t.Fatalf("RouterKind = %q, %v; want amm_v2, true", kind, ok)
	}

	// Disabling keeps the config but hides the kind.
	if err := reg.SetRouterConfig(ctx, owner, routerA, domain.AdapterAMMV2, false); err != nil {
		t.Fatalf("disable router: %v", err)
	}
	if reg.IsRouterEnabled(routerA) {
		t.Fatal("router must be disabled")
	}
	if _, ok := reg.RouterKind(routerA); ok {
		t.Fatal("disabled router must not report a kind")
	}
}
