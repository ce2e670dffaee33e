// Package registry holds the privileged configuration of the engine: the
// owner identity, the set of authorized operator bots, and the token/router
// whitelists. All mutations are owner-gated and emit a change record.
package registry

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/apexlabs-eth/flasharb/internal/domain"
)

// AccessControl tracks the owner and the authorized operator set.
type AccessControl struct {
	mu        sync.RWMutex
	owner     common.Address
	operators map[common.Address]bool
	sink      domain.EventSink
	logger    *slog.Logger
}

// NewAccessControl creates an AccessControl with the given initial owner.
func NewAccessControl(owner common.Address, sink domain.EventSink, logger *slog.Logger) *AccessControl {
	if sink == nil {
		sink = domain.NopSink
	}
	return &AccessControl{
		owner:     owner,
		operators: make(map[common.Address]bool),
		sink:      sink,
		logger:    logger.With(slog.String("component", "access_control")),
	}
}

// Owner returns the current owner.
func (ac *AccessControl) Owner() common.Address {
	ac.mu.RLock()
	defer ac.mu.RUnlock()
	return ac.owner
}

// IsOwner reports whether principal is the current owner.
func (ac *AccessControl) IsOwner(principal common.Address) bool {
	ac.mu.RLock()
	defer ac.mu.RUnlock()
	return principal == ac.owner
}

// IsAuthorized reports whether principal may invoke arbitrage execution:
// true for the owner and for any enabled operator.
func (ac *AccessControl) IsAuthorized(principal common.Address) bool {
	ac.mu.RLock()
	defer ac.mu.RUnlock()
	return principal == ac.owner || ac.operators[principal]
}

// TransferOwnership moves ownership to newOwner. Only the current owner may
// call it; each transfer is logged and emitted.
func (ac *AccessControl) TransferOwnership(ctx context.Context, caller, newOwner common.Address) error {
	ac.mu.Lock()
	if caller != ac.owner {
		ac.mu.Unlock()
		return domain.ErrUnauthorized
	}
	previous := ac.owner
	ac.owner = newOwner
	ac.mu.Unlock()

	ac.logger.InfoContext(ctx, "ownership transferred",
		slog.String("previous", previous.Hex()),
		slog.String("new", newOwner.Hex()),
	)
	ac.sink.Emit(ctx, domain.Event{
		Type: domain.EventOwnershipTransferred,
		At:   time.Now().UTC(),
		Data: map[string]string{
			"previous": previous.Hex(),
			"new":      newOwner.Hex(),
		},
	})
	return nil
}

// AuthorizeOperator enables or disables an operator principal. Owner-only.
// Setting the current value again is a no-op on state but still emits a
// change record.
func (ac *AccessControl) AuthorizeOperator(ctx context.Context, caller, principal common.Address, enabled bool) error {
	ac.mu.Lock()
	if caller != ac.owner {
		ac.mu.Unlock()
		return domain.ErrUnauthorized
	}
	if enabled {
		ac.operators[principal] = true
	} else {
		delete(ac.operators, principal)
	}
	ac.mu.Unlock()

	ac.logger.InfoContext(ctx, "operator authorization changed",
		slog.String("principal", principal.Hex()),
		slog.Bool("enabled", enabled),
	)
	ac.sink.Emit(ctx, domain.Event{
		Type: domain.EventBotAuthorized,
		At:   time.Now().UTC(),
		Data: map[string]any{
			"principal": principal.Hex(),
			"enabled":   enabled,
		},
	})
	return nil
}
