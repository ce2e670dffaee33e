package registry

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/apexlabs-eth/flasharb/internal/domain"
)

// Registry holds the token and router whitelists. Anything not listed and
// enabled is rejected during request validation.
type Registry struct {
	mu      sync.RWMutex
	access  *AccessControl
	tokens  map[common.Address]bool
	routers map[common.Address]domain.RouterConfig
	sink    domain.EventSink
	logger  *slog.Logger
}

// New creates an empty Registry gated by the given AccessControl.
func New(access *AccessControl, sink domain.EventSink, logger *slog.Logger) *Registry {
	if sink == nil {
		sink = domain.NopSink
	}
	return &Registry{
		access:  access,
		tokens:  make(map[common.Address]bool),
		routers: make(map[common.Address]domain.RouterConfig),
		sink:    sink,
		logger:  logger.With(slog.String("component", "registry")),
	}
}

// SetTokenWhitelisted enables or disables a token. Owner-only. Toggling is
// idempotent: setting the same value twice leaves the state unchanged and
// emits the change record each time.
func (r *Registry) SetTokenWhitelisted(ctx context.Context, caller, token common.Address, enabled bool) error {
	if !r.access.IsOwner(caller) {
		return domain.ErrUnauthorized
	}

	r.mu.Lock()
	if enabled {
		r.tokens[token] = true
	} else {
		delete(r.tokens, token)
	}
	r.mu.Unlock()

	r.logger.InfoContext(ctx, "token whitelist changed",
		slog.String("token", token.Hex()),
		slog.Bool("enabled", enabled),
	)
	r.sink.Emit(ctx, domain.Event{
		Type: domain.EventTokenWhitelisted,
		At:   time.Now().UTC(),
		Data: map[string]any{
			"token":   token.Hex(),
			"enabled": enabled,
		},
	})
	return nil
}

// SetRouterConfig registers or updates a DEX router with its adapter kind.
// Owner-only; emits a change record on every call.
func (r *Registry) SetRouterConfig(ctx context.Context, caller, router common.Address, kind domain.AdapterKind, enabled bool) error {
	if !r.access.IsOwner(caller) {
		return domain.ErrUnauthorized
	}

	r.mu.Lock()
	r.routers[router] = domain.RouterConfig{Router: router, Kind: kind, Enabled: enabled}
	r.mu.Unlock()

	r.logger.InfoContext(ctx, "router config changed",
		slog.String("router", router.Hex()),
		slog.String("kind", string(kind)),
		slog.Bool("enabled", enabled),
	)
	r.sink.Emit(ctx, domain.Event{
		Type: domain.EventRouterAdded,
		At:   time.Now().UTC(),
		Data: map[string]any{
			"router":  router.Hex(),
			"kind":    string(kind),
			"enabled": enabled,
		},
	})
	return nil
}

// IsTokenWhitelisted reports whether token is enabled.
func (r *Registry) IsTokenWhitelisted(token common.Address) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.tokens[token]
}

// IsRouterEnabled reports whether router is registered and enabled.
func (r *Registry) IsRouterEnabled(router common.Address) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	cfg, ok := r.routers[router]
	return ok && cfg.Enabled
}

// RouterKind returns the adapter kind configured for router. The second
// return is false when the router is unknown or disabled.
func (r *Registry) RouterKind(router common.Address) (domain.AdapterKind, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	cfg, ok := r.routers[router]
	if !ok || !cfg.Enabled {
		return "", false
	}
	return cfg.Kind, true
}

// Routers returns a copy of all registered router configs.
func (r *Registry) Routers() []domain.RouterConfig {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]domain.RouterConfig, 0, len(r.routers))
	for _, cfg := range r.routers {
		out = append(out, cfg)
	}
	return out
}
