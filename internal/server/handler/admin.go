package handler

import (
	"context"
	"encoding/json"
	"log/slog"
	"math/big"
	"net/http"

	"github.com/ethereum/go-ethereum/common"

	"github.com/apexlabs-eth/flasharb/internal/domain"
)

// AccessAdmin manages the operator set.
type AccessAdmin interface {
	AuthorizeOperator(ctx context.Context, caller, principal common.Address, enabled bool) error
}

// RegistryAdmin manages the token and router whitelists.
type RegistryAdmin interface {
	SetTokenWhitelisted(ctx context.Context, caller, token common.Address, enabled bool) error
	SetRouterConfig(ctx context.Context, caller, router common.Address, kind domain.AdapterKind, enabled bool) error
}

// Withdrawer runs emergency withdrawals.
type Withdrawer interface {
	Withdraw(ctx context.Context, caller, token common.Address, amount *big.Int) error
}

// AdminHandler serves the owner-only governance endpoints. All operations run
// on behalf of the owner address bound at construction; the API key
// middleware has already authenticated the request as the owner.
type AdminHandler struct {
	owner    common.Address
	access   AccessAdmin
	registry RegistryAdmin
	treasury Withdrawer
	logger   *slog.Logger
}

// NewAdminHandler creates an AdminHandler acting as owner.
func NewAdminHandler(owner common.Address, access AccessAdmin, registry RegistryAdmin, treasury Withdrawer, logger *slog.Logger) *AdminHandler {
	return &AdminHandler{
		owner:    owner,
		access:   access,
		registry: registry,
		treasury: treasury,
		logger:   logger,
	}
}

// operatorRequest is the JSON body for POST /api/admin/operators.
type operatorRequest struct {
	Address string `json:"address"`
	Enabled bool   `json:"enabled"`
}

// SetOperator grants or revokes operator authorization.
// POST /api/admin/operators
func (h *AdminHandler) SetOperator(w http.ResponseWriter, r *http.Request) {
	var body operatorRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	principal, ok := parseAddress(body.Address)
	if !ok {
		writeError(w, http.StatusBadRequest, "address is not a valid address")
		return
	}

	if err := h.access.AuthorizeOperator(r.Context(), h.owner, principal, body.Enabled); err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"address": principal.Hex(),
		"enabled": body.Enabled,
	})
}

// tokenRequest is the JSON body for POST /api/admin/tokens.
type tokenRequest struct {
	Address string `json:"address"`
	Enabled bool   `json:"enabled"`
}

// SetToken adds or removes a token from the whitelist.
// POST /api/admin/tokens
func (h *AdminHandler) SetToken(w http.ResponseWriter, r *http.Request) {
	var body tokenRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	token, ok := parseAddress(body.Address)
	if !ok {
		writeError(w, http.StatusBadRequest, "address is not a valid address")
		return
	}

	if err := h.registry.SetTokenWhitelisted(r.Context(), h.owner, token, body.Enabled); err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"address": token.Hex(),
		"enabled": body.Enabled,
	})
}

// routerRequest is the JSON body for POST /api/admin/routers.
type routerRequest struct {
	Address string `json:"address"`
	Kind    string `json:"kind"`
	Enabled bool   `json:"enabled"`
}

// SetRouter configures a router whitelist entry with its adapter kind.
// POST /api/admin/routers
func (h *AdminHandler) SetRouter(w http.ResponseWriter, r *http.Request) {
	var body routerRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	router, ok := parseAddress(body.Address)
	if !ok {
		writeError(w, http.StatusBadRequest, "address is not a valid address")
		return
	}
	kind := domain.AdapterKind(body.Kind)
	if kind != domain.AdapterAMMV2 && kind != domain.AdapterOrderBook {
		writeError(w, http.StatusBadRequest, "kind must be amm_v2 or orderbook")
		return
	}

	if err := h.registry.SetRouterConfig(r.Context(), h.owner, router, kind, body.Enabled); err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"address": router.Hex(),
		"kind":    string(kind),
		"enabled": body.Enabled,
	})
}

// withdrawRequest is the JSON body for POST /api/admin/withdraw.
type withdrawRequest struct {
	Token  string `json:"token"`
	Amount string `json:"amount"`
}

// Withdraw moves tokens from the engine to the owner.
// POST /api/admin/withdraw
func (h *AdminHandler) Withdraw(w http.ResponseWriter, r *http.Request) {
	var body withdrawRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	token, ok := parseAddress(body.Token)
	if !ok {
		writeError(w, http.StatusBadRequest, "token is not a valid address")
		return
	}
	amount, ok := parseAmount(body.Amount)
	if !ok {
		writeError(w, http.StatusBadRequest, "amount is not a valid base-unit integer")
		return
	}

	if err := h.treasury.Withdraw(r.Context(), h.owner, token, amount); err != nil {
		h.logger.WarnContext(r.Context(), "handler: withdraw rejected",
			slog.String("token", token.Hex()),
			slog.String("error", err.Error()),
		)
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"token":  token.Hex(),
		"amount": amount.String(),
	})
}
