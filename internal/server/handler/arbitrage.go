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

// ArbService defines the service surface the arbitrage handler requires.
type ArbService interface {
	Execute(ctx context.Context, caller common.Address, req domain.ArbitrageRequest) (*domain.SettlementResult, error)
	ListRecent(ctx context.Context, limit int) ([]domain.SettlementResult, error)
}

// ArbHandler serves arbitrage submission and settlement history endpoints.
type ArbHandler struct {
	arb    ArbService
	logger *slog.Logger
}

// NewArbHandler creates an ArbHandler with the given service and logger.
func NewArbHandler(arb ArbService, logger *slog.Logger) *ArbHandler {
	return &ArbHandler{arb: arb, logger: logger}
}

// executeRequest is the JSON body for POST /api/arbitrage/execute. Amounts
// are base-unit decimal strings.
type executeRequest struct {
	Caller    string `json:"caller"`
	TokenIn   string `json:"token_in"`
	TokenOut  string `json:"token_out"`
	Amount    string `json:"amount"`
	Router1   string `json:"router1"`
	Router2   string `json:"router2"`
	MinProfit string `json:"min_profit"`
}

// Execute submits one arbitrage attempt on behalf of the named operator.
// POST /api/arbitrage/execute
func (h *ArbHandler) Execute(w http.ResponseWriter, r *http.Request) {
	var body executeRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	caller, ok := parseAddress(body.Caller)
	if !ok {
		writeError(w, http.StatusBadRequest, "caller is not a valid address")
		return
	}
	req, errMsg := buildRequest(body)
	if errMsg != "" {
		writeError(w, http.StatusBadRequest, errMsg)
		return
	}

	res, err := h.arb.Execute(r.Context(), caller, req)
	if err != nil {
		// An aborted settlement still carries a full result record; report
		// it with 200 so callers can inspect the failure reason.
		if res != nil {
			writeJSON(w, http.StatusOK, res)
			return
		}
		h.logger.WarnContext(r.Context(), "handler: execute rejected",
			slog.String("caller", caller.Hex()),
			slog.String("error", err.Error()),
		)
		writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, res)
}

// buildRequest validates the wire body and assembles the domain request.
// Returns a non-empty message on validation failure.
func buildRequest(body executeRequest) (domain.ArbitrageRequest, string) {
	var req domain.ArbitrageRequest
	var ok bool

	if req.TokenIn, ok = parseAddress(body.TokenIn); !ok {
		return req, "token_in is not a valid address"
	}
	if req.TokenOut, ok = parseAddress(body.TokenOut); !ok {
		return req, "token_out is not a valid address"
	}
	if req.Router1, ok = parseAddress(body.Router1); !ok {
		return req, "router1 is not a valid address"
	}
	if req.Router2, ok = parseAddress(body.Router2); !ok {
		return req, "router2 is not a valid address"
	}
	if req.Amount, ok = parseAmount(body.Amount); !ok {
		return req, "amount is not a valid base-unit integer"
	}
	if body.MinProfit == "" {
		req.MinProfit = big.NewInt(0)
	} else if req.MinProfit, ok = parseAmount(body.MinProfit); !ok {
		return req, "min_profit is not a valid base-unit integer"
	}
	return req, ""
}

// listSettlementsResponse wraps the settlement history response.
type listSettlementsResponse struct {
	Settlements []domain.SettlementResult `json:"settlements"`
}

// ListRecent returns the most recent settlements.
// GET /api/arbitrage/recent?limit=20
func (h *ArbHandler) ListRecent(w http.ResponseWriter, r *http.Request) {
	limit := parseLimit(r, 20, 200)

	list, err := h.arb.ListRecent(r.Context(), limit)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "handler: list settlements failed",
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to list settlements")
		return
	}

	if list == nil {
		list = []domain.SettlementResult{}
	}
	writeJSON(w, http.StatusOK, listSettlementsResponse{Settlements: list})
}
