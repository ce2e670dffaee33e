package handler

import (
	"log/slog"
	"math/big"
	"net/http"

	"github.com/ethereum/go-ethereum/common"
)

// BalanceReader reports the engine's holding of a token.
type BalanceReader interface {
	Balance(token common.Address) *big.Int
}

// BalanceHandler serves the engine balance endpoint.
type BalanceHandler struct {
	reader BalanceReader
	logger *slog.Logger
}

// NewBalanceHandler creates a BalanceHandler with the given reader.
func NewBalanceHandler(reader BalanceReader, logger *slog.Logger) *BalanceHandler {
	return &BalanceHandler{reader: reader, logger: logger}
}

// GetBalance returns the engine's balance of one token in base units.
// GET /api/balance/{token}
func (h *BalanceHandler) GetBalance(w http.ResponseWriter, r *http.Request) {
	token, ok := parseAddress(r.PathValue("token"))
	if !ok {
		writeError(w, http.StatusBadRequest, "token is not a valid address")
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"token":   token.Hex(),
		"balance": h.reader.Balance(token).String(),
	})
}
