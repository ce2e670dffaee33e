package domain

import (
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// SettlementResult records the outcome of one flash-loan arbitrage execution.
// It is produced once per completed or aborted settlement and is read-only
// afterward.
type SettlementResult struct {
	ID             string         `json:"id"`
	TokenIn        common.Address `json:"token_in"`
	TokenOut       common.Address `json:"token_out"`
	AmountBorrowed *big.Int       `json:"amount_borrowed"`
	Fee            *big.Int       `json:"fee"`
	Profit         *big.Int       `json:"profit"`
	Router1        common.Address `json:"router1"`
	Router2        common.Address `json:"router2"`
	Success        bool           `json:"success"`
	FailReason     string         `json:"fail_reason,omitempty"`
	ExecutedAt     time.Time      `json:"executed_at"`
}
