package domain

import (
	"context"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// SettlementStore persists settlement results.
type SettlementStore interface {
	Create(ctx context.Context, res SettlementResult) error
	GetByID(ctx context.Context, id string) (SettlementResult, error)
	ListRecent(ctx context.Context, limit int) ([]SettlementResult, error)
	ListBefore(ctx context.Context, before time.Time) ([]SettlementResult, error)
	SumProfit(ctx context.Context, token common.Address, since time.Time) (*big.Int, error)
}
