package postgres

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/apexlabs-eth/flasharb/internal/domain"
)

// SettlementStore implements domain.SettlementStore using PostgreSQL.
type SettlementStore struct {
	pool *pgxpool.Pool
}

// NewSettlementStore creates a new SettlementStore.
func NewSettlementStore(pool *pgxpool.Pool) *SettlementStore {
	return &SettlementStore{pool: pool}
}

// Create inserts one settlement record.
func (s *SettlementStore) Create(ctx context.Context, res domain.SettlementResult) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO settlements (id, token_in, token_out, amount_borrowed, fee, profit, router1, router2, success, fail_reason, executed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		res.ID, res.TokenIn.Hex(), res.TokenOut.Hex(),
		amountText(res.AmountBorrowed), amountText(res.Fee), amountText(res.Profit),
		res.Router1.Hex(), res.Router2.Hex(),
		res.Success, res.FailReason, res.ExecutedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: insert settlement: %w", err)
	}
	return nil
}

// GetByID returns one settlement.
func (s *SettlementStore) GetByID(ctx context.Context, id string) (domain.SettlementResult, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT id, token_in, token_out, amount_borrowed, fee, profit, router1, router2, success, fail_reason, executed_at
		FROM settlements WHERE id = $1`, id)

	res, err := scanSettlement(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.SettlementResult{}, domain.ErrNotFound
		}
		return domain.SettlementResult{}, fmt.Errorf("postgres: get settlement %s: %w", id, err)
	}
	return res, nil
}

// ListRecent returns the most recent settlements.
func (s *SettlementStore) ListRecent(ctx context.Context, limit int) ([]domain.SettlementResult, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.pool.Query(ctx, `
		SELECT id, token_in, token_out, amount_borrowed, fee, profit, router1, router2, success, fail_reason, executed_at
		FROM settlements ORDER BY executed_at DESC LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("postgres: list settlements: %w", err)
	}
	defer rows.Close()
	return collectSettlements(rows)
}

// ListBefore returns every settlement executed strictly before the cutoff,
// oldest first. Used by the archiver.
func (s *SettlementStore) ListBefore(ctx context.Context, before time.Time) ([]domain.SettlementResult, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, token_in, token_out, amount_borrowed, fee, profit, router1, router2, success, fail_reason, executed_at
		FROM settlements WHERE executed_at < $1 ORDER BY executed_at ASC`, before)
	if err != nil {
		return nil, fmt.Errorf("postgres: list settlements before %s: %w", before, err)
	}
	defer rows.Close()
	return collectSettlements(rows)
}

// SumProfit totals realized profit of successful settlements for token since
// the given time. The text column casts to numeric for the aggregate.
func (s *SettlementStore) SumProfit(ctx context.Context, token common.Address, since time.Time) (*big.Int, error) {
	var sum string
	err := s.pool.QueryRow(ctx, `
		SELECT COALESCE(SUM(profit::numeric), 0)::text
		FROM settlements
		WHERE success AND token_in = $1 AND executed_at >= $2`,
		token.Hex(), since,
	).Scan(&sum)
	if err != nil {
		return nil, fmt.Errorf("postgres: sum settlement profit: %w", err)
	}

	out, ok := new(big.Int).SetString(sum, 10)
	if !ok {
		return nil, fmt.Errorf("postgres: sum settlement profit: bad numeric %q", sum)
	}
	return out, nil
}

func scanSettlement(row pgx.Row) (domain.SettlementResult, error) {
	var res domain.SettlementResult
	var tokenIn, tokenOut, borrowed, fee, profit, router1, router2 string
	if err := row.Scan(&res.ID, &tokenIn, &tokenOut, &borrowed, &fee, &profit,
		&router1, &router2, &res.Success, &res.FailReason, &res.ExecutedAt); err != nil {
		return domain.SettlementResult{}, err
	}

	res.TokenIn = common.HexToAddress(tokenIn)
	res.TokenOut = common.HexToAddress(tokenOut)
	res.Router1 = common.HexToAddress(router1)
	res.Router2 = common.HexToAddress(router2)

	var err error
	if res.AmountBorrowed, err = parseAmount(borrowed); err != nil {
		return domain.SettlementResult{}, err
	}
	if res.Fee, err = parseAmount(fee); err != nil {
		return domain.SettlementResult{}, err
	}
	if res.Profit, err = parseAmount(profit); err != nil {
		return domain.SettlementResult{}, err
	}
	return res, nil
}

func collectSettlements(rows pgx.Rows) ([]domain.SettlementResult, error) {
	var list []domain.SettlementResult
	for rows.Next() {
		res, err := scanSettlement(rows)
		if err != nil {
			return nil, err
		}
		list = append(list, res)
	}
	return list, rows.Err()
}

func amountText(n *big.Int) string {
	if n == nil {
		return "0"
	}
	return n.String()
}

func parseAmount(s string) (*big.Int, error) {
	n, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return nil, fmt.Errorf("postgres: bad amount %q", s)
	}
	return n, nil
}

var _ domain.SettlementStore = (*SettlementStore)(nil)
