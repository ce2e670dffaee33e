package domain

import (
	"context"
	"time"
)

// LockManager provides distributed mutual exclusion. The service layer uses
// it to serialize arbitrage submissions across replicas.
type LockManager interface {
	// Acquire obtains the lock for key with the given TTL, returning an
	// unlock function. Returns ErrLockHeld if another party holds the lock.
	Acquire(ctx context.Context, key string, ttl time.Duration) (func(), error)
}

// StreamMessage is one entry read from a durable event stream.
type StreamMessage struct {
	ID      string
	Payload []byte
}

// SignalBus publishes events to off-chain collaborators: ephemeral pub/sub
// for live consumers and an append-only stream for durable delivery.
type SignalBus interface {
	Publish(ctx context.Context, channel string, payload []byte) error
	Subscribe(ctx context.Context, channel string) (<-chan []byte, error)
	StreamAppend(ctx context.Context, stream string, payload []byte) error
	StreamRead(ctx context.Context, stream string, lastID string, count int) ([]StreamMessage, error)
}
