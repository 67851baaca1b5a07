package domain

import (
	"context"
	"time"
)

// LockManager provides distributed locking.
type LockManager interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (unlock func(), err error)
}

// StreamMessage represents a single entry from a Redis stream.
type StreamMessage struct {
	ID      string
	Payload []byte
}

// SignalBus provides pub/sub and durable streams.
type SignalBus interface {
	Publish(ctx context.Context, channel string, payload []byte) error
	Subscribe(ctx context.Context, channel string) (<-chan []byte, error)
	StreamAppend(ctx context.Context, stream string, payload []byte) error
	StreamRead(ctx context.Context, stream string, lastID string, count int) ([]StreamMessage, error)
}

// SeenSet remembers keys across cycles. MarkSeen returns true when the key
// was already present. Forget removes keys so a later MarkSeen treats them as
// new again.
type SeenSet interface {
	MarkSeen(ctx context.Context, key string) (bool, error)
	Forget(ctx context.Context, keys ...string) error
}

// FillPublisher pushes correlated fills to an external event stream.
type FillPublisher interface {
	PublishFills(ctx context.Context, fills []FillRecord) error
}

// RateLimiter paces requests shared by every process using the same key.
type RateLimiter interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error)
	Wait(ctx context.Context, key string, limit int, window time.Duration) error
}
