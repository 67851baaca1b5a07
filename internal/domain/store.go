package domain

import (
	"context"
	"time"
)

// ListOpts provides pagination and filtering for list queries.
type ListOpts struct {
	Limit  int
	Offset int
	Since  *time.Time
	Until  *time.Time
}

// FillStore persists correlated fills.
type FillStore interface {
	InsertBatch(ctx context.Context, fills []FillRecord) error
	GetByExecID(ctx context.Context, execID string) (FillRecord, error)
	ListByAccount(ctx context.Context, account string, opts ListOpts) ([]FillRecord, error)
	ListBySymbol(ctx context.Context, symbol string, opts ListOpts) ([]FillRecord, error)
}

// AnomalyStore persists correlation anomalies.
type AnomalyStore interface {
	InsertBatch(ctx context.Context, anomalies []AnomalyRecord) error
	ListByCycle(ctx context.Context, cycleID string) ([]AnomalyRecord, error)
}

// AuditEntry is a single audit log row.
type AuditEntry struct {
	ID        int64          `json:"id"`
	Event     string         `json:"event"`
	Detail    map[string]any `json:"detail"`
	CreatedAt time.Time      `json:"created_at"`
}

// AuditStore persists an append-only audit log.
type AuditStore interface {
	Log(ctx context.Context, event string, detail map[string]any) error
	List(ctx context.Context, opts ListOpts) ([]AuditEntry, error)
	ListByEvent(ctx context.Context, event string, opts ListOpts) ([]AuditEntry, error)
}
