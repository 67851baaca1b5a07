package service

import (
	"context"
	"fmt"
	"time"

	s3blob "github.com/alanyoungcy/execsync/internal/blob/s3"
	"github.com/alanyoungcy/execsync/internal/domain"
)

// CycleLibrary lists and loads archived cycles. *s3blob.Archiver satisfies it.
type CycleLibrary interface {
	ListCycles(ctx context.Context, since time.Time) ([]domain.BlobInfo, error)
	LoadCycle(ctx context.Context, path string) (s3blob.CycleArchive, error)
}

// HistoryQuery selects what History returns. Account, Symbol and ExecID
// query the fill store; otherwise archived cycles are listed.
type HistoryQuery struct {
	Since   time.Time
	Limit   int
	Account string
	Symbol  string
	ExecID  string
}

// HistoryService reads back what earlier cycles produced.
type HistoryService struct {
	library CycleLibrary
	fills   domain.FillStore
}

// NewHistoryService creates a HistoryService. Either source may be nil.
func NewHistoryService(library CycleLibrary, fills domain.FillStore) *HistoryService {
	return &HistoryService{library: library, fills: fills}
}

// Cycles loads up to q.Limit archived cycles from q.Since onward, newest first.
func (s *HistoryService) Cycles(ctx context.Context, q HistoryQuery) ([]s3blob.CycleArchive, error) {
	if s.library == nil {
		return nil, fmt.Errorf("history_service: cycle archive not configured")
	}
	infos, err := s.library.ListCycles(ctx, q.Since)
	if err != nil {
		return nil, fmt.Errorf("history_service: %w", err)
	}
	if q.Limit > 0 && len(infos) > q.Limit {
		infos = infos[:q.Limit]
	}

	out := make([]s3blob.CycleArchive, 0, len(infos))
	for _, info := range infos {
		c, err := s.library.LoadCycle(ctx, info.Path)
		if err != nil {
			return nil, fmt.Errorf("history_service: %w", err)
		}
		out = append(out, c)
	}
	return out, nil
}

// Fills queries stored fills by exec id, account or symbol, in that order
// of precedence.
func (s *HistoryService) Fills(ctx context.Context, q HistoryQuery) ([]domain.FillRecord, error) {
	if s.fills == nil {
		return nil, fmt.Errorf("history_service: fill store not configured")
	}

	opts := domain.ListOpts{Limit: q.Limit}
	if !q.Since.IsZero() {
		since := q.Since
		opts.Since = &since
	}

	var (
		fills []domain.FillRecord
		err   error
	)
	switch {
	case q.ExecID != "":
		var f domain.FillRecord
		f, err = s.fills.GetByExecID(ctx, q.ExecID)
		if err == nil {
			fills = []domain.FillRecord{f}
		}
	case q.Account != "":
		fills, err = s.fills.ListByAccount(ctx, q.Account, opts)
	case q.Symbol != "":
		fills, err = s.fills.ListBySymbol(ctx, q.Symbol, opts)
	default:
		return nil, fmt.Errorf("history_service: fills query needs an exec id, account or symbol")
	}
	if err != nil {
		return nil, fmt.Errorf("history_service: %w", err)
	}
	return fills, nil
}

// WantsFills reports whether q targets the fill store.
func (q HistoryQuery) WantsFills() bool {
	return q.ExecID != "" || q.Account != "" || q.Symbol != ""
}
