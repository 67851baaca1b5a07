package service

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/alanyoungcy/execsync/internal/domain"
	"github.com/alanyoungcy/execsync/internal/gate"
)

// BarRequester sends historical data requests. *venue.Session satisfies it.
type BarRequester interface {
	RequestHistoricalData(ctx context.Context, reqID int64, q domain.BarQuery) error
	CancelHistoricalData(ctx context.Context, reqID int64) error
}

// barRequest collects the bars of one request. bars and err are written only
// by the delivery goroutine until done opens.
type barRequest struct {
	reqID int64
	bars  []domain.Bar
	err   *domain.RequestError
	done  *gate.Gate
}

// BarService fetches historical bars.
type BarService struct {
	ids       IDAllocator
	requester BarRequester
	idTimeout time.Duration
	active    atomic.Pointer[barRequest]
	logger    *slog.Logger
}

// NewBarService creates a BarService. Its OnBar and OnBarsEnd methods must be
// registered with the session and OnRequestError must see request errors.
func NewBarService(ids IDAllocator, requester BarRequester, idTimeout time.Duration, logger *slog.Logger) *BarService {
	return &BarService{
		ids:       ids,
		requester: requester,
		idTimeout: idTimeout,
		logger:    logger.With(slog.String("component", "bar_service")),
	}
}

// Bars requests the bars selected by q and waits up to timeout for the end
// marker. A request that does not finish is cancelled at the venue.
func (s *BarService) Bars(ctx context.Context, q domain.BarQuery, timeout time.Duration) ([]domain.Bar, error) {
	reqID, err := s.ids.Next(ctx, s.idTimeout)
	if err != nil {
		return nil, fmt.Errorf("bar_service: next id: %w", err)
	}

	req := &barRequest{reqID: reqID, done: gate.New()}
	if !s.active.CompareAndSwap(nil, req) {
		return nil, fmt.Errorf("bar_service: %w", ErrRequestActive)
	}
	defer s.active.CompareAndSwap(req, nil)

	if err := s.requester.RequestHistoricalData(ctx, reqID, q); err != nil {
		return nil, fmt.Errorf("bar_service: request bars: %w", err)
	}

	if err := req.done.Wait(ctx, timeout); err != nil {
		s.cancel(ctx, reqID)
		return nil, fmt.Errorf("bar_service: await bars %d: %w", reqID, err)
	}
	if req.err != nil {
		return nil, fmt.Errorf("bar_service: %w", req.err)
	}

	s.logger.InfoContext(ctx, "bars received",
		slog.Int64("req_id", reqID),
		slog.String("symbol", q.Contract.Symbol),
		slog.Int("bars", len(req.bars)),
	)
	return req.bars, nil
}

func (s *BarService) cancel(ctx context.Context, reqID int64) {
	cancelCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := s.requester.CancelHistoricalData(cancelCtx, reqID); err != nil {
		s.logger.WarnContext(ctx, "cancel historical data failed",
			slog.Int64("req_id", reqID),
			slog.String("error", err.Error()),
		)
	}
}

// OnBar collects one bar. Delivery goroutine only.
func (s *BarService) OnBar(reqID int64, bar domain.Bar) {
	req := s.active.Load()
	if req == nil || req.reqID != reqID || req.done.Signaled() {
		s.logger.Debug("bar outside request", slog.Int64("req_id", reqID))
		return
	}
	req.bars = append(req.bars, bar)
}

// OnBarsEnd completes the waiting request. Delivery goroutine only.
func (s *BarService) OnBarsEnd(reqID int64) {
	if req := s.active.Load(); req != nil && req.reqID == reqID {
		req.done.Signal()
	}
}

// OnRequestError fails the waiting request when the error is for it, and
// reports whether it was.
func (s *BarService) OnRequestError(reqErr *domain.RequestError) bool {
	req := s.active.Load()
	if req == nil || req.reqID != reqErr.ReqID || req.done.Signaled() {
		return false
	}
	req.err = reqErr
	req.done.Signal()
	return true
}
