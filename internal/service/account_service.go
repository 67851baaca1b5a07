package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"

	"github.com/alanyoungcy/execsync/internal/domain"
	"github.com/alanyoungcy/execsync/internal/gate"
)

var (
	// ErrSummaryActive is returned when a summary request is already waiting.
	ErrSummaryActive = errors.New("account summary request already active")

	// ErrRequestActive is returned when a snapshot or bar request of the same
	// kind is already waiting.
	ErrRequestActive = errors.New("request already active")
)

// SummaryRequester sends account summary requests. *venue.Session satisfies it.
type SummaryRequester interface {
	RequestAccountSummary(ctx context.Context, reqID int64, group, tags string) error
	CancelAccountSummary(ctx context.Context, reqID int64) error
}

// summaryRequest collects the rows of one account summary. rows is written
// only by the delivery goroutine until done opens.
type summaryRequest struct {
	reqID int64
	rows  []domain.AccountValue
	done  *gate.Gate
}

// AccountService requests account summaries and blocks until the venue marks
// the end of the response.
type AccountService struct {
	ids       IDAllocator
	requester SummaryRequester
	idTimeout time.Duration
	active    atomic.Pointer[summaryRequest]
	logger    *slog.Logger
}

// NewAccountService creates an AccountService. Its OnAccountValue and
// OnSummaryEnd methods must be registered with the session.
func NewAccountService(ids IDAllocator, requester SummaryRequester, idTimeout time.Duration, logger *slog.Logger) *AccountService {
	return &AccountService{
		ids:       ids,
		requester: requester,
		idTimeout: idTimeout,
		logger:    logger.With(slog.String("component", "account_service")),
	}
}

// Summary requests group's values for tags and waits up to timeout for the
// end marker. The subscription is cancelled before returning.
func (s *AccountService) Summary(ctx context.Context, group string, tags []string, timeout time.Duration) ([]domain.AccountValue, error) {
	reqID, err := s.ids.Next(ctx, s.idTimeout)
	if err != nil {
		return nil, fmt.Errorf("account_service: next id: %w", err)
	}

	req := &summaryRequest{reqID: reqID, done: gate.New()}
	if !s.active.CompareAndSwap(nil, req) {
		return nil, fmt.Errorf("account_service: %w", ErrSummaryActive)
	}
	defer s.active.CompareAndSwap(req, nil)

	if err := s.requester.RequestAccountSummary(ctx, reqID, group, strings.Join(tags, ",")); err != nil {
		return nil, fmt.Errorf("account_service: request summary: %w", err)
	}
	defer func() {
		cancelCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		if err := s.requester.CancelAccountSummary(cancelCtx, reqID); err != nil {
			s.logger.WarnContext(ctx, "cancel account summary failed",
				slog.Int64("req_id", reqID),
				slog.String("error", err.Error()),
			)
		}
	}()

	if err := req.done.Wait(ctx, timeout); err != nil {
		return nil, fmt.Errorf("account_service: await summary %d: %w", reqID, err)
	}

	s.logger.InfoContext(ctx, "account summary received",
		slog.Int64("req_id", reqID),
		slog.Int("rows", len(req.rows)),
	)
	return req.rows, nil
}

// OnAccountValue collects one summary row. Delivery goroutine only.
func (s *AccountService) OnAccountValue(v domain.AccountValue) {
	req := s.active.Load()
	if req == nil || req.reqID != v.ReqID || req.done.Signaled() {
		s.logger.Debug("account value outside request", slog.Int64("req_id", v.ReqID))
		return
	}
	req.rows = append(req.rows, v)
}

// OnSummaryEnd opens the waiting request's gate. Delivery goroutine only.
func (s *AccountService) OnSummaryEnd(reqID int64) {
	req := s.active.Load()
	if req == nil || req.reqID != reqID {
		s.logger.Debug("account summary end outside request", slog.Int64("req_id", reqID))
		return
	}
	req.done.Signal()
}
