package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/alanyoungcy/execsync/internal/domain"
	"github.com/alanyoungcy/execsync/internal/gate"
)

// ErrNoAccounts is returned when neither the caller nor the venue names an
// account to download.
var ErrNoAccounts = errors.New("no accounts to download")

// AccountUpdatesRequester drives the account update stream. *venue.Session
// satisfies it.
type AccountUpdatesRequester interface {
	RequestAccountUpdates(ctx context.Context, subscribe bool, account string) error
	ManagedAccounts(ctx context.Context, timeout time.Duration) ([]string, error)
}

// AccountSnapshot is one account's values and positions at download end.
type AccountSnapshot struct {
	Account   string
	Values    []domain.AccountUpdate
	Positions []domain.PortfolioPosition
}

// downloadRequest collects one account download. Written only by the
// delivery goroutine until done opens.
type downloadRequest struct {
	snap AccountSnapshot
	done *gate.Gate
}

// PortfolioService downloads account values and positions one account at a
// time.
type PortfolioService struct {
	requester AccountUpdatesRequester
	active    atomic.Pointer[downloadRequest]
	logger    *slog.Logger
}

// NewPortfolioService creates a PortfolioService. Its OnAccountUpdate,
// OnPortfolioUpdate and OnDownloadEnd methods must be registered with the
// session.
func NewPortfolioService(requester AccountUpdatesRequester, logger *slog.Logger) *PortfolioService {
	return &PortfolioService{
		requester: requester,
		logger:    logger.With(slog.String("component", "portfolio_service")),
	}
}

// Snapshot downloads each account in turn, waiting up to timeout per account.
// With no accounts given it downloads every account the venue manages.
func (s *PortfolioService) Snapshot(ctx context.Context, accounts []string, timeout time.Duration) ([]AccountSnapshot, error) {
	if len(accounts) == 0 {
		managed, err := s.requester.ManagedAccounts(ctx, timeout)
		if err != nil {
			return nil, fmt.Errorf("portfolio_service: %w", err)
		}
		accounts = managed
	}
	if len(accounts) == 0 {
		return nil, fmt.Errorf("portfolio_service: %w", ErrNoAccounts)
	}

	snaps := make([]AccountSnapshot, 0, len(accounts))
	for _, account := range accounts {
		snap, err := s.download(ctx, account, timeout)
		if err != nil {
			return nil, err
		}
		snaps = append(snaps, snap)
	}
	return snaps, nil
}

func (s *PortfolioService) download(ctx context.Context, account string, timeout time.Duration) (AccountSnapshot, error) {
	req := &downloadRequest{snap: AccountSnapshot{Account: account}, done: gate.New()}
	if !s.active.CompareAndSwap(nil, req) {
		return AccountSnapshot{}, fmt.Errorf("portfolio_service: %w", ErrRequestActive)
	}
	defer s.active.CompareAndSwap(req, nil)

	if err := s.requester.RequestAccountUpdates(ctx, true, account); err != nil {
		return AccountSnapshot{}, fmt.Errorf("portfolio_service: subscribe %s: %w", account, err)
	}
	defer func() {
		stopCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		if err := s.requester.RequestAccountUpdates(stopCtx, false, account); err != nil {
			s.logger.WarnContext(ctx, "unsubscribe account updates failed",
				slog.String("account", account),
				slog.String("error", err.Error()),
			)
		}
	}()

	if err := req.done.Wait(ctx, timeout); err != nil {
		return AccountSnapshot{}, fmt.Errorf("portfolio_service: await %s: %w", account, err)
	}

	s.logger.InfoContext(ctx, "account downloaded",
		slog.String("account", account),
		slog.Int("values", len(req.snap.Values)),
		slog.Int("positions", len(req.snap.Positions)),
	)
	return req.snap, nil
}

// OnAccountUpdate collects one account value. Delivery goroutine only.
func (s *PortfolioService) OnAccountUpdate(v domain.AccountUpdate) {
	if req := s.collecting(v.Account); req != nil {
		req.snap.Values = append(req.snap.Values, v)
	}
}

// OnPortfolioUpdate collects one position. Delivery goroutine only.
func (s *PortfolioService) OnPortfolioUpdate(p domain.PortfolioPosition) {
	if req := s.collecting(p.Account); req != nil {
		req.snap.Positions = append(req.snap.Positions, p)
	}
}

// OnDownloadEnd completes the waiting download. Delivery goroutine only.
func (s *PortfolioService) OnDownloadEnd(account string) {
	if req := s.collecting(account); req != nil {
		req.done.Signal()
	}
}

// collecting returns the open download for account. Values the venue sends
// without an account name belong to the single subscribed account.
func (s *PortfolioService) collecting(account string) *downloadRequest {
	req := s.active.Load()
	if req == nil || req.done.Signaled() {
		return nil
	}
	if account != "" && account != req.snap.Account {
		s.logger.Debug("account update outside download", slog.String("account", account))
		return nil
	}
	return req
}
