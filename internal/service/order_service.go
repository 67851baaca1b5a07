package service

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/alanyoungcy/execsync/internal/domain"
	"github.com/alanyoungcy/execsync/internal/notify"
	"github.com/alanyoungcy/execsync/internal/order"
)

// IDAllocator hands out fresh venue identifiers. *correlate.IDSource
// satisfies it.
type IDAllocator interface {
	Next(ctx context.Context, timeout time.Duration) (int64, error)
}

// OrderPlacer submits an order ticket to the venue.
type OrderPlacer interface {
	PlaceOrder(ctx context.Context, contract domain.Contract, o domain.Order) error
}

// PlacedOrder is an order that went out on the wire.
type PlacedOrder struct {
	OrderID  int64
	Contract domain.Contract
	Order    domain.Order
	SentAt   time.Time
}

// OrderService places orders, each under a fresh identifier, and tracks
// asynchronous rejections for them.
type OrderService struct {
	ids       IDAllocator
	placer    OrderPlacer
	idTimeout time.Duration
	audit     domain.AuditStore
	notifier  Notifier
	logger    *slog.Logger

	pacer     domain.RateLimiter
	paceKey   string
	paceLimit int

	mu       sync.Mutex
	placed   map[int64]PlacedOrder
	rejected map[int64]*domain.RequestError
}

// NewOrderService creates an OrderService. audit and notifier may be nil.
func NewOrderService(
	ids IDAllocator,
	placer OrderPlacer,
	idTimeout time.Duration,
	audit domain.AuditStore,
	notifier Notifier,
	logger *slog.Logger,
) *OrderService {
	return &OrderService{
		ids:       ids,
		placer:    placer,
		idTimeout: idTimeout,
		audit:     audit,
		notifier:  notifier,
		logger:    logger.With(slog.String("component", "order_service")),
		placed:    make(map[int64]PlacedOrder),
		rejected:  make(map[int64]*domain.RequestError),
	}
}

// WithPacing holds every placement to perSecond orders per second, counted
// under key across all processes sharing limiter.
func (s *OrderService) WithPacing(limiter domain.RateLimiter, key string, perSecond int) *OrderService {
	s.pacer, s.paceKey, s.paceLimit = limiter, key, perSecond
	return s
}

// PlaceAll places tickets in order. Each ticket waits for its own identifier
// before it is sent. It stops at the first failure and returns what was
// placed so far.
func (s *OrderService) PlaceAll(ctx context.Context, tickets []order.Ticket) ([]PlacedOrder, error) {
	s.logger.InfoContext(ctx, "placing orders", slog.Int("count", len(tickets)))

	out := make([]PlacedOrder, 0, len(tickets))
	for i, t := range tickets {
		p, err := s.Place(ctx, t)
		if err != nil {
			return out, fmt.Errorf("order_service: order %d of %d: %w", i+1, len(tickets), err)
		}
		out = append(out, p)
	}
	return out, nil
}

// Place sends one ticket under a fresh identifier.
func (s *OrderService) Place(ctx context.Context, t order.Ticket) (PlacedOrder, error) {
	if s.pacer != nil {
		if err := s.pacer.Wait(ctx, s.paceKey, s.paceLimit, time.Second); err != nil {
			return PlacedOrder{}, fmt.Errorf("pacing: %w", err)
		}
	}

	id, err := s.ids.Next(ctx, s.idTimeout)
	if err != nil {
		return PlacedOrder{}, fmt.Errorf("next id: %w", err)
	}

	o := t.Order
	o.OrderID = id

	// Register before sending so a fast rejection finds it.
	p := PlacedOrder{OrderID: id, Contract: t.Contract, Order: o, SentAt: time.Now().UTC()}
	s.mu.Lock()
	s.placed[id] = p
	s.mu.Unlock()

	if err := s.placer.PlaceOrder(ctx, t.Contract, o); err != nil {
		s.mu.Lock()
		delete(s.placed, id)
		s.mu.Unlock()
		return PlacedOrder{}, fmt.Errorf("place order %d: %w", id, err)
	}

	s.logger.InfoContext(ctx, "order placed",
		slog.Int64("order_id", id),
		slog.Int64("client_id", o.ClientID),
		slog.String("account", o.Account),
		slog.String("symbol", t.Contract.Symbol),
		slog.String("sec_type", t.Contract.SecType),
		slog.String("action", string(o.Action)),
		slog.String("quantity", o.TotalQuantity.String()),
		slog.String("type", string(o.Type)),
		slog.String("algo", o.AlgoStrategy),
	)

	if s.audit != nil {
		if err := s.audit.Log(ctx, "order_placed", map[string]any{
			"order_id": id,
			"symbol":   t.Contract.Symbol,
			"action":   string(o.Action),
			"quantity": o.TotalQuantity.String(),
			"type":     string(o.Type),
			"algo":     o.AlgoStrategy,
		}); err != nil {
			s.logger.WarnContext(ctx, "audit log failed", slog.String("error", err.Error()))
		}
	}
	if s.notifier != nil {
		msg := fmt.Sprintf("#%d %s %s %s %s", id, o.Action, o.TotalQuantity, t.Contract.Symbol, o.Type)
		if err := s.notifier.Notify(ctx, notify.EventOrderPlaced, "Order placed", msg); err != nil {
			s.logger.WarnContext(ctx, "notification failed", slog.String("error", err.Error()))
		}
	}
	return p, nil
}

// orderWarningCodes are venue messages about an accepted order: held until
// the exchange opens (399), shares to locate for a short sale (404), and the
// outside-regular-hours flag being ignored (2109).
var orderWarningCodes = map[int]bool{
	399:  true,
	404:  true,
	2109: true,
}

// OnRequestError records a venue error for an order this service placed. It
// runs on the session's delivery goroutine and reports whether the error
// belonged to one of its orders. Warnings are logged, not recorded.
func (s *OrderService) OnRequestError(reqErr *domain.RequestError) bool {
	if orderWarningCodes[reqErr.Code] {
		s.mu.Lock()
		_, ok := s.placed[reqErr.ReqID]
		s.mu.Unlock()
		if ok {
			s.logger.Info("order warning",
				slog.Int64("order_id", reqErr.ReqID),
				slog.Int("code", reqErr.Code),
				slog.String("message", reqErr.Message),
			)
		}
		return ok
	}

	s.mu.Lock()
	_, ok := s.placed[reqErr.ReqID]
	if ok {
		if _, dup := s.rejected[reqErr.ReqID]; !dup {
			s.rejected[reqErr.ReqID] = reqErr
		}
	}
	s.mu.Unlock()

	if ok {
		s.logger.Warn("order rejected",
			slog.Int64("order_id", reqErr.ReqID),
			slog.Int("code", reqErr.Code),
			slog.String("message", reqErr.Message),
		)
	}
	return ok
}

// Rejections returns the venue errors recorded for placed orders.
func (s *OrderService) Rejections() map[int64]*domain.RequestError {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[int64]*domain.RequestError, len(s.rejected))
	for id, err := range s.rejected {
		out[id] = err
	}
	return out
}
