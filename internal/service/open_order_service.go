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

// OpenOrderRequester asks for the working orders. *venue.Session satisfies it.
type OpenOrderRequester interface {
	RequestAllOpenOrders(ctx context.Context) error
}

// OpenOrders is one open-orders snapshot. Both slices hold the latest entry
// per order, in first-seen order.
type OpenOrders struct {
	Orders   []domain.OpenOrder
	Statuses []domain.OrderStatus
}

// openOrderRequest collects one snapshot. Written only by the delivery
// goroutine until done opens.
type openOrderRequest struct {
	orders   []domain.OpenOrder
	statuses []domain.OrderStatus
	orderAt  map[int64]int
	statusAt map[int64]int
	done     *gate.Gate
}

// orderKey identifies an order across clients. Orders placed outside the API
// all carry order id 0, so the permanent id wins when the venue sets it.
func orderKey(orderID, permID int64) int64 {
	if permID != 0 {
		return permID
	}
	return orderID
}

// OpenOrderService takes snapshots of every working order on the account.
type OpenOrderService struct {
	requester OpenOrderRequester
	active    atomic.Pointer[openOrderRequest]
	logger    *slog.Logger
}

// NewOpenOrderService creates an OpenOrderService. Its OnOpenOrder,
// OnOrderStatus and OnOpenOrderEnd methods must be registered with the
// session.
func NewOpenOrderService(requester OpenOrderRequester, logger *slog.Logger) *OpenOrderService {
	return &OpenOrderService{
		requester: requester,
		logger:    logger.With(slog.String("component", "open_order_service")),
	}
}

// Snapshot requests all open orders and waits up to timeout for the end of
// the snapshot.
func (s *OpenOrderService) Snapshot(ctx context.Context, timeout time.Duration) (OpenOrders, error) {
	req := &openOrderRequest{
		orderAt:  make(map[int64]int),
		statusAt: make(map[int64]int),
		done:     gate.New(),
	}
	if !s.active.CompareAndSwap(nil, req) {
		return OpenOrders{}, fmt.Errorf("open_order_service: %w", ErrRequestActive)
	}
	defer s.active.CompareAndSwap(req, nil)

	if err := s.requester.RequestAllOpenOrders(ctx); err != nil {
		return OpenOrders{}, fmt.Errorf("open_order_service: request open orders: %w", err)
	}
	if err := req.done.Wait(ctx, timeout); err != nil {
		return OpenOrders{}, fmt.Errorf("open_order_service: await open orders: %w", err)
	}

	s.logger.InfoContext(ctx, "open orders received",
		slog.Int("orders", len(req.orders)),
		slog.Int("statuses", len(req.statuses)),
	)
	return OpenOrders{Orders: req.orders, Statuses: req.statuses}, nil
}

// OnOpenOrder collects one working order. Delivery goroutine only.
func (s *OpenOrderService) OnOpenOrder(o domain.OpenOrder) {
	req := s.collecting()
	if req == nil {
		return
	}
	key := orderKey(o.OrderID, o.PermID)
	if i, ok := req.orderAt[key]; ok {
		req.orders[i] = o
		return
	}
	req.orderAt[key] = len(req.orders)
	req.orders = append(req.orders, o)
}

// OnOrderStatus collects one status update. Delivery goroutine only.
func (s *OpenOrderService) OnOrderStatus(st domain.OrderStatus) {
	req := s.collecting()
	if req == nil {
		return
	}
	key := orderKey(st.OrderID, st.PermID)
	if i, ok := req.statusAt[key]; ok {
		req.statuses[i] = st
		return
	}
	req.statusAt[key] = len(req.statuses)
	req.statuses = append(req.statuses, st)
}

// OnOpenOrderEnd completes the waiting snapshot. Delivery goroutine only.
func (s *OpenOrderService) OnOpenOrderEnd() {
	if req := s.active.Load(); req != nil {
		req.done.Signal()
	}
}

func (s *OpenOrderService) collecting() *openOrderRequest {
	req := s.active.Load()
	if req == nil || req.done.Signaled() {
		return nil
	}
	return req
}
