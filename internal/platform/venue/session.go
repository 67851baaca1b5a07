// Package venue is the websocket session to the execution venue gateway. It
// sends fire-and-forget requests and delivers every callback to a
// domain.CallbackSink from a single read-loop goroutine per connection.
package venue

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/alanyoungcy/execsync/internal/domain"
	"github.com/alanyoungcy/execsync/internal/gate"
)

const (
	// writeWait is the time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// pongWait is the time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// pingPeriod sends pings to the peer at this interval. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// reconnectDelay is the base delay before attempting to reconnect.
	reconnectDelay = 2 * time.Second

	// maxReconnectDelay caps the exponential backoff for reconnection.
	maxReconnectDelay = 60 * time.Second

	defaultConnectTimeout = 15 * time.Second
)

// AccountSummaryHandler is called for every account summary row.
type AccountSummaryHandler func(domain.AccountValue)

// EndHandler is called when the venue ends a multi-message response.
type EndHandler func(reqID int64)

// OpenOrderHandler is called for every order of an open-orders snapshot.
type OpenOrderHandler func(domain.OpenOrder)

// OrderStatusHandler is called for every order status update.
type OrderStatusHandler func(domain.OrderStatus)

// AccountUpdateHandler is called for every account update key.
type AccountUpdateHandler func(domain.AccountUpdate)

// PortfolioHandler is called for every position of an account update stream.
type PortfolioHandler func(domain.PortfolioPosition)

// AccountEndHandler is called when an account's update download completes.
type AccountEndHandler func(account string)

// BarHandler is called for every historical bar.
type BarHandler func(reqID int64, bar domain.Bar)

// handlers holds the callbacks registered outside the CallbackSink.
type handlers struct {
	summary       []AccountSummaryHandler
	summaryEnd    []EndHandler
	openOrder     []OpenOrderHandler
	orderStatus   []OrderStatusHandler
	openOrderEnd  []func()
	accountUpdate []AccountUpdateHandler
	portfolio     []PortfolioHandler
	accountEnd    []AccountEndHandler
	bar           []BarHandler
	barEnd        []EndHandler
}

// Config holds the session connection parameters.
type Config struct {
	URL            string
	ClientID       int64
	ConnectTimeout time.Duration
	// Reconnect re-dials with exponential backoff after the connection drops.
	Reconnect bool
}

// Session is a websocket session to the venue gateway. A connection is ready
// once the gateway answers the start_api handshake with its first
// next_valid_id.
type Session struct {
	cfg    Config
	sink   domain.CallbackSink
	logger *slog.Logger

	conn *websocket.Conn

	mu     sync.RWMutex
	closed bool

	// writeMu serialises every write on conn, pings included.
	writeMu sync.Mutex

	nextID atomic.Int64

	handlers  handlers
	handlerMu sync.RWMutex

	accountsMu    sync.RWMutex
	accounts      []string
	accountsReady *gate.Gate

	// done is closed when the session is shut down.
	done chan struct{}
}

// NewSession creates a session delivering callbacks to sink.
func NewSession(cfg Config, sink domain.CallbackSink, logger *slog.Logger) *Session {
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = defaultConnectTimeout
	}
	return &Session{
		cfg:    cfg,
		sink:   sink,
		logger: logger.With(slog.String("component", "venue")),
		done:   make(chan struct{}),

		accountsReady: gate.New(),
	}
}

// Connect dials the gateway, starts the read and ping loops and blocks until
// the handshake completes or Config.ConnectTimeout elapses.
func (s *Session) Connect(ctx context.Context) error {
	ready, err := s.dial(ctx)
	if err != nil {
		return err
	}

	if err := ready.Wait(ctx, s.cfg.ConnectTimeout); err != nil {
		s.dropConn()
		return fmt.Errorf("venue: await handshake: %w", err)
	}

	s.logger.InfoContext(ctx, "venue session ready",
		slog.String("url", s.cfg.URL),
		slog.Int64("client_id", s.cfg.ClientID),
		slog.Int64("next_valid_id", s.nextID.Load()),
	)
	return nil
}

// NextValidID returns the most recent identifier announced by the venue.
func (s *Session) NextValidID() int64 {
	return s.nextID.Load()
}

// Connected reports whether the session currently holds a connection.
func (s *Session) Connected() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.conn != nil
}

// RequestNextID implements domain.Requester.
func (s *Session) RequestNextID(ctx context.Context) error {
	if err := s.send(ctx, IDsRequest{Type: frameReqIDs, NumIDs: 1}); err != nil {
		return fmt.Errorf("venue: request ids: %w", err)
	}
	return nil
}

// RequestExecutions implements domain.Requester.
func (s *Session) RequestExecutions(ctx context.Context, reqID int64, filter domain.ExecutionFilter) error {
	req := ExecutionsRequest{
		Type:   frameReqExecutions,
		ReqID:  reqID,
		Filter: FilterToWire(filter),
	}
	if err := s.send(ctx, req); err != nil {
		return fmt.Errorf("venue: request executions: %w", err)
	}
	return nil
}

// PlaceOrder submits order for contract under order.OrderID.
func (s *Session) PlaceOrder(ctx context.Context, contract domain.Contract, order domain.Order) error {
	if err := order.Validate(); err != nil {
		return fmt.Errorf("venue: place order: %w", err)
	}
	req := PlaceOrderRequest{
		Type:     framePlaceOrder,
		OrderID:  order.OrderID,
		Contract: ContractToWire(contract),
		Order:    OrderToWire(order),
	}
	if err := s.send(ctx, req); err != nil {
		return fmt.Errorf("venue: place order: %w", err)
	}
	return nil
}

// RequestAccountSummary subscribes to the account summary for group and the
// comma-separated tags.
func (s *Session) RequestAccountSummary(ctx context.Context, reqID int64, group, tags string) error {
	req := AccountSummaryRequest{
		Type:  frameReqAccountSummary,
		ReqID: reqID,
		Group: group,
		Tags:  tags,
	}
	if err := s.send(ctx, req); err != nil {
		return fmt.Errorf("venue: request account summary: %w", err)
	}
	return nil
}

// CancelAccountSummary ends an account summary subscription.
func (s *Session) CancelAccountSummary(ctx context.Context, reqID int64) error {
	if err := s.send(ctx, ReqIDRequest{Type: frameCancelAccountSummary, ReqID: reqID}); err != nil {
		return fmt.Errorf("venue: cancel account summary: %w", err)
	}
	return nil
}

// RequestGlobalCancel cancels every open order on the account.
func (s *Session) RequestGlobalCancel(ctx context.Context) error {
	if err := s.send(ctx, ReqIDRequest{Type: frameReqGlobalCancel}); err != nil {
		return fmt.Errorf("venue: global cancel: %w", err)
	}
	return nil
}

// RequestAllOpenOrders asks for every working order of the account,
// whichever client placed it.
func (s *Session) RequestAllOpenOrders(ctx context.Context) error {
	if err := s.send(ctx, ReqIDRequest{Type: frameReqAllOpenOrders}); err != nil {
		return fmt.Errorf("venue: request open orders: %w", err)
	}
	return nil
}

// RequestAccountUpdates starts or stops the account value and portfolio
// stream for account.
func (s *Session) RequestAccountUpdates(ctx context.Context, subscribe bool, account string) error {
	req := AccountUpdatesRequest{Type: frameReqAccountUpdates, Subscribe: subscribe, Account: account}
	if err := s.send(ctx, req); err != nil {
		return fmt.Errorf("venue: request account updates: %w", err)
	}
	return nil
}

// RequestHistoricalData asks for the bars selected by q under reqID.
func (s *Session) RequestHistoricalData(ctx context.Context, reqID int64, q domain.BarQuery) error {
	req := HistoricalDataRequest{
		Type:        frameReqHistoricalData,
		ReqID:       reqID,
		Contract:    ContractToWire(q.Contract),
		EndDateTime: q.EndDateTime,
		Duration:    q.Duration,
		BarSize:     q.BarSize,
		WhatToShow:  q.WhatToShow,
		UseRTH:      q.UseRTH,
	}
	if err := s.send(ctx, req); err != nil {
		return fmt.Errorf("venue: request historical data: %w", err)
	}
	return nil
}

// CancelHistoricalData abandons a historical data request.
func (s *Session) CancelHistoricalData(ctx context.Context, reqID int64) error {
	if err := s.send(ctx, ReqIDRequest{Type: frameCancelHistoricalData, ReqID: reqID}); err != nil {
		return fmt.Errorf("venue: cancel historical data: %w", err)
	}
	return nil
}

// ManagedAccounts returns the accounts the gateway announced after the
// handshake, waiting up to timeout for the announcement.
func (s *Session) ManagedAccounts(ctx context.Context, timeout time.Duration) ([]string, error) {
	if err := s.accountsReady.Wait(ctx, timeout); err != nil {
		return nil, fmt.Errorf("venue: await managed accounts: %w", err)
	}
	s.accountsMu.RLock()
	defer s.accountsMu.RUnlock()
	return append([]string(nil), s.accounts...), nil
}

// OnAccountSummary registers a handler for account summary rows.
func (s *Session) OnAccountSummary(handler AccountSummaryHandler) {
	s.register(func(h *handlers) { h.summary = append(h.summary, handler) })
}

// OnAccountSummaryEnd registers a handler for the account summary end marker.
func (s *Session) OnAccountSummaryEnd(handler EndHandler) {
	s.register(func(h *handlers) { h.summaryEnd = append(h.summaryEnd, handler) })
}

// OnOpenOrder registers a handler for open orders.
func (s *Session) OnOpenOrder(handler OpenOrderHandler) {
	s.register(func(h *handlers) { h.openOrder = append(h.openOrder, handler) })
}

// OnOrderStatus registers a handler for order status updates.
func (s *Session) OnOrderStatus(handler OrderStatusHandler) {
	s.register(func(h *handlers) { h.orderStatus = append(h.orderStatus, handler) })
}

// OnOpenOrderEnd registers a handler for the end of an open-orders snapshot.
func (s *Session) OnOpenOrderEnd(handler func()) {
	s.register(func(h *handlers) { h.openOrderEnd = append(h.openOrderEnd, handler) })
}

// OnAccountUpdate registers a handler for account update keys.
func (s *Session) OnAccountUpdate(handler AccountUpdateHandler) {
	s.register(func(h *handlers) { h.accountUpdate = append(h.accountUpdate, handler) })
}

// OnPortfolioUpdate registers a handler for portfolio positions.
func (s *Session) OnPortfolioUpdate(handler PortfolioHandler) {
	s.register(func(h *handlers) { h.portfolio = append(h.portfolio, handler) })
}

// OnAccountDownloadEnd registers a handler for the end of an account download.
func (s *Session) OnAccountDownloadEnd(handler AccountEndHandler) {
	s.register(func(h *handlers) { h.accountEnd = append(h.accountEnd, handler) })
}

// OnHistoricalBar registers a handler for historical bars.
func (s *Session) OnHistoricalBar(handler BarHandler) {
	s.register(func(h *handlers) { h.bar = append(h.bar, handler) })
}

// OnHistoricalBarsEnd registers a handler for the historical data end marker.
func (s *Session) OnHistoricalBarsEnd(handler EndHandler) {
	s.register(func(h *handlers) { h.barEnd = append(h.barEnd, handler) })
}

func (s *Session) register(add func(*handlers)) {
	s.handlerMu.Lock()
	defer s.handlerMu.Unlock()
	add(&s.handlers)
}

// registered returns a snapshot of the handler registry.
func (s *Session) registered() handlers {
	s.handlerMu.RLock()
	defer s.handlerMu.RUnlock()
	return s.handlers
}

// Close shuts down the connection and stops the loops.
func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}

	s.closed = true
	close(s.done)

	if s.conn == nil {
		return nil
	}

	conn := s.conn
	s.conn = nil
	_ = s.write(context.Background(), conn, websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	return conn.Close()
}

// --------------------------------------------------------------------------
// Internal methods
// --------------------------------------------------------------------------

// dial opens a connection, starts its loops and sends the handshake. The
// returned gate opens on the connection's first next_valid_id.
func (s *Session) dial(ctx context.Context) (*gate.Gate, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, fmt.Errorf("venue: session is closed")
	}

	dialer := websocket.Dialer{
		HandshakeTimeout: 15 * time.Second,
	}

	conn, _, err := dialer.DialContext(ctx, s.cfg.URL, nil)
	if err != nil {
		return nil, fmt.Errorf("venue: connect: %w", err)
	}

	s.conn = conn

	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	ready := gate.New()
	go s.readLoop(conn, ready)
	go s.pingLoop(conn)

	data, _ := json.Marshal(StartAPIRequest{Type: frameStartAPI, ClientID: s.cfg.ClientID})
	if err := s.write(ctx, conn, websocket.TextMessage, data); err != nil {
		s.conn = nil
		conn.Close()
		return nil, fmt.Errorf("venue: handshake: %w", err)
	}

	return ready, nil
}

// send marshals v and writes it on the current connection.
func (s *Session) send(ctx context.Context, v any) error {
	s.mu.RLock()
	conn := s.conn
	s.mu.RUnlock()

	if conn == nil {
		return domain.ErrNotConnected
	}

	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}
	return s.write(ctx, conn, websocket.TextMessage, data)
}

func (s *Session) write(ctx context.Context, conn *websocket.Conn, messageType int, data []byte) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	deadline := time.Now().Add(writeWait)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	conn.SetWriteDeadline(deadline)
	return conn.WriteMessage(messageType, data)
}

// dropConn forgets the current connection and closes it.
func (s *Session) dropConn() {
	s.mu.Lock()
	conn := s.conn
	s.conn = nil
	s.mu.Unlock()

	if conn != nil {
		conn.Close()
	}
}

func (s *Session) isClosed() bool {
	select {
	case <-s.done:
		return true
	default:
		return false
	}
}

// readLoop reads frames from conn and delivers them to the sink. It is the
// only goroutine that calls the sink while conn is current. On a read error
// it reports the loss and, if configured, reconnects.
func (s *Session) readLoop(conn *websocket.Conn, ready *gate.Gate) {
	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			conn.Close()
			if s.isClosed() {
				return
			}

			s.mu.Lock()
			current := s.conn == conn
			if current {
				s.conn = nil
			}
			s.mu.Unlock()
			if !current {
				return
			}

			s.logger.Warn("venue connection lost", slog.String("error", err.Error()))
			s.sink.OnConnectionClosed(err)

			if s.cfg.Reconnect {
				s.reconnect()
			}
			return
		}

		s.handleMessage(message, ready)
	}
}

// pingLoop sends periodic pings to keep conn alive.
func (s *Session) pingLoop(conn *websocket.Conn) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-s.done:
			return
		case <-ticker.C:
			s.mu.RLock()
			current := s.conn == conn
			s.mu.RUnlock()

			if !current {
				return
			}

			if err := s.write(context.Background(), conn, websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// handleMessage parses a raw frame and routes it by type.
func (s *Session) handleMessage(raw []byte, ready *gate.Gate) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		s.logger.Debug("venue: drop unparseable frame", slog.String("error", err.Error()))
		return
	}

	switch env.Type {
	case frameNextValidID:
		var m NextValidIDMessage
		if err := json.Unmarshal(raw, &m); err != nil {
			return
		}
		s.nextID.Store(m.OrderID)
		// The first id of a connection completes the handshake.
		if ready.Signal() {
			return
		}
		s.sink.OnNextValidID(m.OrderID)

	case frameExecDetails:
		var m ExecDetailsMessage
		if err := json.Unmarshal(raw, &m); err != nil {
			s.logger.Warn("venue: bad exec_details frame", slog.String("error", err.Error()))
			return
		}
		s.sink.OnExecution(m.ReqID, m.Contract.ToDomain(), m.Execution.ToDomain())

	case frameCommissionReport:
		var m CommissionReportMessage
		if err := json.Unmarshal(raw, &m); err != nil {
			s.logger.Warn("venue: bad commission_report frame", slog.String("error", err.Error()))
			return
		}
		s.sink.OnCommissionReport(m.CommissionReport.ToDomain())

	case frameExecDetailsEnd:
		var m ReqIDMessage
		if err := json.Unmarshal(raw, &m); err != nil {
			return
		}
		s.sink.OnExecutionBatchEnd(m.ReqID)

	case frameError:
		m := ErrorMessage{ReqID: domain.NoRequestID}
		if err := json.Unmarshal(raw, &m); err != nil {
			return
		}
		s.sink.OnError(m.ReqID, m.Code, m.Message)

	case frameAccountSummary:
		var m AccountSummaryMessage
		if err := json.Unmarshal(raw, &m); err != nil {
			return
		}
		row := m.ToDomain()
		for _, h := range s.registered().summary {
			h(row)
		}

	case frameAccountSummaryEnd:
		var m ReqIDMessage
		if err := json.Unmarshal(raw, &m); err != nil {
			return
		}
		for _, h := range s.registered().summaryEnd {
			h(m.ReqID)
		}

	case frameOpenOrder:
		var m OpenOrderMessage
		if err := json.Unmarshal(raw, &m); err != nil {
			s.logger.Warn("venue: bad open_order frame", slog.String("error", err.Error()))
			return
		}
		o := m.ToDomain()
		for _, h := range s.registered().openOrder {
			h(o)
		}

	case frameOrderStatus:
		var m OrderStatusMessage
		if err := json.Unmarshal(raw, &m); err != nil {
			s.logger.Warn("venue: bad order_status frame", slog.String("error", err.Error()))
			return
		}
		st := m.ToDomain()
		for _, h := range s.registered().orderStatus {
			h(st)
		}

	case frameOpenOrderEnd:
		for _, h := range s.registered().openOrderEnd {
			h()
		}

	case frameAccountValue:
		var m AccountValueMessage
		if err := json.Unmarshal(raw, &m); err != nil {
			return
		}
		v := m.ToDomain()
		for _, h := range s.registered().accountUpdate {
			h(v)
		}

	case framePortfolio:
		var m PortfolioMessage
		if err := json.Unmarshal(raw, &m); err != nil {
			s.logger.Warn("venue: bad update_portfolio frame", slog.String("error", err.Error()))
			return
		}
		p := m.ToDomain()
		for _, h := range s.registered().portfolio {
			h(p)
		}

	case frameAccountDownload:
		var m AccountMessage
		if err := json.Unmarshal(raw, &m); err != nil {
			return
		}
		for _, h := range s.registered().accountEnd {
			h(m.Account)
		}

	case frameManagedAccounts:
		var m ManagedAccountsMessage
		if err := json.Unmarshal(raw, &m); err != nil {
			return
		}
		s.accountsMu.Lock()
		s.accounts = m.List()
		s.accountsMu.Unlock()
		s.accountsReady.Signal()

	case frameHistoricalData:
		var m HistoricalDataMessage
		if err := json.Unmarshal(raw, &m); err != nil {
			s.logger.Warn("venue: bad historical_data frame", slog.String("error", err.Error()))
			return
		}
		bar := m.Bar.ToDomain()
		for _, h := range s.registered().bar {
			h(m.ReqID, bar)
		}

	case frameHistoricalDataEnd:
		var m ReqIDMessage
		if err := json.Unmarshal(raw, &m); err != nil {
			return
		}
		for _, h := range s.registered().barEnd {
			h(m.ReqID)
		}

	default:
		s.logger.Debug("venue: unhandled frame", slog.String("type", env.Type))
	}
}

// reconnect re-establishes the connection with exponential backoff. It
// blocks until successful or the session is closed.
func (s *Session) reconnect() {
	delay := reconnectDelay

	for {
		select {
		case <-s.done:
			return
		case <-time.After(delay):
		}

		ctx, cancel := context.WithTimeout(context.Background(), s.cfg.ConnectTimeout)
		err := s.Connect(ctx)
		cancel()

		if err == nil {
			return
		}
		s.logger.Warn("venue reconnect failed",
			slog.String("error", err.Error()),
			slog.Duration("retry_in", delay),
		)

		delay *= 2
		if delay > maxReconnectDelay {
			delay = maxReconnectDelay
		}
	}
}

// Compile-time interface check.
var _ domain.Requester = (*Session)(nil)
