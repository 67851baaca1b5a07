package service

import (
	"context"
	"io"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/execsync/internal/correlate"
	"github.com/alanyoungcy/execsync/internal/domain"
)

const testWait = 2 * time.Second

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// scriptedVenue answers requests from goroutines the way a session read
// loop would, delivering into the ingress it is bound to.
type scriptedVenue struct {
	sink     domain.CallbackSink
	nextID   int64
	silentID bool
	// batch is delivered for each executions request; nil means no answer.
	batch func(sink domain.CallbackSink, reqID int64)
	// inline delivers batch before RequestExecutions returns, so everything
	// it sends, including deliveries after the end marker, lands before the
	// caller correlates.
	inline bool

	mu       sync.Mutex
	requests int
}

func (v *scriptedVenue) RequestNextID(context.Context) error {
	v.mu.Lock()
	v.requests++
	id := v.nextID
	v.nextID++
	v.mu.Unlock()
	if v.silentID {
		return nil
	}
	go v.sink.OnNextValidID(id)
	return nil
}

func (v *scriptedVenue) RequestExecutions(_ context.Context, reqID int64, _ domain.ExecutionFilter) error {
	v.mu.Lock()
	v.requests++
	v.mu.Unlock()
	switch {
	case v.batch == nil:
	case v.inline:
		v.batch(v.sink, reqID)
	default:
		go v.batch(v.sink, reqID)
	}
	return nil
}

func (v *scriptedVenue) requestCount() int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.requests
}

func newEngine(v *scriptedVenue) *correlate.Engine {
	in := correlate.NewIngress(nil, discardLogger())
	v.sink = in
	return correlate.NewEngine(v, in, domain.UnmatchedExclude, discardLogger())
}

// standardBatch delivers two matched fills and one orphan commission.
func standardBatch(sink domain.CallbackSink, reqID int64) {
	aapl := domain.Contract{Symbol: "AAPL", SecType: "STK", Exchange: "SMART", Currency: "USD"}
	tsla := domain.Contract{Symbol: "TSLA", SecType: "STK", Exchange: "SMART", Currency: "USD"}

	sink.OnExecution(reqID, aapl, domain.Execution{ExecID: "E1", Account: "DU1", Side: domain.ExecSideBought,
		Shares: decimal.NewFromInt(10), Price: decimal.RequireFromString("50")})
	sink.OnCommissionReport(domain.CommissionReport{ExecID: "E2", Commission: decimal.RequireFromString("1"), Currency: "USD"})
	sink.OnExecution(reqID, tsla, domain.Execution{ExecID: "E2", Account: "DU1", Side: domain.ExecSideSold,
		Shares: decimal.NewFromInt(20), Price: decimal.RequireFromString("175.255")})
	sink.OnCommissionReport(domain.CommissionReport{ExecID: "E1", Commission: decimal.RequireFromString("1.2"), Currency: "USD"})
	sink.OnCommissionReport(domain.CommissionReport{ExecID: "E9", Commission: decimal.RequireFromString("0.5"), Currency: "USD"})
	sink.OnExecutionBatchEnd(reqID)
}

type memFillStore struct {
	mu    sync.Mutex
	fills map[string]domain.FillRecord
	order []string
	err   error
}

func newMemFillStore() *memFillStore {
	return &memFillStore{fills: map[string]domain.FillRecord{}}
}

func (m *memFillStore) InsertBatch(_ context.Context, fills []domain.FillRecord) error {
	if m.err != nil {
		return m.err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, f := range fills {
		if _, ok := m.fills[f.ExecID]; ok {
			continue
		}
		m.fills[f.ExecID] = f
		m.order = append(m.order, f.ExecID)
	}
	return nil
}

func (m *memFillStore) GetByExecID(_ context.Context, execID string) (domain.FillRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	f, ok := m.fills[execID]
	if !ok {
		return domain.FillRecord{}, domain.ErrNotFound
	}
	return f, nil
}

func (m *memFillStore) list(match func(domain.FillRecord) bool, opts domain.ListOpts) []domain.FillRecord {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.FillRecord
	for _, id := range m.order {
		f := m.fills[id]
		if !match(f) {
			continue
		}
		if opts.Since != nil && f.ExecutedAt.Before(*opts.Since) {
			continue
		}
		out = append(out, f)
		if opts.Limit > 0 && len(out) == opts.Limit {
			break
		}
	}
	return out
}

func (m *memFillStore) ListByAccount(_ context.Context, account string, opts domain.ListOpts) ([]domain.FillRecord, error) {
	return m.list(func(f domain.FillRecord) bool { return f.Account == account }, opts), nil
}

func (m *memFillStore) ListBySymbol(_ context.Context, symbol string, opts domain.ListOpts) ([]domain.FillRecord, error) {
	return m.list(func(f domain.FillRecord) bool { return f.Symbol == symbol }, opts), nil
}

type memAnomalyStore struct {
	mu        sync.Mutex
	anomalies []domain.AnomalyRecord
}

func (m *memAnomalyStore) InsertBatch(_ context.Context, anomalies []domain.AnomalyRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.anomalies = append(m.anomalies, anomalies...)
	return nil
}

func (m *memAnomalyStore) ListByCycle(_ context.Context, cycleID string) ([]domain.AnomalyRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.AnomalyRecord
	for _, a := range m.anomalies {
		if a.CycleID == cycleID {
			out = append(out, a)
		}
	}
	return out, nil
}

type memAudit struct {
	mu      sync.Mutex
	entries []domain.AuditEntry
}

func (m *memAudit) Log(_ context.Context, event string, detail map[string]any) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = append(m.entries, domain.AuditEntry{ID: int64(len(m.entries) + 1), Event: event, Detail: detail, CreatedAt: time.Now()})
	return nil
}

func (m *memAudit) List(context.Context, domain.ListOpts) ([]domain.AuditEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]domain.AuditEntry(nil), m.entries...), nil
}

func (m *memAudit) ListByEvent(_ context.Context, event string, _ domain.ListOpts) ([]domain.AuditEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.AuditEntry
	for _, e := range m.entries {
		if e.Event == event {
			out = append(out, e)
		}
	}
	return out, nil
}

func (m *memAudit) events() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []string
	for _, e := range m.entries {
		out = append(out, e.Event)
	}
	return out
}

type memBus struct {
	mu          sync.Mutex
	published   map[string][][]byte
	streams     map[string][][]byte
	subscribers map[string][]chan []byte
}

func newMemBus() *memBus {
	return &memBus{
		published:   map[string][][]byte{},
		streams:     map[string][][]byte{},
		subscribers: map[string][]chan []byte{},
	}
}

func (b *memBus) Publish(_ context.Context, channel string, payload []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.published[channel] = append(b.published[channel], payload)
	for _, ch := range b.subscribers[channel] {
		ch <- payload
	}
	return nil
}

func (b *memBus) Subscribe(_ context.Context, channel string) (<-chan []byte, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	ch := make(chan []byte, 64)
	b.subscribers[channel] = append(b.subscribers[channel], ch)
	return ch, nil
}

func (b *memBus) StreamAppend(_ context.Context, stream string, payload []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.streams[stream] = append(b.streams[stream], payload)
	return nil
}

// StreamRead numbers entries from "1" and returns those after lastID.
func (b *memBus) StreamRead(_ context.Context, stream string, lastID string, count int) ([]domain.StreamMessage, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	after, err := strconv.Atoi(lastID)
	if err != nil {
		return nil, err
	}
	var out []domain.StreamMessage
	entries := b.streams[stream]
	for i := after; i < len(entries) && len(out) < count; i++ {
		out = append(out, domain.StreamMessage{ID: strconv.Itoa(i + 1), Payload: entries[i]})
	}
	return out, nil
}

type memPublisher struct {
	mu    sync.Mutex
	calls [][]domain.FillRecord
	err   error
}

func (p *memPublisher) PublishFills(_ context.Context, fills []domain.FillRecord) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.calls = append(p.calls, fills)
	return nil
}

type memArchiver struct {
	reports []domain.CycleReport
}

func (a *memArchiver) ArchiveCycle(_ context.Context, r domain.CycleReport) (string, error) {
	a.reports = append(a.reports, r)
	return "cycles/" + r.CycleID + ".jsonl", nil
}

type memLocks struct {
	held     map[string]bool
	released []string
}

func (l *memLocks) Acquire(_ context.Context, key string, _ time.Duration) (func(), error) {
	if l.held[key] {
		return nil, domain.ErrLockHeld
	}
	if l.held == nil {
		l.held = map[string]bool{}
	}
	l.held[key] = true
	return func() {
		delete(l.held, key)
		l.released = append(l.released, key)
	}, nil
}

type sentNote struct {
	event, title, message string
}

type recordingNotifier struct {
	mu    sync.Mutex
	notes []sentNote
}

func (n *recordingNotifier) Notify(_ context.Context, event, title, message string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.notes = append(n.notes, sentNote{event, title, message})
	return nil
}

func (n *recordingNotifier) events() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	var out []string
	for _, note := range n.notes {
		out = append(out, note.event)
	}
	return out
}
