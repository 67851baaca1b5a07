package correlate

import (
	"context"
	"io"
	"log/slog"
	"sync"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/execsync/internal/domain"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func contract(symbol string) domain.Contract {
	return domain.Contract{
		Symbol:   symbol,
		SecType:  "STK",
		Exchange: "SMART",
		Currency: "USD",
	}
}

func execution(id string, side domain.ExecSide, qty, price string) domain.Execution {
	return domain.Execution{
		ExecID: id,
		Side:   side,
		Shares: dec(qty),
		Price:  dec(price),
	}
}

func commission(id, amount string) domain.CommissionReport {
	return domain.CommissionReport{
		ExecID:     id,
		Commission: dec(amount),
		Currency:   "USD",
	}
}

// event is one scripted venue delivery.
type event func(sink domain.CallbackSink)

func execEvent(reqID int64, symbol, id, qty, price string) event {
	return func(sink domain.CallbackSink) {
		sink.OnExecution(reqID, contract(symbol), execution(id, domain.ExecSideBought, qty, price))
	}
}

func commEvent(id, amount string) event {
	return func(sink domain.CallbackSink) {
		sink.OnCommissionReport(commission(id, amount))
	}
}

// collect runs events through a fresh Ingress bound to a state waiting on
// reqID, closes the batch, and returns the sealed state.
func collect(reqID int64, events ...event) *BatchState {
	in := NewIngress(nil, discardLogger())
	s := newBatchState()
	in.attach(s)
	s.execReqID.Store(reqID)
	for _, ev := range events {
		ev(in)
	}
	in.OnExecutionBatchEnd(reqID)
	return s
}

// fakeVenue implements domain.Requester. Each request is answered from its
// own goroutine, the way a session read loop would deliver callbacks.
type fakeVenue struct {
	sink domain.CallbackSink

	nextID       int64
	onExecutions func(sink domain.CallbackSink, reqID int64)
	silentID     bool
	nextIDErr    error
	executionErr error

	mu      sync.Mutex
	reqIDs  []int64
	filters []domain.ExecutionFilter
	wg      sync.WaitGroup
}

func (v *fakeVenue) RequestNextID(ctx context.Context) error {
	if v.nextIDErr != nil {
		return v.nextIDErr
	}
	if v.silentID {
		return nil
	}
	v.wg.Add(1)
	go func() {
		defer v.wg.Done()
		v.sink.OnNextValidID(v.nextID)
	}()
	return nil
}

func (v *fakeVenue) RequestExecutions(ctx context.Context, reqID int64, filter domain.ExecutionFilter) error {
	if v.executionErr != nil {
		return v.executionErr
	}
	v.mu.Lock()
	v.reqIDs = append(v.reqIDs, reqID)
	v.filters = append(v.filters, filter)
	v.mu.Unlock()

	if v.onExecutions == nil {
		return nil
	}
	v.wg.Add(1)
	go func() {
		defer v.wg.Done()
		v.onExecutions(v.sink, reqID)
	}()
	return nil
}

func newTestEngine(v *fakeVenue, policy domain.UnmatchedPolicy, onReqErr RequestErrorHandler) *Engine {
	in := NewIngress(onReqErr, discardLogger())
	v.sink = in
	return NewEngine(v, in, policy, discardLogger())
}
