// Package correlate reconciles the execution and commission-report streams
// delivered by a venue session into correlated fill records.
//
// A correlation cycle owns one BatchState. The session's delivery goroutine
// fills its buffers through Ingress and opens its gates; the caller waits on
// those gates and runs the correlator once the venue has marked the batch
// complete. Buffers carry no lock: the delivery goroutine is the only writer,
// the caller only reads after the batch-complete gate has opened, and the
// state is sealed at batch end so nothing is appended afterwards.
package correlate

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/alanyoungcy/execsync/internal/domain"
	"github.com/alanyoungcy/execsync/internal/gate"
)

// Phase is the position of a cycle in its state machine.
type Phase int

const (
	PhaseIdle Phase = iota
	PhaseAwaitingIdentifier
	PhaseIdentifierReady
	PhaseAwaitingExecutions
	PhaseBatchComplete
	PhaseCorrelating
	PhaseDone
	PhaseFailed
)

var phaseNames = [...]string{
	PhaseIdle:               "idle",
	PhaseAwaitingIdentifier: "awaiting_identifier",
	PhaseIdentifierReady:    "identifier_ready",
	PhaseAwaitingExecutions: "awaiting_executions",
	PhaseBatchComplete:      "batch_complete",
	PhaseCorrelating:        "correlating",
	PhaseDone:               "done",
	PhaseFailed:             "failed",
}

func (p Phase) String() string {
	if p < 0 || int(p) >= len(phaseNames) {
		return "unknown"
	}
	return phaseNames[p]
}

// Terminal reports whether no further transition is possible.
func (p Phase) Terminal() bool {
	return p == PhaseDone || p == PhaseFailed
}

// ExecutionEntry is one element of the execution buffer.
type ExecutionEntry struct {
	Contract  *domain.Contract
	Execution *domain.Execution
}

// BatchState is the mutable state of exactly one correlation cycle.
type BatchState struct {
	// Written only by the delivery goroutine.
	executions  []ExecutionEntry
	commissions []*domain.CommissionReport
	identifier  int64
	failErr     error
	sealed      bool
	// Exec ids of executions answering some other request.
	foreignExecs map[string]struct{}

	idReady   *gate.Gate
	batchDone *gate.Gate
	failed    *gate.Gate

	// Set by the caller before the matching request goes out.
	idRequested atomic.Bool
	execReqID   atomic.Int64

	late    atomic.Int64
	foreign atomic.Int64
}

func newBatchState() *BatchState {
	s := &BatchState{
		idReady:   gate.New(),
		batchDone: gate.New(),
		failed:    gate.New(),

		foreignExecs: make(map[string]struct{}),
	}
	s.execReqID.Store(domain.NoRequestID)
	return s
}

// batchCommissions returns the commission buffer without reports for
// executions that answered another request, and how many were dropped. A
// report whose exec id also belongs to the batch is kept. Caller only, after
// the batch-complete gate.
func (s *BatchState) batchCommissions() ([]*domain.CommissionReport, int) {
	if len(s.foreignExecs) == 0 {
		return s.commissions, 0
	}
	inBatch := make(map[string]struct{}, len(s.executions))
	for _, e := range s.executions {
		inBatch[e.Execution.ExecID] = struct{}{}
	}
	out := make([]*domain.CommissionReport, 0, len(s.commissions))
	dropped := 0
	for _, c := range s.commissions {
		_, foreign := s.foreignExecs[c.ExecID]
		_, own := inBatch[c.ExecID]
		if foreign && !own {
			dropped++
			continue
		}
		out = append(out, c)
	}
	return out, dropped
}

// fail records err and opens the failure gate. Delivery goroutine only.
func (s *BatchState) fail(err error) {
	if s.failed.Signaled() {
		return
	}
	s.failErr = err
	s.failed.Signal()
}

// await blocks until g opens, the cycle fails, timeout elapses or ctx ends.
// A gate that opened wins over a failure that raced with it.
func (s *BatchState) await(ctx context.Context, g *gate.Gate, timeout time.Duration) error {
	var expired <-chan time.Time
	if timeout > 0 {
		t := time.NewTimer(timeout)
		defer t.Stop()
		expired = t.C
	}

	select {
	case <-g.Done():
		return nil
	case <-s.failed.Done():
		if g.Signaled() {
			return nil
		}
		return s.failErr
	case <-expired:
		return domain.ErrTimeout
	case <-ctx.Done():
		return ctx.Err()
	}
}
