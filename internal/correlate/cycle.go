package correlate

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/alanyoungcy/execsync/internal/domain"
)

// ErrAborted is the failure recorded when the caller abandons a cycle.
var ErrAborted = errors.New("correlate: cycle aborted")

// Engine starts correlation cycles against one venue session.
type Engine struct {
	requester domain.Requester
	ingress   *Ingress
	policy    domain.UnmatchedPolicy
	logger    *slog.Logger
}

// NewEngine creates an Engine that sends requests through requester and
// collects their results through ingress. An empty policy means
// domain.UnmatchedExclude.
func NewEngine(requester domain.Requester, ingress *Ingress, policy domain.UnmatchedPolicy, logger *slog.Logger) *Engine {
	if policy == "" {
		policy = domain.UnmatchedExclude
	}
	return &Engine{
		requester: requester,
		ingress:   ingress,
		policy:    policy,
		logger:    logger.With(slog.String("component", "correlate")),
	}
}

// Begin starts a cycle with a fresh BatchState. Only one cycle may be active
// per Engine; Begin returns domain.ErrCycleActive otherwise.
func (e *Engine) Begin() (*Cycle, error) {
	s := newBatchState()
	if !e.ingress.attach(s) {
		return nil, domain.ErrCycleActive
	}
	c := &Cycle{
		id:        uuid.New().String(),
		engine:    e,
		state:     s,
		phase:     PhaseIdle,
		startedAt: time.Now().UTC(),
	}
	c.logger = e.logger.With(slog.String("cycle_id", c.id))
	return c, nil
}

// Cycle is one request/wait/correlate round. Its methods must be called from
// a single caller goroutine, in state-machine order:
//
//	AwaitIdentifier -> AwaitExecutionsBatch -> Correlate
//
// Any failure (timeout, request error, lost connection, cancelled context)
// moves the cycle to PhaseFailed and discards its buffers.
type Cycle struct {
	id         string
	engine     *Engine
	state      *BatchState
	phase      Phase
	err        error
	identifier int64
	late       int64
	foreign    int64
	startedAt  time.Time
	logger     *slog.Logger
}

// ID returns the cycle's unique id.
func (c *Cycle) ID() string { return c.id }

// Phase returns the current phase.
func (c *Cycle) Phase() Phase { return c.phase }

// Err returns the failure that ended the cycle, if any.
func (c *Cycle) Err() error { return c.err }

// StartedAt returns when Begin created the cycle.
func (c *Cycle) StartedAt() time.Time { return c.startedAt }

// RequestID returns the identifier used as the executions request id.
func (c *Cycle) RequestID() int64 { return c.identifier }

// LateDeliveries returns how many callbacks arrived after the batch was
// sealed or failed. Meaningful once the cycle is terminal.
func (c *Cycle) LateDeliveries() int64 {
	if c.state != nil {
		return c.state.late.Load()
	}
	return c.late
}

// ForeignDeliveries returns how many executions and commission reports were
// dropped because they answered another request.
func (c *Cycle) ForeignDeliveries() int64 {
	if c.state != nil {
		return c.state.foreign.Load()
	}
	return c.foreign
}

// AwaitIdentifier requests a fresh identifier from the venue and blocks until
// it arrives. A positive timeout bounds the wait.
func (c *Cycle) AwaitIdentifier(ctx context.Context, timeout time.Duration) (int64, error) {
	if err := c.transition(PhaseIdle, PhaseAwaitingIdentifier); err != nil {
		return 0, err
	}

	c.state.idRequested.Store(true)
	if err := c.engine.requester.RequestNextID(ctx); err != nil {
		return 0, c.fail(fmt.Errorf("correlate: request next id: %w", err))
	}

	if err := c.state.await(ctx, c.state.idReady, timeout); err != nil {
		return 0, c.fail(fmt.Errorf("correlate: await identifier: %w", err))
	}

	c.identifier = c.state.identifier
	c.phase = PhaseIdentifierReady
	c.logger.Debug("identifier ready", slog.Int64("identifier", c.identifier))
	return c.identifier, nil
}

// AwaitExecutionsBatch requests the executions matching filter, using the
// cycle's identifier as request id, and blocks until the venue marks the
// batch complete. A request-scoped venue error for this request fails the
// cycle with a *domain.RequestError.
func (c *Cycle) AwaitExecutionsBatch(ctx context.Context, filter domain.ExecutionFilter, timeout time.Duration) error {
	if err := c.transition(PhaseIdentifierReady, PhaseAwaitingExecutions); err != nil {
		return err
	}

	c.state.execReqID.Store(c.identifier)
	if err := c.engine.requester.RequestExecutions(ctx, c.identifier, filter); err != nil {
		return c.fail(fmt.Errorf("correlate: request executions: %w", err))
	}

	if err := c.state.await(ctx, c.state.batchDone, timeout); err != nil {
		return c.fail(fmt.Errorf("correlate: await executions batch: %w", err))
	}

	c.phase = PhaseBatchComplete
	c.logger.Debug("executions batch complete",
		slog.Int("executions", len(c.state.executions)),
		slog.Int("commissions", len(c.state.commissions)),
	)
	return nil
}

// Correlate joins the completed batch. It is only valid right after a
// successful AwaitExecutionsBatch; in any other phase, including after a
// timeout, it returns domain.ErrInvalidPhase.
func (c *Cycle) Correlate() (Result, error) {
	if err := c.transition(PhaseBatchComplete, PhaseCorrelating); err != nil {
		return Result{}, err
	}

	commissions, dropped := c.state.batchCommissions()
	c.state.foreign.Add(int64(dropped))
	res := Correlate(c.state.executions, commissions, c.engine.policy)
	c.release()
	c.phase = PhaseDone

	c.logger.Info("cycle correlated",
		slog.Int("records", len(res.Records)),
		slog.Int("anomalies", len(res.Anomalies)),
		slog.Int64("late", c.late),
		slog.Int64("foreign", c.foreign),
	)
	return res, nil
}

// Abort abandons a cycle that has not reached a terminal phase. It is safe to
// call on a finished cycle.
func (c *Cycle) Abort() {
	if c.phase.Terminal() {
		return
	}
	c.fail(ErrAborted)
}

func (c *Cycle) transition(from, to Phase) error {
	if c.phase != from {
		return fmt.Errorf("correlate: %s -> %s from %s: %w", from, to, c.phase, domain.ErrInvalidPhase)
	}
	c.phase = to
	return nil
}

// fail ends the cycle with err and returns it.
func (c *Cycle) fail(err error) error {
	c.err = err
	c.phase = PhaseFailed
	c.release()
	c.logger.Warn("cycle failed", slog.String("error", err.Error()))
	return err
}

// release detaches the state from ingress and drops the buffers.
func (c *Cycle) release() {
	if c.state == nil {
		return
	}
	c.engine.ingress.detach(c.state)
	c.late = c.state.late.Load()
	c.foreign = c.state.foreign.Load()
	c.state = nil
}
