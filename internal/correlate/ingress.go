package correlate

import (
	"fmt"
	"log/slog"
	"sync/atomic"

	"github.com/alanyoungcy/execsync/internal/domain"
)

// RequestErrorHandler receives request-scoped errors that do not belong to the
// active correlation cycle (for example a rejected order).
type RequestErrorHandler func(*domain.RequestError)

// Ingress is the callback surface the venue session drives. It only collects:
// executions and commission reports are appended to the active BatchState and
// gates are opened; matching happens later in Correlate.
//
// All On* methods must be called from one delivery goroutine at a time.
type Ingress struct {
	active         atomic.Pointer[BatchState]
	pendingID      atomic.Pointer[idRequest]
	onRequestError RequestErrorHandler
	logger         *slog.Logger
}

// NewIngress creates an Ingress. onRequestError may be nil.
func NewIngress(onRequestError RequestErrorHandler, logger *slog.Logger) *Ingress {
	return &Ingress{
		onRequestError: onRequestError,
		logger:         logger.With(slog.String("component", "ingress")),
	}
}

// attach installs s as the active state. It fails when another state is still
// attached.
func (in *Ingress) attach(s *BatchState) bool {
	return in.active.CompareAndSwap(nil, s)
}

// detach removes s if it is still the active state.
func (in *Ingress) detach(s *BatchState) {
	in.active.CompareAndSwap(s, nil)
}

// OnNextValidID implements domain.CallbackSink. A cycle waiting for its
// identifier is served before an IDSource request.
func (in *Ingress) OnNextValidID(id int64) {
	if s := in.active.Load(); s != nil && s.idRequested.Load() && !s.idReady.Signaled() {
		s.identifier = id
		s.idReady.Signal()
		return
	}
	if r := in.pendingID.Load(); r != nil && !r.ready.Signaled() && !r.failed.Signaled() {
		r.id = id
		r.ready.Signal()
		return
	}
	in.logger.Debug("next valid id outside identifier wait", slog.Int64("id", id))
}

// OnExecution implements domain.CallbackSink. Only executions answering the
// active cycle's executions request join the batch; live fills and results of
// earlier requests are counted as foreign and dropped.
func (in *Ingress) OnExecution(reqID int64, contract domain.Contract, execution domain.Execution) {
	s := in.collecting()
	if s == nil {
		in.logger.Debug("execution outside batch",
			slog.Int64("req_id", reqID),
			slog.String("exec_id", execution.ExecID),
		)
		return
	}
	if want := s.execReqID.Load(); want == domain.NoRequestID || reqID != want {
		s.foreign.Add(1)
		s.foreignExecs[execution.ExecID] = struct{}{}
		in.logger.Debug("execution for another request",
			slog.Int64("req_id", reqID),
			slog.Int64("want_req_id", want),
			slog.String("exec_id", execution.ExecID),
		)
		return
	}
	s.executions = append(s.executions, ExecutionEntry{
		Contract:  &contract,
		Execution: &execution,
	})
}

// OnCommissionReport implements domain.CallbackSink. Reports carry no request
// id, so before the executions request goes out they cannot belong to the
// batch and are counted as foreign.
func (in *Ingress) OnCommissionReport(report domain.CommissionReport) {
	s := in.collecting()
	if s == nil {
		in.logger.Debug("commission report outside batch",
			slog.String("exec_id", report.ExecID),
		)
		return
	}
	if s.execReqID.Load() == domain.NoRequestID {
		s.foreign.Add(1)
		in.logger.Debug("commission report before executions request",
			slog.String("exec_id", report.ExecID),
		)
		return
	}
	s.commissions = append(s.commissions, &report)
}

// OnExecutionBatchEnd implements domain.CallbackSink. The state is sealed
// before the batch-complete gate opens.
func (in *Ingress) OnExecutionBatchEnd(reqID int64) {
	s := in.active.Load()
	if s == nil || s.sealed {
		in.logger.Debug("execution batch end outside batch", slog.Int64("req_id", reqID))
		return
	}
	if want := s.execReqID.Load(); want == domain.NoRequestID || reqID != want {
		in.logger.Warn("execution batch end for another request",
			slog.Int64("req_id", reqID),
			slog.Int64("want_req_id", want),
		)
		return
	}
	s.sealed = true
	s.batchDone.Signal()
}

// OnError implements domain.CallbackSink. Errors without a request id are
// informational. Errors for the active cycle's executions request fail that
// cycle; anything else is handed to the request error handler.
func (in *Ingress) OnError(reqID int64, code int, message string) {
	if reqID == domain.NoRequestID {
		in.logger.Info("venue notice",
			slog.Int("code", code),
			slog.String("message", message),
		)
		return
	}

	reqErr := &domain.RequestError{ReqID: reqID, Code: code, Message: message}
	if s := in.active.Load(); s != nil && !s.sealed && s.execReqID.Load() == reqID {
		in.logger.Warn("executions request failed",
			slog.Int64("req_id", reqID),
			slog.Int("code", code),
			slog.String("message", message),
		)
		s.fail(reqErr)
		return
	}

	in.logger.Warn("request error",
		slog.Int64("req_id", reqID),
		slog.Int("code", code),
		slog.String("message", message),
	)
	if in.onRequestError != nil {
		in.onRequestError(reqErr)
	}
}

// OnConnectionClosed implements domain.CallbackSink.
func (in *Ingress) OnConnectionClosed(err error) {
	lost := fmt.Errorf("%w: %v", domain.ErrConnectionLost, err)
	if r := in.pendingID.Load(); r != nil && !r.ready.Signaled() && !r.failed.Signaled() {
		r.err = lost
		r.failed.Signal()
	}
	s := in.active.Load()
	if s == nil {
		return
	}
	in.logger.Warn("connection closed during cycle", slog.Any("error", err))
	s.fail(lost)
}

// collecting returns the active state when it still accepts data.
func (in *Ingress) collecting() *BatchState {
	s := in.active.Load()
	if s == nil {
		return nil
	}
	if s.sealed || s.failed.Signaled() {
		s.late.Add(1)
		return nil
	}
	return s
}

// Compile-time interface check.
var _ domain.CallbackSink = (*Ingress)(nil)
