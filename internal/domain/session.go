package domain

import "context"

// Requester is the request-sending half of a venue session. Requests are
// fire-and-forget; their results come back through a CallbackSink.
type Requester interface {
	RequestNextID(ctx context.Context) error
	RequestExecutions(ctx context.Context, reqID int64, filter ExecutionFilter) error
}

// CallbackSink is the callback-receiving half of a venue session. The session
// invokes it from a single delivery goroutine; implementations must not block.
type CallbackSink interface {
	OnNextValidID(id int64)
	OnExecution(reqID int64, contract Contract, execution Execution)
	OnCommissionReport(report CommissionReport)
	OnExecutionBatchEnd(reqID int64)
	OnError(reqID int64, code int, message string)
	OnConnectionClosed(err error)
}

// AccountValue is one row of an account summary.
type AccountValue struct {
	ReqID    int64
	Account  string
	Tag      string
	Value    string
	Currency string
}
