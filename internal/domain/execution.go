package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// NoRequestID is the request id the venue attaches to callbacks that are not
// tied to any request (connectivity notices, farm status messages).
const NoRequestID int64 = -1

// ExecSide is the side reported on a fill.
type ExecSide string

const (
	ExecSideBought ExecSide = "BOT"
	ExecSideSold   ExecSide = "SLD"
)

// Contract identifies a tradable instrument. It has no lifecycle of its own;
// it is owned by the Execution that references it.
type Contract struct {
	ConID                        int64
	Symbol                       string
	SecType                      string // "STK", "OPT", "FUT", ...
	LastTradeDateOrContractMonth string
	Strike                       decimal.Decimal
	Right                        string // "C" or "P" for options
	Multiplier                   string
	Exchange                     string
	PrimaryExchange              string
	Currency                     string
}

// Execution is one fill reported by the venue.
type Execution struct {
	ExecID        string // correlation key, unique per fill
	OrderID       int64
	PermID        int64
	ClientID      int64
	Account       string
	Exchange      string
	Side          ExecSide
	Shares        decimal.Decimal
	Price         decimal.Decimal
	CumQty        decimal.Decimal
	AvgPrice      decimal.Decimal
	Time          time.Time
	OrderRef      string
	LastLiquidity int
}

// CommissionReport carries fee and realized P&L data for one execution. It is
// delivered independently of the Execution it belongs to.
type CommissionReport struct {
	ExecID              string
	Commission          decimal.Decimal
	Currency            string
	RealizedPNL         *decimal.Decimal // nil when the venue did not report one
	Yield               *decimal.Decimal
	YieldRedemptionDate int
}

// ExecutionFilter narrows an executions request. Zero values match everything.
type ExecutionFilter struct {
	ClientID int64
	AcctCode string
	Time     string // "yyyymmdd hh:mm:ss", executions at or after this time
	Symbol   string
	SecType  string
	Exchange string
	Side     string
}
