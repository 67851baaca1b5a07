package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// CorrelatedRecord joins one Execution (with its Contract) and the
// CommissionReport that shares its ExecID. The halves are referenced, not
// copied, from the batch buffers.
type CorrelatedRecord struct {
	Contract   *Contract
	Execution  *Execution
	Commission *CommissionReport
}

// ExecID returns the correlation key of the record.
func (r CorrelatedRecord) ExecID() string {
	return r.Execution.ExecID
}

// AnomalyKind classifies a correlation anomaly.
type AnomalyKind string

const (
	// AnomalyOrphanCommission is a commission report whose execution never
	// arrived in the batch.
	AnomalyOrphanCommission AnomalyKind = "orphan_commission"
	// AnomalyDuplicateCommission is a second commission report for an
	// execution that was already matched.
	AnomalyDuplicateCommission AnomalyKind = "duplicate_commission"
	// AnomalyDuplicateExecution is a repeated execution id in one batch.
	AnomalyDuplicateExecution AnomalyKind = "duplicate_execution"
	// AnomalyUnmatchedExecution is an execution with no commission report.
	// Only produced under UnmatchedReport.
	AnomalyUnmatchedExecution AnomalyKind = "unmatched_execution"
)

// Anomaly is a non-fatal correlation problem reported next to the records.
type Anomaly struct {
	Kind       AnomalyKind
	ExecID     string
	Contract   *Contract
	Execution  *Execution
	Commission *CommissionReport
}

// UnmatchedPolicy decides what happens to an execution whose commission
// report never arrived in the batch.
type UnmatchedPolicy string

const (
	UnmatchedExclude UnmatchedPolicy = "exclude"
	UnmatchedReport  UnmatchedPolicy = "report"
)

// FillRecord is the flat projection of a CorrelatedRecord used by every sink
// (database rows, bus payloads, archive lines).
type FillRecord struct {
	ExecID          string           `json:"exec_id"`
	ConID           int64            `json:"con_id"`
	Symbol          string           `json:"symbol"`
	SecType         string           `json:"sec_type"`
	LastTradeDate   string           `json:"last_trade_date,omitempty"`
	Strike          decimal.Decimal  `json:"strike"`
	Right           string           `json:"right,omitempty"`
	Multiplier      string           `json:"multiplier,omitempty"`
	Exchange        string           `json:"exchange"`
	PrimaryExchange string           `json:"primary_exchange,omitempty"`
	Currency        string           `json:"currency"`
	OrderID         int64            `json:"order_id"`
	PermID          int64            `json:"perm_id"`
	ClientID        int64            `json:"client_id"`
	Account         string           `json:"account"`
	ExecExchange    string           `json:"exec_exchange"`
	Side            ExecSide         `json:"side"`
	Shares          decimal.Decimal  `json:"shares"`
	Price           decimal.Decimal  `json:"price"`
	CumQty          decimal.Decimal  `json:"cum_qty"`
	AvgPrice        decimal.Decimal  `json:"avg_price"`
	ExecutedAt      time.Time        `json:"executed_at"`
	OrderRef        string           `json:"order_ref,omitempty"`
	LastLiquidity   int              `json:"last_liquidity"`
	Commission      decimal.Decimal  `json:"commission"`
	CommissionCcy   string           `json:"commission_currency"`
	RealizedPNL     *decimal.Decimal `json:"realized_pnl,omitempty"`
	Yield           *decimal.Decimal `json:"yield,omitempty"`
	CycleID         string           `json:"cycle_id,omitempty"`
}

// Flatten projects the record onto a FillRecord.
func (r CorrelatedRecord) Flatten() FillRecord {
	c, e, cr := r.Contract, r.Execution, r.Commission
	return FillRecord{
		ExecID:          e.ExecID,
		ConID:           c.ConID,
		Symbol:          c.Symbol,
		SecType:         c.SecType,
		LastTradeDate:   c.LastTradeDateOrContractMonth,
		Strike:          c.Strike,
		Right:           c.Right,
		Multiplier:      c.Multiplier,
		Exchange:        c.Exchange,
		PrimaryExchange: c.PrimaryExchange,
		Currency:        c.Currency,
		OrderID:         e.OrderID,
		PermID:          e.PermID,
		ClientID:        e.ClientID,
		Account:         e.Account,
		ExecExchange:    e.Exchange,
		Side:            e.Side,
		Shares:          e.Shares,
		Price:           e.Price,
		CumQty:          e.CumQty,
		AvgPrice:        e.AvgPrice,
		ExecutedAt:      e.Time,
		OrderRef:        e.OrderRef,
		LastLiquidity:   e.LastLiquidity,
		Commission:      cr.Commission,
		CommissionCcy:   cr.Currency,
		RealizedPNL:     cr.RealizedPNL,
		Yield:           cr.Yield,
	}
}

// AnomalyRecord is the flat projection of an Anomaly.
type AnomalyRecord struct {
	CycleID    string           `json:"cycle_id"`
	Kind       AnomalyKind      `json:"kind"`
	ExecID     string           `json:"exec_id"`
	Symbol     string           `json:"symbol,omitempty"`
	Commission *decimal.Decimal `json:"commission,omitempty"`
	Currency   string           `json:"currency,omitempty"`
	DetectedAt time.Time        `json:"detected_at"`
}

// Flatten projects the anomaly onto an AnomalyRecord.
func (a Anomaly) Flatten(cycleID string, at time.Time) AnomalyRecord {
	out := AnomalyRecord{
		CycleID:    cycleID,
		Kind:       a.Kind,
		ExecID:     a.ExecID,
		DetectedAt: at,
	}
	if a.Contract != nil {
		out.Symbol = a.Contract.Symbol
	}
	if a.Commission != nil {
		c := a.Commission.Commission
		out.Commission = &c
		out.Currency = a.Commission.Currency
	}
	return out
}

// CycleReport summarises one finished correlation cycle.
type CycleReport struct {
	CycleID    string
	ClientID   int64
	RequestID  int64
	StartedAt  time.Time
	FinishedAt time.Time
	Records    []CorrelatedRecord
	Anomalies  []Anomaly
	// LateDeliveries counts callbacks that arrived after the batch was
	// sealed, typically commission reports sent after the end marker.
	LateDeliveries int64
	// ForeignDeliveries counts callbacks that answered another request.
	ForeignDeliveries int64
}

// Fills flattens the cycle's records, stamping each with the cycle id.
func (r CycleReport) Fills() []FillRecord {
	out := make([]FillRecord, 0, len(r.Records))
	for _, rec := range r.Records {
		f := rec.Flatten()
		f.CycleID = r.CycleID
		out = append(out, f)
	}
	return out
}

// AnomalyRecords flattens the cycle's anomalies, dated at the cycle's end.
func (r CycleReport) AnomalyRecords() []AnomalyRecord {
	out := make([]AnomalyRecord, 0, len(r.Anomalies))
	for _, a := range r.Anomalies {
		out = append(out, a.Flatten(r.CycleID, r.FinishedAt))
	}
	return out
}
