package venue

import (
	"math"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/execsync/internal/domain"
)

// --------------------------------------------------------------------------
// Frame types
// --------------------------------------------------------------------------

// Outbound request frames.
const (
	frameStartAPI             = "start_api"
	frameReqIDs               = "req_ids"
	frameReqExecutions        = "req_executions"
	framePlaceOrder           = "place_order"
	frameReqAccountSummary    = "req_account_summary"
	frameCancelAccountSummary = "cancel_account_summary"
	frameReqGlobalCancel      = "req_global_cancel"
	frameReqAllOpenOrders     = "req_all_open_orders"
	frameReqAccountUpdates    = "req_account_updates"
	frameReqHistoricalData    = "req_historical_data"
	frameCancelHistoricalData = "cancel_historical_data"
)

// Inbound callback frames.
const (
	frameNextValidID       = "next_valid_id"
	frameExecDetails       = "exec_details"
	frameExecDetailsEnd    = "exec_details_end"
	frameCommissionReport  = "commission_report"
	frameError             = "error"
	frameAccountSummary    = "account_summary"
	frameAccountSummaryEnd = "account_summary_end"
	frameOpenOrder         = "open_order"
	frameOrderStatus       = "order_status"
	frameOpenOrderEnd      = "open_order_end"
	frameAccountValue      = "update_account_value"
	framePortfolio         = "update_portfolio"
	frameAccountDownload   = "account_download_end"
	frameManagedAccounts   = "managed_accounts"
	frameHistoricalData    = "historical_data"
	frameHistoricalDataEnd = "historical_data_end"
)

// execTimeLayout is the venue's execution and filter time format.
const execTimeLayout = "20060102 15:04:05"

// unsetDouble is the value the venue uses for "no value" in optional numeric
// fields such as realized P&L.
var unsetDouble = decimal.NewFromFloat(math.MaxFloat64)

// --------------------------------------------------------------------------
// Venue wire DTOs
// --------------------------------------------------------------------------

// Envelope is the outer shape shared by every inbound frame.
type Envelope struct {
	Type string `json:"type"`
}

// StartAPIRequest opens the API session for a client id.
type StartAPIRequest struct {
	Type     string `json:"type"`
	ClientID int64  `json:"client_id"`
}

// IDsRequest asks for the next valid order identifier.
type IDsRequest struct {
	Type   string `json:"type"`
	NumIDs int    `json:"num_ids"`
}

// ExecutionsRequest asks for the executions matching Filter.
type ExecutionsRequest struct {
	Type   string     `json:"type"`
	ReqID  int64      `json:"req_id"`
	Filter WireFilter `json:"filter"`
}

// WireFilter is the execution filter as the venue expects it. Empty fields
// match everything.
type WireFilter struct {
	ClientID int64  `json:"client_id,omitempty"`
	AcctCode string `json:"acct_code,omitempty"`
	Time     string `json:"time,omitempty"`
	Symbol   string `json:"symbol,omitempty"`
	SecType  string `json:"sec_type,omitempty"`
	Exchange string `json:"exchange,omitempty"`
	Side     string `json:"side,omitempty"`
}

// PlaceOrderRequest submits an order ticket.
type PlaceOrderRequest struct {
	Type     string       `json:"type"`
	OrderID  int64        `json:"order_id"`
	Contract WireContract `json:"contract"`
	Order    WireOrder    `json:"order"`
}

// WireOrder is the venue's order ticket.
type WireOrder struct {
	Action        string            `json:"action"`
	TotalQuantity decimal.Decimal   `json:"total_quantity"`
	OrderType     string            `json:"order_type"`
	LmtPrice      *decimal.Decimal  `json:"lmt_price,omitempty"`
	Account       string            `json:"account,omitempty"`
	AlgoStrategy  string            `json:"algo_strategy,omitempty"`
	AlgoParams    []domain.TagValue `json:"algo_params,omitempty"`
}

// AccountSummaryRequest subscribes to account summary rows.
type AccountSummaryRequest struct {
	Type  string `json:"type"`
	ReqID int64  `json:"req_id"`
	Group string `json:"group"`
	Tags  string `json:"tags"`
}

// AccountUpdatesRequest starts or stops the account update stream for one
// account.
type AccountUpdatesRequest struct {
	Type      string `json:"type"`
	Subscribe bool   `json:"subscribe"`
	Account   string `json:"account"`
}

// HistoricalDataRequest asks for bars of one contract.
type HistoricalDataRequest struct {
	Type        string       `json:"type"`
	ReqID       int64        `json:"req_id"`
	Contract    WireContract `json:"contract"`
	EndDateTime string       `json:"end_date_time"`
	Duration    string       `json:"duration"`
	BarSize     string       `json:"bar_size"`
	WhatToShow  string       `json:"what_to_show"`
	UseRTH      bool         `json:"use_rth"`
}

// ReqIDRequest is any request carrying only a request id.
type ReqIDRequest struct {
	Type  string `json:"type"`
	ReqID int64  `json:"req_id,omitempty"`
}

// WireContract is a contract as sent and received on the wire.
type WireContract struct {
	ConID                        int64           `json:"con_id,omitempty"`
	Symbol                       string          `json:"symbol"`
	SecType                      string          `json:"sec_type"`
	LastTradeDateOrContractMonth string          `json:"last_trade_date_or_contract_month,omitempty"`
	Strike                       decimal.Decimal `json:"strike"`
	Right                        string          `json:"right,omitempty"`
	Multiplier                   string          `json:"multiplier,omitempty"`
	Exchange                     string          `json:"exchange"`
	PrimaryExchange              string          `json:"primary_exchange,omitempty"`
	Currency                     string          `json:"currency"`
}

// WireExecution is one fill as the venue reports it.
type WireExecution struct {
	ExecID        string          `json:"exec_id"`
	OrderID       int64           `json:"order_id"`
	PermID        int64           `json:"perm_id"`
	ClientID      int64           `json:"client_id"`
	Account       string          `json:"acct_number"`
	Exchange      string          `json:"exchange"`
	Side          string          `json:"side"`
	Shares        decimal.Decimal `json:"shares"`
	Price         decimal.Decimal `json:"price"`
	CumQty        decimal.Decimal `json:"cum_qty"`
	AvgPrice      decimal.Decimal `json:"avg_price"`
	Time          string          `json:"time"`
	OrderRef      string          `json:"order_ref"`
	LastLiquidity int             `json:"last_liquidity"`
}

// WireCommission is one commission report as the venue reports it.
type WireCommission struct {
	ExecID              string           `json:"exec_id"`
	Commission          decimal.Decimal  `json:"commission"`
	Currency            string           `json:"currency"`
	RealizedPNL         *decimal.Decimal `json:"realized_pnl"`
	Yield               *decimal.Decimal `json:"yield"`
	YieldRedemptionDate int              `json:"yield_redemption_date"`
}

// NextValidIDMessage carries the next usable identifier.
type NextValidIDMessage struct {
	OrderID int64 `json:"order_id"`
}

// ExecDetailsMessage carries one execution for a request.
type ExecDetailsMessage struct {
	ReqID     int64         `json:"req_id"`
	Contract  WireContract  `json:"contract"`
	Execution WireExecution `json:"execution"`
}

// CommissionReportMessage carries one commission report. Commission reports
// are not tied to a request id.
type CommissionReportMessage struct {
	CommissionReport WireCommission `json:"commission_report"`
}

// ReqIDMessage carries only a request id (end markers).
type ReqIDMessage struct {
	ReqID int64 `json:"req_id"`
}

// ErrorMessage is an error callback. ReqID is -1 for notices not tied to a
// request.
type ErrorMessage struct {
	ReqID   int64  `json:"req_id"`
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// AccountSummaryMessage is one account summary row.
type AccountSummaryMessage struct {
	ReqID    int64  `json:"req_id"`
	Account  string `json:"account"`
	Tag      string `json:"tag"`
	Value    string `json:"value"`
	Currency string `json:"currency"`
}

// OpenOrderMessage carries one working order.
type OpenOrderMessage struct {
	OrderID  int64        `json:"order_id"`
	Contract WireContract `json:"contract"`
	Order    struct {
		WireOrder
		PermID   int64  `json:"perm_id"`
		ClientID int64  `json:"client_id"`
		TIF      string `json:"tif"`
	} `json:"order"`
	OrderState struct {
		Status string `json:"status"`
	} `json:"order_state"`
}

// OrderStatusMessage carries the fill progress of one order.
type OrderStatusMessage struct {
	OrderID       int64           `json:"order_id"`
	Status        string          `json:"status"`
	Filled        decimal.Decimal `json:"filled"`
	Remaining     decimal.Decimal `json:"remaining"`
	AvgFillPrice  decimal.Decimal `json:"avg_fill_price"`
	PermID        int64           `json:"perm_id"`
	ParentID      int64           `json:"parent_id"`
	LastFillPrice decimal.Decimal `json:"last_fill_price"`
	ClientID      int64           `json:"client_id"`
	WhyHeld       string          `json:"why_held"`
}

// AccountValueMessage carries one account update key.
type AccountValueMessage struct {
	Key      string `json:"key"`
	Value    string `json:"value"`
	Currency string `json:"currency"`
	Account  string `json:"account"`
}

// PortfolioMessage carries one position of an account update stream.
type PortfolioMessage struct {
	Contract      WireContract     `json:"contract"`
	Position      decimal.Decimal  `json:"position"`
	MarketPrice   decimal.Decimal  `json:"market_price"`
	MarketValue   decimal.Decimal  `json:"market_value"`
	AverageCost   decimal.Decimal  `json:"average_cost"`
	UnrealizedPNL *decimal.Decimal `json:"unrealized_pnl"`
	RealizedPNL   *decimal.Decimal `json:"realized_pnl"`
	Account       string           `json:"account"`
}

// AccountMessage carries only an account name (download end marker).
type AccountMessage struct {
	Account string `json:"account"`
}

// ManagedAccountsMessage lists the accounts the login can trade, comma
// separated.
type ManagedAccountsMessage struct {
	Accounts string `json:"accounts"`
}

// HistoricalDataMessage carries one bar for a request.
type HistoricalDataMessage struct {
	ReqID int64   `json:"req_id"`
	Bar   WireBar `json:"bar"`
}

// WireBar is one historical bar.
type WireBar struct {
	Date     string          `json:"date"`
	Open     decimal.Decimal `json:"open"`
	High     decimal.Decimal `json:"high"`
	Low      decimal.Decimal `json:"low"`
	Close    decimal.Decimal `json:"close"`
	Volume   decimal.Decimal `json:"volume"`
	WAP      decimal.Decimal `json:"wap"`
	BarCount int             `json:"bar_count"`
}

// --------------------------------------------------------------------------
// Conversions
// --------------------------------------------------------------------------

// ToDomain converts a wire contract to a domain.Contract.
func (c WireContract) ToDomain() domain.Contract {
	return domain.Contract{
		ConID:                        c.ConID,
		Symbol:                       c.Symbol,
		SecType:                      c.SecType,
		LastTradeDateOrContractMonth: c.LastTradeDateOrContractMonth,
		Strike:                       c.Strike,
		Right:                        c.Right,
		Multiplier:                   c.Multiplier,
		Exchange:                     c.Exchange,
		PrimaryExchange:              c.PrimaryExchange,
		Currency:                     c.Currency,
	}
}

// ContractToWire converts a domain.Contract for a place-order request.
func ContractToWire(c domain.Contract) WireContract {
	return WireContract{
		ConID:                        c.ConID,
		Symbol:                       c.Symbol,
		SecType:                      c.SecType,
		LastTradeDateOrContractMonth: c.LastTradeDateOrContractMonth,
		Strike:                       c.Strike,
		Right:                        c.Right,
		Multiplier:                   c.Multiplier,
		Exchange:                     c.Exchange,
		PrimaryExchange:              c.PrimaryExchange,
		Currency:                     c.Currency,
	}
}

// ToDomain converts a wire execution to a domain.Execution. An unparseable
// time is left zero.
func (e WireExecution) ToDomain() domain.Execution {
	t, _ := ParseExecTime(e.Time)
	return domain.Execution{
		ExecID:        e.ExecID,
		OrderID:       e.OrderID,
		PermID:        e.PermID,
		ClientID:      e.ClientID,
		Account:       e.Account,
		Exchange:      e.Exchange,
		Side:          domain.ExecSide(e.Side),
		Shares:        e.Shares,
		Price:         e.Price,
		CumQty:        e.CumQty,
		AvgPrice:      e.AvgPrice,
		Time:          t,
		OrderRef:      e.OrderRef,
		LastLiquidity: e.LastLiquidity,
	}
}

// ToDomain converts a wire commission report. Unset optional values become nil.
func (c WireCommission) ToDomain() domain.CommissionReport {
	return domain.CommissionReport{
		ExecID:              c.ExecID,
		Commission:          c.Commission,
		Currency:            c.Currency,
		RealizedPNL:         optional(c.RealizedPNL),
		Yield:               optional(c.Yield),
		YieldRedemptionDate: c.YieldRedemptionDate,
	}
}

func optional(d *decimal.Decimal) *decimal.Decimal {
	if d == nil || d.Abs().GreaterThanOrEqual(unsetDouble) {
		return nil
	}
	v := *d
	return &v
}

// ToDomain converts an account summary row.
func (m AccountSummaryMessage) ToDomain() domain.AccountValue {
	return domain.AccountValue{
		ReqID:    m.ReqID,
		Account:  m.Account,
		Tag:      m.Tag,
		Value:    m.Value,
		Currency: m.Currency,
	}
}

// ToDomain converts an open order frame.
func (m OpenOrderMessage) ToDomain() domain.OpenOrder {
	return domain.OpenOrder{
		OrderID:       m.OrderID,
		PermID:        m.Order.PermID,
		ClientID:      m.Order.ClientID,
		Status:        m.OrderState.Status,
		Account:       m.Order.Account,
		Contract:      m.Contract.ToDomain(),
		Action:        domain.OrderAction(m.Order.Action),
		TotalQuantity: m.Order.TotalQuantity,
		Type:          domain.OrderType(m.Order.OrderType),
		LmtPrice:      optional(m.Order.LmtPrice),
		TIF:           m.Order.TIF,
	}
}

// ToDomain converts an order status frame.
func (m OrderStatusMessage) ToDomain() domain.OrderStatus {
	return domain.OrderStatus{
		OrderID:       m.OrderID,
		PermID:        m.PermID,
		ClientID:      m.ClientID,
		ParentID:      m.ParentID,
		Status:        m.Status,
		Filled:        m.Filled,
		Remaining:     m.Remaining,
		AvgFillPrice:  m.AvgFillPrice,
		LastFillPrice: m.LastFillPrice,
		WhyHeld:       m.WhyHeld,
	}
}

// ToDomain converts an account update key.
func (m AccountValueMessage) ToDomain() domain.AccountUpdate {
	return domain.AccountUpdate{
		Account:  m.Account,
		Key:      m.Key,
		Value:    m.Value,
		Currency: m.Currency,
	}
}

// ToDomain converts a portfolio frame. Unset P&L values become nil.
func (m PortfolioMessage) ToDomain() domain.PortfolioPosition {
	return domain.PortfolioPosition{
		Account:       m.Account,
		Contract:      m.Contract.ToDomain(),
		Position:      m.Position,
		MarketPrice:   m.MarketPrice,
		MarketValue:   m.MarketValue,
		AverageCost:   m.AverageCost,
		UnrealizedPNL: optional(m.UnrealizedPNL),
		RealizedPNL:   optional(m.RealizedPNL),
	}
}

// List splits the managed accounts, dropping empty entries.
func (m ManagedAccountsMessage) List() []string {
	var accounts []string
	for _, a := range strings.Split(m.Accounts, ",") {
		if a = strings.TrimSpace(a); a != "" {
			accounts = append(accounts, a)
		}
	}
	return accounts
}

// ToDomain converts a wire bar.
func (b WireBar) ToDomain() domain.Bar {
	return domain.Bar{
		Time:   b.Date,
		Open:   b.Open,
		High:   b.High,
		Low:    b.Low,
		Close:  b.Close,
		Volume: b.Volume,
		WAP:    b.WAP,
		Count:  b.BarCount,
	}
}

// FilterToWire converts a domain filter for an executions request.
func FilterToWire(f domain.ExecutionFilter) WireFilter {
	return WireFilter{
		ClientID: f.ClientID,
		AcctCode: f.AcctCode,
		Time:     f.Time,
		Symbol:   f.Symbol,
		SecType:  f.SecType,
		Exchange: f.Exchange,
		Side:     f.Side,
	}
}

// OrderToWire converts a domain order ticket.
func OrderToWire(o domain.Order) WireOrder {
	w := WireOrder{
		Action:        string(o.Action),
		TotalQuantity: o.TotalQuantity,
		OrderType:     string(o.Type),
		Account:       o.Account,
		AlgoStrategy:  o.AlgoStrategy,
		AlgoParams:    o.AlgoParams,
	}
	if o.Type == domain.OrderTypeLimit {
		p := o.LmtPrice
		w.LmtPrice = &p
	}
	return w
}

// ParseExecTime parses the venue's execution time, "20231005  14:30:01" or
// "20231005 14:30:01 US/Eastern". Without a zone the time is UTC.
func ParseExecTime(s string) (time.Time, error) {
	fields := strings.Fields(s)
	if len(fields) < 2 {
		return time.Parse(time.RFC3339, strings.TrimSpace(s))
	}

	loc := time.UTC
	if len(fields) > 2 {
		if l, err := time.LoadLocation(fields[2]); err == nil {
			loc = l
		}
	}
	t, err := time.ParseInLocation(execTimeLayout, fields[0]+" "+fields[1], loc)
	if err != nil {
		return time.Time{}, err
	}
	return t.UTC(), nil
}
