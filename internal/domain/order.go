package domain

import "github.com/shopspring/decimal"

// OrderAction indicates whether this is a buy or sell.
type OrderAction string

const (
	OrderActionBuy  OrderAction = "BUY"
	OrderActionSell OrderAction = "SELL"
)

// OrderType is the venue order type code.
type OrderType string

const (
	OrderTypeMarket OrderType = "MKT"
	OrderTypeLimit  OrderType = "LMT"
)

// TagValue is one algo parameter.
type TagValue struct {
	Tag   string `json:"tag"`
	Value string `json:"value"`
}

// Order is an order ticket sent to the venue together with its Contract.
type Order struct {
	OrderID       int64
	ClientID      int64
	Account       string
	Action        OrderAction
	TotalQuantity decimal.Decimal
	Type          OrderType
	LmtPrice      decimal.Decimal
	AlgoStrategy  string
	AlgoParams    []TagValue
}

// Validate reports whether the order can be sent.
func (o Order) Validate() error {
	if o.Action != OrderActionBuy && o.Action != OrderActionSell {
		return ErrInvalidOrder
	}
	if !o.TotalQuantity.IsPositive() {
		return ErrInvalidOrder
	}
	if o.Type == OrderTypeLimit && !o.LmtPrice.IsPositive() {
		return ErrInvalidOrder
	}
	return nil
}
