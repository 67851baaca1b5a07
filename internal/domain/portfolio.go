package domain

import "github.com/shopspring/decimal"

// OpenOrder is a working order as the venue reports it in an open-orders
// snapshot.
type OpenOrder struct {
	OrderID       int64
	PermID        int64
	ClientID      int64
	Status        string
	Account       string
	Contract      Contract
	Action        OrderAction
	TotalQuantity decimal.Decimal
	Type          OrderType
	LmtPrice      *decimal.Decimal
	TIF           string
}

// OrderStatus is the fill progress of one order.
type OrderStatus struct {
	OrderID       int64
	PermID        int64
	ClientID      int64
	ParentID      int64
	Status        string
	Filled        decimal.Decimal
	Remaining     decimal.Decimal
	AvgFillPrice  decimal.Decimal
	LastFillPrice decimal.Decimal
	WhyHeld       string
}

// AccountUpdate is one key/value pair of an account update stream.
type AccountUpdate struct {
	Account  string
	Key      string
	Value    string
	Currency string
}

// PortfolioPosition is one position of an account update stream.
type PortfolioPosition struct {
	Account       string
	Contract      Contract
	Position      decimal.Decimal
	MarketPrice   decimal.Decimal
	MarketValue   decimal.Decimal
	AverageCost   decimal.Decimal
	UnrealizedPNL *decimal.Decimal
	RealizedPNL   *decimal.Decimal
}
