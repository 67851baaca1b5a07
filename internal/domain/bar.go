package domain

import "github.com/shopspring/decimal"

// BarQuery selects historical bars for one contract. An empty EndDateTime
// means now.
type BarQuery struct {
	Contract    Contract
	EndDateTime string
	Duration    string
	BarSize     string
	WhatToShow  string
	UseRTH      bool
}

// Bar is one historical bar. Time is kept as the venue formats it since its
// layout depends on the bar size.
type Bar struct {
	Time   string
	Open   decimal.Decimal
	High   decimal.Decimal
	Low    decimal.Decimal
	Close  decimal.Decimal
	Volume decimal.Decimal
	WAP    decimal.Decimal
	Count  int
}
