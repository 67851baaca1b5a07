package service

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/execsync/internal/domain"
	"github.com/alanyoungcy/execsync/internal/gate"
)

// barVenue answers historical data requests through the service's
// callbacks. A non-zero errCode answers with a request error instead.
type barVenue struct {
	svc      *BarService
	bars     []domain.Bar
	errCode  int
	silent   bool
	query    domain.BarQuery
	canceled []int64
}

func (v *barVenue) RequestHistoricalData(_ context.Context, reqID int64, q domain.BarQuery) error {
	v.query = q
	if v.silent {
		return nil
	}
	go func() {
		if v.errCode != 0 {
			v.svc.OnRequestError(&domain.RequestError{ReqID: reqID, Code: v.errCode, Message: "no data"})
			return
		}
		v.svc.OnBar(reqID+1, domain.Bar{Time: "stray"})
		for _, b := range v.bars {
			v.svc.OnBar(reqID, b)
		}
		v.svc.OnBarsEnd(reqID)
	}()
	return nil
}

func (v *barVenue) CancelHistoricalData(_ context.Context, reqID int64) error {
	v.canceled = append(v.canceled, reqID)
	return nil
}

func aaplQuery() domain.BarQuery {
	return domain.BarQuery{
		Contract:   domain.Contract{Symbol: "AAPL", SecType: "STK", Exchange: "SMART", Currency: "USD"},
		Duration:   "1 M",
		BarSize:    "1 day",
		WhatToShow: "TRADES",
		UseRTH:     true,
	}
}

func TestBarService_Bars(t *testing.T) {
	v := &barVenue{bars: []domain.Bar{
		{Time: "20231002", Open: decimal.RequireFromString("171.22"), Close: decimal.RequireFromString("173.75"), Count: 10},
		{Time: "20231003", Open: decimal.RequireFromString("172.26"), Close: decimal.RequireFromString("172.40"), Count: 12},
	}}
	svc := NewBarService(&seqIDs{next: 4000}, v, testWait, discardLogger())
	v.svc = svc

	bars, err := svc.Bars(context.Background(), aaplQuery(), testWait)
	require.NoError(t, err)

	require.Len(t, bars, 2)
	assert.Equal(t, "20231002", bars[0].Time)
	assert.Equal(t, "20231003", bars[1].Time)
	assert.Equal(t, "AAPL", v.query.Contract.Symbol)
	assert.Empty(t, v.canceled)
	assert.Nil(t, svc.active.Load())
}

func TestBarService_RequestError(t *testing.T) {
	v := &barVenue{errCode: 162}
	svc := NewBarService(&seqIDs{next: 1}, v, testWait, discardLogger())
	v.svc = svc

	_, err := svc.Bars(context.Background(), aaplQuery(), testWait)
	var reqErr *domain.RequestError
	require.ErrorAs(t, err, &reqErr)
	assert.Equal(t, 162, reqErr.Code)
	assert.Equal(t, int64(1), reqErr.ReqID)
}

func TestBarService_TimeoutCancels(t *testing.T) {
	v := &barVenue{silent: true}
	svc := NewBarService(&seqIDs{next: 7}, v, testWait, discardLogger())
	v.svc = svc

	_, err := svc.Bars(context.Background(), aaplQuery(), 20*time.Millisecond)
	assert.ErrorIs(t, err, domain.ErrTimeout)
	assert.Equal(t, []int64{7}, v.canceled)
}

func TestBarService_OnlyClaimsItsOwnErrors(t *testing.T) {
	svc := NewBarService(&seqIDs{}, &barVenue{}, testWait, discardLogger())
	assert.False(t, svc.OnRequestError(&domain.RequestError{ReqID: 3, Code: 200}))

	svc.active.Store(&barRequest{reqID: 3, done: gate.New()})
	assert.False(t, svc.OnRequestError(&domain.RequestError{ReqID: 4, Code: 200}))
	assert.True(t, svc.OnRequestError(&domain.RequestError{ReqID: 3, Code: 200}))
	assert.False(t, svc.OnRequestError(&domain.RequestError{ReqID: 3, Code: 200}), "a finished request claims nothing")
}
