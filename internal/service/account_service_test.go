package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/execsync/internal/domain"
)

// summaryVenue answers account summary requests through the service's own
// callbacks, from a separate goroutine.
type summaryVenue struct {
	svc      *AccountService
	rows     []domain.AccountValue
	silent   bool
	tags     string
	group    string
	canceled []int64
}

func (v *summaryVenue) RequestAccountSummary(_ context.Context, reqID int64, group, tags string) error {
	v.group, v.tags = group, tags
	if v.silent {
		return nil
	}
	go func() {
		v.svc.OnAccountValue(domain.AccountValue{ReqID: reqID + 1, Tag: "stray"})
		for _, r := range v.rows {
			r.ReqID = reqID
			v.svc.OnAccountValue(r)
		}
		v.svc.OnSummaryEnd(reqID)
	}()
	return nil
}

func (v *summaryVenue) CancelAccountSummary(_ context.Context, reqID int64) error {
	v.canceled = append(v.canceled, reqID)
	return nil
}

func TestAccountService_Summary(t *testing.T) {
	v := &summaryVenue{rows: []domain.AccountValue{
		{Account: "DU1", Tag: "NetLiquidation", Value: "100000.00", Currency: "USD"},
		{Account: "DU1", Tag: "BuyingPower", Value: "400000.00", Currency: "USD"},
	}}
	svc := NewAccountService(&seqIDs{next: 9000}, v, testWait, discardLogger())
	v.svc = svc

	rows, err := svc.Summary(context.Background(), "All", []string{"NetLiquidation", "BuyingPower"}, testWait)
	require.NoError(t, err)

	require.Len(t, rows, 2)
	assert.Equal(t, "NetLiquidation", rows[0].Tag)
	assert.Equal(t, int64(9000), rows[0].ReqID)
	assert.Equal(t, "All", v.group)
	assert.Equal(t, "NetLiquidation,BuyingPower", v.tags)
	assert.Equal(t, []int64{9000}, v.canceled)
	assert.Nil(t, svc.active.Load())
}

func TestAccountService_Timeout(t *testing.T) {
	v := &summaryVenue{silent: true}
	svc := NewAccountService(&seqIDs{next: 1}, v, testWait, discardLogger())
	v.svc = svc

	_, err := svc.Summary(context.Background(), "All", nil, 20*time.Millisecond)
	assert.ErrorIs(t, err, domain.ErrTimeout)
	assert.Equal(t, []int64{1}, v.canceled, "subscription is cancelled on timeout")
}

func TestAccountService_OneActiveRequest(t *testing.T) {
	svc := NewAccountService(&seqIDs{next: 1}, &summaryVenue{silent: true}, testWait, discardLogger())
	svc.active.Store(&summaryRequest{reqID: 77})

	_, err := svc.Summary(context.Background(), "All", nil, testWait)
	assert.ErrorIs(t, err, ErrSummaryActive)
}

func TestAccountService_IgnoresUnsolicited(t *testing.T) {
	svc := NewAccountService(&seqIDs{}, &summaryVenue{}, testWait, discardLogger())
	svc.OnAccountValue(domain.AccountValue{ReqID: 1})
	svc.OnSummaryEnd(1)
	assert.Nil(t, svc.active.Load())
}
