package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/execsync/internal/domain"
)

type subscription struct {
	subscribe bool
	account   string
}

// portfolioVenue streams two values and one position per subscribed account,
// plus a value for another account that must be ignored.
type portfolioVenue struct {
	svc     *PortfolioService
	managed []string
	silent  bool

	mu    sync.Mutex
	calls []subscription
}

func (v *portfolioVenue) ManagedAccounts(context.Context, time.Duration) ([]string, error) {
	if v.managed == nil {
		return nil, domain.ErrTimeout
	}
	return v.managed, nil
}

func (v *portfolioVenue) RequestAccountUpdates(_ context.Context, subscribe bool, account string) error {
	v.mu.Lock()
	v.calls = append(v.calls, subscription{subscribe, account})
	v.mu.Unlock()
	if !subscribe || v.silent {
		return nil
	}
	go func() {
		v.svc.OnAccountUpdate(domain.AccountUpdate{Account: "OTHER", Key: "NetLiquidation", Value: "1"})
		v.svc.OnAccountUpdate(domain.AccountUpdate{Account: account, Key: "NetLiquidation", Value: "100000", Currency: "USD"})
		v.svc.OnAccountUpdate(domain.AccountUpdate{Account: account, Key: "AccountCode", Value: account})
		v.svc.OnPortfolioUpdate(domain.PortfolioPosition{
			Account:  account,
			Contract: domain.Contract{Symbol: "AAPL", SecType: "STK"},
			Position: decimal.NewFromInt(10),
		})
		v.svc.OnDownloadEnd(account)
	}()
	return nil
}

func (v *portfolioVenue) subscriptions() []subscription {
	v.mu.Lock()
	defer v.mu.Unlock()
	return append([]subscription(nil), v.calls...)
}

func TestPortfolioService_Snapshot(t *testing.T) {
	v := &portfolioVenue{}
	svc := NewPortfolioService(v, discardLogger())
	v.svc = svc

	snaps, err := svc.Snapshot(context.Background(), []string{"DU1", "DU2"}, testWait)
	require.NoError(t, err)

	require.Len(t, snaps, 2)
	for i, account := range []string{"DU1", "DU2"} {
		assert.Equal(t, account, snaps[i].Account)
		require.Len(t, snaps[i].Values, 2)
		assert.Equal(t, "NetLiquidation", snaps[i].Values[0].Key)
		require.Len(t, snaps[i].Positions, 1)
		assert.Equal(t, "AAPL", snaps[i].Positions[0].Contract.Symbol)
	}
	assert.Equal(t, []subscription{
		{true, "DU1"}, {false, "DU1"},
		{true, "DU2"}, {false, "DU2"},
	}, v.subscriptions())
}

func TestPortfolioService_FallsBackToManagedAccounts(t *testing.T) {
	v := &portfolioVenue{managed: []string{"DU9"}}
	svc := NewPortfolioService(v, discardLogger())
	v.svc = svc

	snaps, err := svc.Snapshot(context.Background(), nil, testWait)
	require.NoError(t, err)
	require.Len(t, snaps, 1)
	assert.Equal(t, "DU9", snaps[0].Account)
}

func TestPortfolioService_NoAccounts(t *testing.T) {
	svc := NewPortfolioService(&portfolioVenue{managed: []string{}}, discardLogger())
	_, err := svc.Snapshot(context.Background(), nil, testWait)
	assert.ErrorIs(t, err, ErrNoAccounts)

	svc = NewPortfolioService(&portfolioVenue{}, discardLogger())
	_, err = svc.Snapshot(context.Background(), nil, testWait)
	assert.ErrorIs(t, err, domain.ErrTimeout)
}

func TestPortfolioService_TimeoutUnsubscribes(t *testing.T) {
	v := &portfolioVenue{silent: true}
	svc := NewPortfolioService(v, discardLogger())
	v.svc = svc

	_, err := svc.Snapshot(context.Background(), []string{"DU1"}, 20*time.Millisecond)
	assert.ErrorIs(t, err, domain.ErrTimeout)
	assert.Equal(t, []subscription{{true, "DU1"}, {false, "DU1"}}, v.subscriptions())
	assert.Nil(t, svc.active.Load())
}
