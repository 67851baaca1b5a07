package service

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/execsync/internal/domain"
	"github.com/alanyoungcy/execsync/internal/notify"
)

func testOptions() ReconcileOptions {
	return ReconcileOptions{
		ClientID:          7,
		IdentifierTimeout: testWait,
		BatchTimeout:      testWait,
		LockTTL:           time.Minute,
		Channel:           "execsync:fills",
		Stream:            "execsync:fills:stream",
	}
}

func TestReconcileService_DeliversToEverySink(t *testing.T) {
	venue := &scriptedVenue{nextID: 42, batch: standardBatch}
	fills := newMemFillStore()
	anomalies := &memAnomalyStore{}
	audit := &memAudit{}
	bus := newMemBus()
	pub := &memPublisher{}
	arch := &memArchiver{}
	locks := &memLocks{}
	notes := &recordingNotifier{}

	svc := NewReconcileService(newEngine(venue), testOptions(), discardLogger()).
		WithStores(fills, anomalies).
		WithAudit(audit).
		WithBus(bus).
		WithDedup(NewDedup(time.Hour)).
		WithPublisher(pub).
		WithArchiver(arch).
		WithLocks(locks).
		WithNotifier(notes)

	report, err := svc.RunCycle(context.Background())
	require.NoError(t, err)

	assert.Equal(t, int64(42), report.RequestID)
	assert.Equal(t, int64(7), report.ClientID)
	require.Len(t, report.Records, 2)
	assert.Equal(t, "E2", report.Records[0].ExecID(), "commission arrival order")
	assert.Equal(t, "E1", report.Records[1].ExecID())
	require.Len(t, report.Anomalies, 1)
	assert.Equal(t, domain.AnomalyOrphanCommission, report.Anomalies[0].Kind)

	stored, err := fills.GetByExecID(context.Background(), "E1")
	require.NoError(t, err)
	assert.Equal(t, report.CycleID, stored.CycleID)
	assert.Equal(t, "AAPL", stored.Symbol)

	require.Len(t, anomalies.anomalies, 1)
	assert.Equal(t, "E9", anomalies.anomalies[0].ExecID)

	assert.Len(t, bus.published["execsync:fills"], 2)
	assert.Len(t, bus.streams["execsync:fills:stream"], 2)
	var onBus domain.FillRecord
	require.NoError(t, json.Unmarshal(bus.published["execsync:fills"][0], &onBus))
	assert.Equal(t, "E2", onBus.ExecID)

	require.Len(t, pub.calls, 1)
	assert.Len(t, pub.calls[0], 2)

	require.Len(t, arch.reports, 1)
	assert.Equal(t, report.CycleID, arch.reports[0].CycleID)

	require.Equal(t, []string{"cycle_completed"}, audit.events())
	detail := audit.entries[0].Detail
	assert.Equal(t, 2, detail["records"])
	assert.Equal(t, 1, detail["anomalies"])
	assert.Equal(t, "cycles/"+report.CycleID+".jsonl", detail["archive"])

	assert.Equal(t, []string{notify.EventAnomaly, notify.EventCycleDone}, notes.events())
	assert.Contains(t, notes.notes[0].message, "orphan_commission exec_id=E9")

	assert.Equal(t, []string{"cycle:7"}, locks.released)
}

func TestReconcileService_DedupAcrossCycles(t *testing.T) {
	venue := &scriptedVenue{nextID: 100, batch: standardBatch}
	bus := newMemBus()
	pub := &memPublisher{}
	fills := newMemFillStore()

	svc := NewReconcileService(newEngine(venue), testOptions(), discardLogger()).
		WithStores(fills, nil).
		WithBus(bus).
		WithDedup(NewDedup(time.Hour)).
		WithPublisher(pub)

	first, err := svc.RunCycle(context.Background())
	require.NoError(t, err)
	second, err := svc.RunCycle(context.Background())
	require.NoError(t, err)

	assert.NotEqual(t, first.CycleID, second.CycleID)
	assert.Equal(t, int64(101), second.RequestID, "every cycle gets a fresh identifier")
	assert.Len(t, second.Records, 2, "the venue reports the same fills again")

	assert.Len(t, bus.published["execsync:fills"], 2, "already published fills are not sent twice")
	assert.Len(t, pub.calls, 1)
	assert.Len(t, fills.order, 2)
}

func TestReconcileService_FailedCycle(t *testing.T) {
	venue := &scriptedVenue{nextID: 1} // never answers the executions request
	fills := newMemFillStore()
	audit := &memAudit{}
	notes := &recordingNotifier{}
	opts := testOptions()
	opts.BatchTimeout = 20 * time.Millisecond

	svc := NewReconcileService(newEngine(venue), opts, discardLogger()).
		WithStores(fills, &memAnomalyStore{}).
		WithAudit(audit).
		WithNotifier(notes)

	_, err := svc.RunCycle(context.Background())
	require.ErrorIs(t, err, domain.ErrTimeout)

	assert.Empty(t, fills.order)
	require.Equal(t, []string{"cycle_failed"}, audit.events())
	assert.Equal(t, "failed", audit.entries[0].Detail["phase"])
	assert.Equal(t, []string{notify.EventCycleFailed}, notes.events())

	st := svc.Status()
	assert.Equal(t, int64(1), st.Failed)
	assert.Zero(t, st.Completed)
	assert.NotEmpty(t, st.LastError)
	assert.Nil(t, st.LastFinishedAt)

	// The engine is free for the next cycle.
	venue.batch = standardBatch
	opts.BatchTimeout = testWait
	svc.opts = opts
	report, err := svc.RunCycle(context.Background())
	require.NoError(t, err)

	st = svc.Status()
	assert.Equal(t, int64(1), st.Completed)
	assert.Equal(t, report.CycleID, st.LastCycleID)
	assert.Equal(t, 2, st.LastRecords)
	assert.Empty(t, st.LastError, "a successful cycle clears the last error")
	require.NotNil(t, st.LastFinishedAt)
}

func TestReconcileService_RequestErrorCode(t *testing.T) {
	venue := &scriptedVenue{nextID: 5, batch: func(sink domain.CallbackSink, reqID int64) {
		sink.OnError(reqID, 321, "invalid filter")
	}}
	audit := &memAudit{}

	svc := NewReconcileService(newEngine(venue), testOptions(), discardLogger()).WithAudit(audit)

	_, err := svc.RunCycle(context.Background())
	var reqErr *domain.RequestError
	require.ErrorAs(t, err, &reqErr)
	assert.Equal(t, 321, reqErr.Code)
	require.Len(t, audit.entries, 1)
	assert.Equal(t, 321, audit.entries[0].Detail["code"])
}

func TestReconcileService_LockHeld(t *testing.T) {
	venue := &scriptedVenue{nextID: 1, batch: standardBatch}
	locks := &memLocks{held: map[string]bool{"cycle:7": true}}

	svc := NewReconcileService(newEngine(venue), testOptions(), discardLogger()).WithLocks(locks)

	_, err := svc.RunCycle(context.Background())
	assert.ErrorIs(t, err, domain.ErrLockHeld)
	assert.Zero(t, venue.requestCount(), "no request goes out without the lock")
}

func TestReconcileService_SinkFailureKeepsReport(t *testing.T) {
	venue := &scriptedVenue{nextID: 9, batch: standardBatch}
	boom := errors.New("db down")
	fills := newMemFillStore()
	fills.err = boom
	bus := newMemBus()
	audit := &memAudit{}

	svc := NewReconcileService(newEngine(venue), testOptions(), discardLogger()).
		WithStores(fills, nil).
		WithBus(bus).
		WithAudit(audit)

	report, err := svc.RunCycle(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, boom)
	assert.Contains(t, err.Error(), "store fills")

	assert.Len(t, report.Records, 2)
	assert.Len(t, bus.published["execsync:fills"], 2, "other sinks still run")
	assert.Equal(t, []string{"cycle_completed"}, audit.events())
	assert.Contains(t, svc.Status().LastError, "db down")
}

func TestReconcileService_NoSinks(t *testing.T) {
	venue := &scriptedVenue{nextID: 3, batch: standardBatch}
	svc := NewReconcileService(newEngine(venue), testOptions(), discardLogger())

	report, err := svc.RunCycle(context.Background())
	require.NoError(t, err)
	assert.Len(t, report.Fills(), 2)
}

func TestReconcileService_FailedPublishKeepsFillsForNextCycle(t *testing.T) {
	venue := &scriptedVenue{nextID: 20, batch: standardBatch}
	pub := &memPublisher{err: errors.New("broker down")}
	dedup := NewDedup(time.Hour)

	svc := NewReconcileService(newEngine(venue), testOptions(), discardLogger()).
		WithDedup(dedup).
		WithPublisher(pub)

	_, err := svc.RunCycle(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "broker down")
	assert.Zero(t, dedup.Len(), "unsent fills are not marked seen")

	pub.err = nil
	_, err = svc.RunCycle(context.Background())
	require.NoError(t, err)
	require.Len(t, pub.calls, 1)
	assert.Len(t, pub.calls[0], 2, "the next cycle sends them")

	_, err = svc.RunCycle(context.Background())
	require.NoError(t, err)
	assert.Len(t, pub.calls, 1, "sent fills are not repeated")
}

func TestReconcileService_ReportsDroppedDeliveries(t *testing.T) {
	venue := &scriptedVenue{
		nextID: 30,
		inline: true,
		batch: func(sink domain.CallbackSink, reqID int64) {
			sink.OnExecution(reqID-1, domain.Contract{Symbol: "OLD"}, domain.Execution{ExecID: "E-old"})
			standardBatch(sink, reqID)
			sink.OnCommissionReport(domain.CommissionReport{ExecID: "E7", Currency: "USD"})
		},
	}
	arch := &memArchiver{}
	audit := &memAudit{}

	svc := NewReconcileService(newEngine(venue), testOptions(), discardLogger()).
		WithArchiver(arch).
		WithAudit(audit)

	report, err := svc.RunCycle(context.Background())
	require.NoError(t, err)
	assert.Len(t, report.Records, 2)
	assert.Equal(t, int64(1), report.LateDeliveries)
	assert.Equal(t, int64(1), report.ForeignDeliveries)

	st := svc.Status()
	assert.Equal(t, int64(1), st.LastLate)
	assert.Equal(t, int64(1), st.LastForeign)
	assert.Equal(t, int64(1), st.LateDeliveries)

	require.Len(t, arch.reports, 1)
	assert.Equal(t, int64(1), arch.reports[0].LateDeliveries)
	assert.Equal(t, int64(1), audit.entries[0].Detail["late"])
}
