// Package service runs the application's use cases on top of the venue
// session and the correlation engine: reconciliation cycles and their sinks,
// order placement, account summaries and history queries.
package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/alanyoungcy/execsync/internal/correlate"
	"github.com/alanyoungcy/execsync/internal/domain"
	"github.com/alanyoungcy/execsync/internal/notify"
)

// CycleStarter begins correlation cycles. *correlate.Engine satisfies it.
type CycleStarter interface {
	Begin() (*correlate.Cycle, error)
}

// Notifier delivers operator alerts.
type Notifier interface {
	Notify(ctx context.Context, event, title, message string) error
}

// ReconcileOptions holds the per-cycle parameters.
type ReconcileOptions struct {
	ClientID          int64
	IdentifierTimeout time.Duration
	BatchTimeout      time.Duration
	Filter            domain.ExecutionFilter
	LockTTL           time.Duration
	// Channel and Stream name the SignalBus destinations for fills.
	Channel string
	Stream  string
}

// ReconcileService runs one correlation cycle at a time and hands the result
// to every configured sink. Every sink is optional.
type ReconcileService struct {
	engine CycleStarter
	opts   ReconcileOptions

	fills     domain.FillStore
	anomalies domain.AnomalyStore
	audit     domain.AuditStore
	bus       domain.SignalBus
	seen      domain.SeenSet
	publisher domain.FillPublisher
	archiver  domain.CycleArchiver
	locks     domain.LockManager
	notifier  Notifier

	mu     sync.Mutex
	status CycleStatus

	now    func() time.Time
	logger *slog.Logger
}

// CycleStatus summarises the cycles a ReconcileService has run.
type CycleStatus struct {
	Completed      int64      `json:"completed"`
	Failed         int64      `json:"failed"`
	LastCycleID    string     `json:"last_cycle_id,omitempty"`
	LastFinishedAt *time.Time `json:"last_finished_at,omitempty"`
	LastRecords    int        `json:"last_records"`
	LastAnomalies  int        `json:"last_anomalies"`
	LastLate       int64      `json:"last_late"`
	LastForeign    int64      `json:"last_foreign"`
	LastError      string     `json:"last_error,omitempty"`
	// LateDeliveries totals late callbacks over every completed cycle.
	LateDeliveries int64 `json:"late_deliveries"`
}

// NewReconcileService creates a ReconcileService with no sinks attached.
func NewReconcileService(engine CycleStarter, opts ReconcileOptions, logger *slog.Logger) *ReconcileService {
	return &ReconcileService{
		engine: engine,
		opts:   opts,
		now:    time.Now,
		logger: logger.With(slog.String("component", "reconcile_service")),
	}
}

// WithStores persists fills and anomalies after each cycle.
func (s *ReconcileService) WithStores(fills domain.FillStore, anomalies domain.AnomalyStore) *ReconcileService {
	s.fills, s.anomalies = fills, anomalies
	return s
}

// WithAudit records cycle outcomes in the audit log.
func (s *ReconcileService) WithAudit(audit domain.AuditStore) *ReconcileService {
	s.audit = audit
	return s
}

// WithBus publishes new fills on the bus channel and appends them to the
// bus stream.
func (s *ReconcileService) WithBus(bus domain.SignalBus) *ReconcileService {
	s.bus = bus
	return s
}

// WithDedup filters fills already published by an earlier cycle out of the
// bus and publisher sinks.
func (s *ReconcileService) WithDedup(seen domain.SeenSet) *ReconcileService {
	s.seen = seen
	return s
}

// WithPublisher sends new fills to an external event stream.
func (s *ReconcileService) WithPublisher(p domain.FillPublisher) *ReconcileService {
	s.publisher = p
	return s
}

// WithArchiver archives every finished cycle.
func (s *ReconcileService) WithArchiver(a domain.CycleArchiver) *ReconcileService {
	s.archiver = a
	return s
}

// WithLocks serialises cycles for the same client id across processes.
func (s *ReconcileService) WithLocks(l domain.LockManager) *ReconcileService {
	s.locks = l
	return s
}

// WithNotifier alerts on anomalies and failed cycles.
func (s *ReconcileService) WithNotifier(n Notifier) *ReconcileService {
	s.notifier = n
	return s
}

// RunCycle runs one request/wait/correlate round. A failed round returns the
// cycle error and no report. A successful round always returns its report;
// the error is then non-nil only when one or more sinks failed.
func (s *ReconcileService) RunCycle(ctx context.Context) (domain.CycleReport, error) {
	if s.locks != nil {
		unlock, err := s.locks.Acquire(ctx, fmt.Sprintf("cycle:%d", s.opts.ClientID), s.opts.LockTTL)
		if err != nil {
			return domain.CycleReport{}, fmt.Errorf("reconcile_service: lock: %w", err)
		}
		defer unlock()
	}

	cycle, err := s.engine.Begin()
	if err != nil {
		return domain.CycleReport{}, fmt.Errorf("reconcile_service: begin: %w", err)
	}
	defer cycle.Abort()

	res, err := s.collect(ctx, cycle)
	if err != nil {
		s.record(func(st *CycleStatus) {
			st.Failed++
			st.LastError = err.Error()
		})
		s.cycleFailed(ctx, cycle, err)
		return domain.CycleReport{}, fmt.Errorf("reconcile_service: cycle %s: %w", cycle.ID(), err)
	}

	report := domain.CycleReport{
		CycleID:    cycle.ID(),
		ClientID:   s.opts.ClientID,
		RequestID:  cycle.RequestID(),
		StartedAt:  cycle.StartedAt(),
		FinishedAt: s.now().UTC(),
		Records:    res.Records,
		Anomalies:  res.Anomalies,

		LateDeliveries:    cycle.LateDeliveries(),
		ForeignDeliveries: cycle.ForeignDeliveries(),
	}

	s.logger.InfoContext(ctx, "cycle complete",
		slog.String("cycle_id", report.CycleID),
		slog.Int64("request_id", report.RequestID),
		slog.Int("records", len(report.Records)),
		slog.Int("anomalies", len(report.Anomalies)),
		slog.Int64("late", report.LateDeliveries),
		slog.Int64("foreign", report.ForeignDeliveries),
	)

	deliverErr := s.deliver(ctx, report)
	s.record(func(st *CycleStatus) {
		finished := report.FinishedAt
		st.Completed++
		st.LastCycleID = report.CycleID
		st.LastFinishedAt = &finished
		st.LastRecords = len(report.Records)
		st.LastAnomalies = len(report.Anomalies)
		st.LastLate = report.LateDeliveries
		st.LastForeign = report.ForeignDeliveries
		st.LateDeliveries += report.LateDeliveries
		st.LastError = ""
		if deliverErr != nil {
			st.LastError = deliverErr.Error()
		}
	})
	if deliverErr != nil {
		return report, fmt.Errorf("reconcile_service: deliver cycle %s: %w", report.CycleID, deliverErr)
	}
	return report, nil
}

// Status returns a snapshot of the cycles run so far.
func (s *ReconcileService) Status() CycleStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

func (s *ReconcileService) record(fn func(*CycleStatus)) {
	s.mu.Lock()
	fn(&s.status)
	s.mu.Unlock()
}

func (s *ReconcileService) collect(ctx context.Context, cycle *correlate.Cycle) (correlate.Result, error) {
	if _, err := cycle.AwaitIdentifier(ctx, s.opts.IdentifierTimeout); err != nil {
		return correlate.Result{}, err
	}
	if err := cycle.AwaitExecutionsBatch(ctx, s.opts.Filter, s.opts.BatchTimeout); err != nil {
		return correlate.Result{}, err
	}
	return cycle.Correlate()
}

// deliver fans the report out to the sinks. A failing sink does not stop
// the others; their errors are joined.
func (s *ReconcileService) deliver(ctx context.Context, report domain.CycleReport) error {
	fills := report.Fills()
	anomalies := report.AnomalyRecords()
	var errs []error

	if s.fills != nil {
		if err := s.fills.InsertBatch(ctx, fills); err != nil {
			errs = append(errs, fmt.Errorf("store fills: %w", err))
		}
	}
	if s.anomalies != nil {
		if err := s.anomalies.InsertBatch(ctx, anomalies); err != nil {
			errs = append(errs, fmt.Errorf("store anomalies: %w", err))
		}
	}

	fresh, err := s.unseen(ctx, fills)
	if err != nil {
		errs = append(errs, fmt.Errorf("dedup: %w", err))
	}
	published := true
	if err := s.publish(ctx, fresh); err != nil {
		errs = append(errs, err)
		published = false
	}
	if s.publisher != nil && len(fresh) > 0 {
		if err := s.publisher.PublishFills(ctx, fresh); err != nil {
			errs = append(errs, fmt.Errorf("publish fills: %w", err))
			published = false
		}
	}
	// Unsent fills must stay eligible for the next cycle.
	if !published {
		if err := s.forget(ctx, fresh); err != nil {
			errs = append(errs, fmt.Errorf("dedup: %w", err))
		}
	}

	archivePath := ""
	if s.archiver != nil {
		p, err := s.archiver.ArchiveCycle(ctx, report)
		if err != nil {
			errs = append(errs, fmt.Errorf("archive: %w", err))
		}
		archivePath = p
	}

	if s.audit != nil {
		detail := map[string]any{
			"cycle_id":   report.CycleID,
			"client_id":  report.ClientID,
			"request_id": report.RequestID,
			"records":    len(report.Records),
			"anomalies":  len(report.Anomalies),
			"published":  len(fresh),
			"late":       report.LateDeliveries,
			"foreign":    report.ForeignDeliveries,
			"duration":   report.FinishedAt.Sub(report.StartedAt).String(),
		}
		if archivePath != "" {
			detail["archive"] = archivePath
		}
		if err := s.audit.Log(ctx, "cycle_completed", detail); err != nil {
			errs = append(errs, fmt.Errorf("audit: %w", err))
		}
	}

	if len(report.Anomalies) > 0 {
		s.notify(ctx, notify.EventAnomaly,
			fmt.Sprintf("%d correlation anomalies", len(report.Anomalies)),
			renderAnomalies(report.Anomalies))
	}
	s.notify(ctx, notify.EventCycleDone, "Cycle complete",
		fmt.Sprintf("cycle %s: %d records, %d anomalies", report.CycleID, len(report.Records), len(report.Anomalies)))

	return errors.Join(errs...)
}

// unseen drops fills marked by an earlier cycle. Without a SeenSet every fill
// is new. On a lookup error the fill is kept.
func (s *ReconcileService) unseen(ctx context.Context, fills []domain.FillRecord) ([]domain.FillRecord, error) {
	if s.seen == nil {
		return fills, nil
	}
	out := make([]domain.FillRecord, 0, len(fills))
	var errs []error
	for _, f := range fills {
		seen, err := s.seen.MarkSeen(ctx, f.ExecID)
		if err != nil {
			errs = append(errs, err)
			out = append(out, f)
			continue
		}
		if !seen {
			out = append(out, f)
		}
	}
	return out, errors.Join(errs...)
}

func (s *ReconcileService) forget(ctx context.Context, fills []domain.FillRecord) error {
	if s.seen == nil || len(fills) == 0 {
		return nil
	}
	ids := make([]string, len(fills))
	for i, f := range fills {
		ids[i] = f.ExecID
	}
	s.logger.WarnContext(ctx, "fills not published, kept for the next cycle",
		slog.Int("fills", len(ids)),
	)
	return s.seen.Forget(ctx, ids...)
}

func (s *ReconcileService) publish(ctx context.Context, fills []domain.FillRecord) error {
	if s.bus == nil || len(fills) == 0 {
		return nil
	}
	var errs []error
	for _, f := range fills {
		payload, err := json.Marshal(f)
		if err != nil {
			errs = append(errs, fmt.Errorf("marshal fill %s: %w", f.ExecID, err))
			continue
		}
		if s.opts.Channel != "" {
			if err := s.bus.Publish(ctx, s.opts.Channel, payload); err != nil {
				errs = append(errs, err)
			}
		}
		if s.opts.Stream != "" {
			if err := s.bus.StreamAppend(ctx, s.opts.Stream, payload); err != nil {
				errs = append(errs, err)
			}
		}
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("bus: %w", err)
	}
	return nil
}

func (s *ReconcileService) cycleFailed(ctx context.Context, cycle *correlate.Cycle, cause error) {
	if s.audit != nil {
		detail := map[string]any{
			"cycle_id":  cycle.ID(),
			"client_id": s.opts.ClientID,
			"phase":     cycle.Phase().String(),
			"error":     cause.Error(),
			"late":      cycle.LateDeliveries(),
		}
		var reqErr *domain.RequestError
		if errors.As(cause, &reqErr) {
			detail["code"] = reqErr.Code
		}
		if err := s.audit.Log(ctx, "cycle_failed", detail); err != nil {
			s.logger.WarnContext(ctx, "audit log failed", slog.String("error", err.Error()))
		}
	}
	s.notify(ctx, notify.EventCycleFailed, "Correlation cycle failed",
		fmt.Sprintf("cycle %s: %v", cycle.ID(), cause))
}

func (s *ReconcileService) notify(ctx context.Context, event, title, message string) {
	if s.notifier == nil {
		return
	}
	if err := s.notifier.Notify(ctx, event, title, message); err != nil {
		s.logger.WarnContext(ctx, "notification failed",
			slog.String("event", event),
			slog.String("error", err.Error()),
		)
	}
}

func renderAnomalies(anomalies []domain.Anomaly) string {
	lines := make([]string, 0, len(anomalies))
	for _, a := range anomalies {
		lines = append(lines, correlate.RenderAnomaly(a))
	}
	return strings.Join(lines, "\n")
}
