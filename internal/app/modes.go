package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"text/tabwriter"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/execsync/internal/correlate"
	"github.com/alanyoungcy/execsync/internal/domain"
	"github.com/alanyoungcy/execsync/internal/order"
)

const (
	// placeSettle is how long place mode keeps the session open for
	// asynchronous rejections after the last order went out.
	placeSettle = 2 * time.Second

	dedupCleanupInterval = 10 * time.Minute

	serverShutdownTimeout = 5 * time.Second
)

// connect opens the venue session and waits for its handshake.
func (a *App) connect(ctx context.Context, deps *Dependencies) error {
	if err := deps.Session.Connect(ctx); err != nil {
		return fmt.Errorf("app: connect %s: %w", a.cfg.Venue.URL(), err)
	}
	return nil
}

// CheckMode connects, waits for the first next-valid-id and disconnects.
func (a *App) CheckMode(ctx context.Context, deps *Dependencies) error {
	if err := a.connect(ctx, deps); err != nil {
		return err
	}
	fmt.Fprintf(a.out, "connected to %s client_id=%d next_valid_id=%d\n",
		a.cfg.Venue.URL(), a.cfg.Venue.ClientID, deps.Session.NextValidID())
	return nil
}

// ExecutionsMode runs one correlation cycle and prints its records and
// anomalies.
func (a *App) ExecutionsMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting executions mode")
	if err := a.connect(ctx, deps); err != nil {
		return err
	}

	report, err := deps.Reconcile.RunCycle(ctx)
	if report.CycleID != "" {
		a.printReport(report)
	}
	return err
}

// WatchMode runs a fresh correlation cycle every cycle.interval until the
// context is cancelled. A failed cycle is logged and the next tick starts a
// new one.
func (a *App) WatchMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting watch mode",
		slog.Duration("interval", a.cfg.Cycle.Interval.Duration),
	)
	if err := a.connect(ctx, deps); err != nil {
		return err
	}

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		ticker := time.NewTicker(a.cfg.Cycle.Interval.Duration)
		defer ticker.Stop()
		for {
			a.watchCycle(ctx, deps)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-ticker.C:
			}
		}
	})

	if deps.Dedup != nil {
		g.Go(func() error {
			ticker := time.NewTicker(dedupCleanupInterval)
			defer ticker.Stop()
			for {
				select {
				case <-ctx.Done():
					return ctx.Err()
				case <-ticker.C:
					deps.Dedup.Cleanup()
					a.logger.DebugContext(ctx, "dedup cleanup", slog.Int("entries", deps.Dedup.Len()))
				}
			}
		})
	}

	if deps.Server != nil {
		g.Go(deps.Server.Start)
		g.Go(func() error {
			<-ctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), serverShutdownTimeout)
			defer cancel()
			return deps.Server.Shutdown(shutdownCtx)
		})
	}

	return g.Wait()
}

func (a *App) watchCycle(ctx context.Context, deps *Dependencies) {
	report, err := deps.Reconcile.RunCycle(ctx)
	if report.CycleID != "" {
		a.printReport(report)
	}
	if err == nil || ctx.Err() != nil {
		return
	}
	if errors.Is(err, domain.ErrLockHeld) {
		a.logger.InfoContext(ctx, "cycle skipped, another process holds the lock")
		return
	}
	a.logger.WarnContext(ctx, "cycle failed", slog.String("error", err.Error()))
}

func (a *App) printReport(report domain.CycleReport) {
	for _, rec := range report.Records {
		fmt.Fprintln(a.out, correlate.Render(rec))
	}
	for _, an := range report.Anomalies {
		fmt.Fprintln(a.out, correlate.RenderAnomaly(an))
	}
}

// PlaceMode places every configured order, each under a fresh identifier,
// then waits briefly for rejections.
func (a *App) PlaceMode(ctx context.Context, deps *Dependencies) error {
	tickets, err := order.BuildAll(a.cfg.Orders, a.cfg.Venue.ClientID)
	if err != nil {
		return fmt.Errorf("app: build orders: %w", err)
	}
	if err := a.connect(ctx, deps); err != nil {
		return err
	}

	placed, placeErr := deps.Orders.PlaceAll(ctx, tickets)
	for _, p := range placed {
		fmt.Fprintf(a.out, "placed #%d %s %s %s %s\n",
			p.OrderID, p.Order.Action, p.Order.TotalQuantity.String(), p.Contract.Symbol, p.Order.Type)
	}
	if placeErr != nil {
		return placeErr
	}

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(placeSettle):
	}

	rejected := deps.Orders.Rejections()
	for id, reqErr := range rejected {
		fmt.Fprintf(a.out, "rejected #%d code=%d %s\n", id, reqErr.Code, reqErr.Message)
	}
	if len(rejected) > 0 {
		return fmt.Errorf("app: %d of %d orders rejected", len(rejected), len(placed))
	}
	return nil
}

// AccountSummaryMode requests the account summary and prints every row.
func (a *App) AccountSummaryMode(ctx context.Context, deps *Dependencies) error {
	if err := a.connect(ctx, deps); err != nil {
		return err
	}

	rows, err := deps.Account.Summary(ctx, a.cfg.Account.Group, a.cfg.Account.Tags, a.cfg.Account.Timeout.Duration)
	if err != nil {
		return fmt.Errorf("app: %w", err)
	}

	tw := tabwriter.NewWriter(a.out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ACCOUNT\tTAG\tVALUE\tCURRENCY")
	for _, r := range rows {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", r.Account, r.Tag, r.Value, r.Currency)
	}
	return tw.Flush()
}

// OpenOrdersMode prints every working order on the account with its latest
// status.
func (a *App) OpenOrdersMode(ctx context.Context, deps *Dependencies) error {
	if err := a.connect(ctx, deps); err != nil {
		return err
	}

	snap, err := deps.OpenOrders.Snapshot(ctx, a.cfg.Account.Timeout.Duration)
	if err != nil {
		return fmt.Errorf("app: %w", err)
	}

	filled := make(map[int64]domain.OrderStatus, len(snap.Statuses))
	for _, st := range snap.Statuses {
		filled[st.PermID] = st
	}

	tw := tabwriter.NewWriter(a.out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "PERM_ID\tORDER_ID\tCLIENT\tACCOUNT\tSYMBOL\tACTION\tQTY\tTYPE\tLIMIT\tSTATUS\tFILLED\tREMAINING")
	for _, o := range snap.Orders {
		limit := "-"
		if o.LmtPrice != nil {
			limit = o.LmtPrice.String()
		}
		status, done, left := o.Status, "-", "-"
		if st, ok := filled[o.PermID]; ok && o.PermID != 0 {
			status, done, left = st.Status, st.Filled.String(), st.Remaining.String()
		}
		fmt.Fprintf(tw, "%d\t%d\t%d\t%s\t%s\t%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
			o.PermID, o.OrderID, o.ClientID, o.Account, o.Contract.Symbol, o.Action,
			o.TotalQuantity, o.Type, limit, status, done, left)
	}
	return tw.Flush()
}

// AccountUpdatesMode downloads each configured account, or every managed
// account, and prints its values and positions.
func (a *App) AccountUpdatesMode(ctx context.Context, deps *Dependencies) error {
	if err := a.connect(ctx, deps); err != nil {
		return err
	}

	snaps, err := deps.Portfolio.Snapshot(ctx, a.cfg.Account.Accounts, a.cfg.Account.Timeout.Duration)
	if err != nil {
		return fmt.Errorf("app: %w", err)
	}

	tw := tabwriter.NewWriter(a.out, 0, 4, 2, ' ', 0)
	for _, snap := range snaps {
		fmt.Fprintf(tw, "== %s\n", snap.Account)
		fmt.Fprintln(tw, "KEY\tVALUE\tCURRENCY")
		for _, v := range snap.Values {
			fmt.Fprintf(tw, "%s\t%s\t%s\n", v.Key, v.Value, v.Currency)
		}
		fmt.Fprintln(tw, "SYMBOL\tSEC_TYPE\tPOSITION\tPRICE\tVALUE\tAVG_COST\tUNREALIZED\tREALIZED")
		for _, p := range snap.Positions {
			fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
				p.Contract.Symbol, p.Contract.SecType, p.Position, p.MarketPrice,
				p.MarketValue, p.AverageCost, pnl(p.UnrealizedPNL), pnl(p.RealizedPNL))
		}
	}
	return tw.Flush()
}

func pnl(d *decimal.Decimal) string {
	if d == nil {
		return "-"
	}
	return d.String()
}

// BarsMode fetches the configured historical bars and prints them.
func (a *App) BarsMode(ctx context.Context, deps *Dependencies) error {
	if err := a.connect(ctx, deps); err != nil {
		return err
	}

	q := barQuery(a.cfg.Bars)
	bars, err := deps.Bars.Bars(ctx, q, a.cfg.Bars.Timeout.Duration)
	if err != nil {
		return fmt.Errorf("app: %w", err)
	}

	tw := tabwriter.NewWriter(a.out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "TIME\tOPEN\tHIGH\tLOW\tCLOSE\tVOLUME\tWAP\tCOUNT")
	for _, b := range bars {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\t%s\t%d\n",
			b.Time, b.Open, b.High, b.Low, b.Close, b.Volume, b.WAP, b.Count)
	}
	return tw.Flush()
}

// CancelAllMode sends a global cancel for every open order.
func (a *App) CancelAllMode(ctx context.Context, deps *Dependencies) error {
	if err := a.connect(ctx, deps); err != nil {
		return err
	}
	if err := deps.Session.RequestGlobalCancel(ctx); err != nil {
		return fmt.Errorf("app: %w", err)
	}
	a.logger.InfoContext(ctx, "global cancel sent")
	fmt.Fprintln(a.out, "global cancel sent")
	return nil
}

// HistoryMode prints stored fills when the query names an exec id, account
// or symbol, and archived cycle summaries otherwise.
func (a *App) HistoryMode(ctx context.Context, deps *Dependencies) error {
	q := a.history
	if q.WantsFills() {
		fills, err := deps.History.Fills(ctx, q)
		if err != nil {
			return fmt.Errorf("app: %w", err)
		}
		enc := json.NewEncoder(a.out)
		for _, f := range fills {
			if err := enc.Encode(f); err != nil {
				return fmt.Errorf("app: encode fill %s: %w", f.ExecID, err)
			}
		}
		return nil
	}

	cycles, err := deps.History.Cycles(ctx, q)
	if err != nil {
		return fmt.Errorf("app: %w", err)
	}
	tw := tabwriter.NewWriter(a.out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "FINISHED\tCYCLE\tFILLS\tANOMALIES\tPATH")
	for _, c := range cycles {
		fmt.Fprintf(tw, "%s\t%s\t%d\t%d\t%s\n",
			c.Summary.FinishedAt.Format(time.RFC3339), c.Summary.CycleID,
			c.Summary.Fills, c.Summary.Anomalies, c.Path)
	}
	return tw.Flush()
}

// TailMode prints the fills watch cycles fanned out through Redis as JSON
// lines: the stream first when replaying, then live ones until ctx ends.
func (a *App) TailMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting tail mode",
		slog.Bool("replay", a.tail.Replay),
		slog.Bool("follow", a.tail.Follow),
	)
	enc := json.NewEncoder(a.out)
	err := deps.Tail.Tail(ctx, a.tail, func(f domain.FillRecord) error {
		if err := enc.Encode(f); err != nil {
			return fmt.Errorf("encode fill %s: %w", f.ExecID, err)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("app: tail: %w", err)
	}
	return nil
}
