package correlate

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/execsync/internal/domain"
)

// Render formats a record as one stable, human-readable line:
//
//	AAPL BOT 10 @ 50.00 commission=1.20 USD realized_pnl=12.50
//
// realized_pnl is omitted when the venue did not report one.
func Render(rec domain.CorrelatedRecord) string {
	var b strings.Builder
	writeFill(&b, rec.Contract, rec.Execution)
	writeCommission(&b, rec.Contract, rec.Commission)
	if pnl := rec.Commission.RealizedPNL; pnl != nil {
		fmt.Fprintf(&b, " realized_pnl=%s", money(*pnl))
	}
	return b.String()
}

// RenderAnomaly formats an anomaly as one line, starting with its kind.
func RenderAnomaly(a domain.Anomaly) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s exec_id=%s", a.Kind, a.ExecID)
	if a.Execution != nil && a.Contract != nil {
		b.WriteByte(' ')
		writeFill(&b, a.Contract, a.Execution)
	}
	if a.Commission != nil {
		writeCommission(&b, a.Contract, a.Commission)
	}
	return b.String()
}

func writeFill(b *strings.Builder, c *domain.Contract, e *domain.Execution) {
	fmt.Fprintf(b, "%s %s %s @ %s", c.Symbol, e.Side, e.Shares.String(), money(e.Price))
}

func writeCommission(b *strings.Builder, c *domain.Contract, cr *domain.CommissionReport) {
	ccy := cr.Currency
	if ccy == "" && c != nil {
		ccy = c.Currency
	}
	fmt.Fprintf(b, " commission=%s %s", money(cr.Commission), ccy)
}

// money prints at least two decimals, more when the value needs them.
func money(d decimal.Decimal) string {
	if d.Equal(d.Round(2)) {
		return d.StringFixed(2)
	}
	return d.String()
}
