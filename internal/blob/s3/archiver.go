package s3blob

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"path"
	"sort"
	"strings"
	"time"

	"github.com/alanyoungcy/execsync/internal/domain"
)

const (
	contentTypeJSONL = "application/x-ndjson"
	// multipartThreshold switches large archives to the transfer manager.
	multipartThreshold = 8 * 1024 * 1024
)

// Line kinds in a cycle archive. The first line is always the summary.
const (
	lineCycle   = "cycle"
	lineFill    = "fill"
	lineAnomaly = "anomaly"
)

// CycleSummary is the header line of an archived cycle.
type CycleSummary struct {
	CycleID    string    `json:"cycle_id"`
	ClientID   int64     `json:"client_id"`
	RequestID  int64     `json:"request_id"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
	Fills      int       `json:"fills"`
	Anomalies  int       `json:"anomalies"`
	Late       int64     `json:"late,omitempty"`
	Foreign    int64     `json:"foreign,omitempty"`
}

// CycleArchive is a cycle read back from storage.
type CycleArchive struct {
	Path      string
	Summary   CycleSummary
	Fills     []domain.FillRecord
	Anomalies []domain.AnomalyRecord
}

type archiveLine struct {
	Kind    string                `json:"kind"`
	Cycle   *CycleSummary         `json:"cycle,omitempty"`
	Fill    *domain.FillRecord    `json:"fill,omitempty"`
	Anomaly *domain.AnomalyRecord `json:"anomaly,omitempty"`
}

// Archiver writes each finished cycle as one JSONL object under
// <prefix>/<YYYY-MM-DD>/<cycle id>.jsonl and reads them back for history.
type Archiver struct {
	writer domain.BlobWriter
	reader domain.BlobReader
	prefix string
}

// NewArchiver creates an Archiver. reader may be nil when only writing.
func NewArchiver(writer domain.BlobWriter, reader domain.BlobReader, prefix string) *Archiver {
	return &Archiver{
		writer: writer,
		reader: reader,
		prefix: strings.Trim(prefix, "/"),
	}
}

var _ domain.CycleArchiver = (*Archiver)(nil)

// ArchiveCycle uploads the report and returns the object path.
func (a *Archiver) ArchiveCycle(ctx context.Context, report domain.CycleReport) (string, error) {
	fills := report.Fills()
	anomalies := report.AnomalyRecords()

	lines := make([]archiveLine, 0, 1+len(fills)+len(anomalies))
	lines = append(lines, archiveLine{Kind: lineCycle, Cycle: &CycleSummary{
		CycleID:    report.CycleID,
		ClientID:   report.ClientID,
		RequestID:  report.RequestID,
		StartedAt:  report.StartedAt.UTC(),
		FinishedAt: report.FinishedAt.UTC(),
		Fills:      len(fills),
		Anomalies:  len(anomalies),
		Late:       report.LateDeliveries,
		Foreign:    report.ForeignDeliveries,
	}})
	for i := range fills {
		lines = append(lines, archiveLine{Kind: lineFill, Fill: &fills[i]})
	}
	for i := range anomalies {
		lines = append(lines, archiveLine{Kind: lineAnomaly, Anomaly: &anomalies[i]})
	}

	buf, err := marshalJSONL(lines)
	if err != nil {
		return "", fmt.Errorf("s3blob: archive cycle %s marshal: %w", report.CycleID, err)
	}

	p := a.cyclePath(report.FinishedAt, report.CycleID)
	if len(buf) > multipartThreshold {
		err = a.writer.PutMultipart(ctx, p, bytes.NewReader(buf), minPartSize)
	} else {
		err = a.writer.Put(ctx, p, bytes.NewReader(buf), contentTypeJSONL)
	}
	if err != nil {
		return "", fmt.Errorf("s3blob: archive cycle %s upload: %w", report.CycleID, err)
	}
	return p, nil
}

// ListCycles returns archived cycles from the given day onward, newest first.
// A zero since lists everything under the prefix.
func (a *Archiver) ListCycles(ctx context.Context, since time.Time) ([]domain.BlobInfo, error) {
	if a.reader == nil {
		return nil, fmt.Errorf("s3blob: list cycles: no reader configured")
	}
	infos, err := a.reader.List(ctx, a.prefix+"/")
	if err != nil {
		return nil, fmt.Errorf("s3blob: list cycles: %w", err)
	}

	day := ""
	if !since.IsZero() {
		day = since.UTC().Format(time.DateOnly)
	}
	out := infos[:0]
	for _, info := range infos {
		if !strings.HasSuffix(info.Path, ".jsonl") {
			continue
		}
		if day != "" && dayOf(info.Path) < day {
			continue
		}
		out = append(out, info)
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Path > out[j].Path
	})
	return out, nil
}

// LoadCycle reads one archived cycle.
func (a *Archiver) LoadCycle(ctx context.Context, p string) (CycleArchive, error) {
	if a.reader == nil {
		return CycleArchive{}, fmt.Errorf("s3blob: load cycle: no reader configured")
	}
	body, err := a.reader.Get(ctx, p)
	if err != nil {
		return CycleArchive{}, fmt.Errorf("s3blob: load cycle: %w", err)
	}
	defer body.Close()

	out := CycleArchive{Path: p}
	sc := bufio.NewScanner(body)
	sc.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	n := 0
	for sc.Scan() {
		n++
		if len(bytes.TrimSpace(sc.Bytes())) == 0 {
			continue
		}
		var line archiveLine
		if err := json.Unmarshal(sc.Bytes(), &line); err != nil {
			return CycleArchive{}, fmt.Errorf("s3blob: load cycle %s line %d: %w", p, n, err)
		}
		switch {
		case line.Kind == lineCycle && line.Cycle != nil:
			out.Summary = *line.Cycle
		case line.Kind == lineFill && line.Fill != nil:
			out.Fills = append(out.Fills, *line.Fill)
		case line.Kind == lineAnomaly && line.Anomaly != nil:
			out.Anomalies = append(out.Anomalies, *line.Anomaly)
		}
	}
	if err := sc.Err(); err != nil {
		return CycleArchive{}, fmt.Errorf("s3blob: load cycle %s: %w", p, err)
	}
	return out, nil
}

func (a *Archiver) cyclePath(at time.Time, cycleID string) string {
	return path.Join(a.prefix, at.UTC().Format(time.DateOnly), cycleID+".jsonl")
}

// dayOf extracts the YYYY-MM-DD directory from an archive path.
func dayOf(p string) string {
	return path.Base(path.Dir(p))
}

// marshalJSONL encodes each record as one compact JSON line.
func marshalJSONL[T any](records []T) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)

	for i, rec := range records {
		if err := enc.Encode(rec); err != nil {
			return nil, fmt.Errorf("jsonl encode record %d: %w", i, err)
		}
	}
	return buf.Bytes(), nil
}
