package s3blob

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/execsync/internal/domain"
)

// memBucket is an in-memory BlobWriter and BlobReader.
type memBucket struct {
	mu        sync.Mutex
	objects   map[string][]byte
	types     map[string]string
	multipart int
}

func newMemBucket() *memBucket {
	return &memBucket{objects: map[string][]byte{}, types: map[string]string{}}
}

func (m *memBucket) Put(_ context.Context, p string, data io.Reader, contentType string) error {
	b, err := io.ReadAll(data)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.objects[p] = b
	m.types[p] = contentType
	return nil
}

func (m *memBucket) PutMultipart(ctx context.Context, p string, data io.Reader, _ int64) error {
	m.mu.Lock()
	m.multipart++
	m.mu.Unlock()
	return m.Put(ctx, p, data, contentTypeJSONL)
}

func (m *memBucket) Get(_ context.Context, p string) (io.ReadCloser, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.objects[p]
	if !ok {
		return nil, fmt.Errorf("get %s: %w", p, domain.ErrNotFound)
	}
	return io.NopCloser(bytes.NewReader(b)), nil
}

func (m *memBucket) List(_ context.Context, prefix string) ([]domain.BlobInfo, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.BlobInfo
	for p, b := range m.objects {
		if strings.HasPrefix(p, prefix) {
			out = append(out, domain.BlobInfo{Path: p, Size: int64(len(b))})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Path < out[j].Path })
	return out, nil
}

func sampleReport(id string, finished time.Time) domain.CycleReport {
	contract := &domain.Contract{Symbol: "AAPL", SecType: "STK", Exchange: "SMART", Currency: "USD"}
	exec := &domain.Execution{
		ExecID: "0001f4e8.01", Side: domain.ExecSideBought,
		Shares: decimal.NewFromInt(10), Price: decimal.RequireFromString("187.25"),
		Time: finished.Add(-time.Minute),
	}
	pnl := decimal.RequireFromString("12.5")
	comm := &domain.CommissionReport{
		ExecID: "0001f4e8.01", Commission: decimal.RequireFromString("1.2"),
		Currency: "USD", RealizedPNL: &pnl,
	}
	orphan := &domain.CommissionReport{ExecID: "0001f4e8.09", Commission: decimal.RequireFromString("0.5"), Currency: "USD"}

	return domain.CycleReport{
		CycleID:    id,
		ClientID:   7,
		RequestID:  42,
		StartedAt:  finished.Add(-2 * time.Second),
		FinishedAt: finished,
		Records:    []domain.CorrelatedRecord{{Contract: contract, Execution: exec, Commission: comm}},
		Anomalies:  []domain.Anomaly{{Kind: domain.AnomalyOrphanCommission, ExecID: orphan.ExecID, Commission: orphan}},
	}
}

func TestArchiver_RoundTrip(t *testing.T) {
	ctx := context.Background()
	bucket := newMemBucket()
	a := NewArchiver(bucket, bucket, "/cycles/")
	finished := time.Date(2024, 3, 5, 14, 30, 0, 0, time.UTC)

	p, err := a.ArchiveCycle(ctx, sampleReport("c-1", finished))
	require.NoError(t, err)
	assert.Equal(t, "cycles/2024-03-05/c-1.jsonl", p)
	assert.Equal(t, contentTypeJSONL, bucket.types[p])
	assert.Equal(t, 3, bytes.Count(bucket.objects[p], []byte("\n")), "summary, one fill, one anomaly")

	got, err := a.LoadCycle(ctx, p)
	require.NoError(t, err)
	assert.Equal(t, "c-1", got.Summary.CycleID)
	assert.Equal(t, int64(42), got.Summary.RequestID)
	assert.Equal(t, 1, got.Summary.Fills)
	assert.Equal(t, 1, got.Summary.Anomalies)

	require.Len(t, got.Fills, 1)
	f := got.Fills[0]
	assert.Equal(t, "0001f4e8.01", f.ExecID)
	assert.Equal(t, "c-1", f.CycleID)
	assert.True(t, f.Price.Equal(decimal.RequireFromString("187.25")))
	require.NotNil(t, f.RealizedPNL)
	assert.True(t, f.RealizedPNL.Equal(decimal.RequireFromString("12.5")))

	require.Len(t, got.Anomalies, 1)
	assert.Equal(t, domain.AnomalyOrphanCommission, got.Anomalies[0].Kind)
	assert.Equal(t, "c-1", got.Anomalies[0].CycleID)
	assert.True(t, finished.Equal(got.Anomalies[0].DetectedAt))
}

func TestArchiver_ListCycles(t *testing.T) {
	ctx := context.Background()
	bucket := newMemBucket()
	a := NewArchiver(bucket, bucket, "cycles")

	for i, day := range []int{1, 3, 5} {
		_, err := a.ArchiveCycle(ctx, sampleReport(fmt.Sprintf("c-%d", i), time.Date(2024, 3, day, 9, 0, 0, 0, time.UTC)))
		require.NoError(t, err)
	}
	require.NoError(t, bucket.Put(ctx, "cycles/2024-03-05/notes.txt", strings.NewReader("x"), "text/plain"))

	all, err := a.ListCycles(ctx, time.Time{})
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, "cycles/2024-03-05/c-2.jsonl", all[0].Path, "newest first")

	recent, err := a.ListCycles(ctx, time.Date(2024, 3, 3, 23, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	require.Len(t, recent, 2)
	assert.Equal(t, "cycles/2024-03-03/c-1.jsonl", recent[1].Path)
}

func TestArchiver_WithoutReader(t *testing.T) {
	a := NewArchiver(newMemBucket(), nil, "cycles")

	_, err := a.ListCycles(context.Background(), time.Time{})
	assert.Error(t, err)
	_, err = a.LoadCycle(context.Background(), "cycles/2024-03-05/c-1.jsonl")
	assert.Error(t, err)
}

func TestArchiver_LoadMissing(t *testing.T) {
	bucket := newMemBucket()
	a := NewArchiver(bucket, bucket, "cycles")

	_, err := a.LoadCycle(context.Background(), "cycles/2024-03-05/none.jsonl")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestNormaliseEndpoint(t *testing.T) {
	assert.Equal(t, "https://minio:9000", normaliseEndpoint("minio:9000", true))
	assert.Equal(t, "http://minio:9000", normaliseEndpoint("minio:9000", false))
	assert.Equal(t, "http://r2.local", normaliseEndpoint("http://r2.local", true))
}
