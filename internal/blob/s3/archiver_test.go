package s3blob

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/drawcore/internal/domain"
	"github.com/alanyoungcy/drawcore/internal/metrics"
	"github.com/alanyoungcy/drawcore/internal/store/memory"
)

type fakeBlobs struct {
	mu        sync.Mutex
	objects   map[string][]byte
	multipart int
	failPut   error
}

func newFakeBlobs() *fakeBlobs { return &fakeBlobs{objects: make(map[string][]byte)} }

func (f *fakeBlobs) Put(_ context.Context, path string, data io.Reader, _ string) error {
	if f.failPut != nil {
		return f.failPut
	}
	b, err := io.ReadAll(data)
	if err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.objects[path] = b
	return nil
}

func (f *fakeBlobs) PutMultipart(ctx context.Context, path string, data io.Reader, _ int64) error {
	f.mu.Lock()
	f.multipart++
	f.mu.Unlock()
	return f.Put(ctx, path, data, "")
}

func (f *fakeBlobs) Get(_ context.Context, path string) (io.ReadCloser, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	b, ok := f.objects[path]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return io.NopCloser(bytes.NewReader(b)), nil
}

func (f *fakeBlobs) List(_ context.Context, prefix string) ([]domain.BlobInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []domain.BlobInfo
	for p, b := range f.objects {
		if strings.HasPrefix(p, prefix) {
			out = append(out, domain.BlobInfo{Path: p, Size: int64(len(b))})
		}
	}
	return out, nil
}

func settled(id string, at time.Time) domain.Result {
	ref := domain.PeriodRef{Kind: domain.GameSmallDiscrete, DurationSec: 60, Timeline: "main", PeriodID: id}
	return domain.NewResult(ref, domain.NewOutcome(3), domain.Decision{Branch: domain.BranchNormal}, at)
}

func lines(t *testing.T, b []byte) []domain.Result {
	t.Helper()
	var out []domain.Result
	sc := bufio.NewScanner(bytes.NewReader(b))
	for sc.Scan() {
		var r domain.Result
		require.NoError(t, json.Unmarshal(sc.Bytes(), &r))
		out = append(out, r)
	}
	require.NoError(t, sc.Err())
	return out
}

func TestArchiveResults_CompleteDaysOnly(t *testing.T) {
	ctx := context.Background()
	results := memory.NewResultStore()
	audit := memory.NewAuditStore()
	blobs := newFakeBlobs()
	m := metrics.New()

	d1 := time.Date(2026, 1, 14, 10, 0, 0, 0, time.UTC)
	d2 := time.Date(2026, 1, 15, 23, 59, 0, 0, time.UTC)
	today := time.Date(2026, 1, 16, 8, 0, 0, 0, time.UTC)
	require.NoError(t, results.Record(ctx, settled("202601140601", d1)))
	require.NoError(t, results.Record(ctx, settled("202601140602", d1.Add(time.Minute))))
	require.NoError(t, results.Record(ctx, settled("202601151440", d2)))
	require.NoError(t, results.Record(ctx, settled("202601160481", today)))

	a := NewArchiver(blobs, blobs, results, audit, m, slog.Default())
	n, err := a.ArchiveResults(ctx, today.Add(time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)

	require.Contains(t, blobs.objects, "archive/results/2026-01-14.jsonl")
	require.Contains(t, blobs.objects, "archive/results/2026-01-15.jsonl")
	assert.NotContains(t, blobs.objects, "archive/results/2026-01-16.jsonl")

	day1 := lines(t, blobs.objects["archive/results/2026-01-14.jsonl"])
	require.Len(t, day1, 2)
	assert.Equal(t, "202601140601", day1[0].Period.PeriodID)
	require.NoError(t, day1[0].Verify())

	assert.InDelta(t, 3, testutil.ToFloat64(m.ResultsArchived), 0)

	entries, err := audit.List(ctx, domain.ListOpts{Limit: 10})
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "results_archived", entries[0].Event)
}

func TestArchiveResults_Idempotent(t *testing.T) {
	ctx := context.Background()
	results := memory.NewResultStore()
	blobs := newFakeBlobs()
	require.NoError(t, results.Record(ctx, settled("202601140601", time.Date(2026, 1, 14, 10, 0, 0, 0, time.UTC))))

	a := NewArchiver(blobs, blobs, results, nil, nil, slog.Default())
	cutoff := time.Date(2026, 1, 20, 0, 0, 0, 0, time.UTC)

	n, err := a.ArchiveResults(ctx, cutoff)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	n, err = a.ArchiveResults(ctx, cutoff)
	require.NoError(t, err)
	assert.Zero(t, n, "existing day objects are skipped")
}

func TestArchiveResults_Empty(t *testing.T) {
	a := NewArchiver(newFakeBlobs(), nil, memory.NewResultStore(), nil, nil, slog.Default())
	n, err := a.ArchiveResults(context.Background(), time.Now())
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestArchiveResults_UploadFailure(t *testing.T) {
	ctx := context.Background()
	results := memory.NewResultStore()
	require.NoError(t, results.Record(ctx, settled("202601140601", time.Date(2026, 1, 14, 10, 0, 0, 0, time.UTC))))

	blobs := newFakeBlobs()
	blobs.failPut = errors.New("bucket gone")
	a := NewArchiver(blobs, nil, results, nil, nil, slog.Default())

	_, err := a.ArchiveResults(ctx, time.Date(2026, 1, 20, 0, 0, 0, 0, time.UTC))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bucket gone")
}

func TestClientKey(t *testing.T) {
	c := &Client{prefix: normalisePrefix("/drawcore/prod/")}
	assert.Equal(t, "drawcore/prod/archive/results/2026-01-14.jsonl", c.Key("/archive/results/2026-01-14.jsonl"))

	bare := &Client{prefix: normalisePrefix("")}
	assert.Equal(t, "tables/combo.csv", bare.Key("tables/combo.csv"))
}

func TestNormaliseEndpoint(t *testing.T) {
	tests := []struct {
		in     string
		useSSL bool
		want   string
	}{
		{"minio:9000", false, "http://minio:9000"},
		{"s3.example.com", true, "https://s3.example.com"},
		{"http://localhost:9000", true, "http://localhost:9000"},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, normaliseEndpoint(tt.in, tt.useSSL))
		})
	}
}
