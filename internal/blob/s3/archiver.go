package s3blob

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/alanyoungcy/drawcore/internal/domain"
	"github.com/alanyoungcy/drawcore/internal/metrics"
)

const day = 24 * time.Hour

// ResultArchiver implements domain.Archiver. Settled results are grouped by
// the UTC day they settled on and written as one JSONL object per day:
//
//	archive/results/2026-01-15.jsonl
//
// Only complete days are archived and a day whose object already exists is
// skipped, so repeated runs are idempotent. Archived rows are not deleted
// from the result store.
type ResultArchiver struct {
	writer  domain.BlobWriter
	reader  domain.BlobReader
	results domain.ResultStore
	audit   domain.AuditStore
	metrics *metrics.Metrics
	logger  *slog.Logger
}

// NewArchiver creates a ResultArchiver. reader and m may be nil; without a
// reader every day is rewritten on each run.
func NewArchiver(
	writer domain.BlobWriter,
	reader domain.BlobReader,
	results domain.ResultStore,
	audit domain.AuditStore,
	m *metrics.Metrics,
	logger *slog.Logger,
) *ResultArchiver {
	return &ResultArchiver{
		writer:  writer,
		reader:  reader,
		results: results,
		audit:   audit,
		metrics: m,
		logger:  logger.With(slog.String("component", "archiver")),
	}
}

// ArchiveResults uploads every complete UTC day before the cutoff and returns
// the number of results written.
func (a *ResultArchiver) ArchiveResults(ctx context.Context, before time.Time) (int64, error) {
	cutoff := before.UTC().Truncate(day)
	results, err := a.results.ListBefore(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive results query: %w", err)
	}
	if len(results) == 0 {
		return 0, nil
	}

	days := make(map[string][]domain.Result)
	for _, r := range results {
		d := r.SettledAt.UTC().Format(time.DateOnly)
		days[d] = append(days[d], r)
	}
	keys := make([]string, 0, len(days))
	for d := range days {
		keys = append(keys, d)
	}
	sort.Strings(keys)

	done, err := a.archivedDays(ctx)
	if err != nil {
		return 0, err
	}

	var total int64
	for _, d := range keys {
		if done[archivePath("results", d)] {
			continue
		}
		n, err := a.archiveDay(ctx, d, days[d])
		if err != nil {
			return total, err
		}
		total += n
	}
	return total, nil
}

// archivedDays lists the day objects already in storage with one listing
// per run.
func (a *ResultArchiver) archivedDays(ctx context.Context) (map[string]bool, error) {
	done := make(map[string]bool)
	if a.reader == nil {
		return done, nil
	}
	objs, err := a.reader.List(ctx, "archive/results/")
	if err != nil {
		return nil, fmt.Errorf("s3blob: archive results list: %w", err)
	}
	for _, o := range objs {
		done[o.Path] = true
	}
	return done, nil
}

func (a *ResultArchiver) archiveDay(ctx context.Context, d string, rows []domain.Result) (int64, error) {
	path := archivePath("results", d)

	buf, err := marshalJSONL(rows)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive results marshal %s: %w", d, err)
	}

	if int64(len(buf)) > MinPartSize {
		err = a.writer.PutMultipart(ctx, path, bytes.NewReader(buf), MinPartSize)
	} else {
		err = a.writer.Put(ctx, path, bytes.NewReader(buf), "application/x-ndjson")
	}
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive results upload %s: %w", path, err)
	}

	count := int64(len(rows))
	if a.metrics != nil {
		a.metrics.ResultsArchived.Add(float64(count))
	}
	a.logger.InfoContext(ctx, "results archived",
		slog.String("path", path),
		slog.Int64("count", count),
		slog.Int("bytes", len(buf)),
	)

	if a.audit != nil {
		if err := a.audit.Log(ctx, "results_archived", "", map[string]any{
			"path":  path,
			"day":   d,
			"count": count,
		}); err != nil {
			return count, fmt.Errorf("s3blob: archive results audit log: %w", err)
		}
	}
	return count, nil
}

// archivePath builds the object key for one day of archived records.
func archivePath(kind, date string) string {
	return fmt.Sprintf("archive/%s/%s.jsonl", kind, date)
}

// marshalJSONL serialises records as newline-delimited JSON.
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

// Compile-time interface check.
var _ domain.Archiver = (*ResultArchiver)(nil)
