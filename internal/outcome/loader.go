package outcome

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/alanyoungcy/drawcore/internal/domain"
)

// Table sources accepted by LoadTable.
const (
	SourceGenerate = "generate"
	prefixFile     = "file:"
	prefixS3       = "s3:"
)

// LoadTable loads the combinations table from source: "generate", "file:<path>"
// or "s3:<key>". blobs may be nil unless an s3 source is used. Any failure is
// reported as ErrStateUnavailable so that callers fail closed.
func LoadTable(ctx context.Context, source string, blobs domain.BlobReader, logger *slog.Logger) (*Table, error) {
	source = strings.TrimSpace(source)
	var (
		t   *Table
		err error
	)

	switch {
	case source == "" || source == SourceGenerate:
		t = GenerateTable()
	case strings.HasPrefix(source, prefixFile):
		path := strings.TrimPrefix(source, prefixFile)
		f, openErr := os.Open(path)
		if openErr != nil {
			return nil, fmt.Errorf("%w: open table %s: %v", domain.ErrStateUnavailable, path, openErr)
		}
		defer f.Close()
		t, err = ReadTable(f)
	case strings.HasPrefix(source, prefixS3):
		if blobs == nil {
			return nil, fmt.Errorf("%w: table source %s needs object storage", domain.ErrStateUnavailable, source)
		}
		key := strings.TrimPrefix(source, prefixS3)
		body, getErr := blobs.Get(ctx, key)
		if getErr != nil {
			return nil, fmt.Errorf("%w: fetch table %s: %v", domain.ErrStateUnavailable, key, getErr)
		}
		defer body.Close()
		t, err = ReadTable(body)
	default:
		return nil, fmt.Errorf("%w: unknown table source %q", domain.ErrValidation, source)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %w", domain.ErrStateUnavailable, err)
	}

	logger.InfoContext(ctx, "combinations table loaded",
		slog.String("source", source),
		slog.Int("rows", t.Len()),
	)
	return t, nil
}
