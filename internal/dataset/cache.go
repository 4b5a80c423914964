package dataset

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/askdb/askdb/internal/observability"
)

// Cache keeps one SQLite file per dataset source below Dir.
type Cache struct {
	Dir     string
	Fetcher *Fetcher
	Logger  *slog.Logger
}

// Path returns where the database built from source is cached.
func (c *Cache) Path(source string) string {
	sum := sha256.Sum256([]byte(source))
	return filepath.Join(c.Dir, "dataset-"+hex.EncodeToString(sum[:])[:16]+".sqlite")
}

// Ensure returns the cached database for source, building it first when it
// is missing or empty.
func (c *Cache) Ensure(ctx context.Context, source string) (string, error) {
	if c.Fetcher == nil {
		return "", fmt.Errorf("dataset fetcher is required")
	}
	logger := observability.LoggerOrDiscard(c.Logger)
	path := c.Path(source)
	if info, err := os.Stat(path); err == nil && info.Size() > 0 {
		logger.DebugContext(ctx, "dataset_cache_hit", slog.String("path", path))
		return path, nil
	}

	if err := os.MkdirAll(c.Dir, 0o755); err != nil {
		return "", fmt.Errorf("create dataset cache dir: %w", err)
	}
	start := time.Now()
	reader, err := c.Fetcher.Open(ctx, source)
	if err != nil {
		return "", err
	}
	defer reader.Close()

	tmp, err := os.CreateTemp(c.Dir, ".dataset-*.sqlite")
	if err != nil {
		return "", fmt.Errorf("create temp database: %w", err)
	}
	tmpPath := tmp.Name()
	_ = tmp.Close()
	defer os.Remove(tmpPath)

	if err := Build(ctx, reader, tmpPath); err != nil {
		return "", err
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return "", fmt.Errorf("publish cached database: %w", err)
	}
	logger.InfoContext(ctx, "dataset_cached",
		slog.String("source", source),
		slog.String("path", path),
		slog.String("duration", time.Since(start).String()),
	)
	return path, nil
}
