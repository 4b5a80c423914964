package duckdb

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "github.com/marcboeker/go-duckdb/v2"

	"github.com/askdb/askdb/internal/observability"
	"github.com/askdb/askdb/internal/storage"
)

type Config struct {
	// Prefix is the object key prefix holding one directory per table.
	Prefix string
	// WorkDir receives the downloaded parquet files. Empty means a temp dir
	// removed on Close.
	WorkDir string
}

// Database is an in-memory DuckDB instance holding one table per parquet
// directory copied from an object store. Once loaded it cannot touch the
// filesystem or the network.
type Database struct {
	DB           *sql.DB
	Tables       []string
	ScannedFiles int
	ScannedBytes int64

	workDir string
	ownsDir bool
}

func Open(ctx context.Context, store storage.ObjectStore, cfg Config, logger *slog.Logger) (*Database, error) {
	if store == nil {
		return nil, fmt.Errorf("object store is required")
	}
	logger = observability.LoggerOrDiscard(logger)
	start := time.Now()

	objects, err := store.List(ctx, strings.Trim(cfg.Prefix, "/")+"/")
	if err != nil {
		return nil, fmt.Errorf("list table files: %w", err)
	}
	files, err := storage.GroupTableFiles(cfg.Prefix, objects)
	if err != nil {
		return nil, err
	}
	if len(files) == 0 {
		return nil, fmt.Errorf("no parquet table files under %q", cfg.Prefix)
	}

	workDir, ownsDir, err := prepareWorkDir(cfg.WorkDir)
	if err != nil {
		return nil, err
	}
	cleanup := func() {
		if ownsDir {
			_ = os.RemoveAll(workDir)
		}
	}

	groupedPaths := map[string][]string{}
	var tables []string
	var scannedBytes int64
	for index, file := range files {
		localPath := filepath.Join(workDir, fmt.Sprintf("%s_%d.parquet", sanitizeFileComponent(file.Table), index))
		if err := download(ctx, store, file.Key, localPath); err != nil {
			cleanup()
			return nil, err
		}
		if _, ok := groupedPaths[file.Table]; !ok {
			tables = append(tables, file.Table)
		}
		groupedPaths[file.Table] = append(groupedPaths[file.Table], localPath)
		scannedBytes += file.Size
	}

	db, err := sql.Open("duckdb", "")
	if err != nil {
		cleanup()
		return nil, fmt.Errorf("open duckdb: %w", err)
	}
	for _, tableName := range tables {
		loadSQL := fmt.Sprintf(`CREATE TABLE %s AS SELECT * FROM read_parquet(%s)`, quoteIdent(tableName), quoteStringArray(groupedPaths[tableName]))
		if _, err := db.ExecContext(ctx, loadSQL); err != nil {
			_ = db.Close()
			cleanup()
			return nil, fmt.Errorf("load table %q: %w", tableName, err)
		}
	}
	if err := lockDown(ctx, db); err != nil {
		_ = db.Close()
		cleanup()
		return nil, err
	}

	logger.InfoContext(ctx, "duckdb_tables_ready",
		slog.Int("tables", len(tables)),
		slog.Int("files", len(files)),
		slog.Int64("bytes", scannedBytes),
		slog.String("duration", time.Since(start).String()),
	)

	return &Database{
		DB:           db,
		Tables:       tables,
		ScannedFiles: len(files),
		ScannedBytes: scannedBytes,
		workDir:      workDir,
		ownsDir:      ownsDir,
	}, nil
}

// lockDown turns off file and network access and freezes the configuration so
// a query cannot turn it back on.
func lockDown(ctx context.Context, db *sql.DB) error {
	for _, stmt := range []string{
		"SET GLOBAL enable_external_access = false",
		"SET GLOBAL lock_configuration = true",
	} {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("restrict duckdb: %w", err)
		}
	}
	return nil
}

func (d *Database) Close() error {
	err := d.DB.Close()
	if d.ownsDir {
		_ = os.RemoveAll(d.workDir)
	}
	return err
}

func prepareWorkDir(dir string) (string, bool, error) {
	if strings.TrimSpace(dir) == "" {
		tmp, err := os.MkdirTemp("", "askdb-duckdb-")
		if err != nil {
			return "", false, fmt.Errorf("create duckdb work dir: %w", err)
		}
		return tmp, true, nil
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", false, fmt.Errorf("create duckdb work dir: %w", err)
	}
	return dir, false, nil
}

// download copies one parquet object next to its final path and renames it
// into place once synced, so a table never loads from a partial file.
func download(ctx context.Context, store storage.ObjectStore, key, localPath string) error {
	reader, err := store.Get(ctx, key)
	if err != nil {
		return fmt.Errorf("get object %q: %w", key, err)
	}
	defer func() { _ = reader.Close() }()

	tmp, err := os.CreateTemp(filepath.Dir(localPath), ".part-*.parquet")
	if err != nil {
		return fmt.Errorf("create local parquet file: %w", err)
	}
	tmpPath := tmp.Name()
	defer func() { _ = os.Remove(tmpPath) }()

	if _, err := io.Copy(tmp, reader); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("copy object %q: %w", key, err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("sync local parquet file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close local parquet file: %w", err)
	}
	if err := os.Rename(tmpPath, localPath); err != nil {
		return fmt.Errorf("publish local parquet file %q: %w", localPath, err)
	}
	return nil
}

func quoteIdent(value string) string {
	return `"` + strings.ReplaceAll(value, `"`, `""`) + `"`
}

func quoteStringArray(values []string) string {
	quoted := make([]string, 0, len(values))
	for _, value := range values {
		quoted = append(quoted, `'`+strings.ReplaceAll(value, `'`, `''`)+`'`)
	}
	return "[" + strings.Join(quoted, ",") + "]"
}

func sanitizeFileComponent(value string) string {
	value = strings.ReplaceAll(value, "/", "_")
	value = strings.ReplaceAll(value, "..", "_")
	if value == "" {
		return "table"
	}
	return value
}
