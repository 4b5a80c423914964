// Package app assembles askdb from configuration: dataset, store, schema,
// completer and pipeline.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strings"

	"github.com/askdb/askdb/internal/completion"
	"github.com/askdb/askdb/internal/config"
	"github.com/askdb/askdb/internal/dataset"
	"github.com/askdb/askdb/internal/observability"
	"github.com/askdb/askdb/internal/pipeline"
	duckdbengine "github.com/askdb/askdb/internal/query/duckdb"
	"github.com/askdb/askdb/internal/query/sqldb"
	"github.com/askdb/askdb/internal/schema"
	"github.com/askdb/askdb/internal/schema/introspect"
	"github.com/askdb/askdb/internal/storage"
	s3store "github.com/askdb/askdb/internal/storage/s3"
)

// Store is an open relational store with its loaded schema.
type Store struct {
	Executor *sqldb.Executor
	Schema   *schema.Schema
	Dialect  sqldb.Dialect
	// Location describes where the data lives, for logs and the CLI.
	Location string

	closers []func() error
}

func (s *Store) Close() error {
	var errs []error
	for i := len(s.closers) - 1; i >= 0; i-- {
		errs = append(errs, s.closers[i]())
	}
	return errors.Join(errs...)
}

type App struct {
	Config    config.Config
	Store     *Store
	Completer completion.Completer
	Pipeline  *pipeline.Pipeline
	Logger    *slog.Logger
}

// Build opens everything the pipeline needs. Any failure here is a startup
// failure.
func Build(ctx context.Context, cfg config.Config, logger *slog.Logger) (*App, error) {
	logger = observability.LoggerOrDiscard(logger)
	store, err := OpenStore(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	completer, err := completion.New(cfg.AI, logger)
	if err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("initialize completer: %w", err)
	}
	p, err := pipeline.New(pipeline.Options{
		Schema:               store.Schema,
		Executor:             store.Executor,
		Completer:            completer,
		Dialect:              string(store.Dialect),
		GateMode:             cfg.Pipeline.GateMode,
		RowCap:               cfg.Store.RowCap,
		QueryTimeout:         cfg.Store.QueryTimeout,
		MaxValidationRetries: cfg.Pipeline.MaxValidationRetries,
		MaxExecutionRetries:  cfg.Pipeline.MaxExecutionRetries,
		Logger:               logger,
	})
	if err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("initialize pipeline: %w", err)
	}
	logger.Info("askdb ready",
		slog.String("backend", string(store.Dialect)),
		slog.String("location", store.Location),
		slog.Int("tables", len(store.Schema.Tables)),
		slog.String("provider", cfg.AI.Provider),
		slog.String("gate_mode", cfg.Pipeline.GateMode),
	)
	return &App{Config: cfg, Store: store, Completer: completer, Pipeline: p, Logger: logger}, nil
}

func (a *App) Close() error {
	return a.Store.Close()
}

// Ready pings the store.
func (a *App) Ready(ctx context.Context) error {
	return a.Store.Executor.Ping(ctx)
}

// OpenStore opens the configured backend read-only and loads its schema.
func OpenStore(ctx context.Context, cfg config.Config, logger *slog.Logger) (*Store, error) {
	logger = observability.LoggerOrDiscard(logger)
	pool := sqldb.PoolConfig{
		MaxOpenConns:    cfg.Store.MaxOpenConns,
		MaxIdleConns:    cfg.Store.MaxIdleConns,
		ConnMaxIdleTime: cfg.Store.ConnMaxIdleTime,
		ConnMaxLifetime: cfg.Store.ConnMaxLifetime,
	}
	store := &Store{}
	opts := introspect.Options{SampleRows: cfg.Schema.SampleRows, Tables: cfg.Schema.Tables}

	switch cfg.Store.Backend {
	case config.BackendSQLite:
		path, err := EnsureDataset(ctx, cfg, logger)
		if err != nil {
			return nil, err
		}
		db, err := sqldb.OpenSQLite(ctx, path, pool)
		if err != nil {
			return nil, err
		}
		store.closers = append(store.closers, db.Close)
		store.Executor = sqldb.New(db, sqldb.DialectSQLite, logger)
		store.Dialect = sqldb.DialectSQLite
		store.Location = path
	case config.BackendPostgres:
		db, err := sqldb.OpenPostgres(ctx, cfg.Store.PostgresDSN, pool)
		if err != nil {
			return nil, err
		}
		store.closers = append(store.closers, db.Close)
		store.Executor = sqldb.New(db, sqldb.DialectPostgres, logger)
		store.Dialect = sqldb.DialectPostgres
		store.Location = "postgres schema " + cfg.Store.PostgresSchema
		opts.Namespace = cfg.Store.PostgresSchema
	case config.BackendDuckDB:
		objects, err := OpenObjectStore(ctx, cfg)
		if err != nil {
			return nil, err
		}
		database, err := duckdbengine.Open(ctx, objects, duckdbengine.Config{
			Prefix:  cfg.DuckDB.Prefix,
			WorkDir: cfg.DuckDB.WorkDir,
		}, logger)
		if err != nil {
			return nil, fmt.Errorf("open duckdb tables: %w", err)
		}
		store.closers = append(store.closers, database.Close)
		store.Executor = sqldb.New(database.DB, sqldb.DialectDuckDB, logger)
		store.Dialect = sqldb.DialectDuckDB
		store.Location = fmt.Sprintf("s3://%s/%s", objects.Bucket(), strings.Trim(cfg.DuckDB.Prefix, "/"))
	default:
		return nil, fmt.Errorf("unsupported store backend %q", cfg.Store.Backend)
	}

	loaded, err := introspect.Load(ctx, store.Executor.DB(), store.Dialect, opts)
	if err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("load schema: %w", err)
	}
	if cfg.DuckDB.Relations != "" {
		relations, err := schema.ParseRelations(cfg.DuckDB.Relations)
		if err != nil {
			_ = store.Close()
			return nil, err
		}
		if loaded, err = loaded.WithRelations(relations); err != nil {
			_ = store.Close()
			return nil, err
		}
	}
	if len(loaded.Tables) == 0 {
		_ = store.Close()
		return nil, fmt.Errorf("store %s has no tables", store.Location)
	}
	store.Schema = loaded
	return store, nil
}

// EnsureDataset returns the SQLite file to query: the configured path, or
// the cached build of the dataset source.
func EnsureDataset(ctx context.Context, cfg config.Config, logger *slog.Logger) (string, error) {
	if path := strings.TrimSpace(cfg.Store.SQLitePath); path != "" {
		if _, err := os.Stat(path); err != nil {
			return "", fmt.Errorf("sqlite database: %w", err)
		}
		return path, nil
	}
	fetcher := &dataset.Fetcher{
		HTTPClient: &http.Client{Timeout: cfg.Dataset.HTTPTimeout},
		Logger:     logger,
	}
	if strings.HasPrefix(cfg.Dataset.SourceURL, "s3://") {
		objects, err := OpenObjectStore(ctx, cfg)
		if err != nil {
			return "", err
		}
		fetcher.Objects = objects
		fetcher.Bucket = objects.Bucket()
	}
	cache := &dataset.Cache{Dir: cfg.Dataset.CacheDir, Fetcher: fetcher, Logger: logger}
	path, err := cache.Ensure(ctx, cfg.Dataset.SourceURL)
	if err != nil {
		return "", fmt.Errorf("prepare dataset: %w", err)
	}
	return path, nil
}

// Export is the result of ExportDataset.
type Export struct {
	Tables []dataset.ExportedTable
	// Relations lists the foreign keys parquet cannot carry, in the
	// ASKDB_DUCKDB_RELATIONS format.
	Relations string
}

// ExportDataset publishes the SQLite dataset as parquet tables below the
// DuckDB prefix of w.
func ExportDataset(ctx context.Context, cfg config.Config, w storage.ObjectWriter, logger *slog.Logger) (Export, error) {
	logger = observability.LoggerOrDiscard(logger)
	path, err := EnsureDataset(ctx, cfg, logger)
	if err != nil {
		return Export{}, err
	}
	db, err := sqldb.OpenSQLite(ctx, path, sqldb.PoolConfig{MaxOpenConns: 1})
	if err != nil {
		return Export{}, err
	}
	defer func() { _ = db.Close() }()

	s, err := introspect.Load(ctx, db, sqldb.DialectSQLite, introspect.Options{Tables: cfg.Schema.Tables})
	if err != nil {
		return Export{}, fmt.Errorf("load schema: %w", err)
	}
	tables, err := dataset.Export(ctx, db, s, w, cfg.DuckDB.Prefix, logger)
	if err != nil {
		return Export{}, err
	}
	return Export{Tables: tables, Relations: schema.FormatRelations(s)}, nil
}

func OpenObjectStore(ctx context.Context, cfg config.Config) (*s3store.Store, error) {
	objects, err := s3store.New(ctx, s3store.Config{
		Endpoint:        cfg.ObjectStore.Endpoint,
		Region:          cfg.ObjectStore.Region,
		Bucket:          cfg.ObjectStore.Bucket,
		AccessKeyID:     cfg.ObjectStore.AccessKeyID,
		SecretAccessKey: cfg.ObjectStore.SecretAccessKey,
		UseSSL:          cfg.ObjectStore.UseSSL,
		Prefix:          cfg.ObjectStore.Prefix,
	})
	if err != nil {
		return nil, fmt.Errorf("initialize object store: %w", err)
	}
	return objects, nil
}
