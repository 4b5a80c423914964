// Package cli implements the askdb command line: local question answering
// over the configured database and a thin client for a running askdb API.
package cli

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"os"

	"github.com/spf13/cobra"

	"github.com/askdb/askdb/internal/app"
	"github.com/askdb/askdb/internal/config"
	"github.com/askdb/askdb/internal/observability"
	"github.com/askdb/askdb/internal/pipeline"
	"github.com/askdb/askdb/internal/schema"
	"github.com/askdb/askdb/internal/storage"
)

const serviceName = "askdb"

// Session is what the local commands need from an assembled pipeline.
type Session interface {
	Answer(ctx context.Context, question string) pipeline.Answer
	Schema() *schema.Schema
	SchemaText() string
}

// OpenFunc assembles a Session and returns the function that releases it.
type OpenFunc func(ctx context.Context, cfg config.Config, logger *slog.Logger) (Session, func() error, error)

type Options struct {
	Stdin  io.Reader
	Stdout io.Writer
	Stderr io.Writer
	// LoadConfig defaults to config.LoadFromEnv.
	LoadConfig func() (config.Config, error)
	// Open defaults to app.Build.
	Open OpenFunc
	// Objects opens the bucket dataset export writes to. It defaults to the
	// configured S3 store.
	Objects    func(ctx context.Context, cfg config.Config) (storage.ObjectWriter, error)
	HTTPClient *http.Client
	Getenv     func(string) string
}

type runtime struct {
	opts    Options
	verbose bool

	cfg    *config.Config
	stderr io.Writer
}

func NewRootCmd(opts Options) *cobra.Command {
	if opts.LoadConfig == nil {
		opts.LoadConfig = func() (config.Config, error) { return config.LoadFromEnv(serviceName) }
	}
	if opts.Open == nil {
		opts.Open = openApp
	}
	if opts.Objects == nil {
		opts.Objects = openObjectWriter
	}
	if opts.Getenv == nil {
		opts.Getenv = os.Getenv
	}
	rt := &runtime{opts: opts}

	root := &cobra.Command{
		Use:   "askdb",
		Short: "Answer natural-language questions from a relational database",
		Long: `askdb turns a question into one read-only SQL query, checks the query
against the database schema, runs it and phrases the rows as an answer.
Questions the database cannot answer get a fixed refusal.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, _ []string) {
			rt.stderr = cmd.ErrOrStderr()
		},
	}
	if opts.Stdin != nil {
		root.SetIn(opts.Stdin)
	}
	if opts.Stdout != nil {
		root.SetOut(opts.Stdout)
	}
	if opts.Stderr != nil {
		root.SetErr(opts.Stderr)
	}
	root.PersistentFlags().BoolVarP(&rt.verbose, "verbose", "v", false, "Write structured logs to stderr")

	root.AddCommand(newAskCommand(rt))
	root.AddCommand(newREPLCommand(rt))
	root.AddCommand(newSchemaCommand(rt))
	root.AddCommand(newDatasetCommand(rt))
	root.AddCommand(newRemoteCommand(rt))
	return root
}

func (rt *runtime) config() (config.Config, error) {
	if rt.cfg != nil {
		return *rt.cfg, nil
	}
	cfg, err := rt.opts.LoadConfig()
	if err != nil {
		return config.Config{}, err
	}
	rt.cfg = &cfg
	return cfg, nil
}

// logger returns nil unless --verbose is set, so command output stays clean.
func (rt *runtime) logger(cfg config.Config) *slog.Logger {
	if !rt.verbose || rt.stderr == nil {
		return nil
	}
	return observability.NewLogger(cfg, rt.stderr)
}

func (rt *runtime) open(ctx context.Context) (Session, func() error, error) {
	cfg, err := rt.config()
	if err != nil {
		return nil, nil, err
	}
	return rt.opts.Open(ctx, cfg, rt.logger(cfg))
}

func openApp(ctx context.Context, cfg config.Config, logger *slog.Logger) (Session, func() error, error) {
	a, err := app.Build(ctx, cfg, logger)
	if err != nil {
		return nil, nil, err
	}
	return a.Pipeline, a.Close, nil
}
