// Package completion talks to hosted language models. The rest of askdb
// treats text completion as an opaque call that either returns text or
// fails with ErrUnavailable.
package completion

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/askdb/askdb/internal/config"
	"github.com/askdb/askdb/internal/observability"
)

var ErrUnavailable = errors.New("text generation unavailable")

type Request struct {
	System    string
	Prompt    string
	MaxTokens int
}

type Completer interface {
	Complete(ctx context.Context, req Request) (string, error)
}

// Error reports a failed completion call. It matches ErrUnavailable.
type Error struct {
	Provider string
	Status   int
	Err      error
}

func (e *Error) Error() string {
	if e.Status > 0 {
		return fmt.Sprintf("%s completion failed status=%d: %v", e.Provider, e.Status, e.Err)
	}
	return fmt.Sprintf("%s completion failed: %v", e.Provider, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

func (e *Error) Is(target error) bool {
	return target == ErrUnavailable
}

// New builds the completer selected by cfg.Provider, wrapped with a per-call
// timeout, metrics and logging.
func New(cfg config.AIConfig, logger *slog.Logger) (Completer, error) {
	var (
		c   Completer
		err error
	)
	switch cfg.Provider {
	case config.ProviderOpenAI:
		c, err = NewOpenAI(OpenAIConfig{
			BaseURL:     cfg.BaseURL,
			APIKey:      cfg.APIKey,
			Model:       cfg.Model,
			Temperature: cfg.Temperature,
			Timeout:     cfg.Timeout,
		})
	case config.ProviderAnthropic:
		c, err = NewAnthropic(AnthropicConfig{
			BaseURL:     cfg.BaseURL,
			APIKey:      cfg.APIKey,
			Model:       cfg.Model,
			Temperature: cfg.Temperature,
			Timeout:     cfg.Timeout,
		})
	default:
		return nil, fmt.Errorf("unsupported completion provider %q", cfg.Provider)
	}
	if err != nil {
		return nil, err
	}
	return Instrument(cfg.Provider, c, cfg.Timeout, cfg.MaxTokens, logger), nil
}

type instrumented struct {
	provider  string
	next      Completer
	timeout   time.Duration
	maxTokens int
	logger    *slog.Logger
}

// Instrument decorates next with a call timeout, a default token budget,
// prometheus counters and debug logs.
func Instrument(provider string, next Completer, timeout time.Duration, maxTokens int, logger *slog.Logger) Completer {
	return &instrumented{
		provider:  provider,
		next:      next,
		timeout:   timeout,
		maxTokens: maxTokens,
		logger:    observability.LoggerOrDiscard(logger),
	}
}

func (i *instrumented) Complete(ctx context.Context, req Request) (string, error) {
	if req.MaxTokens <= 0 {
		req.MaxTokens = i.maxTokens
	}
	if i.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, i.timeout)
		defer cancel()
	}
	start := time.Now()
	text, err := i.next.Complete(ctx, req)
	observability.IncrementCompletion(i.provider, err)
	if err != nil {
		if !errors.Is(err, ErrUnavailable) {
			err = &Error{Provider: i.provider, Err: err}
		}
		i.logger.WarnContext(ctx, "completion_failed",
			slog.String("run_id", observability.RunIDFromContext(ctx)),
			slog.String("provider", i.provider),
			slog.String("error", err.Error()),
		)
		return "", err
	}
	i.logger.DebugContext(ctx, "completion",
		slog.String("run_id", observability.RunIDFromContext(ctx)),
		slog.String("provider", i.provider),
		slog.Int("prompt_chars", len(req.Prompt)),
		slog.Int("response_chars", len(text)),
		slog.String("duration", time.Since(start).String()),
	)
	return text, nil
}
