// Package pipeline answers a natural-language question by moving a State
// through gate, synthesis, validation, execution and response stages.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/askdb/askdb/internal/completion"
	"github.com/askdb/askdb/internal/config"
	"github.com/askdb/askdb/internal/observability"
	"github.com/askdb/askdb/internal/query"
	"github.com/askdb/askdb/internal/schema"
	"github.com/askdb/askdb/internal/sqlguard"
)

const (
	maxSteps        = 32
	maxGateAttempts = 2
)

type Options struct {
	Schema *schema.Schema
	// SchemaText defaults to schema.Describe(Schema).
	SchemaText string
	Executor   query.Executor
	Completer  completion.Completer
	// Dialect names the SQL flavour in prompts: sqlite, postgres or duckdb.
	Dialect  string
	GateMode string

	RowCap       int
	QueryTimeout time.Duration

	MaxValidationRetries int
	MaxExecutionRetries  int

	Logger *slog.Logger
}

type stepFunc func(ctx context.Context, st *State) Stage

// Pipeline is safe for concurrent use. Every Answer call owns its State.
type Pipeline struct {
	schema      *schema.Schema
	schemaText  string
	executor    query.Executor
	gate        *Gate
	synthesizer *Synthesizer
	validator   *sqlguard.Validator
	responder   *Responder

	rowCap               int
	queryTimeout         time.Duration
	maxValidationRetries int
	maxExecutionRetries  int

	steps  map[Stage]stepFunc
	logger *slog.Logger
}

func New(opts Options) (*Pipeline, error) {
	if opts.Schema == nil || len(opts.Schema.Tables) == 0 {
		return nil, fmt.Errorf("schema with at least one table is required")
	}
	if opts.Executor == nil {
		return nil, fmt.Errorf("executor is required")
	}
	if opts.Completer == nil {
		return nil, fmt.Errorf("completer is required")
	}
	gateMode := opts.GateMode
	if gateMode == "" {
		gateMode = config.GateHybrid
	}
	gate, err := NewGate(gateMode, opts.Schema, opts.Completer)
	if err != nil {
		return nil, err
	}
	schemaText := opts.SchemaText
	if schemaText == "" {
		schemaText = schema.Describe(opts.Schema)
	}
	rowCap := opts.RowCap
	if rowCap <= 0 {
		rowCap = query.DefaultRowCap
	}

	p := &Pipeline{
		schema:               opts.Schema,
		schemaText:           schemaText,
		executor:             opts.Executor,
		gate:                 gate,
		synthesizer:          NewSynthesizer(opts.Completer, opts.Dialect),
		validator:            sqlguard.New(opts.Schema),
		responder:            NewResponder(opts.Completer),
		rowCap:               rowCap,
		queryTimeout:         opts.QueryTimeout,
		maxValidationRetries: max(opts.MaxValidationRetries, 0),
		maxExecutionRetries:  max(opts.MaxExecutionRetries, 0),
		logger:               observability.LoggerOrDiscard(opts.Logger),
	}
	p.steps = map[Stage]stepFunc{
		StageStart:      p.stepStart,
		StageGate:       p.stepGate,
		StageSynthesize: p.stepSynthesize,
		StageValidate:   p.stepValidate,
		StageExecute:    p.stepExecute,
		StageRespond:    p.stepRespond,
		StageRefuse:     p.stepRefuse,
		StageFail:       p.stepFail,
	}
	return p, nil
}

func (p *Pipeline) Schema() *schema.Schema {
	return p.schema
}

func (p *Pipeline) SchemaText() string {
	return p.schemaText
}

// Answer runs one question to completion. It always returns non-empty text;
// domain failures become the refusal or apology wording.
func (p *Pipeline) Answer(ctx context.Context, question string) Answer {
	start := time.Now()
	st := &State{
		RunID:    uuid.NewString(),
		Question: question,
		Stage:    StageStart,
	}
	ctx = observability.ContextWithRunID(ctx, st.RunID)

	for st.Stage != StageEnd {
		if st.Steps >= maxSteps && st.Stage != StageFail {
			st.Failure = FailureStepLimit
			st.Stage = StageFail
		}
		if ctx.Err() != nil && st.Stage != StageFail && st.Stage != StageRefuse {
			st.Failure = FailureCancelled
			st.Stage = StageFail
		}
		step, ok := p.steps[st.Stage]
		if !ok {
			st.Failure = FailureStepLimit
			step = p.stepFail
		}
		stageStart := time.Now()
		stage := st.Stage
		next := step(ctx, st)
		elapsed := time.Since(stageStart)
		observability.ObserveStage(string(stage), elapsed)
		p.logger.DebugContext(ctx, "pipeline_step",
			slog.String("run_id", st.RunID),
			slog.String("stage", string(stage)),
			slog.String("next", string(next)),
			slog.String("duration", elapsed.String()),
		)
		st.Stage = next
		st.Steps++
	}

	if strings.TrimSpace(st.Answer) == "" {
		st.Answer = FailureAnswer
		st.Outcome = OutcomeFailed
	}
	elapsed := time.Since(start)
	observability.ObserveAnswer(string(st.Outcome), elapsed)
	attrs := []any{
		slog.String("run_id", st.RunID),
		slog.String("outcome", string(st.Outcome)),
		slog.Int("attempts", st.Attempt),
		slog.String("duration", elapsed.String()),
	}
	if st.Failure != FailureNone {
		attrs = append(attrs, slog.String("failure", string(st.Failure)))
	}
	p.logger.InfoContext(ctx, "question_answered", attrs...)
	return st.answer()
}

func (p *Pipeline) stepStart(_ context.Context, st *State) Stage {
	st.Question = strings.TrimSpace(st.Question)
	if st.Question == "" {
		st.Failure = FailureEmptyQuestion
		return StageFail
	}
	return StageGate
}

func (p *Pipeline) stepGate(ctx context.Context, st *State) Stage {
	st.GateAttempts++
	relevance, err := p.gate.Assess(ctx, st.Question, p.schemaText)
	if err != nil {
		if st.GateAttempts < maxGateAttempts {
			return StageGate
		}
		st.Failure = FailureGenerationUnavailable
		return StageFail
	}
	if relevance == Irrelevant {
		return StageRefuse
	}
	return StageSynthesize
}

func (p *Pipeline) stepSynthesize(ctx context.Context, st *State) Stage {
	st.Attempt++
	candidate, err := p.synthesizer.Synthesize(ctx, st.Question, p.schemaText, st.Hint)
	switch {
	case errors.Is(err, ErrNotAnswerable):
		return StageRefuse
	case errors.Is(err, completion.ErrUnavailable):
		st.Failure = FailureGenerationUnavailable
		return StageFail
	case err != nil:
		st.Failure = FailureExtraction
		return StageFail
	}
	candidate.Attempt = st.Attempt
	st.Candidate = &candidate
	st.Verdict = nil
	st.Result = nil
	st.ExecErr = nil
	return StageValidate
}

func (p *Pipeline) stepValidate(ctx context.Context, st *State) Stage {
	verdict := p.validator.Validate(st.Candidate.SQL)
	st.Verdict = &verdict
	if verdict.Accepted {
		return StageExecute
	}
	observability.IncrementValidationRejection(string(verdict.Reason))
	p.logger.InfoContext(ctx, "candidate_rejected",
		slog.String("run_id", st.RunID),
		slog.String("reason", string(verdict.Reason)),
		slog.String("detail", verdict.Detail),
		slog.Int("attempt", st.Attempt),
	)
	if verdict.Reason.Retryable() && st.ValidationRetries < p.maxValidationRetries {
		st.ValidationRetries++
		st.Hint = fmt.Sprintf("The previous query was rejected: %s: %s. Use only tables and columns from the schema.",
			verdict.Reason, verdict.Detail)
		return StageSynthesize
	}
	st.Failure = FailureValidation
	return StageFail
}

func (p *Pipeline) stepExecute(ctx context.Context, st *State) Stage {
	if st.Candidate == nil || st.Verdict == nil || !st.Verdict.Accepted {
		st.Failure = FailureValidation
		return StageFail
	}
	result, err := p.executor.ExecuteReadOnly(ctx, query.Request{
		SQL:     st.Candidate.SQL,
		RowCap:  p.rowCap,
		Timeout: p.queryTimeout,
	})
	if err != nil {
		if errors.Is(err, query.ErrNotReadOnly) {
			st.Failure = FailureValidation
			return StageFail
		}
		st.ExecErr = err
		if st.ExecutionRetries < p.maxExecutionRetries {
			st.ExecutionRetries++
			st.Hint = fmt.Sprintf("The previous query failed in the database: %s. Write a corrected query.", execMessage(err))
			return StageSynthesize
		}
		return StageRespond
	}
	st.Result = &result
	st.ExecErr = nil
	return StageRespond
}

func (p *Pipeline) stepRespond(ctx context.Context, st *State) Stage {
	st.Answer, st.Outcome = p.responder.Respond(ctx, st.Question, st.Candidate, st.Result, st.ExecErr)
	return StageEnd
}

func (p *Pipeline) stepRefuse(_ context.Context, st *State) Stage {
	st.Answer = RefusalAnswer
	st.Outcome = OutcomeRefused
	return StageEnd
}

func (p *Pipeline) stepFail(_ context.Context, st *State) Stage {
	st.Failed = true
	st.Answer = FailureAnswer
	st.Outcome = OutcomeFailed
	return StageEnd
}

func execMessage(err error) string {
	var execErr *query.ExecError
	if errors.As(err, &execErr) {
		return execErr.Message
	}
	return err.Error()
}
