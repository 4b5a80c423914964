package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-playground/validator/v10"
	"golang.org/x/sync/semaphore"

	"github.com/askdb/askdb/internal/auth"
	"github.com/askdb/askdb/internal/observability"
	"github.com/askdb/askdb/internal/pipeline"
)

const maxAnswerBody = 16 << 10

var requestValidator = validator.New(validator.WithRequiredStructEnabled())

type answerRequest struct {
	Question string `json:"question" validate:"required,max=2000"`
}

type answerResponse struct {
	Answer    string           `json:"answer"`
	Outcome   pipeline.Outcome `json:"outcome"`
	SQL       string           `json:"sql,omitempty"`
	RunID     string           `json:"run_id"`
	Attempts  int              `json:"attempts"`
	Truncated bool             `json:"truncated"`
	TraceID   string           `json:"trace_id"`
}

type answerHandler struct {
	deps  Dependencies
	slots *semaphore.Weighted
}

func (h *answerHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.deps.Answerer == nil {
		writeError(ctx, w, http.StatusNotImplemented, "ANSWER_NOT_CONFIGURED", "answer pipeline is not configured", false, nil)
		return
	}
	if err := auth.RequireRole(r, auth.RoleAsker); err != nil {
		writeError(ctx, w, http.StatusForbidden, "FORBIDDEN", err.Error(), false, nil)
		return
	}

	var request answerRequest
	decoder := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxAnswerBody))
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&request); err != nil {
		writeError(ctx, w, http.StatusBadRequest, "INVALID_JSON", "invalid answer request body", false, map[string]any{"details": err.Error()})
		return
	}
	if err := requestValidator.Struct(request); err != nil {
		writeError(ctx, w, http.StatusBadRequest, "INVALID_REQUEST", "question is required and must be at most 2000 characters", false, validationDetails(err))
		return
	}

	if h.slots != nil {
		if err := h.slots.Acquire(ctx, 1); err != nil {
			writeError(ctx, w, http.StatusServiceUnavailable, "ANSWER_CANCELLED", "request cancelled while waiting for a free answer slot", true, nil)
			return
		}
		defer h.slots.Release(1)
	}
	observability.AddInFlightAnswers(1)
	defer observability.AddInFlightAnswers(-1)

	answer := h.deps.Answerer.Answer(ctx, request.Question)
	if h.deps.Logger != nil {
		h.deps.Logger.DebugContext(ctx, "answer_served",
			slog.String("trace_id", observability.TraceIDFromContext(ctx)),
			slog.String("run_id", answer.RunID),
			slog.String("outcome", string(answer.Outcome)),
		)
	}
	writeJSON(w, http.StatusOK, answerResponse{
		Answer:    answer.Text,
		Outcome:   answer.Outcome,
		SQL:       answer.SQL,
		RunID:     answer.RunID,
		Attempts:  answer.Attempts,
		Truncated: answer.Truncated,
		TraceID:   observability.TraceIDFromContext(ctx),
	})
}

func validationDetails(err error) map[string]any {
	var fieldErrors validator.ValidationErrors
	if !errors.As(err, &fieldErrors) {
		return map[string]any{"details": err.Error()}
	}
	fields := make([]map[string]string, 0, len(fieldErrors))
	for _, fieldErr := range fieldErrors {
		fields = append(fields, map[string]string{
			"field": fieldErr.Field(),
			"rule":  fieldErr.Tag(),
		})
	}
	return map[string]any{"fields": fields}
}
