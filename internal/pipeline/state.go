package pipeline

import (
	"github.com/askdb/askdb/internal/query"
	"github.com/askdb/askdb/internal/sqlguard"
)

type Stage string

const (
	StageStart      Stage = "start"
	StageGate       Stage = "gate"
	StageSynthesize Stage = "synthesize"
	StageValidate   Stage = "validate"
	StageExecute    Stage = "execute"
	StageRespond    Stage = "respond"
	StageRefuse     Stage = "refuse"
	StageFail       Stage = "fail"
	StageEnd        Stage = "end"
)

type Outcome string

const (
	OutcomeAnswered        Outcome = "answered"
	OutcomeNoData          Outcome = "no_data"
	OutcomeRefused         Outcome = "refused"
	OutcomeFailed          Outcome = "failed"
	OutcomeExecutionFailed Outcome = "execution_failed"
)

// FailureKind records why a run ended in the fail stage.
type FailureKind string

const (
	FailureNone                  FailureKind = ""
	FailureEmptyQuestion         FailureKind = "empty_question"
	FailureGenerationUnavailable FailureKind = "generation_unavailable"
	FailureExtraction            FailureKind = "extraction"
	FailureValidation            FailureKind = "validation"
	FailureCancelled             FailureKind = "cancelled"
	FailureStepLimit             FailureKind = "step_limit"
)

const (
	RefusalAnswer         = "I don't know the answer to that question. I can only help with questions that can be answered using the available database."
	FailureAnswer         = "I'm sorry, I wasn't able to answer that question. Please try rephrasing it."
	NoDataAnswer          = "I couldn't find any matching data in the database for that question."
	ExecutionFailedAnswer = "I'm sorry, the database couldn't run the query needed to answer that question. Please try asking it a different way."
)

// Candidate is one synthesized statement. It is never executed before the
// validator accepts it.
type Candidate struct {
	Question string
	SQL      string
	Attempt  int
}

// State is the per-question record threaded through the stages. It is owned
// by a single Answer call.
type State struct {
	RunID    string
	Question string
	Stage    Stage

	Candidate *Candidate
	Verdict   *sqlguard.Verdict
	Result    *query.Result
	ExecErr   error

	// Hint is corrective context for the next synthesis attempt.
	Hint string

	Attempt           int
	GateAttempts      int
	ValidationRetries int
	ExecutionRetries  int
	Steps             int

	Failed  bool
	Failure FailureKind
	Answer  string
	Outcome Outcome
}

// Answer is what callers of Pipeline.Answer receive. Text is never empty.
type Answer struct {
	Text      string  `json:"answer"`
	Outcome   Outcome `json:"outcome"`
	SQL       string  `json:"sql,omitempty"`
	RunID     string  `json:"run_id"`
	Attempts  int     `json:"attempts"`
	Truncated bool    `json:"truncated"`
}

func (s *State) answer() Answer {
	out := Answer{
		Text:     s.Answer,
		Outcome:  s.Outcome,
		RunID:    s.RunID,
		Attempts: s.Attempt,
	}
	if s.Candidate != nil {
		out.SQL = s.Candidate.SQL
	}
	if s.Result != nil {
		out.Truncated = s.Result.Truncated
	}
	return out
}
