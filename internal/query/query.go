// Package query runs validated read-only SQL against the relational store.
package query

import (
	"context"
	"errors"
	"fmt"
	"time"
)

const DefaultRowCap = 50

var ErrNotReadOnly = errors.New("statement is not read-only")

type Request struct {
	SQL     string
	RowCap  int
	Timeout time.Duration
}

type Result struct {
	Columns   []string
	Rows      [][]any
	RowCount  int
	Truncated bool
	Duration  time.Duration
}

type Field struct {
	Column string
	Value  any
}

// Record is one row as column/value pairs in select-list order.
type Record []Field

func (r Result) Records() []Record {
	out := make([]Record, 0, len(r.Rows))
	for _, row := range r.Rows {
		record := make(Record, 0, len(row))
		for i, value := range row {
			column := ""
			if i < len(r.Columns) {
				column = r.Columns[i]
			}
			record = append(record, Field{Column: column, Value: value})
		}
		out = append(out, record)
	}
	return out
}

// Executor runs one read-only statement per call. Implementations must be
// safe for concurrent use.
type Executor interface {
	ExecuteReadOnly(ctx context.Context, request Request) (Result, error)
	Ping(ctx context.Context) error
}

// ExecError is the failure value of an execution. Message is the database
// text and is meant for the model, never for end users.
type ExecError struct {
	Message string
	Timeout bool
	Err     error
}

func (e *ExecError) Error() string {
	if e.Timeout {
		return fmt.Sprintf("query timed out: %s", e.Message)
	}
	return fmt.Sprintf("query failed: %s", e.Message)
}

func (e *ExecError) Unwrap() error {
	return e.Err
}
