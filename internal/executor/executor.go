package executor

import (
	"context"
	"fmt"
	"time"
)

// ErrorKind classifies executor failures for routing decisions. Only
// KindConnection is non-repairable; the rest may be fixed by a new statement.
type ErrorKind string

const (
	KindTimeout    ErrorKind = "timeout"
	KindSyntax     ErrorKind = "syntax_rejected"
	KindConnection ErrorKind = "connection_failure"
	KindUnknown    ErrorKind = "unknown"
)

type Error struct {
	Kind    ErrorKind
	Message string
}

func (e *Error) Error() string {
	return fmt.Sprintf("executor %s: %s", e.Kind, e.Message)
}

type Request struct {
	SQL      string
	TenantID string
	RowCap   int
	Timeout  time.Duration
}

type Result struct {
	Columns  []string
	Rows     [][]any
	RowCount int
	Elapsed  time.Duration
}

type Executor interface {
	Execute(ctx context.Context, request Request) (Result, error)
}
