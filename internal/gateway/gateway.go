package gateway

import (
	"context"
	"errors"
)

// Task names the kind of structured output a stage wants from the model.
type Task string

const (
	TaskClassify  Task = "classify"
	TaskGenerate  Task = "generate"
	TaskRepair    Task = "repair"
	TaskSummarize Task = "summarize"
)

type Request struct {
	Task          Task   `json:"task"`
	TenantID      string `json:"tenant_id"`
	Question      string `json:"question"`
	Conversation  string `json:"conversation,omitempty"`
	SchemaContext string `json:"schema_context,omitempty"`
	Examples      string `json:"examples,omitempty"`
	UserContext   string `json:"user_context,omitempty"`
	SQL           string `json:"sql,omitempty"`
	FailureDetail string `json:"failure_detail,omitempty"`
	ResultSummary string `json:"result_summary,omitempty"`
}

type Output struct {
	Text     string `json:"text"`
	Provider string `json:"provider"`
	Model    string `json:"model"`
}

// ErrMalformedOutput reports that the model responded but the content was
// empty or unusable for the requested task.
var ErrMalformedOutput = errors.New("gateway: malformed model output")

type Gateway interface {
	Generate(ctx context.Context, req Request) (Output, error)
}
