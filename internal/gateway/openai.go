package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

type OpenAIConfig struct {
	BaseURL     string
	APIKey      string
	Model       string
	Temperature float64
	Timeout     time.Duration
}

// OpenAIGateway talks to any OpenAI-compatible chat-completions endpoint.
type OpenAIGateway struct {
	baseURL     string
	apiKey      string
	model       string
	temperature float64
	client      *http.Client
}

func NewOpenAIGateway(cfg OpenAIConfig) (*OpenAIGateway, error) {
	if strings.TrimSpace(cfg.BaseURL) == "" {
		return nil, fmt.Errorf("base URL is required")
	}
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, fmt.Errorf("api key is required")
	}
	model := strings.TrimSpace(cfg.Model)
	if model == "" {
		model = "gpt-5"
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &OpenAIGateway{
		baseURL:     strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/"),
		apiKey:      strings.TrimSpace(cfg.APIKey),
		model:       model,
		temperature: cfg.Temperature,
		client:      &http.Client{Timeout: timeout},
	}, nil
}

func (g *OpenAIGateway) Generate(ctx context.Context, req Request) (Output, error) {
	payload, err := buildChatPayload(g.model, g.temperature, req)
	if err != nil {
		return Output{}, err
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return Output{}, fmt.Errorf("marshal chat payload: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, g.baseURL+"/v1/chat/completions", bytes.NewReader(body))
	if err != nil {
		return Output{}, fmt.Errorf("build chat request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+g.apiKey)

	resp, err := g.client.Do(httpReq)
	if err != nil {
		return Output{}, fmt.Errorf("request chat completion: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	rawRespBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return Output{}, fmt.Errorf("read chat response body: %w", err)
	}
	if resp.StatusCode >= 400 {
		return Output{}, fmt.Errorf("chat completion failed status=%d body=%s", resp.StatusCode, string(rawRespBody))
	}

	var parsed struct {
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
	}
	if err := json.Unmarshal(rawRespBody, &parsed); err != nil {
		return Output{}, fmt.Errorf("decode chat completion response: %w", err)
	}
	if len(parsed.Choices) == 0 {
		return Output{}, fmt.Errorf("empty chat completion choices: %w", ErrMalformedOutput)
	}

	text := strings.TrimSpace(parsed.Choices[0].Message.Content)
	if req.Task == TaskGenerate || req.Task == TaskRepair {
		text = StripMarkdownSQL(text)
	}
	if text == "" {
		return Output{}, fmt.Errorf("model returned empty content for task %q: %w", req.Task, ErrMalformedOutput)
	}
	return Output{
		Text:     text,
		Provider: "openai-compatible",
		Model:    g.model,
	}, nil
}

func buildChatPayload(model string, temperature float64, req Request) (map[string]any, error) {
	system, user, err := promptForTask(req)
	if err != nil {
		return nil, err
	}
	return map[string]any{
		"model": model,
		"messages": []map[string]string{
			{"role": "system", "content": system},
			{"role": "user", "content": user},
		},
		"temperature": temperature,
	}, nil
}

func promptForTask(req Request) (system string, user string, err error) {
	question := strings.TrimSpace(req.Question)
	switch req.Task {
	case TaskClassify:
		system = "You label business questions with exactly one word: simple, complex, investigate, or clarify. Output only the label."
		user = fmt.Sprintf("Prior conversation:\n%s\n\nQuestion:\n%s", req.Conversation, question)
	case TaskGenerate:
		system = "You convert business questions into a single read-only SQL query over the provided schema. " +
			"Return ONLY SQL. No markdown, no explanation."
		user = fmt.Sprintf(
			"Tenant: %s\nSchema context:\n%s\n\nExamples:\n%s\n\nUser context:\n%s\n\nQuestion:\n%s\n\nRules:\n- SELECT or WITH only.\n- Use only listed tables.\n- Prefer explicit columns.\n- Output a single SQL query only.",
			req.TenantID, req.SchemaContext, req.Examples, req.UserContext, question,
		)
	case TaskRepair:
		system = "You fix a broken SQL query given the failure detail. Return ONLY the corrected read-only SQL. No markdown, no explanation."
		user = fmt.Sprintf(
			"Schema context:\n%s\n\nOriginal question:\n%s\n\nBroken SQL:\n%s\n\nFailure:\n%s",
			req.SchemaContext, question, req.SQL, req.FailureDetail,
		)
	case TaskSummarize:
		system = "You write a short narrative insight about a query result for a business user. Two sentences maximum. Plain text only."
		user = fmt.Sprintf("Question:\n%s\n\nSQL:\n%s\n\nResult:\n%s", question, req.SQL, req.ResultSummary)
	default:
		return "", "", fmt.Errorf("unknown gateway task %q", req.Task)
	}
	return system, user, nil
}

// StripMarkdownSQL removes a surrounding markdown code fence if present.
func StripMarkdownSQL(value string) string {
	trimmed := strings.TrimSpace(value)
	if strings.HasPrefix(trimmed, "```") {
		trimmed = strings.TrimPrefix(trimmed, "```sql")
		trimmed = strings.TrimPrefix(trimmed, "```")
		trimmed = strings.TrimSuffix(trimmed, "```")
		return strings.TrimSpace(trimmed)
	}
	return trimmed
}
