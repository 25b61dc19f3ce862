package knowledge

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"
)

var ErrNotFound = errors.New("knowledge: not found")

// SchemaTable is one tenant table description used to ground SQL generation.
type SchemaTable struct {
	TenantID    string
	TableName   string
	DDL         string
	Description string
	UpdatedAt   time.Time
}

// Example pairs a past question with the SQL that answered it.
type Example struct {
	TenantID  string
	Question  string
	SQL       string
	CreatedAt time.Time
}

// Profile carries per-user context (role, vocabulary, preferences).
type Profile struct {
	TenantID  string
	UserID    string
	Notes     string
	UpdatedAt time.Time
}

type Store interface {
	HealthCheck(ctx context.Context) error
	UpsertSchemaTable(ctx context.Context, in SchemaTable) error
	ListSchemaTables(ctx context.Context, tenantID string) ([]SchemaTable, error)
	AddExample(ctx context.Context, in Example) error
	ListExamples(ctx context.Context, tenantID string, limit int) ([]Example, error)
	UpsertProfile(ctx context.Context, in Profile) error
	GetProfile(ctx context.Context, tenantID, userID string) (Profile, error)
}

// Provider adapts a Store to the three fetch-context lookups. Example
// selection is a plain keyword-overlap ranking over recent examples.
type Provider struct {
	Store       Store
	MaxExamples int
}

func NewProvider(store Store) *Provider {
	return &Provider{Store: store, MaxExamples: 3}
}

func (p *Provider) FetchSchema(ctx context.Context, tenantID string) (string, error) {
	tables, err := p.Store.ListSchemaTables(ctx, tenantID)
	if err != nil {
		return "", fmt.Errorf("fetch schema context: %w", err)
	}
	var b strings.Builder
	for _, table := range tables {
		if table.Description != "" {
			fmt.Fprintf(&b, "-- %s\n", table.Description)
		}
		b.WriteString(strings.TrimSpace(table.DDL))
		b.WriteString("\n\n")
	}
	return strings.TrimSpace(b.String()), nil
}

func (p *Provider) FetchExamples(ctx context.Context, tenantID, question string) (string, error) {
	const candidatePool = 50
	examples, err := p.Store.ListExamples(ctx, tenantID, candidatePool)
	if err != nil {
		return "", fmt.Errorf("fetch example context: %w", err)
	}
	ranked := rankExamples(examples, question)
	max := p.MaxExamples
	if max <= 0 {
		max = 3
	}
	if len(ranked) > max {
		ranked = ranked[:max]
	}
	var b strings.Builder
	for _, example := range ranked {
		fmt.Fprintf(&b, "Q: %s\nA: %s\n\n", example.Question, example.SQL)
	}
	return strings.TrimSpace(b.String()), nil
}

func (p *Provider) FetchProfile(ctx context.Context, tenantID, userID string) (string, error) {
	profile, err := p.Store.GetProfile(ctx, tenantID, userID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return "", nil
		}
		return "", fmt.Errorf("fetch profile context: %w", err)
	}
	return profile.Notes, nil
}

// rankExamples orders by shared keyword count, recency breaking ties.
// Examples with no overlap are dropped unless nothing overlaps at all.
func rankExamples(examples []Example, question string) []Example {
	keywords := keywordSet(question)
	type scored struct {
		example Example
		score   int
	}
	ranked := make([]scored, 0, len(examples))
	anyOverlap := false
	for _, example := range examples {
		score := 0
		for word := range keywordSet(example.Question) {
			if _, ok := keywords[word]; ok {
				score++
			}
		}
		if score > 0 {
			anyOverlap = true
		}
		ranked = append(ranked, scored{example: example, score: score})
	}
	sort.SliceStable(ranked, func(i, j int) bool {
		if ranked[i].score != ranked[j].score {
			return ranked[i].score > ranked[j].score
		}
		return ranked[i].example.CreatedAt.After(ranked[j].example.CreatedAt)
	})
	out := make([]Example, 0, len(ranked))
	for _, entry := range ranked {
		if anyOverlap && entry.score == 0 {
			continue
		}
		out = append(out, entry.example)
	}
	return out
}

var stopwords = map[string]struct{}{
	"the": {}, "a": {}, "an": {}, "of": {}, "in": {}, "by": {}, "for": {},
	"to": {}, "and": {}, "or": {}, "is": {}, "are": {}, "what": {}, "how": {},
	"show": {}, "me": {}, "my": {}, "per": {},
}

func keywordSet(text string) map[string]struct{} {
	out := map[string]struct{}{}
	for _, field := range strings.Fields(strings.ToLower(text)) {
		word := strings.Trim(field, ".,?!:;\"'()")
		if len(word) < 2 {
			continue
		}
		if _, stop := stopwords[word]; stop {
			continue
		}
		out[word] = struct{}{}
	}
	return out
}
