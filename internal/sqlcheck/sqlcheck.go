package sqlcheck

import (
	"fmt"
	"strings"
)

// Rule names reported in violation descriptors.
const (
	RuleEmpty              = "empty_statement"
	RuleNotReadOnly        = "not_read_only"
	RuleMultipleStatements = "multiple_statements"
	RuleForbiddenKeyword   = "forbidden_keyword"
	RuleMalformed          = "malformed_statement"
)

// forbiddenKeywords are rejected when they appear as bare top-level words,
// outside string literals, quoted identifiers, and comments.
var forbiddenKeywords = map[string]struct{}{
	"delete":   {},
	"drop":     {},
	"update":   {},
	"insert":   {},
	"alter":    {},
	"truncate": {},
	"grant":    {},
	"create":   {},
}

type Violation struct {
	Rule     string `json:"rule"`
	Fragment string `json:"fragment"`
	Message  string `json:"message"`
}

func (v Violation) String() string {
	return fmt.Sprintf("%s: %s", v.Rule, v.Message)
}

type Result struct {
	// SQL is the normalized statement: trailing semicolons stripped and a
	// row-limit wrapper applied when no top-level LIMIT was present. Only
	// meaningful when Violations is empty.
	SQL           string
	Violations    []Violation
	LimitInjected bool
}

// Validate statically checks a generated statement for read-only safety.
// It is deterministic and performs no I/O.
func Validate(sqlText string, maxRows int) Result {
	normalized := stripTrailingSemicolons(sqlText)
	if normalized == "" {
		return Result{Violations: []Violation{{
			Rule:    RuleEmpty,
			Message: "statement is empty",
		}}}
	}

	tokens, scanErr := scanTopLevel(normalized)
	var violations []Violation
	if scanErr != nil {
		violations = append(violations, Violation{
			Rule:     RuleMalformed,
			Fragment: truncateFragment(normalized),
			Message:  scanErr.Error(),
		})
	}

	// A statement that opens with a forbidden keyword gets the keyword
	// violation alone; reporting not_read_only as well would be redundant.
	if !startsReadOnly(tokens) && !startsForbidden(tokens) {
		violations = append(violations, Violation{
			Rule:     RuleNotReadOnly,
			Fragment: firstWord(normalized),
			Message:  "only SELECT/WITH statements are allowed",
		})
	}

	for _, token := range tokens {
		if token.kind == tokenSemicolon {
			violations = append(violations, Violation{
				Rule:     RuleMultipleStatements,
				Fragment: ";",
				Message:  "statement must be a single statement",
			})
			break
		}
	}

	seen := map[string]struct{}{}
	for _, token := range tokens {
		if token.kind != tokenWord || token.depth != 0 {
			continue
		}
		word := strings.ToLower(token.text)
		if _, forbidden := forbiddenKeywords[word]; !forbidden {
			continue
		}
		if _, dup := seen[word]; dup {
			continue
		}
		seen[word] = struct{}{}
		violations = append(violations, Violation{
			Rule:     RuleForbiddenKeyword,
			Fragment: strings.ToUpper(word),
			Message:  fmt.Sprintf("forbidden keyword %s in a read-only statement", strings.ToUpper(word)),
		})
	}

	if len(violations) > 0 {
		return Result{Violations: violations}
	}

	result := Result{SQL: normalized}
	if maxRows > 0 && !hasTopLevelLimit(tokens) {
		result.SQL = fmt.Sprintf("SELECT * FROM (%s) AS q LIMIT %d", normalized, maxRows)
		result.LimitInjected = true
	}
	return result
}

func startsReadOnly(tokens []token) bool {
	for _, t := range tokens {
		if t.kind != tokenWord {
			continue
		}
		word := strings.ToLower(t.text)
		return word == "select" || word == "with"
	}
	return false
}

func startsForbidden(tokens []token) bool {
	for _, t := range tokens {
		if t.kind != tokenWord {
			continue
		}
		_, forbidden := forbiddenKeywords[strings.ToLower(t.text)]
		return forbidden
	}
	return false
}

func hasTopLevelLimit(tokens []token) bool {
	for _, t := range tokens {
		if t.kind == tokenWord && t.depth == 0 && strings.EqualFold(t.text, "limit") {
			return true
		}
	}
	return false
}

func firstWord(sqlText string) string {
	fields := strings.Fields(sqlText)
	if len(fields) == 0 {
		return ""
	}
	return fields[0]
}

func truncateFragment(sqlText string) string {
	const max = 80
	if len(sqlText) <= max {
		return sqlText
	}
	return sqlText[:max]
}

func stripTrailingSemicolons(sqlText string) string {
	trimmed := strings.TrimSpace(sqlText)
	for strings.HasSuffix(trimmed, ";") {
		trimmed = strings.TrimSpace(strings.TrimSuffix(trimmed, ";"))
	}
	return trimmed
}
