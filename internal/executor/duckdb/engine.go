package duckdb

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "github.com/marcboeker/go-duckdb/v2"

	"github.com/insightloop/insightloop/internal/executor"
)

// Engine runs validated statements against a per-tenant DuckDB database file
// under DataDir. A missing or unopenable database is a connection failure,
// never a repair candidate.
type Engine struct {
	DataDir string
}

func NewEngine(dataDir string) *Engine {
	return &Engine{DataDir: dataDir}
}

func (e *Engine) Execute(ctx context.Context, request executor.Request) (executor.Result, error) {
	if strings.TrimSpace(request.SQL) == "" {
		return executor.Result{}, &executor.Error{Kind: executor.KindSyntax, Message: "sql is required"}
	}
	if strings.TrimSpace(request.TenantID) == "" {
		return executor.Result{}, &executor.Error{Kind: executor.KindConnection, Message: "tenant id is required"}
	}
	if e.DataDir == "" {
		return executor.Result{}, &executor.Error{Kind: executor.KindConnection, Message: "data dir is not configured"}
	}

	dbPath := filepath.Join(e.DataDir, sanitizeTenantComponent(request.TenantID)+".duckdb")
	if _, err := os.Stat(dbPath); err != nil {
		return executor.Result{}, &executor.Error{Kind: executor.KindConnection, Message: fmt.Sprintf("tenant database %q unavailable: %v", dbPath, err)}
	}

	db, err := sql.Open("duckdb", dbPath+"?access_mode=read_only")
	if err != nil {
		return executor.Result{}, &executor.Error{Kind: executor.KindConnection, Message: fmt.Sprintf("open tenant database: %v", err)}
	}
	defer func() { _ = db.Close() }()

	if request.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, request.Timeout)
		defer cancel()
	}

	sqlText := stripTrailingSemicolons(request.SQL)
	if request.RowCap > 0 {
		sqlText = fmt.Sprintf("SELECT * FROM (%s) AS q LIMIT %d", sqlText, request.RowCap)
	}

	start := time.Now()
	rows, err := db.QueryContext(ctx, sqlText)
	if err != nil {
		return executor.Result{}, classify(ctx, err)
	}
	defer func() { _ = rows.Close() }()

	columns, err := rows.Columns()
	if err != nil {
		return executor.Result{}, classify(ctx, err)
	}

	resultRows := make([][]any, 0)
	for rows.Next() {
		values := make([]any, len(columns))
		scanTargets := make([]any, len(columns))
		for i := range values {
			scanTargets[i] = &values[i]
		}
		if err := rows.Scan(scanTargets...); err != nil {
			return executor.Result{}, classify(ctx, err)
		}
		resultRows = append(resultRows, normalizeValues(values))
	}
	if err := rows.Err(); err != nil {
		return executor.Result{}, classify(ctx, err)
	}

	return executor.Result{
		Columns:  columns,
		Rows:     resultRows,
		RowCount: len(resultRows),
		Elapsed:  time.Since(start),
	}, nil
}

func classify(ctx context.Context, err error) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return &executor.Error{Kind: executor.KindTimeout, Message: err.Error()}
	}
	if errors.Is(err, context.Canceled) || errors.Is(ctx.Err(), context.Canceled) {
		return &executor.Error{Kind: executor.KindTimeout, Message: err.Error()}
	}
	message := err.Error()
	lowered := strings.ToLower(message)
	switch {
	case strings.Contains(lowered, "parser error"),
		strings.Contains(lowered, "syntax error"),
		strings.Contains(lowered, "binder error"),
		strings.Contains(lowered, "catalog error"):
		return &executor.Error{Kind: executor.KindSyntax, Message: message}
	case strings.Contains(lowered, "database") && strings.Contains(lowered, "open"),
		strings.Contains(lowered, "connection"):
		return &executor.Error{Kind: executor.KindConnection, Message: message}
	default:
		return &executor.Error{Kind: executor.KindUnknown, Message: message}
	}
}

func normalizeValues(values []any) []any {
	normalized := make([]any, len(values))
	for i, value := range values {
		switch typed := value.(type) {
		case []byte:
			normalized[i] = string(typed)
		default:
			normalized[i] = typed
		}
	}
	return normalized
}

func sanitizeTenantComponent(value string) string {
	value = strings.ReplaceAll(value, "/", "_")
	value = strings.ReplaceAll(value, "..", "_")
	if value == "" {
		return "tenant"
	}
	return value
}

func stripTrailingSemicolons(sqlText string) string {
	trimmed := strings.TrimSpace(sqlText)
	for strings.HasSuffix(trimmed, ";") {
		trimmed = strings.TrimSpace(strings.TrimSuffix(trimmed, ";"))
	}
	return trimmed
}
