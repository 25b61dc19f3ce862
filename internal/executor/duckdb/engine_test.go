package duckdb

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/insightloop/insightloop/internal/executor"
)

func seedTenantDatabase(t *testing.T, dir, tenantID string) {
	t.Helper()
	db, err := sql.Open("duckdb", filepath.Join(dir, tenantID+".duckdb"))
	if err != nil {
		t.Fatalf("open seed db: %v", err)
	}
	defer func() { _ = db.Close() }()

	statements := []string{
		`CREATE TABLE orders (id INTEGER, region VARCHAR, amount DOUBLE, created_at DATE)`,
		`INSERT INTO orders VALUES (1, 'east', 120.5, DATE '2026-07-01'), (2, 'west', 80.0, DATE '2026-07-02'), (3, 'east', 42.0, DATE '2026-07-03')`,
	}
	for _, statement := range statements {
		if _, err := db.Exec(statement); err != nil {
			t.Fatalf("seed exec %q: %v", statement, err)
		}
	}
}

func TestExecuteReturnsRowsFromTenantDatabase(t *testing.T) {
	dir := t.TempDir()
	seedTenantDatabase(t, dir, "acme")
	engine := NewEngine(dir)

	result, err := engine.Execute(context.Background(), executor.Request{
		SQL:      "SELECT region, sum(amount) AS total FROM orders GROUP BY region ORDER BY region;",
		TenantID: "acme",
		RowCap:   10,
		Timeout:  5 * time.Second,
	})
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if len(result.Columns) != 2 {
		t.Fatalf("columns = %v", result.Columns)
	}
	if result.RowCount != 2 {
		t.Fatalf("RowCount = %d", result.RowCount)
	}
	if result.Rows[0][0] != "east" {
		t.Fatalf("first region = %#v", result.Rows[0][0])
	}
}

func TestExecuteEnforcesRowCap(t *testing.T) {
	dir := t.TempDir()
	seedTenantDatabase(t, dir, "acme")
	engine := NewEngine(dir)

	result, err := engine.Execute(context.Background(), executor.Request{
		SQL:      "SELECT id FROM orders ORDER BY id",
		TenantID: "acme",
		RowCap:   2,
	})
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if result.RowCount != 2 {
		t.Fatalf("RowCount = %d, want 2", result.RowCount)
	}
}

func TestExecuteMissingTenantDatabaseIsConnectionFailure(t *testing.T) {
	engine := NewEngine(t.TempDir())

	_, err := engine.Execute(context.Background(), executor.Request{SQL: "SELECT 1", TenantID: "ghost"})
	var execErr *executor.Error
	if !errors.As(err, &execErr) {
		t.Fatalf("Execute() error = %v, want *executor.Error", err)
	}
	if execErr.Kind != executor.KindConnection {
		t.Fatalf("Kind = %q, want %q", execErr.Kind, executor.KindConnection)
	}
}

func TestExecuteClassifiesSyntaxRejection(t *testing.T) {
	dir := t.TempDir()
	seedTenantDatabase(t, dir, "acme")
	engine := NewEngine(dir)

	_, err := engine.Execute(context.Background(), executor.Request{
		SQL:      "SELECT FROM WHERE",
		TenantID: "acme",
	})
	var execErr *executor.Error
	if !errors.As(err, &execErr) {
		t.Fatalf("Execute() error = %v, want *executor.Error", err)
	}
	if execErr.Kind != executor.KindSyntax {
		t.Fatalf("Kind = %q, want %q", execErr.Kind, executor.KindSyntax)
	}
}

func TestClassifyKinds(t *testing.T) {
	tests := []struct {
		err  error
		want executor.ErrorKind
	}{
		{fmt.Errorf("Parser Error: syntax error at or near"), executor.KindSyntax},
		{fmt.Errorf("Binder Error: column not found"), executor.KindSyntax},
		{fmt.Errorf("could not open database file"), executor.KindConnection},
		{fmt.Errorf("something odd happened"), executor.KindUnknown},
		{context.DeadlineExceeded, executor.KindTimeout},
	}
	for _, tt := range tests {
		err := classify(context.Background(), tt.err)
		var execErr *executor.Error
		if !errors.As(err, &execErr) {
			t.Fatalf("classify(%v) = %v, want *executor.Error", tt.err, err)
		}
		if execErr.Kind != tt.want {
			t.Fatalf("classify(%v) kind = %q, want %q", tt.err, execErr.Kind, tt.want)
		}
	}
}
