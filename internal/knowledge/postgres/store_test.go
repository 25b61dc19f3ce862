package postgres

import (
	"context"
	"database/sql"
	"errors"
	"regexp"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"

	"github.com/insightloop/insightloop/internal/knowledge"
)

func newSQLMock(t *testing.T) (*sql.DB, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New() error = %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db, mock
}

func assertSQLMock(t *testing.T, mock sqlmock.Sqlmock) {
	t.Helper()
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet sqlmock expectations: %v", err)
	}
}

func TestUpsertSchemaTable(t *testing.T) {
	db, mock := newSQLMock(t)
	store := NewStore(db)

	mock.ExpectExec("INSERT INTO schema_table ").
		WithArgs("acme", "orders", "CREATE TABLE orders (id INTEGER)", "sales orders").
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := store.UpsertSchemaTable(context.Background(), knowledge.SchemaTable{
		TenantID:    "acme",
		TableName:   "orders",
		DDL:         "CREATE TABLE orders (id INTEGER)",
		Description: "sales orders",
	})
	if err != nil {
		t.Fatalf("UpsertSchemaTable() error = %v", err)
	}
	assertSQLMock(t, mock)
}

func TestListSchemaTables(t *testing.T) {
	db, mock := newSQLMock(t)
	store := NewStore(db)
	now := time.Now()

	mock.ExpectQuery("SELECT .+ FROM schema_table").
		WithArgs("acme").
		WillReturnRows(sqlmock.NewRows([]string{"tenant_id", "table_name", "ddl", "description", "updated_at"}).
			AddRow("acme", "customers", "CREATE TABLE customers (id INTEGER)", "", now).
			AddRow("acme", "orders", "CREATE TABLE orders (id INTEGER)", "sales orders", now))

	tables, err := store.ListSchemaTables(context.Background(), "acme")
	if err != nil {
		t.Fatalf("ListSchemaTables() error = %v", err)
	}
	if len(tables) != 2 || tables[1].Description != "sales orders" {
		t.Fatalf("tables = %+v", tables)
	}
	assertSQLMock(t, mock)
}

func TestListExamplesUsesDefaultLimit(t *testing.T) {
	db, mock := newSQLMock(t)
	store := NewStore(db)
	now := time.Now()

	mock.ExpectQuery("SELECT .+ FROM few_shot_example").
		WithArgs("acme", 50).
		WillReturnRows(sqlmock.NewRows([]string{"tenant_id", "question", "sql_text", "created_at"}).
			AddRow("acme", "revenue by region", "SELECT region, sum(amount) FROM orders GROUP BY region", now))

	examples, err := store.ListExamples(context.Background(), "acme", 0)
	if err != nil {
		t.Fatalf("ListExamples() error = %v", err)
	}
	if len(examples) != 1 || examples[0].Question != "revenue by region" {
		t.Fatalf("examples = %+v", examples)
	}
	assertSQLMock(t, mock)
}

func TestGetProfileReturnsNotFound(t *testing.T) {
	db, mock := newSQLMock(t)
	store := NewStore(db)

	mock.ExpectQuery(regexp.QuoteMeta(`
SELECT tenant_id, user_id, notes, updated_at
FROM user_profile
WHERE tenant_id = $1 AND user_id = $2`)).
		WithArgs("acme", "missing").
		WillReturnError(sql.ErrNoRows)

	_, err := store.GetProfile(context.Background(), "acme", "missing")
	if !errors.Is(err, knowledge.ErrNotFound) {
		t.Fatalf("error = %v, want %v", err, knowledge.ErrNotFound)
	}
	assertSQLMock(t, mock)
}
