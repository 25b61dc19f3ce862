package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/insightloop/insightloop/internal/knowledge"
)

type Store struct {
	db *sql.DB
}

func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

func (s *Store) HealthCheck(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return fmt.Errorf("ping knowledge db: %w", err)
	}
	return nil
}

func (s *Store) UpsertSchemaTable(ctx context.Context, in knowledge.SchemaTable) error {
	query := `
INSERT INTO schema_table (tenant_id, table_name, ddl, description, updated_at)
VALUES ($1, $2, $3, $4, now())
ON CONFLICT (tenant_id, table_name) DO UPDATE SET
    ddl = EXCLUDED.ddl,
    description = EXCLUDED.description,
    updated_at = now()`
	if _, err := s.db.ExecContext(ctx, query, in.TenantID, in.TableName, in.DDL, in.Description); err != nil {
		return fmt.Errorf("upsert schema table: %w", err)
	}
	return nil
}

func (s *Store) ListSchemaTables(ctx context.Context, tenantID string) ([]knowledge.SchemaTable, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT tenant_id, table_name, ddl, description, updated_at
FROM schema_table
WHERE tenant_id = $1
ORDER BY table_name ASC`, tenantID)
	if err != nil {
		return nil, fmt.Errorf("list schema tables: %w", err)
	}
	defer func() { _ = rows.Close() }()

	tables := make([]knowledge.SchemaTable, 0)
	for rows.Next() {
		var table knowledge.SchemaTable
		if err := rows.Scan(&table.TenantID, &table.TableName, &table.DDL, &table.Description, &table.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan schema table row: %w", err)
		}
		tables = append(tables, table)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate schema table rows: %w", err)
	}
	return tables, nil
}

func (s *Store) AddExample(ctx context.Context, in knowledge.Example) error {
	query := `
INSERT INTO few_shot_example (tenant_id, question, sql_text)
VALUES ($1, $2, $3)`
	if _, err := s.db.ExecContext(ctx, query, in.TenantID, in.Question, in.SQL); err != nil {
		return fmt.Errorf("add example: %w", err)
	}
	return nil
}

func (s *Store) ListExamples(ctx context.Context, tenantID string, limit int) ([]knowledge.Example, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
SELECT tenant_id, question, sql_text, created_at
FROM few_shot_example
WHERE tenant_id = $1
ORDER BY created_at DESC
LIMIT $2`, tenantID, limit)
	if err != nil {
		return nil, fmt.Errorf("list examples: %w", err)
	}
	defer func() { _ = rows.Close() }()

	examples := make([]knowledge.Example, 0)
	for rows.Next() {
		var example knowledge.Example
		if err := rows.Scan(&example.TenantID, &example.Question, &example.SQL, &example.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan example row: %w", err)
		}
		examples = append(examples, example)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate example rows: %w", err)
	}
	return examples, nil
}

func (s *Store) UpsertProfile(ctx context.Context, in knowledge.Profile) error {
	query := `
INSERT INTO user_profile (tenant_id, user_id, notes, updated_at)
VALUES ($1, $2, $3, now())
ON CONFLICT (tenant_id, user_id) DO UPDATE SET
    notes = EXCLUDED.notes,
    updated_at = now()`
	if _, err := s.db.ExecContext(ctx, query, in.TenantID, in.UserID, in.Notes); err != nil {
		return fmt.Errorf("upsert profile: %w", err)
	}
	return nil
}

func (s *Store) GetProfile(ctx context.Context, tenantID, userID string) (knowledge.Profile, error) {
	query := `
SELECT tenant_id, user_id, notes, updated_at
FROM user_profile
WHERE tenant_id = $1 AND user_id = $2`

	var profile knowledge.Profile
	if err := s.db.QueryRowContext(ctx, query, tenantID, userID).Scan(
		&profile.TenantID,
		&profile.UserID,
		&profile.Notes,
		&profile.UpdatedAt,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return knowledge.Profile{}, knowledge.ErrNotFound
		}
		return knowledge.Profile{}, fmt.Errorf("get profile: %w", err)
	}
	return profile, nil
}
