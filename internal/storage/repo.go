package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	sq "github.com/Masterminds/squirrel"

	"jarvis/internal/ledger"
)

var ErrNotFound = errors.New("not found")

const defaultListLimit = 20

// GetDocument returns the stored body for name or ErrNotFound.
func (s *Store) GetDocument(ctx context.Context, name string) (string, error) {
	q := s.sql.Select("body").From("credential_documents").Where(sq.Eq{"name": name})
	sqlStr, args, err := q.ToSql()
	if err != nil {
		return "", fmt.Errorf("build get document query: %w", err)
	}
	var body string
	if err := s.db.QueryRowContext(ctx, sqlStr, args...).Scan(&body); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", ErrNotFound
		}
		return "", fmt.Errorf("get document: %w", err)
	}
	return body, nil
}

func (s *Store) PutDocument(ctx context.Context, name, body string) error {
	q := s.sql.Insert("credential_documents").
		Columns("name", "body", "updated_at").
		Values(name, body, nowExpr(s.driver)).
		Suffix("ON CONFLICT(name) DO UPDATE SET body=excluded.body, updated_at=excluded.updated_at")

	sqlStr, args, err := q.ToSql()
	if err != nil {
		return fmt.Errorf("build put document query: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, sqlStr, args...); err != nil {
		return fmt.Errorf("put document: %w", err)
	}
	return nil
}

// RecordTurn journals a committed turn. The ledger stays the source of truth
// for context; the journal only feeds history listings.
func (s *Store) RecordTurn(ctx context.Context, provider string, t ledger.Turn) error {
	ts := t.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}
	q := s.sql.Insert("turns").
		Columns("provider", "prompt", "response", "created_at").
		Values(provider, t.Prompt, t.Response, ts.UTC())
	sqlStr, args, err := q.ToSql()
	if err != nil {
		return fmt.Errorf("build record turn query: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, sqlStr, args...); err != nil {
		return fmt.Errorf("record turn: %w", err)
	}
	return nil
}

// RecentTurns returns up to limit journaled turns, oldest first.
func (s *Store) RecentTurns(ctx context.Context, limit int) ([]TurnRecord, error) {
	if limit <= 0 {
		limit = defaultListLimit
	}
	q := s.sql.Select("id", "provider", "prompt", "response", "created_at").
		From("turns").
		OrderBy("id DESC").
		Limit(uint64(limit))
	sqlStr, args, err := q.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build recent turns query: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, sqlStr, args...)
	if err != nil {
		return nil, fmt.Errorf("recent turns: %w", err)
	}
	defer rows.Close()

	out := make([]TurnRecord, 0, limit)
	for rows.Next() {
		var r TurnRecord
		if err := rows.Scan(&r.ID, &r.Provider, &r.Prompt, &r.Response, &r.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan turn: %w", err)
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate turns: %w", err)
	}
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out, nil
}

func (s *Store) LogAction(ctx context.Context, e AuditEntry) error {
	if strings.TrimSpace(e.MetaJSON) == "" {
		e.MetaJSON = "{}"
	}
	if !json.Valid([]byte(e.MetaJSON)) {
		e.MetaJSON = "{}"
	}
	if e.Actor == "" {
		e.Actor = "system"
	}

	q := s.sql.Insert("audit_log").
		Columns("actor", "action", "provider", "meta_json").
		Values(e.Actor, e.Action, e.Provider, e.MetaJSON)
	sqlStr, args, err := q.ToSql()
	if err != nil {
		return fmt.Errorf("build audit insert query: %w", err)
	}
	_, err = s.db.ExecContext(ctx, sqlStr, args...)
	if err != nil {
		return fmt.Errorf("insert audit entry: %w", err)
	}
	return nil
}

// RecentActions lists audit entries, newest first.
func (s *Store) RecentActions(ctx context.Context, limit int) ([]AuditRecord, error) {
	if limit <= 0 {
		limit = defaultListLimit
	}
	q := s.sql.Select("id", "actor", "action", "provider", "meta_json", "created_at").
		From("audit_log").
		OrderBy("id DESC").
		Limit(uint64(limit))
	sqlStr, args, err := q.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build recent actions query: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, sqlStr, args...)
	if err != nil {
		return nil, fmt.Errorf("recent actions: %w", err)
	}
	defer rows.Close()

	out := make([]AuditRecord, 0)
	for rows.Next() {
		var r AuditRecord
		if err := rows.Scan(&r.ID, &r.Actor, &r.Action, &r.Provider, &r.MetaJSON, &r.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan audit entry: %w", err)
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate audit entries: %w", err)
	}
	return out, nil
}

func nowExpr(driver string) any {
	if driver == "postgres" {
		return sq.Expr("NOW()")
	}
	return sq.Expr("CURRENT_TIMESTAMP")
}
