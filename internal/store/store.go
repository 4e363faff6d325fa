// Package store handles SQLite persistence of the cast journal.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/verte-zerg/skillcast/internal/model"

	_ "modernc.org/sqlite" // SQLite driver.
)

// Timestamps are UTC with a fixed-width fraction: text order is time order.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

// Store wraps SQLite access for journaled runs and casts.
type Store struct {
	db  *sql.DB
	now func() time.Time
}

// Open opens or creates the SQLite database and applies migrations.
func Open(path string) (*Store, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	store := &Store{db: db, now: time.Now}
	if err := store.migrate(); err != nil {
		if cerr := db.Close(); cerr != nil {
			// Best-effort close on migration failure.
			_ = cerr
		}
		return nil, err
	}
	return store, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS runs (
			id TEXT PRIMARY KEY,
			profile TEXT NOT NULL,
			started_at TEXT NOT NULL,
			ended_at TEXT
		);`,
		`CREATE TABLE IF NOT EXISTS casts (
			id INTEGER PRIMARY KEY,
			run_id TEXT NOT NULL,
			profile TEXT NOT NULL,
			skill TEXT NOT NULL,
			key TEXT NOT NULL,
			cast_at TEXT NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_runs_started_at ON runs(started_at);`,
		`CREATE INDEX IF NOT EXISTS idx_casts_run_id ON casts(run_id);`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}

// OpenRun records the start of an automation run and returns its id.
func (s *Store) OpenRun(ctx context.Context, profile string) (string, error) {
	id := uuid.NewString()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO runs (id, profile, started_at) VALUES (?, ?, ?)`,
		id, profile, formatTime(s.now()))
	if err != nil {
		return "", err
	}
	return id, nil
}

// CloseRun stamps the end of a run.
func (s *Store) CloseRun(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE runs SET ended_at = ? WHERE id = ?`,
		formatTime(s.now()), id)
	return err
}

// RecordCast stores a single cast.
func (s *Store) RecordCast(ctx context.Context, rec model.CastRecord) error {
	castAt := rec.CastAt
	if castAt.IsZero() {
		castAt = s.now()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO casts (run_id, profile, skill, key, cast_at) VALUES (?, ?, ?, ?, ?)`,
		rec.RunID, rec.Profile, rec.Skill, rec.Key, formatTime(castAt))
	return err
}

func runClauses(filter model.RunFilter) (string, []any) {
	clauses := []string{"1=1"}
	args := []any{}
	if filter.Profile != "" {
		clauses = append(clauses, "profile = ?")
		args = append(args, filter.Profile)
	}
	if filter.Since != nil {
		clauses = append(clauses, "started_at >= ?")
		args = append(args, formatTime(*filter.Since))
	}
	return strings.Join(clauses, " AND "), args
}

// ListRuns returns runs matching filter, oldest first. Last limits the result
// to the most recent runs.
func (s *Store) ListRuns(ctx context.Context, filter model.RunFilter) ([]model.RunAggregate, error) {
	where, args := runClauses(filter)
	limit := ""
	if filter.Last > 0 {
		limit = "LIMIT ?"
		args = append(args, filter.Last)
	}
	query := fmt.Sprintf(`SELECT id, profile, started_at, ended_at, casts FROM (
			SELECT r.id, r.profile, r.started_at, r.ended_at,
				(SELECT COUNT(*) FROM casts c WHERE c.run_id = r.id) AS casts
			FROM runs r
			WHERE %s
			ORDER BY r.started_at DESC
			%s
		) ORDER BY started_at ASC`, where, limit)
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer func() {
		if cerr := rows.Close(); cerr != nil {
			// Best-effort rows close.
			_ = cerr
		}
	}()

	var runs []model.RunAggregate
	for rows.Next() {
		var agg model.RunAggregate
		var startedAt string
		var endedAt sql.NullString
		if err := rows.Scan(&agg.RunID, &agg.Profile, &startedAt, &endedAt, &agg.Casts); err != nil {
			return nil, err
		}
		parsed, err := time.Parse(time.RFC3339Nano, startedAt)
		if err != nil {
			return nil, err
		}
		agg.StartedAt = parsed
		if endedAt.Valid {
			parsed, err := time.Parse(time.RFC3339Nano, endedAt.String)
			if err != nil {
				return nil, err
			}
			agg.EndedAt = parsed
		}
		runs = append(runs, agg)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return runs, nil
}

// SkillAggregates counts casts per skill across the given runs.
func (s *Store) SkillAggregates(ctx context.Context, runIDs []string) ([]model.SkillAggregate, error) {
	if len(runIDs) == 0 {
		return nil, nil
	}
	placeholders := make([]string, len(runIDs))
	args := make([]any, len(runIDs))
	for i, id := range runIDs {
		placeholders[i] = "?"
		args[i] = id
	}
	query := fmt.Sprintf(`SELECT profile, skill, key, COUNT(*) AS casts, MIN(cast_at), MAX(cast_at)
		FROM casts
		WHERE run_id IN (%s)
		GROUP BY profile, skill, key
		ORDER BY profile, skill, key`, strings.Join(placeholders, ","))
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer func() {
		if cerr := rows.Close(); cerr != nil {
			// Best-effort rows close.
			_ = cerr
		}
	}()

	var result []model.SkillAggregate
	for rows.Next() {
		var agg model.SkillAggregate
		var first, last string
		if err := rows.Scan(&agg.Profile, &agg.Skill, &agg.Key, &agg.Casts, &first, &last); err != nil {
			return nil, err
		}
		if agg.First, err = time.Parse(time.RFC3339Nano, first); err != nil {
			return nil, err
		}
		if agg.Last, err = time.Parse(time.RFC3339Nano, last); err != nil {
			return nil, err
		}
		result = append(result, agg)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}
