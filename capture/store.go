// Package capture persists spans recorded by the engine's debug tracer so
// runs can be compared and browsed after the process exits.
package capture

import (
	"context"
	"database/sql"
	"errors"
	"time"

	_ "modernc.org/sqlite"

	"github.com/wippyai/testopt/abi"
	"github.com/wippyai/testopt/optimization"
)

// ErrRunExists is returned when saving a run id twice
var ErrRunExists = errors.New("capture: run already saved")

// Run describes one captured test run
type Run struct {
	Started time.Time
	ID      string
	Engine  string
	Spans   int
}

// Store is a span store backed by SQLite.
//
// It expects an *sql.DB that uses the "sqlite" driver from
// modernc.org/sqlite, which this package registers.
type Store struct {
	db *sql.DB
}

// Open opens or creates a store at path. ":memory:" gives a private
// in-memory store.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// a second connection to :memory: would see an empty database
	db.SetMaxOpenConns(1)

	s, err := New(db)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// New initializes the schema in db and returns a store over it
func New(db *sql.DB) (*Store, error) {
	s := &Store{db: db}
	if err := s.initSchema(); err != nil {
		return nil, err
	}
	return s, nil
}

var schema = []string{
	`CREATE TABLE IF NOT EXISTS runs (
		id TEXT PRIMARY KEY,
		engine TEXT NOT NULL,
		started_ns INTEGER NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS spans (
		run_id TEXT NOT NULL REFERENCES runs(id),
		span_id INTEGER NOT NULL,
		trace_id INTEGER NOT NULL,
		parent_id INTEGER NOT NULL,
		operation TEXT NOT NULL,
		start_ns INTEGER NOT NULL,
		finish_ns INTEGER NOT NULL,
		PRIMARY KEY (run_id, span_id)
	)`,
	// kind is 's' for string tags and 'n' for number tags
	`CREATE TABLE IF NOT EXISTS span_tags (
		run_id TEXT NOT NULL,
		span_id INTEGER NOT NULL,
		kind TEXT NOT NULL,
		key TEXT NOT NULL,
		str_value TEXT,
		num_value REAL,
		PRIMARY KEY (run_id, span_id, kind, key)
	)`,
}

func (s *Store) initSchema() error {
	for _, stmt := range schema {
		if _, err := s.db.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}

// Close closes the underlying database
func (s *Store) Close() error {
	return s.db.Close()
}

// SaveRun stores a run and its spans in one transaction
func (s *Store) SaveRun(ctx context.Context, run Run, spans []optimization.MockSpan) (err error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	var exists int
	if err = tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM runs WHERE id = ?`, run.ID).Scan(&exists); err != nil {
		return err
	}
	if exists > 0 {
		return ErrRunExists
	}

	if _, err = tx.ExecContext(ctx,
		`INSERT INTO runs (id, engine, started_ns) VALUES (?, ?, ?)`,
		run.ID, run.Engine, run.Started.UnixNano(),
	); err != nil {
		return err
	}

	for _, sp := range spans {
		if _, err = tx.ExecContext(ctx, `
			INSERT INTO spans (run_id, span_id, trace_id, parent_id, operation, start_ns, finish_ns)
			VALUES (?, ?, ?, ?, ?, ?, ?)`,
			run.ID,
			int64(sp.SpanID),
			int64(sp.TraceID),
			int64(sp.ParentSpanID),
			sp.OperationName,
			sp.Start.UnixNano(),
			sp.Finish.UnixNano(),
		); err != nil {
			return err
		}
		for k, v := range sp.StringTags {
			if _, err = tx.ExecContext(ctx,
				`INSERT INTO span_tags (run_id, span_id, kind, key, str_value) VALUES (?, ?, 's', ?, ?)`,
				run.ID, int64(sp.SpanID), k, v,
			); err != nil {
				return err
			}
		}
		for k, v := range sp.NumberTags {
			if _, err = tx.ExecContext(ctx,
				`INSERT INTO span_tags (run_id, span_id, kind, key, num_value) VALUES (?, ?, 'n', ?, ?)`,
				run.ID, int64(sp.SpanID), k, v,
			); err != nil {
				return err
			}
		}
	}

	return tx.Commit()
}

// Runs lists saved runs, newest first
func (s *Store) Runs(ctx context.Context) ([]Run, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT r.id, r.engine, r.started_ns, COUNT(sp.span_id)
		FROM runs r
		LEFT JOIN spans sp ON sp.run_id = r.id
		GROUP BY r.id, r.engine, r.started_ns
		ORDER BY r.started_ns DESC, r.id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Run
	for rows.Next() {
		var (
			r       Run
			started int64
		)
		if err := rows.Scan(&r.ID, &r.Engine, &started, &r.Spans); err != nil {
			return nil, err
		}
		r.Started = time.Unix(0, started).UTC()
		out = append(out, r)
	}
	return out, rows.Err()
}

// Spans loads the spans of a run ordered by span id. An unknown run has no
// spans.
func (s *Store) Spans(ctx context.Context, runID string) ([]optimization.MockSpan, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT span_id, trace_id, parent_id, operation, start_ns, finish_ns
		FROM spans
		WHERE run_id = ?
		ORDER BY span_id`, runID)
	if err != nil {
		return nil, err
	}

	var out []optimization.MockSpan
	index := make(map[abi.ID]int)
	for rows.Next() {
		var (
			id, trace, parent int64
			start, finish     int64
			sp                optimization.MockSpan
		)
		if err := rows.Scan(&id, &trace, &parent, &sp.OperationName, &start, &finish); err != nil {
			_ = rows.Close()
			return nil, err
		}
		sp.SpanID, sp.TraceID, sp.ParentSpanID = abi.ID(id), abi.ID(trace), abi.ID(parent)
		sp.Start, sp.Finish = time.Unix(0, start).UTC(), time.Unix(0, finish).UTC()
		sp.StringTags = make(map[string]string)
		sp.NumberTags = make(map[string]float64)
		index[sp.SpanID] = len(out)
		out = append(out, sp)
	}
	if err := rows.Err(); err != nil {
		_ = rows.Close()
		return nil, err
	}
	_ = rows.Close()

	if err := s.loadTags(ctx, runID, out, index); err != nil {
		return nil, err
	}
	return out, nil
}

func (s *Store) loadTags(ctx context.Context, runID string, spans []optimization.MockSpan, index map[abi.ID]int) error {
	rows, err := s.db.QueryContext(ctx, `
		SELECT span_id, kind, key, str_value, num_value
		FROM span_tags
		WHERE run_id = ?`, runID)
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		var (
			id        int64
			kind, key string
			str       sql.NullString
			num       sql.NullFloat64
		)
		if err := rows.Scan(&id, &kind, &key, &str, &num); err != nil {
			return err
		}
		i, ok := index[abi.ID(id)]
		if !ok {
			continue
		}
		switch kind {
		case "s":
			spans[i].StringTags[key] = str.String
		case "n":
			spans[i].NumberTags[key] = num.Float64
		}
	}
	return rows.Err()
}

// DeleteRun removes a run and its spans
func (s *Store) DeleteRun(ctx context.Context, runID string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	for _, q := range []string{
		`DELETE FROM span_tags WHERE run_id = ?`,
		`DELETE FROM spans WHERE run_id = ?`,
		`DELETE FROM runs WHERE id = ?`,
	} {
		if _, err := tx.ExecContext(ctx, q, runID); err != nil {
			_ = tx.Rollback()
			return err
		}
	}
	return tx.Commit()
}
