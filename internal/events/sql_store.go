package events

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/mbd888/fraudwatchdog/internal/dbutil"
)

// SQLStore implements Store on database/sql for Postgres and SQLite.
type SQLStore struct {
	db      *sql.DB
	dialect dbutil.Dialect
}

// NewPostgresStore creates a PostgreSQL-backed event store (lib/pq).
func NewPostgresStore(db *sql.DB) *SQLStore {
	return &SQLStore{db: db, dialect: dbutil.Postgres}
}

// NewSQLiteStore creates a SQLite-backed event store (modernc.org/sqlite).
func NewSQLiteStore(db *sql.DB) *SQLStore {
	return &SQLStore{db: db, dialect: dbutil.SQLite}
}

var _ Store = (*SQLStore)(nil)

// Migrate creates the events table. Production Postgres deployments use
// the goose migrations instead; this keeps dev and SQLite setups one step.
func (s *SQLStore) Migrate(ctx context.Context) error {
	var ddl string
	switch s.dialect {
	case dbutil.Postgres:
		ddl = `
		CREATE TABLE IF NOT EXISTS events (
			seq           BIGSERIAL PRIMARY KEY,
			id            VARCHAR(64) NOT NULL UNIQUE,
			session       VARCHAR(128) NOT NULL DEFAULT '',
			status        VARCHAR(32) NOT NULL,
			probability   DOUBLE PRECISION NOT NULL,
			amount        DOUBLE PRECISION NOT NULL,
			prediction    VARCHAR(16) NOT NULL DEFAULT '',
			confidence    DOUBLE PRECISION NOT NULL DEFAULT 0,
			mlops_status  VARCHAR(32) NOT NULL DEFAULT '',
			features      TEXT NOT NULL DEFAULT '[]',
			label         VARCHAR(8) NOT NULL DEFAULT '',
			labeled_at    TIMESTAMPTZ,
			created_at    TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);
		CREATE INDEX IF NOT EXISTS idx_events_labeled ON events(seq) WHERE label <> '';
		CREATE INDEX IF NOT EXISTS idx_events_history ON events(created_at DESC, id DESC);`
	case dbutil.SQLite:
		ddl = `
		CREATE TABLE IF NOT EXISTS events (
			seq           INTEGER PRIMARY KEY AUTOINCREMENT,
			id            TEXT NOT NULL UNIQUE,
			session       TEXT NOT NULL DEFAULT '',
			status        TEXT NOT NULL,
			probability   REAL NOT NULL,
			amount        REAL NOT NULL,
			prediction    TEXT NOT NULL DEFAULT '',
			confidence    REAL NOT NULL DEFAULT 0,
			mlops_status  TEXT NOT NULL DEFAULT '',
			features      TEXT NOT NULL DEFAULT '[]',
			label         TEXT NOT NULL DEFAULT '',
			labeled_at    TIMESTAMP,
			created_at    TIMESTAMP NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_events_label ON events(label);
		CREATE INDEX IF NOT EXISTS idx_events_history ON events(created_at, id);`
	default:
		return fmt.Errorf("events: unsupported dialect %q", s.dialect)
	}
	_, err := s.db.ExecContext(ctx, ddl)
	return err
}

const eventColumns = `id, session, status, probability, amount, prediction,
	confidence, mlops_status, features, label, labeled_at, created_at`

func (s *SQLStore) Record(ctx context.Context, e *Event) error {
	if err := e.Validate(); err != nil {
		return err
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}
	feats, err := json.Marshal(nonNil(e.Features))
	if err != nil {
		return fmt.Errorf("encode features: %w", err)
	}
	var labeledAt interface{}
	if e.LabeledAt != nil {
		labeledAt = e.LabeledAt.UTC()
	}
	_, err = s.db.ExecContext(ctx, s.rebind(`
		INSERT INTO events (`+eventColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`),
		e.ID, e.Session, e.Status, e.Probability, e.Amount, e.Prediction,
		e.Confidence, e.MLOpsStatus, string(feats), string(e.Label), labeledAt, e.CreatedAt.UTC(),
	)
	return err
}

func (s *SQLStore) Get(ctx context.Context, id string) (*Event, error) {
	row := s.db.QueryRowContext(ctx, s.rebind(`SELECT `+eventColumns+` FROM events WHERE id = ?`), id)
	e, err := scanEvent(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return e, err
}

func (s *SQLStore) Recent(ctx context.Context, limit int) ([]*Event, error) {
	return s.list(ctx, `SELECT `+eventColumns+` FROM events ORDER BY seq DESC LIMIT ?`, limitOrAll(limit))
}

func (s *SQLStore) Labeled(ctx context.Context, limit int) ([]*Event, error) {
	return s.list(ctx, `SELECT `+eventColumns+` FROM events WHERE label <> '' ORDER BY seq DESC LIMIT ?`, limitOrAll(limit))
}

func (s *SQLStore) SetLabel(ctx context.Context, id string, label Label) (*Event, error) {
	if label != LabelFraud && label != LabelLegit {
		return nil, ErrInvalidLabel
	}
	res, err := s.db.ExecContext(ctx, s.rebind(`UPDATE events SET label = ?, labeled_at = ? WHERE id = ?`),
		string(label), time.Now().UTC(), id)
	if err != nil {
		return nil, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return nil, err
	}
	if n == 0 {
		return nil, ErrNotFound
	}
	return s.Get(ctx, id)
}

func (s *SQLStore) Count(ctx context.Context) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM events`).Scan(&n)
	return n, err
}

func (s *SQLStore) History(ctx context.Context, q Query) ([]*Event, error) {
	var (
		where []string
		args  []interface{}
	)
	if q.Status != "" {
		where = append(where, "status = ?")
		args = append(args, q.Status)
	}
	switch q.Label {
	case LabelAny:
	case LabelUnlabeled:
		where = append(where, "label = ''")
	default:
		where = append(where, "label = ?")
		args = append(args, q.Label)
	}
	if q.Before != nil {
		where = append(where, "(created_at < ? OR (created_at = ? AND id < ?))")
		args = append(args, q.Before.CreatedAt.UTC(), q.Before.CreatedAt.UTC(), q.Before.ID)
	}
	query := `SELECT ` + eventColumns + ` FROM events`
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, " AND ")
	}
	query += ` ORDER BY created_at DESC, id DESC LIMIT ?`
	args = append(args, limitOrAll(q.Limit))
	return s.list(ctx, query, args...)
}

func (s *SQLStore) list(ctx context.Context, query string, args ...interface{}) ([]*Event, error) {
	rows, err := s.db.QueryContext(ctx, s.rebind(query), args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []*Event
	for rows.Next() {
		e, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (s *SQLStore) rebind(query string) string {
	return dbutil.Rebind(s.dialect, query)
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanEvent(row scanner) (*Event, error) {
	var (
		e         Event
		feats     string
		label     string
		labeledAt sql.NullTime
	)
	if err := row.Scan(
		&e.ID, &e.Session, &e.Status, &e.Probability, &e.Amount, &e.Prediction,
		&e.Confidence, &e.MLOpsStatus, &feats, &label, &labeledAt, &e.CreatedAt,
	); err != nil {
		return nil, err
	}
	if feats != "" {
		if err := json.Unmarshal([]byte(feats), &e.Features); err != nil {
			return nil, fmt.Errorf("decode features for %s: %w", e.ID, err)
		}
	}
	if len(e.Features) == 0 {
		e.Features = nil
	}
	e.Label = Label(label)
	if labeledAt.Valid {
		t := labeledAt.Time
		e.LabeledAt = &t
	}
	return &e, nil
}

func limitOrAll(limit int) int {
	if limit <= 0 {
		return 1 << 30
	}
	return limit
}

func nonNil(f []float64) []float64 {
	if f == nil {
		return []float64{}
	}
	return f
}
