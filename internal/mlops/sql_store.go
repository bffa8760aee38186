package mlops

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/mbd888/fraudwatchdog/internal/dbutil"
)

// SQLSessionStore persists session state in Postgres or SQLite.
type SQLSessionStore struct {
	db      *sql.DB
	dialect dbutil.Dialect
}

func NewPostgresSessionStore(db *sql.DB) *SQLSessionStore {
	return &SQLSessionStore{db: db, dialect: dbutil.Postgres}
}

func NewSQLiteSessionStore(db *sql.DB) *SQLSessionStore {
	return &SQLSessionStore{db: db, dialect: dbutil.SQLite}
}

var _ SessionStore = (*SQLSessionStore)(nil)

// Migrate creates the mlops_sessions table.
func (s *SQLSessionStore) Migrate(ctx context.Context) error {
	ts := "TIMESTAMPTZ"
	if s.dialect == dbutil.SQLite {
		ts = "TIMESTAMP"
	}
	_, err := s.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS mlops_sessions (
			session         VARCHAR(128) PRIMARY KEY,
			version         INTEGER NOT NULL DEFAULT 1,
			maturity        INTEGER NOT NULL DEFAULT 0,
			threats_caught  INTEGER NOT NULL DEFAULT 0,
			last_pattern    TEXT NOT NULL DEFAULT '',
			updated_at      `+ts+` NOT NULL
		)`)
	return err
}

func (s *SQLSessionStore) Get(ctx context.Context, session string) (*SessionState, error) {
	st, err := s.load(ctx, s.db, session, false)
	if errors.Is(err, sql.ErrNoRows) {
		return newSessionState(session), nil
	}
	return st, err
}

func (s *SQLSessionStore) Update(ctx context.Context, session string, fn func(*SessionState) error) (*SessionState, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	initial := InitialProgress()
	if _, err := tx.ExecContext(ctx, s.rebind(`
		INSERT INTO mlops_sessions (session, version, maturity, threats_caught, last_pattern, updated_at)
		VALUES (?, ?, 0, 0, '', ?)
		ON CONFLICT (session) DO NOTHING`),
		session, initial.Version, time.Now().UTC()); err != nil {
		return nil, fmt.Errorf("ensure session: %w", err)
	}

	cur, err := s.load(ctx, tx, session, true)
	if err != nil {
		return nil, err
	}
	if err := fn(cur); err != nil {
		return nil, err
	}
	cur.Session = session
	cur.UpdatedAt = time.Now().UTC()

	pattern, err := encodePattern(cur.LastPattern)
	if err != nil {
		return nil, err
	}
	if _, err := tx.ExecContext(ctx, s.rebind(`
		UPDATE mlops_sessions
		SET version = ?, maturity = ?, threats_caught = ?, last_pattern = ?, updated_at = ?
		WHERE session = ?`),
		cur.Progress.Version, cur.Progress.Maturity, cur.Progress.ThreatsCaught,
		pattern, cur.UpdatedAt, session); err != nil {
		return nil, fmt.Errorf("update session: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return cur, nil
}

type querier interface {
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

func (s *SQLSessionStore) load(ctx context.Context, q querier, session string, forUpdate bool) (*SessionState, error) {
	query := `SELECT version, maturity, threats_caught, last_pattern, updated_at
		FROM mlops_sessions WHERE session = ?`
	if forUpdate && s.dialect == dbutil.Postgres {
		query += " FOR UPDATE"
	}
	st := &SessionState{Session: session}
	var pattern string
	err := q.QueryRowContext(ctx, s.rebind(query), session).Scan(
		&st.Progress.Version, &st.Progress.Maturity, &st.Progress.ThreatsCaught, &pattern, &st.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if pattern != "" {
		if err := json.Unmarshal([]byte(pattern), &st.LastPattern); err != nil {
			return nil, fmt.Errorf("decode last pattern for %s: %w", session, err)
		}
	}
	return st, nil
}

func (s *SQLSessionStore) rebind(q string) string {
	return dbutil.Rebind(s.dialect, q)
}

func encodePattern(p []float64) (string, error) {
	if len(p) == 0 {
		return "", nil
	}
	b, err := json.Marshal(p)
	if err != nil {
		return "", fmt.Errorf("encode last pattern: %w", err)
	}
	return string(b), nil
}
