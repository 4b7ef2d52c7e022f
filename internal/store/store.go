// Package store persists interview session snapshots in SQLite.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	_ "modernc.org/sqlite"

	"github.com/talentscout/interviewer/internal/interview"
)

// snapshotVersion is written with every snapshot so older snapshots remain
// loadable after schema evolution. Bump it together with an upgrade branch
// in decodeSnapshot.
const snapshotVersion = 1

// ErrNotFound is returned when the requested session does not exist.
var ErrNotFound = errors.New("session not found")

const schema = `
CREATE TABLE IF NOT EXISTS sessions (
	id               TEXT PRIMARY KEY,
	status           TEXT NOT NULL,
	stage            TEXT NOT NULL,
	persona          TEXT NOT NULL,
	snapshot_version INTEGER NOT NULL,
	snapshot         TEXT NOT NULL,
	created_at       TEXT NOT NULL,
	updated_at       TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_sessions_status ON sessions(status);
`

// Store is the SQLite-backed session store. Safe for concurrent use; SQLite
// allows a single writer, so the pool is capped at one connection.
type Store struct {
	db     *sql.DB
	logger *zap.Logger
}

// Open opens (or creates) the session database at path.
func Open(path string, logger *zap.Logger) (*Store, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	db, err := sql.Open("sqlite", fmt.Sprintf(
		"file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)", path,
	))
	if err != nil {
		return nil, fmt.Errorf("open session database: %w", err)
	}

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping session database: %w", err)
	}

	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("initialize session schema: %w", err)
	}

	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	logger.Debug("session database opened", zap.String("path", path))
	return &Store{db: db, logger: logger}, nil
}

// Save writes a complete snapshot of the session. The write is the commit
// point of an engine transition.
func (s *Store) Save(ctx context.Context, session *interview.Session) error {
	snapshot, err := json.Marshal(session)
	if err != nil {
		return fmt.Errorf("encode session snapshot: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO sessions (id, status, stage, persona, snapshot_version, snapshot, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			status = excluded.status,
			stage = excluded.stage,
			snapshot_version = excluded.snapshot_version,
			snapshot = excluded.snapshot,
			updated_at = excluded.updated_at
	`,
		session.ID,
		string(session.Status),
		session.Stage.String(),
		string(session.Persona),
		snapshotVersion,
		string(snapshot),
		session.CreatedAt.Format(time.RFC3339Nano),
		session.UpdatedAt.Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("write session snapshot: %w", err)
	}

	return nil
}

// Load reads the latest snapshot of a session. A missing session returns
// ErrNotFound; an unreadable snapshot is surfaced as corruption.
func (s *Store) Load(ctx context.Context, id string) (*interview.Session, error) {
	var (
		version  int
		snapshot string
	)

	err := s.db.QueryRowContext(ctx,
		`SELECT snapshot_version, snapshot FROM sessions WHERE id = ?`, id,
	).Scan(&version, &snapshot)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("read session %s: %w", id, err)
	}

	return decodeSnapshot(version, snapshot)
}

func decodeSnapshot(version int, snapshot string) (*interview.Session, error) {
	if version > snapshotVersion {
		return nil, fmt.Errorf("snapshot version %d is newer than supported version %d", version, snapshotVersion)
	}

	// Versions 0 and 1 share the same shape; future versions add upgrade
	// branches here before decoding.
	var session interview.Session
	if err := json.Unmarshal([]byte(snapshot), &session); err != nil {
		return nil, fmt.Errorf("decode session snapshot: %w", err)
	}
	if session.ID == "" || !session.Stage.Valid() {
		return nil, fmt.Errorf("session snapshot is incomplete or corrupted")
	}

	return &session, nil
}

// Summary is one row of List output.
type Summary struct {
	ID        string
	Status    string
	Stage     string
	Persona   string
	UpdatedAt time.Time
}

// List returns all stored sessions, most recently updated first.
func (s *Store) List(ctx context.Context) ([]Summary, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, status, stage, persona, updated_at
		FROM sessions ORDER BY updated_at DESC
	`)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	defer rows.Close()

	var summaries []Summary
	for rows.Next() {
		var (
			summary   Summary
			updatedAt string
		)
		if err := rows.Scan(&summary.ID, &summary.Status, &summary.Stage, &summary.Persona, &updatedAt); err != nil {
			return nil, fmt.Errorf("scan session row: %w", err)
		}
		if ts, err := time.Parse(time.RFC3339Nano, updatedAt); err == nil {
			summary.UpdatedAt = ts
		}
		summaries = append(summaries, summary)
	}

	return summaries, rows.Err()
}

// Close closes the underlying database.
func (s *Store) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("close session database: %w", err)
	}
	return nil
}
