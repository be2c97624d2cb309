package journal

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/veloterm/veloterm/internal/trainer"
)

const (
	snapshotRowID = 1

	upsertSnapshotSQL = `
		INSERT INTO session_snapshot (id, payload, updated_at)
		VALUES (?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			payload=excluded.payload,
			updated_at=excluded.updated_at
	`

	selectSnapshotSQL = `
		SELECT payload FROM session_snapshot WHERE id=?
	`

	deleteSnapshotSQL = `
		DELETE FROM session_snapshot WHERE id=?
	`

	insertSessionSQL = `
		INSERT INTO sessions (id, workout_name, ftp_used, started_at, ended_at, total_elapsed_s, samples)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`

	selectRecentSessionsSQL = `
		SELECT workout_name, ftp_used, started_at, ended_at, total_elapsed_s
		FROM sessions ORDER BY ended_at DESC LIMIT ?
	`
)

// Store persists session snapshots and finished sessions in SQLite. The
// snapshot lives in a single row so a crash always leaves at most one
// resumable session.
type Store struct {
	db *sql.DB
}

var _ trainer.SessionJournal = (*Store)(nil)

func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// SaveSnapshot upserts the crash-resume record. Called once per tick while a
// session is live, so it stays a single small write.
func (s *Store) SaveSnapshot(snapshot trainer.SessionSnapshot) error {
	payload, err := json.Marshal(snapshot)
	if err != nil {
		return fmt.Errorf("marshal snapshot: %w", err)
	}
	_, err = s.db.Exec(upsertSnapshotSQL, snapshotRowID, string(payload), time.Now().UTC())
	return err
}

// LoadSnapshot returns the persisted snapshot, or nil when none exists.
func (s *Store) LoadSnapshot() (*trainer.SessionSnapshot, error) {
	row := s.db.QueryRow(selectSnapshotSQL, snapshotRowID)

	var payload string
	if err := row.Scan(&payload); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}

	var snapshot trainer.SessionSnapshot
	if err := json.Unmarshal([]byte(payload), &snapshot); err != nil {
		return nil, fmt.Errorf("unmarshal snapshot: %w", err)
	}
	return &snapshot, nil
}

// ClearSnapshot removes the crash-resume record.
func (s *Store) ClearSnapshot() error {
	_, err := s.db.Exec(deleteSnapshotSQL, snapshotRowID)
	return err
}

// ArchiveSession stores a finished session under a fresh id.
func (s *Store) ArchiveSession(export trainer.SessionExport) error {
	samples, err := json.Marshal(export.Samples)
	if err != nil {
		return fmt.Errorf("marshal samples: %w", err)
	}
	_, err = s.db.Exec(insertSessionSQL,
		uuid.NewString(),
		export.Meta.WorkoutName,
		export.Meta.FTPUsed,
		export.Meta.StartedAt.UTC(),
		export.Meta.EndedAt.UTC(),
		export.Meta.TotalElapsedSec,
		string(samples),
	)
	return err
}

// RecentSessions lists the metadata of the most recently finished sessions.
func (s *Store) RecentSessions(limit int) ([]trainer.SessionMeta, error) {
	if limit <= 0 {
		limit = 10
	}
	rows, err := s.db.Query(selectRecentSessionsSQL, limit)
	if err != nil {
		return nil, err
	}
	defer func() {
		_ = rows.Close()
	}()

	var result []trainer.SessionMeta
	for rows.Next() {
		var meta trainer.SessionMeta
		if err := rows.Scan(
			&meta.WorkoutName,
			&meta.FTPUsed,
			&meta.StartedAt,
			&meta.EndedAt,
			&meta.TotalElapsedSec,
		); err != nil {
			return nil, err
		}
		meta.StartedAt = meta.StartedAt.UTC()
		meta.EndedAt = meta.EndedAt.UTC()
		result = append(result, meta)
	}
	return result, rows.Err()
}
