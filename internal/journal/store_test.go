package journal_test

import (
	"database/sql/driver"
	"encoding/json"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/veloterm/veloterm/internal/journal"
	"github.com/veloterm/veloterm/internal/trainer"
)

type argumentFunc func(driver.Value) bool

func (f argumentFunc) Match(v driver.Value) bool { return f(v) }

func isRecentUTC(v driver.Value) bool {
	tm, ok := v.(time.Time)
	if !ok {
		return false
	}
	if tm.Location() != time.UTC {
		return false
	}
	now := time.Now().UTC()
	return !tm.Before(now.Add(-5*time.Second)) && !tm.After(now.Add(5*time.Second))
}

func isUUID(v driver.Value) bool {
	s, ok := v.(string)
	if !ok {
		return false
	}
	matched, _ := regexp.MatchString(`^[0-9a-f]{8}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{12}$`, s)
	return matched
}

func TestStore_SaveSnapshot_UpsertsSingleRow(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer func() { _ = db.Close() }()

	store := journal.NewStore(db)

	snapshot := trainer.SessionSnapshot{
		FTPWatts:       250,
		WorkoutRunning: true,
		ElapsedSec:     42,
	}
	payload, err := json.Marshal(snapshot)
	require.NoError(t, err)

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO session_snapshot")).
		WithArgs(1, string(payload), argumentFunc(isRecentUTC)).
		WillReturnResult(sqlmock.NewResult(1, 1))

	require.NoError(t, store.SaveSnapshot(snapshot))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStore_LoadSnapshot_RoundTripsPayload(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer func() { _ = db.Close() }()

	store := journal.NewStore(db)

	stored := trainer.SessionSnapshot{
		FTPWatts:       220,
		Mode:           trainer.ModeWorkout,
		WorkoutRunning: true,
		ElapsedSec:     90,
		LiveSamples: []trainer.SessionLogEntry{
			{ElapsedSec: 1, PowerWatts: 150, TargetWatts: 160},
		},
	}
	payload, err := json.Marshal(stored)
	require.NoError(t, err)

	mock.ExpectQuery(regexp.QuoteMeta("SELECT payload FROM session_snapshot")).
		WithArgs(1).
		WillReturnRows(sqlmock.NewRows([]string{"payload"}).AddRow(string(payload)))

	loaded, err := store.LoadSnapshot()
	require.NoError(t, err)
	require.NotNil(t, loaded)
	assert.Equal(t, 220, loaded.FTPWatts)
	assert.Equal(t, 90, loaded.ElapsedSec)
	assert.True(t, loaded.WorkoutRunning)
	require.Len(t, loaded.LiveSamples, 1)
	assert.Equal(t, 150, loaded.LiveSamples[0].PowerWatts)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStore_LoadSnapshot_NoRowMeansNoSnapshot(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer func() { _ = db.Close() }()

	store := journal.NewStore(db)

	mock.ExpectQuery(regexp.QuoteMeta("SELECT payload FROM session_snapshot")).
		WithArgs(1).
		WillReturnRows(sqlmock.NewRows([]string{"payload"}))

	loaded, err := store.LoadSnapshot()
	require.NoError(t, err)
	assert.Nil(t, loaded)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStore_ClearSnapshot_DeletesRow(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer func() { _ = db.Close() }()

	store := journal.NewStore(db)

	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM session_snapshot")).
		WithArgs(1).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, store.ClearSnapshot())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStore_ArchiveSession_InsertsWithFreshID(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer func() { _ = db.Close() }()

	store := journal.NewStore(db)

	started := time.Date(2026, 3, 1, 18, 0, 0, 0, time.UTC)
	ended := started.Add(45 * time.Minute)
	export := trainer.SessionExport{
		Meta: trainer.SessionMeta{
			WorkoutName:     "5x5 Threshold Intervals",
			FTPUsed:         250,
			StartedAt:       started,
			EndedAt:         ended,
			TotalElapsedSec: 2700,
		},
		Samples: []trainer.SessionLogEntry{
			{ElapsedSec: 1, PowerWatts: 125, TargetWatts: 125},
			{ElapsedSec: 2, PowerWatts: 128, TargetWatts: 125},
		},
	}
	samples, err := json.Marshal(export.Samples)
	require.NoError(t, err)

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO sessions")).
		WithArgs(
			argumentFunc(isUUID),
			export.Meta.WorkoutName,
			export.Meta.FTPUsed,
			started,
			ended,
			export.Meta.TotalElapsedSec,
			string(samples),
		).
		WillReturnResult(sqlmock.NewResult(1, 1))

	require.NoError(t, store.ArchiveSession(export))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStore_RecentSessions_ScansMetadata(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer func() { _ = db.Close() }()

	store := journal.NewStore(db)

	started := time.Date(2026, 3, 1, 18, 0, 0, 0, time.UTC)
	ended := started.Add(30 * time.Minute)

	mock.ExpectQuery(regexp.QuoteMeta("SELECT workout_name, ftp_used, started_at, ended_at, total_elapsed_s")).
		WithArgs(5).
		WillReturnRows(sqlmock.
			NewRows([]string{"workout_name", "ftp_used", "started_at", "ended_at", "total_elapsed_s"}).
			AddRow("30 Min Endurance", 240, started, ended, 1800))

	sessions, err := store.RecentSessions(5)
	require.NoError(t, err)
	require.Len(t, sessions, 1)
	assert.Equal(t, "30 Min Endurance", sessions[0].WorkoutName)
	assert.Equal(t, 240, sessions[0].FTPUsed)
	assert.Equal(t, 1800, sessions[0].TotalElapsedSec)
	assert.NoError(t, mock.ExpectationsWereMet())
}
