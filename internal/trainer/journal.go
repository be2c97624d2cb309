package trainer

import "time"

// SessionLogEntry is one per-second sample of the live session log.
type SessionLogEntry struct {
	ElapsedSec  int     `json:"elapsed_sec"`
	PowerWatts  int     `json:"power_watts"`
	HeartRate   int     `json:"heart_rate"`
	CadenceRpm  float64 `json:"cadence_rpm"`
	TargetWatts int     `json:"target_watts"`
}

// SessionSnapshot is the crash-resume record written while a session is in
// progress. A snapshot with WorkoutRunning set always resumes in the paused
// state regardless of WorkoutPaused: after an unclean restart the engine
// must never silently drive the trainer again.
type SessionSnapshot struct {
	Workout          *CanonicalWorkout `json:"workout,omitempty"`
	FTPWatts         int               `json:"ftp_watts"`
	Mode             ControlMode       `json:"mode"`
	ManualErgWatts   int16             `json:"manual_erg_watts"`
	ManualResistance uint8             `json:"manual_resistance"`
	WorkoutRunning   bool              `json:"workout_running"`
	WorkoutPaused    bool              `json:"workout_paused"`
	ElapsedSec       int               `json:"elapsed_sec"`
	IntervalIndex    int               `json:"interval_index"`
	LiveSamples      []SessionLogEntry `json:"live_samples,omitempty"`
	ZeroPowerTicks   int               `json:"zero_power_ticks"`
	GraceUntilSec    int               `json:"grace_until_sec"`
	WorkoutStartedAt time.Time         `json:"workout_started_at"`
}

// SessionMeta summarizes a finished session.
type SessionMeta struct {
	WorkoutName     string    `json:"workout_name"`
	FTPUsed         int       `json:"ftp_used"`
	StartedAt       time.Time `json:"started_at"`
	EndedAt         time.Time `json:"ended_at"`
	TotalElapsedSec int       `json:"total_elapsed_sec"`
}

// SessionExport is the final record handed to the journal when a session
// ends.
type SessionExport struct {
	Meta    SessionMeta       `json:"meta"`
	Samples []SessionLogEntry `json:"samples"`
}

// SessionJournal is the persistence gateway the engine writes through.
// Implementations must tolerate frequent snapshot writes.
type SessionJournal interface {
	SaveSnapshot(snapshot SessionSnapshot) error
	LoadSnapshot() (*SessionSnapshot, error)
	ClearSnapshot() error
	ArchiveSession(export SessionExport) error
}

// NopJournal discards everything and never has a snapshot to resume.
type NopJournal struct{}

func (NopJournal) SaveSnapshot(SessionSnapshot) error      { return nil }
func (NopJournal) LoadSnapshot() (*SessionSnapshot, error) { return nil, nil }
func (NopJournal) ClearSnapshot() error                    { return nil }
func (NopJournal) ArchiveSession(SessionExport) error      { return nil }
