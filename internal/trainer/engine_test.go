package trainer

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// testWorkout is 1 min @ 50%, 30 s @ 120%, 1 min @ 50%.
func testWorkout() *CanonicalWorkout {
	return &CanonicalWorkout{
		Title: "test intervals",
		Segments: []CanonicalSegment{
			{Minutes: 1, StartPctFTP: 50, EndPctFTP: 50},
			{Minutes: 0.5, StartPctFTP: 120, EndPctFTP: 120},
			{Minutes: 1, StartPctFTP: 50, EndPctFTP: 50},
		},
	}
}

type engineFixture struct {
	engine  *Engine
	link    *fakeLink
	journal *fakeJournal
	cues    *fakeCuePlayer
}

func newEngineFixture(t *testing.T) *engineFixture {
	t.Helper()
	link := newFakeLink()
	journal := &fakeJournal{}
	cues := &fakeCuePlayer{}
	cfg := DefaultEngineConfig()
	cfg.CountdownSec = 3
	engine := newEngine(link, journal, cues, testLogger(), cfg)
	return &engineFixture{engine: engine, link: link, journal: journal, cues: cues}
}

// startSession drives the fixture through countdown into Running.
func (f *engineFixture) startSession(t *testing.T) {
	t.Helper()
	f.engine.Start()
	require.Equal(t, SessionCountdown, f.engine.ViewModel().State)
	for i := 0; i < f.engine.cfg.CountdownSec; i++ {
		f.engine.tick()
	}
	require.Equal(t, SessionRunning, f.engine.ViewModel().State)
}

func TestEngine_StartRequiresWorkoutModeAndSchedule(t *testing.T) {
	f := newEngineFixture(t)

	f.engine.Start()
	vm := f.engine.ViewModel()
	assert.Equal(t, SessionIdle, vm.State)
	assert.Equal(t, "no workout loaded", vm.Message)

	f.engine.LoadWorkout(testWorkout())
	f.engine.SetMode(ModeErg)
	f.engine.Start()
	vm = f.engine.ViewModel()
	assert.Equal(t, SessionIdle, vm.State)
	assert.Equal(t, "switch to workout mode to start a session", vm.Message)

	f.engine.SetMode(ModeWorkout)
	f.engine.Start()
	assert.Equal(t, SessionCountdown, f.engine.ViewModel().State)
}

func TestEngine_CountdownRunsDownIntoRunning(t *testing.T) {
	f := newEngineFixture(t)
	f.engine.LoadWorkout(testWorkout())
	f.link.setPower(100)

	f.engine.Start()
	assert.Equal(t, 3, f.engine.ViewModel().CountdownRemaining)

	f.engine.tick()
	assert.Equal(t, SessionCountdown, f.engine.ViewModel().State)
	f.engine.tick()
	f.engine.tick()

	vm := f.engine.ViewModel()
	assert.Equal(t, SessionRunning, vm.State)
	assert.Equal(t, 0, vm.ElapsedSec)
}

func TestEngine_ClockAdvancesAndLogsOncePerTick(t *testing.T) {
	f := newEngineFixture(t)
	f.engine.LoadWorkout(testWorkout())
	f.link.setPower(100)
	f.link.setHeartRate(140)
	f.link.setCadence(90)
	f.startSession(t)

	for i := 0; i < 5; i++ {
		f.engine.tick()
	}

	vm := f.engine.ViewModel()
	assert.Equal(t, 5, vm.ElapsedSec)

	snap := f.journal.lastSnapshot()
	require.NotNil(t, snap)
	require.Len(t, snap.LiveSamples, 5)
	assert.Equal(t, 1, snap.LiveSamples[0].ElapsedSec)
	assert.Equal(t, 100, snap.LiveSamples[0].PowerWatts)
	assert.Equal(t, 140, snap.LiveSamples[0].HeartRate)
	assert.Equal(t, 90.0, snap.LiveSamples[0].CadenceRpm)
	assert.Equal(t, 100, snap.LiveSamples[0].TargetWatts)
}

func TestEngine_SendsScheduleTargetAsErgCommand(t *testing.T) {
	f := newEngineFixture(t)
	f.engine.LoadWorkout(testWorkout())
	f.link.setPower(100)
	f.startSession(t)

	f.engine.tick()

	sent := f.link.sentTargets()
	require.NotEmpty(t, sent)
	assert.Equal(t, TargetErg, sent[0].Kind)
	assert.Equal(t, int16(100), sent[0].Watts)
}

func TestEngine_TargetChangesAtIntervalBoundary(t *testing.T) {
	f := newEngineFixture(t)
	f.engine.LoadWorkout(testWorkout())
	f.link.setPower(100)
	f.startSession(t)

	// Ride to second 75, inside the 120% interval
	for i := 0; i < 75; i++ {
		f.engine.tick()
	}

	sent := f.link.sentTargets()
	require.NotEmpty(t, sent)
	last := sent[len(sent)-1]
	assert.Equal(t, TargetErg, last.Kind)
	assert.Equal(t, int16(240), last.Watts)
}

func TestEngine_NoCommandsWhileControllerDisconnected(t *testing.T) {
	f := newEngineFixture(t)
	f.engine.LoadWorkout(testWorkout())
	f.link.setPower(100)
	f.startSession(t)
	f.link.sent = nil

	f.link.setControllerStatus(StatusDisconnected)
	f.engine.tick()
	f.engine.tick()

	assert.Empty(t, f.link.sentTargets())
	// The clock keeps going regardless
	assert.Equal(t, 2, f.engine.ViewModel().ElapsedSec)
}

func TestEngine_AutoPausesAfterZeroPowerOutsideGrace(t *testing.T) {
	f := newEngineFixture(t)
	f.engine.LoadWorkout(testWorkout())
	f.link.setPower(100)
	f.startSession(t)

	// Ride past the grace window
	for i := 0; i < 16; i++ {
		f.engine.tick()
	}
	require.Equal(t, SessionRunning, f.engine.ViewModel().State)

	f.link.setPower(0)
	f.engine.tick()

	vm := f.engine.ViewModel()
	assert.Equal(t, SessionPaused, vm.State)
	assert.Contains(t, f.cues.played(), CuePaused)
}

func TestEngine_ZeroPowerInsideGraceDoesNotPause(t *testing.T) {
	f := newEngineFixture(t)
	f.engine.LoadWorkout(testWorkout())
	f.link.setPower(100)
	f.startSession(t)

	f.link.setPower(0)
	for i := 0; i < 10; i++ {
		f.engine.tick()
	}

	assert.Equal(t, SessionRunning, f.engine.ViewModel().State)
}

func TestEngine_AutoResumesAtNinetyPercentOfTarget(t *testing.T) {
	f := newEngineFixture(t)
	f.engine.LoadWorkout(testWorkout())
	f.link.setPower(100)
	f.startSession(t)

	for i := 0; i < 16; i++ {
		f.engine.tick()
	}
	f.link.setPower(0)
	f.engine.tick()
	require.Equal(t, SessionPaused, f.engine.ViewModel().State)
	elapsedAtPause := f.engine.ViewModel().ElapsedSec

	// 89% of the 100W target is not enough
	f.link.setPower(89)
	f.engine.tick()
	assert.Equal(t, SessionPaused, f.engine.ViewModel().State)

	// 90% is
	f.link.setPower(90)
	f.engine.tick()
	vm := f.engine.ViewModel()
	assert.Equal(t, SessionRunning, vm.State)
	assert.Contains(t, f.cues.played(), CueResumed)

	// Grace window re-armed to elapsed + grace period
	snap := f.journal.lastSnapshot()
	require.NotNil(t, snap)
	assert.Equal(t, elapsedAtPause+f.engine.cfg.GracePeriodSec, snap.GraceUntilSec)
}

func TestEngine_AutoStartsWhenPedalingHard(t *testing.T) {
	f := newEngineFixture(t)
	f.engine.LoadWorkout(testWorkout())

	// First interval target is 100W; the floor of 75W dominates its half
	f.link.setPower(74)
	f.engine.tick()
	assert.Equal(t, SessionIdle, f.engine.ViewModel().State)

	f.link.setPower(76)
	f.engine.tick()
	assert.Equal(t, SessionCountdown, f.engine.ViewModel().State)
}

func TestEngine_EndArchivesLogAndClearsSnapshot(t *testing.T) {
	f := newEngineFixture(t)
	f.engine.LoadWorkout(testWorkout())
	f.link.setPower(100)
	f.startSession(t)

	for i := 0; i < 10; i++ {
		f.engine.tick()
	}
	f.engine.End()

	vm := f.engine.ViewModel()
	assert.Equal(t, SessionEnded, vm.State)

	require.Len(t, f.journal.archived, 1)
	export := f.journal.archived[0]
	assert.Equal(t, "test intervals", export.Meta.WorkoutName)
	assert.Equal(t, 200, export.Meta.FTPUsed)
	assert.Equal(t, 10, export.Meta.TotalElapsedSec)
	assert.Len(t, export.Samples, 10)
	assert.Equal(t, 1, f.journal.cleared)
}

func TestEngine_EndWithEmptyLogSkipsArchive(t *testing.T) {
	f := newEngineFixture(t)
	f.engine.LoadWorkout(testWorkout())
	f.engine.Start()
	f.engine.End()

	assert.Empty(t, f.journal.archived)
	assert.Equal(t, 1, f.journal.cleared)
}

func TestEngine_SessionEndsWhenScheduleRunsOut(t *testing.T) {
	f := newEngineFixture(t)
	f.engine.LoadWorkout(testWorkout())
	f.link.setPower(100)
	f.startSession(t)

	// Total duration is 150 s
	for i := 0; i < 150; i++ {
		f.engine.tick()
	}

	assert.Equal(t, SessionEnded, f.engine.ViewModel().State)
	require.Len(t, f.journal.archived, 1)
	assert.Len(t, f.journal.archived[0].Samples, 149)
}

func TestEngine_ManualErgModeSendsWithoutSession(t *testing.T) {
	f := newEngineFixture(t)
	f.engine.SetMode(ModeErg)
	f.engine.AdjustErgTarget(150)

	f.engine.tick()

	sent := f.link.sentTargets()
	require.NotEmpty(t, sent)
	assert.Equal(t, TargetErg, sent[0].Kind)
	assert.Equal(t, int16(150), sent[0].Watts)
}

func TestEngine_ResistanceModeSendsLevel(t *testing.T) {
	f := newEngineFixture(t)
	f.engine.SetMode(ModeResistance)
	f.engine.AdjustResistance(40)

	f.engine.tick()

	sent := f.link.sentTargets()
	require.NotEmpty(t, sent)
	assert.Equal(t, TargetResistance, sent[0].Kind)
	assert.Equal(t, uint8(40), sent[0].Level)
}

func TestEngine_IdenticalTargetSuppressedAcrossTicks(t *testing.T) {
	f := newEngineFixture(t)
	f.engine.SetMode(ModeErg)
	f.engine.AdjustErgTarget(150)

	f.engine.tick()
	f.engine.tick()
	f.engine.tick()

	// One initial send, then suppressed until the heartbeat interval
	assert.Len(t, f.link.sentTargets(), 1)
}

func TestEngine_SetFTPRescalesSchedule(t *testing.T) {
	f := newEngineFixture(t)
	f.engine.LoadWorkout(testWorkout())
	f.link.setPower(100)
	f.startSession(t)
	f.link.sent = nil

	f.engine.SetFTP(300)
	f.engine.tick()

	sent := f.link.sentTargets()
	require.NotEmpty(t, sent)
	assert.Equal(t, int16(150), sent[0].Watts)
}

func TestEngine_ResumeFromJournalLandsPaused(t *testing.T) {
	link := newFakeLink()
	journal := &fakeJournal{
		loadValue: &SessionSnapshot{
			Workout:        testWorkout(),
			FTPWatts:       250,
			Mode:           ModeWorkout,
			WorkoutRunning: true,
			WorkoutPaused:  false, // ignored: restore always lands paused
			ElapsedSec:     42,
			IntervalIndex:  0,
			LiveSamples:    []SessionLogEntry{{ElapsedSec: 1, PowerWatts: 120}},
			GraceUntilSec:  15,
		},
	}
	engine := newEngine(link, journal, &fakeCuePlayer{}, testLogger(), DefaultEngineConfig())

	require.NoError(t, engine.ResumeFromJournal())

	vm := engine.ViewModel()
	assert.Equal(t, SessionPaused, vm.State)
	assert.Equal(t, 42, vm.ElapsedSec)
	assert.Equal(t, 250, vm.FTPWatts)
	assert.Equal(t, "test intervals", vm.WorkoutTitle)
}

func TestEngine_ResumeFromJournalWithoutSnapshotIsNoop(t *testing.T) {
	f := newEngineFixture(t)
	require.NoError(t, f.engine.ResumeFromJournal())
	assert.Equal(t, SessionIdle, f.engine.ViewModel().State)
}

func TestEngine_CuesFireApproachingHardInterval(t *testing.T) {
	f := newEngineFixture(t)
	f.engine.LoadWorkout(testWorkout())
	f.link.setPower(100)
	f.startSession(t)

	// The 100W -> 240W boundary at t=60 is a 140% jump into 120% FTP:
	// siren at t=51, warning at t=57
	for i := 0; i < 58; i++ {
		f.engine.tick()
	}

	played := f.cues.played()
	assert.Contains(t, played, CueSiren)
	assert.Contains(t, played, CueWarn)
}

func TestEngine_LoadWorkoutRejectedMidSession(t *testing.T) {
	f := newEngineFixture(t)
	f.engine.LoadWorkout(testWorkout())
	f.link.setPower(100)
	f.startSession(t)

	f.engine.LoadWorkout(&CanonicalWorkout{Title: "other"})

	assert.Equal(t, "test intervals", f.engine.ViewModel().WorkoutTitle)
}

func TestEngine_ControllerReconnectForcesResend(t *testing.T) {
	f := newEngineFixture(t)
	f.engine.SetMode(ModeErg)
	f.engine.AdjustErgTarget(150)

	f.engine.tick()
	require.Len(t, f.link.sentTargets(), 1)

	f.engine.NotifyControllerReconnected()
	f.engine.tick()
	assert.Len(t, f.link.sentTargets(), 2)
}
