package trainer

import (
	"log"
	"math"
	"sync"
	"time"

	"github.com/veloterm/veloterm/internal/events"
	"github.com/veloterm/veloterm/internal/go_func_utils"
)

// EngineConfig bundles the session tunables. The auto-pause grace period and
// zero-power threshold look arbitrary but are tuned by riding with them;
// keep them configurable.
type EngineConfig struct {
	CountdownSec        int
	GracePeriodSec      int
	ZeroPowerPauseTicks int
	HeartbeatInterval   time.Duration
	DefaultFTPWatts     int
}

func DefaultEngineConfig() EngineConfig {
	return EngineConfig{
		CountdownSec:        DefaultCountdownSec,
		GracePeriodSec:      DefaultGracePeriodSec,
		ZeroPowerPauseTicks: DefaultZeroPowerTicks,
		HeartbeatInterval:   DefaultHeartbeatInterval,
		DefaultFTPWatts:     200,
	}
}

// ViewModel is a rendering snapshot of the session. Everything in it is a
// copy; the renderer never shares state with the engine.
type ViewModel struct {
	State              SessionState
	Mode               ControlMode
	FTPWatts           int
	WorkoutTitle       string
	ElapsedSec         int
	RemainingSec       int
	CountdownRemaining int
	IntervalIndex      int
	IntervalCount      int
	TargetWatts        int
	HasTarget          bool
	ManualErgWatts     int16
	ManualResistance   uint8
	Sample             TelemetrySample
	Connections        []DeviceConnection
	Message            string
}

// Engine is the session state machine. It owns the clock, the session log,
// the mode, and the auto-pause policy, and composes the schedule, throttler,
// cue scheduler, device link, and journal behind a small control surface.
//
// One goroutine runs a 1 Hz tick; all public operations take effect
// synchronously under the engine lock and the next tick observes them.
type Engine struct {
	link      DeviceLinkInterface
	journal   SessionJournal
	cuePlayer CuePlayer
	logger    *log.Logger
	cfg       EngineConfig

	mu               sync.RWMutex
	workout          *CanonicalWorkout
	schedule         Schedule
	ftpWatts         int
	mode             ControlMode
	manualErgWatts   int16
	manualResistance uint8
	state            SessionState
	elapsedSec       int
	countdownLeft    int
	intervalIndex    int
	zeroPowerTicks   int
	graceUntilSec    int
	sessionLog       []SessionLogEntry
	startedAt        time.Time
	message          string

	throttler *Throttler
	cues      *CueScheduler

	viewEvent *events.ChannelEvent[ViewModel]

	doneChan     chan struct{}
	wg           sync.WaitGroup
	shutdownOnce sync.Once
}

func NewEngine(link DeviceLinkInterface, journal SessionJournal, cuePlayer CuePlayer, logger *log.Logger, cfg EngineConfig) *Engine {
	e := newEngine(link, journal, cuePlayer, logger, cfg)

	e.wg.Add(1)
	go_func_utils.SafeGo(logger, e.runTickLoop)

	return e
}

// newEngine builds the engine without starting the tick loop.
func newEngine(link DeviceLinkInterface, journal SessionJournal, cuePlayer CuePlayer, logger *log.Logger, cfg EngineConfig) *Engine {
	if link == nil {
		panic("Engine: link cannot be nil")
	}
	if logger == nil {
		panic("Engine: logger cannot be nil")
	}
	if journal == nil {
		journal = NopJournal{}
	}
	if cuePlayer == nil {
		cuePlayer = NopCuePlayer{}
	}
	if cfg.CountdownSec <= 0 {
		cfg.CountdownSec = DefaultCountdownSec
	}
	if cfg.GracePeriodSec <= 0 {
		cfg.GracePeriodSec = DefaultGracePeriodSec
	}
	if cfg.ZeroPowerPauseTicks <= 0 {
		cfg.ZeroPowerPauseTicks = DefaultZeroPowerTicks
	}
	if cfg.DefaultFTPWatts <= 0 {
		cfg.DefaultFTPWatts = DefaultEngineConfig().DefaultFTPWatts
	}

	return &Engine{
		link:          link,
		journal:       journal,
		cuePlayer:     cuePlayer,
		logger:        logger,
		cfg:           cfg,
		ftpWatts:      cfg.DefaultFTPWatts,
		mode:          ModeWorkout,
		state:         SessionIdle,
		intervalIndex: -1,
		throttler:     NewThrottler(cfg.HeartbeatInterval),
		cues:          NewCueScheduler(),
		viewEvent:     events.NewChannelEvent[ViewModel](true),
		doneChan:      make(chan struct{}),
	}
}

// LoadWorkout sets the workout and rebuilds the schedule. Rejected while a
// session is in progress.
func (e *Engine) LoadWorkout(workout *CanonicalWorkout) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.state == SessionCountdown || e.state == SessionRunning || e.state == SessionPaused {
		e.message = "cannot change workout during a session"
		e.logger.Printf("Engine: workout change rejected in state %v", e.state)
		return
	}

	e.workout = workout
	e.rebuildScheduleLocked()
	if workout != nil {
		e.logger.Printf("Engine: workout %q loaded (%.0f min)", workout.Title, workout.TotalMinutes())
	} else {
		e.logger.Printf("Engine: workout cleared")
	}
}

// SetFTP changes FTP and rebuilds the schedule against it. The next target
// send is forced so the trainer picks up the rescaled watts immediately.
func (e *Engine) SetFTP(watts int) {
	if watts <= 0 {
		return
	}
	e.mu.Lock()
	e.ftpWatts = watts
	e.rebuildScheduleLocked()
	e.throttler.Force()
	e.mu.Unlock()
	e.logger.Printf("Engine: FTP set to %d W", watts)
}

// SetMode switches the target source. Forces the next send so the trainer is
// retargeted without waiting out the heartbeat.
func (e *Engine) SetMode(mode ControlMode) {
	e.mu.Lock()
	e.mode = mode
	e.throttler.Force()
	e.mu.Unlock()
	e.logger.Printf("Engine: mode set to %v", mode)
}

// AdjustErgTarget nudges the manual ERG target by delta watts.
func (e *Engine) AdjustErgTarget(delta int) {
	e.mu.Lock()
	target := int(e.manualErgWatts) + delta
	if target < MinTargetPowerWatts {
		target = MinTargetPowerWatts
	}
	if target > MaxTargetPowerWatts {
		target = MaxTargetPowerWatts
	}
	e.manualErgWatts = int16(target)
	e.throttler.Force()
	e.mu.Unlock()
	e.logger.Printf("Engine: manual ERG target now %d W", target)
}

// AdjustResistance nudges the manual resistance level by delta percent.
func (e *Engine) AdjustResistance(delta int) {
	e.mu.Lock()
	level := int(e.manualResistance) + delta
	if level < MinResistanceLevel {
		level = MinResistanceLevel
	}
	if level > MaxResistanceLevel {
		level = MaxResistanceLevel
	}
	e.manualResistance = uint8(level)
	e.throttler.Force()
	e.mu.Unlock()
	e.logger.Printf("Engine: manual resistance now %d%%", level)
}

// Start arms the countdown. Requires Workout mode and a non-empty schedule;
// failures set a user-visible message and never panic.
func (e *Engine) Start() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.startLocked()
}

func (e *Engine) startLocked() {
	if e.state == SessionCountdown || e.state == SessionRunning || e.state == SessionPaused {
		e.message = "session already in progress"
		return
	}
	if e.mode != ModeWorkout {
		e.message = "switch to workout mode to start a session"
		e.logger.Printf("Engine: start rejected in mode %v", e.mode)
		return
	}
	if e.schedule.IsEmpty() {
		e.message = "no workout loaded"
		e.logger.Printf("Engine: start rejected with no schedule")
		return
	}

	e.state = SessionCountdown
	e.countdownLeft = e.cfg.CountdownSec
	e.message = ""
	e.logger.Printf("Engine: countdown started (%d s)", e.countdownLeft)
}

// TogglePause flips between running and paused. No-op outside a session.
func (e *Engine) TogglePause() {
	e.mu.Lock()
	defer e.mu.Unlock()

	switch e.state {
	case SessionRunning:
		e.pauseLocked()
	case SessionPaused:
		e.resumeLocked()
	default:
		e.message = "no session to pause"
	}
}

func (e *Engine) pauseLocked() {
	e.state = SessionPaused
	e.zeroPowerTicks = 0
	e.logger.Printf("Engine: paused at %d s", e.elapsedSec)
}

func (e *Engine) resumeLocked() {
	e.state = SessionRunning
	e.zeroPowerTicks = 0
	e.graceUntilSec = e.elapsedSec + e.cfg.GracePeriodSec
	e.throttler.Force()
	e.logger.Printf("Engine: resumed at %d s", e.elapsedSec)
}

// End finishes the session, archiving the log if anything was ridden.
func (e *Engine) End() {
	e.mu.Lock()
	export, archive := e.endLocked()
	e.mu.Unlock()

	e.flushSession(export, archive)
}

func (e *Engine) endLocked() (SessionExport, bool) {
	if e.state == SessionIdle || e.state == SessionEnded {
		e.message = "no session to end"
		return SessionExport{}, false
	}

	archive := len(e.sessionLog) > 0
	export := SessionExport{
		Meta: SessionMeta{
			FTPUsed:         e.ftpWatts,
			StartedAt:       e.startedAt,
			EndedAt:         time.Now(),
			TotalElapsedSec: e.elapsedSec,
		},
		Samples: e.sessionLog,
	}
	if e.workout != nil {
		export.Meta.WorkoutName = e.workout.Title
	}

	e.state = SessionEnded
	e.sessionLog = nil
	e.elapsedSec = 0
	e.countdownLeft = 0
	e.zeroPowerTicks = 0
	e.graceUntilSec = 0
	e.intervalIndex = -1
	e.cues.Reset()
	e.logger.Printf("Engine: session ended (%d samples)", len(export.Samples))
	return export, archive
}

func (e *Engine) flushSession(export SessionExport, archive bool) {
	if archive {
		if err := e.journal.ArchiveSession(export); err != nil {
			e.logger.Printf("Engine: session archive failed: %v", err)
		}
	}
	if err := e.journal.ClearSnapshot(); err != nil {
		e.logger.Printf("Engine: snapshot clear failed: %v", err)
	}
}

// ResumeFromJournal restores a crash-interrupted session. A snapshot with a
// running workout always comes back paused so the trainer is not driven
// until the rider confirms.
func (e *Engine) ResumeFromJournal() error {
	snapshot, err := e.journal.LoadSnapshot()
	if err != nil {
		return err
	}
	if snapshot == nil {
		return nil
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if snapshot.FTPWatts > 0 {
		e.ftpWatts = snapshot.FTPWatts
	}
	e.mode = snapshot.Mode
	e.manualErgWatts = snapshot.ManualErgWatts
	e.manualResistance = snapshot.ManualResistance
	e.workout = snapshot.Workout
	e.rebuildScheduleLocked()

	if snapshot.WorkoutRunning && !e.schedule.IsEmpty() {
		e.state = SessionPaused
		e.elapsedSec = snapshot.ElapsedSec
		e.intervalIndex = snapshot.IntervalIndex
		e.sessionLog = snapshot.LiveSamples
		e.zeroPowerTicks = snapshot.ZeroPowerTicks
		e.graceUntilSec = snapshot.GraceUntilSec
		e.startedAt = snapshot.WorkoutStartedAt
		e.message = "session restored, press pause to resume"
		e.logger.Printf("Engine: restored session at %d s (paused)", e.elapsedSec)
	}
	return nil
}

// ViewModel returns a copy of everything a renderer needs.
func (e *Engine) ViewModel() ViewModel {
	e.mu.RLock()
	defer e.mu.RUnlock()

	vm := ViewModel{
		State:              e.state,
		Mode:               e.mode,
		FTPWatts:           e.ftpWatts,
		ElapsedSec:         e.elapsedSec,
		CountdownRemaining: e.countdownLeft,
		IntervalIndex:      e.intervalIndex,
		IntervalCount:      len(e.schedule.Intervals),
		ManualErgWatts:     e.manualErgWatts,
		ManualResistance:   e.manualResistance,
		Sample:             e.link.Telemetry(),
		Message:            e.message,
	}
	if e.workout != nil {
		vm.WorkoutTitle = e.workout.Title
	}
	if !e.schedule.IsEmpty() {
		vm.RemainingSec = e.schedule.TotalDurationSec - e.elapsedSec
		if vm.RemainingSec < 0 {
			vm.RemainingSec = 0
		}
	}
	if target, ok := e.currentTargetLocked(); ok {
		vm.TargetWatts = int(target.Watts)
		vm.HasTarget = true
		if target.Kind == TargetResistance {
			vm.TargetWatts = 0
			vm.HasTarget = false
		}
	}
	for _, role := range AllDeviceRoles {
		vm.Connections = append(vm.Connections, e.link.Connection(role))
	}
	return vm
}

// Shutdown stops the tick loop. Safe to call more than once.
func (e *Engine) Shutdown() {
	e.shutdownOnce.Do(func() {
		e.logger.Printf("Engine: shutting down")
		close(e.doneChan)
		e.wg.Wait()
		e.logger.Printf("Engine: shutdown complete")
	})
}

func (e *Engine) runTickLoop() {
	defer e.wg.Done()

	// The ticker runs for the whole engine lifetime: idle ticks are what
	// drive auto-start detection.
	ticker := time.NewTicker(1 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-e.doneChan:
			return
		case <-ticker.C:
			e.tick()
		}
	}
}

// tickOutcome is what a tick decided while holding the lock; the I/O happens
// after release.
type tickOutcome struct {
	cue          Cue
	target       CommandTarget
	sendTarget   bool
	snapshot     SessionSnapshot
	saveSnapshot bool
	export       SessionExport
	flushArchive bool
	flushJournal bool
}

// tick advances the state machine by one second. It must never fail: a
// missing schedule or dead link degrades to "no target" while the clock and
// log keep going.
func (e *Engine) tick() {
	sample := e.link.Telemetry()

	e.mu.Lock()
	outcome := e.handleTick(sample)
	e.mu.Unlock()

	if outcome.cue != CueNone {
		e.cuePlayer.Play(outcome.cue)
	}
	if outcome.sendTarget {
		e.link.SendTarget(outcome.target)
	}
	if outcome.saveSnapshot {
		if err := e.journal.SaveSnapshot(outcome.snapshot); err != nil {
			e.logger.Printf("Engine: snapshot save failed: %v", err)
		}
	}
	if outcome.flushJournal {
		e.flushSession(outcome.export, outcome.flushArchive)
	}

	e.viewEvent.Notify(e.ViewModel())
}

// ListenToViewModel delivers a fresh view model after every tick. The last
// value is replayed to new listeners so a renderer has something to draw
// before the first tick it observes.
func (e *Engine) ListenToViewModel(ch chan<- ViewModel) func() {
	return e.viewEvent.Listen(ch)
}

// handleTick is the per-second policy, run under the engine lock.
func (e *Engine) handleTick(sample TelemetrySample) tickOutcome {
	var outcome tickOutcome
	power := sample.Power()
	hasPower := sample.PowerWatts != nil

	switch e.state {
	case SessionIdle:
		e.maybeAutoStart(power, hasPower)

	case SessionEnded:
		// Terminal until an explicit start.

	case SessionCountdown:
		e.countdownLeft--
		if e.countdownLeft <= 0 {
			e.beginRunning()
		}

	case SessionRunning:
		advanced := e.advanceClock()
		if !advanced {
			// Schedule exhausted: the session is done.
			export, archive := e.endLocked()
			outcome.export = export
			outcome.flushArchive = archive
			outcome.flushJournal = true
			return outcome
		}

		if e.mode == ModeWorkout {
			if cue := e.checkAutoPause(power, hasPower); cue != CueNone {
				outcome.cue = cue
			}
		}

		e.appendLogEntry(sample)
		outcome.snapshot = e.snapshotLocked()
		outcome.saveSnapshot = true

		if outcome.cue == CueNone {
			outcome.cue = e.cues.Evaluate(e.schedule, e.ftpWatts, e.elapsedSec)
		}

	case SessionPaused:
		if e.mode == ModeWorkout {
			if cue := e.checkAutoResume(power, hasPower); cue != CueNone {
				outcome.cue = cue
			}
		}
		outcome.snapshot = e.snapshotLocked()
		outcome.saveSnapshot = true
	}

	// Target delivery happens in every state with a connected controller;
	// manual ERG and resistance modes work without any session running.
	if target, ok := e.currentTargetLocked(); ok && e.deliverTargets() {
		if e.throttler.ShouldSend(target) {
			outcome.target = target
			outcome.sendTarget = true
		}
	}

	return outcome
}

// maybeAutoStart arms the countdown when the rider just starts pedaling hard
// enough against a loaded workout.
func (e *Engine) maybeAutoStart(power int, hasPower bool) {
	if !hasPower || e.mode != ModeWorkout || e.schedule.IsEmpty() || len(e.sessionLog) > 0 {
		return
	}
	firstTarget := e.schedule.Intervals[0].StartWatts
	threshold := math.Max(AutoStartFloorWatts, AutoStartFraction*float64(firstTarget))
	if float64(power) > threshold {
		e.logger.Printf("Engine: auto-start at %d W (threshold %.0f W)", power, threshold)
		e.startLocked()
	}
}

// beginRunning is the countdown-to-running transition: the clock resets, the
// log clears, and the grace window arms.
func (e *Engine) beginRunning() {
	e.state = SessionRunning
	e.elapsedSec = 0
	e.sessionLog = nil
	e.intervalIndex = -1
	e.zeroPowerTicks = 0
	e.graceUntilSec = e.cfg.GracePeriodSec
	e.startedAt = time.Now()
	e.cues.Reset()
	e.throttler.Force()
	e.logger.Printf("Engine: session running")
}

// advanceClock moves elapsed time forward one second and tracks the active
// interval. Returns false when the schedule is exhausted.
func (e *Engine) advanceClock() bool {
	e.elapsedSec++

	if e.mode != ModeWorkout || e.schedule.IsEmpty() {
		// Manual sessions have no schedule to run out of.
		return true
	}
	if e.elapsedSec >= e.schedule.TotalDurationSec {
		e.elapsedSec = e.schedule.TotalDurationSec
		return false
	}

	_, index, ok := e.schedule.IntervalAt(e.elapsedSec)
	if ok && index != e.intervalIndex {
		e.logger.Printf("Engine: entering interval %d", index)
		e.intervalIndex = index
	}
	return true
}

// checkAutoPause counts zero-power ticks outside the grace window and pauses
// when the threshold is hit. Any positive power resets the counter whether
// or not the tick is in grace.
func (e *Engine) checkAutoPause(power int, hasPower bool) Cue {
	if hasPower && power > 0 {
		e.zeroPowerTicks = 0
		return CueNone
	}
	if e.elapsedSec <= e.graceUntilSec {
		return CueNone
	}

	e.zeroPowerTicks++
	if e.zeroPowerTicks >= e.cfg.ZeroPowerPauseTicks {
		e.pauseLocked()
		return CuePaused
	}
	return CueNone
}

// checkAutoResume restarts the clock when the rider is back on the pedals at
// or above 90% of the current target.
func (e *Engine) checkAutoResume(power int, hasPower bool) Cue {
	if !hasPower || power <= 0 {
		return CueNone
	}
	target, ok := e.schedule.TargetAt(e.elapsedSec)
	if !ok || target <= 0 {
		return CueNone
	}
	if float64(power) >= AutoResumeFraction*float64(target) {
		e.resumeLocked()
		return CueResumed
	}
	return CueNone
}

func (e *Engine) appendLogEntry(sample TelemetrySample) {
	entry := SessionLogEntry{
		ElapsedSec: e.elapsedSec,
		PowerWatts: sample.Power(),
	}
	if sample.HeartRateBpm != nil {
		entry.HeartRate = int(*sample.HeartRateBpm)
	}
	if sample.CadenceRpm != nil {
		entry.CadenceRpm = *sample.CadenceRpm
	}
	if target, ok := e.schedule.TargetAt(e.elapsedSec); ok {
		entry.TargetWatts = target
	}
	e.sessionLog = append(e.sessionLog, entry)
}

// currentTargetLocked derives the command target from the mode.
func (e *Engine) currentTargetLocked() (CommandTarget, bool) {
	switch e.mode {
	case ModeWorkout:
		if e.state != SessionRunning {
			return CommandTarget{}, false
		}
		target, ok := e.schedule.TargetAt(e.elapsedSec)
		if !ok {
			return CommandTarget{}, false
		}
		return ErgTarget(int16(target)), true
	case ModeErg:
		if e.manualErgWatts <= 0 {
			return CommandTarget{}, false
		}
		return ErgTarget(e.manualErgWatts), true
	case ModeResistance:
		return ResistanceTarget(e.manualResistance), true
	default:
		return CommandTarget{}, false
	}
}

// deliverTargets reports whether the controller link can take a command.
func (e *Engine) deliverTargets() bool {
	return e.link.Connection(RoleController).Status == StatusConnected
}

func (e *Engine) snapshotLocked() SessionSnapshot {
	running := e.state == SessionRunning || e.state == SessionPaused
	snapshot := SessionSnapshot{
		Workout:          e.workout,
		FTPWatts:         e.ftpWatts,
		Mode:             e.mode,
		ManualErgWatts:   e.manualErgWatts,
		ManualResistance: e.manualResistance,
		WorkoutRunning:   running,
		WorkoutPaused:    e.state == SessionPaused,
		ElapsedSec:       e.elapsedSec,
		IntervalIndex:    e.intervalIndex,
		ZeroPowerTicks:   e.zeroPowerTicks,
		GraceUntilSec:    e.graceUntilSec,
		WorkoutStartedAt: e.startedAt,
	}
	snapshot.LiveSamples = make([]SessionLogEntry, len(e.sessionLog))
	copy(snapshot.LiveSamples, e.sessionLog)
	return snapshot
}

func (e *Engine) rebuildScheduleLocked() {
	if e.workout == nil {
		e.schedule = Schedule{}
		return
	}
	e.schedule = BuildSchedule(e.workout.BuilderSegments(), e.ftpWatts)
}

// NotifyControllerReconnected resets the throttler history so the next
// evaluation resends the target: the trainer may have rebooted and lost it.
func (e *Engine) NotifyControllerReconnected() {
	e.mu.Lock()
	e.throttler.Reset()
	e.mu.Unlock()
	e.logger.Printf("Engine: controller reconnected, target resend forced")
}
