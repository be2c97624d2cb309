package trainer

import (
	"io"
	"log"
	"sync"
)

func testLogger() *log.Logger {
	return log.New(io.Discard, "", 0)
}

// fakeLink is an in-memory DeviceLinkInterface for engine tests.
type fakeLink struct {
	mu              sync.Mutex
	sample          TelemetrySample
	sent            []CommandTarget
	status          map[DeviceRole]LinkStatus
	connectCalls    []string
	disconnectCalls []DeviceRole
}

func newFakeLink() *fakeLink {
	return &fakeLink{
		status: map[DeviceRole]LinkStatus{
			RoleController: StatusConnected,
			RoleHeartRate:  StatusDisconnected,
		},
	}
}

func (f *fakeLink) setPower(watts int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sample.PowerWatts = &watts
}

func (f *fakeLink) clearPower() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sample.PowerWatts = nil
}

func (f *fakeLink) setHeartRate(bpm uint8) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sample.HeartRateBpm = &bpm
}

func (f *fakeLink) setCadence(rpm float64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sample.CadenceRpm = &rpm
}

func (f *fakeLink) setControllerStatus(status LinkStatus) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.status[RoleController] = status
}

func (f *fakeLink) sentTargets() []CommandTarget {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]CommandTarget, len(f.sent))
	copy(out, f.sent)
	return out
}

func (f *fakeLink) Connect(role DeviceRole, address string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.connectCalls = append(f.connectCalls, address)
	f.status[role] = StatusConnected
	return nil
}

func (f *fakeLink) Disconnect(role DeviceRole) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.disconnectCalls = append(f.disconnectCalls, role)
	f.status[role] = StatusDisconnected
	return nil
}

func (f *fakeLink) Connection(role DeviceRole) DeviceConnection {
	f.mu.Lock()
	defer f.mu.Unlock()
	return DeviceConnection{Role: role, Status: f.status[role]}
}

func (f *fakeLink) Telemetry() TelemetrySample {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.sample
}

func (f *fakeLink) SendTarget(target CommandTarget) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, target)
}

func (f *fakeLink) ListenToTelemetry(chan<- TelemetrySample) func() { return func() {} }

func (f *fakeLink) ListenToConnections(chan<- []DeviceConnection) func() { return func() {} }

func (f *fakeLink) Shutdown() {}

// fakeJournal records persistence traffic for assertions.
type fakeJournal struct {
	mu        sync.Mutex
	snapshots []SessionSnapshot
	archived  []SessionExport
	cleared   int
	loadValue *SessionSnapshot
	loadErr   error
}

func (f *fakeJournal) SaveSnapshot(snapshot SessionSnapshot) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.snapshots = append(f.snapshots, snapshot)
	return nil
}

func (f *fakeJournal) LoadSnapshot() (*SessionSnapshot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.loadValue, f.loadErr
}

func (f *fakeJournal) ClearSnapshot() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cleared++
	return nil
}

func (f *fakeJournal) ArchiveSession(export SessionExport) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.archived = append(f.archived, export)
	return nil
}

func (f *fakeJournal) lastSnapshot() *SessionSnapshot {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.snapshots) == 0 {
		return nil
	}
	snap := f.snapshots[len(f.snapshots)-1]
	return &snap
}

// fakeCuePlayer records cues in order.
type fakeCuePlayer struct {
	mu   sync.Mutex
	cues []Cue
}

func (f *fakeCuePlayer) Play(cue Cue) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cues = append(f.cues, cue)
}

func (f *fakeCuePlayer) played() []Cue {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]Cue, len(f.cues))
	copy(out, f.cues)
	return out
}
