package trainer

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/veloterm/veloterm/internal/bt"
	"github.com/veloterm/veloterm/internal/events"
	"github.com/veloterm/veloterm/internal/go_func_utils"
)

// LinkStatus is the connection status of one device role.
type LinkStatus int

const (
	StatusDisconnected LinkStatus = iota
	StatusConnecting
	StatusConnected
	StatusError
)

func (s LinkStatus) String() string {
	switch s {
	case StatusDisconnected:
		return "Disconnected"
	case StatusConnecting:
		return "Connecting"
	case StatusConnected:
		return "Connected"
	case StatusError:
		return "Error"
	default:
		return "Unknown"
	}
}

// DeviceConnection is the externally visible state of one role's device.
// Address is retained across disconnects so the link can reconnect.
type DeviceConnection struct {
	Role    DeviceRole
	Status  LinkStatus
	Address string
	Name    string
}

// TelemetrySample is the last-known-value cache of live ride metrics. Nil
// fields have never been reported, or were cleared by a disconnect of the
// device that feeds them.
type TelemetrySample struct {
	PowerWatts   *int
	CadenceRpm   *float64
	SpeedKph     *float64
	HeartRateBpm *uint8
}

// Power returns the last known power, or 0 when none has been reported.
func (t TelemetrySample) Power() int {
	if t.PowerWatts == nil {
		return 0
	}
	return *t.PowerWatts
}

// DeviceLinkInterface is the surface the session engine drives the trainer
// through. Command sends are fire and forget: a failed write is logged and
// the next qualifying tick resends.
type DeviceLinkInterface interface {
	Connect(role DeviceRole, address string) error
	Disconnect(role DeviceRole) error
	Connection(role DeviceRole) DeviceConnection
	Telemetry() TelemetrySample
	SendTarget(target CommandTarget)
	ListenToTelemetry(ch chan<- TelemetrySample) func()
	ListenToConnections(ch chan<- []DeviceConnection) func()
	Shutdown()
}

var _ DeviceLinkInterface = (*DeviceLink)(nil)

// DeviceLink owns one controller connection and one heart-rate connection on
// top of the BT manager: it runs the connect/subscribe/claim-control flow,
// decodes telemetry notifications into the sample cache, serializes command
// writes, and reconnects after unexpected drops.
type DeviceLink struct {
	btManager      bt.BTManagerInterface
	logger         *log.Logger
	retryCfg       bt.RetryConfig
	reconnectDelay time.Duration

	mu          sync.RWMutex
	connections map[DeviceRole]*DeviceConnection
	sample      TelemetrySample

	telemetryEvent  *events.ChannelEvent[TelemetrySample]
	connectionEvent *events.ChannelEvent[[]DeviceConnection]

	// Reconnect queue: a single worker drains reconnectCh with a fixed delay
	// between attempts. reconnectWanted guards against stale entries; manual
	// connect and disconnect clear it so a fresh pairing is never raced by an
	// old auto-reconnect.
	reconnectCh      chan DeviceRole
	reconnectWanted  map[DeviceRole]bool
	manualDisconnect map[DeviceRole]bool

	// At most one in-flight control point write at a time.
	commandCh chan []byte

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewDeviceLink(btManager bt.BTManagerInterface, logger *log.Logger, opts ...DeviceLinkOption) *DeviceLink {
	if btManager == nil {
		panic("DeviceLink: btManager cannot be nil")
	}
	if logger == nil {
		panic("DeviceLink: logger cannot be nil")
	}

	ctx, cancel := context.WithCancel(context.Background())
	link := &DeviceLink{
		btManager:        btManager,
		logger:           logger,
		retryCfg:         bt.DefaultRetryConfig(),
		reconnectDelay:   DefaultReconnectDelay,
		connections:      make(map[DeviceRole]*DeviceConnection),
		telemetryEvent:   events.NewChannelEvent[TelemetrySample](true),
		connectionEvent:  events.NewChannelEvent[[]DeviceConnection](true),
		reconnectCh:      make(chan DeviceRole, 16),
		reconnectWanted:  make(map[DeviceRole]bool),
		manualDisconnect: make(map[DeviceRole]bool),
		commandCh:        make(chan []byte, 1),
		ctx:              ctx,
		cancel:           cancel,
	}
	for _, role := range AllDeviceRoles {
		link.connections[role] = &DeviceConnection{Role: role, Status: StatusDisconnected}
	}
	for _, opt := range opts {
		opt(link)
	}

	link.wg.Add(2)
	go_func_utils.SafeGo(logger, link.runReconnectWorker)
	go_func_utils.SafeGo(logger, link.runCommandWorker)
	link.watchConnectedDevices()

	return link
}

type DeviceLinkOption func(*DeviceLink)

func WithRetryConfig(cfg bt.RetryConfig) DeviceLinkOption {
	return func(l *DeviceLink) { l.retryCfg = cfg }
}

func WithReconnectDelay(d time.Duration) DeviceLinkOption {
	return func(l *DeviceLink) { l.reconnectDelay = d }
}

// Connect pairs a role with a device and runs the full connection flow.
// A manual connect always clears any pending auto-reconnect for the role.
func (l *DeviceLink) Connect(role DeviceRole, address string) error {
	l.mu.Lock()
	l.reconnectWanted[role] = false
	l.manualDisconnect[role] = false
	conn, ok := l.connections[role]
	if !ok {
		l.mu.Unlock()
		return fmt.Errorf("unknown device role %q", role)
	}
	conn.Address = address
	conn.Status = StatusConnecting
	l.mu.Unlock()
	l.emitConnectionChange()

	if err := l.establish(role, address); err != nil {
		l.setStatus(role, StatusError)
		return err
	}

	l.setStatus(role, StatusConnected)
	return nil
}

// establish runs connect, subscribe, and (for the controller) claim-control
// against the device at address. Each step retries independently with
// backoff; a claim-control refusal is fatal for the whole attempt.
func (l *DeviceLink) establish(role DeviceRole, address string) error {
	device := l.btManager.GetBTDeviceByAddressString(address)
	if device == nil {
		return fmt.Errorf("device not found: %s", address)
	}

	err := bt.Retry(l.logger, fmt.Sprintf("connect %s", address), l.retryCfg, func() error {
		if device.IsConnected() {
			return nil
		}
		if err := l.btManager.Connect(device); err != nil {
			return err
		}
		return device.WaitForConnection(10 * time.Second)
	})
	if err != nil {
		return err
	}

	l.mu.Lock()
	l.connections[role].Name = device.GetLocalName()
	l.mu.Unlock()

	switch role {
	case RoleController:
		err = bt.Retry(l.logger, "subscribe indoor bike data", l.retryCfg, func() error {
			return device.EnableNotifications(ServiceUUIDFTMS, CharUUIDIndoorBikeData, l.handleIndoorBikeData)
		})
		if err != nil {
			return err
		}
		if err := l.claimControl(device); err != nil {
			// Without control the trainer ignores every target we send, so
			// a connected-but-uncontrollable link is worse than none.
			l.logger.Printf("DeviceLink: claim control failed for %s: %v", address, err)
			if dErr := l.btManager.Disconnect(device); dErr != nil {
				l.logger.Printf("DeviceLink: disconnect after failed claim: %v", dErr)
			}
			return err
		}
	case RoleHeartRate:
		err = bt.Retry(l.logger, "subscribe heart rate", l.retryCfg, func() error {
			return device.EnableNotifications(ServiceUUIDHeartRate, CharUUIDHeartRateMeasurement, l.handleHeartRateData)
		})
		if err != nil {
			return err
		}
	default:
		return fmt.Errorf("unknown device role %q", role)
	}

	return nil
}

// claimControl requests control of the FTMS control point and starts the
// machine. Unlike discovery and subscription this is not retried past the
// Retry budget: a trainer that refuses control will keep refusing.
func (l *DeviceLink) claimControl(device bt.BTDevice) error {
	err := bt.Retry(l.logger, "request control", l.retryCfg, func() error {
		return device.WriteCharacteristic(ServiceUUIDFTMS, CharUUIDFTMSControlPoint, EncodeRequestControl())
	})
	if err != nil {
		return fmt.Errorf("request control: %w", err)
	}

	err = bt.Retry(l.logger, "start or resume", l.retryCfg, func() error {
		return device.WriteCharacteristic(ServiceUUIDFTMS, CharUUIDFTMSControlPoint, EncodeStartOrResume())
	})
	if err != nil {
		return fmt.Errorf("start machine: %w", err)
	}
	return nil
}

// Disconnect drops a role's device on purpose. The reconnect queue entry for
// the role is cleared so the link stays down until the next manual connect.
func (l *DeviceLink) Disconnect(role DeviceRole) error {
	l.mu.Lock()
	l.reconnectWanted[role] = false
	l.manualDisconnect[role] = true
	conn, ok := l.connections[role]
	if !ok {
		l.mu.Unlock()
		return fmt.Errorf("unknown device role %q", role)
	}
	address := conn.Address
	l.mu.Unlock()

	if address == "" {
		return nil
	}
	device := l.btManager.GetBTDeviceByAddressString(address)
	if device == nil {
		l.setStatus(role, StatusDisconnected)
		return nil
	}
	return l.btManager.Disconnect(device)
}

// Connection returns a copy of the role's connection state.
func (l *DeviceLink) Connection(role DeviceRole) DeviceConnection {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if conn, ok := l.connections[role]; ok {
		return *conn
	}
	return DeviceConnection{Role: role, Status: StatusDisconnected}
}

// Telemetry returns the current last-known sample.
func (l *DeviceLink) Telemetry() TelemetrySample {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.sample
}

// SendTarget encodes the target and hands it to the command worker. If a
// write is already queued the new frame replaces nothing and is dropped; the
// throttler resends on the next qualifying tick.
func (l *DeviceLink) SendTarget(target CommandTarget) {
	var frame []byte
	switch target.Kind {
	case TargetErg:
		frame = EncodeSetTargetPower(target.Watts)
	case TargetResistance:
		frame = EncodeSetTargetResistance(target.Level)
	default:
		l.logger.Printf("DeviceLink: unknown command target kind %v", target.Kind)
		return
	}

	select {
	case l.commandCh <- frame:
	default:
		l.logger.Printf("DeviceLink: command queue full, dropping target %v", target)
	}
}

func (l *DeviceLink) ListenToTelemetry(ch chan<- TelemetrySample) func() {
	return l.telemetryEvent.Listen(ch)
}

func (l *DeviceLink) ListenToConnections(ch chan<- []DeviceConnection) func() {
	return l.connectionEvent.Listen(ch)
}

// Shutdown disconnects everything and stops the workers.
func (l *DeviceLink) Shutdown() {
	l.logger.Println("DeviceLink: shutting down")
	for _, role := range AllDeviceRoles {
		if l.Connection(role).Status == StatusConnected {
			if err := l.Disconnect(role); err != nil {
				l.logger.Printf("DeviceLink: disconnect %s: %v", role, err)
			}
		}
	}
	l.cancel()
	l.wg.Wait()
}

// runCommandWorker serializes control point writes: at most one in flight at
// a time, failures logged and forgotten.
func (l *DeviceLink) runCommandWorker() {
	defer l.wg.Done()
	for {
		select {
		case <-l.ctx.Done():
			return
		case frame := <-l.commandCh:
			conn := l.Connection(RoleController)
			if conn.Status != StatusConnected || conn.Address == "" {
				continue
			}
			device := l.btManager.GetBTDeviceByAddressString(conn.Address)
			if device == nil {
				continue
			}
			if err := device.WriteCharacteristic(ServiceUUIDFTMS, CharUUIDFTMSControlPoint, frame); err != nil {
				l.logger.Printf("DeviceLink: command write failed: %v", err)
			}
		}
	}
}

// runReconnectWorker drains the reconnect queue one entry at a time with a
// fixed delay before each attempt. Entries whose role reconnected in the
// meantime, or whose reconnect was cancelled by a manual action, are skipped.
func (l *DeviceLink) runReconnectWorker() {
	defer l.wg.Done()
	for {
		select {
		case <-l.ctx.Done():
			return
		case role := <-l.reconnectCh:
			select {
			case <-l.ctx.Done():
				return
			case <-time.After(l.reconnectDelay):
			}

			l.mu.RLock()
			wanted := l.reconnectWanted[role]
			conn := l.connections[role]
			address := ""
			if conn != nil {
				address = conn.Address
			}
			l.mu.RUnlock()

			if !wanted || address == "" {
				continue
			}
			if l.Connection(role).Status == StatusConnected {
				continue
			}

			l.logger.Printf("DeviceLink: attempting reconnect of %s to %s", role, address)
			l.setStatus(role, StatusConnecting)
			if err := l.establish(role, address); err != nil {
				l.logger.Printf("DeviceLink: reconnect of %s failed: %v", role, err)
				l.setStatus(role, StatusError)
				l.enqueueReconnect(role)
				continue
			}
			l.setStatus(role, StatusConnected)
		}
	}
}

func (l *DeviceLink) enqueueReconnect(role DeviceRole) {
	l.mu.Lock()
	l.reconnectWanted[role] = true
	l.mu.Unlock()
	select {
	case l.reconnectCh <- role:
	default:
		// Queue full: the worker will see reconnectWanted on an older entry.
	}
}

// watchConnectedDevices notices unexpected drops reported by the BT manager
// and queues the affected role for reconnection.
func (l *DeviceLink) watchConnectedDevices() {
	ch := make(chan []bt.BTDevice, 4)
	deregister := l.btManager.ListenToConnectedDevices(ch)

	l.wg.Add(1)
	go_func_utils.SafeGo(l.logger, func() {
		defer l.wg.Done()
		defer deregister()
		for {
			select {
			case <-l.ctx.Done():
				return
			case devices := <-ch:
				connected := make(map[string]bool, len(devices))
				for _, d := range devices {
					connected[d.GetAddressString()] = true
				}
				l.handleConnectionSnapshot(connected)
			}
		}
	})
}

func (l *DeviceLink) handleConnectionSnapshot(connected map[string]bool) {
	type drop struct {
		role      DeviceRole
		reconnect bool
	}
	var drops []drop

	l.mu.Lock()
	for role, conn := range l.connections {
		if conn.Status != StatusConnected || conn.Address == "" {
			continue
		}
		if connected[conn.Address] {
			continue
		}
		conn.Status = StatusDisconnected
		l.clearTelemetryForRoleLocked(role)
		// A drop we asked for stays down; anything else reconnects.
		wantReconnect := !l.manualDisconnect[role]
		l.manualDisconnect[role] = false
		drops = append(drops, drop{role: role, reconnect: wantReconnect})
	}
	l.mu.Unlock()

	for _, d := range drops {
		l.logger.Printf("DeviceLink: %s link dropped", d.role)
		if d.reconnect {
			l.enqueueReconnect(d.role)
		}
	}
	if len(drops) > 0 {
		l.emitConnectionChange()
	}
}

// clearTelemetryForRoleLocked resets the sample fields fed by a role's
// device. Stale watts from a dead trainer must not keep the session alive.
func (l *DeviceLink) clearTelemetryForRoleLocked(role DeviceRole) {
	switch role {
	case RoleController:
		l.sample.PowerWatts = nil
		l.sample.CadenceRpm = nil
		l.sample.SpeedKph = nil
	case RoleHeartRate:
		l.sample.HeartRateBpm = nil
	}
}

func (l *DeviceLink) handleIndoorBikeData(buf []byte) {
	data, err := DecodeIndoorBikeData(buf)
	if err != nil {
		l.logger.Printf("DeviceLink: bad indoor bike data frame: %v", err)
		return
	}

	l.mu.Lock()
	if data.InstantaneousPowerWatts != nil {
		power := int(*data.InstantaneousPowerWatts)
		l.sample.PowerWatts = &power
	}
	if data.InstantaneousCadenceRpm != nil {
		cadence := *data.InstantaneousCadenceRpm
		l.sample.CadenceRpm = &cadence
	}
	if data.InstantaneousSpeedKmh != nil {
		speed := *data.InstantaneousSpeedKmh
		l.sample.SpeedKph = &speed
	}
	sample := l.sample
	l.mu.Unlock()

	l.telemetryEvent.Notify(sample)
}

func (l *DeviceLink) handleHeartRateData(buf []byte) {
	hr, err := DecodeHeartRate(buf)
	if err != nil {
		l.logger.Printf("DeviceLink: bad heart rate frame: %v", err)
		return
	}

	l.mu.Lock()
	bpm := uint8(hr)
	if hr > 255 {
		bpm = 255
	}
	l.sample.HeartRateBpm = &bpm
	sample := l.sample
	l.mu.Unlock()

	l.telemetryEvent.Notify(sample)
}

func (l *DeviceLink) setStatus(role DeviceRole, status LinkStatus) {
	l.mu.Lock()
	if conn, ok := l.connections[role]; ok {
		conn.Status = status
	}
	l.mu.Unlock()
	l.emitConnectionChange()
}

func (l *DeviceLink) emitConnectionChange() {
	l.mu.RLock()
	snapshot := make([]DeviceConnection, 0, len(l.connections))
	for _, role := range AllDeviceRoles {
		if conn, ok := l.connections[role]; ok {
			snapshot = append(snapshot, *conn)
		}
	}
	l.mu.RUnlock()
	l.connectionEvent.Notify(snapshot)
}
