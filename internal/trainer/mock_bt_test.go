package trainer

import (
	"fmt"
	"sync"
	"time"

	"github.com/veloterm/veloterm/internal/bt"
	"github.com/veloterm/veloterm/internal/events"
)

// mockBTDevice is a scripted bt.BTDevice for link tests.
type mockBTDevice struct {
	mu            sync.Mutex
	address       string
	name          string
	connected     bool
	serviceUUIDs  []string
	notifications map[string]func(buf []byte) // char UUID -> callback
	writes        map[string][][]byte         // char UUID -> frames
	writeErr      error
	subscribeErr  error
}

func newMockBTDevice(address string, serviceUUIDs ...string) *mockBTDevice {
	return &mockBTDevice{
		address:       address,
		name:          "Mock " + address,
		serviceUUIDs:  serviceUUIDs,
		notifications: make(map[string]func(buf []byte)),
		writes:        make(map[string][][]byte),
	}
}

func (d *mockBTDevice) GetAddressString() string { return d.address }

func (d *mockBTDevice) GetScanRSSI() (int16, error) { return -60, nil }

func (d *mockBTDevice) GetLocalName() string { return d.name }

func (d *mockBTDevice) IsConnected() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.connected
}

func (d *mockBTDevice) GetState() bt.BTDeviceState {
	if d.IsConnected() {
		return bt.Connected
	}
	return bt.Disconnected
}

func (d *mockBTDevice) GetStateDescription() string {
	if d.IsConnected() {
		return "Connected"
	}
	return "Disconnected"
}

func (d *mockBTDevice) WaitForConnection(timeout time.Duration) error {
	if d.IsConnected() {
		return nil
	}
	return fmt.Errorf("timeout after %v waiting for connection", timeout)
}

func (d *mockBTDevice) EnableNotifications(serviceUUID, charUUID string, callback func(buf []byte)) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.subscribeErr != nil {
		return d.subscribeErr
	}
	d.notifications[charUUID] = callback
	return nil
}

func (d *mockBTDevice) DisableNotifications(serviceUUID, charUUID string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.notifications, charUUID)
	return nil
}

func (d *mockBTDevice) ReadCharacteristic(serviceUUID, charUUID string) ([]byte, error) {
	return nil, fmt.Errorf("read not scripted for %s", charUUID)
}

func (d *mockBTDevice) WriteCharacteristic(serviceUUID, charUUID string, data []byte) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.writeErr != nil {
		return d.writeErr
	}
	frame := make([]byte, len(data))
	copy(frame, data)
	d.writes[charUUID] = append(d.writes[charUUID], frame)
	return nil
}

func (d *mockBTDevice) WriteCharacteristicWithoutResponse(serviceUUID, charUUID string, data []byte) error {
	return d.WriteCharacteristic(serviceUUID, charUUID, data)
}

func (d *mockBTDevice) GetServiceUUIDs() []string { return d.serviceUUIDs }

func (d *mockBTDevice) HasServiceUUID(uuid string) bool {
	for _, u := range d.serviceUUIDs {
		if u == uuid {
			return true
		}
	}
	return false
}

// notify pushes a frame through a subscribed notification callback.
func (d *mockBTDevice) notify(charUUID string, buf []byte) {
	d.mu.Lock()
	callback := d.notifications[charUUID]
	d.mu.Unlock()
	if callback != nil {
		callback(buf)
	}
}

func (d *mockBTDevice) writtenFrames(charUUID string) [][]byte {
	d.mu.Lock()
	defer d.mu.Unlock()
	frames := make([][]byte, len(d.writes[charUUID]))
	copy(frames, d.writes[charUUID])
	return frames
}

// mockBTManager is an in-memory bt.BTManagerInterface.
type mockBTManager struct {
	mu             sync.Mutex
	devices        map[string]*mockBTDevice
	connectErr     error
	connectedEvent *events.ChannelEvent[[]bt.BTDevice]
	scanListEvent  *events.ChannelEvent[[]bt.BTDevice]
	scanning       bool
}

func newMockBTManager(devices ...*mockBTDevice) *mockBTManager {
	m := &mockBTManager{
		devices:        make(map[string]*mockBTDevice),
		connectedEvent: events.NewChannelEvent[[]bt.BTDevice](true),
		scanListEvent:  events.NewChannelEvent[[]bt.BTDevice](true),
	}
	for _, d := range devices {
		m.devices[d.address] = d
	}
	return m
}

func (m *mockBTManager) Enable() error { return nil }

func (m *mockBTManager) GetBTDeviceByAddressString(address string) bt.BTDevice {
	m.mu.Lock()
	defer m.mu.Unlock()
	if d, ok := m.devices[address]; ok {
		return d
	}
	return nil
}

func (m *mockBTManager) StartScan([]string) { m.scanning = true }

func (m *mockBTManager) StopScan() error {
	m.scanning = false
	return nil
}

func (m *mockBTManager) IsScanning() bool { return m.scanning }

func (m *mockBTManager) Connect(device bt.BTDevice) error {
	m.mu.Lock()
	if m.connectErr != nil {
		err := m.connectErr
		m.mu.Unlock()
		return err
	}
	d := m.devices[device.GetAddressString()]
	if d == nil {
		m.mu.Unlock()
		return fmt.Errorf("unknown device %s", device.GetAddressString())
	}
	d.mu.Lock()
	d.connected = true
	d.mu.Unlock()
	m.mu.Unlock()

	m.emitConnected()
	return nil
}

func (m *mockBTManager) Disconnect(device bt.BTDevice) error {
	m.mu.Lock()
	d := m.devices[device.GetAddressString()]
	if d != nil {
		d.mu.Lock()
		d.connected = false
		d.mu.Unlock()
	}
	m.mu.Unlock()

	m.emitConnected()
	return nil
}

// dropDevice simulates an unexpected link loss.
func (m *mockBTManager) dropDevice(address string) {
	m.mu.Lock()
	if d := m.devices[address]; d != nil {
		d.mu.Lock()
		d.connected = false
		d.mu.Unlock()
	}
	m.mu.Unlock()

	m.emitConnected()
}

func (m *mockBTManager) GetConnectedDevices() []bt.BTDevice {
	m.mu.Lock()
	defer m.mu.Unlock()
	var result []bt.BTDevice
	for _, d := range m.devices {
		if d.IsConnected() {
			result = append(result, d)
		}
	}
	return result
}

func (m *mockBTManager) GetScanDevices() []bt.BTDevice { return nil }

func (m *mockBTManager) ListenToDeviceList(ch chan<- []bt.BTDevice) func() {
	return m.scanListEvent.Listen(ch)
}

func (m *mockBTManager) ListenToConnectedDevices(ch chan<- []bt.BTDevice) func() {
	return m.connectedEvent.Listen(ch)
}

func (m *mockBTManager) Shutdown() {}

func (m *mockBTManager) emitConnected() {
	m.connectedEvent.Notify(m.GetConnectedDevices())
}
