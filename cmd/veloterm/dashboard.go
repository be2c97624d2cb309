package main

import (
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/gdamore/tcell/v2"
	"github.com/rivo/tview"

	"github.com/veloterm/veloterm/internal/bt"
	"github.com/veloterm/veloterm/internal/go_func_utils"
	"github.com/veloterm/veloterm/internal/trainer"
)

// dashboard is the terminal UI: live metrics and the workout picker on the
// left, scan results and a message log on the right. It renders from the
// engine's view-model events and never touches engine internals.
type dashboard struct {
	app     *tview.Application
	engine  *trainer.Engine
	link    trainer.DeviceLinkInterface
	manager bt.BTManagerInterface
	logger  *log.Logger

	metricsView *tview.TextView
	logView     *tview.TextView
	deviceList  *tview.List
	workoutList *tview.List

	// Devices currently shown in deviceList, same order as the list items.
	shownDevices []bt.BTDevice

	focusables []tview.Primitive
}

func newDashboard(engine *trainer.Engine, link trainer.DeviceLinkInterface, manager bt.BTManagerInterface, logger *log.Logger) *dashboard {
	d := &dashboard{
		app:     tview.NewApplication(),
		engine:  engine,
		link:    link,
		manager: manager,
		logger:  logger,
	}

	d.metricsView = tview.NewTextView().SetDynamicColors(true)
	d.metricsView.SetBorder(true).SetTitle(" Session ")

	d.logView = tview.NewTextView().
		SetDynamicColors(true).
		SetScrollable(true).
		SetChangedFunc(func() { d.app.Draw() })
	d.logView.SetBorder(true).SetTitle(" Messages ")

	d.workoutList = tview.NewList().ShowSecondaryText(true)
	d.workoutList.SetBorder(true).SetTitle(" Workouts (Enter to Load) ")
	for i := range trainer.BuiltinWorkouts {
		w := &trainer.BuiltinWorkouts[i]
		d.workoutList.AddItem(w.Title, fmt.Sprintf("%.0f min", w.TotalMinutes()), 0, nil)
	}
	d.workoutList.SetSelectedFunc(func(index int, mainText, secondaryText string, shortcut rune) {
		if index >= 0 && index < len(trainer.BuiltinWorkouts) {
			d.engine.LoadWorkout(&trainer.BuiltinWorkouts[index])
			d.logMessage("Loaded workout: %s", trainer.BuiltinWorkouts[index].Title)
		}
	})

	d.deviceList = tview.NewList().ShowSecondaryText(true)
	d.deviceList.SetBorder(true).SetTitle(" Devices (Enter to Connect) ")
	d.deviceList.SetSelectedFunc(func(index int, mainText, secondaryText string, shortcut rune) {
		d.selectDevice(index)
	})

	left := tview.NewFlex().SetDirection(tview.FlexRow).
		AddItem(d.metricsView, 0, 2, false).
		AddItem(d.workoutList, 0, 1, false)
	right := tview.NewFlex().SetDirection(tview.FlexRow).
		AddItem(d.deviceList, 0, 2, true).
		AddItem(d.logView, 0, 1, false)
	root := tview.NewFlex().
		AddItem(left, 0, 1, false).
		AddItem(right, 0, 1, true)

	d.focusables = []tview.Primitive{d.deviceList, d.workoutList, d.logView}
	d.app.SetInputCapture(d.handleKey)
	d.app.SetRoot(root, true).SetFocus(d.deviceList)
	return d
}

func (d *dashboard) Run() error {
	d.watchViewModel()
	d.watchDeviceList()
	d.logMessage("Keys: [s]tart  [space] pause  [e]nd  [m]ode  [+/-] adjust  [Tab] focus  [Esc] quit")
	return d.app.Run()
}

func (d *dashboard) Stop() {
	d.app.Stop()
}

func (d *dashboard) handleKey(event *tcell.EventKey) *tcell.EventKey {
	switch event.Key() {
	case tcell.KeyEscape:
		d.app.Stop()
		return nil
	case tcell.KeyTab:
		d.cycleFocus()
		return nil
	}

	switch event.Rune() {
	case 's':
		d.engine.Start()
	case ' ':
		d.engine.TogglePause()
	case 'e':
		d.engine.End()
	case 'm':
		d.cycleMode()
	case '+', '=':
		d.adjust(+1)
	case '-':
		d.adjust(-1)
	default:
		return event
	}
	return nil
}

func (d *dashboard) cycleFocus() {
	for i, primitive := range d.focusables {
		if primitive.HasFocus() {
			d.app.SetFocus(d.focusables[(i+1)%len(d.focusables)])
			return
		}
	}
	d.app.SetFocus(d.focusables[0])
}

func (d *dashboard) cycleMode() {
	switch d.engine.ViewModel().Mode {
	case trainer.ModeWorkout:
		d.engine.SetMode(trainer.ModeErg)
	case trainer.ModeErg:
		d.engine.SetMode(trainer.ModeResistance)
	default:
		d.engine.SetMode(trainer.ModeWorkout)
	}
}

// adjust nudges the manual target for the active mode. In workout mode there
// is nothing manual to adjust.
func (d *dashboard) adjust(direction int) {
	switch d.engine.ViewModel().Mode {
	case trainer.ModeErg:
		d.engine.AdjustErgTarget(direction * trainer.PowerStepWatts)
	case trainer.ModeResistance:
		d.engine.AdjustResistance(direction)
	}
}

// selectDevice connects the chosen scan result under the role its services
// advertise, or disconnects it if it is already linked.
func (d *dashboard) selectDevice(index int) {
	if index < 0 || index >= len(d.shownDevices) {
		return
	}
	device := d.shownDevices[index]
	address := device.GetAddressString()

	role := trainer.RoleHeartRate
	if device.HasServiceUUID(trainer.ServiceUUIDFTMS) {
		role = trainer.RoleController
	}

	if d.link.Connection(role).Address == address && d.link.Connection(role).Status == trainer.StatusConnected {
		d.logMessage("Disconnecting %s", describeDevice(device))
		go_func_utils.SafeGo(d.logger, func() {
			if err := d.link.Disconnect(role); err != nil {
				d.queueMessage("Disconnect failed: %v", err)
			}
		})
		return
	}

	d.logMessage("Connecting %s as %s", describeDevice(device), role)
	go_func_utils.SafeGo(d.logger, func() {
		if err := d.link.Connect(role, address); err != nil {
			d.queueMessage("Connect failed: %v", err)
		} else {
			d.queueMessage("Connected %s", describeDevice(device))
		}
	})
}

// watchViewModel repaints the session pane after every engine tick.
func (d *dashboard) watchViewModel() {
	ch := make(chan trainer.ViewModel, 4)
	d.engine.ListenToViewModel(ch)

	go_func_utils.SafeGo(d.logger, func() {
		for vm := range ch {
			vm := vm
			d.app.QueueUpdateDraw(func() {
				d.metricsView.SetText(renderViewModel(vm))
			})
		}
	})
}

// watchDeviceList mirrors the scan results into the device pane.
func (d *dashboard) watchDeviceList() {
	ch := make(chan []bt.BTDevice, 4)
	d.manager.ListenToDeviceList(ch)

	go_func_utils.SafeGo(d.logger, func() {
		for devices := range ch {
			devices := devices
			d.app.QueueUpdateDraw(func() {
				d.shownDevices = devices
				d.deviceList.Clear()
				for _, device := range devices {
					secondary := "heart rate"
					if device.HasServiceUUID(trainer.ServiceUUIDFTMS) {
						secondary = "trainer"
					}
					d.deviceList.AddItem(describeDevice(device), secondary, 0, nil)
				}
			})
		}
	})
}

func describeDevice(device bt.BTDevice) string {
	name := device.GetLocalName()
	if name == "" {
		name = "Unknown"
	}
	return fmt.Sprintf("%s (%s)", name, device.GetAddressString())
}

// logMessage appends to the message pane. Only safe on the UI goroutine; use
// queueMessage from anywhere else.
func (d *dashboard) logMessage(format string, args ...interface{}) {
	fmt.Fprintf(d.logView, "[%s] %s\n", time.Now().Format("15:04:05"), fmt.Sprintf(format, args...))
}

func (d *dashboard) queueMessage(format string, args ...interface{}) {
	d.app.QueueUpdateDraw(func() {
		d.logMessage(format, args...)
	})
}

func renderViewModel(vm trainer.ViewModel) string {
	var b strings.Builder

	fmt.Fprintf(&b, "[yellow]%s[-]  mode %s  FTP %d W\n", vm.State, vm.Mode, vm.FTPWatts)
	if vm.WorkoutTitle != "" {
		fmt.Fprintf(&b, "Workout: %s\n", vm.WorkoutTitle)
	}

	switch {
	case vm.State == trainer.SessionCountdown:
		fmt.Fprintf(&b, "\n[red]Starting in %d...[-]\n", vm.CountdownRemaining)
	case vm.State == trainer.SessionRunning || vm.State == trainer.SessionPaused:
		fmt.Fprintf(&b, "Elapsed %s   Remaining %s\n", formatClock(vm.ElapsedSec), formatClock(vm.RemainingSec))
		if vm.IntervalCount > 0 && vm.IntervalIndex >= 0 {
			fmt.Fprintf(&b, "Interval %d/%d\n", vm.IntervalIndex+1, vm.IntervalCount)
		}
	}

	b.WriteString("\n")
	if vm.HasTarget {
		fmt.Fprintf(&b, "Target  [green]%4d W[-]\n", vm.TargetWatts)
	} else if vm.Mode == trainer.ModeResistance {
		fmt.Fprintf(&b, "Resistance  [green]%d%%[-]\n", vm.ManualResistance)
	}
	if vm.Sample.PowerWatts != nil {
		fmt.Fprintf(&b, "Power   [white]%4d W[-]\n", *vm.Sample.PowerWatts)
	}
	if vm.Sample.CadenceRpm != nil {
		fmt.Fprintf(&b, "Cadence %4.0f rpm\n", *vm.Sample.CadenceRpm)
	}
	if vm.Sample.SpeedKph != nil {
		fmt.Fprintf(&b, "Speed   %4.1f km/h\n", *vm.Sample.SpeedKph)
	}
	if vm.Sample.HeartRateBpm != nil {
		fmt.Fprintf(&b, "HR      %4d bpm\n", *vm.Sample.HeartRateBpm)
	}

	b.WriteString("\n")
	for _, conn := range vm.Connections {
		color := "red"
		if conn.Status == trainer.StatusConnected {
			color = "green"
		}
		label := string(conn.Role)
		if conn.Name != "" {
			label = conn.Name
		}
		fmt.Fprintf(&b, "%-12s [%s]%s[-]\n", label, color, conn.Status)
	}

	if vm.Message != "" {
		fmt.Fprintf(&b, "\n[orange]%s[-]\n", vm.Message)
	}
	return b.String()
}

func formatClock(totalSec int) string {
	if totalSec < 0 {
		totalSec = 0
	}
	return fmt.Sprintf("%d:%02d", totalSec/60, totalSec%60)
}
