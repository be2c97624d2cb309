package trainer

import "time"

// Bluetooth service and characteristic UUIDs used by the session engine
const (
	// Heart Rate Service
	ServiceUUIDHeartRate         = "0000180d-0000-1000-8000-00805f9b34fb"
	CharUUIDHeartRateMeasurement = "00002a37-0000-1000-8000-00805f9b34fb"

	// Fitness Machine Service (FTMS)
	ServiceUUIDFTMS             = "00001826-0000-1000-8000-00805f9b34fb"
	CharUUIDIndoorBikeData      = "00002ad2-0000-1000-8000-00805f9b34fb"
	CharUUIDFTMSControlPoint    = "00002ad9-0000-1000-8000-00805f9b34fb"
	CharUUIDFTMSFeature         = "00002acc-0000-1000-8000-00805f9b34fb"
	CharUUIDSupportedPowerRange = "00002ad8-0000-1000-8000-00805f9b34fb"
)

// FTMS Control Point op codes (Fitness Machine Service 1.0 spec)
// See: https://www.bluetooth.com/specifications/specs/fitness-machine-service-1-0/
const (
	FTMSOpCodeRequestControl       byte = 0x00
	FTMSOpCodeReset                byte = 0x01
	FTMSOpCodeSetTargetSpeed       byte = 0x02
	FTMSOpCodeSetTargetInclination byte = 0x03
	FTMSOpCodeSetTargetResistance  byte = 0x04
	FTMSOpCodeSetTargetPower       byte = 0x05
	FTMSOpCodeSetTargetHeartRate   byte = 0x06
	FTMSOpCodeStartOrResume        byte = 0x07
	FTMSOpCodeStopOrPause          byte = 0x08
	FTMSOpCodeResponseCode         byte = 0x80
)

// FTMS Control Point result codes
const (
	FTMSResultSuccess             byte = 0x01
	FTMSResultOpCodeNotSupported  byte = 0x02
	FTMSResultInvalidParameter    byte = 0x03
	FTMSResultOperationFailed     byte = 0x04
	FTMSResultControlNotPermitted byte = 0x05
)

// DeviceRole identifies what a connected peripheral is used for.
type DeviceRole string

const (
	RoleController DeviceRole = "controller" // FTMS trainer that accepts control commands
	RoleHeartRate  DeviceRole = "heart_rate" // heart rate sensor, telemetry only
)

// AllDeviceRoles lists the roles the session engine manages, in priority order.
var AllDeviceRoles = []DeviceRole{RoleController, RoleHeartRate}

// ServiceUUIDForRole returns the primary GATT service a role's device must advertise.
func ServiceUUIDForRole(role DeviceRole) string {
	switch role {
	case RoleController:
		return ServiceUUIDFTMS
	case RoleHeartRate:
		return ServiceUUIDHeartRate
	default:
		return ""
	}
}

// SessionState is the lifecycle state of a training session.
type SessionState int

const (
	SessionIdle      SessionState = iota // no session in progress
	SessionCountdown                     // armed, counting down to the first interval
	SessionRunning                       // clock advancing
	SessionPaused                        // clock frozen, schedule position kept
	SessionEnded                         // terminal, session summary flushed
)

func (s SessionState) String() string {
	switch s {
	case SessionIdle:
		return "Idle"
	case SessionCountdown:
		return "Countdown"
	case SessionRunning:
		return "Running"
	case SessionPaused:
		return "Paused"
	case SessionEnded:
		return "Ended"
	default:
		return "Unknown"
	}
}

// ControlMode selects which target source drives the trainer.
type ControlMode int

const (
	ModeWorkout    ControlMode = iota // schedule-derived ERG targets
	ModeErg                           // manual ERG target
	ModeResistance                    // fixed resistance level, rider controls power
)

func (m ControlMode) String() string {
	switch m {
	case ModeWorkout:
		return "Workout"
	case ModeErg:
		return "ERG"
	case ModeResistance:
		return "Resistance"
	default:
		return "Unknown"
	}
}

// Target power and resistance bounds accepted by the control point encoders.
const (
	MinTargetPowerWatts = 0
	MaxTargetPowerWatts = 2000
	MinResistanceLevel  = 0
	MaxResistanceLevel  = 100
)

// ERG target adjustment step in watts
const PowerStepWatts = 10

// Session timing defaults. All of these are overridable through config.
const (
	DefaultCountdownSec      = 5  // countdown length before the clock starts
	DefaultGracePeriodSec    = 15 // window after start/resume where zero power does not auto-pause
	DefaultZeroPowerTicks    = 1  // consecutive zero-power ticks outside the grace window before auto-pause
	DefaultHeartbeatInterval = 10 * time.Second
	DefaultReconnectDelay    = 3 * time.Second
)

// Cue thresholds. An upcoming target change of at least CueWarnFraction of
// the outgoing target earns a short warning; a jump of at least
// CueSirenFraction into territory at or above CueSirenFTPFraction of FTP
// earns the long siren instead.
const (
	CueWarnFraction     = 0.10
	CueSirenFraction    = 0.30
	CueSirenFTPFraction = 1.20

	CueWarnLeadSec  = 3
	CueSirenLeadSec = 9
)

// Auto-start: pedaling above max(AutoStartFloorWatts, AutoStartFraction of
// the first interval target) while idle with a schedule loaded arms the countdown.
const (
	AutoStartFloorWatts = 75
	AutoStartFraction   = 0.5
)

// Auto-resume: while paused, measured power at or above this fraction of the
// current interval target restarts the clock.
const AutoResumeFraction = 0.9
