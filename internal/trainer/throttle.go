package trainer

import "time"

// TargetKind discriminates the command target union.
type TargetKind int

const (
	TargetErg        TargetKind = iota // hold a power target, Watts is valid
	TargetResistance                   // hold a resistance level, Level is valid
)

func (k TargetKind) String() string {
	switch k {
	case TargetErg:
		return "erg"
	case TargetResistance:
		return "resistance"
	default:
		return "unknown"
	}
}

// CommandTarget is one instruction for the trainer. Exactly one of Watts or
// Level is meaningful, selected by Kind.
type CommandTarget struct {
	Kind  TargetKind
	Watts int16
	Level uint8
}

func ErgTarget(watts int16) CommandTarget {
	return CommandTarget{Kind: TargetErg, Watts: watts}
}

func ResistanceTarget(level uint8) CommandTarget {
	return CommandTarget{Kind: TargetResistance, Level: level}
}

func (t CommandTarget) value() int {
	if t.Kind == TargetResistance {
		return int(t.Level)
	}
	return int(t.Watts)
}

// Throttler decides whether a computed target actually needs to go over the
// air this tick. Identical targets are suppressed until a heartbeat interval
// has passed, so a missed write still self-heals within one interval.
type Throttler struct {
	heartbeat time.Duration
	now       func() time.Time

	hasLast      bool
	lastKind     TargetKind
	lastValue    map[TargetKind]int
	lastSentAt   map[TargetKind]time.Time
	forcePending bool
}

func NewThrottler(heartbeat time.Duration) *Throttler {
	if heartbeat <= 0 {
		heartbeat = DefaultHeartbeatInterval
	}
	return &Throttler{
		heartbeat:  heartbeat,
		now:        time.Now,
		lastValue:  make(map[TargetKind]int),
		lastSentAt: make(map[TargetKind]time.Time),
	}
}

// Force makes the next ShouldSend return true regardless of history. Used on
// mode change, FTP change, manual adjustment, and session start.
func (t *Throttler) Force() {
	t.forcePending = true
}

// Reset drops all send history, as after a controller reconnect: the trainer
// may have lost its target, so the next evaluation always sends.
func (t *Throttler) Reset() {
	t.hasLast = false
	t.lastValue = make(map[TargetKind]int)
	t.lastSentAt = make(map[TargetKind]time.Time)
	t.forcePending = false
}

// ShouldSend reports whether target must be sent now and, when it returns
// true, records the send.
func (t *Throttler) ShouldSend(target CommandTarget) bool {
	send := false
	switch {
	case t.forcePending:
		send = true
	case !t.hasLast:
		send = true
	case target.Kind != t.lastKind:
		send = true
	case target.value() != t.lastValue[target.Kind]:
		send = true
	case t.now().Sub(t.lastSentAt[target.Kind]) >= t.heartbeat:
		send = true
	}

	if send {
		t.forcePending = false
		t.hasLast = true
		t.lastKind = target.Kind
		t.lastValue[target.Kind] = target.value()
		t.lastSentAt[target.Kind] = t.now()
	}
	return send
}
