package trainer

import "math"

// Cue is an audible hint to the rider. Cues are advisory only: playing or
// dropping one never changes scheduling or device state.
type Cue int

const (
	CueNone    Cue = iota
	CueWarn        // short warning, target change coming up
	CueSiren       // long warning, big jump into high intensity coming up
	CuePaused      // session auto-paused
	CueResumed     // session resumed
)

func (c Cue) String() string {
	switch c {
	case CueNone:
		return "none"
	case CueWarn:
		return "warn"
	case CueSiren:
		return "siren"
	case CuePaused:
		return "paused"
	case CueResumed:
		return "resumed"
	default:
		return "unknown"
	}
}

// CuePlayer renders a cue to the rider. Implementations must never block.
type CuePlayer interface {
	Play(cue Cue)
}

// NopCuePlayer discards all cues.
type NopCuePlayer struct{}

func (NopCuePlayer) Play(Cue) {}

// CueScheduler decides which interval-boundary cue, if any, fires at a given
// elapsed second. It fires at most once per integer second even if the same
// second is evaluated twice.
type CueScheduler struct {
	lastFiredSec int
}

func NewCueScheduler() *CueScheduler {
	return &CueScheduler{lastFiredSec: -1}
}

// Reset clears the fired-second memory for a fresh session.
func (c *CueScheduler) Reset() {
	c.lastFiredSec = -1
}

// Evaluate returns the cue that fires at elapsedSec, or CueNone. A boundary
// qualifies when the power change from the active interval's end to the next
// interval's start is at least CueWarnFraction of the outgoing target; the
// warning fires CueWarnLeadSec seconds before the boundary. A jump of at
// least CueSirenFraction into an interval starting at or above
// CueSirenFTPFraction of FTP earns the siren CueSirenLeadSec seconds out
// instead, with the short warning still following at its usual offset.
func (c *CueScheduler) Evaluate(schedule Schedule, ftpWatts int, elapsedSec int) Cue {
	if elapsedSec == c.lastFiredSec {
		return CueNone
	}

	_, index, ok := schedule.IntervalAt(elapsedSec)
	if !ok || index+1 >= len(schedule.Intervals) {
		return CueNone
	}
	active := schedule.Intervals[index]
	next := schedule.Intervals[index+1]

	changeFrac := boundaryChangeFraction(active.EndWatts, next.StartWatts)
	if changeFrac < CueWarnFraction {
		return CueNone
	}

	secondsToBoundary := active.EndTimeSec - elapsedSec

	if secondsToBoundary == CueSirenLeadSec &&
		changeFrac >= CueSirenFraction &&
		float64(next.StartWatts) >= CueSirenFTPFraction*float64(ftpWatts) {
		c.lastFiredSec = elapsedSec
		return CueSiren
	}

	if secondsToBoundary == CueWarnLeadSec {
		c.lastFiredSec = elapsedSec
		return CueWarn
	}

	return CueNone
}

// boundaryChangeFraction is the magnitude of the power change relative to
// the outgoing target. A zero outgoing target with any incoming power counts
// as an unbounded change.
func boundaryChangeFraction(fromWatts, toWatts int) float64 {
	if fromWatts <= 0 {
		if toWatts == fromWatts {
			return 0
		}
		return math.Inf(1)
	}
	return math.Abs(float64(toWatts-fromWatts)) / float64(fromWatts)
}
