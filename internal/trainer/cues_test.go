package trainer

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func scheduleForCues(t *testing.T, ftp int, fracs ...[2]float64) Schedule {
	t.Helper()
	segments := make([]Segment, 0, len(fracs))
	for _, f := range fracs {
		segments = append(segments, Segment{DurationSec: 60, StartPowerFrac: f[0], EndPowerFrac: f[1]})
	}
	schedule := BuildSchedule(segments, ftp)
	require.False(t, schedule.IsEmpty())
	return schedule
}

func TestCueScheduler_SmallChangeStaysSilent(t *testing.T) {
	// 100W -> 105W is a 5% change, below the warning threshold
	schedule := scheduleForCues(t, 200, [2]float64{0.5, 0.5}, [2]float64{0.525, 0.525})
	cues := NewCueScheduler()

	for sec := 0; sec < 60; sec++ {
		assert.Equal(t, CueNone, cues.Evaluate(schedule, 200, sec), "second %d", sec)
	}
}

func TestCueScheduler_ModerateChangeFiresOnlyWarning(t *testing.T) {
	// 100W -> 115W is a 15% change: warning at 3s out, no siren
	schedule := scheduleForCues(t, 200, [2]float64{0.5, 0.5}, [2]float64{0.575, 0.575})
	cues := NewCueScheduler()

	for sec := 0; sec < 60; sec++ {
		cue := cues.Evaluate(schedule, 200, sec)
		if sec == 57 {
			assert.Equal(t, CueWarn, cue)
		} else {
			assert.Equal(t, CueNone, cue, "second %d", sec)
		}
	}
}

func TestCueScheduler_BigJumpIntoHighIntensityFiresSirenAndWarning(t *testing.T) {
	// 100W -> 240W is a 140% change into 120% of FTP: siren at 9s, warning at 3s
	schedule := scheduleForCues(t, 200, [2]float64{0.5, 0.5}, [2]float64{1.2, 1.2})
	cues := NewCueScheduler()

	var fired []int
	for sec := 0; sec < 60; sec++ {
		switch cues.Evaluate(schedule, 200, sec) {
		case CueSiren:
			fired = append(fired, sec)
			assert.Equal(t, 51, sec)
		case CueWarn:
			fired = append(fired, sec)
			assert.Equal(t, 57, sec)
		}
	}
	assert.Equal(t, []int{51, 57}, fired)
}

func TestCueScheduler_BigJumpBelowHighIntensityGetsNoSiren(t *testing.T) {
	// 100W -> 160W is a 60% change but 160W is only 80% of FTP
	schedule := scheduleForCues(t, 200, [2]float64{0.5, 0.5}, [2]float64{0.8, 0.8})
	cues := NewCueScheduler()

	assert.Equal(t, CueNone, cues.Evaluate(schedule, 200, 51))
	assert.Equal(t, CueWarn, cues.Evaluate(schedule, 200, 57))
}

func TestCueScheduler_IdempotentPerSecond(t *testing.T) {
	schedule := scheduleForCues(t, 200, [2]float64{0.5, 0.5}, [2]float64{1.2, 1.2})
	cues := NewCueScheduler()

	assert.Equal(t, CueSiren, cues.Evaluate(schedule, 200, 51))
	assert.Equal(t, CueNone, cues.Evaluate(schedule, 200, 51))

	assert.Equal(t, CueWarn, cues.Evaluate(schedule, 200, 57))
	assert.Equal(t, CueNone, cues.Evaluate(schedule, 200, 57))
}

func TestCueScheduler_LastIntervalHasNoBoundaryCues(t *testing.T) {
	schedule := scheduleForCues(t, 200, [2]float64{0.5, 0.5}, [2]float64{1.2, 1.2})
	cues := NewCueScheduler()

	// Approaching the end of the final interval
	assert.Equal(t, CueNone, cues.Evaluate(schedule, 200, 111))
	assert.Equal(t, CueNone, cues.Evaluate(schedule, 200, 117))
}

func TestCueScheduler_RampBoundaryUsesEndOfRampTarget(t *testing.T) {
	// Ramp finishes at 150W, next interval starts at 150W: no change, silent
	schedule := scheduleForCues(t, 200, [2]float64{0.5, 0.75}, [2]float64{0.75, 0.75})
	cues := NewCueScheduler()

	assert.Equal(t, CueNone, cues.Evaluate(schedule, 200, 57))
}
