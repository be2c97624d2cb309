package trainer

import "math"

// Segment is one input block for the schedule builder. Power is a fraction of
// FTP (1.0 = 100% FTP).
type Segment struct {
	DurationSec    float64
	StartPowerFrac float64
	EndPowerFrac   float64
}

// ScheduledInterval is a segment resolved against a concrete FTP. Intervals
// are laid out back to back from 0 and never mutated after building; changing
// FTP or the segment list rebuilds the whole list.
type ScheduledInterval struct {
	StartTimeSec   int
	EndTimeSec     int
	DurationSec    int
	StartWatts     int
	EndWatts       int
	StartPowerFrac float64
	EndPowerFrac   float64
}

// Schedule is an immutable interval list plus its total duration.
type Schedule struct {
	Intervals        []ScheduledInterval
	TotalDurationSec int
}

// BuildSchedule resolves segments against FTP. Each duration is rounded to
// the nearest whole second with a floor of 1. A nil or empty segment list, or
// one containing invalid entries, yields an empty schedule with zero
// duration; callers treat that as "no workout loaded".
func BuildSchedule(segments []Segment, ftpWatts int) Schedule {
	if len(segments) == 0 || ftpWatts <= 0 {
		return Schedule{}
	}
	for _, s := range segments {
		if s.DurationSec <= 0 || s.StartPowerFrac < 0 || s.EndPowerFrac < 0 {
			return Schedule{}
		}
	}

	intervals := make([]ScheduledInterval, 0, len(segments))
	cursor := 0
	for _, s := range segments {
		durationSec := int(math.Round(s.DurationSec))
		if durationSec < 1 {
			durationSec = 1
		}
		intervals = append(intervals, ScheduledInterval{
			StartTimeSec:   cursor,
			EndTimeSec:     cursor + durationSec,
			DurationSec:    durationSec,
			StartWatts:     int(math.Round(float64(ftpWatts) * s.StartPowerFrac)),
			EndWatts:       int(math.Round(float64(ftpWatts) * s.EndPowerFrac)),
			StartPowerFrac: s.StartPowerFrac,
			EndPowerFrac:   s.EndPowerFrac,
		})
		cursor += durationSec
	}

	return Schedule{Intervals: intervals, TotalDurationSec: cursor}
}

// IsEmpty reports whether no workout is loaded.
func (s Schedule) IsEmpty() bool {
	return s.TotalDurationSec == 0
}

// IntervalAt returns the interval covering elapsedSec and its index, or
// (zero, -1, false) when elapsedSec is outside the schedule.
func (s Schedule) IntervalAt(elapsedSec int) (ScheduledInterval, int, bool) {
	for i, interval := range s.Intervals {
		if elapsedSec >= interval.StartTimeSec && elapsedSec < interval.EndTimeSec {
			return interval, i, true
		}
	}
	return ScheduledInterval{}, -1, false
}

// TargetAt returns the interpolated target power at elapsedSec, or false when
// elapsedSec falls outside the schedule.
func (s Schedule) TargetAt(elapsedSec int) (int, bool) {
	interval, _, ok := s.IntervalAt(elapsedSec)
	if !ok {
		return 0, false
	}
	return interval.TargetAt(elapsedSec), true
}

// TargetAt interpolates linearly between StartWatts and EndWatts over the
// interval's fractional progress. Progress is clamped to [0,1] so rounding at
// the boundaries cannot extrapolate past either endpoint.
func (iv ScheduledInterval) TargetAt(elapsedSec int) int {
	if iv.DurationSec <= 0 {
		return iv.StartWatts
	}
	progress := float64(elapsedSec-iv.StartTimeSec) / float64(iv.DurationSec)
	if progress < 0 {
		progress = 0
	}
	if progress > 1 {
		progress = 1
	}
	return int(math.Round(float64(iv.StartWatts) + progress*float64(iv.EndWatts-iv.StartWatts)))
}
