package trainer

// CanonicalWorkout is the import contract with scraping and library
// collaborators. Segment power is expressed on a 0-100 percent-of-FTP scale;
// Segments converts to the 0-1 fraction scale the schedule builder consumes.
type CanonicalWorkout struct {
	Title       string             `json:"title"`
	SourceURL   string             `json:"source_url,omitempty"`
	Description string             `json:"description,omitempty"`
	Segments    []CanonicalSegment `json:"segments"`
}

// CanonicalSegment is one block of a canonical workout.
type CanonicalSegment struct {
	Minutes     float64 `json:"minutes"`
	StartPctFTP float64 `json:"start_pct_ftp"`
	EndPctFTP   float64 `json:"end_pct_ftp"`
}

// BuilderSegments converts the workout to schedule-builder segments
// (seconds, 0-1 fractions).
func (w *CanonicalWorkout) BuilderSegments() []Segment {
	result := make([]Segment, 0, len(w.Segments))
	for _, s := range w.Segments {
		result = append(result, Segment{
			DurationSec:    s.Minutes * 60,
			StartPowerFrac: s.StartPctFTP / 100,
			EndPowerFrac:   s.EndPctFTP / 100,
		})
	}
	return result
}

// TotalMinutes returns the sum of all segment durations.
func (w *CanonicalWorkout) TotalMinutes() float64 {
	var total float64
	for _, s := range w.Segments {
		total += s.Minutes
	}
	return total
}

// BuiltinWorkouts is the bundled workout library, available without any import.
var BuiltinWorkouts = []CanonicalWorkout{
	{
		Title:       "30 Min Endurance",
		Description: "Steady aerobic ride with warmup and cooldown",
		Segments: []CanonicalSegment{
			{Minutes: 5, StartPctFTP: 50, EndPctFTP: 50},
			{Minutes: 20, StartPctFTP: 65, EndPctFTP: 65},
			{Minutes: 5, StartPctFTP: 50, EndPctFTP: 50},
		},
	},
	{
		Title:       "20 Min FTP Test",
		Description: "Classic 20 minute test with opener",
		Segments: []CanonicalSegment{
			{Minutes: 5, StartPctFTP: 50, EndPctFTP: 50},
			{Minutes: 3, StartPctFTP: 70, EndPctFTP: 70},
			{Minutes: 2, StartPctFTP: 50, EndPctFTP: 50},
			{Minutes: 20, StartPctFTP: 105, EndPctFTP: 105},
			{Minutes: 5, StartPctFTP: 40, EndPctFTP: 40},
		},
	},
	{
		Title:       "5x5 Threshold Intervals",
		Description: "Five 5 minute blocks at threshold with 3 minute recoveries",
		Segments: []CanonicalSegment{
			{Minutes: 5, StartPctFTP: 50, EndPctFTP: 50},
			{Minutes: 5, StartPctFTP: 100, EndPctFTP: 100},
			{Minutes: 3, StartPctFTP: 50, EndPctFTP: 50},
			{Minutes: 5, StartPctFTP: 100, EndPctFTP: 100},
			{Minutes: 3, StartPctFTP: 50, EndPctFTP: 50},
			{Minutes: 5, StartPctFTP: 100, EndPctFTP: 100},
			{Minutes: 3, StartPctFTP: 50, EndPctFTP: 50},
			{Minutes: 5, StartPctFTP: 100, EndPctFTP: 100},
			{Minutes: 3, StartPctFTP: 50, EndPctFTP: 50},
			{Minutes: 5, StartPctFTP: 100, EndPctFTP: 100},
			{Minutes: 5, StartPctFTP: 50, EndPctFTP: 50},
		},
	},
	{
		Title:       "VO2max 4x4",
		Description: "Four 4 minute efforts above threshold",
		Segments: []CanonicalSegment{
			{Minutes: 10, StartPctFTP: 50, EndPctFTP: 50},
			{Minutes: 4, StartPctFTP: 120, EndPctFTP: 120},
			{Minutes: 4, StartPctFTP: 50, EndPctFTP: 50},
			{Minutes: 4, StartPctFTP: 120, EndPctFTP: 120},
			{Minutes: 4, StartPctFTP: 50, EndPctFTP: 50},
			{Minutes: 4, StartPctFTP: 120, EndPctFTP: 120},
			{Minutes: 4, StartPctFTP: 50, EndPctFTP: 50},
			{Minutes: 4, StartPctFTP: 120, EndPctFTP: 120},
			{Minutes: 10, StartPctFTP: 50, EndPctFTP: 50},
		},
	},
	{
		Title:       "Recovery Spin",
		Description: "Easy spinning with gradual ramps in and out",
		Segments: []CanonicalSegment{
			{Minutes: 10, StartPctFTP: 40, EndPctFTP: 45},
			{Minutes: 25, StartPctFTP: 45, EndPctFTP: 45},
			{Minutes: 10, StartPctFTP: 45, EndPctFTP: 35},
		},
	},
}
