package settings

import "math"

// Speed presets, cycled in order and wrapping from the fastest back to the
// slowest.
var (
	SpeedSteps   = []float64{0.5, 0.75, 1.0, 1.25, 1.5, 2.0}
	DefaultSpeed = 1.0
)

// SnapSpeed returns the speed step nearest to v. Ties go to the slower step.
func SnapSpeed(v float64) float64 {
	if math.IsNaN(v) {
		return DefaultSpeed
	}
	nearest := SpeedSteps[0]
	minDiff := math.Inf(1)
	for _, s := range SpeedSteps {
		if diff := math.Abs(s - v); diff < minDiff {
			minDiff = diff
			nearest = s
		}
	}
	return nearest
}

// NextSpeed returns the step after v, wrapping to the first step.
func NextSpeed(v float64) float64 {
	cur := SnapSpeed(v)
	for i, s := range SpeedSteps {
		if s == cur {
			return SpeedSteps[(i+1)%len(SpeedSteps)]
		}
	}
	return DefaultSpeed
}

// PreviousSpeed returns the step before v, wrapping to the last step.
func PreviousSpeed(v float64) float64 {
	cur := SnapSpeed(v)
	for i, s := range SpeedSteps {
		if s == cur {
			return SpeedSteps[(i+len(SpeedSteps)-1)%len(SpeedSteps)]
		}
	}
	return DefaultSpeed
}
