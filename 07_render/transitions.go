package render

import "math"

// Transition is the fade applied to one clip.
type Transition struct {
	In  float64
	Out float64
}

// PlanTransitions fades the start of the first clip, the end of the last,
// and both sides of every internal cut. Each fade is fraction of the
// shorter clip at that cut, at least floor, and never more than half of
// either clip.
func PlanTransitions(durations []float64, fraction, floor float64) []Transition {
	out := make([]Transition, len(durations))
	if len(durations) == 0 {
		return out
	}
	out[0].In = fadeLength(durations[0], fraction, floor)
	for i := 0; i < len(durations)-1; i++ {
		f := fadeLength(math.Min(durations[i], durations[i+1]), fraction, floor)
		out[i].Out = f
		out[i+1].In = f
	}
	last := len(durations) - 1
	out[last].Out = fadeLength(durations[last], fraction, floor)
	return out
}

func fadeLength(shorter, fraction, floor float64) float64 {
	if shorter <= 0 {
		return 0
	}
	f := math.Max(shorter*fraction, floor)
	return math.Min(f, shorter/2)
}
