package audio

import (
	"context"
	"fmt"
	"math"
	"strings"

	"github.com/cockroachdb/errors"

	"shorts-pipeline/media"
)

// FitPlan is how one audio file will be bent to a target length.
type FitPlan struct {
	Tempo      float64
	PadSeconds float64
	Trim       bool
	Expected   float64
}

// PlanFit decides tempo, padding and trimming. Longer audio is compressed
// up to maxTempo and then hard-trimmed; shorter audio is padded with
// silence up to maxPadRatio of the target. Differences within tolerance
// are left alone.
func PlanFit(actual, target, maxTempo, tolerance, maxPadRatio float64) FitPlan {
	p := FitPlan{Tempo: 1, Expected: actual}
	if target <= 0 {
		return p
	}
	if actual <= 0 {
		p.PadSeconds = target
		p.Expected = target
		return p
	}

	diff := actual - target
	switch {
	case math.Abs(diff) <= tolerance:
	case diff > 0:
		tempo := math.Max(1, math.Min(actual/target, maxTempo))
		p.Tempo = tempo
		p.Expected = actual / tempo
		if p.Expected > target+tolerance {
			p.Trim = true
			p.Expected = target
		}
	default:
		pad := math.Min(-diff, maxPadRatio*target)
		p.PadSeconds = pad
		p.Expected = actual + pad
	}
	return p
}

// Filter renders the plan as an ffmpeg audio filter chain.
func (p FitPlan) Filter(target float64) string {
	var parts []string
	if p.Tempo != 1 {
		parts = append(parts, media.AtempoChain(p.Tempo))
	}
	if p.PadSeconds > 0 {
		parts = append(parts, fmt.Sprintf("apad=pad_dur=%.3f", p.PadSeconds))
	}
	if p.Trim {
		parts = append(parts, fmt.Sprintf("atrim=end=%.3f", target))
	}
	if len(parts) == 0 {
		return "anull"
	}
	return strings.Join(parts, ",")
}

// FitToDuration writes in to out bent toward target seconds and returns
// the resulting duration.
func (s *Synthesizer) FitToDuration(ctx context.Context, in, out string, target, maxTempo float64) (float64, error) {
	actual, err := s.ff.Duration(ctx, in)
	if err != nil {
		return 0, errors.Wrap(err, "fit: probe input")
	}
	plan := PlanFit(actual, target, maxTempo, s.cfg.ToleranceSeconds, s.cfg.MaxPadRatio)
	if err := s.ff.AudioFilter(ctx, in, out, plan.Filter(target), plan.Expected); err != nil {
		return 0, errors.Wrap(err, "fit")
	}
	s.log.Debugw("audio fitted",
		"actual", actual,
		"target", target,
		"tempo", plan.Tempo,
		"pad", plan.PadSeconds,
		"trim", plan.Trim,
	)
	return plan.Expected, nil
}
