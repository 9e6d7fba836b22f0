package timing

import (
	"math"

	"go.uber.org/zap"

	"shorts-pipeline/config"
	"shorts-pipeline/logger"
	"shorts-pipeline/types"
)

// Slot is one planned segment.
type Slot struct {
	Kind       types.SegmentKind
	Rank       int
	Duration   float64
	WordBudget int
}

// Plan is the planner's output: an intro, content or countdown slots and
// a final engagement tail.
type Plan struct {
	Slots            []Slot
	TotalSeconds     float64
	TailSeconds      float64
	ToleranceGranted float64
	Language         string
}

// Durations returns the slot durations in order.
func (p Plan) Durations() []float64 {
	out := make([]float64, len(p.Slots))
	for i, s := range p.Slots {
		out[i] = s.Duration
	}
	return out
}

// Target is the duration the plan sums to: requested total plus tail plus
// any granted tolerance.
func (p Plan) Target() float64 {
	return p.TotalSeconds + p.TailSeconds + p.ToleranceGranted
}

// PlanRequest describes what to plan.
type PlanRequest struct {
	Category         string
	TotalSeconds     float64
	TailSeconds      float64
	ToleranceSeconds float64
	Language         string
}

// Planner turns requests into segment timings.
type Planner struct {
	cfg config.TimingConfig
	log *zap.SugaredLogger
}

// NewPlanner creates a Planner.
func NewPlanner(cfg config.TimingConfig) *Planner {
	return &Planner{cfg: cfg, log: logger.Named("timing")}
}

// WordsPerSecond returns the speaking rate for a language.
func (p *Planner) WordsPerSecond(lang string) float64 {
	if wps, ok := p.cfg.WordsPerSecond[lang]; ok && wps > 0 {
		return wps
	}
	if p.cfg.DefaultWPS > 0 {
		return p.cfg.DefaultWPS
	}
	return 2.5
}

// WordBudget is how many words fit in a segment of d seconds after the
// pause that follows it.
func (p *Planner) WordBudget(d float64, kind types.SegmentKind, lang string) int {
	words := int(math.Floor((d - p.pause(kind)) * p.WordsPerSecond(lang)))
	if words < 1 {
		return 1
	}
	return words
}

func (p *Planner) pause(kind types.SegmentKind) float64 {
	if kind == types.SegmentTail {
		return p.cfg.TailPauseSeconds
	}
	return p.cfg.PauseSeconds
}

// Plan splits the request into intro, body and tail. It never fails: bad
// inputs are clamped so the result always sums to Target().
func (p *Planner) Plan(req PlanRequest) Plan {
	total := req.TotalSeconds
	if total <= 0 {
		total = p.cfg.DefaultTotalSeconds
	}
	lang := req.Language
	if lang == "" {
		lang = "en"
	}

	intro := p.cfg.IntroSeconds
	if intro > total/2 {
		intro = total / 2
	}
	body := total - intro

	kind := types.SegmentContent
	n := int(math.Floor(body / p.cfg.ChunkSeconds))
	if req.Category == types.CategoryTop5 {
		kind = types.SegmentCountdown
		n = p.cfg.CountdownItems
	}
	if n < 1 {
		n = 1
	}

	bodyDurations := make([]float64, n)
	for i := range bodyDurations {
		bodyDurations[i] = body / float64(n)
	}
	bodyDurations = fitToTarget(bodyDurations, body, p.cfg.MinSegmentSeconds)

	tail := req.TailSeconds
	if tail <= 0 {
		tail = math.Max(p.cfg.TailMinSeconds, math.Min(p.cfg.TailMaxSeconds, total*p.cfg.TailFactor))
	}
	granted := p.tolerance(tail, req.ToleranceSeconds, lang)

	plan := Plan{TotalSeconds: total, TailSeconds: tail, ToleranceGranted: granted, Language: lang}
	plan.Slots = append(plan.Slots, Slot{Kind: types.SegmentIntro, Duration: intro})
	for i, d := range bodyDurations {
		s := Slot{Kind: kind, Duration: d}
		if kind == types.SegmentCountdown {
			s.Rank = n - i
		}
		plan.Slots = append(plan.Slots, s)
	}
	plan.Slots = append(plan.Slots, Slot{Kind: types.SegmentTail, Duration: tail + granted})

	for i := range plan.Slots {
		plan.Slots[i].WordBudget = p.WordBudget(plan.Slots[i].Duration, plan.Slots[i].Kind, lang)
	}

	p.log.Infow("planned segments",
		"category", req.Category,
		"total", total,
		"segments", len(plan.Slots),
		"tail", tail,
		"tolerance_granted", granted,
	)
	return plan
}

// tolerance extends the tail only when it cannot hold the minimum
// call-to-action, and never past the configured bound.
func (p *Planner) tolerance(tail, requested float64, lang string) float64 {
	if requested <= 0 {
		return 0
	}
	wps := p.WordsPerSecond(lang)
	capacity := (tail - p.cfg.TailPauseSeconds) * wps
	if capacity >= float64(p.cfg.CTAMinWords) {
		return 0
	}
	needed := float64(p.cfg.CTAMinWords)/wps + p.cfg.TailPauseSeconds - tail
	bound := math.Min(requested, p.cfg.MaxToleranceSeconds)
	return math.Max(0, math.Min(needed, bound))
}

// Rebalance recomputes durations from drafted word counts. The intro keeps
// its planned length; the rest are sized by speaking rate, scaled by a
// clamped factor toward target, and the residual lands on the final
// segment. When that residual is too large to absorb, the planned lengths
// are fitted to target instead.
func (p *Planner) Rebalance(plan Plan, wordCounts []int, target float64) []float64 {
	planned := plan.Durations()
	if len(planned) == 0 {
		return nil
	}
	if target <= 0 {
		target = plan.Target()
	}

	start := 0
	fixed := 0.0
	if plan.Slots[0].Kind == types.SegmentIntro && len(planned) > 1 {
		start = 1
		fixed = planned[0]
	}
	rest := planned[start:]
	restTarget := target - fixed
	floor := p.cfg.MinSegmentSeconds
	wps := p.WordsPerSecond(plan.Language)

	raw := make([]float64, len(rest))
	var sumRaw float64
	for i := range rest {
		slot := plan.Slots[start+i]
		words := 0
		if start+i < len(wordCounts) {
			words = wordCounts[start+i]
		}
		raw[i] = math.Max(floor, float64(words)/wps+p.pause(slot.Kind))
		sumRaw += raw[i]
	}

	factor := clamp(restTarget/sumRaw, p.cfg.MinScale, p.cfg.MaxScale)
	scaled := make([]float64, len(raw))
	var sum float64
	for i, r := range raw {
		scaled[i] = math.Max(floor, r*factor)
		sum += scaled[i]
	}
	residual := restTarget - sum
	last := scaled[len(scaled)-1] + residual

	var out []float64
	if math.Abs(residual) > p.cfg.ResidualLimitSeconds || last < floor {
		p.log.Infow("rebalance residual too large, keeping planned lengths",
			"residual", residual,
			"factor", factor,
		)
		out = fitToTarget(append([]float64(nil), rest...), restTarget, floor)
	} else {
		scaled[len(scaled)-1] = last
		out = scaled
	}

	if start == 1 {
		out = append([]float64{fixed}, out...)
	}
	return out
}

// fitToTarget scales durations to sum to target while keeping each at or
// above floor. Segments pinned at the floor drop out of the scaling until
// the rest fit. If target cannot honor the floor for every segment the
// durations are split evenly.
func fitToTarget(durations []float64, target, floor float64) []float64 {
	n := len(durations)
	if n == 0 {
		return durations
	}
	if target <= floor*float64(n) {
		for i := range durations {
			durations[i] = target / float64(n)
		}
		return durations
	}

	pinned := make([]bool, n)
	for iter := 0; iter <= n; iter++ {
		var free, pinnedSum float64
		for i, d := range durations {
			if pinned[i] {
				pinnedSum += floor
			} else {
				free += d
			}
		}
		if free <= 0 {
			break
		}
		factor := (target - pinnedSum) / free
		changed := false
		for i := range durations {
			if pinned[i] {
				durations[i] = floor
				continue
			}
			durations[i] *= factor
			if durations[i] < floor {
				pinned[i] = true
				changed = true
			}
		}
		if !changed {
			break
		}
	}

	var sum float64
	for _, d := range durations {
		sum += d
	}
	durations[n-1] += target - sum
	return durations
}

func clamp(v, lo, hi float64) float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 1
	}
	return math.Max(lo, math.Min(hi, v))
}
