package timing

import (
	"fmt"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"shorts-pipeline/config"
	"shorts-pipeline/types"
)

func newTestPlanner() *Planner {
	return NewPlanner(config.Default().Timing)
}

func sum(ds []float64) float64 {
	var s float64
	for _, d := range ds {
		s += d
	}
	return s
}

func TestPlanStandardThirtySeconds(t *testing.T) {
	p := newTestPlanner()

	plan := p.Plan(PlanRequest{Category: types.CategoryStandard, TotalSeconds: 30, Language: "en"})

	require.Len(t, plan.Slots, 4)
	assert.Equal(t, types.SegmentIntro, plan.Slots[0].Kind)
	assert.InDelta(t, 3.0, plan.Slots[0].Duration, 1e-9)
	for _, s := range plan.Slots[1:3] {
		assert.Equal(t, types.SegmentContent, s.Kind)
		assert.GreaterOrEqual(t, s.Duration, 10.0)
		assert.LessOrEqual(t, s.Duration, 14.0)
	}
	assert.Equal(t, types.SegmentTail, plan.Slots[3].Kind)
	assert.InDelta(t, 5.0, plan.Slots[3].Duration, 1e-9)
	assert.InDelta(t, 35.0, sum(plan.Durations()), 0.05)
}

func TestPlanTop5Countdown(t *testing.T) {
	p := newTestPlanner()

	plan := p.Plan(PlanRequest{Category: types.CategoryTop5, TotalSeconds: 45, Language: "en"})

	require.Len(t, plan.Slots, 7)
	for i, s := range plan.Slots[1:6] {
		assert.Equal(t, types.SegmentCountdown, s.Kind)
		assert.Equal(t, 5-i, s.Rank)
		assert.InDelta(t, 8.4, s.Duration, 1e-9)
	}
	assert.InDelta(t, plan.Target(), sum(plan.Durations()), 0.05)
}

func TestTailToleranceOnlyOnDeficit(t *testing.T) {
	p := newTestPlanner()

	short := p.Plan(PlanRequest{Category: types.CategoryStandard, TotalSeconds: 30, ToleranceSeconds: 2})
	assert.InDelta(t, 0.6, short.ToleranceGranted, 1e-9, "5s tail holds 10.5 words, 12 needed")
	assert.InDelta(t, 5.6, short.Slots[len(short.Slots)-1].Duration, 1e-9)

	roomy := p.Plan(PlanRequest{Category: types.CategoryStandard, TotalSeconds: 30, TailSeconds: 8, ToleranceSeconds: 2})
	assert.Zero(t, roomy.ToleranceGranted)

	none := p.Plan(PlanRequest{Category: types.CategoryStandard, TotalSeconds: 30})
	assert.Zero(t, none.ToleranceGranted)

	bounded := p.Plan(PlanRequest{Category: types.CategoryStandard, TotalSeconds: 30, TailSeconds: 1, ToleranceSeconds: 10})
	assert.InDelta(t, 3.0, bounded.ToleranceGranted, 1e-9, "capped at max_tolerance_seconds")
}

func TestPlanSumsToTargetForAllInputs(t *testing.T) {
	p := newTestPlanner()
	for _, category := range []string{types.CategoryStandard, types.CategoryTop5} {
		for _, total := range []float64{0, 6, 10, 15, 20, 30, 45, 60, 90, 180} {
			for _, tol := range []float64{0, 1, 5} {
				t.Run(fmt.Sprintf("%s/%v/%v", category, total, tol), func(t *testing.T) {
					plan := p.Plan(PlanRequest{Category: category, TotalSeconds: total, ToleranceSeconds: tol})
					require.NotEmpty(t, plan.Slots)
					for _, s := range plan.Slots {
						assert.Greater(t, s.Duration, 0.0)
						assert.GreaterOrEqual(t, s.WordBudget, 1)
					}
					assert.InDelta(t, plan.Target(), sum(plan.Durations()), 0.05)
				})
			}
		}
	}
}

func TestRebalanceFromWordCounts(t *testing.T) {
	p := newTestPlanner()
	plan := p.Plan(PlanRequest{Category: types.CategoryStandard, TotalSeconds: 30})

	out := p.Rebalance(plan, []int{6, 30, 35, 14}, plan.Target())

	require.Len(t, out, 4)
	assert.InDelta(t, 3.0, out[0], 1e-9, "intro keeps its planned length")
	assert.Less(t, out[1], out[2], "longer narration gets more time")
	assert.InDelta(t, plan.Target(), sum(out), 0.05)
	for _, d := range out[1:] {
		assert.GreaterOrEqual(t, d, 4.0)
	}
}

func TestRebalanceFallsBackToPlannedOnLargeResidual(t *testing.T) {
	p := newTestPlanner()
	plan := p.Plan(PlanRequest{Category: types.CategoryStandard, TotalSeconds: 30})

	out := p.Rebalance(plan, []int{0, 0, 0, 0}, plan.Target())

	assert.InDeltaSlice(t, plan.Durations(), out, 1e-9)
}

func TestRebalanceNeverBelowFloor(t *testing.T) {
	p := newTestPlanner()
	rng := rand.New(rand.NewSource(7))
	for _, category := range []string{types.CategoryStandard, types.CategoryTop5} {
		for _, total := range []float64{30, 45, 60} {
			plan := p.Plan(PlanRequest{Category: category, TotalSeconds: total})
			for trial := 0; trial < 50; trial++ {
				words := make([]int, len(plan.Slots))
				for i := range words {
					words[i] = rng.Intn(60)
				}
				out := p.Rebalance(plan, words, plan.Target())
				require.Len(t, out, len(plan.Slots))
				assert.InDelta(t, plan.Target(), sum(out), 0.05)
				for _, d := range out[1:] {
					assert.GreaterOrEqual(t, d, 4.0-1e-9, "words=%v out=%v", words, out)
				}
			}
		}
	}
}

func TestFitToTarget(t *testing.T) {
	assert.InDeltaSlice(t, []float64{7, 4, 4}, fitToTarget([]float64{10, 1, 1}, 15, 4), 1e-9)
	assert.InDeltaSlice(t, []float64{2, 2, 2}, fitToTarget([]float64{1, 1, 1}, 6, 4), 1e-9)
	assert.InDeltaSlice(t, []float64{10, 20}, fitToTarget([]float64{5, 10}, 30, 4), 1e-9)
}

func TestWordBudget(t *testing.T) {
	p := newTestPlanner()
	assert.Equal(t, 32, p.WordBudget(13.5, types.SegmentContent, "en"))
	assert.Equal(t, 10, p.WordBudget(5, types.SegmentTail, "en"))
	assert.Equal(t, 1, p.WordBudget(0.1, types.SegmentContent, "en"))
	assert.Equal(t, 2.7, p.WordsPerSecond("es"))
	assert.Equal(t, 2.5, p.WordsPerSecond("zz"))
}
