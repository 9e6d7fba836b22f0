package render

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"shorts-pipeline/config"
	"shorts-pipeline/media"
	"shorts-pipeline/media/mediatest"
	"shorts-pipeline/types"
)

func newRenderer(runner *mediatest.Runner) *Renderer {
	cfg := config.Default()
	return New(cfg.Render, cfg.Audio, media.NewFFmpeg(runner, media.Options{}))
}

func failWhen(substr string) func(string, []string) error {
	return func(_ string, args []string) error {
		if strings.Contains(strings.Join(args, " "), substr) {
			return fmt.Errorf("simulated failure")
		}
		return nil
	}
}

func testInput(t *testing.T, runner *mediatest.Runner) Input {
	t.Helper()
	dir := t.TempDir()
	var clips []types.Clip
	var narration []string
	for i, d := range []float64{3, 10, 13.5, 5} {
		clip := filepath.Join(dir, fmt.Sprintf("clip%d.mp4", i))
		voice := filepath.Join(dir, fmt.Sprintf("voice%d.wav", i))
		runner.SetDuration(clip, d+2)
		runner.SetDuration(voice, d-0.3)
		clips = append(clips, types.Clip{Path: clip, Duration: d, Tier: types.TierAnimatedStill})
		narration = append(narration, voice)
	}
	return Input{
		JobID:     "j",
		Clips:     clips,
		Narration: narration,
		Total:     31.5,
		Ratio:     types.Ratio9x16,
		WorkDir:   dir,
		Output:    filepath.Join(dir, "final.mp4"),
	}
}

func TestPlanTransitions(t *testing.T) {
	got := PlanTransitions([]float64{3, 10, 13.5, 5}, 0.25, 0.15)
	assert.Equal(t, []Transition{
		{In: 0.75, Out: 0.75},
		{In: 0.75, Out: 2.5},
		{In: 2.5, Out: 1.25},
		{In: 1.25, Out: 1.25},
	}, got)

	tiny := PlanTransitions([]float64{0.2}, 0.25, 0.15)
	assert.InDelta(t, 0.1, tiny[0].In, 1e-9, "never more than half a clip")

	floor := PlanTransitions([]float64{0.4, 8}, 0.25, 0.15)
	assert.InDelta(t, 0.15, floor[0].Out, 1e-9)
	assert.InDelta(t, 0.15, floor[1].In, 1e-9)

	assert.Empty(t, PlanTransitions(nil, 0.25, 0.15))
}

func TestPlanTransitionsFitInsideClips(t *testing.T) {
	durs := []float64{0.3, 4, 4, 1, 13.5, 0.31, 6}
	for i, tr := range PlanTransitions(durs, 0.25, 0.15) {
		assert.LessOrEqual(t, tr.In+tr.Out, durs[i]+1e-9)
		assert.Positive(t, tr.In)
		assert.Positive(t, tr.Out)
	}
}

func TestBuildVideoWithFades(t *testing.T) {
	runner := mediatest.NewRunner()
	r := newRenderer(runner)
	in := testInput(t, runner)

	silent, err := r.BuildVideo(context.Background(), in)

	require.NoError(t, err)
	assert.InDelta(t, 31.5, runner.DurationOf(silent), 1e-9)
	assert.Len(t, runner.CallsMatching("fade=t=in"), 4)
	assert.Len(t, runner.CallsMatching("concat_faded.txt"), 1)
	assert.Empty(t, runner.CallsMatching("concat_hardcut.txt"))
}

func TestBuildVideoDegradesToHardCuts(t *testing.T) {
	runner := mediatest.NewRunner()
	runner.Fail = failWhen("fade=t=")
	r := newRenderer(runner)
	in := testInput(t, runner)

	silent, err := r.BuildVideo(context.Background(), in)

	require.NoError(t, err)
	assert.Len(t, runner.CallsMatching("concat_hardcut.txt"), 1)
	assert.InDelta(t, 31.5, runner.DurationOf(silent), 1e-9)
}

func TestMixAudioWithMusic(t *testing.T) {
	runner := mediatest.NewRunner()
	r := newRenderer(runner)
	in := testInput(t, runner)
	in.Music = filepath.Join(in.WorkDir, "music.mp3")

	mixed, err := r.MixAudio(context.Background(), in)

	require.NoError(t, err)
	calls := runner.CallsMatching("amix=inputs=2")
	require.Len(t, calls, 1)
	assert.Contains(t, calls[0].Joined(), "volume=1.000,apad[n];[1:a]volume=0.150[m]")
	assert.InDelta(t, 31.5, runner.DurationOf(mixed), 1e-9)
}

func TestMixAudioFallsBackToNarrationOnly(t *testing.T) {
	runner := mediatest.NewRunner()
	runner.Fail = failWhen("-stream_loop")
	r := newRenderer(runner)
	in := testInput(t, runner)
	in.Music = filepath.Join(in.WorkDir, "music.mp3")

	mixed, err := r.MixAudio(context.Background(), in)

	require.NoError(t, err)
	assert.Len(t, runner.CallsMatching("volume=1.500,apad"), 1)
	assert.InDelta(t, 31.5, runner.DurationOf(mixed), 1e-9)
}

func TestMixGains(t *testing.T) {
	r := newRenderer(mediatest.NewRunner())
	n, m := r.MixGains(true)
	assert.Greater(t, n, m)
	n, m = r.MixGains(false)
	assert.Equal(t, 1.5, n)
	assert.Zero(t, m)
}

func TestRunMuxesVideoAndAudio(t *testing.T) {
	runner := mediatest.NewRunner()
	r := newRenderer(runner)
	in := testInput(t, runner)

	out, err := r.Run(context.Background(), in)

	require.NoError(t, err)
	assert.Equal(t, in.Output, out)
	assert.FileExists(t, out)
	assert.InDelta(t, 31.5, runner.DurationOf(out), 1e-9)
	mux := runner.CallsMatching("+faststart")
	require.Len(t, mux, 1)
	assert.Contains(t, mux[0].Joined(), "-map 0:v:0 -map 1:a:0")
}

func TestMuxFailureIsReturned(t *testing.T) {
	runner := mediatest.NewRunner()
	runner.Fail = failWhen("+faststart")
	r := newRenderer(runner)

	_, err := r.Run(context.Background(), testInput(t, runner))
	assert.Error(t, err)
}
