package pipeline

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	research "shorts-pipeline/01_research"
	timing "shorts-pipeline/02_timing"
	script "shorts-pipeline/03_script"
	visuals "shorts-pipeline/04_visuals"
	clips "shorts-pipeline/05_clips"
	audio "shorts-pipeline/06_audio"
	render "shorts-pipeline/07_render"
	metadata "shorts-pipeline/08_metadata"
	upload "shorts-pipeline/09_upload"
	"shorts-pipeline/config"
	"shorts-pipeline/events"
	"shorts-pipeline/media"
	"shorts-pipeline/media/mediatest"
	"shorts-pipeline/store"
	"shorts-pipeline/types"
)

type downProvider struct{}

func (downProvider) Name() string { return "down" }

func (downProvider) Submit(context.Context, clips.SubmitRequest) (string, error) {
	return "", errors.New("service unavailable")
}

func (downProvider) Poll(context.Context, string) (clips.PollResult, error) {
	return clips.PollResult{}, errors.New("service unavailable")
}

type storySource struct {
	stories []*types.Story
	err     error
}

func (s storySource) Name() string { return "stub" }

func (s storySource) Stories(context.Context, research.TrendQuery) ([]*types.Story, error) {
	return s.stories, s.err
}

type fakePublisher struct {
	res upload.Result
	err error
	got string
}

func (f *fakePublisher) Upload(_ context.Context, file string, _ *types.VideoMetadata) (upload.Result, error) {
	f.got = file
	return f.res, f.err
}

// ttsDown fails every binary that is not ffmpeg or ffprobe.
func ttsDown(name string, _ []string) error {
	if strings.HasPrefix(name, "ff") {
		return nil
	}
	return errors.New("tts unavailable")
}

type harness struct {
	cfg    *config.Config
	runner *mediatest.Runner
	store  *store.Memory
	reg    *events.Registry
	stages Stages
}

func newHarness(t *testing.T, src research.StorySource) *harness {
	t.Helper()
	cfg := config.Default()
	cfg.Paths.Work = t.TempDir()
	cfg.Paths.Output = t.TempDir()

	runner := mediatest.NewRunner()
	runner.Fail = ttsDown
	ff := media.NewFFmpeg(runner, media.Options{})

	gen := clips.NewGenerator(cfg.Clips, downProvider{}, ff)
	gen.WithSleep(func(time.Duration) {})

	return &harness{
		cfg:    cfg,
		runner: runner,
		store:  store.NewMemory(),
		reg:    events.NewRegistry(),
		stages: Stages{
			Research: research.New(cfg.Research, src),
			Planner:  timing.NewPlanner(cfg.Timing),
			Writer:   script.New(nil, cfg),
			Visuals:  visuals.NewResolver(cfg.Visuals, nil, nil),
			Clips:    gen,
			Narrator: audio.NewSynthesizer(audio.NewEdgeTTS(runner, ""), audio.NewCommandTTS(runner, "piper-say"), ff, cfg.Audio).
				WithSleep(func(time.Duration) {}),
			Music:    audio.NewMusicFinder(),
			Renderer: render.New(cfg.Render, cfg.Audio, ff),
			Metadata: metadata.New(nil, cfg),
		},
	}
}

func (h *harness) pipeline() *Pipeline {
	return New(h.cfg, h.stages, h.store, h.reg)
}

func phases(s *events.Stream) []events.Phase {
	var out []events.Phase
	for _, ev := range s.History() {
		if n := len(out); n > 0 && out[n-1] == ev.Phase {
			continue
		}
		out = append(out, ev.Phase)
	}
	return out
}

func newJob(topic string) *types.GenerationJob {
	return &types.GenerationJob{
		ID:              "job-1",
		OwnerID:         "u1",
		Category:        types.CategoryStandard,
		DurationSeconds: 30,
		AspectRatio:     types.Ratio9x16,
		Language:        "en",
		Topic:           topic,
		Status:          types.JobPending,
	}
}

// Every provider down: the video still completes with placeholder clips
// and silent narration.
func TestRunCompletesWithEveryProviderDown(t *testing.T) {
	h := newHarness(t, storySource{err: errors.New("feed down")})
	job := newJob("king tides")

	res, err := h.pipeline().Run(context.Background(), job)

	require.NoError(t, err)
	stream, ok := h.reg.Get(job.ID)
	require.True(t, ok)
	assert.Equal(t, []events.Phase{
		events.PhaseInit,
		events.PhaseGeneratingClips,
		events.PhaseAssemblingVideo,
		events.PhaseAddingVoiceMusic,
		events.PhaseSyncingVoice,
		events.PhaseCompleted,
	}, phases(stream))

	history := stream.History()
	last := history[len(history)-1]
	assert.Len(t, last.History, len(history)-1)

	require.NotEmpty(t, res.Segments)
	assert.Equal(t, types.SegmentIntro, res.Segments[0].Kind)
	assert.Equal(t, types.SegmentTail, res.Segments[len(res.Segments)-1].Kind)
	var total float64
	for i, seg := range res.Segments {
		assert.Equal(t, i+1, seg.Index)
		require.NotNil(t, seg.Clip)
		assert.Equal(t, types.TierPlaceholder, seg.Tier)
		assert.Equal(t, seg.Duration, seg.Clip.Duration)
		assert.NotEmpty(t, seg.AudioFile)
		total += seg.Duration
	}
	assert.Greater(t, total, 30.0)

	assert.Equal(t, filepath.Join(h.cfg.Paths.Output, "job-1.mp4"), res.MediaPath)
	assert.NotEmpty(t, h.runner.CallsMatching("+faststart"))
	require.NotNil(t, res.Metadata)
	assert.Contains(t, strings.ToLower(res.Metadata.Title), "king tides")

	saved, err := h.store.GetJob(context.Background(), job.ID)
	require.NoError(t, err)
	assert.Equal(t, types.JobSucceeded, saved.Status)
	assert.Equal(t, res.MediaPath, saved.MediaPath)
	require.NotNil(t, saved.CompletedAt)

	_, err = os.Stat(filepath.Join(h.cfg.Paths.Work, job.ID))
	assert.True(t, os.IsNotExist(err), "work dir removed")
}

func TestRunTakesTopicFromResearch(t *testing.T) {
	h := newHarness(t, storySource{stories: []*types.Story{{
		ID: "s1", Title: "Lunar eclipse tonight", Source: "stub", PublishedAt: time.Now(),
	}}})
	job := newJob("")

	_, err := h.pipeline().Run(context.Background(), job)

	require.NoError(t, err)
	assert.Equal(t, "Lunar eclipse tonight", job.Topic)
}

func TestRunWithoutTopicFails(t *testing.T) {
	h := newHarness(t, storySource{})
	job := newJob("")

	_, err := h.pipeline().Run(context.Background(), job)

	assert.True(t, errors.Is(err, ErrNoTopic))
	stream, _ := h.reg.Get(job.ID)
	assert.Equal(t, events.PhaseError, stream.Current())
}

func TestFailedRunPrunesOldStreams(t *testing.T) {
	h := newHarness(t, storySource{})
	for i := range keepStreams {
		s := h.reg.Open(fmt.Sprintf("old-%d", i))
		_, err := s.Emit(events.PhaseInit, nil)
		require.NoError(t, err)
		_, err = s.Emit(events.PhaseCompleted, nil)
		require.NoError(t, err)
	}

	_, err := h.pipeline().Run(context.Background(), newJob(""))

	require.Error(t, err)
	_, ok := h.reg.Get("old-0")
	assert.False(t, ok, "oldest finished stream dropped")
	_, ok = h.reg.Get("old-1")
	assert.True(t, ok)
	_, ok = h.reg.Get("job-1")
	assert.True(t, ok)
}

func TestRunFailsWhenMuxFails(t *testing.T) {
	h := newHarness(t, storySource{})
	h.runner.Fail = func(name string, args []string) error {
		if strings.Contains(strings.Join(args, " "), "+faststart") {
			return errors.New("disk full")
		}
		return ttsDown(name, args)
	}
	job := newJob("volcano")

	_, err := h.pipeline().Run(context.Background(), job)

	require.Error(t, err)
	stream, _ := h.reg.Get(job.ID)
	history := stream.History()
	last := history[len(history)-1]
	assert.Equal(t, events.PhaseError, last.Phase)
	assert.Contains(t, last.Payload["error"], "mux")
	assert.Len(t, last.History, len(history)-1)

	saved, err := h.store.GetJob(context.Background(), job.ID)
	require.NoError(t, err)
	assert.Equal(t, types.JobFailed, saved.Status)
	assert.Contains(t, saved.Error, "disk full")
}

func TestRunPublishesAndSchedules(t *testing.T) {
	at := time.Date(2026, 11, 1, 15, 0, 0, 0, time.UTC)
	pub := &fakePublisher{res: upload.Result{
		VideoID: "abc", URL: "https://www.youtube.com/shorts/abc", Scheduled: true, PublishAt: &at,
	}}
	h := newHarness(t, storySource{})
	h.stages.Publisher = pub
	job := newJob("comet")
	job.Publish = true
	job.PublishAt = &at

	res, err := h.pipeline().Run(context.Background(), job)

	require.NoError(t, err)
	assert.Equal(t, "https://www.youtube.com/shorts/abc", res.PublicURL)
	assert.Equal(t, res.MediaPath, pub.got)
	assert.Equal(t, "private", res.Metadata.Visibility)

	stream, _ := h.reg.Get(job.ID)
	got := phases(stream)
	assert.Equal(t, []events.Phase{events.PhaseVideoUploaded, events.PhaseVideoScheduled, events.PhaseCompleted}, got[len(got)-3:])
	assert.FileExists(t, filepath.Join(h.cfg.Paths.Output, "upload_job-1.json"))
}

func TestRunPublishFailureIsFatal(t *testing.T) {
	h := newHarness(t, storySource{})
	h.stages.Publisher = &fakePublisher{err: errors.New("quota exceeded")}
	job := newJob("comet")
	job.Publish = true

	_, err := h.pipeline().Run(context.Background(), job)

	require.Error(t, err)
	assert.Equal(t, types.JobFailed, job.Status)

	h.stages.Publisher = nil
	job2 := newJob("comet")
	job2.ID = "job-2"
	job2.Publish = true
	_, err = h.pipeline().Run(context.Background(), job2)
	assert.True(t, errors.Is(err, ErrNoPublisher))
}

func TestMarkHeroesSkipsTail(t *testing.T) {
	segs := []types.Segment{
		{Kind: types.SegmentIntro},
		{Kind: types.SegmentContent},
		{Kind: types.SegmentContent},
		{Kind: types.SegmentTail},
	}
	markHeroes(segs, 2)
	assert.True(t, segs[0].Hero)
	assert.True(t, segs[1].Hero)
	assert.False(t, segs[2].Hero)

	markHeroes(segs[3:], 5)
	assert.False(t, segs[3].Hero)
}

func TestAssignAssetsWraps(t *testing.T) {
	segs := make([]types.Segment, 5)
	assignAssets(segs, []*types.VisualAsset{{SourceURL: "a"}, {SourceURL: "b"}})
	var got []int
	for _, s := range segs {
		require.NotNil(t, s.AssetIndex)
		got = append(got, *s.AssetIndex)
	}
	assert.Equal(t, []int{0, 1, 0, 1, 0}, got)

	none := make([]types.Segment, 2)
	assignAssets(none, nil)
	assert.Nil(t, none[0].AssetIndex)
}
