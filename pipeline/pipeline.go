// Package pipeline runs one GenerationJob from topic to finished, and
// optionally published, video.
package pipeline

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync/atomic"
	"time"

	"github.com/cockroachdb/errors"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

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
	"shorts-pipeline/logger"
	"shorts-pipeline/store"
	"shorts-pipeline/types"
)

var (
	// ErrNoSegments is fatal: nothing could be planned for the job.
	ErrNoSegments = errors.New("no segments planned")
	// ErrNoTopic means the job had no topic and research found none.
	ErrNoTopic = errors.New("no topic")
	// ErrNoPublisher means publishing was requested without credentials.
	ErrNoPublisher = errors.New("publishing requested but no publisher configured")
)

// streams kept in the registry after their jobs finish.
const keepStreams = 200

// Researcher finds a trending story for a job.
type Researcher interface {
	FetchTrendingStory(ctx context.Context, q research.TrendQuery) (*types.Story, error)
}

// Stages are the components a run drives. Research, Music and Publisher
// are optional.
type Stages struct {
	Research  Researcher
	Planner   *timing.Planner
	Writer    *script.Writer
	Visuals   *visuals.Resolver
	Clips     *clips.Generator
	Narrator  *audio.Synthesizer
	Music     *audio.MusicFinder
	Renderer  *render.Renderer
	Metadata  *metadata.Generator
	Publisher upload.Publisher
}

// Pipeline is the orchestrator. It owns a job's segments and assets for
// the duration of Run.
type Pipeline struct {
	cfg    *config.Config
	stages Stages
	store  store.JobStore
	events *events.Registry
	log    *zap.SugaredLogger
}

// New wires a pipeline.
func New(cfg *config.Config, stages Stages, st store.JobStore, reg *events.Registry) *Pipeline {
	return &Pipeline{cfg: cfg, stages: stages, store: st, events: reg, log: logger.Named("pipeline")}
}

// Events returns the registry the pipeline reports progress to.
func (p *Pipeline) Events() *events.Registry { return p.events }

// Run produces the video for job. Per-segment problems degrade inside the
// stages; only fatal errors are returned, after the job is marked failed
// and an ERROR event is emitted.
func (p *Pipeline) Run(ctx context.Context, job *types.GenerationJob) (*types.JobResult, error) {
	stream := p.events.Open(job.ID)
	started := time.Now()

	job.Status = types.JobRunning
	job.Error = ""
	p.save(ctx, job)
	p.emit(stream, events.PhaseInit, map[string]any{
		"category":     job.Category,
		"duration":     job.DurationSeconds,
		"aspect_ratio": job.AspectRatio,
		"schedule_id":  job.ScheduleID,
	})

	workDir := filepath.Join(p.cfg.Paths.Work, job.ID)
	if err := os.MkdirAll(workDir, 0o755); err != nil {
		return nil, p.fail(ctx, job, stream, errors.Wrap(err, "create work dir"))
	}
	if !p.cfg.Pipeline.KeepWorkDir {
		defer func() {
			if err := os.RemoveAll(workDir); err != nil {
				p.log.Warnw("remove work dir failed", "job_id", job.ID, "error", err)
			}
		}()
	}

	res, err := p.produce(ctx, job, stream, workDir)
	if err != nil {
		return nil, p.fail(ctx, job, stream, err)
	}

	now := time.Now().UTC()
	job.Status = types.JobSucceeded
	job.CompletedAt = &now
	job.MediaPath = res.MediaPath
	job.PublicURL = res.PublicURL
	job.Metadata = res.Metadata
	p.save(ctx, job)
	p.emit(stream, events.PhaseCompleted, map[string]any{
		"media_path": res.MediaPath,
		"public_url": res.PublicURL,
		"segments":   len(res.Segments),
	})
	p.events.Prune(keepStreams)

	p.log.Infow("job completed",
		"job_id", job.ID,
		"media_path", res.MediaPath,
		"public_url", res.PublicURL,
		"elapsed", time.Since(started).Round(time.Second),
	)
	return res, nil
}

func (p *Pipeline) produce(ctx context.Context, job *types.GenerationJob, stream *events.Stream, workDir string) (*types.JobResult, error) {
	st := p.stages
	jc := types.NewJobContext(job.ID)

	story := p.research(ctx, job)
	if job.Topic == "" {
		if story == nil {
			return nil, ErrNoTopic
		}
		job.Topic = story.Title
	}

	plan := st.Planner.Plan(timing.PlanRequest{
		Category:         job.Category,
		TotalSeconds:     job.DurationSeconds,
		ToleranceSeconds: p.cfg.Timing.MaxToleranceSeconds,
		Language:         job.Language,
	})
	draft := st.Writer.Draft(ctx, job, plan, story)
	segments := draft.Segments
	if len(segments) == 0 {
		return nil, ErrNoSegments
	}

	// Durations are final before any clip is generated.
	durations := st.Planner.Rebalance(plan, script.WordCounts(segments), plan.Target())
	var total float64
	for i := range segments {
		if i < len(durations) {
			segments[i].Duration = durations[i]
			segments[i].WordBudget = st.Planner.WordBudget(durations[i], segments[i].Kind, plan.Language)
		}
		total += segments[i].Duration
	}
	markHeroes(segments, p.cfg.Clips.HeroSegments)

	var hints []string
	if story != nil {
		hints = story.Images
	}
	assets := st.Visuals.Resolve(ctx, jc, job.Topic, job.AspectRatio, hints, len(segments))
	assignAssets(segments, assets)

	if err := p.generateSegments(ctx, job, jc, stream, segments, assets, workDir); err != nil {
		return nil, err
	}

	music := ""
	if st.Music != nil {
		music = st.Music.Find(ctx, musicTerm(job), workDir)
	}

	mediaPath, err := p.assemble(ctx, job, stream, segments, music, total, workDir)
	if err != nil {
		return nil, err
	}

	meta := st.Metadata.Generate(ctx, metadata.Input{Job: job, Title: draft.Title, Segments: segments, Story: story})
	res := &types.JobResult{JobID: job.ID, MediaPath: mediaPath, Segments: segments, Metadata: meta}

	if job.Publish {
		url, err := p.publish(ctx, job, stream, mediaPath, meta)
		if err != nil {
			return nil, err
		}
		res.PublicURL = url
	}
	return res, nil
}

// research looks up a story for the job's imagery, and for its topic when
// none was given. Failures are logged; the job continues without a story.
func (p *Pipeline) research(ctx context.Context, job *types.GenerationJob) *types.Story {
	if p.stages.Research == nil {
		return nil
	}
	exclude, err := p.store.RecentTopics(ctx, job.OwnerID, 20)
	if err != nil {
		p.log.Warnw("recent topics unavailable", "job_id", job.ID, "error", err)
	}
	story, err := p.stages.Research.FetchTrendingStory(ctx, research.TrendQuery{
		Category: job.Category,
		Geo:      job.Country,
		Language: job.Language,
		Topic:    job.Topic,
		Exclude:  exclude,
	})
	if err != nil {
		p.log.Warnw("research failed", "job_id", job.ID, "topic", job.Topic, "error", err)
		return nil
	}
	p.log.Infow("story selected", "job_id", job.ID, "title", story.Title, "source", story.Source, "images", len(story.Images))
	return story
}

// generateSegments renders every segment's clip and narration under a
// bounded worker pool. Results are addressed by index, so completion
// order never affects assembly order.
func (p *Pipeline) generateSegments(ctx context.Context, job *types.GenerationJob, jc *types.JobContext, stream *events.Stream, segments []types.Segment, assets []*types.VisualAsset, workDir string) error {
	clipDir := filepath.Join(workDir, "clips")
	audioDir := filepath.Join(workDir, "audio")
	for _, dir := range []string{clipDir, audioDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return errors.Wrapf(err, "create %s", dir)
		}
	}

	n := len(segments)
	p.emit(stream, events.PhaseGeneratingClips, map[string]any{"segments": n, "done": 0})

	var done atomic.Int32
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(max(1, p.cfg.Pipeline.Parallelism))
	for i := range segments {
		g.Go(func() error {
			seg := segments[i]
			clip := p.stages.Clips.Generate(gctx, jc, clips.Request{
				JobID:   job.ID,
				Segment: seg,
				Ratio:   job.AspectRatio,
				Assets:  assets,
				OutDir:  clipDir,
			})
			voice, err := p.narrate(gctx, job, seg, audioDir)
			if err != nil {
				return errors.Wrapf(err, "segment %d narration", seg.Index)
			}
			segments[i].Clip = &clip
			segments[i].Tier = clip.Tier
			segments[i].AudioFile = voice

			p.emit(stream, events.PhaseGeneratingClips, map[string]any{
				"segments": n,
				"done":     int(done.Add(1)),
				"segment":  seg.Index,
				"tier":     clip.Tier,
			})
			return nil
		})
	}
	return g.Wait()
}

// narrate synthesizes one segment and fits it to the segment's duration.
func (p *Pipeline) narrate(ctx context.Context, job *types.GenerationJob, seg types.Segment, dir string) (string, error) {
	raw, err := p.stages.Narrator.Synthesize(ctx, audio.Request{
		JobID:      job.ID,
		Segment:    seg.Index,
		Text:       seg.Text,
		Utterances: seg.Utterances,
		Language:   job.Language,
		Category:   job.Category,
		VoiceID:    job.VoiceID,
		OutDir:     dir,
	})
	if err != nil {
		return "", err
	}
	out := filepath.Join(dir, fmt.Sprintf("seg%02d_fit.wav", seg.Index))
	got, err := p.stages.Narrator.FitToDuration(ctx, raw.Path, out, seg.Duration, p.stages.Narrator.MaxTempo(job.Category))
	if err != nil {
		return "", err
	}
	p.log.Debugw("narration fitted",
		"job_id", job.ID,
		"segment", seg.Index,
		"provider", raw.Provider,
		"raw", raw.Duration,
		"fitted", got,
		"target", seg.Duration,
	)
	return out, nil
}

func (p *Pipeline) assemble(ctx context.Context, job *types.GenerationJob, stream *events.Stream, segments []types.Segment, music string, total float64, workDir string) (string, error) {
	if err := os.MkdirAll(p.cfg.Paths.Output, 0o755); err != nil {
		return "", errors.Wrap(err, "create output dir")
	}
	in := render.Input{
		JobID:   job.ID,
		Music:   music,
		Total:   total,
		Ratio:   job.AspectRatio,
		WorkDir: workDir,
		Output:  filepath.Join(p.cfg.Paths.Output, job.ID+".mp4"),
	}
	tiers := make(map[types.Tier]int)
	for _, seg := range segments {
		in.Clips = append(in.Clips, *seg.Clip)
		in.Narration = append(in.Narration, seg.AudioFile)
		tiers[seg.Tier]++
	}

	r := p.stages.Renderer
	p.emit(stream, events.PhaseAssemblingVideo, map[string]any{"clips": len(in.Clips), "tiers": tiers})
	video, err := r.BuildVideo(ctx, in)
	if err != nil {
		return "", err
	}
	p.emit(stream, events.PhaseAddingVoiceMusic, map[string]any{"music": music != ""})
	mixed, err := r.MixAudio(ctx, in)
	if err != nil {
		return "", err
	}
	p.emit(stream, events.PhaseSyncingVoice, map[string]any{"duration": total})
	return r.Mux(ctx, video, mixed, in)
}

// publish uploads the video. A failure here is fatal only because the
// caller asked for publishing.
func (p *Pipeline) publish(ctx context.Context, job *types.GenerationJob, stream *events.Stream, file string, meta *types.VideoMetadata) (string, error) {
	if p.stages.Publisher == nil {
		return "", ErrNoPublisher
	}
	res, err := p.stages.Publisher.Upload(ctx, file, meta)
	if err != nil {
		return "", errors.Wrap(err, "publish")
	}
	p.emit(stream, events.PhaseVideoUploaded, map[string]any{"video_id": res.VideoID, "url": res.URL})
	if res.Scheduled && res.PublishAt != nil {
		p.emit(stream, events.PhaseVideoScheduled, map[string]any{"publish_at": res.PublishAt.UTC()})
	}
	if _, err := upload.WriteReceipt(p.cfg.Paths.Output, job.ID, res, meta); err != nil {
		p.log.Warnw("write upload receipt failed", "job_id", job.ID, "error", err)
	}
	return res.URL, nil
}

func (p *Pipeline) fail(ctx context.Context, job *types.GenerationJob, stream *events.Stream, err error) error {
	now := time.Now().UTC()
	job.Status = types.JobFailed
	job.CompletedAt = &now
	job.Error = err.Error()
	p.save(ctx, job)
	p.emit(stream, events.PhaseError, map[string]any{"error": err.Error()})
	p.events.Prune(keepStreams)
	p.log.Errorw("job failed", "job_id", job.ID, "error", err)
	return err
}

func (p *Pipeline) save(ctx context.Context, job *types.GenerationJob) {
	rec := *job
	if err := p.store.SaveJob(context.WithoutCancel(ctx), &rec); err != nil {
		p.log.Warnw("save job failed", "job_id", job.ID, "status", job.Status, "error", err)
	}
}

func (p *Pipeline) emit(stream *events.Stream, phase events.Phase, payload map[string]any) {
	if _, err := stream.Emit(phase, payload); err != nil {
		p.log.Warnw("emit event failed", "phase", phase, "error", err)
	}
}

// markHeroes flags the first n spoken segments, excluding the tail, for
// the alternate generative tier.
func markHeroes(segments []types.Segment, n int) {
	for i := range segments {
		if n <= 0 {
			return
		}
		if segments[i].Kind == types.SegmentTail {
			continue
		}
		segments[i].Hero = true
		n--
	}
}

// assignAssets spreads the resolved assets over the segments in score
// order, wrapping when there are fewer assets than segments.
func assignAssets(segments []types.Segment, assets []*types.VisualAsset) {
	if len(assets) == 0 {
		return
	}
	for i := range segments {
		idx := i % len(assets)
		segments[i].AssetIndex = &idx
	}
}

func musicTerm(job *types.GenerationJob) string {
	switch {
	case job.MusicTerm != "":
		return job.MusicTerm
	case job.Category == types.CategoryTop5:
		return "upbeat"
	default:
		return "ambient"
	}
}
