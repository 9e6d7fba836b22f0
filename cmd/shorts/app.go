package main

import (
	"context"
	"net/http"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/urfave/cli/v3"
	"go.uber.org/zap"

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
	"shorts-pipeline/llm"
	"shorts-pipeline/logger"
	"shorts-pipeline/media"
	"shorts-pipeline/pipeline"
	"shorts-pipeline/queue"
	"shorts-pipeline/scheduler"
	"shorts-pipeline/store"
	"shorts-pipeline/types"
)

// app holds everything a command needs.
type app struct {
	cfg      *config.Config
	store    store.Store
	queue    *queue.Queue
	sched    *scheduler.Scheduler
	pipeline *pipeline.Pipeline
	events   *events.Registry
	closers  []func() error
	log      *zap.SugaredLogger
}

func newApp(ctx context.Context, cmd *cli.Command) (*app, error) {
	config.LoadDotEnv(cmd.String("env"))
	cfg, err := config.Load(cmd.String("config"))
	if err != nil {
		return nil, err
	}
	if err := logger.Initialize(cmd.Bool("json")); err != nil {
		return nil, err
	}
	a := &app{cfg: cfg, events: events.NewRegistry(), log: logger.Named("app")}

	if err := a.openStore(); err != nil {
		return nil, err
	}
	stages, err := a.buildStages(ctx)
	if err != nil {
		a.Close()
		return nil, err
	}
	a.pipeline = pipeline.New(cfg, stages, a.store, a.events)

	backend, err := a.queueBackend(ctx)
	if err != nil {
		a.Close()
		return nil, err
	}
	a.queue = queue.New(backend, a.runJob)
	a.sched = scheduler.New(a.store, a.queue, cfg.Scheduler.PollInterval)
	return a, nil
}

// runJob is the queue handler: run the pipeline, then let the scheduler
// record the outcome for scheduled jobs.
func (a *app) runJob(ctx context.Context, job *types.GenerationJob) error {
	_, runErr := a.pipeline.Run(ctx, job)
	if err := a.sched.OnJobFinished(ctx, job, runErr); err != nil {
		a.log.Errorw("record schedule outcome failed", "job_id", job.ID, "schedule_id", job.ScheduleID, "error", err)
	}
	return runErr
}

func (a *app) openStore() error {
	if a.cfg.Store.Backend != "supabase" {
		a.store = store.NewMemory()
		return nil
	}
	sb, err := store.NewSupabase(a.cfg.Env.SupabaseURL, a.cfg.Env.SupabaseServiceKey, a.cfg.Store.JobsTable, a.cfg.Store.SchedulesTable)
	if err != nil {
		return err
	}
	a.store = sb
	return nil
}

func (a *app) queueBackend(ctx context.Context) (queue.Backend, error) {
	if a.cfg.Queue.Backend != "redis" {
		return queue.NewMemory(), nil
	}
	rdb, err := queue.DialRedis(ctx, a.cfg.Env.RedisURL, a.cfg.Queue.Key, a.cfg.Queue.InFlightKey, a.cfg.Queue.ClaimTTL)
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, rdb.Close)
	return rdb, nil
}

func (a *app) buildStages(ctx context.Context) (pipeline.Stages, error) {
	cfg, env := a.cfg, a.cfg.Env

	completer, err := a.completer(ctx)
	if err != nil {
		return pipeline.Stages{}, err
	}

	storySources := []research.StorySource{research.NewNews(cfg.Research.NewsFeedURL)}
	if rd, err := research.NewReddit(cfg.Research, env); err != nil {
		a.log.Warnw("reddit source disabled", "error", err)
	} else {
		storySources = append([]research.StorySource{rd}, storySources...)
	}

	imageSources := []visuals.Source{visuals.TrendSource{}, visuals.NewWikipediaSource("")}
	if env.GoogleCSEKey != "" && env.GoogleCSECX != "" {
		search, err := visuals.NewSearchSource(ctx, env.GoogleCSEKey, env.GoogleCSECX, cfg.Visuals.CandidatesPerSearch)
		if err != nil {
			return pipeline.Stages{}, err
		}
		imageSources = append(imageSources, search)
	}
	var cdn visuals.CDN
	if env.CloudinaryCloud != "" {
		cdn = visuals.NewCloudinary(env.CloudinaryCloud, &http.Client{Timeout: cfg.Visuals.RequestTimeout})
	}
	var stager visuals.Stager
	if env.SupabaseURL != "" && env.SupabaseServiceKey != "" {
		stager = visuals.NewSupabaseStager(env.SupabaseURL, env.SupabaseServiceKey, cfg.Visuals.StagingBucket, &http.Client{Timeout: cfg.Visuals.RequestTimeout})
	}
	resolver := visuals.NewResolver(cfg.Visuals, cdn, stager, imageSources...).
		WithFallback(visuals.NewPromptSource(""))

	runner := media.ExecRunner{}
	ff := media.NewFFmpeg(runner, media.Options{
		Preset:     cfg.Render.Preset,
		CRF:        cfg.Render.CRF,
		FPS:        cfg.Render.FPS,
		SampleRate: cfg.Audio.SampleRate,
	})

	var provider clips.VideoProvider
	if env.KlingAccessKey != "" && env.KlingSecretKey != "" {
		provider = clips.NewKling(cfg.Clips.KlingBaseURL, env.KlingAccessKey, env.KlingSecretKey, cfg.Clips.KlingModel, cfg.Clips.SubmitRPS)
	} else {
		a.log.Infow("no generative video provider configured, clips start at animated stills")
	}

	var secondary audio.TTSProvider
	if env.TTSCommand != "" {
		secondary = audio.NewCommandTTS(runner, env.TTSCommand)
	}
	var musicSources []audio.MusicSource
	if env.JamendoClientID != "" {
		musicSources = append(musicSources, audio.NewJamendo(cfg.Audio.JamendoBaseURL, env.JamendoClientID))
	}
	musicSources = append(musicSources, audio.NewLibrary(cfg.Audio.MusicLibrary, cfg.Audio.MusicTags))

	var publisher upload.Publisher
	if env.HasYouTube() {
		yt, err := upload.NewYouTube(ctx, cfg.Upload, env)
		if err != nil {
			a.log.Warnw("youtube publisher disabled", "error", err)
		} else {
			publisher = yt
		}
	}

	return pipeline.Stages{
		Research:  research.New(cfg.Research, storySources...),
		Planner:   timing.NewPlanner(cfg.Timing),
		Writer:    script.New(completer, cfg),
		Visuals:   resolver,
		Clips:     clips.NewGenerator(cfg.Clips, provider, ff),
		Narrator:  audio.NewSynthesizer(audio.NewEdgeTTS(runner, cfg.Audio.TTSBinary), secondary, ff, cfg.Audio),
		Music:     audio.NewMusicFinder(musicSources...),
		Renderer:  render.New(cfg.Render, cfg.Audio, ff),
		Metadata:  metadata.New(completer, cfg),
		Publisher: publisher,
	}, nil
}

// completer chains the configured LLM providers, OpenAI first. It
// returns nil when none is configured; text then comes from templates.
func (a *app) completer(ctx context.Context) (llm.Completer, error) {
	cfg, env := a.cfg.LLM, a.cfg.Env
	var providers []llm.Completer
	if env.OpenAIKey != "" {
		oa, err := llm.NewOpenAI(env.OpenAIKey, cfg.OpenAIModel, cfg.Timeout, cfg.MaxRetries)
		if err != nil {
			return nil, err
		}
		providers = append(providers, oa)
	}
	if env.GeminiKey != "" {
		gm, err := llm.NewGemini(ctx, env.GeminiKey, cfg.GeminiModel, cfg.Timeout)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, gm.Close)
		providers = append(providers, gm)
	}
	chain := llm.NewChain(providers...)
	if chain.Len() == 0 {
		a.log.Warnw("no LLM provider configured, scripts and metadata will be templated")
		return nil, nil
	}
	a.log.Infow("llm providers", "chain", chain.Name())
	return chain, nil
}

// Close releases clients in reverse order of creation.
func (a *app) Close() {
	var errs error
	for i := len(a.closers) - 1; i >= 0; i-- {
		errs = errors.CombineErrors(errs, a.closers[i]())
	}
	if errs != nil {
		a.log.Warnw("close failed", "error", errs)
	}
	logger.Sync()
}

// serveHTTP runs srv until ctx is cancelled, then shuts it down.
func serveHTTP(ctx context.Context, srv *http.Server) error {
	errc := make(chan error, 1)
	go func() { errc <- srv.ListenAndServe() }()
	select {
	case err := <-errc:
		return errors.Wrap(err, "http server")
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
