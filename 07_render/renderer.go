package render

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/cockroachdb/errors"
	"go.uber.org/zap"

	"shorts-pipeline/config"
	"shorts-pipeline/logger"
	"shorts-pipeline/media"
	"shorts-pipeline/types"
)

// Renderer assembles the final video from per-segment clips and narration.
type Renderer struct {
	cfg   config.RenderConfig
	audio config.AudioConfig
	ff    *media.FFmpeg
	log   *zap.SugaredLogger
}

// New creates a Renderer.
func New(cfg config.RenderConfig, audio config.AudioConfig, ff *media.FFmpeg) *Renderer {
	return &Renderer{cfg: cfg, audio: audio, ff: ff, log: logger.Named("render")}
}

// Input is everything the final assembly needs.
type Input struct {
	JobID     string
	Clips     []types.Clip
	Narration []string
	Music     string
	Total     float64
	Ratio     string
	WorkDir   string
	Output    string
}

// Run builds the silent video, mixes the audio and muxes both into
// in.Output.
func (r *Renderer) Run(ctx context.Context, in Input) (string, error) {
	video, err := r.BuildVideo(ctx, in)
	if err != nil {
		return "", err
	}
	audio, err := r.MixAudio(ctx, in)
	if err != nil {
		return "", err
	}
	return r.Mux(ctx, video, audio, in)
}

// BuildVideo normalizes every clip, applies fades, concatenates them and
// fits the result to the total duration. A failed fade pass degrades to
// hard cuts.
func (r *Renderer) BuildVideo(ctx context.Context, in Input) (string, error) {
	if len(in.Clips) == 0 {
		return "", errors.New("render: no clips")
	}
	dim := types.DimensionsFor(in.Ratio)

	normalized := make([]string, len(in.Clips))
	durations := make([]float64, len(in.Clips))
	for i, c := range in.Clips {
		out := filepath.Join(in.WorkDir, fmt.Sprintf("norm%02d.mp4", i))
		if err := r.ff.FitVideo(ctx, c.Path, out, dim, c.Duration); err != nil {
			r.log.Warnw("clip normalize failed, using placeholder",
				"job_id", in.JobID,
				"segment", i+1,
				"error", err,
			)
			if err := r.ff.ColorClip(ctx, out, "black", dim, c.Duration); err != nil {
				return "", errors.Wrapf(err, "segment %d", i+1)
			}
		}
		normalized[i] = out
		durations[i] = c.Duration
	}

	joined := filepath.Join(in.WorkDir, "video_joined.mp4")
	if err := r.concatWithFades(ctx, in, normalized, durations, joined); err != nil {
		r.log.Warnw("transition pass failed, using hard cuts", "job_id", in.JobID, "error", err)
		list := filepath.Join(in.WorkDir, "concat_hardcut.txt")
		if err := r.ff.ConcatVideo(ctx, normalized, list, joined, true); err != nil {
			return "", errors.Wrap(err, "concat clips")
		}
	}

	silent := filepath.Join(in.WorkDir, "video_silent.mp4")
	if err := r.ff.FitVideo(ctx, joined, silent, dim, in.Total); err != nil {
		return "", errors.Wrap(err, "fit video to total")
	}
	r.log.Infow("video assembled", "job_id", in.JobID, "clips", len(in.Clips), "duration", in.Total)
	return silent, nil
}

func (r *Renderer) concatWithFades(ctx context.Context, in Input, files []string, durations []float64, out string) error {
	plan := PlanTransitions(durations, r.cfg.FadeFraction, r.cfg.FadeFloor)
	faded := make([]string, len(files))
	for i, f := range files {
		faded[i] = filepath.Join(in.WorkDir, fmt.Sprintf("fade%02d.mp4", i))
		if err := r.ff.Fade(ctx, f, faded[i], durations[i], plan[i].In, plan[i].Out); err != nil {
			return errors.Wrapf(err, "segment %d", i+1)
		}
	}
	return r.ff.ConcatVideo(ctx, faded, filepath.Join(in.WorkDir, "concat_faded.txt"), out, false)
}

// MixGains returns the narration and music volumes. Narration is boosted
// when it plays alone.
func (r *Renderer) MixGains(hasMusic bool) (narration, music float64) {
	if !hasMusic {
		return r.audio.NarrationOnlyGain, 0
	}
	return r.audio.NarrationGain, r.audio.MusicGain
}

// MixAudio joins the narration in segment order and lays the music bed
// under it. A failed music mix degrades to narration alone.
func (r *Renderer) MixAudio(ctx context.Context, in Input) (string, error) {
	if len(in.Narration) == 0 {
		return "", errors.New("render: no narration")
	}
	narration := filepath.Join(in.WorkDir, "narration.wav")
	if err := r.ff.ConcatAudio(ctx, in.Narration, narration); err != nil {
		return "", errors.Wrap(err, "join narration")
	}

	mixed := filepath.Join(in.WorkDir, "audio_mixed.wav")
	if in.Music != "" {
		voice, bed := r.MixGains(true)
		filter := fmt.Sprintf(
			"[0:a]volume=%.3f,apad[n];[1:a]volume=%.3f[m];[n][m]amix=inputs=2:duration=first:normalize=0[aout]",
			voice, bed,
		)
		err := r.ff.Exec(ctx,
			"-i", narration,
			"-stream_loop", "-1", "-i", in.Music,
			"-filter_complex", filter,
			"-map", "[aout]",
			"-t", fmt.Sprintf("%.3f", in.Total),
			"-c:a", "pcm_s16le",
			mixed,
		)
		if err == nil {
			return mixed, nil
		}
		r.log.Warnw("music mix failed, narration only", "job_id", in.JobID, "error", err)
	}

	voice, _ := r.MixGains(false)
	if err := r.ff.AudioFilter(ctx, narration, mixed, fmt.Sprintf("volume=%.3f,apad", voice), in.Total); err != nil {
		return "", errors.Wrap(err, "narration gain")
	}
	return mixed, nil
}

// Mux maps the video stream of the silent track and the audio stream of
// the mix into the delivery container.
func (r *Renderer) Mux(ctx context.Context, video, audio string, in Input) (string, error) {
	err := r.ff.Exec(ctx,
		"-i", video,
		"-i", audio,
		"-map", "0:v:0",
		"-map", "1:a:0",
		"-c:v", "copy",
		"-c:a", "aac",
		"-b:a", r.cfg.AudioBitrate,
		"-t", fmt.Sprintf("%.3f", in.Total),
		"-movflags", "+faststart",
		in.Output,
	)
	if err != nil {
		return "", errors.Wrap(err, "mux")
	}
	r.log.Infow("final video ready", "job_id", in.JobID, "path", in.Output)
	return in.Output, nil
}
