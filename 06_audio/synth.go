package audio

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"go.uber.org/zap"

	"shorts-pipeline/config"
	"shorts-pipeline/logger"
	"shorts-pipeline/media"
	"shorts-pipeline/types"
)

// ProviderSilence names the last-resort fallback in results.
const ProviderSilence = "silence"

// Request is the narration for one segment.
type Request struct {
	JobID      string
	Segment    int
	Text       string
	Utterances []string
	Language   string
	Category   string
	VoiceID    string
	OutDir     string
}

// Result is synthesized narration.
type Result struct {
	Path     string
	Duration float64
	Provider string
}

// Synthesizer produces narration with a primary provider, an equivalent
// secondary voice, and finally silence sized to the text.
type Synthesizer struct {
	primary   TTSProvider
	secondary TTSProvider
	ff        *media.FFmpeg
	cfg       config.AudioConfig
	sleep     func(time.Duration)
	log       *zap.SugaredLogger
}

// NewSynthesizer wires a synthesizer. Either provider may be nil.
func NewSynthesizer(primary, secondary TTSProvider, ff *media.FFmpeg, cfg config.AudioConfig) *Synthesizer {
	return &Synthesizer{
		primary:   primary,
		secondary: secondary,
		ff:        ff,
		cfg:       cfg,
		sleep:     time.Sleep,
		log:       logger.Named("audio"),
	}
}

// WithSleep replaces the retry backoff sleep.
func (s *Synthesizer) WithSleep(sleep func(time.Duration)) *Synthesizer {
	s.sleep = sleep
	return s
}

// MaxTempo returns the compression cap for a category.
func (s *Synthesizer) MaxTempo(category string) float64 {
	if category == types.CategoryTop5 {
		return s.cfg.CountdownMaxTempo
	}
	return s.cfg.DefaultMaxTempo
}

// Synthesize renders the request's narration. Enumerated requests (two or
// more utterances) are voiced one utterance at a time with a silence gap
// between them. Provider failures degrade; only a failure to write even
// silence is returned as an error.
func (s *Synthesizer) Synthesize(ctx context.Context, req Request) (Result, error) {
	base := fmt.Sprintf("seg%02d", req.Segment)
	if len(req.Utterances) < 2 {
		text := req.Text
		if len(req.Utterances) == 1 {
			text = req.Utterances[0]
		}
		return s.synthesizeOne(ctx, req, text, base)
	}

	var files []string
	var providers []string
	gap := filepath.Join(req.OutDir, base+"_gap.wav")
	if err := s.ff.Silence(ctx, gap, s.cfg.EnumeratedGapSeconds); err != nil {
		return Result{}, errors.Wrap(err, "enumerated gap")
	}
	for i, u := range req.Utterances {
		part, err := s.synthesizeOne(ctx, req, u, fmt.Sprintf("%s_part%d", base, i))
		if err != nil {
			return Result{}, err
		}
		files = append(files, part.Path)
		providers = append(providers, part.Provider)
		if i < len(req.Utterances)-1 {
			files = append(files, gap)
		}
	}

	out := filepath.Join(req.OutDir, base+"_enumerated.wav")
	if err := s.ff.ConcatAudio(ctx, files, out); err != nil {
		return Result{}, errors.Wrap(err, "join enumerated utterances")
	}
	dur, err := s.ff.Duration(ctx, out)
	if err != nil {
		return Result{}, err
	}
	return Result{Path: out, Duration: dur, Provider: strings.Join(unique(providers), "+")}, nil
}

func (s *Synthesizer) synthesizeOne(ctx context.Context, req Request, text, base string) (Result, error) {
	voices := s.cfg.Voices.Lookup(req.Language)
	style := Style{Rate: voices.Rate}
	primaryVoice := voices.Primary
	if req.VoiceID != "" {
		primaryVoice = req.VoiceID
	}

	attempts := []struct {
		provider TTSProvider
		voice    string
		out      string
	}{
		{s.primary, primaryVoice, filepath.Join(req.OutDir, base+".mp3")},
		{s.secondary, voices.Secondary, filepath.Join(req.OutDir, base+"_alt.wav")},
	}
	for _, a := range attempts {
		if a.provider == nil || strings.TrimSpace(text) == "" {
			continue
		}
		dur, err := s.try(ctx, a.provider, text, a.voice, style, a.out)
		if err == nil {
			s.log.Infow("narration synthesized",
				"job_id", req.JobID,
				"segment", req.Segment,
				"provider", a.provider.Name(),
				"voice", a.voice,
				"duration", dur,
			)
			return Result{Path: a.out, Duration: dur, Provider: a.provider.Name()}, nil
		}
		s.log.Warnw("tts provider failed",
			"job_id", req.JobID,
			"segment", req.Segment,
			"provider", a.provider.Name(),
			"error", err,
		)
	}

	est := estimateSpeech(text)
	out := filepath.Join(req.OutDir, base+"_silence.wav")
	if err := s.ff.Silence(ctx, out, est); err != nil {
		return Result{}, errors.Wrapf(err, "segment %d: silence fallback", req.Segment)
	}
	s.log.Warnw("narration replaced by silence",
		"job_id", req.JobID,
		"segment", req.Segment,
		"duration", est,
	)
	return Result{Path: out, Duration: est, Provider: ProviderSilence}, nil
}

func (s *Synthesizer) try(ctx context.Context, p TTSProvider, text, voice string, style Style, out string) (float64, error) {
	tries := s.cfg.Retries
	if tries < 1 {
		tries = 1
	}
	var lastErr error
	for attempt := 1; attempt <= tries; attempt++ {
		if attempt > 1 {
			s.sleep(time.Duration(attempt-1) * time.Second)
		}
		if err := p.Synthesize(ctx, text, voice, style, out); err != nil {
			lastErr = err
			continue
		}
		dur, err := s.ff.Duration(ctx, out)
		if err != nil {
			lastErr = err
			continue
		}
		if dur <= 0 {
			lastErr = errors.Newf("%s produced empty audio", p.Name())
			continue
		}
		return dur, nil
	}
	return 0, lastErr
}

// estimateSpeech sizes silence to roughly how long the text would take.
func estimateSpeech(text string) float64 {
	d := float64(len(strings.Fields(text))) / 2.5
	if d < 1 {
		return 1
	}
	return d
}

func unique(in []string) []string {
	seen := make(map[string]bool)
	var out []string
	for _, s := range in {
		if !seen[s] {
			seen[s] = true
			out = append(out, s)
		}
	}
	return out
}
