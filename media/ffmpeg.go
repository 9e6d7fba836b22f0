package media

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/cockroachdb/errors"

	"shorts-pipeline/types"
)

// FFmpeg wraps the ffmpeg and ffprobe binaries with the encode settings
// shared by every stage.
type FFmpeg struct {
	runner     Runner
	Bin        string
	ProbeBin   string
	Preset     string
	CRF        int
	FPS        int
	SampleRate int
}

// Options configures an FFmpeg.
type Options struct {
	Preset     string
	CRF        int
	FPS        int
	SampleRate int
}

// NewFFmpeg returns an FFmpeg using runner for execution.
func NewFFmpeg(runner Runner, opts Options) *FFmpeg {
	f := &FFmpeg{
		runner:     runner,
		Bin:        "ffmpeg",
		ProbeBin:   "ffprobe",
		Preset:     opts.Preset,
		CRF:        opts.CRF,
		FPS:        opts.FPS,
		SampleRate: opts.SampleRate,
	}
	if f.Preset == "" {
		f.Preset = "veryfast"
	}
	if f.CRF == 0 {
		f.CRF = 23
	}
	if f.FPS == 0 {
		f.FPS = 30
	}
	if f.SampleRate == 0 {
		f.SampleRate = 44100
	}
	return f
}

// Exec runs ffmpeg with overwrite and quiet logging.
func (f *FFmpeg) Exec(ctx context.Context, args ...string) error {
	full := append([]string{"-y", "-hide_banner", "-loglevel", "error"}, args...)
	_, err := f.runner.Run(ctx, f.Bin, full...)
	return err
}

// Duration probes a media file's container duration in seconds.
func (f *FFmpeg) Duration(ctx context.Context, path string) (float64, error) {
	out, err := f.runner.Run(ctx, f.ProbeBin,
		"-v", "error",
		"-show_entries", "format=duration",
		"-of", "default=noprint_wrappers=1:nokey=1",
		path,
	)
	if err != nil {
		return 0, errors.Wrapf(err, "probe %s", path)
	}
	dur, err := strconv.ParseFloat(strings.TrimSpace(string(out)), 64)
	if err != nil {
		return 0, errors.Wrapf(err, "parse duration of %s", path)
	}
	return dur, nil
}

func (f *FFmpeg) videoCodec() []string {
	return []string{
		"-c:v", "libx264",
		"-preset", f.Preset,
		"-crf", strconv.Itoa(f.CRF),
		"-pix_fmt", "yuv420p",
	}
}

// ColorClip renders a flat-color clip of exactly seconds.
func (f *FFmpeg) ColorClip(ctx context.Context, out, color string, dim types.Dimensions, seconds float64) error {
	args := []string{
		"-f", "lavfi",
		"-i", fmt.Sprintf("color=c=%s:s=%dx%d:r=%d:d=%s", color, dim.Width, dim.Height, f.FPS, secs(seconds)),
	}
	args = append(args, f.videoCodec()...)
	args = append(args, "-t", secs(seconds), "-an", out)
	return errors.Wrap(f.Exec(ctx, args...), "color clip")
}

// FitVideo scales and crops in to dim at the canonical frame rate and forces
// an exact duration: longer input is cut, shorter input holds its last frame.
func (f *FFmpeg) FitVideo(ctx context.Context, in, out string, dim types.Dimensions, seconds float64) error {
	vf := NormalizeFilter(dim, f.FPS) + fmt.Sprintf(",tpad=stop_mode=clone:stop_duration=%s", secs(seconds))
	args := []string{"-i", in, "-vf", vf}
	args = append(args, f.videoCodec()...)
	args = append(args, "-t", secs(seconds), "-an", out)
	return errors.Wrap(f.Exec(ctx, args...), "fit video")
}

// StillClip animates a still image with a slow zoom for exactly seconds.
func (f *FFmpeg) StillClip(ctx context.Context, img, out string, dim types.Dimensions, seconds, zoom float64) error {
	args := []string{"-loop", "1", "-i", img, "-vf", KenBurnsFilter(dim, f.FPS, seconds, zoom)}
	args = append(args, f.videoCodec()...)
	args = append(args, "-t", secs(seconds), "-an", out)
	return errors.Wrap(f.Exec(ctx, args...), "still clip")
}

// Fade applies fade-in/fade-out to a clip of the given duration. Zero
// lengths skip that side.
func (f *FFmpeg) Fade(ctx context.Context, in, out string, duration, fadeIn, fadeOut float64) error {
	var filters []string
	if fadeIn > 0 {
		filters = append(filters, fmt.Sprintf("fade=t=in:st=0:d=%s", secs(fadeIn)))
	}
	if fadeOut > 0 {
		filters = append(filters, fmt.Sprintf("fade=t=out:st=%s:d=%s", secs(duration-fadeOut), secs(fadeOut)))
	}
	if len(filters) == 0 {
		filters = append(filters, "null")
	}
	args := []string{"-i", in, "-vf", strings.Join(filters, ",")}
	args = append(args, f.videoCodec()...)
	args = append(args, "-t", secs(duration), "-an", out)
	return errors.Wrap(f.Exec(ctx, args...), "fade")
}

// ConcatVideo joins clips listed in order. With reencode false the streams
// are copied, which requires identical encodings.
func (f *FFmpeg) ConcatVideo(ctx context.Context, files []string, listPath, out string, reencode bool) error {
	if len(files) == 0 {
		return errors.New("concat: no inputs")
	}
	if err := WriteConcatList(listPath, files); err != nil {
		return err
	}
	args := []string{"-f", "concat", "-safe", "0", "-i", listPath}
	if reencode {
		args = append(args, f.videoCodec()...)
		args = append(args, "-r", strconv.Itoa(f.FPS))
	} else {
		args = append(args, "-c", "copy")
	}
	args = append(args, "-an", out)
	return errors.Wrap(f.Exec(ctx, args...), "concat video")
}

// Silence writes seconds of silent PCM audio.
func (f *FFmpeg) Silence(ctx context.Context, out string, seconds float64) error {
	return errors.Wrap(f.Exec(ctx,
		"-f", "lavfi",
		"-i", fmt.Sprintf("anullsrc=r=%d:cl=stereo", f.SampleRate),
		"-t", secs(seconds),
		"-c:a", "pcm_s16le",
		out,
	), "silence")
}

// ConcatAudio decodes each input and joins them into one PCM file. Inputs
// may differ in codec and sample rate.
func (f *FFmpeg) ConcatAudio(ctx context.Context, files []string, out string) error {
	if len(files) == 0 {
		return errors.New("concat audio: no inputs")
	}
	var args []string
	var labels strings.Builder
	for i, file := range files {
		args = append(args, "-i", file)
		fmt.Fprintf(&labels, "[%d:a]aresample=%d,aformat=channel_layouts=stereo[a%d];", i, f.SampleRate, i)
	}
	for i := range files {
		fmt.Fprintf(&labels, "[a%d]", i)
	}
	fmt.Fprintf(&labels, "concat=n=%d:v=0:a=1[aout]", len(files))
	args = append(args,
		"-filter_complex", labels.String(),
		"-map", "[aout]",
		"-c:a", "pcm_s16le",
		out,
	)
	return errors.Wrap(f.Exec(ctx, args...), "concat audio")
}

// AudioFilter runs a single-input audio filter chain into PCM output.
func (f *FFmpeg) AudioFilter(ctx context.Context, in, out, filter string, seconds float64) error {
	args := []string{"-i", in, "-af", filter, "-ar", strconv.Itoa(f.SampleRate), "-c:a", "pcm_s16le"}
	if seconds > 0 {
		args = append(args, "-t", secs(seconds))
	}
	args = append(args, out)
	return errors.Wrap(f.Exec(ctx, args...), "audio filter")
}

// WriteConcatList writes an ffmpeg concat demuxer list.
func WriteConcatList(path string, files []string) error {
	var sb strings.Builder
	for _, file := range files {
		sb.WriteString("file '")
		sb.WriteString(strings.ReplaceAll(file, "'", `'\''`))
		sb.WriteString("'\n")
	}
	return errors.Wrap(os.WriteFile(path, []byte(sb.String()), 0o644), "write concat list")
}

func secs(s float64) string {
	return strconv.FormatFloat(s, 'f', 3, 64)
}
