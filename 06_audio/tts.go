package audio

import (
	"context"
	"strings"

	"github.com/cockroachdb/errors"

	"shorts-pipeline/media"
)

// Style carries provider-neutral delivery parameters.
type Style struct {
	Rate string
}

// TTSProvider synthesizes text into an audio file.
type TTSProvider interface {
	Name() string
	Synthesize(ctx context.Context, text, voice string, style Style, out string) error
}

// EdgeTTS shells out to the edge-tts CLI (free Microsoft voices).
type EdgeTTS struct {
	runner media.Runner
	bin    string
}

// NewEdgeTTS returns an edge-tts provider; bin defaults to "edge-tts".
func NewEdgeTTS(runner media.Runner, bin string) *EdgeTTS {
	if bin == "" {
		bin = "edge-tts"
	}
	return &EdgeTTS{runner: runner, bin: bin}
}

func (e *EdgeTTS) Name() string { return "edge-tts" }

// Synthesize runs: edge-tts --voice V [--rate R] --text T --write-media out
func (e *EdgeTTS) Synthesize(ctx context.Context, text, voice string, style Style, out string) error {
	args := []string{"--voice", voice}
	if style.Rate != "" {
		args = append(args, "--rate="+style.Rate)
	}
	args = append(args, "--text", text, "--write-media", out)
	if _, err := e.runner.Run(ctx, e.bin, args...); err != nil {
		return errors.Wrap(err, "edge-tts")
	}
	return nil
}

// CommandTTS runs a user-supplied TTS command (TTS_COMMAND). The command
// must accept --text, --voice and --output. Python scripts are run through
// python3.
type CommandTTS struct {
	runner  media.Runner
	command string
}

// NewCommandTTS returns a provider for command.
func NewCommandTTS(runner media.Runner, command string) *CommandTTS {
	return &CommandTTS{runner: runner, command: strings.TrimSpace(command)}
}

func (c *CommandTTS) Name() string { return "command" }

// Synthesize invokes the configured command.
func (c *CommandTTS) Synthesize(ctx context.Context, text, voice string, _ Style, out string) error {
	name := c.command
	var args []string
	if strings.HasSuffix(c.command, ".py") {
		name = "python3"
		args = append(args, c.command)
	}
	args = append(args, "--text", text, "--voice", voice, "--output", out)
	if _, err := c.runner.Run(ctx, name, args...); err != nil {
		return errors.Wrapf(err, "tts command %s", c.command)
	}
	return nil
}
