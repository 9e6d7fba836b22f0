package media_test

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"shorts-pipeline/media"
	"shorts-pipeline/media/mediatest"
	"shorts-pipeline/types"
)

func TestAtempoChain(t *testing.T) {
	assert.Equal(t, "atempo=1.2000", media.AtempoChain(1.2))
	assert.Equal(t, "atempo=2.0,atempo=1.5000", media.AtempoChain(3.0))
	assert.Equal(t, "atempo=0.5,atempo=0.8000", media.AtempoChain(0.4))
	assert.Equal(t, "anull", media.AtempoChain(0))
}

func TestKenBurnsFilterBoundsZoom(t *testing.T) {
	f := media.KenBurnsFilter(types.Dimensions{Width: 1080, Height: 1920}, 30, 4, 1.12)
	assert.Contains(t, f, "d=120")
	assert.Contains(t, f, "s=1080x1920")
	assert.Contains(t, f, "1.120)")
	assert.Contains(t, f, "scale=2160:3840")

	flat := media.KenBurnsFilter(types.Dimensions{Width: 100, Height: 100}, 30, 1, 0.5)
	assert.Contains(t, flat, "min(zoom+0.000000,1.000)")
}

func TestWriteConcatListEscapesQuotes(t *testing.T) {
	path := filepath.Join(t.TempDir(), "list.txt")
	require.NoError(t, media.WriteConcatList(path, []string{"/tmp/a.mp4", "/tmp/it's.mp4"}))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "file '/tmp/a.mp4'\nfile '/tmp/it'\\''s.mp4'\n", string(data))
}

func TestFitVideoPinsDuration(t *testing.T) {
	dir := t.TempDir()
	runner := mediatest.NewRunner()
	ff := media.NewFFmpeg(runner, media.Options{FPS: 30})
	out := filepath.Join(dir, "fit.mp4")

	err := ff.FitVideo(context.Background(), "in.mp4", out, types.Dimensions{Width: 1080, Height: 1920}, 4.25)
	require.NoError(t, err)

	calls := runner.CallsMatching("tpad=stop_mode=clone:stop_duration=4.250")
	require.Len(t, calls, 1)
	assert.True(t, strings.Contains(calls[0].Joined(), "-t 4.250"))

	d, err := ff.Duration(context.Background(), out)
	require.NoError(t, err)
	assert.InDelta(t, 4.25, d, 0.001)
}

func TestConcatAudioSumsInputs(t *testing.T) {
	dir := t.TempDir()
	runner := mediatest.NewRunner()
	runner.SetDuration("a.wav", 1.5)
	runner.SetDuration("b.wav", 2.0)
	ff := media.NewFFmpeg(runner, media.Options{})
	out := filepath.Join(dir, "joined.wav")

	require.NoError(t, ff.ConcatAudio(context.Background(), []string{"a.wav", "b.wav"}, out))

	d, err := ff.Duration(context.Background(), out)
	require.NoError(t, err)
	assert.InDelta(t, 3.5, d, 0.001)
}
