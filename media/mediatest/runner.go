// Package mediatest provides a fake media.Runner that records invocations
// and simulates output files and their durations.
package mediatest

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"
	"sync"
)

// Call is one recorded invocation.
type Call struct {
	Name string
	Args []string
}

// Joined returns the call as a single command line.
func (c Call) Joined() string {
	return c.Name + " " + strings.Join(c.Args, " ")
}

// Runner fakes ffmpeg, ffprobe and TTS binaries. Output files are written
// with placeholder bytes; their durations follow the -t flag, the sum of
// concatenated inputs, or TextDuration for TTS.
type Runner struct {
	mu        sync.Mutex
	calls     []Call
	durations map[string]float64

	// DefaultDuration is returned by ffprobe for unknown paths.
	DefaultDuration float64
	// TextDuration sizes synthesized speech. Nil means one second per
	// five words.
	TextDuration func(text string) float64
	// Fail, when set, can fail any invocation.
	Fail func(name string, args []string) error
}

// NewRunner returns an empty fake.
func NewRunner() *Runner {
	return &Runner{durations: make(map[string]float64), DefaultDuration: 5}
}

// SetDuration fixes what ffprobe reports for path.
func (r *Runner) SetDuration(path string, seconds float64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.durations[path] = seconds
}

// DurationOf returns the simulated duration of path.
func (r *Runner) DurationOf(path string) float64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.durationLocked(path)
}

func (r *Runner) durationLocked(path string) float64 {
	if d, ok := r.durations[path]; ok {
		return d
	}
	return r.DefaultDuration
}

// Calls returns every recorded invocation.
func (r *Runner) Calls() []Call {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Call(nil), r.calls...)
}

// CallsMatching returns invocations whose command line contains substr.
func (r *Runner) CallsMatching(substr string) []Call {
	var out []Call
	for _, c := range r.Calls() {
		if strings.Contains(c.Joined(), substr) {
			out = append(out, c)
		}
	}
	return out
}

// Run implements media.Runner.
func (r *Runner) Run(_ context.Context, name string, args ...string) ([]byte, error) {
	r.mu.Lock()
	r.calls = append(r.calls, Call{Name: name, Args: append([]string(nil), args...)})
	fail := r.Fail
	r.mu.Unlock()

	if fail != nil {
		if err := fail(name, args); err != nil {
			return nil, err
		}
	}

	if strings.Contains(name, "ffprobe") {
		d := r.DurationOf(args[len(args)-1])
		return []byte(fmt.Sprintf("%.3f\n", d)), nil
	}
	if strings.Contains(name, "ffmpeg") {
		return nil, r.fakeFFmpeg(args)
	}
	return nil, r.fakeTTS(args)
}

func (r *Runner) fakeFFmpeg(args []string) error {
	out := args[len(args)-1]
	r.mu.Lock()
	defer r.mu.Unlock()

	var inputs []string
	var limit float64 = -1
	var concatList string
	isConcatFilter := false
	for i := 0; i < len(args)-1; i++ {
		switch args[i] {
		case "-i":
			inputs = append(inputs, args[i+1])
		case "-t":
			if v, err := strconv.ParseFloat(args[i+1], 64); err == nil {
				limit = v
			}
		case "-f":
			if args[i+1] == "concat" {
				for j := i; j < len(args)-1; j++ {
					if args[j] == "-i" {
						concatList = args[j+1]
						break
					}
				}
			}
		case "-filter_complex":
			isConcatFilter = strings.Contains(args[i+1], "concat=")
		}
	}

	var d float64
	switch {
	case limit >= 0:
		d = limit
	case concatList != "":
		for _, f := range readList(concatList) {
			d += r.durationLocked(f)
		}
	case isConcatFilter:
		for _, f := range inputs {
			d += r.durationLocked(f)
		}
	case len(inputs) > 0:
		d = r.durationLocked(inputs[0])
	}
	r.durations[out] = d
	return os.WriteFile(out, []byte("fake media"), 0o644)
}

func (r *Runner) fakeTTS(args []string) error {
	var text, out string
	for i := 0; i < len(args)-1; i++ {
		switch args[i] {
		case "--text":
			text = args[i+1]
		case "--write-media", "--output":
			out = args[i+1]
		}
	}
	if out == "" {
		return fmt.Errorf("fake tts: no output flag in %v", args)
	}
	d := float64(len(strings.Fields(text))) / 5
	if r.TextDuration != nil {
		d = r.TextDuration(text)
	}
	r.SetDuration(out, d)
	return os.WriteFile(out, []byte("fake speech"), 0o644)
}

func readList(path string) []string {
	f, err := os.Open(path)
	if err != nil {
		return nil
	}
	defer f.Close()
	var files []string
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		line = strings.TrimPrefix(line, "file '")
		line = strings.TrimSuffix(line, "'")
		if line != "" {
			files = append(files, strings.ReplaceAll(line, `'\''`, "'"))
		}
	}
	return files
}
