package media

import (
	"bytes"
	"context"
	"os/exec"

	"github.com/cockroachdb/errors"
)

// Runner executes external media tools. Tests swap in a fake.
type Runner interface {
	Run(ctx context.Context, name string, args ...string) ([]byte, error)
}

// ExecRunner runs binaries from PATH.
type ExecRunner struct{}

// Run executes name with args and returns stdout. On failure the tail of
// stderr is attached to the error as detail.
func (ExecRunner) Run(ctx context.Context, name string, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return stdout.Bytes(), errors.WithDetail(errors.Wrapf(err, "%s failed", name), tail(stderr.String(), 800))
	}
	return stdout.Bytes(), nil
}

func tail(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[len(s)-n:]
}
