package clips

import (
	"context"

	"github.com/cockroachdb/errors"
)

var (
	// ErrContentRejected means the provider's safety filter refused the
	// input. The asset must not be sent to a generative tier again.
	ErrContentRejected = errors.New("content rejected by provider")
	// ErrPollTimeout means the provider did not finish within the attempt
	// budget.
	ErrPollTimeout = errors.New("generation poll timed out")
)

// SubmitRequest asks a provider for a short video.
type SubmitRequest struct {
	// ImageURL is empty for text-only generation.
	ImageURL       string
	Prompt         string
	NegativePrompt string
	Ratio          string
	Seconds        float64
}

// PollStatus is the state of a submitted task.
type PollStatus string

const (
	StatusPending   PollStatus = "pending"
	StatusSucceeded PollStatus = "succeeded"
	StatusFailed    PollStatus = "failed"
	StatusRejected  PollStatus = "rejected"
)

// PollResult is one status check.
type PollResult struct {
	Status   PollStatus
	VideoURL string
	Reason   string
}

// VideoProvider is a generative video service.
type VideoProvider interface {
	Name() string
	Submit(ctx context.Context, req SubmitRequest) (string, error)
	Poll(ctx context.Context, taskID string) (PollResult, error)
}
