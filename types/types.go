package types

import (
	"sync"
	"time"
)

// Category names understood by the planner.
const (
	CategoryStandard = "Standard"
	CategoryTop5     = "Top5"
)

// JobStatus is the lifecycle state of a GenerationJob.
type JobStatus string

const (
	JobPending   JobStatus = "pending"
	JobRunning   JobStatus = "running"
	JobSucceeded JobStatus = "succeeded"
	JobFailed    JobStatus = "failed"
)

// GenerationJob is one request to produce a finished video
type GenerationJob struct {
	ID              string         `json:"id"`
	OwnerID         string         `json:"owner_id"`
	ScheduleID      string         `json:"schedule_id,omitempty"`
	Category        string         `json:"category"`
	DurationSeconds float64        `json:"duration_seconds"`
	AspectRatio     string         `json:"aspect_ratio"`
	Language        string         `json:"language"`
	Country         string         `json:"country"`
	Topic           string         `json:"topic"`
	VoiceID         string         `json:"voice_id,omitempty"`
	MusicTerm       string         `json:"music_term,omitempty"`
	Publish         bool           `json:"publish"`
	PublishAt       *time.Time     `json:"publish_at,omitempty"`
	Status          JobStatus      `json:"status"`
	CreatedAt       time.Time      `json:"created_at"`
	CompletedAt     *time.Time     `json:"completed_at,omitempty"`
	Error           string         `json:"error,omitempty"`
	MediaPath       string         `json:"media_path,omitempty"`
	PublicURL       string         `json:"public_url,omitempty"`
	Metadata        *VideoMetadata `json:"metadata,omitempty"`
}

// Terminal reports whether the job has left the running state for good.
func (j *GenerationJob) Terminal() bool {
	return j.Status == JobSucceeded || j.Status == JobFailed
}

// DedupeKey identifies the job in the queue's in-flight set. Scheduled jobs
// dedupe on their schedule so one entry never has two runs queued.
func (j *GenerationJob) DedupeKey() string {
	if j.ScheduleID != "" {
		return "schedule:" + j.ScheduleID
	}
	return "job:" + j.ID
}

// SegmentKind tags the role a segment plays in the video.
type SegmentKind string

const (
	SegmentIntro     SegmentKind = "intro"
	SegmentContent   SegmentKind = "content"
	SegmentCountdown SegmentKind = "countdown"
	SegmentTail      SegmentKind = "tail"
)

// Tier is one level of the clip fallback chain.
type Tier string

const (
	TierGenerative    Tier = "generative"
	TierGenerativeAlt Tier = "generative_alt"
	TierAnimatedStill Tier = "animated_still"
	TierPlaceholder   Tier = "placeholder"
)

// Segment is one timed slice of the final video
type Segment struct {
	Index        int         `json:"index"`
	Kind         SegmentKind `json:"kind"`
	Rank         int         `json:"rank,omitempty"`
	Duration     float64     `json:"duration"`
	WordBudget   int         `json:"word_budget"`
	Text         string      `json:"text"`
	Utterances   []string    `json:"utterances,omitempty"`
	Label        string      `json:"label,omitempty"`
	MotionPrompt string      `json:"motion_prompt,omitempty"`
	Hero         bool        `json:"hero,omitempty"`
	AssetIndex   *int        `json:"asset_index,omitempty"`
	Tier         Tier        `json:"tier,omitempty"`
	Clip         *Clip       `json:"clip,omitempty"`
	AudioFile    string      `json:"audio_file,omitempty"`
}

// Clip is the rendered video for one segment.
type Clip struct {
	Path     string  `json:"path"`
	Duration float64 `json:"duration"`
	Tier     Tier    `json:"tier"`
	AssetURL string  `json:"asset_url,omitempty"`
}

// Reachability of a visual asset.
type Reachability string

const (
	ReachUnchecked   Reachability = "unchecked"
	ReachReachable   Reachability = "reachable"
	ReachUnreachable Reachability = "unreachable"
)

// Usage of a visual asset within a job.
type Usage string

const (
	UsageAvailable  Usage = "available"
	UsageStaticOnly Usage = "static-only"
	UsageBanned     Usage = "banned"
)

// VisualAsset is a validated image usable as clip source material
type VisualAsset struct {
	SourceURL    string       `json:"source_url"`
	CDNURL       string       `json:"cdn_url"`
	Aspect       string       `json:"aspect"`
	Width        int          `json:"width"`
	Height       int          `json:"height"`
	Title        string       `json:"title"`
	Score        float64      `json:"score"`
	Reachability Reachability `json:"reachability"`
	Usage        Usage        `json:"usage"`
}

// URL returns the best URL for fetching the asset.
func (a *VisualAsset) URL() string {
	if a.CDNURL != "" {
		return a.CDNURL
	}
	return a.SourceURL
}

// VideoMetadata holds the publish metadata for a finished video
type VideoMetadata struct {
	Title       string     `json:"title"`
	Description string     `json:"description"`
	Tags        []string   `json:"tags"`
	CategoryID  string     `json:"category_id"`
	Visibility  string     `json:"visibility"`
	PublishAt   *time.Time `json:"publish_at,omitempty"`
}

// JobContext carries the job-scoped mutable sets shared by every segment
// of one job. It is safe for concurrent use.
type JobContext struct {
	JobID string

	mu          sync.Mutex
	banned      map[string]string
	usedStatic  map[string]bool
	unreachable map[string]bool
}

// NewJobContext returns an empty context for one job.
func NewJobContext(jobID string) *JobContext {
	return &JobContext{
		JobID:       jobID,
		banned:      make(map[string]string),
		usedStatic:  make(map[string]bool),
		unreachable: make(map[string]bool),
	}
}

// Ban excludes an asset from generative tiers for the rest of the job.
func (c *JobContext) Ban(url, reason string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.banned[url] = reason
}

// Banned reports whether url may not be sent to a generative provider.
func (c *JobContext) Banned(url string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.banned[url]
	return ok
}

// MarkUnreachable records that url could not be fetched.
func (c *JobContext) MarkUnreachable(url string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.unreachable[url] = true
}

// Unreachable reports whether url failed to fetch earlier in the job.
func (c *JobContext) Unreachable(url string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.unreachable[url]
}

// ClaimStatic marks url as used for an animated still. It returns false
// when another segment already claimed it.
func (c *JobContext) ClaimStatic(url string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.usedStatic[url] {
		return false
	}
	c.usedStatic[url] = true
	return true
}

// UsedStatic reports whether url already backs an animated still.
func (c *JobContext) UsedStatic(url string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.usedStatic[url]
}

// UsageOf derives the usage state of an asset from the job sets.
func (c *JobContext) UsageOf(url string) Usage {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.banned[url]; ok {
		return UsageBanned
	}
	if c.usedStatic[url] {
		return UsageStaticOnly
	}
	return UsageAvailable
}

// JobResult summarises a finished job.
type JobResult struct {
	JobID     string         `json:"job_id"`
	MediaPath string         `json:"media_path"`
	PublicURL string         `json:"public_url,omitempty"`
	Segments  []Segment      `json:"segments"`
	Metadata  *VideoMetadata `json:"metadata,omitempty"`
}
