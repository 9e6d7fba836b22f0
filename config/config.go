package config

import (
	"os"
	"time"

	"github.com/cockroachdb/errors"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Research  ResearchConfig  `yaml:"research"`
	Timing    TimingConfig    `yaml:"timing"`
	Script    ScriptConfig    `yaml:"script"`
	LLM       LLMConfig       `yaml:"llm"`
	Visuals   VisualsConfig   `yaml:"visuals"`
	Clips     ClipsConfig     `yaml:"clips"`
	Audio     AudioConfig     `yaml:"audio"`
	Render    RenderConfig    `yaml:"render"`
	Metadata  MetadataConfig  `yaml:"metadata"`
	Upload    UploadConfig    `yaml:"upload"`
	Scheduler SchedulerConfig `yaml:"scheduler"`
	Queue     QueueConfig     `yaml:"queue"`
	Store     StoreConfig     `yaml:"store"`
	Server    ServerConfig    `yaml:"server"`
	Paths     PathsConfig     `yaml:"paths"`
	Pipeline  PipelineConfig  `yaml:"pipeline"`

	// Env holds secrets. It is never read from YAML.
	Env Env `yaml:"-"`
}

type ResearchConfig struct {
	Subreddits       map[string][]string `yaml:"subreddits"`
	DefaultSubs      []string            `yaml:"default_subreddits"`
	MinRedditScore   int                 `yaml:"min_reddit_score"`
	MaxStoriesToEval int                 `yaml:"max_stories_to_evaluate"`
	NewsFeedURL      string              `yaml:"news_feed_url"`
}

type TimingConfig struct {
	IntroSeconds         float64            `yaml:"intro_seconds"`
	MinSegmentSeconds    float64            `yaml:"min_segment_seconds"`
	ChunkSeconds         float64            `yaml:"chunk_seconds"`
	CountdownItems       int                `yaml:"countdown_items"`
	TailMinSeconds       float64            `yaml:"tail_min_seconds"`
	TailMaxSeconds       float64            `yaml:"tail_max_seconds"`
	TailFactor           float64            `yaml:"tail_factor"`
	MaxToleranceSeconds  float64            `yaml:"max_tolerance_seconds"`
	CTAMinWords          int                `yaml:"cta_min_words"`
	PauseSeconds         float64            `yaml:"pause_seconds"`
	TailPauseSeconds     float64            `yaml:"tail_pause_seconds"`
	MinScale             float64            `yaml:"min_scale"`
	MaxScale             float64            `yaml:"max_scale"`
	ResidualLimitSeconds float64            `yaml:"residual_limit_seconds"`
	DefaultTotalSeconds  float64            `yaml:"default_total_seconds"`
	WordsPerSecond       map[string]float64 `yaml:"words_per_second"`
	DefaultWPS           float64            `yaml:"default_words_per_second"`
}

type ScriptConfig struct {
	OverBudgetRatio float64 `yaml:"over_budget_ratio"`
}

type LLMConfig struct {
	OpenAIModel string        `yaml:"openai_model"`
	GeminiModel string        `yaml:"gemini_model"`
	Temperature float64       `yaml:"temperature"`
	JSONRetries int           `yaml:"json_retries"`
	MaxRetries  int           `yaml:"max_retries"`
	Timeout     time.Duration `yaml:"timeout"`
}

type VisualsConfig struct {
	MaxPerHost          int                 `yaml:"max_per_host"`
	MinTopicMatches     int                 `yaml:"min_topic_matches"`
	TopicWeight         float64             `yaml:"topic_weight"`
	MegapixelWeight     float64             `yaml:"megapixel_weight"`
	MegapixelCap        float64             `yaml:"megapixel_cap"`
	AspectPenalty       float64             `yaml:"aspect_penalty"`
	OrientationPenalty  float64             `yaml:"orientation_penalty"`
	DomainBonus         float64             `yaml:"domain_bonus"`
	KnownGoodDomains    []string            `yaml:"known_good_domains"`
	ThumbnailHosts      []string            `yaml:"thumbnail_hosts"`
	Aliases             map[string][]string `yaml:"aliases"`
	Parallelism         int                 `yaml:"parallelism"`
	ReachabilityRPS     float64             `yaml:"reachability_rps"`
	RequestTimeout      time.Duration       `yaml:"request_timeout"`
	MaxDownloadBytes    int64               `yaml:"max_download_bytes"`
	DownsizeMaxEdge     int                 `yaml:"downsize_max_edge"`
	WebPQuality         float32             `yaml:"webp_quality"`
	StagingBucket       string              `yaml:"staging_bucket"`
	CandidatesPerSearch int64               `yaml:"candidates_per_search"`
	PromptFallback      bool                `yaml:"prompt_fallback"`
}

type ClipsConfig struct {
	Provider        string        `yaml:"provider"`
	KlingBaseURL    string        `yaml:"kling_base_url"`
	KlingModel      string        `yaml:"kling_model"`
	HeroSegments    int           `yaml:"hero_segments"`
	MaxPollAttempts int           `yaml:"max_poll_attempts"`
	PollInterval    time.Duration `yaml:"poll_interval"`
	NegativePrompt  string        `yaml:"negative_prompt"`
	KenBurnsZoom    float64       `yaml:"ken_burns_zoom"`
	PlaceholderHex  string        `yaml:"placeholder_color"`
	SubmitRPS       float64       `yaml:"submit_rps"`
}

// VoiceMapping pairs equivalent voices on the primary and secondary TTS
// providers for one language.
type VoiceMapping struct {
	Primary   string `yaml:"primary"`
	Secondary string `yaml:"secondary"`
	Rate      string `yaml:"rate"`
}

// VoiceTable maps language codes to voice mappings.
type VoiceTable map[string]VoiceMapping

// Lookup returns the mapping for lang, falling back to "en".
func (t VoiceTable) Lookup(lang string) VoiceMapping {
	if v, ok := t[lang]; ok {
		return v
	}
	return t["en"]
}

type AudioConfig struct {
	Voices               VoiceTable `yaml:"voices"`
	TTSBinary            string     `yaml:"tts_binary"`
	Retries              int        `yaml:"retries"`
	ToleranceSeconds     float64    `yaml:"tolerance_seconds"`
	DefaultMaxTempo      float64    `yaml:"default_max_tempo"`
	CountdownMaxTempo    float64    `yaml:"countdown_max_tempo"`
	MaxPadRatio          float64    `yaml:"max_pad_ratio"`
	EnumeratedGapSeconds float64    `yaml:"enumerated_gap_seconds"`
	SampleRate           int        `yaml:"sample_rate"`
	NarrationGain        float64    `yaml:"narration_gain"`
	MusicGain            float64    `yaml:"music_gain"`
	NarrationOnlyGain    float64    `yaml:"narration_only_gain"`
	JamendoBaseURL       string     `yaml:"jamendo_base_url"`
	MusicLibrary         string     `yaml:"music_library"`
	MusicTags            string     `yaml:"music_tags"`
}

type RenderConfig struct {
	FPS          int     `yaml:"fps"`
	FadeFraction float64 `yaml:"fade_fraction"`
	FadeFloor    float64 `yaml:"fade_floor_seconds"`
	Preset       string  `yaml:"preset"`
	CRF          int     `yaml:"crf"`
	AudioBitrate string  `yaml:"audio_bitrate"`
}

type MetadataConfig struct {
	TitleMaxChars     int      `yaml:"title_max_chars"`
	TagsCount         int      `yaml:"tags_count"`
	YouTubeCategoryID string   `yaml:"youtube_category_id"`
	Hashtags          []string `yaml:"hashtags"`
}

type UploadConfig struct {
	Visibility        string `yaml:"visibility"`
	NotifySubscribers bool   `yaml:"notify_subscribers"`
	MadeForKids       bool   `yaml:"made_for_kids"`
	DefaultLanguage   string `yaml:"default_language"`
}

type SchedulerConfig struct {
	PollInterval time.Duration `yaml:"poll_interval"`
}

type QueueConfig struct {
	Backend      string        `yaml:"backend"`
	Key          string        `yaml:"key"`
	InFlightKey  string        `yaml:"inflight_key"`
	ClaimTTL     time.Duration `yaml:"claim_ttl"`
	PollInterval time.Duration `yaml:"poll_interval"`
}

type StoreConfig struct {
	Backend        string `yaml:"backend"`
	JobsTable      string `yaml:"jobs_table"`
	SchedulesTable string `yaml:"schedules_table"`
}

type ServerConfig struct {
	Addr string `yaml:"addr"`
}

type PathsConfig struct {
	Work   string `yaml:"work"`
	Output string `yaml:"output"`
}

type PipelineConfig struct {
	Parallelism int  `yaml:"parallelism"`
	KeepWorkDir bool `yaml:"keep_work_dir"`
}

// Load reads config.yaml on top of the defaults. A missing file is not an
// error; every field has a default.
func Load(path string) (*Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, os.ErrNotExist):
	case err != nil:
		return nil, errors.Wrapf(err, "read config %s", path)
	default:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, errors.Wrapf(err, "parse config %s", path)
		}
	}
	cfg.Env = LoadEnv()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if c.Timing.MinScale <= 0 || c.Timing.MaxScale < c.Timing.MinScale {
		return errors.Newf("timing: invalid scale bounds [%v, %v]", c.Timing.MinScale, c.Timing.MaxScale)
	}
	if c.Pipeline.Parallelism < 1 {
		return errors.New("pipeline.parallelism must be at least 1")
	}
	switch c.Queue.Backend {
	case "memory", "redis":
	default:
		return errors.Newf("queue.backend %q: want memory or redis", c.Queue.Backend)
	}
	switch c.Store.Backend {
	case "memory", "supabase":
	default:
		return errors.Newf("store.backend %q: want memory or supabase", c.Store.Backend)
	}
	if c.Queue.Backend == "redis" && c.Env.RedisURL == "" {
		return errors.New("queue.backend is redis but REDIS_URL is not set")
	}
	if c.Store.Backend == "supabase" && (c.Env.SupabaseURL == "" || c.Env.SupabaseServiceKey == "") {
		return errors.New("store.backend is supabase but SUPABASE_URL or SUPABASE_SERVICE_KEY is not set")
	}
	return nil
}
