package config

import "time"

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Research: ResearchConfig{
			Subreddits: map[string][]string{
				"Top5":     {"todayilearned", "interestingasfuck"},
				"Standard": {"news", "worldnews", "movies"},
			},
			DefaultSubs:      []string{"popular"},
			MinRedditScore:   200,
			MaxStoriesToEval: 25,
			NewsFeedURL:      "https://news.google.com/rss",
		},
		Timing: TimingConfig{
			IntroSeconds:         3,
			MinSegmentSeconds:    4,
			ChunkSeconds:         10,
			CountdownItems:       5,
			TailMinSeconds:       5,
			TailMaxSeconds:       6,
			TailFactor:           0.1,
			MaxToleranceSeconds:  3,
			CTAMinWords:          12,
			PauseSeconds:         0.4,
			TailPauseSeconds:     0.8,
			MinScale:             0.8,
			MaxScale:             1.25,
			ResidualLimitSeconds: 3,
			DefaultTotalSeconds:  30,
			WordsPerSecond: map[string]float64{
				"en": 2.5, "es": 2.7, "pt": 2.6, "fr": 2.6,
				"de": 2.2, "it": 2.6, "hi": 2.4, "id": 2.4,
			},
			DefaultWPS: 2.5,
		},
		Script: ScriptConfig{OverBudgetRatio: 1.25},
		LLM: LLMConfig{
			OpenAIModel: "gpt-4o-mini",
			GeminiModel: "gemini-1.5-flash",
			Temperature: 0.7,
			JSONRetries: 1,
			MaxRetries:  3,
			Timeout:     60 * time.Second,
		},
		Visuals: VisualsConfig{
			MaxPerHost:         3,
			MinTopicMatches:    1,
			TopicWeight:        2.0,
			MegapixelWeight:    1.0,
			MegapixelCap:       4.0,
			AspectPenalty:      2.0,
			OrientationPenalty: 1.5,
			DomainBonus:        1.0,
			KnownGoodDomains: []string{
				"upload.wikimedia.org", "apnews.com", "reuters.com",
				"bbc.co.uk", "nytimes.com", "cnn.com", "variety.com",
			},
			ThumbnailHosts: []string{
				"encrypted-tbn0.gstatic.com", "encrypted-tbn1.gstatic.com",
				"encrypted-tbn2.gstatic.com", "encrypted-tbn3.gstatic.com",
				"i.ytimg.com", "b.thumbs.redditmedia.com", "a.thumbs.redditmedia.com",
			},
			Aliases: map[string][]string{
				"oscar":  {"academy award", "academy awards"},
				"oscars": {"academy award", "academy awards"},
				"nfl":    {"super bowl"},
				"fed":    {"federal reserve"},
				"un":     {"united nations"},
			},
			Parallelism:         4,
			ReachabilityRPS:     5,
			RequestTimeout:      10 * time.Second,
			MaxDownloadBytes:    20 << 20,
			DownsizeMaxEdge:     1920,
			WebPQuality:         82,
			StagingBucket:       "staging",
			CandidatesPerSearch: 10,
			PromptFallback:      true,
		},
		Clips: ClipsConfig{
			Provider:        "kling",
			KlingBaseURL:    "https://api-singapore.klingai.com",
			KlingModel:      "kling-v1-6",
			HeroSegments:    2,
			MaxPollAttempts: 60,
			PollInterval:    5 * time.Second,
			NegativePrompt:  "text, watermark, logo, blurry, distorted faces",
			KenBurnsZoom:    1.12,
			PlaceholderHex:  "0x111111",
			SubmitRPS:       1,
		},
		Audio: AudioConfig{
			Voices: VoiceTable{
				"en": {Primary: "en-US-GuyNeural", Secondary: "en_US-ryan-high", Rate: "+8%"},
				"es": {Primary: "es-MX-JorgeNeural", Secondary: "es_MX-claude-high", Rate: "+5%"},
				"pt": {Primary: "pt-BR-AntonioNeural", Secondary: "pt_BR-faber-medium", Rate: "+5%"},
				"fr": {Primary: "fr-FR-HenriNeural", Secondary: "fr_FR-siwis-medium", Rate: "+5%"},
				"de": {Primary: "de-DE-ConradNeural", Secondary: "de_DE-thorsten-high", Rate: "+0%"},
				"hi": {Primary: "hi-IN-MadhurNeural", Secondary: "hi_IN-pratham-medium", Rate: "+0%"},
			},
			TTSBinary:            "edge-tts",
			Retries:              2,
			ToleranceSeconds:     0.08,
			DefaultMaxTempo:      1.1,
			CountdownMaxTempo:    1.2,
			MaxPadRatio:          0.5,
			EnumeratedGapSeconds: 0.35,
			SampleRate:           44100,
			NarrationGain:        1.0,
			MusicGain:            0.15,
			NarrationOnlyGain:    1.5,
			JamendoBaseURL:       "https://api.jamendo.com/v3.0",
			MusicLibrary:         "assets/music",
			MusicTags:            "assets/music/tags.json",
		},
		Render: RenderConfig{
			FPS:          30,
			FadeFraction: 0.25,
			FadeFloor:    0.15,
			Preset:       "veryfast",
			CRF:          23,
			AudioBitrate: "192k",
		},
		Metadata: MetadataConfig{
			TitleMaxChars:     100,
			TagsCount:         15,
			YouTubeCategoryID: "24",
			Hashtags:          []string{"#shorts"},
		},
		Upload: UploadConfig{
			Visibility:        "public",
			NotifySubscribers: true,
			DefaultLanguage:   "en",
		},
		Scheduler: SchedulerConfig{PollInterval: time.Minute},
		Queue: QueueConfig{
			Backend:      "memory",
			Key:          "shorts:jobs",
			InFlightKey:  "shorts:inflight",
			ClaimTTL:     6 * time.Hour,
			PollInterval: 5 * time.Second,
		},
		Store: StoreConfig{
			Backend:        "memory",
			JobsTable:      "generation_jobs",
			SchedulesTable: "schedule_entries",
		},
		Server:   ServerConfig{Addr: ":8080"},
		Paths:    PathsConfig{Work: "output/work", Output: "output"},
		Pipeline: PipelineConfig{Parallelism: 3},
	}
}
