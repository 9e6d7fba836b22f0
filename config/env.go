package config

import (
	"os"

	"github.com/joho/godotenv"
)

// Env holds credentials and endpoints that only ever come from the
// environment.
type Env struct {
	OpenAIKey           string
	GeminiKey           string
	KlingAccessKey      string
	KlingSecretKey      string
	GoogleCSEKey        string
	GoogleCSECX         string
	CloudinaryCloud     string
	JamendoClientID     string
	RedditClientID      string
	RedditClientSecret  string
	RedditUsername      string
	RedditPassword      string
	YouTubeClientID     string
	YouTubeClientSecret string
	YouTubeRefreshToken string
	SupabaseURL         string
	SupabaseServiceKey  string
	RedisURL            string
	TTSCommand          string
}

// LoadDotEnv loads .env files into the process environment. Missing files
// are ignored; production deployments set variables directly.
func LoadDotEnv(files ...string) {
	_ = godotenv.Load(files...)
}

// LoadEnv snapshots the environment.
func LoadEnv() Env {
	return Env{
		OpenAIKey:           os.Getenv("OPENAI_API_KEY"),
		GeminiKey:           os.Getenv("GEMINI_API_KEY"),
		KlingAccessKey:      os.Getenv("KLING_ACCESS_KEY"),
		KlingSecretKey:      os.Getenv("KLING_SECRET_KEY"),
		GoogleCSEKey:        os.Getenv("GOOGLE_CSE_KEY"),
		GoogleCSECX:         os.Getenv("GOOGLE_CSE_CX"),
		CloudinaryCloud:     os.Getenv("CLOUDINARY_CLOUD"),
		JamendoClientID:     os.Getenv("JAMENDO_CLIENT_ID"),
		RedditClientID:      os.Getenv("REDDIT_CLIENT_ID"),
		RedditClientSecret:  os.Getenv("REDDIT_CLIENT_SECRET"),
		RedditUsername:      os.Getenv("REDDIT_USERNAME"),
		RedditPassword:      os.Getenv("REDDIT_PASSWORD"),
		YouTubeClientID:     os.Getenv("YOUTUBE_CLIENT_ID"),
		YouTubeClientSecret: os.Getenv("YOUTUBE_CLIENT_SECRET"),
		YouTubeRefreshToken: os.Getenv("YOUTUBE_REFRESH_TOKEN"),
		SupabaseURL:         os.Getenv("SUPABASE_URL"),
		SupabaseServiceKey:  os.Getenv("SUPABASE_SERVICE_KEY"),
		RedisURL:            os.Getenv("REDIS_URL"),
		TTSCommand:          os.Getenv("TTS_COMMAND"),
	}
}

// HasYouTube reports whether upload credentials are configured.
func (e Env) HasYouTube() bool {
	return e.YouTubeClientID != "" && e.YouTubeClientSecret != "" && e.YouTubeRefreshToken != ""
}

// HasReddit reports whether script-app credentials are configured.
func (e Env) HasReddit() bool {
	return e.RedditClientID != "" && e.RedditClientSecret != ""
}
