package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all configuration for the subtitler server.
type Config struct {
	Server    ServerConfig
	Database  DatabaseConfig
	Redis     RedisConfig
	Media     MediaConfig
	STT       STTConfig
	Tools     ToolsConfig
	Notify    NotifyConfig
	Runner    RunnerConfig
	Auth      AuthConfig
	RateLimit RateLimitConfig
}

type ServerConfig struct {
	Port      int
	Env       string
	PublicURL string
}

type DatabaseConfig struct {
	Backend         string
	URL             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	MigrationsDir   string
}

type RedisConfig struct {
	URL string
}

// MediaConfig controls where job files live. DownloadDir holds per-job
// temporary files; MediaDir keeps uploaded originals for playback.
type MediaConfig struct {
	DownloadDir    string
	MediaDir       string
	MaxUploadBytes int64
}

type STTConfig struct {
	Provider       string
	Language       string
	CeilingBytes   int64
	SegmentSeconds float64
	ReducedBitrate string
	Timeout        time.Duration
	OpenAI         OpenAIConfig
	WhisperCPP     WhisperCPPConfig
}

type OpenAIConfig struct {
	APIKey  string
	BaseURL string
	Model   string
}

type WhisperCPPConfig struct {
	BinaryPath string
	ModelPath  string
}

// ToolsConfig names the external binaries and the timeout applied to each
// invocation shape.
type ToolsConfig struct {
	FFmpegPath       string
	FFprobePath      string
	YTDLPPath        string
	ProbeTimeout     time.Duration
	TranscodeTimeout time.Duration
	SplitTimeout     time.Duration
	DownloadTimeout  time.Duration
}

type NotifyConfig struct {
	Timeout        time.Duration
	TelegramToken  string
	TelegramChatID string
	NATSURL        string
	NATSSubject    string
}

type RunnerConfig struct {
	Workers   int
	QueueSize int
}

type AuthConfig struct {
	APIKeyHash string
}

type RateLimitConfig struct {
	RequestsPerMinute int
}

var validProviders = map[string]bool{
	"openai":     true,
	"whispercpp": true,
}

var validBackends = map[string]bool{
	"postgres": true,
	"memory":   true,
}

// Load reads configuration from environment variables and returns a validated Config.
// Returns an error with a descriptive message if any required value is missing or invalid.
func Load() (*Config, error) {
	cfg := &Config{
		Server: ServerConfig{
			Port:      envInt("PORT", 9899),
			Env:       envString("APP_ENV", "development"),
			PublicURL: strings.TrimRight(envString("APP_URL", "http://localhost:9899"), "/"),
		},
		Database: DatabaseConfig{
			Backend:         envString("STORE_BACKEND", "postgres"),
			URL:             os.Getenv("DATABASE_URL"),
			MaxOpenConns:    envInt("DATABASE_MAX_OPEN_CONNS", 25),
			MaxIdleConns:    envInt("DATABASE_MAX_IDLE_CONNS", 5),
			ConnMaxLifetime: envDuration("DATABASE_CONN_MAX_LIFETIME", 5*time.Minute),
			MigrationsDir:   envString("MIGRATIONS_DIR", "migrations"),
		},
		Redis: RedisConfig{
			URL: os.Getenv("REDIS_URL"),
		},
		Media: MediaConfig{
			DownloadDir:    envString("DOWNLOAD_DIR", "downloads"),
			MediaDir:       envString("MEDIA_DIR", "media"),
			MaxUploadBytes: envInt64("MAX_UPLOAD_MB", 500) * 1024 * 1024,
		},
		STT: STTConfig{
			Provider:       envString("STT_PROVIDER", "openai"),
			Language:       envString("STT_LANGUAGE", "ko"),
			CeilingBytes:   envInt64("STT_CEILING_BYTES", 24*1024*1024),
			SegmentSeconds: float64(envInt("STT_SEGMENT_SECONDS", 600)),
			ReducedBitrate: envString("STT_REDUCED_BITRATE", "64k"),
			Timeout:        envDuration("STT_TIMEOUT", 10*time.Minute),
			OpenAI: OpenAIConfig{
				APIKey:  os.Getenv("OPENAI_API_KEY"),
				BaseURL: strings.TrimRight(envString("OPENAI_BASE_URL", "https://api.openai.com/v1"), "/"),
				Model:   envString("OPENAI_STT_MODEL", "whisper-1"),
			},
			WhisperCPP: WhisperCPPConfig{
				BinaryPath: envString("WHISPER_CPP_PATH", "whisper-cli"),
				ModelPath:  os.Getenv("WHISPER_MODEL_PATH"),
			},
		},
		Tools: ToolsConfig{
			FFmpegPath:       envString("FFMPEG_PATH", "ffmpeg"),
			FFprobePath:      envString("FFPROBE_PATH", "ffprobe"),
			YTDLPPath:        envString("YTDLP_PATH", "yt-dlp"),
			ProbeTimeout:     envDuration("PROBE_TIMEOUT", 30*time.Second),
			TranscodeTimeout: envDuration("TRANSCODE_TIMEOUT", 600*time.Second),
			SplitTimeout:     envDuration("SPLIT_TIMEOUT", 300*time.Second),
			DownloadTimeout:  envDuration("DOWNLOAD_TIMEOUT", 30*time.Minute),
		},
		Notify: NotifyConfig{
			Timeout:        envDuration("NOTIFY_TIMEOUT", 10*time.Second),
			TelegramToken:  os.Getenv("TELEGRAM_TOKEN"),
			TelegramChatID: os.Getenv("TELEGRAM_CHAT_ID"),
			NATSURL:        os.Getenv("NATS_URL"),
			NATSSubject:    envString("NATS_SUBJECT_PREFIX", "transcription.jobs"),
		},
		Runner: RunnerConfig{
			Workers:   envInt("WORKER_COUNT", 2),
			QueueSize: envInt("QUEUE_SIZE", 32),
		},
		Auth: AuthConfig{
			APIKeyHash: os.Getenv("API_KEY_HASH"),
		},
		RateLimit: RateLimitConfig{
			RequestsPerMinute: envInt("RATE_LIMIT_PER_MINUTE", 30),
		},
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) validate() error {
	if !validBackends[c.Database.Backend] {
		return fmt.Errorf("STORE_BACKEND must be one of postgres, memory; got %q", c.Database.Backend)
	}
	if c.Database.Backend == "postgres" && c.Database.URL == "" {
		return fmt.Errorf("DATABASE_URL is required when STORE_BACKEND is postgres")
	}

	if c.Redis.URL == "" {
		return fmt.Errorf("REDIS_URL is required")
	}

	if !strings.HasPrefix(c.Server.PublicURL, "http://") && !strings.HasPrefix(c.Server.PublicURL, "https://") {
		return fmt.Errorf("APP_URL must start with http:// or https://, got %q", c.Server.PublicURL)
	}

	if !validProviders[c.STT.Provider] {
		return fmt.Errorf("STT_PROVIDER must be one of openai, whispercpp; got %q", c.STT.Provider)
	}
	if c.STT.Provider == "openai" && c.STT.OpenAI.APIKey == "" {
		return fmt.Errorf("OPENAI_API_KEY is required when STT_PROVIDER is openai")
	}
	if c.STT.Provider == "whispercpp" && c.STT.WhisperCPP.ModelPath == "" {
		return fmt.Errorf("WHISPER_MODEL_PATH is required when STT_PROVIDER is whispercpp")
	}

	if c.STT.CeilingBytes <= 0 {
		return fmt.Errorf("STT_CEILING_BYTES must be positive, got %d", c.STT.CeilingBytes)
	}
	if c.STT.SegmentSeconds <= 0 {
		return fmt.Errorf("STT_SEGMENT_SECONDS must be positive, got %v", c.STT.SegmentSeconds)
	}

	if c.Runner.Workers <= 0 {
		return fmt.Errorf("WORKER_COUNT must be positive, got %d", c.Runner.Workers)
	}
	if c.Runner.QueueSize <= 0 {
		return fmt.Errorf("QUEUE_SIZE must be positive, got %d", c.Runner.QueueSize)
	}

	if c.Notify.Timeout <= 0 {
		return fmt.Errorf("NOTIFY_TIMEOUT must be positive, got %v", c.Notify.Timeout)
	}
	if (c.Notify.TelegramToken == "") != (c.Notify.TelegramChatID == "") {
		return fmt.Errorf("TELEGRAM_TOKEN and TELEGRAM_CHAT_ID must be set together")
	}

	return nil
}

func envString(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func envInt(key string, defaultVal int) int {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return defaultVal
	}
	return i
}

func envInt64(key string, defaultVal int64) int64 {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	i, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return defaultVal
	}
	return i
}

// envDuration accepts Go durations ("90s", "10m") and bare integers as seconds.
func envDuration(key string, defaultVal time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	if secs, err := strconv.Atoi(v); err == nil {
		return time.Duration(secs) * time.Second
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return defaultVal
	}
	return d
}
