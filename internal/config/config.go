package config

import (
	"os"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

type Config struct {
	DatabaseURL string `env:"DATABASE_URL,required"`

	HTTPAddr     string        `env:"HTTP_ADDR" envDefault:":5000"`
	ReadTimeout  time.Duration `env:"HTTP_READ_TIMEOUT" envDefault:"60s"`
	WriteTimeout time.Duration `env:"HTTP_WRITE_TIMEOUT" envDefault:"10m"`
	IdleTimeout  time.Duration `env:"HTTP_IDLE_TIMEOUT" envDefault:"120s"`

	AllowedOrigins []string `env:"ALLOWED_ORIGINS" envSeparator:"," envDefault:"http://localhost:3000,http://localhost:5173"`
	StaticDir      string   `env:"STATIC_DIR"`
	LogLevel       string   `env:"LOG_LEVEL" envDefault:"info"`

	Admin AdminConfig
	Audio AudioConfig
	AI    AIConfig
	Media MediaConfig
	MQTT  MQTTConfig

	// RedisURL switches sessions and rate limiting to a shared Redis backend.
	RedisURL string `env:"REDIS_URL"`
}

type AdminConfig struct {
	PasswordHash string        `env:"ADMIN_PASSWORD_HASH"`
	SessionKey   string        `env:"SESSION_SECRET"`
	CookieSecure bool          `env:"SESSION_COOKIE_SECURE" envDefault:"false"`
	SessionTTL   time.Duration `env:"SESSION_TTL" envDefault:"2h"`
}

// AudioConfig bounds what the analysis pipeline accepts.
type AudioConfig struct {
	UploadDir          string        `env:"UPLOAD_DIR" envDefault:"./uploads"`
	MaxUploadBytes     int64         `env:"MAX_UPLOAD_BYTES" envDefault:"52428800"`
	MaxNormalizedBytes int64         `env:"MAX_NORMALIZED_BYTES" envDefault:"20971520"`
	MaxDuration        time.Duration `env:"MAX_AUDIO_DURATION" envDefault:"320s"`
	FFmpegPath         string        `env:"FFMPEG_PATH" envDefault:"ffmpeg"`
	FFprobePath        string        `env:"FFPROBE_PATH" envDefault:"ffprobe"`
	SweepInterval      time.Duration `env:"SWEEP_INTERVAL" envDefault:"10m"`
	SweepMaxAge        time.Duration `env:"SWEEP_MAX_AGE" envDefault:"1h"`
}

// AIConfig configures the OpenAI-compatible speech-to-text and chat endpoints.
type AIConfig struct {
	APIKey         string        `env:"GROQ_API_KEY,required"`
	BaseURL        string        `env:"AI_BASE_URL" envDefault:"https://api.groq.com/openai/v1"`
	STTModel       string        `env:"STT_MODEL" envDefault:"whisper-large-v3-turbo"`
	LLMModel       string        `env:"LLM_MODEL" envDefault:"llama-3.3-70b-versatile"`
	LLMTemperature float32       `env:"LLM_TEMPERATURE" envDefault:"0.3"`
	Timeout        time.Duration `env:"LLM_TIMEOUT" envDefault:"5m"`
	Sanitizer      string        `env:"GRADER_SANITIZER" envDefault:"ascii"`
}

// MediaConfig selects where sample recordings are hosted. S3 is used when a
// bucket is set, otherwise files land in Dir and are served under /media/.
type MediaConfig struct {
	Dir       string `env:"MEDIA_DIR" envDefault:"./media"`
	Bucket    string `env:"MEDIA_S3_BUCKET"`
	Endpoint  string `env:"MEDIA_S3_ENDPOINT"`
	Region    string `env:"MEDIA_S3_REGION" envDefault:"us-east-1"`
	AccessKey string `env:"MEDIA_S3_ACCESS_KEY"`
	SecretKey string `env:"MEDIA_S3_SECRET_KEY"`
	Prefix    string `env:"MEDIA_S3_PREFIX" envDefault:"necs_samples"`
	PublicURL string `env:"MEDIA_PUBLIC_URL"`
}

// S3Enabled reports whether S3 media hosting is configured.
func (m MediaConfig) S3Enabled() bool {
	return m.Bucket != ""
}

type MQTTConfig struct {
	BrokerURL   string `env:"MQTT_BROKER_URL"`
	ClientID    string `env:"MQTT_CLIENT_ID" envDefault:"necs"`
	Username    string `env:"MQTT_USERNAME"`
	Password    string `env:"MQTT_PASSWORD"`
	TopicPrefix string `env:"MQTT_TOPIC_PREFIX" envDefault:"necs"`
}

// Overrides holds CLI flag values that take priority over env vars.
type Overrides struct {
	EnvFile     string
	HTTPAddr    string
	LogLevel    string
	DatabaseURL string
	UploadDir   string
	StaticDir   string
}

// Load reads configuration from .env file, environment variables, and CLI overrides.
// Priority: CLI flags > environment variables > .env file > struct defaults.
func Load(overrides Overrides) (*Config, error) {
	envFile := overrides.EnvFile
	if envFile == "" {
		envFile = ".env"
	}
	if _, err := os.Stat(envFile); err == nil {
		_ = godotenv.Load(envFile)
	}

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, err
	}

	if overrides.HTTPAddr != "" {
		cfg.HTTPAddr = overrides.HTTPAddr
	}
	if overrides.LogLevel != "" {
		cfg.LogLevel = overrides.LogLevel
	}
	if overrides.DatabaseURL != "" {
		cfg.DatabaseURL = overrides.DatabaseURL
	}
	if overrides.UploadDir != "" {
		cfg.Audio.UploadDir = overrides.UploadDir
	}
	if overrides.StaticDir != "" {
		cfg.StaticDir = overrides.StaticDir
	}

	return cfg, nil
}
