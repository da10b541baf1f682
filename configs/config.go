package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v10"
)

type R2 struct {
	AccountID  string `env:"ACCOUNT_ID"`
	AccessKey  string `env:"ACCESS_KEY"`
	SecretKey  string `env:"SECRET_KEY"`
	BucketName string `env:"BUCKET_NAME"`
	PublicURL  string `env:"PUBLIC_URL"`
	// Endpoint overrides the R2 account endpoint, used for S3 compatible stores in development.
	Endpoint string `env:"ENDPOINT"`
}

type OAuthApp struct {
	ClientID     string `env:"CLIENT_ID"`
	ClientSecret string `env:"CLIENT_SECRET"`
	RedirectURI  string `env:"REDIRECT_URI"`
}

type Publishing struct {
	Concurrency      int           `env:"CONCURRENCY" envDefault:"4"`
	RetryMaxAttempts int           `env:"RETRY_MAX_ATTEMPTS" envDefault:"3"`
	RetryBaseDelay   time.Duration `env:"RETRY_BASE_DELAY" envDefault:"500ms"`
	RequestTimeout   time.Duration `env:"REQUEST_TIMEOUT" envDefault:"30s"`
	RateLimit        float64       `env:"RATE_LIMIT" envDefault:"5"`
	RateBurst        int           `env:"RATE_BURST" envDefault:"5"`
}

type Scheduler struct {
	Interval          time.Duration `env:"INTERVAL" envDefault:"1m"`
	BatchSize         int           `env:"BATCH_SIZE" envDefault:"100"`
	WorkerConcurrency int           `env:"WORKER_CONCURRENCY" envDefault:"10"`
	// StaleAfter is how long a post may stay processing before it is failed.
	StaleAfter time.Duration `env:"STALE_AFTER" envDefault:"30m"`
}

type Config struct {
	Port        string `env:"PORT" envDefault:"3000"`
	PostgresURI string `env:"POSTGRES_URI"`
	RedisURI    string `env:"REDIS_URI" envDefault:"localhost:6379"`
	FrontendURL string `env:"FRONTEND_URL" envDefault:"http://localhost:5173"`
	SecretKey   string `env:"SECRET_KEY"`
	CookieName  string `env:"COOKIE_NAME" envDefault:"postflow_session"`

	Google    OAuthApp `envPrefix:"GOOGLE_"`
	Facebook  OAuthApp `envPrefix:"FACEBOOK_"`
	Instagram OAuthApp `envPrefix:"INSTAGRAM_"`
	X         OAuthApp `envPrefix:"X_"`
	Pinterest OAuthApp `envPrefix:"PINTEREST_"`

	R2         R2         `envPrefix:"R2_"`
	Publishing Publishing `envPrefix:"PUBLISH_"`
	Scheduler  Scheduler  `envPrefix:"SCHEDULER_"`

	TokenRefreshWindow   time.Duration `env:"TOKEN_REFRESH_WINDOW" envDefault:"30m"`
	TokenRefreshInterval time.Duration `env:"TOKEN_REFRESH_INTERVAL" envDefault:"10m"`
	MaxUploadBytes       int64         `env:"MAX_UPLOAD_BYTES" envDefault:"10485760"`
	VisionAPIKey         string        `env:"GOOGLE_VISION_API_KEY"`
}

func LoadConfig() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	// AES-256 needs a 32 byte key for the stored platform tokens.
	if cfg.SecretKey != "" && len(cfg.SecretKey) != 32 {
		return nil, fmt.Errorf("SECRET_KEY must be 32 bytes, got %d", len(cfg.SecretKey))
	}

	return cfg, nil
}
