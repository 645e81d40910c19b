package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/Netflix/go-env"
)

const (
	TransportWebhook = "webhook"
	TransportSMTP    = "smtp"

	RateLimitBackendRedis = "redis"
	RateLimitBackendLocal = "local"
)

type Config struct {
	DatabaseDSN string `env:"DATABASE_DSN,required=true"`
	RabbitMQURL string `env:"RABBITMQ_URL,required=true"`
	RedisURL    string `env:"REDIS_URL,required=true"`

	APIPort  int    `env:"API_PORT,default=8080"`
	LogLevel string `env:"LOG_LEVEL,default=info"`

	Transport          string  `env:"TRANSPORT,default=webhook"`
	WebhookURL         string  `env:"WEBHOOK_URL"`
	SMTPHost           string  `env:"SMTP_HOST"`
	SMTPPort           int     `env:"SMTP_PORT,default=587"`
	SMTPUsername       string  `env:"SMTP_USERNAME"`
	SMTPPassword       string  `env:"SMTP_PASSWORD"`
	SMTPFrom           string  `env:"SMTP_FROM"`
	SMTPSendPerSec     float64 `env:"SMTP_SEND_PER_SEC,default=10"`
	TemplateDir        string  `env:"TEMPLATE_DIR,default=templates"`
	TransportTimeoutMS int     `env:"TRANSPORT_TIMEOUT_MS,default=10000"`

	WorkerID               string `env:"WORKER_ID"`
	WorkerConcurrency      int    `env:"WORKER_CONCURRENCY,default=8"`
	DispatchBatchSize      int    `env:"DISPATCH_BATCH_SIZE,default=25"`
	DispatchPollIntervalMS int    `env:"DISPATCH_POLL_INTERVAL_MS,default=5000"`
	WorkerMetricsPort      int    `env:"WORKER_METRICS_PORT,default=9090"`

	LeaseTimeoutSec int    `env:"LEASE_TIMEOUT_SEC,default=600"`
	LeaseSweepSpec  string `env:"LEASE_SWEEP_SPEC,default=@every 1m"`

	MaxAttempts         int `env:"MAX_ATTEMPTS,default=3"`
	RetryBaseDelaySec   int `env:"RETRY_BASE_DELAY_SEC,default=60"`
	RetryMaxDelaySec    int `env:"RETRY_MAX_DELAY_SEC,default=3600"`
	RateLimitBackoffSec int `env:"RATE_LIMIT_BACKOFF_SEC,default=60"`
	PauseRecheckSec     int `env:"PAUSE_RECHECK_SEC,default=60"`
	ReleaseDelaySec     int `env:"RELEASE_DELAY_SEC,default=30"`

	RateLimitBackend string `env:"RATE_LIMIT_BACKEND,default=redis"`

	BlastConfirmThreshold int    `env:"BLAST_CONFIRM_THRESHOLD,default=200"`
	DefaultTimezone       string `env:"DEFAULT_TIMEZONE,default=America/Chicago"`

	RecipientEventsQueue string `env:"RECIPIENT_EVENTS_QUEUE,default=recipient.events"`
	JobEventsQueue       string `env:"JOB_EVENTS_QUEUE,default=email.job.events"`
}

func Load() (*Config, error) {
	var cfg Config
	_, err := env.UnmarshalFromEnviron(&cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks cross-field rules that struct tags cannot express.
func (c *Config) Validate() error {
	c.Transport = strings.ToLower(strings.TrimSpace(c.Transport))
	switch c.Transport {
	case TransportWebhook:
		if _, err := url.ParseRequestURI(strings.TrimSpace(c.WebhookURL)); err != nil {
			return fmt.Errorf("WEBHOOK_URL must be a valid URL when TRANSPORT=webhook")
		}
	case TransportSMTP:
		if strings.TrimSpace(c.SMTPHost) == "" || strings.TrimSpace(c.SMTPFrom) == "" {
			return fmt.Errorf("SMTP_HOST and SMTP_FROM are required when TRANSPORT=smtp")
		}
		if c.SMTPPort <= 0 {
			return fmt.Errorf("SMTP_PORT must be > 0")
		}
	default:
		return fmt.Errorf("TRANSPORT must be %q or %q, got %q", TransportWebhook, TransportSMTP, c.Transport)
	}

	c.RateLimitBackend = strings.ToLower(strings.TrimSpace(c.RateLimitBackend))
	if c.RateLimitBackend != RateLimitBackendRedis && c.RateLimitBackend != RateLimitBackendLocal {
		return fmt.Errorf("RATE_LIMIT_BACKEND must be %q or %q, got %q", RateLimitBackendRedis, RateLimitBackendLocal, c.RateLimitBackend)
	}

	positives := []struct {
		name  string
		value int
	}{
		{"WORKER_CONCURRENCY", c.WorkerConcurrency},
		{"DISPATCH_BATCH_SIZE", c.DispatchBatchSize},
		{"DISPATCH_POLL_INTERVAL_MS", c.DispatchPollIntervalMS},
		{"WORKER_METRICS_PORT", c.WorkerMetricsPort},
		{"TRANSPORT_TIMEOUT_MS", c.TransportTimeoutMS},
		{"LEASE_TIMEOUT_SEC", c.LeaseTimeoutSec},
		{"MAX_ATTEMPTS", c.MaxAttempts},
		{"RETRY_BASE_DELAY_SEC", c.RetryBaseDelaySec},
		{"RETRY_MAX_DELAY_SEC", c.RetryMaxDelaySec},
		{"RATE_LIMIT_BACKOFF_SEC", c.RateLimitBackoffSec},
		{"PAUSE_RECHECK_SEC", c.PauseRecheckSec},
		{"RELEASE_DELAY_SEC", c.ReleaseDelaySec},
		{"BLAST_CONFIRM_THRESHOLD", c.BlastConfirmThreshold},
	}
	for _, p := range positives {
		if p.value <= 0 {
			return fmt.Errorf("%s must be > 0, got %d", p.name, p.value)
		}
	}
	if c.RetryMaxDelaySec < c.RetryBaseDelaySec {
		return fmt.Errorf("RETRY_MAX_DELAY_SEC must be >= RETRY_BASE_DELAY_SEC")
	}
	if strings.TrimSpace(c.LeaseSweepSpec) == "" {
		return fmt.Errorf("LEASE_SWEEP_SPEC is required")
	}
	if _, err := time.LoadLocation(c.DefaultTimezone); err != nil {
		return fmt.Errorf("DEFAULT_TIMEZONE %q is not a valid IANA zone: %w", c.DefaultTimezone, err)
	}
	return nil
}

func (c *Config) TransportTimeout() time.Duration {
	return time.Duration(c.TransportTimeoutMS) * time.Millisecond
}

func (c *Config) DispatchPollInterval() time.Duration {
	return time.Duration(c.DispatchPollIntervalMS) * time.Millisecond
}

func (c *Config) LeaseTimeout() time.Duration {
	return time.Duration(c.LeaseTimeoutSec) * time.Second
}

func (c *Config) RetryBaseDelay() time.Duration {
	return time.Duration(c.RetryBaseDelaySec) * time.Second
}

func (c *Config) RetryMaxDelay() time.Duration {
	return time.Duration(c.RetryMaxDelaySec) * time.Second
}

func (c *Config) RateLimitBackoff() time.Duration {
	return time.Duration(c.RateLimitBackoffSec) * time.Second
}

func (c *Config) PauseRecheck() time.Duration {
	return time.Duration(c.PauseRecheckSec) * time.Second
}

// ReleaseDelay is how long a job handed back after a dispatch error waits.
func (c *Config) ReleaseDelay() time.Duration {
	return time.Duration(c.ReleaseDelaySec) * time.Second
}
