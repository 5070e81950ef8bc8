package config

import (
	"fmt"

	"github.com/Netflix/go-env"
)

type Config struct {
	DatabaseDSN string `env:"DATABASE_DSN,required=true"`
	RabbitMQURL string `env:"RABBITMQ_URL,required=true"`
	RedisURL    string `env:"REDIS_URL,required=true"`

	PushGatewayURL  string `env:"PUSH_GATEWAY_URL"`
	SMSGatewayURL   string `env:"SMS_GATEWAY_URL"`
	EmailGatewayURL string `env:"EMAIL_GATEWAY_URL"`

	// Fixed-window rate limits; the window is one hour.
	SMSLimitPerUser     int `env:"SMS_LIMIT_PER_USER,default=5"`
	SMSLimitGlobal      int `env:"SMS_LIMIT_GLOBAL,default=100"`
	EmailLimitPerUser   int `env:"EMAIL_LIMIT_PER_USER,default=20"`
	EmailLimitGlobal    int `env:"EMAIL_LIMIT_GLOBAL,default=2000"`
	PushLimitPerUser    int `env:"PUSH_LIMIT_PER_USER,default=100"`
	PushLimitGlobal     int `env:"PUSH_LIMIT_GLOBAL,default=10000"`
	RateLimitWindowSecs int `env:"RATE_LIMIT_WINDOW_SECS,default=3600"`

	PushBatchSize  int `env:"PUSH_BATCH_SIZE,default=100"`
	EmailBatchSize int `env:"EMAIL_BATCH_SIZE,default=50"`
	SMSBatchSize   int `env:"SMS_BATCH_SIZE,default=25"`
	InAppBatchSize int `env:"IN_APP_BATCH_SIZE,default=200"`

	SenderTimeoutSecs int `env:"SENDER_TIMEOUT_SECS,default=15"`
	MaxAttempts       int `env:"MAX_ATTEMPTS,default=5"`
	BulkMaxAttempts   int `env:"BULK_MAX_ATTEMPTS,default=3"`

	WorkerConcurrency int    `env:"WORKER_CONCURRENCY,default=16"`
	ScanIntervalSecs  int    `env:"SCAN_INTERVAL_SECS,default=5"`
	ScanLimit         int    `env:"SCAN_LIMIT,default=100"`
	DeadLetterTTLDays int    `env:"DEAD_LETTER_TTL_DAYS,default=30"`
	CleanupSchedule   string `env:"CLEANUP_SCHEDULE,default=0 3 * * *"`

	APIPort  int    `env:"API_PORT,default=8080"`
	LogLevel string `env:"LOG_LEVEL,default=info"`
}

func Load() (*Config, error) {
	var cfg Config
	_, err := env.UnmarshalFromEnviron(&cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	return &cfg, nil
}
