package config

import (
	"fmt"
	"os"
	"time"

	"github.com/caarlos0/env/v6"
	"github.com/joho/godotenv"
)

// DevSigningKey is the JWT_SIGNING_KEY default. It is only accepted when
// AGEGATE_ENV is local.
const DevSigningKey = "dev-secret-key-change-in-production"

// Config is the full process configuration, parsed from the environment.
type Config struct {
	Server       Server
	RateLimit    RateLimit
	Verification Verification
	Redis        RedisConfig
	Postgres     Postgres
	AWS          AWS
	DynamoDB     DynamoDB
	S3           S3
	SNS          SNS
	Kafka        Kafka
	OCR          OCR
	Recaptcha    Recaptcha
}

// Server captures HTTP server level configuration.
type Server struct {
	Addr            string        `env:"AGEGATE_ADDR" envDefault:":8080"`
	Env             string        `env:"AGEGATE_ENV" envDefault:"local"`
	LogLevel        string        `env:"LOG_LEVEL" envDefault:"info"`
	RegulatedMode   bool          `env:"REGULATED_MODE" envDefault:"false"`
	JWTSigningKey   string        `env:"JWT_SIGNING_KEY" envDefault:"dev-secret-key-change-in-production"`
	JWTIssuer       string        `env:"JWT_ISSUER" envDefault:"agegate"`
	JWTAudience     string        `env:"JWT_AUDIENCE" envDefault:"agegate-admin"`
	ShutdownTimeout time.Duration `env:"SHUTDOWN_TIMEOUT" envDefault:"15s"`
	MaxUploadBytes  int64         `env:"MAX_UPLOAD_BYTES" envDefault:"23068672"`
	// TrustedProxies lists CIDRs allowed to set X-Forwarded-For.
	TrustedProxies []string `env:"TRUSTED_PROXIES" envSeparator:","`
}

// RateLimit configures the fixed-window limiter in front of submissions.
type RateLimit struct {
	Backend   string        `env:"RATE_LIMIT_BACKEND" envDefault:"memory"`
	Window    time.Duration `env:"RATE_LIMIT_WINDOW" envDefault:"60s"`
	Limit     int           `env:"RATE_LIMIT_MAX_REQUESTS" envDefault:"10"`
	HighWater int           `env:"RATE_LIMIT_HIGH_WATER" envDefault:"1000"`
	Disabled  bool          `env:"DISABLE_RATE_LIMITING" envDefault:"false"`
}

// Verification holds the decision policy.
type Verification struct {
	MinimumAge                 int           `env:"VERIFICATION_MIN_AGE" envDefault:"60"`
	BlurThreshold              float64       `env:"VERIFICATION_BLUR_THRESHOLD" envDefault:"100"`
	GatingEnabled              bool          `env:"VERIFICATION_GATING_ENABLED" envDefault:"true"`
	AllowResubmitAfterApproval bool          `env:"VERIFICATION_ALLOW_RESUBMIT_AFTER_APPROVAL" envDefault:"true"`
	SubjectLock                bool          `env:"VERIFICATION_SUBJECT_LOCK" envDefault:"true"`
	SubjectLockTTL             time.Duration `env:"VERIFICATION_SUBJECT_LOCK_TTL" envDefault:"2m"`
	MaxPhotoBytes              int64         `env:"VERIFICATION_MAX_PHOTO_BYTES" envDefault:"10485760"`
	MaxPhotoPixels             int           `env:"VERIFICATION_MAX_PHOTO_PIXELS" envDefault:"40000000"`
	StoreBackend               string        `env:"VERIFICATION_STORE" envDefault:"memory"`
	PhotoBackend               string        `env:"VERIFICATION_PHOTO_STORE" envDefault:"memory"`
	TokenHashCost              int           `env:"VERIFICATION_TOKEN_HASH_COST" envDefault:"10"`
}

// RedisConfig configures the shared Redis client. An empty URL disables Redis.
type RedisConfig struct {
	URL          string        `env:"REDIS_URL"`
	PoolSize     int           `env:"REDIS_POOL_SIZE" envDefault:"10"`
	MinIdleConns int           `env:"REDIS_MIN_IDLE_CONNS" envDefault:"2"`
	DialTimeout  time.Duration `env:"REDIS_DIAL_TIMEOUT" envDefault:"5s"`
	ReadTimeout  time.Duration `env:"REDIS_READ_TIMEOUT" envDefault:"3s"`
	WriteTimeout time.Duration `env:"REDIS_WRITE_TIMEOUT" envDefault:"3s"`
}

// Postgres configures the SQL database. An empty DSN disables it.
type Postgres struct {
	DSN             string        `env:"DATABASE_URL"`
	MaxOpenConns    int           `env:"DATABASE_MAX_OPEN_CONNS" envDefault:"10"`
	MaxIdleConns    int           `env:"DATABASE_MAX_IDLE_CONNS" envDefault:"5"`
	ConnMaxLifetime time.Duration `env:"DATABASE_CONN_MAX_LIFETIME" envDefault:"30m"`
}

// AWS holds the credentials shared by the DynamoDB, S3 and SNS clients.
// EndpointURL points every client at LocalStack when set.
type AWS struct {
	Region      string `env:"AWS_REGION" envDefault:"us-east-1"`
	AccessKeyID string `env:"AWS_ACCESS_KEY_ID"`
	SecretKey   string `env:"AWS_SECRET_ACCESS_KEY"`
	EndpointURL string `env:"AWS_ENDPOINT_URL"`
}

type DynamoDB struct {
	Table string `env:"DYNAMODB_SUBJECTS_TABLE" envDefault:"verification_subjects"`
}

type S3 struct {
	Bucket string `env:"S3_PHOTO_BUCKET" envDefault:"agegate-id-photos"`
	Prefix string `env:"S3_PHOTO_PREFIX" envDefault:"id-photos/"`
}

// SNS configures the alert topic. An empty ARN disables SNS alerts.
type SNS struct {
	AlertTopicARN string `env:"SNS_ALERT_TOPIC_ARN"`
	BufferSize    int    `env:"SNS_ALERT_BUFFER" envDefault:"64"`
}

// Kafka configures the audit topic. No brokers disables Kafka.
type Kafka struct {
	Brokers        []string      `env:"KAFKA_BROKERS" envSeparator:","`
	AuditTopic     string        `env:"KAFKA_AUDIT_TOPIC" envDefault:"agegate.audit"`
	RelayInterval  time.Duration `env:"AUDIT_OUTBOX_RELAY_INTERVAL" envDefault:"1s"`
	RelayBatchSize int           `env:"AUDIT_OUTBOX_RELAY_BATCH" envDefault:"100"`
}

// OCR configures the external text recognition service.
type OCR struct {
	URL             string        `env:"OCR_URL"`
	APIKey          string        `env:"OCR_API_KEY"`
	Timeout         time.Duration `env:"OCR_TIMEOUT" envDefault:"10s"`
	RequestsPerSec  float64       `env:"OCR_REQUESTS_PER_SECOND" envDefault:"5"`
	Burst           int           `env:"OCR_BURST" envDefault:"5"`
	BreakerFailures int           `env:"OCR_BREAKER_FAILURES" envDefault:"5"`
	BreakerCooldown time.Duration `env:"OCR_BREAKER_COOLDOWN" envDefault:"30s"`
}

// Recaptcha configures the bot-score oracle.
type Recaptcha struct {
	Enabled        bool          `env:"RECAPTCHA_ENABLED" envDefault:"false"`
	SecretKey      string        `env:"RECAPTCHA_SECRET_KEY"`
	VerifyURL      string        `env:"RECAPTCHA_VERIFY_URL" envDefault:"https://www.google.com/recaptcha/api/siteverify"`
	ScoreThreshold float64       `env:"RECAPTCHA_SCORE_THRESHOLD" envDefault:"0.5"`
	ExpectedAction string        `env:"RECAPTCHA_EXPECTED_ACTION" envDefault:"verify_id"`
	Timeout        time.Duration `env:"RECAPTCHA_TIMEOUT" envDefault:"5s"`
}

// FromEnv builds the configuration from environment variables. When
// AGEGATE_ENV is "local" a .env file in the working directory is loaded
// first if present.
func FromEnv() (*Config, error) {
	if os.Getenv("AGEGATE_ENV") == "" || os.Getenv("AGEGATE_ENV") == "local" {
		_ = godotenv.Load(".env")
	}
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	if c.RateLimit.Window <= 0 {
		return fmt.Errorf("RATE_LIMIT_WINDOW must be positive")
	}
	if c.RateLimit.Limit <= 0 {
		return fmt.Errorf("RATE_LIMIT_MAX_REQUESTS must be positive")
	}
	if c.Verification.MinimumAge <= 0 {
		return fmt.Errorf("VERIFICATION_MIN_AGE must be positive")
	}
	if c.RateLimit.Backend == "redis" && c.Redis.URL == "" {
		return fmt.Errorf("RATE_LIMIT_BACKEND=redis requires REDIS_URL")
	}
	if c.Verification.StoreBackend == "postgres" && c.Postgres.DSN == "" {
		return fmt.Errorf("VERIFICATION_STORE=postgres requires DATABASE_URL")
	}
	if c.Recaptcha.Enabled && c.Recaptcha.SecretKey == "" {
		return fmt.Errorf("RECAPTCHA_ENABLED requires RECAPTCHA_SECRET_KEY")
	}
	if c.Server.JWTSigningKey == "" {
		return fmt.Errorf("JWT_SIGNING_KEY must not be empty")
	}
	if c.Server.JWTSigningKey == DevSigningKey {
		if c.Server.RegulatedMode {
			return fmt.Errorf("REGULATED_MODE requires a non-default JWT_SIGNING_KEY")
		}
		if c.Server.Env != "local" {
			return fmt.Errorf("JWT_SIGNING_KEY must be set when AGEGATE_ENV is %q", c.Server.Env)
		}
	}
	return nil
}
