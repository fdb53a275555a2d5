package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
)

type Config struct {
	Port        string `env:"PORT" envDefault:"8080"`
	LogLevel    string `env:"LOG_LEVEL" envDefault:"info"`
	Environment string `env:"ENVIRONMENT" envDefault:"development"`

	S3Bucket    string        `env:"S3_BUCKET" envDefault:"filevault-uploads"`
	S3Region    string        `env:"AWS_REGION" envDefault:"us-east-1"`
	S3Endpoint  string        `env:"S3_ENDPOINT"`
	S3AccessKey string        `env:"AWS_ACCESS_KEY_ID"`
	S3SecretKey string        `env:"AWS_SECRET_ACCESS_KEY"`
	PresignTTL  time.Duration `env:"PRESIGN_TTL" envDefault:"1h"`

	MaxUploadBytes int64 `env:"MAX_UPLOAD_BYTES" envDefault:"52428800"`

	CognitoRegion     string `env:"COGNITO_REGION"`
	CognitoUserPoolID string `env:"COGNITO_USER_POOL_ID"`
	CognitoClientID   string `env:"COGNITO_CLIENT_ID"`

	PostgresUser     string `env:"POSTGRES_USER" envDefault:"filevault"`
	PostgresPassword string `env:"POSTGRES_PASSWORD" envDefault:"password"`
	PostgresHost     string `env:"POSTGRES_HOST" envDefault:"localhost"`
	PostgresPort     string `env:"POSTGRES_PORT" envDefault:"5432"`
	PostgresDatabase string `env:"POSTGRES_DATABASE" envDefault:"filevault"`
	PostgresSSLMode  string `env:"POSTGRES_SSL_MODE" envDefault:"disable"`

	RateLimit       int           `env:"RATE_LIMIT" envDefault:"100"`
	RateLimitWindow time.Duration `env:"RATE_LIMIT_WINDOW" envDefault:"1m"`
	UploadRateLimit int           `env:"UPLOAD_RATE_LIMIT" envDefault:"10"`

	CacheTTL time.Duration `env:"CACHE_TTL" envDefault:"60s"`

	CORSAllowedOrigins []string `env:"CORS_ALLOWED_ORIGINS" envDefault:"*" envSeparator:","`

	TracingEnabled bool `env:"TRACING_ENABLED" envDefault:"false"`
}

// Load reads the configuration from the environment.
func Load() (*Config, error) {
	cfg, err := env.ParseAs[Config]()
	if err != nil {
		return nil, fmt.Errorf("parse environment: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) Validate() error {
	var errs []error
	if c.S3Bucket == "" {
		errs = append(errs, errors.New("S3_BUCKET must not be empty"))
	}
	if (c.S3AccessKey == "") != (c.S3SecretKey == "") {
		errs = append(errs, errors.New("AWS_ACCESS_KEY_ID and AWS_SECRET_ACCESS_KEY must be set together"))
	}
	if c.CognitoUserPoolID == "" || c.CognitoClientID == "" {
		errs = append(errs, errors.New("COGNITO_USER_POOL_ID and COGNITO_CLIENT_ID are required"))
	}
	if c.MaxUploadBytes <= 0 {
		errs = append(errs, errors.New("MAX_UPLOAD_BYTES must be positive"))
	}
	if c.PresignTTL <= 0 {
		errs = append(errs, errors.New("PRESIGN_TTL must be positive"))
	}
	if c.RateLimitWindow <= 0 {
		errs = append(errs, errors.New("RATE_LIMIT_WINDOW must be positive"))
	}
	return errors.Join(errs...)
}

// CognitoIssuer is the token issuer for the configured user pool.
func (c *Config) CognitoIssuer() string {
	region := c.CognitoRegion
	if region == "" {
		region = c.S3Region
	}
	return fmt.Sprintf("https://cognito-idp.%s.amazonaws.com/%s", region, c.CognitoUserPoolID)
}

func (c *Config) PostgresDSN() string {
	return fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		c.PostgresHost, c.PostgresPort, c.PostgresUser, c.PostgresPassword, c.PostgresDatabase, c.PostgresSSLMode)
}
