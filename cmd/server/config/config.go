// Package config loads the server's per-concern settings from the
// environment.
package config

import (
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// ServerConfig holds listener and process-level settings.
type ServerConfig struct {
	HTTPAddr        string        `env:"HTTP_ADDR" envDefault:":8080"`
	GRPCAddr        string        `env:"GRPC_ADDR" envDefault:":50051"`
	AppEnv          string        `env:"APP_ENV" envDefault:"development"`
	LogLevel        string        `env:"LOG_LEVEL" envDefault:"info"`
	ShutdownTimeout time.Duration `env:"SHUTDOWN_TIMEOUT" envDefault:"10s"`
}

// RedisConfig holds Redis connection settings. An empty URL selects the
// in-process stores.
type RedisConfig struct {
	URL                string         `env:"URL"`
	DialTimeout        *time.Duration `env:"DIAL_TIMEOUT"`
	ReadTimeout        *time.Duration `env:"READ_TIMEOUT"`
	WriteTimeout       *time.Duration `env:"WRITE_TIMEOUT"`
	PoolSize           *int           `env:"POOL_SIZE"`
	MinIdleConns       *int           `env:"MIN_IDLE_CONNS"`
	MaxRetries         *int           `env:"MAX_RETRIES"`
	HealthcheckTimeout time.Duration  `env:"HEALTHCHECK_TIMEOUT" envDefault:"2s"`
	EnableOTel         bool           `env:"OTEL"`
	CallbackPrefix     string         `env:"CALLBACK_PREFIX" envDefault:"bookflow:callback"`

	TLSCAFile             string `env:"TLS_CA_FILE"`
	TLSCertFile           string `env:"TLS_CERT_FILE"`
	TLSKeyFile            string `env:"TLS_KEY_FILE"`
	TLSServerName         string `env:"TLS_SERVER_NAME"`
	TLSInsecureSkipVerify *bool  `env:"TLS_INSECURE_SKIP_VERIFY"`

	TLSConfig *tls.Config `env:"-"`
}

// GRPCConfig holds ingress rate limiting settings.
type GRPCConfig struct {
	RateLimitInterval time.Duration `env:"GRPC_RATE_LIMIT_INTERVAL" envDefault:"10ms"`
	RateLimitBurst    int           `env:"GRPC_RATE_LIMIT_BURST" envDefault:"50"`
}

// WebhookConfig holds the booking-confirmation endpoint settings.
type WebhookConfig struct {
	SecretName    string        `env:"WEBHOOK_SECRET_NAME" envDefault:"booking-webhook-secret"`
	MaxBodyBytes  int64         `env:"WEBHOOK_MAX_BODY_BYTES" envDefault:"131072"`
	TimestampSkew time.Duration `env:"WEBHOOK_TIMESTAMP_SKEW" envDefault:"300s"`
	CallbackTTL   time.Duration `env:"CALLBACK_TTL" envDefault:"72h"`
}

// SecretsConfig selects the parameter store backend.
type SecretsConfig struct {
	Backend  string        `env:"SECRETS_BACKEND" envDefault:"env"`
	Dir      string        `env:"SECRETS_DIR"`
	CacheTTL time.Duration `env:"SECRETS_CACHE_TTL" envDefault:"5m"`
}

// ProviderConfig holds downstream endpoints. Empty URLs select the stubs.
type ProviderConfig struct {
	PaymentURL      string        `env:"PAYMENT_PROVIDER_URL"`
	PaymentKeyName  string        `env:"PAYMENT_PROVIDER_KEY_NAME" envDefault:"payment-provider-api-key"`
	BookingURL      string        `env:"BOOKING_PROVIDER_URL"`
	BookingKeyName  string        `env:"BOOKING_PROVIDER_KEY_NAME" envDefault:"booking-provider-api-key"`
	OrchestratorURL string        `env:"ORCHESTRATOR_URL"`
	RequestTimeout  time.Duration `env:"PROVIDER_REQUEST_TIMEOUT" envDefault:"10s"`
}

// ResilienceConfig holds breaker and profile settings.
type ResilienceConfig struct {
	ProfilesFile     string `env:"SERVICE_PROFILES_FILE"`
	BreakerKeyPrefix string `env:"BREAKER_KEY_PREFIX" envDefault:"bookflow:breaker"`
}

// StorageConfig selects the ledger backend. An empty DatabaseURL keeps the
// ledger in memory.
type StorageConfig struct {
	DatabaseURL string `env:"DATABASE_URL"`
}

// LoadDotEnv loads variables from path, or from ./.env when path is empty,
// without overriding the real environment. A missing default file is not an
// error.
func LoadDotEnv(path string) error {
	explicit := path != ""
	if !explicit {
		path = ".env"
	}
	if err := godotenv.Load(path); err != nil {
		if !explicit && errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("load %s: %w", path, err)
	}
	return nil
}

func parse[T any]() (T, error) {
	var cfg T
	if err := env.Parse(&cfg); err != nil {
		return cfg, fmt.Errorf("parse env: %w", err)
	}
	return cfg, nil
}

// LoadServer reads listener settings from env.
func LoadServer() (ServerConfig, error) {
	cfg, err := parse[ServerConfig]()
	if err != nil {
		return cfg, err
	}
	if cfg.ShutdownTimeout < 0 {
		return cfg, errors.New("SHUTDOWN_TIMEOUT must be >= 0")
	}
	return cfg, nil
}

// LoadRedis reads Redis settings from REDIS_* env vars.
func LoadRedis() (RedisConfig, error) {
	var cfg RedisConfig
	if err := env.ParseWithOptions(&cfg, env.Options{Prefix: "REDIS_"}); err != nil {
		return cfg, fmt.Errorf("parse env: %w", err)
	}
	cfg.URL = strings.TrimSpace(cfg.URL)
	for name, d := range map[string]*time.Duration{
		"REDIS_DIAL_TIMEOUT":  cfg.DialTimeout,
		"REDIS_READ_TIMEOUT":  cfg.ReadTimeout,
		"REDIS_WRITE_TIMEOUT": cfg.WriteTimeout,
	} {
		if d != nil && *d < 0 {
			return cfg, fmt.Errorf("%s must be >= 0", name)
		}
	}
	for name, n := range map[string]*int{
		"REDIS_POOL_SIZE":      cfg.PoolSize,
		"REDIS_MIN_IDLE_CONNS": cfg.MinIdleConns,
		"REDIS_MAX_RETRIES":    cfg.MaxRetries,
	} {
		if n != nil && *n < 0 {
			return cfg, fmt.Errorf("%s must be >= 0", name)
		}
	}
	if cfg.HealthcheckTimeout < 0 {
		return cfg, errors.New("REDIS_HEALTHCHECK_TIMEOUT must be >= 0")
	}

	tlsConfig, err := cfg.loadTLS()
	if err != nil {
		return cfg, err
	}
	cfg.TLSConfig = tlsConfig
	return cfg, nil
}

// LoadGRPC reads gRPC ingress rate limit settings from env.
func LoadGRPC() (GRPCConfig, error) {
	cfg, err := parse[GRPCConfig]()
	if err != nil {
		return cfg, err
	}
	if cfg.RateLimitInterval < 0 {
		return cfg, errors.New("GRPC_RATE_LIMIT_INTERVAL must be >= 0")
	}
	if cfg.RateLimitBurst < 0 {
		return cfg, errors.New("GRPC_RATE_LIMIT_BURST must be >= 0")
	}
	return cfg, nil
}

// LoadWebhook reads webhook and continuation settings from env.
func LoadWebhook() (WebhookConfig, error) {
	cfg, err := parse[WebhookConfig]()
	if err != nil {
		return cfg, err
	}
	if strings.TrimSpace(cfg.SecretName) == "" {
		return cfg, errors.New("WEBHOOK_SECRET_NAME is required")
	}
	if cfg.MaxBodyBytes <= 0 {
		return cfg, errors.New("WEBHOOK_MAX_BODY_BYTES must be > 0")
	}
	if cfg.TimestampSkew < 0 {
		return cfg, errors.New("WEBHOOK_TIMESTAMP_SKEW must be >= 0")
	}
	if cfg.CallbackTTL < 0 {
		return cfg, errors.New("CALLBACK_TTL must be >= 0")
	}
	return cfg, nil
}

// LoadSecrets reads the parameter store settings from env.
func LoadSecrets() (SecretsConfig, error) {
	cfg, err := parse[SecretsConfig]()
	if err != nil {
		return cfg, err
	}
	if cfg.CacheTTL < 0 {
		return cfg, errors.New("SECRETS_CACHE_TTL must be >= 0")
	}
	return cfg, nil
}

// LoadProviders reads downstream endpoints from env.
func LoadProviders() (ProviderConfig, error) {
	cfg, err := parse[ProviderConfig]()
	if err != nil {
		return cfg, err
	}
	if cfg.RequestTimeout < 0 {
		return cfg, errors.New("PROVIDER_REQUEST_TIMEOUT must be >= 0")
	}
	return cfg, nil
}

// LoadResilience reads breaker and profile settings from env.
func LoadResilience() (ResilienceConfig, error) {
	return parse[ResilienceConfig]()
}

// LoadStorage reads the ledger backend from env.
func LoadStorage() (StorageConfig, error) {
	cfg, err := parse[StorageConfig]()
	cfg.DatabaseURL = strings.TrimSpace(cfg.DatabaseURL)
	return cfg, err
}

func (c RedisConfig) loadTLS() (*tls.Config, error) {
	if c.TLSCAFile == "" && c.TLSCertFile == "" && c.TLSKeyFile == "" && c.TLSServerName == "" && c.TLSInsecureSkipVerify == nil {
		return nil, nil
	}
	if (c.TLSCertFile == "") != (c.TLSKeyFile == "") {
		return nil, errors.New("REDIS_TLS_CERT_FILE and REDIS_TLS_KEY_FILE must be set together")
	}

	tlsConfig := &tls.Config{
		MinVersion: tls.VersionTLS12,
		ServerName: c.TLSServerName,
	}
	if c.TLSInsecureSkipVerify != nil {
		tlsConfig.InsecureSkipVerify = *c.TLSInsecureSkipVerify
	}

	if c.TLSCAFile != "" {
		pemData, err := os.ReadFile(c.TLSCAFile)
		if err != nil {
			return nil, fmt.Errorf("read REDIS_TLS_CA_FILE: %w", err)
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(pemData) {
			return nil, errors.New("REDIS_TLS_CA_FILE contains no valid certificates")
		}
		tlsConfig.RootCAs = pool
	}

	if c.TLSCertFile != "" {
		cert, err := tls.LoadX509KeyPair(c.TLSCertFile, c.TLSKeyFile)
		if err != nil {
			return nil, fmt.Errorf("load redis TLS keypair: %w", err)
		}
		tlsConfig.Certificates = []tls.Certificate{cert}
	}

	return tlsConfig, nil
}
