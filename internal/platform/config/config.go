// Package config loads configuration for the consent services. It uses
// koanf to merge environment variables with an optional YAML file;
// environment variables take precedence.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// Config holds every setting the three binaries need.
type Config struct {
	Addr string `koanf:"addr"`
	Env  string `koanf:"env"`

	DatabaseURL string `koanf:"database_url"`
	RedisURL    string `koanf:"redis_url"`

	KafkaBrokers  []string `koanf:"kafka_brokers"`
	ConsumerGroup string   `koanf:"consumer_group"`
	MaxAttempts   int      `koanf:"max_attempts"`

	// Ledger signing key material
	PrivateKeyPEM string `koanf:"private_key_pem"`
	PublicKeyPEM  string `koanf:"public_key_pem"`
	SigningKeyID  string `koanf:"signing_key_id"`

	// Object storage for bulk verification
	S3Endpoint        string `koanf:"s3_endpoint"`
	S3Region          string `koanf:"s3_region"`
	S3AccessKeyID     string `koanf:"s3_access_key_id"`
	S3SecretAccessKey string `koanf:"s3_secret_access_key"`
	S3UsePathStyle    bool   `koanf:"s3_use_path_style"`
	UnprocessedBucket string `koanf:"unprocessed_bucket"`
	ProcessedBucket   string `koanf:"processed_bucket"`

	LockStaleAfter time.Duration `koanf:"lock_stale_after"`

	ScanInterval    time.Duration `koanf:"scan_interval"`
	ConsentWindow   time.Duration `koanf:"consent_window"`
	RetentionWindow time.Duration `koanf:"retention_window"`
}

// Validation errors.
var (
	ErrMissingDatabaseURL  = errors.New("DATABASE_URL is required")
	ErrMissingRedisURL     = errors.New("REDIS_URL is required")
	ErrMissingKafkaBrokers = errors.New("KAFKA_BROKERS is required")
	ErrMissingPrivateKey   = errors.New("PRIVATE_KEY_PEM is required")
	ErrMissingPublicKey    = errors.New("PUBLIC_KEY_PEM is required")
	ErrMissingSigningKeyID = errors.New("SIGNING_KEY_ID is required")
)

// Defaults for non-secret settings.
const (
	DefaultAddr              = ":8080"
	DefaultEnv               = "development"
	DefaultConsumerGroup     = "consent-core"
	DefaultMaxAttempts       = 5
	DefaultUnprocessedBucket = "consent-bulk-unprocessed"
	DefaultProcessedBucket   = "consent-bulk-processed"
	DefaultLockStaleAfter    = 30 * time.Second
	DefaultScanInterval      = 180 * time.Second
	DefaultConsentWindow     = 31 * 24 * time.Hour
	DefaultRetentionWindow   = 48 * time.Hour
)

// Load reads configuration from the environment and an optional YAML
// file, environment winning. Returns the config and any validation
// errors.
func Load(configFilePath string) (*Config, []error) {
	k := koanf.New(".")
	var loadErrs []error

	if configFilePath != "" {
		if err := k.Load(file.Provider(configFilePath), yaml.Parser()); err != nil {
			return nil, []error{fmt.Errorf("load config file %s: %w", configFilePath, err)}
		}
	}

	maxAttempts, err := envInt("MAX_ATTEMPTS", k.Int("max_attempts"), DefaultMaxAttempts)
	if err != nil {
		loadErrs = append(loadErrs, err)
	}

	cfg := &Config{
		Addr: envOr("ADDR", k.String("addr"), DefaultAddr),
		Env:  envOr("ENV", k.String("env"), DefaultEnv),

		DatabaseURL: envOrKoanf("DATABASE_URL", k, "database_url"),
		RedisURL:    envOrKoanf("REDIS_URL", k, "redis_url"),

		KafkaBrokers:  splitList(envOr("KAFKA_BROKERS", strings.Join(k.Strings("kafka_brokers"), ","), "")),
		ConsumerGroup: envOr("CONSUMER_GROUP", k.String("consumer_group"), DefaultConsumerGroup),
		MaxAttempts:   maxAttempts,

		PrivateKeyPEM: envOrKoanf("PRIVATE_KEY_PEM", k, "private_key_pem"),
		PublicKeyPEM:  envOrKoanf("PUBLIC_KEY_PEM", k, "public_key_pem"),
		SigningKeyID:  envOrKoanf("SIGNING_KEY_ID", k, "signing_key_id"),

		S3Endpoint:        envOrKoanf("S3_ENDPOINT", k, "s3_endpoint"),
		S3Region:          envOrKoanf("S3_REGION", k, "s3_region"),
		S3AccessKeyID:     envOrKoanf("S3_ACCESS_KEY_ID", k, "s3_access_key_id"),
		S3SecretAccessKey: envOrKoanf("S3_SECRET_ACCESS_KEY", k, "s3_secret_access_key"),
		S3UsePathStyle:    envBool("S3_USE_PATH_STYLE", k.Bool("s3_use_path_style")),
		UnprocessedBucket: envOr("UNPROCESSED_BUCKET", k.String("unprocessed_bucket"), DefaultUnprocessedBucket),
		ProcessedBucket:   envOr("PROCESSED_BUCKET", k.String("processed_bucket"), DefaultProcessedBucket),

		LockStaleAfter:  envDuration("LOCK_STALE_AFTER", k.Duration("lock_stale_after"), DefaultLockStaleAfter, &loadErrs),
		ScanInterval:    envDuration("SCAN_INTERVAL", k.Duration("scan_interval"), DefaultScanInterval, &loadErrs),
		ConsentWindow:   envDuration("CONSENT_WINDOW", k.Duration("consent_window"), DefaultConsentWindow, &loadErrs),
		RetentionWindow: envDuration("RETENTION_WINDOW", k.Duration("retention_window"), DefaultRetentionWindow, &loadErrs),
	}

	errs := cfg.Validate()
	return cfg, append(loadErrs, errs...)
}

// Validate checks the required settings.
func (c *Config) Validate() []error {
	var errs []error
	if c.DatabaseURL == "" {
		errs = append(errs, ErrMissingDatabaseURL)
	}
	if c.RedisURL == "" {
		errs = append(errs, ErrMissingRedisURL)
	}
	if len(c.KafkaBrokers) == 0 {
		errs = append(errs, ErrMissingKafkaBrokers)
	}
	if c.PrivateKeyPEM == "" {
		errs = append(errs, ErrMissingPrivateKey)
	}
	if c.PublicKeyPEM == "" {
		errs = append(errs, ErrMissingPublicKey)
	}
	if c.SigningKeyID == "" {
		errs = append(errs, ErrMissingSigningKeyID)
	}
	return errs
}

// LogSummary returns the configuration with secrets masked, for the
// startup log line.
func (c *Config) LogSummary() map[string]string {
	return map[string]string{
		"addr":               c.Addr,
		"env":                c.Env,
		"database_url":       maskDatabaseURL(c.DatabaseURL),
		"redis_url":          maskDatabaseURL(c.RedisURL),
		"kafka_brokers":      strings.Join(c.KafkaBrokers, ","),
		"consumer_group":     c.ConsumerGroup,
		"max_attempts":       strconv.Itoa(c.MaxAttempts),
		"signing_key_id":     c.SigningKeyID,
		"private_key_pem":    maskSecret(c.PrivateKeyPEM),
		"s3_endpoint":        c.S3Endpoint,
		"s3_access_key_id":   maskSecret(c.S3AccessKeyID),
		"unprocessed_bucket": c.UnprocessedBucket,
		"processed_bucket":   c.ProcessedBucket,
		"lock_stale_after":   c.LockStaleAfter.String(),
		"scan_interval":      c.ScanInterval.String(),
		"consent_window":     c.ConsentWindow.String(),
		"retention_window":   c.RetentionWindow.String(),
	}
}

func envOrKoanf(envKey string, k *koanf.Koanf, koanfKey string) string {
	if val := os.Getenv(envKey); val != "" {
		return val
	}
	return k.String(koanfKey)
}

func envOr(envKey, koanfVal, defaultVal string) string {
	if val := os.Getenv(envKey); val != "" {
		return val
	}
	if koanfVal != "" {
		return koanfVal
	}
	return defaultVal
}

func envInt(envKey string, koanfVal, defaultVal int) (int, error) {
	if val := os.Getenv(envKey); val != "" {
		i, err := strconv.Atoi(val)
		if err != nil {
			return 0, fmt.Errorf("%s must be a valid integer: %w", envKey, err)
		}
		return i, nil
	}
	if koanfVal != 0 {
		return koanfVal, nil
	}
	return defaultVal, nil
}

func envBool(envKey string, koanfVal bool) bool {
	if val := os.Getenv(envKey); val != "" {
		switch strings.ToLower(val) {
		case "true", "1", "yes", "on":
			return true
		case "false", "0", "no", "off":
			return false
		}
	}
	return koanfVal
}

func envDuration(envKey string, koanfVal, defaultVal time.Duration, errs *[]error) time.Duration {
	if val := os.Getenv(envKey); val != "" {
		d, err := time.ParseDuration(val)
		if err != nil {
			*errs = append(*errs, fmt.Errorf("%s must be a valid duration: %w", envKey, err))
			return defaultVal
		}
		return d
	}
	if koanfVal != 0 {
		return koanfVal
	}
	return defaultVal
}

func splitList(raw string) []string {
	if raw == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// maskSecret shows only the first 4 characters of a secret.
func maskSecret(s string) string {
	if s == "" {
		return "<not set>"
	}
	if len(s) < 8 {
		return "****"
	}
	return s[:4] + "****"
}

// maskDatabaseURL masks the password portion of a connection URL.
func maskDatabaseURL(s string) string {
	if s == "" {
		return "<not set>"
	}
	schemeEnd := strings.Index(s, "://")
	if schemeEnd == -1 {
		return maskSecret(s)
	}
	rest := s[schemeEnd+3:]
	atIndex := strings.Index(rest, "@")
	if atIndex == -1 {
		return s
	}
	colonIndex := strings.Index(rest[:atIndex], ":")
	if colonIndex == -1 {
		return s
	}
	return s[:schemeEnd+3] + rest[:colonIndex] + ":****" + rest[atIndex:]
}
