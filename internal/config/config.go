package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// ConfigPath is the default config file location, relative to the working
// directory.
const ConfigPath = "config.yaml"

// FileConfig represents configuration loaded from YAML.
type FileConfig struct {
	Port     string `yaml:"port"`
	LogLevel string `yaml:"logLevel"`
	LogsDir  string `yaml:"logsDir"`

	DatabaseURL string `yaml:"databaseURL"`

	RedisAddr     string `yaml:"redisAddr"`
	RedisPassword string `yaml:"redisPassword"`

	OpenLibraryURL         string  `yaml:"openLibraryURL"`
	CoversURL              string  `yaml:"coversURL"`
	ResolverUserAgent      string  `yaml:"resolverUserAgent"`
	ResolverTimeoutSeconds int     `yaml:"resolverTimeoutSeconds"`
	ResolverRPS            float64 `yaml:"resolverRps"`

	QueueName              string `yaml:"queueName"`
	QueueGroup             string `yaml:"queueGroup"`
	QueueConcurrency       int    `yaml:"queueConcurrency"`
	QueueMaxRetries        int    `yaml:"queueMaxRetries"`
	QueueRetryDelaySeconds int    `yaml:"queueRetryDelaySeconds"`
	ImportConcurrency      int    `yaml:"importConcurrency"`

	MinioEndpoint       string `yaml:"minioEndpoint"`
	MinioAccessKey      string `yaml:"minioAccessKey"`
	MinioSecretKey      string `yaml:"minioSecretKey"`
	MinioBucket         string `yaml:"minioBucket"`
	MinioUseSSL         bool   `yaml:"minioUseSSL"`
	ExportExpiryMinutes int    `yaml:"exportExpiryMinutes"`

	DeviceTokenSecret     string `yaml:"deviceTokenSecret"`
	PairingCodeHash       string `yaml:"pairingCodeHash"`
	DeviceTokenTTLMinutes int    `yaml:"deviceTokenTtlMinutes"`

	LookupRateLimitPerMinute int `yaml:"lookupRateLimitPerMinute"`

	ScanCooldownMillis int `yaml:"scanCooldownMillis"`
	SessionTTLMinutes  int `yaml:"sessionTtlMinutes"`
}

// Load reads config from path (defaults to config.yaml).
func Load(path string) (FileConfig, error) {
	cfg := FileConfig{}
	if path == "" {
		path = ConfigPath
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config: %w", err)
	}
	// Override with environment variables
	if v := os.Getenv("LOGS_DIR"); v != "" {
		cfg.LogsDir = v
	}
	if v := os.Getenv("DATABASE_URL"); v != "" {
		cfg.DatabaseURL = v
	}
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		cfg.RedisAddr = v
	}
	if v := os.Getenv("REDIS_PASSWORD"); v != "" {
		cfg.RedisPassword = v
	}
	if v := os.Getenv("SHELFSCAN_OPENLIBRARY_URL"); v != "" {
		cfg.OpenLibraryURL = v
	}
	if v := os.Getenv("SHELFSCAN_COVERS_URL"); v != "" {
		cfg.CoversURL = v
	}
	if v := os.Getenv("SHELFSCAN_QUEUE_NAME"); v != "" {
		cfg.QueueName = v
	}
	if v := os.Getenv("SHELFSCAN_QUEUE_GROUP"); v != "" {
		cfg.QueueGroup = v
	}
	if v := os.Getenv("SHELFSCAN_QUEUE_CONCURRENCY"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.QueueConcurrency = n
		}
	}
	if v := os.Getenv("SHELFSCAN_QUEUE_MAX_RETRIES"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.QueueMaxRetries = n
		}
	}
	if v := os.Getenv("SHELFSCAN_QUEUE_RETRY_DELAY_SECONDS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.QueueRetryDelaySeconds = n
		}
	}
	if v := os.Getenv("SHELFSCAN_IMPORT_CONCURRENCY"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.ImportConcurrency = n
		}
	}
	if v := os.Getenv("MINIO_ENDPOINT"); v != "" {
		cfg.MinioEndpoint = v
	}
	if v := os.Getenv("MINIO_ACCESS_KEY"); v != "" {
		cfg.MinioAccessKey = v
	}
	if v := os.Getenv("MINIO_SECRET_KEY"); v != "" {
		cfg.MinioSecretKey = v
	}
	if v := os.Getenv("MINIO_BUCKET"); v != "" {
		cfg.MinioBucket = v
	}
	if v := os.Getenv("MINIO_USE_SSL"); v != "" {
		if useSSL, err := strconv.ParseBool(v); err == nil {
			cfg.MinioUseSSL = useSSL
		}
	}
	if v := os.Getenv("SHELFSCAN_DEVICE_TOKEN_SECRET"); v != "" {
		cfg.DeviceTokenSecret = v
	}
	if v := os.Getenv("SHELFSCAN_PAIRING_CODE_HASH"); v != "" {
		cfg.PairingCodeHash = v
	}
	if v := os.Getenv("SHELFSCAN_DEVICE_TOKEN_TTL_MINUTES"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.DeviceTokenTTLMinutes = n
		}
	}
	if v := os.Getenv("SHELFSCAN_LOOKUP_RATE_LIMIT_PER_MINUTE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.LookupRateLimitPerMinute = n
		}
	}
	if v := os.Getenv("SHELFSCAN_SCAN_COOLDOWN_MILLIS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.ScanCooldownMillis = n
		}
	}
	if v := os.Getenv("SHELFSCAN_SESSION_TTL_MINUTES"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.SessionTTLMinutes = n
		}
	}
	if err := validateConfig(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func validateConfig(cfg FileConfig) error {
	if cfg.Port == "" {
		return errors.New("config: port is required (set in config.yaml)")
	}
	if cfg.DatabaseURL == "" {
		return errors.New("config: databaseURL is required (set in config.yaml or DATABASE_URL)")
	}
	if cfg.RedisAddr == "" {
		return errors.New("config: redisAddr is required (set in config.yaml or REDIS_ADDR)")
	}
	if strings.TrimSpace(cfg.DeviceTokenSecret) == "" {
		return errors.New("config: deviceTokenSecret is required (set in config.yaml or SHELFSCAN_DEVICE_TOKEN_SECRET)")
	}
	if strings.TrimSpace(cfg.PairingCodeHash) == "" {
		return errors.New("config: pairingCodeHash is required (set in config.yaml or SHELFSCAN_PAIRING_CODE_HASH)")
	}
	if cfg.ResolverTimeoutSeconds < 0 {
		return errors.New("config: resolverTimeoutSeconds must be >= 0")
	}
	if cfg.ResolverRPS < 0 {
		return errors.New("config: resolverRps must be >= 0")
	}
	if cfg.QueueConcurrency < 0 {
		return errors.New("config: queueConcurrency must be >= 0")
	}
	if cfg.ImportConcurrency < 0 {
		return errors.New("config: importConcurrency must be >= 0")
	}
	if cfg.DeviceTokenTTLMinutes < 0 {
		return errors.New("config: deviceTokenTtlMinutes must be >= 0")
	}
	if cfg.LookupRateLimitPerMinute < 0 {
		return errors.New("config: lookupRateLimitPerMinute must be >= 0")
	}
	if cfg.ScanCooldownMillis < 0 {
		return errors.New("config: scanCooldownMillis must be >= 0")
	}
	if cfg.SessionTTLMinutes < 0 {
		return errors.New("config: sessionTtlMinutes must be >= 0")
	}
	if cfg.MinioEndpoint != "" && cfg.MinioBucket == "" {
		return errors.New("config: minioBucket is required when minioEndpoint is set")
	}
	return nil
}
