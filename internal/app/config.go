package app

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/samber/lo"
)

// StorageDriver selects the repository implementation.
type StorageDriver string

const (
	StorageDriverMemory   StorageDriver = "memory"
	StorageDriverPostgres StorageDriver = "postgres"
)

// Environment variables read by LoadConfigFromEnv.
const (
	EnvHTTPAddr            = "NW_HTTP_ADDR"
	EnvGRPCAddr            = "NW_GRPC_ADDR"
	EnvMetricsAddr         = "NW_METRICS_ADDR"
	EnvStorageDriver       = "NW_STORAGE_DRIVER"
	EnvPostgresDSN         = "NW_POSTGRES_DSN"
	EnvPostgresAutoMigrate = "NW_POSTGRES_AUTO_MIGRATE"
	EnvKafkaBrokers        = "NW_KAFKA_BROKERS"
	EnvKafkaTopic          = "NW_KAFKA_TOPIC"
	EnvOutboxPollInterval  = "NW_OUTBOX_POLL_INTERVAL"
	EnvOutboxBatchSize     = "NW_OUTBOX_BATCH_SIZE"
	EnvOutboxMaxAttempts   = "NW_OUTBOX_MAX_ATTEMPTS"
	EnvOutboxRetryDelay    = "NW_OUTBOX_RETRY_DELAY"
	EnvOutboxMaxPendingAge = "NW_OUTBOX_MAX_PENDING_AGE"
	EnvRequestTimeout      = "NW_REQUEST_TIMEOUT"
)

// Config holds the runtime settings of the order service.
type Config struct {
	HTTPAddr    string
	GRPCAddr    string
	MetricsAddr string

	StorageDriver       StorageDriver
	PostgresDSN         string
	PostgresAutoMigrate bool

	KafkaBrokers []string
	KafkaTopic   string

	OutboxPollInterval  time.Duration
	OutboxBatchSize     int
	OutboxMaxAttempts   int
	OutboxRetryDelay    time.Duration
	OutboxMaxPendingAge time.Duration

	RequestTimeout time.Duration
}

func DefaultConfig() Config {
	return Config{
		HTTPAddr:            ":8080",
		GRPCAddr:            ":50051",
		MetricsAddr:         ":9090",
		StorageDriver:       StorageDriverMemory,
		PostgresAutoMigrate: true,
		OutboxPollInterval:  time.Second,
		OutboxBatchSize:     100,
		OutboxMaxAttempts:   3,
		OutboxRetryDelay:    100 * time.Millisecond,
		OutboxMaxPendingAge: 5 * time.Minute,
		RequestTimeout:      5 * time.Second,
	}
}

// LoadConfigFromEnv overlays NW_* variables on DefaultConfig and validates the result.
func LoadConfigFromEnv() (Config, error) {
	cfg := DefaultConfig()
	var errs []error

	setString(&cfg.HTTPAddr, EnvHTTPAddr)
	setString(&cfg.GRPCAddr, EnvGRPCAddr)
	setString(&cfg.MetricsAddr, EnvMetricsAddr)
	setString(&cfg.PostgresDSN, EnvPostgresDSN)
	setString(&cfg.KafkaTopic, EnvKafkaTopic)

	if v, ok := lookup(EnvStorageDriver); ok {
		cfg.StorageDriver = StorageDriver(strings.ToLower(v))
	}
	if v, ok := lookup(EnvKafkaBrokers); ok {
		cfg.KafkaBrokers = splitBrokers(v)
	}

	errs = append(errs,
		setBool(&cfg.PostgresAutoMigrate, EnvPostgresAutoMigrate),
		setDuration(&cfg.OutboxPollInterval, EnvOutboxPollInterval),
		setInt(&cfg.OutboxBatchSize, EnvOutboxBatchSize),
		setInt(&cfg.OutboxMaxAttempts, EnvOutboxMaxAttempts),
		setDuration(&cfg.OutboxRetryDelay, EnvOutboxRetryDelay),
		setDuration(&cfg.OutboxMaxPendingAge, EnvOutboxMaxPendingAge),
		setDuration(&cfg.RequestTimeout, EnvRequestTimeout),
	)
	if err := errors.Join(errs...); err != nil {
		return Config{}, err
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate reports every invalid setting at once.
func (c Config) Validate() error {
	var errs []error

	if c.HTTPAddr == "" || c.GRPCAddr == "" || c.MetricsAddr == "" {
		errs = append(errs, errors.New("listen addresses must not be empty"))
	}
	switch c.StorageDriver {
	case StorageDriverMemory:
	case StorageDriverPostgres:
		if c.PostgresDSN == "" {
			errs = append(errs, fmt.Errorf("%s is required for the postgres storage driver", EnvPostgresDSN))
		}
	default:
		errs = append(errs, fmt.Errorf("unsupported storage driver %q", c.StorageDriver))
	}
	if c.OutboxPollInterval <= 0 {
		errs = append(errs, errors.New("outbox poll interval must be positive"))
	}
	if c.OutboxBatchSize <= 0 {
		errs = append(errs, errors.New("outbox batch size must be positive"))
	}
	if c.OutboxMaxAttempts <= 0 {
		errs = append(errs, errors.New("outbox max attempts must be positive"))
	}
	if c.OutboxRetryDelay < 0 {
		errs = append(errs, errors.New("outbox retry delay must not be negative"))
	}
	if c.OutboxMaxPendingAge <= 0 {
		errs = append(errs, errors.New("outbox max pending age must be positive"))
	}
	if c.RequestTimeout <= 0 {
		errs = append(errs, errors.New("request timeout must be positive"))
	}

	return errors.Join(errs...)
}

func lookup(key string) (string, bool) {
	v, ok := os.LookupEnv(key)
	v = strings.TrimSpace(v)
	return v, ok && v != ""
}

func setString(dst *string, key string) {
	if v, ok := lookup(key); ok {
		*dst = v
	}
}

func setBool(dst *bool, key string) error {
	v, ok := lookup(key)
	if !ok {
		return nil
	}
	parsed, err := strconv.ParseBool(v)
	if err != nil {
		return fmt.Errorf("%s: %w", key, err)
	}
	*dst = parsed
	return nil
}

func setInt(dst *int, key string) error {
	v, ok := lookup(key)
	if !ok {
		return nil
	}
	parsed, err := strconv.Atoi(v)
	if err != nil {
		return fmt.Errorf("%s: %w", key, err)
	}
	*dst = parsed
	return nil
}

func setDuration(dst *time.Duration, key string) error {
	v, ok := lookup(key)
	if !ok {
		return nil
	}
	parsed, err := time.ParseDuration(v)
	if err != nil {
		return fmt.Errorf("%s: %w", key, err)
	}
	*dst = parsed
	return nil
}

func splitBrokers(raw string) []string {
	return lo.Compact(lo.Map(strings.Split(raw, ","), func(b string, _ int) string {
		return strings.TrimSpace(b)
	}))
}
