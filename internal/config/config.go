package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	sharedcfg "github.com/couchcryptid/storm-data-shared/config"
)

// Config holds all service settings, populated from environment variables.
type Config struct {
	HTTPAddr        string
	LogLevel        string
	LogFormat       string
	ShutdownTimeout time.Duration

	// BOM upstream configuration.
	BOMBaseURL         string
	UpstreamTimeout    time.Duration
	BreakerMaxFailures uint32
	BreakerOpenTimeout time.Duration

	// TempDir is where per-request archive directories are created. Empty
	// means the OS default.
	TempDir string

	// Kafka record publishing.
	KafkaEnabled   bool
	KafkaBrokers   []string
	KafkaSinkTopic string
}

// Load reads configuration from environment variables, applying defaults where unset.
func Load() (*Config, error) {
	shutdownTimeout, err := sharedcfg.ParseShutdownTimeout()
	if err != nil {
		return nil, err
	}

	upstreamTimeout, err := parsePositiveDuration("UPSTREAM_TIMEOUT", "2m")
	if err != nil {
		return nil, err
	}

	breakerOpenTimeout, err := parsePositiveDuration("BREAKER_OPEN_TIMEOUT", "30s")
	if err != nil {
		return nil, err
	}

	maxFailures, err := parseMaxFailures()
	if err != nil {
		return nil, err
	}

	_, brokersSet := os.LookupEnv("KAFKA_BROKERS")
	kafkaEnabled := brokersSet
	if v := os.Getenv("KAFKA_ENABLED"); v != "" {
		kafkaEnabled = v == "true"
	}

	cfg := &Config{
		HTTPAddr:        sharedcfg.EnvOrDefault("HTTP_ADDR", ":8080"),
		LogLevel:        sharedcfg.EnvOrDefault("LOG_LEVEL", "info"),
		LogFormat:       sharedcfg.EnvOrDefault("LOG_FORMAT", "json"),
		ShutdownTimeout: shutdownTimeout,

		BOMBaseURL:         strings.TrimRight(sharedcfg.EnvOrDefault("BOM_BASE_URL", "http://www.bom.gov.au"), "/"),
		UpstreamTimeout:    upstreamTimeout,
		BreakerMaxFailures: maxFailures,
		BreakerOpenTimeout: breakerOpenTimeout,

		TempDir: os.Getenv("TEMP_DIR"),

		KafkaEnabled:   kafkaEnabled,
		KafkaBrokers:   sharedcfg.ParseBrokers(sharedcfg.EnvOrDefault("KAFKA_BROKERS", "localhost:9092")),
		KafkaSinkTopic: sharedcfg.EnvOrDefault("KAFKA_SINK_TOPIC", "bom-observations"),
	}

	if cfg.BOMBaseURL == "" {
		return nil, errors.New("BOM_BASE_URL is required")
	}
	if cfg.KafkaEnabled && len(cfg.KafkaBrokers) == 0 {
		return nil, errors.New("KAFKA_ENABLED is true but KAFKA_BROKERS is empty")
	}
	if cfg.KafkaEnabled && cfg.KafkaSinkTopic == "" {
		return nil, errors.New("KAFKA_SINK_TOPIC is required")
	}

	return cfg, nil
}

func parsePositiveDuration(key, def string) (time.Duration, error) {
	d, err := time.ParseDuration(sharedcfg.EnvOrDefault(key, def))
	if err != nil || d <= 0 {
		return 0, fmt.Errorf("invalid %s", key)
	}
	return d, nil
}

func parseMaxFailures() (uint32, error) {
	s := sharedcfg.EnvOrDefault("BREAKER_MAX_FAILURES", "5")
	n, err := strconv.ParseUint(s, 10, 32)
	if err != nil || n == 0 {
		return 0, errors.New("invalid BREAKER_MAX_FAILURES")
	}
	return uint32(n), nil
}
