package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all service settings, populated from environment variables.
type Config struct {
	Persons         []string
	HTTPAddr        string
	LogLevel        string
	LogFormat       string
	ShutdownTimeout time.Duration

	DBPath string

	// Reverse-geocoding provider.
	GeocoderBaseURL  string
	GeocoderTimeout  time.Duration
	GeocoderInterval time.Duration // global minimum spacing between external calls

	// Per-cycle ceiling on distinct uncached grid cells. Bounds cycle
	// wall-clock time under the external rate limit.
	ScanBatchLimit int
	UpdateInterval time.Duration

	// Host state-history API. Both empty disables the history pass;
	// current-location detection keeps working without it.
	HistoryURL    string
	HistoryToken  string
	HistoryWindow time.Duration

	// Optional Kafka visit-event publishing.
	KafkaEnabled bool
	KafkaBrokers []string
	KafkaTopic   string
}

// HistoryEnabled reports whether the history pass is configured.
func (c *Config) HistoryEnabled() bool {
	return c.HistoryURL != "" && c.HistoryToken != ""
}

// Load reads configuration from environment variables, applying defaults
// where unset.
func Load() (*Config, error) {
	shutdownTimeout, err := envDuration("SHUTDOWN_TIMEOUT", 10*time.Second)
	if err != nil {
		return nil, err
	}
	geocoderTimeout, err := envDuration("GEOCODER_TIMEOUT", 10*time.Second)
	if err != nil {
		return nil, err
	}
	geocoderInterval, err := envDuration("GEOCODER_INTERVAL", time.Second)
	if err != nil {
		return nil, err
	}
	updateInterval, err := envDuration("UPDATE_INTERVAL", 15*time.Minute)
	if err != nil {
		return nil, err
	}
	historyWindow, err := envDuration("HISTORY_WINDOW", 7*24*time.Hour)
	if err != nil {
		return nil, err
	}
	batchLimit, err := envInt("SCAN_BATCH_LIMIT", 100)
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		Persons:          splitList(os.Getenv("PERSONS")),
		HTTPAddr:         envOrDefault("HTTP_ADDR", ":8080"),
		LogLevel:         envOrDefault("LOG_LEVEL", "info"),
		LogFormat:        envOrDefault("LOG_FORMAT", "json"),
		ShutdownTimeout:  shutdownTimeout,
		DBPath:           envOrDefault("DB_PATH", "visited.db"),
		GeocoderBaseURL:  envOrDefault("GEOCODER_BASE_URL", "https://nominatim.openstreetmap.org"),
		GeocoderTimeout:  geocoderTimeout,
		GeocoderInterval: geocoderInterval,
		ScanBatchLimit:   batchLimit,
		UpdateInterval:   updateInterval,
		HistoryURL:       strings.TrimRight(os.Getenv("HISTORY_URL"), "/"),
		HistoryToken:     os.Getenv("HISTORY_TOKEN"),
		HistoryWindow:    historyWindow,
		KafkaEnabled:     os.Getenv("KAFKA_ENABLED") == "true",
		KafkaBrokers:     splitList(envOrDefault("KAFKA_BROKERS", "localhost:9092")),
		KafkaTopic:       envOrDefault("KAFKA_TOPIC", "visited-countries-events"),
	}

	if len(cfg.Persons) == 0 {
		return nil, errors.New("PERSONS is required")
	}
	if cfg.HistoryToken != "" && cfg.HistoryURL == "" {
		return nil, errors.New("HISTORY_TOKEN is set but HISTORY_URL is not")
	}
	if cfg.KafkaEnabled && len(cfg.KafkaBrokers) == 0 {
		return nil, errors.New("KAFKA_ENABLED is true but KAFKA_BROKERS is empty")
	}

	return cfg, nil
}

func envOrDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envDuration(key string, def time.Duration) (time.Duration, error) {
	s := os.Getenv(key)
	if s == "" {
		return def, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil || d <= 0 {
		return 0, fmt.Errorf("invalid %s: %q", key, s)
	}
	return d, nil
}

func envInt(key string, def int) (int, error) {
	s := os.Getenv(key)
	if s == "" {
		return def, nil
	}
	n, err := strconv.Atoi(s)
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("invalid %s: %q", key, s)
	}
	return n, nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
