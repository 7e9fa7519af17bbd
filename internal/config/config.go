package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Default direct download URLs, used when the dataset listing page blocks or
// fails. The portal has historically 403'd non-browser clients while the
// files themselves stayed reachable.
const (
	defaultDatasetURL = "https://data.london.gov.uk/dataset/recorded_crime_summary"

	defaultBoroughFallbackURL = "https://data.london.gov.uk/download/recorded_crime_summary/866c05de-c5cd-454b-8fe5-9e7c77ea2313/MPS%20Borough%20Level%20Crime%20%28Historical%29.csv"
	defaultWardFallbackURL    = "https://data.london.gov.uk/download/recorded_crime_summary/3c485ba4-6f85-44ab-a42e-8f98664b71ab/MPS%20Ward%20Level%20Crime%20%28most%20recent%2024%20months%29.csv"
)

// Config holds all service settings, populated from environment variables.
type Config struct {
	DatasetURL   string
	StorePath    string
	FallbackURLs map[string]string // source kind -> direct download URL

	HTTPAddr        string
	LogLevel        string
	LogFormat       string
	ShutdownTimeout time.Duration

	FetchTimeout     time.Duration
	FetchAttempts    int
	FetchConcurrency int

	// UnmappedLabelLimit is the number of distinct unresolvable labels a run
	// tolerates before it is treated as a stale alias map and aborted.
	UnmappedLabelLimit int

	GeoAliasFile      string
	CategoryAliasFile string

	// Rendering configuration. Rendering is enabled by setting RENDER_CMD.
	RenderCmd     string
	RenderEnabled bool
	RenderTimeout time.Duration

	// Kafka run-summary notification configuration.
	KafkaBrokers []string
	KafkaTopic   string
	KafkaEnabled bool

	// ScheduleDay is the day of month the serve loop triggers a run.
	ScheduleDay int
}

// Load reads configuration from environment variables, applying defaults where unset.
func Load() (*Config, error) {
	shutdownTimeout, err := parseDuration("SHUTDOWN_TIMEOUT", "10s")
	if err != nil {
		return nil, err
	}
	fetchTimeout, err := parseDuration("FETCH_TIMEOUT", "2m")
	if err != nil {
		return nil, err
	}
	renderTimeout, err := parseDuration("RENDER_TIMEOUT", "3m")
	if err != nil {
		return nil, err
	}

	fetchAttempts, err := parseBoundedInt("FETCH_ATTEMPTS", 3, 1, 10)
	if err != nil {
		return nil, err
	}
	fetchConcurrency, err := parseBoundedInt("FETCH_CONCURRENCY", 3, 1, 16)
	if err != nil {
		return nil, err
	}
	unmappedLimit, err := parseBoundedInt("UNMAPPED_LABEL_LIMIT", 25, 1, 10000)
	if err != nil {
		return nil, err
	}
	scheduleDay, err := parseBoundedInt("SCHEDULE_DAY", 30, 1, 31)
	if err != nil {
		return nil, err
	}

	renderCmd := os.Getenv("RENDER_CMD")

	kafkaEnabled := false
	if v := os.Getenv("KAFKA_ENABLED"); v != "" {
		kafkaEnabled = v == "true"
	}

	cfg := &Config{
		DatasetURL:   envOrDefault("DATASET_URL", defaultDatasetURL),
		StorePath:    envOrDefault("STORE_PATH", "london_crime.db"),
		FallbackURLs: parseFallbackURLs(),

		HTTPAddr:        envOrDefault("HTTP_ADDR", ":8080"),
		LogLevel:        envOrDefault("LOG_LEVEL", "info"),
		LogFormat:       envOrDefault("LOG_FORMAT", "json"),
		ShutdownTimeout: shutdownTimeout,

		FetchTimeout:     fetchTimeout,
		FetchAttempts:    fetchAttempts,
		FetchConcurrency: fetchConcurrency,

		UnmappedLabelLimit: unmappedLimit,

		GeoAliasFile:      os.Getenv("GEO_ALIAS_FILE"),
		CategoryAliasFile: os.Getenv("CATEGORY_ALIAS_FILE"),

		RenderCmd:     renderCmd,
		RenderEnabled: renderCmd != "",
		RenderTimeout: renderTimeout,

		KafkaBrokers: parseBrokers(envOrDefault("KAFKA_BROKERS", "localhost:9092")),
		KafkaTopic:   envOrDefault("KAFKA_TOPIC", "crime-etl-runs"),
		KafkaEnabled: kafkaEnabled,

		ScheduleDay: scheduleDay,
	}

	if cfg.DatasetURL == "" {
		return nil, errors.New("DATASET_URL is required")
	}
	if cfg.StorePath == "" {
		return nil, errors.New("STORE_PATH is required")
	}
	if cfg.KafkaEnabled && len(cfg.KafkaBrokers) == 0 {
		return nil, errors.New("KAFKA_ENABLED is true but KAFKA_BROKERS is not set")
	}
	if cfg.KafkaEnabled && cfg.KafkaTopic == "" {
		return nil, errors.New("KAFKA_ENABLED is true but KAFKA_TOPIC is not set")
	}

	return cfg, nil
}

// parseFallbackURLs reads the per-kind direct download overrides. Setting a
// variable to "-" disables that kind's fallback.
func parseFallbackURLs() map[string]string {
	urls := map[string]string{
		"borough": envOrDefault("FALLBACK_URL_BOROUGH", defaultBoroughFallbackURL),
		"ward":    envOrDefault("FALLBACK_URL_WARD", defaultWardFallbackURL),
		"lsoa":    os.Getenv("FALLBACK_URL_LSOA"),
	}
	for kind, u := range urls {
		if u == "" || u == "-" {
			delete(urls, kind)
		}
	}
	return urls
}

func envOrDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func parseBrokers(s string) []string {
	var out []string
	for _, b := range strings.Split(s, ",") {
		if b = strings.TrimSpace(b); b != "" {
			out = append(out, b)
		}
	}
	return out
}

func parseDuration(key, fallback string) (time.Duration, error) {
	d, err := time.ParseDuration(envOrDefault(key, fallback))
	if err != nil || d <= 0 {
		return 0, fmt.Errorf("invalid %s", key)
	}
	return d, nil
}

func parseBoundedInt(key string, fallback, min, max int) (int, error) {
	s := os.Getenv(key)
	if s == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(s)
	if err != nil || n < min || n > max {
		return 0, fmt.Errorf("invalid %s: must be an integer in [%d, %d]", key, min, max)
	}
	return n, nil
}
