package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, defaultDatasetURL, cfg.DatasetURL)
	assert.Equal(t, "london_crime.db", cfg.StorePath)
	assert.Equal(t, ":8080", cfg.HTTPAddr)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, "json", cfg.LogFormat)
	assert.Equal(t, 10*time.Second, cfg.ShutdownTimeout)
	assert.Equal(t, 2*time.Minute, cfg.FetchTimeout)
	assert.Equal(t, 3, cfg.FetchAttempts)
	assert.Equal(t, 3, cfg.FetchConcurrency)
	assert.Equal(t, 25, cfg.UnmappedLabelLimit)
	assert.Equal(t, 30, cfg.ScheduleDay)
	assert.False(t, cfg.RenderEnabled)
	assert.False(t, cfg.KafkaEnabled)
	assert.Equal(t, []string{"localhost:9092"}, cfg.KafkaBrokers)
	assert.Equal(t, "crime-etl-runs", cfg.KafkaTopic)

	// Borough and ward fall back to well-known direct URLs; LSOA has no
	// stable direct URL and is absent by default.
	assert.Contains(t, cfg.FallbackURLs, "borough")
	assert.Contains(t, cfg.FallbackURLs, "ward")
	assert.NotContains(t, cfg.FallbackURLs, "lsoa")
}

func TestLoad_CustomEnv(t *testing.T) {
	t.Setenv("DATASET_URL", "https://example.org/dataset/crime")
	t.Setenv("STORE_PATH", "/var/lib/etl/crime.db")
	t.Setenv("HTTP_ADDR", ":9090")
	t.Setenv("LOG_LEVEL", "debug")
	t.Setenv("LOG_FORMAT", "text")
	t.Setenv("SHUTDOWN_TIMEOUT", "30s")
	t.Setenv("FETCH_TIMEOUT", "45s")
	t.Setenv("FETCH_ATTEMPTS", "5")
	t.Setenv("FETCH_CONCURRENCY", "2")
	t.Setenv("UNMAPPED_LABEL_LIMIT", "10")
	t.Setenv("SCHEDULE_DAY", "15")
	t.Setenv("KAFKA_ENABLED", "true")
	t.Setenv("KAFKA_BROKERS", "broker1:9092,broker2:9092")
	t.Setenv("KAFKA_TOPIC", "custom-runs")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "https://example.org/dataset/crime", cfg.DatasetURL)
	assert.Equal(t, "/var/lib/etl/crime.db", cfg.StorePath)
	assert.Equal(t, ":9090", cfg.HTTPAddr)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, "text", cfg.LogFormat)
	assert.Equal(t, 30*time.Second, cfg.ShutdownTimeout)
	assert.Equal(t, 45*time.Second, cfg.FetchTimeout)
	assert.Equal(t, 5, cfg.FetchAttempts)
	assert.Equal(t, 2, cfg.FetchConcurrency)
	assert.Equal(t, 10, cfg.UnmappedLabelLimit)
	assert.Equal(t, 15, cfg.ScheduleDay)
	assert.True(t, cfg.KafkaEnabled)
	assert.Equal(t, []string{"broker1:9092", "broker2:9092"}, cfg.KafkaBrokers)
	assert.Equal(t, "custom-runs", cfg.KafkaTopic)
}

func TestLoad_RenderCmdEnablesRendering(t *testing.T) {
	t.Setenv("RENDER_CMD", "render-page --headless")
	cfg, err := Load()
	require.NoError(t, err)
	assert.True(t, cfg.RenderEnabled)
	assert.Equal(t, "render-page --headless", cfg.RenderCmd)
}

func TestLoad_FallbackURLOverrides(t *testing.T) {
	t.Setenv("FALLBACK_URL_BOROUGH", "-")
	t.Setenv("FALLBACK_URL_LSOA", "https://example.org/dl/lsoa.xlsx")

	cfg, err := Load()
	require.NoError(t, err)
	assert.NotContains(t, cfg.FallbackURLs, "borough")
	assert.Equal(t, "https://example.org/dl/lsoa.xlsx", cfg.FallbackURLs["lsoa"])
}

func TestLoad_InvalidShutdownTimeout(t *testing.T) {
	t.Setenv("SHUTDOWN_TIMEOUT", "not-a-duration")
	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "SHUTDOWN_TIMEOUT")
}

func TestLoad_NegativeFetchTimeout(t *testing.T) {
	t.Setenv("FETCH_TIMEOUT", "-1s")
	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "FETCH_TIMEOUT")
}

func TestLoad_InvalidFetchAttempts(t *testing.T) {
	t.Setenv("FETCH_ATTEMPTS", "0")
	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "FETCH_ATTEMPTS")
}

func TestLoad_FetchConcurrencyTooLarge(t *testing.T) {
	t.Setenv("FETCH_CONCURRENCY", "99")
	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "FETCH_CONCURRENCY")
}

func TestLoad_InvalidScheduleDay(t *testing.T) {
	t.Setenv("SCHEDULE_DAY", "32")
	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "SCHEDULE_DAY")
}

func TestLoad_KafkaEnabledWithoutBrokers(t *testing.T) {
	t.Setenv("KAFKA_ENABLED", "true")
	t.Setenv("KAFKA_BROKERS", " ")
	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "KAFKA_BROKERS")
}
