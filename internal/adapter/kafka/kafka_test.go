package kafka

import (
	"log/slog"
	"testing"
	"time"

	kafkago "github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/boroughwatch/london-crime-etl/internal/config"
	"github.com/boroughwatch/london-crime-etl/internal/domain"
)

func TestSerializeToMessage(t *testing.T) {
	finished := time.Date(2024, 3, 30, 15, 10, 0, 0, time.UTC)
	result := domain.RunResult{
		RunID:          "run-1",
		FinishedAt:     finished,
		RecordsWritten: 12345,
	}

	msg, err := serializeToMessage(result)
	require.NoError(t, err)

	assert.Equal(t, []byte("run-1"), msg.Key)
	assert.Contains(t, string(msg.Value), `"records_written":12345`)
	require.Len(t, msg.Headers, 2)
	assert.Equal(t, "outcome", msg.Headers[0].Key)
	assert.Equal(t, []byte("success"), msg.Headers[0].Value)
	assert.Equal(t, "finished_at", msg.Headers[1].Key)
	assert.Equal(t, []byte(finished.Format(time.RFC3339)), msg.Headers[1].Value)
}

func TestSerializeToMessage_FailedRun(t *testing.T) {
	msg, err := serializeToMessage(domain.RunResult{
		RunID:  "run-2",
		Errors: []string{"fetch borough: status 500"},
	})
	require.NoError(t, err)
	assert.Equal(t, []byte("failed"), msg.Headers[0].Value)
}

func TestNewNotifier_UsesConfiguredTopic(t *testing.T) {
	n := NewNotifier(&config.Config{
		KafkaBrokers: []string{"broker1:9092"},
		KafkaTopic:   "crime-etl-runs",
	}, slog.Default())
	t.Cleanup(func() { _ = n.Close() })

	assert.Equal(t, "crime-etl-runs", n.writer.Topic)
	assert.Equal(t, kafkago.TCP("broker1:9092"), n.writer.Addr)
}
