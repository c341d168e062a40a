//go:build integration

package integration_test

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"

	kafkago "github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	tckafka "github.com/testcontainers/testcontainers-go/modules/kafka"

	"github.com/couchcryptid/dwd-ingest/internal/adapter/fetch"
	"github.com/couchcryptid/dwd-ingest/internal/adapter/kafka"
	"github.com/couchcryptid/dwd-ingest/internal/config"
	"github.com/couchcryptid/dwd-ingest/internal/decoder"
	"github.com/couchcryptid/dwd-ingest/internal/fixture"
	"github.com/couchcryptid/dwd-ingest/internal/observability"
	"github.com/couchcryptid/dwd-ingest/internal/pipeline"
	"github.com/couchcryptid/dwd-ingest/internal/record"
	"github.com/couchcryptid/dwd-ingest/internal/units"
)

const testSinkTopic = "test-dwd-records"

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func startKafka(ctx context.Context, t *testing.T) string {
	t.Helper()
	container, err := tckafka.Run(ctx, "confluentinc/confluent-local:7.5.0", tckafka.WithClusterID("dwd-ingest-test"))
	require.NoError(t, err, "start kafka container")
	t.Cleanup(func() { _ = testcontainers.TerminateContainer(container) })

	brokers, err := container.Brokers(ctx)
	require.NoError(t, err)
	require.NotEmpty(t, brokers)
	return brokers[0]
}

func createTopic(t *testing.T, broker, topic string) {
	t.Helper()
	conn, err := kafkago.Dial("tcp", broker)
	require.NoError(t, err)
	defer conn.Close()

	controller, err := conn.Controller()
	require.NoError(t, err)
	cc, err := kafkago.Dial("tcp", net.JoinHostPort(controller.Host, strconv.Itoa(controller.Port)))
	require.NoError(t, err)
	defer cc.Close()

	require.NoError(t, cc.CreateTopics(kafkago.TopicConfig{Topic: topic, NumPartitions: 1, ReplicationFactor: 1}))
}

func writeSYNOP(t *testing.T) string {
	t.Helper()
	ts := time.Date(2023, 5, 8, 13, 0, 0, 0, time.UTC)
	doc, err := fixture.SYNOPDocument(
		fixture.SYNOPMessage(315, "MUENSTER/OSNABRUECK", ts, 285.15),
		fixture.SYNOPMessage(400, "DUESSELDORF", ts, 287.15),
	)
	require.NoError(t, err)
	data, err := fixture.Bzip2(doc)
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "Z__C_EDZW_20230508133000_bda01,synop_bufr_GER_999999_999999__MW_466.json.bz2")
	require.NoError(t, os.WriteFile(path, data, 0o600))
	return path
}

// TestPipelineToKafka decodes a SYNOP file and reads the records back from
// the sink topic.
func TestPipelineToKafka(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 120*time.Second)
	defer cancel()

	broker := startKafka(ctx, t)
	createTopic(t, broker, testSinkTopic)

	cfg := &config.Config{KafkaBrokers: []string{broker}, KafkaSinkTopic: testSinkTopic}
	writer := kafka.NewWriter(cfg, discardLogger())
	t.Cleanup(func() { _ = writer.Close() })

	metrics := observability.NewMetricsForTesting()
	reg := decoder.NewRegistry(decoder.Options{Logger: discardLogger(), OnSkip: metrics.RecordSkip})
	client := fetch.NewClient(fetch.Options{Timeout: 5 * time.Second}, discardLogger(), metrics)
	p := pipeline.New(reg, client, nil, pipeline.NewTransformer(units.DWD), writer,
		discardLogger(), metrics, nil, pipeline.Settings{BatchSize: 10})

	sum, err := p.Run(ctx, []string{writeSYNOP(t)})
	require.NoError(t, err)
	require.Zero(t, sum.Failed)
	require.Equal(t, 2, sum.Records)

	consumer := kafkago.NewReader(kafkago.ReaderConfig{
		Brokers:     []string{broker},
		Topic:       testSinkTopic,
		Partition:   0,
		StartOffset: kafkago.FirstOffset,
	})
	t.Cleanup(func() { _ = consumer.Close() })

	byStation := map[string]map[string]any{}
	for range 2 {
		readCtx, readCancel := context.WithTimeout(ctx, 30*time.Second)
		msg, err := consumer.ReadMessage(readCtx)
		readCancel()
		require.NoError(t, err, "read from sink topic")

		headers := map[string]string{}
		for _, h := range msg.Headers {
			headers[h.Key] = string(h.Value)
		}
		assert.Equal(t, "synop", headers["observation_type"])
		assert.Contains(t, headers["source"], "SYNOP:Z__C_EDZW_")

		var body map[string]any
		require.NoError(t, json.Unmarshal(msg.Value, &body))
		assert.True(t, strings.HasPrefix(string(msg.Key), "synop-"), "key %s", msg.Key)
		byStation[body[record.FieldWMOStationID].(string)] = body
	}

	require.Contains(t, byStation, "10315")
	assert.InDelta(t, 12.0, byStation["10315"]["temperature"], 1e-9)
	assert.Equal(t, "2023-05-08T13:00:00Z", byStation["10315"][record.FieldTimestamp])
	assert.Contains(t, byStation, "10400")
}
