package kafka

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/couchcryptid/dwd-ingest/internal/config"
	"github.com/couchcryptid/dwd-ingest/internal/record"
)

func TestSerializeToMessage(t *testing.T) {
	ts := time.Date(2023, 5, 8, 13, 0, 0, 0, time.UTC)
	r := record.New(record.Synop, "SYNOP:file.json.bz2")
	r[record.FieldTimestamp] = ts
	r[record.FieldWMOStationID] = "10315"
	r[record.FieldDWDStationID] = "01766"
	r["temperature"] = 285.15
	r["condition"] = nil

	msg, err := serializeToMessage(r)
	require.NoError(t, err)

	assert.Equal(t, []byte(record.Key(r)), msg.Key)
	var body map[string]any
	require.NoError(t, json.Unmarshal(msg.Value, &body))
	assert.Equal(t, "2023-05-08T13:00:00Z", body["timestamp"])
	assert.Equal(t, 285.15, body["temperature"])
	assert.Contains(t, body, "condition")
	assert.Nil(t, body["condition"])

	require.Len(t, msg.Headers, 2)
	assert.Equal(t, "observation_type", msg.Headers[0].Key)
	assert.Equal(t, []byte("synop"), msg.Headers[0].Value)
	assert.Equal(t, "source", msg.Headers[1].Key)
	assert.Equal(t, []byte("SYNOP:file.json.bz2"), msg.Headers[1].Value)
}

func TestSerializeToMessage_Alert(t *testing.T) {
	r := record.Record{"id": "2.49.0.0.276.0.DWD.PVW.1", "event_en": "FROST"}

	msg, err := serializeToMessage(r)
	require.NoError(t, err)

	assert.Equal(t, []byte("2.49.0.0.276.0.DWD.PVW.1"), msg.Key)
	assert.Equal(t, []byte("alert"), msg.Headers[0].Value)
}

func TestSerializeToMessage_Grid(t *testing.T) {
	g := record.NewGrid(2, 2)
	g.Set(0, 0, 0.5)
	r := record.New(record.Radar, "RADOLAN::RV::2023-05-08T13:30:00+00:00")
	r["precipitation_5"] = g

	msg, err := serializeToMessage(r)
	require.NoError(t, err)
	assert.Contains(t, string(msg.Value), `"precipitation_5":[[0.5,null],[null,null]]`)
}

func TestSerializeToMessage_Unencodable(t *testing.T) {
	_, err := serializeToMessage(record.Record{"bad": make(chan int)})
	assert.ErrorContains(t, err, "serialize record")
}

func TestWriter_LoadBatchEmpty(t *testing.T) {
	w := NewWriter(&config.Config{KafkaBrokers: []string{"localhost:9092"}, KafkaSinkTopic: "t"},
		slog.New(slog.NewTextHandler(io.Discard, nil)))
	defer w.Close()
	assert.NoError(t, w.LoadBatch(context.Background(), nil))
}
