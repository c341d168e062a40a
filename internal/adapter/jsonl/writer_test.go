package jsonl

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/couchcryptid/dwd-ingest/internal/record"
)

func TestWriter_LoadBatch(t *testing.T) {
	var out bytes.Buffer
	w := NewWriter(&out)

	a := record.New(record.Current, "Current:10315-BEOB.csv")
	a[record.FieldTimestamp] = time.Date(2023, 5, 8, 13, 0, 0, 0, time.UTC)
	a["temperature"] = 285.65
	b := record.Record{"id": "alert-1", "expires": nil}

	require.NoError(t, w.LoadBatch(context.Background(), []record.Record{a, b}))

	sc := bufio.NewScanner(&out)
	var lines []map[string]any
	for sc.Scan() {
		var m map[string]any
		require.NoError(t, json.Unmarshal(sc.Bytes(), &m))
		lines = append(lines, m)
	}
	require.Len(t, lines, 2)
	assert.Equal(t, "current", lines[0]["observation_type"])
	assert.Equal(t, "2023-05-08T13:00:00Z", lines[0]["timestamp"])
	assert.Equal(t, "alert-1", lines[1]["id"])
	assert.Contains(t, lines[1], "expires")
}

func TestWriter_CancelledContext(t *testing.T) {
	var out bytes.Buffer
	w := NewWriter(&out)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := w.LoadBatch(ctx, []record.Record{{"a": 1}})
	assert.ErrorIs(t, err, context.Canceled)
	require.NoError(t, w.Close())
	assert.Empty(t, out.String())
}
