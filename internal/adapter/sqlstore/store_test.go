package sqlstore

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/couchcryptid/dwd-ingest/internal/record"
)

func openMemory(t *testing.T) *Store {
	t.Helper()
	s, err := Open(context.Background(), "sqlite3", ":memory:", slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func synopRecord(hour int, temperature float64) record.Record {
	r := record.New(record.Synop, "SYNOP:file.json.bz2")
	r[record.FieldTimestamp] = time.Date(2023, 5, 8, hour, 0, 0, 0, time.UTC)
	r[record.FieldWMOStationID] = "10315"
	r[record.FieldDWDStationID] = "01766"
	r["temperature"] = temperature
	r["condition"] = nil
	return r
}

func TestStore_LoadAndGet(t *testing.T) {
	s := openMemory(t)
	ctx := context.Background()
	r := synopRecord(13, 285.15)

	require.NoError(t, s.LoadBatch(ctx, []record.Record{r, synopRecord(14, 286.0)}))

	got, err := s.Get(ctx, record.Key(r))
	require.NoError(t, err)
	assert.Equal(t, "synop", got[record.FieldObservationType])
	assert.Equal(t, "2023-05-08T13:00:00Z", got[record.FieldTimestamp])
	assert.Equal(t, 285.15, got["temperature"])
	assert.Contains(t, got, "condition")

	n, err := s.Count(ctx, "synop")
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func TestStore_IdempotentReload(t *testing.T) {
	s := openMemory(t)
	ctx := context.Background()

	require.NoError(t, s.LoadBatch(ctx, []record.Record{synopRecord(13, 285.15)}))
	// Same key, different value: the first version wins.
	require.NoError(t, s.LoadBatch(ctx, []record.Record{synopRecord(13, 999.0), synopRecord(15, 287.0)}))

	n, err := s.Count(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	got, err := s.Get(ctx, record.Key(synopRecord(13, 0)))
	require.NoError(t, err)
	assert.Equal(t, 285.15, got["temperature"])
}

func TestStore_Alerts(t *testing.T) {
	s := openMemory(t)
	ctx := context.Background()
	alert := record.Record{"id": "2.49.0.0.276.0.DWD.PVW.1", "event_en": "FROST", "warn_cell_ids": []int{1, 2}}

	require.NoError(t, s.LoadBatch(ctx, []record.Record{alert}))

	got, err := s.Get(ctx, "2.49.0.0.276.0.DWD.PVW.1")
	require.NoError(t, err)
	assert.Equal(t, "FROST", got["event_en"])
	assert.Equal(t, []any{1.0, 2.0}, got["warn_cell_ids"])

	n, err := s.Count(ctx, "synop")
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestStore_GetUnknown(t *testing.T) {
	s := openMemory(t)
	_, err := s.Get(context.Background(), "nope")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestStore_Readiness(t *testing.T) {
	s := openMemory(t)
	assert.NoError(t, s.CheckReadiness(context.Background()))
	assert.NoError(t, s.LoadBatch(context.Background(), nil))
}

func TestOpen_UnsupportedDriver(t *testing.T) {
	_, err := Open(context.Background(), "mysql", "dsn", slog.Default())
	assert.ErrorContains(t, err, "unsupported sql driver")
}
