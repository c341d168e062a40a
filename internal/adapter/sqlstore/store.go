// Package sqlstore persists records in SQLite or PostgreSQL. Each record is
// stored once under its deterministic key, so re-ingesting a file is a no-op.
package sqlstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"           // postgres driver
	_ "github.com/mattn/go-sqlite3" // sqlite3 driver

	"github.com/couchcryptid/dwd-ingest/internal/record"
)

// ErrNotFound is returned by Get for unknown keys.
var ErrNotFound = errors.New("record not found")

var schemas = map[string]string{
	"sqlite3": `CREATE TABLE IF NOT EXISTS records (
	id               TEXT PRIMARY KEY,
	observation_type TEXT,
	source           TEXT,
	observed_at      TIMESTAMP,
	dwd_station_id   TEXT,
	wmo_station_id   TEXT,
	payload          TEXT NOT NULL
)`,
	"postgres": `CREATE TABLE IF NOT EXISTS records (
	id               TEXT PRIMARY KEY,
	observation_type TEXT,
	source           TEXT,
	observed_at      TIMESTAMPTZ,
	dwd_station_id   TEXT,
	wmo_station_id   TEXT,
	payload          JSONB NOT NULL
)`,
}

const insertRecord = `INSERT INTO records
	(id, observation_type, source, observed_at, dwd_station_id, wmo_station_id, payload)
VALUES
	(:id, :observation_type, :source, :observed_at, :dwd_station_id, :wmo_station_id, :payload)
ON CONFLICT (id) DO NOTHING`

type row struct {
	ID              string         `db:"id"`
	ObservationType sql.NullString `db:"observation_type"`
	Source          sql.NullString `db:"source"`
	ObservedAt      sql.NullTime   `db:"observed_at"`
	DWDStationID    sql.NullString `db:"dwd_station_id"`
	WMOStationID    sql.NullString `db:"wmo_station_id"`
	Payload         string         `db:"payload"`
}

// Store writes records to the records table.
// It implements pipeline.BatchLoader.
type Store struct {
	db     *sqlx.DB
	logger *slog.Logger
}

// Open connects to the database and creates the records table if needed.
func Open(ctx context.Context, driver, dsn string, logger *slog.Logger) (*Store, error) {
	schema, ok := schemas[driver]
	if !ok {
		return nil, fmt.Errorf("unsupported sql driver %q", driver)
	}
	db, err := sqlx.ConnectContext(ctx, driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("connect %s: %w", driver, err)
	}
	if driver == "sqlite3" {
		// One writer at a time; also keeps :memory: databases on one connection.
		db.SetMaxOpenConns(1)
	}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create records table: %w", err)
	}
	logger.Info("sql store ready", "driver", driver)
	return &Store{db: db, logger: logger}, nil
}

// LoadBatch inserts the records in one transaction. Records already stored
// are left untouched.
func (s *Store) LoadBatch(ctx context.Context, records []record.Record) error {
	if len(records) == 0 {
		return nil
	}
	rows := make([]row, 0, len(records))
	for _, r := range records {
		rw, err := toRow(r)
		if err != nil {
			return err
		}
		rows = append(rows, rw)
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // no-op after commit

	stmt, err := tx.PrepareNamedContext(ctx, insertRecord)
	if err != nil {
		return fmt.Errorf("prepare insert: %w", err)
	}
	defer stmt.Close()

	inserted := 0
	for _, rw := range rows {
		res, err := stmt.ExecContext(ctx, rw)
		if err != nil {
			return fmt.Errorf("insert %s: %w", rw.ID, err)
		}
		if n, err := res.RowsAffected(); err == nil {
			inserted += int(n)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	s.logger.Debug("stored records", "inserted", inserted, "duplicates", len(rows)-inserted)
	return nil
}

// Get returns the stored payload of the record with the given key.
func (s *Store) Get(ctx context.Context, id string) (record.Record, error) {
	var payload string
	err := s.db.GetContext(ctx, &payload, s.db.Rebind(`SELECT payload FROM records WHERE id = ?`), id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get %s: %w", id, err)
	}
	var r record.Record
	if err := json.Unmarshal([]byte(payload), &r); err != nil {
		return nil, fmt.Errorf("decode %s: %w", id, err)
	}
	return r, nil
}

// Count returns the number of stored records of an observation type, or of
// all records when typ is empty.
func (s *Store) Count(ctx context.Context, typ string) (int, error) {
	var n int
	var err error
	if typ == "" {
		err = s.db.GetContext(ctx, &n, `SELECT COUNT(*) FROM records`)
	} else {
		err = s.db.GetContext(ctx, &n, s.db.Rebind(`SELECT COUNT(*) FROM records WHERE observation_type = ?`), typ)
	}
	if err != nil {
		return 0, fmt.Errorf("count records: %w", err)
	}
	return n, nil
}

// CheckReadiness pings the database.
func (s *Store) CheckReadiness(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *Store) Close() error {
	return s.db.Close()
}

func toRow(r record.Record) (row, error) {
	payload, err := json.Marshal(r)
	if err != nil {
		return row{}, fmt.Errorf("serialize record: %w", err)
	}
	rw := row{
		ID:              record.Key(r),
		ObservationType: nullString(r, record.FieldObservationType),
		Source:          nullString(r, record.FieldSource),
		DWDStationID:    nullString(r, record.FieldDWDStationID),
		WMOStationID:    nullString(r, record.FieldWMOStationID),
		Payload:         string(payload),
	}
	if ts, ok := r.Timestamp(); ok {
		rw.ObservedAt = sql.NullTime{Time: ts.UTC(), Valid: true}
	}
	return rw, nil
}

func nullString(r record.Record, key string) sql.NullString {
	s, ok := r.String(key)
	return sql.NullString{String: s, Valid: ok}
}
