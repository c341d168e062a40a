// Package jsonl writes records as newline-delimited JSON.
package jsonl

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sync"

	"github.com/couchcryptid/dwd-ingest/internal/record"
)

// Writer appends one JSON object per record to an io.Writer.
// It implements pipeline.BatchLoader.
type Writer struct {
	mu  sync.Mutex
	buf *bufio.Writer
	enc *json.Encoder
}

// NewWriter wraps w, typically os.Stdout.
func NewWriter(w io.Writer) *Writer {
	buf := bufio.NewWriter(w)
	return &Writer{buf: buf, enc: json.NewEncoder(buf)}
}

// LoadBatch encodes the records and flushes them.
func (w *Writer) LoadBatch(ctx context.Context, records []record.Record) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	for _, r := range records {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := w.enc.Encode(r); err != nil {
			return fmt.Errorf("encode record %s: %w", record.Key(r), err)
		}
	}
	return w.buf.Flush()
}

// Close flushes buffered output.
func (w *Writer) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.buf.Flush()
}
