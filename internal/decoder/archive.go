package decoder

import (
	"archive/zip"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/dsnet/compress/bzip2"
	"golang.org/x/text/encoding/charmap"
)

// bzip2File is a decompressing reader that also closes the underlying file.
type bzip2File struct {
	*bzip2.Reader
	file *os.File
}

func (b *bzip2File) Close() error {
	err := b.Reader.Close()
	if cerr := b.file.Close(); err == nil {
		err = cerr
	}
	return err
}

// openBzip2 opens a bzip2-compressed file for streaming decompression.
func openBzip2(path string) (io.ReadCloser, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	r, err := bzip2.NewReader(f, nil)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("open bzip2 %s: %w", path, err)
	}
	return &bzip2File{Reader: r, file: f}, nil
}

// findMember returns the single member of zr whose name satisfies match. It
// fails unless exactly one member matches.
func findMember(zr *zip.Reader, what string, match func(name string) bool) (*zip.File, error) {
	var found []*zip.File
	for _, f := range zr.File {
		if match(f.Name) {
			found = append(found, f)
		}
	}
	if len(found) != 1 {
		return nil, fmt.Errorf("unexpected %s count: found %d, want 1", what, len(found))
	}
	return found[0], nil
}

// xmlCharsetReader lets encoding/xml read documents declared as Latin-1,
// which DWD uses for its KML products.
func xmlCharsetReader(label string, input io.Reader) (io.Reader, error) {
	switch strings.ToLower(label) {
	case "iso-8859-1", "iso8859-1", "latin1", "latin-1":
		return charmap.ISO8859_1.NewDecoder().Reader(input), nil
	case "windows-1252", "cp1252":
		return charmap.Windows1252.NewDecoder().Reader(input), nil
	}
	return nil, fmt.Errorf("unsupported charset %q", label)
}

// tableReader reads a semicolon separated table with a header row. Header
// names and cell values are trimmed of surrounding blanks, which DWD uses to
// pad columns.
type tableReader struct {
	csv    *csv.Reader
	header []string
}

// newTableReader wraps r. Latin-1 input is transcoded to UTF-8.
func newTableReader(r io.Reader, latin1 bool) (*tableReader, error) {
	if latin1 {
		r = charmap.ISO8859_1.NewDecoder().Reader(r)
	}
	cr := csv.NewReader(r)
	cr.Comma = ';'
	cr.FieldsPerRecord = -1
	cr.LazyQuotes = true
	cr.ReuseRecord = true

	header, err := cr.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, errors.New("empty table")
		}
		return nil, fmt.Errorf("read table header: %w", err)
	}
	t := &tableReader{csv: cr, header: make([]string, len(header))}
	for i, h := range header {
		t.header[i] = strings.TrimSpace(h)
	}
	return t, nil
}

// Next returns the next row keyed by header name. It returns io.EOF after
// the last row.
func (t *tableReader) Next() (map[string]string, error) {
	for {
		fields, err := t.csv.Read()
		if err != nil {
			return nil, err
		}
		if len(fields) == 1 && strings.TrimSpace(fields[0]) == "" {
			continue
		}
		row := make(map[string]string, len(t.header))
		for i, name := range t.header {
			if i < len(fields) {
				row[name] = strings.TrimSpace(fields[i])
			}
		}
		return row, nil
	}
}
