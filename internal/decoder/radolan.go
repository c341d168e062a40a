package decoder

import (
	"archive/tar"
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"iter"
	"regexp"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/couchcryptid/dwd-ingest/internal/record"
)

const (
	radolanETX         = 0x03
	radolanCompositeID = "10000"
	radolanNoData      = 4096
	radolanTimeLayout  = "0215040106"
)

var radolanOffsetRe = regexp.MustCompile(`VV([ \d]{4})`)

// RadolanProduct describes the fixed layout of one RADOLAN composite product.
type RadolanProduct struct {
	Product   string
	Height    int
	Width     int
	Interval  int
	Precision string
	Field     string
}

// RVProduct is the 5-minute precipitation composite on the 1200×1100 km
// grid, in hundredths of a millimetre.
var RVProduct = RadolanProduct{
	Product:   "RV",
	Height:    1200,
	Width:     1100,
	Interval:  5,
	Precision: "E-02",
	Field:     "precipitation_5",
}

// RADOLAN decodes tar.bz2 archives of binary RADOLAN composites, one record
// per member.
type RADOLAN struct {
	reporter
	product    RadolanProduct
	multiplier float64
}

// NewRADOLAN returns a composite decoder for product.
func NewRADOLAN(opts Options, product RadolanProduct) *RADOLAN {
	opts = opts.withDefaults()
	multiplier, err := strconv.ParseFloat("1"+product.Precision, 64)
	if err != nil {
		panic(fmt.Sprintf("radolan precision %q: %v", product.Precision, err))
	}
	return &RADOLAN{
		reporter:   newReporter(opts, "radolan"),
		product:    product,
		multiplier: multiplier,
	}
}

// ExtraInputs implements Decoder.
func (d *RADOLAN) ExtraInputs(string) (map[string]string, error) { return nil, nil }

// Decode implements Decoder. Members are decoded in name order.
func (d *RADOLAN) Decode(path string, _ map[string]string) iter.Seq2[record.Record, error] {
	return func(yield func(record.Record, error) bool) {
		d.logger.Info("parsing", "path", path)
		names, err := tarMemberNames(path)
		if err != nil {
			yield(nil, err)
			return
		}
		slices.Sort(names)

		cursor := &tarCursor{path: path}
		defer cursor.Close()
		for _, name := range names {
			member, err := cursor.seek(name)
			if err != nil {
				yield(nil, err)
				return
			}
			r, err := d.decodeFrame(member)
			if err != nil {
				yield(nil, fmt.Errorf("%s in %s: %w", name, path, err))
				return
			}
			if !yield(r, nil) {
				return
			}
		}
	}
}

// decodeFrame reads one composite: an ASCII header terminated by ETX and a
// little-endian uint16 grid stored north to south.
func (d *RADOLAN) decodeFrame(r io.Reader) (record.Record, error) {
	br := bufio.NewReader(r)
	raw, err := br.ReadBytes(radolanETX)
	if err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}
	header := string(raw[:len(raw)-1])
	nominal, offset, err := d.parseHeader(header)
	if err != nil {
		return nil, err
	}
	grid, err := d.readGrid(br)
	if err != nil {
		return nil, err
	}

	rec := record.New(record.Radar, fmt.Sprintf("RADOLAN::%s::%s", d.product.Product, nominal.Format("2006-01-02T15:04:05-07:00")))
	rec[record.FieldTimestamp] = nominal.Add(offset)
	rec[d.product.Field] = grid
	return rec, nil
}

func (d *RADOLAN) parseHeader(header string) (time.Time, time.Duration, error) {
	p := d.product
	if len(header) < 17 {
		return time.Time{}, 0, fmt.Errorf("short header %q", header)
	}
	if got := header[:2]; got != p.Product {
		return time.Time{}, 0, fmt.Errorf("unexpected product %q, want %q", got, p.Product)
	}
	if got := header[8:13]; got != radolanCompositeID {
		return time.Time{}, 0, fmt.Errorf("unexpected station id %q, want composite %s", got, radolanCompositeID)
	}
	nominal, err := time.Parse(radolanTimeLayout, header[2:8]+header[13:17])
	if err != nil {
		return time.Time{}, 0, fmt.Errorf("parse product time: %w", err)
	}

	expectedBytes := 2*p.Height*p.Width + len(header) + 1
	for _, want := range []string{
		fmt.Sprintf("GP%dx%d", p.Height, p.Width),
		fmt.Sprintf("BY%10d", expectedBytes),
		fmt.Sprintf("PR%5s", p.Precision),
		fmt.Sprintf("INT%4d", p.Interval),
	} {
		if !strings.Contains(header, want) {
			return time.Time{}, 0, fmt.Errorf("header lacks %q", want)
		}
	}

	m := radolanOffsetRe.FindStringSubmatch(header)
	if m == nil {
		return time.Time{}, 0, errors.New("header lacks forecast offset")
	}
	minutes, err := strconv.Atoi(strings.TrimSpace(m[1]))
	if err != nil {
		return time.Time{}, 0, fmt.Errorf("parse forecast offset: %w", err)
	}
	return nominal.UTC(), time.Duration(minutes) * time.Minute, nil
}

// readGrid reads exactly height×width cells and flips the rows so that row 0
// is the southernmost.
func (d *RADOLAN) readGrid(r io.Reader) (*record.Grid, error) {
	h, w := d.product.Height, d.product.Width
	buf := make([]byte, 2*h*w)
	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, fmt.Errorf("unexpected grid size: %w", err)
	}
	var extra [1]byte
	if n, _ := r.Read(extra[:]); n > 0 {
		return nil, errors.New("unexpected grid size: trailing bytes")
	}

	grid := record.NewGrid(h, w)
	for row := range h {
		dst := h - 1 - row
		for col := range w {
			v := binary.LittleEndian.Uint16(buf[2*(row*w+col):])
			if v < radolanNoData {
				grid.Set(dst, col, float64(v)*d.multiplier)
			}
		}
	}
	return grid, nil
}

// tarMemberNames lists the regular files of a tar.bz2 archive.
func tarMemberNames(path string) ([]string, error) {
	rc, err := openBzip2(path)
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	tr := tar.NewReader(rc)
	var names []string
	for {
		hdr, err := tr.Next()
		if errors.Is(err, io.EOF) {
			return names, nil
		}
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", path, err)
		}
		if hdr.Typeflag == tar.TypeReg {
			names = append(names, hdr.Name)
		}
	}
}

// tarCursor positions a forward-only tar stream on named members. Seeking
// backwards reopens the archive.
type tarCursor struct {
	path string
	rc   io.ReadCloser
	tr   *tar.Reader
}

func (c *tarCursor) seek(name string) (io.Reader, error) {
	for range 2 {
		if c.tr == nil {
			rc, err := openBzip2(c.path)
			if err != nil {
				return nil, err
			}
			c.rc, c.tr = rc, tar.NewReader(rc)
		}
		for {
			hdr, err := c.tr.Next()
			if errors.Is(err, io.EOF) {
				c.Close()
				break
			}
			if err != nil {
				return nil, fmt.Errorf("read %s: %w", c.path, err)
			}
			if hdr.Name == name {
				return c.tr, nil
			}
		}
	}
	return nil, fmt.Errorf("member %s not found in %s", name, c.path)
}

func (c *tarCursor) Close() error {
	if c.rc == nil {
		return nil
	}
	err := c.rc.Close()
	c.rc, c.tr = nil, nil
	return err
}
