// Package fixture builds small synthetic DWD products: archives, documents
// and binary frames shaped like the published ones. Tests and the genmock
// tool use it so that no sample data has to be checked in.
package fixture

import (
	"archive/tar"
	"archive/zip"
	"bytes"
	"fmt"
	"os"
	"time"

	"github.com/dsnet/compress/bzip2"
)

// Member is one named file inside an archive.
type Member struct {
	Name string
	Body []byte
}

// Zip returns a zip archive holding members in order.
func Zip(members ...Member) ([]byte, error) {
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for _, m := range members {
		w, err := zw.Create(m.Name)
		if err != nil {
			return nil, fmt.Errorf("create %s: %w", m.Name, err)
		}
		if _, err := w.Write(m.Body); err != nil {
			return nil, fmt.Errorf("write %s: %w", m.Name, err)
		}
	}
	if err := zw.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Bzip2 compresses data.
func Bzip2(data []byte) ([]byte, error) {
	var buf bytes.Buffer
	bw, err := bzip2.NewWriter(&buf, &bzip2.WriterConfig{Level: bzip2.BestSpeed})
	if err != nil {
		return nil, err
	}
	if _, err := bw.Write(data); err != nil {
		return nil, err
	}
	if err := bw.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// TarBzip2 returns a bzip2-compressed tar archive holding members in order.
func TarBzip2(members ...Member) ([]byte, error) {
	var buf bytes.Buffer
	tw := tar.NewWriter(&buf)
	for _, m := range members {
		hdr := &tar.Header{
			Name:     m.Name,
			Mode:     0o644,
			Size:     int64(len(m.Body)),
			Typeflag: tar.TypeReg,
			ModTime:  time.Unix(0, 0),
		}
		if err := tw.WriteHeader(hdr); err != nil {
			return nil, fmt.Errorf("write header %s: %w", m.Name, err)
		}
		if _, err := tw.Write(m.Body); err != nil {
			return nil, fmt.Errorf("write %s: %w", m.Name, err)
		}
	}
	if err := tw.Close(); err != nil {
		return nil, err
	}
	return Bzip2(buf.Bytes())
}

// WriteFile writes data produced by build to path.
func WriteFile(path string, data []byte, err error) error {
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o600)
}
