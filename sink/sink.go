// Package sink writes table rows to CSV files, optionally compressed, or
// into a SQLite database.
package sink

import (
	"fmt"
	"io"
	"strings"

	"github.com/klauspost/compress/zstd"
	gzip "github.com/klauspost/pgzip"
	"github.com/miku/dblptab/atomicfile"
)

// RowWriter receives the rows of a single table, in order. Close commits
// what has been written.
type RowWriter interface {
	WriteRow(row []string) error
	Close() error
}

// Aborter is implemented by writers that can discard their output instead
// of committing it.
type Aborter interface {
	Abort() error
}

// Format is an output format.
type Format int

const (
	CSV Format = iota
	CSVGzip
	CSVZstd
	SQLite
)

var formatNames = []string{"csv", "csv.gz", "csv.zst", "sqlite"}

// DatabaseFile is the name of the SQLite database in the output directory.
const DatabaseFile = "dblp.sqlite"

// ParseFormat parses a format name as used on the command line.
func ParseFormat(s string) (Format, error) {
	for i, name := range formatNames {
		if s == name {
			return Format(i), nil
		}
	}
	return 0, fmt.Errorf("unknown format: %s (available: %s)",
		s, strings.Join(formatNames, ", "))
}

func (f Format) String() string {
	if int(f) < len(formatNames) {
		return formatNames[f]
	}
	return fmt.Sprintf("Format(%d)", int(f))
}

// Filename returns the file a table is written to. All tables share the
// database file in SQLite format.
func (f Format) Filename(table string) string {
	if f == SQLite {
		return DatabaseFile
	}
	return table + "." + f.String()
}

// File is a CSV file that only appears under its name once closed.
type File struct {
	*CSVWriter
	f *atomicfile.File
}

// Create starts writing a CSV file in the given format. Nothing is visible
// at path until Close succeeds; Abort leaves any previous file in place.
func Create(path string, format Format) (*File, error) {
	if format == SQLite {
		return nil, fmt.Errorf("cannot create %s as a single file", format)
	}
	f, err := atomicfile.New(path)
	if err != nil {
		return nil, err
	}
	w, err := NewCSVWriter(f, format)
	if err != nil {
		_ = f.Abort()
		return nil, err
	}
	return &File{CSVWriter: w, f: f}, nil
}

// Close flushes all layers and moves the file into place.
func (f *File) Close() error {
	if err := f.CSVWriter.Close(); err != nil {
		_ = f.f.Abort()
		return err
	}
	return f.f.Close()
}

// Abort discards the file.
func (f *File) Abort() error {
	_ = f.CSVWriter.Close()
	return f.f.Abort()
}

// nopCloser keeps the compressor layer uniform for plain output.
type nopCloser struct {
	io.Writer
}

func (nopCloser) Close() error { return nil }

func compressor(w io.Writer, format Format) (io.WriteCloser, error) {
	switch format {
	case CSV:
		return nopCloser{w}, nil
	case CSVGzip:
		return gzip.NewWriter(w), nil
	case CSVZstd:
		return zstd.NewWriter(w)
	default:
		return nil, fmt.Errorf("not a csv format: %s", format)
	}
}
