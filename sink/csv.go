package sink

import (
	"encoding/csv"
	"errors"
	"io"
)

// CSVWriter writes rows as comma separated values with standard quoting,
// no header and newline line endings. Closing it does not close the
// underlying writer.
type CSVWriter struct {
	cw     *csv.Writer
	zw     io.WriteCloser
	closed bool
}

// NewCSVWriter wraps w, compressing the output for the csv.gz and csv.zst
// formats.
func NewCSVWriter(w io.Writer, format Format) (*CSVWriter, error) {
	zw, err := compressor(w, format)
	if err != nil {
		return nil, err
	}
	return &CSVWriter{cw: csv.NewWriter(zw), zw: zw}, nil
}

// WriteRow writes a single row.
func (w *CSVWriter) WriteRow(row []string) error {
	return w.cw.Write(row)
}

// Close flushes buffered rows and finishes the compressed stream.
func (w *CSVWriter) Close() error {
	if w.closed {
		return nil
	}
	w.closed = true
	w.cw.Flush()
	return errors.Join(w.cw.Error(), w.zw.Close())
}
