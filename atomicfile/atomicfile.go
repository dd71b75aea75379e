// Package atomicfile writes a file under a temporary name in the target
// directory and moves it into place only once writing succeeded, so readers
// never see a partial file.
package atomicfile

import (
	"bufio"
	"errors"
	"os"
	"path/filepath"

	"github.com/google/renameio/v2"
)

// File is a pending replacement of the file at Path. Exactly one of Close or
// Abort decides its fate; further calls are no-ops.
type File struct {
	Path    string
	pending *renameio.PendingFile
	buf     *bufio.Writer
	done    bool
}

// New creates a temporary file next to path. The parent directory must
// exist.
func New(path string) (*File, error) {
	pending, err := renameio.NewPendingFile(path,
		renameio.WithTempDir(filepath.Dir(path)),
		renameio.WithPermissions(0644))
	if err != nil {
		return nil, err
	}
	return &File{
		Path:    path,
		pending: pending,
		buf:     bufio.NewWriterSize(pending, 256*1024),
	}, nil
}

// Write writes to the temporary file.
func (f *File) Write(p []byte) (int, error) {
	if f.done {
		return 0, os.ErrClosed
	}
	return f.buf.Write(p)
}

// Close flushes the temporary file and atomically replaces Path with it. If
// any step fails, the temporary file is removed and Path is left untouched.
func (f *File) Close() error {
	if f.done {
		return nil
	}
	f.done = true
	if err := f.buf.Flush(); err != nil {
		return errors.Join(err, f.pending.Cleanup())
	}
	if err := f.pending.CloseAtomicallyReplace(); err != nil {
		return errors.Join(err, f.pending.Cleanup())
	}
	if d, err := os.Open(filepath.Dir(f.Path)); err == nil {
		_ = d.Sync()
		_ = d.Close()
	}
	return nil
}

// Abort discards everything written so far.
func (f *File) Abort() error {
	if f.done {
		return nil
	}
	f.done = true
	return f.pending.Cleanup()
}
