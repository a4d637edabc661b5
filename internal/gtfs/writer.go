package gtfs

import (
	"archive/zip"
	"compress/flate"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/fbarbe00/Finding-Missing-Trains/internal/model"
)

// ArchiveWriter streams tables into a new GTFS archive.
// Output goes to a temp file in the destination directory and is renamed
// into place by Commit; Abort or any write failure removes it.
type ArchiveWriter struct {
	path  string
	tmp   *os.File
	zw    *zip.Writer
	cw    *csv.Writer
	table string
	done  bool
}

// CreateArchive starts an archive at path with deflate level 1-9
func CreateArchive(path string, level int) (*ArchiveWriter, error) {
	if level < flate.BestSpeed || level > flate.BestCompression {
		return nil, &model.WriteError{Path: path, Err: fmt.Errorf("compress level %d out of range", level)}
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, &model.WriteError{Path: path, Err: err}
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return nil, &model.WriteError{Path: path, Err: err}
	}

	zw := zip.NewWriter(tmp)
	zw.RegisterCompressor(zip.Deflate, func(out io.Writer) (io.WriteCloser, error) {
		return flate.NewWriter(out, level)
	})

	return &ArchiveWriter{path: path, tmp: tmp, zw: zw}, nil
}

// Path returns the final archive location
func (w *ArchiveWriter) Path() string {
	return w.path
}

// BeginTable starts table t and writes its header
func (w *ArchiveWriter) BeginTable(t *Table, header []string) error {
	if err := w.flush(); err != nil {
		return err
	}
	// Zero modification time keeps output byte-identical across runs
	f, err := w.zw.CreateHeader(&zip.FileHeader{Name: t.File, Method: zip.Deflate})
	if err != nil {
		return w.fail(err)
	}
	w.cw = csv.NewWriter(f)
	w.table = t.Name
	if err := w.cw.Write(header); err != nil {
		return w.fail(err)
	}
	return nil
}

// CopyTable writes a non-CSV table verbatim from r.
// An ArchiveError from r is returned as is; the partial archive is discarded either way.
func (w *ArchiveWriter) CopyTable(t *Table, r io.Reader) error {
	if err := w.flush(); err != nil {
		return err
	}
	w.cw = nil
	f, err := w.zw.CreateHeader(&zip.FileHeader{Name: t.File, Method: zip.Deflate})
	if err != nil {
		return w.fail(err)
	}
	if _, err := io.Copy(f, r); err != nil {
		var archiveErr *model.ArchiveError
		if errors.As(err, &archiveErr) {
			w.Abort()
			return err
		}
		return w.fail(err)
	}
	return nil
}

// WriteRow appends one row to the current table
func (w *ArchiveWriter) WriteRow(values []string) error {
	if w.cw == nil {
		return w.fail(fmt.Errorf("row written before any table"))
	}
	if err := w.cw.Write(values); err != nil {
		return w.fail(err)
	}
	return nil
}

// Commit finishes the archive and renames it into place
func (w *ArchiveWriter) Commit() error {
	if w.done {
		return &model.WriteError{Path: w.path, Err: fmt.Errorf("archive already finished")}
	}
	if err := w.flush(); err != nil {
		return err
	}
	if err := w.zw.Close(); err != nil {
		return w.fail(err)
	}
	if err := w.tmp.Sync(); err != nil {
		return w.fail(err)
	}
	if err := w.tmp.Close(); err != nil {
		return w.fail(err)
	}
	if err := os.Rename(w.tmp.Name(), w.path); err != nil {
		_ = os.Remove(w.tmp.Name())
		w.done = true
		return &model.WriteError{Path: w.path, Err: err}
	}
	w.done = true
	return nil
}

// Abort discards the partial archive. Safe to call more than once.
func (w *ArchiveWriter) Abort() {
	if w.done {
		return
	}
	w.done = true
	_ = w.tmp.Close()
	_ = os.Remove(w.tmp.Name())
}

func (w *ArchiveWriter) flush() error {
	if w.cw == nil {
		return nil
	}
	w.cw.Flush()
	if err := w.cw.Error(); err != nil {
		return w.fail(fmt.Errorf("table %s: %w", w.table, err))
	}
	return nil
}

func (w *ArchiveWriter) fail(err error) error {
	w.Abort()
	return &model.WriteError{Path: w.path, Err: err}
}
