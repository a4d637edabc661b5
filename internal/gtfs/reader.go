package gtfs

import (
	"archive/zip"
	"bufio"
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"iter"
	"path"
	"sort"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/encoding/charmap"

	"github.com/fbarbe00/Finding-Missing-Trains/internal/model"
)

const (
	utf8BOM   = "\uFEFF"
	sniffSize = 64 << 10
)

// Options configures an Archive
type Options struct {
	// BufferThreshold is the largest uncompressed table size, in bytes,
	// that is decompressed once and replayed from memory.
	BufferThreshold int64

	// Warn receives schema warnings (unknown files, encoding fallback, ragged rows)
	Warn func(table, message string)

	// Salvage reads every table once at Open and drops entries that cannot
	// be decompressed, so a damaged archive yields its remaining tables.
	Salvage bool
}

// Archive is an open GTFS feed archive
type Archive struct {
	path    string
	zr      *zip.ReadCloser
	opts    Options
	entries map[string]*zip.File // table name -> entry
	unknown []string

	headers map[string]*Header
	buffers map[string][]byte
	latin1  map[string]bool
	warned  map[string]bool
}

// Open opens the archive at path and indexes its tables.
// Present and absent tables are known before any rows are read.
func Open(path string, opts Options) (*Archive, error) {
	zr, err := zip.OpenReader(path)
	if err != nil {
		return nil, &model.ArchiveError{Path: path, Err: err}
	}

	a := &Archive{
		path:    path,
		zr:      zr,
		opts:    opts,
		entries: make(map[string]*zip.File),
		headers: make(map[string]*Header),
		buffers: make(map[string][]byte),
		latin1:  make(map[string]bool),
		warned:  make(map[string]bool),
	}
	a.index()
	if opts.Salvage {
		a.salvage()
	}
	return a, nil
}

func (a *Archive) index() {
	depth := make(map[string]int)
	for _, f := range a.zr.File {
		if f.FileInfo().IsDir() || ignoredEntry(f.Name) {
			continue
		}
		t, ok := Lookup(f.Name)
		if !ok {
			a.unknown = append(a.unknown, f.Name)
			continue
		}
		// Prefer the shallowest entry, then the lexically smallest
		d := strings.Count(strings.Trim(f.Name, "/"), "/")
		if prev, seen := a.entries[t.Name]; seen {
			if d > depth[t.Name] || (d == depth[t.Name] && f.Name > prev.Name) {
				continue
			}
		}
		a.entries[t.Name] = f
		depth[t.Name] = d
	}
	sort.Strings(a.unknown)
	for _, name := range a.unknown {
		a.warn("", fmt.Sprintf("unknown file %s dropped", name))
	}
}

// salvage drops entries whose data is truncated or fails its checksum
func (a *Archive) salvage() {
	names := make([]string, 0, len(a.entries))
	for name := range a.entries {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		f := a.entries[name]
		if err := readAll(f); err != nil {
			delete(a.entries, name)
			a.warn(name, fmt.Sprintf("unreadable entry %s skipped: %v", f.Name, err))
		}
	}
}

func readAll(f *zip.File) error {
	rc, err := f.Open()
	if err != nil {
		return err
	}
	defer func() { _ = rc.Close() }()
	_, err = io.Copy(io.Discard, rc)
	return err
}

func ignoredEntry(name string) bool {
	base := path.Base(name)
	return strings.HasPrefix(name, "__MACOSX/") || strings.HasPrefix(base, ".")
}

// Close releases the archive
func (a *Archive) Close() error {
	a.buffers = nil
	return a.zr.Close()
}

// Path returns the archive location
func (a *Archive) Path() string {
	return a.path
}

// Has reports whether table is present
func (a *Archive) Has(table string) bool {
	_, ok := a.entries[table]
	return ok
}

// Tables returns the present tables in write order
func (a *Archive) Tables() []*Table {
	var out []*Table
	for _, t := range writeOrder {
		if a.Has(t.Name) {
			out = append(out, t)
		}
	}
	return out
}

// Unknown returns entries that are not GTFS tables
func (a *Archive) Unknown() []string {
	return a.unknown
}

// Size returns the uncompressed size of table, or 0 when absent
func (a *Archive) Size(table string) int64 {
	f, ok := a.entries[table]
	if !ok {
		return 0
	}
	return int64(f.UncompressedSize64)
}

// Header returns the column list of table. Absent or empty tables have a nil header.
func (a *Archive) Header(table string) (*Header, error) {
	if h, ok := a.headers[table]; ok {
		return h, nil
	}
	if !a.Has(table) {
		return nil, nil
	}
	r, closer, err := a.open(table)
	if err != nil {
		return nil, err
	}
	defer func() { _ = closer.Close() }()

	h, err := readHeader(newCSVReader(r))
	if err != nil {
		return nil, a.tableErr(table, err)
	}
	a.headers[table] = h
	return h, nil
}

// Rows returns a lazy, finite sequence over the rows of table.
// The sequence is restartable: every iteration reopens the table.
// A failure mid-stream is yielded once as an ArchiveError and ends the sequence.
func (a *Archive) Rows(table string) iter.Seq2[Row, error] {
	return func(yield func(Row, error) bool) {
		if !a.Has(table) {
			return
		}
		r, closer, err := a.open(table)
		if err != nil {
			yield(Row{}, err)
			return
		}
		defer func() { _ = closer.Close() }()

		cr := newCSVReader(r)
		h, err := readHeader(cr)
		if err != nil {
			yield(Row{}, a.tableErr(table, err))
			return
		}
		if h == nil {
			return
		}
		a.headers[table] = h

		n := h.Len()
		for {
			rec, err := cr.Read()
			if err == io.EOF {
				return
			}
			if err != nil {
				yield(Row{}, a.tableErr(table, err))
				return
			}
			values := make([]string, n)
			for i := 0; i < n && i < len(rec); i++ {
				values[i] = strings.TrimSpace(rec[i])
			}
			if len(rec) > n && !allBlank(rec[n:]) {
				a.warnOnce(table, "rows with more fields than the header were truncated")
			}
			if !yield(Row{header: h, values: values}, nil) {
				return
			}
		}
	}
}

// OpenRaw returns the undecoded bytes of table. Read failures surface as ArchiveError.
func (a *Archive) OpenRaw(table string) (io.ReadCloser, error) {
	f, ok := a.entries[table]
	if !ok {
		return nil, a.tableErr(table, fs.ErrNotExist)
	}
	rc, err := f.Open()
	if err != nil {
		return nil, a.tableErr(table, err)
	}
	return &rawReader{a: a, table: table, rc: rc}, nil
}

type rawReader struct {
	a     *Archive
	table string
	rc    io.ReadCloser
}

func (r *rawReader) Read(p []byte) (int, error) {
	n, err := r.rc.Read(p)
	if err != nil && err != io.EOF {
		err = r.a.tableErr(r.table, err)
	}
	return n, err
}

func (r *rawReader) Close() error { return r.rc.Close() }

// open returns a decoded reader over the table's bytes
func (a *Archive) open(table string) (io.Reader, io.Closer, error) {
	if buf, ok := a.buffers[table]; ok {
		return bytes.NewReader(buf), nopCloser{}, nil
	}

	f := a.entries[table]
	rc, err := f.Open()
	if err != nil {
		return nil, nil, a.tableErr(table, err)
	}

	if int64(f.UncompressedSize64) <= a.opts.BufferThreshold {
		data, err := io.ReadAll(rc)
		_ = rc.Close()
		if err != nil {
			return nil, nil, a.tableErr(table, err)
		}
		if !utf8.Valid(data) {
			a.fallback(table)
			data, err = charmap.ISO8859_1.NewDecoder().Bytes(data)
			if err != nil {
				return nil, nil, a.tableErr(table, err)
			}
		}
		a.buffers[table] = data
		return bytes.NewReader(data), nopCloser{}, nil
	}

	br := bufio.NewReaderSize(rc, sniffSize)
	if a.latin1[table] {
		return charmap.ISO8859_1.NewDecoder().Reader(br), rc, nil
	}
	peek, err := br.Peek(sniffSize)
	if err != nil && !errors.Is(err, io.EOF) && !errors.Is(err, bufio.ErrBufferFull) {
		_ = rc.Close()
		return nil, nil, a.tableErr(table, err)
	}
	if !validUTF8Prefix(peek) {
		a.fallback(table)
		return charmap.ISO8859_1.NewDecoder().Reader(br), rc, nil
	}
	return br, rc, nil
}

func (a *Archive) fallback(table string) {
	if !a.latin1[table] {
		a.latin1[table] = true
		a.warn(table, "not valid UTF-8, decoded as ISO-8859-1")
	}
}

func (a *Archive) tableErr(table string, err error) error {
	var archiveErr *model.ArchiveError
	if errors.As(err, &archiveErr) {
		return err
	}
	return &model.ArchiveError{Path: a.path, Table: table, Err: err}
}

func (a *Archive) warn(table, msg string) {
	if a.opts.Warn != nil {
		a.opts.Warn(table, msg)
	}
}

func (a *Archive) warnOnce(table, msg string) {
	key := table + "\x00" + msg
	if a.warned[key] {
		return
	}
	a.warned[key] = true
	a.warn(table, msg)
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

func newCSVReader(r io.Reader) *csv.Reader {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.LazyQuotes = true
	return cr
}

// readHeader reads the first record; an empty table yields a nil header
func readHeader(cr *csv.Reader) (*Header, error) {
	rec, err := cr.Read()
	if err == io.EOF {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	columns := make([]string, len(rec))
	for i, c := range rec {
		if i == 0 {
			c = strings.TrimPrefix(c, utf8BOM)
		}
		columns[i] = strings.TrimSpace(c)
	}
	return NewHeader(columns), nil
}

// validUTF8Prefix ignores a rune cut off at the end of the sniffed window
func validUTF8Prefix(b []byte) bool {
	for i := len(b) - 1; i >= 0 && i >= len(b)-utf8.UTFMax; i-- {
		if utf8.RuneStart(b[i]) {
			if !utf8.FullRune(b[i:]) {
				b = b[:i]
			}
			break
		}
	}
	return utf8.Valid(b)
}

func allBlank(values []string) bool {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return false
		}
	}
	return true
}
