package pipeline

import (
	"io"

	"github.com/fbarbe00/Finding-Missing-Trains/internal/gtfs"
)

// Sink receives the rows a feed emits, table by table in write order
type Sink interface {
	BeginTable(t *gtfs.Table, header []string) error
	WriteRow(values []string) error
	CopyTable(t *gtfs.Table, r io.Reader) error
	Commit() error
	Abort()
}

var _ Sink = (*gtfs.ArchiveWriter)(nil)

// discardSink is the stats-mode sink: it accepts everything and writes nothing
type discardSink struct{}

func (discardSink) BeginTable(*gtfs.Table, []string) error { return nil }

func (discardSink) WriteRow([]string) error { return nil }

func (discardSink) CopyTable(*gtfs.Table, io.Reader) error { return nil }

func (discardSink) Commit() error { return nil }

func (discardSink) Abort() {}
