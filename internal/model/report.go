package model

import (
	"fmt"
	"sort"
	"time"
)

// Report is the complete result of one feedclean run
type Report struct {
	RunID      string          `json:"run_id"`      // UUID of the run
	Mode       string          `json:"mode"`        // "clean" or "stats"
	StartedAt  time.Time       `json:"started_at"`  // When the run began
	FinishedAt time.Time       `json:"finished_at"` // When the last feed finished
	Config     *Config         `json:"config"`      // Effective configuration
	Workers    []WorkerSummary `json:"workers"`     // Scheduler assignment per worker
	Feeds      []*FeedResult   `json:"feeds"`       // One entry per input feed, sorted by feed ID
	Totals     CorpusTotals    `json:"totals"`      // Corpus-wide sums
	Errors     []FeedError     `json:"errors,omitempty"`
}

// WorkerSummary describes what the scheduler gave one worker
type WorkerSummary struct {
	Worker  int   `json:"worker"`
	Feeds   int   `json:"feeds"`
	Bytes   int64 `json:"bytes"`
	Unsized int   `json:"unsized,omitempty"`
}

// CorpusTotals aggregates all feed results
type CorpusTotals struct {
	Feeds             int                    `json:"feeds"`
	Outcomes          map[Outcome]int        `json:"outcomes"`
	Tables            map[string]TableCounts `json:"tables"`
	Rows              TableCounts            `json:"rows"`
	CrossFeedDistinct int64                  `json:"cross_feed_distinct,omitempty"` // Distinct content fingerprints in the corpus set
}

// FeedError is one entry of the report's error list
type FeedError struct {
	FeedID  string `json:"feed_id"`
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

// Outcome is the terminal state of one feed
type Outcome string

const (
	OutcomeCleaned          Outcome = "cleaned"           // Output archive written
	OutcomeStatistics       Outcome = "statistics"        // Counted only, no archive
	OutcomeEmpty            Outcome = "empty"             // No route survived the filter
	OutcomeDuplicateArchive Outcome = "duplicate_archive" // Byte-identical to an earlier feed
	OutcomeFailed           Outcome = "failed"            // Archive or write error
	OutcomeSkipped          Outcome = "skipped"           // Never started before the run timeout
)

// TableCounts are the per-table row counters
type TableCounts struct {
	Input               int64 `json:"input"`
	Kept                int64 `json:"kept"`
	Duplicates          int64 `json:"duplicates"`
	Filtered            int64 `json:"filtered"`
	CrossFeedDuplicates int64 `json:"cross_feed_duplicates"`
}

// Add accumulates o into c
func (c *TableCounts) Add(o TableCounts) {
	c.Input += o.Input
	c.Kept += o.Kept
	c.Duplicates += o.Duplicates
	c.Filtered += o.Filtered
	c.CrossFeedDuplicates += o.CrossFeedDuplicates
}

// FeedResult is the immutable per-feed cleaning result
type FeedResult struct {
	FeedID      string                  `json:"feed_id"`
	Path        string                  `json:"path"`
	SourceURL   string                  `json:"source_url,omitempty"`
	Size        int64                   `json:"size"`
	Unsized     bool                    `json:"unsized,omitempty"`
	Signature   string                  `json:"signature,omitempty"`
	Worker      int                     `json:"worker"`
	Outcome     Outcome                 `json:"outcome"`
	DuplicateOf string                  `json:"duplicate_of,omitempty"`
	OutputPath  string                  `json:"output_path,omitempty"`
	Tables      map[string]*TableCounts `json:"tables,omitempty"`
	Warnings    []Warning               `json:"warnings,omitempty"`
	Error       string                  `json:"error,omitempty"`
	ErrorKind   string                  `json:"error_kind,omitempty"`
	Stats       *FeedStats              `json:"stats,omitempty"`
	Cached      bool                    `json:"cached,omitempty"`
	Salvaged    bool                    `json:"salvaged,omitempty"`
	Duration    time.Duration           `json:"duration"`
}

// NewFeedResult starts a result for feed f
func NewFeedResult(f Feed) *FeedResult {
	return &FeedResult{
		FeedID:    f.ID,
		Path:      f.Path,
		SourceURL: f.SourceURL,
		Size:      f.Size,
		Unsized:   !f.Sized(),
		Worker:    -1,
		Tables:    make(map[string]*TableCounts),
	}
}

// Table returns the mutable counters for table, creating them on first use
func (r *FeedResult) Table(table string) *TableCounts {
	c, ok := r.Tables[table]
	if !ok {
		c = &TableCounts{}
		r.Tables[table] = c
	}
	return c
}

// Totals sums the per-table counters
func (r *FeedResult) Totals() TableCounts {
	var total TableCounts
	for _, c := range r.Tables {
		total.Add(*c)
	}
	return total
}

// Fail marks the result failed with err.
// Nothing was emitted, so partial counts and statistics are discarded.
func (r *FeedResult) Fail(err error) {
	r.Tables = make(map[string]*TableCounts)
	r.Stats = nil
	r.OutputPath = ""
	r.Outcome = OutcomeFailed
	r.Error = err.Error()
	r.ErrorKind = ErrorKind(err)
}

// FeedStats are descriptive statistics gathered from emitted rows
type FeedStats struct {
	RouteTypes []int            `json:"route_types,omitempty"` // Sorted distinct route_type values
	StartDate  string           `json:"start_date,omitempty"`  // Earliest service date, YYYYMMDD
	EndDate    string           `json:"end_date,omitempty"`    // Latest service date, YYYYMMDD
	BBox       *BBox            `json:"bbox,omitempty"`        // Extent of emitted stops
	TableSizes map[string]int64 `json:"table_sizes,omitempty"` // Uncompressed input size per table
}

// BBox is a WGS84 bounding box
type BBox struct {
	MinLat float64 `json:"min_lat"`
	MinLon float64 `json:"min_lon"`
	MaxLat float64 `json:"max_lat"`
	MaxLon float64 `json:"max_lon"`
}

// Extend grows the box to contain (lat, lon)
func (b *BBox) Extend(lat, lon float64) {
	b.MinLat = min(b.MinLat, lat)
	b.MinLon = min(b.MinLon, lon)
	b.MaxLat = max(b.MaxLat, lat)
	b.MaxLon = max(b.MaxLon, lon)
}

// WarningKind classifies non-fatal conditions
type WarningKind string

const (
	WarningSchema          WarningKind = "schema"           // Missing optional table/column, unknown file, encoding fallback
	WarningFilterAmbiguity WarningKind = "filter_ambiguity" // Filter failed open
)

// Warning is a non-fatal condition recorded for a feed.
// Identical warnings are folded into one entry with a count.
type Warning struct {
	Kind    WarningKind `json:"kind"`
	Table   string      `json:"table,omitempty"`
	Message string      `json:"message"`
	Count   int         `json:"count"`
}

func (w Warning) String() string {
	s := fmt.Sprintf("[%s] %s", w.Kind, w.Message)
	if w.Table != "" {
		s = fmt.Sprintf("[%s] %s: %s", w.Kind, w.Table, w.Message)
	}
	if w.Count > 1 {
		s += fmt.Sprintf(" (x%d)", w.Count)
	}
	return s
}

// Warnings collects warnings for one feed. Not safe for concurrent use.
type Warnings struct {
	index map[warningKey]int
	list  []Warning
}

type warningKey struct {
	kind    WarningKind
	table   string
	message string
}

// Add records a warning, folding it into an identical earlier one
func (w *Warnings) Add(kind WarningKind, table, format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	key := warningKey{kind, table, msg}
	if w.index == nil {
		w.index = make(map[warningKey]int)
	}
	if i, ok := w.index[key]; ok {
		w.list[i].Count++
		return
	}
	w.index[key] = len(w.list)
	w.list = append(w.list, Warning{Kind: kind, Table: table, Message: msg, Count: 1})
}

// List returns the warnings in a stable order
func (w *Warnings) List() []Warning {
	out := append([]Warning(nil), w.list...)
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Table != out[j].Table {
			return out[i].Table < out[j].Table
		}
		if out[i].Kind != out[j].Kind {
			return out[i].Kind < out[j].Kind
		}
		return out[i].Message < out[j].Message
	})
	return out
}

// Len is the number of distinct warnings
func (w *Warnings) Len() int {
	return len(w.list)
}
