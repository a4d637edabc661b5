// Package dedup classifies rows as first-seen or duplicate, within one feed
// and across the whole corpus.
package dedup

import (
	"github.com/fbarbe00/Finding-Missing-Trains/internal/gtfs"
)

// FeedDeduplicator tracks identity fingerprints for the table currently
// being processed. Memory is bounded by the distinct keys of one table.
type FeedDeduplicator struct {
	hasher *gtfs.RowHasher
	table  string
	seen   map[gtfs.Fingerprint]struct{}
}

// NewFeedDeduplicator returns a deduplicator using hasher
func NewFeedDeduplicator(hasher *gtfs.RowHasher) *FeedDeduplicator {
	return &FeedDeduplicator{hasher: hasher}
}

// Begin starts a new table and releases the previous table's set
func (d *FeedDeduplicator) Begin(t *gtfs.Table) {
	d.table = t.Name
	d.seen = make(map[gtfs.Fingerprint]struct{})
}

// FirstSeen reports whether row's identity has not been seen earlier in the table.
// The first occurrence is recorded; later ones return false.
func (d *FeedDeduplicator) FirstSeen(t *gtfs.Table, row gtfs.Row) bool {
	if d.seen == nil || d.table != t.Name {
		d.Begin(t)
	}
	fp := d.hasher.Identity(t, row)
	if _, dup := d.seen[fp]; dup {
		return false
	}
	d.seen[fp] = struct{}{}
	return true
}

// Len is the number of distinct identities in the current table
func (d *FeedDeduplicator) Len() int {
	return len(d.seen)
}
