package gtfs

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"hash"
)

// Fingerprint is a truncated SHA-256 of a row's canonical form
type Fingerprint [16]byte

func (f Fingerprint) String() string {
	return hex.EncodeToString(f[:])
}

const (
	modeIdentity byte = 'i'
	modeWholeRow byte = 'w'
	modeContent  byte = 'c'
)

// RowHasher computes row fingerprints. Not safe for concurrent use;
// each worker owns one.
type RowHasher struct {
	h   hash.Hash
	buf []byte
	sum [sha256.Size]byte
}

// NewRowHasher returns a ready hasher
func NewRowHasher() *RowHasher {
	return &RowHasher{h: sha256.New()}
}

// Identity fingerprints the row's identity key for table t.
// When the key columns are missing or all empty the whole row is used.
func (rh *RowHasher) Identity(t *Table, row Row) Fingerprint {
	if len(t.Key) == 0 || !hasKey(t, row) {
		return rh.pairs(modeWholeRow, t, row)
	}
	rh.start(modeIdentity, t)
	for _, col := range t.Key {
		rh.field(row.Get(col))
	}
	return rh.finish()
}

// Content fingerprints the sorted non-empty (column, value) pairs of the row.
// Column order in the source file does not affect the result.
func (rh *RowHasher) Content(t *Table, row Row) Fingerprint {
	return rh.pairs(modeContent, t, row)
}

func (rh *RowHasher) pairs(mode byte, t *Table, row Row) Fingerprint {
	rh.start(mode, t)
	h := row.header
	if h != nil {
		for _, i := range h.sorted {
			v := row.values[i]
			if v == "" {
				continue
			}
			rh.field(h.columns[i])
			rh.field(v)
		}
	}
	return rh.finish()
}

func hasKey(t *Table, row Row) bool {
	for _, col := range t.Key {
		if row.Get(col) != "" {
			return true
		}
	}
	return false
}

func (rh *RowHasher) start(mode byte, t *Table) {
	rh.h.Reset()
	rh.buf = append(rh.buf[:0], mode)
	rh.field(t.Name)
}

// field appends a length-prefixed value, flushing the scratch buffer when it grows
func (rh *RowHasher) field(v string) {
	rh.buf = binary.AppendUvarint(rh.buf, uint64(len(v)))
	rh.buf = append(rh.buf, v...)
	if len(rh.buf) >= 4096 {
		rh.h.Write(rh.buf)
		rh.buf = rh.buf[:0]
	}
}

func (rh *RowHasher) finish() Fingerprint {
	rh.h.Write(rh.buf)
	rh.buf = rh.buf[:0]
	var fp Fingerprint
	copy(fp[:], rh.h.Sum(rh.sum[:0]))
	return fp
}
