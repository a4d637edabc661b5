package dedup

import (
	"bufio"
	"bytes"
	"encoding/gob"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/fbarbe00/Finding-Missing-Trains/internal/gtfs"
)

const shardCount = 64

// CorpusSet is the corpus-wide set of content fingerprints shared by all workers.
// It holds only 16-byte digests.
type CorpusSet struct {
	shards [shardCount]shard
}

type shard struct {
	mu  sync.Mutex
	set map[gtfs.Fingerprint]struct{}
}

// NewCorpusSet returns an empty set
func NewCorpusSet() *CorpusSet {
	c := &CorpusSet{}
	for i := range c.shards {
		c.shards[i].set = make(map[gtfs.Fingerprint]struct{})
	}
	return c
}

func (c *CorpusSet) shard(fp gtfs.Fingerprint) *shard {
	return &c.shards[fp[0]%shardCount]
}

// Add inserts fp if absent and reports whether this call inserted it.
// Among concurrent callers with the same fingerprint exactly one sees true.
func (c *CorpusSet) Add(fp gtfs.Fingerprint) bool {
	s := c.shard(fp)
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.set[fp]; ok {
		return false
	}
	s.set[fp] = struct{}{}
	return true
}

// Contains reports whether fp is in the set
func (c *CorpusSet) Contains(fp gtfs.Fingerprint) bool {
	s := c.shard(fp)
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.set[fp]
	return ok
}

// Len is the number of distinct fingerprints
func (c *CorpusSet) Len() int {
	n := 0
	for i := range c.shards {
		s := &c.shards[i]
		s.mu.Lock()
		n += len(s.set)
		s.mu.Unlock()
	}
	return n
}

// snapshot is the gob form of the set
type snapshot struct {
	Version      int
	Fingerprints []gtfs.Fingerprint
}

const snapshotVersion = 1

// Save writes the set to path as a sorted gob snapshot via a temp file
func (c *CorpusSet) Save(path string) error {
	all := make([]gtfs.Fingerprint, 0, c.Len())
	for i := range c.shards {
		s := &c.shards[i]
		s.mu.Lock()
		for fp := range s.set {
			all = append(all, fp)
		}
		s.mu.Unlock()
	}
	sort.Slice(all, func(i, j int) bool { return bytes.Compare(all[i][:], all[j][:]) < 0 })

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("create snapshot dir: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), ".fingerprints.*.tmp")
	if err != nil {
		return fmt.Errorf("create snapshot: %w", err)
	}
	defer func() { _ = os.Remove(tmp.Name()) }()

	w := bufio.NewWriter(tmp)
	if err := gob.NewEncoder(w).Encode(snapshot{Version: snapshotVersion, Fingerprints: all}); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("encode snapshot: %w", err)
	}
	if err := w.Flush(); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("write snapshot: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close snapshot: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("rename snapshot: %w", err)
	}
	return nil
}

// Load merges a snapshot written by Save into the set.
// A missing file is not an error and loads nothing.
func (c *CorpusSet) Load(path string) (int, error) {
	f, err := os.Open(path)
	if errors.Is(err, fs.ErrNotExist) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("open snapshot: %w", err)
	}
	defer func() { _ = f.Close() }()

	var snap snapshot
	if err := gob.NewDecoder(bufio.NewReader(f)).Decode(&snap); err != nil {
		return 0, fmt.Errorf("decode snapshot: %w", err)
	}
	if snap.Version != snapshotVersion {
		return 0, fmt.Errorf("snapshot version %d not supported", snap.Version)
	}
	for _, fp := range snap.Fingerprints {
		c.Add(fp)
	}
	return len(snap.Fingerprints), nil
}
