// Package schedule partitions feeds across workers by byte size.
package schedule

import (
	"container/heap"
	"sort"

	"github.com/fbarbe00/Finding-Missing-Trains/internal/model"
)

// Assignment is the list of feeds one worker processes, in processing order
type Assignment struct {
	Worker  int
	Feeds   []model.Feed
	Bytes   int64 // Sum of sized feeds
	Unsized int   // Feeds placed without a known size
	largest int64
}

// Schedule is the result of Plan
type Schedule struct {
	Assignments []Assignment
	Total       int64    // Bytes over all sized feeds
	Bottlenecks []string // Feeds larger than the fair share total/W
}

// MaxLoad is the largest per-worker byte sum
func (s *Schedule) MaxLoad() int64 {
	var m int64
	for _, a := range s.Assignments {
		m = max(m, a.Bytes)
	}
	return m
}

// Summary describes the assignment for the report
func (s *Schedule) Summary() []model.WorkerSummary {
	out := make([]model.WorkerSummary, len(s.Assignments))
	for i, a := range s.Assignments {
		out[i] = model.WorkerSummary{Worker: a.Worker, Feeds: len(a.Feeds), Bytes: a.Bytes, Unsized: a.Unsized}
	}
	return out
}

// Plan assigns every feed to exactly one of workers lists using greedy
// longest-processing-time-first: feeds sorted by descending size (ties by ID)
// go to the least loaded worker. Equal loads prefer the worker whose largest
// feed is smallest, then the lowest index. The maximum load is at most
// (4/3 - 1/(3W)) times optimal. Feeds are never split.
//
// Feeds with unknown size (Size < 0) follow the sized ones round-robin in ID order.
func Plan(feeds []model.Feed, workers int) *Schedule {
	if workers <= 0 {
		workers = 1
	}

	var sized, unsized []model.Feed
	for _, f := range feeds {
		if f.Sized() {
			sized = append(sized, f)
		} else {
			unsized = append(unsized, f)
		}
	}
	sort.Slice(sized, func(i, j int) bool {
		if sized[i].Size != sized[j].Size {
			return sized[i].Size > sized[j].Size
		}
		return sized[i].ID < sized[j].ID
	})
	sort.Slice(unsized, func(i, j int) bool { return unsized[i].ID < unsized[j].ID })

	s := &Schedule{Assignments: make([]Assignment, workers)}
	h := make(loadHeap, workers)
	for i := range s.Assignments {
		s.Assignments[i].Worker = i
		h[i] = &s.Assignments[i]
	}
	heap.Init(&h)

	for _, f := range sized {
		a := h[0]
		a.Feeds = append(a.Feeds, f)
		a.Bytes += f.Size
		a.largest = max(a.largest, f.Size)
		s.Total += f.Size
		heap.Fix(&h, 0)
	}

	for i, f := range unsized {
		a := &s.Assignments[i%workers]
		a.Feeds = append(a.Feeds, f)
		a.Unsized++
	}

	for _, f := range sized {
		if f.Size*int64(workers) > s.Total {
			s.Bottlenecks = append(s.Bottlenecks, f.ID)
		}
	}
	return s
}

// loadHeap orders workers by (load, largest feed, index)
type loadHeap []*Assignment

func (h loadHeap) Len() int { return len(h) }

func (h loadHeap) Less(i, j int) bool {
	a, b := h[i], h[j]
	if a.Bytes != b.Bytes {
		return a.Bytes < b.Bytes
	}
	if a.largest != b.largest {
		return a.largest < b.largest
	}
	return a.Worker < b.Worker
}

func (h loadHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *loadHeap) Push(x any) { *h = append(*h, x.(*Assignment)) }

func (h *loadHeap) Pop() any {
	old := *h
	n := len(old)
	x := old[n-1]
	*h = old[:n-1]
	return x
}
