package worker

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/fbarbe00/Finding-Missing-Trains/internal/model"
	"github.com/fbarbe00/Finding-Missing-Trains/internal/schedule"
)

// MockCleaner implements Cleaner
type MockCleaner struct {
	FailIDs map[string]bool
	Delay   time.Duration

	mu   sync.Mutex
	seen map[string]int // feed -> worker
}

func (m *MockCleaner) ProcessFeed(ctx context.Context, worker int, feed model.Feed) *model.FeedResult {
	time.Sleep(m.Delay) // Simulate work
	m.mu.Lock()
	if m.seen == nil {
		m.seen = make(map[string]int)
	}
	m.seen[feed.ID] = worker
	m.mu.Unlock()

	res := model.NewFeedResult(feed)
	if m.FailIDs[feed.ID] {
		res.Fail(&model.ArchiveError{Path: feed.Path, Err: errors.New("corrupt")})
		return res
	}
	res.Outcome = model.OutcomeCleaned
	return res
}

func TestBatchProcessor_ProcessAssignments(t *testing.T) {
	feeds := []model.Feed{
		{ID: "c", Size: 30},
		{ID: "a", Size: 10},
		{ID: "b", Size: 20},
		{ID: "d", Size: 5},
	}
	plan := schedule.Plan(feeds, 2)

	cleaner := &MockCleaner{FailIDs: map[string]bool{"b": true}}
	progress := NewProgress(nil, len(feeds), 65, 0)
	processor := NewBatchProcessor(cleaner, progress)

	results := processor.ProcessAssignments(context.Background(), plan.Assignments)

	if len(results) != 4 {
		t.Fatalf("expected 4 results, got %d", len(results))
	}
	for i, want := range []string{"a", "b", "c", "d"} {
		if results[i].FeedID != want {
			t.Errorf("results not sorted: position %d is %s", i, results[i].FeedID)
		}
	}

	for _, a := range plan.Assignments {
		for _, f := range a.Feeds {
			if cleaner.seen[f.ID] != a.Worker {
				t.Errorf("feed %s ran on worker %d, assigned to %d", f.ID, cleaner.seen[f.ID], a.Worker)
			}
		}
	}

	if results[1].Outcome != model.OutcomeFailed || results[1].ErrorKind != "archive" {
		t.Errorf("feed b should fail with an archive error, got %s/%s", results[1].Outcome, results[1].ErrorKind)
	}
	if results[0].Outcome != model.OutcomeCleaned {
		t.Errorf("a failure must not affect sibling feeds")
	}

	done, failed := progress.Count()
	if done != 4 || failed != 1 {
		t.Errorf("progress counted %d done, %d failed", done, failed)
	}
}

func TestBatchProcessor_ProcessAssignments_Empty(t *testing.T) {
	processor := NewBatchProcessor(&MockCleaner{}, nil)

	results := processor.ProcessAssignments(context.Background(), nil)
	if len(results) != 0 {
		t.Errorf("expected 0 results, got %d", len(results))
	}
}

func TestBatchProcessor_TimeoutReportsSkipped(t *testing.T) {
	feeds := []model.Feed{{ID: "a", Size: 3}, {ID: "b", Size: 2}, {ID: "c", Size: 1}}
	plan := schedule.Plan(feeds, 1)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	processor := NewBatchProcessor(&MockCleaner{Delay: 60 * time.Millisecond}, nil)
	results := processor.ProcessAssignments(ctx, plan.Assignments)

	if len(results) != 3 {
		t.Fatalf("expected 3 results, got %d", len(results))
	}
	if results[0].Outcome != model.OutcomeCleaned {
		t.Errorf("in-flight feed a should finish, got %s", results[0].Outcome)
	}
	for _, r := range results[1:] {
		if r.Outcome != model.OutcomeSkipped {
			t.Errorf("feed %s should be skipped, got %s", r.FeedID, r.Outcome)
		}
	}
}

func TestFeedOutcome_GetError(t *testing.T) {
	ok := &FeedOutcome{Result: &model.FeedResult{FeedID: "a", Outcome: model.OutcomeCleaned}}
	if ok.GetError() != nil {
		t.Errorf("expected nil error, got %v", ok.GetError())
	}

	failed := &FeedOutcome{Result: &model.FeedResult{FeedID: "b", Outcome: model.OutcomeFailed, Error: "boom"}}
	if failed.GetError() == nil {
		t.Errorf("expected error for failed feed")
	}
}
