package worker

import (
	"context"
	"fmt"
	"sort"

	"github.com/fbarbe00/Finding-Missing-Trains/internal/model"
	"github.com/fbarbe00/Finding-Missing-Trains/internal/schedule"
)

// Cleaner processes one feed end to end
type Cleaner interface {
	ProcessFeed(ctx context.Context, worker int, feed model.Feed) *model.FeedResult
}

// FeedJob represents one feed on one worker
type FeedJob struct {
	Feed     model.Feed
	Worker   int
	Cleaner  Cleaner
	Progress *Progress
}

// Execute executes the feed job
func (j *FeedJob) Execute(ctx context.Context) Result {
	res := j.Cleaner.ProcessFeed(ctx, j.Worker, j.Feed)
	res.Worker = j.Worker
	if j.Progress != nil {
		j.Progress.Done(res)
	}
	return &FeedOutcome{Result: res}
}

// Skip reports the feed as never started
func (j *FeedJob) Skip(err error) Result {
	res := model.NewFeedResult(j.Feed)
	res.Worker = j.Worker
	res.Outcome = model.OutcomeSkipped
	res.Error = fmt.Sprintf("not started: %v", err)
	return &FeedOutcome{Result: res}
}

// FeedOutcome wraps a feed result for the pool
type FeedOutcome struct {
	Result *model.FeedResult
}

// GetError returns the feed's error, if it failed
func (r *FeedOutcome) GetError() error {
	if r.Result.Outcome != model.OutcomeFailed {
		return nil
	}
	return fmt.Errorf("feed %s: %s", r.Result.FeedID, r.Result.Error)
}

// BatchProcessor runs scheduled assignments on a worker pool
type BatchProcessor struct {
	cleaner  Cleaner
	progress *Progress
}

// NewBatchProcessor creates a new batch processor
func NewBatchProcessor(cleaner Cleaner, progress *Progress) *BatchProcessor {
	return &BatchProcessor{
		cleaner:  cleaner,
		progress: progress,
	}
}

// ProcessAssignments runs every assignment on its own worker and returns
// one result per feed, sorted by feed ID. Feeds not started before ctx is
// done come back as skipped.
func (b *BatchProcessor) ProcessAssignments(ctx context.Context, assignments []schedule.Assignment) []*model.FeedResult {
	if len(assignments) == 0 {
		return []*model.FeedResult{}
	}

	// Create worker pool
	pool := NewPool(ctx, len(assignments))
	for _, a := range assignments {
		for _, f := range a.Feeds {
			pool.Assign(a.Worker, &FeedJob{
				Feed:     f,
				Worker:   a.Worker,
				Cleaner:  b.cleaner,
				Progress: b.progress,
			})
		}
	}
	pool.Start()

	// Wait for all jobs to complete
	results := pool.Wait()

	feedResults := make([]*model.FeedResult, len(results))
	for i, result := range results {
		feedResults[i] = result.(*FeedOutcome).Result
	}
	sort.Slice(feedResults, func(i, j int) bool { return feedResults[i].FeedID < feedResults[j].FeedID })

	return feedResults
}
