package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/fbarbe00/Finding-Missing-Trains/internal/model"
)

func testReport(id string, started time.Time) *model.Report {
	ok := model.NewFeedResult(model.Feed{ID: "aaaa0001", Path: "a.zip", Size: 10})
	ok.Outcome = model.OutcomeCleaned
	ok.Table("stops").Input = 5
	ok.Table("stops").Kept = 4
	ok.Table("stops").Duplicates = 1

	bad := model.NewFeedResult(model.Feed{ID: "aaaa0002", Path: "b.zip", Size: 3})
	bad.Fail(&model.ArchiveError{Path: "b.zip", Err: context.Canceled})

	return &model.Report{
		RunID:      id,
		Mode:       "clean",
		StartedAt:  started,
		FinishedAt: started.Add(time.Minute),
		Config:     model.DefaultConfig(),
		Feeds:      []*model.FeedResult{ok, bad},
		Totals: model.CorpusTotals{
			Feeds:    2,
			Outcomes: map[model.Outcome]int{model.OutcomeCleaned: 1, model.OutcomeFailed: 1},
			Rows:     model.TableCounts{Input: 5, Kept: 4},
		},
	}
}

func TestStore_SaveAndList(t *testing.T) {
	s, err := Open(filepath.Join(t.TempDir(), "runs.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer func() { _ = s.Close() }()

	ctx := context.Background()
	base := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	if err := s.SaveReport(ctx, testReport("run-1", base)); err != nil {
		t.Fatalf("SaveReport: %v", err)
	}
	if err := s.SaveReport(ctx, testReport("run-2", base.Add(time.Hour))); err != nil {
		t.Fatalf("SaveReport: %v", err)
	}

	runs, err := s.ListRuns(ctx, 0)
	if err != nil {
		t.Fatalf("ListRuns: %v", err)
	}
	if len(runs) != 2 || runs[0].ID != "run-2" {
		t.Fatalf("expected newest run first, got %+v", runs)
	}
	if runs[1].Feeds != 2 || runs[1].Failed != 1 || runs[1].RowsKept != 4 {
		t.Errorf("unexpected run row %+v", runs[1])
	}

	limited, _ := s.ListRuns(ctx, 1)
	if len(limited) != 1 {
		t.Errorf("limit ignored: %d runs", len(limited))
	}

	outcomes, err := s.FeedOutcomes(ctx, "run-1")
	if err != nil {
		t.Fatal(err)
	}
	if outcomes["aaaa0001"] != model.OutcomeCleaned || outcomes["aaaa0002"] != model.OutcomeFailed {
		t.Errorf("outcomes = %v", outcomes)
	}
}

func TestStore_DuplicateRunRollsBack(t *testing.T) {
	s, err := Open(filepath.Join(t.TempDir(), "runs.db"))
	if err != nil {
		t.Fatal(err)
	}
	defer func() { _ = s.Close() }()

	ctx := context.Background()
	r := testReport("run-x", time.Now())
	if err := s.SaveReport(ctx, r); err != nil {
		t.Fatal(err)
	}
	if err := s.SaveReport(ctx, r); err == nil {
		t.Fatalf("saving the same run twice should fail")
	}
	var n int
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM feed_results WHERE run_id = ?`, "run-x").Scan(&n); err != nil {
		t.Fatal(err)
	}
	if n != 2 {
		t.Errorf("failed save must not add feed rows, have %d", n)
	}
}
