package worker

import (
	"log/slog"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"github.com/fbarbe00/Finding-Missing-Trains/internal/model"
)

// Progress counts finished feeds and logs throttled progress lines
type Progress struct {
	logger     *slog.Logger
	total      int
	totalBytes int64
	started    time.Time
	sometimes  *rate.Sometimes

	done   atomic.Int64
	failed atomic.Int64
	bytes  atomic.Int64
}

// NewProgress tracks total feeds of totalBytes. A zero interval logs every feed.
func NewProgress(logger *slog.Logger, total int, totalBytes int64, interval time.Duration) *Progress {
	s := &rate.Sometimes{Interval: interval}
	if interval <= 0 {
		s = &rate.Sometimes{Every: 1}
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Progress{
		logger:     logger,
		total:      total,
		totalBytes: totalBytes,
		started:    time.Now(),
		sometimes:  s,
	}
}

// Done records a finished feed. Safe for concurrent use.
func (p *Progress) Done(res *model.FeedResult) {
	done := p.done.Add(1)
	if res.Outcome == model.OutcomeFailed {
		p.failed.Add(1)
	}
	if res.Size > 0 {
		p.bytes.Add(res.Size)
	}

	last := int(done) == p.total
	log := func() {
		p.logger.Info("progress",
			"done", done,
			"total", p.total,
			"failed", p.failed.Load(),
			"bytes", p.bytes.Load(),
			"total_bytes", p.totalBytes,
			"elapsed", time.Since(p.started).Round(time.Millisecond),
		)
	}
	if last {
		log()
		return
	}
	p.sometimes.Do(log)
}

// Count returns finished and failed feed counts
func (p *Progress) Count() (done, failed int64) {
	return p.done.Load(), p.failed.Load()
}
