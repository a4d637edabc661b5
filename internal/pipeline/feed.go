package pipeline

import (
	"context"
	"errors"
	"path/filepath"
	"time"

	"github.com/fbarbe00/Finding-Missing-Trains/internal/dedup"
	"github.com/fbarbe00/Finding-Missing-Trains/internal/filter"
	"github.com/fbarbe00/Finding-Missing-Trains/internal/gtfs"
	"github.com/fbarbe00/Finding-Missing-Trains/internal/model"
)

// requiredTables must be present in a usable feed; their absence is only a warning
var requiredTables = []string{"agency", "stops", "routes", "trips", "stop_times"}

// ProcessFeed runs one feed end to end: read, filter, deduplicate, emit.
// It never returns nil; failures are recorded on the result.
func (p *Pipeline) ProcessFeed(ctx context.Context, worker int, feed model.Feed) *model.FeedResult {
	start := time.Now()
	sig := p.signatures[feed.ID]

	if p.results != nil && sig != "" {
		if res, ok := p.results.get(sig, feed); ok {
			res.Worker = worker
			p.logger.DebugContext(ctx, "feed statistics from cache", "feed", feed.ID)
			return res
		}
	}

	res, err := p.attempt(feed, worker, sig, false)
	if err != nil && p.cfg.Salvage && salvageable(err) {
		p.logger.InfoContext(ctx, "salvaging damaged archive", "feed", feed.ID, "error", err)
		if salvaged, serr := p.attempt(feed, worker, sig, true); serr == nil {
			res, err = salvaged, nil
			res.Salvaged = true
		}
	}
	res.Duration = time.Since(start)

	if err != nil {
		res.Fail(err)
		p.logger.WarnContext(ctx, "feed failed", "feed", feed.ID, "kind", res.ErrorKind, "error", err)
		return res
	}
	for _, w := range res.Warnings {
		p.logger.DebugContext(ctx, "feed warning", "feed", feed.ID, "warning", w.String())
	}

	if p.results != nil && sig != "" {
		if err := p.results.put(sig, res); err != nil {
			p.logger.WarnContext(ctx, "cache write failed", "feed", feed.ID, "error", err)
		}
	}
	return res
}

// attempt runs cleanFeed on a fresh result
func (p *Pipeline) attempt(feed model.Feed, worker int, sig string, salvage bool) (*model.FeedResult, error) {
	res := model.NewFeedResult(feed)
	res.Worker = worker
	res.Signature = sig

	var warns model.Warnings
	err := p.cleanFeed(feed, res, &warns, salvage)
	res.Warnings = warns.List()
	return res, err
}

// salvageable reports a read failure inside an entry of an otherwise readable archive
func salvageable(err error) bool {
	var archiveErr *model.ArchiveError
	return errors.As(err, &archiveErr) && archiveErr.Table != ""
}

func (p *Pipeline) cleanFeed(feed model.Feed, res *model.FeedResult, warns *model.Warnings, salvage bool) error {
	a, err := gtfs.Open(feed.Path, gtfs.Options{
		BufferThreshold: p.cfg.RowBufferThreshold,
		Salvage:         salvage,
		Warn: func(table, msg string) {
			warns.Add(model.WarningSchema, table, "%s", msg)
		},
	})
	if err != nil {
		return err
	}
	defer func() { _ = a.Close() }()

	for _, name := range requiredTables {
		if !a.Has(name) {
			warns.Add(model.WarningSchema, name, "required table missing")
		}
	}
	if !a.Has("calendar") && !a.Has("calendar_dates") {
		warns.Add(model.WarningSchema, "calendar", "neither calendar nor calendar_dates present")
	}

	decisions, err := filter.Decide(a, p.rules, warns)
	if err != nil {
		return err
	}
	if decisions.Empty() {
		res.Outcome = model.OutcomeEmpty
		return nil
	}
	if !p.included("stop_times") {
		if err := decisions.SeedStops(a); err != nil {
			return err
		}
	}

	sink, err := p.newSink(feed)
	if err != nil {
		return err
	}
	committed := false
	defer func() {
		if !committed {
			sink.Abort()
		}
	}()

	var stats *statsCollector
	if p.mode == ModeStats {
		stats = newStatsCollector()
	}

	hasher := gtfs.NewRowHasher()
	dd := dedup.NewFeedDeduplicator(hasher)
	var pending []pendingRow

	for _, t := range a.Tables() {
		if !p.included(t.Name) {
			continue
		}
		if t.Raw {
			if stats != nil {
				stats.size(t.Name, a.Size(t.Name))
				continue
			}
			if err := copyRaw(a, t, sink); err != nil {
				return err
			}
			continue
		}
		header, err := a.Header(t.Name)
		if err != nil {
			return err
		}
		if header == nil {
			warns.Add(model.WarningSchema, t.Name, "empty file dropped")
			continue
		}
		if stats != nil {
			stats.size(t.Name, a.Size(t.Name))
		}
		if err := sink.BeginTable(t, header.Columns()); err != nil {
			return err
		}
		dd.Begin(t)
		counts := res.Table(t.Name)

		for row, err := range a.Rows(t.Name) {
			if err != nil {
				return err
			}
			counts.Input++

			if !decisions.Keep(t, row) {
				counts.Filtered++
				continue
			}
			if !dd.FirstSeen(t, row) {
				counts.Duplicates++
				continue
			}
			if p.corpus != nil {
				pending = append(pending, pendingRow{counts: counts, fp: hasher.Content(t, row)})
			}

			if err := sink.WriteRow(row.Values()); err != nil {
				return err
			}
			decisions.Note(t, row)
			if stats != nil {
				stats.observe(t, row)
			}
			counts.Kept++
		}
	}

	if err := sink.Commit(); err != nil {
		return err
	}
	committed = true

	// Only committed rows enter the corpus. Repeats are reported, never suppressed.
	for _, pr := range pending {
		if !p.corpus.Add(pr.fp) {
			pr.counts.CrossFeedDuplicates++
		}
	}

	if p.mode == ModeStats {
		res.Outcome = model.OutcomeStatistics
		res.Stats = stats.result()
		return nil
	}
	res.Outcome = model.OutcomeCleaned
	res.OutputPath = p.outputPath(feed)
	return nil
}

// pendingRow is an emitted row waiting for its feed to commit
type pendingRow struct {
	counts *model.TableCounts
	fp     gtfs.Fingerprint
}

func copyRaw(a *gtfs.Archive, t *gtfs.Table, sink Sink) error {
	rc, err := a.OpenRaw(t.Name)
	if err != nil {
		return err
	}
	defer func() { _ = rc.Close() }()
	return sink.CopyTable(t, rc)
}

func (p *Pipeline) newSink(feed model.Feed) (Sink, error) {
	if p.mode == ModeStats {
		return discardSink{}, nil
	}
	return gtfs.CreateArchive(p.outputPath(feed), p.cfg.CompressLevel)
}

func (p *Pipeline) outputPath(feed model.Feed) string {
	return filepath.Join(p.cfg.OutputDir, feed.ID+".zip")
}

func (p *Pipeline) included(table string) bool {
	return len(p.include) == 0 || p.include[table]
}
