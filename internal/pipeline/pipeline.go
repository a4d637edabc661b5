package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/fbarbe00/Finding-Missing-Trains/internal/cache"
	"github.com/fbarbe00/Finding-Missing-Trains/internal/dedup"
	"github.com/fbarbe00/Finding-Missing-Trains/internal/filter"
	"github.com/fbarbe00/Finding-Missing-Trains/internal/gtfs"
	"github.com/fbarbe00/Finding-Missing-Trains/internal/model"
	"github.com/fbarbe00/Finding-Missing-Trains/internal/schedule"
	"github.com/fbarbe00/Finding-Missing-Trains/internal/store"
	"github.com/fbarbe00/Finding-Missing-Trains/internal/worker"
)

// Mode selects what a run produces
type Mode string

const (
	ModeClean Mode = "clean" // Write cleaned archives
	ModeStats Mode = "stats" // Count and describe only
)

// Pipeline orchestrates a complete run over a set of feeds
type Pipeline struct {
	cfg      *model.Config
	mode     Mode
	rules    filter.Rules
	include  map[string]bool
	corpus   *dedup.CorpusSet // nil unless cross_feed_dedup
	results  *resultCache     // nil unless stats mode with the cache enabled
	renderer *Renderer
	logger   *slog.Logger

	// archive signature per feed ID, written before workers start
	signatures map[string]string
}

// NewPipeline validates cfg and creates a pipeline for mode
func NewPipeline(cfg *model.Config, mode Mode, logger *slog.Logger) (*Pipeline, error) {
	if mode != ModeClean && mode != ModeStats {
		return nil, &model.ConfigError{Field: "mode", Message: fmt.Sprintf("unknown mode %q", mode)}
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	rules, err := filter.NewRules(cfg)
	if err != nil {
		return nil, err
	}

	include := make(map[string]bool)
	for _, name := range cfg.IncludeTables {
		if _, ok := gtfs.ByName(name); !ok {
			return nil, &model.ConfigError{Field: "include_tables", Message: fmt.Sprintf("unknown table %q", name)}
		}
		include[name] = true
	}

	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	p := &Pipeline{
		cfg:        cfg,
		mode:       mode,
		rules:      rules,
		include:    include,
		renderer:   NewRenderer(),
		logger:     logger,
		signatures: make(map[string]string),
	}

	// Cached statistics are only valid when a feed's counts do not depend on other feeds
	if mode == ModeStats && cfg.Cache.Enabled && !cfg.CrossFeedDedup {
		tiered := cache.NewTieredStore(time.Hour, cfg.Cache.Dir, cfg.Cache.TTL)
		p.results = newResultCache(tiered, cfg.DecisionDigest(), cfg.Cache.TTL)
	}
	return p, nil
}

// Rules returns the active filter rules
func (p *Pipeline) Rules() filter.Rules {
	return p.rules
}

// Run processes feeds and returns the run report. Per-feed failures are
// recorded in the report; only configuration problems and a cancelled ctx
// are returned as errors.
func (p *Pipeline) Run(ctx context.Context, feeds []model.Feed) (*model.Report, error) {
	if len(feeds) == 0 {
		return nil, &model.ConfigError{Field: "inputs", Message: "no feeds to process"}
	}

	report := &model.Report{
		RunID:     uuid.NewString(),
		Mode:      string(p.mode),
		StartedAt: time.Now().UTC(),
		Config:    p.cfg,
	}

	feeds = append([]model.Feed(nil), feeds...)
	sort.Slice(feeds, func(i, j int) bool { return feeds[i].ID < feeds[j].ID })

	// 1. Shared corpus set
	if p.cfg.CrossFeedDedup {
		p.corpus = dedup.NewCorpusSet()
		if path := p.cfg.FingerprintSnapshot; path != "" {
			n, err := p.corpus.Load(path)
			if err != nil {
				return nil, fmt.Errorf("load fingerprint snapshot: %w", err)
			}
			p.logger.Info("fingerprint snapshot loaded", "path", path, "fingerprints", n)
		}
	}

	// 2. Archive signatures, in parallel
	sigs, sigErrs, err := p.signFeeds(ctx, feeds)
	if err != nil {
		return nil, err
	}

	// 3. Resolve corrupt and duplicate archives in feed-ID order
	index := cache.NewSignatureIndex()
	var runnable []model.Feed
	var resolved []*model.FeedResult
	for i, f := range feeds {
		if sigErrs[i] != nil {
			res := model.NewFeedResult(f)
			res.Fail(sigErrs[i])
			p.logger.Warn("feed failed", "feed", f.ID, "kind", res.ErrorKind, "error", sigErrs[i])
			resolved = append(resolved, res)
			continue
		}
		if owner, first := index.Claim(sigs[i], f.ID); !first {
			res := model.NewFeedResult(f)
			res.Outcome = model.OutcomeDuplicateArchive
			res.DuplicateOf = owner
			res.Signature = sigs[i]
			p.logger.Info("duplicate archive", "feed", f.ID, "duplicate_of", owner)
			resolved = append(resolved, res)
			continue
		}
		p.signatures[f.ID] = sigs[i]
		runnable = append(runnable, f)
	}

	// 4. Partition across workers
	plan := schedule.Plan(runnable, p.cfg.WorkerCount)
	report.Workers = plan.Summary()
	for _, id := range plan.Bottlenecks {
		p.logger.Info("feed exceeds fair share", "feed", id, "fair_share", plan.Total/int64(p.cfg.WorkerCount))
	}
	p.logger.Info("schedule",
		"feeds", len(runnable),
		"workers", p.cfg.WorkerCount,
		"bytes", plan.Total,
		"max_load", plan.MaxLoad(),
		"duplicates", len(resolved),
	)

	// 5. Process
	runCtx := ctx
	if p.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, p.cfg.Timeout)
		defer cancel()
	}
	progress := worker.NewProgress(p.logger, len(runnable), plan.Total, p.cfg.ProgressInterval)
	results := worker.NewBatchProcessor(p, progress).ProcessAssignments(runCtx, plan.Assignments)

	// 6. Aggregate
	report.Feeds = append(results, resolved...)
	Aggregate(report)
	if p.corpus != nil {
		report.Totals.CrossFeedDistinct = int64(p.corpus.Len())
		if path := p.cfg.FingerprintSnapshot; path != "" {
			if err := p.corpus.Save(path); err != nil {
				p.logger.Warn("fingerprint snapshot not saved", "path", path, "error", err)
			}
		}
		p.corpus = nil
	}
	report.FinishedAt = time.Now().UTC()

	return report, nil
}

// signFeeds computes archive signatures with at most worker_count archives open
func (p *Pipeline) signFeeds(ctx context.Context, feeds []model.Feed) ([]string, []error, error) {
	sigs := make([]string, len(feeds))
	errs := make([]error, len(feeds))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.cfg.WorkerCount)
	for i, f := range feeds {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			sigs[i], errs[i] = gtfs.Signature(f.Path)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, nil, fmt.Errorf("signature pass: %w", err)
	}
	return sigs, errs, nil
}

// Publish renders the configured report files and records the run in the store
func (p *Pipeline) Publish(ctx context.Context, report *model.Report) ([]string, error) {
	var written []string

	outputs := []struct {
		path   string
		render func(*model.Report, string) error
	}{
		{p.cfg.Report.JSON, p.renderer.RenderJSON},
		{p.cfg.Report.Markdown, p.renderer.RenderMarkdown},
		{p.cfg.Report.CSV, p.renderer.RenderCSV},
	}
	for _, out := range outputs {
		if out.path == "" {
			continue
		}
		if err := out.render(report, out.path); err != nil {
			return written, err
		}
		written = append(written, out.path)
	}

	if p.cfg.Store.Path != "" {
		s, err := store.Open(p.cfg.Store.Path)
		if err != nil {
			return written, err
		}
		defer func() { _ = s.Close() }()
		if err := s.SaveReport(ctx, report); err != nil {
			return written, fmt.Errorf("record run: %w", err)
		}
		written = append(written, p.cfg.Store.Path)
	}
	return written, nil
}
