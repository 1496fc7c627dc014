// Package navrefresh is the NAV refresh engine (spec §4.4): a cron-scheduled
// and admin-triggerable batch job that discovers every scheme currently
// held by an open Position, fetches its latest NAV from internal/quote in
// bounded-parallel batches with mandatory inter-request/inter-batch delays,
// and writes each result through internal/nav — recording per-scheme
// failures rather than aborting the run. Grounded on the retry/backoff and
// cron-scheduling shape of the AMFI downloader job in the broader example
// pack, generalized from a CSV bulk-load to a per-scheme HTTP fetch.
package navrefresh

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"golang.org/x/sync/errgroup"

	"github.com/indiafolio/mfledger/internal/coordination"
	"github.com/indiafolio/mfledger/internal/metrics"
	"github.com/indiafolio/mfledger/internal/model"
	"github.com/indiafolio/mfledger/internal/nav"
	"github.com/indiafolio/mfledger/internal/quote"
	"github.com/indiafolio/mfledger/internal/store"
)

// Config holds the nav.* and cron.* settings from spec §6.
type Config struct {
	Schedule    string
	Timezone    string
	BatchSize   int
	Concurrency int
	ReqDelay    time.Duration
	BatchDelay  time.Duration
	RetryMax    int
}

// Engine runs NAV refresh cycles against every actively-held scheme.
type Engine struct {
	store     store.Store
	navSvc    *nav.Service
	quoteCli  *quote.Client
	sentinel  *coordination.RefreshSentinel
	cfg        Config
	cronRunner *cron.Cron

	runsMu   sync.Mutex
	lastRuns []model.RunSummary

	// OnBatchComplete, if set, is invoked after each batch within RunOnce
	// with the scheme codes that refreshed successfully in that batch. Used
	// by cmd/server to push nav_updated WebSocket events without coupling
	// this package to internal/api.
	OnBatchComplete func(successes []int)
}

// New creates a refresh Engine. The sentinel must be shared with anything
// else that could start a concurrent run (e.g. the admin-triggered
// endpoint), so both paths refuse to overlap.
func New(st store.Store, navSvc *nav.Service, quoteCli *quote.Client, sentinel *coordination.RefreshSentinel, cfg Config) *Engine {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 10
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 10
	}
	if cfg.RetryMax <= 0 {
		cfg.RetryMax = 3
	}
	return &Engine{
		store:    st,
		navSvc:   navSvc,
		quoteCli: quoteCli,
		sentinel: sentinel,
		cfg:      cfg,
	}
}

// Start schedules the refresh job on Config.Schedule/Timezone and begins
// running it. The scheduler keeps firing until Stop is called; every run,
// including one fired after ctx is cancelled, observes ctx via RunOnce.
func (e *Engine) Start(ctx context.Context) error {
	loc, err := time.LoadLocation(e.cfg.Timezone)
	if err != nil {
		return err
	}

	e.cronRunner = cron.New(cron.WithLocation(loc))
	_, err = e.cronRunner.AddFunc(e.cfg.Schedule, func() {
		summary, err := e.RunOnce(ctx)
		if err != nil {
			slog.Warn("nav refresh run skipped", "err", err)
			return
		}
		slog.Info("nav refresh run complete",
			"total", summary.Total,
			"succeeded", len(summary.Successes),
			"failed", len(summary.Failures),
			"duration_ms", summary.DurationMs,
		)
	})
	if err != nil {
		return err
	}

	e.cronRunner.Start()
	slog.Info("nav refresh engine scheduled", "schedule", e.cfg.Schedule, "timezone", e.cfg.Timezone)
	return nil
}

// Stop halts the cron scheduler and waits for any in-flight cron-triggered
// run to return.
func (e *Engine) Stop() {
	if e.cronRunner == nil {
		return
	}
	stopCtx := e.cronRunner.Stop()
	<-stopCtx.Done()
}

// RunOnce performs a single refresh pass: idle -> running -> idle. It
// returns model.ErrRefreshAlreadyRunning without side effects if a run is
// already in progress (either cron-triggered or admin-triggered).
func (e *Engine) RunOnce(ctx context.Context) (model.RunSummary, error) {
	if !e.sentinel.TryAcquire() {
		metrics.NavRefreshRunsTotal.WithLabelValues("rejected").Inc()
		return model.RunSummary{}, model.ErrRefreshAlreadyRunning
	}
	defer e.sentinel.Release()

	started := time.Now()
	codes, err := e.store.ListActiveSchemeCodes(ctx)
	if err != nil {
		return model.RunSummary{}, err
	}

	summary := model.RunSummary{
		Total:     len(codes),
		StartedAt: started,
	}

	batches := partition(codes, e.cfg.BatchSize)
	for i, batch := range batches {
		select {
		case <-ctx.Done():
			summary.DurationMs = time.Since(started).Milliseconds()
			e.record(summary)
			metrics.NavRefreshRunsTotal.WithLabelValues("cancelled").Inc()
			return summary, ctx.Err()
		default:
		}

		successes, failures := e.runBatch(ctx, batch)
		summary.Successes = append(summary.Successes, successes...)
		summary.Failures = append(summary.Failures, failures...)
		if e.OnBatchComplete != nil && len(successes) > 0 {
			e.OnBatchComplete(successes)
		}

		if i < len(batches)-1 && e.cfg.BatchDelay > 0 {
			select {
			case <-ctx.Done():
			case <-time.After(e.cfg.BatchDelay):
			}
		}
	}

	summary.DurationMs = time.Since(started).Milliseconds()
	e.record(summary)
	metrics.NavRefreshRunsTotal.WithLabelValues("completed").Inc()
	metrics.NavRefreshRunDuration.Observe(time.Since(started).Seconds())
	metrics.NavRefreshSchemeFailures.Add(float64(len(summary.Failures)))
	return summary, nil
}

// runBatch fetches every scheme in batch with at most Concurrency
// in-flight requests, spacing requests by ReqDelay, and retries each fetch
// up to RetryMax times before recording it as a failure.
func (e *Engine) runBatch(ctx context.Context, batch []int) (successes []int, failures []model.RefreshFailure) {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.cfg.Concurrency)

	results := make(chan struct {
		code int
		err  error
	}, len(batch))

	for i, code := range batch {
		code := code
		delay := time.Duration(i) * e.cfg.ReqDelay
		g.Go(func() error {
			select {
			case <-gctx.Done():
				results <- struct {
					code int
					err  error
				}{code, gctx.Err()}
				return nil
			case <-time.After(delay):
			}

			err := quote.RetryWithBackoff(gctx, e.cfg.RetryMax, 500*time.Millisecond, func() error {
				return e.fetchAndRecord(gctx, code)
			})
			results <- struct {
				code int
				err  error
			}{code, err}
			return nil
		})
	}

	g.Wait()
	close(results)

	for r := range results {
		if r.err != nil {
			failures = append(failures, model.RefreshFailure{SchemeCode: r.code, Error: r.err.Error()})
			continue
		}
		successes = append(successes, r.code)
	}
	return successes, failures
}

func (e *Engine) fetchAndRecord(ctx context.Context, schemeCode int) error {
	q, err := e.quoteCli.FetchLatest(ctx, schemeCode)
	if err != nil {
		return err
	}
	return e.navSvc.Record(ctx, model.LatestNav{
		SchemeCode: schemeCode,
		Nav:        q.Nav,
		AsOfDate:   q.AsOfDate,
		UpdatedAt:  time.Now(),
	})
}

// record keeps a small in-memory ring of recent run summaries for the
// GET /api/admin/nav/runs endpoint.
func (e *Engine) record(summary model.RunSummary) {
	const maxKept = 20
	e.runsMu.Lock()
	defer e.runsMu.Unlock()
	e.lastRuns = append(e.lastRuns, summary)
	if len(e.lastRuns) > maxKept {
		e.lastRuns = e.lastRuns[len(e.lastRuns)-maxKept:]
	}
}

// IsRunning reports whether a refresh pass currently holds the sentinel,
// so an admin polling GET /api/admin/nav/runs can tell a run in progress
// apart from one that simply hasn't started yet.
func (e *Engine) IsRunning() bool {
	return e.sentinel.IsRunning()
}

// RecentRuns returns the most recent run summaries, newest last.
func (e *Engine) RecentRuns() []model.RunSummary {
	e.runsMu.Lock()
	defer e.runsMu.Unlock()
	out := make([]model.RunSummary, len(e.lastRuns))
	copy(out, e.lastRuns)
	return out
}

func partition(codes []int, size int) [][]int {
	if size <= 0 {
		size = len(codes)
	}
	var out [][]int
	for i := 0; i < len(codes); i += size {
		end := i + size
		if end > len(codes) {
			end = len(codes)
		}
		out = append(out, codes[i:end])
	}
	return out
}
