package app

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"go.uber.org/zap"

	"github.com/swatchlab/swatchsync/internal/api"
	"github.com/swatchlab/swatchsync/internal/browser"
	"github.com/swatchlab/swatchsync/internal/checkpoint"
	"github.com/swatchlab/swatchsync/internal/cleanup"
	"github.com/swatchlab/swatchsync/internal/orchestrator"
	"github.com/swatchlab/swatchsync/internal/policy/ratelimit"
	"github.com/swatchlab/swatchsync/internal/policy/skiplist"
	"github.com/swatchlab/swatchsync/internal/probe"
	"github.com/swatchlab/swatchsync/internal/processor"
	"github.com/swatchlab/swatchsync/internal/progress"
	"github.com/swatchlab/swatchsync/internal/recovery"
	"github.com/swatchlab/swatchsync/internal/report"
	"github.com/swatchlab/swatchsync/internal/sites/colorref"
	"github.com/swatchlab/swatchsync/internal/swatch"
)

// Runner executes complete update and retry runs on top of the App's
// services: preflight, browser pool, orchestration, reporting, and
// publication.
type Runner struct {
	app *App
}

// NewRunner builds a Runner over app.
func NewRunner(app *App) *Runner {
	return &Runner{app: app}
}

// Update performs a full forward pass over the dataset.
func (r *Runner) Update(ctx context.Context) error {
	return r.run(ctx, swatch.RunUpdate)
}

// Retry reprocesses only the records the checkpoint marks failed.
func (r *Runner) Retry(ctx context.Context) error {
	return r.run(ctx, swatch.RunRetry)
}

// Stats prints the checkpoint state without touching the site.
func (r *Runner) Stats(ctx context.Context) error {
	cfg := r.app.Config
	store := checkpoint.NewStore(cfg.Checkpoint.Path, r.app.Clock, r.app.Logger)
	cp, err := store.Load(ctx)
	if err != nil {
		return fmt.Errorf("load checkpoint: %w", err)
	}
	fmt.Printf("checkpoint: %s\n", store.Path())
	fmt.Printf("cursor:     %d\n", cp.Cursor)
	fmt.Printf("records:    %d\n", len(cp.Records))
	if !cp.LastUpdated.IsZero() {
		fmt.Printf("updated:    %s\n", cp.LastUpdated.Format("2006-01-02 15:04:05 MST"))
	}
	if cp.DatasetDigest != "" {
		fmt.Printf("dataset:    %s\n", cp.DatasetDigest)
	}
	if stats := cp.Stats; stats != nil {
		fmt.Printf("outcomes:   %d updated, %d failed", stats.Updated, stats.Failed)
		if stats.Skipped > 0 {
			fmt.Printf(", %d skipped", stats.Skipped)
		}
		fmt.Println()
		if len(stats.FailedIDs) > 0 {
			fmt.Printf("failed ids: %v\n", stats.FailedIDs)
		}
	}
	return nil
}

func (r *Runner) run(ctx context.Context, kind swatch.RunKind) (runErr error) {
	cfg := r.app.Config
	logger := r.app.Logger

	defer r.app.Cleaner.RecoverFault()

	runID, err := r.app.IDGen.NewID()
	if err != nil {
		return fmt.Errorf("generate run id: %w", err)
	}
	logger = logger.With(zap.String("run_id", runID))

	store := checkpoint.NewStore(cfg.Checkpoint.Path, r.app.Clock, logger)
	cp, err := store.Load(ctx)
	if err != nil {
		return fmt.Errorf("load checkpoint: %w", err)
	}

	records, digest, err := r.app.Dataset.Load(ctx)
	if err != nil {
		return fmt.Errorf("load dataset: %w", err)
	}
	if cp.DatasetDigest != "" && digest != "" && cp.DatasetDigest != digest {
		logger.Warn("dataset changed since last checkpoint; cursor may not line up",
			zap.String("was", cp.DatasetDigest), zap.String("now", digest))
	}
	cp.DatasetDigest = digest

	hasFailures := cp.Stats != nil && cp.Stats.HasFailures()
	if kind == swatch.RunRetry && !hasFailures {
		logger.Info("nothing to retry")
		return nil
	}
	if kind == swatch.RunUpdate && !hasFailures && len(records) > 0 && cp.Cursor == len(records) {
		logger.Info("checkpoint already covers the dataset", zap.Int("cursor", cp.Cursor))
		return nil
	}

	prober := probe.New(probe.Config{
		LookupURL:     cfg.Site.LookupURL,
		UserAgent:     cfg.Site.UserAgent,
		RespectRobots: cfg.Site.RespectRobots,
	}, logger)
	if _, err := prober.Check(ctx); err != nil {
		return fmt.Errorf("site preflight: %w", err)
	}

	orch, pool, err := r.buildPipeline(ctx, logger)
	if err != nil {
		return err
	}
	uninstall := r.app.Cleaner.InstallSignals(os.Exit)
	defer uninstall()
	defer func() {
		r.app.Cleaner.Unregister("browser-pool")
		closeCtx, cancel := context.WithTimeout(context.Background(), cfg.RetirementBudget())
		defer cancel()
		if err := pool.Close(closeCtx); err != nil {
			logger.Warn("closing browser pool", zap.Error(err))
		}
	}()

	var apiServer *api.Server
	if cfg.Server.Enabled {
		apiServer = api.NewServer(cfg.Server.Addr, orch, pool, logger)
		go func() {
			if err := apiServer.Start(); err != nil {
				logger.Error("api server failed", zap.Error(err))
			}
		}()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := apiServer.Shutdown(shutdownCtx); err != nil {
				logger.Warn("api server shutdown", zap.Error(err))
			}
		}()
	}

	total := len(records)
	if kind == swatch.RunRetry {
		total = len(cp.Stats.FailedIDs)
	}
	started := r.app.Clock.Now()
	r.app.Emitter().Emit(progress.Event{
		RunID: runID,
		TS:    started,
		Stage: progress.StageRunStart,
		Kind:  kind,
		Mode:  swatch.RunMode(cfg.Processing.Mode),
		Total: total,
	})

	// An update run settles pending failures before moving the cursor
	// forward, so one command heals and advances in a single pass.
	var stats *swatch.ProcessingStats
	switch {
	case kind == swatch.RunRetry:
		stats, runErr = orch.RetryPass(ctx, runID, records, cp)
	case hasFailures:
		stats, runErr = orch.RetryPass(ctx, runID, records, cp)
		if runErr == nil {
			stats, runErr = orch.Run(ctx, runID, records, cp)
		}
	default:
		stats, runErr = orch.Run(ctx, runID, records, cp)
	}
	finished := r.app.Clock.Now()

	summary := swatch.RunSummary{
		RunID:         runID,
		Kind:          kind,
		Mode:          swatch.RunMode(cfg.Processing.Mode),
		StartedAt:     started,
		FinishedAt:    finished,
		Stats:         stats,
		DatasetDigest: digest,
	}
	r.finish(ctx, logger, summary, cp, runErr)
	return runErr
}

// buildPipeline assembles pool, adapter, processor, and orchestrator.
// The pool is registered with the cleaner so a signal mid-run still
// kills every Chrome process.
func (r *Runner) buildPipeline(ctx context.Context, logger *zap.Logger) (*orchestrator.Orchestrator, *browser.Pool, error) {
	cfg := r.app.Config

	browserCfg := browser.Config{
		PoolSize:            cfg.Browser.PoolSize,
		UsageLimit:          cfg.Browser.UsageLimit,
		Headless:            cfg.Browser.Headless,
		ChromePath:          cfg.Browser.ChromePath,
		UserAgent:           cfg.Site.UserAgent,
		CreateRetries:       cfg.Browser.CreateRetries,
		CreateRetryDelay:    cfg.Browser.CreateRetryDelay,
		AcquirePollInterval: cfg.Browser.AcquirePollInterval,
		AcquireTimeout:      cfg.Browser.AcquireTimeout,
		HealthInterval:      cfg.Browser.HealthInterval,
		PageLoadTimeout:     cfg.Browser.PageLoadTimeout,
		InteractionTimeout:  cfg.Browser.InteractionTimeout,
	}
	launcher := browser.NewChromeLauncher(browserCfg, logger)
	pool, err := browser.NewPool(ctx, browserCfg, launcher, logger)
	if err != nil {
		return nil, nil, fmt.Errorf("build browser pool: %w", err)
	}
	r.app.Cleaner.Register("browser-pool", "browser", func(context.Context) error {
		pool.ForceCloseAll()
		return nil
	}, cleanup.Options{Priority: 100, Timeout: cfg.RetirementBudget()})

	adapter, err := colorref.New(colorref.Config{
		LookupURL:            cfg.Site.LookupURL,
		SearchInputSelector:  cfg.Site.SearchInputSelector,
		SearchSubmitSelector: cfg.Site.SearchSubmitSelector,
		ResultSelector:       cfg.Site.ResultSelector,
		ValueSelector:        cfg.Site.ValueSelector,
		MinPageBytes:         cfg.Site.ResultMinBytes,
		BlockKeywords:        cfg.Site.BlockKeywords,
		Limiter:              ratelimit.New(cfg.Site.NavigationQPS),
	}, logger)
	if err != nil {
		_ = pool.Close(ctx)
		return nil, nil, fmt.Errorf("build site adapter: %w", err)
	}

	manager := recovery.NewManager(recovery.DefaultPolicy(cfg.Processing.RetryDelay), logger)
	source := processor.NewPoolSource(pool, browserCfg, logger)
	proc := processor.New(source, adapter, r.app.Cache, manager, processor.Config{
		MaxRetries: cfg.Processing.MaxRetries,
		RetryDelay: cfg.Processing.RetryDelay,
	}, logger)

	orchCfg := orchestrator.Config{
		Mode:            swatch.RunMode(cfg.Processing.Mode),
		BatchSize:       cfg.Processing.BatchSize,
		CheckpointEvery: cfg.Processing.CheckpointEvery,
		MaxRetries:      cfg.Processing.MaxRetries,
	}
	if r.app.Monitor != nil {
		orchCfg.Memory = r.app.Monitor
	}

	store := checkpoint.NewStore(cfg.Checkpoint.Path, r.app.Clock, logger)
	orch := orchestrator.New(
		proc,
		store,
		skiplist.New(cfg.Processing.SkipIDs),
		r.app.Emitter(),
		r.app.Clock,
		orchCfg,
		logger,
	)
	return orch, pool, nil
}

// finish emits the terminal progress event, archives artifacts,
// publishes the summary, and writes resolved values back. None of the
// post-run steps can fail the run itself.
func (r *Runner) finish(ctx context.Context, logger *zap.Logger, summary swatch.RunSummary, cp *swatch.Checkpoint, runErr error) {
	stage := progress.StageRunDone
	note := ""
	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		stage = progress.StageRunError
		note = runErr.Error()
	}
	r.app.Emitter().Emit(progress.Event{
		RunID:   summary.RunID,
		TS:      summary.FinishedAt,
		Stage:   stage,
		Kind:    summary.Kind,
		Mode:    summary.Mode,
		Dur:     summary.Duration(),
		Note:    note,
		Summary: &summary,
	})

	writer := report.NewWriter(r.app.Storage, logger)
	writer.WriteSummary(ctx, summary)
	if r.app.Config.Checkpoint.Mirror {
		writer.MirrorCheckpoint(ctx, summary.RunID, cp)
	}

	if err := r.app.Queue.Publish(ctx, summary); err != nil {
		logger.Warn("publishing run summary", zap.Error(err))
	}

	if r.app.Writer != nil && runErr == nil {
		if err := r.app.Writer.SaveValues(ctx, cp.Records); err != nil {
			logger.Warn("writing values back to dataset", zap.Error(err))
		}
	}

	if runErr == nil && summary.Stats != nil && summary.Stats.HasFailures() {
		logger.Warn("run completed with failures; run 'swatchsync retry' to reprocess them",
			zap.Int("failed", summary.Stats.Failed))
	}
}
