// Package pipeline orchestrates a full reconciliation run: fetch every
// enabled client's checkout and transaction streams, match them on payment
// reference, write reports, and optionally archive and email the results.
package pipeline

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/donorsync/reconcile-api/internal/config"
	"github.com/donorsync/reconcile-api/internal/fetcher"
	"github.com/donorsync/reconcile-api/internal/matcher"
	"github.com/donorsync/reconcile-api/internal/models"
	"github.com/donorsync/reconcile-api/internal/notifier"
	"github.com/donorsync/reconcile-api/internal/reporter"
)

// ErrAlreadyRunning is returned when a run is requested while another run
// is still in flight. Only one run may execute at a time.
var ErrAlreadyRunning = errors.New("a reconciliation run is already in progress")

// ErrNoClients is returned when the configuration has no enabled clients.
var ErrNoClients = errors.New("no enabled clients configured")

// RunRepository persists completed run summaries.
type RunRepository interface {
	Create(ctx context.Context, run *models.RunSummary) error
}

// Options control a single run.
type Options struct {
	// Days overrides the configured lookback window when > 0.
	Days int
	// SkipEmail suppresses the notification email for this run.
	SkipEmail bool
}

// Pipeline coordinates the fetch, match, report and notify stages.
type Pipeline struct {
	store    *config.Store
	fetcher  *fetcher.Fetcher
	matcher  *matcher.Matcher
	reporter *reporter.Reporter
	archiver *reporter.Archiver
	notifier *notifier.Notifier
	repo     RunRepository
	logger   *slog.Logger

	running atomic.Bool

	mu      sync.Mutex
	lastRun *models.RunSummary
}

// New creates a pipeline. archiver and repo may be nil, in which case
// archival and run-history persistence are skipped.
func New(store *config.Store, rep *reporter.Reporter, arch *reporter.Archiver, repo RunRepository, logger *slog.Logger) *Pipeline {
	if logger == nil {
		logger = slog.Default()
	}
	return &Pipeline{
		store:    store,
		fetcher:  fetcher.New(logger),
		matcher:  matcher.New(logger),
		reporter: rep,
		archiver: arch,
		notifier: notifier.New(logger),
		repo:     repo,
		logger:   logger.With("component", "pipeline"),
	}
}

// IsRunning reports whether a run is currently in flight.
func (p *Pipeline) IsRunning() bool {
	return p.running.Load()
}

// LastRun returns the summary of the most recently completed run in this
// process, or nil when none has completed yet.
func (p *Pipeline) LastRun() *models.RunSummary {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.lastRun
}

// Run executes a full reconciliation run. It returns ErrAlreadyRunning if
// another run holds the guard, and ErrNoClients when no enabled clients are
// configured. Configuration is re-read from the store on every run so edits
// made through the API take effect without a restart.
func (p *Pipeline) Run(ctx context.Context, opts Options) (*models.RunSummary, error) {
	if !p.running.CompareAndSwap(false, true) {
		return nil, ErrAlreadyRunning
	}
	defer p.running.Store(false)

	cfg, err := p.store.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	if len(cfg.Clients) == 0 {
		return nil, ErrNoClients
	}

	settings := cfg.Settings
	if opts.Days > 0 {
		settings.Days = opts.Days
	}

	startedAt := time.Now()
	runID := "run_" + ulid.MustNew(ulid.Timestamp(startedAt), rand.Reader).String()
	logger := p.logger.With("run_id", runID)
	logger.Info("starting reconciliation run",
		"clients", len(cfg.Clients), "days", settings.Days, "workers", settings.MaxWorkers)

	fetched := p.fetcher.FetchAll(ctx, cfg.Clients, settings)
	results := p.matcher.MatchAll(fetched, settings.MaxWorkers)

	artifacts, err := p.reporter.Generate(results, startedAt, settings.MaxWorkers)
	if err != nil {
		return nil, fmt.Errorf("failed to generate reports: %w", err)
	}

	if p.archiver != nil && p.archiver.Enabled() {
		if err := p.archiver.ArchiveRun(ctx, artifacts.Dir); err != nil {
			logger.Error("report archival failed", "error", err)
		}
	}

	emailSent := false
	if !opts.SkipEmail {
		emailSent = p.notifier.Send(ctx, settings.Email, artifacts, results)
	}

	run := buildSummary(runID, startedAt, settings.Days, emailSent, artifacts.Dir, results)

	p.mu.Lock()
	p.lastRun = run
	p.mu.Unlock()

	if p.repo != nil {
		if err := p.repo.Create(ctx, run); err != nil {
			logger.Error("failed to persist run history", "error", err)
		}
	}

	logger.Info("reconciliation run complete",
		"elapsed_seconds", run.ElapsedSeconds,
		"matched", run.Totals.Matched,
		"unmatched", run.Totals.Unmatched,
		"errors", run.Totals.Errors,
		"email_sent", emailSent)

	return run, nil
}

func buildSummary(id string, startedAt time.Time, days int, emailSent bool, reportDir string, results []models.MatchResult) *models.RunSummary {
	run := &models.RunSummary{
		ID:             id,
		Timestamp:      startedAt,
		ElapsedSeconds: time.Since(startedAt).Seconds(),
		Days:           days,
		EmailSent:      emailSent,
		ReportDir:      reportDir,
		Clients:        make([]models.ClientRunSummary, 0, len(results)),
	}
	for _, r := range results {
		unmatched := make([]models.UnmatchedRecord, 0, len(r.Unmatched))
		for _, rec := range r.Unmatched {
			unmatched = append(unmatched, models.ProjectUnmatched(rec))
		}
		run.Clients = append(run.Clients, models.ClientRunSummary{
			Name:              r.ClientName,
			Matched:           r.MatchedCount,
			Unmatched:         r.UnmatchedCount,
			TotalCheckouts:    r.TotalCheckouts,
			TotalTransactions: r.TotalTransactions,
			MatchRate:         r.MatchRate,
			Error:             r.Error,
			UnmatchedRecords:  unmatched,
		})
		run.Totals.Matched += r.MatchedCount
		run.Totals.Unmatched += r.UnmatchedCount
		if r.Error != "" {
			run.Totals.Errors++
		}
	}
	return run
}
