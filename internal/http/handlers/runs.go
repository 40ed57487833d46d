package handlers

import (
	"context"
	"errors"
	"log/slog"

	"github.com/danielgtaylor/huma/v2"

	"github.com/donorsync/reconcile-api/internal/config"
	"github.com/donorsync/reconcile-api/internal/models"
	"github.com/donorsync/reconcile-api/internal/pipeline"
	"github.com/donorsync/reconcile-api/internal/repository"
)

// RunsHandler exposes run triggering and run history.
type RunsHandler struct {
	pipeline *pipeline.Pipeline
	store    *config.Store
	repo     *repository.SQLiteRunRepository
	logger   *slog.Logger
}

// NewRunsHandler creates a new runs handler. repo may be nil when run
// history persistence is disabled.
func NewRunsHandler(p *pipeline.Pipeline, store *config.Store, repo *repository.SQLiteRunRepository, logger *slog.Logger) *RunsHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &RunsHandler{pipeline: p, store: store, repo: repo, logger: logger.With("component", "runs-handler")}
}

// StatusOutput represents the service status response.
type StatusOutput struct {
	Body struct {
		IsRunning         bool               `json:"is_running"`
		ClientsConfigured int                `json:"clients_configured"`
		LastRun           *models.RunSummary `json:"last_run,omitempty"`
	}
}

// GetStatus reports whether a run is in flight, how many enabled clients
// are configured, and the last completed run.
func (h *RunsHandler) GetStatus(ctx context.Context, input *struct{}) (*StatusOutput, error) {
	out := &StatusOutput{}
	out.Body.IsRunning = h.pipeline.IsRunning()
	out.Body.LastRun = h.pipeline.LastRun()
	if cfg, err := h.store.Load(); err == nil {
		out.Body.ClientsConfigured = len(cfg.Clients)
	}
	return out, nil
}

// TriggerRunInput represents a run trigger request.
type TriggerRunInput struct {
	Days      int  `query:"days" minimum:"0" maximum:"30" doc:"Override the configured lookback window in days; 0 uses the configured value"`
	SkipEmail bool `query:"skip_email" doc:"Suppress the notification email for this run"`
}

// TriggerRunOutput represents an accepted asynchronous run.
type TriggerRunOutput struct {
	Status int
	Body   struct {
		Status string `json:"status"`
		Days   int    `json:"days"`
	}
}

// TriggerRun starts a run in the background. Returns 409 when a run is
// already in progress.
func (h *RunsHandler) TriggerRun(ctx context.Context, input *TriggerRunInput) (*TriggerRunOutput, error) {
	if h.pipeline.IsRunning() {
		return nil, huma.Error409Conflict("a reconciliation run is already in progress")
	}

	opts := pipeline.Options{Days: input.Days, SkipEmail: input.SkipEmail}
	go func() {
		// Detached from the request context so the run survives the response.
		if _, err := h.pipeline.Run(context.Background(), opts); err != nil {
			h.logger.Error("background run failed", "error", err)
		}
	}()

	days := input.Days
	if days == 0 {
		// No override: echo the configured lookback the run will use.
		if cfg, err := h.store.Load(); err == nil {
			days = cfg.Settings.Days
		}
	}

	out := &TriggerRunOutput{Status: 202}
	out.Body.Status = "started"
	out.Body.Days = days
	return out, nil
}

// RunOutput wraps a single run summary.
type RunOutput struct {
	Body models.RunSummary
}

// TriggerRunSync runs the pipeline inline and returns the completed summary.
func (h *RunsHandler) TriggerRunSync(ctx context.Context, input *TriggerRunInput) (*RunOutput, error) {
	run, err := h.pipeline.Run(ctx, pipeline.Options{Days: input.Days, SkipEmail: input.SkipEmail})
	if err != nil {
		switch {
		case errors.Is(err, pipeline.ErrAlreadyRunning):
			return nil, huma.Error409Conflict(err.Error())
		case errors.Is(err, pipeline.ErrNoClients):
			return nil, huma.Error400BadRequest(err.Error())
		default:
			h.logger.Error("synchronous run failed", "error", err)
			return nil, huma.Error500InternalServerError("reconciliation run failed")
		}
	}
	return &RunOutput{Body: *run}, nil
}

// GetLatestRun returns the most recent completed run, preferring the
// in-process summary and falling back to persisted history after a restart.
func (h *RunsHandler) GetLatestRun(ctx context.Context, input *struct{}) (*RunOutput, error) {
	if run := h.pipeline.LastRun(); run != nil {
		return &RunOutput{Body: *run}, nil
	}
	if h.repo != nil {
		run, err := h.repo.Latest(ctx)
		if err != nil {
			h.logger.Error("failed to load latest run", "error", err)
			return nil, huma.Error500InternalServerError("failed to load run history")
		}
		if run != nil {
			return &RunOutput{Body: *run}, nil
		}
	}
	return nil, huma.Error404NotFound("no completed runs")
}

// ClientRunInput identifies one client within the latest run.
type ClientRunInput struct {
	Name string `path:"name" doc:"Client name (case-insensitive)"`
}

// ClientRunOutput wraps one client's summary from the latest run.
type ClientRunOutput struct {
	Body models.ClientRunSummary
}

// GetLatestClientRun returns one client's outcome from the latest run.
func (h *RunsHandler) GetLatestClientRun(ctx context.Context, input *ClientRunInput) (*ClientRunOutput, error) {
	latest, err := h.GetLatestRun(ctx, nil)
	if err != nil {
		return nil, err
	}
	summary, ok := latest.Body.ClientSummary(input.Name)
	if !ok {
		return nil, huma.Error404NotFound("client not found in latest run: " + input.Name)
	}
	return &ClientRunOutput{Body: summary}, nil
}

// ListRunsInput represents a run history query.
type ListRunsInput struct {
	Limit int `query:"limit" minimum:"1" maximum:"100" default:"20" doc:"Maximum number of runs to return"`
}

// ListRunsOutput represents the run history response.
type ListRunsOutput struct {
	Body struct {
		Runs []*models.RunSummary `json:"runs"`
	}
}

// ListRuns returns persisted runs, most recent first.
func (h *RunsHandler) ListRuns(ctx context.Context, input *ListRunsInput) (*ListRunsOutput, error) {
	out := &ListRunsOutput{}
	out.Body.Runs = []*models.RunSummary{}
	if h.repo == nil {
		return out, nil
	}
	runs, err := h.repo.List(ctx, input.Limit)
	if err != nil {
		h.logger.Error("failed to list runs", "error", err)
		return nil, huma.Error500InternalServerError("failed to load run history")
	}
	if runs != nil {
		out.Body.Runs = runs
	}
	return out, nil
}
