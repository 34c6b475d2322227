// Package report folds case results into a report and persists progress while a run is
// in flight.
package report

import (
	"context"
	"log/slog"
	"maps"
	"sync"
	"time"

	"github.com/husmancristian/geaman-engine/pkg/models"
)

// Store persists report, case and step rows. Save methods upsert.
type Store interface {
	SaveReport(ctx context.Context, report *models.ReportSummary) error
	SaveCaseResult(ctx context.Context, c *models.CaseSummary) error
	SaveStepResult(ctx context.Context, step *models.StepResult) error
}

// Notifier publishes the final summary of a run.
type Notifier interface {
	PublishReport(ctx context.Context, report *models.ReportSummary) error
}

// Aggregator owns the report row of every run it begins. Live counters are updated and
// saved under one mutex, so report rows reach the store in the order they were counted.
// The final summary is always recomputed from the case summaries.
type Aggregator struct {
	store    Store
	notifier Notifier
	logger   *slog.Logger
	mu       sync.Mutex
}

// New returns an aggregator. notifier may be nil.
func New(store Store, notifier Notifier, logger *slog.Logger) *Aggregator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Aggregator{store: store, notifier: notifier, logger: logger}
}

// NewReport builds the waiting report row for req.
func NewReport(req *models.RunRequest) *models.ReportSummary {
	mode := req.Mode
	if mode == "" {
		mode = models.ModeSerial
	}
	env := map[string]any{}
	if req.ServerID != "" {
		env["server_id"] = req.ServerID
	}
	if req.DeviceID != "" {
		env["device_id"] = req.DeviceID
	}
	if len(req.Services) > 0 {
		services := make(map[string]any, len(req.Services))
		for name, svc := range req.Services {
			services[name] = svc.BaseURL
		}
		env["services"] = services
	}
	return &models.ReportSummary{
		ID:          req.ReportID,
		Name:        req.Name,
		Project:     req.Project,
		EnvCode:     req.EnvCode,
		Mode:        mode,
		Status:      models.StatusWaiting,
		TriggeredBy: req.TriggeredBy,
		Env:         env,
	}
}

// Begin moves the report of req to running.
func (a *Aggregator) Begin(ctx context.Context, req *models.RunRequest) (*models.ReportSummary, error) {
	report := NewReport(req)
	report.Status = models.StatusRunning
	report.StartedAt = time.Now().UTC()
	if err := a.store.SaveReport(ctx, report); err != nil {
		return nil, err
	}
	a.logger.Info("Report started",
		slog.String("report_id", report.ID),
		slog.String("project", report.Project),
		slog.Int("cases", len(req.CaseIDs)))
	return report, nil
}

// Recorder returns the progress sink for the cases of report.
func (a *Aggregator) Recorder(report *models.ReportSummary) *CaseRecorder {
	return &CaseRecorder{a: a, report: report}
}

// Finish sums the case summaries, closes the report and publishes it.
func (a *Aggregator) Finish(ctx context.Context, report *models.ReportSummary, cases []*models.CaseSummary) (*models.ReportSummary, error) {
	a.mu.Lock()
	report.Stat = Merge(cases)
	report.Result = Result(report.Stat.TestCase)
	report.Status = models.StatusDone
	report.EndedAt = time.Now().UTC()
	report.DurationMs = report.EndedAt.Sub(report.StartedAt).Milliseconds()
	final := *report
	final.Env = maps.Clone(report.Env)
	err := a.store.SaveReport(ctx, &final)
	a.mu.Unlock()
	if err != nil {
		return &final, err
	}
	if a.notifier != nil {
		if err := a.notifier.PublishReport(ctx, &final); err != nil {
			a.logger.Warn("Failed to publish report", slog.String("report_id", final.ID), slog.String("error", err.Error()))
		}
	}
	a.logger.Info("Report finished",
		slog.String("report_id", final.ID),
		slog.String("result", string(final.Result)),
		slog.Int("cases", final.Stat.TestCase.Total),
		slog.Int("steps", final.Stat.TestStep.Total),
		slog.Int64("duration_ms", final.DurationMs))
	return &final, nil
}

// Merge sums case summaries into report counters. Nil entries are ignored.
func Merge(cases []*models.CaseSummary) models.Stat {
	var stat models.Stat
	for _, c := range cases {
		if c == nil {
			continue
		}
		stat.TestCase.Add(c.Result)
		stat.TestStep.Merge(c.Steps)
	}
	return stat
}

// Result derives the report result from its case counters.
func Result(cases models.Counter) models.Outcome {
	switch {
	case cases.Fail > 0 || cases.Error > 0:
		return models.OutcomeFail
	case cases.Total > 0 && cases.Skip == cases.Total:
		return models.OutcomeSkip
	}
	return models.OutcomeSuccess
}

// CaseRecorder persists case and step rows of one report and keeps its live counters.
type CaseRecorder struct {
	a      *Aggregator
	report *models.ReportSummary
}

func (r *CaseRecorder) CaseStarted(ctx context.Context, c *models.CaseSummary) error {
	return r.a.store.SaveCaseResult(ctx, c)
}

func (r *CaseRecorder) StepFinished(ctx context.Context, c *models.CaseSummary, step *models.StepResult) error {
	if err := r.a.store.SaveStepResult(ctx, step); err != nil {
		return err
	}
	if err := r.a.store.SaveCaseResult(ctx, c); err != nil {
		return err
	}
	return r.live(ctx, func(stat *models.Stat) { stat.TestStep.Add(step.Outcome) })
}

func (r *CaseRecorder) CaseFinished(ctx context.Context, c *models.CaseSummary) error {
	if err := r.a.store.SaveCaseResult(ctx, c); err != nil {
		return err
	}
	return r.live(ctx, func(stat *models.Stat) { stat.TestCase.Add(c.Result) })
}

func (r *CaseRecorder) live(ctx context.Context, update func(*models.Stat)) error {
	r.a.mu.Lock()
	defer r.a.mu.Unlock()
	update(&r.report.Stat)
	snapshot := *r.report
	return r.a.store.SaveReport(ctx, &snapshot)
}
