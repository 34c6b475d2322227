// Package scheduler runs the cases of a run request serially or in parallel and hands the
// results to the report aggregator.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/husmancristian/geaman-engine/pkg/models"
	"github.com/husmancristian/geaman-engine/pkg/report"
	"github.com/husmancristian/geaman-engine/pkg/runner"
)

// CaseRunner executes one case.
type CaseRunner interface {
	RunCase(ctx context.Context, req *models.RunRequest, index int, caseID string, rec runner.Recorder) *models.CaseSummary
}

var _ CaseRunner = (*runner.Runner)(nil)
var _ runner.Recorder = (*report.CaseRecorder)(nil)

// Scheduler fans the cases of a request out to a CaseRunner.
type Scheduler struct {
	runner     CaseRunner
	aggregator *report.Aggregator
	limit      int
	logger     *slog.Logger
}

// New returns a scheduler. limit caps concurrent cases in parallel mode; 0 means one
// goroutine per case.
func New(r CaseRunner, agg *report.Aggregator, limit int, logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{runner: r, aggregator: agg, limit: limit, logger: logger}
}

// Run executes every case of req and returns the finished report. Step failures are not
// errors; only report bookkeeping failures are returned. In-flight steps are never
// cancelled: each step is bounded by its own timeout.
func (s *Scheduler) Run(ctx context.Context, req *models.RunRequest) (*models.ReportSummary, error) {
	if len(req.CaseIDs) == 0 {
		return nil, errors.New("run request has no cases")
	}
	if req.ReportID == "" {
		req.ReportID = uuid.NewString()
	}
	logger := s.logger.With(slog.String("report_id", req.ReportID))

	rep, err := s.aggregator.Begin(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("failed to begin report %s: %w", req.ReportID, err)
	}
	rec := s.aggregator.Recorder(rep)

	summaries := make([]*models.CaseSummary, len(req.CaseIDs))
	if req.IsParallel() {
		var g errgroup.Group
		if s.limit > 0 {
			g.SetLimit(s.limit)
		}
		for i, id := range req.CaseIDs {
			g.Go(func() error {
				summaries[i] = s.runner.RunCase(ctx, req, i, id, rec)
				return nil
			})
		}
		_ = g.Wait()
	} else {
		for i, id := range req.CaseIDs {
			summaries[i] = s.runner.RunCase(ctx, req, i, id, rec)
		}
	}
	logger.Debug("All cases finished", slog.Int("cases", len(summaries)), slog.String("mode", rep.Mode))

	final, err := s.aggregator.Finish(ctx, rep, summaries)
	if err != nil {
		return final, fmt.Errorf("failed to finish report %s: %w", req.ReportID, err)
	}
	return final, nil
}
