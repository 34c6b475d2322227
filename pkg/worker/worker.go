// Package worker pulls run requests from the project queues and executes them.
package worker

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/husmancristian/geaman-engine/pkg/models"
	"github.com/husmancristian/geaman-engine/pkg/queue"
	"github.com/husmancristian/geaman-engine/pkg/scheduler"
)

// Scheduler executes one run request to completion.
type Scheduler interface {
	Run(ctx context.Context, req *models.RunRequest) (*models.ReportSummary, error)
}

var _ Scheduler = (*scheduler.Scheduler)(nil)

type Worker struct {
	queue    queue.Manager
	sched    Scheduler
	projects []string
	interval time.Duration
	logger   *slog.Logger
}

func New(q queue.Manager, sched Scheduler, projects []string, interval time.Duration, logger *slog.Logger) *Worker {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Worker{queue: q, sched: sched, projects: projects, interval: interval, logger: logger}
}

// Run polls until ctx is done. Queues are drained back to back; the poll interval only
// applies once every assigned queue is empty.
func (w *Worker) Run(ctx context.Context) error {
	if len(w.projects) == 0 {
		return errors.New("worker: no projects assigned")
	}
	w.logger.Info("Worker started", slog.Any("projects", w.projects), slog.Duration("poll_interval", w.interval))

	for {
		if ctx.Err() != nil {
			return nil
		}
		if w.PollOnce(ctx) {
			continue
		}
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(w.interval):
		}
	}
}

// PollOnce executes at most one queued run and reports whether it found one.
func (w *Worker) PollOnce(ctx context.Context) bool {
	project := w.selectProject()
	if project == "" {
		return false
	}
	msg, ack, err := w.queue.GetNextRun(project)
	if err != nil {
		w.logger.Error("Failed to get next run", slog.String("project", project), slog.String("error", err.Error()))
		return false
	}
	if msg == nil || ack == nil {
		return false
	}

	logger := w.logger.With(slog.String("report_id", msg.ID), slog.String("project", project))
	logger.Info("Received run", slog.Int("cases", len(msg.Request.CaseIDs)))

	final, err := w.sched.Run(ctx, &msg.Request)
	if err != nil {
		requeue := ctx.Err() != nil
		logger.Error("Run failed", slog.String("error", err.Error()), slog.Bool("requeue", requeue))
		if nackErr := ack.Nack(requeue); nackErr != nil {
			logger.Error("Failed to Nack run", slog.String("nack_error", nackErr.Error()))
		}
		return true
	}
	if ackErr := ack.Ack(); ackErr != nil {
		logger.Error("Failed to ACK run", slog.String("ack_error", ackErr.Error()))
	}
	logger.Info("Run completed", slog.String("result", string(final.Result)), slog.Int64("duration_ms", final.DurationMs))
	return true
}

// selectProject returns the assigned project with the most pending runs, or "" when
// every queue is empty.
func (w *Worker) selectProject() string {
	best, bestSize := "", 0
	for _, project := range w.projects {
		size, err := w.queue.GetQueueSize(project)
		if err != nil {
			w.logger.Warn("Failed to get queue size", slog.String("project", project), slog.String("error", err.Error()))
			continue
		}
		if size > bestSize {
			best, bestSize = project, size
		}
	}
	return best
}
