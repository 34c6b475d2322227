package queue

import (
	"context"

	"github.com/husmancristian/geaman-engine/pkg/models"
)

type AckNacker interface {
	Ack() error              // Acknowledge successful processing.
	Nack(requeue bool) error // Reject processing. requeue=true puts back in queue.
}

// Manager defines the interface for the project run queues and report notifications.
type Manager interface {
	// EnqueueRun adds a run request to its project's queue. The request's ReportID is
	// assigned when empty and returned.
	EnqueueRun(req *models.RunRequest) (string, error)

	// GetNextRun retrieves the next run request from the project's queue, with an
	// AckNacker to settle it, or nil when the queue is empty.
	GetNextRun(project string) (*models.RunMessage, AckNacker, error)

	// GetQueueSize returns the current number of pending runs in a project's queue.
	GetQueueSize(project string) (int, error)

	// PublishReport broadcasts a finished report summary.
	PublishReport(ctx context.Context, report *models.ReportSummary) error

	// Close releases any resources held by the queue manager (e.g., connections).
	Close() error
}
