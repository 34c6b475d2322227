package storage

import (
	"context"
	"errors"
	"io"

	"github.com/husmancristian/geaman-engine/pkg/models"
)

// ErrNotFound is returned by getters when the row does not exist.
var ErrNotFound = errors.New("not found")

// ReportStore defines the interface for storing and retrieving reports, their case and
// step rows, and artifacts.
type ReportStore interface {
	// SaveReport upserts the report row. Called when a run is enqueued, while it runs and when it ends.
	SaveReport(ctx context.Context, report *models.ReportSummary) error

	// GetReport retrieves one report.
	GetReport(ctx context.Context, reportID string) (*models.ReportSummary, error)

	// ListReports retrieves the reports of a project, newest first.
	ListReports(ctx context.Context, project string) ([]models.ReportSummary, error)

	// CountReportsByStatus counts the reports of a project in the given status.
	CountReportsByStatus(ctx context.Context, project string, status string) (int, error)

	// SaveCaseResult upserts a case row with its live step counters.
	SaveCaseResult(ctx context.Context, c *models.CaseSummary) error

	// ListCaseResults retrieves the case rows of a report in request order.
	ListCaseResults(ctx context.Context, reportID string) ([]models.CaseSummary, error)

	// SaveStepResult stores one step execution.
	SaveStepResult(ctx context.Context, step *models.StepResult) error

	// ListStepResults retrieves the step rows of a case result in execution order.
	ListStepResults(ctx context.Context, caseResultID string) ([]models.StepResult, error)

	// StoreArtifact handles the storage of a binary artifact (e.g., to MinIO/S3).
	StoreArtifact(ctx context.Context, objectName string, reader io.Reader, size int64, contentType string) (string, error)

	// Close releases any resources held by the store (e.g., DB connections).
	Close() error
}
