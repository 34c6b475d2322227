package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"slices"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	httperrors "github.com/husmancristian/geaman-engine/errors"
	"github.com/husmancristian/geaman-engine/pkg/config"
	"github.com/husmancristian/geaman-engine/pkg/definition"
	"github.com/husmancristian/geaman-engine/pkg/models"
	"github.com/husmancristian/geaman-engine/pkg/queue"
	"github.com/husmancristian/geaman-engine/pkg/report"
	"github.com/husmancristian/geaman-engine/pkg/storage"
)

type API struct {
	QueueManager queue.Manager
	Store        storage.ReportStore
	Logger       *slog.Logger
	Config       *config.Config
}

func NewAPI(qm queue.Manager, store storage.ReportStore, logger *slog.Logger, cfg *config.Config) *API {
	return &API{QueueManager: qm, Store: store, Logger: logger, Config: cfg}
}

// QueueStatus is the per-project queue view.
type QueueStatus struct {
	Project     string `json:"project"`
	PendingRuns int    `json:"pending_runs"`
	RunningRuns int    `json:"running_runs"`
}

// HandleEnqueueRun stores a waiting report for the request and queues it for a worker.
func (a *API) HandleEnqueueRun(w http.ResponseWriter, r *http.Request) {
	logger := a.Logger.With(slog.String("handler", "HandleEnqueueRun"))
	var req models.RunRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httperrors.BadRequest(w, logger, err, "Invalid JSON request body")
		return
	}
	defer r.Body.Close()

	if msg := validateRunRequest(&req, a.Config.WorkerProjects); msg != "" {
		httperrors.BadRequest(w, logger, nil, msg)
		return
	}
	if req.ReportID == "" {
		req.ReportID = uuid.NewString()
	}
	logger = logger.With(slog.String("report_id", req.ReportID), slog.String("project", req.Project))

	// The waiting row exists before a worker can pick the run up.
	if err := a.Store.SaveReport(r.Context(), report.NewReport(&req)); err != nil {
		httperrors.InternalServerError(w, logger, err, "Failed to save report")
		return
	}
	reportID, err := a.QueueManager.EnqueueRun(&req)
	if err != nil {
		httperrors.ServiceUnavailable(w, logger, err, "Failed to enqueue run")
		return
	}
	logger.Info("Run accepted", slog.Int("cases", len(req.CaseIDs)), slog.String("mode", req.Mode))
	httperrors.RespondWithJSON(w, logger, http.StatusAccepted, map[string]string{"report_id": reportID})
}

func validateRunRequest(req *models.RunRequest, projects []string) string {
	switch {
	case req.Project == "":
		return "Missing required field: project"
	case len(projects) > 0 && !slices.Contains(projects, req.Project):
		return fmt.Sprintf("Project '%s' is not a configured project", req.Project)
	case len(req.CaseIDs) == 0:
		return "Missing required field: case_ids"
	case req.Mode != "" && req.Mode != models.ModeSerial && req.Mode != models.ModeParallel:
		return fmt.Sprintf("Unknown mode '%s', expected serial or parallel", req.Mode)
	}
	return ""
}

func (a *API) HandleGetReport(w http.ResponseWriter, r *http.Request) {
	reportID := chi.URLParam(r, "reportId")
	logger := a.Logger.With(slog.String("handler", "HandleGetReport"), slog.String("report_id", reportID))

	summary, err := a.Store.GetReport(r.Context(), reportID)
	if errors.Is(err, storage.ErrNotFound) {
		httperrors.NotFound(w, logger, nil, "Report not found")
		return
	}
	if err != nil {
		httperrors.InternalServerError(w, logger, err, "Failed to retrieve report")
		return
	}
	httperrors.RespondWithJSON(w, logger, http.StatusOK, summary)
}

// HandleGetReportCases lists the case rows of a report in request order.
func (a *API) HandleGetReportCases(w http.ResponseWriter, r *http.Request) {
	reportID := chi.URLParam(r, "reportId")
	logger := a.Logger.With(slog.String("handler", "HandleGetReportCases"), slog.String("report_id", reportID))

	if _, err := a.Store.GetReport(r.Context(), reportID); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			httperrors.NotFound(w, logger, nil, "Report not found")
			return
		}
		httperrors.InternalServerError(w, logger, err, "Failed to retrieve report")
		return
	}
	cases, err := a.Store.ListCaseResults(r.Context(), reportID)
	if err != nil {
		httperrors.InternalServerError(w, logger, err, "Failed to retrieve case results")
		return
	}
	if cases == nil {
		cases = []models.CaseSummary{}
	}
	httperrors.RespondWithJSON(w, logger, http.StatusOK, cases)
}

func (a *API) HandleGetCaseSteps(w http.ResponseWriter, r *http.Request) {
	caseResultID := chi.URLParam(r, "caseResultId")
	logger := a.Logger.With(slog.String("handler", "HandleGetCaseSteps"), slog.String("case_result_id", caseResultID))

	steps, err := a.Store.ListStepResults(r.Context(), caseResultID)
	if err != nil {
		httperrors.InternalServerError(w, logger, err, "Failed to retrieve step results")
		return
	}
	if steps == nil {
		steps = []models.StepResult{}
	}
	httperrors.RespondWithJSON(w, logger, http.StatusOK, steps)
}

// HandleGetProjectReports retrieves all reports of a project, newest first.
func (a *API) HandleGetProjectReports(w http.ResponseWriter, r *http.Request) {
	project := chi.URLParam(r, "projectName")
	logger := a.Logger.With(slog.String("handler", "HandleGetProjectReports"), slog.String("project", project))

	reports, err := a.Store.ListReports(r.Context(), project)
	if err != nil {
		httperrors.InternalServerError(w, logger, err, fmt.Sprintf("Failed to retrieve reports for project %s", project))
		return
	}
	if reports == nil {
		reports = []models.ReportSummary{}
	}
	httperrors.RespondWithJSON(w, logger, http.StatusOK, reports)
}

func (a *API) HandleGetQueueStatus(w http.ResponseWriter, r *http.Request) {
	project := chi.URLParam(r, "project")
	logger := a.Logger.With(slog.String("handler", "HandleGetQueueStatus"), slog.String("project", project))

	status, err := a.queueStatus(r, project)
	if err != nil {
		httperrors.InternalServerError(w, logger, err, "Failed to get queue status")
		return
	}
	httperrors.RespondWithJSON(w, logger, http.StatusOK, status)
}

// HandleGetQueueOverview reports the queue status of every project the workers poll.
func (a *API) HandleGetQueueOverview(w http.ResponseWriter, r *http.Request) {
	logger := a.Logger.With(slog.String("handler", "HandleGetQueueOverview"))
	projects := a.Config.WorkerProjects
	if len(projects) == 0 {
		logger.Warn("No worker projects configured")
	}

	overview := make([]QueueStatus, 0, len(projects))
	for _, project := range projects {
		status, err := a.queueStatus(r, project)
		if err != nil {
			httperrors.InternalServerError(w, logger, fmt.Errorf("project %s: %w", project, err), "Failed to retrieve status for one or more queues")
			return
		}
		overview = append(overview, status)
	}
	httperrors.RespondWithJSON(w, logger, http.StatusOK, overview)
}

func (a *API) queueStatus(r *http.Request, project string) (QueueStatus, error) {
	size, err := a.QueueManager.GetQueueSize(project)
	if err != nil {
		return QueueStatus{}, err
	}
	running, err := a.Store.CountReportsByStatus(r.Context(), project, models.StatusRunning)
	if err != nil {
		return QueueStatus{}, err
	}
	return QueueStatus{Project: project, PendingRuns: size, RunningRuns: running}, nil
}

// HandleGetCaseSchema serves the JSON schema of case definition documents.
func (a *API) HandleGetCaseSchema(w http.ResponseWriter, r *http.Request) {
	logger := a.Logger.With(slog.String("handler", "HandleGetCaseSchema"))
	schema, err := definition.Schema()
	if err != nil {
		httperrors.InternalServerError(w, logger, err, "Failed to build case schema")
		return
	}
	w.Header().Set("Content-Type", "application/schema+json")
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(schema); err != nil {
		logger.Error("Failed to write schema response", slog.String("error", err.Error()))
	}
}
