package persistent

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"path"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/husmancristian/geaman-engine/pkg/models"
	"github.com/husmancristian/geaman-engine/pkg/storage"
)

// Ensure Store implements storage.ReportStore interface at compile time
var _ storage.ReportStore = (*Store)(nil)

const (
	upsertReportSQL = `
		INSERT INTO reports (
			id, name, project, env_code, mode, status, result, stat,
			started_at, ended_at, duration_ms, triggered_by, env, updated_at
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, NOW()
		)
		ON CONFLICT (id) DO UPDATE SET
			status = EXCLUDED.status,
			result = EXCLUDED.result,
			stat = EXCLUDED.stat,
			started_at = COALESCE(EXCLUDED.started_at, reports.started_at),
			ended_at = EXCLUDED.ended_at,
			duration_ms = EXCLUDED.duration_ms,
			env = COALESCE(EXCLUDED.env, reports.env),
			updated_at = NOW();
	`
	selectReportSQL = `
		SELECT id, name, project, env_code, mode, status, result, stat,
			started_at, ended_at, duration_ms, triggered_by, env
		FROM reports
	`
	countReportsSQL = `SELECT COUNT(*) FROM reports WHERE project = $1 AND status = $2;`

	upsertCaseSQL = `
		INSERT INTO case_results (
			id, report_id, case_id, name, position, status, result, steps,
			started_at, ended_at, duration_ms, error, updated_at
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, NOW()
		)
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name,
			status = EXCLUDED.status,
			result = EXCLUDED.result,
			steps = EXCLUDED.steps,
			started_at = COALESCE(EXCLUDED.started_at, case_results.started_at),
			ended_at = EXCLUDED.ended_at,
			duration_ms = EXCLUDED.duration_ms,
			error = EXCLUDED.error,
			updated_at = NOW();
	`
	listCasesSQL = `
		SELECT id, report_id, case_id, name, position, status, result, steps,
			started_at, ended_at, duration_ms, error
		FROM case_results
		WHERE report_id = $1
		ORDER BY position ASC;
	`

	insertStepSQL = `
		INSERT INTO step_results (
			id, report_id, case_result_id, name, kind, outcome, started_at, ended_at, duration_ms, detail
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10);
	`
	listStepsSQL = `SELECT detail FROM step_results WHERE case_result_id = $1 ORDER BY seq ASC;`
)

// Store implements the storage.ReportStore interface using PostgreSQL and MinIO.
type Store struct {
	db          *pgxpool.Pool // PostgreSQL connection pool
	minioClient *minio.Client // MinIO client
	bucketName  string        // MinIO bucket name
	logger      *slog.Logger
}

// NewStore creates a new persistent store instance.
func NewStore(pgDSN, minioEndpoint, minioAccessKey, minioSecretKey, bucketName string, useSSL bool, logger *slog.Logger) (*Store, error) {
	// --- Connect to PostgreSQL ---
	dbpool, err := pgxpool.New(context.Background(), pgDSN)
	if err != nil {
		return nil, fmt.Errorf("unable to create connection pool: %w", err)
	}
	if err := dbpool.Ping(context.Background()); err != nil {
		dbpool.Close()
		return nil, fmt.Errorf("unable to ping database: %w", err)
	}
	logger.Info("PostgreSQL connection pool established")

	// --- Connect to MinIO ---
	minioClient, err := minio.New(minioEndpoint, &minio.Options{Creds: credentials.NewStaticV4(minioAccessKey, minioSecretKey, ""), Secure: useSSL})
	if err != nil {
		dbpool.Close()
		return nil, fmt.Errorf("failed to initialize MinIO client: %w", err)
	}
	logger.Info("MinIO client initialized", slog.String("endpoint", minioEndpoint))

	// --- Ensure MinIO Bucket Exists ---
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	err = minioClient.MakeBucket(ctx, bucketName, minio.MakeBucketOptions{})
	if err != nil {
		exists, errBucketExists := minioClient.BucketExists(ctx, bucketName)
		if errBucketExists == nil && exists {
			logger.Info("MinIO bucket already exists", slog.String("bucket", bucketName))
		} else {
			dbpool.Close()
			return nil, fmt.Errorf("failed to make/verify MinIO bucket '%s': %w", bucketName, err)
		}
	} else {
		logger.Info("Successfully created MinIO bucket", slog.String("bucket", bucketName))
	}

	return &Store{db: dbpool, minioClient: minioClient, bucketName: bucketName, logger: logger}, nil
}

// Close closes the database connection pool.
func (s *Store) Close() error {
	s.logger.Info("Closing persistent storage connections")
	if s.db != nil {
		s.db.Close()
	}
	return nil
}

// SaveReport upserts the report row. Identity columns are only written on insert.
func (s *Store) SaveReport(ctx context.Context, report *models.ReportSummary) error {
	if report == nil || report.ID == "" || report.Project == "" {
		return fmt.Errorf("invalid report data: id and project are required")
	}
	statJSON, err := json.Marshal(report.Stat)
	if err != nil {
		return fmt.Errorf("failed to marshal report stat: %w", err)
	}
	envJSON, err := nullJSON(report.Env)
	if err != nil {
		return fmt.Errorf("failed to marshal report env: %w", err)
	}

	_, err = s.db.Exec(ctx, upsertReportSQL,
		report.ID,
		report.Name,
		report.Project,
		nullString(report.EnvCode),
		report.Mode,
		report.Status,
		nullString(string(report.Result)),
		statJSON,
		nullTime(report.StartedAt),
		nullTime(report.EndedAt),
		report.DurationMs,
		nullString(report.TriggeredBy),
		envJSON,
	)
	if err != nil {
		return fmt.Errorf("failed to execute upsert for report %s: %w", report.ID, err)
	}
	s.logger.Debug("Saved report", slog.String("report_id", report.ID), slog.String("status", report.Status))
	return nil
}

// GetReport retrieves one report. storage.ErrNotFound when it does not exist.
func (s *Store) GetReport(ctx context.Context, reportID string) (*models.ReportSummary, error) {
	row := s.db.QueryRow(ctx, selectReportSQL+" WHERE id = $1;", reportID)
	report, err := scanReport(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("report %s: %w", reportID, storage.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to query report %s: %w", reportID, err)
	}
	return report, nil
}

// ListReports retrieves the latest reports of a project.
func (s *Store) ListReports(ctx context.Context, project string) ([]models.ReportSummary, error) {
	rows, err := s.db.Query(ctx, selectReportSQL+" WHERE project = $1 ORDER BY created_at DESC LIMIT 200;", project)
	if err != nil {
		return nil, fmt.Errorf("failed to query reports for project %s: %w", project, err)
	}
	defer rows.Close()

	reports := []models.ReportSummary{}
	for rows.Next() {
		report, err := scanReport(rows)
		if err != nil {
			s.logger.Error("Failed to scan report row", slog.String("error", err.Error()))
			continue
		}
		reports = append(reports, *report)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating report rows: %w", err)
	}
	return reports, nil
}

// CountReportsByStatus counts the reports of a project in one status.
func (s *Store) CountReportsByStatus(ctx context.Context, project, status string) (int, error) {
	var n int
	if err := s.db.QueryRow(ctx, countReportsSQL, project, status).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count reports for project %s: %w", project, err)
	}
	return n, nil
}

// SaveCaseResult upserts a case row with its live step counters.
func (s *Store) SaveCaseResult(ctx context.Context, c *models.CaseSummary) error {
	if c == nil || c.ID == "" || c.ReportID == "" {
		return fmt.Errorf("invalid case result data: id and report id are required")
	}
	stepsJSON, err := json.Marshal(c.Steps)
	if err != nil {
		return fmt.Errorf("failed to marshal case counters: %w", err)
	}
	_, err = s.db.Exec(ctx, upsertCaseSQL,
		c.ID,
		c.ReportID,
		c.CaseID,
		c.Name,
		c.Index,
		c.Status,
		nullString(string(c.Result)),
		stepsJSON,
		nullTime(c.StartedAt),
		nullTime(c.EndedAt),
		c.DurationMs,
		nullString(c.Error),
	)
	if err != nil {
		return fmt.Errorf("failed to execute upsert for case result %s: %w", c.ID, err)
	}
	return nil
}

// ListCaseResults retrieves the case rows of a report in request order.
func (s *Store) ListCaseResults(ctx context.Context, reportID string) ([]models.CaseSummary, error) {
	rows, err := s.db.Query(ctx, listCasesSQL, reportID)
	if err != nil {
		return nil, fmt.Errorf("failed to query case results for report %s: %w", reportID, err)
	}
	defer rows.Close()

	cases := []models.CaseSummary{}
	for rows.Next() {
		var (
			c                  models.CaseSummary
			result, errText    sql.NullString
			stepsJSON          []byte
			startedAt, endedAt sql.NullTime
		)
		err := rows.Scan(&c.ID, &c.ReportID, &c.CaseID, &c.Name, &c.Index, &c.Status, &result, &stepsJSON,
			&startedAt, &endedAt, &c.DurationMs, &errText)
		if err != nil {
			s.logger.Error("Failed to scan case result row", slog.String("error", err.Error()))
			continue
		}
		c.Result = models.Outcome(result.String)
		c.Error = errText.String
		c.StartedAt = startedAt.Time
		c.EndedAt = endedAt.Time
		if err := json.Unmarshal(stepsJSON, &c.Steps); err != nil {
			s.logger.Warn("Failed to unmarshal case counters", slog.String("case_result_id", c.ID), slog.String("error", err.Error()))
		}
		cases = append(cases, c)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating case result rows: %w", err)
	}
	return cases, nil
}

// SaveStepResult stores one step execution. The full envelope lives in the detail column.
func (s *Store) SaveStepResult(ctx context.Context, step *models.StepResult) error {
	if step == nil || step.ID == "" || step.CaseResultID == "" {
		return fmt.Errorf("invalid step result data: id and case result id are required")
	}
	detail, err := json.Marshal(step)
	if err != nil {
		return fmt.Errorf("failed to marshal step result %s: %w", step.ID, err)
	}
	_, err = s.db.Exec(ctx, insertStepSQL,
		step.ID,
		step.ReportID,
		step.CaseResultID,
		step.Name,
		string(step.Kind),
		string(step.Outcome),
		nullTime(step.StartedAt),
		nullTime(step.EndedAt),
		step.DurationMs,
		detail,
	)
	if err != nil {
		return fmt.Errorf("failed to insert step result %s: %w", step.ID, err)
	}
	return nil
}

// ListStepResults retrieves the steps of a case result in execution order.
func (s *Store) ListStepResults(ctx context.Context, caseResultID string) ([]models.StepResult, error) {
	rows, err := s.db.Query(ctx, listStepsSQL, caseResultID)
	if err != nil {
		return nil, fmt.Errorf("failed to query step results for case result %s: %w", caseResultID, err)
	}
	defer rows.Close()

	steps := []models.StepResult{}
	for rows.Next() {
		var detail []byte
		if err := rows.Scan(&detail); err != nil {
			s.logger.Error("Failed to scan step result row", slog.String("error", err.Error()))
			continue
		}
		var step models.StepResult
		if err := json.Unmarshal(detail, &step); err != nil {
			s.logger.Warn("Failed to unmarshal step result", slog.String("case_result_id", caseResultID), slog.String("error", err.Error()))
			continue
		}
		steps = append(steps, step)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating step result rows: %w", err)
	}
	return steps, nil
}

// StoreArtifact uploads data to the configured MinIO bucket.
func (s *Store) StoreArtifact(ctx context.Context, objectName string, reader io.Reader, size int64, contentType string) (string, error) {
	if s.bucketName == "" {
		return "", fmt.Errorf("minio bucket name is not configured")
	}
	uploadInfo, err := s.minioClient.PutObject(ctx, s.bucketName, objectName, reader, size, minio.PutObjectOptions{ContentType: contentType})
	if err != nil {
		return "", fmt.Errorf("failed to upload artifact '%s': %w", objectName, err)
	}
	s.logger.Info("Stored artifact", slog.String("bucket", uploadInfo.Bucket), slog.String("key", uploadInfo.Key), slog.Int64("size", uploadInfo.Size))
	return ArtifactURL(s.minioClient.EndpointURL(), s.bucketName, objectName), nil
}

// ArtifactURL is the public URL of an object in bucket behind endpoint.
func ArtifactURL(endpoint *url.URL, bucket, objectName string) string {
	u := url.URL{Scheme: "http", Host: endpoint.Host, Path: path.Join(bucket, objectName)}
	if endpoint.Scheme == "https" {
		u.Scheme = "https"
	}
	return u.String()
}

func scanReport(row pgx.Row) (*models.ReportSummary, error) {
	var (
		r                            models.ReportSummary
		envCode, result, triggeredBy sql.NullString
		statJSON, envJSON            []byte
		startedAt, endedAt           sql.NullTime
	)
	err := row.Scan(&r.ID, &r.Name, &r.Project, &envCode, &r.Mode, &r.Status, &result, &statJSON,
		&startedAt, &endedAt, &r.DurationMs, &triggeredBy, &envJSON)
	if err != nil {
		return nil, err
	}
	r.EnvCode = envCode.String
	r.Result = models.Outcome(result.String)
	r.TriggeredBy = triggeredBy.String
	r.StartedAt = startedAt.Time
	r.EndedAt = endedAt.Time
	if len(statJSON) > 0 {
		if err := json.Unmarshal(statJSON, &r.Stat); err != nil {
			return nil, fmt.Errorf("failed to unmarshal stat: %w", err)
		}
	}
	if len(envJSON) > 0 && string(envJSON) != "null" {
		if err := json.Unmarshal(envJSON, &r.Env); err != nil {
			return nil, fmt.Errorf("failed to unmarshal env: %w", err)
		}
	}
	return &r, nil
}

func nullString(s string) sql.NullString { return sql.NullString{String: s, Valid: s != ""} }

func nullTime(t time.Time) sql.NullTime { return sql.NullTime{Time: t, Valid: !t.IsZero()} }

func nullJSON(v map[string]any) ([]byte, error) {
	if len(v) == 0 {
		return nil, nil
	}
	return json.Marshal(v)
}
