package memory

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/husmancristian/geaman-engine/pkg/models"
	"github.com/husmancristian/geaman-engine/pkg/storage"
)

func TestReports(t *testing.T) {
	ctx := context.Background()
	s := NewStore()
	now := time.Now()
	require.NoError(t, s.SaveReport(ctx, &models.ReportSummary{ID: "old", Project: "shop", Status: models.StatusDone, StartedAt: now.Add(-time.Hour)}))
	require.NoError(t, s.SaveReport(ctx, &models.ReportSummary{ID: "new", Project: "shop", Status: models.StatusRunning, StartedAt: now}))
	require.NoError(t, s.SaveReport(ctx, &models.ReportSummary{ID: "other", Project: "billing", Status: models.StatusRunning}))

	_, err := s.GetReport(ctx, "missing")
	assert.ErrorIs(t, err, storage.ErrNotFound)
	assert.Error(t, s.SaveReport(ctx, &models.ReportSummary{}))

	list, err := s.ListReports(ctx, "shop")
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "new", list[0].ID)

	n, err := s.CountReportsByStatus(ctx, "shop", models.StatusRunning)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestRowsAndArtifacts(t *testing.T) {
	ctx := context.Background()
	s := NewStore()
	require.NoError(t, s.SaveCaseResult(ctx, &models.CaseSummary{ID: "c1", ReportID: "r", Index: 1}))
	require.NoError(t, s.SaveCaseResult(ctx, &models.CaseSummary{ID: "c0", ReportID: "r", Index: 0}))
	require.NoError(t, s.SaveCaseResult(ctx, &models.CaseSummary{ID: "c0", ReportID: "r", Index: 0, Status: models.StatusDone}))
	require.NoError(t, s.SaveStepResult(ctx, &models.StepResult{ID: "a", CaseResultID: "c0"}))
	require.NoError(t, s.SaveStepResult(ctx, &models.StepResult{ID: "b", CaseResultID: "c0"}))

	cases, err := s.ListCaseResults(ctx, "r")
	require.NoError(t, err)
	require.Len(t, cases, 2)
	assert.Equal(t, "c0", cases[0].ID)
	assert.Equal(t, models.StatusDone, cases[0].Status)

	steps, err := s.ListStepResults(ctx, "c0")
	require.NoError(t, err)
	require.Len(t, steps, 2)
	assert.Equal(t, "b", steps[1].ID)

	url, err := s.StoreArtifact(ctx, "r/c0/a.png", strings.NewReader("png"), 3, "image/png")
	require.NoError(t, err)
	assert.Equal(t, "memory://r/c0/a.png", url)
	data, ok := s.Artifact("r/c0/a.png")
	require.True(t, ok)
	assert.Equal(t, "png", string(data))
}
