// Package memory is an in-process ReportStore used by local runs and tests.
package memory

import (
	"cmp"
	"context"
	"fmt"
	"io"
	"maps"
	"slices"
	"sync"

	"github.com/husmancristian/geaman-engine/pkg/models"
	"github.com/husmancristian/geaman-engine/pkg/storage"
)

var _ storage.ReportStore = (*Store)(nil)

// Store keeps every row in maps guarded by one mutex.
type Store struct {
	mu        sync.RWMutex
	reports   map[string]models.ReportSummary
	cases     map[string]models.CaseSummary
	steps     map[string][]models.StepResult // By case result id
	artifacts map[string][]byte
}

// NewStore returns an empty store.
func NewStore() *Store {
	return &Store{
		reports:   make(map[string]models.ReportSummary),
		cases:     make(map[string]models.CaseSummary),
		steps:     make(map[string][]models.StepResult),
		artifacts: make(map[string][]byte),
	}
}

func (s *Store) SaveReport(_ context.Context, report *models.ReportSummary) error {
	if report == nil || report.ID == "" {
		return fmt.Errorf("cannot save report with empty ID")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	r := *report
	r.Env = maps.Clone(report.Env)
	s.reports[r.ID] = r
	return nil
}

func (s *Store) GetReport(_ context.Context, reportID string) (*models.ReportSummary, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.reports[reportID]
	if !ok {
		return nil, fmt.Errorf("report %s: %w", reportID, storage.ErrNotFound)
	}
	return &r, nil
}

func (s *Store) ListReports(_ context.Context, project string) ([]models.ReportSummary, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := []models.ReportSummary{}
	for _, r := range s.reports {
		if r.Project == project {
			out = append(out, r)
		}
	}
	slices.SortFunc(out, func(a, b models.ReportSummary) int { return b.StartedAt.Compare(a.StartedAt) })
	return out, nil
}

func (s *Store) CountReportsByStatus(_ context.Context, project, status string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := 0
	for _, r := range s.reports {
		if r.Project == project && r.Status == status {
			n++
		}
	}
	return n, nil
}

func (s *Store) SaveCaseResult(_ context.Context, c *models.CaseSummary) error {
	if c == nil || c.ID == "" {
		return fmt.Errorf("cannot save case result with empty ID")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cases[c.ID] = *c
	return nil
}

func (s *Store) ListCaseResults(_ context.Context, reportID string) ([]models.CaseSummary, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := []models.CaseSummary{}
	for _, c := range s.cases {
		if c.ReportID == reportID {
			out = append(out, c)
		}
	}
	slices.SortFunc(out, func(a, b models.CaseSummary) int { return cmp.Compare(a.Index, b.Index) })
	return out, nil
}

func (s *Store) SaveStepResult(_ context.Context, step *models.StepResult) error {
	if step == nil || step.ID == "" || step.CaseResultID == "" {
		return fmt.Errorf("cannot save step result without ID and case result ID")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.steps[step.CaseResultID] = append(s.steps[step.CaseResultID], *step)
	return nil
}

func (s *Store) ListStepResults(_ context.Context, caseResultID string) ([]models.StepResult, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]models.StepResult{}, s.steps[caseResultID]...), nil
}

func (s *Store) StoreArtifact(_ context.Context, objectName string, reader io.Reader, _ int64, _ string) (string, error) {
	data, err := io.ReadAll(reader)
	if err != nil {
		return "", fmt.Errorf("failed to read artifact '%s': %w", objectName, err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.artifacts[objectName] = data
	return "memory://" + objectName, nil
}

// Artifact returns a stored artifact.
func (s *Store) Artifact(objectName string) ([]byte, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	data, ok := s.artifacts[objectName]
	return data, ok
}

func (s *Store) Close() error { return nil }
