package report

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/husmancristian/geaman-engine/pkg/models"
	"github.com/husmancristian/geaman-engine/pkg/storage/memory"
)

type captureNotifier struct {
	published []*models.ReportSummary
	err       error
}

func (c *captureNotifier) PublishReport(_ context.Context, r *models.ReportSummary) error {
	c.published = append(c.published, r)
	return c.err
}

func TestMerge(t *testing.T) {
	cases := []*models.CaseSummary{
		{Result: models.OutcomeSuccess, Steps: models.Counter{Total: 2, Success: 2}},
		{Result: models.OutcomeFail, Steps: models.Counter{Total: 3, Success: 1, Fail: 1, Skip: 1}},
		nil,
		{Result: models.OutcomeError},
	}

	stat := Merge(cases)

	assert.Equal(t, models.Counter{Total: 3, Success: 1, Fail: 1, Error: 1}, stat.TestCase)
	assert.Equal(t, models.Counter{Total: 5, Success: 3, Fail: 1, Skip: 1}, stat.TestStep)
	assert.Equal(t, models.Stat{}, Merge(nil))
}

func TestResult(t *testing.T) {
	assert.Equal(t, models.OutcomeSuccess, Result(models.Counter{}))
	assert.Equal(t, models.OutcomeSuccess, Result(models.Counter{Total: 2, Success: 1, Skip: 1}))
	assert.Equal(t, models.OutcomeSkip, Result(models.Counter{Total: 2, Skip: 2}))
	assert.Equal(t, models.OutcomeFail, Result(models.Counter{Total: 2, Success: 1, Error: 1}))
}

func TestNewReport(t *testing.T) {
	r := NewReport(&models.RunRequest{
		ReportID: "r1",
		Project:  "demo",
		ServerID: "grid-1",
		Services: map[string]models.Service{"default": {BaseURL: "http://api"}},
	})

	assert.Equal(t, models.ModeSerial, r.Mode)
	assert.Equal(t, models.StatusWaiting, r.Status)
	assert.Equal(t, "grid-1", r.Env["server_id"])
	assert.Equal(t, map[string]any{"default": "http://api"}, r.Env["services"])
}

// slowStore delays the report save that carries the first counted step.
type slowStore struct {
	*memory.Store
}

func (s slowStore) SaveReport(ctx context.Context, r *models.ReportSummary) error {
	if r.Stat.TestStep.Total == 1 {
		time.Sleep(100 * time.Millisecond)
	}
	return s.Store.SaveReport(ctx, r)
}

func TestLiveCountersPersistInOrder(t *testing.T) {
	ctx := context.Background()
	store := slowStore{memory.NewStore()}
	agg := New(store, nil, nil)
	rep, err := agg.Begin(ctx, &models.RunRequest{ReportID: "r3", Project: "demo"})
	require.NoError(t, err)
	rec := agg.Recorder(rep)

	var wg sync.WaitGroup
	for i, id := range []string{"ca", "cb"} {
		wg.Add(1)
		go func() {
			defer wg.Done()
			time.Sleep(time.Duration(i) * 20 * time.Millisecond)
			c := &models.CaseSummary{ID: id, ReportID: "r3", Index: i}
			assert.NoError(t, rec.StepFinished(ctx, c, &models.StepResult{ID: id + "-s", CaseResultID: id, Outcome: models.OutcomeSuccess}))
		}()
	}
	wg.Wait()

	saved, err := store.GetReport(ctx, "r3")
	require.NoError(t, err)
	assert.Equal(t, 2, saved.Stat.TestStep.Total)
}

func TestAggregatorLifecycle(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()
	notifier := &captureNotifier{}
	agg := New(store, notifier, nil)
	req := &models.RunRequest{ReportID: "r1", Project: "demo", Mode: models.ModeParallel, CaseIDs: []string{"a", "b"}}

	rep, err := agg.Begin(ctx, req)
	require.NoError(t, err)
	saved, err := store.GetReport(ctx, "r1")
	require.NoError(t, err)
	assert.Equal(t, models.StatusRunning, saved.Status)
	assert.Equal(t, models.ModeParallel, saved.Mode)

	rec := agg.Recorder(rep)
	a := &models.CaseSummary{ID: "ca", ReportID: "r1", CaseID: "a", Index: 0, Status: models.StatusRunning}
	require.NoError(t, rec.CaseStarted(ctx, a))
	a.Steps.Add(models.OutcomeSuccess)
	require.NoError(t, rec.StepFinished(ctx, a, &models.StepResult{ID: "s1", CaseResultID: "ca", Outcome: models.OutcomeSuccess}))

	live, err := store.GetReport(ctx, "r1")
	require.NoError(t, err)
	assert.Equal(t, 1, live.Stat.TestStep.Total)

	a.Result, a.Status = models.OutcomeSuccess, models.StatusDone
	require.NoError(t, rec.CaseFinished(ctx, a))
	b := &models.CaseSummary{ID: "cb", ReportID: "r1", CaseID: "b", Index: 1, Status: models.StatusDone, Result: models.OutcomeError}
	require.NoError(t, rec.CaseFinished(ctx, b))

	final, err := agg.Finish(ctx, rep, []*models.CaseSummary{a, b})
	require.NoError(t, err)
	assert.Equal(t, models.StatusDone, final.Status)
	assert.Equal(t, models.OutcomeFail, final.Result)
	assert.Equal(t, models.Counter{Total: 2, Success: 1, Error: 1}, final.Stat.TestCase)
	assert.Equal(t, models.Counter{Total: 1, Success: 1}, final.Stat.TestStep)
	assert.False(t, final.EndedAt.Before(final.StartedAt))

	require.Len(t, notifier.published, 1)
	assert.Equal(t, "r1", notifier.published[0].ID)

	rows, err := store.ListCaseResults(ctx, "r1")
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, "a", rows[0].CaseID)
	steps, err := store.ListStepResults(ctx, "ca")
	require.NoError(t, err)
	assert.Len(t, steps, 1)
}

func TestFinishIgnoresNotifierFailure(t *testing.T) {
	ctx := context.Background()
	agg := New(memory.NewStore(), &captureNotifier{err: errors.New("broker down")}, nil)
	rep, err := agg.Begin(ctx, &models.RunRequest{ReportID: "r2", Project: "demo"})
	require.NoError(t, err)

	final, err := agg.Finish(ctx, rep, nil)
	require.NoError(t, err)
	assert.Equal(t, models.OutcomeSuccess, final.Result)
}
