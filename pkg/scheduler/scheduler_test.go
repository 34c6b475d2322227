package scheduler

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/husmancristian/geaman-engine/pkg/action"
	"github.com/husmancristian/geaman-engine/pkg/action/httpaction"
	"github.com/husmancristian/geaman-engine/pkg/definition"
	"github.com/husmancristian/geaman-engine/pkg/models"
	"github.com/husmancristian/geaman-engine/pkg/report"
	"github.com/husmancristian/geaman-engine/pkg/runner"
	"github.com/husmancristian/geaman-engine/pkg/storage/memory"
)

type fakeRunner struct {
	mu      sync.Mutex
	order   []string
	delay   time.Duration
	running atomic.Int32
	peak    atomic.Int32
}

func (f *fakeRunner) RunCase(_ context.Context, req *models.RunRequest, index int, caseID string, _ runner.Recorder) *models.CaseSummary {
	n := f.running.Add(1)
	for {
		p := f.peak.Load()
		if n <= p || f.peak.CompareAndSwap(p, n) {
			break
		}
	}
	time.Sleep(f.delay)
	f.running.Add(-1)

	f.mu.Lock()
	f.order = append(f.order, caseID)
	f.mu.Unlock()
	return &models.CaseSummary{
		ID:       caseID + "-result",
		ReportID: req.ReportID,
		CaseID:   caseID,
		Index:    index,
		Status:   models.StatusDone,
		Result:   models.OutcomeSuccess,
		Steps:    models.Counter{Total: 1, Success: 1},
	}
}

func TestRunSerialKeepsOrder(t *testing.T) {
	fr := &fakeRunner{}
	s := New(fr, report.New(memory.NewStore(), nil, nil), 0, nil)
	req := &models.RunRequest{Project: "demo", CaseIDs: []string{"a", "b", "c"}}

	final, err := s.Run(context.Background(), req)
	require.NoError(t, err)

	assert.NotEmpty(t, req.ReportID)
	assert.Equal(t, req.ReportID, final.ID)
	assert.Equal(t, []string{"a", "b", "c"}, fr.order)
	assert.Equal(t, int32(1), fr.peak.Load())
	assert.Equal(t, models.Counter{Total: 3, Success: 3}, final.Stat.TestCase)
}

func TestRunParallelRespectsLimit(t *testing.T) {
	fr := &fakeRunner{delay: 20 * time.Millisecond}
	s := New(fr, report.New(memory.NewStore(), nil, nil), 2, nil)
	req := &models.RunRequest{ReportID: "r1", Project: "demo", Mode: models.ModeParallel, CaseIDs: []string{"a", "b", "c", "d", "e"}}

	final, err := s.Run(context.Background(), req)
	require.NoError(t, err)

	assert.LessOrEqual(t, fr.peak.Load(), int32(2))
	assert.Len(t, fr.order, 5)
	assert.Equal(t, 5, final.Stat.TestCase.Total)
	assert.Equal(t, 5, final.Stat.TestStep.Total)
}

func TestRunRequiresCases(t *testing.T) {
	s := New(&fakeRunner{}, report.New(memory.NewStore(), nil, nil), 0, nil)
	_, err := s.Run(context.Background(), &models.RunRequest{Project: "demo"})
	assert.Error(t, err)
}

func TestRunParallelCasesEndToEnd(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/ok", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"ok":true}`)
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	step := func(name, path string) models.StepDefinition {
		return models.StepDefinition{
			Name:      name,
			Request:   &models.HTTPRequest{Method: http.MethodGet, URL: path},
			Validates: []models.ValidateSpec{{Actual: "status_code", Comparator: "equals", Expected: 200}},
		}
	}
	src := definition.MapSource{
		"one":   {ID: "one", Name: "one", Steps: []models.StepDefinition{step("a", "/ok"), step("b", "/ok")}},
		"two":   {ID: "two", Name: "two", Steps: []models.StepDefinition{step("a", "/ok"), step("missing", "/missing"), step("c", "/ok")}},
		"three": {ID: "three", Name: "three", Steps: []models.StepDefinition{step("a", "/ok")}},
	}
	d := action.NewDispatcher()
	d.Register(models.StepKindAPI, httpaction.New(nil, nil))
	r, err := runner.New(runner.Config{Source: src, Dispatcher: d})
	require.NoError(t, err)

	store := memory.NewStore()
	s := New(r, report.New(store, nil, nil), 0, nil)
	req := &models.RunRequest{
		ReportID:   "r1",
		Project:    "demo",
		Mode:       models.ModeParallel,
		SkipOnFail: true,
		CaseIDs:    []string{"one", "two", "three"},
		Services:   map[string]models.Service{"default": {BaseURL: srv.URL}},
	}

	final, err := s.Run(context.Background(), req)
	require.NoError(t, err)

	assert.Equal(t, models.StatusDone, final.Status)
	assert.Equal(t, models.OutcomeFail, final.Result)
	assert.Equal(t, models.Counter{Total: 3, Success: 2, Fail: 1}, final.Stat.TestCase)
	assert.Equal(t, models.Counter{Total: 6, Success: 4, Fail: 1, Skip: 1}, final.Stat.TestStep)

	rows, err := store.ListCaseResults(context.Background(), "r1")
	require.NoError(t, err)
	require.Len(t, rows, 3)
	var sum models.Counter
	for i, row := range rows {
		assert.Equal(t, i, row.Index)
		assert.Equal(t, models.StatusDone, row.Status)
		sum.Merge(row.Steps)
	}
	assert.Equal(t, final.Stat.TestStep, sum)

	saved, err := store.GetReport(context.Background(), "r1")
	require.NoError(t, err)
	assert.Equal(t, final.Stat, saved.Stat)
}
