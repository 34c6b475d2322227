// Package runner executes one case: it flattens quoted cases, drives every step through
// its lifecycle and reports progress to a Recorder.
package runner

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"maps"
	"slices"
	"time"

	"github.com/google/uuid"

	"github.com/husmancristian/geaman-engine/pkg/action"
	"github.com/husmancristian/geaman-engine/pkg/definition"
	"github.com/husmancristian/geaman-engine/pkg/engineerr"
	"github.com/husmancristian/geaman-engine/pkg/expression"
	"github.com/husmancristian/geaman-engine/pkg/extract"
	"github.com/husmancristian/geaman-engine/pkg/functions"
	"github.com/husmancristian/geaman-engine/pkg/models"
	"github.com/husmancristian/geaman-engine/pkg/scope"
	"github.com/husmancristian/geaman-engine/pkg/skip"
	"github.com/husmancristian/geaman-engine/pkg/validate"
)

// Recorder receives the progress of one case. Errors are logged and never abort the run.
type Recorder interface {
	CaseStarted(ctx context.Context, c *models.CaseSummary) error
	StepFinished(ctx context.Context, c *models.CaseSummary, step *models.StepResult) error
	CaseFinished(ctx context.Context, c *models.CaseSummary) error
}

// ArtifactStore persists binary artifacts such as screenshots and returns their URL.
type ArtifactStore interface {
	StoreArtifact(ctx context.Context, objectName string, reader io.Reader, size int64, contentType string) (string, error)
}

// Config wires a Runner.
type Config struct {
	Source      definition.Source   // Required
	Dispatcher  *action.Dispatcher  // Required
	Functions   *functions.Registry // Defaults to the builtins
	Validator   *validate.Validator // Defaults to the builtin comparators
	Skipper     *skip.Evaluator     // Defaults to the validator's comparators
	Artifacts   ArtifactStore       // Optional; screenshots are dropped without one
	StepTimeout time.Duration       // Applied to steps that declare none
	Logger      *slog.Logger
}

// Runner runs cases. It holds no per-case state and is safe for concurrent use.
type Runner struct {
	cfg    Config
	logger *slog.Logger
}

// New validates cfg and fills defaults.
func New(cfg Config) (*Runner, error) {
	if cfg.Source == nil {
		return nil, errors.New("runner: definition source is required")
	}
	if cfg.Dispatcher == nil {
		return nil, errors.New("runner: action dispatcher is required")
	}
	if cfg.Functions == nil {
		cfg.Functions = functions.NewRegistry()
	}
	if cfg.Validator == nil {
		cfg.Validator = validate.New(nil)
	}
	if cfg.Skipper == nil {
		cfg.Skipper = skip.New(cfg.Validator.Comparators())
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Runner{cfg: cfg, logger: logger}, nil
}

type nopRecorder struct{}

func (nopRecorder) CaseStarted(context.Context, *models.CaseSummary) error { return nil }
func (nopRecorder) StepFinished(context.Context, *models.CaseSummary, *models.StepResult) error {
	return nil
}
func (nopRecorder) CaseFinished(context.Context, *models.CaseSummary) error { return nil }

// RunCase executes the case at position index of req. It always returns a summary: a
// case that cannot be loaded, flattened or seeded ends with result "error".
func (r *Runner) RunCase(ctx context.Context, req *models.RunRequest, index int, caseID string, rec Recorder) *models.CaseSummary {
	if rec == nil {
		rec = nopRecorder{}
	}
	logger := r.logger.With(slog.String("report_id", req.ReportID), slog.String("case_id", caseID))

	summary := &models.CaseSummary{
		ID:       uuid.NewString(),
		ReportID: req.ReportID,
		CaseID:   caseID,
		Name:     caseID,
		Index:    index,
		Status:   models.StatusWaiting,
	}

	def, loadErr := r.cfg.Source.GetCase(ctx, caseID)
	if def != nil {
		summary.Name = def.Name
	}

	summary.Status = models.StatusRunning
	summary.StartedAt = time.Now().UTC()
	if err := rec.CaseStarted(ctx, summary); err != nil {
		logger.Warn("Failed to record case start", slog.String("error", err.Error()))
	}

	var (
		outcome models.Outcome
		err     error
	)
	if loadErr != nil {
		outcome, err = models.OutcomeError, fmt.Errorf("load case %s: %w", caseID, loadErr)
	} else {
		outcome, err = r.execute(ctx, req, def, summary, rec, logger)
	}

	summary.Result = outcome
	if err != nil {
		summary.Error = err.Error()
	}
	summary.Status = models.StatusDone
	summary.EndedAt = time.Now().UTC()
	summary.DurationMs = summary.EndedAt.Sub(summary.StartedAt).Milliseconds()
	if err := rec.CaseFinished(ctx, summary); err != nil {
		logger.Warn("Failed to record case end", slog.String("error", err.Error()))
	}

	logger.Info("Case finished",
		slog.String("result", string(outcome)),
		slog.Int("steps", summary.Steps.Total),
		slog.Int64("duration_ms", summary.DurationMs))
	return summary
}

func (r *Runner) execute(ctx context.Context, req *models.RunRequest, def *models.CaseDefinition, summary *models.CaseSummary, rec Recorder, logger *slog.Logger) (outcome models.Outcome, err error) {
	defer func() {
		if p := recover(); p != nil {
			logger.Error("Case panicked", slog.Any("panic", p))
			outcome, err = models.OutcomeError, fmt.Errorf("case panicked: %v", p)
		}
	}()

	if !def.IsEnabled() {
		return models.OutcomeSkip, nil
	}
	steps, err := Flatten(ctx, r.cfg.Source, summary.CaseID, def)
	if err != nil {
		return models.OutcomeError, err
	}

	c := &caseRun{
		r:       r,
		req:     req,
		summary: summary,
		funcs:   r.cfg.Functions.Clone(),
		log:     &functions.LogBuffer{},
		facts:   skip.Facts{EnvCode: req.EnvCode, ServerID: req.ServerID, DeviceID: req.DeviceID},
		logger:  logger,
	}
	c.session = scope.NewSession(c.funcs.Caller(ctx, c.log))

	layers := scope.Layers{Env: req.Variables, Case: def.Variables}
	if svc, ok := req.DefaultService(); ok {
		layers.Service = svc.Variables
	}
	if err := c.session.Init(layers); err != nil {
		return models.OutcomeError, err
	}
	if d := r.cfg.Skipper.Evaluate(def.SkipIf, c.facts, c.session.Base()); d.Skip {
		logger.Info("Case skipped", slog.String("reason", d.Reason))
		return models.OutcomeSkip, nil
	}

	c.binding = r.cfg.Dispatcher.Bind()
	defer func() {
		if cerr := c.binding.Close(context.WithoutCancel(ctx)); cerr != nil {
			logger.Warn("Failed to close backend sessions", slog.String("error", cerr.Error()))
		}
	}()

	for round := 0; round < max(1, def.RunTimes); round++ {
		for i := range steps {
			step := steps[i]
			for attempt := 1; attempt <= max(1, step.RunTimes); attempt++ {
				res := c.runStep(ctx, &step, attempt)
				summary.Steps.Add(res.Outcome)
				if res.Outcome == models.OutcomeFail || res.Outcome == models.OutcomeError {
					if c.session.MarkFailed() {
						logger.Info("Case marked failed", slog.String("step", step.Name))
					}
				}
				if err := rec.StepFinished(ctx, summary, res); err != nil {
					logger.Warn("Failed to record step", slog.String("step", step.Name), slog.String("error", err.Error()))
				}
			}
		}
	}
	return caseOutcome(summary.Steps), nil
}

// caseOutcome derives the case result from its step counters.
func caseOutcome(steps models.Counter) models.Outcome {
	switch {
	case steps.Fail > 0 || steps.Error > 0:
		return models.OutcomeFail
	case steps.Total > 0 && steps.Skip == steps.Total:
		return models.OutcomeSkip
	}
	return models.OutcomeSuccess
}

// caseRun is the state of one case execution. It is confined to one goroutine.
type caseRun struct {
	r       *Runner
	req     *models.RunRequest
	summary *models.CaseSummary
	session *scope.Session
	binding *action.Binding
	funcs   *functions.Registry
	log     *functions.LogBuffer
	facts   skip.Facts
	logger  *slog.Logger
}

func (c *caseRun) runStep(ctx context.Context, step *models.StepDefinition, attempt int) *models.StepResult {
	res := &models.StepResult{
		ID:           uuid.NewString(),
		ReportID:     c.req.ReportID,
		CaseResultID: c.summary.ID,
		StepID:       step.ID,
		Name:         step.Name,
		Kind:         step.EffectiveKind(),
		Attempt:      attempt,
		State:        models.StepWaiting,
		StartedAt:    time.Now().UTC(),
	}

	skipped, err := c.execStep(ctx, step, res)
	switch {
	case skipped:
		res.Outcome = models.OutcomeSkip
	default:
		res.Outcome = engineerr.Classify(err)
	}
	if err != nil {
		res.Error = err.Error()
		c.logger.Debug("Step did not succeed",
			slog.String("step", step.Name),
			slog.String("outcome", string(res.Outcome)),
			slog.String("error", res.Error))
	}
	if (res.Outcome == models.OutcomeFail || res.Outcome == models.OutcomeError) && res.Kind != models.StepKindAPI {
		c.captureFailure(ctx, step, res)
	}

	res.Logs = append(res.Logs, c.log.Flush()...)
	res.State = models.StepDone
	res.EndedAt = time.Now().UTC()
	res.DurationMs = res.EndedAt.Sub(res.StartedAt).Milliseconds()
	return res
}

// execStep walks the step lifecycle. It stops at the first error; the state left on res
// tells where.
func (c *caseRun) execStep(ctx context.Context, step *models.StepDefinition, res *models.StepResult) (bool, error) {
	stepVars := c.stepVariables(step)
	specs := step.SkipIf
	if c.req.SkipOnFail {
		specs = append([]models.SkipSpec{models.FailPropagationSkip()}, specs...)
	}
	if len(specs) > 0 {
		if d := c.r.cfg.Skipper.Evaluate(specs, c.facts, c.session.SkipScope(stepVars)); d.Skip {
			res.Logs = append(res.Logs, "skipped: "+d.Reason)
			return true, nil
		}
	}

	vars, err := c.session.StepScope(stepVars)
	if err != nil {
		return false, err
	}

	caller := c.funcs.Caller(ctx, c.log)
	env := expression.Env{Vars: vars, Funcs: caller}

	res.State = models.StepBeforeHooks
	if err := runHooks(step.SetupHooks, env); err != nil {
		return false, fmt.Errorf("setup hook: %w", err)
	}

	res.State = models.StepRunning
	inv, err := c.invocation(step, env)
	if err != nil {
		return false, err
	}
	out, err := c.binding.Do(ctx, inv)
	if out != nil {
		res.Request, res.Response, res.UI = out.Request, out.Response, out.UI
		if len(out.Screenshot) > 0 {
			c.attachScreenshot(ctx, res, out.Screenshot)
		}
	}
	if err != nil {
		return false, err
	}
	session, _ := c.binding.Active(res.Kind)

	res.State = models.StepExtracting
	extracted, extracts, err := extract.Run(ctx, step.Extracts, extract.Input{Result: out, Scope: vars, Funcs: caller, Session: session})
	res.Extracts = extracts
	c.session.MergeSession(extracted)
	if err != nil {
		return false, err
	}

	res.State = models.StepAfterHooks
	if err := runHooks(step.TeardownHooks, env); err != nil {
		return false, fmt.Errorf("teardown hook: %w", err)
	}

	res.State = models.StepValidating
	validations, err := c.r.cfg.Validator.Run(ctx, step.Validates, validate.Input{Result: out, Vars: vars, Funcs: caller, Session: session})
	res.Validations = validations
	return false, err
}

// stepVariables puts the variables of the step's named service below its own.
func (c *caseRun) stepVariables(step *models.StepDefinition) []models.Variable {
	if step.Request == nil || step.Request.Service == "" {
		return step.Variables
	}
	svc, ok := c.req.Services[step.Request.Service]
	if !ok || len(svc.Variables) == 0 {
		return step.Variables
	}
	keys := slices.Sorted(maps.Keys(svc.Variables))
	vars := make([]models.Variable, 0, len(keys)+len(step.Variables))
	for _, k := range keys {
		vars = append(vars, models.Variable{Key: k, Value: svc.Variables[k]})
	}
	return append(vars, step.Variables...)
}

func (c *caseRun) invocation(step *models.StepDefinition, env expression.Env) (action.Invocation, error) {
	resolved := *step
	inv := action.Invocation{Timeout: c.r.cfg.StepTimeout}
	if step.Request != nil {
		req, err := resolveRequest(*step.Request, env)
		if err != nil {
			return inv, err
		}
		resolved.Request = &req
		if inv.BaseURL, err = c.baseURL(req.Service); err != nil {
			return inv, err
		}
	}
	if step.UI != nil {
		ui, err := resolveUI(*step.UI, env)
		if err != nil {
			return inv, err
		}
		resolved.UI = &ui
	}
	inv.Step = resolved
	return inv, nil
}

func (c *caseRun) baseURL(service string) (string, error) {
	if service == "" {
		svc, _ := c.req.DefaultService()
		return svc.BaseURL, nil
	}
	svc, ok := c.req.Services[service]
	if !ok {
		return "", engineerr.Params("unknown service %q", service)
	}
	return svc.BaseURL, nil
}

// captureFailure screenshots the screen of a failed UI step.
func (c *caseRun) captureFailure(ctx context.Context, step *models.StepDefinition, res *models.StepResult) {
	session, ok := c.binding.Active(res.Kind)
	if !ok {
		return
	}
	shot, err := session.Screenshot(context.WithoutCancel(ctx))
	if err != nil {
		c.logger.Warn("Failed to capture failure screenshot", slog.String("step", step.Name), slog.String("error", err.Error()))
		return
	}
	if res.UI == nil {
		res.UI = &models.UIRecord{}
		if step.UI != nil {
			res.UI.Action, res.UI.Locator = step.UI.Action, step.UI.Locator
		}
	}
	c.attachScreenshot(ctx, res, shot)
}

func (c *caseRun) attachScreenshot(ctx context.Context, res *models.StepResult, png []byte) {
	if c.r.cfg.Artifacts == nil {
		return
	}
	name := fmt.Sprintf("%s/%s/%s.png", res.ReportID, res.CaseResultID, res.ID)
	url, err := c.r.cfg.Artifacts.StoreArtifact(context.WithoutCancel(ctx), name, bytes.NewReader(png), int64(len(png)), "image/png")
	if err != nil {
		c.logger.Warn("Failed to store screenshot", slog.String("object", name), slog.String("error", err.Error()))
		return
	}
	if res.UI == nil {
		res.UI = &models.UIRecord{}
	}
	res.UI.Screenshot = url
}
