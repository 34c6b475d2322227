// Package engine assembles the runner, scheduler and report aggregator from configuration.
// Both the queue worker and the CLI build their scheduler here.
package engine

import (
	"fmt"
	"log/slog"

	"github.com/husmancristian/geaman-engine/pkg/action"
	"github.com/husmancristian/geaman-engine/pkg/action/httpaction"
	"github.com/husmancristian/geaman-engine/pkg/action/ui"
	"github.com/husmancristian/geaman-engine/pkg/config"
	"github.com/husmancristian/geaman-engine/pkg/definition"
	"github.com/husmancristian/geaman-engine/pkg/functions"
	"github.com/husmancristian/geaman-engine/pkg/models"
	"github.com/husmancristian/geaman-engine/pkg/report"
	"github.com/husmancristian/geaman-engine/pkg/runner"
	"github.com/husmancristian/geaman-engine/pkg/scheduler"
	"github.com/husmancristian/geaman-engine/pkg/storage"
	"github.com/husmancristian/geaman-engine/pkg/validate"
)

// Deps are the outer collaborators of the engine.
type Deps struct {
	Source   *definition.FileSource
	Store    storage.ReportStore
	Notifier report.Notifier // May be nil
	Logger   *slog.Logger
}

// NewDispatcher registers the HTTP backend and, when their endpoints are configured, the
// browser and mobile WebDriver backends.
func NewDispatcher(cfg *config.Config, logger *slog.Logger) (*action.Dispatcher, error) {
	d := action.NewDispatcher()
	d.Register(models.StepKindAPI, httpaction.New(nil, logger))

	if cfg.WebDriverURL != "" {
		caps, err := ui.ParseCapabilities(cfg.WebDriverCapabilities)
		if err != nil {
			return nil, fmt.Errorf("WEBDRIVER_CAPABILITIES: %w", err)
		}
		d.Register(models.StepKindWeb, ui.New(ui.Config{RemoteURL: cfg.WebDriverURL, Capabilities: caps, CommandTimeout: cfg.StepTimeout}, logger))
		logger.Info("Browser backend enabled", slog.String("url", cfg.WebDriverURL))
	}
	if cfg.AppiumURL != "" {
		caps, err := ui.ParseCapabilities(cfg.AppiumCapabilities)
		if err != nil {
			return nil, fmt.Errorf("APPIUM_CAPABILITIES: %w", err)
		}
		d.Register(models.StepKindApp, ui.New(ui.Config{RemoteURL: cfg.AppiumURL, Capabilities: caps, Mobile: true, CommandTimeout: cfg.StepTimeout}, logger))
		logger.Info("Mobile backend enabled", slog.String("url", cfg.AppiumURL))
	}
	return d, nil
}

// New builds a scheduler over deps. Function scripts of cfg.EnvCode are loaded from the
// definitions directory.
func New(cfg *config.Config, deps Deps) (*scheduler.Scheduler, error) {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if deps.Source == nil || deps.Store == nil {
		return nil, fmt.Errorf("engine: definition source and report store are required")
	}

	funcs := functions.NewRegistry()
	if err := deps.Source.LoadFunctions(funcs, cfg.EnvCode); err != nil {
		return nil, fmt.Errorf("failed to load functions: %w", err)
	}
	dispatcher, err := NewDispatcher(cfg, logger)
	if err != nil {
		return nil, err
	}

	r, err := runner.New(runner.Config{
		Source:      deps.Source,
		Dispatcher:  dispatcher,
		Functions:   funcs,
		Validator:   validate.New(nil),
		Artifacts:   deps.Store,
		StepTimeout: cfg.StepTimeout,
		Logger:      logger,
	})
	if err != nil {
		return nil, err
	}
	agg := report.New(deps.Store, deps.Notifier, logger)
	return scheduler.New(r, agg, cfg.ParallelLimit, logger), nil
}
