package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"time"

	"github.com/spf13/cobra"

	"github.com/husmancristian/geaman-engine/pkg/config"
	"github.com/husmancristian/geaman-engine/pkg/definition"
	"github.com/husmancristian/geaman-engine/pkg/engine"
	"github.com/husmancristian/geaman-engine/pkg/models"
	"github.com/husmancristian/geaman-engine/pkg/storage/memory"
)

type runOptions struct {
	dir         string
	envCode     string
	project     string
	baseURL     string
	parallel    bool
	limit       int
	skipOnFail  bool
	stepTimeout time.Duration
	vars        map[string]string
	verbose     bool
}

// runOutput is what `geaman run` prints.
type runOutput struct {
	Report *models.ReportSummary `json:"report"`
	Cases  []caseOutput          `json:"cases"`
}

type caseOutput struct {
	models.CaseSummary
	StepResults []models.StepResult `json:"step_results"`
}

func newRunCmd() *cobra.Command {
	opts := &runOptions{}
	cmd := &cobra.Command{
		Use:   "run [case-id...]",
		Short: "Run cases from a definitions directory and print the report as JSON",
		Long:  "Run the given cases, or every case of the definitions directory when none are given.",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
			defer stop()
			return runCases(ctx, opts, args, cmd.OutOrStdout(), cmd.ErrOrStderr())
		},
	}
	f := cmd.Flags()
	f.StringVarP(&opts.dir, "dir", "d", "", "definitions directory (default $DEFINITIONS_DIR)")
	f.StringVarP(&opts.envCode, "env", "e", "", "environment code whose function scripts are loaded (default $ENV_CODE)")
	f.StringVar(&opts.project, "project", "local", "project recorded on the report")
	f.StringVar(&opts.baseURL, "base-url", "", "base URL of the default service")
	f.BoolVar(&opts.parallel, "parallel", false, "run cases concurrently")
	f.IntVar(&opts.limit, "limit", -1, "max concurrent cases in parallel mode (default $PARALLEL_LIMIT)")
	f.BoolVar(&opts.skipOnFail, "skip-on-fail", false, "skip the remaining steps of a case after a failure")
	f.DurationVar(&opts.stepTimeout, "step-timeout", 0, "timeout of steps that declare none (default $STEP_TIMEOUT)")
	f.StringToStringVar(&opts.vars, "var", nil, "environment variable visible to every case, as key=value")
	f.BoolVarP(&opts.verbose, "verbose", "v", false, "log engine progress to stderr")
	return cmd
}

func runCases(ctx context.Context, opts *runOptions, caseIDs []string, stdout, stderr io.Writer) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if opts.dir != "" {
		cfg.DefinitionsDir = opts.dir
	}
	if opts.envCode != "" {
		cfg.EnvCode = opts.envCode
	}
	if opts.limit >= 0 {
		cfg.ParallelLimit = opts.limit
	}
	if opts.stepTimeout > 0 {
		cfg.StepTimeout = opts.stepTimeout
	}

	level := slog.LevelWarn
	if opts.verbose {
		level = cfg.SlogLevel()
	}
	logger := slog.New(slog.NewTextHandler(stderr, &slog.HandlerOptions{Level: level}))

	src, err := definition.NewFileSource(cfg.DefinitionsDir)
	if err != nil {
		return fmt.Errorf("load definitions: %w", err)
	}
	if len(caseIDs) == 0 {
		caseIDs = src.IDs()
	}

	store := memory.NewStore()
	sched, err := engine.New(cfg, engine.Deps{Source: src, Store: store, Logger: logger})
	if err != nil {
		return err
	}

	req := &models.RunRequest{
		Name:        "local run",
		Project:     opts.project,
		EnvCode:     cfg.EnvCode,
		CaseIDs:     caseIDs,
		Mode:        models.ModeSerial,
		SkipOnFail:  opts.skipOnFail,
		TriggeredBy: "cli",
	}
	if opts.parallel {
		req.Mode = models.ModeParallel
	}
	if len(opts.vars) > 0 {
		req.Variables = make(map[string]any, len(opts.vars))
		for k, v := range opts.vars {
			req.Variables[k] = v
		}
	}
	if opts.baseURL != "" {
		req.Services = map[string]models.Service{"default": {BaseURL: opts.baseURL}}
	}

	final, err := sched.Run(ctx, req)
	if err != nil {
		return err
	}

	out := runOutput{Report: final}
	cases, err := store.ListCaseResults(ctx, final.ID)
	if err != nil {
		return err
	}
	for _, c := range cases {
		steps, err := store.ListStepResults(ctx, c.ID)
		if err != nil {
			return err
		}
		out.Cases = append(out.Cases, caseOutput{CaseSummary: c, StepResults: steps})
	}

	enc := json.NewEncoder(stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(out); err != nil {
		return err
	}
	if final.Result == models.OutcomeFail || final.Result == models.OutcomeError {
		return fmt.Errorf("run finished with result %s", final.Result)
	}
	return nil
}
