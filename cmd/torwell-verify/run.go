package main

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/torwell84/torwell-verify/browserprocess"
	"github.com/torwell84/torwell-verify/otel"
	"github.com/torwell84/torwell-verify/report"
	"github.com/torwell84/torwell-verify/scenario"
	"github.com/torwell84/torwell-verify/storage"
	"github.com/torwell84/torwell-verify/trace"
)

const traceShutdownTimeout = 5 * time.Second

func (c *rootCommand) builtinCmd(name string) *cobra.Command {
	suite, _ := scenario.LookupBuiltin(name, scenario.BuiltinOptions{})
	return &cobra.Command{
		Use:   name,
		Short: "Check that the " + suite.Description,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			s, err := scenario.LookupBuiltin(name, c.cfg.BuiltinOptions())
			if err != nil {
				return err
			}
			return c.runSuites(cmd.Context(), []scenario.Suite{s})
		},
	}
}

func (c *rootCommand) allCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "all",
		Short: "Run every built-in suite",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			builtin := scenario.Builtin(c.cfg.BuiltinOptions())
			suites := make([]scenario.Suite, 0, len(builtin))
			for _, name := range scenario.BuiltinNames() {
				suites = append(suites, builtin[name])
			}
			return c.runSuites(cmd.Context(), suites)
		},
	}
}

func (c *rootCommand) runCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run FILE...",
		Short: "Run suites described in YAML files",
		Example: `  torwell-verify run suites/dashboard.yaml
  TORWELL_VERIFY_ARTIFACT_DIR=out torwell-verify run a.yaml b.yaml`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			suites := make([]scenario.Suite, 0, len(args))
			var errs []error
			for _, path := range args {
				s, err := scenario.LoadSuite(c.gs.fs, path)
				if err != nil {
					errs = append(errs, err)
					continue
				}
				suites = append(suites, s)
			}
			if err := errors.Join(errs...); err != nil {
				return &exitError{code: exitInvalid, err: err}
			}
			return c.runSuites(cmd.Context(), suites)
		},
	}
}

func (c *rootCommand) listCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List the built-in suites",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			builtin := scenario.Builtin(c.cfg.BuiltinOptions())
			out := cmd.OutOrStdout()
			for _, name := range scenario.BuiltinNames() {
				s := builtin[name]
				names := make([]string, 0, len(s.Scenarios))
				for _, sc := range s.Scenarios {
					names = append(names, sc.Name)
				}
				mode := "own session"
				if s.SharedSession {
					mode = "shared session"
				}
				fmt.Fprintf(out, "%-10s %-40s %s (%s)\n", name, s.Scenarios[0].URL, strings.Join(names, ", "), mode)
			}
			return nil
		},
	}
}

// runSuites runs suites one after the other in the browser sessions of one
// run, reports every result and writes the summary.
func (c *rootCommand) runSuites(ctx context.Context, suites []scenario.Suite) error {
	runID := uuid.NewString()
	ctx = browserprocess.WithRunID(ctx, runID)

	// Browsers of an interrupted run are killed right away. Pending CDP
	// calls are released by the cancellation itself.
	stopKill := context.AfterFunc(ctx, func() {
		c.logger.Warnf("torwell-verify", "interrupted, killing browsers of run %s", runID)
		browserprocess.ForceProcessShutdown(ctx)
	})
	defer stopKill()

	tp, err := otel.NewTraceProvider(ctx, c.cfg.TraceOptions())
	if err != nil {
		return &exitError{code: exitInvalid, err: fmt.Errorf("setting up tracing: %w", err)}
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), traceShutdownTimeout)
		defer cancel()
		if serr := tp.Shutdown(sctx); serr != nil {
			c.logger.Warnf("torwell-verify", "shutting down tracing: %v", serr)
		}
	}()
	tracer := trace.NewTracer(c.logger, tp, map[string]string{"run.id": runID})

	artifactDir := c.cfg.ArtifactDir.String
	persister := &storage.FSPersister{Fs: c.gs.fs}
	runner := scenario.NewRunner(persister, c.logger,
		scenario.WithArtifactDir(artifactDir),
		scenario.WithTracer(tracer),
	)
	rep := c.gs.newReporter(c.gs.stdout, c.gs.fs, c.cfg.NoColor.Bool)
	acq := c.gs.newAcquirer(c.cfg.SessionOptions(), c.logger)

	c.logger.Infof("torwell-verify", "run %s: %d suites, artifacts in %q", runID, len(suites), artifactDir)

	var results []*scenario.Result
	for _, s := range suites {
		results = append(results, runner.RunSuite(ctx, s, acq, func(res *scenario.Result) {
			if rerr := rep.Report(res); rerr != nil {
				c.logger.Debugf("torwell-verify", "scenario:%q %v", res.Scenario, rerr)
			}
		})...)
	}
	totals := rep.Summary(results)

	if c.cfg.Summary.Bool {
		path := filepath.Join(artifactDir, report.SummaryFile)
		if werr := report.WriteJSON(context.WithoutCancel(ctx), persister, path, results); werr != nil {
			c.logger.Errorf("torwell-verify", "writing summary: %v", werr)
			if totals.OK() {
				return &exitError{code: exitFailed, err: werr}
			}
		}
	}

	if ctx.Err() != nil {
		return &exitError{code: exitFailed, err: fmt.Errorf("%w: %w", errVerificationFailed, ctx.Err())}
	}
	if !totals.OK() {
		return &exitError{code: exitFailed, err: errVerificationFailed}
	}
	return nil
}
