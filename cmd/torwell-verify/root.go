package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/mattn/go-colorable"
	"github.com/mattn/go-isatty"
	"github.com/sirupsen/logrus"
	"github.com/spf13/afero"
	"github.com/spf13/cobra"

	"github.com/torwell84/torwell-verify/config"
	"github.com/torwell84/torwell-verify/log"
	"github.com/torwell84/torwell-verify/report"
	"github.com/torwell84/torwell-verify/scenario"
	"github.com/torwell84/torwell-verify/session"
)

// Exit codes.
const (
	exitFailed  = 1
	exitInvalid = 2
)

// exitError carries the exit status of a command.
type exitError struct {
	code int
	err  error
}

func (e *exitError) Error() string { return e.err.Error() }
func (e *exitError) Unwrap() error { return e.err }

var errVerificationFailed = errors.New("verification failed")

// globalState holds everything the commands touch outside the process, so
// tests can swap it.
type globalState struct {
	ctx context.Context

	fs        afero.Fs
	stdout    io.Writer
	stderr    io.Writer
	stderrTTY bool
	lookupEnv func(string) (string, bool)

	newReporter func(stdout io.Writer, fs afero.Fs, noColor bool) *report.Reporter
	newAcquirer func(opts session.Options, logger *log.Logger) scenario.Acquirer
}

func newGlobalState(ctx context.Context) *globalState {
	stdoutTTY := isatty.IsTerminal(os.Stdout.Fd()) || isatty.IsCygwinTerminal(os.Stdout.Fd())
	stderrTTY := isatty.IsTerminal(os.Stderr.Fd()) || isatty.IsCygwinTerminal(os.Stderr.Fd())

	return &globalState{
		ctx:       ctx,
		fs:        afero.NewOsFs(),
		stdout:    colorable.NewColorableStdout(),
		stderr:    colorable.NewColorableStderr(),
		stderrTTY: stderrTTY,
		lookupEnv: os.LookupEnv,
		newReporter: func(stdout io.Writer, fs afero.Fs, noColor bool) *report.Reporter {
			return report.New(stdout, fs, noColor || !stdoutTTY)
		},
		newAcquirer: func(opts session.Options, logger *log.Logger) scenario.Acquirer {
			return session.NewManager(opts, logger)
		},
	}
}

// rootCommand keeps what the subcommands share once flags are parsed.
type rootCommand struct {
	gs  *globalState
	cmd *cobra.Command

	cfg    config.Config
	logger *log.Logger
}

func newRootCommand(gs *globalState) *rootCommand {
	c := &rootCommand{gs: gs}
	c.cmd = &cobra.Command{
		Use:               "torwell-verify",
		Short:             "Verify the Torwell84 UI in a headless browser",
		SilenceUsage:      true,
		SilenceErrors:     true,
		PersistentPreRunE: c.persistentPreRunE,
	}
	c.cmd.SetOut(gs.stdout)
	c.cmd.SetErr(gs.stderr)
	c.cmd.PersistentFlags().AddFlagSet(config.FlagSet())

	for _, name := range scenario.BuiltinNames() {
		c.cmd.AddCommand(c.builtinCmd(name))
	}
	c.cmd.AddCommand(c.allCmd(), c.runCmd(), c.listCmd())

	return c
}

func (c *rootCommand) persistentPreRunE(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Consolidate(config.FromFlags(cmd.Flags()), c.gs.lookupEnv)
	if err != nil {
		return &exitError{code: exitInvalid, err: fmt.Errorf("invalid configuration: %w", err)}
	}
	c.cfg = cfg

	logger, err := c.setupLogger()
	if err != nil {
		return &exitError{code: exitInvalid, err: err}
	}
	c.logger = logger
	c.logger.Debugf("torwell-verify", "config: %+v", c.cfg)

	return nil
}

func (c *rootCommand) setupLogger() (*log.Logger, error) {
	lr := &logrus.Logger{
		Out: c.gs.stderr,
		Formatter: &logrus.TextFormatter{
			ForceColors:   c.gs.stderrTTY && !c.cfg.NoColor.Bool,
			DisableColors: c.cfg.NoColor.Bool,
		},
		Hooks: make(logrus.LevelHooks),
		Level: logrus.InfoLevel,
	}
	logger := log.New(lr, nil)
	if err := logger.SetLevel(c.cfg.LogLevel.String); err != nil {
		return nil, err
	}
	if err := logger.SetCategoryFilter(c.cfg.LogFilter.String); err != nil {
		return nil, err
	}
	return logger, nil
}

// execute runs the command line args and returns the exit status.
func (c *rootCommand) execute(args []string) int {
	c.cmd.SetArgs(args)
	err := c.cmd.ExecuteContext(c.gs.ctx)
	if err == nil {
		return 0
	}

	code := exitInvalid
	var ee *exitError
	if errors.As(err, &ee) {
		code = ee.code
	}
	fmt.Fprintf(c.gs.stderr, "Error: %v\n", err)

	return code
}
