// Package config consolidates the harness configuration from defaults,
// environment variables and command line flags.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/mstoykov/envconfig"
	"github.com/sirupsen/logrus"
	"github.com/spf13/pflag"
	"gopkg.in/guregu/null.v3"

	"github.com/torwell84/torwell-verify/otel"
	"github.com/torwell84/torwell-verify/scenario"
	"github.com/torwell84/torwell-verify/session"
)

// Defaults of the optional settings.
const (
	DefaultArtifactDir    = "verification"
	DefaultLogLevel       = "info"
	DefaultViewportWidth  = 1280
	DefaultViewportHeight = 800
)

// Config is the harness configuration. Unset fields are not valid, so
// configurations can be layered with Apply.
type Config struct {
	ChromePath null.String `json:"chromePath" envconfig:"TORWELL_VERIFY_CHROME_PATH"`
	Headless   null.Bool   `json:"headless" envconfig:"TORWELL_VERIFY_HEADLESS"`

	ArtifactDir null.String `json:"artifactDir" envconfig:"TORWELL_VERIFY_ARTIFACT_DIR"`
	Summary     null.Bool   `json:"summary" envconfig:"TORWELL_VERIFY_SUMMARY"`

	SettingsURL  null.String `json:"settingsURL" envconfig:"TORWELL_VERIFY_SETTINGS_URL"`
	ShowcaseURL  null.String `json:"showcaseURL" envconfig:"TORWELL_VERIFY_SHOWCASE_URL"`
	DashboardURL null.String `json:"dashboardURL" envconfig:"TORWELL_VERIFY_DASHBOARD_URL"`

	ViewportWidth  null.Int `json:"viewportWidth" envconfig:"TORWELL_VERIFY_VIEWPORT_WIDTH"`
	ViewportHeight null.Int `json:"viewportHeight" envconfig:"TORWELL_VERIFY_VIEWPORT_HEIGHT"`

	LogLevel  null.String `json:"logLevel" envconfig:"TORWELL_VERIFY_LOG_LEVEL"`
	LogFilter null.String `json:"logFilter" envconfig:"TORWELL_VERIFY_LOG_FILTER"`
	NoColor   null.Bool   `json:"noColor" envconfig:"TORWELL_VERIFY_NO_COLOR"`

	TracesOutput   null.String `json:"tracesOutput" envconfig:"TORWELL_VERIFY_TRACES_OUTPUT"`
	TracesEndpoint null.String `json:"tracesEndpoint" envconfig:"TORWELL_VERIFY_TRACES_ENDPOINT"`
	TracesInsecure null.Bool   `json:"tracesInsecure" envconfig:"TORWELL_VERIFY_TRACES_INSECURE"`
}

// NewConfig returns the default configuration.
func NewConfig() Config {
	return Config{
		ChromePath:     null.NewString("", false),
		Headless:       null.NewBool(true, false),
		ArtifactDir:    null.NewString(DefaultArtifactDir, false),
		Summary:        null.NewBool(true, false),
		SettingsURL:    null.NewString(scenario.DefaultSettingsURL, false),
		ShowcaseURL:    null.NewString(scenario.DefaultShowcaseURL, false),
		DashboardURL:   null.NewString(scenario.DefaultDashboardURL, false),
		ViewportWidth:  null.NewInt(DefaultViewportWidth, false),
		ViewportHeight: null.NewInt(DefaultViewportHeight, false),
		LogLevel:       null.NewString(DefaultLogLevel, false),
		LogFilter:      null.NewString("", false),
		NoColor:        null.NewBool(false, false),
		TracesOutput:   null.NewString(otel.OutputNone, false),
		TracesEndpoint: null.NewString("", false),
		TracesInsecure: null.NewBool(false, false),
	}
}

// Apply overrides the fields of c with the valid fields of cfg.
func (c Config) Apply(cfg Config) Config {
	if cfg.ChromePath.Valid {
		c.ChromePath = cfg.ChromePath
	}
	if cfg.Headless.Valid {
		c.Headless = cfg.Headless
	}
	if cfg.ArtifactDir.Valid {
		c.ArtifactDir = cfg.ArtifactDir
	}
	if cfg.Summary.Valid {
		c.Summary = cfg.Summary
	}
	if cfg.SettingsURL.Valid && cfg.SettingsURL.String != "" {
		c.SettingsURL = cfg.SettingsURL
	}
	if cfg.ShowcaseURL.Valid && cfg.ShowcaseURL.String != "" {
		c.ShowcaseURL = cfg.ShowcaseURL
	}
	if cfg.DashboardURL.Valid && cfg.DashboardURL.String != "" {
		c.DashboardURL = cfg.DashboardURL
	}
	if cfg.ViewportWidth.Valid {
		c.ViewportWidth = cfg.ViewportWidth
	}
	if cfg.ViewportHeight.Valid {
		c.ViewportHeight = cfg.ViewportHeight
	}
	if cfg.LogLevel.Valid && cfg.LogLevel.String != "" {
		c.LogLevel = cfg.LogLevel
	}
	if cfg.LogFilter.Valid {
		c.LogFilter = cfg.LogFilter
	}
	if cfg.NoColor.Valid {
		c.NoColor = cfg.NoColor
	}
	if cfg.TracesOutput.Valid && cfg.TracesOutput.String != "" {
		c.TracesOutput = cfg.TracesOutput
	}
	if cfg.TracesEndpoint.Valid {
		c.TracesEndpoint = cfg.TracesEndpoint
	}
	if cfg.TracesInsecure.Valid {
		c.TracesInsecure = cfg.TracesInsecure
	}
	return c
}

// FromEnv reads the TORWELL_VERIFY_* variables through lookup. A nil
// lookup reads the process environment.
func FromEnv(lookup func(string) (string, bool)) (Config, error) {
	if lookup == nil {
		lookup = os.LookupEnv
	}
	var cfg Config
	if err := envconfig.Process("", &cfg, lookup); err != nil {
		return Config{}, fmt.Errorf("parsing environment: %w", err)
	}
	return cfg, nil
}

// Consolidate layers the environment and then the flags over the defaults
// and validates the result.
func Consolidate(flags Config, lookup func(string) (string, bool)) (Config, error) {
	env, err := FromEnv(lookup)
	if err != nil {
		return Config{}, err
	}
	cfg := NewConfig().Apply(env).Apply(flags)
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate reports every invalid setting.
func (c Config) Validate() error {
	var errs []error
	if _, err := logrus.ParseLevel(c.LogLevel.String); err != nil {
		errs = append(errs, fmt.Errorf("log level: %w", err))
	}
	switch strings.ToLower(c.TracesOutput.String) {
	case otel.OutputNone, otel.OutputStdout, otel.OutputHTTP, otel.OutputGRPC:
	default:
		errs = append(errs, fmt.Errorf("traces output %q: %w", c.TracesOutput.String, otel.ErrUnsupportedProto))
	}
	if c.ViewportWidth.Int64 <= 0 || c.ViewportHeight.Int64 <= 0 {
		errs = append(errs, fmt.Errorf("viewport %dx%d must be positive", c.ViewportWidth.Int64, c.ViewportHeight.Int64))
	}
	if strings.TrimSpace(c.ArtifactDir.String) == "" {
		errs = append(errs, errors.New("artifact directory must not be empty"))
	}
	return errors.Join(errs...)
}

// SessionOptions returns the browser session options of c.
func (c Config) SessionOptions() session.Options {
	opts := session.NewOptions()
	opts.Launch.ExecutablePath = c.ChromePath.String
	opts.Launch.Headless = c.Headless.Bool
	opts.ViewportWidth = c.ViewportWidth.Int64
	opts.ViewportHeight = c.ViewportHeight.Int64
	opts.Launch.WindowWidth, opts.Launch.WindowHeight = opts.ViewportWidth, opts.ViewportHeight
	return opts
}

// BuiltinOptions returns the URLs of the built-in suites.
func (c Config) BuiltinOptions() scenario.BuiltinOptions {
	return scenario.BuiltinOptions{
		SettingsURL:  c.SettingsURL.String,
		ShowcaseURL:  c.ShowcaseURL.String,
		DashboardURL: c.DashboardURL.String,
	}
}

// TraceOptions returns the trace exporter options of c.
func (c Config) TraceOptions() otel.Options {
	return otel.Options{
		Output:   c.TracesOutput.String,
		Endpoint: c.TracesEndpoint.String,
		Insecure: c.TracesInsecure.Bool,
	}
}

// FlagSet returns the flags that override the configuration.
func FlagSet() *pflag.FlagSet {
	flags := pflag.NewFlagSet("", pflag.ContinueOnError)
	flags.SortFlags = false
	flags.String("chrome", "", "path to the Chrome or Chromium `executable`")
	flags.Bool("headless", true, "run the browser without a window")
	flags.StringP("artifacts", "a", DefaultArtifactDir, "`directory` screenshots and the summary are written to")
	flags.Bool("summary", true, "write summary.json to the artifact directory")
	flags.String("settings-url", scenario.DefaultSettingsURL, "`url` of the settings suite")
	flags.String("showcase-url", scenario.DefaultShowcaseURL, "`url` of the showcase suite")
	flags.String("dashboard-url", scenario.DefaultDashboardURL, "`url` of the dashboard suite")
	flags.Int64("viewport-width", DefaultViewportWidth, "viewport width in pixels")
	flags.Int64("viewport-height", DefaultViewportHeight, "viewport height in pixels")
	flags.StringP("log-level", "l", DefaultLogLevel, "log `level`: trace, debug, info, warn or error")
	flags.String("log-filter", "", "only log categories matching this `regexp`")
	flags.Bool("no-color", false, "disable colored output")
	flags.String("traces-output", otel.OutputNone, "trace output: none, stdout, http or grpc")
	flags.String("traces-endpoint", "", "`host:port` of the OTLP collector")
	flags.Bool("traces-insecure", false, "export traces without TLS")
	return flags
}

// FromFlags returns the flags of FlagSet that were set on flags.
func FromFlags(flags *pflag.FlagSet) Config {
	return Config{
		ChromePath:     getNullString(flags, "chrome"),
		Headless:       getNullBool(flags, "headless"),
		ArtifactDir:    getNullString(flags, "artifacts"),
		Summary:        getNullBool(flags, "summary"),
		SettingsURL:    getNullString(flags, "settings-url"),
		ShowcaseURL:    getNullString(flags, "showcase-url"),
		DashboardURL:   getNullString(flags, "dashboard-url"),
		ViewportWidth:  getNullInt64(flags, "viewport-width"),
		ViewportHeight: getNullInt64(flags, "viewport-height"),
		LogLevel:       getNullString(flags, "log-level"),
		LogFilter:      getNullString(flags, "log-filter"),
		NoColor:        getNullBool(flags, "no-color"),
		TracesOutput:   getNullString(flags, "traces-output"),
		TracesEndpoint: getNullString(flags, "traces-endpoint"),
		TracesInsecure: getNullBool(flags, "traces-insecure"),
	}
}

func getNullBool(flags *pflag.FlagSet, key string) null.Bool {
	v, err := flags.GetBool(key)
	if err != nil {
		panic(err)
	}
	return null.NewBool(v, flags.Changed(key))
}

func getNullInt64(flags *pflag.FlagSet, key string) null.Int {
	v, err := flags.GetInt64(key)
	if err != nil {
		panic(err)
	}
	return null.NewInt(v, flags.Changed(key))
}

func getNullString(flags *pflag.FlagSet, key string) null.String {
	v, err := flags.GetString(key)
	if err != nil {
		panic(err)
	}
	return null.NewString(v, flags.Changed(key))
}
