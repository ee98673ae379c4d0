package scenario

import (
	"fmt"
	"sort"
	"time"

	"github.com/torwell84/torwell-verify/api"
	"github.com/torwell84/torwell-verify/bridge"
)

// Default origins of the application under test.
const (
	DefaultSettingsURL  = "http://localhost:1420"
	DefaultShowcaseURL  = "http://localhost:5173/design-showcase"
	DefaultDashboardURL = "http://localhost:1420/"
)

// MetricSamples is the length of the synthetic load_metrics series.
const MetricSamples = 30

// BuiltinOptions sets the URLs the built-in suites navigate to. Empty
// fields use the defaults.
type BuiltinOptions struct {
	SettingsURL  string
	ShowcaseURL  string
	DashboardURL string
}

func (o BuiltinOptions) withDefaults() BuiltinOptions {
	if o.SettingsURL == "" {
		o.SettingsURL = DefaultSettingsURL
	}
	if o.ShowcaseURL == "" {
		o.ShowcaseURL = DefaultShowcaseURL
	}
	if o.DashboardURL == "" {
		o.DashboardURL = DefaultDashboardURL
	}
	return o
}

// SettingsSuite opens the settings modal from the app shell and checks its
// connectivity section.
func SettingsSuite(url string) Suite {
	return Suite{
		Name:          "settings",
		Description:   "settings modal opens and shows the connectivity options",
		SharedSession: true,
		Scenarios: []Scenario{{
			Name: "settings",
			URL:  url,
			Steps: []Step{
				Wait(".tw-surface", 5*time.Second),
				Click(`button[aria-label="Open settings"]`, 5*time.Second),
				Wait(`h2:text("Settings")`, 5*time.Second),
			},
			Assertions: []Assertion{
				{Name: "Connectivity", Selector: "text=Connectivity"},
				{Name: "System-wide Routing (VPN Mode)", Selector: "text=System-wide Routing (VPN Mode)"},
			},
			ScreenshotPath:        "settings_modal.png",
			FailureScreenshotPath: "error.png",
		}},
	}
}

// ShowcaseSuite checks the design showcase route renders its cards.
func ShowcaseSuite(url string) Suite {
	return Suite{
		Name:        "showcase",
		Description: "design showcase renders the main cards",
		Scenarios: []Scenario{{
			Name: "design_showcase",
			URL:  url,
			Steps: []Step{
				// Entry animations have no completion signal.
				Sleep(2 * time.Second),
			},
			Assertions: []Assertion{
				{Name: "Torwell.84", Selector: "text=Torwell.84"},
				{Name: "Tor Connection", Selector: "text=Tor Connection"},
				{Name: "Identity Control", Selector: "text=Identity Control"},
				{Name: "Disconnect button", Selector: `role=button[name="Disconnect"]`},
			},
			ScreenshotPath:        "design_showcase.png",
			FailureScreenshotPath: "design_showcase_error.png",
		}},
	}
}

// DashboardSuite loads the dashboard against a stubbed host serving metric
// history and a status summary.
func DashboardSuite(url string) Suite {
	cfg := bridge.DashboardConfig(MetricSamples)
	return Suite{
		Name:        "dashboard",
		Description: "resource dashboard renders from stubbed host metrics",
		Scenarios: []Scenario{{
			Name:      "resource_dashboard",
			URL:       url,
			Bridge:    &cfg,
			WaitUntil: api.LifecycleEventNetworkIdle,
			Steps: []Step{
				Wait("text=SYSTEM RESOURCES", 5*time.Second),
			},
			Assertions: []Assertion{
				{Name: "SYSTEM RESOURCES", Selector: "text=SYSTEM RESOURCES"},
				{Name: "CPU Load", Selector: "text=CPU Load"},
			},
			ScreenshotPath:        "resource_dashboard.png",
			FailureScreenshotPath: "resource_dashboard_error.png",
		}},
	}
}

// Builtin returns the built-in suites keyed by name.
func Builtin(opts BuiltinOptions) map[string]Suite {
	opts = opts.withDefaults()
	return map[string]Suite{
		"settings":  SettingsSuite(opts.SettingsURL),
		"showcase":  ShowcaseSuite(opts.ShowcaseURL),
		"dashboard": DashboardSuite(opts.DashboardURL),
	}
}

// BuiltinNames returns the names of the built-in suites, sorted.
func BuiltinNames() []string {
	suites := Builtin(BuiltinOptions{})
	names := make([]string, 0, len(suites))
	for name := range suites {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// LookupBuiltin returns the built-in suite called name.
func LookupBuiltin(name string, opts BuiltinOptions) (Suite, error) {
	s, ok := Builtin(opts)[name]
	if !ok {
		return Suite{}, fmt.Errorf("unknown suite %q, want one of %v", name, BuiltinNames())
	}
	return s, nil
}
