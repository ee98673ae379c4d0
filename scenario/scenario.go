// Package scenario defines verification scenarios and runs them against a
// browser page.
package scenario

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/torwell84/torwell-verify/api"
	"github.com/torwell84/torwell-verify/bridge"
	"github.com/torwell84/torwell-verify/common"
)

const (
	// DefaultNavigationTimeout bounds a navigation without its own timeout.
	DefaultNavigationTimeout = 10 * time.Second
	// DefaultStepTimeout bounds a wait or click without its own timeout.
	DefaultStepTimeout = 5 * time.Second
)

// StepKind is what a Step does.
type StepKind string

const (
	// StepWait waits for a selector to match a visible element.
	StepWait StepKind = "wait"
	// StepSleep pauses for a fixed duration.
	StepSleep StepKind = "sleep"
	// StepNetworkIdle waits for the document to reach network idle.
	StepNetworkIdle StepKind = "networkidle"
	// StepClick clicks the first visible element matching a selector.
	StepClick StepKind = "click"
)

// Step is a readiness wait or an interaction, run in order after navigation.
type Step struct {
	Kind     StepKind      `json:"kind" yaml:"kind"`
	Selector string        `json:"selector,omitempty" yaml:"selector,omitempty"`
	Timeout  time.Duration `json:"timeout,omitempty" yaml:"timeout,omitempty"`
	// Duration is the pause of a sleep step.
	Duration time.Duration `json:"duration,omitempty" yaml:"duration,omitempty"`
}

// Wait returns a step waiting up to timeout for selector to become visible.
func Wait(selector string, timeout time.Duration) Step {
	return Step{Kind: StepWait, Selector: selector, Timeout: timeout}
}

// Sleep returns a step pausing for d.
func Sleep(d time.Duration) Step {
	return Step{Kind: StepSleep, Duration: d}
}

// NetworkIdle returns a step waiting up to timeout for network idle.
func NetworkIdle(timeout time.Duration) Step {
	return Step{Kind: StepNetworkIdle, Timeout: timeout}
}

// Click returns a step clicking selector once it is visible, waiting up to
// timeout.
func Click(selector string, timeout time.Duration) Step {
	return Step{Kind: StepClick, Selector: selector, Timeout: timeout}
}

func (s Step) String() string {
	switch s.Kind {
	case StepWait:
		return fmt.Sprintf("wait for %s", s.Selector)
	case StepSleep:
		return fmt.Sprintf("sleep %s", s.Duration)
	case StepNetworkIdle:
		return "wait for network idle"
	case StepClick:
		return fmt.Sprintf("click %s", s.Selector)
	}
	return string(s.Kind)
}

func (s Step) timeout() time.Duration {
	if s.Timeout > 0 {
		return s.Timeout
	}
	return DefaultStepTimeout
}

func (s Step) validate() error {
	switch s.Kind {
	case StepWait, StepClick:
		if _, err := common.ParseSelector(s.Selector); err != nil {
			return err
		}
	case StepSleep:
		if s.Duration <= 0 {
			return fmt.Errorf("sleep needs a positive duration")
		}
	case StepNetworkIdle:
	default:
		return fmt.Errorf("unknown step kind %q", s.Kind)
	}
	if s.Timeout < 0 {
		return fmt.Errorf("negative timeout %s", s.Timeout)
	}
	return nil
}

// Assertion checks that Selector matches a present and visible element.
type Assertion struct {
	Name     string `json:"name,omitempty" yaml:"name,omitempty"`
	Selector string `json:"selector" yaml:"selector"`
}

// Visible returns an assertion named after selector.
func Visible(selector string) Assertion {
	return Assertion{Selector: selector}
}

// Label returns the assertion's name, or its selector when unnamed.
func (a Assertion) Label() string {
	if a.Name != "" {
		return a.Name
	}
	return a.Selector
}

// Scenario is one verification: navigate, wait for readiness, assert and
// capture a screenshot. Screenshot paths are relative to the runner's
// artifact directory unless absolute.
type Scenario struct {
	Name   string         `json:"name" yaml:"name"`
	URL    string         `json:"url" yaml:"url"`
	Bridge *bridge.Config `json:"bridge,omitempty" yaml:"bridge,omitempty"`

	WaitUntil         api.LifecycleEvent `json:"waitUntil,omitempty" yaml:"waitUntil,omitempty"`
	NavigationTimeout time.Duration      `json:"navigationTimeout,omitempty" yaml:"navigationTimeout,omitempty"`

	Steps      []Step      `json:"steps,omitempty" yaml:"steps,omitempty"`
	Assertions []Assertion `json:"assertions,omitempty" yaml:"assertions,omitempty"`

	ScreenshotPath        string `json:"screenshot,omitempty" yaml:"screenshot,omitempty"`
	FailureScreenshotPath string `json:"failureScreenshot,omitempty" yaml:"failureScreenshot,omitempty"`
}

// withDefaults fills in the optional fields.
func (sc Scenario) withDefaults() Scenario {
	if sc.WaitUntil == "" {
		sc.WaitUntil = api.LifecycleEventLoad
	}
	if sc.NavigationTimeout <= 0 {
		sc.NavigationTimeout = DefaultNavigationTimeout
	}
	if sc.ScreenshotPath == "" {
		sc.ScreenshotPath = fileName(sc.Name) + ".png"
	}
	if sc.FailureScreenshotPath == "" {
		sc.FailureScreenshotPath = fileName(sc.Name) + "_error.png"
	}
	return sc
}

// Validate reports the first problem that would keep sc from running.
func (sc Scenario) Validate() error {
	var errs []error
	if strings.TrimSpace(sc.Name) == "" {
		errs = append(errs, errors.New("missing name"))
	}
	if u, err := url.Parse(sc.URL); err != nil || u.Scheme == "" || u.Host == "" {
		errs = append(errs, fmt.Errorf("invalid url %q", sc.URL))
	}
	if sc.WaitUntil != "" && !sc.WaitUntil.Valid() {
		errs = append(errs, fmt.Errorf("unknown waitUntil %q", sc.WaitUntil))
	}
	if sc.Bridge != nil {
		if err := sc.Bridge.Validate(); err != nil {
			errs = append(errs, fmt.Errorf("bridge: %w", err))
		}
	}
	for i, st := range sc.Steps {
		if err := st.validate(); err != nil {
			errs = append(errs, fmt.Errorf("step %d: %w", i+1, err))
		}
	}
	for i, a := range sc.Assertions {
		if _, err := common.ParseSelector(a.Selector); err != nil {
			errs = append(errs, fmt.Errorf("assertion %d: %w", i+1, err))
		}
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("scenario %q: %w", sc.Name, err)
	}
	return nil
}

// Suite is a set of scenarios run sequentially. With SharedSession every
// scenario runs in the same browser session, otherwise each gets its own.
type Suite struct {
	Name          string     `json:"name" yaml:"name"`
	Description   string     `json:"description,omitempty" yaml:"description,omitempty"`
	SharedSession bool       `json:"sharedSession,omitempty" yaml:"sharedSession,omitempty"`
	Scenarios     []Scenario `json:"scenarios" yaml:"scenarios"`
}

// Validate reports every invalid scenario of s.
func (s Suite) Validate() error {
	if len(s.Scenarios) == 0 {
		return fmt.Errorf("suite %q has no scenarios", s.Name)
	}
	var errs []error
	seen := make(map[string]bool, len(s.Scenarios))
	for _, sc := range s.Scenarios {
		if err := sc.Validate(); err != nil {
			errs = append(errs, err)
		}
		if seen[sc.Name] {
			errs = append(errs, fmt.Errorf("duplicate scenario name %q", sc.Name))
		}
		seen[sc.Name] = true
	}
	return errors.Join(errs...)
}

// fileName turns a scenario name into a file name stem.
func fileName(name string) string {
	name = strings.ToLower(strings.TrimSpace(name))
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '-', r == '_':
			return r
		}
		return '_'
	}, name)
}
