// Package bridge builds the script that stands in for the Tauri v1 host
// bridge, so the application can run in a plain browser.
package bridge

import (
	_ "embed"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/dop251/goja"
)

//go:embed stub.js
var stubSource string

const configPlaceholder = "__CONFIG__"

// GeneratorSeries produces a list of samples spaced in time.
const GeneratorSeries = "series"

const (
	defaultTimeField  = "time"
	defaultIntervalMs = 1000
)

// Config maps command names to the responses the stubbed host returns.
// Commands not listed resolve to null.
type Config struct {
	Commands map[string]Response `json:"commands" yaml:"commands"`
	// Events documents the events the application subscribes to. Every
	// subscription resolves to a no-op unsubscribe, listed or not.
	Events []string `json:"events,omitempty" yaml:"events,omitempty"`
}

// Response is either a literal Value or a Generator evaluated on every call.
type Response struct {
	Value     interface{} `json:"value,omitempty" yaml:"value,omitempty"`
	Generator *Generator  `json:"generator,omitempty" yaml:"generator,omitempty"`
}

// Generator describes a synthetic series. Sample i of Count carries
// TimeField set to now - (Count-1-i)*IntervalMs, every field of Fields
// following its wave, and the Static values.
type Generator struct {
	Kind       string                 `json:"kind" yaml:"kind"`
	Count      int                    `json:"count" yaml:"count"`
	TimeField  string                 `json:"timeField" yaml:"timeField"`
	IntervalMs int64                  `json:"intervalMs" yaml:"intervalMs"`
	Fields     map[string]Wave        `json:"fields,omitempty" yaml:"fields,omitempty"`
	Static     map[string]interface{} `json:"static,omitempty" yaml:"static,omitempty"`
}

// Wave is Base + Amplitude*sin(2*pi*i/Period). A zero Period keeps the
// value at Base.
type Wave struct {
	Base      float64 `json:"base" yaml:"base"`
	Amplitude float64 `json:"amplitude" yaml:"amplitude"`
	Period    float64 `json:"period" yaml:"period"`
	Integer   bool    `json:"integer,omitempty" yaml:"integer,omitempty"`
}

// Script is JavaScript to be evaluated before any script of a document.
type Script string

func (s Script) String() string {
	return string(s)
}

// Build validates cfg and returns the stub script with cfg embedded.
func Build(cfg Config) (Script, error) {
	normalized, err := normalize(cfg)
	if err != nil {
		return "", fmt.Errorf("building host bridge: %w", err)
	}

	buf, err := json.Marshal(normalized)
	if err != nil {
		return "", fmt.Errorf("building host bridge: encoding configuration: %w", err)
	}
	src := strings.Replace(stubSource, configPlaceholder, string(buf), 1)

	if _, err := goja.Compile("bridge.js", src, false); err != nil {
		return "", fmt.Errorf("building host bridge: %w", err)
	}

	return Script(src), nil
}

// Validate reports the first invalid response in cfg.
func (cfg Config) Validate() error {
	_, err := normalize(cfg)
	return err
}

// CommandNames returns the configured command names, sorted.
func (cfg Config) CommandNames() []string {
	names := make([]string, 0, len(cfg.Commands))
	for name := range cfg.Commands {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// normalize returns a copy of cfg with generator defaults filled in.
func normalize(cfg Config) (Config, error) {
	out := Config{
		Commands: make(map[string]Response, len(cfg.Commands)),
		Events:   cfg.Events,
	}
	for _, name := range cfg.CommandNames() {
		r := cfg.Commands[name]
		if strings.TrimSpace(name) == "" {
			return Config{}, fmt.Errorf("empty command name")
		}
		if r.Generator != nil {
			g, err := r.Generator.normalize()
			if err != nil {
				return Config{}, fmt.Errorf("command %q: %w", name, err)
			}
			r = Response{Generator: &g}
		}
		out.Commands[name] = r
	}
	return out, nil
}

func (g Generator) normalize() (Generator, error) {
	if g.Kind == "" {
		g.Kind = GeneratorSeries
	}
	if g.Kind != GeneratorSeries {
		return Generator{}, fmt.Errorf("unknown generator kind %q", g.Kind)
	}
	if g.Count < 0 {
		return Generator{}, fmt.Errorf("generator count %d is negative", g.Count)
	}
	if g.IntervalMs < 0 {
		return Generator{}, fmt.Errorf("generator interval %dms is negative", g.IntervalMs)
	}
	if g.IntervalMs == 0 {
		g.IntervalMs = defaultIntervalMs
	}
	if g.TimeField == "" {
		g.TimeField = defaultTimeField
	}
	if _, ok := g.Fields[g.TimeField]; ok {
		return Generator{}, fmt.Errorf("field %q is the time field", g.TimeField)
	}
	return g, nil
}
