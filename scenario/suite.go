package scenario

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/afero"
	"gopkg.in/yaml.v3"

	"github.com/torwell84/torwell-verify/api"
)

// Acquirer opens a page in a fresh browser session. The returned function
// releases the session.
type Acquirer interface {
	Acquire(ctx context.Context) (api.Page, func(), error)
}

// AcquireFunc adapts a function to Acquirer.
type AcquireFunc func(ctx context.Context) (api.Page, func(), error)

// Acquire calls f.
func (f AcquireFunc) Acquire(ctx context.Context) (api.Page, func(), error) {
	return f(ctx)
}

// RunSuite runs the scenarios of suite in order and returns their results.
// A failed scenario never stops the others. A session that cannot be
// acquired fails the scenarios meant to run in it. emit, if not nil, is
// called with each result as soon as it is known.
func (r *Runner) RunSuite(ctx context.Context, suite Suite, acq Acquirer, emit func(*Result)) []*Result {
	results := make([]*Result, 0, len(suite.Scenarios))
	record := func(res *Result) {
		res.Suite = suite.Name
		results = append(results, res)
		if emit != nil {
			emit(res)
		}
	}

	r.logger.Infof("Runner:RunSuite", "suite:%q scenarios:%d shared:%t",
		suite.Name, len(suite.Scenarios), suite.SharedSession)

	if suite.SharedSession {
		r.runShared(ctx, suite, acq, record)
	} else {
		for _, sc := range suite.Scenarios {
			record(r.runIsolated(ctx, sc, acq))
		}
	}

	return results
}

func (r *Runner) runShared(ctx context.Context, suite Suite, acq Acquirer, record func(*Result)) {
	page, release, err := acq.Acquire(ctx)
	if err != nil {
		for _, sc := range suite.Scenarios {
			record(notRun(sc, fmt.Errorf("acquiring browser session: %w", err)))
		}
		return
	}
	defer release()

	for _, sc := range suite.Scenarios {
		if err := ctx.Err(); err != nil {
			record(notRun(sc, fmt.Errorf("not run: %w", err)))
			continue
		}
		record(r.Run(ctx, sc, page))
	}
}

func (r *Runner) runIsolated(ctx context.Context, sc Scenario, acq Acquirer) *Result {
	if err := ctx.Err(); err != nil {
		return notRun(sc, fmt.Errorf("not run: %w", err))
	}

	page, release, err := acq.Acquire(ctx)
	if err != nil {
		r.logger.Errorf("Runner:RunSuite", "scenario:%q acquiring browser session: %v", sc.Name, err)
		return notRun(sc, fmt.Errorf("acquiring browser session: %w", err))
	}
	defer release()

	return r.Run(ctx, sc, page)
}

// notRun is the result of a scenario that never reached a page. It has no
// screenshot.
func notRun(sc Scenario, err error) *Result {
	res := &Result{Scenario: sc.Name, URL: sc.URL, Start: time.Now()}
	res.fail(err)
	res.finish()
	return res
}

// ParseSuite decodes a YAML suite and validates it.
func ParseSuite(data []byte) (Suite, error) {
	var s Suite
	if err := yaml.Unmarshal(data, &s); err != nil {
		return Suite{}, fmt.Errorf("parsing suite: %w", err)
	}
	if err := s.Validate(); err != nil {
		return Suite{}, err
	}
	return s, nil
}

// LoadSuite reads the YAML suite at path on fs. A suite without a name is
// named after its file.
func LoadSuite(fs afero.Fs, path string) (Suite, error) {
	data, err := afero.ReadFile(fs, path)
	if err != nil {
		return Suite{}, fmt.Errorf("reading suite: %w", err)
	}
	s, err := ParseSuite(data)
	if err != nil {
		return Suite{}, fmt.Errorf("%s: %w", path, err)
	}
	if s.Name == "" {
		s.Name = path
	}
	return s, nil
}
