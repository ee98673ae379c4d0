package scenario

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"go.opentelemetry.io/otel/attribute"
	oteltrace "go.opentelemetry.io/otel/trace"

	"github.com/torwell84/torwell-verify/api"
	"github.com/torwell84/torwell-verify/bridge"
	"github.com/torwell84/torwell-verify/log"
	"github.com/torwell84/torwell-verify/storage"
	"github.com/torwell84/torwell-verify/trace"
)

const (
	// DefaultAssertionTimeout bounds a single visibility check.
	DefaultAssertionTimeout = 5 * time.Second
	// DefaultScreenshotTimeout bounds capturing and writing the screenshot.
	DefaultScreenshotTimeout = 15 * time.Second
)

// ErrNoPage is the failure of a scenario run without a page.
var ErrNoPage = errors.New("no browser page")

// Runner drives scenarios against pages and persists their screenshots.
type Runner struct {
	persister   storage.Persister
	artifactDir string
	tracer      *trace.Tracer
	logger      *log.Logger

	assertionTimeout  time.Duration
	screenshotTimeout time.Duration
}

// RunnerOption configures a Runner.
type RunnerOption func(*Runner)

// WithArtifactDir resolves relative screenshot paths against dir.
func WithArtifactDir(dir string) RunnerOption {
	return func(r *Runner) { r.artifactDir = dir }
}

// WithTracer records a span per scenario run.
func WithTracer(t *trace.Tracer) RunnerOption {
	return func(r *Runner) { r.tracer = t }
}

// WithScreenshotTimeout bounds capturing and writing a screenshot.
func WithScreenshotTimeout(d time.Duration) RunnerOption {
	return func(r *Runner) { r.screenshotTimeout = d }
}

// NewRunner returns a Runner persisting screenshots through persister.
func NewRunner(persister storage.Persister, logger *log.Logger, opts ...RunnerOption) *Runner {
	r := &Runner{
		persister:         persister,
		logger:            logger,
		assertionTimeout:  DefaultAssertionTimeout,
		screenshotTimeout: DefaultScreenshotTimeout,
	}
	for _, o := range opts {
		o(r)
	}
	if r.tracer == nil {
		r.tracer = trace.NewNoopTracer()
	}
	return r
}

// ArtifactPath resolves a screenshot path against the artifact directory.
func (r *Runner) ArtifactPath(path string) string {
	if filepath.IsAbs(path) || r.artifactDir == "" {
		return filepath.Clean(path)
	}
	return filepath.Join(r.artifactDir, path)
}

// Run drives sc on page and returns its result. It never panics and always
// attempts exactly one screenshot, to the failure path if navigation or a
// step failed.
func (r *Runner) Run(ctx context.Context, sc Scenario, page api.Page) *Result {
	sc = sc.withDefaults()
	res := &Result{Scenario: sc.Name, URL: sc.URL, Start: time.Now()}

	if page == nil {
		res.fail(ErrNoPage)
		res.finish()
		return res
	}

	ctx, _ = r.tracer.TraceScenario(ctx, sc.Name,
		oteltrace.WithAttributes(attribute.String("scenario.url", sc.URL)))
	r.logger.Infof("Runner:Run", "scenario:%q url:%q", sc.Name, sc.URL)

	rn := &run{Runner: r, ctx: ctx, sc: sc, page: page, res: res}
	if rn.protect(rn.injectBridge) && rn.protect(rn.navigate) && rn.protect(rn.runSteps) {
		rn.protect(rn.checkAssertions)
	}
	rn.protect(rn.screenshot)
	rn.protect(rn.removeBridge)

	res.finish()
	r.tracer.EndScenario(sc.Name, outcomeErr(res))
	r.logger.Infof("Runner:Run", "scenario:%q outcome:%s elapsed:%s", sc.Name, res.Outcome, res.Duration)

	return res
}

func outcomeErr(res *Result) error {
	if res.Passed() {
		return nil
	}
	return errors.New(res.Reason)
}

// run is the state of one scenario run.
type run struct {
	*Runner

	ctx  context.Context
	sc   Scenario
	page api.Page
	res  *Result

	initScriptID string
}

// protect calls fn, recording its error or panic as the run's failure. It
// reports whether the run is still without failure.
func (rn *run) protect(fn func() error) (ok bool) {
	defer func() {
		if rec := recover(); rec != nil {
			rn.logger.Errorf("Runner:Run", "scenario:%q panic: %v", rn.sc.Name, rec)
			rn.res.fail(fmt.Errorf("scenario panicked: %v", rec))
		}
		ok = rn.res.Err == nil
	}()

	if err := fn(); err != nil {
		rn.res.fail(err)
	}
	return
}

func (rn *run) injectBridge() error {
	if rn.sc.Bridge == nil {
		return nil
	}

	script, err := bridge.Build(*rn.sc.Bridge)
	if err != nil {
		return err
	}
	id, err := rn.page.AddInitScript(rn.ctx, script.String())
	if err != nil {
		return fmt.Errorf("injecting host bridge: %w", err)
	}
	rn.initScriptID = id
	rn.logger.Debugf("Runner:injectBridge", "scenario:%q commands:%v", rn.sc.Name, rn.sc.Bridge.CommandNames())

	return nil
}

// removeBridge unregisters the stub so later documents of a shared page do
// not see it.
func (rn *run) removeBridge() error {
	if rn.initScriptID == "" {
		return nil
	}
	if err := rn.page.RemoveInitScript(rn.ctx, rn.initScriptID); err != nil {
		rn.logger.Warnf("Runner:removeBridge", "scenario:%q: %v", rn.sc.Name, err)
	}
	rn.initScriptID = ""
	return nil
}

func (rn *run) navigate() (err error) {
	nctx, cancel := context.WithTimeout(rn.ctx, rn.sc.NavigationTimeout)
	defer cancel()

	sctx, span := rn.tracer.TraceStep(nctx, rn.sc.Name, "navigate",
		oteltrace.WithAttributes(attribute.String("navigate.wait_until", string(rn.sc.WaitUntil))))
	defer func() { trace.EndWith(span, err) }()

	err = rn.page.Goto(sctx, rn.sc.URL, rn.sc.WaitUntil)
	switch {
	case err == nil:
		return nil
	case errors.Is(nctx.Err(), context.DeadlineExceeded) && rn.ctx.Err() == nil:
		return &NavigationTimeoutError{URL: rn.sc.URL, Timeout: rn.sc.NavigationTimeout, Err: err}
	default:
		return fmt.Errorf("navigation failed: %w", err)
	}
}

func (rn *run) runSteps() error {
	for i, st := range rn.sc.Steps {
		idx := i + 1
		start := time.Now()
		err := rn.step(idx, st)
		rn.res.Steps = append(rn.res.Steps, StepResult{
			Index:       idx,
			Description: st.String(),
			Err:         err,
			Duration:    time.Since(start),
		})
		if err != nil {
			return err
		}
	}
	return nil
}

func (rn *run) step(idx int, st Step) (err error) {
	rn.logger.Debugf("Runner:step", "scenario:%q step:%d %s", rn.sc.Name, idx, st)

	sctx, cancel := context.WithTimeout(rn.ctx, st.timeout())
	defer cancel()

	sctx, span := rn.tracer.TraceStep(sctx, rn.sc.Name, string(st.Kind),
		oteltrace.WithAttributes(attribute.Int("step.index", idx), attribute.String("step", st.String())))
	defer func() { trace.EndWith(span, err) }()

	switch st.Kind {
	case StepSleep:
		// A sleep is bounded by its duration only.
		timer := time.NewTimer(st.Duration)
		defer timer.Stop()
		select {
		case <-timer.C:
			return nil
		case <-rn.ctx.Done():
			return fmt.Errorf("step %d (%s): %w", idx, st, rn.ctx.Err())
		}
	case StepWait:
		err = rn.page.WaitForSelector(sctx, st.Selector)
	case StepNetworkIdle:
		err = rn.page.WaitForNetworkIdle(sctx)
	case StepClick:
		err = rn.page.Click(sctx, st.Selector)
	default:
		return fmt.Errorf("step %d: unknown step kind %q", idx, st.Kind)
	}

	switch {
	case err == nil:
		return nil
	case errors.Is(sctx.Err(), context.DeadlineExceeded) && rn.ctx.Err() == nil:
		return &ReadinessTimeoutError{Index: idx, Step: st.String(), Timeout: st.timeout(), Err: err}
	default:
		return fmt.Errorf("step %d (%s): %w", idx, st, err)
	}
}

// checkAssertions evaluates every assertion, whatever the earlier ones
// returned.
func (rn *run) checkAssertions() error {
	for _, a := range rn.sc.Assertions {
		ar := rn.assert(a)
		rn.res.Assertions = append(rn.res.Assertions, ar)
		rn.logger.Debugf("Runner:assert", "scenario:%q assertion:%q passed:%t err:%v",
			rn.sc.Name, ar.Name, ar.Passed, ar.Err)
	}
	return nil
}

func (rn *run) assert(a Assertion) (ar AssertionResult) {
	ar = AssertionResult{Name: a.Label(), Selector: a.Selector}
	defer func() {
		if rec := recover(); rec != nil {
			ar.Passed = false
			ar.Err = fmt.Errorf("assertion panicked: %v", rec)
		}
	}()

	actx, cancel := context.WithTimeout(rn.ctx, rn.assertionTimeout)
	defer cancel()

	ok, err := rn.page.IsVisible(actx, a.Selector)
	ar.Passed = err == nil && ok
	ar.Err = err

	return ar
}

// remover is implemented by persisters that can delete artifacts.
type remover interface {
	Remove(path string) error
}

// screenshot captures the page once, to the success path only when nothing
// stopped the run early. Its failure never changes the outcome.
func (rn *run) screenshot() (err error) {
	rel, other := rn.sc.ScreenshotPath, rn.sc.FailureScreenshotPath
	if rn.res.Err != nil {
		rel, other = other, rel
	}
	path := rn.ArtifactPath(rel)
	rn.res.ArtifactPath = path

	// A run leaves one of the two screenshots, never both.
	if r, ok := rn.persister.(remover); ok && other != rel {
		if err := r.Remove(rn.ArtifactPath(other)); err != nil {
			rn.logger.Warnf("Runner:screenshot", "scenario:%q: %v", rn.sc.Name, err)
		}
	}

	sctx, cancel := context.WithTimeout(rn.ctx, rn.screenshotTimeout)
	defer cancel()

	sctx, span := rn.tracer.TraceStep(sctx, rn.sc.Name, "screenshot",
		oteltrace.WithAttributes(attribute.String("screenshot.path", path)))
	defer func() { trace.EndWith(span, rn.res.ArtifactErr) }()

	buf, err := rn.page.Screenshot(sctx)
	if err != nil {
		rn.res.ArtifactErr = storage.NewArtifactWriteError(path, fmt.Errorf("capturing screenshot: %w", err))
		rn.logger.Errorf("Runner:screenshot", "scenario:%q: %v", rn.sc.Name, rn.res.ArtifactErr)
		return nil
	}
	if err := rn.persister.Persist(sctx, path, bytes.NewReader(buf)); err != nil {
		var awe *storage.ArtifactWriteError
		if !errors.As(err, &awe) {
			err = storage.NewArtifactWriteError(path, err)
		}
		rn.res.ArtifactErr = err
		rn.logger.Errorf("Runner:screenshot", "scenario:%q: %v", rn.sc.Name, err)
		return nil
	}
	rn.logger.Debugf("Runner:screenshot", "scenario:%q wrote %q (%d bytes)", rn.sc.Name, path, len(buf))

	return nil
}
