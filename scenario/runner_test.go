package scenario

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/torwell84/torwell-verify/api"
	"github.com/torwell84/torwell-verify/bridge"
	"github.com/torwell84/torwell-verify/log"
	"github.com/torwell84/torwell-verify/storage"
)

// fakePage is an api.Page over a fixed set of visible selectors.
type fakePage struct {
	mu sync.Mutex

	visible map[string]bool
	// broken selectors fail to evaluate.
	broken map[string]bool
	// panicOn makes every method touching that selector panic.
	panicOn string

	gotoErr       error
	gotoBlocks    bool
	screenshotErr error

	calls       []string
	screenshots int
	initScripts map[string]string
	nextID      int
	added       []string
	// scriptsAtGoto is the number of init scripts registered at each Goto.
	scriptsAtGoto []int
}

var _ api.Page = &fakePage{}

func newFakePage(visible ...string) *fakePage {
	p := &fakePage{
		visible:     make(map[string]bool),
		broken:      make(map[string]bool),
		initScripts: make(map[string]string),
	}
	for _, s := range visible {
		p.visible[s] = true
	}
	return p
}

func (p *fakePage) record(call string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls = append(p.calls, call)
}

func (p *fakePage) Calls() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.calls...)
}

func (p *fakePage) AddInitScript(_ context.Context, source string) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.nextID++
	id := strconv.Itoa(p.nextID)
	p.initScripts[id] = source
	p.added = append(p.added, source)
	return id, nil
}

func (p *fakePage) RemoveInitScript(_ context.Context, id string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.initScripts, id)
	return nil
}

func (p *fakePage) Goto(ctx context.Context, url string, waitUntil api.LifecycleEvent) error {
	p.record("goto " + url + " " + string(waitUntil))
	p.mu.Lock()
	p.scriptsAtGoto = append(p.scriptsAtGoto, len(p.initScripts))
	p.mu.Unlock()

	if p.gotoBlocks {
		<-ctx.Done()
		return fmt.Errorf("navigating to %q: %w", url, ctx.Err())
	}
	return p.gotoErr
}

func (p *fakePage) waitVisible(ctx context.Context, selector string) error {
	if selector == p.panicOn {
		panic("selector engine exploded")
	}
	if p.visible[selector] {
		return nil
	}
	<-ctx.Done()
	return fmt.Errorf("waiting for %q: %w", selector, ctx.Err())
}

func (p *fakePage) WaitForSelector(ctx context.Context, selector string) error {
	p.record("wait " + selector)
	return p.waitVisible(ctx, selector)
}

func (p *fakePage) WaitForNetworkIdle(context.Context) error {
	p.record("networkidle")
	return nil
}

func (p *fakePage) IsVisible(_ context.Context, selector string) (bool, error) {
	p.record("visible " + selector)
	if selector == p.panicOn {
		panic("selector engine exploded")
	}
	if p.broken[selector] {
		return false, errors.New("Execution context was destroyed")
	}
	return p.visible[selector], nil
}

func (p *fakePage) Click(ctx context.Context, selector string) error {
	p.record("click " + selector)
	return p.waitVisible(ctx, selector)
}

func (p *fakePage) Screenshot(context.Context) ([]byte, error) {
	p.mu.Lock()
	p.screenshots++
	p.mu.Unlock()
	if p.screenshotErr != nil {
		return nil, p.screenshotErr
	}
	return []byte("\x89PNG"), nil
}

func newTestRunner(t *testing.T) (*Runner, afero.Fs) {
	t.Helper()

	fs := afero.NewMemMapFs()
	return NewRunner(&storage.FSPersister{Fs: fs}, log.NewNullLogger(), WithArtifactDir("verification")), fs
}

func settingsScenario() Scenario {
	return SettingsSuite("http://localhost:1420").Scenarios[0]
}

func settingsVisible() []string {
	return []string{
		".tw-surface", `button[aria-label="Open settings"]`, `h2:text("Settings")`,
		"text=Connectivity", "text=System-wide Routing (VPN Mode)",
	}
}

func assertArtifact(t *testing.T, fs afero.Fs, path string) {
	t.Helper()

	ok, err := (&storage.FSPersister{Fs: fs}).Exists(path)
	require.NoError(t, err)
	assert.True(t, ok, "missing artifact %s", path)
}

func TestRunPass(t *testing.T) {
	t.Parallel()

	r, fs := newTestRunner(t)
	page := newFakePage(settingsVisible()...)

	res := r.Run(context.Background(), settingsScenario(), page)

	require.NoError(t, res.Err)
	assert.Equal(t, Pass, res.Outcome)
	assert.True(t, res.Passed())
	assert.Empty(t, res.Reason)
	assert.Equal(t, []string{
		"goto http://localhost:1420 load",
		"wait .tw-surface",
		`click button[aria-label="Open settings"]`,
		`wait h2:text("Settings")`,
		"visible text=Connectivity",
		"visible text=System-wide Routing (VPN Mode)",
	}, page.Calls())

	require.Len(t, res.Steps, 3)
	for i, st := range res.Steps {
		assert.Equal(t, i+1, st.Index)
		assert.NoError(t, st.Err)
	}
	require.Len(t, res.Assertions, 2)
	for _, a := range res.Assertions {
		assert.True(t, a.Passed, a.Name)
	}

	assert.Equal(t, 1, page.screenshots)
	assert.Equal(t, filepath.Join("verification", "settings_modal.png"), res.ArtifactPath)
	assert.NoError(t, res.ArtifactErr)
	assertArtifact(t, fs, res.ArtifactPath)
	ok, err := (&storage.FSPersister{Fs: fs}).Exists(filepath.Join("verification", "error.png"))
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestRunCollectsEveryAssertion(t *testing.T) {
	t.Parallel()

	r, fs := newTestRunner(t)
	page := newFakePage("text=Torwell.84", "text=Identity Control")
	page.broken[`role=button[name="Disconnect"]`] = true

	sc := ShowcaseSuite("http://localhost:5173/design-showcase").Scenarios[0]
	sc.Steps = []Step{Sleep(10 * time.Millisecond)}

	res := r.Run(context.Background(), sc, page)

	assert.Equal(t, Fail, res.Outcome)
	require.NoError(t, res.Err)
	require.Len(t, res.Assertions, 4)

	failed := res.FailedAssertions()
	require.Len(t, failed, 2)
	assert.Equal(t, "Tor Connection", failed[0].Name)
	assert.NoError(t, failed[0].Err)
	assert.Equal(t, "Disconnect button", failed[1].Name)
	assert.Error(t, failed[1].Err)
	assert.Contains(t, res.Reason, "2 of 4 assertions failed")
	assert.Contains(t, res.Reason, "Tor Connection")
	assert.Contains(t, res.Reason, "Disconnect button")

	// Assertion failures keep the success screenshot.
	assert.Equal(t, 1, page.screenshots)
	assert.Equal(t, filepath.Join("verification", "design_showcase.png"), res.ArtifactPath)
	assertArtifact(t, fs, res.ArtifactPath)
}

func TestRunReadinessTimeout(t *testing.T) {
	t.Parallel()

	r, fs := newTestRunner(t)
	page := newFakePage(".tw-surface", `button[aria-label="Open settings"]`)

	sc := settingsScenario()
	sc.Steps[2].Timeout = 200 * time.Millisecond

	start := time.Now()
	res := r.Run(context.Background(), sc, page)
	elapsed := time.Since(start)

	assert.Less(t, elapsed, 2*time.Second)
	assert.Equal(t, Fail, res.Outcome)
	assert.ErrorIs(t, res.Err, ErrTimeout)
	assert.ErrorIs(t, res.Err, context.DeadlineExceeded)

	var rte *ReadinessTimeoutError
	require.ErrorAs(t, res.Err, &rte)
	assert.Equal(t, 3, rte.Index)
	assert.Equal(t, `wait for h2:text("Settings")`, rte.Step)
	assert.Equal(t, 200*time.Millisecond, rte.Timeout)

	require.Len(t, res.Steps, 3)
	assert.Error(t, res.Steps[2].Err)
	assert.Empty(t, res.Assertions)

	assert.Equal(t, 1, page.screenshots)
	assert.Equal(t, filepath.Join("verification", "error.png"), res.ArtifactPath)
	assertArtifact(t, fs, res.ArtifactPath)
}

func TestRunNavigationFailures(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		name        string
		setup       func(*fakePage)
		wantTimeout bool
	}{
		{name: "timeout", setup: func(p *fakePage) { p.gotoBlocks = true }, wantTimeout: true},
		{name: "error", setup: func(p *fakePage) { p.gotoErr = errors.New("net::ERR_CONNECTION_REFUSED") }},
	}

	for _, tc := range testCases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			r, _ := newTestRunner(t)
			page := newFakePage(settingsVisible()...)
			tc.setup(page)

			sc := settingsScenario()
			sc.NavigationTimeout = 200 * time.Millisecond

			start := time.Now()
			res := r.Run(context.Background(), sc, page)

			assert.Less(t, time.Since(start), 2*time.Second)
			assert.Equal(t, Fail, res.Outcome)
			assert.Empty(t, res.Steps)
			assert.Empty(t, res.Assertions)
			assert.Equal(t, 1, page.screenshots)
			assert.Equal(t, filepath.Join("verification", "error.png"), res.ArtifactPath)

			var nte *NavigationTimeoutError
			if tc.wantTimeout {
				assert.ErrorIs(t, res.Err, ErrTimeout)
				require.ErrorAs(t, res.Err, &nte)
				assert.Equal(t, "http://localhost:1420", nte.URL)
				assert.Equal(t, 200*time.Millisecond, nte.Timeout)
				return
			}
			assert.NotErrorIs(t, res.Err, ErrTimeout)
			assert.False(t, errors.As(res.Err, &nte))
			assert.Contains(t, res.Reason, "ERR_CONNECTION_REFUSED")
		})
	}
}

func TestRunRecoversPanics(t *testing.T) {
	t.Parallel()

	t.Run("step", func(t *testing.T) {
		t.Parallel()

		r, _ := newTestRunner(t)
		page := newFakePage(settingsVisible()...)
		page.panicOn = ".tw-surface"

		var res *Result
		require.NotPanics(t, func() { res = r.Run(context.Background(), settingsScenario(), page) })

		assert.Equal(t, Fail, res.Outcome)
		assert.Contains(t, res.Reason, "panicked")
		assert.Empty(t, res.Assertions)
		assert.Equal(t, 1, page.screenshots)
		assert.Equal(t, filepath.Join("verification", "error.png"), res.ArtifactPath)
	})

	t.Run("assertion", func(t *testing.T) {
		t.Parallel()

		r, _ := newTestRunner(t)
		page := newFakePage(settingsVisible()...)
		page.panicOn = "text=Connectivity"

		var res *Result
		require.NotPanics(t, func() { res = r.Run(context.Background(), settingsScenario(), page) })

		assert.Equal(t, Fail, res.Outcome)
		require.Len(t, res.Assertions, 2)
		failed := res.FailedAssertions()
		require.Len(t, failed, 1)
		assert.Equal(t, "Connectivity", failed[0].Name)
		assert.ErrorContains(t, failed[0].Err, "panicked")
		assert.True(t, res.Assertions[1].Passed)
		assert.Equal(t, 1, page.screenshots)
		assert.Equal(t, filepath.Join("verification", "settings_modal.png"), res.ArtifactPath)
	})
}

func TestRunArtifactFailures(t *testing.T) {
	t.Parallel()

	t.Run("capture", func(t *testing.T) {
		t.Parallel()

		r, _ := newTestRunner(t)
		page := newFakePage(settingsVisible()...)
		page.screenshotErr = errors.New("target closed")

		res := r.Run(context.Background(), settingsScenario(), page)

		assert.Equal(t, Pass, res.Outcome)
		var awe *storage.ArtifactWriteError
		require.ErrorAs(t, res.ArtifactErr, &awe)
		assert.Equal(t, filepath.Join("verification", "settings_modal.png"), awe.Path)
		assert.Contains(t, awe.Error(), "target closed")
	})

	t.Run("persist", func(t *testing.T) {
		t.Parallel()

		r := NewRunner(&storage.FSPersister{Fs: afero.NewReadOnlyFs(afero.NewMemMapFs())},
			log.NewNullLogger(), WithArtifactDir("verification"))
		page := newFakePage(settingsVisible()...)

		res := r.Run(context.Background(), settingsScenario(), page)

		assert.Equal(t, Pass, res.Outcome)
		assert.Equal(t, 1, page.screenshots)
		var awe *storage.ArtifactWriteError
		require.ErrorAs(t, res.ArtifactErr, &awe)
	})
}

func TestRunReplacesStaleArtifact(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		name      string
		visible   []string
		stale     string
		wantPath  string
		wantGone  string
		wantError bool
	}{
		{
			name:     "pass_after_failure",
			visible:  settingsVisible(),
			stale:    "error.png",
			wantPath: "settings_modal.png",
			wantGone: "error.png",
		},
		{
			name:      "failure_after_pass",
			visible:   []string{".tw-surface"},
			stale:     "settings_modal.png",
			wantPath:  "error.png",
			wantGone:  "settings_modal.png",
			wantError: true,
		},
	}

	for _, tc := range testCases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			r, fs := newTestRunner(t)
			stale := filepath.Join("verification", tc.stale)
			require.NoError(t, afero.WriteFile(fs, stale, []byte("old"), 0o644))

			sc := settingsScenario()
			sc.Steps[1].Timeout = 100 * time.Millisecond
			res := r.Run(context.Background(), sc, newFakePage(tc.visible...))

			assert.Equal(t, tc.wantError, res.Err != nil)
			require.NoError(t, res.ArtifactErr)
			assert.Equal(t, filepath.Join("verification", tc.wantPath), res.ArtifactPath)
			assertArtifact(t, fs, res.ArtifactPath)

			ok, err := afero.Exists(fs, filepath.Join("verification", tc.wantGone))
			require.NoError(t, err)
			assert.False(t, ok, "%s left next to %s", tc.wantGone, tc.wantPath)
		})
	}
}

func TestRunInjectsBridgeBeforeNavigation(t *testing.T) {
	t.Parallel()

	r, _ := newTestRunner(t)
	page := newFakePage("text=SYSTEM RESOURCES", "text=CPU Load")

	sc := DashboardSuite(DefaultDashboardURL).Scenarios[0]
	res := r.Run(context.Background(), sc, page)

	require.NoError(t, res.Err)
	assert.Equal(t, Pass, res.Outcome)
	assert.Equal(t, []int{1}, page.scriptsAtGoto)
	assert.Empty(t, page.initScripts, "bridge left registered")
	assert.Equal(t, "goto http://localhost:1420/ networkidle", page.Calls()[0])
}

func TestRunBridgeScriptContents(t *testing.T) {
	t.Parallel()

	r, _ := newTestRunner(t)
	page := newFakePage()
	page.gotoErr = errors.New("stop here")

	res := r.Run(context.Background(), DashboardSuite(DefaultDashboardURL).Scenarios[0], page)

	assert.Equal(t, Fail, res.Outcome)
	require.Len(t, page.added, 1)
	for _, want := range []string{"__TAURI_IPC__", "__TAURI_METADATA__", `"load_metrics"`, `"request_token"`, `"total_traffic_bytes":5000000`} {
		assert.Contains(t, page.added[0], want)
	}
	// Removed even though navigation failed.
	assert.Empty(t, page.initScripts)
}

func bridgeResponseWithCount(n int) bridge.Response {
	return bridge.Response{Generator: &bridge.Generator{Kind: bridge.GeneratorSeries, Count: n}}
}

func TestRunRejectsInvalidBridge(t *testing.T) {
	t.Parallel()

	r, _ := newTestRunner(t)
	page := newFakePage()
	sc := DashboardSuite(DefaultDashboardURL).Scenarios[0]
	sc.Bridge.Commands["load_metrics"] = bridgeResponseWithCount(-1)

	res := r.Run(context.Background(), sc, page)

	assert.Equal(t, Fail, res.Outcome)
	assert.Contains(t, res.Reason, "negative")
	assert.Empty(t, page.scriptsAtGoto, "navigated without the bridge")
	assert.Equal(t, 1, page.screenshots)
}

func TestRunIdempotent(t *testing.T) {
	t.Parallel()

	r, _ := newTestRunner(t)
	page := newFakePage("text=Torwell.84", "text=Tor Connection")

	sc := ShowcaseSuite(DefaultShowcaseURL).Scenarios[0]
	sc.Steps = nil

	outcome := func(res *Result) string {
		var b strings.Builder
		fmt.Fprintf(&b, "%s|%s|", res.Outcome, res.ArtifactPath)
		for _, a := range res.Assertions {
			fmt.Fprintf(&b, "%s=%t,", a.Name, a.Passed)
		}
		return b.String()
	}

	first := r.Run(context.Background(), sc, page)
	second := r.Run(context.Background(), sc, page)

	assert.Equal(t, Fail, first.Outcome)
	assert.Equal(t, outcome(first), outcome(second))
	assert.Equal(t, 2, page.screenshots)
}

func TestRunSleep(t *testing.T) {
	t.Parallel()

	r, _ := newTestRunner(t)
	sc := Scenario{
		Name:  "settle",
		URL:   "http://localhost:5173",
		Steps: []Step{Sleep(100 * time.Millisecond)},
	}

	start := time.Now()
	res := r.Run(context.Background(), sc, newFakePage())
	assert.GreaterOrEqual(t, time.Since(start), 100*time.Millisecond)
	assert.Equal(t, Pass, res.Outcome)
	assert.Equal(t, filepath.Join("verification", "settle.png"), res.ArtifactPath)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	sc.Steps = []Step{Sleep(time.Hour)}

	start = time.Now()
	res = r.Run(ctx, sc, newFakePage())
	assert.Less(t, time.Since(start), 2*time.Second)
	assert.Equal(t, Fail, res.Outcome)
	assert.ErrorIs(t, res.Err, context.DeadlineExceeded)
	assert.NotErrorIs(t, res.Err, ErrTimeout)
	assert.Equal(t, filepath.Join("verification", "settle_error.png"), res.ArtifactPath)
}

func TestRunNetworkIdleStep(t *testing.T) {
	t.Parallel()

	r, _ := newTestRunner(t)
	page := newFakePage()
	sc := Scenario{Name: "idle", URL: "http://localhost:1420", Steps: []Step{NetworkIdle(0)}}

	res := r.Run(context.Background(), sc, page)
	assert.Equal(t, Pass, res.Outcome)
	assert.Equal(t, []string{"goto http://localhost:1420 load", "networkidle"}, page.Calls())
	require.Len(t, res.Steps, 1)
	assert.Equal(t, "wait for network idle", res.Steps[0].Description)
}

func TestRunWithoutPage(t *testing.T) {
	t.Parallel()

	r, _ := newTestRunner(t)
	res := r.Run(context.Background(), settingsScenario(), nil)

	assert.Equal(t, Fail, res.Outcome)
	assert.ErrorIs(t, res.Err, ErrNoPage)
	assert.Empty(t, res.ArtifactPath)
}

func TestArtifactPath(t *testing.T) {
	t.Parallel()

	r, _ := newTestRunner(t)
	assert.Equal(t, filepath.Join("verification", "a.png"), r.ArtifactPath("a.png"))
	abs := filepath.Join(string(filepath.Separator), "tmp", "a.png")
	assert.Equal(t, abs, r.ArtifactPath(abs))

	bare := NewRunner(nil, log.NewNullLogger())
	assert.Equal(t, "a.png", bare.ArtifactPath("./a.png"))
}
