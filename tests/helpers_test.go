// Package tests drives the built-in suites against a local fixture of the
// application in a real browser. The tests are skipped in short mode and
// when no Chrome or Chromium executable can be found.
package tests

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"

	"github.com/mccutchen/go-httpbin/httpbin"
	"github.com/spf13/afero"

	"github.com/torwell84/torwell-verify/chromium"
	"github.com/torwell84/torwell-verify/log"
	"github.com/torwell84/torwell-verify/scenario"
	"github.com/torwell84/torwell-verify/session"
	"github.com/torwell84/torwell-verify/storage"
)

const settingsHTML = `<!doctype html>
<html><body>
<div class="tw-surface">
  <button aria-label="Open settings" onclick="document.getElementById('modal').hidden = false">*</button>
</div>
<div id="modal" hidden>
  <h2>Settings</h2>
  <p>Connectivity</p>
  <label><input type="checkbox"> System-wide Routing (VPN Mode)</label>
</div>
</body></html>`

const showcaseHTML = `<!doctype html>
<html><body>
<h1>Torwell.84</h1>
<section><h3>Tor Connection</h3><button>Disconnect</button></section>
<section><h3>Identity Control</h3></section>
</body></html>`

// dashboardHTML renders only when the host bridge answers. It also loads
// data over the network, so it only settles at network idle.
const dashboardHTML = `<!doctype html>
<html><body>
<div id="root">loading</div>
<script>
(async () => {
  const root = document.getElementById('root');
  await fetch('/httpbin/delay/1');
  if (!window.__TAURI__) {
    root.textContent = 'host bridge unavailable';
    return;
  }
  await window.__TAURI__.event.listen('metrics-update', () => {});
  const metrics = await window.__TAURI__.invoke('load_metrics');
  const summary = await window.__TAURI__.invoke('get_status_summary');
  const last = metrics[metrics.length - 1];
  root.innerHTML = '<h2>SYSTEM RESOURCES</h2>' +
    '<p>CPU Load ' + last.cpuPercent + '%</p>' +
    '<p>' + summary.total_traffic_bytes + ' bytes</p>';
})();
</script>
</body></html>`

// newFixture serves a stand-in of the application's pages.
func newFixture(t *testing.T) *httptest.Server {
	t.Helper()

	page := func(body string) http.HandlerFunc {
		return func(w http.ResponseWriter, _ *http.Request) {
			w.Header().Set("Content-Type", "text/html; charset=utf-8")
			_, _ = w.Write([]byte(body))
		}
	}

	mux := http.NewServeMux()
	mux.Handle("/httpbin/", http.StripPrefix("/httpbin", httpbin.New().Handler()))
	mux.HandleFunc("/design-showcase", page(showcaseHTML))
	mux.HandleFunc("/dashboard", page(dashboardHTML))
	mux.HandleFunc("/", page(settingsHTML))

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	return srv
}

// newTestManager returns a session manager for a real browser, or skips t.
func newTestManager(t *testing.T) *session.Manager {
	t.Helper()

	if testing.Short() {
		t.Skip("skipping browser test in short mode")
	}
	path, err := chromium.ExecutablePath(os.Getenv("TORWELL_VERIFY_CHROME_PATH"))
	if err != nil {
		t.Skipf("skipping browser test: %v", err)
	}

	opts := session.NewOptions()
	opts.Launch.ExecutablePath = path
	return session.NewManager(opts, log.NewNullLogger())
}

// newTestRunner returns a runner that writes its screenshots to memory.
func newTestRunner() (*scenario.Runner, afero.Fs) {
	fs := afero.NewMemMapFs()
	return scenario.NewRunner(&storage.FSPersister{Fs: fs}, log.NewNullLogger(),
		scenario.WithArtifactDir("verification")), fs
}

func runSuite(t *testing.T, suite scenario.Suite) ([]*scenario.Result, afero.Fs) {
	t.Helper()

	acq := newTestManager(t)
	runner, fs := newTestRunner()
	return runner.RunSuite(context.Background(), suite, acq, nil), fs
}
