// Package report prints scenario results and checks their artifacts.
package report

import (
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/afero"

	"github.com/torwell84/torwell-verify/scenario"
	"github.com/torwell84/torwell-verify/storage"
)

// errArtifactMissing is the cause of an ArtifactWriteError for a screenshot
// that was reported written but is not on disk.
var errArtifactMissing = errors.New("artifact missing or empty")

// theme is the set of colors used for verdicts.
type theme struct {
	pass  *color.Color
	fail  *color.Color
	err   *color.Color
	faint *color.Color
}

// Reporter writes one line per check and scenario.
type Reporter struct {
	mu    sync.Mutex
	out   io.Writer
	files *storage.FSPersister
	theme *theme
}

// New returns a Reporter writing to out that looks artifacts up on fs.
// Verdicts are colored unless noColor is set.
func New(out io.Writer, fs afero.Fs, noColor bool) *Reporter {
	r := &Reporter{
		out:   out,
		files: &storage.FSPersister{Fs: fs},
	}
	if !noColor {
		r.theme = &theme{
			pass:  newColor(color.FgGreen),
			fail:  newColor(color.FgRed),
			err:   newColor(color.FgYellow),
			faint: newColor(color.Faint),
		}
	}
	return r
}

// newColor returns the requested color with the given attributes.
func newColor(attributes ...color.Attribute) *color.Color {
	c := color.New(attributes...)
	c.EnableColor()
	return c
}

func (r *Reporter) paint(c func(*theme) *color.Color, s string) string {
	if r.theme == nil {
		return s
	}
	return c(r.theme).Sprint(s)
}

func (r *Reporter) passed(s string) string {
	return r.paint(func(t *theme) *color.Color { return t.pass }, s)
}

func (r *Reporter) failed(s string) string {
	return r.paint(func(t *theme) *color.Color { return t.fail }, s)
}

func (r *Reporter) errored(s string) string {
	return r.paint(func(t *theme) *color.Color { return t.err }, s)
}

func (r *Reporter) faint(s string) string {
	return r.paint(func(t *theme) *color.Color { return t.faint }, s)
}

// Report prints res and verifies its screenshot is on disk. A missing or
// unwritten screenshot is returned as *storage.ArtifactWriteError; it is
// reported apart from the scenario's outcome.
func (r *Reporter) Report(res *scenario.Result) error {
	var b strings.Builder

	for _, st := range res.Steps {
		if st.Err != nil {
			fmt.Fprintf(&b, "  %s step %d (%s): %v\n", r.errored("ERROR"), st.Index, st.Description, st.Err)
		}
	}
	for _, a := range res.Assertions {
		switch {
		case a.Err != nil:
			fmt.Fprintf(&b, "  %s %s: %v\n", r.errored("ERROR"), a.Name, a.Err)
		case a.Passed:
			fmt.Fprintf(&b, "  %s %s\n", r.passed("PASS"), a.Name)
		default:
			fmt.Fprintf(&b, "  %s %s is not visible\n", r.failed("FAIL"), a.Name)
		}
	}

	name := res.Scenario
	if res.Suite != "" && res.Suite != res.Scenario {
		name = res.Suite + "/" + res.Scenario
	}
	elapsed := r.faint(fmt.Sprintf("(%s)", res.Duration.Round(time.Millisecond)))
	if res.Passed() {
		fmt.Fprintf(&b, "%s %s %s\n", r.passed("PASS"), name, elapsed)
	} else {
		fmt.Fprintf(&b, "%s %s %s: %s\n", r.failed("FAIL"), name, elapsed, res.Reason)
	}

	artifactErr := r.checkArtifact(res)
	switch {
	case artifactErr != nil:
		fmt.Fprintf(&b, "  %s screenshot: %v\n", r.errored("ERROR"), artifactErr)
	case res.ArtifactPath != "":
		fmt.Fprintf(&b, "  %s\n", r.faint("screenshot: "+res.ArtifactPath))
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, err := io.WriteString(r.out, b.String()); err != nil {
		return fmt.Errorf("writing report: %w", err)
	}

	return artifactErr
}

// checkArtifact returns why the screenshot of res is not on disk. A result
// without an artifact path never reached a page and is not checked.
func (r *Reporter) checkArtifact(res *scenario.Result) error {
	if res.ArtifactPath == "" {
		return nil
	}
	if res.ArtifactErr != nil {
		var awe *storage.ArtifactWriteError
		if errors.As(res.ArtifactErr, &awe) {
			return awe
		}
		return storage.NewArtifactWriteError(res.ArtifactPath, res.ArtifactErr)
	}

	ok, err := r.files.Exists(res.ArtifactPath)
	if err != nil {
		return storage.NewArtifactWriteError(res.ArtifactPath, err)
	}
	if !ok {
		return storage.NewArtifactWriteError(res.ArtifactPath, errArtifactMissing)
	}
	return nil
}

// Totals counts results by verdict.
type Totals struct {
	Passed          int
	Failed          int
	MissingArtifact int
}

// OK reports whether every scenario passed with its artifact on disk.
func (t Totals) OK() bool {
	return t.Failed == 0 && t.MissingArtifact == 0
}

// Summary prints the totals of results and returns them.
func (r *Reporter) Summary(results []*scenario.Result) Totals {
	var t Totals
	for _, res := range results {
		if res.Passed() {
			t.Passed++
		} else {
			t.Failed++
		}
		if r.checkArtifact(res) != nil {
			t.MissingArtifact++
		}
	}

	verdict := r.passed("OK")
	if !t.OK() {
		verdict = r.failed("FAILED")
	}
	line := fmt.Sprintf("\n%s %d scenarios: %d passed, %d failed", verdict, len(results), t.Passed, t.Failed)
	if t.MissingArtifact > 0 {
		line += fmt.Sprintf(", %d missing screenshots", t.MissingArtifact)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	_, _ = io.WriteString(r.out, line+"\n")

	return t
}
