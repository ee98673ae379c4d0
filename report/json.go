package report

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"gopkg.in/guregu/null.v3"

	"github.com/torwell84/torwell-verify/scenario"
	"github.com/torwell84/torwell-verify/storage"
)

// SummaryFile is the name of the machine-readable summary in the artifact
// directory.
const SummaryFile = "summary.json"

type stepJSON struct {
	Index       int         `json:"index"`
	Description string      `json:"description"`
	Error       null.String `json:"error"`
	DurationMs  int64       `json:"durationMs"`
}

type assertionJSON struct {
	Name     string      `json:"name"`
	Selector string      `json:"selector"`
	Passed   bool        `json:"passed"`
	Error    null.String `json:"error"`
}

type resultJSON struct {
	Suite         string          `json:"suite"`
	Scenario      string          `json:"scenario"`
	URL           string          `json:"url"`
	Outcome       string          `json:"outcome"`
	Reason        null.String     `json:"reason"`
	Error         null.String     `json:"error"`
	Steps         []stepJSON      `json:"steps"`
	Assertions    []assertionJSON `json:"assertions"`
	Artifact      null.String     `json:"artifact"`
	ArtifactError null.String     `json:"artifactError"`
	StartedAt     null.Time       `json:"startedAt"`
	DurationMs    int64           `json:"durationMs"`
}

type summaryJSON struct {
	MeasuredAt time.Time    `json:"measuredAt"`
	Passed     int          `json:"passed"`
	Failed     int          `json:"failed"`
	Results    []resultJSON `json:"results"`
}

func errString(err error) null.String {
	if err == nil {
		return null.String{}
	}
	return null.StringFrom(err.Error())
}

func optString(s string) null.String {
	return null.NewString(s, s != "")
}

func toJSON(res *scenario.Result) resultJSON {
	out := resultJSON{
		Suite:         res.Suite,
		Scenario:      res.Scenario,
		URL:           res.URL,
		Outcome:       string(res.Outcome),
		Reason:        optString(res.Reason),
		Error:         errString(res.Err),
		Steps:         make([]stepJSON, 0, len(res.Steps)),
		Assertions:    make([]assertionJSON, 0, len(res.Assertions)),
		Artifact:      optString(res.ArtifactPath),
		ArtifactError: errString(res.ArtifactErr),
		StartedAt:     null.NewTime(res.Start, !res.Start.IsZero()),
		DurationMs:    res.Duration.Milliseconds(),
	}
	for _, st := range res.Steps {
		out.Steps = append(out.Steps, stepJSON{
			Index:       st.Index,
			Description: st.Description,
			Error:       errString(st.Err),
			DurationMs:  st.Duration.Milliseconds(),
		})
	}
	for _, a := range res.Assertions {
		out.Assertions = append(out.Assertions, assertionJSON{
			Name:     a.Name,
			Selector: a.Selector,
			Passed:   a.Passed,
			Error:    errString(a.Err),
		})
	}
	return out
}

// MarshalResults encodes results as an indented JSON summary measured at
// now.
func MarshalResults(results []*scenario.Result, now time.Time) ([]byte, error) {
	s := summaryJSON{
		MeasuredAt: now.UTC(),
		Results:    make([]resultJSON, 0, len(results)),
	}
	for _, res := range results {
		if res.Passed() {
			s.Passed++
		} else {
			s.Failed++
		}
		s.Results = append(s.Results, toJSON(res))
	}

	buf, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encoding summary: %w", err)
	}
	return append(buf, '\n'), nil
}

// WriteJSON persists the JSON summary of results to path.
func WriteJSON(ctx context.Context, p storage.Persister, path string, results []*scenario.Result) error {
	buf, err := MarshalResults(results, time.Now())
	if err != nil {
		return err
	}
	return p.Persist(ctx, path, bytes.NewReader(buf))
}
