package report

import (
	"encoding/json"
	"fmt"
	"io"
	"math"
	"sort"
	"time"

	"github.com/olekukonko/tablewriter"
	"gopkg.in/yaml.v3"
)

// Call is one probe request as seen by the client
type Call struct {
	Elapsed float64 `json:"elapsed" yaml:"elapsed"` // as reported by the server
	Error   string  `json:"error,omitempty" yaml:"error,omitempty"`
}

// Violation is a call whose elapsed time is off from its serialized slot
type Violation struct {
	Rank     int     `json:"rank" yaml:"rank"`
	Expected float64 `json:"expected" yaml:"expected"`
	Elapsed  float64 `json:"elapsed" yaml:"elapsed"`
}

// Report summarizes a burst of concurrent calls. Successful calls are ranked
// by elapsed time; with a serializing server the k-th one should report
// about k times the unit duration, and the whole burst should take about
// n units of wall time. Any failed call fails the check.
type Report struct {
	Target      string      `json:"target" yaml:"target"`
	Concurrency int         `json:"concurrency" yaml:"concurrency"`
	Unit        float64     `json:"unit_seconds" yaml:"unit_seconds"`
	Tolerance   float64     `json:"tolerance_seconds" yaml:"tolerance_seconds"`
	WallTime    float64     `json:"wall_seconds" yaml:"wall_seconds"`
	WallWant    float64     `json:"wall_expected_seconds" yaml:"wall_expected_seconds"`
	WallOK      bool        `json:"wall_ok" yaml:"wall_ok"`
	Calls       []Call      `json:"calls" yaml:"calls"`
	Failed      int         `json:"failed" yaml:"failed"`
	Serialized  bool        `json:"serialized" yaml:"serialized"`
	Violations  []Violation `json:"violations,omitempty" yaml:"violations,omitempty"`
}

// Build ranks calls and checks them against unit. A zero unit is estimated
// from the fastest successful call.
func Build(target string, calls []Call, wall, unit, tolerance time.Duration) *Report {
	r := &Report{
		Target:      target,
		Concurrency: len(calls),
		Unit:        unit.Seconds(),
		Tolerance:   tolerance.Seconds(),
		WallTime:    wall.Seconds(),
	}

	var ok, failed []Call
	for _, c := range calls {
		if c.Error != "" {
			failed = append(failed, c)
		} else {
			ok = append(ok, c)
		}
	}
	sort.Slice(ok, func(i, j int) bool { return ok[i].Elapsed < ok[j].Elapsed })

	r.Calls = append(ok, failed...)
	r.Failed = len(failed)

	if r.Unit == 0 && len(ok) > 0 {
		r.Unit = ok[0].Elapsed
	}

	for i, c := range ok {
		expected := float64(i+1) * r.Unit
		if math.Abs(c.Elapsed-expected) > r.Tolerance {
			r.Violations = append(r.Violations, Violation{Rank: i + 1, Expected: expected, Elapsed: c.Elapsed})
		}
	}
	r.WallWant = float64(len(ok)) * r.Unit
	r.WallOK = math.Abs(r.WallTime-r.WallWant) <= r.Tolerance

	r.Serialized = r.Failed == 0 && len(ok) > 0 && len(r.Violations) == 0 && r.WallOK

	return r
}

// Write renders the report as "table", "json" or "yaml"
func (r *Report) Write(w io.Writer, format string) error {
	switch format {
	case "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(r)
	case "yaml":
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		defer enc.Close()
		return enc.Encode(r)
	case "table", "":
		return r.writeTable(w)
	default:
		return fmt.Errorf("unknown output format %q", format)
	}
}

func (r *Report) writeTable(w io.Writer) error {
	table := tablewriter.NewWriter(w)
	table.Header("Rank", "Elapsed", "Expected", "Status")

	for i, c := range r.Calls {
		if c.Error != "" {
			table.Append("-", "-", "-", "FAILED: "+c.Error)
			continue
		}
		expected := float64(i+1) * r.Unit
		status := "ok"
		if math.Abs(c.Elapsed-expected) > r.Tolerance {
			status = "OFF"
		}
		table.Append(
			fmt.Sprintf("%d", i+1),
			fmt.Sprintf("%.3fs", c.Elapsed),
			fmt.Sprintf("%.3fs", expected),
			status,
		)
	}
	if err := table.Render(); err != nil {
		return err
	}

	verdict := "SERIALIZED"
	if !r.Serialized {
		verdict = "NOT SERIALIZED"
	}
	wall := "ok"
	if !r.WallOK {
		wall = "OFF"
	}
	_, err := fmt.Fprintf(w, "\n%s: %d calls (%d failed) in %.3fs wall time (expected %.3fs, %s), unit %.3fs ± %.3fs\n",
		verdict, r.Concurrency, r.Failed, r.WallTime, r.WallWant, wall, r.Unit, r.Tolerance)
	return err
}
