package report

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
	"time"
)

func TestBuild_Serialized(t *testing.T) {
	calls := []Call{{Elapsed: 9.02}, {Elapsed: 3.01}, {Elapsed: 6.01}}

	r := Build("http://localhost:8000", calls, 9100*time.Millisecond, 3*time.Second, 250*time.Millisecond)

	if !r.Serialized {
		t.Errorf("Expected serialized, violations: %+v", r.Violations)
	}
	if r.Calls[0].Elapsed != 3.01 || r.Calls[2].Elapsed != 9.02 {
		t.Errorf("Calls not ranked by elapsed: %+v", r.Calls)
	}
}

func TestBuild_Parallel(t *testing.T) {
	// A server without the gate answers everyone after one unit
	calls := []Call{{Elapsed: 3.0}, {Elapsed: 3.0}, {Elapsed: 3.01}}

	r := Build("x", calls, 3*time.Second, 3*time.Second, 250*time.Millisecond)

	if r.Serialized {
		t.Error("Expected a parallel run to be flagged")
	}
	if len(r.Violations) != 2 || r.Violations[0].Rank != 2 {
		t.Errorf("Unexpected violations %+v", r.Violations)
	}
}

func TestBuild_EstimatesUnitAndKeepsFailures(t *testing.T) {
	calls := []Call{{Error: "connection refused"}, {Elapsed: 0.2}, {Elapsed: 0.1}}

	r := Build("x", calls, 200*time.Millisecond, 0, 20*time.Millisecond)

	if r.Unit != 0.1 {
		t.Errorf("Expected unit estimated as 0.1, got %v", r.Unit)
	}
	if r.Failed != 1 || r.Calls[2].Error == "" {
		t.Errorf("Expected the failed call last, got %+v", r.Calls)
	}
	if len(r.Violations) != 0 {
		t.Errorf("Expected the successful calls to line up, violations: %+v", r.Violations)
	}
	if r.Serialized {
		t.Error("A failed call should fail the check")
	}
}

func TestBuild_FailedCallsFailTheCheck(t *testing.T) {
	calls := []Call{{Elapsed: 0.1}, {Error: "unexpected status 500"}, {Error: "connection refused"}}

	r := Build("x", calls, 100*time.Millisecond, 100*time.Millisecond, 50*time.Millisecond)

	if r.Failed != 2 {
		t.Errorf("Expected 2 failed calls, got %d", r.Failed)
	}
	if r.Serialized {
		t.Error("Expected a burst with failed calls not to pass")
	}

	var buf bytes.Buffer
	if err := r.Write(&buf, "table"); err != nil {
		t.Fatalf("Write failed: %v", err)
	}
	if !strings.Contains(buf.String(), "NOT SERIALIZED") {
		t.Errorf("Expected a failing verdict:\n%s", buf.String())
	}
}

func TestBuild_WallTime(t *testing.T) {
	calls := []Call{{Elapsed: 0.1}, {Elapsed: 0.2}}

	tests := []struct {
		name string
		wall time.Duration
		want bool
	}{
		{"about two units", 210 * time.Millisecond, true},
		{"too short", 100 * time.Millisecond, false},
		{"too long", 400 * time.Millisecond, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := Build("x", calls, tt.wall, 100*time.Millisecond, 50*time.Millisecond)
			if r.WallOK != tt.want || r.Serialized != tt.want {
				t.Errorf("wall %v: WallOK=%v Serialized=%v, want %v", tt.wall, r.WallOK, r.Serialized, tt.want)
			}
			if r.WallWant != 0.2 {
				t.Errorf("Expected 0.2s expected wall time, got %v", r.WallWant)
			}
		})
	}
}

func TestWrite(t *testing.T) {
	r := Build("x", []Call{{Elapsed: 1}, {Elapsed: 2}}, 2*time.Second, time.Second, 100*time.Millisecond)

	t.Run("json", func(t *testing.T) {
		var buf bytes.Buffer
		if err := r.Write(&buf, "json"); err != nil {
			t.Fatalf("Write failed: %v", err)
		}
		var back Report
		if err := json.Unmarshal(buf.Bytes(), &back); err != nil {
			t.Fatalf("Invalid JSON: %v", err)
		}
		if !back.Serialized || len(back.Calls) != 2 {
			t.Errorf("Unexpected report %+v", back)
		}
	})

	t.Run("yaml", func(t *testing.T) {
		var buf bytes.Buffer
		if err := r.Write(&buf, "yaml"); err != nil {
			t.Fatalf("Write failed: %v", err)
		}
		if !strings.Contains(buf.String(), "serialized: true") {
			t.Errorf("Unexpected YAML:\n%s", buf.String())
		}
	})

	t.Run("table", func(t *testing.T) {
		var buf bytes.Buffer
		if err := r.Write(&buf, "table"); err != nil {
			t.Fatalf("Write failed: %v", err)
		}
		if !strings.Contains(buf.String(), "SERIALIZED") {
			t.Errorf("Expected verdict in table output:\n%s", buf.String())
		}
	})

	t.Run("unknown", func(t *testing.T) {
		if err := r.Write(&bytes.Buffer{}, "xml"); err == nil {
			t.Error("Expected an error for an unknown format")
		}
	})
}
