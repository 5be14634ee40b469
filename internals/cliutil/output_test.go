package cliutil

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/civ-ci/civ/internals/schemas"
)

func testPrinter(asJSON bool) (*Printer, *bytes.Buffer) {
	var out bytes.Buffer
	p := NewPrinter(&out, asJSON)
	p.now = func() time.Time { return time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC) }
	return p, &out
}

func TestPrinterBuildsTable(t *testing.T) {
	p, out := testPrinter(false)
	err := p.Builds(&schemas.BuildListResponse{Builds: []schemas.BuildResponse{
		{ID: 1, JobName: "smoke-test", BuildNumber: 1234, Status: schemas.BuildStatusSuccess, StartTime: "2024-01-01T11:00:00Z", DurationMs: 65000},
		{ID: 2, JobName: "team/deploy", BuildNumber: schemas.NoBuildNumber, Status: schemas.BuildStatusError},
	}})
	if err != nil {
		t.Fatalf("Builds: %v", err)
	}

	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	if len(lines) != 3 {
		t.Fatalf("expected header and two rows, got %q", out.String())
	}
	if strings.Contains(out.String(), "\x1b") {
		t.Fatal("expected no escapes when not writing to a terminal")
	}
	for _, want := range []string{"#1,234", "SUCCESS", "1 hour ago", "1m5s"} {
		if !strings.Contains(lines[1], want) {
			t.Fatalf("expected %q in %q", want, lines[1])
		}
	}
	if !strings.Contains(lines[2], "ERROR") || !strings.Contains(lines[2], " - ") {
		t.Fatalf("expected error row without number, got %q", lines[2])
	}
	if strings.Index(lines[0], "STATUS") != strings.Index(lines[1], "SUCCESS") {
		t.Fatalf("expected aligned columns:\n%s", out.String())
	}
}

func TestPrinterTaskDetails(t *testing.T) {
	p, out := testPrinter(false)
	err := p.Task(&schemas.TaskResponse{
		ID:         "t-1",
		Title:      "nightly",
		JobName:    "smoke-test",
		Origin:     schemas.OriginAPI,
		Parameters: map[string]string{"branch": "main", "arch": "arm64"},
		CreatedAt:  "2024-01-01T11:59:00Z",
	})
	if err != nil {
		t.Fatalf("Task: %v", err)
	}
	got := out.String()
	for _, want := range []string{"id: t-1", "job: smoke-test", "1 minute ago", "  arch=arm64\n  branch=main", "builds: 0"} {
		if !strings.Contains(got, want) {
			t.Fatalf("expected %q in:\n%s", want, got)
		}
	}
}

func TestPrinterJSON(t *testing.T) {
	p, out := testPrinter(true)
	if err := p.Jobs(&schemas.JobListResponse{Jobs: []schemas.JobResponse{{Name: "smoke-test", LastBuildNumber: 3}}}); err != nil {
		t.Fatalf("Jobs: %v", err)
	}
	var decoded schemas.JobListResponse
	if err := json.Unmarshal(out.Bytes(), &decoded); err != nil {
		t.Fatalf("expected JSON output, got %q: %v", out.String(), err)
	}
	if len(decoded.Jobs) != 1 || decoded.Jobs[0].LastBuildNumber != 3 {
		t.Fatalf("unexpected jobs %+v", decoded.Jobs)
	}
}

func TestPrinterEmptyLists(t *testing.T) {
	p, out := testPrinter(false)
	_ = p.Tasks(&schemas.TaskListResponse{})
	_ = p.Builds(&schemas.BuildListResponse{})
	_ = p.Stages(&schemas.StageListResponse{})
	if got := out.String(); got != "no tasks\nno builds\nno stages\n" {
		t.Fatalf("unexpected output %q", got)
	}
}

func TestFormatDuration(t *testing.T) {
	cases := map[int64]string{0: "-", 250: "250ms", 65400: "1m5s", 3600000: "1h0m0s"}
	for ms, want := range cases {
		if got := formatDuration(ms); got != want {
			t.Fatalf("formatDuration(%d) = %q, want %q", ms, got, want)
		}
	}
}
