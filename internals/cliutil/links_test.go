package cliutil

import (
	"os/exec"
	"testing"
)

func clearTermEnv(t *testing.T) {
	t.Helper()
	t.Setenv("TERM", "")
	for _, key := range hyperlinkTerminals {
		t.Setenv(key, "")
	}
}

func TestSupportsHyperlinks(t *testing.T) {
	clearTermEnv(t)
	t.Setenv("TERM", "dumb")
	if SupportsHyperlinks() {
		t.Fatalf("expected hyperlinks unsupported for dumb term")
	}

	clearTermEnv(t)
	t.Setenv("TERM", "alacritty")
	t.Setenv("TERM_PROGRAM", "iTerm")
	if SupportsHyperlinks() {
		t.Fatalf("expected hyperlinks unsupported for alacritty")
	}

	clearTermEnv(t)
	t.Setenv("TERM", "xterm-256color")
	t.Setenv("KITTY_WINDOW_ID", "1")
	if !SupportsHyperlinks() {
		t.Fatalf("expected hyperlinks supported")
	}
}

func TestClickableLink(t *testing.T) {
	if got := ClickableLink("#42", ""); got != "#42" {
		t.Fatalf("expected bare label without url, got %q", got)
	}
	want := "\x1b]8;;http://jenkins/job/a/42/\x1b\\#42\x1b]8;;\x1b\\"
	if got := ClickableLink("#42", "http://jenkins/job/a/42/"); got != want {
		t.Fatalf("unexpected link %q", got)
	}
}

func TestOpenURL(t *testing.T) {
	if err := OpenURL(""); err == nil {
		t.Fatalf("expected error for empty url")
	}

	originalExec := ExecCommand
	originalGOOS := RuntimeGOOS
	t.Cleanup(func() {
		ExecCommand = originalExec
		RuntimeGOOS = originalGOOS
	})

	RuntimeGOOS = "plan9"
	if err := OpenURL("http://jenkins/job/a/42/"); err == nil {
		t.Fatalf("expected error for unsupported platform")
	}

	RuntimeGOOS = "linux"
	var gotName string
	var gotArgs []string
	ExecCommand = func(name string, args ...string) *exec.Cmd {
		gotName = name
		gotArgs = append([]string(nil), args...)
		return exec.Command("sh", "-c", "true")
	}
	if err := OpenURL("http://jenkins/job/a/42/"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if gotName != "xdg-open" || len(gotArgs) != 1 || gotArgs[0] != "http://jenkins/job/a/42/" {
		t.Fatalf("unexpected command %s %v", gotName, gotArgs)
	}
}
