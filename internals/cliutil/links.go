package cliutil

import (
	"errors"
	"os"
	"os/exec"
	"runtime"
)

var hyperlinkTerminals = []string{
	"WT_SESSION",
	"VTE_VERSION",
	"KONSOLE_VERSION",
	"KITTY_WINDOW_ID",
	"WEZTERM_EXECUTABLE",
	"DOMTERM",
	"TERM_PROGRAM",
}

// SupportsHyperlinks guesses from the environment whether the terminal
// renders OSC 8 links.
func SupportsHyperlinks() bool {
	switch os.Getenv("TERM") {
	case "", "dumb", "alacritty":
		return false
	}
	for _, key := range hyperlinkTerminals {
		if os.Getenv(key) != "" {
			return true
		}
	}
	return false
}

func ClickableLink(label string, url string) string {
	if url == "" {
		return label
	}
	if label == "" {
		label = url
	}
	return "\x1b]8;;" + url + "\x1b\\" + label + "\x1b]8;;\x1b\\"
}

// ExecCommand and RuntimeGOOS are swapped in tests.
var ExecCommand = exec.Command
var RuntimeGOOS = runtime.GOOS

// OpenURL opens a Jenkins page in the default browser.
func OpenURL(url string) error {
	if url == "" {
		return errors.New("url is empty")
	}

	var cmd *exec.Cmd
	switch RuntimeGOOS {
	case "darwin":
		cmd = ExecCommand("open", url)
	case "linux", "freebsd", "openbsd":
		cmd = ExecCommand("xdg-open", url)
	case "windows":
		cmd = ExecCommand("rundll32", "url.dll,FileProtocolHandler", url)
	default:
		return errors.New("unsupported platform")
	}
	return cmd.Start()
}
