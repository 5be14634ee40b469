package cliutil

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/civ-ci/civ/internals/timeouts"
	"github.com/civ-ci/civ/sdk"
)

// StartCommand builds the command that starts the daemon in the background.
// Tests replace it.
var StartCommand = func() (*exec.Cmd, error) {
	path, err := findServeBinary()
	if err != nil {
		return nil, err
	}
	return exec.Command(path, "serve"), nil
}

// EnsureDaemonRunning makes sure a daemon of localVersion answers on the
// client's base URL, starting one or replacing an outdated one as needed.
func EnsureDaemonRunning(client *sdk.Client, localVersion string) error {
	ctx, cancel := context.WithTimeout(context.Background(), timeouts.Probe)
	defer cancel()

	if version, err := client.Version(ctx); err == nil {
		if strings.TrimSpace(version) == strings.TrimSpace(localVersion) {
			return nil
		}
		return replaceDaemon(client, version)
	}

	if err := StartDaemon(); err != nil {
		return err
	}
	return waitForDaemon(client)
}

func StartDaemon() error {
	cmd, err := StartCommand()
	if err != nil {
		return err
	}
	// The daemon logs to its data dir, so it needs no terminal.
	cmd.Stdout = nil
	cmd.Stderr = nil
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start civ daemon: %w", err)
	}
	return cmd.Process.Release()
}

func waitForDaemon(client *sdk.Client) error {
	if !sdk.WaitForStart(context.Background(), client.BaseURL(), timeouts.DaemonStartWait) {
		return fmt.Errorf("civ daemon did not answer on %s within %s", client.BaseURL(), timeouts.DaemonStartWait)
	}
	return nil
}

func replaceDaemon(client *sdk.Client, remoteVersion string) error {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	remoteVersion = strings.TrimSpace(remoteVersion)
	if err := client.Shutdown(ctx); err != nil {
		if errors.Is(err, sdk.ErrShutdownUnsupported) {
			return fmt.Errorf("civ daemon %s is running; please stop it and retry", remoteVersion)
		}
		return fmt.Errorf("failed to shutdown civ daemon %s: %w", remoteVersion, err)
	}

	if !sdk.WaitForStop(context.Background(), client.BaseURL(), timeouts.ServerShutdown) {
		return fmt.Errorf("civ daemon %s did not stop", remoteVersion)
	}

	if err := StartDaemon(); err != nil {
		return err
	}
	return waitForDaemon(client)
}

func findServeBinary() (string, error) {
	executable, err := os.Executable()
	if err == nil && executable != "" {
		return executable, nil
	}

	path, err := exec.LookPath("civ")
	if err != nil {
		return "", fmt.Errorf("civ not found in PATH")
	}
	return path, nil
}
