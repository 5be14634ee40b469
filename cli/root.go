// Package cli implements the civ command line: the daemon itself (serve) and
// the client commands that talk to it.
package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/civ-ci/civ/internals/cliutil"
	"github.com/civ-ci/civ/internals/version"
	"github.com/civ-ci/civ/sdk"
)

type rootOptions struct {
	json    bool
	baseURL string
}

// ensureDaemon is swapped in tests.
var ensureDaemon = cliutil.EnsureDaemonRunning

func Execute() int {
	cmd := newRootCmd()
	if err := cmd.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, err)
		if errors.Is(err, ErrBuildFailed) {
			return 3
		}
		return 1
	}
	return 0
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	cmd := &cobra.Command{
		Use:           "civ",
		Short:         "Trigger Jenkins jobs and keep track of their builds",
		SilenceUsage:  true,
		SilenceErrors: true,
		Version:       version.String(),
	}
	cmd.PersistentFlags().BoolVar(&opts.json, "json", false, "print responses as JSON")
	cmd.PersistentFlags().StringVar(&opts.baseURL, "url", "", "daemon URL; when set no local daemon is started")

	cmd.AddCommand(
		newServeCmd(),
		newStopCmd(opts),
		newVersionCmd(opts),
		newTriggerCmd(opts),
		newCallbackCmd(opts),
		newTaskCmd(opts),
		newBuildsCmd(opts),
		newBuildCmd(opts),
		newLogCmd(opts),
		newJobsCmd(opts),
		newJobCmd(opts),
	)
	return cmd
}

// client talks to the daemon without starting one.
func (o *rootOptions) client() *sdk.Client {
	if url := strings.TrimSpace(o.baseURL); url != "" {
		return sdk.NewClient(sdk.WithBaseURL(url))
	}
	return sdk.NewClient()
}

// connect returns a client for the daemon, starting a local one unless an
// explicit URL was given.
func (o *rootOptions) connect() (*sdk.Client, error) {
	client := o.client()
	if strings.TrimSpace(o.baseURL) != "" {
		return client, nil
	}
	if err := ensureDaemon(client, version.String()); err != nil {
		return nil, err
	}
	return client, nil
}

func (o *rootOptions) printer(cmd *cobra.Command) *cliutil.Printer {
	return cliutil.NewPrinter(cmd.OutOrStdout(), o.json)
}
