package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/civ-ci/civ/civd/server"
	"github.com/civ-ci/civ/internals/timeouts"
	"github.com/civ-ci/civ/internals/version"
	"github.com/civ-ci/civ/sdk"
)

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the civ daemon in the foreground",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			srv := server.New()
			defer srv.Base.Close()
			return srv.Start(ctx)
		},
	}
}

func newStopCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "stop",
		Short: "Stop the running daemon",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			client := opts.client()
			if !sdk.IsRunning(client.BaseURL()) {
				fmt.Fprintln(cmd.OutOrStdout(), "daemon not running")
				return nil
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), timeouts.SDKRequest)
			defer cancel()
			if err := client.Shutdown(ctx); err != nil {
				return err
			}
			if !sdk.WaitForStop(ctx, client.BaseURL(), timeouts.ServerShutdown) {
				return fmt.Errorf("daemon at %s did not stop", client.BaseURL())
			}
			fmt.Fprintln(cmd.OutOrStdout(), "daemon stopped")
			return nil
		},
	}
}

func newVersionCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the client and daemon versions",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "civ %s\n", version.String())
			if builtAt := version.Get().BuiltAt; builtAt != "" {
				fmt.Fprintf(out, "built %s\n", builtAt)
			}

			client := opts.client()
			ctx, cancel := context.WithTimeout(cmd.Context(), timeouts.Probe)
			defer cancel()
			remote, err := client.Version(ctx)
			if err != nil {
				fmt.Fprintf(out, "daemon not running at %s\n", client.BaseURL())
				return nil
			}
			fmt.Fprintf(out, "daemon %s at %s\n", remote, client.BaseURL())
			return nil
		},
	}
}
