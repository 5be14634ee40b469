package cli

import (
	"context"
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/civ-ci/civ/internals/cliutil"
	"github.com/civ-ci/civ/internals/timeouts"
	"github.com/civ-ci/civ/sdk"
)

func newBuildsCmd(opts *rootOptions) *cobra.Command {
	var list sdk.ListBuildsOptions
	var failed, succeeded bool
	cmd := &cobra.Command{
		Use:   "builds",
		Short: "List recorded builds, most recent first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			switch {
			case failed && succeeded:
				return fmt.Errorf("--failed and --succeeded cannot be combined")
			case failed:
				list.Result = "failure"
			case succeeded:
				list.Result = "success"
			}
			client, err := opts.connect()
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), timeouts.SDKRequest)
			defer cancel()
			response, err := client.ListBuilds(ctx, list)
			if err != nil {
				return err
			}
			return opts.printer(cmd).Builds(response)
		},
	}
	flags := cmd.Flags()
	flags.StringVarP(&list.Job, "job", "j", "", "only builds of this job")
	flags.StringVar(&list.Status, "status", "", "only builds with this status")
	flags.StringVarP(&list.Branch, "branch", "b", "", "only builds whose branch parameter matches")
	flags.StringVar(&list.Since, "since", "", "only builds started after this time or duration ago")
	flags.BoolVar(&failed, "failed", false, "only builds that did not succeed")
	flags.BoolVar(&succeeded, "succeeded", false, "only successful builds")
	flags.IntVar(&list.Limit, "limit", 20, "maximum number of builds")
	flags.IntVar(&list.Offset, "offset", 0, "number of builds to skip")
	return cmd
}

func newBuildCmd(opts *rootOptions) *cobra.Command {
	var stages, open bool
	cmd := &cobra.Command{
		Use:   "build <build-id>",
		Short: "Show one build",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseBuildID(args[0])
			if err != nil {
				return err
			}
			client, err := opts.connect()
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), timeouts.SDKRequest)
			defer cancel()

			printer := opts.printer(cmd)
			if stages {
				response, err := client.BuildStages(ctx, id)
				if err != nil {
					return err
				}
				return printer.Stages(response)
			}
			build, err := client.GetBuild(ctx, id)
			if err != nil {
				return err
			}
			if open {
				if build.URL == "" {
					return fmt.Errorf("build %d never started on Jenkins", id)
				}
				return cliutil.OpenURL(build.URL)
			}
			return printer.Build(build)
		},
	}
	cmd.Flags().BoolVar(&stages, "stages", false, "show the live pipeline stages instead")
	cmd.Flags().BoolVar(&open, "open", false, "open the build in a browser")
	return cmd
}

func newLogCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "log <build-id> <stage-id>",
		Short: "Print the log of a pipeline stage",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseBuildID(args[0])
			if err != nil {
				return err
			}
			client, err := opts.connect()
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), timeouts.SDKRequest)
			defer cancel()
			text, err := client.StageLog(ctx, id, args[1])
			if err != nil {
				return err
			}
			_, err = fmt.Fprint(cmd.OutOrStdout(), text)
			return err
		},
	}
}

func newJobsCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "jobs",
		Short: "List the Jenkins jobs civ has seen builds of",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := opts.connect()
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), timeouts.SDKRequest)
			defer cancel()
			response, err := client.ListJobs(ctx)
			if err != nil {
				return err
			}
			return opts.printer(cmd).Jobs(response)
		},
	}
}

func newJobCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "job <name>",
		Short: "Show a job and its latest build",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := opts.connect()
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), timeouts.SDKRequest)
			defer cancel()
			job, err := client.GetJob(ctx, args[0])
			if err != nil {
				return err
			}
			return opts.printer(cmd).Job(job)
		},
	}
}

func parseBuildID(raw string) (int64, error) {
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("build id must be a positive integer: %q", raw)
	}
	return id, nil
}
