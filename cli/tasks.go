package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/civ-ci/civ/internals/schemas"
	"github.com/civ-ci/civ/internals/timeouts"
	"github.com/civ-ci/civ/sdk"
)

func newTaskCmd(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "task",
		Short: "Inspect and manage tasks",
	}
	cmd.AddCommand(
		newTaskListCmd(opts),
		newTaskShowCmd(opts),
		newTaskRenameCmd(opts),
		newTaskRetriggerCmd(opts),
		newTaskDeleteCmd(opts),
	)
	return cmd
}

func newTaskListCmd(opts *rootOptions) *cobra.Command {
	var list sdk.ListTasksOptions
	cmd := &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "List tasks, newest first",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := opts.connect()
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), timeouts.SDKRequest)
			defer cancel()
			response, err := client.ListTasks(ctx, list)
			if err != nil {
				return err
			}
			return opts.printer(cmd).Tasks(response)
		},
	}
	flags := cmd.Flags()
	flags.StringVar(&list.Title, "title", "", "only tasks whose title contains this")
	flags.StringVar(&list.User, "user", "", "only tasks requested by this user")
	flags.IntVar(&list.Limit, "limit", 20, "maximum number of tasks")
	flags.IntVar(&list.Offset, "offset", 0, "number of tasks to skip")
	return cmd
}

func newTaskShowCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "show <task-id>",
		Short: "Show a task and its builds",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := opts.connect()
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), timeouts.SDKRequest)
			defer cancel()
			task, err := client.GetTask(ctx, args[0])
			if err != nil {
				return err
			}
			return opts.printer(cmd).Task(task)
		},
	}
}

func newTaskRenameCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "rename <task-id> <title>",
		Short: "Change the title of a task",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := opts.connect()
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), timeouts.SDKRequest)
			defer cancel()
			title := args[1]
			task, err := client.UpdateTask(ctx, args[0], schemas.TaskUpdateRequest{Title: &title})
			if err != nil {
				return err
			}
			return opts.printer(cmd).Task(task)
		},
	}
}

func newTaskRetriggerCmd(opts *rootOptions) *cobra.Command {
	var wait bool
	var waitTimeout string
	var open bool
	cmd := &cobra.Command{
		Use:   "retrigger <task-id>",
		Short: "Trigger the job of a task again",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := opts.connect()
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), timeouts.SDKRequest)
			defer cancel()

			known := 0
			if wait {
				task, err := client.GetTask(ctx, args[0])
				if err != nil {
					return err
				}
				known = len(task.Builds)
			}
			response, err := client.RetriggerTask(ctx, args[0])
			if err != nil {
				return err
			}
			printer := opts.printer(cmd)
			if !wait {
				return printer.TaskTriggered(response)
			}
			if !printer.JSON {
				_ = printer.TaskTriggered(response)
			}
			return waitAndPrint(cmd, opts, client, response.Task.ID, known, waitTimeout, open)
		},
	}
	cmd.Flags().BoolVarP(&wait, "wait", "w", false, "wait until the new build is recorded")
	cmd.Flags().StringVar(&waitTimeout, "wait-timeout", "10m", "how long --wait waits")
	cmd.Flags().BoolVar(&open, "open", false, "open the build in a browser once it is recorded")
	return cmd
}

func newTaskDeleteCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:     "rm <task-id>",
		Aliases: []string{"delete"},
		Short:   "Delete a task and all of its builds",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := opts.connect()
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), timeouts.SDKRequest)
			defer cancel()
			if err := client.DeleteTask(ctx, args[0]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "deleted task %s\n", args[0])
			return nil
		},
	}
}
