package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	z "github.com/Oudwins/zog"
	"github.com/spf13/cobra"

	"github.com/civ-ci/civ/internals/cliutil"
	"github.com/civ-ci/civ/internals/schemas"
	"github.com/civ-ci/civ/internals/timeouts"
	"github.com/civ-ci/civ/sdk"
)

// ErrBuildFailed is returned by --wait when the build did not succeed.
var ErrBuildFailed = errors.New("build did not succeed")

type TriggerArgs struct {
	JobName     string         `zog:"jobName"`
	Title       string         `zog:"title"`
	User        string         `zog:"user"`
	Origin      schemas.Origin `zog:"origin"`
	Params      []string
	Wait        bool   `zog:"wait"`
	WaitTimeout string `zog:"waitTimeout"`
	Open        bool   `zog:"open"`
}

var triggerArgsSchema = z.Struct(z.Shape{
	"JobName":     schemas.JobNameSchema,
	"Title":       z.String().Optional().Trim(),
	"User":        z.String().Optional().Trim(),
	"Origin":      z.StringLike[schemas.Origin]().Default(schemas.OriginManual).OneOf(schemas.Origins()),
	"WaitTimeout": z.String().Default("10m").Trim().TestFunc(isDuration, z.Message("must be a duration such as 30s or 10m")),
})

func isDuration(val *string, ctx z.Ctx) bool {
	d, err := time.ParseDuration(*val)
	return err == nil && d > 0
}

func validateTriggerArgs(args *TriggerArgs) error {
	if issues := triggerArgsSchema.Validate(args); len(issues) > 0 {
		return fmt.Errorf("invalid arguments:\n%s", z.Issues.Prettify(issues))
	}
	return nil
}

func newTriggerCmd(opts *rootOptions) *cobra.Command {
	args := TriggerArgs{User: os.Getenv("USER")}
	cmd := &cobra.Command{
		Use:   "trigger <job>",
		Short: "Trigger a Jenkins job and record its build",
		Long: "Creates a task for the job and queues its trigger. The build shows up on the\n" +
			"task once Jenkins has started it. Folder jobs are written as team/deploy.",
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, positional []string) error {
			args.JobName = positional[0]
			if err := validateTriggerArgs(&args); err != nil {
				return err
			}
			params, err := cliutil.ParseParams(args.Params)
			if err != nil {
				return err
			}

			client, err := opts.connect()
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), timeouts.SDKRequest)
			defer cancel()
			response, err := client.CreateTask(ctx, schemas.TaskCreateRequest{
				Title:      args.Title,
				JobName:    args.JobName,
				Parameters: params,
				User:       args.User,
				Origin:     args.Origin,
			})
			if err != nil {
				return err
			}

			printer := opts.printer(cmd)
			if !args.Wait {
				return printer.TaskTriggered(response)
			}
			if !printer.JSON {
				_ = printer.TaskTriggered(response)
			}
			return waitAndPrint(cmd, opts, client, response.Task.ID, 0, args.WaitTimeout, args.Open)
		},
	}
	flags := cmd.Flags()
	flags.StringVar(&args.Title, "title", "", "task title, defaults to the job name")
	flags.StringVar(&args.User, "user", args.User, "who asked for the trigger")
	flags.StringVar((*string)(&args.Origin), "origin", "", "manual, api or upstream-callback")
	flags.StringArrayVarP(&args.Params, "param", "p", nil, "job parameter as key=value, repeatable")
	flags.BoolVarP(&args.Wait, "wait", "w", false, "wait until the build is recorded")
	flags.StringVar(&args.WaitTimeout, "wait-timeout", "", "how long --wait waits (default 10m)")
	flags.BoolVar(&args.Open, "open", false, "open the build in a browser once it is recorded")
	return cmd
}

// waitAndPrint waits for the task to record a finished build beyond
// knownBuilds and prints it. A build that did not succeed yields
// ErrBuildFailed.
func waitAndPrint(cmd *cobra.Command, opts *rootOptions, client *sdk.Client, taskID string, knownBuilds int, rawTimeout string, open bool) error {
	timeout, err := time.ParseDuration(rawTimeout)
	if err != nil || timeout <= 0 {
		timeout = 10 * time.Minute
	}
	build, err := client.WaitForBuild(cmd.Context(), taskID, knownBuilds, time.Second, timeout)
	if err != nil {
		if errors.Is(err, sdk.ErrWaitTimeout) {
			return fmt.Errorf("no finished build recorded for task %s after %s", taskID, timeout)
		}
		return err
	}
	if err := opts.printer(cmd).Build(build); err != nil {
		return err
	}
	if open && build.URL != "" {
		if err := cliutil.OpenURL(build.URL); err != nil {
			fmt.Fprintf(cmd.ErrOrStderr(), "could not open browser: %v\n", err)
		}
	}
	if build.Status.Failed() {
		return fmt.Errorf("%w: %s #%s finished with %s", ErrBuildFailed, build.JobName, strconv.FormatInt(build.BuildNumber, 10), build.Status)
	}
	return nil
}

func newCallbackCmd(opts *rootOptions) *cobra.Command {
	var taskID string
	cmd := &cobra.Command{
		Use:   "callback <job> <build-number>",
		Short: "Record a build Jenkins started on its own",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, positional []string) error {
			number, err := strconv.Atoi(positional[1])
			if err != nil {
				return fmt.Errorf("build number must be an integer: %q", positional[1])
			}
			request := schemas.CallbackRequest{JobName: positional[0], BuildNumber: number, TaskID: taskID}
			if issues := schemas.CallbackSchema.Validate(&request); len(issues) > 0 {
				return fmt.Errorf("invalid arguments:\n%s", z.Issues.Prettify(issues))
			}

			client, err := opts.connect()
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), timeouts.SDKRequest)
			defer cancel()
			response, err := client.JenkinsCallback(ctx, request)
			if err != nil {
				return err
			}
			return opts.printer(cmd).TaskTriggered(response)
		},
	}
	cmd.Flags().StringVar(&taskID, "task", "", "record the build on this task instead of a new one")
	return cmd
}
