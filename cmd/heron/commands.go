package main

import (
	"context"
	"fmt"
	"io"
	"sort"
	"text/tabwriter"
	"time"

	"github.com/denismitr/heron"
	"github.com/denismitr/heron/internal/cli"
	"github.com/denismitr/heron/step"
	"github.com/logrusorgru/aurora/v3"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
)

type rootFlags struct {
	config  string
	timeout time.Duration
}

func newRootCmd() *cobra.Command {
	flags := &rootFlags{}

	cmd := &cobra.Command{
		Use:   "heron",
		Short: "Runs versioned data migration steps of an application upgrade",
		Long: `
Runs the pre, post and end phase steps of an upgrade against the database of
the application being upgraded. Every step runs once per module version
transition, its completion is recorded in the database.

The configuration file is yaml, values wrapped in %% are read from the
environment:

  database:
    url: "%%HERON_DATABASE_URL%%"
`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().StringVar(&flags.config, "config", "heron.yaml", "Path to the configuration file")
	cmd.PersistentFlags().DurationVar(&flags.timeout, "timeout", 2*time.Hour, "Maximum duration of the command")

	cmd.AddCommand(
		newInitCmd(flags),
		newRunCmd(flags),
		newStatusCmd(flags),
		newStepsCmd(flags),
		newSetVersionCmd(flags),
		newStepFileCmd(flags),
		newResetCmd(flags),
	)

	return cmd
}

// withApp opens the app for the duration of f, close errors are reported
// unless f failed already
func withApp(flags *rootFlags, f func(ctx context.Context, app *cli.App) error) (err error) {
	app, closer, err := cli.NewFromYaml(flags.config)
	if err != nil {
		return err
	}

	defer func() {
		if closeErr := closer(); closeErr != nil && err == nil {
			err = closeErr
		}
	}()

	ctx, cancel := context.WithTimeout(context.Background(), flags.timeout)
	defer cancel()

	return f(ctx, app)
}

func newInitCmd(flags *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Write a configuration file stub",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := cli.InitCfg(flags.config); err != nil {
				return err
			}

			fmt.Fprintln(cmd.OutOrStdout(), aurora.Green("heron: "), "configuration written to", flags.config)
			return nil
		},
	}
}

func newRunCmd(flags *rootFlags) *cobra.Command {
	var (
		phase       string
		modules     string
		force       bool
		metricsFile string
	)

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the steps of one phase",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(flags, func(ctx context.Context, app *cli.App) error {
				if metricsFile != "" {
					app.SetMetricsTextfile(metricsFile)
				}

				reports, err := app.Run(ctx, cli.ActionConfig{Phase: phase, Modules: modules, Force: force})
				printReports(cmd.OutOrStdout(), reports)
				if err != nil {
					return err
				}

				fmt.Fprintln(cmd.OutOrStdout(), aurora.Green("heron: "), "all done")
				return nil
			})
		},
	}

	cmd.Flags().StringVar(&phase, "phase", "pre", "Phase to run: pre, post or end")
	cmd.Flags().StringVar(&modules, "modules", "", "Comma separated modules to run, all when empty")
	cmd.Flags().BoolVar(&force, "force", false, "Run steps again even if they are recorded as completed")
	cmd.Flags().StringVar(&metricsFile, "metrics-textfile", "", "Write step metrics in the Prometheus text format to this file")

	return cmd
}

func newStatusCmd(flags *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show recorded module versions and completed steps",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(flags, func(ctx context.Context, app *cli.App) error {
				status, err := app.Status(ctx)
				if err != nil {
					return err
				}

				printStatus(cmd.OutOrStdout(), status)
				return nil
			})
		},
	}
}

func newStepsCmd(flags *rootFlags) *cobra.Command {
	var phase, modules string

	cmd := &cobra.Command{
		Use:   "steps",
		Short: "List the registered steps of a phase in execution order",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(flags, func(ctx context.Context, app *cli.App) error {
				steps, err := app.Steps(phase, modules)
				if err != nil {
					return err
				}

				w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
				fmt.Fprintln(w, "MODULE\tFROM\tTO\tPHASE\tNAME")
				for _, s := range steps {
					fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", s.Key.Module, s.Key.From, s.Key.To, s.Key.Phase, s.Name)
				}
				return w.Flush()
			})
		},
	}

	cmd.Flags().StringVar(&phase, "phase", "pre", "Phase to list: pre, post or end")
	cmd.Flags().StringVar(&modules, "modules", "", "Comma separated modules to list, all when empty")

	return cmd
}

func newSetVersionCmd(flags *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "set-version MODULE VERSION",
		Short: "Record the version a module is at",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(flags, func(ctx context.Context, app *cli.App) error {
				return app.SetVersion(ctx, args[0], args[1])
			})
		},
	}
}

func newResetCmd(flags *rootFlags) *cobra.Command {
	var yes bool

	cmd := &cobra.Command{
		Use:   "reset",
		Short: "Drop the completion records so that every step can run again",
		RunE: func(cmd *cobra.Command, args []string) error {
			if !yes {
				return errors.New("reset drops every completion record, confirm with --yes")
			}

			return withApp(flags, func(ctx context.Context, app *cli.App) error {
				return app.Reset(ctx)
			})
		},
	}

	cmd.Flags().BoolVar(&yes, "yes", false, "Confirm dropping the completion records")

	return cmd
}

func newStepFileCmd(flags *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "new MODULE FROM TO PHASE [NAME]",
		Short: "Create an empty sql step file in the steps folder",
		Args:  cobra.RangeArgs(4, 5),
		RunE: func(cmd *cobra.Command, args []string) error {
			phase, err := step.ParsePhase(args[3])
			if err != nil {
				return err
			}

			var name string
			if len(args) == 5 {
				name = args[4]
			}

			return withApp(flags, func(ctx context.Context, app *cli.App) error {
				path, err := app.CreateStepFile(step.Key{Module: args[0], From: args[1], To: args[2], Phase: phase}, name)
				if err != nil {
					return err
				}

				fmt.Fprintln(cmd.OutOrStdout(), aurora.Green("heron: "), "created", path)
				return nil
			})
		},
	}
}

func printReports(out io.Writer, reports heron.Reports) {
	if len(reports) == 0 {
		return
	}

	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "STEP\tNAME\tOUTCOME\tDURATION")
	for _, r := range reports {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", r.Key, r.Name, colorize(r.Outcome), r.Duration.Round(time.Millisecond))
	}
	_ = w.Flush()
}

func printStatus(out io.Writer, status *heron.Status) {
	modules := make([]string, 0, len(status.Versions))
	for m := range status.Versions {
		modules = append(modules, m)
	}
	sort.Strings(modules)

	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "MODULE\tVERSION")
	for _, m := range modules {
		fmt.Fprintf(w, "%s\t%s\n", m, status.Versions[m])
	}

	fmt.Fprintln(w, "\nSTEP\tCOMPLETED AT\tDURATION")
	for _, r := range status.Records {
		fmt.Fprintf(w, "%s\t%s\t%s\n", r.Key, r.CompletedAt.Format(time.RFC3339), r.Duration)
	}
	_ = w.Flush()
}

func colorize(o heron.Outcome) aurora.Value {
	switch o {
	case heron.Executed:
		return aurora.Green(o)
	case heron.Failed:
		return aurora.Red(o)
	default:
		return aurora.Yellow(o)
	}
}
