package main

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/destinyhacking/app/backend/internal/models"
)

// newStreakCmd creates the "destiny streak" subcommand.
func newStreakCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "streak",
		Short: "Show current and longest streak",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd.Context(), opts.cfg, func(a *app) error {
				summary, err := a.cycles.Summary(cmd.Context())
				if err != nil {
					return err
				}
				return opts.emit(cmd.OutOrStdout(), summary, func(w io.Writer) {
					fmt.Fprintf(w, "Current streak: %d\n", summary.CurrentStreak)
					fmt.Fprintf(w, "Longest streak: %d\n", summary.LongestStreak)
					if summary.TodayComplete {
						fmt.Fprintf(w, "Today (%s): complete\n", summary.Today)
					} else {
						fmt.Fprintf(w, "Today (%s): open\n", summary.Today)
					}
				})
			})
		},
	}
}

// newGraceCmd creates the "destiny grace" subcommand.
func newGraceCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "grace <YYYY-MM-DD>",
		Short: "Show whether a missed day can still be completed",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), opts.cfg, func(a *app) error {
				status, err := a.cycles.Grace(args[0])
				if err != nil {
					return err
				}
				return opts.emit(cmd.OutOrStdout(), status, func(w io.Writer) {
					if !status.Available {
						fmt.Fprintf(w, "Grace period for %s has expired\n", args[0])
						return
					}
					fmt.Fprintf(w, "Grace period for %s open, %dh remaining\n", args[0], *status.HoursRemaining)
				})
			})
		},
	}
}

// newCycleCmd creates the "destiny cycle" command group.
func newCycleCmd(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cycle",
		Short: "Record daily cycle check-ins",
	}
	cmd.AddCommand(newCycleRecordCmd(opts))
	return cmd
}

// newCycleRecordCmd creates the "destiny cycle record" subcommand.
func newCycleRecordCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "record <YYYY-MM-DD> <morning|midday|evening>",
		Short: "Mark one phase of a day done and queue it",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), opts.cfg, func(a *app) error {
				result, err := a.cycles.RecordPhase(cmd.Context(), args[0], models.CyclePhase(args[1]), nil)
				if err != nil {
					return err
				}
				return opts.emit(cmd.OutOrStdout(), result, func(w io.Writer) {
					state := "in progress"
					if result.Record.IsComplete {
						state = "complete"
					}
					fmt.Fprintf(w, "Recorded %s for %s (%s), queued as id=%d\n", args[1], args[0], state, result.ActionID)
				})
			})
		},
	}
}
