package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/destinyhacking/app/backend/internal/errors"
	"github.com/destinyhacking/app/backend/internal/models"
)

// newEnqueueCmd creates the "destiny enqueue" subcommand.
func newEnqueueCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "enqueue <type> <payload-json>",
		Short: "Queue a mutation for replay",
		Long:  "Validate and persist one mutation. Types: slider_calibration, daily_cycle_update.",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			if !json.Valid([]byte(args[1])) {
				return errors.New(errors.ErrInvalidPayload, "payload is not valid JSON")
			}
			return withApp(cmd.Context(), opts.cfg, func(a *app) error {
				id, err := a.queue.EnqueueRaw(cmd.Context(), models.ActionType(args[0]), json.RawMessage(args[1]))
				if err != nil {
					return fmt.Errorf("enqueue: %w", err)
				}
				return opts.emit(cmd.OutOrStdout(), map[string]interface{}{"id": id}, func(w io.Writer) {
					fmt.Fprintf(w, "Queued %s (id=%d)\n", args[0], id)
				})
			})
		},
	}
}

// newPendingCmd creates the "destiny pending" subcommand.
func newPendingCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "pending",
		Short: "List queued mutations in replay order",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd.Context(), opts.cfg, func(a *app) error {
				pending, err := a.queue.ListPending(cmd.Context())
				if err != nil {
					return err
				}
				if pending == nil {
					pending = []models.QueuedAction{}
				}
				return opts.emit(cmd.OutOrStdout(), pending, func(w io.Writer) {
					if len(pending) == 0 {
						fmt.Fprintln(w, "Queue is empty.")
						return
					}
					for _, p := range pending {
						fmt.Fprintf(w, "%d\t%s\tretries=%d\t%s\n", p.ID, p.Type, p.RetryCount, p.Payload)
					}
				})
			})
		},
	}
}

// newDrainCmd creates the "destiny drain" subcommand.
func newDrainCmd(opts *rootOptions) *cobra.Command {
	var skipProbe bool
	cmd := &cobra.Command{
		Use:   "drain",
		Short: "Replay the queue against the backend once",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd.Context(), opts.cfg, func(a *app) error {
				ctx, cancel := context.WithTimeout(cmd.Context(), a.cfg.Queue.DrainTimeout)
				defer cancel()

				if !skipProbe && !a.client.Probe(ctx) {
					return errors.New(errors.ErrOffline, "backend unreachable at "+a.cfg.API.BaseURL)
				}
				result, err := a.queue.Drain(ctx)
				if err != nil {
					return fmt.Errorf("drain: %w", err)
				}
				return opts.emit(cmd.OutOrStdout(), result, func(w io.Writer) {
					fmt.Fprintf(w, "Succeeded %d, retried %d, dropped %d, remaining %d\n",
						result.Succeeded, result.Retried, result.Dropped, result.Remaining)
				})
			})
		},
	}
	cmd.Flags().BoolVar(&skipProbe, "no-probe", false, "skip the connectivity probe")
	return cmd
}
