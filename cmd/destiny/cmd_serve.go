package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/destinyhacking/app/backend/internal/logging"
	"github.com/destinyhacking/app/backend/internal/server"
	"github.com/destinyhacking/app/backend/internal/sync/scheduler"
)

// newServeCmd creates the "destiny serve" subcommand.
func newServeCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the replay scheduler and the local API",
		Long:  "Probe the backend, replay the queue whenever it is reachable, fire\ncheck-in reminders, and serve the local HTTP/WebSocket API until interrupted.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return withApp(ctx, opts.cfg, func(a *app) error {
				return serve(ctx, a)
			})
		},
	}
}

// serve runs until ctx is cancelled or the server fails.
func serve(ctx context.Context, a *app) error {
	hub := server.NewWSHub()
	a.queue.SetListener(hub)

	sched := scheduler.NewScheduler(a.queue, a.client, &scheduler.SchedulerConfig{
		DrainInterval: a.cfg.Queue.DrainInterval,
		ProbeInterval: a.cfg.Queue.ProbeInterval,
		DrainTimeout:  a.cfg.Queue.DrainTimeout,
	})

	reminders := scheduler.NewReminderScheduler(hub.BroadcastReminderDue, &scheduler.ReminderConfig{
		Location: a.calc.Location(),
	})
	for _, r := range a.cfg.Reminders {
		if err := reminders.Schedule(r); err != nil {
			return err
		}
	}

	srv := server.New(server.Config{
		Addr:      a.cfg.Server.Addr,
		Queue:     a.queue,
		Scheduler: sched,
		Cycles:    a.cycles,
		Hub:       hub,
	})

	g, gctx := errgroup.WithContext(ctx)
	sched.Start(gctx)
	g.Go(func() error {
		return srv.Run(gctx)
	})
	g.Go(func() error {
		<-gctx.Done()
		reminders.CancelAll()
		sched.Stop()
		return nil
	})

	logging.Info("destiny serving", map[string]interface{}{
		"addr":      a.cfg.Server.Addr,
		"backend":   a.cfg.API.BaseURL,
		"reminders": len(a.cfg.Reminders),
	})
	return g.Wait()
}
