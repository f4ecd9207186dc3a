package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/go-co-op/gocron/v2"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"example.com/backstage/services/orders/internal/projections"
	"example.com/backstage/services/orders/internal/service"
	"example.com/backstage/services/orders/internal/taskqueue"
)

var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Start the background worker",
	Long:  `Start the background worker: consumes the state-change and work queues, relays unpublished events to the bus, and sweeps terminally failed events`,
	RunE:  runWorker,
}

func init() {
	rootCmd.AddCommand(workerCmd)
}

func runWorker(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(),
		os.Interrupt, syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	a, err := newApp(cfg)
	if err != nil {
		return err
	}
	defer a.close()

	g, ctx := errgroup.WithContext(ctx)

	// State-change queue consumer keeps read models current
	eventProcessor := projections.NewEventProcessor(a.projector, a.guard, a.collector)
	g.Go(func() error {
		log.Info().Str("queue", a.cfg.Azure.EventsQueue).Msg("Starting state-change queue consumer")
		return a.bus.Run(ctx, a.cfg.Azure.EventsQueue, eventProcessor)
	})

	// Work queue consumer processes order tasks
	dlq := taskqueue.NewDeadLetterService(a.bus, a.db, a.cfg.Azure.DeadLetterQueue)
	handler := service.NewTaskHandler(a.svc)
	consumer := taskqueue.NewConsumer(a.guard, a.producer, dlq, handler, a.collector, taskqueue.Backoff{
		Base: a.cfg.Queue.BackoffBase,
		Cap:  a.cfg.Queue.BackoffCap,
	})
	g.Go(func() error {
		log.Info().Str("queue", a.cfg.Azure.WorkQueue).Msg("Starting work queue consumer")
		return a.bus.Run(ctx, a.cfg.Azure.WorkQueue, consumer)
	})

	// Periodic relay sweep and stale marking
	g.Go(func() error {
		scheduler, err := gocron.NewScheduler()
		if err != nil {
			return err
		}

		_, err = scheduler.NewJob(
			gocron.DurationJob(a.cfg.Outbox.SweepInterval),
			gocron.NewTask(func() {
				if err := a.relay.PublishPending(ctx); err != nil {
					log.Error().Err(err).Msg("Relay sweep failed")
				}
			}),
		)
		if err != nil {
			return err
		}

		_, err = scheduler.NewJob(
			gocron.DurationJob(a.cfg.Outbox.SweepStale),
			gocron.NewTask(func() {
				if err := a.relay.SweepStale(ctx); err != nil {
					log.Error().Err(err).Msg("Stale sweep failed")
				}
			}),
		)
		if err != nil {
			return err
		}

		log.Info().
			Dur("sweepInterval", a.cfg.Outbox.SweepInterval).
			Dur("staleSweepInterval", a.cfg.Outbox.SweepStale).
			Msg("Starting relay scheduler")
		scheduler.Start()

		<-ctx.Done()
		return scheduler.Shutdown()
	})

	if err := g.Wait(); err != nil && err != context.Canceled {
		log.Error().Err(err).Msg("Worker error")
		return err
	}

	log.Info().Msg("Worker exited properly")
	return nil
}
