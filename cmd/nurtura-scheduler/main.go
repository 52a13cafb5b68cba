package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/nurtura/nurtura/pkg/cmd"
	"github.com/nurtura/nurtura/pkg/config"
	"github.com/nurtura/nurtura/pkg/engine"
	"github.com/nurtura/nurtura/pkg/log"
	"github.com/nurtura/nurtura/pkg/otelhelper"
	"github.com/nurtura/nurtura/pkg/scheduler"
	cli "github.com/urfave/cli/v3"
)

func main() {
	command := &cli.Command{
		Name:                  "nurtura-scheduler",
		Usage:                 "Sweep due enrollments and advance them through their automations",
		EnableShellCompletion: true,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:     "database-url",
				Usage:    "Database connection URL for persistence",
				Required: true,
				Sources:  cli.EnvVars("DATABASE_URL"),
			},
			&cli.StringFlag{
				Name:    "event-bus",
				Usage:   "Event bus type (kafka, gochannel)",
				Value:   "gochannel",
				Sources: cli.EnvVars("EVENT_BUS_TYPE"),
			},
			&cli.StringFlag{
				Name:    "crm-api-url",
				Usage:   "Base URL of the CRM core API",
				Sources: cli.EnvVars("CRM_API_URL"),
			},
			&cli.StringFlag{
				Name:    "crm-api-key",
				Usage:   "API key for the CRM core API",
				Sources: cli.EnvVars("CRM_API_KEY"),
			},
			&cli.StringFlag{
				Name:    "redis-url",
				Usage:   "Redis URL for the action dedupe store",
				Sources: cli.EnvVars("REDIS_URL"),
			},
			&cli.StringFlag{
				Name:    "cadence",
				Usage:   "Cron cadence for the sweep",
				Value:   scheduler.DefaultCadence,
				Sources: cli.EnvVars("SCHEDULER_CADENCE"),
			},
			&cli.StringFlag{
				Name:    "config",
				Usage:   "Path to optional nurtura.yaml config file",
				Sources: cli.EnvVars("NURTURA_CONFIG"),
			},
			&cli.StringFlag{
				Name:    "log-level",
				Usage:   "Log level (debug, info, warn, error)",
				Value:   "info",
				Sources: cli.EnvVars("LOG_LEVEL"),
			},
		},
		Action: func(ctx context.Context, command *cli.Command) error {
			log.Setup(command.String("log-level"))

			logger := log.WithModule("scheduler")

			logger.InfoContext(ctx, "Initializing Nurtura Scheduler")

			tracerProvider, err := otelhelper.InitTracer(ctx, "nurtura-scheduler")
			if err != nil {
				return fmt.Errorf("failed to initialize tracer: %w", err)
			}
			defer func() {
				if err := tracerProvider.Shutdown(ctx); err != nil {
					slog.Error("Failed to shutdown tracer provider", "error", err)
				}
			}()

			var fileConfig config.Config
			if path := command.String("config"); path != "" {
				fileConfig = config.LoadOrDefault(path)
			}

			persist := cmd.NewPersistence(ctx, logger, command.String("database-url"))
			defer func() {
				err := persist.Close(ctx)
				if err != nil {
					logger.ErrorContext(ctx, "Failed to close persistence", "error", err)
				}
			}()

			eventBus := cmd.NewEventBus(command.String("event-bus"), logger)
			defer func() {
				err := eventBus.Close()
				if err != nil {
					logger.ErrorContext(ctx, "Failed to close event bus", "error", err)
				}
			}()

			backend := cmd.NewCRMClient(logger, command.String("crm-api-url"), command.String("crm-api-key"))
			registry := cmd.NewRegistry(logger, backend)

			dedupeStore := cmd.NewDedupeStore(logger, command.String("redis-url"))
			defer func() {
				err := dedupeStore.Close()
				if err != nil {
					logger.ErrorContext(ctx, "Failed to close dedupe store", "error", err)
				}
			}()

			eng := engine.NewEngine(logger, persist, registry, backend, dedupeStore, eventBus)
			sched := scheduler.NewScheduler(logger, persist, eng)
			sched.SetLimits(fileConfig.Scheduler.BatchSize, fileConfig.Scheduler.Concurrency)

			cadence := command.String("cadence")
			if fileConfig.Scheduler.Cadence != "" {
				cadence = fileConfig.Scheduler.Cadence
			}

			runCtx, cancel := context.WithCancel(ctx)
			defer cancel()

			err = sched.Start(runCtx, cadence)
			if err != nil {
				return fmt.Errorf("failed to start scheduler: %w", err)
			}

			signals := make(chan os.Signal, 1)
			signal.Notify(signals, syscall.SIGINT, syscall.SIGTERM)

			sig := <-signals
			logger.InfoContext(ctx, "Received signal, shutting down", "signal", sig)

			cancel()
			sched.Stop()

			return nil
		},
	}

	err := command.Run(context.Background(), os.Args)
	if err != nil {
		panic(err)
	}
}
