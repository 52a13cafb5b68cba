package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/google/uuid"
	"github.com/nurtura/nurtura/pkg/cmd"
	"github.com/nurtura/nurtura/pkg/engine"
	"github.com/nurtura/nurtura/pkg/enrollment"
	"github.com/nurtura/nurtura/pkg/log"
	"github.com/nurtura/nurtura/pkg/otelhelper"
	cli "github.com/urfave/cli/v3"
)

func main() {
	command := &cli.Command{
		Name:                  "nurtura-activator",
		Usage:                 "Enroll entities into automations as CRM domain events arrive",
		EnableShellCompletion: true,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "activator-id",
				Aliases: []string{"id"},
				Usage:   "Custom activator ID (auto-generated if not provided)",
				Value:   "",
				Sources: cli.EnvVars("ACTIVATOR_ID"),
			},
			&cli.StringFlag{
				Name:     "database-url",
				Usage:    "Database connection URL for persistence",
				Required: true,
				Sources:  cli.EnvVars("DATABASE_URL"),
			},
			&cli.StringFlag{
				Name:     "event-bus",
				Usage:    "Event bus type (kafka, gochannel)",
				Required: true,
				Sources:  cli.EnvVars("EVENT_BUS_TYPE"),
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
				Name:    "log-level",
				Usage:   "Log level (debug, info, warn, error)",
				Value:   "info",
				Sources: cli.EnvVars("LOG_LEVEL"),
			},
		},
		Action: func(ctx context.Context, command *cli.Command) error {
			log.Setup(command.String("log-level"))

			activatorID := command.String("activator-id")
			if activatorID == "" {
				activatorID = "activator-" + uuid.New().String()[:8]
			}

			logger := log.WithModule("nurtura-activator").With("activator_id", activatorID)

			logger.InfoContext(ctx, "Initializing Nurtura Activator")

			tracerProvider, err := otelhelper.InitTracer(ctx, "nurtura-activator")
			if err != nil {
				return fmt.Errorf("failed to initialize tracer: %w", err)
			}
			defer func() {
				if err := tracerProvider.Shutdown(ctx); err != nil {
					slog.Error("Failed to shutdown tracer provider", "error", err)
				}
			}()

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
			manager := enrollment.NewManager(logger, persist, eng, backend, eventBus)

			activator := NewActivator(activatorID, eventBus, manager, logger)

			return activator.Start(ctx)
		},
	}

	err := command.Run(context.Background(), os.Args)
	if err != nil {
		panic(err)
	}
}
