package main

import (
	"context"
	"os"

	"github.com/nurtura/nurtura/pkg/cmd"
	"github.com/nurtura/nurtura/pkg/config"
	"github.com/nurtura/nurtura/pkg/log"
	cli "github.com/urfave/cli/v3"
)

const defaultPort = 9091

func main() {
	command := &cli.Command{
		Name:                  "nurtura-api",
		Usage:                 "Create and manage automations and enrollments",
		EnableShellCompletion: true,
		Flags: []cli.Flag{
			&cli.IntFlag{
				Name:    "port",
				Aliases: []string{"p"},
				Usage:   "Port to run the API server on",
				Value:   defaultPort,
				Sources: cli.EnvVars("PORT"),
			},
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

			logger := log.WithModule("api")

			logger.InfoContext(ctx, "Initializing Nurtura API")

			var fileConfig config.Config
			if path := command.String("config"); path != "" {
				fileConfig = config.LoadOrDefault(path)
			}

			databaseURL := command.String("database-url")
			if databaseURL == "" {
				databaseURL = fileConfig.DatabaseURL
			}

			persist := cmd.NewPersistence(ctx, logger, databaseURL)
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

			api := NewAPI(logger, persist, registry, backend, dedupeStore, eventBus)

			err := api.Start(command.Int("port"))
			if err != nil {
				logger.ErrorContext(ctx, "Failed to start API server", "error", err)
			}

			return nil
		},
	}

	err := command.Run(context.Background(), os.Args)
	if err != nil {
		panic(err)
	}
}
