// Package main provides the Nurtura API server implementation.
package main

import (
	"log/slog"
	"strconv"

	"github.com/gofiber/fiber/v3"
	"github.com/gofiber/fiber/v3/middleware/cors"
	"github.com/gofiber/fiber/v3/middleware/healthcheck"
	"github.com/gofiber/fiber/v3/middleware/logger"
	"github.com/nurtura/nurtura/pkg/crm"
	"github.com/nurtura/nurtura/pkg/dedupe"
	"github.com/nurtura/nurtura/pkg/engine"
	"github.com/nurtura/nurtura/pkg/enrollment"
	"github.com/nurtura/nurtura/pkg/eventbus"
	"github.com/nurtura/nurtura/pkg/persistence"
	"github.com/nurtura/nurtura/pkg/registry"
	"github.com/nurtura/nurtura/pkg/services"
	"github.com/nurtura/nurtura/pkg/web"
)

type API struct {
	logger      *slog.Logger
	persistence persistence.Persistence
	registry    *registry.Registry
	backend     crm.Backend
	dedupe      dedupe.Store
	eventBus    eventbus.EventBus
}

func NewAPI(
	logger *slog.Logger,
	persist persistence.Persistence,
	reg *registry.Registry,
	backend crm.Backend,
	dedupeStore dedupe.Store,
	eventBus eventbus.EventBus,
) *API {
	return &API{
		logger:      logger,
		persistence: persist,
		registry:    reg,
		backend:     backend,
		dedupe:      dedupeStore,
		eventBus:    eventBus,
	}
}

func (a *API) App() *fiber.App {
	eng := engine.NewEngine(a.logger, a.persistence, a.registry, a.backend, a.dedupe, a.eventBus)
	manager := enrollment.NewManager(a.logger, a.persistence, eng, a.backend, a.eventBus)
	automationService := services.NewAutomation(a.logger, a.persistence, a.registry)

	handlers := web.NewAPIHandlers(automationService, manager, a.persistence, a.registry)

	app := fiber.New()
	app.Use(cors.New())
	app.Use(logger.New(logger.Config{
		DisableColors: true,
	}))

	app.Get(healthcheck.DefaultLivenessEndpoint, healthcheck.NewHealthChecker())
	app.Get(healthcheck.DefaultReadinessEndpoint, healthcheck.NewHealthChecker())

	app.Get("/", func(c fiber.Ctx) error {
		return c.SendString("Nurtura API")
	})

	web.RegisterRoutes(app, handlers)

	return app
}

func (a *API) Start(port int) error {
	app := a.App()

	return app.Listen(":" + strconv.Itoa(port))
}
