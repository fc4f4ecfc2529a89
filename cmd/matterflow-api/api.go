// Package main provides the matterflow API server.
package main

import (
	"log/slog"
	"strconv"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v3"
	"github.com/gofiber/fiber/v3/middleware/cors"
	"github.com/gofiber/fiber/v3/middleware/healthcheck"
	"github.com/gofiber/fiber/v3/middleware/logger"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/dukex/matterflow/pkg/actions"
	"github.com/dukex/matterflow/pkg/services"
	"github.com/dukex/matterflow/pkg/web"
)

type API struct {
	logger    *slog.Logger
	templates *services.Templates
	instances *services.Instances
	registry  *actions.Registry
	gatherer  prometheus.Gatherer
	validate  *validator.Validate
}

func NewAPI(
	logger *slog.Logger,
	templates *services.Templates,
	instances *services.Instances,
	registry *actions.Registry,
	gatherer prometheus.Gatherer,
) *API {
	return &API{
		logger:    logger,
		templates: templates,
		instances: instances,
		registry:  registry,
		gatherer:  gatherer,
		validate:  validator.New(validator.WithRequiredStructEnabled()),
	}
}

func (a *API) App() *fiber.App {
	handlers := web.NewAPIHandlers(a.templates, a.instances, a.validate, a.registry)

	app := fiber.New()
	app.Use(cors.New())
	app.Use(logger.New(logger.Config{
		DisableColors: true,
	}))

	app.Get(healthcheck.DefaultLivenessEndpoint, healthcheck.NewHealthChecker())
	app.Get(healthcheck.DefaultReadinessEndpoint, healthcheck.NewHealthChecker())

	app.Get("/", func(c fiber.Ctx) error {
		return c.SendString("matterflow API")
	})

	handlers.Routes(app)

	if a.gatherer != nil {
		app.Get("/metrics", web.MetricsHandler(a.gatherer))
	}

	return app
}

func (a *API) Start(port int) error {
	a.logger.Info("Starting API server", "port", port)

	return a.App().Listen(":" + strconv.Itoa(port))
}
