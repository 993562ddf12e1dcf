// Package internal assembles the application: engine detection, store
// connections, the query router and the HTTP surface.
package internal

import (
	"context"
	"fmt"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/sirupsen/logrus"

	"sitelens/internal/config"
	"sitelens/internal/database"
	"sitelens/internal/engine"
	"sitelens/internal/ingest"
	"sitelens/internal/pkg/geoip"
	"sitelens/internal/query"
	"sitelens/internal/query/columnar"
	"sitelens/internal/query/relational"
	"sitelens/internal/reports"
)

// App owns the wired application components.
type App struct {
	Config   *config.Config
	Logger   *logrus.Logger
	Manager  *database.Manager
	Router   *query.Router
	Pipeline *ingest.Pipeline
	Reports  *reports.Generator
	Geo      *geoip.Resolver

	fiber *fiber.App
}

// NewApp detects the deployment, connects the stores and wires every
// component. Engine detection happens exactly once, here; a bad
// connection string fails startup instead of surfacing later as a
// query error.
func NewApp(cfg *config.Config, logger *logrus.Logger) (*App, error) {
	deployment, err := engine.Detect(cfg.DatabaseURL, cfg.AnalyticsURL)
	if err != nil {
		return nil, err
	}
	logger.WithFields(logrus.Fields{
		"relational": deployment.Relational.String(),
		"analytics":  deployment.AnalyticsAttached,
	}).Info("detected storage engines")

	manager, err := database.NewManager(cfg, deployment, logger)
	if err != nil {
		return nil, err
	}
	if err := manager.Migrate(); err != nil {
		return nil, fmt.Errorf("failed to migrate relational schema: %w", err)
	}

	relationalStore := relational.New(manager.DB(), deployment.Relational)

	var columnarStore query.ColumnarBackend
	if deployment.AnalyticsAttached {
		store := columnar.New(manager.Analytics(), int64(cfg.ApproxUniqueThreshold))
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := store.EnsureSchema(ctx, cfg.EventsRetentionDays); err != nil {
			return nil, err
		}
		columnarStore = store
	}

	router := query.NewRouter(deployment, relationalStore, columnarStore, logger)
	geo := geoip.NewResolver(cfg.GeoDBPath, logger)
	pipeline := ingest.NewPipeline(manager.DB(), router, geo, cfg, logger)
	generator := reports.NewGenerator(router, logger)

	app := &App{
		Config:   cfg,
		Logger:   logger,
		Manager:  manager,
		Router:   router,
		Pipeline: pipeline,
		Reports:  generator,
		Geo:      geo,
	}

	app.fiber = fiber.New(fiber.Config{
		AppName:               cfg.AppName,
		BodyLimit:             cfg.MaxPayloadBytes * 2,
		DisableStartupMessage: cfg.IsProduction(),
	})
	app.mountRoutes(app.fiber)

	return app, nil
}

// Fiber exposes the HTTP app, mainly for tests.
func (a *App) Fiber() *fiber.App {
	return a.fiber
}

// Listen serves HTTP until Shutdown.
func (a *App) Listen() error {
	addr := ":" + a.Config.AppPort
	a.Logger.WithField("addr", addr).Info("starting server")
	return a.fiber.Listen(addr)
}

// Shutdown stops the server and closes the stores.
func (a *App) Shutdown() error {
	if err := a.fiber.Shutdown(); err != nil {
		a.Logger.WithError(err).Warn("http shutdown failed")
	}
	a.Geo.Close()
	return a.Manager.Close()
}
