package internal

import (
	"github.com/gofiber/fiber/v2"

	v1 "sitelens/api/v1"
	sitehttp "sitelens/internal/http"
)

// mountRoutes attaches every endpoint to the fiber app. The tracking
// endpoint is the only write surface; everything else reads through the
// query router.
func (a *App) mountRoutes(app *fiber.App) {
	sendHandler := v1.NewSendHandler(a.Pipeline, a.Manager.DB(), a.Config, a.Logger)
	reportHandler := sitehttp.NewReportHandler(a.Reports, a.Logger)
	operationsHandler := sitehttp.NewOperationsHandler(a.Router, a.Logger)
	websitesHandler := sitehttp.NewWebsitesHandler(a.Manager.DB(), a.Logger)
	healthHandler := sitehttp.NewHealthHandler(a.Manager, a.Logger)

	app.Get("/health", healthHandler.Check)

	app.Post("/api/send", sendHandler.Handle)

	app.Get("/api/websites", websitesHandler.List)
	app.Post("/api/websites", websitesHandler.Create)
	app.Get("/api/websites/:id/report", reportHandler.GetReport)
	app.Get("/api/websites/:id/operations/:operation", operationsHandler.Execute)
}
