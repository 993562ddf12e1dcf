package http

import (
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/sirupsen/logrus"

	"sitelens/internal/database"
)

// HealthStatus is the health check response.
type HealthStatus struct {
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
	DBStatus  string    `json:"db_status"`
	Analytics string    `json:"analytics_status,omitempty"`
	Engine    string    `json:"engine"`
}

// HealthHandler reports store connectivity.
type HealthHandler struct {
	manager *database.Manager
	logger  *logrus.Logger
}

// NewHealthHandler wires the handler.
func NewHealthHandler(manager *database.Manager, logger *logrus.Logger) *HealthHandler {
	return &HealthHandler{manager: manager, logger: logger}
}

// Check handles GET /health.
func (h *HealthHandler) Check(c *fiber.Ctx) error {
	health := HealthStatus{
		Status:    "ok",
		Timestamp: time.Now().UTC(),
		DBStatus:  "ok",
		Engine:    h.manager.Deployment().Relational.String(),
	}

	sqlDB, err := h.manager.DB().DB()
	if err != nil || sqlDB.Ping() != nil {
		health.DBStatus = "error"
		h.logger.Error("relational store unreachable")
	}

	if h.manager.Deployment().AnalyticsAttached {
		health.Analytics = "ok"
		if err := h.manager.Analytics().Ping(c.UserContext()); err != nil {
			health.Analytics = "error"
			h.logger.WithError(err).Error("analytics store unreachable")
		}
	}

	if health.DBStatus != "ok" || health.Analytics == "error" {
		health.Status = "degraded"
	}
	return c.JSON(health)
}
