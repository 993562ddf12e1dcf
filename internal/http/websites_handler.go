package http

import (
	"net/http"

	"github.com/gofiber/fiber/v2"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"sitelens/internal/websites"
)

// WebsitesHandler manages the registered websites.
type WebsitesHandler struct {
	db     *gorm.DB
	logger *logrus.Logger
}

// NewWebsitesHandler wires the handler.
func NewWebsitesHandler(db *gorm.DB, logger *logrus.Logger) *WebsitesHandler {
	return &WebsitesHandler{db: db, logger: logger}
}

type createWebsiteRequest struct {
	Domain     string `json:"domain"`
	StripQuery *bool  `json:"strip_query"`
}

// Create handles POST /api/websites.
func (h *WebsitesHandler) Create(c *fiber.Ctx) error {
	var req createWebsiteRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "invalid request body")
	}
	if req.Domain == "" {
		return badRequest(c, "domain is required")
	}

	site := &websites.Website{
		Domain:     websites.BaseDomainForHost(req.Domain),
		StripQuery: true,
	}
	if req.StripQuery != nil {
		site.StripQuery = *req.StripQuery
	}

	if err := websites.Create(h.db, site); err != nil {
		h.logger.WithError(err).Error("failed to create website")
		return c.Status(http.StatusConflict).JSON(fiber.Map{
			"error": "website could not be created",
		})
	}
	return c.Status(http.StatusCreated).JSON(site)
}

// List handles GET /api/websites.
func (h *WebsitesHandler) List(c *fiber.Ctx) error {
	all, err := websites.List(h.db)
	if err != nil {
		h.logger.WithError(err).Error("failed to list websites")
		return c.Status(http.StatusInternalServerError).JSON(fiber.Map{
			"error": "failed to list websites",
		})
	}
	return c.JSON(fiber.Map{"websites": all})
}
