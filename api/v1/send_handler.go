// Package v1 is the public tracking API.
package v1

import (
	"errors"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"sitelens/internal/config"
	"sitelens/internal/events"
	"sitelens/internal/ingest"
	"sitelens/internal/query"
	"sitelens/internal/websites"
)

const (
	sendTypeEvent    = "event"
	sendTypeIdentify = "identify"
)

// SendRequest is the envelope of POST /api/send.
type SendRequest struct {
	Type    string         `json:"type"`
	Payload events.Payload `json:"payload"`
}

// SendHandler collects tracking traffic.
type SendHandler struct {
	pipeline *ingest.Pipeline
	db       *gorm.DB
	cfg      *config.Config
	logger   *logrus.Logger
}

// NewSendHandler wires the handler.
func NewSendHandler(pipeline *ingest.Pipeline, db *gorm.DB, cfg *config.Config, logger *logrus.Logger) *SendHandler {
	return &SendHandler{pipeline: pipeline, db: db, cfg: cfg, logger: logger}
}

// Handle processes one tracking request. Structural failures (bad
// payload, unknown website, bad origin) are client errors; anything
// after validation is silent to the client and logged server-side, so
// a degraded store never breaks the tracked page.
func (h *SendHandler) Handle(c *fiber.Ctx) error {
	if len(c.Body()) > h.cfg.MaxPayloadBytes {
		return c.Status(http.StatusRequestEntityTooLarge).JSON(fiber.Map{
			"error": "payload too large",
		})
	}

	var req SendRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(http.StatusBadRequest).JSON(fiber.Map{
			"error": "invalid request body",
		})
	}

	if err := h.validateOrigin(c); err != nil {
		return c.Status(http.StatusForbidden).JSON(fiber.Map{
			"error": "invalid origin",
		})
	}

	switch req.Type {
	case sendTypeIdentify:
		return h.handleIdentify(c, req)
	case sendTypeEvent, "":
		return h.handleEvent(c, req)
	default:
		return c.Status(http.StatusBadRequest).JSON(fiber.Map{
			"error": "unknown send type",
		})
	}
}

func (h *SendHandler) handleEvent(c *fiber.Ctx, req SendRequest) error {
	input := ingest.Input{
		Payload:   req.Payload,
		IPAddress: clientIP(c),
		UserAgent: userAgent(c),
		Timestamp: time.Now(),
	}

	outcome, err := h.pipeline.Collect(c.UserContext(), input)
	if err != nil {
		var validationErr *events.ValidationError
		if errors.As(err, &validationErr) {
			return c.Status(http.StatusBadRequest).JSON(fiber.Map{
				"error": validationErr.Error(),
			})
		}
		var notFoundErr *websites.WebsiteNotFoundError
		if errors.As(err, &notFoundErr) {
			return c.Status(http.StatusBadRequest).JSON(fiber.Map{
				"error": "website not registered",
			})
		}

		// Store-level failures stay server-side.
		var storeErr *query.StoreError
		if errors.As(err, &storeErr) {
			h.logger.WithError(err).Error("event collection failed after validation")
			return c.Status(http.StatusAccepted).JSON(fiber.Map{})
		}

		h.logger.WithError(err).Error("event collection failed")
		return c.Status(http.StatusAccepted).JSON(fiber.Map{})
	}

	if outcome.Dropped {
		return c.Status(http.StatusAccepted).JSON(fiber.Map{"disabled": true})
	}

	token := signSessionToken(h.cfg.PrivateKey, outcome.SessionID)
	c.Set(CacheHeader, token)
	return c.Status(http.StatusAccepted).JSON(fiber.Map{"cache": token})
}

func (h *SendHandler) handleIdentify(c *fiber.Ctx, req SendRequest) error {
	token := c.Get(CacheHeader)
	sessionID, ok := verifySessionToken(h.cfg.PrivateKey, token)
	if !ok {
		return c.Status(http.StatusBadRequest).JSON(fiber.Map{
			"error": "missing or invalid cache token",
		})
	}

	if err := h.pipeline.Identify(c.UserContext(), sessionID, req.Payload.IdentityID); err != nil {
		var validationErr *events.ValidationError
		if errors.As(err, &validationErr) {
			return c.Status(http.StatusBadRequest).JSON(fiber.Map{
				"error": validationErr.Error(),
			})
		}
		h.logger.WithError(err).Error("identify failed")
		return c.Status(http.StatusAccepted).JSON(fiber.Map{})
	}

	return c.Status(http.StatusOK).JSON(fiber.Map{"cache": token})
}

// validateOrigin checks the browser-set Origin header (Referer as
// fallback) against the registered websites. Browsers do not let page
// scripts forge Origin, which makes it the cheapest tenant check
// available to a public endpoint.
func (h *SendHandler) validateOrigin(c *fiber.Ctx) error {
	origin := c.Get("Origin")
	if origin == "" {
		origin = c.Get("Referer")
	}
	if origin == "" {
		return errors.New("no origin or referer header")
	}

	parsed, err := url.Parse(origin)
	if err != nil || parsed.Hostname() == "" {
		return errors.New("unparseable origin")
	}

	baseDomain := websites.BaseDomainForHost(parsed.Hostname())
	if _, err := websites.GetByDomain(h.db, baseDomain); err != nil {
		return err
	}
	return nil
}

func clientIP(c *fiber.Ctx) string {
	if forwarded := c.Get("X-Forwarded-For"); forwarded != "" {
		parts := strings.Split(forwarded, ",")
		return strings.TrimSpace(parts[0])
	}
	return c.IP()
}

func userAgent(c *fiber.Ctx) string {
	if forwarded := c.Get("X-Forwarded-User-Agent"); forwarded != "" {
		return forwarded
	}
	return c.Get("User-Agent")
}
