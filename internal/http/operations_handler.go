package http

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/sirupsen/logrus"

	"sitelens/internal/query"
	"sitelens/internal/timeframe"
)

// OperationsHandler exposes single query operations directly. The
// dashboard composes most views from the merged report; this endpoint
// serves the operations a report does not bundle (session list, funnel,
// event breakdown, active visitors) and ad hoc queries.
type OperationsHandler struct {
	router *query.Router
	logger *logrus.Logger
}

// NewOperationsHandler wires the handler.
func NewOperationsHandler(router *query.Router, logger *logrus.Logger) *OperationsHandler {
	return &OperationsHandler{router: router, logger: logger}
}

// Execute handles GET /api/websites/:id/operations/:operation.
func (h *OperationsHandler) Execute(c *fiber.Ctx) error {
	websiteID, err := c.ParamsInt("id")
	if err != nil || websiteID <= 0 {
		return badRequest(c, "invalid website id")
	}

	op := query.Operation(c.Params("operation"))

	params := query.Params{
		WebsiteID: uint(websiteID),
		Filters:   parseFilters(c),
		Limit:     c.QueryInt("limit"),
		Cursor:    c.Query("cursor"),
		EventName: c.Query("event"),
		Property:  c.Query("property"),
	}

	if steps := c.Query("steps"); steps != "" {
		params.Steps = strings.Split(steps, ",")
	}

	// Range is optional only for the operations that do not aggregate
	// over time.
	if c.Query("from") != "" || c.Query("to") != "" {
		from, to, err := parseRange(c)
		if err != nil {
			return badRequest(c, err.Error())
		}
		size, err := timeframe.ParseBucketSize(c.Query("granularity", "day"))
		if err != nil {
			return badRequest(c, err.Error())
		}
		tf, err := timeframe.New(from, to, size)
		if err != nil {
			return badRequest(c, err.Error())
		}
		params.TimeFrame = tf
	}

	result, err := h.router.Execute(c.UserContext(), op, params)
	if err != nil {
		return h.renderError(c, err)
	}
	return c.JSON(result)
}

func (h *OperationsHandler) renderError(c *fiber.Ctx, err error) error {
	var unknownErr *query.UnknownOperationError
	if errors.As(err, &unknownErr) {
		return c.Status(http.StatusNotFound).JSON(fiber.Map{
			"error": unknownErr.Error(),
		})
	}

	var partialErr *query.PartialCapabilityError
	if errors.As(err, &partialErr) {
		h.logger.WithError(err).Warn("split operation degraded")
		return c.Status(http.StatusServiceUnavailable).JSON(fiber.Map{
			"error": "analytics store unavailable for part of this query",
		})
	}

	var storeErr *query.StoreError
	if errors.As(err, &storeErr) {
		h.logger.WithError(err).Error("operation failed")
		return c.Status(http.StatusInternalServerError).JSON(fiber.Map{
			"error": "query failed",
		})
	}

	return badRequest(c, err.Error())
}
