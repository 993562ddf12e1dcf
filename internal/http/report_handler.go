// Package http exposes the reporting and administration endpoints.
package http

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/sirupsen/logrus"

	"sitelens/internal/query"
	"sitelens/internal/reports"
)

// ReportHandler serves merged dashboard reports.
type ReportHandler struct {
	generator *reports.Generator
	logger    *logrus.Logger
}

// NewReportHandler wires the handler.
func NewReportHandler(generator *reports.Generator, logger *logrus.Logger) *ReportHandler {
	return &ReportHandler{generator: generator, logger: logger}
}

// filterableDimensions are the query parameters accepted as dimension
// filters on report and operation endpoints.
var filterableDimensions = []string{
	"pathname", "referrer", "hostname", "tag",
	"browser", "os", "device", "country", "language",
}

// GetReport handles GET /api/websites/:id/report. A failed report is an
// explicit error response, never an empty chart.
func (h *ReportHandler) GetReport(c *fiber.Ctx) error {
	websiteID, err := c.ParamsInt("id")
	if err != nil || websiteID <= 0 {
		return badRequest(c, "invalid website id")
	}

	from, to, err := parseRange(c)
	if err != nil {
		return badRequest(c, err.Error())
	}

	def := reports.Definition{
		WebsiteID:   uint(websiteID),
		From:        from,
		To:          to,
		Granularity: c.Query("granularity", "day"),
		Filters:     parseFilters(c),
		GroupBy:     c.Query("group_by"),
		Limit:       c.QueryInt("limit"),
	}

	report, err := h.generator.Generate(c.UserContext(), def)
	if err != nil {
		var partialErr *query.PartialCapabilityError
		if errors.As(err, &partialErr) {
			h.logger.WithError(err).Warn("report degraded by unavailable store")
			return c.Status(http.StatusServiceUnavailable).JSON(fiber.Map{
				"error": "analytics store unavailable",
			})
		}
		var storeErr *query.StoreError
		if errors.As(err, &storeErr) {
			h.logger.WithError(err).Error("report generation failed")
			return c.Status(http.StatusInternalServerError).JSON(fiber.Map{
				"error": "report generation failed",
			})
		}
		return badRequest(c, err.Error())
	}

	report.TopCountries = displayCountries(report.TopCountries)
	report.TopDevices = displayDevices(report.TopDevices)

	return c.JSON(report)
}

func parseRange(c *fiber.Ctx) (time.Time, time.Time, error) {
	from, err := parseTimestamp(c.Query("from"))
	if err != nil {
		return time.Time{}, time.Time{}, errors.New("invalid or missing from timestamp")
	}
	to, err := parseTimestamp(c.Query("to"))
	if err != nil {
		return time.Time{}, time.Time{}, errors.New("invalid or missing to timestamp")
	}
	return from, to, nil
}

// parseTimestamp accepts RFC3339 or unix seconds.
func parseTimestamp(value string) (time.Time, error) {
	if value == "" {
		return time.Time{}, errors.New("empty timestamp")
	}
	if ts, err := time.Parse(time.RFC3339, value); err == nil {
		return ts, nil
	}
	unix, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		return time.Time{}, err
	}
	return time.Unix(unix, 0).UTC(), nil
}

func parseFilters(c *fiber.Ctx) map[string]string {
	filters := make(map[string]string)
	for _, dimension := range filterableDimensions {
		if value := c.Query(dimension); value != "" {
			filters[dimension] = value
		}
	}
	return filters
}

func badRequest(c *fiber.Ctx, message string) error {
	return c.Status(http.StatusBadRequest).JSON(fiber.Map{"error": message})
}
