package http

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sitelens/internal/engine"
	"sitelens/internal/query"
	"sitelens/internal/query/relational"
	"sitelens/internal/reports"
	"sitelens/internal/testsupport"
)

func testServer(t *testing.T) (*fiber.App, uint) {
	t.Helper()

	db := testsupport.SetupTestDB(t)
	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)

	site := testsupport.CreateTestWebsite(t, db, "example.com")
	seen := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	session := testsupport.CreateTestSession(t, db, site.ID, seen)
	testsupport.CreateTestPageview(t, db, site.ID, session.ID, "/", seen)
	testsupport.CreateTestPageview(t, db, site.ID, session.ID, "/pricing", seen.Add(time.Minute))

	store := relational.New(db, engine.SQLite)
	router := query.NewRouter(engine.Deployment{Relational: engine.SQLite}, store, nil, logger)
	generator := reports.NewGenerator(router, logger)

	app := fiber.New()
	app.Get("/api/websites/:id/report", NewReportHandler(generator, logger).GetReport)
	app.Get("/api/websites/:id/operations/:operation", NewOperationsHandler(router, logger).Execute)

	return app, site.ID
}

func get(t *testing.T, app *fiber.App, path string) (*http.Response, map[string]any) {
	t.Helper()

	resp, err := app.Test(httptest.NewRequest(http.MethodGet, path, nil))
	require.NoError(t, err)

	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	var body map[string]any
	require.NoError(t, json.Unmarshal(raw, &body))
	return resp, body
}

func TestGetReport(t *testing.T) {
	app, siteID := testServer(t)

	resp, body := get(t, app, reportPath(siteID, "2026-03-01T00:00:00Z", "2026-03-02T23:59:00Z"))
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	pageviews := body["pageviews"].([]any)
	require.Len(t, pageviews, 2, "both day buckets present")
	first := pageviews[0].(map[string]any)
	assert.Equal(t, float64(2), first["y"])

	assert.Equal(t, false, body["approximate"])

	countries := body["top_countries"].([]any)
	require.Len(t, countries, 1)
	assert.Equal(t, "Germany", countries[0].(map[string]any)["x"], "codes render as names")

	devices := body["top_devices"].([]any)
	require.Len(t, devices, 1)
	assert.Equal(t, "Desktop", devices[0].(map[string]any)["x"])
}

func TestGetReportRejectsBadRange(t *testing.T) {
	app, siteID := testServer(t)

	resp, _ := get(t, app, reportPath(siteID, "not-a-time", "2026-03-02T00:00:00Z"))
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestGetReportRejectsBadGranularity(t *testing.T) {
	app, siteID := testServer(t)

	resp, _ := get(t, app, reportPath(siteID, "2026-03-01T00:00:00Z", "2026-03-02T00:00:00Z")+"&granularity=fortnight")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestOperationSessionList(t *testing.T) {
	app, siteID := testServer(t)

	resp, body := get(t, app, operationPath(siteID, "session_list"))
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	sessions := body["sessions"].([]any)
	require.Len(t, sessions, 1)
	row := sessions[0].(map[string]any)
	assert.Equal(t, "Firefox", row["browser"])
	assert.Equal(t, float64(2), row["events"])
}

func TestOperationFunnel(t *testing.T) {
	app, siteID := testServer(t)

	path := operationPath(siteID, "funnel") +
		"?from=2026-03-01T00:00:00Z&to=2026-03-02T00:00:00Z&steps=/,/pricing"
	resp, body := get(t, app, path)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	series := body["series"].([]any)
	require.Len(t, series, 2)
	assert.Equal(t, float64(1), series[0].(map[string]any)["y"])
	assert.Equal(t, float64(1), series[1].(map[string]any)["y"])
}

func TestOperationMissingRangeIsClientError(t *testing.T) {
	app, siteID := testServer(t)

	resp, body := get(t, app, operationPath(siteID, "pageview_series"))
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode, "a missing time frame is invalid input, not a store outage")
	assert.Contains(t, body["error"], "time frame")
}

func TestOperationMalformedCursorIsClientError(t *testing.T) {
	app, siteID := testServer(t)

	resp, _ := get(t, app, operationPath(siteID, "session_list")+"?cursor=%21%21not-a-cursor")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestOperationUnknown(t *testing.T) {
	app, siteID := testServer(t)

	resp, _ := get(t, app, operationPath(siteID, "median_scroll_depth"))
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func reportPath(siteID uint, from, to string) string {
	return operationPathPrefix(siteID) + "/report?from=" + from + "&to=" + to
}

func operationPath(siteID uint, operation string) string {
	return operationPathPrefix(siteID) + "/operations/" + operation
}

func operationPathPrefix(siteID uint) string {
	return "/api/websites/" + strconv.Itoa(int(siteID))
}
