package v1

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"sitelens/internal/config"
	"sitelens/internal/engine"
	"sitelens/internal/events"
	"sitelens/internal/ingest"
	"sitelens/internal/pkg/geoip"
	"sitelens/internal/query"
	"sitelens/internal/query/relational"
	"sitelens/internal/testsupport"
	"sitelens/internal/websites"
)

const (
	testPrivateKey = "test-private-key"
	firefoxUA      = "Mozilla/5.0 (Windows NT 10.0; Win64; x64; rv:128.0) Gecko/20100101 Firefox/128.0"
)

func testApp(t *testing.T) (*fiber.App, *gorm.DB, *websites.Website) {
	t.Helper()

	db := testsupport.SetupTestDB(t)
	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)

	cfg := &config.Config{
		Environment:          config.Test,
		PrivateKey:           testPrivateKey,
		SessionWindowSeconds: 1800,
		MaxPayloadBytes:      16 * 1024,
		MaxEventDataProps:    50,
	}

	store := relational.New(db, engine.SQLite)
	router := query.NewRouter(engine.Deployment{Relational: engine.SQLite}, store, nil, logger)
	pipeline := ingest.NewPipeline(db, router, geoip.NewResolver("", logger), cfg, logger)

	app := fiber.New()
	handler := NewSendHandler(pipeline, db, cfg, logger)
	app.Post("/api/send", handler.Handle)

	site := testsupport.CreateTestWebsite(t, db, "example.com")
	return app, db, site
}

func sendRequest(t *testing.T, body SendRequest, headers map[string]string) *http.Request {
	t.Helper()

	raw, err := json.Marshal(body)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, "/api/send", bytes.NewReader(raw))
	req.Header.Set("Content-Type", "application/json")
	for key, value := range headers {
		req.Header.Set(key, value)
	}
	return req
}

func eventRequest(site *websites.Website) SendRequest {
	return SendRequest{
		Type: sendTypeEvent,
		Payload: eventPayload(site),
	}
}

func defaultHeaders() map[string]string {
	return map[string]string{
		"Origin":     "https://example.com",
		"User-Agent": firefoxUA,
	}
}

func decodeBody(t *testing.T, resp *http.Response) map[string]any {
	t.Helper()
	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	var body map[string]any
	require.NoError(t, json.Unmarshal(raw, &body))
	return body
}

func TestSendEventAccepted(t *testing.T) {
	app, db, site := testApp(t)

	resp, err := app.Test(sendRequest(t, eventRequest(site), defaultHeaders()))
	require.NoError(t, err)
	assert.Equal(t, http.StatusAccepted, resp.StatusCode)

	body := decodeBody(t, resp)
	token, _ := body["cache"].(string)
	require.NotEmpty(t, token)
	assert.Equal(t, token, resp.Header.Get(CacheHeader))

	sessionID, ok := verifySessionToken(testPrivateKey, token)
	require.True(t, ok)

	var eventCount int64
	db.Table("events").Where("session_id = ?", sessionID).Count(&eventCount)
	assert.Equal(t, int64(1), eventCount)
}

func TestSendRejectsMissingOrigin(t *testing.T) {
	app, _, site := testApp(t)

	resp, err := app.Test(sendRequest(t, eventRequest(site), map[string]string{
		"User-Agent": firefoxUA,
	}))
	require.NoError(t, err)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
}

func TestSendRejectsUnregisteredOrigin(t *testing.T) {
	app, _, site := testApp(t)

	resp, err := app.Test(sendRequest(t, eventRequest(site), map[string]string{
		"Origin":     "https://unregistered.io",
		"User-Agent": firefoxUA,
	}))
	require.NoError(t, err)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
}

func TestSendAcceptsSubdomainOrigin(t *testing.T) {
	app, _, site := testApp(t)

	resp, err := app.Test(sendRequest(t, eventRequest(site), map[string]string{
		"Origin":     "https://app.example.com",
		"User-Agent": firefoxUA,
	}))
	require.NoError(t, err)
	assert.Equal(t, http.StatusAccepted, resp.StatusCode)
}

func TestSendRejectsMissingWebsiteBeforeWriting(t *testing.T) {
	app, db, site := testApp(t)

	req := eventRequest(site)
	req.Payload.Website = "nope"
	resp, err := app.Test(sendRequest(t, req, defaultHeaders()))
	require.NoError(t, err)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	var eventCount int64
	db.Table("events").Count(&eventCount)
	assert.Zero(t, eventCount)
}

func TestSendRejectsInvalidPayload(t *testing.T) {
	app, _, site := testApp(t)

	req := eventRequest(site)
	req.Payload.URL = ""
	resp, err := app.Test(sendRequest(t, req, defaultHeaders()))
	require.NoError(t, err)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestSendDropsBots(t *testing.T) {
	app, db, site := testApp(t)

	headers := defaultHeaders()
	headers["User-Agent"] = "Mozilla/5.0 (compatible; Googlebot/2.1; +http://www.google.com/bot.html)"
	resp, err := app.Test(sendRequest(t, eventRequest(site), headers))
	require.NoError(t, err)
	assert.Equal(t, http.StatusAccepted, resp.StatusCode)

	body := decodeBody(t, resp)
	assert.Equal(t, true, body["disabled"])

	var eventCount int64
	db.Table("events").Count(&eventCount)
	assert.Zero(t, eventCount)
}

func TestSendPayloadTooLarge(t *testing.T) {
	app, _, site := testApp(t)

	req := eventRequest(site)
	req.Payload.Title = strings.Repeat("x", 20*1024)
	resp, err := app.Test(sendRequest(t, req, defaultHeaders()))
	require.NoError(t, err)
	assert.Equal(t, http.StatusRequestEntityTooLarge, resp.StatusCode)
}

func TestIdentifyUpdatesSessionIdentity(t *testing.T) {
	app, db, site := testApp(t)

	resp, err := app.Test(sendRequest(t, eventRequest(site), defaultHeaders()))
	require.NoError(t, err)
	token := resp.Header.Get(CacheHeader)
	require.NotEmpty(t, token)

	headers := defaultHeaders()
	headers[CacheHeader] = token
	identify := SendRequest{Type: sendTypeIdentify}
	identify.Payload.Website = site.WebsiteKey
	identify.Payload.IdentityID = "user-42"

	resp, err = app.Test(sendRequest(t, identify, headers))
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	sessionID, _ := verifySessionToken(testPrivateKey, token)
	var identityID string
	require.NoError(t, db.Table("sessions").Where("id = ?", sessionID).
		Select("identity_id").Scan(&identityID).Error)
	assert.Equal(t, "user-42", identityID)
}

func TestIdentifyRejectsTamperedToken(t *testing.T) {
	app, _, site := testApp(t)

	headers := defaultHeaders()
	headers[CacheHeader] = "forged-session-id.deadbeef"
	identify := SendRequest{Type: sendTypeIdentify}
	identify.Payload.Website = site.WebsiteKey
	identify.Payload.IdentityID = "user-42"

	resp, err := app.Test(sendRequest(t, identify, headers))
	require.NoError(t, err)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestSessionTokenRoundTrip(t *testing.T) {
	token := signSessionToken(testPrivateKey, "abc-123")

	sessionID, ok := verifySessionToken(testPrivateKey, token)
	require.True(t, ok)
	assert.Equal(t, "abc-123", sessionID)

	_, ok = verifySessionToken("other-key", token)
	assert.False(t, ok)

	_, ok = verifySessionToken(testPrivateKey, token+"0")
	assert.False(t, ok)
}

func eventPayload(site *websites.Website) events.Payload {
	return events.Payload{
		Website:  site.WebsiteKey,
		Hostname: "example.com",
		URL:      "https://example.com/pricing",
		Language: "en-US",
		Screen:   "1920x1080",
	}
}
