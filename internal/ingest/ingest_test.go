package ingest

import (
	"context"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"sitelens/internal/config"
	"sitelens/internal/engine"
	"sitelens/internal/events"
	"sitelens/internal/pkg/geoip"
	"sitelens/internal/query"
	"sitelens/internal/query/relational"
	"sitelens/internal/testsupport"
	"sitelens/internal/timeframe"
	"sitelens/internal/websites"
)

const firefoxUA = "Mozilla/5.0 (Windows NT 10.0; Win64; x64; rv:128.0) Gecko/20100101 Firefox/128.0"

func testPipeline(t *testing.T) (*Pipeline, *gorm.DB, *websites.Website) {
	t.Helper()

	db := testsupport.SetupTestDB(t)
	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)

	cfg := &config.Config{
		Environment:          config.Test,
		PrivateKey:           "test-private-key",
		SessionWindowSeconds: 1800,
		MaxEventDataProps:    50,
	}

	store := relational.New(db, engine.SQLite)
	router := query.NewRouter(engine.Deployment{Relational: engine.SQLite}, store, nil, logger)
	pipeline := NewPipeline(db, router, geoip.NewResolver("", logger), cfg, logger)

	site := testsupport.CreateTestWebsite(t, db, "example.com")
	return pipeline, db, site
}

func pageviewInput(site *websites.Website, path string) Input {
	return Input{
		Payload: events.Payload{
			Website:  site.WebsiteKey,
			Hostname: "example.com",
			URL:      "https://example.com" + path,
			Language: "de-DE,de;q=0.9",
			Screen:   "1920x1080",
		},
		IPAddress: "203.0.113.7",
		UserAgent: firefoxUA,
		Timestamp: time.Now(),
	}
}

func TestCollectWritesPageview(t *testing.T) {
	pipeline, db, site := testPipeline(t)

	outcome, err := pipeline.Collect(context.Background(), pageviewInput(site, "/pricing?ref=x"))
	require.NoError(t, err)
	assert.False(t, outcome.Dropped)
	assert.True(t, outcome.SessionCreated)
	require.NotEmpty(t, outcome.SessionID)

	var event events.Event
	require.NoError(t, db.First(&event).Error)
	assert.Equal(t, site.ID, event.WebsiteID)
	assert.Equal(t, outcome.SessionID, event.SessionID)
	assert.Equal(t, events.EventTypePageView, event.EventType)
	assert.Equal(t, "/pricing", event.Pathname)
	assert.Empty(t, event.QueryString, "query strings are stripped by default")
}

func TestCollectResolvesSameSessionWithinWindow(t *testing.T) {
	pipeline, db, site := testPipeline(t)

	first, err := pipeline.Collect(context.Background(), pageviewInput(site, "/"))
	require.NoError(t, err)
	second, err := pipeline.Collect(context.Background(), pageviewInput(site, "/about"))
	require.NoError(t, err)

	assert.True(t, first.SessionCreated)
	assert.False(t, second.SessionCreated)
	assert.Equal(t, first.SessionID, second.SessionID)

	var count int64
	db.Table("sessions").Count(&count)
	assert.Equal(t, int64(1), count)
}

func TestCollectRejectsUnknownWebsiteBeforeWriting(t *testing.T) {
	pipeline, db, site := testPipeline(t)

	input := pageviewInput(site, "/")
	input.Payload.Website = "not-a-registered-key"

	_, err := pipeline.Collect(context.Background(), input)
	var notFound *websites.WebsiteNotFoundError
	require.ErrorAs(t, err, &notFound)

	var eventCount, sessionCount int64
	db.Table("events").Count(&eventCount)
	db.Table("sessions").Count(&sessionCount)
	assert.Zero(t, eventCount)
	assert.Zero(t, sessionCount)
}

func TestCollectRejectsInvalidPayloadBeforeWriting(t *testing.T) {
	pipeline, db, site := testPipeline(t)

	input := pageviewInput(site, "/")
	input.Payload.Website = ""

	_, err := pipeline.Collect(context.Background(), input)
	var validationErr *events.ValidationError
	require.ErrorAs(t, err, &validationErr)
	assert.Equal(t, "website", validationErr.Field)

	var eventCount int64
	db.Table("events").Count(&eventCount)
	assert.Zero(t, eventCount)
}

func TestCollectDropsBotTraffic(t *testing.T) {
	pipeline, db, site := testPipeline(t)

	input := pageviewInput(site, "/")
	input.UserAgent = "Mozilla/5.0 (compatible; Googlebot/2.1; +http://www.google.com/bot.html)"

	outcome, err := pipeline.Collect(context.Background(), input)
	require.NoError(t, err)
	assert.True(t, outcome.Dropped)

	var eventCount int64
	db.Table("events").Count(&eventCount)
	assert.Zero(t, eventCount)
}

func TestCollectCustomEventWithTypedData(t *testing.T) {
	pipeline, db, site := testPipeline(t)

	input := pageviewInput(site, "/checkout")
	input.Payload.Name = "purchase"
	input.Payload.Data = map[string]any{"plan": "pro", "seats": float64(5), "trial": true}

	_, err := pipeline.Collect(context.Background(), input)
	require.NoError(t, err)

	var event events.Event
	require.NoError(t, db.First(&event).Error)
	assert.Equal(t, events.EventTypeCustomEvent, event.EventType)
	assert.Equal(t, "purchase", event.EventName)
	assert.JSONEq(t, `{"plan":"string","seats":"number","trial":"boolean"}`, string(event.DataTypes))

	// Round trip: the ingested property is queryable as a breakdown.
	store := relational.New(db, engine.SQLite)
	router := query.NewRouter(engine.Deployment{Relational: engine.SQLite}, store, nil, logrus.New())

	now := time.Now().UTC()
	tf, err := timeframe.New(now.Add(-time.Hour), now.Add(time.Hour), timeframe.BucketHour)
	require.NoError(t, err)

	result, err := router.Execute(context.Background(), query.OpEventBreakdown, query.Params{
		WebsiteID: site.ID,
		TimeFrame: tf,
		EventName: "purchase",
		Property:  "plan",
	})
	require.NoError(t, err)
	require.Len(t, result.Series, 1)
	assert.Equal(t, "pro", result.Series[0].Bucket)
	assert.GreaterOrEqual(t, result.Series[0].Value, int64(1))
}

func TestCollectAttachesSessionAttributes(t *testing.T) {
	pipeline, db, site := testPipeline(t)

	outcome, err := pipeline.Collect(context.Background(), pageviewInput(site, "/"))
	require.NoError(t, err)

	var session struct {
		Browser         string
		OperatingSystem string
		Device          string
		Language        string
	}
	require.NoError(t, db.Table("sessions").Where("id = ?", outcome.SessionID).
		Select("browser, operating_system, device, language").Scan(&session).Error)
	assert.Equal(t, "Firefox", session.Browser)
	assert.Equal(t, "Windows", session.OperatingSystem)
	assert.Equal(t, "desktop", session.Device)
	assert.Equal(t, "de-DE", session.Language)
}

func TestCollectSetsIdentity(t *testing.T) {
	pipeline, db, site := testPipeline(t)

	input := pageviewInput(site, "/")
	input.Payload.IdentityID = "user-42"

	outcome, err := pipeline.Collect(context.Background(), input)
	require.NoError(t, err)

	var identityID string
	require.NoError(t, db.Table("sessions").Where("id = ?", outcome.SessionID).
		Select("identity_id").Scan(&identityID).Error)
	assert.Equal(t, "user-42", identityID)
}

func TestCollectIgnoresSelfReferrals(t *testing.T) {
	pipeline, db, site := testPipeline(t)

	input := pageviewInput(site, "/about")
	input.Payload.Referrer = "https://example.com/"

	_, err := pipeline.Collect(context.Background(), input)
	require.NoError(t, err)

	var event events.Event
	require.NoError(t, db.First(&event).Error)
	assert.Empty(t, event.ReferrerHostname)
}

func TestCollectRecordsExternalReferrer(t *testing.T) {
	pipeline, db, site := testPipeline(t)

	input := pageviewInput(site, "/")
	input.Payload.Referrer = "https://news.ycombinator.com/item?id=1"

	_, err := pipeline.Collect(context.Background(), input)
	require.NoError(t, err)

	var event events.Event
	require.NoError(t, db.First(&event).Error)
	assert.Equal(t, "news.ycombinator.com", event.ReferrerHostname)
	assert.Equal(t, "/item", event.ReferrerPathname)
}
