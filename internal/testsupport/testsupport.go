// Package testsupport provides shared test fixtures: an isolated
// in-memory database per test plus helpers for seeding websites,
// sessions and events.
package testsupport

import (
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"sitelens/internal/events"
	"sitelens/internal/sessions"
	"sitelens/internal/websites"
)

// testDBCache shares one database between multiple setup calls inside
// the same test.
var testDBCache = make(map[string]*gorm.DB)
var testDBCacheMu sync.Mutex

func allModels() []any {
	return []any{
		&websites.Website{},
		&sessions.Session{},
		&events.Event{},
	}
}

// SetupTestDB creates a migrated test database. It uses a named
// in-memory database with cache=shared so multiple connections within a
// test see the same data, cached by root test name so subtests share
// it.
func SetupTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	rootName := t.Name()
	if idx := strings.Index(rootName, "/"); idx > 0 {
		rootName = rootName[:idx]
	}

	testDBCacheMu.Lock()
	if db, exists := testDBCache[rootName]; exists {
		testDBCacheMu.Unlock()
		return db
	}
	testDBCacheMu.Unlock()

	sanitizedName := strings.ReplaceAll(rootName, "/", "_")
	dsn := fmt.Sprintf("file:test_%s_%d?mode=memory&cache=shared", sanitizedName, time.Now().UnixNano())

	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("testsupport: failed to open test database: %v", err)
	}

	db.Exec("PRAGMA foreign_keys = ON")

	if err := db.AutoMigrate(allModels()...); err != nil {
		t.Fatalf("testsupport: failed to migrate models: %v", err)
	}

	testDBCacheMu.Lock()
	testDBCache[rootName] = db
	testDBCacheMu.Unlock()

	t.Cleanup(func() {
		testDBCacheMu.Lock()
		delete(testDBCache, rootName)
		testDBCacheMu.Unlock()
		if sqlDB, err := db.DB(); err == nil {
			sqlDB.Close()
		}
	})

	return db
}

// CreateTestWebsite seeds one website.
func CreateTestWebsite(t *testing.T, db *gorm.DB, domain string) *websites.Website {
	t.Helper()

	site := &websites.Website{Domain: domain}
	if err := db.Create(site).Error; err != nil {
		t.Fatalf("testsupport: failed to create website %s: %v", domain, err)
	}
	return site
}

// SessionOverride mutates a seeded session before insert.
type SessionOverride func(*sessions.Session)

// CreateTestSession seeds one session with sensible defaults.
func CreateTestSession(t *testing.T, db *gorm.DB, websiteID uint, firstSeen time.Time, overrides ...SessionOverride) *sessions.Session {
	t.Helper()

	session := &sessions.Session{
		ID:              uuid.NewString(),
		WebsiteID:       websiteID,
		Fingerprint:     uuid.NewString()[:32] + uuid.NewString()[:32],
		Hostname:        "example.com",
		Browser:         "Firefox",
		OperatingSystem: "Linux",
		Device:          "desktop",
		Country:         "DE",
		Language:        "de-DE",
		FirstSeen:       firstSeen.UTC(),
	}
	for _, override := range overrides {
		override(session)
	}
	if err := db.Create(session).Error; err != nil {
		t.Fatalf("testsupport: failed to create session: %v", err)
	}
	return session
}

// EventOverride mutates a seeded event before insert.
type EventOverride func(*events.Event)

// CreateTestPageview seeds one page-view event.
func CreateTestPageview(t *testing.T, db *gorm.DB, websiteID uint, sessionID string, pathname string, ts time.Time, overrides ...EventOverride) *events.Event {
	t.Helper()

	event := &events.Event{
		WebsiteID: websiteID,
		SessionID: sessionID,
		EventType: events.EventTypePageView,
		Hostname:  "example.com",
		Pathname:  pathname,
		Timestamp: ts.UTC(),
	}
	for _, override := range overrides {
		override(event)
	}
	if err := db.Create(event).Error; err != nil {
		t.Fatalf("testsupport: failed to create event: %v", err)
	}
	return event
}

// CreateTestCustomEvent seeds one named custom event with typed data.
func CreateTestCustomEvent(t *testing.T, db *gorm.DB, websiteID uint, sessionID, name string, data map[string]any, ts time.Time) *events.Event {
	t.Helper()

	eventData, dataTypes, err := events.EncodeEventData(data)
	if err != nil {
		t.Fatalf("testsupport: failed to encode event data: %v", err)
	}

	event := &events.Event{
		WebsiteID: websiteID,
		SessionID: sessionID,
		EventType: events.EventTypeCustomEvent,
		Hostname:  "example.com",
		Pathname:  "/",
		EventName: name,
		EventData: eventData,
		DataTypes: dataTypes,
		Timestamp: ts.UTC(),
	}
	if err := db.Create(event).Error; err != nil {
		t.Fatalf("testsupport: failed to create custom event: %v", err)
	}
	return event
}
