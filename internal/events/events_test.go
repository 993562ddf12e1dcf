package events_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sitelens/internal/events"
	"sitelens/internal/testsupport"
)

func TestPropertyTypeClassification(t *testing.T) {
	assert.Equal(t, events.DataTypeBoolean, events.PropertyType(true))
	assert.Equal(t, events.DataTypeNumber, events.PropertyType(float64(5)))
	assert.Equal(t, events.DataTypeNumber, events.PropertyType(42))
	assert.Equal(t, events.DataTypeString, events.PropertyType("pro"))
	assert.Equal(t, events.DataTypeDate, events.PropertyType("2026-03-01T10:00:00Z"))
	assert.Equal(t, events.DataTypeString, events.PropertyType("2026-03-01"))
	assert.Equal(t, events.DataTypeString, events.PropertyType(nil))
}

func TestEncodeEventData(t *testing.T) {
	data, types, err := events.EncodeEventData(map[string]any{
		"plan":  "pro",
		"seats": float64(5),
		"trial": true,
	})
	require.NoError(t, err)

	assert.JSONEq(t, `{"plan":"pro","seats":5,"trial":true}`, string(data))
	assert.JSONEq(t, `{"plan":"string","seats":"number","trial":"boolean"}`, string(types))
}

func TestEncodeEventDataEmpty(t *testing.T) {
	data, types, err := events.EncodeEventData(nil)
	require.NoError(t, err)
	assert.Nil(t, data)
	assert.Nil(t, types)
}

func TestPayloadValidate(t *testing.T) {
	valid := events.Payload{
		Website: "key", URL: "https://example.com/pricing", Hostname: "example.com",
	}
	require.NoError(t, valid.Validate(50))

	missingWebsite := valid
	missingWebsite.Website = ""
	err := missingWebsite.Validate(50)
	var validationErr *events.ValidationError
	require.ErrorAs(t, err, &validationErr)
	assert.Equal(t, "website", validationErr.Field)

	missingURL := valid
	missingURL.URL = ""
	err = missingURL.Validate(50)
	require.ErrorAs(t, err, &validationErr)
	assert.Equal(t, "url", validationErr.Field)

	tooManyProps := valid
	tooManyProps.Data = map[string]any{"a": 1, "b": 2, "c": 3}
	err = tooManyProps.Validate(2)
	require.ErrorAs(t, err, &validationErr)
	assert.Equal(t, "data", validationErr.Field)
}

func TestPayloadHostnameFallsBackToURL(t *testing.T) {
	payload := events.Payload{Website: "key", URL: "https://example.com/pricing"}
	require.NoError(t, payload.Validate(50))
	assert.Equal(t, "example.com", payload.EffectiveHostname())
}

func TestDeleteOlderThan(t *testing.T) {
	db := testsupport.SetupTestDB(t)
	site := testsupport.CreateTestWebsite(t, db, "example.com")
	session := testsupport.CreateTestSession(t, db, site.ID, time.Now().UTC())

	old := time.Now().UTC().AddDate(0, 0, -90)
	testsupport.CreateTestPageview(t, db, site.ID, session.ID, "/", old)
	testsupport.CreateTestPageview(t, db, site.ID, session.ID, "/", time.Now().UTC())

	deleted, err := events.DeleteOlderThan(db, 30)
	require.NoError(t, err)
	assert.Equal(t, int64(1), deleted)

	var remaining int64
	db.Table("events").Count(&remaining)
	assert.Equal(t, int64(1), remaining)
}

func TestDeleteOlderThanDisabled(t *testing.T) {
	db := testsupport.SetupTestDB(t)

	deleted, err := events.DeleteOlderThan(db, 0)
	require.NoError(t, err)
	assert.Zero(t, deleted)
}
