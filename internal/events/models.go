// Package events defines the append-only event model and its typed
// property handling.
package events

import (
	"encoding/json"
	"time"

	"gorm.io/datatypes"
)

// EventType represents the type of event.
type EventType int

const (
	EventTypePageView    EventType = 1
	EventTypeCustomEvent EventType = 2
)

// Property value types, declared at write time so aggregation queries
// can filter and group without ambiguous casting.
const (
	DataTypeString  = "string"
	DataTypeNumber  = "number"
	DataTypeBoolean = "boolean"
	DataTypeDate    = "date"
)

// Event is a single page view or custom event. Append-only: rows are
// never updated, which is what lets the columnar store mirror them as
// immutable facts.
type Event struct {
	ID               uint           `gorm:"primaryKey;autoIncrement" json:"id"`
	WebsiteID        uint           `gorm:"index:idx_event_website_ts;not null" json:"website_id"`
	SessionID        string         `gorm:"index;size:36;not null" json:"session_id"`
	EventType        EventType      `gorm:"not null;default:1" json:"event_type"`
	Hostname         string         `gorm:"index;not null" json:"hostname"`
	Pathname         string         `gorm:"index;not null" json:"pathname"`
	QueryString      string         `json:"query_string"`
	ReferrerHostname string         `gorm:"index" json:"referrer_hostname"`
	ReferrerPathname string         `json:"referrer_pathname"`
	Title            string         `json:"title"`
	Tag              string         `json:"tag"`
	EventName        string         `gorm:"index" json:"event_name"`
	EventData        datatypes.JSON `json:"event_data"`
	DataTypes        datatypes.JSON `json:"data_types"`
	Timestamp        time.Time      `gorm:"index:idx_event_website_ts;not null" json:"timestamp"`
	CreatedAt        time.Time      `json:"created_at"`
}

// PropertyType classifies a decoded JSON property value into the
// declared value-type vocabulary.
func PropertyType(value any) string {
	switch v := value.(type) {
	case bool:
		return DataTypeBoolean
	case float64, int, int64, json.Number:
		return DataTypeNumber
	case string:
		if _, err := time.Parse(time.RFC3339, v); err == nil {
			return DataTypeDate
		}
		return DataTypeString
	default:
		return DataTypeString
	}
}

// EncodeEventData marshals a flat property map plus its per-property
// type declarations.
func EncodeEventData(data map[string]any) (datatypes.JSON, datatypes.JSON, error) {
	if len(data) == 0 {
		return nil, nil, nil
	}

	raw, err := json.Marshal(data)
	if err != nil {
		return nil, nil, err
	}

	types := make(map[string]string, len(data))
	for name, value := range data {
		types[name] = PropertyType(value)
	}
	rawTypes, err := json.Marshal(types)
	if err != nil {
		return nil, nil, err
	}

	return datatypes.JSON(raw), datatypes.JSON(rawTypes), nil
}
