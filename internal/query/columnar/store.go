// Package columnar answers analytical operations against the
// append-only ClickHouse store with hand-written SQL. Session
// attributes are denormalized onto each event row at append time, so
// every aggregate resolves in one table without joins.
package columnar

import (
	"context"
	"fmt"
	"regexp"
	"sort"

	"github.com/ClickHouse/clickhouse-go/v2"

	"sitelens/internal/query"
	"sitelens/internal/timeframe"
)

const eventsTable = "sl_events"

// Store implements query.ColumnarBackend.
type Store struct {
	conn clickhouse.Conn
	// approxThreshold is the distinct-count cardinality above which
	// visitor counting switches to the probabilistic sketch.
	approxThreshold int64
}

// New builds a Store over an open native connection.
func New(conn clickhouse.Conn, approxThreshold int64) *Store {
	return &Store{conn: conn, approxThreshold: approxThreshold}
}

// EnsureSchema creates the events table. Retention is enforced by the
// engine itself through a TTL; a non-positive day count disables it.
func (s *Store) EnsureSchema(ctx context.Context, retentionDays int) error {
	ttl := ""
	if retentionDays > 0 {
		ttl = fmt.Sprintf("TTL timestamp + INTERVAL %d DAY", retentionDays)
	}

	ddl := fmt.Sprintf(`
        CREATE TABLE IF NOT EXISTS %s (
            website_id        UInt32,
            session_id        String,
            event_type        UInt8,
            hostname          LowCardinality(String),
            pathname          String,
            referrer_hostname LowCardinality(String),
            browser           LowCardinality(String),
            operating_system  LowCardinality(String),
            device            LowCardinality(String),
            country           LowCardinality(String),
            language          LowCardinality(String),
            event_name        LowCardinality(String),
            tag               LowCardinality(String),
            event_data        String,
            timestamp         DateTime
        )
        ENGINE = MergeTree
        PARTITION BY toYYYYMM(timestamp)
        ORDER BY (website_id, timestamp, session_id)
        %s
    `, eventsTable, ttl)

	if err := s.conn.Exec(ctx, ddl); err != nil {
		return fmt.Errorf("error creating %s table: %w", eventsTable, err)
	}
	return nil
}

// bucketExpr maps a granularity to the ClickHouse truncation function.
// Buckets come back as native timestamps and are rendered to canonical
// keys in Go, so both engines feed the gap-filler identical keys.
func bucketExpr(size timeframe.BucketSize) (string, error) {
	switch size {
	case timeframe.BucketHour:
		return "toStartOfHour(timestamp)", nil
	case timeframe.BucketDay:
		return "toStartOfDay(timestamp)", nil
	case timeframe.BucketWeek:
		// Mode 1 starts weeks on Monday.
		return "toStartOfWeek(timestamp, 1)", nil
	case timeframe.BucketMonth:
		return "toStartOfMonth(timestamp)", nil
	case timeframe.BucketYear:
		return "toStartOfYear(timestamp)", nil
	default:
		return "", fmt.Errorf("unsupported bucket size: %v", size)
	}
}

var dimensionColumns = map[string]string{
	"pathname": "pathname",
	"referrer": "referrer_hostname",
	"hostname": "hostname",
	"tag":      "tag",
	"browser":  "browser",
	"os":       "operating_system",
	"device":   "device",
	"country":  "country",
	"language": "language",
}

// sessionDimensions rank by distinct visitors rather than raw events.
var sessionDimensions = map[string]bool{
	"browser": true, "os": true, "device": true,
	"country": true, "language": true,
}

func dimensionColumn(dimension string) (string, error) {
	column, ok := dimensionColumns[dimension]
	if !ok {
		return "", &query.ParamsError{Reason: fmt.Sprintf("unknown dimension: %q", dimension)}
	}
	return column, nil
}

// filterConditions translates dimension filters. Every dimension is a
// denormalized column here, so no filter changes the query shape.
func filterConditions(filters map[string]string) (conds []string, args []any, err error) {
	keys := make([]string, 0, len(filters))
	for key := range filters {
		keys = append(keys, key)
	}
	// Deterministic SQL regardless of map order.
	sort.Strings(keys)

	for _, key := range keys {
		column, err := dimensionColumn(key)
		if err != nil {
			return nil, nil, err
		}
		conds = append(conds, fmt.Sprintf("%s = ?", column))
		args = append(args, filters[key])
	}
	return conds, args, nil
}

var propertyNamePattern = regexp.MustCompile(`^[A-Za-z0-9_.-]+$`)

func sanitizeProperty(property string) (string, error) {
	if property == "" {
		return "", &query.ParamsError{Reason: "event property name is required"}
	}
	if !propertyNamePattern.MatchString(property) {
		return "", &query.ParamsError{Reason: fmt.Sprintf("invalid event property name: %q", property)}
	}
	return property, nil
}

func requireTimeFrame(p query.Params) (*timeframe.TimeFrame, error) {
	if p.TimeFrame == nil {
		return nil, &query.ParamsError{Reason: "a time frame is required"}
	}
	return p.TimeFrame, nil
}
