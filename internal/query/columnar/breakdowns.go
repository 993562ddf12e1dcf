package columnar

import (
	"context"
	"fmt"
	"strings"

	"sitelens/internal/events"
	"sitelens/internal/query"
)

const defaultBreakdownLimit = 10

func breakdownLimit(p query.Params) int {
	if p.Limit > 0 {
		return p.Limit
	}
	return defaultBreakdownLimit
}

// TopDimension ranks the values of one dimension by traffic. Visitor
// dimensions rank by distinct sessions, event dimensions by raw event
// count.
func (s *Store) TopDimension(ctx context.Context, dimension string, p query.Params) ([]query.BucketValue, error) {
	tf, err := requireTimeFrame(p)
	if err != nil {
		return nil, err
	}

	column, err := dimensionColumn(dimension)
	if err != nil {
		return nil, err
	}

	aggregate := "count()"
	if sessionDimensions[dimension] {
		aggregate = "uniqExact(session_id)"
	}

	conds := []string{
		"website_id = ?",
		"timestamp >= ?",
		"timestamp <= ?",
		fmt.Sprintf("%s != ''", column),
	}
	args := []any{p.WebsiteID, tf.From, tf.To}

	filterConds, filterArgs, err := filterConditions(p.Filters)
	if err != nil {
		return nil, err
	}
	conds = append(conds, filterConds...)
	args = append(args, filterArgs...)

	sql := fmt.Sprintf(`
        SELECT %s AS bucket, %s AS value
        FROM %s
        WHERE %s
        GROUP BY bucket
        ORDER BY value DESC, bucket ASC
        LIMIT %d
    `, column, aggregate, eventsTable, strings.Join(conds, " AND "), breakdownLimit(p))

	return s.scanBreakdown(ctx, sql, args...)
}

// EventBreakdown groups one named custom event by an event-data
// property, extracted from the raw JSON payload.
func (s *Store) EventBreakdown(ctx context.Context, p query.Params) ([]query.BucketValue, error) {
	tf, err := requireTimeFrame(p)
	if err != nil {
		return nil, err
	}
	if p.EventName == "" {
		return nil, &query.ParamsError{Reason: "an event name is required for a breakdown"}
	}

	prop, err := sanitizeProperty(p.Property)
	if err != nil {
		return nil, err
	}

	sql := fmt.Sprintf(`
        SELECT JSONExtractRaw(event_data, '%s') AS bucket_raw,
               JSONExtractString(event_data, '%s') AS bucket_str,
               count() AS value
        FROM %s
        WHERE website_id = ?
          AND timestamp >= ? AND timestamp <= ?
          AND event_type = ?
          AND event_name = ?
          AND JSONHas(event_data, '%s')
        GROUP BY bucket_raw, bucket_str
        ORDER BY value DESC, bucket_raw ASC
        LIMIT %d
    `, prop, prop, eventsTable, prop, breakdownLimit(p))

	rows, err := s.conn.Query(ctx, sql,
		p.WebsiteID, tf.From, tf.To,
		uint8(events.EventTypeCustomEvent), p.EventName,
	)
	if err != nil {
		return nil, fmt.Errorf("error querying breakdown of %s by %s: %w", p.EventName, p.Property, err)
	}
	defer rows.Close()

	var results []query.BucketValue
	for rows.Next() {
		var raw, str string
		var value uint64
		if err := rows.Scan(&raw, &str, &value); err != nil {
			return nil, fmt.Errorf("error scanning breakdown row: %w", err)
		}
		// String properties extract cleanly; other value types fall back
		// to their raw JSON rendering so numbers and booleans stay
		// distinguishable.
		bucket := str
		if bucket == "" {
			bucket = raw
		}
		results = append(results, query.BucketValue{Bucket: bucket, Value: int64(value)})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating breakdown rows: %w", err)
	}
	return results, nil
}

func (s *Store) scanBreakdown(ctx context.Context, sql string, args ...any) ([]query.BucketValue, error) {
	rows, err := s.conn.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("error querying breakdown: %w", err)
	}
	defer rows.Close()

	var results []query.BucketValue
	for rows.Next() {
		var bucket string
		var value uint64
		if err := rows.Scan(&bucket, &value); err != nil {
			return nil, fmt.Errorf("error scanning breakdown row: %w", err)
		}
		results = append(results, query.BucketValue{Bucket: bucket, Value: int64(value)})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating breakdown rows: %w", err)
	}
	return results, nil
}
