package columnar

import (
	"context"
	"fmt"
	"strings"
	"time"

	"sitelens/internal/events"
	"sitelens/internal/query"
	"sitelens/internal/timeframe"
)

// PageviewSeries counts page views per bucket.
func (s *Store) PageviewSeries(ctx context.Context, p query.Params) ([]query.BucketValue, error) {
	return s.countSeries(ctx, p, "count()", events.EventTypePageView, "")
}

// EventSeries counts custom events per bucket, optionally scoped to one
// event name.
func (s *Store) EventSeries(ctx context.Context, p query.Params) ([]query.BucketValue, error) {
	return s.countSeries(ctx, p, "count()", events.EventTypeCustomEvent, p.EventName)
}

func (s *Store) countSeries(ctx context.Context, p query.Params, aggregate string, eventType events.EventType, eventName string) ([]query.BucketValue, error) {
	tf, err := requireTimeFrame(p)
	if err != nil {
		return nil, err
	}

	bucket, err := bucketExpr(tf.BucketSize)
	if err != nil {
		return nil, err
	}

	conds := []string{"website_id = ?", "timestamp >= ?", "timestamp <= ?"}
	args := []any{p.WebsiteID, tf.From, tf.To}

	if eventType != 0 {
		conds = append(conds, "event_type = ?")
		args = append(args, uint8(eventType))
	}
	if eventName != "" {
		conds = append(conds, "event_name = ?")
		args = append(args, eventName)
	}

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
        ORDER BY bucket ASC
    `, bucket, aggregate, eventsTable, strings.Join(conds, " AND "))

	grouped, err := s.scanTimeSeries(ctx, tf, sql, args...)
	if err != nil {
		return nil, err
	}
	return toBucketValues(tf.BuildTimeSeriesPoints(grouped)), nil
}

// VisitorSeries counts distinct visitors per bucket. Below the
// configured cardinality threshold it counts exactly; above it the
// probabilistic sketch takes over and the result is flagged
// approximate.
func (s *Store) VisitorSeries(ctx context.Context, p query.Params) ([]query.BucketValue, bool, error) {
	tf, err := requireTimeFrame(p)
	if err != nil {
		return nil, false, err
	}

	bucket, err := bucketExpr(tf.BucketSize)
	if err != nil {
		return nil, false, err
	}

	conds := []string{"website_id = ?", "timestamp >= ?", "timestamp <= ?"}
	args := []any{p.WebsiteID, tf.From, tf.To}

	filterConds, filterArgs, err := filterConditions(p.Filters)
	if err != nil {
		return nil, false, err
	}
	conds = append(conds, filterConds...)
	args = append(args, filterArgs...)
	where := strings.Join(conds, " AND ")

	// Cheap sketch-based estimate of the overall cardinality decides the
	// counting strategy for the whole series.
	estimateSQL := fmt.Sprintf(`
        SELECT uniqCombined64(session_id) FROM %s WHERE %s
    `, eventsTable, where)

	var estimate uint64
	if err := s.conn.QueryRow(ctx, estimateSQL, args...).Scan(&estimate); err != nil {
		return nil, false, fmt.Errorf("error estimating visitor cardinality: %w", err)
	}

	countFn := "uniqExact(session_id)"
	approximate := false
	if s.approxThreshold > 0 && estimate > uint64(s.approxThreshold) {
		countFn = "uniqCombined64(session_id)"
		approximate = true
	}

	sql := fmt.Sprintf(`
        SELECT %s AS bucket, %s AS value
        FROM %s
        WHERE %s
        GROUP BY bucket
        ORDER BY bucket ASC
    `, bucket, countFn, eventsTable, where)

	grouped, err := s.scanTimeSeries(ctx, tf, sql, args...)
	if err != nil {
		return nil, false, err
	}
	return toBucketValues(tf.BuildTimeSeriesPoints(grouped)), approximate, nil
}

// SessionSeries counts sessions started per bucket. A session starts at
// its earliest event in the store.
func (s *Store) SessionSeries(ctx context.Context, p query.Params) ([]query.BucketValue, error) {
	tf, err := requireTimeFrame(p)
	if err != nil {
		return nil, err
	}

	bucket, err := bucketExpr(tf.BucketSize)
	if err != nil {
		return nil, err
	}
	// The inner query collapses to one row per session before bucketing
	// its first event.
	innerBucket := strings.ReplaceAll(bucket, "timestamp", "first_ts")

	conds := []string{"website_id = ?", "timestamp >= ?", "timestamp <= ?"}
	args := []any{p.WebsiteID, tf.From, tf.To}

	filterConds, filterArgs, err := filterConditions(p.Filters)
	if err != nil {
		return nil, err
	}
	conds = append(conds, filterConds...)
	args = append(args, filterArgs...)

	sql := fmt.Sprintf(`
        SELECT %s AS bucket, count() AS value
        FROM (
            SELECT session_id, min(timestamp) AS first_ts
            FROM %s
            WHERE %s
            GROUP BY session_id
        )
        GROUP BY bucket
        ORDER BY bucket ASC
    `, innerBucket, eventsTable, strings.Join(conds, " AND "))

	grouped, err := s.scanTimeSeries(ctx, tf, sql, args...)
	if err != nil {
		return nil, err
	}
	return toBucketValues(tf.BuildTimeSeriesPoints(grouped)), nil
}

const activeVisitorWindow = 5 * time.Minute

// ActiveVisitors counts distinct visitors with an event inside the
// active window, honoring dimension filters like every other
// operation.
func (s *Store) ActiveVisitors(ctx context.Context, p query.Params) ([]query.BucketValue, error) {
	cutoff := time.Now().UTC().Add(-activeVisitorWindow)

	conds := []string{"website_id = ?", "timestamp >= ?"}
	args := []any{p.WebsiteID, cutoff}

	filterConds, filterArgs, err := filterConditions(p.Filters)
	if err != nil {
		return nil, err
	}
	conds = append(conds, filterConds...)
	args = append(args, filterArgs...)

	sql := fmt.Sprintf(`
        SELECT uniqExact(session_id) FROM %s
        WHERE %s
    `, eventsTable, strings.Join(conds, " AND "))

	var count uint64
	if err := s.conn.QueryRow(ctx, sql, args...).Scan(&count); err != nil {
		return nil, fmt.Errorf("error counting active visitors: %w", err)
	}
	return []query.BucketValue{{Bucket: "now", Value: int64(count)}}, nil
}

// scanTimeSeries reads (timestamp bucket, count) rows and renders the
// buckets as canonical keys.
func (s *Store) scanTimeSeries(ctx context.Context, tf *timeframe.TimeFrame, sql string, args ...any) ([]timeframe.DateStat, error) {
	rows, err := s.conn.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("error querying time series: %w", err)
	}
	defer rows.Close()

	var results []timeframe.DateStat
	for rows.Next() {
		var bucket time.Time
		var value uint64
		if err := rows.Scan(&bucket, &value); err != nil {
			return nil, fmt.Errorf("error scanning time series row: %w", err)
		}
		results = append(results, timeframe.DateStat{
			Date:  tf.FormatBucket(bucket),
			Count: int64(value),
		})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating time series rows: %w", err)
	}
	return results, nil
}

func toBucketValues(points []timeframe.DateStat) []query.BucketValue {
	values := make([]query.BucketValue, len(points))
	for i, point := range points {
		values[i] = query.BucketValue{Bucket: point.Date, Value: point.Count}
	}
	return values
}
