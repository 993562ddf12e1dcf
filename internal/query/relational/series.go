package relational

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
	return s.eventCountSeries(ctx, p, events.EventTypePageView, "")
}

// EventSeries counts custom events per bucket, optionally scoped to one
// event name.
func (s *Store) EventSeries(ctx context.Context, p query.Params) ([]query.BucketValue, error) {
	return s.eventCountSeries(ctx, p, events.EventTypeCustomEvent, p.EventName)
}

func (s *Store) eventCountSeries(ctx context.Context, p query.Params, eventType events.EventType, eventName string) ([]query.BucketValue, error) {
	tf, err := requireTimeFrame(p)
	if err != nil {
		return nil, err
	}
	grouped, err := s.groupedEventSeries(ctx, p, tf, "COUNT(*)", eventType, eventName)
	if err != nil {
		return nil, err
	}
	return toBucketValues(tf.BuildTimeSeriesPoints(grouped)), nil
}

// VisitorSeries counts distinct visitors per bucket. The relational
// engine always counts exactly; approximation is a columnar-only
// strategy.
func (s *Store) VisitorSeries(ctx context.Context, p query.Params) ([]query.BucketValue, error) {
	tf, err := requireTimeFrame(p)
	if err != nil {
		return nil, err
	}
	grouped, err := s.groupedEventSeries(ctx, p, tf, "COUNT(DISTINCT events.session_id)", 0, "")
	if err != nil {
		return nil, err
	}
	return toBucketValues(tf.BuildTimeSeriesPoints(grouped)), nil
}

// groupedEventSeries runs one bucketed aggregate over the events table.
// An eventType of zero means all event types.
func (s *Store) groupedEventSeries(ctx context.Context, p query.Params, tf *timeframe.TimeFrame, aggregate string, eventType events.EventType, eventName string) ([]timeframe.DateStat, error) {
	groupBy, err := bucketExpr(s.identity, tf.BucketSize, "events.timestamp")
	if err != nil {
		return nil, err
	}

	conds := []string{
		"events.website_id = ?",
		"events.timestamp >= ?",
		"events.timestamp <= ?",
	}
	args := []any{p.WebsiteID, tf.From, tf.To}

	if eventType != 0 {
		conds = append(conds, "events.event_type = ?")
		args = append(args, eventType)
	}
	if eventName != "" {
		conds = append(conds, "events.event_name = ?")
		args = append(args, eventName)
	}

	filterConds, filterArgs, needsJoin, err := filterClauses(p.Filters)
	if err != nil {
		return nil, err
	}
	conds = append(conds, filterConds...)
	args = append(args, filterArgs...)

	join := ""
	if needsJoin {
		join = "JOIN sessions ON sessions.id = events.session_id"
	}

	sql := fmt.Sprintf(`
        SELECT
            %s AS date,
            %s AS count
        FROM events
        %s
        WHERE %s
        GROUP BY %s
        ORDER BY date ASC
    `, groupBy, aggregate, join, strings.Join(conds, " AND "), groupBy)

	var results []timeframe.DateStat
	err = s.db.WithContext(ctx).Raw(sql, args...).Scan(&results).Error
	if err != nil {
		return nil, fmt.Errorf("error fetching bucketed event series: %w", err)
	}
	return results, nil
}

// SessionSeries counts sessions started per bucket. It groups the
// sessions table on first_seen; event-level filters apply through an
// existence check against the session's events.
func (s *Store) SessionSeries(ctx context.Context, p query.Params) ([]query.BucketValue, error) {
	tf, err := requireTimeFrame(p)
	if err != nil {
		return nil, err
	}

	groupBy, err := bucketExpr(s.identity, tf.BucketSize, "sessions.first_seen")
	if err != nil {
		return nil, err
	}

	conds := []string{
		"sessions.website_id = ?",
		"sessions.first_seen >= ?",
		"sessions.first_seen <= ?",
	}
	args := []any{p.WebsiteID, tf.From, tf.To}

	for _, key := range sortedFilterKeys(p.Filters) {
		column, sessionLevel, err := dimensionColumn(key)
		if err != nil {
			return nil, err
		}
		if sessionLevel {
			conds = append(conds, fmt.Sprintf("%s = ?", column))
		} else {
			conds = append(conds, fmt.Sprintf(
				"EXISTS (SELECT 1 FROM events WHERE events.session_id = sessions.id AND %s = ?)", column))
		}
		args = append(args, p.Filters[key])
	}

	sql := fmt.Sprintf(`
        SELECT
            %s AS date,
            COUNT(*) AS count
        FROM sessions
        WHERE %s
        GROUP BY %s
        ORDER BY date ASC
    `, groupBy, strings.Join(conds, " AND "), groupBy)

	var results []timeframe.DateStat
	err = s.db.WithContext(ctx).Raw(sql, args...).Scan(&results).Error
	if err != nil {
		return nil, fmt.Errorf("error fetching session series: %w", err)
	}
	return toBucketValues(tf.BuildTimeSeriesPoints(results)), nil
}

// activeVisitorWindow is how far back an event still counts a visitor
// as active.
const activeVisitorWindow = 5 * time.Minute

// ActiveVisitors counts distinct visitors with an event inside the
// active window, honoring dimension filters like every other
// operation. The result is a single-point series so the operation
// shares the uniform shape.
func (s *Store) ActiveVisitors(ctx context.Context, p query.Params) ([]query.BucketValue, error) {
	cutoff := time.Now().UTC().Add(-activeVisitorWindow)

	conds := []string{"events.website_id = ?", "events.timestamp >= ?"}
	args := []any{p.WebsiteID, cutoff}

	filterConds, filterArgs, needsJoin, err := filterClauses(p.Filters)
	if err != nil {
		return nil, err
	}
	conds = append(conds, filterConds...)
	args = append(args, filterArgs...)

	join := ""
	if needsJoin {
		join = "JOIN sessions ON sessions.id = events.session_id"
	}

	sql := fmt.Sprintf(`
        SELECT COUNT(DISTINCT events.session_id) AS count
        FROM events
        %s
        WHERE %s
    `, join, strings.Join(conds, " AND "))

	var count int64
	if err := s.db.WithContext(ctx).Raw(sql, args...).Scan(&count).Error; err != nil {
		return nil, fmt.Errorf("error counting active visitors: %w", err)
	}
	return []query.BucketValue{{Bucket: "now", Value: count}}, nil
}
