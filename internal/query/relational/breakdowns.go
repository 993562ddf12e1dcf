package relational

import (
	"context"
	"fmt"
	"strings"

	"sitelens/internal/events"
	"sitelens/internal/query"
)

const defaultBreakdownLimit = 10

type breakdownRow struct {
	Bucket string
	Value  int64
}

func toBreakdownValues(rows []breakdownRow) []query.BucketValue {
	values := make([]query.BucketValue, len(rows))
	for i, row := range rows {
		values[i] = query.BucketValue{Bucket: row.Bucket, Value: row.Value}
	}
	return values
}

func breakdownLimit(p query.Params) int {
	if p.Limit > 0 {
		return p.Limit
	}
	return defaultBreakdownLimit
}

// TopDimension ranks the values of one dimension by traffic. Event
// dimensions count page views; session dimensions count distinct
// visitors, so one heavy visitor does not dominate a browser or country
// ranking.
func (s *Store) TopDimension(ctx context.Context, dimension string, p query.Params) ([]query.BucketValue, error) {
	tf, err := requireTimeFrame(p)
	if err != nil {
		return nil, err
	}

	column, sessionLevel, err := dimensionColumn(dimension)
	if err != nil {
		return nil, err
	}

	aggregate := "COUNT(*)"
	if sessionLevel {
		aggregate = "COUNT(DISTINCT events.session_id)"
	}

	conds := []string{
		"events.website_id = ?",
		"events.timestamp >= ?",
		"events.timestamp <= ?",
		fmt.Sprintf("%s <> ''", column),
	}
	args := []any{p.WebsiteID, tf.From, tf.To}

	filterConds, filterArgs, filterNeedsJoin, err := filterClauses(p.Filters)
	if err != nil {
		return nil, err
	}
	conds = append(conds, filterConds...)
	args = append(args, filterArgs...)

	join := ""
	if sessionLevel || filterNeedsJoin {
		join = "JOIN sessions ON sessions.id = events.session_id"
	}

	sql := fmt.Sprintf(`
        SELECT
            %s AS bucket,
            %s AS value
        FROM events
        %s
        WHERE %s
        GROUP BY %s
        ORDER BY value DESC, bucket ASC
        LIMIT ?
    `, column, aggregate, join, strings.Join(conds, " AND "), column)
	args = append(args, breakdownLimit(p))

	var rows []breakdownRow
	err = s.db.WithContext(ctx).Raw(sql, args...).Scan(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("error fetching top %s: %w", dimension, err)
	}
	return toBreakdownValues(rows), nil
}

// EventBreakdown groups one named custom event by an event-data
// property. Properties are stored as typed JSON; the breakdown extracts
// the property as text and ranks its values by occurrence.
func (s *Store) EventBreakdown(ctx context.Context, p query.Params) ([]query.BucketValue, error) {
	tf, err := requireTimeFrame(p)
	if err != nil {
		return nil, err
	}
	if p.EventName == "" {
		return nil, &query.ParamsError{Reason: "an event name is required for a breakdown"}
	}

	propExpr, err := jsonTextExpr(s.identity, "events.event_data", p.Property)
	if err != nil {
		return nil, err
	}

	sql := fmt.Sprintf(`
        SELECT
            %s AS bucket,
            COUNT(*) AS value
        FROM events
        WHERE events.website_id = ?
          AND events.timestamp >= ?
          AND events.timestamp <= ?
          AND events.event_type = ?
          AND events.event_name = ?
          AND %s IS NOT NULL
        GROUP BY %s
        ORDER BY value DESC, bucket ASC
        LIMIT ?
    `, propExpr, propExpr, propExpr)

	var rows []breakdownRow
	err = s.db.WithContext(ctx).Raw(sql,
		p.WebsiteID,
		tf.From,
		tf.To,
		events.EventTypeCustomEvent,
		p.EventName,
		breakdownLimit(p),
	).Scan(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("error fetching breakdown of %s by %s: %w", p.EventName, p.Property, err)
	}
	return toBreakdownValues(rows), nil
}
