package relational

import (
	"fmt"
	"regexp"

	"sitelens/internal/engine"
	"sitelens/internal/query"
	"sitelens/internal/timeframe"
)

// bucketExpr returns the SQL expression that renders a timestamp column
// as the canonical bucket key for the given granularity. SQLite and
// Postgres spell date truncation differently; both produce strings the
// gap-filler normalizes the same way.
func bucketExpr(identity engine.Identity, size timeframe.BucketSize, column string) (string, error) {
	switch identity {
	case engine.SQLite:
		return sqliteBucketExpr(size, column)
	case engine.Postgres:
		return postgresBucketExpr(size, column)
	default:
		return "", fmt.Errorf("unsupported relational engine: %s", identity)
	}
}

func sqliteBucketExpr(size timeframe.BucketSize, column string) (string, error) {
	switch size {
	case timeframe.BucketHour:
		return fmt.Sprintf("strftime('%%Y-%%m-%%d %%H', %s)", column), nil
	case timeframe.BucketDay:
		return fmt.Sprintf("strftime('%%Y-%%m-%%d', %s)", column), nil
	case timeframe.BucketWeek:
		// Week buckets start on Monday.
		return fmt.Sprintf("date(%s, 'start of day', '-' || ((strftime('%%w', %s) + 6) %% 7) || ' days')", column, column), nil
	case timeframe.BucketMonth:
		return fmt.Sprintf("strftime('%%Y-%%m', %s)", column), nil
	case timeframe.BucketYear:
		return fmt.Sprintf("strftime('%%Y', %s)", column), nil
	default:
		return "", fmt.Errorf("unsupported bucket size: %v", size)
	}
}

func postgresBucketExpr(size timeframe.BucketSize, column string) (string, error) {
	switch size {
	case timeframe.BucketHour:
		return fmt.Sprintf("to_char(date_trunc('hour', %s), 'YYYY-MM-DD HH24')", column), nil
	case timeframe.BucketDay:
		return fmt.Sprintf("to_char(date_trunc('day', %s), 'YYYY-MM-DD')", column), nil
	case timeframe.BucketWeek:
		return fmt.Sprintf("to_char(date_trunc('week', %s), 'YYYY-MM-DD')", column), nil
	case timeframe.BucketMonth:
		return fmt.Sprintf("to_char(date_trunc('month', %s), 'YYYY-MM')", column), nil
	case timeframe.BucketYear:
		return fmt.Sprintf("to_char(date_trunc('year', %s), 'YYYY')", column), nil
	default:
		return "", fmt.Errorf("unsupported bucket size: %v", size)
	}
}

// jsonTextExpr extracts an event-data property as text. Property names
// are interpolated into the expression, so they pass through
// sanitizeProperty first.
func jsonTextExpr(identity engine.Identity, column, property string) (string, error) {
	prop, err := sanitizeProperty(property)
	if err != nil {
		return "", err
	}
	switch identity {
	case engine.SQLite:
		return fmt.Sprintf("json_extract(%s, '$.%s')", column, prop), nil
	case engine.Postgres:
		return fmt.Sprintf("%s::jsonb ->> '%s'", column, prop), nil
	default:
		return "", fmt.Errorf("unsupported relational engine: %s", identity)
	}
}

var propertyNamePattern = regexp.MustCompile(`^[A-Za-z0-9_.-]+$`)

// sanitizeProperty rejects property names that cannot be safely placed
// inside a JSON path expression.
func sanitizeProperty(property string) (string, error) {
	if property == "" {
		return "", &query.ParamsError{Reason: "event property name is required"}
	}
	if !propertyNamePattern.MatchString(property) {
		return "", &query.ParamsError{Reason: fmt.Sprintf("invalid event property name: %q", property)}
	}
	return property, nil
}

// Dimension columns, split by which table carries them. Event-level
// dimensions filter and group on the events table; session-level ones
// need the session join.
var eventDimensionColumns = map[string]string{
	"pathname": "events.pathname",
	"referrer": "events.referrer_hostname",
	"hostname": "events.hostname",
	"tag":      "events.tag",
}

var sessionDimensionColumns = map[string]string{
	"browser":  "sessions.browser",
	"os":       "sessions.operating_system",
	"device":   "sessions.device",
	"country":  "sessions.country",
	"language": "sessions.language",
}

// dimensionColumn resolves a logical dimension name to its column and
// reports whether the session join is needed.
func dimensionColumn(dimension string) (string, bool, error) {
	if col, ok := eventDimensionColumns[dimension]; ok {
		return col, false, nil
	}
	if col, ok := sessionDimensionColumns[dimension]; ok {
		return col, true, nil
	}
	return "", false, &query.ParamsError{Reason: fmt.Sprintf("unknown dimension: %q", dimension)}
}
