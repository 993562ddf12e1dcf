// Package relational answers analytical operations against the
// row-oriented primary store through the ORM. Aggregations run as raw
// SQL with dialect-specific bucket expressions; the results are
// gap-filled into the same logical shape the columnar implementation
// produces.
package relational

import (
	"fmt"
	"sort"

	"gorm.io/gorm"

	"sitelens/internal/engine"
	"sitelens/internal/query"
	"sitelens/internal/timeframe"
)

// Store implements query.RelationalBackend on top of gorm.
type Store struct {
	db       *gorm.DB
	identity engine.Identity
}

// New builds a Store for the detected relational engine.
func New(db *gorm.DB, identity engine.Identity) *Store {
	return &Store{db: db, identity: identity}
}

// sortedFilterKeys returns filter keys in stable order so generated SQL
// is deterministic.
func sortedFilterKeys(filters map[string]string) []string {
	keys := make([]string, 0, len(filters))
	for key := range filters {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

// filterClauses translates dimension filters into WHERE fragments.
// Session-level filters force the session join.
func filterClauses(filters map[string]string) (conds []string, args []any, needsJoin bool, err error) {
	for _, key := range sortedFilterKeys(filters) {
		column, sessionLevel, err := dimensionColumn(key)
		if err != nil {
			return nil, nil, false, err
		}
		if sessionLevel {
			needsJoin = true
		}
		conds = append(conds, fmt.Sprintf("%s = ?", column))
		args = append(args, filters[key])
	}

	return conds, args, needsJoin, nil
}

func requireTimeFrame(p query.Params) (*timeframe.TimeFrame, error) {
	if p.TimeFrame == nil {
		return nil, &query.ParamsError{Reason: "a time frame is required"}
	}
	return p.TimeFrame, nil
}

// toBucketValues converts gap-filled series points into the uniform
// result shape.
func toBucketValues(points []timeframe.DateStat) []query.BucketValue {
	values := make([]query.BucketValue, len(points))
	for i, point := range points {
		values[i] = query.BucketValue{Bucket: point.Date, Value: point.Count}
	}
	return values
}
