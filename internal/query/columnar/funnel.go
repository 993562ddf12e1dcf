package columnar

import (
	"context"
	"fmt"
	"strings"

	"sitelens/internal/query"
)

const maxFunnelSteps = 8

// Funnel counts, per step, the sessions that progressed through the
// step pathnames in order. windowFunnel computes the deepest ordered
// prefix each session reached; step counts are the cumulative tail of
// that level distribution.
func (s *Store) Funnel(ctx context.Context, p query.Params) ([]query.BucketValue, error) {
	tf, err := requireTimeFrame(p)
	if err != nil {
		return nil, err
	}
	if len(p.Steps) < 2 {
		return nil, &query.ParamsError{Reason: "a funnel needs at least two steps"}
	}
	if len(p.Steps) > maxFunnelSteps {
		return nil, &query.ParamsError{Reason: fmt.Sprintf("too many funnel steps: %d > %d", len(p.Steps), maxFunnelSteps)}
	}

	windowSeconds := int64(tf.Duration().Seconds())

	// Positional binding: the step conditions appear in the SQL before
	// the WHERE parameters.
	stepConds := make([]string, len(p.Steps))
	args := make([]any, 0, len(p.Steps)+3)
	for i, step := range p.Steps {
		stepConds[i] = "pathname = ?"
		args = append(args, step)
	}
	args = append(args, p.WebsiteID, tf.From, tf.To)

	sql := fmt.Sprintf(`
        SELECT level, count() AS sessions
        FROM (
            SELECT session_id,
                   windowFunnel(%d)(timestamp, %s) AS level
            FROM %s
            WHERE website_id = ?
              AND timestamp >= ? AND timestamp <= ?
            GROUP BY session_id
        )
        GROUP BY level
    `, windowSeconds, strings.Join(stepConds, ", "), eventsTable)

	rows, err := s.conn.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("error querying funnel: %w", err)
	}
	defer rows.Close()

	levelCounts := make(map[uint8]uint64)
	for rows.Next() {
		var level uint8
		var count uint64
		if err := rows.Scan(&level, &count); err != nil {
			return nil, fmt.Errorf("error scanning funnel row: %w", err)
		}
		levelCounts[level] = count
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating funnel rows: %w", err)
	}

	// A session at level N completed every step up to N.
	results := make([]query.BucketValue, len(p.Steps))
	for i, step := range p.Steps {
		var total uint64
		for level, count := range levelCounts {
			if int(level) >= i+1 {
				total += count
			}
		}
		results[i] = query.BucketValue{Bucket: step, Value: int64(total)}
	}
	return results, nil
}
