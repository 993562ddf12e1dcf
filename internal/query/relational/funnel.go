package relational

import (
	"context"
	"fmt"
	"strings"

	"sitelens/internal/query"
)

const maxFunnelSteps = 8

// Funnel counts, for each step, the sessions that visited every step up
// to it in order. Ordering is enforced through nested existence checks
// on event timestamps, so a visitor who saw the pages out of order does
// not convert.
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

	results := make([]query.BucketValue, len(p.Steps))
	for i, step := range p.Steps {
		count, err := s.funnelStepCount(ctx, p, tf.From, tf.To, p.Steps[:i+1])
		if err != nil {
			return nil, fmt.Errorf("error computing funnel step %d: %w", i+1, err)
		}
		results[i] = query.BucketValue{Bucket: step, Value: count}
	}
	return results, nil
}

// funnelStepCount counts sessions that completed the given step prefix
// in order inside the window.
func (s *Store) funnelStepCount(ctx context.Context, p query.Params, from, to any, steps []string) (int64, error) {
	var sb strings.Builder
	args := []any{p.WebsiteID, from, to, steps[0]}

	sb.WriteString(`
        SELECT COUNT(DISTINCT e0.session_id) AS count
        FROM events e0
        WHERE e0.website_id = ?
          AND e0.timestamp >= ? AND e0.timestamp <= ?
          AND e0.pathname = ?`)

	for i := 1; i < len(steps); i++ {
		sb.WriteString(fmt.Sprintf(`
          AND EXISTS (
            SELECT 1 FROM events e%d
            WHERE e%d.session_id = e0.session_id
              AND e%d.pathname = ?
              AND e%d.timestamp >= e%d.timestamp
              AND e%d.timestamp <= ?`, i, i, i, i, i-1, i))
		args = append(args, steps[i], to)
	}
	sb.WriteString(strings.Repeat(")", len(steps)-1))

	var count int64
	err := s.db.WithContext(ctx).Raw(sb.String(), args...).Scan(&count).Error
	if err != nil {
		return 0, err
	}
	return count, nil
}
