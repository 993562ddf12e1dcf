package columnar

import (
	"context"
	"fmt"

	"sitelens/internal/events"
	"sitelens/internal/query"
	"sitelens/internal/sessions"
)

// SessionEventVolumes returns event counts keyed by session id. This is
// the columnar leg of the split session list.
func (s *Store) SessionEventVolumes(ctx context.Context, websiteID uint, sessionIDs []string) (map[string]int64, error) {
	if len(sessionIDs) == 0 {
		return map[string]int64{}, nil
	}

	sql := fmt.Sprintf(`
        SELECT session_id, count() AS value
        FROM %s
        WHERE website_id = ? AND session_id IN (?)
        GROUP BY session_id
    `, eventsTable)

	rows, err := s.conn.Query(ctx, sql, websiteID, sessionIDs)
	if err != nil {
		return nil, fmt.Errorf("error querying session event volumes: %w", err)
	}
	defer rows.Close()

	volumes := make(map[string]int64, len(sessionIDs))
	for rows.Next() {
		var sessionID string
		var count uint64
		if err := rows.Scan(&sessionID, &count); err != nil {
			return nil, fmt.Errorf("error scanning session volume row: %w", err)
		}
		volumes[sessionID] = int64(count)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating session volume rows: %w", err)
	}
	return volumes, nil
}

// AppendEvent mirrors one event into the columnar store, denormalizing
// the session attributes onto the row. Events are immutable facts; this
// is the only write the store sees.
func (s *Store) AppendEvent(ctx context.Context, event *events.Event, session *sessions.Session) error {
	batch, err := s.conn.PrepareBatch(ctx, fmt.Sprintf(`
        INSERT INTO %s (
            website_id, session_id, event_type, hostname, pathname,
            referrer_hostname, browser, operating_system, device,
            country, language, event_name, tag, event_data, timestamp
        )
    `, eventsTable))
	if err != nil {
		return fmt.Errorf("failed to prepare event batch: %w", err)
	}

	err = batch.Append(
		uint32(event.WebsiteID),
		event.SessionID,
		uint8(event.EventType),
		event.Hostname,
		event.Pathname,
		event.ReferrerHostname,
		session.Browser,
		session.OperatingSystem,
		session.Device,
		session.Country,
		session.Language,
		event.EventName,
		event.Tag,
		string(event.EventData),
		event.Timestamp,
	)
	if err != nil {
		return fmt.Errorf("failed to append event to batch: %w", err)
	}

	if err := batch.Send(); err != nil {
		return fmt.Errorf("failed to send event batch: %w", err)
	}
	return nil
}

var _ query.ColumnarBackend = (*Store)(nil)
