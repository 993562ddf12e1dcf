package relational

import (
	"context"
	"encoding/base64"
	"fmt"
	"strings"
	"time"

	"sitelens/internal/query"
)

const defaultSessionPageSize = 50

// encodeCursor packs the paging position after the last returned row.
// The cursor is opaque to callers; it orders on (first_seen, id), which
// stays stable while new sessions keep arriving.
func encodeCursor(firstSeen time.Time, id string) string {
	raw := fmt.Sprintf("%s|%s", firstSeen.UTC().Format(time.RFC3339Nano), id)
	return base64.URLEncoding.EncodeToString([]byte(raw))
}

func decodeCursor(cursor string) (time.Time, string, error) {
	raw, err := base64.URLEncoding.DecodeString(cursor)
	if err != nil {
		return time.Time{}, "", &query.ParamsError{Reason: "malformed cursor"}
	}
	parts := strings.SplitN(string(raw), "|", 2)
	if len(parts) != 2 {
		return time.Time{}, "", &query.ParamsError{Reason: "malformed cursor"}
	}
	firstSeen, err := time.Parse(time.RFC3339Nano, parts[0])
	if err != nil {
		return time.Time{}, "", &query.ParamsError{Reason: "malformed cursor timestamp"}
	}
	return firstSeen, parts[1], nil
}

type sessionListRow struct {
	ID              string
	Hostname        string
	Browser         string
	OperatingSystem string
	Device          string
	Country         string
	Language        string
	IdentityID      string
	FirstSeen       time.Time
	Events          int64
}

// SessionList pages session metadata newest-first. Ordering is the row
// value (first_seen, id) descending, and the cursor predicate compares
// the same row value, so a page boundary cannot skip or duplicate rows
// when inserts land between requests. Event counts come from the
// relational event log; a columnar deployment overwrites them with its
// own volumes.
func (s *Store) SessionList(ctx context.Context, p query.Params) ([]query.SessionRow, string, error) {
	limit := p.Limit
	if limit <= 0 {
		limit = defaultSessionPageSize
	}

	conds := []string{"sessions.website_id = ?"}
	args := []any{p.WebsiteID}

	if p.TimeFrame != nil {
		conds = append(conds, "sessions.first_seen >= ?", "sessions.first_seen <= ?")
		args = append(args, p.TimeFrame.From, p.TimeFrame.To)
	}

	for _, key := range sortedFilterKeys(p.Filters) {
		column, sessionLevel, err := dimensionColumn(key)
		if err != nil {
			return nil, "", err
		}
		if sessionLevel {
			conds = append(conds, fmt.Sprintf("%s = ?", column))
		} else {
			conds = append(conds, fmt.Sprintf(
				"EXISTS (SELECT 1 FROM events WHERE events.session_id = sessions.id AND %s = ?)", column))
		}
		args = append(args, p.Filters[key])
	}

	if p.Cursor != "" {
		afterSeen, afterID, err := decodeCursor(p.Cursor)
		if err != nil {
			return nil, "", err
		}
		conds = append(conds, "(sessions.first_seen, sessions.id) < (?, ?)")
		args = append(args, afterSeen, afterID)
	}

	// Fetch one extra row to know whether another page exists.
	sql := fmt.Sprintf(`
        SELECT
            sessions.id,
            sessions.hostname,
            sessions.browser,
            sessions.operating_system,
            sessions.device,
            sessions.country,
            sessions.language,
            sessions.identity_id,
            sessions.first_seen,
            (SELECT COUNT(*) FROM events WHERE events.session_id = sessions.id) AS events
        FROM sessions
        WHERE %s
        ORDER BY sessions.first_seen DESC, sessions.id DESC
        LIMIT ?
    `, strings.Join(conds, " AND "))
	args = append(args, limit+1)

	var rows []sessionListRow
	err := s.db.WithContext(ctx).Raw(sql, args...).Scan(&rows).Error
	if err != nil {
		return nil, "", fmt.Errorf("error fetching session list: %w", err)
	}

	nextCursor := ""
	if len(rows) > limit {
		rows = rows[:limit]
		last := rows[len(rows)-1]
		nextCursor = encodeCursor(last.FirstSeen, last.ID)
	}

	result := make([]query.SessionRow, len(rows))
	for i, row := range rows {
		result[i] = query.SessionRow{
			ID:              row.ID,
			Hostname:        row.Hostname,
			Browser:         row.Browser,
			OperatingSystem: row.OperatingSystem,
			Device:          row.Device,
			Country:         row.Country,
			Language:        row.Language,
			IdentityID:      row.IdentityID,
			FirstSeen:       row.FirstSeen,
			Events:          row.Events,
		}
	}
	return result, nextCursor, nil
}
