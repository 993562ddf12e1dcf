package relational

import (
	"context"
	"fmt"

	"sitelens/internal/events"
	"sitelens/internal/query"
	"sitelens/internal/sessions"
)

var _ query.RelationalBackend = (*Store)(nil)

// ResolveSession finds or creates the session for a fingerprint. The
// upsert semantics live with the session model; this adapter binds the
// request context.
func (s *Store) ResolveSession(ctx context.Context, candidate *sessions.Session) (*sessions.Session, bool, error) {
	return sessions.Resolve(s.db.WithContext(ctx), candidate)
}

// CreateEvent appends one event row. This is the authoritative write of
// the event log.
func (s *Store) CreateEvent(ctx context.Context, event *events.Event) error {
	if err := s.db.WithContext(ctx).Create(event).Error; err != nil {
		return fmt.Errorf("error creating event: %w", err)
	}
	return nil
}
