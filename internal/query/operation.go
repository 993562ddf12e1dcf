// Package query is the single entry point for every analytical
// question. Callers name a logical operation; the router dispatches it
// to the relational or columnar implementation based on the engine
// identity detected at startup. Both implementations of an operation
// return the identical logical shape - same field names, same ordering
// rule, same zero-fill policy - even though their numeric strategy
// differs.
package query

import (
	"context"
	"time"

	"sitelens/internal/events"
	"sitelens/internal/sessions"
	"sitelens/internal/timeframe"
)

// Operation is one member of the fixed set of logical queries.
type Operation string

const (
	OpPageviewSeries Operation = "pageview_series"
	OpVisitorSeries  Operation = "visitor_series"
	OpSessionSeries  Operation = "session_series"
	OpTopPages       Operation = "top_pages"
	OpTopReferrers   Operation = "top_referrers"
	OpTopBrowsers    Operation = "top_browsers"
	OpTopOS          Operation = "top_os"
	OpTopDevices     Operation = "top_devices"
	OpTopCountries   Operation = "top_countries"
	OpEventSeries    Operation = "event_series"
	OpEventBreakdown Operation = "event_breakdown"
	OpFunnel         Operation = "funnel"
	OpSessionList    Operation = "session_list"
	OpActiveVisitors Operation = "active_visitors"
)

// Operations lists the full dispatchable set.
func Operations() []Operation {
	return []Operation{
		OpPageviewSeries, OpVisitorSeries, OpSessionSeries,
		OpTopPages, OpTopReferrers, OpTopBrowsers, OpTopOS,
		OpTopDevices, OpTopCountries, OpEventSeries,
		OpEventBreakdown, OpFunnel, OpSessionList, OpActiveVisitors,
	}
}

// Params carries the parameters of one operation invocation.
type Params struct {
	WebsiteID uint
	TimeFrame *timeframe.TimeFrame
	// Filters narrows by dimension value, e.g. {"country": "DE",
	// "browser": "Firefox", "pathname": "/pricing"}.
	Filters map[string]string
	// Limit caps breakdown and list results.
	Limit int
	// Cursor is the opaque paging cursor for list operations.
	Cursor string
	// EventName scopes event operations to one named event.
	EventName string
	// Property is the event-data property a breakdown groups by.
	Property string
	// Steps are the ordered pathnames of a funnel.
	Steps []string
}

// BucketValue is one (bucket key, metric value) pair. The bucket key is
// either a timestamp bucket or a dimension value depending on the
// operation.
type BucketValue struct {
	Bucket string `json:"x"`
	Value  int64  `json:"y"`
}

// SessionRow is one row of a session list: relational session metadata
// plus the event volume for that session, which comes from the columnar
// store when one is attached.
type SessionRow struct {
	ID              string    `json:"id"`
	Hostname        string    `json:"hostname"`
	Browser         string    `json:"browser"`
	OperatingSystem string    `json:"os"`
	Device          string    `json:"device"`
	Country         string    `json:"country"`
	Language        string    `json:"language"`
	IdentityID      string    `json:"identity_id"`
	FirstSeen       time.Time `json:"first_seen"`
	Events          int64     `json:"events"`
}

// Result is the uniform answer shape of every operation.
type Result struct {
	// Series holds ordered (bucket, value) pairs for series and
	// breakdown operations.
	Series []BucketValue `json:"series,omitempty"`
	// Sessions holds session-list rows.
	Sessions []SessionRow `json:"sessions,omitempty"`
	// NextCursor pages list operations; empty when exhausted.
	NextCursor string `json:"next_cursor,omitempty"`
	// Approximate is set when any component metric was computed with a
	// probabilistic counting primitive. Callers are told, never
	// silently served approximations.
	Approximate bool `json:"approximate"`
}

// RelationalBackend answers operations against the row-oriented store
// through the ORM, and owns the writes for entities that may be
// consulted or amended later (sessions, the authoritative event log).
type RelationalBackend interface {
	PageviewSeries(ctx context.Context, p Params) ([]BucketValue, error)
	VisitorSeries(ctx context.Context, p Params) ([]BucketValue, error)
	SessionSeries(ctx context.Context, p Params) ([]BucketValue, error)
	TopDimension(ctx context.Context, dimension string, p Params) ([]BucketValue, error)
	EventSeries(ctx context.Context, p Params) ([]BucketValue, error)
	EventBreakdown(ctx context.Context, p Params) ([]BucketValue, error)
	Funnel(ctx context.Context, p Params) ([]BucketValue, error)
	ActiveVisitors(ctx context.Context, p Params) ([]BucketValue, error)
	SessionList(ctx context.Context, p Params) ([]SessionRow, string, error)

	ResolveSession(ctx context.Context, candidate *sessions.Session) (*sessions.Session, bool, error)
	CreateEvent(ctx context.Context, event *events.Event) error
}

// ColumnarBackend answers volume operations against the append-only
// analytical store with hand-written SQL. Every query is a pure read;
// the only write is the append mirror of immutable event facts.
type ColumnarBackend interface {
	PageviewSeries(ctx context.Context, p Params) ([]BucketValue, error)
	// VisitorSeries reports whether the counts are approximate.
	VisitorSeries(ctx context.Context, p Params) ([]BucketValue, bool, error)
	SessionSeries(ctx context.Context, p Params) ([]BucketValue, error)
	TopDimension(ctx context.Context, dimension string, p Params) ([]BucketValue, error)
	EventSeries(ctx context.Context, p Params) ([]BucketValue, error)
	EventBreakdown(ctx context.Context, p Params) ([]BucketValue, error)
	Funnel(ctx context.Context, p Params) ([]BucketValue, error)
	ActiveVisitors(ctx context.Context, p Params) ([]BucketValue, error)
	// SessionEventVolumes is the columnar leg of the split session
	// list: event counts keyed by session id.
	SessionEventVolumes(ctx context.Context, websiteID uint, sessionIDs []string) (map[string]int64, error)

	AppendEvent(ctx context.Context, event *events.Event, session *sessions.Session) error
}
