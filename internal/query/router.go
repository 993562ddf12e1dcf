package query

import (
	"context"
	"errors"

	"github.com/sirupsen/logrus"

	"sitelens/internal/engine"
	"sitelens/internal/events"
	"sitelens/internal/sessions"
)

type execFunc func(ctx context.Context, p Params) (*Result, error)

// Router dispatches logical operations to the backend that answers
// them. The dispatch table is a pure function of (engine identity,
// operation, split flag), computed once at construction - there is no
// per-call branching on data shape and no re-detection mid-request.
type Router struct {
	deployment engine.Deployment
	relational RelationalBackend
	columnar   ColumnarBackend
	logger     *logrus.Logger
	table      map[Operation]execFunc
}

// NewRouter builds the router for the detected deployment. The columnar
// backend must be non-nil exactly when the deployment has an analytics
// store attached.
func NewRouter(dep engine.Deployment, rel RelationalBackend, col ColumnarBackend, logger *logrus.Logger) *Router {
	r := &Router{
		deployment: dep,
		relational: rel,
		columnar:   col,
		logger:     logger,
	}
	r.table = r.buildDispatchTable()
	return r
}

// Deployment exposes the immutable engine identity the router was
// constructed with.
func (r *Router) Deployment() engine.Deployment {
	return r.deployment
}

// Execute runs one logical operation. Store failures surface as typed
// errors with operation context attached; the router never falls back
// from one store to the other.
func (r *Router) Execute(ctx context.Context, op Operation, p Params) (*Result, error) {
	fn, ok := r.table[op]
	if !ok {
		return nil, &UnknownOperationError{Op: op}
	}
	return fn(ctx, p)
}

// buildDispatchTable binds every operation to exactly one
// implementation. Volume metrics go columnar when an analytics store is
// attached; session metadata stays relational; the session list is the
// declared split operation combining both.
func (r *Router) buildDispatchTable() map[Operation]execFunc {
	dimensionOps := map[Operation]string{
		OpTopPages:     "pathname",
		OpTopReferrers: "referrer",
		OpTopBrowsers:  "browser",
		OpTopOS:        "os",
		OpTopDevices:   "device",
		OpTopCountries: "country",
	}

	table := make(map[Operation]execFunc, len(Operations()))

	if r.deployment.AnalyticsAttached {
		table[OpPageviewSeries] = r.columnarSeries(OpPageviewSeries, r.columnar.PageviewSeries)
		table[OpVisitorSeries] = r.columnarVisitorSeries
		table[OpSessionSeries] = r.columnarSeries(OpSessionSeries, r.columnar.SessionSeries)
		table[OpEventSeries] = r.columnarSeries(OpEventSeries, r.columnar.EventSeries)
		table[OpEventBreakdown] = r.columnarSeries(OpEventBreakdown, r.columnar.EventBreakdown)
		table[OpFunnel] = r.columnarSeries(OpFunnel, r.columnar.Funnel)
		table[OpActiveVisitors] = r.columnarSeries(OpActiveVisitors, r.columnar.ActiveVisitors)
		for op, dim := range dimensionOps {
			table[op] = r.columnarDimension(op, dim)
		}
		table[OpSessionList] = r.splitSessionList
	} else {
		table[OpPageviewSeries] = r.relationalSeries(OpPageviewSeries, r.relational.PageviewSeries)
		table[OpVisitorSeries] = r.relationalSeries(OpVisitorSeries, r.relational.VisitorSeries)
		table[OpSessionSeries] = r.relationalSeries(OpSessionSeries, r.relational.SessionSeries)
		table[OpEventSeries] = r.relationalSeries(OpEventSeries, r.relational.EventSeries)
		table[OpEventBreakdown] = r.relationalSeries(OpEventBreakdown, r.relational.EventBreakdown)
		table[OpFunnel] = r.relationalSeries(OpFunnel, r.relational.Funnel)
		table[OpActiveVisitors] = r.relationalSeries(OpActiveVisitors, r.relational.ActiveVisitors)
		for op, dim := range dimensionOps {
			table[op] = r.relationalDimension(op, dim)
		}
		table[OpSessionList] = r.relationalSessionList
	}

	return table
}

type seriesFunc func(ctx context.Context, p Params) ([]BucketValue, error)

// storeError attaches operation context to a store failure. Caller-input
// errors pass through untouched: a missing time frame or a malformed
// cursor is a validation failure, not a store outage.
func storeError(op Operation, store string, err error) error {
	var paramsErr *ParamsError
	if errors.As(err, &paramsErr) {
		return err
	}
	return &StoreError{Op: op, Store: store, Err: err}
}

func (r *Router) relationalSeries(op Operation, fn seriesFunc) execFunc {
	return func(ctx context.Context, p Params) (*Result, error) {
		series, err := fn(ctx, p)
		if err != nil {
			return nil, storeError(op, r.deployment.Relational.String(), err)
		}
		return &Result{Series: series}, nil
	}
}

func (r *Router) columnarSeries(op Operation, fn seriesFunc) execFunc {
	return func(ctx context.Context, p Params) (*Result, error) {
		series, err := fn(ctx, p)
		if err != nil {
			return nil, storeError(op, engine.ClickHouse.String(), err)
		}
		return &Result{Series: series}, nil
	}
}

func (r *Router) columnarVisitorSeries(ctx context.Context, p Params) (*Result, error) {
	series, approximate, err := r.columnar.VisitorSeries(ctx, p)
	if err != nil {
		return nil, storeError(OpVisitorSeries, engine.ClickHouse.String(), err)
	}
	return &Result{Series: series, Approximate: approximate}, nil
}

func (r *Router) relationalDimension(op Operation, dimension string) execFunc {
	return func(ctx context.Context, p Params) (*Result, error) {
		series, err := r.relational.TopDimension(ctx, dimension, p)
		if err != nil {
			return nil, storeError(op, r.deployment.Relational.String(), err)
		}
		return &Result{Series: series}, nil
	}
}

func (r *Router) columnarDimension(op Operation, dimension string) execFunc {
	return func(ctx context.Context, p Params) (*Result, error) {
		series, err := r.columnar.TopDimension(ctx, dimension, p)
		if err != nil {
			return nil, storeError(op, engine.ClickHouse.String(), err)
		}
		return &Result{Series: series}, nil
	}
}

func (r *Router) relationalSessionList(ctx context.Context, p Params) (*Result, error) {
	rows, cursor, err := r.relational.SessionList(ctx, p)
	if err != nil {
		return nil, storeError(OpSessionList, r.deployment.Relational.String(), err)
	}
	return &Result{Sessions: rows, NextCursor: cursor}, nil
}

// splitSessionList is the declared split operation: session metadata
// from the relational store, per-session event volume from the columnar
// store, merged on session id. Both legs share the caller's context, so
// a timeout cancels them together. A failed columnar leg is a
// PartialCapabilityError, never a relational-only result presented as
// complete.
func (r *Router) splitSessionList(ctx context.Context, p Params) (*Result, error) {
	rows, cursor, err := r.relational.SessionList(ctx, p)
	if err != nil {
		return nil, storeError(OpSessionList, r.deployment.Relational.String(), err)
	}
	if len(rows) == 0 {
		return &Result{Sessions: rows, NextCursor: cursor}, nil
	}

	ids := make([]string, len(rows))
	for i, row := range rows {
		ids[i] = row.ID
	}

	volumes, err := r.columnar.SessionEventVolumes(ctx, p.WebsiteID, ids)
	if err != nil {
		return nil, &PartialCapabilityError{Op: OpSessionList, FailedStore: engine.ClickHouse.String(), Err: err}
	}

	for i := range rows {
		rows[i].Events = volumes[rows[i].ID]
	}
	return &Result{Sessions: rows, NextCursor: cursor}, nil
}

// ResolveSession routes session resolution to the relational store.
// Sessions never live in the columnar store: they are the one entity
// amended after creation (identity id), and the columnar store only
// holds immutable facts.
func (r *Router) ResolveSession(ctx context.Context, candidate *sessions.Session) (*sessions.Session, bool, error) {
	session, created, err := r.relational.ResolveSession(ctx, candidate)
	if err != nil {
		return nil, false, &StoreError{Op: "resolve_session", Store: r.deployment.Relational.String(), Err: err}
	}
	return session, created, nil
}

// WriteEvent appends one event. The relational write is authoritative
// and must succeed for the write to be acknowledged; the columnar
// mirror append, when attached, is independently retryable and its
// failure never blocks future events for the session.
func (r *Router) WriteEvent(ctx context.Context, event *events.Event, session *sessions.Session) error {
	if err := r.relational.CreateEvent(ctx, event); err != nil {
		return &StoreError{Op: "write_event", Store: r.deployment.Relational.String(), Err: err}
	}

	if r.deployment.AnalyticsAttached {
		if err := r.columnar.AppendEvent(ctx, event, session); err != nil {
			// The authoritative write stands; the mirror failure is
			// observable server-side, not hidden.
			r.logger.WithError(err).WithField("event_id", event.ID).
				Error("columnar event append failed")
			return &StoreError{Op: "write_event", Store: engine.ClickHouse.String(), Err: err}
		}
	}

	return nil
}
