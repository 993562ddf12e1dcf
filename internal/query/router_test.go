package query

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sitelens/internal/engine"
	"sitelens/internal/events"
	"sitelens/internal/sessions"
)

type stubRelational struct {
	series      []BucketValue
	sessions    []SessionRow
	nextCursor  string
	err         error
	lastOp      string
	createCalls int
}

func (s *stubRelational) record(op string, _ Params) ([]BucketValue, error) {
	s.lastOp = op
	return s.series, s.err
}

func (s *stubRelational) PageviewSeries(_ context.Context, p Params) ([]BucketValue, error) {
	return s.record("pageviews", p)
}

func (s *stubRelational) VisitorSeries(_ context.Context, p Params) ([]BucketValue, error) {
	return s.record("visitors", p)
}

func (s *stubRelational) SessionSeries(_ context.Context, p Params) ([]BucketValue, error) {
	return s.record("sessions", p)
}

func (s *stubRelational) TopDimension(_ context.Context, dimension string, p Params) ([]BucketValue, error) {
	return s.record("dimension:"+dimension, p)
}

func (s *stubRelational) EventSeries(_ context.Context, p Params) ([]BucketValue, error) {
	return s.record("events", p)
}

func (s *stubRelational) EventBreakdown(_ context.Context, p Params) ([]BucketValue, error) {
	return s.record("breakdown", p)
}

func (s *stubRelational) Funnel(_ context.Context, p Params) ([]BucketValue, error) {
	return s.record("funnel", p)
}

func (s *stubRelational) ActiveVisitors(_ context.Context, p Params) ([]BucketValue, error) {
	return s.record("active", p)
}

func (s *stubRelational) SessionList(_ context.Context, p Params) ([]SessionRow, string, error) {
	s.lastOp = "session_list"
	return s.sessions, s.nextCursor, s.err
}

func (s *stubRelational) ResolveSession(_ context.Context, candidate *sessions.Session) (*sessions.Session, bool, error) {
	if s.err != nil {
		return nil, false, s.err
	}
	return candidate, true, nil
}

func (s *stubRelational) CreateEvent(_ context.Context, _ *events.Event) error {
	s.createCalls++
	return s.err
}

type stubColumnar struct {
	series      []BucketValue
	approximate bool
	volumes     map[string]int64
	volumesErr  error
	appendErr   error
	err         error
	lastOp      string
	appendCalls int
}

func (s *stubColumnar) record(op string) ([]BucketValue, error) {
	s.lastOp = op
	return s.series, s.err
}

func (s *stubColumnar) PageviewSeries(_ context.Context, _ Params) ([]BucketValue, error) {
	return s.record("pageviews")
}

func (s *stubColumnar) VisitorSeries(_ context.Context, _ Params) ([]BucketValue, bool, error) {
	s.lastOp = "visitors"
	return s.series, s.approximate, s.err
}

func (s *stubColumnar) SessionSeries(_ context.Context, _ Params) ([]BucketValue, error) {
	return s.record("sessions")
}

func (s *stubColumnar) TopDimension(_ context.Context, dimension string, _ Params) ([]BucketValue, error) {
	return s.record("dimension:" + dimension)
}

func (s *stubColumnar) EventSeries(_ context.Context, _ Params) ([]BucketValue, error) {
	return s.record("events")
}

func (s *stubColumnar) EventBreakdown(_ context.Context, _ Params) ([]BucketValue, error) {
	return s.record("breakdown")
}

func (s *stubColumnar) Funnel(_ context.Context, _ Params) ([]BucketValue, error) {
	return s.record("funnel")
}

func (s *stubColumnar) ActiveVisitors(_ context.Context, _ Params) ([]BucketValue, error) {
	return s.record("active")
}

func (s *stubColumnar) SessionEventVolumes(_ context.Context, _ uint, _ []string) (map[string]int64, error) {
	s.lastOp = "session_volumes"
	return s.volumes, s.volumesErr
}

func (s *stubColumnar) AppendEvent(_ context.Context, _ *events.Event, _ *sessions.Session) error {
	s.appendCalls++
	return s.appendErr
}

func testLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)
	return logger
}

func relationalOnly() engine.Deployment {
	return engine.Deployment{Relational: engine.SQLite}
}

func withAnalytics() engine.Deployment {
	return engine.Deployment{Relational: engine.Postgres, AnalyticsAttached: true}
}

func TestRouterDispatchesToRelationalWithoutAnalytics(t *testing.T) {
	rel := &stubRelational{series: []BucketValue{{Bucket: "2026-03-01", Value: 12}}}
	router := NewRouter(relationalOnly(), rel, nil, testLogger())

	result, err := router.Execute(context.Background(), OpPageviewSeries, Params{WebsiteID: 1})
	require.NoError(t, err)
	assert.Equal(t, "pageviews", rel.lastOp)
	assert.Equal(t, int64(12), result.Series[0].Value)
	assert.False(t, result.Approximate)
}

func TestRouterDispatchesToColumnarWhenAttached(t *testing.T) {
	rel := &stubRelational{}
	col := &stubColumnar{series: []BucketValue{{Bucket: "2026-03-01", Value: 40}}}
	router := NewRouter(withAnalytics(), rel, col, testLogger())

	result, err := router.Execute(context.Background(), OpPageviewSeries, Params{WebsiteID: 1})
	require.NoError(t, err)
	assert.Equal(t, "pageviews", col.lastOp)
	assert.Empty(t, rel.lastOp, "relational backend must not be consulted for volume metrics")
	assert.Equal(t, int64(40), result.Series[0].Value)
}

func TestRouterDimensionOperations(t *testing.T) {
	wantDims := map[Operation]string{
		OpTopPages:     "pathname",
		OpTopReferrers: "referrer",
		OpTopBrowsers:  "browser",
		OpTopOS:        "os",
		OpTopDevices:   "device",
		OpTopCountries: "country",
	}

	for op, dim := range wantDims {
		rel := &stubRelational{series: []BucketValue{{Bucket: "a", Value: 1}}}
		router := NewRouter(relationalOnly(), rel, nil, testLogger())

		_, err := router.Execute(context.Background(), op, Params{WebsiteID: 1})
		require.NoError(t, err, "operation %s", op)
		assert.Equal(t, "dimension:"+dim, rel.lastOp, "operation %s", op)
	}
}

func TestRouterUnknownOperation(t *testing.T) {
	router := NewRouter(relationalOnly(), &stubRelational{}, nil, testLogger())

	_, err := router.Execute(context.Background(), Operation("median_scroll_depth"), Params{})
	var unknownErr *UnknownOperationError
	require.ErrorAs(t, err, &unknownErr)
	assert.Equal(t, Operation("median_scroll_depth"), unknownErr.Op)
}

func TestRouterWrapsStoreErrors(t *testing.T) {
	cause := errors.New("connection refused")
	rel := &stubRelational{err: cause}
	router := NewRouter(relationalOnly(), rel, nil, testLogger())

	_, err := router.Execute(context.Background(), OpVisitorSeries, Params{WebsiteID: 1})
	var storeErr *StoreError
	require.ErrorAs(t, err, &storeErr)
	assert.Equal(t, OpVisitorSeries, storeErr.Op)
	assert.Equal(t, "sqlite", storeErr.Store)
	assert.ErrorIs(t, err, cause)
}

func TestRouterPassesParamsErrorsThrough(t *testing.T) {
	cause := &ParamsError{Reason: "a time frame is required"}
	rel := &stubRelational{err: cause}
	router := NewRouter(relationalOnly(), rel, nil, testLogger())

	_, err := router.Execute(context.Background(), OpPageviewSeries, Params{WebsiteID: 1})

	var paramsErr *ParamsError
	require.ErrorAs(t, err, &paramsErr)
	var storeErr *StoreError
	assert.False(t, errors.As(err, &storeErr), "caller-input errors are not store failures")
}

func TestRouterSessionListParamsErrorsPassThrough(t *testing.T) {
	cause := &ParamsError{Reason: "malformed cursor"}
	rel := &stubRelational{err: cause}
	router := NewRouter(relationalOnly(), rel, nil, testLogger())

	_, err := router.Execute(context.Background(), OpSessionList, Params{WebsiteID: 1, Cursor: "!!"})

	var paramsErr *ParamsError
	require.ErrorAs(t, err, &paramsErr)
	var storeErr *StoreError
	assert.False(t, errors.As(err, &storeErr))
}

func TestRouterApproximateFlagPropagates(t *testing.T) {
	col := &stubColumnar{
		series:      []BucketValue{{Bucket: "2026-03-01", Value: 120000}},
		approximate: true,
	}
	router := NewRouter(withAnalytics(), &stubRelational{}, col, testLogger())

	result, err := router.Execute(context.Background(), OpVisitorSeries, Params{WebsiteID: 1})
	require.NoError(t, err)
	assert.True(t, result.Approximate)
}

func TestRouterSplitSessionListMergesVolumes(t *testing.T) {
	rel := &stubRelational{
		sessions: []SessionRow{
			{ID: "s-1", Browser: "Firefox", FirstSeen: time.Now().UTC()},
			{ID: "s-2", Browser: "Chrome", FirstSeen: time.Now().UTC()},
		},
		nextCursor: "next",
	}
	col := &stubColumnar{volumes: map[string]int64{"s-1": 14, "s-2": 3}}
	router := NewRouter(withAnalytics(), rel, col, testLogger())

	result, err := router.Execute(context.Background(), OpSessionList, Params{WebsiteID: 1})
	require.NoError(t, err)
	require.Len(t, result.Sessions, 2)
	assert.Equal(t, int64(14), result.Sessions[0].Events)
	assert.Equal(t, int64(3), result.Sessions[1].Events)
	assert.Equal(t, "next", result.NextCursor)
	assert.Equal(t, "session_volumes", col.lastOp)
}

func TestRouterSplitSessionListColumnarFailure(t *testing.T) {
	rel := &stubRelational{
		sessions: []SessionRow{{ID: "s-1", FirstSeen: time.Now().UTC()}},
	}
	cause := errors.New("clickhouse unreachable")
	col := &stubColumnar{volumesErr: cause}
	router := NewRouter(withAnalytics(), rel, col, testLogger())

	result, err := router.Execute(context.Background(), OpSessionList, Params{WebsiteID: 1})
	assert.Nil(t, result, "a split operation never returns partial data as a result")

	var partialErr *PartialCapabilityError
	require.ErrorAs(t, err, &partialErr)
	assert.Equal(t, OpSessionList, partialErr.Op)
	assert.Equal(t, "clickhouse", partialErr.FailedStore)
	assert.ErrorIs(t, err, cause)
}

func TestRouterSplitSessionListEmptyPageSkipsColumnarLeg(t *testing.T) {
	rel := &stubRelational{sessions: nil}
	col := &stubColumnar{volumesErr: errors.New("should not be called")}
	router := NewRouter(withAnalytics(), rel, col, testLogger())

	result, err := router.Execute(context.Background(), OpSessionList, Params{WebsiteID: 1})
	require.NoError(t, err)
	assert.Empty(t, result.Sessions)
	assert.Empty(t, col.lastOp)
}

func TestRouterSessionListRelationalOnly(t *testing.T) {
	rel := &stubRelational{
		sessions: []SessionRow{{ID: "s-1", Events: 7, FirstSeen: time.Now().UTC()}},
	}
	router := NewRouter(relationalOnly(), rel, nil, testLogger())

	result, err := router.Execute(context.Background(), OpSessionList, Params{WebsiteID: 1})
	require.NoError(t, err)
	require.Len(t, result.Sessions, 1)
	assert.Equal(t, int64(7), result.Sessions[0].Events)
}

func TestRouterWriteEventMirrorsToColumnar(t *testing.T) {
	rel := &stubRelational{}
	col := &stubColumnar{}
	router := NewRouter(withAnalytics(), rel, col, testLogger())

	err := router.WriteEvent(context.Background(), &events.Event{WebsiteID: 1}, &sessions.Session{})
	require.NoError(t, err)
	assert.Equal(t, 1, rel.createCalls)
	assert.Equal(t, 1, col.appendCalls)
}

func TestRouterWriteEventRelationalFailureSkipsMirror(t *testing.T) {
	rel := &stubRelational{err: errors.New("disk full")}
	col := &stubColumnar{}
	router := NewRouter(withAnalytics(), rel, col, testLogger())

	err := router.WriteEvent(context.Background(), &events.Event{WebsiteID: 1}, &sessions.Session{})
	var storeErr *StoreError
	require.ErrorAs(t, err, &storeErr)
	assert.Equal(t, "postgres", storeErr.Store)
	assert.Zero(t, col.appendCalls, "mirror append must not run when the authoritative write fails")
}

func TestRouterWriteEventColumnarFailureIsReported(t *testing.T) {
	rel := &stubRelational{}
	col := &stubColumnar{appendErr: errors.New("batch send failed")}
	router := NewRouter(withAnalytics(), rel, col, testLogger())

	err := router.WriteEvent(context.Background(), &events.Event{WebsiteID: 1}, &sessions.Session{})
	var storeErr *StoreError
	require.ErrorAs(t, err, &storeErr)
	assert.Equal(t, "clickhouse", storeErr.Store)
	assert.Equal(t, 1, rel.createCalls, "authoritative write still happened")
}

func TestRouterWriteEventWithoutAnalytics(t *testing.T) {
	rel := &stubRelational{}
	router := NewRouter(relationalOnly(), rel, nil, testLogger())

	err := router.WriteEvent(context.Background(), &events.Event{WebsiteID: 1}, &sessions.Session{})
	require.NoError(t, err)
	assert.Equal(t, 1, rel.createCalls)
}
