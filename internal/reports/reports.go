// Package reports composes dashboard reports out of query operations.
// A report definition fans out to the router as independent operations
// running on a worker pool; the merged report is engine-agnostic.
package reports

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"sitelens/internal/pkg/async"
	"sitelens/internal/query"
	"sitelens/internal/timeframe"
)

// reportWorkers bounds the concurrency of one report generation.
const reportWorkers = 4

// Definition describes one requested report.
type Definition struct {
	WebsiteID   uint              `json:"website_id"`
	From        time.Time         `json:"from"`
	To          time.Time         `json:"to"`
	Granularity string            `json:"granularity"`
	Filters     map[string]string `json:"filters"`
	// GroupBy names the dimension whose breakdown is surfaced as the
	// report's grouped view. Optional.
	GroupBy string `json:"group_by"`
	Limit   int    `json:"limit"`
}

// Report is the merged answer. Every section keeps the uniform
// (bucket, value) shape its operation produced.
type Report struct {
	Pageviews    []query.BucketValue `json:"pageviews"`
	Visitors     []query.BucketValue `json:"visitors"`
	Sessions     []query.BucketValue `json:"sessions"`
	TopPages     []query.BucketValue `json:"top_pages"`
	TopReferrers []query.BucketValue `json:"top_referrers"`
	TopBrowsers  []query.BucketValue `json:"top_browsers"`
	TopOS        []query.BucketValue `json:"top_os"`
	TopDevices   []query.BucketValue `json:"top_devices"`
	TopCountries []query.BucketValue `json:"top_countries"`
	// Grouped holds the breakdown selected by Definition.GroupBy, with
	// dimension values as stored.
	Grouped []query.BucketValue `json:"grouped,omitempty"`
	// Approximate is set when any section was computed with a
	// probabilistic counting primitive.
	Approximate bool `json:"approximate"`
}

// Generator runs report definitions against the query router.
type Generator struct {
	router *query.Router
	pool   *async.Pool
	logger *logrus.Logger
}

// NewGenerator builds a Generator.
func NewGenerator(router *query.Router, logger *logrus.Logger) *Generator {
	return &Generator{
		router: router,
		pool:   async.NewPool(reportWorkers),
		logger: logger,
	}
}

// groupableDimensions maps grouping dimensions to the breakdown
// operation that answers them.
var groupableDimensions = map[string]query.Operation{
	"pathname": query.OpTopPages,
	"referrer": query.OpTopReferrers,
	"browser":  query.OpTopBrowsers,
	"os":       query.OpTopOS,
	"device":   query.OpTopDevices,
	"country":  query.OpTopCountries,
}

// reportSections maps report fields to the operations that fill them.
var reportSections = []query.Operation{
	query.OpPageviewSeries,
	query.OpVisitorSeries,
	query.OpSessionSeries,
	query.OpTopPages,
	query.OpTopReferrers,
	query.OpTopBrowsers,
	query.OpTopOS,
	query.OpTopDevices,
	query.OpTopCountries,
}

// Generate runs all sections of a report concurrently. Sections share
// one cancellable context: the first failing section cancels the rest
// and fails the whole report, so a report is never a silent mix of
// fresh and missing data.
func (g *Generator) Generate(ctx context.Context, def Definition) (*Report, error) {
	params, err := g.buildParams(def)
	if err != nil {
		return nil, err
	}

	groupOp := query.Operation("")
	if def.GroupBy != "" {
		op, ok := groupableDimensions[def.GroupBy]
		if !ok {
			return nil, fmt.Errorf("cannot group by %q", def.GroupBy)
		}
		groupOp = op
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	tasks := make([]async.Task, len(reportSections))
	for i, op := range reportSections {
		op := op
		tasks[i] = async.Task{
			Name: string(op),
			Execute: func(taskCtx context.Context) (any, error) {
				result, err := g.router.Execute(taskCtx, op, *params)
				if err != nil {
					cancel()
					return nil, err
				}
				return result, nil
			},
		}
	}

	results := g.pool.Execute(runCtx, tasks)

	// Surface the root failure before complaining about sections the
	// cancellation stopped.
	for _, op := range reportSections {
		if taskResult, ok := results[string(op)]; ok && taskResult.Err != nil {
			return nil, fmt.Errorf("report section %s failed: %w", op, taskResult.Err)
		}
	}

	report := &Report{}
	for _, op := range reportSections {
		taskResult, ok := results[string(op)]
		if !ok {
			return nil, fmt.Errorf("report section %s did not complete", op)
		}

		result := taskResult.Data.(*query.Result)
		report.Approximate = report.Approximate || result.Approximate
		g.assignSection(report, op, result.Series)
		if op == groupOp {
			report.Grouped = result.Series
		}
	}

	return report, nil
}

func (g *Generator) buildParams(def Definition) (*query.Params, error) {
	size, err := timeframe.ParseBucketSize(def.Granularity)
	if err != nil {
		return nil, err
	}
	tf, err := timeframe.New(def.From, def.To, size)
	if err != nil {
		return nil, err
	}

	return &query.Params{
		WebsiteID: def.WebsiteID,
		TimeFrame: tf,
		Filters:   def.Filters,
		Limit:     def.Limit,
	}, nil
}

func (g *Generator) assignSection(report *Report, op query.Operation, series []query.BucketValue) {
	switch op {
	case query.OpPageviewSeries:
		report.Pageviews = series
	case query.OpVisitorSeries:
		report.Visitors = series
	case query.OpSessionSeries:
		report.Sessions = series
	case query.OpTopPages:
		report.TopPages = series
	case query.OpTopReferrers:
		report.TopReferrers = series
	case query.OpTopBrowsers:
		report.TopBrowsers = series
	case query.OpTopOS:
		report.TopOS = series
	case query.OpTopDevices:
		report.TopDevices = series
	case query.OpTopCountries:
		report.TopCountries = series
	}
}
