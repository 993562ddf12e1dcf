// Package timeframe models report time ranges, bucket granularity and
// time-series gap-filling. Bucket keys are plain strings so the same
// series shape works whichever engine produced the counts; the
// engine-specific SQL expressions that yield those keys live with the
// query implementations.
package timeframe

import (
	"fmt"
	"time"
)

// DateStat is one (bucket key, count) pair of a time series.
type DateStat struct {
	Date  string
	Count int64
}

// BucketSize is the granularity of a time series.
type BucketSize string

const (
	BucketHour  BucketSize = "hour"
	BucketDay   BucketSize = "day"
	BucketWeek  BucketSize = "week"
	BucketMonth BucketSize = "month"
	BucketYear  BucketSize = "year"
)

// ParseBucketSize validates a granularity value from a report request.
func ParseBucketSize(s string) (BucketSize, error) {
	switch BucketSize(s) {
	case BucketHour, BucketDay, BucketWeek, BucketMonth, BucketYear:
		return BucketSize(s), nil
	default:
		return "", fmt.Errorf("unknown granularity: %q", s)
	}
}

// TimeFrame represents a period between two points in time at a given
// granularity.
type TimeFrame struct {
	From       time.Time
	To         time.Time
	BucketSize BucketSize
}

// maxBuckets caps how many points one time series may span. A range
// wider than the cap is rejected up front rather than truncated: a
// series that silently omitted part of the requested range would read
// as real zeroes.
const maxBuckets = 1000

// New builds a TimeFrame, normalizing both ends to UTC.
func New(from, to time.Time, size BucketSize) (*TimeFrame, error) {
	if from.After(to) {
		return nil, fmt.Errorf("time frame start %s is after end %s", from, to)
	}
	tf := &TimeFrame{From: from.UTC(), To: to.UTC(), BucketSize: size}
	if tf.exceedsMaxBuckets() {
		return nil, fmt.Errorf("time frame spans more than %d %s buckets; narrow the range or use a coarser granularity", maxBuckets, size)
	}
	return tf, nil
}

func (tf *TimeFrame) exceedsMaxBuckets() bool {
	current := tf.TruncateToBucket(tf.From)
	last := tf.TruncateToBucket(tf.To)
	for n := 0; !current.After(last); n++ {
		if n == maxBuckets {
			return true
		}
		current = tf.nextBucket(current)
	}
	return false
}

// KeyFormat returns the Go layout that renders a bucket boundary as the
// canonical bucket key. Every engine's results are normalized to this
// format before gap-filling.
func (tf *TimeFrame) KeyFormat() string {
	switch tf.BucketSize {
	case BucketHour:
		return "2006-01-02 15"
	case BucketDay, BucketWeek:
		return "2006-01-02"
	case BucketMonth:
		return "2006-01"
	case BucketYear:
		return "2006"
	default:
		return "2006-01-02"
	}
}

// FormatBucket renders a bucket boundary timestamp as its canonical key.
func (tf *TimeFrame) FormatBucket(t time.Time) string {
	return t.UTC().Format(tf.KeyFormat())
}

// TruncateToBucket floors a time to its bucket boundary in UTC. Weeks
// start on Monday.
func (tf *TimeFrame) TruncateToBucket(t time.Time) time.Time {
	utc := t.UTC()
	year, month, day := utc.Year(), utc.Month(), utc.Day()

	switch tf.BucketSize {
	case BucketYear:
		return time.Date(year, 1, 1, 0, 0, 0, 0, time.UTC)
	case BucketMonth:
		return time.Date(year, month, 1, 0, 0, 0, 0, time.UTC)
	case BucketWeek:
		weekday := int(utc.Weekday())
		if weekday == 0 { // Sunday
			weekday = 7
		}
		return time.Date(year, month, day-(weekday-1), 0, 0, 0, 0, time.UTC)
	case BucketDay:
		return time.Date(year, month, day, 0, 0, 0, 0, time.UTC)
	case BucketHour:
		return time.Date(year, month, day, utc.Hour(), 0, 0, 0, time.UTC)
	default:
		return utc
	}
}

func (tf *TimeFrame) nextBucket(t time.Time) time.Time {
	switch tf.BucketSize {
	case BucketYear:
		return t.AddDate(1, 0, 0)
	case BucketMonth:
		return t.AddDate(0, 1, 0)
	case BucketWeek:
		return t.AddDate(0, 0, 7)
	case BucketDay:
		return t.AddDate(0, 0, 1)
	case BucketHour:
		return t.Add(time.Hour)
	default:
		return t.AddDate(0, 0, 1)
	}
}

// BucketRef is one expected point of a contiguous series: the canonical
// key queries group on and the RFC3339 label callers receive.
type BucketRef struct {
	Key     string
	Display string
}

// GenerateBucketRefs lists every bucket the requested range contains,
// first to last, regardless of whether any data exists for it. Range
// width is validated in New, so the walk is bounded.
func (tf *TimeFrame) GenerateBucketRefs() []BucketRef {
	refs := []BucketRef{}
	current := tf.TruncateToBucket(tf.From)
	last := tf.TruncateToBucket(tf.To)

	for !current.After(last) {
		refs = append(refs, BucketRef{
			Key:     tf.FormatBucket(current),
			Display: current.Format(time.RFC3339),
		})
		current = tf.nextBucket(current)
	}

	return refs
}

// BuildTimeSeriesPoints gap-fills grouped query results into a
// contiguous series: every bucket in the requested range is present,
// zero-valued when the store returned nothing for it. A time-series
// result never silently omits an empty interval inside the range.
func (tf *TimeFrame) BuildTimeSeriesPoints(grouped []DateStat) []DateStat {
	refs := tf.GenerateBucketRefs()
	results := make([]DateStat, len(refs))

	counts := make(map[string]int64, len(grouped))
	for _, g := range grouped {
		counts[tf.normalizeKey(g.Date)] = g.Count
	}

	for i, ref := range refs {
		results[i] = DateStat{
			Date:  ref.Display,
			Count: counts[tf.normalizeKey(ref.Key)],
		}
	}

	return results
}

// normalizeKey trims engine-flavored bucket strings (e.g. a trailing
// ":00:00" from a datetime column) down to the canonical key width.
func (tf *TimeFrame) normalizeKey(key string) string {
	width := len(tf.KeyFormat())
	if len(key) > width {
		return key[:width]
	}
	return key
}

// Duration returns the length of the time frame.
func (tf *TimeFrame) Duration() time.Duration {
	return tf.To.Sub(tf.From)
}
