package columnar

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sitelens/internal/timeframe"
)

func TestBucketExprPerGranularity(t *testing.T) {
	cases := map[timeframe.BucketSize]string{
		timeframe.BucketHour:  "toStartOfHour(timestamp)",
		timeframe.BucketDay:   "toStartOfDay(timestamp)",
		timeframe.BucketWeek:  "toStartOfWeek(timestamp, 1)",
		timeframe.BucketMonth: "toStartOfMonth(timestamp)",
		timeframe.BucketYear:  "toStartOfYear(timestamp)",
	}

	for size, want := range cases {
		expr, err := bucketExpr(size)
		require.NoError(t, err)
		assert.Equal(t, want, expr)
	}

	_, err := bucketExpr(timeframe.BucketSize("fortnight"))
	require.Error(t, err)
}

func TestFilterConditionsAreDeterministic(t *testing.T) {
	filters := map[string]string{
		"country": "DE",
		"browser": "Firefox",
		"os":      "Linux",
	}

	conds, args, err := filterConditions(filters)
	require.NoError(t, err)
	assert.Equal(t, []string{"browser = ?", "country = ?", "operating_system = ?"}, conds)
	assert.Equal(t, []any{"Firefox", "DE", "Linux"}, args)
}

func TestFilterConditionsRejectUnknownDimension(t *testing.T) {
	_, _, err := filterConditions(map[string]string{"shoe_size": "44"})
	require.Error(t, err)
}

func TestSanitizeProperty(t *testing.T) {
	for _, valid := range []string{"plan", "seats_total", "utm.source", "step-2"} {
		_, err := sanitizeProperty(valid)
		assert.NoError(t, err, valid)
	}
	for _, invalid := range []string{"", "plan') --", "a b", "x'y"} {
		_, err := sanitizeProperty(invalid)
		assert.Error(t, err, invalid)
	}
}
