package trend

import (
	"bytes"
	"encoding/csv"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func buildTestSeries(t *testing.T) (Series, []Event) {
	t.Helper()
	full := fullStreams(DefaultCatalog(), 1)
	samples := []DaySample{
		{Day: day("2026-08-20"), Runs: 24, MeanErrors: 50000, StreamTotals: full},
		{Day: day("2026-08-21"), Runs: 24, MeanErrors: 60000, StreamTotals: full},
		{Day: day("2026-08-22"), Runs: 6, MeanErrors: 30000, StreamTotals: full},
	}
	s, err := Build(samples, DefaultCatalog(), Options{Exclude: day("2026-08-22")})
	require.NoError(t, err)

	events, err := ParseChangelog(strings.NewReader("## 2026-08-21 v2.0 rollout\n"))
	require.NoError(t, err)
	return s, events
}

func TestRender(t *testing.T) {
	s, events := buildTestSeries(t)
	out := Render(s, events, 100)

	require.Contains(t, out, "Error trend (coverage-normalized)")
	require.Contains(t, out, "not raw counts")
	require.Contains(t, out, "÷ 100000")
	require.Contains(t, out, "excluded days: 2026-08-22")
	require.Contains(t, out, "smoothed (3-day centered)")
	require.Contains(t, out, "2026-08-20")
	require.Contains(t, out, "E1")
	require.Contains(t, out, "v2.0 rollout")
}

func TestRender_EmptySeries(t *testing.T) {
	s, err := Build(nil, DefaultCatalog(), Options{})
	require.NoError(t, err)
	out := Render(s, nil, 80)
	require.Contains(t, out, "no plottable days")
}

func TestRender_NarrowWidthClamped(t *testing.T) {
	s, events := buildTestSeries(t)
	out := Render(s, events, 10)
	require.NotEmpty(t, out)
}

func TestWriteCSV(t *testing.T) {
	s, events := buildTestSeries(t)
	var buf bytes.Buffer
	require.NoError(t, WriteCSV(&buf, s, events))

	recs, err := csv.NewReader(&buf).ReadAll()
	require.NoError(t, err)
	require.Len(t, recs, 3)
	require.Equal(t, []string{"day", "runs", "raw_mean", "coverage", "adjusted", "smoothed", "events"}, recs[0])

	require.Equal(t, "2026-08-20", recs[1][0])
	require.Equal(t, "24", recs[1][1])
	require.Equal(t, "50000.00", recs[1][2])
	require.Equal(t, "1.0000", recs[1][3])
	require.Equal(t, "0.500000", recs[1][4])
	require.Equal(t, "", recs[1][6])

	require.Equal(t, "2026-08-21", recs[2][0])
	require.Equal(t, "0.600000", recs[2][4])
	require.Equal(t, "E1", recs[2][6])
}

func TestResampleData(t *testing.T) {
	data := []float64{1, 1, 3, 3}
	require.Equal(t, []float64{1, 3}, resampleData(data, 2))
	// Short series pass through untouched.
	require.Equal(t, data, resampleData(data, 10))
	require.Empty(t, resampleData(nil, 5))
}

func TestAutoScale(t *testing.T) {
	require.Equal(t, 1.0, autoScale([]float64{0.7}))
	require.Equal(t, 0.5, autoScale([]float64{0.3}))
	require.Equal(t, 1.0, autoScale(nil))
}
