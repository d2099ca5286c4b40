package trend

import (
	"fmt"
	"time"
)

// DefaultDivisor rescales the normalized series for charting; it maps the
// historical full-coverage daily mean to roughly 0.5.
const DefaultDivisor = 100000.0

// Options tune series construction.
type Options struct {
	// Exclude drops one day (typically the partial current day) from the
	// series. Zero means exclude nothing.
	Exclude time.Time
	// Divisor rescales the normalized values; 0 means DefaultDivisor.
	Divisor float64
}

// Point is one plotted day.
type Point struct {
	Day     time.Time
	Runs    int
	RawMean float64
	// Coverage is activeStreams/catalogSize, in (0, 1].
	Coverage float64
	// Normalized is RawMean / Coverage / Divisor.
	Normalized float64
	// Smoothed is the 3-day centered moving average of Normalized. Display
	// only; it never feeds back into the stored values.
	Smoothed float64
}

// Series is the assembled trend.
type Series struct {
	Points   []Point
	Divisor  float64
	Catalog  Catalog
	Excluded []time.Time
	// ZeroCoverage lists days dropped because no stream was active yet;
	// a zero-coverage day has no meaningful normalized value.
	ZeroCoverage []time.Time
}

// Build assembles the coverage-normalized series from daily samples. Days
// with no usable runs never reach here (LoadHistory omits them); days where
// no catalog stream was active yet are dropped, not zero-filled.
func Build(samples []DaySample, catalog Catalog, opts Options) (Series, error) {
	if len(catalog) == 0 {
		return Series{}, fmt.Errorf("stream catalog is empty")
	}
	divisor := opts.Divisor
	if divisor <= 0 {
		divisor = DefaultDivisor
	}

	s := Series{Divisor: divisor, Catalog: catalog}
	first := FirstSeen(samples, catalog)

	for _, sample := range samples {
		if sameDay(sample.Day, opts.Exclude) {
			s.Excluded = append(s.Excluded, sample.Day)
			continue
		}
		active := ActiveOn(sample.Day, first, catalog)
		if active <= 0 {
			s.ZeroCoverage = append(s.ZeroCoverage, sample.Day)
			continue
		}
		coverage := float64(active) / float64(len(catalog))
		s.Points = append(s.Points, Point{
			Day:        sample.Day,
			Runs:       sample.Runs,
			RawMean:    sample.MeanErrors,
			Coverage:   coverage,
			Normalized: sample.MeanErrors / coverage / divisor,
		})
	}

	smooth(s.Points)
	return s, nil
}

// smooth fills the 3-day centered moving average. Neighbors are matched by
// calendar day, not slice index, so gaps in the series do not smear across
// missing days; edges average whatever neighbors exist.
func smooth(points []Point) {
	for i := range points {
		sum := points[i].Normalized
		n := 1
		if i > 0 && dayDiff(points[i-1].Day, points[i].Day) == 1 {
			sum += points[i-1].Normalized
			n++
		}
		if i+1 < len(points) && dayDiff(points[i].Day, points[i+1].Day) == 1 {
			sum += points[i+1].Normalized
			n++
		}
		points[i].Smoothed = sum / float64(n)
	}
}

func sameDay(a, b time.Time) bool {
	if b.IsZero() {
		return false
	}
	ay, am, ad := a.UTC().Date()
	by, bm, bd := b.UTC().Date()
	return ay == by && am == bm && ad == bd
}

func dayDiff(a, b time.Time) int {
	return int(b.UTC().Truncate(24*time.Hour).Sub(a.UTC().Truncate(24*time.Hour)) / (24 * time.Hour))
}
