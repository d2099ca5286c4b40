// Package trend is the offline analyzer for the archived assessment history.
// It aggregates the monthly archive DBs into daily samples and renders a
// coverage-normalized error trend: raw daily means are comparable across the
// catalog growth only after dividing by the fraction of streams that were
// instrumented on that day.
package trend

import (
	"fmt"
	"sort"
	"time"

	"health-sentinel/sentinel"
)

// DaySample aggregates one UTC calendar day of archived runs. Only rows whose
// primary window completed contribute; a timed-out window is missing data,
// not a zero observation.
type DaySample struct {
	Day          time.Time
	Runs         int
	MeanErrors   float64
	StreamTotals map[string]int
}

// LoadHistory reads the monthly archive DBs under folder and aggregates the
// usable rows of [from, to] into per-day samples, sorted by day.
func LoadHistory(folder, prefix string, from, to time.Time) ([]DaySample, error) {
	paths, err := sentinel.ListMonthlyDBs(folder, prefix, from, to)
	if err != nil {
		return nil, err
	}
	if len(paths) == 0 {
		return nil, fmt.Errorf("no archive DBs matched folder=%q prefix=%q", folder, prefix)
	}

	fromDay := from.UTC().Format("2006-01-02")
	toDay := to.UTC().Format("2006-01-02")

	type accum struct {
		runs    int
		total   int
		streams map[string]int
	}
	days := make(map[string]*accum)

	for _, p := range paths {
		db, err := sentinel.OpenQueryDB(p)
		if err != nil {
			return nil, fmt.Errorf("open archive %s: %w", p, err)
		}
		sqlDB, err := db.DB()
		if err != nil {
			return nil, err
		}

		var rows []sentinel.RecordRow
		if err := db.Where("window_ok = ?", true).Order("id asc").Find(&rows).Error; err != nil {
			_ = sqlDB.Close()
			return nil, fmt.Errorf("read archive %s: %w", p, err)
		}
		_ = sqlDB.Close()

		for _, row := range rows {
			if row.Day < fromDay || row.Day > toDay {
				continue
			}
			a, ok := days[row.Day]
			if !ok {
				a = &accum{streams: make(map[string]int)}
				days[row.Day] = a
			}
			a.runs++
			a.total += row.TotalErrors
			for _, name := range sentinel.StreamNames() {
				a.streams[name] += row.StreamCount(name)
			}
		}
	}

	samples := make([]DaySample, 0, len(days))
	for dayStr, a := range days {
		day, err := time.Parse("2006-01-02", dayStr)
		if err != nil || a.runs == 0 {
			continue
		}
		samples = append(samples, DaySample{
			Day:          day.UTC(),
			Runs:         a.runs,
			MeanErrors:   float64(a.total) / float64(a.runs),
			StreamTotals: a.streams,
		})
	}
	sort.Slice(samples, func(i, j int) bool { return samples[i].Day.Before(samples[j].Day) })
	return samples, nil
}
