package trend

import (
	"time"

	"health-sentinel/sentinel"
)

// Catalog is the full set of instrumented error streams. Coverage divides by
// this set's size, so streams the history never mentions still count in the
// denominator.
type Catalog []string

// DefaultCatalog mirrors the agent's stream table.
func DefaultCatalog() Catalog {
	return Catalog(sentinel.StreamNames())
}

// FirstSeen returns, per stream, the earliest day with a nonzero total. A
// stream stays active from that day onward regardless of later zero readings:
// an instrumented stream reporting zero is coverage, not absence.
func FirstSeen(samples []DaySample, catalog Catalog) map[string]time.Time {
	first := make(map[string]time.Time, len(catalog))
	for _, s := range samples {
		for _, name := range catalog {
			if s.StreamTotals[name] <= 0 {
				continue
			}
			if _, ok := first[name]; !ok {
				first[name] = s.Day
			}
		}
	}
	return first
}

// ActiveOn counts the catalog streams already seen by day.
func ActiveOn(day time.Time, first map[string]time.Time, catalog Catalog) int {
	n := 0
	for _, name := range catalog {
		seen, ok := first[name]
		if !ok {
			continue
		}
		if !seen.After(day) {
			n++
		}
	}
	return n
}
