package trend

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"regexp"
	"sort"
	"strings"
	"time"
)

// Category classifies a change-log event by its header shape.
type Category string

const (
	// CategoryVersion marks dated H2 headers whose title carries a version
	// token ("## 2026-08-01 v2.3 rollout").
	CategoryVersion Category = "version"
	// CategoryIncident marks the remaining dated H2 headers; incidents and
	// maintenance actions share this shape.
	CategoryIncident Category = "incident"
	// CategoryNote marks dated H3 headers ("### 2026-08-02 observed ...").
	CategoryNote Category = "note"
)

// Event is one dated change-log entry.
type Event struct {
	Date     time.Time
	Category Category
	Title    string
	// Label is the sequential chart marker (E1, E2, ...), assigned in
	// chronological order across all categories.
	Label string
}

var (
	headerPattern  = regexp.MustCompile(`^(#{2,3})\s+(\d{4}-\d{2}-\d{2})\s*[-:]?\s*(.*)$`)
	versionPattern = regexp.MustCompile(`(?i)^v?\d+(\.\d+)+\b|^version\b`)
)

// ParseChangelog reads dated markdown headers and returns them as labeled
// events in chronological order. Undated headers and body text are ignored.
func ParseChangelog(r io.Reader) ([]Event, error) {
	var events []Event
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		m := headerPattern.FindStringSubmatch(scanner.Text())
		if m == nil {
			continue
		}
		date, err := time.Parse("2006-01-02", m[2])
		if err != nil {
			continue
		}
		title := strings.TrimSpace(m[3])
		events = append(events, Event{
			Date:     date.UTC(),
			Category: categorize(len(m[1]), title),
			Title:    title,
		})
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}

	sort.SliceStable(events, func(i, j int) bool { return events[i].Date.Before(events[j].Date) })
	for i := range events {
		events[i].Label = fmt.Sprintf("E%d", i+1)
	}
	return events, nil
}

// LoadChangelog parses the change-log file at path.
func LoadChangelog(path string) ([]Event, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return ParseChangelog(f)
}

func categorize(headerLevel int, title string) Category {
	if headerLevel >= 3 {
		return CategoryNote
	}
	if versionPattern.MatchString(title) {
		return CategoryVersion
	}
	return CategoryIncident
}

// EventsOn returns the events dated on the point's day.
func EventsOn(day time.Time, events []Event) []Event {
	var out []Event
	for _, e := range events {
		if sameDay(day, e.Date) {
			out = append(out, e)
		}
	}
	return out
}
