package sentinel

import (
	"fmt"
	"regexp"
	"sort"
	"strings"
)

// Error stream names, in catalog order. The trend analyzer treats this list
// as the full catalog of instrumented streams.
const (
	StreamKernel    = "kernel"
	StreamGraphics  = "graphics"
	StreamIndexing  = "indexing"
	StreamCloudSync = "cloudsync"
	StreamDiskIO    = "diskio"
	StreamNetwork   = "network"
	StreamProcAcct  = "procacct"
	StreamPower     = "power"
)

// StreamNames returns the catalog in its fixed order.
func StreamNames() []string {
	return []string{
		StreamKernel,
		StreamGraphics,
		StreamIndexing,
		StreamCloudSync,
		StreamDiskIO,
		StreamNetwork,
		StreamProcAcct,
		StreamPower,
	}
}

// StreamRule maps a named error stream to its subsystem keywords. A line
// counts for the stream only when a keyword AND a failure marker occur
// together; routine mentions of a subsystem do not count.
type StreamRule struct {
	Name     string
	Keywords []string
}

// DefaultStreamRules is the built-in subsystem keyword table.
func DefaultStreamRules() []StreamRule {
	return []StreamRule{
		{Name: StreamKernel, Keywords: []string{"kernel", "panic", "watchdog"}},
		{Name: StreamGraphics, Keywords: []string{"windowserver", "gpu", "skylight", "metal"}},
		{Name: StreamIndexing, Keywords: []string{"mds", "mdworker", "spotlight", "corespotlight"}},
		{Name: StreamCloudSync, Keywords: []string{"bird", "clouddocs", "cloudd", "icloud"}},
		{Name: StreamDiskIO, Keywords: []string{"apfs", "diskarbitration", "fsevents", "iostorage"}},
		{Name: StreamNetwork, Keywords: []string{"mdnsresponder", "nsurlsession", "networkd", "symptomsd"}},
		{Name: StreamProcAcct, Keywords: []string{"launchd", "runningboard", "xpc"}},
		{Name: StreamPower, Keywords: []string{"powerd", "thermal", "battery", "iopmrootdomain"}},
	}
}

var (
	errorLinePattern    = regexp.MustCompile(`(?i)error`)
	faultLinePattern    = regexp.MustCompile(`(?i)\b(fault|fatal|critical)\b`)
	failureMarkPattern  = regexp.MustCompile(`(?i)(error|fail(ed|ure)?|time[d]?[ _-]?out|timeout)`)
	unavailableMessages = "log unavailable (window timed out)"
)

// LogSummary is the classification of one primary window. A timed-out window
// carries Available=false with nil stream counts; callers must not read the
// zeros as observations.
type LogSummary struct {
	Available   bool           `json:"available"`
	TotalErrors int            `json:"total_errors"`
	FaultErrors int            `json:"fault_errors"`
	Streams     map[string]int `json:"streams,omitempty"`
	TopMessages string         `json:"top_messages"`
}

// Classifier partitions a log window into named error streams and ranks the
// most frequent message residues.
type Classifier struct {
	Rules []StreamRule
	TopN  int
}

// Classify scans the window once. Every configured stream appears in the
// result map even at zero, so the archive records observed-zero explicitly.
func (c *Classifier) Classify(win LogWindow) LogSummary {
	if win.TimedOut {
		return LogSummary{Available: false, TopMessages: unavailableMessages}
	}
	rules := c.Rules
	if len(rules) == 0 {
		rules = DefaultStreamRules()
	}
	topN := c.TopN
	if topN <= 0 {
		topN = 3
	}

	sum := LogSummary{Available: true, Streams: make(map[string]int, len(rules))}
	for _, r := range rules {
		sum.Streams[r.Name] = 0
	}

	residues := make(map[string]*residueStat)

	for i, line := range strings.Split(win.Text, "\n") {
		if strings.TrimSpace(line) == "" {
			continue
		}
		if errorLinePattern.MatchString(line) {
			sum.TotalErrors++
			res := NormalizeResidue(line)
			if res != "" {
				if st, ok := residues[res]; ok {
					st.count++
				} else {
					residues[res] = &residueStat{count: 1, first: i}
				}
			}
		}
		if faultLinePattern.MatchString(line) {
			sum.FaultErrors++
		}
		if !failureMarkPattern.MatchString(line) {
			continue
		}
		lower := strings.ToLower(line)
		for _, r := range rules {
			for _, kw := range r.Keywords {
				if strings.Contains(lower, kw) {
					sum.Streams[r.Name]++
					break
				}
			}
		}
	}

	// Pathological input can trip the fault marker more often than the error
	// marker; the summary never claims more faults than errors.
	if sum.FaultErrors > sum.TotalErrors {
		sum.FaultErrors = sum.TotalErrors
	}

	sum.TopMessages = rankResidues(residues, topN)
	return sum
}

type residueStat struct {
	count int
	first int
}

// rankResidues picks the topN most frequent residues, breaking frequency ties
// by first occurrence, and joins them for display.
func rankResidues(residues map[string]*residueStat, topN int) string {
	if len(residues) == 0 {
		return "none"
	}
	type ranked struct {
		text  string
		count int
		first int
	}
	all := make([]ranked, 0, len(residues))
	for text, st := range residues {
		all = append(all, ranked{text: text, count: st.count, first: st.first})
	}
	sort.Slice(all, func(i, j int) bool {
		if all[i].count != all[j].count {
			return all[i].count > all[j].count
		}
		return all[i].first < all[j].first
	})
	if len(all) > topN {
		all = all[:topN]
	}
	parts := make([]string, 0, len(all))
	for _, r := range all {
		parts = append(parts, fmt.Sprintf("%dx %s", r.count, r.text))
	}
	return strings.Join(parts, " | ")
}

// CountErrors counts error-marked lines in a short window. The bool is false
// when the window timed out; the zero count then means "unknown", not zero.
func CountErrors(win LogWindow) (int, bool) {
	if win.TimedOut {
		return 0, false
	}
	n := 0
	for _, line := range strings.Split(win.Text, "\n") {
		if strings.TrimSpace(line) == "" {
			continue
		}
		if errorLinePattern.MatchString(line) {
			n++
		}
	}
	return n, true
}
