package trend

import (
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
	"strings"
)

// WriteCSV exports the series for spreadsheet follow-up. Columns mirror the
// report table; the events column joins that day's labels.
func WriteCSV(w io.Writer, s Series, events []Event) error {
	cw := csv.NewWriter(w)
	if err := cw.Write([]string{"day", "runs", "raw_mean", "coverage", "adjusted", "smoothed", "events"}); err != nil {
		return err
	}
	for _, p := range s.Points {
		labels := make([]string, 0, 2)
		for _, e := range EventsOn(p.Day, events) {
			labels = append(labels, e.Label)
		}
		rec := []string{
			p.Day.Format("2006-01-02"),
			strconv.Itoa(p.Runs),
			fmt.Sprintf("%.2f", p.RawMean),
			fmt.Sprintf("%.4f", p.Coverage),
			fmt.Sprintf("%.6f", p.Normalized),
			fmt.Sprintf("%.6f", p.Smoothed),
			strings.Join(labels, " "),
		}
		if err := cw.Write(rec); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}
