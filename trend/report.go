package trend

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
)

var (
	colorRed    = lipgloss.Color("#FF5555")
	colorYellow = lipgloss.Color("#F1FA8C")
	colorGreen  = lipgloss.Color("#50FA7B")
	colorCyan   = lipgloss.Color("#8BE9FD")
	colorGray   = lipgloss.Color("#6272A4")

	titleStyle = lipgloss.NewStyle().Bold(true).Foreground(colorCyan)
	dimStyle   = lipgloss.NewStyle().Foreground(colorGray)
	warnStyle  = lipgloss.NewStyle().Foreground(colorYellow).Bold(true)
	critStyle  = lipgloss.NewStyle().Foreground(colorRed).Bold(true)
	okStyle    = lipgloss.NewStyle().Foreground(colorGreen)
	eventStyle = lipgloss.NewStyle().Foreground(colorYellow)
)

// Render produces the full labeled report: the normalization notice, the
// smoothed chart, the per-day table with event annotations, and the event
// legend. Values are explicitly labeled as adjusted so nobody reads them as
// raw counts.
func Render(s Series, events []Event, width int) string {
	if width < 40 {
		width = 40
	}
	var sb strings.Builder

	sb.WriteString(titleStyle.Render("Error trend (coverage-normalized)"))
	sb.WriteString("\n")
	sb.WriteString(dimStyle.Render(fmt.Sprintf(
		"adjusted values: daily mean errors ÷ stream coverage ÷ %.0f (not raw counts)", s.Divisor)))
	sb.WriteString("\n")
	if len(s.Excluded) > 0 {
		sb.WriteString(dimStyle.Render("excluded days: " + joinDays(s.Excluded)))
		sb.WriteString("\n")
	}
	if len(s.ZeroCoverage) > 0 {
		sb.WriteString(dimStyle.Render("dropped (no active streams): " + joinDays(s.ZeroCoverage)))
		sb.WriteString("\n")
	}
	sb.WriteString("\n")

	if len(s.Points) == 0 {
		sb.WriteString(dimStyle.Render("no plottable days"))
		sb.WriteString("\n")
		return sb.String()
	}

	values := make([]float64, len(s.Points))
	for i, p := range s.Points {
		values[i] = p.Smoothed
	}
	sb.WriteString(trendChart(values, "smoothed (3-day centered)", width, 8, s.Points[0].Day, s.Points[len(s.Points)-1].Day))
	sb.WriteString("\n\n")

	sb.WriteString(dayTable(s, events))

	if len(events) > 0 {
		sb.WriteString("\n")
		sb.WriteString(titleStyle.Render("Events"))
		sb.WriteString("\n")
		for _, e := range events {
			sb.WriteString(fmt.Sprintf("  %s  %s  %-8s  %s\n",
				eventStyle.Render(fmt.Sprintf("%-3s", e.Label)),
				e.Date.Format("2006-01-02"), e.Category, e.Title))
		}
	}
	return sb.String()
}

// trendChart renders the series as an area chart with sub-cell resolution
// using fractional block characters and per-cell coloring.
func trendChart(data []float64, label string, width, height int, startDay, endDay time.Time) string {
	if height < 2 {
		height = 2
	}
	maxVal := autoScale(data)
	minVal := 0.0

	axisW := 5 // e.g. "1.25│"
	chartW := width - axisW - 1
	if chartW < 10 {
		chartW = 10
	}
	resampled := resampleData(data, chartW)

	subBlocks := []rune{' ', '▁', '▂', '▃', '▄', '▅', '▆', '▇', '█'}

	var sb strings.Builder
	last := float64(0)
	if len(resampled) > 0 {
		last = resampled[len(resampled)-1]
	}
	sb.WriteString(titleStyle.Render(label))
	sb.WriteString(dimStyle.Render(fmt.Sprintf("  latest: %.3f", last)))
	sb.WriteString("\n")

	rangeVal := maxVal - minVal

	for row := height - 1; row >= 0; row-- {
		yVal := minVal + (float64(row+1)/float64(height))*rangeVal
		sb.WriteString(dimStyle.Render(fmt.Sprintf("%4.2f", yVal)))
		sb.WriteString(dimStyle.Render("│"))

		for col := 0; col < len(resampled); col++ {
			val := resampled[col]
			normalized := (val - minVal) / rangeVal * float64(height)

			cellBottom := float64(row)
			cellTop := float64(row + 1)

			var ch rune
			if normalized >= cellTop {
				ch = '█'
			} else if normalized <= cellBottom {
				ch = ' '
			} else {
				fraction := normalized - cellBottom
				idx := int(fraction * 8)
				if idx >= len(subBlocks) {
					idx = len(subBlocks) - 1
				}
				if idx < 0 {
					idx = 0
				}
				ch = subBlocks[idx]
			}

			if ch == ' ' {
				sb.WriteRune(' ')
			} else {
				sb.WriteString(trendColor(val, maxVal).Render(string(ch)))
			}
		}
		sb.WriteString("\n")
	}

	sb.WriteString(dimStyle.Render("    └" + strings.Repeat("─", len(resampled))))
	sb.WriteString("\n")

	left := startDay.Format("2006-01-02")
	right := endDay.Format("2006-01-02")
	gap := len(resampled) - len(left) - len(right) + axisW
	if gap < 1 {
		gap = 1
	}
	sb.WriteString(dimStyle.Render("    " + left + strings.Repeat(" ", gap) + right))
	return sb.String()
}

// resampleData reduces data to fit targetWidth columns by bucket-averaging.
func resampleData(data []float64, targetWidth int) []float64 {
	if len(data) == 0 {
		return data
	}
	if len(data) <= targetWidth {
		return data
	}
	result := make([]float64, targetWidth)
	for i := 0; i < targetWidth; i++ {
		srcStart := i * len(data) / targetWidth
		srcEnd := (i + 1) * len(data) / targetWidth
		if srcEnd > len(data) {
			srcEnd = len(data)
		}
		if srcStart >= srcEnd {
			srcStart = srcEnd - 1
			if srcStart < 0 {
				srcStart = 0
			}
		}
		sum := float64(0)
		count := 0
		for j := srcStart; j < srcEnd; j++ {
			sum += data[j]
			count++
		}
		if count > 0 {
			result[i] = sum / float64(count)
		}
	}
	return result
}

func trendColor(val, maxVal float64) lipgloss.Style {
	if maxVal <= 0 {
		return okStyle
	}
	switch ratio := val / maxVal; {
	case ratio >= 0.75:
		return critStyle
	case ratio >= 0.5:
		return warnStyle
	default:
		return okStyle
	}
}

// autoScale computes a "nice" Y-axis max with some headroom.
func autoScale(data []float64) float64 {
	maxVal := float64(0)
	for _, v := range data {
		if v > maxVal {
			maxVal = v
		}
	}
	if maxVal <= 0 {
		return 1
	}
	target := maxVal * 1.3
	nice := []float64{0.1, 0.25, 0.5, 0.75, 1, 1.5, 2, 3, 5, 10, 25, 50, 100}
	for _, n := range nice {
		if target <= n {
			return n
		}
	}
	return target
}

func dayTable(s Series, events []Event) string {
	var sb strings.Builder
	sb.WriteString(dimStyle.Render(fmt.Sprintf("%-12s %5s %12s %9s %10s %10s  %s",
		"day", "runs", "raw mean", "coverage", "adjusted", "smoothed", "events")))
	sb.WriteString("\n")
	for _, p := range s.Points {
		notes := make([]string, 0, 2)
		for _, e := range EventsOn(p.Day, events) {
			notes = append(notes, e.Label+" "+e.Title)
		}
		line := fmt.Sprintf("%-12s %5d %12.1f %8.0f%% %10.3f %10.3f  %s",
			p.Day.Format("2006-01-02"), p.Runs, p.RawMean, p.Coverage*100,
			p.Normalized, p.Smoothed, eventStyle.Render(strings.Join(notes, "; ")))
		sb.WriteString(line)
		sb.WriteString("\n")
	}
	return sb.String()
}

func joinDays(days []time.Time) string {
	parts := make([]string, 0, len(days))
	for _, d := range days {
		parts = append(parts, d.Format("2006-01-02"))
	}
	return strings.Join(parts, ", ")
}
