package sentinel

import (
	"context"
	"log"
	"time"
)

// LogWindow is one bounded log capture. A capture that missed its deadline
// (or failed outright) carries TimedOut: downstream consumers must treat its
// text as absent, never as an empty-but-valid window.
type LogWindow struct {
	Label     string
	Requested time.Duration
	TimedOut  bool
	Text      string
}

// WindowCollector issues the per-run log captures. Each capture gets its own
// deadline so one slow query cannot starve the rest of the run.
type WindowCollector struct {
	Source LogSource

	PrimaryLast    time.Duration
	PrimaryTimeout time.Duration
	RecentLast     time.Duration
	RecentTimeout  time.Duration

	ErrorPredicate    string
	GraphicsPredicate string

	Debug bool
}

// Primary captures the main error window (typically the last hour).
func (w *WindowCollector) Primary(ctx context.Context) LogWindow {
	return w.capture(ctx, "primary", w.ErrorPredicate, w.PrimaryLast, w.PrimaryTimeout)
}

// Recent captures the short burst-detection window.
func (w *WindowCollector) Recent(ctx context.Context) LogWindow {
	return w.capture(ctx, "recent", w.ErrorPredicate, w.RecentLast, w.RecentTimeout)
}

// Graphics captures the short window scanned for GPU freeze signatures.
func (w *WindowCollector) Graphics(ctx context.Context) LogWindow {
	return w.capture(ctx, "graphics", w.GraphicsPredicate, w.RecentLast, w.RecentTimeout)
}

func (w *WindowCollector) capture(ctx context.Context, label, predicate string, last, timeout time.Duration) LogWindow {
	win := LogWindow{Label: label, Requested: last}
	if w.Source == nil {
		win.TimedOut = true
		return win
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	cctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	text, err := w.Source.Show(cctx, LogQuery{Predicate: predicate, Last: last})
	if err != nil {
		// Partial output must not flow downstream; the whole window degrades
		// to an explicit timeout marker.
		win.TimedOut = true
		if w.Debug {
			log.Printf("window %s: capture degraded: %v", label, err)
		}
		return win
	}
	win.Text = text
	return win
}
