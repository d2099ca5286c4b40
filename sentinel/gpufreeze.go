package sentinel

import (
	"fmt"
	"strings"
)

// FreezePattern is one GPU instability signature, matched case-insensitively
// as a substring of the graphics window.
type FreezePattern struct {
	// Name is the short identifier reported to the sink.
	Name string
	// Match is the literal phrase to look for.
	Match string
}

// DefaultFreezePatterns lists the known freeze signatures. Hard resets come
// first, generic stall phrasings last; every pattern is matched
// independently, so order only affects report layout.
func DefaultFreezePatterns() []FreezePattern {
	return []FreezePattern{
		{Name: "gpu-reset", Match: "gpu reset"},
		{Name: "gpu-restart", Match: "gpurestart"},
		{Name: "gpu-hang", Match: "gpu hang"},
		{Name: "channel-timeout", Match: "channel timeout"},
		{Name: "windowserver-stall", Match: "windowserver stall"},
		{Name: "windowserver-unresponsive", Match: "window server is unresponsive"},
		{Name: "compositor-overload", Match: "server is overloaded"},
		{Name: "surface-timeout", Match: "surface texture timeout"},
		{Name: "wait-timeout", Match: "timed out waiting for"},
	}
}

// PatternHit is one fired signature with its match count.
type PatternHit struct {
	Name  string `json:"name"`
	Count int    `json:"count"`
}

// FreezeScan reports the GPU freeze indicators found in one graphics window.
type FreezeScan struct {
	Detected bool         `json:"detected"`
	Hits     []PatternHit `json:"hits,omitempty"`
}

// Summary renders the fired signatures for the record. It never returns an
// empty string: the sink rejects blank values, so "no hits" is the explicit
// marker "None".
func (s FreezeScan) Summary() string {
	if len(s.Hits) == 0 {
		return "None"
	}
	parts := make([]string, 0, len(s.Hits))
	for _, h := range s.Hits {
		parts = append(parts, fmt.Sprintf("%s x%d", h.Name, h.Count))
	}
	return strings.Join(parts, ", ")
}

// ScanFreeze matches every signature against the window. Detection is the OR
// across patterns; a timed-out window yields no detection (the record's
// window state already says the data is missing).
func ScanFreeze(win LogWindow, patterns []FreezePattern) FreezeScan {
	if win.TimedOut {
		return FreezeScan{}
	}
	if len(patterns) == 0 {
		patterns = DefaultFreezePatterns()
	}
	lower := strings.ToLower(win.Text)
	var scan FreezeScan
	for _, p := range patterns {
		n := strings.Count(lower, strings.ToLower(p.Match))
		if n > 0 {
			scan.Detected = true
			scan.Hits = append(scan.Hits, PatternHit{Name: p.Name, Count: n})
		}
	}
	return scan
}
