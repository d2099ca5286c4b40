package sentinel

import (
	"context"
	"log"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"
)

// SMARTUnknown is reported when the disk status cannot be read. Unknown is
// not a failure indication and never trips the hardware verdict.
const SMARTUnknown = "Unknown"

// HardwareStatus carries the hardware/backup/update probe results. Absent
// values use their documented sentinels (-1 for ages and counts that could
// not be determined).
type HardwareStatus struct {
	SMARTStatus    string `json:"smart_status"`
	PanicCount     int    `json:"panics_24h"`
	BackupAgeDays  int    `json:"backup_age_days"`
	PendingUpdates int    `json:"pending_updates"`
}

// HardwareProbes issues the bounded probe commands. Each probe runs under its
// own deadline; one failing probe never aborts the others.
type HardwareProbes struct {
	Run          CommandRunner
	ProbeTimeout time.Duration
	PanicDir     string
	Debug        bool
}

func (h *HardwareProbes) Collect(ctx context.Context, now time.Time) HardwareStatus {
	st := HardwareStatus{
		SMARTStatus:    SMARTUnknown,
		BackupAgeDays:  -1,
		PendingUpdates: -1,
	}
	st.SMARTStatus = h.smartStatus(ctx)
	st.PanicCount = h.panicCount(now)
	st.BackupAgeDays = h.backupAgeDays(ctx, now)
	st.PendingUpdates = h.pendingUpdates(ctx)
	return st
}

func (h *HardwareProbes) probe(ctx context.Context, name string, args ...string) (string, error) {
	run := h.Run
	if run == nil {
		run = RunCommand
	}
	timeout := h.ProbeTimeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	cctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return run(cctx, name, args...)
}

func (h *HardwareProbes) smartStatus(ctx context.Context) string {
	out, err := h.probe(ctx, "diskutil", "info", "/")
	if err != nil {
		if h.Debug {
			log.Printf("smart probe: %v", err)
		}
		return SMARTUnknown
	}
	return ParseSMARTStatus(out)
}

// ParseSMARTStatus extracts the "SMART Status" value from diskutil info
// output. Missing or blank values report Unknown.
func ParseSMARTStatus(out string) string {
	for _, line := range strings.Split(out, "\n") {
		k, v, ok := strings.Cut(line, ":")
		if !ok {
			continue
		}
		if strings.EqualFold(strings.TrimSpace(k), "SMART Status") {
			v = strings.TrimSpace(v)
			if v == "" {
				return SMARTUnknown
			}
			return v
		}
	}
	return SMARTUnknown
}

// panicCount counts panic artifacts modified within the last 24h. The file
// mtime decides recency, not anything parsed from the artifact.
func (h *HardwareProbes) panicCount(now time.Time) int {
	dir := h.PanicDir
	if dir == "" {
		return 0
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		if h.Debug {
			log.Printf("panic dir %s: %v", dir, err)
		}
		return 0
	}
	cutoff := now.Add(-24 * time.Hour)
	n := 0
	for _, e := range entries {
		if e.IsDir() || !isPanicArtifact(e.Name()) {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		if info.ModTime().After(cutoff) {
			n++
		}
	}
	return n
}

func isPanicArtifact(name string) bool {
	lower := strings.ToLower(name)
	if strings.HasSuffix(lower, ".panic") {
		return true
	}
	// Kernel panics on newer systems land as Kernel-<date>.panic.ips.
	return strings.HasPrefix(lower, "kernel") && strings.HasSuffix(lower, ".ips")
}

var backupStampPattern = regexp.MustCompile(`(\d{4}-\d{2}-\d{2})-(\d{6})`)

func (h *HardwareProbes) backupAgeDays(ctx context.Context, now time.Time) int {
	out, err := h.probe(ctx, "tmutil", "latestbackup")
	if err != nil {
		if h.Debug {
			log.Printf("backup probe: %v", err)
		}
		return -1
	}
	t, ok := ParseBackupTime(out)
	if !ok {
		return -1
	}
	age := now.Sub(t)
	if age < 0 {
		return 0
	}
	return int(age.Hours() / 24)
}

// ParseBackupTime pulls the backup timestamp out of a tmutil latestbackup
// path (…/2026-08-20-031500[.backup]).
func ParseBackupTime(out string) (time.Time, bool) {
	line := lastNonEmptyLine(out)
	if line == "" {
		return time.Time{}, false
	}
	m := backupStampPattern.FindStringSubmatch(filepath.Base(line))
	if m == nil {
		return time.Time{}, false
	}
	t, err := time.Parse("2006-01-02-150405", m[1]+"-"+m[2])
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}

func lastNonEmptyLine(out string) string {
	lines := strings.Split(out, "\n")
	for i := len(lines) - 1; i >= 0; i-- {
		if s := strings.TrimSpace(lines[i]); s != "" {
			return s
		}
	}
	return ""
}

func (h *HardwareProbes) pendingUpdates(ctx context.Context) int {
	out, err := h.probe(ctx, "softwareupdate", "-l")
	if err != nil {
		if h.Debug {
			log.Printf("update probe: %v", err)
		}
		return -1
	}
	return CountPendingUpdates(out)
}

// CountPendingUpdates counts the update entries in softwareupdate -l output.
func CountPendingUpdates(out string) int {
	if strings.Contains(out, "No new software available") {
		return 0
	}
	n := 0
	for _, line := range strings.Split(out, "\n") {
		// Entries start "* Label: ..." on current systems, "* ..." on older.
		if strings.HasPrefix(strings.TrimSpace(line), "* ") {
			n++
		}
	}
	return n
}
