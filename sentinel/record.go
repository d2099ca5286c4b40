package sentinel

import (
	"encoding/json"
	"math"
	"strings"
	"time"

	"github.com/google/uuid"
)

// HealthRecord is the immutable output of one assessment run. The runner
// builds it once, archives it, and submits the field map derived from it;
// nothing mutates a record after assembly.
type HealthRecord struct {
	RecordID  string    `json:"record_id"`
	Timestamp time.Time `json:"timestamp"`
	Host      string    `json:"host"`
	OSVersion string    `json:"os_version"`

	Hardware HardwareStatus `json:"hardware"`

	// WindowOK reflects the primary window; Summary carries its own
	// Available flag redundantly for the archive echo.
	WindowOK     bool       `json:"window_ok"`
	Summary      LogSummary `json:"summary"`
	RecentErrors int        `json:"recent_errors"`
	RecentOK     bool       `json:"recent_ok"`

	Freeze  FreezeScan `json:"freeze"`
	Verdict Verdict    `json:"verdict"`

	Activity ActivitySnapshot `json:"activity"`

	RunSeconds float64 `json:"run_seconds"`
}

// NewRecordID returns a fresh record identifier.
func NewRecordID() string {
	return uuid.NewString()
}

// Fields renders the flat field map the sink accepts. Absent values are
// omitted entirely: the sink rejects empty strings for typed fields, and a
// zero standing in for an unavailable count would corrupt the series.
func (r HealthRecord) Fields() map[string]any {
	f := map[string]any{
		"record_id":       r.RecordID,
		"timestamp":       r.Timestamp.UTC().Format(time.RFC3339),
		"host":            r.Host,
		"os_version":      r.OSVersion,
		"smart_status":    r.Hardware.SMARTStatus,
		"panics_24h":      r.Hardware.PanicCount,
		"backup_age_days": r.Hardware.BackupAgeDays,
		"log_window":      windowState(r.WindowOK),
		"top_errors":      r.Summary.TopMessages,
		"severity":        r.Verdict.Level.String(),
		"health_label":    r.Verdict.Label,
		"reason":          r.Verdict.Reason,
		"gpu_freeze":      yesNo(r.Freeze.Detected),
		"gpu_patterns":    r.Freeze.Summary(),
		"console_users":   joinOrNone(r.Activity.ConsoleUsers),
		"gui_apps":        joinOrNone(r.Activity.GUIApps),
		"vm_processes":    joinOrNone(r.Activity.VMProcesses),
		"hog_processes":   HogLine(r.Activity.Hogs),
		"run_seconds":     round2(r.RunSeconds),
	}
	if r.Hardware.PendingUpdates >= 0 {
		f["pending_updates"] = r.Hardware.PendingUpdates
	}
	if r.Summary.Available {
		f["errors_total"] = r.Summary.TotalErrors
		f["errors_fault"] = r.Summary.FaultErrors
		for name, n := range r.Summary.Streams {
			f["errors_"+name] = n
		}
	}
	if r.RecentOK {
		f["errors_recent"] = r.RecentErrors
	}
	if r.Activity.IdleSeconds >= 0 {
		f["idle_seconds"] = r.Activity.IdleSeconds
	}
	if raw, err := json.Marshal(r); err == nil {
		f["raw_payload"] = string(raw)
	}
	return f
}

func windowState(ok bool) string {
	if ok {
		return "ok"
	}
	return "timeout"
}

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}

func joinOrNone(items []string) string {
	if len(items) == 0 {
		return "none"
	}
	return strings.Join(items, ", ")
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
