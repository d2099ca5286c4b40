package sentinel

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func sampleRecord() HealthRecord {
	ts, _ := time.Parse(time.RFC3339, "2026-08-25T09:30:00Z")
	return HealthRecord{
		RecordID:  NewRecordID(),
		Timestamp: ts,
		Host:      "office-imac",
		OSVersion: "macOS 14.6",
		Hardware: HardwareStatus{
			SMARTStatus:    "Verified",
			PanicCount:     0,
			BackupAgeDays:  2,
			PendingUpdates: 1,
		},
		WindowOK: true,
		Summary: LogSummary{
			Available:   true,
			TotalErrors: 412,
			FaultErrors: 9,
			Streams:     map[string]int{StreamKernel: 2, StreamGraphics: 0, StreamDiskIO: 7},
			TopMessages: "12x mds scan error",
		},
		RecentErrors: 5,
		RecentOK:     true,
		Freeze:       FreezeScan{},
		Verdict:      Verdict{Level: LevelHealthy, Label: LabelHealthy, Reason: "all signals nominal"},
		Activity: ActivitySnapshot{
			ConsoleUsers: []string{"pat@console"},
			IdleSeconds:  340,
			GUIApps:      []string{"Safari"},
		},
		RunSeconds: 12.3456,
	}
}

func TestFields_CompleteRecord(t *testing.T) {
	f := sampleRecord().Fields()

	require.Equal(t, "ok", f["log_window"])
	require.Equal(t, "healthy", f["severity"])
	require.Equal(t, LabelHealthy, f["health_label"])
	require.Equal(t, "2026-08-25T09:30:00Z", f["timestamp"])
	require.Equal(t, 412, f["errors_total"])
	require.Equal(t, 9, f["errors_fault"])
	require.Equal(t, 2, f["errors_kernel"])
	require.Equal(t, 0, f["errors_graphics"])
	require.Equal(t, 7, f["errors_diskio"])
	require.Equal(t, 5, f["errors_recent"])
	require.Equal(t, 1, f["pending_updates"])
	require.Equal(t, int64(340), f["idle_seconds"])
	require.Equal(t, "no", f["gpu_freeze"])
	require.Equal(t, "None", f["gpu_patterns"])
	require.Equal(t, "pat@console", f["console_users"])
	require.Equal(t, "none", f["vm_processes"])
	require.Equal(t, "none", f["hog_processes"])
	require.Equal(t, 12.35, f["run_seconds"])
}

func TestFields_OmitsUnavailableValues(t *testing.T) {
	r := sampleRecord()
	r.WindowOK = false
	r.Summary = LogSummary{Available: false, TopMessages: "log unavailable (window timed out)"}
	r.RecentOK = false
	r.Hardware.PendingUpdates = -1
	r.Activity.IdleSeconds = -1

	f := r.Fields()
	require.Equal(t, "timeout", f["log_window"])
	require.Equal(t, "log unavailable (window timed out)", f["top_errors"])

	for _, absent := range []string{"errors_total", "errors_fault", "errors_kernel", "errors_recent", "pending_updates", "idle_seconds"} {
		_, ok := f[absent]
		require.False(t, ok, "field %s must be omitted", absent)
	}

	// Sentinel -1 for backup age stays: unknown age is in-band for the sink.
	require.Equal(t, -1, f["backup_age_days"])
}

func TestFields_RawPayloadRoundTrip(t *testing.T) {
	r := sampleRecord()
	r.Verdict = Verdict{Level: LevelCritical, Label: LabelAttention, Reason: "error burst"}

	f := r.Fields()
	raw, ok := f["raw_payload"].(string)
	require.True(t, ok)

	var back HealthRecord
	require.NoError(t, json.Unmarshal([]byte(raw), &back))
	require.Equal(t, r.RecordID, back.RecordID)
	require.Equal(t, LevelCritical, back.Verdict.Level)
	require.Equal(t, r.Summary.TotalErrors, back.Summary.TotalErrors)
	require.True(t, back.Timestamp.Equal(r.Timestamp))
}

func TestFields_FreezeMarkers(t *testing.T) {
	r := sampleRecord()
	r.Freeze = FreezeScan{Detected: true, Hits: []PatternHit{{Name: "gpu-reset", Count: 3}}}
	f := r.Fields()
	require.Equal(t, "yes", f["gpu_freeze"])
	require.Equal(t, "gpu-reset x3", f["gpu_patterns"])
}
