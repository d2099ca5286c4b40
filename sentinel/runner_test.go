package sentinel

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"
)

// mockRecordSink records submissions and can fail the next N calls or reject
// the next record outright.
type mockRecordSink struct {
	mu         sync.Mutex
	calls      []map[string]any
	failN      int
	rejectNext *RejectionError
}

func (m *mockRecordSink) Submit(ctx context.Context, fields map[string]any) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	copied := make(map[string]any, len(fields))
	for k, v := range fields {
		copied[k] = v
	}
	m.calls = append(m.calls, copied)
	if m.rejectNext != nil {
		rej := m.rejectNext
		m.rejectNext = nil
		return rej
	}
	if m.failN > 0 {
		m.failN--
		return errors.New("mock sink failure")
	}
	return nil
}

func (m *mockRecordSink) FailNext(n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failN = n
}

func (m *mockRecordSink) RejectNext(rej *RejectionError) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rejectNext = rej
}

func (m *mockRecordSink) Calls() []map[string]any {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]map[string]any, len(m.calls))
	copy(out, m.calls)
	return out
}

type stubHardware struct{ st HardwareStatus }

func (s stubHardware) Collect(ctx context.Context, now time.Time) HardwareStatus { return s.st }

type stubActivity struct{ snap ActivitySnapshot }

func (s stubActivity) Collect(ctx context.Context) ActivitySnapshot { return s.snap }

// newTestRunner builds a runner against a temp archive with every external
// boundary stubbed: quiet log window, verified disk, no sessions.
func newTestRunner(t *testing.T, dir string, sink RecordSink) *Runner {
	t.Helper()
	runner, err := NewRunner(RunnerConfig{
		DBFolder:  dir,
		LeasePath: filepath.Join(dir, "run.lease"),
		SinkURL:   "http://127.0.0.1:1/records",
		RejectDir: filepath.Join(dir, "rejects"),
	})
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { runner.Close() })

	runner.sink = sink
	runner.windows.Source = &fakeLogSource{text: "2026-08-25 09:00:00 mds error scanning volume\n"}
	runner.probes = stubHardware{st: HardwareStatus{
		SMARTStatus:    "Verified",
		BackupAgeDays:  1,
		PendingUpdates: 0,
	}}
	runner.activity = stubActivity{snap: ActivitySnapshot{IdleSeconds: 300}}
	runner.hostInfo = func(ctx context.Context) (string, string) { return "testhost", "macOS 14.6" }
	return runner
}

func countRows(t *testing.T, r *Runner, where string, args ...any) int64 {
	t.Helper()
	var n int64
	if err := r.db.Model(&RecordRow{}).Where(where, args...).Count(&n).Error; err != nil {
		t.Fatal(err)
	}
	return n
}

func TestRunOnce_ArchivesAndSubmits(t *testing.T) {
	dir := t.TempDir()
	sink := &mockRecordSink{}
	runner := newTestRunner(t, dir, sink)

	if err := runner.RunOnce(); err != nil {
		t.Fatal(err)
	}

	calls := sink.Calls()
	if len(calls) != 1 {
		t.Fatalf("expected 1 submission, got %d", len(calls))
	}
	if calls[0]["severity"] != "healthy" {
		t.Fatalf("unexpected severity %v", calls[0]["severity"])
	}
	if calls[0]["host"] != "testhost" {
		t.Fatalf("unexpected host %v", calls[0]["host"])
	}
	if calls[0]["errors_indexing"] != 1 {
		t.Fatalf("unexpected indexing count %v", calls[0]["errors_indexing"])
	}

	if n := countRows(t, runner, "submitted = ?", true); n != 1 {
		t.Fatalf("expected 1 submitted row, got %d", n)
	}

	// Monthly archive file exists.
	key := time.Now().Format("200601")
	if _, err := os.Stat(filepath.Join(dir, "health_"+key+".db")); err != nil {
		t.Fatal(err)
	}
	// Lease released.
	if _, err := os.Stat(filepath.Join(dir, "run.lease")); !os.IsNotExist(err) {
		t.Fatalf("lease not released: %v", err)
	}
}

func TestRunOnce_BusyLeaseSkipsQuietly(t *testing.T) {
	dir := t.TempDir()
	sink := &mockRecordSink{}
	runner := newTestRunner(t, dir, sink)

	held, err := AcquireLease(filepath.Join(dir, "run.lease"), time.Minute)
	if err != nil {
		t.Fatal(err)
	}

	err = runner.RunOnce()
	if !errors.Is(err, ErrBusy) {
		t.Fatalf("expected ErrBusy, got %v", err)
	}
	if len(sink.Calls()) != 0 {
		t.Fatal("busy run must not submit")
	}
	if n := countRows(t, runner, "1 = 1"); n != 0 {
		t.Fatalf("busy run must not archive, got %d rows", n)
	}

	if err := held.Release(); err != nil {
		t.Fatal(err)
	}
	if err := runner.RunOnce(); err != nil {
		t.Fatal(err)
	}
}

func TestRunOnce_TransportFailureThenResend(t *testing.T) {
	dir := t.TempDir()
	sink := &mockRecordSink{}
	runner := newTestRunner(t, dir, sink)

	sink.FailNext(1)
	err := runner.RunOnce()
	if err == nil || !strings.Contains(err.Error(), "mock sink failure") {
		t.Fatalf("expected submit failure, got %v", err)
	}
	if n := countRows(t, runner, "submitted = ?", false); n != 1 {
		t.Fatalf("expected 1 pending row, got %d", n)
	}

	var pending RecordRow
	if err := runner.db.Where("submitted = ?", false).First(&pending).Error; err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(pending.SubmitError, "mock sink failure") {
		t.Fatalf("pending row missing submit error: %q", pending.SubmitError)
	}

	// Next run submits its own record and redelivers the pending one.
	if err := runner.RunOnce(); err != nil {
		t.Fatal(err)
	}
	if n := countRows(t, runner, "submitted = ?", false); n != 0 {
		t.Fatalf("expected no pending rows, got %d", n)
	}

	calls := sink.Calls()
	if len(calls) != 3 {
		t.Fatalf("expected 3 submissions, got %d", len(calls))
	}
	// The redelivery carries the original record identity.
	if calls[2]["record_id"] != calls[0]["record_id"] {
		t.Fatalf("resend changed record_id: %v vs %v", calls[2]["record_id"], calls[0]["record_id"])
	}
	if calls[1]["record_id"] == calls[0]["record_id"] {
		t.Fatal("second run must create a fresh record")
	}
}

func TestRunOnce_RejectionPreservesPayload(t *testing.T) {
	dir := t.TempDir()
	sink := &mockRecordSink{}
	runner := newTestRunner(t, dir, sink)

	sink.RejectNext(&RejectionError{Field: "host", Reason: "unknown host"})
	err := runner.RunOnce()
	var rej *RejectionError
	if !errors.As(err, &rej) {
		t.Fatalf("expected rejection, got %v", err)
	}

	entries, rerr := os.ReadDir(filepath.Join(dir, "rejects"))
	if rerr != nil {
		t.Fatal(rerr)
	}
	if len(entries) != 1 {
		t.Fatalf("expected 1 reject dump, got %d", len(entries))
	}
	recordID, _ := sink.Calls()[0]["record_id"].(string)
	if entries[0].Name() != "record-"+recordID+".json" {
		t.Fatalf("unexpected dump name %s", entries[0].Name())
	}

	b, rerr := os.ReadFile(filepath.Join(dir, "rejects", entries[0].Name()))
	if rerr != nil {
		t.Fatal(rerr)
	}
	var dumped map[string]any
	if err := json.Unmarshal(b, &dumped); err != nil {
		t.Fatal(err)
	}
	if dumped["record_id"] != recordID {
		t.Fatalf("dump record_id %v, want %s", dumped["record_id"], recordID)
	}

	var row RecordRow
	if err := runner.db.Where("record_id = ?", recordID).First(&row).Error; err != nil {
		t.Fatal(err)
	}
	if row.Submitted || !strings.Contains(row.SubmitError, "rejected") {
		t.Fatalf("row not marked rejected: submitted=%v err=%q", row.Submitted, row.SubmitError)
	}

	// A rejected payload is never retried blindly: the next run submits only
	// records that pass validation, and the rejected row is retried through
	// the same validate-first path.
	if err := runner.RunOnce(); err != nil {
		t.Fatal(err)
	}
}

func TestRunOnce_DegradedWindowsStillSubmit(t *testing.T) {
	dir := t.TempDir()
	sink := &mockRecordSink{}
	runner := newTestRunner(t, dir, sink)
	runner.windows.Source = &fakeLogSource{err: errors.New("log store unavailable")}

	if err := runner.RunOnce(); err != nil {
		t.Fatal(err)
	}

	calls := sink.Calls()
	if len(calls) != 1 {
		t.Fatalf("expected 1 submission, got %d", len(calls))
	}
	f := calls[0]
	if f["log_window"] != "timeout" {
		t.Fatalf("log_window = %v", f["log_window"])
	}
	if f["severity"] != "healthy" {
		t.Fatalf("degraded run must not alarm, severity = %v", f["severity"])
	}
	if f["top_errors"] != "log unavailable (window timed out)" {
		t.Fatalf("top_errors = %v", f["top_errors"])
	}
	for _, absent := range []string{"errors_total", "errors_fault", "errors_kernel", "errors_recent"} {
		if _, ok := f[absent]; ok {
			t.Fatalf("field %s must be omitted on timeout", absent)
		}
	}

	var row RecordRow
	if err := runner.db.First(&row).Error; err != nil {
		t.Fatal(err)
	}
	if row.WindowOK {
		t.Fatal("archived row must record the degraded window")
	}
}

func TestRunOnce_CriticalVerdictFlowsToSink(t *testing.T) {
	dir := t.TempDir()
	sink := &mockRecordSink{}
	runner := newTestRunner(t, dir, sink)
	runner.cfg.Thresholds = Thresholds{
		WarningErrors:     5,
		CriticalErrors:    10,
		WarningFaults:     50,
		CriticalFaults:    60,
		BackupOverdueDays: 7,
	}
	runner.windows.Source = &fakeLogSource{
		text: strings.Repeat("2026-08-25 09:00:00 apfs error: io failure\n", 12),
	}

	if err := runner.RunOnce(); err != nil {
		t.Fatal(err)
	}

	f := sink.Calls()[0]
	if f["severity"] != "critical" {
		t.Fatalf("severity = %v", f["severity"])
	}
	if f["health_label"] != LabelAttention {
		t.Fatalf("health_label = %v", f["health_label"])
	}
	if f["errors_diskio"] != 12 {
		t.Fatalf("errors_diskio = %v", f["errors_diskio"])
	}

	var row RecordRow
	if err := runner.db.First(&row).Error; err != nil {
		t.Fatal(err)
	}
	if row.Severity != "critical" || row.DiskIOErrors != 12 {
		t.Fatalf("archived verdict wrong: severity=%s diskio=%d", row.Severity, row.DiskIOErrors)
	}
}

func TestNewRunner_RequiredSettings(t *testing.T) {
	if _, err := NewRunner(RunnerConfig{SinkURL: "http://x"}); err == nil {
		t.Fatal("expected error for missing DBFolder")
	}
	if _, err := NewRunner(RunnerConfig{DBFolder: t.TempDir()}); err == nil {
		t.Fatal("expected error for missing SinkURL")
	}
}
