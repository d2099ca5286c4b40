package sentinel

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func fakeRunner(outputs map[string]string, errs map[string]error) CommandRunner {
	return func(ctx context.Context, name string, args ...string) (string, error) {
		if err := errs[name]; err != nil {
			return "", err
		}
		out, ok := outputs[name]
		if !ok {
			return "", errors.New("unexpected command " + name)
		}
		return out, nil
	}
}

const diskutilOutput = `   Device Identifier:         disk3s1s1
   Volume Name:               Macintosh HD
   SMART Status:              Verified
   Disk Size:                 994.7 GB
`

func TestHardwareProbes_Collect(t *testing.T) {
	now, err := time.Parse(time.RFC3339, "2026-08-25T12:00:00Z")
	require.NoError(t, err)

	panicDir := t.TempDir()
	recent := filepath.Join(panicDir, "Kernel-2026-08-25-010203.panic")
	require.NoError(t, os.WriteFile(recent, []byte("panic"), 0o644))

	h := &HardwareProbes{
		Run: fakeRunner(map[string]string{
			"diskutil":       diskutilOutput,
			"tmutil":         "/Volumes/TM/Backups.backupdb/host/2026-08-20-031500\n",
			"softwareupdate": "Software Update Tool\n\n* Label: macOS Sonoma 14.6\n* Label: Safari 18\n",
		}, nil),
		PanicDir: panicDir,
	}

	st := h.Collect(context.Background(), now)
	require.Equal(t, "Verified", st.SMARTStatus)
	require.Equal(t, 1, st.PanicCount)
	require.Equal(t, 5, st.BackupAgeDays)
	require.Equal(t, 2, st.PendingUpdates)
}

func TestHardwareProbes_FailingProbesUseSentinels(t *testing.T) {
	boom := errors.New("exit status 1")
	h := &HardwareProbes{
		Run: fakeRunner(nil, map[string]error{
			"diskutil":       boom,
			"tmutil":         boom,
			"softwareupdate": boom,
		}),
	}

	st := h.Collect(context.Background(), time.Now())
	require.Equal(t, SMARTUnknown, st.SMARTStatus)
	require.Equal(t, 0, st.PanicCount)
	require.Equal(t, -1, st.BackupAgeDays)
	require.Equal(t, -1, st.PendingUpdates)
}

func TestParseSMARTStatus(t *testing.T) {
	cases := []struct {
		name string
		in   string
		want string
	}{
		{"verified", diskutilOutput, "Verified"},
		{"failing", "   SMART Status:              Failing\n", "Failing"},
		{"not supported", "   SMART Status:              Not Supported\n", "Not Supported"},
		{"missing", "   Volume Name: Macintosh HD\n", SMARTUnknown},
		{"blank value", "   SMART Status:   \n", SMARTUnknown},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			require.Equal(t, tc.want, ParseSMARTStatus(tc.in))
		})
	}
}

func TestParseBackupTime(t *testing.T) {
	tm, ok := ParseBackupTime("/Volumes/TM/Backups.backupdb/host/2026-08-20-031500.backup\n")
	require.True(t, ok)
	require.Equal(t, "2026-08-20T03:15:00Z", tm.Format(time.RFC3339))

	// tmutil may chatter before the path; only the last line counts.
	tm, ok = ParseBackupTime("Backup listing:\n/Volumes/TM/host/2026-01-02-150405\n\n")
	require.True(t, ok)
	require.Equal(t, "2026-01-02T15:04:05Z", tm.Format(time.RFC3339))

	_, ok = ParseBackupTime("no backups found")
	require.False(t, ok)
	_, ok = ParseBackupTime("")
	require.False(t, ok)
}

func TestPanicCount_MtimeWindow(t *testing.T) {
	dir := t.TempDir()
	now := time.Now()

	fresh := filepath.Join(dir, "Kernel-2026-08-25-010203.panic")
	require.NoError(t, os.WriteFile(fresh, []byte("x"), 0o644))

	ips := filepath.Join(dir, "Kernel-2026-08-25-020304.panic.ips")
	require.NoError(t, os.WriteFile(ips, []byte("x"), 0o644))

	stale := filepath.Join(dir, "Kernel-2026-08-01-000000.panic")
	require.NoError(t, os.WriteFile(stale, []byte("x"), 0o644))
	old := now.Add(-72 * time.Hour)
	require.NoError(t, os.Chtimes(stale, old, old))

	other := filepath.Join(dir, "WindowServer-2026-08-25.crash")
	require.NoError(t, os.WriteFile(other, []byte("x"), 0o644))

	h := &HardwareProbes{PanicDir: dir}
	require.Equal(t, 2, h.panicCount(now))
}

func TestPanicCount_MissingDir(t *testing.T) {
	h := &HardwareProbes{PanicDir: filepath.Join(t.TempDir(), "nope")}
	require.Equal(t, 0, h.panicCount(time.Now()))

	h = &HardwareProbes{}
	require.Equal(t, 0, h.panicCount(time.Now()))
}

func TestCountPendingUpdates(t *testing.T) {
	require.Equal(t, 0, CountPendingUpdates("Software Update Tool\nNo new software available.\n"))
	require.Equal(t, 2, CountPendingUpdates("* Label: macOS 14.6\n\t* Safari 18\n"))
	require.Equal(t, 0, CountPendingUpdates(""))
}
