package sentinel

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/shirou/gopsutil/v3/process"
)

// ErrBusy reports that another assessment run holds the lease. Callers treat
// it as a quiet no-op for this cycle, not a failure.
var ErrBusy = errors.New("another run holds the lease")

// DefaultLeaseStale is how long a lease whose holder is gone may linger
// before a new run reclaims it.
const DefaultLeaseStale = 30 * time.Minute

// Lease is a held execution guard. At most one assessment runs per host; the
// lease file records the holder PID and acquisition time so crashed runs can
// be detected and reclaimed.
type Lease struct {
	Path       string
	PID        int
	AcquiredAt time.Time
}

// AcquireLease takes the single-run guard at path. It returns ErrBusy when a
// live holder (or a fresh lease from a dead one) exists. A lease older than
// staleAfter whose holder PID is gone is reclaimed.
func AcquireLease(path string, staleAfter time.Duration) (*Lease, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("lease path is required")
	}
	if staleAfter <= 0 {
		staleAfter = DefaultLeaseStale
	}

	// Two attempts: the second runs only after removing a stale lease, so a
	// concurrent racer that recreates the file first wins.
	for attempt := 0; attempt < 2; attempt++ {
		l, err := createLease(path)
		if err == nil {
			return l, nil
		}
		if !errors.Is(err, os.ErrExist) {
			return nil, fmt.Errorf("create lease %s: %w", path, err)
		}

		pid, acquiredAt, perr := readLease(path)
		if perr == nil && pidAlive(pid) {
			return nil, fmt.Errorf("%w: pid %d since %s", ErrBusy, pid, acquiredAt.Format(time.RFC3339))
		}
		age := leaseAge(path, acquiredAt, perr)
		if age < staleAfter {
			return nil, fmt.Errorf("%w: holder gone but lease is %s old", ErrBusy, age.Round(time.Second))
		}
		if rmErr := os.Remove(path); rmErr != nil && !os.IsNotExist(rmErr) {
			return nil, fmt.Errorf("remove stale lease %s: %w", path, rmErr)
		}
	}
	return nil, ErrBusy
}

func createLease(path string) (*Lease, error) {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return nil, err
	}
	now := time.Now()
	pid := os.Getpid()
	_, werr := fmt.Fprintf(f, "%d %d\n", pid, now.Unix())
	cerr := f.Close()
	if werr != nil || cerr != nil {
		os.Remove(path)
		if werr != nil {
			return nil, werr
		}
		return nil, cerr
	}
	return &Lease{Path: path, PID: pid, AcquiredAt: now}, nil
}

// readLease parses "<pid> <unix-seconds>" from the lease file.
func readLease(path string) (int, time.Time, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return 0, time.Time{}, err
	}
	fields := strings.Fields(string(b))
	if len(fields) != 2 {
		return 0, time.Time{}, fmt.Errorf("malformed lease content %q", strings.TrimSpace(string(b)))
	}
	pid, err := strconv.Atoi(fields[0])
	if err != nil || pid <= 0 {
		return 0, time.Time{}, fmt.Errorf("malformed lease pid %q", fields[0])
	}
	sec, err := strconv.ParseInt(fields[1], 10, 64)
	if err != nil {
		return 0, time.Time{}, fmt.Errorf("malformed lease timestamp %q", fields[1])
	}
	return pid, time.Unix(sec, 0), nil
}

// leaseAge uses the recorded acquisition time when readable, otherwise the
// file mtime. Unreadable files with no mtime count as fresh so they are never
// reclaimed on a misread.
func leaseAge(path string, acquiredAt time.Time, parseErr error) time.Duration {
	if parseErr == nil {
		return time.Since(acquiredAt)
	}
	if st, err := os.Stat(path); err == nil {
		return time.Since(st.ModTime())
	}
	return 0
}

// pidAlive reports whether the lease holder still runs. Lookup failures count
// as alive so a live run is never preempted on a transient error.
func pidAlive(pid int) bool {
	if pid <= 0 {
		return false
	}
	alive, err := process.PidExists(int32(pid))
	if err != nil {
		return true
	}
	return alive
}

// Release removes the lease file. A lease reclaimed by another process (PID
// mismatch) is left alone.
func (l *Lease) Release() error {
	if l == nil || l.Path == "" {
		return nil
	}
	pid, _, err := readLease(l.Path)
	if err == nil && pid != l.PID {
		return nil
	}
	if err := os.Remove(l.Path); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}
