package sentinel

import (
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
)

// RecordRow archives one assembled record together with its submission
// state. The per-stream integer columns exist so the trend analyzer can
// aggregate with plain SQL instead of re-parsing the JSON echo.
type RecordRow struct {
	ID         uint      `gorm:"primaryKey"`
	RecordID   string    `gorm:"uniqueIndex;size:36"`
	CapturedAt time.Time `gorm:"index"`
	// Day is the UTC calendar day (YYYY-MM-DD), the trend grouping key.
	Day  string `gorm:"index;size:10"`
	Host string `gorm:"index;size:255"`

	Severity    string `gorm:"index;size:16"`
	HealthLabel string `gorm:"size:64"`

	// WindowOK marks rows whose primary window completed. Trend aggregation
	// reads only these; a timed-out window contributes nothing.
	WindowOK     bool `gorm:"index"`
	TotalErrors  int
	FaultErrors  int
	RecentErrors int

	KernelErrors    int
	GraphicsErrors  int
	IndexingErrors  int
	CloudSyncErrors int
	DiskIOErrors    int
	NetworkErrors   int
	ProcAcctErrors  int
	PowerErrors     int

	GPUFreeze bool

	// RecordJSON is the nested record echo; resubmission rebuilds the field
	// map from it. FlatJSON is the flattened view for ad-hoc SQL.
	RecordJSON string `gorm:"type:text"`
	FlatJSON   string `gorm:"type:text"`

	Submitted   bool   `gorm:"index"`
	SubmitError string `gorm:"type:text"`
	SubmittedAt *time.Time
}

// SetStreamCounts copies the classifier's per-stream counts into the typed
// columns. Unknown stream names are ignored (custom rules still land in the
// JSON echo).
func (r *RecordRow) SetStreamCounts(streams map[string]int) {
	r.KernelErrors = streams[StreamKernel]
	r.GraphicsErrors = streams[StreamGraphics]
	r.IndexingErrors = streams[StreamIndexing]
	r.CloudSyncErrors = streams[StreamCloudSync]
	r.DiskIOErrors = streams[StreamDiskIO]
	r.NetworkErrors = streams[StreamNetwork]
	r.ProcAcctErrors = streams[StreamProcAcct]
	r.PowerErrors = streams[StreamPower]
}

// StreamCount reads one typed column by stream name.
func (r RecordRow) StreamCount(name string) int {
	switch name {
	case StreamKernel:
		return r.KernelErrors
	case StreamGraphics:
		return r.GraphicsErrors
	case StreamIndexing:
		return r.IndexingErrors
	case StreamCloudSync:
		return r.CloudSyncErrors
	case StreamDiskIO:
		return r.DiskIOErrors
	case StreamNetwork:
		return r.NetworkErrors
	case StreamProcAcct:
		return r.ProcAcctErrors
	case StreamPower:
		return r.PowerErrors
	default:
		return 0
	}
}

func OpenDB(path string) (*gorm.DB, error) {
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{})
	if err != nil {
		return nil, err
	}
	if err := db.AutoMigrate(&RecordRow{}); err != nil {
		return nil, err
	}
	return db, nil
}

// OpenQueryDB opens an existing SQLite DB for querying without mutating
// schema. The trend analyzer reads historical monthly files this way.
func OpenQueryDB(path string) (*gorm.DB, error) {
	return gorm.Open(sqlite.Open(path), &gorm.Config{})
}

// ListMonthlyDBs returns the monthly archive files (<prefix><YYYYMM>.db)
// whose month falls inside [from, to], sorted ascending.
func ListMonthlyDBs(folder string, prefix string, from time.Time, to time.Time) ([]string, error) {
	pattern := filepath.Join(folder, prefix+"*.db")
	candidates, err := filepath.Glob(pattern)
	if err != nil {
		return nil, err
	}
	fromKey := from.Year()*100 + int(from.Month())
	toKey := to.Year()*100 + int(to.Month())

	filtered := make([]string, 0, len(candidates))
	for _, p := range candidates {
		base := filepath.Base(p)
		if !strings.HasPrefix(base, prefix) || !strings.HasSuffix(base, ".db") {
			continue
		}
		yyyymm := strings.TrimSuffix(strings.TrimPrefix(base, prefix), ".db")
		if len(yyyymm) != 6 {
			continue
		}
		tm, err := time.Parse("200601", yyyymm)
		if err != nil {
			continue
		}
		key := tm.Year()*100 + int(tm.Month())
		if key < fromKey || key > toKey {
			continue
		}
		filtered = append(filtered, p)
	}
	sort.Strings(filtered)
	return filtered, nil
}
