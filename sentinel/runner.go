package sentinel

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/shirou/gopsutil/v3/host"
	"gorm.io/gorm"
)

type RunnerConfig struct {
	// Monthly rolling archive DB settings.
	DBFolder string
	DBPrefix string

	// Single-run guard.
	LeasePath  string
	StaleAfter time.Duration

	// Remote record store.
	SinkURL     string
	SinkToken   string
	SinkTimeout time.Duration
	// SchemaPath overrides the built-in record schema.
	SchemaPath string

	// OS log capture.
	LogCommand        string
	PrimaryLast       time.Duration
	PrimaryTimeout    time.Duration
	RecentLast        time.Duration
	RecentTimeout     time.Duration
	ErrorPredicate    string
	GraphicsPredicate string

	// Hardware/backup probes.
	PanicDir     string
	ProbeTimeout time.Duration

	Thresholds     Thresholds
	Rules          []StreamRule
	FreezePatterns []FreezePattern

	// Activity snapshot tuning.
	HogCPUPercent float64
	HogMemPercent float64
	MaxListed     int

	// RejectDir preserves payloads the sink refused.
	RejectDir string

	// Timeout is the wall-clock limit for one run (0 = unbounded).
	Timeout time.Duration
	Debug   bool
}

type hardwareSampler interface {
	Collect(ctx context.Context, now time.Time) HardwareStatus
}

type activitySampler interface {
	Collect(ctx context.Context) ActivitySnapshot
}

type Runner struct {
	cfg        RunnerConfig
	db         *gorm.DB
	dbKey      string
	sink       RecordSink
	windows    *WindowCollector
	classifier *Classifier
	probes     hardwareSampler
	activity   activitySampler
	hostInfo   func(ctx context.Context) (hostname, osVersion string)
}

func (r *Runner) debugf(format string, args ...any) {
	if r == nil || !r.cfg.Debug {
		return
	}
	log.Printf(format, args...)
}

type runStats struct {
	Archived  int
	SentOK    int
	SentErr   int
	ResendOK  int
	ResendErr int
}

func NewRunner(cfg RunnerConfig) (*Runner, error) {
	if strings.TrimSpace(cfg.DBFolder) == "" {
		return nil, fmt.Errorf("DBFolder is required")
	}
	if strings.TrimSpace(cfg.SinkURL) == "" {
		return nil, fmt.Errorf("SinkURL is required")
	}
	if strings.TrimSpace(cfg.DBPrefix) == "" {
		cfg.DBPrefix = "health_"
	}
	if strings.TrimSpace(cfg.LeasePath) == "" {
		cfg.LeasePath = "/tmp/health-sentinel.lease"
	}
	if cfg.StaleAfter <= 0 {
		cfg.StaleAfter = DefaultLeaseStale
	}
	if cfg.SinkTimeout <= 0 {
		cfg.SinkTimeout = 20 * time.Second
	}
	if cfg.PrimaryLast <= 0 {
		cfg.PrimaryLast = time.Hour
	}
	if cfg.PrimaryTimeout <= 0 {
		cfg.PrimaryTimeout = 5 * time.Minute
	}
	if cfg.RecentLast <= 0 {
		cfg.RecentLast = 3 * time.Minute
	}
	if cfg.RecentTimeout <= 0 {
		cfg.RecentTimeout = 10 * time.Second
	}
	if strings.TrimSpace(cfg.ErrorPredicate) == "" {
		cfg.ErrorPredicate = DefaultErrorPredicate
	}
	if strings.TrimSpace(cfg.GraphicsPredicate) == "" {
		cfg.GraphicsPredicate = DefaultGraphicsPredicate
	}
	if cfg.ProbeTimeout <= 0 {
		cfg.ProbeTimeout = 15 * time.Second
	}
	if cfg.Thresholds == (Thresholds{}) {
		cfg.Thresholds = DefaultThresholds()
	}
	if strings.TrimSpace(cfg.RejectDir) == "" {
		cfg.RejectDir = filepath.Join(cfg.DBFolder, "rejects")
	}

	r := &Runner{
		cfg:  cfg,
		sink: NewHTTPSink(cfg.SinkURL, cfg.SinkToken, cfg.SinkTimeout),
		windows: &WindowCollector{
			Source:            &ExecLogSource{Command: cfg.LogCommand},
			PrimaryLast:       cfg.PrimaryLast,
			PrimaryTimeout:    cfg.PrimaryTimeout,
			RecentLast:        cfg.RecentLast,
			RecentTimeout:     cfg.RecentTimeout,
			ErrorPredicate:    cfg.ErrorPredicate,
			GraphicsPredicate: cfg.GraphicsPredicate,
			Debug:             cfg.Debug,
		},
		classifier: &Classifier{Rules: cfg.Rules},
		probes: &HardwareProbes{
			ProbeTimeout: cfg.ProbeTimeout,
			PanicDir:     cfg.PanicDir,
			Debug:        cfg.Debug,
		},
		activity: &ActivityCollector{
			ProbeTimeout: cfg.ProbeTimeout,
			HogCPU:       cfg.HogCPUPercent,
			HogMem:       cfg.HogMemPercent,
			MaxListed:    cfg.MaxListed,
			Debug:        cfg.Debug,
		},
		hostInfo: collectHostInfo,
	}
	if err := r.ensureDBForNow(); err != nil {
		_ = r.Close()
		return nil, err
	}
	return r, nil
}

func (r *Runner) Close() error {
	if r == nil || r.db == nil {
		return nil
	}
	sqlDB, err := r.db.DB()
	if err != nil {
		return err
	}
	err = sqlDB.Close()
	r.db = nil
	r.dbKey = ""
	return err
}

// RunOnce performs one full assessment cycle: acquire the lease, collect,
// classify, decide, archive, submit, then retry earlier unsubmitted rows.
// ErrBusy (another run holds the lease) is returned unwrapped enough for
// errors.Is; callers treat it as a quiet skip.
func (r *Runner) RunOnce() error {
	start := time.Now()
	stats := &runStats{}
	deadline := time.Time{}
	if r.cfg.Timeout > 0 {
		deadline = start.Add(r.cfg.Timeout)
	}

	lease, err := AcquireLease(r.cfg.LeasePath, r.cfg.StaleAfter)
	if err != nil {
		if errors.Is(err, ErrBusy) {
			r.debugf("skip cycle: %v", err)
		}
		return err
	}
	defer func() {
		if rerr := lease.Release(); rerr != nil {
			log.Printf("lease release: %v", rerr)
		}
	}()

	if err := r.ensureDBForNow(); err != nil {
		return err
	}
	r.debugf("run_once start: dbFolder=%q dbPrefix=%q lease=%q timeout=%s",
		r.cfg.DBFolder, r.cfg.DBPrefix, r.cfg.LeasePath, r.cfg.Timeout)

	ctx := context.Background()
	now := time.Now().UTC()

	primary := r.windows.Primary(ctx)
	recent := r.windows.Recent(ctx)
	graphics := r.windows.Graphics(ctx)

	summary := r.classifier.Classify(primary)
	recentErrors, recentOK := CountErrors(recent)
	freeze := ScanFreeze(graphics, r.cfg.FreezePatterns)
	hw := r.probes.Collect(ctx, now)

	verdict := Evaluate(Signals{
		SMARTStatus:      hw.SMARTStatus,
		PanicCount:       hw.PanicCount,
		RecentErrors:     recentErrors,
		RecentAvailable:  recentOK,
		PrimaryErrors:    summary.TotalErrors,
		FaultErrors:      summary.FaultErrors,
		PrimaryAvailable: summary.Available,
		BackupAgeDays:    hw.BackupAgeDays,
	}, r.cfg.Thresholds)

	activity := r.activity.Collect(ctx)
	hostname, osVersion := r.hostInfo(ctx)

	rec := HealthRecord{
		RecordID:     NewRecordID(),
		Timestamp:    now,
		Host:         hostname,
		OSVersion:    osVersion,
		Hardware:     hw,
		WindowOK:     summary.Available,
		Summary:      summary,
		RecentErrors: recentErrors,
		RecentOK:     recentOK,
		Freeze:       freeze,
		Verdict:      verdict,
		Activity:     activity,
	}
	rec.RunSeconds = time.Since(start).Seconds()

	fields := rec.Fields()
	row, err := newRecordRow(rec)
	if err != nil {
		return err
	}
	// Archive before submission so the audit copy exists even when the sink
	// refuses the record.
	if err := r.db.Create(row).Error; err != nil {
		return fmt.Errorf("archive record %s: %w", rec.RecordID, err)
	}
	stats.Archived++

	submitErr := r.submitRecord(ctx, deadline, row, fields, stats)
	resendErr := r.resendPending(deadline, row.ID, stats)

	r.debugf("run_once done: archived=%d sentOK=%d sentErr=%d resendOK=%d resendErr=%d severity=%s label=%q elapsed=%s",
		stats.Archived, stats.SentOK, stats.SentErr, stats.ResendOK, stats.ResendErr,
		verdict.Level, verdict.Label, time.Since(start))

	if submitErr != nil {
		return submitErr
	}
	return resendErr
}

func isDeadlineExceeded(deadline time.Time) bool {
	return !deadline.IsZero() && time.Now().After(deadline)
}

func remainingTimeout(deadline time.Time, fallback time.Duration) time.Duration {
	if deadline.IsZero() {
		return fallback
	}
	rem := time.Until(deadline)
	if rem <= 0 {
		return 1 * time.Millisecond
	}
	if fallback <= 0 || rem < fallback {
		return rem
	}
	return fallback
}

func (r *Runner) ensureDBForNow() error {
	now := time.Now()
	key := fmt.Sprintf("%04d%02d", now.Year(), int(now.Month()))
	if r.db != nil && r.dbKey == key {
		return nil
	}
	// switch DB per natural month
	_ = r.Close()
	if err := os.MkdirAll(r.cfg.DBFolder, 0o755); err != nil {
		return err
	}
	dbPath := filepath.Join(r.cfg.DBFolder, r.cfg.DBPrefix+key+".db")
	db, err := OpenDB(dbPath)
	if err != nil {
		return err
	}
	r.db = db
	r.dbKey = key
	return nil
}

func newRecordRow(rec HealthRecord) (*RecordRow, error) {
	recBytes, err := json.Marshal(rec)
	if err != nil {
		return nil, fmt.Errorf("marshal record %s: %w", rec.RecordID, err)
	}
	var decoded any
	if err := json.Unmarshal(recBytes, &decoded); err != nil {
		return nil, fmt.Errorf("decode record echo %s: %w", rec.RecordID, err)
	}
	flatBytes, err := json.Marshal(FlattenPayload(decoded))
	if err != nil {
		return nil, fmt.Errorf("flatten record %s: %w", rec.RecordID, err)
	}

	row := &RecordRow{
		RecordID:     rec.RecordID,
		CapturedAt:   rec.Timestamp,
		Day:          rec.Timestamp.UTC().Format("2006-01-02"),
		Host:         rec.Host,
		Severity:     rec.Verdict.Level.String(),
		HealthLabel:  rec.Verdict.Label,
		WindowOK:     rec.WindowOK,
		TotalErrors:  rec.Summary.TotalErrors,
		FaultErrors:  rec.Summary.FaultErrors,
		RecentErrors: rec.RecentErrors,
		GPUFreeze:    rec.Freeze.Detected,
		RecordJSON:   string(recBytes),
		FlatJSON:     string(flatBytes),
	}
	if rec.Summary.Available {
		row.SetStreamCounts(rec.Summary.Streams)
	}
	return row, nil
}

// submitRecord validates and submits the just-archived record. Rejections
// (local schema check or sink 4xx) preserve the payload and fail the run;
// transport failures leave the row pending for the next run's resend pass.
func (r *Runner) submitRecord(ctx context.Context, deadline time.Time, row *RecordRow, fields map[string]any, stats *runStats) error {
	if err := ValidateFields(fields, r.cfg.SchemaPath); err != nil {
		stats.SentErr++
		return r.recordRejected(row, fields, err)
	}

	cctx, cancel := context.WithTimeout(ctx, remainingTimeout(deadline, r.cfg.SinkTimeout))
	err := r.sink.Submit(cctx, fields)
	cancel()

	var rej *RejectionError
	if errors.As(err, &rej) {
		stats.SentErr++
		return r.recordRejected(row, fields, err)
	}
	if err != nil {
		stats.SentErr++
		r.debugf("submit failed record=%s err=%v", row.RecordID, err)
		_ = r.db.Model(&RecordRow{}).
			Where("id = ?", row.ID).
			Updates(map[string]any{"submit_error": err.Error()}).Error
		return fmt.Errorf("submit record %s: %w", row.RecordID, err)
	}

	stats.SentOK++
	now := time.Now().UTC()
	return r.db.Model(&RecordRow{}).
		Where("id = ?", row.ID).
		Updates(map[string]any{"submitted": true, "submit_error": "", "submitted_at": &now}).Error
}

// recordRejected logs the rejection reason verbatim, preserves the offending
// payload, and marks the archived row. The run fails so the scheduler's
// failure signal fires.
func (r *Runner) recordRejected(row *RecordRow, fields map[string]any, cause error) error {
	payload, _ := json.Marshal(fields)
	if dst, derr := WriteRejectDump(r.cfg.RejectDir, row.RecordID, payload); derr == nil {
		log.Printf("record %s rejected: %v (payload preserved at %s)", row.RecordID, cause, dst)
	} else {
		log.Printf("record %s rejected: %v (payload: %s)", row.RecordID, cause, payload)
	}
	_ = r.db.Model(&RecordRow{}).
		Where("id = ?", row.ID).
		Updates(map[string]any{"submit_error": cause.Error()}).Error
	return fmt.Errorf("record %s: %w", row.RecordID, cause)
}

// resendPending retries rows earlier runs archived but never delivered. The
// current run's row is excluded: each run makes exactly one submission
// attempt per record.
func (r *Runner) resendPending(deadline time.Time, currentID uint, stats *runStats) error {
	var pending []RecordRow
	if err := r.db.Where("submitted = ? AND id <> ?", false, currentID).Order("id asc").Find(&pending).Error; err != nil {
		return err
	}
	for i := range pending {
		if isDeadlineExceeded(deadline) {
			return fmt.Errorf("timeout exceeded")
		}
		row := &pending[i]

		var rec HealthRecord
		if err := json.Unmarshal([]byte(row.RecordJSON), &rec); err != nil {
			r.debugf("resend skip id=%d: bad record echo: %v", row.ID, err)
			_ = r.db.Model(&RecordRow{}).
				Where("id = ?", row.ID).
				Updates(map[string]any{"submit_error": fmt.Sprintf("bad record echo: %v", err)}).Error
			stats.ResendErr++
			continue
		}
		fields := rec.Fields()
		if err := ValidateFields(fields, r.cfg.SchemaPath); err != nil {
			r.debugf("resend skip id=%d record=%s: %v", row.ID, row.RecordID, err)
			_ = r.db.Model(&RecordRow{}).
				Where("id = ?", row.ID).
				Updates(map[string]any{"submit_error": err.Error()}).Error
			stats.ResendErr++
			continue
		}

		cctx, cancel := context.WithTimeout(context.Background(), remainingTimeout(deadline, r.cfg.SinkTimeout))
		err := r.sink.Submit(cctx, fields)
		cancel()
		if err != nil {
			r.debugf("resend failed id=%d record=%s err=%v", row.ID, row.RecordID, err)
			_ = r.db.Model(&RecordRow{}).
				Where("id = ?", row.ID).
				Updates(map[string]any{"submit_error": err.Error()}).Error
			stats.ResendErr++
			continue
		}
		r.debugf("resend ok id=%d record=%s", row.ID, row.RecordID)
		now := time.Now().UTC()
		_ = r.db.Model(&RecordRow{}).
			Where("id = ?", row.ID).
			Updates(map[string]any{"submitted": true, "submit_error": "", "submitted_at": &now}).Error
		stats.ResendOK++
	}
	return nil
}

func collectHostInfo(ctx context.Context) (string, string) {
	info, err := host.InfoWithContext(ctx)
	if err != nil {
		name, herr := os.Hostname()
		if herr != nil || strings.TrimSpace(name) == "" {
			name = "unknown"
		}
		return name, "unknown"
	}
	osVersion := strings.TrimSpace(info.Platform + " " + info.PlatformVersion)
	if osVersion == "" {
		osVersion = "unknown"
	}
	return info.Hostname, osVersion
}
