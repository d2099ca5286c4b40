package sentinel

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Level is the ordered severity of one assessment run.
type Level int

const (
	LevelHealthy Level = iota
	LevelWarning
	LevelCritical
)

func (l Level) String() string {
	switch l {
	case LevelHealthy:
		return "healthy"
	case LevelWarning:
		return "warning"
	case LevelCritical:
		return "critical"
	default:
		return fmt.Sprintf("level(%d)", int(l))
	}
}

// ParseLevel is the inverse of String.
func ParseLevel(s string) (Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "healthy":
		return LevelHealthy, nil
	case "warning":
		return LevelWarning, nil
	case "critical":
		return LevelCritical, nil
	default:
		return LevelHealthy, fmt.Errorf("unknown severity %q", s)
	}
}

func (l Level) MarshalJSON() ([]byte, error) {
	return json.Marshal(l.String())
}

func (l *Level) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	parsed, err := ParseLevel(s)
	if err != nil {
		return err
	}
	*l = parsed
	return nil
}

// Health-state labels reported alongside the severity.
const (
	LabelHealthy       = "Healthy"
	LabelHardware      = "Hardware Failure"
	LabelInstability   = "System Instability"
	LabelAttention     = "Attention Needed"
	LabelMonitor       = "Monitor Closely"
	LabelBackupOverdue = "Backup Overdue"
)

// Thresholds are the calibrated severity constants.
type Thresholds struct {
	WarningErrors     int
	CriticalErrors    int
	WarningFaults     int
	CriticalFaults    int
	BackupOverdueDays int
}

// DefaultThresholds returns the current calibration (mean+2σ warning,
// mean+3σ critical over the historical per-window sample).
func DefaultThresholds() Thresholds {
	return Thresholds{
		WarningErrors:     50423,
		CriticalErrors:    75635,
		WarningFaults:     2658,
		CriticalFaults:    3987,
		BackupOverdueDays: 7,
	}
}

// Signals are the verdict inputs. Counts from a timed-out window carry their
// Available flag false and participate in the cascade as zero.
type Signals struct {
	SMARTStatus      string
	PanicCount       int
	RecentErrors     int
	RecentAvailable  bool
	PrimaryErrors    int
	FaultErrors      int
	PrimaryAvailable bool
	BackupAgeDays    int
}

func (s Signals) recentErrors() int {
	if !s.RecentAvailable {
		return 0
	}
	return s.RecentErrors
}

func (s Signals) primaryErrors() int {
	if !s.PrimaryAvailable {
		return 0
	}
	return s.PrimaryErrors
}

func (s Signals) faultErrors() int {
	if !s.PrimaryAvailable {
		return 0
	}
	return s.FaultErrors
}

// Verdict pairs the severity with its health-state label and the reason that
// produced it.
type Verdict struct {
	Level  Level  `json:"level"`
	Label  string `json:"label"`
	Reason string `json:"reason"`
}

// verdictRule is one (predicate, outcome) pair of the cascade. Rules are
// evaluated in order and the first match decides the primary verdict.
type verdictRule struct {
	match  func(Signals, Thresholds) bool
	level  Level
	label  string
	reason func(Signals, Thresholds) string
}

var verdictRules = []verdictRule{
	{
		// Failing hardware outranks every software signal.
		match: func(s Signals, _ Thresholds) bool { return smartCompromised(s.SMARTStatus) },
		level: LevelCritical,
		label: LabelHardware,
		reason: func(s Signals, _ Thresholds) string {
			return fmt.Sprintf("boot volume SMART status %q", s.SMARTStatus)
		},
	},
	{
		match: func(s Signals, _ Thresholds) bool { return s.PanicCount > 0 },
		level: LevelCritical,
		label: LabelInstability,
		reason: func(s Signals, _ Thresholds) string {
			return fmt.Sprintf("%d kernel panic report(s) in the last 24h", s.PanicCount)
		},
	},
	{
		match: func(s Signals, t Thresholds) bool {
			return s.recentErrors() >= t.CriticalErrors || s.primaryErrors() >= t.CriticalErrors
		},
		level: LevelCritical,
		label: LabelAttention,
		reason: func(s Signals, t Thresholds) string {
			return fmt.Sprintf("error burst: %d recent / %d primary window errors (critical threshold %d)",
				s.recentErrors(), s.primaryErrors(), t.CriticalErrors)
		},
	},
	{
		match: func(s Signals, t Thresholds) bool { return s.faultErrors() >= t.CriticalFaults },
		level: LevelCritical,
		label: LabelAttention,
		reason: func(s Signals, t Thresholds) string {
			return fmt.Sprintf("fault saturation: %d fault-level messages (critical threshold %d)",
				s.faultErrors(), t.CriticalFaults)
		},
	},
	{
		match: func(s Signals, t Thresholds) bool {
			return s.recentErrors() >= t.WarningErrors || s.primaryErrors() >= t.WarningErrors
		},
		level: LevelWarning,
		label: LabelMonitor,
		reason: func(s Signals, t Thresholds) string {
			return fmt.Sprintf("error burst: %d recent / %d primary window errors (warning threshold %d)",
				s.recentErrors(), s.primaryErrors(), t.WarningErrors)
		},
	},
	{
		match: func(s Signals, t Thresholds) bool { return s.faultErrors() >= t.WarningFaults },
		level: LevelWarning,
		label: LabelMonitor,
		reason: func(s Signals, t Thresholds) string {
			return fmt.Sprintf("%d fault-level messages (warning threshold %d)",
				s.faultErrors(), t.WarningFaults)
		},
	},
}

// smartCompromised treats any readable status other than Verified as a
// hardware failure. Unknown means unreadable, not failing.
func smartCompromised(status string) bool {
	s := strings.TrimSpace(status)
	if s == "" {
		return false
	}
	return !strings.EqualFold(s, "Verified") && !strings.EqualFold(s, SMARTUnknown)
}

// Evaluate runs the cascade, then applies the backup-age escalation. The same
// Signals and Thresholds always produce the same Verdict.
func Evaluate(sig Signals, th Thresholds) Verdict {
	v := Verdict{Level: LevelHealthy, Label: LabelHealthy, Reason: "all signals nominal"}
	for _, r := range verdictRules {
		if r.match(sig, th) {
			v = Verdict{Level: r.level, Label: r.label, Reason: r.reason(sig, th)}
			break
		}
	}

	// Backup staleness escalates a healthy verdict to warning and annotates
	// any other verdict. It never downgrades a level.
	if th.BackupOverdueDays > 0 && sig.BackupAgeDays > th.BackupOverdueDays {
		note := fmt.Sprintf("last backup %d days ago", sig.BackupAgeDays)
		if v.Level == LevelHealthy {
			v.Level = LevelWarning
			v.Label = LabelBackupOverdue
			v.Reason = note
		} else {
			v.Reason += "; " + note
		}
	}
	return v
}
