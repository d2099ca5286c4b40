package sentinel

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// SinkConfig points the agent at the remote record store.
type SinkConfig struct {
	URL   string `yaml:"url"`
	Token string `yaml:"token"`
	// TimeoutSec bounds a single submission attempt.
	TimeoutSec int `yaml:"timeout_sec"`
	// SchemaPath overrides the built-in record schema (JSON Schema file).
	SchemaPath string `yaml:"schema_path"`
}

// LeaseConfig configures the single-run execution guard.
type LeaseConfig struct {
	Path string `yaml:"path"`
	// StaleAfterMin is the age past which a lease whose holder is gone
	// is considered abandoned.
	StaleAfterMin int `yaml:"stale_after_min"`
}

// WindowConfig sets the log capture windows and their timeouts.
type WindowConfig struct {
	PrimaryMin        int    `yaml:"primary_min"`
	PrimaryTimeoutSec int    `yaml:"primary_timeout_sec"`
	RecentMin         int    `yaml:"recent_min"`
	RecentTimeoutSec  int    `yaml:"recent_timeout_sec"`
	ErrorPredicate    string `yaml:"error_predicate"`
	GraphicsPredicate string `yaml:"graphics_predicate"`
}

// ThresholdConfig carries the calibrated severity constants. Warning values
// sit at mean+2σ and critical at mean+3σ of the historical per-window error
// volume; they are recalibrated periodically, so they live in config rather
// than code.
type ThresholdConfig struct {
	WarningErrors     int `yaml:"warning_errors"`
	CriticalErrors    int `yaml:"critical_errors"`
	WarningFaults     int `yaml:"warning_faults"`
	CriticalFaults    int `yaml:"critical_faults"`
	BackupOverdueDays int `yaml:"backup_overdue_days"`
}

// ActivityConfig tunes the process/session snapshot.
type ActivityConfig struct {
	HogCPUPercent float64 `yaml:"hog_cpu_percent"`
	HogMemPercent float64 `yaml:"hog_mem_percent"`
	MaxListed     int     `yaml:"max_listed"`
}

// StreamRuleConfig represents one named error stream with its subsystem
// keywords.
type StreamRuleConfig struct {
	Name     string   `yaml:"name"`
	Keywords []string `yaml:"keywords"`
}

// StreamsConfig accepts either:
//  1. mapping form (preferred):
//     streams:
//     kernel:   [kernel, panic, watchdog]
//     graphics: [windowserver, gpu]
//  2. legacy list form:
//     streams:
//     - name: kernel
//     keywords: [kernel, panic]
type StreamsConfig struct {
	Items []StreamRuleConfig
}

func (s *StreamsConfig) UnmarshalYAML(value *yaml.Node) error {
	if value == nil {
		return nil
	}
	switch value.Kind {
	case yaml.MappingNode:
		items := make([]StreamRuleConfig, 0, len(value.Content)/2)
		for i := 0; i+1 < len(value.Content); i += 2 {
			k := value.Content[i]
			v := value.Content[i+1]
			name := strings.TrimSpace(k.Value)
			if name == "" {
				continue
			}

			// Allow mapping values to be either:
			// - scalar string: comma-separated keywords
			// - sequence: [keyword, keyword, ...]
			switch v.Kind {
			case yaml.ScalarNode:
				kws := splitKeywords(v.Value)
				if len(kws) == 0 {
					continue
				}
				items = append(items, StreamRuleConfig{Name: name, Keywords: kws})
			case yaml.SequenceNode:
				var kws []string
				if err := v.Decode(&kws); err != nil {
					return err
				}
				kws = trimKeywords(kws)
				if len(kws) == 0 {
					continue
				}
				items = append(items, StreamRuleConfig{Name: name, Keywords: kws})
			default:
				continue
			}
		}
		s.Items = items
		return nil
	case yaml.SequenceNode:
		var items []StreamRuleConfig
		if err := value.Decode(&items); err != nil {
			return err
		}
		for i := range items {
			items[i].Name = strings.TrimSpace(items[i].Name)
			items[i].Keywords = trimKeywords(items[i].Keywords)
		}
		s.Items = items
		return nil
	default:
		// ignore other kinds
		return nil
	}
}

func splitKeywords(s string) []string {
	parts := strings.FieldsFunc(s, func(r rune) bool { return r == ',' || r == ' ' })
	return trimKeywords(parts)
}

func trimKeywords(in []string) []string {
	out := in[:0]
	for _, kw := range in {
		kw = strings.ToLower(strings.TrimSpace(kw))
		if kw != "" {
			out = append(out, kw)
		}
	}
	return out
}

// DatabaseConfig locates the monthly rolling archive files.
type DatabaseConfig struct {
	Folder string `yaml:"folder"`
	Prefix string `yaml:"prefix"`
}

// TrendConfig carries the offline analyzer settings shared with the agent
// config file.
type TrendConfig struct {
	// Divisor rescales the normalized series for charting. 100000 maps the
	// historical full-coverage mean to roughly 0.5.
	Divisor float64 `yaml:"divisor"`
	// Changelog is a markdown file of dated maintenance events.
	Changelog string `yaml:"changelog"`
}

type FileConfig struct {
	Database DatabaseConfig `yaml:"database"`

	Sink  SinkConfig  `yaml:"sink"`
	Lease LeaseConfig `yaml:"lease"`

	// LogCommand is the OS log reader binary.
	LogCommand string       `yaml:"log_command"`
	Windows    WindowConfig `yaml:"windows"`

	// PanicReportDir holds the crash/panic artifacts counted by the
	// stability probe.
	PanicReportDir string `yaml:"panic_report_dir"`
	// ProbeTimeoutSec bounds each hardware/backup probe command.
	ProbeTimeoutSec int `yaml:"probe_timeout_sec"`

	Thresholds ThresholdConfig `yaml:"thresholds"`

	// Streams overrides the built-in error stream rules. Prefer mapping
	// form: streams: {name: [keywords]}
	Streams StreamsConfig `yaml:"streams"`

	Activity ActivityConfig `yaml:"activity"`

	// RejectDir stores payloads the sink refused. Defaults to
	// <database.folder>/rejects.
	RejectDir string `yaml:"reject_dir"`

	Trend TrendConfig `yaml:"trend"`

	Debug bool `yaml:"debug"`
}

func LoadConfig(path string) (*FileConfig, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var cfg FileConfig
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return nil, err
	}
	cfg.applyDefaults()
	return &cfg, nil
}

// DefaultConfig returns the built-in settings used when no config file is
// given.
func DefaultConfig() FileConfig {
	var cfg FileConfig
	cfg.applyDefaults()
	return cfg
}

func (c *FileConfig) applyDefaults() {
	if strings.TrimSpace(c.Database.Prefix) == "" {
		c.Database.Prefix = "health_"
	}
	if strings.TrimSpace(c.Lease.Path) == "" {
		c.Lease.Path = "/tmp/health-sentinel.lease"
	}
	if c.Lease.StaleAfterMin <= 0 {
		c.Lease.StaleAfterMin = 30
	}
	if c.Sink.TimeoutSec <= 0 {
		c.Sink.TimeoutSec = 20
	}
	if strings.TrimSpace(c.LogCommand) == "" {
		c.LogCommand = "log"
	}
	if c.Windows.PrimaryMin <= 0 {
		c.Windows.PrimaryMin = 60
	}
	if c.Windows.PrimaryTimeoutSec <= 0 {
		c.Windows.PrimaryTimeoutSec = 300
	}
	if c.Windows.RecentMin <= 0 {
		c.Windows.RecentMin = 3
	}
	if c.Windows.RecentTimeoutSec <= 0 {
		c.Windows.RecentTimeoutSec = 10
	}
	if strings.TrimSpace(c.Windows.ErrorPredicate) == "" {
		c.Windows.ErrorPredicate = DefaultErrorPredicate
	}
	if strings.TrimSpace(c.Windows.GraphicsPredicate) == "" {
		c.Windows.GraphicsPredicate = DefaultGraphicsPredicate
	}
	if strings.TrimSpace(c.PanicReportDir) == "" {
		c.PanicReportDir = "/Library/Logs/DiagnosticReports"
	}
	if c.ProbeTimeoutSec <= 0 {
		c.ProbeTimeoutSec = 15
	}
	if c.Thresholds.WarningErrors <= 0 {
		c.Thresholds.WarningErrors = DefaultThresholds().WarningErrors
	}
	if c.Thresholds.CriticalErrors <= 0 {
		c.Thresholds.CriticalErrors = DefaultThresholds().CriticalErrors
	}
	if c.Thresholds.WarningFaults <= 0 {
		c.Thresholds.WarningFaults = DefaultThresholds().WarningFaults
	}
	if c.Thresholds.CriticalFaults <= 0 {
		c.Thresholds.CriticalFaults = DefaultThresholds().CriticalFaults
	}
	if c.Thresholds.BackupOverdueDays <= 0 {
		c.Thresholds.BackupOverdueDays = DefaultThresholds().BackupOverdueDays
	}
	if c.Activity.HogCPUPercent <= 0 {
		c.Activity.HogCPUPercent = 70
	}
	if c.Activity.HogMemPercent <= 0 {
		c.Activity.HogMemPercent = 20
	}
	if c.Activity.MaxListed <= 0 {
		c.Activity.MaxListed = 20
	}
	if strings.TrimSpace(c.RejectDir) == "" && strings.TrimSpace(c.Database.Folder) != "" {
		c.RejectDir = filepath.Join(c.Database.Folder, "rejects")
	}
	if c.Trend.Divisor <= 0 {
		c.Trend.Divisor = 100000
	}
}

// Validate reports the first fatal configuration problem, if any. The agent
// must not start collecting with an unusable config.
func (c *FileConfig) Validate() error {
	if strings.TrimSpace(c.Database.Folder) == "" {
		return fmt.Errorf("database.folder is required")
	}
	if strings.TrimSpace(c.Sink.URL) == "" {
		return fmt.Errorf("sink.url is required")
	}
	for _, r := range c.Streams.Items {
		if strings.TrimSpace(r.Name) == "" {
			return fmt.Errorf("streams: rule with empty name")
		}
		if len(r.Keywords) == 0 {
			return fmt.Errorf("streams: rule %q has no keywords", r.Name)
		}
	}
	return nil
}

// StreamRules converts the configured stream rules, falling back to the
// built-in set when none are configured.
func (c *FileConfig) StreamRules() []StreamRule {
	if len(c.Streams.Items) == 0 {
		return DefaultStreamRules()
	}
	rules := make([]StreamRule, 0, len(c.Streams.Items))
	for _, it := range c.Streams.Items {
		rules = append(rules, StreamRule{Name: it.Name, Keywords: it.Keywords})
	}
	return rules
}
