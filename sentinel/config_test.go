package sentinel

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, doc string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "sentinel.yaml")
	require.NoError(t, os.WriteFile(path, []byte(doc), 0o644))
	return path
}

func TestLoadConfig_MappingStreams(t *testing.T) {
	cfg, err := LoadConfig(writeConfig(t, `
database:
  folder: /var/lib/sentinel
sink:
  url: https://sink.example/records
  token: sekrit
streams:
  kernel: [kernel, panic]
  power: "powerd, thermal"
`))
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	require.Len(t, cfg.Streams.Items, 2)
	require.Equal(t, "kernel", cfg.Streams.Items[0].Name)
	require.Equal(t, []string{"kernel", "panic"}, cfg.Streams.Items[0].Keywords)
	require.Equal(t, []string{"powerd", "thermal"}, cfg.Streams.Items[1].Keywords)

	rules := cfg.StreamRules()
	require.Len(t, rules, 2)
	require.Equal(t, "power", rules[1].Name)
}

func TestLoadConfig_ListStreams(t *testing.T) {
	cfg, err := LoadConfig(writeConfig(t, `
database:
  folder: /var/lib/sentinel
sink:
  url: https://sink.example/records
streams:
  - name: custom
    keywords: [Foo, " BAR "]
`))
	require.NoError(t, err)
	require.Len(t, cfg.Streams.Items, 1)
	require.Equal(t, "custom", cfg.Streams.Items[0].Name)
	require.Equal(t, []string{"foo", "bar"}, cfg.Streams.Items[0].Keywords)
}

func TestLoadConfig_Defaults(t *testing.T) {
	cfg, err := LoadConfig(writeConfig(t, `
database:
  folder: /var/lib/sentinel
sink:
  url: https://sink.example/records
`))
	require.NoError(t, err)

	require.Equal(t, "health_", cfg.Database.Prefix)
	require.Equal(t, "/tmp/health-sentinel.lease", cfg.Lease.Path)
	require.Equal(t, 30, cfg.Lease.StaleAfterMin)
	require.Equal(t, 20, cfg.Sink.TimeoutSec)
	require.Equal(t, "log", cfg.LogCommand)
	require.Equal(t, 60, cfg.Windows.PrimaryMin)
	require.Equal(t, 300, cfg.Windows.PrimaryTimeoutSec)
	require.Equal(t, 3, cfg.Windows.RecentMin)
	require.Equal(t, 10, cfg.Windows.RecentTimeoutSec)
	require.Equal(t, DefaultErrorPredicate, cfg.Windows.ErrorPredicate)
	require.Equal(t, DefaultThresholds().WarningErrors, cfg.Thresholds.WarningErrors)
	require.Equal(t, DefaultThresholds().CriticalErrors, cfg.Thresholds.CriticalErrors)
	require.Equal(t, filepath.Join("/var/lib/sentinel", "rejects"), cfg.RejectDir)
	require.Equal(t, float64(100000), cfg.Trend.Divisor)

	// No stream overrides: the built-in rule set applies.
	require.Len(t, cfg.StreamRules(), len(StreamNames()))
}

func TestValidate_RequiredFields(t *testing.T) {
	cfg := DefaultConfig()
	require.ErrorContains(t, cfg.Validate(), "database.folder")

	cfg.Database.Folder = "/var/lib/sentinel"
	require.ErrorContains(t, cfg.Validate(), "sink.url")

	cfg.Sink.URL = "https://sink.example/records"
	require.NoError(t, cfg.Validate())
}

func TestValidate_StreamRules(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Database.Folder = "/var/lib/sentinel"
	cfg.Sink.URL = "https://sink.example/records"
	cfg.Streams.Items = []StreamRuleConfig{{Name: "kernel"}}
	require.ErrorContains(t, cfg.Validate(), "no keywords")
}

func TestLoadConfig_MissingFile(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "absent.yaml"))
	require.Error(t, err)
}
