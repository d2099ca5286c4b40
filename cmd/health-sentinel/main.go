package main

import (
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"health-sentinel/sentinel"
)

func main() {
	log.SetFlags(log.LstdFlags | log.Lshortfile)

	var configPath string
	var dbFolder string
	var dbPrefix string
	var leasePath string
	var sinkURL string
	var sinkToken string
	var schemaPath string
	var logCommand string
	var panicDir string
	var rejectDir string
	var timeout time.Duration
	var debug bool
	var once bool
	var pollInterval time.Duration

	flag.StringVar(&configPath, "config", "", "YAML config file path.")
	flag.StringVar(&dbFolder, "db-folder", "", "Monthly rolling archive folder (overrides config.database.folder).")
	flag.StringVar(&dbPrefix, "db-prefix", "", "Monthly rolling archive prefix (overrides config.database.prefix).")
	flag.StringVar(&leasePath, "lease", "", "Lease file path for the single-run guard (overrides config.lease.path).")
	flag.StringVar(&sinkURL, "sink-url", "", "Record store endpoint (overrides config.sink.url).")
	flag.StringVar(&sinkToken, "sink-token", "", "Record store bearer token (overrides config.sink.token).")
	flag.StringVar(&schemaPath, "schema", "", "Override the built-in record schema (JSON Schema file).")
	flag.StringVar(&logCommand, "log-command", "", "OS log reader binary (overrides config.log_command).")
	flag.StringVar(&panicDir, "panic-dir", "", "Panic report directory (overrides config.panic_report_dir).")
	flag.StringVar(&rejectDir, "reject-dir", "", "Directory for rejected payload dumps (overrides config.reject_dir).")
	flag.DurationVar(&timeout, "timeout", 0, "Overall wall-clock limit for one run (e.g. 2m, 10m).")
	flag.BoolVar(&debug, "debug", false, "Enable debug logs.")
	flag.BoolVar(&once, "once", true, "Run once and exit (default true for cron/launchd).")
	flag.DurationVar(&pollInterval, "poll-interval", 15*time.Minute, "Cycle interval when running with --once=false.")
	flag.Parse()

	visited := map[string]bool{}
	flag.CommandLine.Visit(func(f *flag.Flag) {
		visited[f.Name] = true
	})

	// Base config from file (optional)
	fileCfg := sentinel.DefaultConfig()
	if configPath != "" {
		cfg, err := sentinel.LoadConfig(configPath)
		if err != nil {
			log.Fatalf("load config: %v", err)
		}
		fileCfg = *cfg
	}

	// Merge config + CLI overrides
	if visited["db-folder"] {
		fileCfg.Database.Folder = dbFolder
	}
	if visited["db-prefix"] {
		fileCfg.Database.Prefix = dbPrefix
	}
	if visited["lease"] {
		fileCfg.Lease.Path = leasePath
	}
	if visited["sink-url"] {
		fileCfg.Sink.URL = sinkURL
	}
	if visited["sink-token"] {
		fileCfg.Sink.Token = sinkToken
	}
	if visited["schema"] {
		fileCfg.Sink.SchemaPath = schemaPath
	}
	if visited["log-command"] {
		fileCfg.LogCommand = logCommand
	}
	if visited["panic-dir"] {
		fileCfg.PanicReportDir = panicDir
	}
	if visited["reject-dir"] {
		fileCfg.RejectDir = rejectDir
	}
	if visited["debug"] {
		fileCfg.Debug = debug
	}

	if strings.TrimSpace(fileCfg.Database.Folder) == "" {
		fmt.Fprintln(os.Stderr, "missing archive folder (use --db-folder or config.yaml database.folder)")
		os.Exit(2)
	}
	if strings.TrimSpace(fileCfg.Sink.URL) == "" {
		fmt.Fprintln(os.Stderr, "missing sink URL (use --sink-url or config.yaml sink.url)")
		os.Exit(2)
	}
	if err := fileCfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "invalid config: %v\n", err)
		os.Exit(2)
	}

	runner, err := sentinel.NewRunner(runnerConfig(fileCfg, timeout))
	if err != nil {
		log.Fatalf("init runner: %v", err)
	}
	defer runner.Close()

	if once {
		if err := runner.RunOnce(); err != nil {
			if errors.Is(err, sentinel.ErrBusy) {
				// Another run owns this cycle; exit quietly so the
				// scheduler's failure signal stays meaningful.
				return
			}
			log.Fatalf("run once: %v", err)
		}
		return
	}

	for {
		if err := runner.RunOnce(); err != nil && !errors.Is(err, sentinel.ErrBusy) {
			log.Printf("run once error: %v", err)
		}
		time.Sleep(pollInterval)
	}
}

func runnerConfig(cfg sentinel.FileConfig, timeout time.Duration) sentinel.RunnerConfig {
	return sentinel.RunnerConfig{
		DBFolder:          cfg.Database.Folder,
		DBPrefix:          cfg.Database.Prefix,
		LeasePath:         cfg.Lease.Path,
		StaleAfter:        time.Duration(cfg.Lease.StaleAfterMin) * time.Minute,
		SinkURL:           cfg.Sink.URL,
		SinkToken:         cfg.Sink.Token,
		SinkTimeout:       time.Duration(cfg.Sink.TimeoutSec) * time.Second,
		SchemaPath:        cfg.Sink.SchemaPath,
		LogCommand:        cfg.LogCommand,
		PrimaryLast:       time.Duration(cfg.Windows.PrimaryMin) * time.Minute,
		PrimaryTimeout:    time.Duration(cfg.Windows.PrimaryTimeoutSec) * time.Second,
		RecentLast:        time.Duration(cfg.Windows.RecentMin) * time.Minute,
		RecentTimeout:     time.Duration(cfg.Windows.RecentTimeoutSec) * time.Second,
		ErrorPredicate:    cfg.Windows.ErrorPredicate,
		GraphicsPredicate: cfg.Windows.GraphicsPredicate,
		PanicDir:          cfg.PanicReportDir,
		ProbeTimeout:      time.Duration(cfg.ProbeTimeoutSec) * time.Second,
		Thresholds: sentinel.Thresholds{
			WarningErrors:     cfg.Thresholds.WarningErrors,
			CriticalErrors:    cfg.Thresholds.CriticalErrors,
			WarningFaults:     cfg.Thresholds.WarningFaults,
			CriticalFaults:    cfg.Thresholds.CriticalFaults,
			BackupOverdueDays: cfg.Thresholds.BackupOverdueDays,
		},
		Rules:         cfg.StreamRules(),
		HogCPUPercent: cfg.Activity.HogCPUPercent,
		HogMemPercent: cfg.Activity.HogMemPercent,
		MaxListed:     cfg.Activity.MaxListed,
		RejectDir:     cfg.RejectDir,
		Timeout:       timeout,
		Debug:         cfg.Debug,
	}
}
