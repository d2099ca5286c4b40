package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"health-sentinel/sentinel"
	"health-sentinel/trend"
)

func main() {
	log.SetFlags(log.LstdFlags | log.Lshortfile)

	var configPath string
	var dbFolder string
	var dbPrefix string
	var fromStr string
	var toStr string
	var excludeStr string
	var divisor float64
	var changelogPath string
	var csvPath string
	var width int

	flag.StringVar(&configPath, "config", "", "YAML config file path (shares the agent's database/trend sections).")
	flag.StringVar(&dbFolder, "db-folder", "", "Monthly rolling archive folder (overrides config.database.folder).")
	flag.StringVar(&dbPrefix, "db-prefix", "", "Monthly rolling archive prefix (overrides config.database.prefix).")
	flag.StringVar(&fromStr, "from", "", "Start day, YYYY-MM-DD (default: 60 days ago).")
	flag.StringVar(&toStr, "to", "", "End day, YYYY-MM-DD (default: today UTC).")
	flag.StringVar(&excludeStr, "exclude", "", "Day to exclude as partial, YYYY-MM-DD (default: today UTC; 'none' disables).")
	flag.Float64Var(&divisor, "divisor", 0, "Chart rescale divisor (overrides config.trend.divisor).")
	flag.StringVar(&changelogPath, "changelog", "", "Markdown change log with dated headers (overrides config.trend.changelog).")
	flag.StringVar(&csvPath, "csv", "", "Also export the series as CSV to this path ('-' for stdout).")
	flag.IntVar(&width, "width", 100, "Report width in columns.")
	flag.Parse()

	visited := map[string]bool{}
	flag.CommandLine.Visit(func(f *flag.Flag) {
		visited[f.Name] = true
	})

	fileCfg := sentinel.DefaultConfig()
	if configPath != "" {
		cfg, err := sentinel.LoadConfig(configPath)
		if err != nil {
			log.Fatalf("load config: %v", err)
		}
		fileCfg = *cfg
	}
	if visited["db-folder"] {
		fileCfg.Database.Folder = dbFolder
	}
	if visited["db-prefix"] {
		fileCfg.Database.Prefix = dbPrefix
	}
	if visited["divisor"] {
		fileCfg.Trend.Divisor = divisor
	}
	if visited["changelog"] {
		fileCfg.Trend.Changelog = changelogPath
	}

	if strings.TrimSpace(fileCfg.Database.Folder) == "" {
		fmt.Fprintln(os.Stderr, "missing archive folder (use --db-folder or config.yaml database.folder)")
		os.Exit(2)
	}

	now := time.Now().UTC()
	to := now
	if toStr != "" {
		t, err := parseDay(toStr)
		if err != nil {
			log.Fatalf("parse --to: %v", err)
		}
		to = t
	}
	from := to.AddDate(0, 0, -60)
	if fromStr != "" {
		t, err := parseDay(fromStr)
		if err != nil {
			log.Fatalf("parse --from: %v", err)
		}
		from = t
	}

	// The current day is partial while the agent still runs, so it is
	// excluded from the series unless the caller says otherwise.
	exclude := now
	switch strings.ToLower(strings.TrimSpace(excludeStr)) {
	case "":
	case "none":
		exclude = time.Time{}
	default:
		t, err := parseDay(excludeStr)
		if err != nil {
			log.Fatalf("parse --exclude: %v", err)
		}
		exclude = t
	}

	samples, err := trend.LoadHistory(fileCfg.Database.Folder, fileCfg.Database.Prefix, from, to)
	if err != nil {
		log.Fatalf("load history: %v", err)
	}

	series, err := trend.Build(samples, trend.DefaultCatalog(), trend.Options{
		Exclude: exclude,
		Divisor: fileCfg.Trend.Divisor,
	})
	if err != nil {
		log.Fatalf("build series: %v", err)
	}

	var events []trend.Event
	if strings.TrimSpace(fileCfg.Trend.Changelog) != "" {
		events, err = trend.LoadChangelog(fileCfg.Trend.Changelog)
		if err != nil {
			log.Fatalf("load changelog: %v", err)
		}
	}

	fmt.Println(trend.Render(series, events, width))

	if csvPath != "" {
		out := os.Stdout
		if csvPath != "-" {
			f, err := os.Create(csvPath)
			if err != nil {
				log.Fatalf("create csv: %v", err)
			}
			defer f.Close()
			out = f
		}
		if err := trend.WriteCSV(out, series, events); err != nil {
			log.Fatalf("write csv: %v", err)
		}
	}
}

func parseDay(s string) (time.Time, error) {
	t, err := time.Parse("2006-01-02", strings.TrimSpace(s))
	if err != nil {
		return time.Time{}, fmt.Errorf("unsupported day format %q (want YYYY-MM-DD)", s)
	}
	return t.UTC(), nil
}
