package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"loglens/internal/config"
	"loglens/pkg/archive"
	"loglens/pkg/export"
	"loglens/pkg/index"
	"loglens/pkg/loader"
	"loglens/pkg/query"
	"loglens/pkg/server"
	"loglens/pkg/stats"
)

func main() {
	// Define flags
	configPath := flag.String("config", "~/.loglens/config.toml", "Path to config file")
	file := flag.String("file", "", "JSONL log file to analyze")
	queryStr := flag.String("query", "", `Query string (e.g. 'level:ERROR namespace:core timeout')`)
	statsFlag := flag.Bool("stats", false, "Print statistics instead of records")
	format := flag.String("format", "json", "Output format: json, csv")
	list := flag.Bool("list", false, "List log files in the logs directory")
	logsDir := flag.String("logs-dir", "", "Logs directory (overrides config)")
	topN := flag.Int("top-n", 0, "Top-N size for namespace rankings (overrides config)")
	marker := flag.String("agent-marker", "", "Agent namespace marker (overrides config)")
	port := flag.Int("port", 0, "HTTP server port (for serve mode)")
	dbPath := flag.String("db-path", "", "Archive database path (overrides config)")
	help := flag.Bool("help", false, "Show help")

	// Check for subcommand first
	args := os.Args[1:]
	mode := "analyze" // Default mode

	if len(args) > 0 && args[0] == "serve" {
		mode = "serve"
		// Remove "serve" from args and reparse flags
		os.Args = append([]string{os.Args[0]}, args[1:]...)
		flag.Parse()
	} else if len(args) > 0 && (args[0] == "help" || args[0] == "--help") {
		printHelp()
		return
	} else {
		flag.Parse()
		if *help {
			printHelp()
			return
		}
	}

	// Load configuration
	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	// Override config with CLI flags
	if *logsDir != "" {
		cfg.Loader.LogsDir = *logsDir
	}
	if *topN > 0 {
		cfg.Analysis.TopN = *topN
	}
	if *marker != "" {
		cfg.Analysis.AgentMarker = *marker
	}
	if *port > 0 {
		cfg.Server.Port = *port
	}
	if *dbPath != "" {
		cfg.Archive.DBPath = *dbPath
	}

	// Execute based on mode
	if mode == "serve" {
		if err := runServeMode(cfg); err != nil {
			log.Fatalf("Serve mode error: %v", err)
		}
		return
	}

	if *list {
		if err := runListMode(cfg); err != nil {
			log.Fatalf("List error: %v", err)
		}
		return
	}
	if *file == "" {
		printHelp()
		os.Exit(2)
	}
	if err := runAnalyzeMode(cfg, *file, *queryStr, *format, *statsFlag); err != nil {
		log.Fatalf("Analyze error: %v", err)
	}
}

func printHelp() {
	fmt.Println(`LogLens - JSONL Log Analyzer

USAGE:
    loglens --file app.jsonl [OPTIONS]     Analyze a log file (records to stdout)
    loglens --list                          List log files in the logs directory
    loglens serve [OPTIONS]                 Start the HTTP/WebSocket backend

OPTIONS:
    --config FILE          Path to config file (default: ~/.loglens/config.toml)
    --file FILE            JSONL log file to analyze
    --query QUERY          Filter query, e.g. 'level:ERROR,WARN ns:core after:now-1h timeout'
    --stats                Print statistics instead of matching records
    --format FORMAT        json | csv (default: json)
    --list                 List .jsonl files in the logs directory, newest first
    --logs-dir DIR         Logs directory (default: logs)
    --top-n N              Top-N size for namespace rankings (default: 10)
    --agent-marker S       Namespace marker for agent activity (default: Agent)
    --port PORT            HTTP port for serve mode (default: 8080)
    --db-path PATH         Archive database path (default: ~/.loglens/db)
    --help                 Show this help

EXAMPLES:
    # All ERROR records from the database layer, as CSV
    loglens --file run.jsonl --query 'level:ERROR ns:db' --format csv

    # Statistics for the last hour
    loglens --file run.jsonl --query 'after:now-1h' --stats

    # Serve the analysis API
    loglens serve --port 9000`)
}

func runAnalyzeMode(cfg *config.Config, file, queryStr, format string, wantStats bool) error {
	f, err := query.Parse(queryStr)
	if err != nil {
		return fmt.Errorf("invalid query: %w", err)
	}

	res, err := loader.New(cfg.MaxLineSizeBytes()).Load(file)
	if err != nil {
		return err
	}
	for _, skip := range res.Skipped {
		log.Printf("Warning: skipped malformed line %d: %s", skip.Line, skip.Reason)
	}

	idx := index.Build(res.Records)
	records, err := query.Apply(idx, f)
	if err != nil {
		return err
	}
	log.Printf("Loaded %d entries from %s (%d skipped), %d match",
		idx.Len(), filepath.Base(file), res.SkipCount(), len(records))

	if wantStats {
		return export.StatsJSON(os.Stdout, stats.Compute(records, stats.Options{
			TopN:        cfg.Analysis.TopN,
			AgentMarker: cfg.Analysis.AgentMarker,
		}))
	}

	switch format {
	case "csv":
		return export.CSV(os.Stdout, records)
	case "json":
		return export.JSON(os.Stdout, records)
	default:
		return fmt.Errorf("unknown format %q (use json or csv)", format)
	}
}

func runListMode(cfg *config.Config) error {
	files, err := loader.ListFiles(cfg.Loader.LogsDir)
	if err != nil {
		return err
	}
	if len(files) == 0 {
		log.Printf("No .jsonl files in %s", cfg.Loader.LogsDir)
		return nil
	}
	for _, f := range files {
		fmt.Printf("%s\t%.2f KB\t%s\n", f.Name, float64(f.Size)/1024,
			f.Modified.Format("2006-01-02 15:04:05"))
	}
	return nil
}

func runServeMode(cfg *config.Config) error {
	log.Println("Starting serve mode...")

	var store *archive.Store
	if cfg.Archive.Enabled {
		var err error
		store, err = archive.Open(archive.Config{
			DBPath:        cfg.Archive.DBPath,
			RetentionDays: cfg.Archive.RetentionDays,
			RetentionSize: cfg.RetentionSizeBytes(),
		})
		if err != nil {
			return fmt.Errorf("failed to open archive: %w", err)
		}
		defer store.Close()
	}

	srv := server.NewServer(server.Options{
		LogsDir:     cfg.Loader.LogsDir,
		MaxLineSize: cfg.MaxLineSizeBytes(),
		StatsOpts: stats.Options{
			TopN:        cfg.Analysis.TopN,
			AgentMarker: cfg.Analysis.AgentMarker,
		},
		Archive: store,
	})

	// Setup graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	errChan := make(chan error, 1)
	go func() {
		errChan <- srv.Start(cfg.Server.Port)
	}()

	select {
	case <-sigChan:
		log.Println("Shutting down gracefully...")
		return nil
	case err := <-errChan:
		return err
	}
}
