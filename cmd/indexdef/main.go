// Package main is the indexdef CLI entry point.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/hyperjump/indexdef/internal/catalog"
	"github.com/hyperjump/indexdef/internal/cli"
	"github.com/hyperjump/indexdef/internal/config"
	"github.com/hyperjump/indexdef/internal/docmapper"
	"github.com/hyperjump/indexdef/internal/indexconfig"
	"github.com/hyperjump/indexdef/internal/keyword"
	"github.com/hyperjump/indexdef/internal/models"
	"github.com/hyperjump/indexdef/internal/server"
	"github.com/hyperjump/indexdef/internal/storage"
	"github.com/hyperjump/indexdef/internal/watcher"
	"github.com/hyperjump/indexdef/pkg/utils"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

var version = "dev"

const (
	defaultConfigPath = "/usr/local/etc/indexdef/config.yaml"
	defaultServerURL  = "http://localhost:7280"
)

// loadConfig loads config from path. When path is the default, it first looks for
// config.yaml in the current directory (for development); if that exists it is used.
// A missing default config yields the built-in defaults.
// Returns the config and the path that was actually loaded (empty when none was).
func loadConfig(path string) (*config.Config, string, error) {
	if path == defaultConfigPath {
		if cwd, cwdErr := os.Getwd(); cwdErr == nil {
			fallback := filepath.Join(cwd, "config.yaml")
			if _, statErr := os.Stat(fallback); statErr == nil {
				cfg, loadErr := config.Load(fallback)
				if loadErr != nil {
					return nil, "", loadErr
				}
				return cfg, fallback, nil
			}
		}
		if _, statErr := os.Stat(path); errors.Is(statErr, os.ErrNotExist) {
			cfg := &config.Config{}
			config.ApplyDefaults(cfg)
			return cfg, "", nil
		}
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, "", err
	}
	return cfg, path, nil
}

func main() {
	os.Exit(run(os.Args[1:], os.Stdin, os.Stdout, os.Stderr))
}

// run dispatches a subcommand and returns the process exit code.
func run(args []string, stdin io.Reader, stdout, stderr io.Writer) int {
	if len(args) < 1 {
		printUsage(stderr)
		return 1
	}
	command, rest := args[0], args[1:]
	switch command {
	case "server":
		return runServer(rest, stderr)
	case "validate":
		return runValidate(rest, stdout, stderr)
	case "describe":
		return runDescribe(rest, stdout, stderr)
	case "convert":
		return runConvert(rest, stdout, stderr)
	case "parse":
		return runParse(rest, stdin, stdout, stderr)
	case "preview":
		return runPreview(rest, stdin, stdout, stderr)
	case "index":
		return runIndex(rest, stdout, stderr)
	case "watch":
		return runWatch(rest, stdout, stderr)
	case "status":
		return runStatus(rest, stdout, stderr)
	case "version", "--version", "-v":
		fmt.Fprintf(stdout, "indexdef version %s\n", version)
		return 0
	case "help", "--help", "-h":
		printUsage(stdout)
		return 0
	default:
		fmt.Fprintf(stderr, "Unknown command: %s\n", command)
		printUsage(stderr)
		return 1
	}
}

// argsReorder moves flags ahead of positional arguments so that
// "indexdef validate logs.yaml --output json" parses the flag.
// Flags in boolFlags take no value.
func argsReorder(args []string, boolFlags map[string]bool) []string {
	var flags, positional []string
	for i := 0; i < len(args); i++ {
		a := args[i]
		if a == "--" {
			flags = append(flags, a)
			positional = append(positional, args[i+1:]...)
			break
		}
		if !strings.HasPrefix(a, "-") || a == "-" {
			positional = append(positional, a)
			continue
		}
		flags = append(flags, a)
		name := strings.TrimLeft(a, "-")
		if strings.Contains(name, "=") || boolFlags[name] {
			continue
		}
		if i+1 < len(args) {
			flags = append(flags, args[i+1])
			i++
		}
	}
	return append(flags, positional...)
}

func newFlagSet(name string, stderr io.Writer) *flag.FlagSet {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(stderr)
	return fs
}

func outputFlag(fs *flag.FlagSet) *string {
	return fs.String("output", "text", "output format: text, json or yaml")
}

func runServer(args []string, stderr io.Writer) int {
	fs := newFlagSet("server", stderr)
	configPath := fs.String("config", defaultConfigPath, "config file path")
	debug := fs.Bool("debug", false, "enable debug logging (config changes, request logs, etc.)")
	if err := fs.Parse(args); err != nil {
		return 2
	}

	cfg, resolvedConfigPath, err := loadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(stderr, "Failed to load config: %v\n", err)
		return 1
	}
	cfg.Debug = cfg.Debug || *debug
	logger, err := utils.NewLogger(cfg.Debug)
	if err != nil {
		fmt.Fprintf(stderr, "Failed to create logger: %v\n", err)
		return 1
	}
	defer func() { _ = logger.Sync() }()

	logger.Info("config loaded",
		zap.String("config_path", resolvedConfigPath),
		zap.Bool("debug", cfg.Debug),
	)

	if err := serve(cfg, resolvedConfigPath, logger); err != nil {
		logger.Error("Server failed", zap.Error(err))
		return 1
	}
	return 0
}

// serve runs the HTTP API and the config watcher until SIGINT or SIGTERM.
func serve(cfg *config.Config, configPath string, logger *zap.Logger) error {
	store, err := storage.NewSQLiteMetastore(cfg.Storage.DatabasePath)
	if err != nil {
		return err
	}
	defer store.Close()
	cat := catalog.New(store, catalog.WithLogger(logger))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	w := watcher.New(
		cfg.Watch.Directories,
		cfg.Watch.Extensions,
		cfg.Watch.RecursiveOrDefault(),
		cat,
		watcher.WithLogger(logger),
		watcher.WithDebounce(cfg.Watch.Debounce()),
	)
	if err := w.Start(ctx); err != nil {
		return fmt.Errorf("failed to start watcher: %w", err)
	}
	defer w.Stop()
	w.SyncExistingFiles()

	srv := server.NewServer(cat, cfg, logger, w, configPath, version)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("Shutting down...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Stop(shutdownCtx)
	})
	return g.Wait()
}

func runValidate(args []string, stdout, stderr io.Writer) int {
	fs := newFlagSet("validate", stderr)
	output := outputFlag(fs)
	if err := fs.Parse(argsReorder(args, nil)); err != nil {
		return 2
	}
	format, err := cli.ParseOutputFormat(*output)
	if err != nil {
		fmt.Fprintln(stderr, err)
		return 2
	}
	if fs.NArg() < 1 {
		fmt.Fprintln(stderr, "Usage: indexdef validate [flags] <index-config>...")
		return 2
	}

	code := 0
	for _, path := range fs.Args() {
		report := validateFile(path)
		if !report.Valid {
			code = 1
		}
		if format == cli.OutputText && fs.NArg() > 1 {
			fmt.Fprintf(stdout, "%s\n", path)
		}
		if err := cli.WriteValidationReport(stdout, report, format); err != nil {
			fmt.Fprintf(stderr, "Output failed: %v\n", err)
			return 1
		}
	}
	return code
}

func validateFile(path string) *models.ValidationReport {
	cfg, err := indexconfig.Load(path)
	if err != nil {
		return models.NewValidationReport("", err)
	}
	indexconfig.ApplyDefaults(cfg)
	return models.NewValidationReport(cfg.IndexID, cfg.Validate())
}

func runDescribe(args []string, stdout, stderr io.Writer) int {
	fs := newFlagSet("describe", stderr)
	output := outputFlag(fs)
	if err := fs.Parse(argsReorder(args, nil)); err != nil {
		return 2
	}
	format, err := cli.ParseOutputFormat(*output)
	if err != nil {
		fmt.Fprintln(stderr, err)
		return 2
	}
	if fs.NArg() != 1 {
		fmt.Fprintln(stderr, "Usage: indexdef describe [flags] <index-config>")
		return 2
	}
	cfg, err := indexconfig.LoadValidated(fs.Arg(0))
	if err != nil {
		fmt.Fprintf(stderr, "Invalid index config: %v\n", err)
		return 1
	}
	if err := cli.WriteDescription(stdout, models.Describe(cfg), format); err != nil {
		fmt.Fprintf(stderr, "Output failed: %v\n", err)
		return 1
	}
	return 0
}

func runConvert(args []string, stdout, stderr io.Writer) int {
	fs := newFlagSet("convert", stderr)
	to := fs.String("to", "", "target format: yaml or json (default: from --out extension)")
	out := fs.String("out", "", "write to this file instead of stdout")
	defaults := fs.Bool("defaults", false, "write the config with defaults applied")
	if err := fs.Parse(argsReorder(args, map[string]bool{"defaults": true})); err != nil {
		return 2
	}
	if fs.NArg() != 1 {
		fmt.Fprintln(stderr, "Usage: indexdef convert --to yaml|json [--out file] <index-config>")
		return 2
	}
	cfg, err := indexconfig.Load(fs.Arg(0))
	if err != nil {
		fmt.Fprintf(stderr, "Failed to load index config: %v\n", err)
		return 1
	}
	if *defaults {
		indexconfig.ApplyDefaults(cfg)
	}

	target := *to
	if target == "" && *out != "" {
		target = filepath.Ext(*out)
	}
	format, err := indexconfig.ParseFormat(target)
	if err != nil {
		fmt.Fprintf(stderr, "%v\n", err)
		return 2
	}
	if *out != "" {
		if outFormat, err := indexconfig.ParseFormat(filepath.Ext(*out)); err != nil || outFormat != format {
			fmt.Fprintf(stderr, "--out extension does not match --to %s\n", format)
			return 2
		}
		if err := indexconfig.Save(*out, cfg); err != nil {
			fmt.Fprintf(stderr, "%v\n", err)
			return 1
		}
		return 0
	}
	data, err := indexconfig.Marshal(cfg, format)
	if err != nil {
		fmt.Fprintf(stderr, "%v\n", err)
		return 1
	}
	_, _ = stdout.Write(data)
	return 0
}

// openInput returns stdin for "" or "-", otherwise the named file.
func openInput(path string, stdin io.Reader) (io.ReadCloser, error) {
	if path == "" || path == "-" {
		return io.NopCloser(stdin), nil
	}
	return os.Open(path)
}

func runParse(args []string, stdin io.Reader, stdout, stderr io.Writer) int {
	fs := newFlagSet("parse", stderr)
	indexConfig := fs.String("index-config", "", "index config file (required)")
	output := outputFlag(fs)
	debug := fs.Bool("debug", false, "log each rejected document")
	if err := fs.Parse(argsReorder(args, map[string]bool{"debug": true})); err != nil {
		return 2
	}
	format, err := cli.ParseOutputFormat(*output)
	if err != nil {
		fmt.Fprintln(stderr, err)
		return 2
	}
	if *indexConfig == "" || fs.NArg() > 1 {
		fmt.Fprintln(stderr, "Usage: indexdef parse --index-config <file> [documents.ndjson|-]")
		return 2
	}
	logger, err := utils.NewCLILogger(*debug)
	if err != nil {
		fmt.Fprintf(stderr, "Failed to create logger: %v\n", err)
		return 1
	}
	defer func() { _ = logger.Sync() }()

	cfg, err := indexconfig.Load(*indexConfig)
	if err != nil {
		fmt.Fprintf(stderr, "Failed to load index config: %v\n", err)
		return 1
	}
	mapper, err := docmapper.New(cfg, docmapper.WithLogger(logger))
	if err != nil {
		fmt.Fprintf(stderr, "Invalid index config: %v\n", err)
		return 1
	}
	in, err := openInput(fs.Arg(0), stdin)
	if err != nil {
		fmt.Fprintf(stderr, "Failed to open documents: %v\n", err)
		return 1
	}
	defer in.Close()

	results, err := mapper.MapBatch(context.Background(), in)
	if err != nil {
		fmt.Fprintf(stderr, "Parse failed: %v\n", err)
		return 1
	}
	summary := catalog.Summarize(results)
	if err := cli.WriteParseResults(stdout, results, summary, format); err != nil {
		fmt.Fprintf(stderr, "Output failed: %v\n", err)
		return 1
	}
	if summary.NumRejected > 0 {
		return 1
	}
	return 0
}

// parseTimeFlag accepts RFC 3339 or Unix seconds.
func parseTimeFlag(name, v string) (*time.Time, error) {
	if v == "" {
		return nil, nil
	}
	if secs, err := strconv.ParseInt(v, 10, 64); err == nil {
		t := time.Unix(secs, 0).UTC()
		return &t, nil
	}
	t, err := time.Parse(time.RFC3339, v)
	if err != nil {
		return nil, fmt.Errorf("invalid --%s %q: expected RFC 3339 or Unix seconds", name, v)
	}
	return &t, nil
}

func runPreview(args []string, stdin io.Reader, stdout, stderr io.Writer) int {
	fs := newFlagSet("preview", stderr)
	indexConfig := fs.String("index-config", "", "index config file (required)")
	query := fs.String("query", "", "query string, e.g. 'type:PushEvent' (empty matches all)")
	limit := fs.Int("limit", keyword.DefaultLimit, "maximum number of hits")
	fuzzy := fs.Bool("fuzzy", false, "enable fuzzy matching for typo tolerance")
	fuzziness := fs.Int("fuzziness", 1, "edit distance for fuzzy matching")
	start := fs.String("start", "", "inclusive start timestamp (RFC 3339 or Unix seconds)")
	end := fs.String("end", "", "exclusive end timestamp (RFC 3339 or Unix seconds)")
	sortByTimestamp := fs.Bool("sort-by-timestamp", false, "order hits newest first")
	output := outputFlag(fs)
	if err := fs.Parse(argsReorder(args, map[string]bool{"fuzzy": true, "sort-by-timestamp": true})); err != nil {
		return 2
	}
	format, err := cli.ParseOutputFormat(*output)
	if err != nil {
		fmt.Fprintln(stderr, err)
		return 2
	}
	if *indexConfig == "" || fs.NArg() > 1 {
		fmt.Fprintln(stderr, "Usage: indexdef preview --index-config <file> [flags] [documents.ndjson|-]")
		return 2
	}
	req := keyword.SearchRequest{
		Query:           *query,
		Limit:           *limit,
		Fuzzy:           *fuzzy,
		Fuzziness:       *fuzziness,
		SortByTimestamp: *sortByTimestamp,
	}
	if req.StartTimestamp, err = parseTimeFlag("start", *start); err != nil {
		fmt.Fprintln(stderr, err)
		return 2
	}
	if req.EndTimestamp, err = parseTimeFlag("end", *end); err != nil {
		fmt.Fprintln(stderr, err)
		return 2
	}

	cfg, err := indexconfig.Load(*indexConfig)
	if err != nil {
		fmt.Fprintf(stderr, "Failed to load index config: %v\n", err)
		return 1
	}
	in, err := openInput(fs.Arg(0), stdin)
	if err != nil {
		fmt.Fprintf(stderr, "Failed to open documents: %v\n", err)
		return 1
	}
	defer in.Close()

	res, err := catalog.PreviewConfig(context.Background(), cfg, in, req, nil)
	if err != nil {
		fmt.Fprintf(stderr, "Preview failed: %v\n", err)
		return 1
	}
	if err := cli.WritePreview(stdout, res, format); err != nil {
		fmt.Fprintf(stderr, "Output failed: %v\n", err)
		return 1
	}
	return 0
}

func runStatus(args []string, stdout, stderr io.Writer) int {
	fs := newFlagSet("status", stderr)
	configPath := fs.String("config", defaultConfigPath, "config file path (for direct metastore mode)")
	serverURL := fs.String("server", defaultServerURL, "server URL (empty = read the metastore directly)")
	output := outputFlag(fs)
	if err := fs.Parse(args); err != nil {
		return 2
	}
	format, err := cli.ParseOutputFormat(*output)
	if err != nil {
		fmt.Fprintln(stderr, err)
		return 2
	}

	var status *models.StatusResponse
	if *serverURL != "" {
		status, err = newAPIClient(*serverURL).status()
		if err != nil {
			fmt.Fprintf(stderr, "Status failed: %v\n", err)
			return 1
		}
	} else {
		status, err = localStatus(*configPath)
		if err != nil {
			fmt.Fprintf(stderr, "Status failed: %v\n", err)
			return 1
		}
	}

	if format != cli.OutputText {
		if err := cli.WriteStructured(stdout, status, format); err != nil {
			fmt.Fprintf(stderr, "Output failed: %v\n", err)
			return 1
		}
		return 0
	}
	fmt.Fprintf(stdout, "status:            %s\n", status.Status)
	if status.Version != "" {
		fmt.Fprintf(stdout, "version:           %s\n", status.Version)
	}
	fmt.Fprintf(stdout, "indexes:           %d   # registered index configs\n", status.IndexCount)
	fmt.Fprintf(stdout, "metastore_path:    %s\n", status.MetastorePath)
	fmt.Fprintf(stdout, "disk_usage_bytes:  %d   # metastore on disk\n", status.DiskUsage)
	for _, d := range status.WatchedPaths {
		fmt.Fprintf(stdout, "watching:          %s\n", d)
	}
	return 0
}

func localStatus(configPath string) (*models.StatusResponse, error) {
	cfg, _, err := loadConfig(configPath)
	if err != nil {
		return nil, err
	}
	store, err := storage.NewSQLiteMetastore(cfg.Storage.DatabasePath)
	if err != nil {
		return nil, err
	}
	defer store.Close()
	count, err := store.CountIndexes(context.Background())
	if err != nil {
		return nil, err
	}
	status := &models.StatusResponse{
		Status:        "offline",
		IndexCount:    count,
		MetastorePath: cfg.Storage.DatabasePath,
		WatchedPaths:  cfg.Watch.Directories,
	}
	if diskBytes, err := storage.DiskUsageBytes(storage.MetastoreFiles(cfg.Storage.DatabasePath)...); err == nil {
		status.DiskUsage = diskBytes
	}
	return status, nil
}

func printUsage(w io.Writer) {
	fmt.Fprintln(w, `indexdef - Index config catalog and validator

Usage:
  indexdef server [flags]                       Start the HTTP API and config watcher
  indexdef validate [flags] <file>...           Validate index config files
  indexdef describe [flags] <file>              Show the fields of an index config
  indexdef convert --to yaml|json <file>        Convert an index config between YAML and JSON
  indexdef parse --index-config <file> [docs]   Map NDJSON documents with a doc mapping
  indexdef preview --index-config <file> [docs] Index sample documents in memory and search them
  indexdef index <create|list|get|update|delete|describe>  Manage indexes on a server
  indexdef watch <add|remove|list>              Manage watched config directories
  indexdef status [flags]                       Show catalog status
  indexdef version                              Show version
  indexdef help                                 Show this help

Common Flags:
  --output string    Output format: text, json or yaml (default: text)
  --server string    Server URL (default: http://localhost:7280)
  --config string    Config file path (default: /usr/local/etc/indexdef/config.yaml)

Examples:
  indexdef validate gh-archive.yaml
  indexdef describe --output json gh-archive.yaml
  indexdef convert --to json gh-archive.yaml
  indexdef parse --index-config gh-archive.yaml events.ndjson
  indexdef preview --index-config gh-archive.yaml --query 'type:PushEvent' events.ndjson
  indexdef index create gh-archive.yaml
  indexdef index list
  indexdef watch add /etc/indexdef/indexes
  indexdef status --output json`)
}
