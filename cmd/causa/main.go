// Package main is the causa CLI entry point.
package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"sync"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/hyperjump/causa/internal/cli"
	"github.com/hyperjump/causa/internal/config"
	"github.com/hyperjump/causa/internal/models"
	"github.com/hyperjump/causa/internal/normalize"
	"github.com/hyperjump/causa/internal/runner"
	"github.com/hyperjump/causa/internal/server"
	"github.com/hyperjump/causa/internal/source"
	"github.com/hyperjump/causa/internal/storage"
	"github.com/hyperjump/causa/internal/trim"
	"github.com/hyperjump/causa/internal/watcher"
	"github.com/hyperjump/causa/pkg/utils"
)

var version = "dev"

const defaultConfigPath = "/usr/local/etc/causa/config.yaml"

// documentExtensions are watched in the documents directory.
var documentExtensions = []string{".pdf", ".docx", ".odt", ".rtf", ".txt", ".md"}

// loadConfig loads config from path and applies CAUSA_* overrides from the
// environment or ./.env.
func loadConfig(path string) (*config.Config, string, error) {
	cfg, resolved, err := loadConfigFile(path)
	if err != nil {
		return nil, "", err
	}
	if err := config.ApplyEnv(cfg, ".env"); err != nil {
		return nil, "", err
	}
	return cfg, resolved, nil
}

// loadConfigFile loads config from path. When path is the default, it first looks for
// config.yaml in the current directory (for development); if neither exists the
// built-in defaults are used. Returns the config and the path that was actually
// loaded ("" for built-in defaults).
func loadConfigFile(path string) (*config.Config, string, error) {
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
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}
	command := os.Args[1]
	switch command {
	case "process":
		runProcess()
	case "trim":
		runTrim()
	case "normalize":
		runNormalize()
	case "serve", "server":
		runServe()
	case "watch":
		runWatch()
	case "status":
		runStatus()
	case "init":
		runInit()
	case "version", "--version", "-v":
		fmt.Printf("causa version %s\n", version)
	case "help", "--help", "-h":
		printUsage()
	default:
		fmt.Printf("Unknown command: %s\n", command)
		printUsage()
		os.Exit(1)
	}
}

// argsReorder moves any flags (and their values) that appear after the
// positional arguments to the front so that flag.Parse() sees them. Go's flag
// package stops at the first non-flag argument, so "causa process in.xlsx
// --format csv" would otherwise leave --format unparsed.
func argsReorder(args []string) []string {
	for i, a := range args {
		if len(a) > 0 && a[0] == '-' {
			if i == 0 {
				return args
			}
			reordered := make([]string, 0, len(args))
			reordered = append(reordered, args[i:]...)
			reordered = append(reordered, args[:i]...)
			return reordered
		}
	}
	return args
}

// commonFlags are shared by commands that load config and log.
type commonFlags struct {
	configPath *string
	debug      *bool
}

func addCommonFlags(fs *flag.FlagSet) commonFlags {
	return commonFlags{
		configPath: fs.String("config", defaultConfigPath, "config file path"),
		debug:      fs.Bool("debug", false, "enable debug logging"),
	}
}

// setup loads config and builds the logger. It exits on failure.
func (c commonFlags) setup() (*config.Config, *zap.Logger) {
	cfg, resolved, err := loadConfig(*c.configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}
	debugMode := cfg.Debug || *c.debug
	logger, err := utils.NewLogger(debugMode)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to create logger: %v\n", err)
		os.Exit(1)
	}
	logger.Debug("config loaded", zap.String("config_path", resolved), zap.Bool("debug", debugMode))
	return cfg, logger
}

// runFlags override the run-related config sections.
type runFlags struct {
	format    *string
	outputDir *string
	sheet     *string
	documents *string
	ratio     *float64
	seed      *uint64
	noStore   *bool
	recursive *bool
}

func addRunFlags(fs *flag.FlagSet) runFlags {
	return runFlags{
		format:    fs.String("format", "", "output format: text, json or csv (default from config)"),
		outputDir: fs.String("output-dir", "", "directory for output files (default from config)"),
		sheet:     fs.String("sheet", "", "spreadsheet sheet to read (default: first sheet)"),
		documents: fs.String("documents", "", "directory of source papers used to fill missing sentences"),
		ratio:     fs.Float64("ratio", 0, "train split ratio in (0,1) (default from config)"),
		seed:      fs.Uint64("seed", 0, "split seed (default from config)"),
		noStore:   fs.Bool("no-store", false, "do not persist the run to the database"),
		recursive: fs.Bool("recursive", false, "descend into subdirectories of input directories"),
	}
}

// apply copies explicitly set flags onto cfg.
func (f runFlags) apply(fs *flag.FlagSet, cfg *config.Config) {
	fs.Visit(func(fl *flag.Flag) {
		switch fl.Name {
		case "format":
			cfg.Output.Format = *f.format
		case "output-dir":
			cfg.Output.Dir = *f.outputDir
		case "sheet":
			cfg.Input.Sheet = *f.sheet
		case "documents":
			cfg.Input.DocumentsDir = *f.documents
		case "ratio":
			cfg.Split.Ratio = *f.ratio
		case "seed":
			cfg.Split.Seed = *f.seed
		case "no-store":
			if *f.noStore {
				cfg.Storage.DatabasePath = ""
			}
		case "recursive":
			r := *f.recursive
			cfg.Watch.Recursive = &r
		}
	})
}

// resolveInputs returns the input tables named by args, or by the config when
// args is empty. Directories expand to their tables.
func resolveInputs(cfg *config.Config, args []string) ([]string, error) {
	roots := args
	if len(roots) == 0 {
		roots = cfg.Input.Paths
	}
	if len(roots) == 0 {
		return nil, errors.New("no input files: pass paths or set input.paths in config")
	}
	files, err := watcher.ListFiles(roots, cfg.Input.Extensions, cfg.Watch.RecursiveOrDefault())
	if err != nil {
		return nil, err
	}
	if len(files) == 0 {
		return nil, fmt.Errorf("no input tables found in %s", strings.Join(roots, ", "))
	}
	return files, nil
}

// Components holds initialized services.
type Components struct {
	Storage storage.Storage // nil when persistence is disabled
	Runner  *runner.Runner
}

// Close releases resources.
func (c *Components) Close() {
	if c.Storage != nil {
		_ = c.Storage.Close()
	}
}

func initializeComponents(cfg *config.Config, logger *zap.Logger) (*Components, error) {
	c := &Components{}
	var opts []runner.Option
	if cfg.Storage.DatabasePath != "" {
		store, err := storage.NewSQLiteStorage(cfg.Storage.DatabasePath)
		if err != nil {
			return nil, fmt.Errorf("open storage: %w", err)
		}
		c.Storage = store
		opts = append(opts, runner.WithStorage(store))
	}
	r, err := runner.NewFromConfig(cfg, logger, opts...)
	if err != nil {
		c.Close()
		return nil, err
	}
	c.Runner = r
	return c, nil
}

func runProcess() {
	fs := flag.NewFlagSet("process", flag.ExitOnError)
	common := addCommonFlags(fs)
	rf := addRunFlags(fs)
	_ = fs.Parse(argsReorder(os.Args[2:]))

	cfg, logger := common.setup()
	defer logger.Sync()
	rf.apply(fs, cfg)
	format, err := cli.ParseOutputFormat(cfg.Output.Format)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	inputs, err := resolveInputs(cfg, fs.Args())
	if err != nil {
		fmt.Fprintf(os.Stderr, "Process failed: %v\n", err)
		os.Exit(1)
	}

	components, err := initializeComponents(cfg, logger)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize: %v\n", err)
		os.Exit(1)
	}
	defer components.Close()

	if err := processOnce(context.Background(), components.Runner, inputs, cfg.Output.Dir, format, os.Stdout); err != nil {
		fmt.Fprintf(os.Stderr, "Process failed: %v\n", err)
		os.Exit(1)
	}
}

// processOnce runs inputs, writes the output files and prints a summary to w.
func processOnce(ctx context.Context, r *runner.Runner, inputs []string, outDir string, format cli.OutputFormat, w io.Writer) error {
	out, err := r.RunFiles(ctx, inputs)
	if err != nil {
		return err
	}
	paths, err := cli.WriteOutputs(outDir, out, format)
	if err != nil {
		return err
	}
	if err := cli.WriteSummary(w, out, cli.OutputText); err != nil {
		return err
	}
	for _, p := range paths {
		fmt.Fprintf(w, "wrote %s\n", p)
	}
	return nil
}

func runTrim() {
	fs := flag.NewFlagSet("trim", flag.ExitOnError)
	marker1 := fs.String("marker1", normalize.DefaultMarker1, "first entity marker")
	marker2 := fs.String("marker2", normalize.DefaultMarker2, "second entity marker")
	_ = fs.Parse(argsReorder(os.Args[2:]))

	t, err := trim.New(*marker1, *marker2)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Invalid markers: %v\n", err)
		os.Exit(1)
	}
	if err := trimLines(t, fs.Args(), os.Stdin, os.Stdout); err != nil {
		fmt.Fprintf(os.Stderr, "Trim failed: %v\n", err)
		os.Exit(1)
	}
}

// trimLines trims each argument, or each line of in when there are no
// arguments, and writes one result per line.
func trimLines(t *trim.Trimmer, args []string, in io.Reader, out io.Writer) error {
	if len(args) > 0 {
		for _, s := range args {
			fmt.Fprintln(out, t.Trim(s))
		}
		return nil
	}
	sc := bufio.NewScanner(in)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for sc.Scan() {
		fmt.Fprintln(out, t.Trim(sc.Text()))
	}
	return sc.Err()
}

func runNormalize() {
	fs := flag.NewFlagSet("normalize", flag.ExitOnError)
	common := addCommonFlags(fs)
	format := fs.String("format", "text", "output format: text, json or csv")
	sheet := fs.String("sheet", "", "spreadsheet sheet to read (default: first sheet)")
	_ = fs.Parse(argsReorder(os.Args[2:]))

	cfg, logger := common.setup()
	defer logger.Sync()
	of, err := cli.ParseOutputFormat(*format)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	if *sheet != "" {
		cfg.Input.Sheet = *sheet
	}
	inputs, err := resolveInputs(cfg, fs.Args())
	if err != nil {
		fmt.Fprintf(os.Stderr, "Normalize failed: %v\n", err)
		os.Exit(1)
	}
	recs, err := source.NewTableReader(cfg.Input.Sheet).ReadAll(inputs)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Normalize failed: %v\n", err)
		os.Exit(1)
	}
	n := normalize.NewNormalizer(cfg.Pipeline.Marker1, cfg.Pipeline.Marker2)
	if err := cli.WriteNormalized(os.Stdout, n.NormalizeAll(completeRecords(recs)), of); err != nil {
		fmt.Fprintf(os.Stderr, "Output failed: %v\n", err)
		os.Exit(1)
	}
}

func completeRecords(recs []models.Record) []models.Record {
	out := make([]models.Record, 0, len(recs))
	for _, r := range recs {
		if r.Complete() {
			out = append(out, r)
		}
	}
	return out
}

func runServe() {
	fs := flag.NewFlagSet("serve", flag.ExitOnError)
	common := addCommonFlags(fs)
	host := fs.String("host", "", "listen host (default from config)")
	port := fs.Int("port", 0, "listen port (default from config)")
	_ = fs.Parse(os.Args[2:])

	cfg, logger := common.setup()
	defer logger.Sync()
	if *host != "" {
		cfg.Server.Host = *host
	}
	if *port != 0 {
		cfg.Server.Port = *port
	}

	components, err := initializeComponents(cfg, logger)
	if err != nil {
		logger.Fatal("Failed to initialize components", zap.Error(err))
	}
	defer components.Close()

	srv := server.NewServer(components.Runner, components.Storage, cfg, logger)
	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("Server failed", zap.Error(err))
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	logger.Info("Shutting down...")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = srv.Stop(ctx)
}

func runWatch() {
	fs := flag.NewFlagSet("watch", flag.ExitOnError)
	common := addCommonFlags(fs)
	rf := addRunFlags(fs)
	_ = fs.Parse(argsReorder(os.Args[2:]))

	cfg, logger := common.setup()
	defer logger.Sync()
	rf.apply(fs, cfg)
	format, err := cli.ParseOutputFormat(cfg.Output.Format)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	roots := fs.Args()
	if len(roots) == 0 {
		roots = cfg.Input.Paths
	}
	if _, err := resolveInputs(cfg, roots); err != nil {
		fmt.Fprintf(os.Stderr, "Watch failed: %v\n", err)
		os.Exit(1)
	}

	// Storage stays open across reruns; the runner is rebuilt each time so
	// edited source documents are read again.
	components, err := initializeComponents(cfg, logger)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize: %v\n", err)
		os.Exit(1)
	}
	defer components.Close()

	var mu sync.Mutex
	rerun := func(changed []string) {
		mu.Lock()
		defer mu.Unlock()
		logger.Info("inputs changed, re-running", zap.Strings("paths", changed))
		var opts []runner.Option
		if components.Storage != nil {
			opts = append(opts, runner.WithStorage(components.Storage))
		}
		r, err := runner.NewFromConfig(cfg, logger, opts...)
		if err != nil {
			logger.Error("rebuild runner failed", zap.Error(err))
			return
		}
		inputs, err := resolveInputs(cfg, roots)
		if err != nil {
			logger.Warn("no inputs to process", zap.Error(err))
			return
		}
		if err := processOnce(context.Background(), r, inputs, cfg.Output.Dir, format, os.Stdout); err != nil {
			logger.Warn("re-run failed", zap.Error(err))
		}
	}

	watchRoots := append([]string(nil), roots...)
	exts := cfg.Input.Extensions
	if cfg.Input.DocumentsDir != "" {
		watchRoots = append(watchRoots, cfg.Input.DocumentsDir)
		exts = append(append([]string(nil), exts...), documentExtensions...)
	}
	w := watcher.NewWatcher(watchRoots, exts, cfg.Watch.RecursiveOrDefault(), rerun, watcher.WithLogger(logger))
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := w.Start(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to start watcher: %v\n", err)
		os.Exit(1)
	}
	defer w.Stop()

	rerun(roots)
	fmt.Printf("Watching %s (Ctrl+C to stop)\n", strings.Join(w.Roots(), ", "))

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan
	logger.Info("Shutting down...")
}

type statusResponse struct {
	Runs           int64          `json:"runs"`
	LatestRun      *models.Run    `json:"latest_run,omitempty"`
	DiskUsageBytes *int64         `json:"disk_usage_bytes,omitempty"`
	Config         map[string]any `json:"config,omitempty"`
}

func runStatus() {
	fs := flag.NewFlagSet("status", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path")
	serverURL := fs.String("server", "http://localhost:8090", "server URL (empty = use direct storage)")
	outputFormat := fs.String("output", "text", "output format: text or json")
	_ = fs.Parse(os.Args[2:])

	var status *statusResponse
	var err error
	if *serverURL != "" {
		status, err = statusViaHTTP(*serverURL)
	} else {
		var cfg *config.Config
		cfg, _, err = loadConfig(*configPath)
		if err == nil {
			status, err = statusFromStorage(context.Background(), cfg)
		}
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Status failed: %v\n", err)
		os.Exit(1)
	}
	if err := writeStatus(os.Stdout, status, *outputFormat); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func statusFromStorage(ctx context.Context, cfg *config.Config) (*statusResponse, error) {
	if cfg.Storage.DatabasePath == "" {
		return nil, errors.New("storage.database_path is not configured")
	}
	store, err := storage.NewSQLiteStorage(cfg.Storage.DatabasePath)
	if err != nil {
		return nil, err
	}
	defer store.Close()
	n, err := store.CountRuns(ctx)
	if err != nil {
		return nil, fmt.Errorf("count runs: %w", err)
	}
	status := &statusResponse{Runs: n, Config: map[string]any{"database_path": cfg.Storage.DatabasePath}}
	if latest, err := store.LatestRun(ctx); err == nil {
		status.LatestRun = latest
	}
	if diskBytes, err := storage.DiskUsageBytes(cfg.Storage.DatabasePath); err == nil {
		status.DiskUsageBytes = &diskBytes
	}
	return status, nil
}

func statusViaHTTP(serverURL string) (*statusResponse, error) {
	resp, err := http.Get(strings.TrimSuffix(serverURL, "/") + "/api/v1/status")
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("server returned %d: %s", resp.StatusCode, string(b))
	}
	var s statusResponse
	if err := json.NewDecoder(resp.Body).Decode(&s); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	return &s, nil
}

func writeStatus(w io.Writer, status *statusResponse, format string) error {
	switch format {
	case "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(status)
	case "text":
		fmt.Fprintf(w, "runs:              %d   # persisted pipeline runs\n", status.Runs)
		if status.DiskUsageBytes != nil {
			fmt.Fprintf(w, "disk_usage_bytes:  %d   # database on disk\n", *status.DiskUsageBytes)
		}
		if r := status.LatestRun; r != nil {
			fmt.Fprintln(w)
			fmt.Fprintln(w, "# latest run")
			fmt.Fprintf(w, "run_id:            %s\n", r.ID)
			fmt.Fprintf(w, "created_at:        %s\n", r.CreatedAt.Format(time.RFC3339))
			fmt.Fprintf(w, "rows:              %d in, %d dropped, %d out\n", r.InputRows, r.DroppedRows, r.OutputRows)
			fmt.Fprintf(w, "split:             %d train, %d test\n", r.TrainRows, r.TestRows)
			fmt.Fprintf(w, "features:          %d\n", r.Features)
		}
		return nil
	default:
		return fmt.Errorf("unknown output format %q; use text or json", format)
	}
}

func runInit() {
	fs := flag.NewFlagSet("init", flag.ExitOnError)
	force := fs.Bool("force", false, "overwrite an existing config file")
	_ = fs.Parse(argsReorder(os.Args[2:]))

	path := "config.yaml"
	if fs.NArg() > 0 {
		path = fs.Arg(0)
	}
	if err := writeDefaultConfig(path, *force); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("Wrote %s\n", path)
}

// writeDefaultConfig saves the built-in defaults to path. An existing file is
// only replaced when force is set.
func writeDefaultConfig(path string, force bool) error {
	if !force {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("%s already exists (use --force to overwrite)", path)
		}
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create config directory: %w", err)
		}
	}
	cfg := &config.Config{}
	config.ApplyDefaults(cfg)
	return config.Save(path, cfg)
}

func printUsage() {
	fmt.Println(`causa - Causal hypothesis data preparation

Usage:
  causa process [flags] [paths...]     Process input tables into trimmed hypotheses and n-gram features
  causa trim [flags] [sentences...]    Trim sentences (reads stdin lines when no sentences are given)
  causa normalize [flags] [paths...]   Print normalized records of input tables
  causa serve [flags]                  Start the HTTP server
  causa watch [flags] [paths...]       Re-run processing whenever inputs or source documents change
  causa status [flags]                 Show persisted runs
  causa init [--force] [path]          Write a default config file (default: ./config.yaml)
  causa version                        Show version
  causa help                           Show this help

Common Flags:
  --config string    Config file path (default: /usr/local/etc/causa/config.yaml, falls back to ./config.yaml)
  --debug            Enable debug logging

Process/Watch Flags:
  --format string      Output format: text, json or csv (default from config)
  --output-dir string  Directory for hypotheses, train, test and features files
  --sheet string       Spreadsheet sheet to read (default: first sheet)
  --documents string   Directory of source papers used to fill missing sentences
  --ratio float        Train split ratio in (0,1)
  --seed uint          Split seed
  --no-store           Do not persist the run to the database
  --recursive          Descend into subdirectories of input directories

Trim Flags:
  --marker1 string   First entity marker (default: node1)
  --marker2 string   Second entity marker (default: node2)

Serve Flags:
  --host string      Listen host (default from config)
  --port int         Listen port (default from config)

Environment:
  CAUSA_DEBUG, CAUSA_SERVER_HOST, CAUSA_SERVER_PORT, CAUSA_DATABASE_PATH,
  CAUSA_DOCUMENTS_DIR, CAUSA_OUTPUT_DIR override the config file. Values are
  also read from ./.env.

Status Flags:
  --server string    Server URL (default: http://localhost:8090). Use empty (--server "") for direct storage.
  --output string    Output format: text or json (default: text)

Examples:
  causa process hypotheses.xlsx
  causa process --format csv --output-dir out/ data/
  echo "the node1 effect on node2 output increases risk" | causa trim
  causa normalize --format json hypotheses.csv
  causa serve --port 8090
  causa watch --documents papers/ hypotheses.xlsx
  causa status --server ""`)
}
