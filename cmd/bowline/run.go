package main

import (
	"context"
	"flag"
	"fmt"
	"net"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/odvcencio/bowline/pkg/config"
	"github.com/odvcencio/bowline/pkg/driver"
	_ "github.com/odvcencio/bowline/pkg/driver/static"
	"github.com/odvcencio/bowline/pkg/history"
	"github.com/odvcencio/bowline/pkg/logging"
	"github.com/odvcencio/bowline/pkg/report"
	"github.com/odvcencio/bowline/pkg/runner"
	"github.com/odvcencio/bowline/pkg/suite"
	"github.com/odvcencio/bowline/pkg/trace"
	"github.com/odvcencio/bowline/pkg/tunnel"
	"github.com/odvcencio/bowline/pkg/watch"
)

// runLoadConfigFn allows tests to stub config loading.
var runLoadConfigFn = loadConfig

func loadConfig() (*config.Config, error) {
	if configPath != "" {
		return config.LoadFromPath(configPath)
	}
	return config.Load()
}

func runRunCommand(args []string) error {
	cfg, err := runLoadConfigFn()
	if err != nil {
		return withExitCode(err, 2)
	}

	browsers := append([]string{}, cfg.Browsers...)
	reporterNames := append([]string{}, cfg.Reporters...)

	fs := flag.NewFlagSet("run", flag.ContinueOnError)
	driverName := fs.String("driver", cfg.Driver, "driver to session against")
	fs.Var(&stringListValue{target: &browsers}, "browser", "browser session label (repeatable, replaces config list)")
	fs.Var(&stringListValue{target: &reporterNames}, "reporter", "reporter to attach (repeatable, replaces config list)")
	outputDir := fs.String("output", cfg.Report.Dir, "directory for report artifacts")
	watchMode := fs.Bool("watch", false, "re-run when test files change")
	traceMode := fs.Bool("trace", false, "emit OpenTelemetry spans for the run")
	recordHistory := fs.Bool("history", cfg.History.Enabled, "record the run in the history database")
	remote := fs.String("remote", "", "tunnel address (host:port) to launch the browser on")
	remoteSecret := fs.String("remote-secret", cfg.Tunnel.Secret, "shared secret for the tunnel")
	remoteBrowser := fs.String("remote-browser", cfg.Tunnel.Browser, "browser to launch through the tunnel")
	if err := fs.Parse(args); err != nil {
		return err
	}

	if !driver.Has(*driverName) {
		return fmt.Errorf("unknown driver %q (have: %s)", *driverName, strings.Join(driver.Names(), ", "))
	}

	files := expandFiles(fs.Args(), cfg.Files)

	runID := ulid.Make().String()
	logger, cmdlog, err := buildLoggers(cfg, runID)
	if err != nil {
		fmt.Fprintf(os.Stderr, "warning: logging disabled: %v\n", err)
	}
	if logger != nil {
		defer logger.Close()
	}
	if cmdlog != nil {
		defer cmdlog.Close()
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if *traceMode {
		provider, err := trace.NewProvider("bowline", version)
		if err != nil {
			fmt.Fprintf(os.Stderr, "warning: tracing disabled: %v\n", err)
			*traceMode = false
		} else {
			defer func() {
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				_ = provider.Shutdown(shutdownCtx)
			}()
		}
	}

	reporters := buildReporters(cfg, reporterNames, runID, *outputDir, logger)
	var store *history.Store
	if *recordHistory {
		dbPath := strings.TrimSpace(cfg.History.Path)
		if dbPath == "" {
			dbPath, err = resolveHistoryDBPath()
			if err != nil {
				return err
			}
		}
		store, err = history.Open(dbPath)
		if err != nil {
			// History is an amenity; a broken database must not stop runs.
			fmt.Fprintf(os.Stderr, "warning: history disabled: %v\n", err)
		} else {
			defer store.Close()
			reporters = append(reporters, history.NewRecorder(store, logger))
		}
	}

	hub := report.NewHub()
	defer hub.Close()
	stopPump := report.Pump(hub, reporters...)
	defer func() {
		stopPump()
		for _, r := range reporters {
			_ = r.Close()
		}
	}()

	driverOpts := driver.Options{
		WaitTimeout: time.Duration(cfg.Timeouts.Wait) * time.Millisecond,
		Logger:      logger,
		Commands:    cmdlog,
	}

	if *remote != "" {
		client, err := newTunnelClient(*remote, *remoteSecret)
		if err != nil {
			return err
		}
		info, err := client.Launch(ctx, *remoteBrowser)
		if err != nil {
			return withExitCode(err, 1)
		}
		defer func() {
			killCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			_ = client.Kill(killCtx)
		}()
		driverOpts.Endpoint = client.ProxyURL()
		if !quietMode {
			fmt.Printf("Launched %s through tunnel %s\n", info.Name, *remote)
		}
	}

	suiteOpts := suite.Options{
		DoneTimeout: time.Duration(cfg.Timeouts.Test) * time.Millisecond,
		WaitTimeout: time.Duration(cfg.Timeouts.Wait) * time.Millisecond,
	}

	runOnce := func(id string) int {
		r := runner.New(runner.Options{
			RunID:         id,
			Driver:        *driverName,
			DriverOptions: driverOpts,
			Browsers:      browsers,
			Files:         files,
			SuiteOptions:  suiteOpts,
			Hub:           hub,
			Logger:        logger,
			Trace:         *traceMode,
		})
		return r.Run(ctx).ExitCode()
	}

	exitCode := runOnce(runID)

	if !*watchMode {
		return silentExit(exitCode)
	}

	watcher, err := watch.New(watch.Options{
		Paths:    watchPaths(cfg, files),
		Patterns: watchPatterns(cfg, files),
		Debounce: time.Duration(cfg.Watch.Debounce) * time.Millisecond,
		Logger:   logger,
	})
	if err != nil {
		return err
	}
	defer watcher.Close()
	go func() { _ = watcher.Run(ctx) }()

	if !quietMode {
		fmt.Println("Watching for changes (Ctrl-C to stop)...")
	}
	for {
		select {
		case <-ctx.Done():
			return silentExit(exitCode)
		case batch := <-watcher.Changes():
			if !quietMode {
				fmt.Printf("\n%d file(s) changed; re-running\n", len(batch))
			}
			exitCode = runOnce(ulid.Make().String())
		}
	}
}

// expandFiles resolves CLI arguments (globs allowed) into test files,
// falling back to the configured file list when no arguments are given.
func expandFiles(args, configured []string) []string {
	if len(args) == 0 {
		args = configured
	}

	var files []string
	for _, arg := range args {
		arg = strings.TrimSpace(arg)
		if arg == "" {
			continue
		}
		matches, err := filepath.Glob(arg)
		if err != nil || len(matches) == 0 {
			// Keep the literal path; the loader degrades missing files
			// to a suite warning instead of aborting the run.
			files = append(files, arg)
			continue
		}
		files = append(files, matches...)
	}
	return files
}

func buildLoggers(cfg *config.Config, runID string) (*logging.Logger, *logging.CommandLogger, error) {
	dir := strings.TrimSpace(cfg.Logging.Dir)
	if dir == "" {
		resolved, err := resolveLogDir()
		if err != nil {
			return nil, nil, err
		}
		dir = resolved
	}
	logger, err := logging.NewLogger(dir, runID)
	if err != nil {
		return nil, nil, err
	}
	logger.SetMinLevel(logging.Level(cfg.Logging.Level))

	cmdlog, err := logging.NewCommandLogger(dir)
	if err != nil {
		logger.Close()
		return nil, nil, err
	}
	return logger, cmdlog, nil
}

// buildReporters constructs every requested reporter, dropping unknown
// names and failed constructions with a warning rather than aborting.
func buildReporters(cfg *config.Config, names []string, runID, outputDir string, logger *logging.Logger) []report.Reporter {
	verified := cfg.VerifyReporters(names)
	if dropped := len(names) - len(verified); dropped > 0 {
		known := make(map[string]bool, len(verified))
		for _, name := range verified {
			known[name] = true
		}
		for _, name := range names {
			if !known[name] {
				fmt.Fprintf(os.Stderr, "warning: unknown reporter %q skipped\n", name)
			}
		}
	}
	if len(verified) == 0 {
		verified = []string{"console"}
	}

	opts := report.Options{
		RunID:     runID,
		OutputDir: outputDir,
		Address:   cfg.Report.Live.Address,
		URL:       cfg.Report.NATS.URL,
		Subject:   cfg.Report.NATS.Subject,
		Logger:    logger,
	}
	var reporters []report.Reporter
	for _, name := range verified {
		rep, err := report.New(name, opts)
		if err != nil {
			fmt.Fprintf(os.Stderr, "warning: reporter %q disabled: %v\n", name, err)
			continue
		}
		reporters = append(reporters, rep)
	}
	return reporters
}

func newTunnelClient(address, secret string) (*tunnel.Client, error) {
	host, portStr, err := net.SplitHostPort(strings.TrimSpace(address))
	if err != nil {
		// A bare host uses the default tunnel port.
		return tunnel.NewClient(strings.TrimSpace(address), 0, secret), nil
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return nil, fmt.Errorf("invalid tunnel port %q", portStr)
	}
	return tunnel.NewClient(host, port, secret), nil
}

// watchPaths picks what to observe: the configured watch paths when set,
// otherwise the test files themselves.
func watchPaths(cfg *config.Config, files []string) []string {
	if len(cfg.Watch.Paths) > 0 {
		return cfg.Watch.Paths
	}
	if len(files) > 0 {
		return files
	}
	return []string{"."}
}

// watchPatterns narrows directory watches to suite scripts; explicit
// file watches match just those files.
func watchPatterns(cfg *config.Config, files []string) []string {
	if len(cfg.Watch.Paths) > 0 || len(files) == 0 {
		return []string{"*.yml", "*.yaml"}
	}
	patterns := make([]string, 0, len(files))
	for _, f := range files {
		patterns = append(patterns, filepath.Base(f))
	}
	return patterns
}

// stringListValue collects repeatable flags; the first use replaces the
// config-provided default list instead of appending to it.
type stringListValue struct {
	target   *[]string
	replaced bool
}

func (s *stringListValue) String() string {
	if s == nil || s.target == nil {
		return ""
	}
	return strings.Join(*s.target, ",")
}

func (s *stringListValue) Set(value string) error {
	if s.target == nil {
		return fmt.Errorf("no target slice configured")
	}
	if !s.replaced {
		*s.target = (*s.target)[:0]
		s.replaced = true
	}
	for _, part := range strings.Split(value, ",") {
		trimmed := strings.TrimSpace(part)
		if trimmed == "" {
			continue
		}
		*s.target = append(*s.target, trimmed)
	}
	return nil
}
