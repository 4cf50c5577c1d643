package main

import (
	"errors"
	"fmt"
	"os"
	"runtime"
	"strings"
)

// Version information - set via ldflags during build
var (
	version   = "1.0.0-dev"
	commit    = "unknown"
	buildDate = "unknown"
)

var quietMode bool
var noColor bool
var configPath string

type startupOptions struct {
	args       []string
	quiet      bool
	noColor    bool
	configPath string
}

func main() {
	opts, err := parseStartupOptions(os.Args[1:])
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	quietMode = opts.quiet
	noColor = opts.noColor
	configPath = opts.configPath

	if handled, exitCode := dispatchSubcommand(opts.args); handled {
		os.Exit(exitCode)
	}

	// Bare file arguments run directly: `bowline tests/login.yml` is
	// shorthand for `bowline run tests/login.yml`.
	os.Exit(runCommand(runRunCommand, opts.args))
}

func dispatchSubcommand(args []string) (bool, int) {
	if len(args) == 0 {
		return false, 0
	}
	switch args[0] {
	case "--version", "-v", "version":
		printVersion()
		return true, 0
	case "--help", "-h", "help":
		printHelp()
		return true, 0
	case "run":
		return true, runCommand(runRunCommand, args[1:])
	case "tunnel":
		return true, runCommand(runTunnelCommand, args[1:])
	case "history":
		return true, runCommand(runHistoryCommand, args[1:])
	default:
		if strings.HasPrefix(args[0], "-") {
			fmt.Fprintf(os.Stderr, "Error: unknown flag: %s\n", args[0])
			fmt.Fprintln(os.Stderr, "Run 'bowline --help' for usage.")
			return true, 1
		}
		return false, 0
	}
}

func runCommand(handler func([]string) error, args []string) int {
	if err := handler(args); err != nil {
		if msg := err.Error(); msg != "" {
			fmt.Fprintf(os.Stderr, "Error: %v\n", msg)
		}
		return exitCodeForError(err)
	}
	return 0
}

func parseStartupOptions(raw []string) (*startupOptions, error) {
	opts := &startupOptions{}
	if val, ok := parseBoolEnv("BOWLINE_QUIET"); ok {
		opts.quiet = val
	}
	if val, ok := parseBoolEnv("NO_COLOR"); ok {
		opts.noColor = val
	}

	filtered := make([]string, 0, len(raw))
	var nextConfig bool

	for _, arg := range raw {
		if nextConfig {
			opts.configPath = arg
			nextConfig = false
			continue
		}

		switch arg {
		case "--quiet", "-q":
			opts.quiet = true
		case "--no-color":
			opts.noColor = true
		case "--config", "-c":
			nextConfig = true
		default:
			if strings.HasPrefix(arg, "--config=") {
				opts.configPath = strings.TrimPrefix(arg, "--config=")
			} else {
				filtered = append(filtered, arg)
			}
		}
	}

	if nextConfig {
		return nil, fmt.Errorf("--config requires a path argument")
	}

	opts.args = filtered
	return opts, nil
}

func parseBoolEnv(key string) (bool, bool) {
	val := strings.TrimSpace(strings.ToLower(os.Getenv(key)))
	if val == "" {
		return false, false
	}
	switch val {
	case "1", "true", "yes", "on":
		return true, true
	case "0", "false", "no", "off":
		return false, true
	default:
		return false, false
	}
}

func printVersion() {
	fmt.Printf("Bowline %s\n", version)
	if commit != "unknown" {
		fmt.Printf("  Commit:     %s\n", commit)
	}
	if buildDate != "unknown" {
		fmt.Printf("  Built:      %s\n", buildDate)
	}
	fmt.Printf("  Go version: %s\n", runtime.Version())
}

func printHelp() {
	fmt.Println("Bowline - Browser Test Runner")
	fmt.Println()
	fmt.Println("USAGE:")
	fmt.Println("  bowline [FLAGS] [COMMAND]")
	fmt.Println()
	fmt.Println("COMMANDS:")
	fmt.Println("  run [files...]                   Run test suites (default command)")
	fmt.Println("  tunnel [--port N] [--secret S]   Serve browsers to remote runners")
	fmt.Println("  history [--limit N]              List recent runs")
	fmt.Println("  version                          Print version information")
	fmt.Println()
	fmt.Println("RUN FLAGS:")
	fmt.Println("  --driver NAME                    Driver to session against (default from config)")
	fmt.Println("  --browser NAME                   Browser session label (repeatable)")
	fmt.Println("  --reporter NAME                  Reporter to attach (repeatable)")
	fmt.Println("  --output DIR                     Directory for report artifacts")
	fmt.Println("  --watch                          Re-run when test files change")
	fmt.Println("  --trace                          Emit OpenTelemetry spans")
	fmt.Println("  --history                        Record the run in the history database")
	fmt.Println("  --remote HOST:PORT               Launch the browser through a tunnel")
	fmt.Println("  --remote-secret SECRET           Tunnel shared secret (default: BOWLINE_TUNNEL_SECRET)")
	fmt.Println()
	fmt.Println("GLOBAL FLAGS:")
	fmt.Println("  --config PATH, -c PATH           Config file (default: bowline.yml)")
	fmt.Println("  --quiet, -q                      Suppress progress output")
	fmt.Println("  --no-color                       Disable colored output")
	fmt.Println()
	fmt.Println("EXAMPLES:")
	fmt.Println("  bowline tests/login.yml          Run one suite with the static driver")
	fmt.Println("  bowline run --watch tests/       Re-run the directory on change")
	fmt.Println("  bowline tunnel --secret s3cret   Offer local browsers to a remote runner")
	fmt.Println("  bowline run --remote host:9020 --remote-secret s3cret tests/")
}

type exitCoder interface {
	ExitCode() int
}

// exitError carries a process exit code. A nil inner error prints
// nothing, so a run that already reported its summary exits quietly.
type exitError struct {
	code int
	err  error
}

func (e exitError) Error() string {
	if e.err == nil {
		return ""
	}
	return e.err.Error()
}

func (e exitError) Unwrap() error {
	return e.err
}

func (e exitError) ExitCode() int {
	if e.code == 0 {
		return 1
	}
	return e.code
}

func withExitCode(err error, code int) error {
	if err == nil {
		return nil
	}
	return exitError{code: code, err: err}
}

// silentExit returns an error that sets the exit code without printing.
func silentExit(code int) error {
	if code == 0 {
		return nil
	}
	return exitError{code: code}
}

func exitCodeForError(err error) int {
	if err == nil {
		return 0
	}
	var coded exitCoder
	if errors.As(err, &coded) {
		return coded.ExitCode()
	}
	return 1
}
