package report

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"github.com/charmbracelet/lipgloss"
	"github.com/mattn/go-runewidth"
)

func init() {
	Register("console", func(opts Options) (Reporter, error) {
		out := opts.Out
		if out == nil {
			out = os.Stdout
		}
		return NewConsole(out), nil
	})
}

// Console renders the event stream as styled terminal output, one line
// per event, nested by suite and test.
type Console struct {
	out io.Writer
	mu  sync.Mutex

	errorStyle   lipgloss.Style
	warnStyle    lipgloss.Style
	successStyle lipgloss.Style
	infoStyle    lipgloss.Style
	dimStyle     lipgloss.Style
	boldStyle    lipgloss.Style
}

// NewConsole creates a console reporter writing to out.
func NewConsole(out io.Writer) *Console {
	return &Console{
		out: out,

		errorStyle: lipgloss.NewStyle().
			Foreground(lipgloss.AdaptiveColor{Light: "#D00000", Dark: "#FF5555"}).
			Bold(true),

		warnStyle: lipgloss.NewStyle().
			Foreground(lipgloss.AdaptiveColor{Light: "#B8860B", Dark: "#FFAA00"}),

		successStyle: lipgloss.NewStyle().
			Foreground(lipgloss.AdaptiveColor{Light: "#008000", Dark: "#55FF55"}),

		infoStyle: lipgloss.NewStyle().
			Foreground(lipgloss.AdaptiveColor{Light: "#0066CC", Dark: "#5599FF"}),

		dimStyle: lipgloss.NewStyle().
			Foreground(lipgloss.AdaptiveColor{Light: "#666666", Dark: "#888888"}),

		boldStyle: lipgloss.NewStyle().Bold(true),
	}
}

// Report renders one event.
func (c *Console) Report(event Event) {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch event.Type {
	case EventRunnerStarted:
		fmt.Fprintln(c.out, c.boldStyle.Render("Running tests"))
	case EventRunBrowser:
		browser, _ := event.Data["browser"].(string)
		fmt.Fprintln(c.out, c.infoStyle.Render("Browser: "+browser))
	case EventSuiteStarted:
		name, _ := event.Data["name"].(string)
		fmt.Fprintln(c.out)
		fmt.Fprintln(c.out, c.boldStyle.Render("▶ "+name))
	case EventTestStarted:
		name, _ := event.Data["name"].(string)
		fmt.Fprintln(c.out, c.dimStyle.Render("  ▸ "+name))
	case EventAssertion:
		c.assertion(event)
	case EventTestFinished:
		c.testFinished(event)
	case EventSuiteFinished:
		c.suiteFinished(event)
	case EventWarning:
		msg, _ := event.Data["message"].(string)
		fmt.Fprintln(c.out, c.warnStyle.Render("  warning: "+msg))
	case EventError:
		msg, _ := event.Data["message"].(string)
		fmt.Fprintln(c.out, c.errorStyle.Render("  error: "+msg))
	case EventLog:
		msg, _ := event.Data["message"].(string)
		fmt.Fprintln(c.out, c.dimStyle.Render("    "+msg))
	case EventRunnerFinished:
		c.runnerFinished(event)
	}
}

// Close flushes nothing; console output is unbuffered.
func (c *Console) Close() error { return nil }

func (c *Console) assertion(event Event) {
	success, _ := event.Data["success"].(bool)
	label := assertionLabel(event.Data)

	if success {
		fmt.Fprintln(c.out, "    "+c.successStyle.Render("✓ ")+c.dimStyle.Render(label))
		return
	}

	fmt.Fprintln(c.out, "    "+c.errorStyle.Render("✗ "+label))
	if expected, ok := event.Data["expected"]; ok {
		fmt.Fprintln(c.out, c.dimStyle.Render(fmt.Sprintf("      expected: %v", expected)))
		fmt.Fprintln(c.out, c.dimStyle.Render(fmt.Sprintf("      actual:   %v", event.Data["actual"])))
	}
	if diff, ok := event.Data["diff"].(string); ok && diff != "" {
		for _, line := range strings.Split(strings.TrimRight(diff, "\n"), "\n") {
			fmt.Fprintln(c.out, c.dimStyle.Render("      "+line))
		}
	}
}

func (c *Console) testFinished(event Event) {
	name, _ := event.Data["name"].(string)
	status, _ := event.Data["status"].(bool)
	run := toInt(event.Data["run"])
	failed := toInt(event.Data["failed"])
	forced, _ := event.Data["forced"].(bool)

	detail := fmt.Sprintf("%d assertions", run)
	if failed > 0 {
		detail = fmt.Sprintf("%d of %d assertions failed", failed, run)
	}
	if forced {
		detail += ", forced"
	}

	line := fmt.Sprintf("  %s %s", padName(name, 40), c.dimStyle.Render("("+detail+")"))
	if status {
		fmt.Fprintln(c.out, c.successStyle.Render("✓")+line)
	} else {
		fmt.Fprintln(c.out, c.errorStyle.Render("✗")+line)
	}
}

func (c *Console) suiteFinished(event Event) {
	status, _ := event.Data["status"].(bool)
	passed := toInt(event.Data["passed"])
	failed := toInt(event.Data["failed"])
	assertions := toInt(event.Data["assertions"])

	summary := fmt.Sprintf("%d passed, %d failed, %d assertions", passed, failed, assertions)
	if status {
		fmt.Fprintln(c.out, c.successStyle.Render("  ✔ "+summary))
	} else {
		fmt.Fprintln(c.out, c.errorStyle.Render("  ✘ "+summary))
	}
	fmt.Fprintln(c.out, c.dimStyle.Render(strings.Repeat("─", 60)))
}

func (c *Console) runnerFinished(event Event) {
	status, _ := event.Data["status"].(bool)
	assertions := toInt(event.Data["assertions"])
	failed := toInt(event.Data["assertions_failed"])
	elapsed, _ := event.Data["elapsed"].(string)

	line := fmt.Sprintf("TOTAL: %d assertions, %d failed", assertions, failed)
	if elapsed != "" {
		line += "  (" + elapsed + ")"
	}
	fmt.Fprintln(c.out)
	if status {
		fmt.Fprintln(c.out, c.successStyle.Render("✔ "+line))
	} else {
		fmt.Fprintln(c.out, c.errorStyle.Render("✘ "+line))
	}
}

// assertionLabel names an assertion from its report data.
func assertionLabel(data map[string]any) string {
	typ, _ := data["type"].(string)
	parts := []string{typ}
	if helper, ok := data["helper"].(string); ok && helper != "" {
		parts = append(parts, helper)
	}
	if selector, ok := data["selector"].(string); ok && selector != "" {
		parts = append(parts, selector)
	}
	return strings.Join(parts, " ")
}

// padName pads a display name to a fixed column width, accounting for
// wide runes, and truncates names that overflow it.
func padName(name string, width int) string {
	w := runewidth.StringWidth(name)
	if w > width {
		return runewidth.Truncate(name, width, "…")
	}
	return name + strings.Repeat(" ", width-w)
}

func toInt(v any) int {
	switch n := v.(type) {
	case int:
		return n
	case int64:
		return int(n)
	case float64:
		return int(n)
	default:
		return 0
	}
}
