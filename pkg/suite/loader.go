package suite

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/odvcencio/bowline/pkg/unit"
)

// scriptFile is the on-disk YAML form of a suite.
type scriptFile struct {
	Name        string         `yaml:"name"`
	Timeout     int            `yaml:"timeout"`      // done watchdog, ms
	WaitTimeout int            `yaml:"wait_timeout"` // element wait, ms
	Vars        map[string]any `yaml:"vars"`
	Tests       []scriptTest   `yaml:"tests"`
}

type scriptTest struct {
	Name   string       `yaml:"name"`
	Expect *int         `yaml:"expect"`
	Steps  []scriptStep `yaml:"steps"`
}

// scriptStep is one chain link. Exactly one of Action or Assert names the
// step; the remaining fields parameterize it. Helper fields refine the
// pending assertion.
type scriptStep struct {
	Action string `yaml:"action"`
	Assert string `yaml:"assert"`

	URL       string `yaml:"url"`
	Selector  string `yaml:"selector"`
	Attribute string `yaml:"attribute"`
	Text      string `yaml:"text"`
	Value     any    `yaml:"value"`
	Path      string `yaml:"path"`
	Script    string `yaml:"script"`
	Name      string `yaml:"name"`
	Width     int    `yaml:"width"`
	Height    int    `yaml:"height"`
	Ms        int    `yaml:"ms"`
	Timeout   int    `yaml:"timeout"`

	Expected   any   `yaml:"expected"`
	Is         any   `yaml:"is"`
	Not        any   `yaml:"not"`
	Gt         any   `yaml:"gt"`
	Gte        any   `yaml:"gte"`
	Lt         any   `yaml:"lt"`
	Lte        any   `yaml:"lte"`
	Between    []any `yaml:"between"`
	Contain    any   `yaml:"contain"`
	NotContain any   `yaml:"not_contain"`
}

// Load reads a YAML suite script. It never fails hard: any read, parse,
// or validation error is recorded on the returned suite, which then
// reports started/warning/finished with zero tests run.
func Load(path string, opts Options) *Suite {
	name := filepath.Base(path)

	data, err := os.ReadFile(path)
	if err != nil {
		return &Suite{name: name, opts: opts, loadErr: fmt.Sprintf("cannot load test file %s: %v", path, err)}
	}

	var script scriptFile
	if err := yaml.Unmarshal(data, &script); err != nil {
		return &Suite{name: name, opts: opts, loadErr: fmt.Sprintf("cannot parse test file %s: %v", path, err)}
	}

	if script.Name != "" {
		name = script.Name
	}
	if script.Timeout > 0 && opts.DoneTimeout == 0 {
		opts.DoneTimeout = time.Duration(script.Timeout) * time.Millisecond
	}
	if script.WaitTimeout > 0 && opts.WaitTimeout == 0 {
		opts.WaitTimeout = time.Duration(script.WaitTimeout) * time.Millisecond
	}
	if len(script.Vars) > 0 && opts.ContextVars == nil {
		opts.ContextVars = script.Vars
	}

	tests := make([]NamedTest, 0, len(script.Tests))
	for i, st := range script.Tests {
		if st.Name == "" {
			return &Suite{name: name, opts: opts, loadErr: fmt.Sprintf("test %d in %s has no name", i, path)}
		}
		fn, err := compileTest(st)
		if err != nil {
			return &Suite{name: name, opts: opts, loadErr: fmt.Sprintf("cannot compile test %q in %s: %v", st.Name, path, err)}
		}
		tests = append(tests, NamedTest{Name: st.Name, Fn: fn})
	}

	return &Suite{name: name, tests: tests, opts: opts}
}

// compileTest validates a scripted test eagerly and returns its chain
// declaration. Validation at load time keeps bad scripts on the
// degraded-warning path instead of failing mid-run.
func compileTest(st scriptTest) (TestFunc, error) {
	for i, step := range st.Steps {
		if err := validateStep(step); err != nil {
			return nil, fmt.Errorf("step %d: %w", i+1, err)
		}
	}

	steps := st.Steps
	expect := st.Expect
	return func(t *unit.Test) {
		if expect != nil {
			t.Expect(*expect)
		}
		for _, step := range steps {
			applyStep(t, step)
		}
		t.Done()
	}, nil
}

func validateStep(step scriptStep) error {
	switch {
	case step.Action != "" && step.Assert != "":
		return fmt.Errorf("step declares both action %q and assert %q", step.Action, step.Assert)
	case step.Action != "":
		switch step.Action {
		case "open", "click", "type", "set_value", "submit", "wait", "wait_for_element",
			"screenshot", "execute", "reload", "back", "forward", "set_cookie",
			"resize", "maximize", "query", "end":
			return nil
		}
		return fmt.Errorf("unknown action %q", step.Action)
	case step.Assert != "":
		switch step.Assert {
		case "exists", "doesnt_exist", "visible", "not_visible", "text", "attr",
			"val", "title", "url", "number_of_elements", "width", "height":
			return nil
		}
		return fmt.Errorf("unknown assertion %q", step.Assert)
	default:
		return fmt.Errorf("step declares neither action nor assert")
	}
}

func applyStep(t *unit.Test, step scriptStep) {
	if step.Action != "" {
		applyAction(t, step)
		return
	}
	applyAssert(t, step)
}

func applyAction(t *unit.Test, step scriptStep) {
	switch step.Action {
	case "open":
		t.Open(step.URL)
	case "click":
		t.Click(step.Selector)
	case "type":
		t.Type(step.Selector, step.Text)
	case "set_value":
		t.SetValue(step.Selector, step.Value)
	case "submit":
		t.Submit(step.Selector)
	case "wait":
		t.Wait(time.Duration(step.Ms) * time.Millisecond)
	case "wait_for_element":
		if step.Timeout > 0 {
			t.WaitForElement(step.Selector, time.Duration(step.Timeout)*time.Millisecond)
		} else {
			t.WaitForElement(step.Selector)
		}
	case "screenshot":
		t.Screenshot(step.Path)
	case "execute":
		t.Execute(step.Script)
	case "reload":
		t.Reload()
	case "back":
		t.Back()
	case "forward":
		t.Forward()
	case "set_cookie":
		t.SetCookie(step.Name, fmt.Sprintf("%v", step.Value))
	case "resize":
		t.Resize(step.Width, step.Height)
	case "maximize":
		t.Maximize()
	case "query":
		t.Query(step.Selector)
	case "end":
		t.End()
	}
}

func applyAssert(t *unit.Test, step scriptStep) {
	var inline []any
	if step.Expected != nil {
		inline = []any{step.Expected}
	}

	a := t.Assert()
	var e *unit.Expect
	switch step.Assert {
	case "exists":
		e = a.Exists(step.Selector)
	case "doesnt_exist":
		e = a.DoesntExist(step.Selector)
	case "visible":
		e = a.Visible(step.Selector)
	case "not_visible":
		e = a.NotVisible(step.Selector)
	case "text":
		e = a.Text(step.Selector, inline...)
	case "attr":
		e = a.Attr(step.Selector, step.Attribute, inline...)
	case "val":
		e = a.Val(step.Selector, inline...)
	case "title":
		e = a.Title(inline...)
	case "url":
		e = a.URL(inline...)
	case "number_of_elements":
		e = a.NumberOfElements(step.Selector, inline...)
	case "width":
		e = a.Width(step.Selector, inline...)
	case "height":
		e = a.Height(step.Selector, inline...)
	default:
		return
	}

	if step.Is != nil {
		e = e.Is(step.Is)
	}
	if step.Not != nil {
		e = e.Not(step.Not)
	}
	if step.Gt != nil {
		e = e.Gt(step.Gt)
	}
	if step.Gte != nil {
		e = e.Gte(step.Gte)
	}
	if step.Lt != nil {
		e = e.Lt(step.Lt)
	}
	if step.Lte != nil {
		e = e.Lte(step.Lte)
	}
	if len(step.Between) == 2 {
		e = e.Between(step.Between[0], step.Between[1])
	}
	if step.Contain != nil {
		e = e.Contain(step.Contain)
	}
	if step.NotContain != nil {
		e = e.NotContain(step.NotContain)
	}
	_ = e
}
