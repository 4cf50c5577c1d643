package unit

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/pmezard/go-difflib/difflib"

	"github.com/odvcencio/bowline/pkg/chain"
	"github.com/odvcencio/bowline/pkg/driver"
)

// Assert is the assertion scope of a test chain. Every method enqueues a
// driver lookup exactly like an action and returns an Expect token whose
// helpers refine the same result retroactively.
type Assert struct {
	test         *Test
	chainEnabled bool
}

// Chain switches End() to close the assertion group instead of popping a
// Query scope, so grouped assertions read as one block.
func (a *Assert) Chain() *Assert {
	a.chainEnabled = true
	return a
}

// enqueue registers the base waiter at issuance and dispatches the
// lookup. compare is nil for helper-only assertions; then the base waiter
// just caches the delivered value for the token.
func (a *Assert) enqueue(subject, selector string, args []any, compare func(actual any) (bool, map[string]any)) *Expect {
	t := a.test
	id := chain.NewID()
	e := &Expect{
		Test:    t,
		assert:  a,
		hash:    id,
		subject: subject,
	}

	t.queue.Push("assert:"+subject, func(ctx context.Context, settle func(error)) {
		t.exchange.Register(id, func(msg driver.Message) {
			e.deliver(msg.Value)
			if compare == nil {
				return
			}
			t.mu.Lock()
			if _, dup := t.seenAsserts[msg.Hash]; dup {
				t.mu.Unlock()
				return
			}
			t.seenAsserts[msg.Hash] = struct{}{}
			t.mu.Unlock()

			ok, data := compare(msg.Value)
			data["type"] = subject
			if selector != "" {
				data["selector"] = selector
			}
			t.recordAssertion(data, ok)
		})
		settle(t.drv.Dispatch(ctx, driver.Command{Method: subject, Args: args, ID: id}))
	})
	return e
}

// comparison builds the base compare func for an optional inline expected
// value. Without one, the assertion only reports through its helpers.
func comparison(expected []any) func(actual any) (bool, map[string]any) {
	if len(expected) == 0 {
		return nil
	}
	want := expected[0]
	return func(actual any) (bool, map[string]any) {
		ok := looseEqual(actual, want)
		data := map[string]any{
			"expected": want,
			"actual":   actual,
		}
		if !ok {
			data["diff"] = buildDiff(want, actual)
		}
		return ok, data
	}
}

// truthyComparison accepts true/"true" (negated for absence checks) and
// fails on any other value.
func truthyComparison(negate bool) func(actual any) (bool, map[string]any) {
	return func(actual any) (bool, map[string]any) {
		flag, recognized := toBool(actual)
		ok := recognized && flag != negate
		return ok, map[string]any{
			"expected": !negate,
			"actual":   actual,
		}
	}
}

// Exists asserts that at least one element matches the selector.
func (a *Assert) Exists(selector string) *Expect {
	sel := a.test.scopedSelector(selector)
	return a.enqueue("exists", sel, []any{sel}, truthyComparison(false))
}

// DoesntExist asserts that no element matches the selector.
func (a *Assert) DoesntExist(selector string) *Expect {
	sel := a.test.scopedSelector(selector)
	return a.enqueue("exists", sel, []any{sel}, truthyComparison(true))
}

// Visible asserts that the matched element is visible.
func (a *Assert) Visible(selector string) *Expect {
	sel := a.test.scopedSelector(selector)
	return a.enqueue("visible", sel, []any{sel}, truthyComparison(false))
}

// NotVisible asserts that the matched element is not visible.
func (a *Assert) NotVisible(selector string) *Expect {
	sel := a.test.scopedSelector(selector)
	return a.enqueue("visible", sel, []any{sel}, truthyComparison(true))
}

// Text asserts on the text content of the matched element. With an
// expected value the comparison happens inline; without one, chain a
// helper on the returned token.
func (a *Assert) Text(selector string, expected ...any) *Expect {
	sel := a.test.scopedSelector(selector)
	return a.enqueue("text", sel, []any{sel}, comparison(expected))
}

// Attr asserts on an attribute of the matched element.
func (a *Assert) Attr(selector, attribute string, expected ...any) *Expect {
	sel := a.test.scopedSelector(selector)
	return a.enqueue("attribute", sel, []any{sel, attribute}, comparison(expected))
}

// Val asserts on the value of the matched form element.
func (a *Assert) Val(selector string, expected ...any) *Expect {
	sel := a.test.scopedSelector(selector)
	return a.enqueue("val", sel, []any{sel}, comparison(expected))
}

// Title asserts on the page title.
func (a *Assert) Title(expected ...any) *Expect {
	return a.enqueue("title", "", nil, comparison(expected))
}

// URL asserts on the current page URL.
func (a *Assert) URL(expected ...any) *Expect {
	return a.enqueue("url", "", nil, comparison(expected))
}

// NumberOfElements asserts on how many elements match the selector.
func (a *Assert) NumberOfElements(selector string, expected ...any) *Expect {
	sel := a.test.scopedSelector(selector)
	return a.enqueue("numberOfElements", sel, []any{sel}, comparison(expected))
}

// Width asserts on the element's width in pixels. Numeric helpers on the
// token parse CSS pixel strings.
func (a *Assert) Width(selector string, expected ...any) *Expect {
	sel := a.test.scopedSelector(selector)
	e := a.enqueue("width", sel, []any{sel}, comparison(expected))
	e.parseFloat = true
	return e
}

// Height asserts on the element's height in pixels.
func (a *Assert) Height(selector string, expected ...any) *Expect {
	sel := a.test.scopedSelector(selector)
	e := a.enqueue("height", sel, []any{sel}, comparison(expected))
	e.parseFloat = true
	return e
}

// looseEqual compares with driver-friendly coercion: "4" equals 4,
// "true" equals true, and everything else falls back to string equality.
func looseEqual(a, b any) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	if af, aok := toFloat(a); aok {
		if bf, bok := toFloat(b); bok {
			return af == bf
		}
	}
	if ab, aok := toBool(a); aok {
		if bb, bok := toBool(b); bok {
			return ab == bb
		}
	}
	return fmt.Sprintf("%v", a) == fmt.Sprintf("%v", b)
}

// toFloat widens any numeric value or numeric string to float64.
func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int8:
		return float64(n), true
	case int16:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint:
		return float64(n), true
	case uint8:
		return float64(n), true
	case uint16:
		return float64(n), true
	case uint32:
		return float64(n), true
	case uint64:
		return float64(n), true
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(n), 64)
		if err != nil {
			return 0, false
		}
		return f, true
	default:
		return 0, false
	}
}

// leadingFloat parses the numeric prefix of a CSS dimension ("42px" → 42).
func leadingFloat(v any) (float64, bool) {
	if f, ok := toFloat(v); ok {
		return f, true
	}
	s := strings.TrimSpace(fmt.Sprintf("%v", v))
	end := 0
	for end < len(s) {
		c := s[end]
		if (c >= '0' && c <= '9') || c == '.' || (end == 0 && (c == '-' || c == '+')) {
			end++
			continue
		}
		break
	}
	if end == 0 {
		return 0, false
	}
	f, err := strconv.ParseFloat(s[:end], 64)
	if err != nil {
		return 0, false
	}
	return f, true
}

// toBool recognizes booleans and their string forms.
func toBool(v any) (bool, bool) {
	switch b := v.(type) {
	case bool:
		return b, true
	case string:
		switch strings.TrimSpace(b) {
		case "true":
			return true, true
		case "false":
			return false, true
		}
	}
	return false, false
}

// buildDiff renders a unified diff of expected vs actual for failure
// reports. Single-line values still diff usefully.
func buildDiff(expected, actual any) string {
	diff, err := difflib.GetUnifiedDiffString(difflib.UnifiedDiff{
		A:        difflib.SplitLines(fmt.Sprintf("%v", expected)),
		B:        difflib.SplitLines(fmt.Sprintf("%v", actual)),
		FromFile: "expected",
		ToFile:   "actual",
		Context:  2,
	})
	if err != nil {
		return ""
	}
	return diff
}
