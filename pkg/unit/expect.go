package unit

import (
	"fmt"
	"strings"
	"sync"

	"github.com/odvcencio/bowline/pkg/driver"
)

// Expect is the token returned by every assertion call. Helpers refine
// the pending result retroactively: each registers another waiter for the
// same correlation id and compares exactly once, keyed by id plus helper
// name, no matter how often the result is delivered. The embedded Test
// keeps the fluent chain open for further actions.
type Expect struct {
	*Test
	assert     *Assert
	hash       string
	subject    string
	parseFloat bool

	mu        sync.Mutex
	delivered bool
	value     any
}

// deliver caches the first result value for retroactive helpers.
func (e *Expect) deliver(value any) {
	e.mu.Lock()
	if !e.delivered {
		e.delivered = true
		e.value = value
	}
	e.mu.Unlock()
}

func (e *Expect) cached() (any, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.value, e.delivered
}

// refine installs one helper comparison for this token's result.
func (e *Expect) refine(helper string, expected any, cmp func(actual any) bool) *Expect {
	t := e.Test
	key := e.hash + ":" + helper

	apply := func(actual any) {
		t.mu.Lock()
		if _, dup := t.proceeded[key]; dup {
			t.mu.Unlock()
			return
		}
		t.proceeded[key] = struct{}{}
		t.mu.Unlock()

		ok := cmp(actual)
		data := map[string]any{
			"type":     e.subject,
			"helper":   helper,
			"expected": expected,
			"actual":   actual,
		}
		if !ok {
			data["diff"] = buildDiff(expected, actual)
		}
		t.recordAssertion(data, ok)
	}

	t.exchange.Register(e.hash, func(msg driver.Message) {
		apply(msg.Value)
	})
	if v, ok := e.cached(); ok {
		apply(v)
	}
	return e
}

// number parses an operand respecting the token's CSS-pixel mode.
func (e *Expect) number(v any) (float64, bool) {
	if e.parseFloat {
		return leadingFloat(v)
	}
	return toFloat(v)
}

// Is asserts loose equality with the delivered value.
func (e *Expect) Is(expected any) *Expect {
	return e.refine("is", expected, func(actual any) bool {
		return looseEqual(actual, expected)
	})
}

// Not asserts loose inequality with the delivered value.
func (e *Expect) Not(unexpected any) *Expect {
	return e.refine("not", unexpected, func(actual any) bool {
		return !looseEqual(actual, unexpected)
	})
}

// Gt asserts the delivered value is numerically greater.
func (e *Expect) Gt(bound any) *Expect {
	return e.refine("gt", bound, func(actual any) bool {
		a, aok := e.number(actual)
		b, bok := e.number(bound)
		return aok && bok && a > b
	})
}

// Gte asserts the delivered value is numerically greater or equal.
func (e *Expect) Gte(bound any) *Expect {
	return e.refine("gte", bound, func(actual any) bool {
		a, aok := e.number(actual)
		b, bok := e.number(bound)
		return aok && bok && a >= b
	})
}

// Lt asserts the delivered value is numerically smaller.
func (e *Expect) Lt(bound any) *Expect {
	return e.refine("lt", bound, func(actual any) bool {
		a, aok := e.number(actual)
		b, bok := e.number(bound)
		return aok && bok && a < b
	})
}

// Lte asserts the delivered value is numerically smaller or equal.
func (e *Expect) Lte(bound any) *Expect {
	return e.refine("lte", bound, func(actual any) bool {
		a, aok := e.number(actual)
		b, bok := e.number(bound)
		return aok && bok && a <= b
	})
}

// Between asserts the delivered value lies in the inclusive range.
func (e *Expect) Between(low, high any) *Expect {
	bounds := fmt.Sprintf("[%v, %v]", low, high)
	return e.refine("between", bounds, func(actual any) bool {
		a, aok := e.number(actual)
		lo, lok := e.number(low)
		hi, hok := e.number(high)
		return aok && lok && hok && lo <= a && a <= hi
	})
}

// Contain asserts the delivered value contains the substring.
func (e *Expect) Contain(needle any) *Expect {
	return e.refine("contain", needle, func(actual any) bool {
		return contains(actual, needle)
	})
}

// NotContain asserts the delivered value does not contain the substring.
func (e *Expect) NotContain(needle any) *Expect {
	return e.refine("notContain", needle, func(actual any) bool {
		return !contains(actual, needle)
	})
}

// Forwarders keep grouped assertions flowing without re-opening the
// assertion scope.

// Exists continues the group with an existence assertion.
func (e *Expect) Exists(selector string) *Expect { return e.assert.Exists(selector) }

// DoesntExist continues the group with an absence assertion.
func (e *Expect) DoesntExist(selector string) *Expect { return e.assert.DoesntExist(selector) }

// Visible continues the group with a visibility assertion.
func (e *Expect) Visible(selector string) *Expect { return e.assert.Visible(selector) }

// NotVisible continues the group with an invisibility assertion.
func (e *Expect) NotVisible(selector string) *Expect { return e.assert.NotVisible(selector) }

// Text continues the group with a text assertion.
func (e *Expect) Text(selector string, expected ...any) *Expect {
	return e.assert.Text(selector, expected...)
}

// Attr continues the group with an attribute assertion.
func (e *Expect) Attr(selector, attribute string, expected ...any) *Expect {
	return e.assert.Attr(selector, attribute, expected...)
}

// Val continues the group with a form-value assertion.
func (e *Expect) Val(selector string, expected ...any) *Expect {
	return e.assert.Val(selector, expected...)
}

// Title continues the group with a title assertion.
func (e *Expect) Title(expected ...any) *Expect { return e.assert.Title(expected...) }

// URL continues the group with a URL assertion.
func (e *Expect) URL(expected ...any) *Expect { return e.assert.URL(expected...) }

// NumberOfElements continues the group with a match-count assertion.
func (e *Expect) NumberOfElements(selector string, expected ...any) *Expect {
	return e.assert.NumberOfElements(selector, expected...)
}

// Width continues the group with a width assertion.
func (e *Expect) Width(selector string, expected ...any) *Expect {
	return e.assert.Width(selector, expected...)
}

// Height continues the group with a height assertion.
func (e *Expect) Height(selector string, expected ...any) *Expect {
	return e.assert.Height(selector, expected...)
}

// End closes a Chain()ed assertion group, or pops a Query scope when no
// group is open.
func (e *Expect) End() *Test {
	if e.assert.chainEnabled {
		e.assert.chainEnabled = false
		return e.Test
	}
	return e.Test.End()
}

func contains(haystack, needle any) bool {
	h := fmt.Sprintf("%v", haystack)
	n := fmt.Sprintf("%v", needle)
	return strings.Contains(h, n)
}
