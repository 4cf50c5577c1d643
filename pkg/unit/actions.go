package unit

import (
	"context"
	"time"

	"github.com/odvcencio/bowline/pkg/chain"
	"github.com/odvcencio/bowline/pkg/driver"
	"github.com/odvcencio/bowline/pkg/report"
)

// action enqueues one fire-and-forget driver command. The waiter is
// registered at issuance, immediately before dispatch, and reports the
// action once its result message lands; duplicate deliveries are ignored.
func (t *Test) action(method string, args ...any) *Test {
	id := chain.NewID()
	t.queue.Push("action:"+method, func(ctx context.Context, settle func(error)) {
		t.exchange.Register(id, func(msg driver.Message) {
			t.actionCompleted(method, args, msg)
		})
		settle(t.drv.Dispatch(ctx, driver.Command{Method: method, Args: args, ID: id}))
	})
	return t
}

func (t *Test) actionCompleted(method string, args []any, msg driver.Message) {
	t.mu.Lock()
	if _, dup := t.seenActions[msg.Hash]; dup {
		t.mu.Unlock()
		return
	}
	t.seenActions[msg.Hash] = struct{}{}
	t.mu.Unlock()

	t.publish(report.EventAction, map[string]any{
		"type":  method,
		"args":  args,
		"value": msg.Value,
	})
}

// Open navigates the session to a URL.
func (t *Test) Open(url string) *Test {
	return t.action("open", url)
}

// Reload reloads the current page.
func (t *Test) Reload() *Test {
	return t.action("refresh")
}

// Back navigates one step back in the session history.
func (t *Test) Back() *Test {
	return t.action("back")
}

// Forward navigates one step forward in the session history.
func (t *Test) Forward() *Test {
	return t.action("forward")
}

// Click clicks the first element matching the selector.
func (t *Test) Click(selector string) *Test {
	return t.action("click", t.scopedSelector(selector))
}

// Type sends keystrokes to the element matching the selector.
func (t *Test) Type(selector, text string) *Test {
	return t.action("type", t.scopedSelector(selector), text)
}

// SetValue replaces the value of the element matching the selector.
func (t *Test) SetValue(selector string, value any) *Test {
	return t.action("setValue", t.scopedSelector(selector), value)
}

// Submit submits the form matching the selector.
func (t *Test) Submit(selector string) *Test {
	return t.action("submit", t.scopedSelector(selector))
}

// Screenshot captures the current page to the given path.
func (t *Test) Screenshot(path string) *Test {
	return t.action("screenshot", path)
}

// Execute runs a script inside the browser with the test's context
// variables available to it.
func (t *Test) Execute(script string, args ...any) *Test {
	t.mu.Lock()
	vars := make(map[string]any, len(t.contextVars))
	for k, v := range t.contextVars {
		vars[k] = v
	}
	t.mu.Unlock()
	all := append([]any{script, vars}, args...)
	return t.action("execute", all...)
}

// SetCookie sets a cookie on the active session.
func (t *Test) SetCookie(name, value string) *Test {
	return t.action("setCookie", name, value)
}

// Resize sets the browser window dimensions.
func (t *Test) Resize(width, height int) *Test {
	return t.action("resize", width, height)
}

// Maximize maximizes the browser window.
func (t *Test) Maximize() *Test {
	return t.action("maximize")
}

// WaitForElement blocks the session until the selector matches, up to the
// given timeout (the constructor default when omitted).
func (t *Test) WaitForElement(selector string, timeout ...time.Duration) *Test {
	window := t.waitTimeout
	if len(timeout) > 0 && timeout[0] > 0 {
		window = timeout[0]
	}
	return t.action("waitForElement", t.scopedSelector(selector), window.Milliseconds())
}

// Wait pauses the chain for the given duration. This is the one entry
// that blocks client-side instead of dispatching a command.
func (t *Test) Wait(d time.Duration) *Test {
	t.queue.Push("action:wait", func(ctx context.Context, settle func(error)) {
		timer := time.NewTimer(d)
		go func() {
			defer timer.Stop()
			select {
			case <-timer.C:
				t.publish(report.EventAction, map[string]any{
					"type":  "wait",
					"args":  []any{d.String()},
					"value": true,
				})
				settle(nil)
			case <-ctx.Done():
				settle(ctx.Err())
			}
		}()
	})
	return t
}

// Query narrows every subsequent selector to descendants of this one.
// Scoping applies at declaration time and enqueues nothing.
func (t *Test) Query(selector string) *Test {
	t.mu.Lock()
	t.queryScope = append(t.queryScope, selector)
	t.mu.Unlock()
	return t
}

// End pops the innermost Query scope.
func (t *Test) End() *Test {
	t.mu.Lock()
	if n := len(t.queryScope); n > 0 {
		t.queryScope = t.queryScope[:n-1]
	}
	t.mu.Unlock()
	return t
}
