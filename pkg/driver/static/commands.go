package static

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"github.com/odvcencio/bowline/pkg/driver"
	"github.com/odvcencio/bowline/pkg/errors"
	"github.com/odvcencio/bowline/pkg/logging"
)

func (d *Driver) register() {
	// navigation and interaction
	d.commands.Register("open", d.cmdOpen)
	d.commands.Register("refresh", d.cmdRefresh)
	d.commands.Register("back", d.cmdBack)
	d.commands.Register("forward", d.cmdForward)
	d.commands.Register("click", d.cmdClick)
	d.commands.Register("type", d.cmdType)
	d.commands.Register("setValue", d.cmdSetValue)
	d.commands.Register("submit", d.cmdSubmit)
	d.commands.Register("screenshot", d.cmdScreenshot)
	d.commands.Register("execute", d.cmdExecute)
	d.commands.Register("setCookie", d.cmdSetCookie)
	d.commands.Register("resize", d.cmdResize)
	d.commands.Register("maximize", d.cmdMaximize)
	d.commands.Register("waitForElement", d.cmdWaitForElement)
	d.commands.Register(driver.MethodComplete, d.cmdComplete)

	// assertion subjects
	d.commands.Register("exists", d.cmdExists)
	d.commands.Register("visible", d.cmdVisible)
	d.commands.Register("text", d.cmdText)
	d.commands.Register("attribute", d.cmdAttribute)
	d.commands.Register("val", d.cmdVal)
	d.commands.Register("title", d.cmdTitle)
	d.commands.Register("url", d.cmdURL)
	d.commands.Register("numberOfElements", d.cmdNumberOfElements)
	d.commands.Register("width", d.cmdWidth)
	d.commands.Register("height", d.cmdHeight)
}

func (d *Driver) cmdOpen(ctx context.Context, args []any, id string) error {
	if err := d.session.navigate(argString(args, 0)); err != nil {
		return err
	}
	d.emit("open", id, d.session.current.String())
	return nil
}

func (d *Driver) cmdRefresh(ctx context.Context, args []any, id string) error {
	if err := d.session.reload(); err != nil {
		return err
	}
	d.emit("refresh", id, true)
	return nil
}

func (d *Driver) cmdBack(ctx context.Context, args []any, id string) error {
	if err := d.session.back(); err != nil {
		return err
	}
	d.emit("back", id, d.session.current.String())
	return nil
}

func (d *Driver) cmdForward(ctx context.Context, args []any, id string) error {
	if err := d.session.forward(); err != nil {
		return err
	}
	d.emit("forward", id, d.session.current.String())
	return nil
}

// cmdClick approximates a click without a script engine: links navigate,
// submit controls submit their form, checkboxes and radios toggle, and
// everything else is a recorded no-op.
func (d *Driver) cmdClick(ctx context.Context, args []any, id string) error {
	selector := argString(args, 0)
	sel, err := d.session.find(selector)
	if err != nil {
		return err
	}
	if sel.Length() == 0 {
		return noMatch(selector)
	}

	el := sel.First()
	switch goquery.NodeName(el) {
	case "a":
		if href, ok := el.Attr("href"); ok {
			if err := d.session.navigate(href); err != nil {
				return err
			}
		}
	case "button":
		if typ := strings.ToLower(el.AttrOr("type", "submit")); typ == "submit" {
			if form := el.Closest("form"); form.Length() > 0 {
				if err := d.session.submitForm(form); err != nil {
					return err
				}
			}
		}
	case "input":
		switch strings.ToLower(el.AttrOr("type", "text")) {
		case "submit", "image":
			if form := el.Closest("form"); form.Length() > 0 {
				if err := d.session.submitForm(form); err != nil {
					return err
				}
			}
		case "checkbox":
			if _, checked := el.Attr("checked"); checked {
				el.RemoveAttr("checked")
			} else {
				el.SetAttr("checked", "checked")
			}
		case "radio":
			if name, ok := el.Attr("name"); ok {
				d.session.doc.Find("input[type=radio][name=" + strconv.Quote(name) + "]").RemoveAttr("checked")
			}
			el.SetAttr("checked", "checked")
		}
	}

	d.emit("click", id, true)
	return nil
}

func (d *Driver) cmdType(ctx context.Context, args []any, id string) error {
	selector, text := argString(args, 0), argString(args, 1)
	el, err := d.firstMatch(selector)
	if err != nil {
		return err
	}

	if goquery.NodeName(el) == "textarea" {
		el.SetText(el.Text() + text)
	} else {
		el.SetAttr("value", el.AttrOr("value", "")+text)
	}
	d.emit("type", id, true)
	return nil
}

func (d *Driver) cmdSetValue(ctx context.Context, args []any, id string) error {
	selector := argString(args, 0)
	value := fmt.Sprintf("%v", argAny(args, 1))
	el, err := d.firstMatch(selector)
	if err != nil {
		return err
	}

	if goquery.NodeName(el) == "textarea" {
		el.SetText(value)
	} else {
		el.SetAttr("value", value)
	}
	d.emit("setValue", id, true)
	return nil
}

func (d *Driver) cmdSubmit(ctx context.Context, args []any, id string) error {
	selector := argString(args, 0)
	el, err := d.firstMatch(selector)
	if err != nil {
		return err
	}

	form := el
	if goquery.NodeName(el) != "form" {
		form = el.Closest("form")
		if form.Length() == 0 {
			return errors.New(errors.ErrCodeDriverCommand, "element is not inside a form").
				WithContext("selector", selector)
		}
	}
	if err := d.session.submitForm(form); err != nil {
		return err
	}
	d.emit("submit", id, true)
	return nil
}

// cmdScreenshot saves the current page source. There is no renderer in a
// static session, so the artifact is HTML rather than pixels.
func (d *Driver) cmdScreenshot(ctx context.Context, args []any, id string) error {
	path := argString(args, 0)
	if d.session.doc == nil {
		return errors.New(errors.ErrCodeDriverCommand, "no page loaded")
	}

	html, err := d.session.doc.Html()
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeDriverCommand, "cannot serialize page")
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return errors.Wrap(err, errors.ErrCodeDriverCommand, "cannot create screenshot directory")
		}
	}
	if err := os.WriteFile(path, []byte(html), 0o644); err != nil {
		return errors.Wrap(err, errors.ErrCodeDriverCommand, "cannot write screenshot")
	}
	d.emit("screenshot", id, path)
	return nil
}

func (d *Driver) cmdExecute(ctx context.Context, args []any, id string) error {
	if d.logger != nil {
		d.logger.Warn(logging.CategoryDriver, "execute_unsupported",
			"static driver has no script engine", nil)
	}
	d.emit("execute", id, false)
	return nil
}

func (d *Driver) cmdSetCookie(ctx context.Context, args []any, id string) error {
	name, value := argString(args, 0), argString(args, 1)
	if d.session.current == nil {
		return errors.New(errors.ErrCodeDriverCommand, "no page loaded")
	}
	d.session.client.Jar.SetCookies(d.session.current, []*http.Cookie{
		{Name: name, Value: value},
	})
	d.emit("setCookie", id, true)
	return nil
}

func (d *Driver) cmdResize(ctx context.Context, args []any, id string) error {
	d.session.viewport = viewport{width: argInt(args, 0), height: argInt(args, 1)}
	d.emit("resize", id, true)
	return nil
}

func (d *Driver) cmdMaximize(ctx context.Context, args []any, id string) error {
	d.session.viewport = viewport{width: 1920, height: 1080}
	d.emit("maximize", id, true)
	return nil
}

// cmdWaitForElement polls for the selector, re-fetching the page between
// attempts since nothing mutates a static document spontaneously.
func (d *Driver) cmdWaitForElement(ctx context.Context, args []any, id string) error {
	selector := argString(args, 0)
	window := time.Duration(argInt(args, 1)) * time.Millisecond
	if window <= 0 {
		window = d.waitTimeout
	}

	deadline := time.Now().Add(window)
	for {
		if sel, err := d.session.find(selector); err == nil && sel.Length() > 0 {
			d.emit("waitForElement", id, true)
			return nil
		}
		if time.Now().After(deadline) {
			d.emit("waitForElement", id, false)
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(pollInterval):
		}
		if d.session.current != nil {
			// ignore transient fetch errors and keep polling
			_ = d.session.reload()
		}
	}
}

func (d *Driver) cmdComplete(ctx context.Context, args []any, id string) error {
	d.emit(driver.KeyRunComplete, id, true)
	return nil
}

func (d *Driver) cmdExists(ctx context.Context, args []any, id string) error {
	sel, err := d.session.find(argString(args, 0))
	if err != nil {
		return err
	}
	d.emit("exists", id, sel.Length() > 0)
	return nil
}

func (d *Driver) cmdVisible(ctx context.Context, args []any, id string) error {
	sel, err := d.session.find(argString(args, 0))
	if err != nil {
		return err
	}
	d.emit("visible", id, sel.Length() > 0 && isVisible(sel.First()))
	return nil
}

func (d *Driver) cmdText(ctx context.Context, args []any, id string) error {
	el, err := d.firstMatch(argString(args, 0))
	if err != nil {
		return err
	}
	d.emit("text", id, strings.TrimSpace(el.Text()))
	return nil
}

func (d *Driver) cmdAttribute(ctx context.Context, args []any, id string) error {
	el, err := d.firstMatch(argString(args, 0))
	if err != nil {
		return err
	}
	name := argString(args, 1)
	if value, ok := el.Attr(name); ok {
		d.emit("attribute", id, value)
	} else {
		d.emit("attribute", id, nil)
	}
	return nil
}

func (d *Driver) cmdVal(ctx context.Context, args []any, id string) error {
	el, err := d.firstMatch(argString(args, 0))
	if err != nil {
		return err
	}

	var value string
	switch goquery.NodeName(el) {
	case "textarea":
		value = el.Text()
	case "select":
		option := el.Find("option[selected]").First()
		if option.Length() == 0 {
			option = el.Find("option").First()
		}
		value = option.AttrOr("value", strings.TrimSpace(option.Text()))
	default:
		value = el.AttrOr("value", "")
	}
	d.emit("val", id, value)
	return nil
}

func (d *Driver) cmdTitle(ctx context.Context, args []any, id string) error {
	if d.session.doc == nil {
		return errors.New(errors.ErrCodeDriverCommand, "no page loaded")
	}
	d.emit("title", id, strings.TrimSpace(d.session.doc.Find("title").First().Text()))
	return nil
}

func (d *Driver) cmdURL(ctx context.Context, args []any, id string) error {
	if d.session.current == nil {
		return errors.New(errors.ErrCodeDriverCommand, "no page loaded")
	}
	d.emit("url", id, d.session.current.String())
	return nil
}

func (d *Driver) cmdNumberOfElements(ctx context.Context, args []any, id string) error {
	sel, err := d.session.find(argString(args, 0))
	if err != nil {
		return err
	}
	d.emit("numberOfElements", id, sel.Length())
	return nil
}

func (d *Driver) cmdWidth(ctx context.Context, args []any, id string) error {
	el, err := d.firstMatch(argString(args, 0))
	if err != nil {
		return err
	}
	d.emit("width", id, dimension(el, "width"))
	return nil
}

func (d *Driver) cmdHeight(ctx context.Context, args []any, id string) error {
	el, err := d.firstMatch(argString(args, 0))
	if err != nil {
		return err
	}
	d.emit("height", id, dimension(el, "height"))
	return nil
}

func (d *Driver) firstMatch(selector string) (*goquery.Selection, error) {
	sel, err := d.session.find(selector)
	if err != nil {
		return nil, err
	}
	if sel.Length() == 0 {
		return nil, noMatch(selector)
	}
	return sel.First(), nil
}

func noMatch(selector string) error {
	return errors.New(errors.ErrCodeDriverCommand, "no element matches selector").
		WithContext("selector", selector)
}

// isVisible approximates visibility from markup alone: no layout engine
// exists here, so only explicit hiding is detectable.
func isVisible(el *goquery.Selection) bool {
	if _, hidden := el.Attr("hidden"); hidden {
		return false
	}
	if strings.ToLower(el.AttrOr("type", "")) == "hidden" {
		return false
	}
	style := strings.ToLower(strings.ReplaceAll(el.AttrOr("style", ""), " ", ""))
	if strings.Contains(style, "display:none") || strings.Contains(style, "visibility:hidden") {
		return false
	}
	return true
}

// dimension reads an element's size from its width/height attribute or
// inline style, the only sources a static session has.
func dimension(el *goquery.Selection, name string) float64 {
	if raw, ok := el.Attr(name); ok {
		if v, err := strconv.ParseFloat(strings.TrimSuffix(strings.TrimSpace(raw), "px"), 64); err == nil {
			return v
		}
	}
	for _, decl := range strings.Split(el.AttrOr("style", ""), ";") {
		parts := strings.SplitN(decl, ":", 2)
		if len(parts) != 2 || strings.TrimSpace(strings.ToLower(parts[0])) != name {
			continue
		}
		raw := strings.TrimSuffix(strings.TrimSpace(parts[1]), "px")
		if v, err := strconv.ParseFloat(raw, 64); err == nil {
			return v
		}
	}
	return 0
}

func argString(args []any, i int) string {
	if i >= len(args) {
		return ""
	}
	if s, ok := args[i].(string); ok {
		return s
	}
	return fmt.Sprintf("%v", args[i])
}

func argAny(args []any, i int) any {
	if i >= len(args) {
		return nil
	}
	return args[i]
}

func argInt(args []any, i int) int {
	if i >= len(args) {
		return 0
	}
	switch v := args[i].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	case string:
		n, _ := strconv.Atoi(v)
		return n
	default:
		return 0
	}
}
