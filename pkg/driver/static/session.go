package static

import (
	"net/http"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/odvcencio/bowline/pkg/errors"
)

const userAgent = "Bowline/1.0 (+https://github.com/odvcencio/bowline)"

type viewport struct {
	width  int
	height int
}

// session holds the navigation state of one static browsing session:
// the parsed current document, its URL, and the back/forward stacks.
// Access is confined to the driver's worker goroutine.
type session struct {
	client   *http.Client
	doc      *goquery.Document
	current  *url.URL
	history  []string
	future   []string
	viewport viewport
}

// navigate fetches a page and makes it the current document. Relative
// URLs resolve against the current page.
func (s *session) navigate(rawURL string) error {
	target, err := s.resolve(rawURL)
	if err != nil {
		return err
	}
	prev := s.current
	if err := s.fetch(http.MethodGet, target, "", nil); err != nil {
		return err
	}
	if prev != nil {
		s.history = append(s.history, prev.String())
	}
	s.future = nil
	return nil
}

// reload re-fetches the current page without touching history.
func (s *session) reload() error {
	if s.current == nil {
		return errors.New(errors.ErrCodeDriverCommand, "no page loaded")
	}
	return s.fetch(http.MethodGet, s.current, "", nil)
}

func (s *session) back() error {
	if len(s.history) == 0 {
		return errors.New(errors.ErrCodeDriverCommand, "history is empty")
	}
	last := s.history[len(s.history)-1]
	s.history = s.history[:len(s.history)-1]

	target, err := url.Parse(last)
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeDriverCommand, "invalid history entry")
	}
	prev := s.current
	if err := s.fetch(http.MethodGet, target, "", nil); err != nil {
		return err
	}
	if prev != nil {
		s.future = append(s.future, prev.String())
	}
	return nil
}

func (s *session) forward() error {
	if len(s.future) == 0 {
		return errors.New(errors.ErrCodeDriverCommand, "forward history is empty")
	}
	next := s.future[len(s.future)-1]
	s.future = s.future[:len(s.future)-1]

	target, err := url.Parse(next)
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeDriverCommand, "invalid history entry")
	}
	prev := s.current
	if err := s.fetch(http.MethodGet, target, "", nil); err != nil {
		return err
	}
	if prev != nil {
		s.history = append(s.history, prev.String())
	}
	return nil
}

// fetch performs the request and replaces the current document on
// success. Redirects are followed by the underlying client, so current
// must be updated from the response URL.
func (s *session) fetch(method string, target *url.URL, contentType string, body url.Values) error {
	var req *http.Request
	var err error
	if body != nil {
		req, err = http.NewRequest(method, target.String(), strings.NewReader(body.Encode()))
	} else {
		req, err = http.NewRequest(method, target.String(), nil)
	}
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeDriverCommand, "cannot build request")
	}
	req.Header.Set("User-Agent", userAgent)
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeDriverCommand, "request failed").
			WithContext("url", target.String())
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return errors.New(errors.ErrCodeDriverCommand, "page returned an error status").
			WithContext("url", target.String()).
			WithContext("status", resp.StatusCode)
	}

	doc, err := goquery.NewDocumentFromReader(resp.Body)
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeDriverCommand, "cannot parse page")
	}

	s.doc = doc
	if resp.Request != nil && resp.Request.URL != nil {
		s.current = resp.Request.URL
	}
	return nil
}

func (s *session) resolve(rawURL string) (*url.URL, error) {
	parsed, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeDriverCommand, "invalid url").
			WithContext("url", rawURL)
	}
	if parsed.Scheme == "" {
		if s.current == nil {
			return nil, errors.New(errors.ErrCodeDriverCommand, "relative url with no page loaded").
				WithContext("url", rawURL)
		}
		return s.current.ResolveReference(parsed), nil
	}
	return parsed, nil
}

// find returns the selection for a selector on the current document.
func (s *session) find(selector string) (*goquery.Selection, error) {
	if s.doc == nil {
		return nil, errors.New(errors.ErrCodeDriverCommand, "no page loaded")
	}
	return s.doc.Find(selector), nil
}

// submitForm encodes a form's fields and performs its submission,
// replacing the current document with the response.
func (s *session) submitForm(form *goquery.Selection) error {
	action := strings.TrimSpace(form.AttrOr("action", ""))
	method := strings.ToUpper(strings.TrimSpace(form.AttrOr("method", http.MethodGet)))

	target := s.current
	if action != "" {
		resolved, err := s.resolve(action)
		if err != nil {
			return err
		}
		target = resolved
	}
	if target == nil {
		return errors.New(errors.ErrCodeDriverCommand, "form has no resolvable action")
	}

	values := formValues(form)
	prev := s.current

	if method == http.MethodPost {
		if err := s.fetch(http.MethodPost, target, "application/x-www-form-urlencoded", values); err != nil {
			return err
		}
	} else {
		withQuery := *target
		withQuery.RawQuery = values.Encode()
		if err := s.fetch(http.MethodGet, &withQuery, "", nil); err != nil {
			return err
		}
	}

	if prev != nil {
		s.history = append(s.history, prev.String())
	}
	s.future = nil
	return nil
}

// formValues collects the submittable fields of a form the way a browser
// would: named inputs, checked checkboxes and radios, selected options,
// and textarea content.
func formValues(form *goquery.Selection) url.Values {
	values := url.Values{}

	form.Find("input[name]").Each(func(_ int, field *goquery.Selection) {
		name := field.AttrOr("name", "")
		typ := strings.ToLower(field.AttrOr("type", "text"))
		switch typ {
		case "checkbox", "radio":
			if _, checked := field.Attr("checked"); checked {
				values.Add(name, field.AttrOr("value", "on"))
			}
		case "submit", "button", "image", "file":
			// not submitted without a click target
		default:
			values.Add(name, field.AttrOr("value", ""))
		}
	})

	form.Find("select[name]").Each(func(_ int, field *goquery.Selection) {
		name := field.AttrOr("name", "")
		selected := field.Find("option[selected]").First()
		if selected.Length() == 0 {
			selected = field.Find("option").First()
		}
		if selected.Length() > 0 {
			values.Add(name, selected.AttrOr("value", strings.TrimSpace(selected.Text())))
		}
	})

	form.Find("textarea[name]").Each(func(_ int, field *goquery.Selection) {
		values.Add(field.AttrOr("name", ""), field.Text())
	})

	return values
}
