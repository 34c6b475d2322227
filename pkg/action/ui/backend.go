// Package ui is the browser and mobile backend of the action dispatcher. Both talk the
// W3C WebDriver protocol through tebeka/selenium, to Selenium/chromedriver for web steps
// and to Appium for app steps.
package ui

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/tebeka/selenium"

	"github.com/husmancristian/geaman-engine/pkg/action"
	"github.com/husmancristian/geaman-engine/pkg/engineerr"
	"github.com/husmancristian/geaman-engine/pkg/models"
	"github.com/husmancristian/geaman-engine/pkg/values"
)

const (
	// DefaultCommandTimeout bounds a single WebDriver command.
	DefaultCommandTimeout = 60 * time.Second
	pollInterval          = 250 * time.Millisecond
	pointerID             = "finger1"
)

var (
	_ action.Backend = (*Backend)(nil)
	_ action.Session = (*session)(nil)
)

// selenium keeps one process-wide HTTP client; the first backend sets its timeout.
var clientOnce sync.Once

// Config describes one WebDriver endpoint.
type Config struct {
	RemoteURL      string         // e.g. http://localhost:4444 or http://localhost:4723
	Capabilities   map[string]any // alwaysMatch capabilities
	Mobile         bool           // Appium: native id/name/class strategies and touch pointers
	CommandTimeout time.Duration
}

// Backend opens WebDriver sessions.
type Backend struct {
	cfg    Config
	base   string
	client *http.Client
	logger *slog.Logger
}

// New returns a WebDriver backend.
func New(cfg Config, logger *slog.Logger) *Backend {
	if cfg.CommandTimeout <= 0 {
		cfg.CommandTimeout = DefaultCommandTimeout
	}
	if logger == nil {
		logger = slog.Default()
	}
	client := &http.Client{Timeout: cfg.CommandTimeout}
	clientOnce.Do(func() { selenium.HTTPClient = client })
	return &Backend{
		cfg:    cfg,
		base:   strings.TrimRight(strings.TrimSpace(cfg.RemoteURL), "/"),
		client: client,
		logger: logger,
	}
}

// NewSession creates a remote WebDriver session.
func (b *Backend) NewSession(ctx context.Context) (action.Session, error) {
	if b.base == "" {
		return nil, engineerr.Params("no WebDriver URL configured")
	}
	caps := selenium.Capabilities{}
	for k, v := range b.cfg.Capabilities {
		caps[k] = v
	}

	var wd selenium.WebDriver
	err := cmd(ctx, "new session", func() error {
		var err error
		wd, err = selenium.NewRemote(caps, b.base)
		return err
	})
	if err != nil {
		return nil, err
	}
	if wd.SessionID() == "" {
		return nil, engineerr.Backend(engineerr.BackendStaleSession, "new session: no session id returned", nil)
	}

	b.logger.Info("webdriver session opened",
		slog.String("remote", b.cfg.RemoteURL),
		slog.String("session_id", wd.SessionID()),
	)
	return &session{backend: b, wd: wd}, nil
}

type session struct {
	backend *Backend
	wd      selenium.WebDriver
}

func (s *session) Do(ctx context.Context, inv action.Invocation) (*action.Result, error) {
	spec := inv.Step.UI
	if spec == nil {
		return nil, engineerr.Params("step %q has no ui action", inv.Step.Name)
	}
	name := strings.ToLower(strings.TrimSpace(spec.Action))
	record := &models.UIRecord{Action: name, Locator: spec.Locator, Text: spec.Text}
	res := &action.Result{UI: record}

	ret, shot, err := s.perform(ctx, name, spec)
	if err != nil {
		return res, err
	}
	record.Return = ret
	res.Screenshot = shot
	res.Data = map[string]any{"action": name, "return": ret}
	return res, nil
}

// element runs fn against the element loc points at.
func (s *session) element(ctx context.Context, name string, loc models.Locator, wait time.Duration, fn func(selenium.WebElement) error) error {
	el, err := s.find(ctx, loc, wait)
	if err != nil {
		return err
	}
	return cmd(ctx, name, func() error { return fn(el) })
}

func (s *session) perform(ctx context.Context, name string, spec *models.UIAction) (any, []byte, error) {
	wait := time.Duration(spec.WaitSeconds * float64(time.Second))
	text := values.Stringify(spec.Text)

	switch name {
	case "open":
		return nil, nil, cmd(ctx, name, func() error { return s.wd.Get(text) })
	case "back":
		return nil, nil, cmd(ctx, name, s.wd.Back)
	case "forward":
		return nil, nil, cmd(ctx, name, s.wd.Forward)
	case "refresh":
		return nil, nil, cmd(ctx, name, s.wd.Refresh)
	case "click":
		if IsPoint(spec.Locator) {
			return nil, nil, s.tapPoint(ctx, spec.Locator, selenium.MousePointer)
		}
		return nil, nil, s.element(ctx, name, spec.Locator, wait, selenium.WebElement.Click)
	case "tap":
		if IsPoint(spec.Locator) {
			return nil, nil, s.tapPoint(ctx, spec.Locator, selenium.TouchPointer)
		}
		el, err := s.find(ctx, spec.Locator, wait)
		if err != nil {
			return nil, nil, err
		}
		return nil, nil, s.pointer(ctx, selenium.TouchPointer, el, 0, 0, 1)
	case "double_click":
		el, err := s.find(ctx, spec.Locator, wait)
		if err != nil {
			return nil, nil, err
		}
		return nil, nil, s.pointer(ctx, selenium.MousePointer, el, 0, 0, 2)
	case "hover":
		el, err := s.find(ctx, spec.Locator, wait)
		if err != nil {
			return nil, nil, err
		}
		return nil, nil, s.pointer(ctx, selenium.MousePointer, el, 0, 0, 0)
	case "input":
		return nil, nil, s.element(ctx, name, spec.Locator, wait, func(el selenium.WebElement) error { return el.SendKeys(text) })
	case "clear":
		return nil, nil, s.element(ctx, name, spec.Locator, wait, selenium.WebElement.Clear)
	case "select":
		return nil, nil, s.element(ctx, name, spec.Locator, wait, func(el selenium.WebElement) error {
			opt, err := el.FindElement(selenium.ByXPATH, fmt.Sprintf(".//option[normalize-space(.)=%s]", xpathLiteral(text)))
			if err != nil {
				return err
			}
			return opt.Click()
		})
	case "scroll":
		dx, dy := 0.0, 300.0
		if text != "" {
			nums, err := parseNumbers(text, 2)
			if err != nil {
				return nil, nil, err
			}
			dx, dy = nums[0], nums[1]
		}
		_, err := s.execute(ctx, "window.scrollBy(arguments[0], arguments[1]);", []any{dx, dy})
		return nil, nil, err
	case "scroll_to":
		el, err := s.find(ctx, spec.Locator, wait)
		if err != nil {
			return nil, nil, err
		}
		_, err = s.execute(ctx, "arguments[0].scrollIntoView({block: 'center'});", []any{el})
		return nil, nil, err
	case "swipe":
		rect, err := s.rect(ctx)
		if err != nil {
			return nil, nil, err
		}
		pts, err := ResolveSwipe(spec.Locator, text, rect)
		if err != nil {
			return nil, nil, err
		}
		return nil, nil, s.swipe(ctx, pts)
	case "switch_window":
		return nil, nil, s.switchWindow(ctx, text)
	case "switch_frame":
		if !spec.Locator.IsZero() {
			el, err := s.find(ctx, spec.Locator, wait)
			if err != nil {
				return nil, nil, err
			}
			return nil, nil, cmd(ctx, name, func() error { return s.wd.SwitchFrame(el) })
		}
		idx, err := strconv.Atoi(strings.TrimSpace(text))
		if err != nil {
			return nil, nil, engineerr.Backend(engineerr.BackendInvalidLocator, fmt.Sprintf("switch_frame needs a locator or a frame index, got %q", text), nil)
		}
		return nil, nil, cmd(ctx, name, func() error { return s.wd.SwitchFrame(idx) })
	case "switch_default":
		return nil, nil, cmd(ctx, name, func() error { return s.wd.SwitchFrame(nil) })
	case "execute_js":
		ret, err := s.execute(ctx, text, nil)
		return ret, nil, err
	case "screenshot":
		shot, err := s.Screenshot(ctx)
		return nil, shot, err
	case "sleep":
		d := wait
		if f, ok := values.ToFloat(spec.Text); ok {
			d = time.Duration(f * float64(time.Second))
		}
		timer := time.NewTimer(d)
		defer timer.Stop()
		select {
		case <-timer.C:
			return nil, nil, nil
		case <-ctx.Done():
			return nil, nil, engineerr.Timeout("sleep interrupted", ctx.Err())
		}
	}

	if isQuery(name) {
		ret, err := s.query(ctx, name, spec.Locator, spec.Text, wait)
		return ret, nil, err
	}
	return nil, nil, engineerr.Params("unknown ui action %q", name)
}

func isQuery(name string) bool {
	switch name {
	case "get_text", "get_value", "get_attribute", "get_title", "get_url", "get_cookies",
		"get_local_storage", "is_displayed", "page_source":
		return true
	}
	return false
}

// Query runs one of the read-only actions.
func (s *session) Query(ctx context.Context, name string, loc models.Locator, arg any) (any, error) {
	name = strings.ToLower(strings.TrimSpace(name))
	if !isQuery(name) {
		return nil, engineerr.Params("%q is not a query action", name)
	}
	return s.query(ctx, name, loc, arg, 0)
}

func (s *session) query(ctx context.Context, name string, loc models.Locator, arg any, wait time.Duration) (any, error) {
	var (
		out  any
		page func() (string, error)
	)
	switch name {
	case "get_title":
		page = s.wd.Title
	case "get_url":
		page = s.wd.CurrentURL
	case "page_source":
		page = s.wd.PageSource
	}
	if page != nil {
		if err := cmd(ctx, name, func() (err error) { out, err = page(); return }); err != nil {
			return nil, err
		}
		return out, nil
	}

	switch name {
	case "get_cookies":
		var cookies []selenium.Cookie
		if err := cmd(ctx, name, func() (err error) { cookies, err = s.wd.GetCookies(); return }); err != nil {
			return nil, err
		}
		jar := make(map[string]any, len(cookies))
		for _, c := range cookies {
			jar[c.Name] = c.Value
		}
		return jar, nil
	case "get_local_storage":
		return s.execute(ctx, "var o = {}; for (var i = 0; i < localStorage.length; i++) { var k = localStorage.key(i); o[k] = localStorage.getItem(k); } return o;", nil)
	}

	var fn func(selenium.WebElement) error
	switch name {
	case "get_text":
		fn = func(el selenium.WebElement) (err error) { out, err = el.Text(); return }
	case "get_value":
		fn = func(el selenium.WebElement) (err error) { out, err = el.GetProperty("value"); return }
	case "get_attribute":
		attr := values.Stringify(arg)
		if attr == "" {
			return nil, engineerr.Params("get_attribute needs an attribute name")
		}
		fn = func(el selenium.WebElement) (err error) { out, err = el.GetAttribute(attr); return }
	case "is_displayed":
		fn = func(el selenium.WebElement) (err error) { out, err = el.IsDisplayed(); return }
	default:
		return nil, engineerr.Params("unknown ui query %q", name)
	}
	if err := s.element(ctx, name, loc, wait, fn); err != nil {
		return nil, err
	}
	return out, nil
}

// find locates one element, polling until wait elapses while the element is missing.
func (s *session) find(ctx context.Context, loc models.Locator, wait time.Duration) (selenium.WebElement, error) {
	if IsPoint(loc) {
		return nil, engineerr.Backend(engineerr.BackendInvalidLocator, "this action needs an element locator", nil)
	}
	strategy, selector, err := using(loc, s.backend.cfg.Mobile)
	if err != nil {
		return nil, err
	}
	deadline := time.Now().Add(wait)
	for {
		el, err := s.findOnce(ctx, strategy, selector)
		if err == nil {
			return el, nil
		}
		if !isNoSuchElement(err) || time.Now().After(deadline) {
			return nil, err
		}
		select {
		case <-time.After(pollInterval):
		case <-ctx.Done():
			return nil, err
		}
	}
}

func (s *session) findOnce(ctx context.Context, strategy, selector string) (selenium.WebElement, error) {
	op := "find element " + strategy
	if strategy == selenium.ByID || strategy == selenium.ByName {
		// Only reached for Appium native strategies; see rawCommand.
		body, err := s.rawCommand(ctx, http.MethodPost, "/element", map[string]any{"using": strategy, "value": selector})
		if err != nil {
			return nil, err
		}
		var el selenium.WebElement
		if err := cmd(ctx, op, func() (err error) { el, err = s.wd.DecodeElement(body); return }); err != nil {
			return nil, err
		}
		return el, nil
	}
	var el selenium.WebElement
	if err := cmd(ctx, op, func() (err error) { el, err = s.wd.FindElement(strategy, selector); return }); err != nil {
		return nil, err
	}
	return el, nil
}

func (s *session) execute(ctx context.Context, script string, args []any) (any, error) {
	var out any
	if err := cmd(ctx, "execute script", func() (err error) { out, err = s.wd.ExecuteScript(script, args); return }); err != nil {
		return nil, err
	}
	return out, nil
}

func (s *session) rect(ctx context.Context) (Rect, error) {
	body, err := s.rawCommand(ctx, http.MethodGet, "/window/rect", nil)
	if err != nil {
		return Rect{}, err
	}
	var reply struct {
		Value Rect `json:"value"`
	}
	if err := json.Unmarshal(body, &reply); err != nil {
		return Rect{}, engineerr.Backend(engineerr.BackendStaleSession, "decode window rect", err)
	}
	return reply.Value, nil
}

func (s *session) tapPoint(ctx context.Context, loc models.Locator, pointer selenium.PointerType) error {
	r, err := s.rect(ctx)
	if err != nil {
		return err
	}
	x, y, err := ResolvePoint(loc, r)
	if err != nil {
		return err
	}
	return s.pointer(ctx, pointer, selenium.FromViewport, x, y, 1)
}

// pointer moves to origin+(x,y) and presses clicks times. Zero clicks is a plain move.
// origin is a selenium.PointerMoveOrigin or an element.
func (s *session) pointer(ctx context.Context, pointer selenium.PointerType, origin any, x, y, clicks int) error {
	if s.backend.cfg.Mobile {
		pointer = selenium.TouchPointer
	}
	seq := []selenium.PointerAction{{"type": "pointerMove", "duration": 0, "origin": origin, "x": x, "y": y}}
	for i := 0; i < clicks; i++ {
		seq = append(seq,
			selenium.PointerDownAction(selenium.LeftButton),
			selenium.PointerPauseAction(50*time.Millisecond),
			selenium.PointerUpAction(selenium.LeftButton),
		)
	}
	return s.actions(ctx, pointer, seq)
}

func (s *session) swipe(ctx context.Context, p [4]int) error {
	seq := []selenium.PointerAction{
		selenium.PointerMoveAction(0, selenium.Point{X: p[0], Y: p[1]}, selenium.FromViewport),
		selenium.PointerDownAction(selenium.LeftButton),
		selenium.PointerMoveAction(400*time.Millisecond, selenium.Point{X: p[2], Y: p[3]}, selenium.FromViewport),
		selenium.PointerUpAction(selenium.LeftButton),
	}
	return s.actions(ctx, selenium.TouchPointer, seq)
}

func (s *session) actions(ctx context.Context, pointer selenium.PointerType, seq []selenium.PointerAction) error {
	return cmd(ctx, "perform actions", func() error {
		s.wd.StorePointerActions(pointerID, pointer, seq...)
		if err := s.wd.PerformActions(); err != nil {
			return err
		}
		return s.wd.ReleaseActions()
	})
}

func (s *session) switchWindow(ctx context.Context, target string) error {
	var handles []string
	if err := cmd(ctx, "window handles", func() (err error) { handles, err = s.wd.WindowHandles(); return }); err != nil {
		return err
	}
	handle := strings.TrimSpace(target)
	if idx, err := strconv.Atoi(handle); err == nil {
		if idx < 0 {
			idx += len(handles)
		}
		if idx < 0 || idx >= len(handles) {
			return engineerr.Backend(engineerr.BackendInvalidLocator, fmt.Sprintf("window index %s out of range (%d windows)", target, len(handles)), nil)
		}
		handle = handles[idx]
	}
	return cmd(ctx, "switch window", func() error { return s.wd.SwitchWindow(handle) })
}

// Screenshot captures the viewport as PNG.
func (s *session) Screenshot(ctx context.Context) ([]byte, error) {
	var shot []byte
	if err := cmd(ctx, "screenshot", func() (err error) { shot, err = s.wd.Screenshot(); return }); err != nil {
		return nil, err
	}
	return shot, nil
}

func (s *session) Close(ctx context.Context) error {
	id := s.wd.SessionID()
	if err := cmd(ctx, "delete session", s.wd.Quit); err != nil {
		return fmt.Errorf("failed to delete webdriver session %s: %w", id, err)
	}
	s.backend.logger.Info("webdriver session closed", slog.String("session_id", id))
	return nil
}

func xpathLiteral(s string) string {
	if !strings.Contains(s, "'") {
		return "'" + s + "'"
	}
	if !strings.Contains(s, `"`) {
		return `"` + s + `"`
	}
	parts := strings.Split(s, "'")
	quoted := make([]string, len(parts))
	for i, p := range parts {
		quoted[i] = "'" + p + "'"
	}
	return "concat(" + strings.Join(quoted, `, "'", `) + ")"
}

// ParseCapabilities parses a JSON capabilities document, used for env configuration.
func ParseCapabilities(raw string) (map[string]any, error) {
	if strings.TrimSpace(raw) == "" {
		return nil, nil
	}
	var caps map[string]any
	if err := json.Unmarshal([]byte(raw), &caps); err != nil {
		return nil, fmt.Errorf("invalid capabilities json: %w", err)
	}
	return caps, nil
}
