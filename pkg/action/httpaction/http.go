// Package httpaction is the plain HTTP backend of the action dispatcher.
package httpaction

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strings"
	"time"

	"github.com/husmancristian/geaman-engine/pkg/action"
	"github.com/husmancristian/geaman-engine/pkg/engineerr"
	"github.com/husmancristian/geaman-engine/pkg/models"
	"github.com/husmancristian/geaman-engine/pkg/values"
)

const (
	// MaxStoredText caps the response text kept on the step record.
	MaxStoredText = 30000
	// DefaultTimeout is used when neither the step nor the invocation sets one.
	DefaultTimeout = 30 * time.Second
	maxRedirects   = 10
)

var (
	_ action.Backend = (*Backend)(nil)
	_ action.Session = (*session)(nil)
)

// Backend sends API steps over net/http.
type Backend struct {
	transport http.RoundTripper
	logger    *slog.Logger
}

// New returns an HTTP backend. A nil transport uses http.DefaultTransport.
func New(transport http.RoundTripper, logger *slog.Logger) *Backend {
	if transport == nil {
		transport = http.DefaultTransport
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Backend{transport: transport, logger: logger}
}

// NewSession opens a session with its own cookie jar, so cookies set by one step are
// sent by later steps of the same case only.
func (b *Backend) NewSession(context.Context) (action.Session, error) {
	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create cookie jar: %w", err)
	}
	return &session{backend: b, jar: jar}, nil
}

type session struct {
	backend *Backend
	jar     *cookiejar.Jar
}

func (s *session) Do(ctx context.Context, inv action.Invocation) (*action.Result, error) {
	spec := inv.Step.Request
	if spec == nil {
		return nil, engineerr.Params("step %q has no request", inv.Step.Name)
	}

	target, err := JoinURL(inv.BaseURL, spec.URL)
	if err != nil {
		return nil, err
	}
	if len(spec.Params) > 0 {
		target, err = withQuery(target, spec.Params)
		if err != nil {
			return nil, err
		}
	}

	method := strings.ToUpper(strings.TrimSpace(spec.Method))
	if method == "" {
		method = http.MethodGet
	}

	body, contentType, err := encodeBody(spec)
	if err != nil {
		return nil, err
	}

	timeout := inv.Timeout
	if spec.TimeoutSeconds > 0 {
		timeout = time.Duration(spec.TimeoutSeconds * float64(time.Second))
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, method, target, bytes.NewReader(body))
	if err != nil {
		return nil, engineerr.Params("invalid request %s %s: %v", method, target, err)
	}
	for k, v := range spec.Headers {
		req.Header.Set(k, values.Stringify(v))
	}
	if contentType != "" && req.Header.Get("Content-Type") == "" {
		req.Header.Set("Content-Type", contentType)
	}

	record := &models.RequestRecord{
		Method:  method,
		URL:     target,
		Headers: flattenHeader(req.Header),
		Body:    string(body),
	}

	var redirects []models.Redirect
	follow := spec.AllowRedirects == nil || *spec.AllowRedirects
	client := &http.Client{
		Transport: s.backend.transport,
		Jar:       s.jar,
		CheckRedirect: func(next *http.Request, via []*http.Request) error {
			if !follow {
				return http.ErrUseLastResponse
			}
			if len(via) >= maxRedirects {
				return fmt.Errorf("stopped after %d redirects", maxRedirects)
			}
			hop := models.Redirect{From: via[len(via)-1].URL.String(), To: next.URL.String()}
			if next.Response != nil {
				hop.StatusCode = next.Response.StatusCode
			}
			redirects = append(redirects, hop)
			return nil
		},
	}

	start := time.Now()
	resp, err := client.Do(req)
	if err != nil {
		return &action.Result{Request: record}, classify(ctx, method, target, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	elapsed := time.Since(start)
	if err != nil {
		return &action.Result{Request: record}, classify(ctx, method, target, err)
	}

	s.backend.logger.Debug("http step done",
		slog.String("method", method),
		slog.String("url", target),
		slog.Int("status", resp.StatusCode),
		slog.Duration("elapsed", elapsed),
	)

	text := string(raw)
	var content any
	if len(bytes.TrimSpace(raw)) > 0 && json.Valid(raw) {
		if err := json.Unmarshal(raw, &content); err != nil {
			content = nil
		}
	}

	cookies := make(map[string]string)
	for _, c := range s.jar.Cookies(resp.Request.URL) {
		cookies[c.Name] = c.Value
	}
	for _, c := range resp.Cookies() {
		cookies[c.Name] = c.Value
	}

	stored, truncated := truncate(text, MaxStoredText)
	response := &models.ResponseRecord{
		StatusCode: resp.StatusCode,
		URL:        resp.Request.URL.String(),
		Headers:    flattenHeader(resp.Header),
		Cookies:    cookies,
		Content:    content,
		Text:       stored,
		Truncated:  truncated,
		Redirects:  redirects,
		ElapsedMs:  elapsed.Milliseconds(),
	}

	return &action.Result{
		Request:  record,
		Response: response,
		Data:     ResponseData(response, text),
	}, nil
}

// ResponseData is the root path queries run against for API steps.
func ResponseData(r *models.ResponseRecord, fullText string) map[string]any {
	headers := make(map[string]any, len(r.Headers))
	for k, v := range r.Headers {
		headers[k] = v
	}
	cookies := make(map[string]any, len(r.Cookies))
	for k, v := range r.Cookies {
		cookies[k] = v
	}
	redirects := make([]any, 0, len(r.Redirects))
	for _, h := range r.Redirects {
		redirects = append(redirects, map[string]any{"status_code": h.StatusCode, "from": h.From, "to": h.To})
	}
	return map[string]any{
		"status_code": r.StatusCode,
		"url":         r.URL,
		"headers":     headers,
		"cookies":     cookies,
		"content":     r.Content,
		"text":        fullText,
		"elapsed":     r.ElapsedMs,
		"redirects":   redirects,
	}
}

func (s *session) Query(context.Context, string, models.Locator, any) (any, error) {
	return nil, engineerr.Params("element actions are not available on API steps")
}

func (s *session) Screenshot(context.Context) ([]byte, error) {
	return nil, errors.New("screenshots are not available on API steps")
}

// Close is a no-op: the transport is shared by every session of the backend.
func (s *session) Close(context.Context) error { return nil }

// JoinURL makes path absolute against base. An absolute path is returned unchanged.
func JoinURL(base, path string) (string, error) {
	path = strings.TrimSpace(path)
	if u, err := url.Parse(path); err == nil && u.Scheme != "" && u.Host != "" {
		return path, nil
	}
	base = strings.TrimSpace(base)
	if base == "" {
		return "", engineerr.Params("cannot resolve %q: no base URL configured", path)
	}
	bu, err := url.Parse(base)
	if err != nil || bu.Scheme == "" || bu.Host == "" {
		return "", engineerr.Params("invalid base URL %q", base)
	}
	if path == "" {
		return base, nil
	}
	return strings.TrimRight(base, "/") + "/" + strings.TrimLeft(path, "/"), nil
}

func withQuery(target string, params map[string]any) (string, error) {
	u, err := url.Parse(target)
	if err != nil {
		return "", engineerr.Params("invalid URL %q: %v", target, err)
	}
	q := u.Query()
	for k, v := range params {
		if list, ok := values.Normalize(v).([]any); ok {
			for _, e := range list {
				q.Add(k, values.Stringify(e))
			}
			continue
		}
		q.Set(k, values.Stringify(v))
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}

func encodeBody(spec *models.HTTPRequest) ([]byte, string, error) {
	switch {
	case spec.JSON != nil:
		if s, ok := spec.JSON.(string); ok {
			return []byte(s), "application/json", nil
		}
		raw, err := json.Marshal(spec.JSON)
		if err != nil {
			return nil, "", engineerr.Params("request json: %v", err)
		}
		return raw, "application/json", nil
	case len(spec.Data) > 0:
		form := url.Values{}
		for k, v := range spec.Data {
			form.Set(k, values.Stringify(v))
		}
		return []byte(form.Encode()), "application/x-www-form-urlencoded", nil
	case spec.Body != "":
		return []byte(spec.Body), "", nil
	}
	return nil, "", nil
}

func classify(ctx context.Context, method, target string, err error) error {
	msg := fmt.Sprintf("%s %s", method, target)
	var netErr net.Error
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout()) {
		return engineerr.Timeout(msg, err)
	}
	return engineerr.Backend(engineerr.BackendUnreachable, msg, err)
}

func flattenHeader(h http.Header) map[string]string {
	out := make(map[string]string, len(h))
	for k, v := range h {
		out[k] = strings.Join(v, ", ")
	}
	return out
}

func truncate(s string, n int) (string, bool) {
	runes := []rune(s)
	if len(runes) <= n {
		return s, false
	}
	return string(runes[:n]), true
}
