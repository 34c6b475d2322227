package ui

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"

	"github.com/tebeka/selenium"

	"github.com/husmancristian/geaman-engine/pkg/engineerr"
)

// cmd runs one blocking selenium call. The client has no context support, so the call
// runs aside and an expired ctx abandons it; the command timeout of the shared HTTP
// client bounds how long it can linger.
func cmd(ctx context.Context, op string, fn func() error) error {
	if err := ctx.Err(); err != nil {
		return fold(ctx, op, err)
	}
	done := make(chan error, 1)
	go func() { done <- fn() }()
	select {
	case err := <-done:
		return fold(ctx, op, err)
	case <-ctx.Done():
		return fold(ctx, op, ctx.Err())
	}
}

// fold maps client errors into the engine's closed set.
func fold(ctx context.Context, op string, err error) error {
	if err == nil {
		return nil
	}
	var e *engineerr.Error
	if errors.As(err, &e) {
		return err
	}
	var wdErr *selenium.Error
	if errors.As(err, &wdErr) {
		return mapError(op, wdErr.Err, wdErr.Message)
	}
	var netErr net.Error
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout()) {
		return engineerr.Backend(engineerr.BackendTimeout, op, err)
	}
	if errors.As(err, &netErr) || errors.Is(err, context.Canceled) {
		return engineerr.Backend(engineerr.BackendUnreachable, op, err)
	}
	// Undecodable replies and similar protocol breakage.
	return engineerr.Backend(engineerr.BackendStaleSession, op, err)
}

// mapError folds a WebDriver error code.
func mapError(op, code, message string) error {
	msg := fmt.Sprintf("%s: %s", op, code)
	cause := errors.New(message)
	switch code {
	case "timeout", "script timeout":
		return engineerr.Backend(engineerr.BackendTimeout, msg, cause)
	case "no such element", "invalid selector", "stale element reference",
		"element not interactable", "element click intercepted", "invalid element state",
		"no such frame", "no such window", "move target out of bounds", "invalid argument":
		return engineerr.Backend(engineerr.BackendInvalidLocator, msg, cause)
	default:
		// invalid session id, session not created, unknown error, unknown command...
		return engineerr.Backend(engineerr.BackendStaleSession, msg, cause)
	}
}

func isNoSuchElement(err error) bool {
	var e *engineerr.Error
	if !errors.As(err, &e) || e.Backend != engineerr.BackendInvalidLocator {
		return false
	}
	return strings.HasSuffix(e.Msg, "no such element")
}

// rawCommand sends a session command the selenium client does not expose: Get Window
// Rect, and Appium's native id/name strategies, which the client rewrites into CSS.
// It returns the whole reply body.
func (s *session) rawCommand(ctx context.Context, method, path string, body any) ([]byte, error) {
	op := method + " " + path
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return nil, engineerr.Params("encode %s: %v", op, err)
		}
		reader = bytes.NewReader(raw)
	}
	req, err := http.NewRequestWithContext(ctx, method, s.backend.base+"/session/"+s.wd.SessionID()+path, reader)
	if err != nil {
		return nil, engineerr.Params("webdriver request %s: %v", op, err)
	}
	req.Header.Set("Content-Type", "application/json; charset=utf-8")
	req.Header.Set("Accept", "application/json")

	resp, err := s.backend.client.Do(req)
	if err != nil {
		return nil, fold(ctx, op, err)
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fold(ctx, op, err)
	}

	var envelope struct {
		Value json.RawMessage `json:"value"`
	}
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return nil, engineerr.Backend(engineerr.BackendStaleSession,
			fmt.Sprintf("%s: unexpected reply (status %d)", op, resp.StatusCode), err)
	}
	if resp.StatusCode >= http.StatusBadRequest {
		var wdErr selenium.Error
		if err := json.Unmarshal(envelope.Value, &wdErr); err != nil || wdErr.Err == "" {
			return nil, mapError(op, "unknown error", string(raw))
		}
		return nil, mapError(op, wdErr.Err, wdErr.Message)
	}
	return raw, nil
}
