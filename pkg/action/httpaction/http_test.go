package httpaction

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/husmancristian/geaman-engine/pkg/action"
	"github.com/husmancristian/geaman-engine/pkg/engineerr"
	"github.com/husmancristian/geaman-engine/pkg/models"
)

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()

	mux := http.NewServeMux()
	mux.HandleFunc("/ok", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"query":  r.URL.Query().Get("q"),
			"method": r.Method,
			"person": map[string]any{"name": "ann"},
		})
	})
	mux.HandleFunc("/echo", func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		w.Header().Set("X-Content-Type", r.Header.Get("Content-Type"))
		_, _ = w.Write(body)
	})
	mux.HandleFunc("/login", func(w http.ResponseWriter, r *http.Request) {
		http.SetCookie(w, &http.Cookie{Name: "sid", Value: "abc", Path: "/"})
		http.Redirect(w, r, "/home", http.StatusFound)
	})
	mux.HandleFunc("/home", func(w http.ResponseWriter, r *http.Request) {
		c, err := r.Cookie("sid")
		if err != nil {
			http.Error(w, "no session", http.StatusUnauthorized)
			return
		}
		_, _ = w.Write([]byte("welcome " + c.Value))
	})
	mux.HandleFunc("/big", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(strings.Repeat("x", MaxStoredText+10)))
	})
	mux.HandleFunc("/slow", func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-time.After(2 * time.Second):
		case <-r.Context().Done():
		}
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func do(t *testing.T, s action.Session, base string, req *models.HTTPRequest) (*action.Result, error) {
	t.Helper()
	return s.Do(context.Background(), action.Invocation{
		Step:    models.StepDefinition{Name: "step", Request: req},
		BaseURL: base,
	})
}

func TestGetJSON(t *testing.T) {
	t.Parallel()

	srv := newTestServer(t)
	s, err := New(nil, nil).NewSession(context.Background())
	require.NoError(t, err)
	defer s.Close(context.Background())

	res, err := do(t, s, srv.URL+"/", &models.HTTPRequest{Method: "get", URL: "/ok", Params: map[string]any{"q": 42}})
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, res.Response.StatusCode)
	require.Equal(t, "GET", res.Request.Method)
	require.Contains(t, res.Request.URL, "q=42")

	data := res.Data.(map[string]any)
	require.Equal(t, 200, data["status_code"])
	content := data["content"].(map[string]any)
	require.Equal(t, "42", content["query"])
	require.Equal(t, "ann", content["person"].(map[string]any)["name"])
	require.Equal(t, "application/json", data["headers"].(map[string]any)["Content-Type"])
}

func TestBodies(t *testing.T) {
	t.Parallel()

	srv := newTestServer(t)
	s, err := New(nil, nil).NewSession(context.Background())
	require.NoError(t, err)

	res, err := do(t, s, srv.URL, &models.HTTPRequest{Method: "POST", URL: "echo", JSON: map[string]any{"a": 1}})
	require.NoError(t, err)
	require.Equal(t, map[string]any{"a": float64(1)}, res.Response.Content)
	require.Equal(t, "application/json", res.Response.Headers["X-Content-Type"])

	res, err = do(t, s, srv.URL, &models.HTTPRequest{Method: "POST", URL: "/echo", Data: map[string]any{"k": "v w"}})
	require.NoError(t, err)
	require.Equal(t, "k=v+w", res.Response.Text)
	require.Nil(t, res.Response.Content)
	require.Equal(t, "application/x-www-form-urlencoded", res.Response.Headers["X-Content-Type"])

	res, err = do(t, s, srv.URL, &models.HTTPRequest{Method: "PUT", URL: "/echo", Body: "raw text", Headers: map[string]any{"Content-Type": "text/plain"}})
	require.NoError(t, err)
	require.Equal(t, "raw text", res.Response.Text)
	require.Equal(t, "text/plain", res.Response.Headers["X-Content-Type"])
}

func TestRedirectChainAndCookies(t *testing.T) {
	t.Parallel()

	srv := newTestServer(t)
	s, err := New(nil, nil).NewSession(context.Background())
	require.NoError(t, err)

	res, err := do(t, s, srv.URL, &models.HTTPRequest{Method: "GET", URL: "/login"})
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, res.Response.StatusCode)
	require.Equal(t, "welcome abc", res.Response.Text)
	require.Len(t, res.Response.Redirects, 1)
	require.Equal(t, http.StatusFound, res.Response.Redirects[0].StatusCode)
	require.True(t, strings.HasSuffix(res.Response.Redirects[0].To, "/home"))
	require.Equal(t, "abc", res.Response.Cookies["sid"])

	// The jar carries the cookie to later steps of the same session.
	res, err = do(t, s, srv.URL, &models.HTTPRequest{Method: "GET", URL: "/home"})
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, res.Response.StatusCode)

	// A fresh session starts with an empty jar.
	other, err := New(nil, nil).NewSession(context.Background())
	require.NoError(t, err)
	res, err = do(t, other, srv.URL, &models.HTTPRequest{Method: "GET", URL: "/home"})
	require.NoError(t, err)
	require.Equal(t, http.StatusUnauthorized, res.Response.StatusCode)

	noFollow := false
	res, err = do(t, other, srv.URL, &models.HTTPRequest{Method: "GET", URL: "/login", AllowRedirects: &noFollow})
	require.NoError(t, err)
	require.Equal(t, http.StatusFound, res.Response.StatusCode)
	require.Empty(t, res.Response.Redirects)
}

func TestTruncatesStoredText(t *testing.T) {
	t.Parallel()

	srv := newTestServer(t)
	s, err := New(nil, nil).NewSession(context.Background())
	require.NoError(t, err)

	res, err := do(t, s, srv.URL, &models.HTTPRequest{Method: "GET", URL: "/big"})
	require.NoError(t, err)
	require.True(t, res.Response.Truncated)
	require.Len(t, res.Response.Text, MaxStoredText)
	require.Len(t, res.Data.(map[string]any)["text"], MaxStoredText+10)
}

func TestErrorsAreClassified(t *testing.T) {
	t.Parallel()

	srv := newTestServer(t)
	s, err := New(nil, nil).NewSession(context.Background())
	require.NoError(t, err)

	_, err = do(t, s, srv.URL, &models.HTTPRequest{Method: "GET", URL: "/slow", TimeoutSeconds: 0.1})
	require.ErrorIs(t, err, engineerr.ErrTimeout)
	require.Equal(t, models.OutcomeFail, engineerr.Classify(err))

	_, err = do(t, s, "", &models.HTTPRequest{Method: "GET", URL: "/ok"})
	require.ErrorIs(t, err, engineerr.ErrParams)

	_, err = do(t, s, "http://127.0.0.1:1", &models.HTTPRequest{Method: "GET", URL: "/ok"})
	require.ErrorIs(t, err, engineerr.Backend(engineerr.BackendUnreachable, "", nil))
	require.Equal(t, models.OutcomeError, engineerr.Classify(err))

	_, err = s.Do(context.Background(), action.Invocation{Step: models.StepDefinition{Name: "empty"}})
	require.ErrorIs(t, err, engineerr.ErrParams)
}

type idleCountingTransport struct {
	http.RoundTripper
	closed int
}

func (t *idleCountingTransport) CloseIdleConnections() { t.closed++ }

func TestCloseKeepsSharedTransport(t *testing.T) {
	srv := newTestServer(t)
	transport := &idleCountingTransport{RoundTripper: http.DefaultTransport}
	b := New(transport, nil)
	first, err := b.NewSession(context.Background())
	require.NoError(t, err)
	second, err := b.NewSession(context.Background())
	require.NoError(t, err)

	require.NoError(t, first.Close(context.Background()))
	require.Zero(t, transport.closed)

	res, err := do(t, second, srv.URL, &models.HTTPRequest{Method: http.MethodGet, URL: "/ok"})
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, res.Response.StatusCode)
}

func TestJoinURL(t *testing.T) {
	t.Parallel()

	tests := []struct {
		base, path, want string
	}{
		{"http://api.local", "/users", "http://api.local/users"},
		{"http://api.local/v1/", "users", "http://api.local/v1/users"},
		{"http://api.local", "https://other.local/x", "https://other.local/x"},
		{"http://api.local", "", "http://api.local"},
	}
	for _, tt := range tests {
		got, err := JoinURL(tt.base, tt.path)
		require.NoError(t, err)
		require.Equal(t, tt.want, got)
	}

	_, err := JoinURL("not a url", "/x")
	require.ErrorIs(t, err, engineerr.ErrParams)
}
