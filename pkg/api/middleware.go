package api

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5/middleware"
)

// maxLoggedBody caps how much of a response body is copied into the access log.
const maxLoggedBody = 2048

// bodyCapture keeps the head of a response body for logging.
type bodyCapture struct {
	middleware.WrapResponseWriter
	head []byte
}

func (b *bodyCapture) Write(p []byte) (int, error) {
	if room := maxLoggedBody - len(b.head); room > 0 {
		b.head = append(b.head, p[:min(room, len(p))]...)
	}
	return b.WrapResponseWriter.Write(p)
}

// StructuredRequestLogger is a middleware that logs request details using slog. Error
// response bodies are included, truncated.
func StructuredRequestLogger(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := &bodyCapture{WrapResponseWriter: middleware.NewWrapResponseWriter(w, r.ProtoMajor)}

			t1 := time.Now()
			defer func() {
				scheme := "http"
				if r.TLS != nil {
					scheme = "https"
				}
				status := ww.Status()
				if status == 0 {
					status = http.StatusOK
				}
				attrs := []any{
					slog.String("request_id", middleware.GetReqID(r.Context())),
					slog.String("method", r.Method),
					slog.String("path", r.URL.Path),
					slog.String("proto", r.Proto),
					slog.String("scheme", scheme),
					slog.String("remote_addr", r.RemoteAddr),
					slog.Int("status", status),
					slog.Int("bytes_written", ww.BytesWritten()),
					slog.Duration("latency", time.Since(t1)),
				}
				if status >= http.StatusBadRequest {
					attrs = append(attrs, slog.String("response_body", string(ww.head)))
				}
				logger.Info("http request", attrs...)
			}()

			next.ServeHTTP(ww, r)
		})
	}
}
