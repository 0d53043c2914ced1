package middleware

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/middleware"
)

// maxLoggedBody caps how much of a request or error response body is logged.
const maxLoggedBody = 4 << 10

const redacted = "[FILTERED]"

// sensitiveKeys match header names and JSON keys case-insensitively by substring.
var sensitiveKeys = []string{
	"password",
	"token",
	"secret",
	"authorization",
	"cookie",
	"credential",
}

func isSensitive(name string) bool {
	name = strings.ToLower(name)
	for _, key := range sensitiveKeys {
		if strings.Contains(name, key) {
			return true
		}
	}
	return false
}

// Logging writes one line per request and one per response. JSON bodies are
// logged with credentials masked. Multipart uploads are never read here, and
// response bodies are only logged for 4xx and 5xx since successful responses
// carry customer records.
func Logging(logger *slog.Logger) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			reqID := middleware.GetReqID(r.Context())

			logger.Info("incoming request",
				"request_id", reqID,
				"method", r.Method,
				"path", r.URL.Path,
				"query", r.URL.RawQuery,
				"remote_addr", r.RemoteAddr,
				"user_agent", r.UserAgent(),
				"headers", filterHeaders(r.Header),
				"body", peekRequestBody(r),
			)

			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			errBody := &cappedBuffer{limit: maxLoggedBody}
			ww.Tee(errBody)

			next.ServeHTTP(ww, r)

			status := ww.Status()
			if status == 0 {
				status = http.StatusOK
			}

			level := slog.LevelInfo
			attrs := []any{
				"request_id", reqID,
				"status_code", status,
				"duration_ms", time.Since(start).Milliseconds(),
				"response_size", ww.BytesWritten(),
			}
			switch {
			case status >= http.StatusInternalServerError:
				level = slog.LevelError
				attrs = append(attrs, "body", filterBody(errBody.Bytes()))
			case status >= http.StatusBadRequest:
				level = slog.LevelWarn
				attrs = append(attrs, "body", filterBody(errBody.Bytes()))
			}
			logger.Log(r.Context(), level, "response", attrs...)
		})
	}
}

// peekRequestBody returns a loggable rendition of the body and leaves r.Body
// readable from the start.
func peekRequestBody(r *http.Request) string {
	if r.Body == nil || r.Body == http.NoBody {
		return ""
	}
	if strings.HasPrefix(r.Header.Get("Content-Type"), "multipart/") {
		return "[multipart body omitted]"
	}

	head, err := io.ReadAll(io.LimitReader(r.Body, maxLoggedBody+1))
	r.Body = readCloser{Reader: io.MultiReader(bytes.NewReader(head), r.Body), Closer: r.Body}
	if err != nil {
		return "[unreadable body]"
	}
	if len(head) > maxLoggedBody {
		return "[body truncated]"
	}
	return filterBody(head)
}

type readCloser struct {
	io.Reader
	io.Closer
}

// cappedBuffer keeps the first limit bytes written to it and drops the rest.
type cappedBuffer struct {
	bytes.Buffer
	limit int
}

func (b *cappedBuffer) Write(p []byte) (int, error) {
	if room := b.limit - b.Len(); room > 0 {
		if len(p) > room {
			b.Buffer.Write(p[:room])
		} else {
			b.Buffer.Write(p)
		}
	}
	return len(p), nil
}

func filterHeaders(headers http.Header) map[string]string {
	filtered := make(map[string]string, len(headers))
	for name, values := range headers {
		if isSensitive(name) {
			filtered[name] = redacted
			continue
		}
		filtered[name] = strings.Join(values, ", ")
	}
	return filtered
}

func filterBody(body []byte) string {
	if len(body) == 0 {
		return ""
	}

	var data interface{}
	if err := json.Unmarshal(body, &data); err != nil {
		if isSensitive(string(body)) {
			return "[FILTERED - Contains sensitive data]"
		}
		return string(body)
	}

	out, err := json.Marshal(filterJSON(data))
	if err != nil {
		return "[ERROR - Failed to marshal filtered JSON]"
	}
	return string(out)
}

func filterJSON(data interface{}) interface{} {
	switch v := data.(type) {
	case map[string]interface{}:
		filtered := make(map[string]interface{}, len(v))
		for key, value := range v {
			if isSensitive(key) {
				filtered[key] = redacted
				continue
			}
			filtered[key] = filterJSON(value)
		}
		return filtered
	case []interface{}:
		filtered := make([]interface{}, len(v))
		for i, item := range v {
			filtered[i] = filterJSON(item)
		}
		return filtered
	default:
		return v
	}
}
