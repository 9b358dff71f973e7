package middleware

import (
	"fmt"
	"log/slog"
	"net/http"
	"runtime/debug"
)

// Recovery turns a handler panic into a 500 problem response. The panic is
// logged with its stack and the request id so it can be matched to the
// access log line.
func Recovery(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				v := recover()
				if v == nil {
					return
				}
				if v == http.ErrAbortHandler {
					panic(v)
				}
				id := GetRequestID(r.Context())
				logger.ErrorContext(r.Context(), "handler panic",
					slog.String("panic", fmt.Sprint(v)),
					slog.String("stack", string(debug.Stack())),
					slog.String("route", r.Method+" "+r.URL.Path),
					slog.String("request_id", id),
				)
				w.Header().Set("Content-Type", "application/problem+json")
				w.WriteHeader(http.StatusInternalServerError)
				fmt.Fprintf(w, `{"title":"Internal Server Error","status":500,"detail":"request %s failed"}`, id)
			}()
			next.ServeHTTP(w, r)
		})
	}
}
