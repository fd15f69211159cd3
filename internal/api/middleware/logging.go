// Package middleware provides HTTP middleware for the results API.
package middleware

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// RequestLogger returns a middleware that logs each result lookup with the
// route it matched, the result id or scenario hash it asked for and how it
// ended. Health checks are logged at debug and server errors at warn.
func RequestLogger(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

			defer func() {
				attrs := []any{
					"method", r.Method,
					"path", r.URL.Path,
					"status", ww.Status(),
					"bytes", ww.BytesWritten(),
					"duration", time.Since(start).String(),
					"request_id", middleware.GetReqID(r.Context()),
				}
				// Route params are filled in by the router below us.
				if rctx := chi.RouteContext(r.Context()); rctx != nil {
					if pattern := rctx.RoutePattern(); pattern != "" {
						attrs = append(attrs, "route", pattern)
					}
					if id := rctx.URLParam("id"); id != "" {
						attrs = append(attrs, "result_id", id)
					}
				}
				if hash := r.URL.Query().Get("scenario_hash"); hash != "" {
					attrs = append(attrs, "scenario_hash", hash)
				}

				level := slog.LevelInfo
				switch {
				case r.URL.Path == "/health":
					level = slog.LevelDebug
				case ww.Status() >= http.StatusInternalServerError:
					level = slog.LevelWarn
				}
				logger.Log(r.Context(), level, "request completed", attrs...)
			}()

			next.ServeHTTP(ww, r)
		})
	}
}
