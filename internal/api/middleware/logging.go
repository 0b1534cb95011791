// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package middleware

import (
	"net/http"
	"time"

	"github.com/ManuGH/camanchor/internal/log"
	chimw "github.com/go-chi/chi/v5/middleware"
)

// Logging writes one structured line per request and attaches the request
// logger to the context.
func Logging() func(http.Handler) http.Handler {
	base := log.WithComponent("api")
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			lc := base.With().
				Str("request_id", chimw.GetReqID(r.Context())).
				Str("method", r.Method).
				Str("path", r.URL.Path)
			if traceID, spanID := ExtractTraceContext(r); traceID != "" {
				lc = lc.Str("trace_id", traceID).Str("span_id", spanID)
			}
			logger := lc.Logger()
			sw := &statusWriter{ResponseWriter: w, statusCode: http.StatusOK}

			next.ServeHTTP(sw, r.WithContext(logger.WithContext(r.Context())))

			ev := logger.Info()
			if sw.statusCode >= 500 {
				ev = logger.Error()
			} else if r.URL.Path == "/healthz" || r.URL.Path == "/readyz" || r.URL.Path == "/metrics" {
				ev = logger.Debug()
			}
			ev.Str(log.FieldEvent, "http.request").
				Int("status", sw.statusCode).
				Int("bytes", sw.bytesWritten).
				Dur("duration", time.Since(start)).
				Msg("request handled")
		})
	}
}
