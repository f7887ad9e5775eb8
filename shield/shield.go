// Package shield provides HTTP hardening middleware for the rivalscope
// API: security headers, request body caps, trace IDs, and per-IP rate
// limiting backed by a SQLite rules table.
//
// Usage:
//
//	r := chi.NewRouter()
//	stack, rl := shield.APIStack(db)
//	rl.StartReloader(done)
//	for _, mw := range stack {
//	    r.Use(mw)
//	}
package shield

import (
	"context"
	"database/sql"
	"log/slog"
	"net/http"
)

type contextKey string

// loggerKey carries the per-request structured logger.
const loggerKey contextKey = "shield_logger"

// GetLogger retrieves the per-request logger from the context. Returns
// slog.Default() if no logger was set.
func GetLogger(ctx context.Context) *slog.Logger {
	if l, ok := ctx.Value(loggerKey).(*slog.Logger); ok {
		return l
	}
	return slog.Default()
}

// APIStack returns the standard middleware stack for the JSON API, in
// order: SecurityHeaders → MaxBody → TraceID → RateLimiter. The caller
// should invoke StartReloader on the returned limiter to enable rule
// refresh and bucket GC.
func APIStack(db *sql.DB) ([]func(http.Handler) http.Handler, *RateLimiter) {
	rl := NewRateLimiter(db, "/health")
	return []func(http.Handler) http.Handler{
		SecurityHeaders(DefaultHeaders()),
		MaxBody(1 << 20),
		TraceID,
		rl.Middleware,
	}, rl
}
