// Package net provides request scoped helpers shared by the http transport
package net

import (
	"context"
	"net/http"

	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/nuxxor/Mevzubase/internal/platform/logger"
)

// WithRequestID stores reqID where chi's RequestID middleware would
func WithRequestID(ctx context.Context, reqID string) context.Context {
	if reqID == "" {
		return ctx
	}
	return context.WithValue(ctx, chimw.RequestIDKey, reqID)
}

// RequestID returns the request id on the context if present
func RequestID(ctx context.Context) string { return chimw.GetReqID(ctx) }

// Annotate returns r with a context logger carrying the request id and path
func Annotate(r *http.Request) *http.Request {
	b := logger.C(r.Context()).With().Str("path", r.URL.Path)
	if id := RequestID(r.Context()); id != "" {
		b = b.Str("request_id", id)
	}
	l := b.Logger()
	return r.WithContext(logger.Into(r.Context(), &l))
}
