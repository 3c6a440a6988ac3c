// Package logging threads a zerolog.Logger through context.Context so every
// layer of the pipeline (session, turn, adapter) can attach structured
// fields without passing a logger parameter through every call.
package logging

import (
	"context"
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
)

type ctxKey struct{}

// New builds the root logger. When pretty is true it writes human-readable
// console output (local dev); otherwise it emits newline-delimited JSON
// suitable for log aggregation.
func New(pretty bool) zerolog.Logger {
	var w io.Writer = os.Stderr
	if pretty {
		w = zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}
	}
	return zerolog.New(w).With().Timestamp().Logger()
}

// WithLogger attaches a logger to ctx, returning a derived context.
func WithLogger(ctx context.Context, l zerolog.Logger) context.Context {
	return context.WithValue(ctx, ctxKey{}, l)
}

// FromContext returns the logger attached to ctx, falling back to a
// disabled logger if none was attached (never nil, safe to call methods on).
func FromContext(ctx context.Context) zerolog.Logger {
	if l, ok := ctx.Value(ctxKey{}).(zerolog.Logger); ok {
		return l
	}
	return zerolog.Nop()
}

// WithSession returns a derived context whose logger carries session_id.
func WithSession(ctx context.Context, sessionID string) context.Context {
	l := FromContext(ctx).With().Str("session_id", sessionID).Logger()
	return WithLogger(ctx, l)
}

// WithTurn returns a derived context whose logger carries turn_id and agent.
func WithTurn(ctx context.Context, turnID, agent string) context.Context {
	l := FromContext(ctx).With().Str("turn_id", turnID).Str("agent", agent).Logger()
	return WithLogger(ctx, l)
}
