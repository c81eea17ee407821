// File: internal/infra/logging/logging.go
package logging

import (
	"context"
	"io"
	"os"
	"strings"
	"time"

	"telegram-ai-billing/internal/config"

	"github.com/rs/zerolog"
)

// New builds the process logger. Levels are trace|debug|info|warn|error,
// formats json|console; dev forces console output and disables sampling.
func New(cfg config.LogConfig, dev bool) *zerolog.Logger {
	return newLogger(os.Stdout, cfg, dev)
}

func newLogger(w io.Writer, cfg config.LogConfig, dev bool) *zerolog.Logger {
	level, err := zerolog.ParseLevel(strings.ToLower(cfg.Level))
	if err != nil || level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	if strings.EqualFold(cfg.Format, "console") || dev {
		w = zerolog.ConsoleWriter{Out: w, TimeFormat: time.RFC3339}
	}
	base := zerolog.New(w).With().Timestamp().Logger()

	if cfg.Sampling && !dev {
		// first 100 per second, then every 100th
		base = base.Sample(&zerolog.BurstSampler{Burst: 100, Period: time.Second, NextSampler: &zerolog.BasicSampler{N: 100}})
	}
	return &base
}

type ctxKey int

const (
	keyTraceID ctxKey = iota
	keyUserID
	keyTgID
)

// With returns base enriched with the ids carried by ctx.
func With(ctx context.Context, base *zerolog.Logger) *zerolog.Logger {
	c := base.With()
	if v, ok := ctx.Value(keyTraceID).(string); ok {
		c = c.Str("trace_id", v)
	}
	if v, ok := ctx.Value(keyUserID).(string); ok {
		c = c.Str("user_id", v)
	}
	if v, ok := ctx.Value(keyTgID).(int64); ok {
		c = c.Int64("tg_id", v)
	}
	l := c.Logger()
	return &l
}

// TraceDuration logs entry and exit of a method at trace level.
//
//	defer logging.TraceDuration(log, "PaymentUC.HandleGatewayEvent")()
func TraceDuration(logger *zerolog.Logger, name string) func() {
	start := time.Now()
	logger.Trace().Str("method", name).Msg("start")
	return func() {
		logger.Trace().Str("method", name).Dur("duration", time.Since(start)).Msg("finish")
	}
}

// Redact keeps a short preview of user text outside dev mode.
func Redact(s string, dev bool) string {
	if dev {
		return s
	}
	r := []rune(s)
	if len(r) <= 8 {
		return "***"
	}
	return string(r[:4]) + "..." + string(r[len(r)-2:])
}

func WithTraceID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, keyTraceID, id)
}

func WithUserID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, keyUserID, id)
}

func WithTgID(ctx context.Context, id int64) context.Context {
	return context.WithValue(ctx, keyTgID, id)
}

// TraceID returns the trace id stored in ctx, if any.
func TraceID(ctx context.Context) string {
	v, _ := ctx.Value(keyTraceID).(string)
	return v
}
