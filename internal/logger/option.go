package logger

import (
	"context"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// levelCore overrides the level of the wrapped core in both directions, so a
// scoped logger can be quieter or chattier than the global one.
type levelCore struct {
	zapcore.Core

	// level is the minimum level this core writes.
	level zapcore.Level
}

// Enabled reports whether l is at or above the scoped level.
func (c *levelCore) Enabled(l zapcore.Level) bool {
	return c.level.Enabled(l)
}

// Check adds the core to ce when the entry level is enabled.
//
//nolint:gocritic // AddCore requires ent to be passed by value.
func (c *levelCore) Check(ent zapcore.Entry, ce *zapcore.CheckedEntry) *zapcore.CheckedEntry {
	if c.Enabled(ent.Level) {
		return ce.AddCore(ent, c)
	}

	return ce
}

// With keeps the scoped level on derived cores.
//
//nolint:ireturn,nolintlint // Returning zapcore.Core is intended for zap integration.
func (c *levelCore) With(fields []zapcore.Field) zapcore.Core {
	return &levelCore{Core: c.Core.With(fields), level: c.level}
}

// WithLevel returns a zap option that pins the logger to lvl.
//
//nolint:ireturn,nolintlint // Returning zap.Option is intended for zap integration.
func WithLevel(lvl zapcore.Level) zap.Option {
	return zap.WrapCore(func(core zapcore.Core) zapcore.Core {
		return &levelCore{Core: core, level: lvl}
	})
}

// WithMinLevel returns a context whose logger writes only entries at lvl or above.
func WithMinLevel(ctx context.Context, lvl zapcore.Level) context.Context {
	return ToContext(ctx, FromContext(ctx).WithOptions(WithLevel(lvl)))
}
