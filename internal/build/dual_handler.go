package build

import (
	"context"
	"log/slog"

	"github.com/btcsuite/btclog"
	btclogv2 "github.com/btcsuite/btclog/v2"
)

// DualHandler is a btclog.Handler that writes every record to a console
// handler and, when file logging is enabled, to a log-file handler as well.
// It exists so the CLI gets dual-stream logging without composing handlers
// at every call site; the file slot may be nil, in which case the handler
// degrades to console-only.
type DualHandler struct {
	level   btclog.Level
	console btclogv2.Handler
	file    btclogv2.Handler
}

// NewDualHandler constructs a DualHandler from a console handler and an
// optional file handler (nil disables the file stream). Both start at the
// Info log level.
func NewDualHandler(console, file btclogv2.Handler) *DualHandler {
	h := &DualHandler{
		console: console,
		file:    file,
	}
	h.SetLevel(btclog.LevelInfo)

	return h
}

// Enabled reports whether the handler handles records at the given level.
//
// NOTE: this is part of the slog.Handler interface.
func (h *DualHandler) Enabled(ctx context.Context, level slog.Level) bool {
	if !h.console.Enabled(ctx, level) {
		return false
	}
	if h.file != nil && !h.file.Enabled(ctx, level) {
		return false
	}

	return true
}

// Handle dispatches the Record to the console and, if present, the file
// handler.
//
// NOTE: this is part of the slog.Handler interface.
func (h *DualHandler) Handle(ctx context.Context, record slog.Record) error {
	if err := h.console.Handle(ctx, record); err != nil {
		return err
	}
	if h.file != nil {
		return h.file.Handle(ctx, record)
	}

	return nil
}

// WithAttrs returns a new Handler whose attributes consist of both the
// receiver's attributes and the arguments.
//
// NOTE: this is part of the slog.Handler interface.
func (h *DualHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	pair := &slogPair{console: h.console.WithAttrs(attrs)}
	if h.file != nil {
		pair.file = h.file.WithAttrs(attrs)
	}

	return pair
}

// WithGroup returns a new Handler with the given group appended to the
// receiver's existing groups.
//
// NOTE: this is part of the slog.Handler interface.
func (h *DualHandler) WithGroup(name string) slog.Handler {
	pair := &slogPair{console: h.console.WithGroup(name)}
	if h.file != nil {
		pair.file = h.file.WithGroup(name)
	}

	return pair
}

// SubSystem creates a new Handler with the given sub-system tag.
//
// NOTE: this is part of the btclog.Handler interface.
func (h *DualHandler) SubSystem(tag string) btclogv2.Handler {
	sub := &DualHandler{
		level:   h.level,
		console: h.console.SubSystem(tag),
	}
	if h.file != nil {
		sub.file = h.file.SubSystem(tag)
	}

	return sub
}

// SetLevel changes the logging level on both underlying handlers.
//
// NOTE: this is part of the btclog.Handler interface.
func (h *DualHandler) SetLevel(level btclog.Level) {
	h.console.SetLevel(level)
	if h.file != nil {
		h.file.SetLevel(level)
	}
	h.level = level
}

// Level returns the current logging level.
//
// NOTE: this is part of the btclog.Handler interface.
func (h *DualHandler) Level() btclog.Level {
	return h.level
}

// WithPrefix returns a copy of the Handler but with the given string
// prefixed to each log message.
//
// NOTE: this is part of the btclog.Handler interface.
func (h *DualHandler) WithPrefix(prefix string) btclogv2.Handler {
	pre := &DualHandler{
		level:   h.level,
		console: h.console.WithPrefix(prefix),
	}
	if h.file != nil {
		pre.file = h.file.WithPrefix(prefix)
	}

	return pre
}

// Ensure DualHandler implements btclog.Handler at compile time.
var _ btclogv2.Handler = (*DualHandler)(nil)

// slogPair backs DualHandler's WithAttrs and WithGroup, which must produce
// plain slog.Handlers rather than btclog.Handlers.
type slogPair struct {
	console slog.Handler
	file    slog.Handler
}

// Enabled reports whether the handler handles records at the given level.
//
// NOTE: this is part of the slog.Handler interface.
func (p *slogPair) Enabled(ctx context.Context, level slog.Level) bool {
	if !p.console.Enabled(ctx, level) {
		return false
	}
	if p.file != nil && !p.file.Enabled(ctx, level) {
		return false
	}

	return true
}

// Handle dispatches the Record to the console and, if present, the file
// handler.
//
// NOTE: this is part of the slog.Handler interface.
func (p *slogPair) Handle(ctx context.Context, record slog.Record) error {
	if err := p.console.Handle(ctx, record); err != nil {
		return err
	}
	if p.file != nil {
		return p.file.Handle(ctx, record)
	}

	return nil
}

// WithAttrs returns a new Handler whose attributes consist of both the
// receiver's attributes and the arguments.
//
// NOTE: this is part of the slog.Handler interface.
func (p *slogPair) WithAttrs(attrs []slog.Attr) slog.Handler {
	pair := &slogPair{console: p.console.WithAttrs(attrs)}
	if p.file != nil {
		pair.file = p.file.WithAttrs(attrs)
	}

	return pair
}

// WithGroup returns a new Handler with the given group appended to the
// receiver's existing groups.
//
// NOTE: this is part of the slog.Handler interface.
func (p *slogPair) WithGroup(name string) slog.Handler {
	pair := &slogPair{console: p.console.WithGroup(name)}
	if p.file != nil {
		pair.file = p.file.WithGroup(name)
	}

	return pair
}

// Ensure slogPair implements slog.Handler at compile time.
var _ slog.Handler = (*slogPair)(nil)
