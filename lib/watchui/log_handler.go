// Copyright 2026 The Fleetglass Authors
// SPDX-License-Identifier: Apache-2.0

package watchui

import (
	"context"
	"log/slog"
	"strings"
	"sync/atomic"

	tea "github.com/charmbracelet/bubbletea"
)

// logRecordMsg carries one log record into the status bar.
type logRecordMsg struct {
	Seq     uint64
	Summary string
	Level   slog.Level
}

// logRecordFadeMsg clears the status bar once the record with the
// matching Seq has been shown long enough.
type logRecordFadeMsg struct {
	Seq uint64
}

// TUILogHandler is a slog.Handler that forwards records into a running
// bubbletea program. While the TUI owns the terminal, log lines
// written to stderr would corrupt the frame; this routes them through
// the render loop as status bar messages instead.
//
// Records logged before SetProgram are dropped: the alternative is
// buffering output for a program that may never start.
type TUILogHandler struct {
	level   slog.Leveler
	program *atomic.Pointer[tea.Program]
	seq     *atomic.Uint64

	// attrs are pre-formatted "key=value" strings from WithAttrs;
	// groups prefix the keys of attrs added later.
	attrs  []string
	groups []string
}

func NewTUILogHandler(level slog.Leveler) *TUILogHandler {
	return &TUILogHandler{
		level:   level,
		program: new(atomic.Pointer[tea.Program]),
		seq:     new(atomic.Uint64),
	}
}

// SetProgram directs subsequent records at program. Handlers derived
// with WithAttrs or WithGroup share the registration, so configuring
// the root handler is enough.
func (handler *TUILogHandler) SetProgram(program *tea.Program) {
	handler.program.Store(program)
}

func (handler *TUILogHandler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= handler.level.Level()
}

func (handler *TUILogHandler) Handle(_ context.Context, record slog.Record) error {
	program := handler.program.Load()
	if program == nil {
		return nil
	}
	program.Send(logRecordMsg{
		Seq:     handler.seq.Add(1),
		Summary: handler.formatSummary(record),
		Level:   record.Level,
	})
	return nil
}

// formatSummary renders a record as a single status bar line:
// "message (key=value, ...)".
func (handler *TUILogHandler) formatSummary(record slog.Record) string {
	parts := make([]string, 0, record.NumAttrs()+len(handler.attrs))
	parts = append(parts, handler.attrs...)
	prefix := handler.keyPrefix()
	record.Attrs(func(attr slog.Attr) bool {
		parts = append(parts, prefix+attr.Key+"="+attr.Value.String())
		return true
	})

	summary := record.Message
	if len(parts) > 0 {
		summary += " (" + strings.Join(parts, ", ") + ")"
	}
	return summary
}

func (handler *TUILogHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	if len(attrs) == 0 {
		return handler
	}
	derived := *handler
	prefix := handler.keyPrefix()
	formatted := make([]string, 0, len(handler.attrs)+len(attrs))
	formatted = append(formatted, handler.attrs...)
	for _, attr := range attrs {
		formatted = append(formatted, prefix+attr.Key+"="+attr.Value.String())
	}
	derived.attrs = formatted
	return &derived
}

func (handler *TUILogHandler) WithGroup(name string) slog.Handler {
	if name == "" {
		return handler
	}
	derived := *handler
	groups := make([]string, 0, len(handler.groups)+1)
	groups = append(groups, handler.groups...)
	derived.groups = append(groups, name)
	return &derived
}

func (handler *TUILogHandler) keyPrefix() string {
	if len(handler.groups) == 0 {
		return ""
	}
	return strings.Join(handler.groups, ".") + "."
}
