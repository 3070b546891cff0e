// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package logbridge

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync/atomic"

	"github.com/bureau-foundation/sessionlog/lib/eventstore"
)

// LevelTrace is below Debug, for chatty diagnostics such as timer
// fires and syncs skipped for lack of credentials.
const LevelTrace = slog.LevelDebug - 4

// EventName is the name of events recorded from log records.
const EventName = "log"

// Sink accepts events without waiting for them to be durable.
// *sessionstorage.Storage satisfies it.
type Sink interface {
	AppendEventAsync(event eventstore.Event) <-chan error
}

// Handler is a slog.Handler that records log entries as session
// events. Records below the configured level are dropped, as are
// records arriving before SetSink.
//
// Handlers derived via WithAttrs/WithGroup share the sink pointer, so
// SetSink on the root propagates to all of them. The storage's own
// logger must never write here.
type Handler struct {
	level  slog.Leveler
	sink   *atomic.Pointer[sinkBox]
	attrs  []slog.Attr
	groups []string
}

type sinkBox struct{ sink Sink }

// NewHandler creates a handler recording records at or above level.
func NewHandler(level slog.Leveler) *Handler {
	return &Handler{
		level: level,
		sink:  &atomic.Pointer[sinkBox]{},
	}
}

// SetSink starts delivery. A nil sink stops it.
func (handler *Handler) SetSink(sink Sink) {
	if sink == nil {
		handler.sink.Store(nil)
		return
	}
	handler.sink.Store(&sinkBox{sink: sink})
}

func (handler *Handler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= handler.level.Level()
}

// Handle converts the record to an event and enqueues it. The append
// result is not awaited; a failed append of a log line is not
// reported anywhere.
func (handler *Handler) Handle(_ context.Context, record slog.Record) error {
	box := handler.sink.Load()
	if box == nil {
		return nil
	}

	metadata := map[string]any{
		"level":   levelName(record.Level),
		"message": record.Message,
	}
	prefix := strings.Join(handler.groups, ".")
	for _, attr := range handler.attrs {
		addAttr(metadata, "", attr)
	}
	record.Attrs(func(attr slog.Attr) bool {
		addAttr(metadata, prefix, attr)
		return true
	})

	box.sink.AppendEventAsync(eventstore.Event{
		Name:      EventName,
		CreatedAt: record.Time,
		Metadata:  metadata,
	})
	return nil
}

func (handler *Handler) WithAttrs(attrs []slog.Attr) slog.Handler {
	derived := *handler
	derived.attrs = append(slices.Clone(handler.attrs), qualify(handler.groups, attrs)...)
	return &derived
}

func (handler *Handler) WithGroup(name string) slog.Handler {
	if name == "" {
		return handler
	}
	derived := *handler
	derived.groups = append(slices.Clone(handler.groups), name)
	return &derived
}

// qualify prefixes attrs added under groups so later WithGroup calls
// do not re-prefix them.
func qualify(groups []string, attrs []slog.Attr) []slog.Attr {
	if len(groups) == 0 {
		return attrs
	}
	prefix := strings.Join(groups, ".") + "."
	qualified := make([]slog.Attr, len(attrs))
	for i, attr := range attrs {
		qualified[i] = slog.Attr{Key: prefix + attr.Key, Value: attr.Value}
	}
	return qualified
}

// addAttr flattens attr into metadata with dotted keys for groups.
func addAttr(metadata map[string]any, prefix string, attr slog.Attr) {
	attr.Value = attr.Value.Resolve()
	if attr.Equal(slog.Attr{}) {
		return
	}
	key := attr.Key
	if prefix != "" {
		key = prefix + "." + key
	}
	if attr.Value.Kind() == slog.KindGroup {
		for _, member := range attr.Value.Group() {
			if attr.Key == "" {
				addAttr(metadata, prefix, member)
			} else {
				addAttr(metadata, key, member)
			}
		}
		return
	}
	metadata[key] = attrValue(attr.Value)
}

func attrValue(value slog.Value) any {
	switch value.Kind() {
	case slog.KindString:
		return value.String()
	case slog.KindInt64:
		return value.Int64()
	case slog.KindUint64:
		return value.Uint64()
	case slog.KindFloat64:
		return value.Float64()
	case slog.KindBool:
		return value.Bool()
	case slog.KindDuration:
		return value.Duration().String()
	case slog.KindTime:
		return value.Time()
	case slog.KindAny:
		if err, ok := value.Any().(error); ok {
			return err.Error()
		}
	}
	return value.String()
}

func levelName(level slog.Level) string {
	if level < slog.LevelDebug && level >= LevelTrace {
		return "TRACE"
	}
	return level.String()
}

// ParseLevel parses a level name as written in configuration: trace,
// debug, info, warn, or error (case-insensitive).
func ParseLevel(name string) (slog.Level, error) {
	if strings.EqualFold(name, "trace") {
		return LevelTrace, nil
	}
	var level slog.Level
	if err := level.UnmarshalText([]byte(name)); err != nil {
		return 0, fmt.Errorf("unknown log level %q (valid: trace, debug, info, warn, error)", name)
	}
	return level, nil
}
