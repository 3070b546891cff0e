// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package logbridge

import (
	"errors"
	"log/slog"
	"sync"
	"testing"

	"github.com/bureau-foundation/sessionlog/lib/eventstore"
)

type recordingSink struct {
	mu     sync.Mutex
	events []eventstore.Event
}

func (s *recordingSink) AppendEventAsync(event eventstore.Event) <-chan error {
	s.mu.Lock()
	s.events = append(s.events, event)
	s.mu.Unlock()
	result := make(chan error, 1)
	result <- nil
	return result
}

func (s *recordingSink) recorded() []eventstore.Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]eventstore.Event(nil), s.events...)
}

func TestHandlerRecordsAtOrAboveLevel(t *testing.T) {
	sink := &recordingSink{}
	handler := NewHandler(slog.LevelInfo)
	handler.SetSink(sink)
	logger := slog.New(handler)

	logger.Debug("dropped")
	logger.Warn("upload failed", "session_id", "s-1", "error", errors.New("boom"), "attempt", 3)

	events := sink.recorded()
	if len(events) != 1 {
		t.Fatalf("recorded %d events, want 1", len(events))
	}
	metadata := events[0].Metadata
	if events[0].Name != EventName || metadata["message"] != "upload failed" || metadata["level"] != "WARN" {
		t.Fatalf("event = %+v", events[0])
	}
	if metadata["session_id"] != "s-1" || metadata["error"] != "boom" || metadata["attempt"] != int64(3) {
		t.Fatalf("metadata = %v", metadata)
	}
}

func TestHandlerGroupsAndAttrs(t *testing.T) {
	sink := &recordingSink{}
	handler := NewHandler(LevelTrace)
	handler.SetSink(sink)
	logger := slog.New(handler).With("component", "sync").WithGroup("cycle")

	logger.Log(t.Context(), LevelTrace, "timer fired", "mode", "immediate", slog.Group("module", "name", "sessions"))

	events := sink.recorded()
	if len(events) != 1 {
		t.Fatalf("recorded %d events, want 1", len(events))
	}
	metadata := events[0].Metadata
	want := map[string]any{
		"level":             "TRACE",
		"component":         "sync",
		"cycle.mode":        "immediate",
		"cycle.module.name": "sessions",
	}
	for key, value := range want {
		if metadata[key] != value {
			t.Fatalf("metadata[%q] = %v, want %v (all: %v)", key, metadata[key], value, metadata)
		}
	}
}

func TestHandlerDropsWithoutSink(t *testing.T) {
	handler := NewHandler(slog.LevelInfo)
	logger := slog.New(handler)
	logger.Info("before sink")

	sink := &recordingSink{}
	handler.SetSink(sink)
	logger.With("k", "v").Info("after sink")

	if events := sink.recorded(); len(events) != 1 || events[0].Metadata["message"] != "after sink" {
		t.Fatalf("events = %+v, want only the record after SetSink", events)
	}
}

func TestParseLevel(t *testing.T) {
	cases := map[string]slog.Level{
		"trace": LevelTrace,
		"TRACE": LevelTrace,
		"debug": slog.LevelDebug,
		"info":  slog.LevelInfo,
		"warn":  slog.LevelWarn,
		"error": slog.LevelError,
	}
	for name, want := range cases {
		got, err := ParseLevel(name)
		if err != nil {
			t.Fatalf("ParseLevel(%q): %v", name, err)
		}
		if got != want {
			t.Errorf("ParseLevel(%q) = %v, want %v", name, got, want)
		}
	}
	if _, err := ParseLevel("loud"); err == nil {
		t.Fatal("ParseLevel(loud) succeeded")
	}
}
