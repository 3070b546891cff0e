// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"bytes"
	"encoding/json"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/bureau-foundation/sessionlog/lib/eventstore"
	"github.com/bureau-foundation/sessionlog/lib/sessionreader"
)

var epoch = time.Date(2026, 4, 1, 9, 0, 0, 0, time.UTC)

// writeSession creates a session directory with the given events.
func writeSession(t *testing.T, base string, session eventstore.Session, events ...eventstore.Event) {
	t.Helper()
	directory := filepath.Join(base, sessionreader.SessionsDirectoryName, session.SessionID)
	files, _, err := eventstore.Open(directory, session.SessionID, session.CreatedAt, 0o600)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer files.Close()
	if err := eventstore.WriteSession(session, files.Session); err != nil {
		t.Fatalf("WriteSession: %v", err)
	}
	for _, event := range events {
		if err := eventstore.AppendEvent(event, files.Events); err != nil {
			t.Fatalf("AppendEvent: %v", err)
		}
	}
}

func runCommand(t *testing.T, args ...string) (string, string, error) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	err := run(args, &stdout, &stderr)
	return stdout.String(), stderr.String(), err
}

func seed(t *testing.T) string {
	t.Helper()
	base := t.TempDir()
	writeSession(t, base,
		eventstore.NewSession("older", epoch).WithEndedAt(epoch.Add(time.Hour)).WithSyncOffset(0),
		eventstore.Event{Name: "opened", CreatedAt: epoch},
	)
	writeSession(t, base,
		eventstore.NewSession("newer", epoch.Add(2*time.Hour)).WithUpdatedProperty("plan", "pro"),
		eventstore.Event{Name: "opened", CreatedAt: epoch.Add(2 * time.Hour), Metadata: map[string]any{"screen": "home"}},
		eventstore.Event{Name: "purchased", CreatedAt: epoch.Add(3 * time.Hour)},
	)
	return base
}

func TestListOutputsJSONWhenNotATerminal(t *testing.T) {
	base := seed(t)
	stdout, _, err := runCommand(t, "--base", base, "list")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	var summaries []sessionSummary
	if err := json.Unmarshal([]byte(stdout), &summaries); err != nil {
		t.Fatalf("decoding list output: %v\n%s", err, stdout)
	}
	if len(summaries) != 2 {
		t.Fatalf("listed %d sessions, want 2", len(summaries))
	}
	older, newer := summaries[0], summaries[1]
	if older.SessionID != "older" || older.State != "ended" || !older.Synced {
		t.Errorf("older = %+v", older)
	}
	if newer.SessionID != "newer" || newer.State != "open" || newer.Synced {
		t.Errorf("newer = %+v", newer)
	}
	if newer.PendingBytes != newer.EventBytes || newer.EventBytes == 0 {
		t.Errorf("newer pending %d of %d bytes, want all pending", newer.PendingBytes, newer.EventBytes)
	}
}

func TestEventsWithLimit(t *testing.T) {
	base := seed(t)
	stdout, _, err := runCommand(t, "--base", base, "--limit", "1", "events", "newer")
	if err != nil {
		t.Fatalf("events: %v", err)
	}
	var events []eventstore.Event
	if err := json.Unmarshal([]byte(stdout), &events); err != nil {
		t.Fatalf("decoding events output: %v", err)
	}
	if len(events) != 1 || events[0].Name != "opened" || events[0].Metadata["screen"] != "home" {
		t.Fatalf("events = %+v", events)
	}
}

func TestShowUnknownSession(t *testing.T) {
	base := seed(t)
	_, _, err := runCommand(t, "--base", base, "show", "missing")
	if err == nil {
		t.Fatal("show succeeded for a missing session")
	}
	if !strings.Contains(err.Error(), "missing") {
		t.Fatalf("error %v does not name the session", err)
	}
}

func TestPayloadPrintsDiagnostic(t *testing.T) {
	base := seed(t)
	stdout, _, err := runCommand(t, "--base", base, "payload", "newer")
	if err != nil {
		t.Fatalf("payload: %v", err)
	}
	var result struct {
		IdempotencyKey string `json:"idempotency_key"`
		Diagnostic     string `json:"diagnostic"`
	}
	if err := json.Unmarshal([]byte(stdout), &result); err != nil {
		t.Fatalf("decoding payload output: %v", err)
	}
	if result.IdempotencyKey == "" || !strings.Contains(result.Diagnostic, `"purchased"`) {
		t.Fatalf("payload output = %+v", result)
	}
}

func TestUsageErrors(t *testing.T) {
	base := t.TempDir()
	cases := [][]string{
		{"--base", base, "frobnicate"},
		{"--base", base, "show"},
		{"--base", base, "list", "extra"},
	}
	for _, args := range cases {
		if _, _, err := runCommand(t, args...); err == nil {
			t.Errorf("run(%v) succeeded", args)
		}
	}
}

func TestListEmptyBase(t *testing.T) {
	stdout, _, err := runCommand(t, "--base", t.TempDir(), "list")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if strings.TrimSpace(stdout) != "[]" {
		t.Fatalf("list of empty base = %q, want []", stdout)
	}
}
