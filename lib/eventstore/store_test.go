// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package eventstore

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

var testTime = time.Date(2026, 4, 1, 9, 30, 0, 0, time.UTC)

func createTestSession(t *testing.T) (string, Session) {
	t.Helper()
	directory := filepath.Join(t.TempDir(), "session-a")
	session := NewSession("session-a", testTime)
	if err := Create(directory, session, 0o600); err != nil {
		t.Fatalf("Create: %v", err)
	}
	return directory, session
}

func openTestFile(t *testing.T, directory string, kind FileKind) *os.File {
	t.Helper()
	file, err := OpenFile(directory, kind, 0o600)
	if err != nil {
		t.Fatalf("OpenFile(%s): %v", kind, err)
	}
	t.Cleanup(func() { file.Close() })
	return file
}

func appendEvents(t *testing.T, file *os.File, names ...string) {
	t.Helper()
	for _, name := range names {
		if err := AppendEvent(Event{Name: name, CreatedAt: testTime}, file); err != nil {
			t.Fatalf("AppendEvent(%s): %v", name, err)
		}
	}
}

func eventNames(events []Event) []string {
	names := make([]string, len(events))
	for i, event := range events {
		names[i] = event.Name
	}
	return names
}

func equalNames(got []string, want ...string) bool {
	if len(got) != len(want) {
		return false
	}
	for i := range got {
		if got[i] != want[i] {
			return false
		}
	}
	return true
}

func TestWriteSessionTruncatesShorterPayload(t *testing.T) {
	directory, session := createTestSession(t)
	file := openTestFile(t, directory, KindSessionFile)

	large := session.WithUpdatedProperty("biography", string(make([]byte, 512)))
	if err := WriteSession(large, file); err != nil {
		t.Fatalf("WriteSession(large): %v", err)
	}
	small := large.WithUpdatedProperty("biography", nil)
	if err := WriteSession(small, file); err != nil {
		t.Fatalf("WriteSession(small): %v", err)
	}

	got, err := ReadSession(file)
	if err != nil {
		t.Fatalf("ReadSession: %v (stale trailing bytes?)", err)
	}
	if _, ok := got.UserProperties["biography"]; ok {
		t.Fatal("removed property still present")
	}
	if got.SessionID != "session-a" || !got.CreatedAt.Equal(testTime) {
		t.Fatalf("got session %+v", got)
	}
}

func TestAppendEventDurableAcrossReopen(t *testing.T) {
	directory, _ := createTestSession(t)
	events := openTestFile(t, directory, KindEventsFile)
	appendEvents(t, events, "e1", "e2")
	events.Close()

	reopened := openTestFile(t, directory, KindEventsFile)
	read, skipped, err := ReadEvents(reopened, -1)
	if err != nil {
		t.Fatalf("ReadEvents: %v", err)
	}
	if skipped != 0 {
		t.Fatalf("skipped = %d, want 0", skipped)
	}
	if !equalNames(eventNames(read), "e1", "e2") {
		t.Fatalf("events = %v, want [e1 e2]", eventNames(read))
	}
}

func TestCurrentOffsetTracksAppends(t *testing.T) {
	directory, _ := createTestSession(t)
	events := openTestFile(t, directory, KindEventsFile)

	start, err := CurrentOffset(events)
	if err != nil {
		t.Fatalf("CurrentOffset: %v", err)
	}
	if start != 0 {
		t.Fatalf("initial offset = %d, want 0", start)
	}
	appendEvents(t, events, "e1")
	after, err := CurrentOffset(events)
	if err != nil {
		t.Fatalf("CurrentOffset: %v", err)
	}
	info, _ := events.Stat()
	if after == 0 || after != uint64(info.Size()) {
		t.Fatalf("offset after append = %d, file size %d", after, info.Size())
	}

	// A reopened handle starts at the end of the log.
	reopened := openTestFile(t, directory, KindEventsFile)
	again, err := CurrentOffset(reopened)
	if err != nil {
		t.Fatalf("CurrentOffset: %v", err)
	}
	if again != after {
		t.Fatalf("reopened offset = %d, want %d", again, after)
	}
}

func TestReadEventsIgnoresTornTail(t *testing.T) {
	directory, _ := createTestSession(t)
	events := openTestFile(t, directory, KindEventsFile)
	appendEvents(t, events, "e1")
	if _, err := events.Write([]byte(`{"name":"e2","crea`)); err != nil {
		t.Fatalf("Write: %v", err)
	}

	read, skipped, err := ReadEvents(events, -1)
	if err != nil {
		t.Fatalf("ReadEvents: %v", err)
	}
	if !equalNames(eventNames(read), "e1") || skipped != 1 {
		t.Fatalf("events = %v skipped = %d, want [e1] and 1", eventNames(read), skipped)
	}
}

func TestLoadSessionTrimsTornTail(t *testing.T) {
	directory, session := createTestSession(t)
	events := openTestFile(t, directory, KindEventsFile)
	appendEvents(t, events, "e1")
	complete, err := CurrentOffset(events)
	if err != nil {
		t.Fatalf("CurrentOffset: %v", err)
	}
	if _, err := events.Write([]byte(`{"name":"e2","crea`)); err != nil {
		t.Fatalf("Write: %v", err)
	}
	events.Close()

	// A watermark captured inside the torn bytes is pulled back.
	sessionFile := openTestFile(t, directory, KindSessionFile)
	if err := WriteSession(session.WithSyncOffset(complete+5), sessionFile); err != nil {
		t.Fatalf("WriteSession: %v", err)
	}

	loaded, err := LoadSession(directory, session.SessionID, 0o600)
	if err != nil {
		t.Fatalf("LoadSession: %v", err)
	}
	if offset, _ := loaded.SyncOffset(); offset != complete {
		t.Fatalf("watermark = %d, want %d", offset, complete)
	}

	reopened := openTestFile(t, directory, KindEventsFile)
	if offset, err := CurrentOffset(reopened); err != nil || offset != complete {
		t.Fatalf("CurrentOffset = %d, %v; want %d", offset, err, complete)
	}
	appendEvents(t, reopened, "e3")
	read, skipped, err := ReadEvents(reopened, -1)
	if err != nil {
		t.Fatalf("ReadEvents: %v", err)
	}
	if !equalNames(eventNames(read), "e1", "e3") || skipped != 0 {
		t.Fatalf("events = %v skipped = %d, want [e1 e3] and 0", eventNames(read), skipped)
	}
}

func TestTrimTornTailWithoutAnyCompleteRecord(t *testing.T) {
	directory, _ := createTestSession(t)
	events := openTestFile(t, directory, KindEventsFile)
	if _, err := events.Write([]byte(`{"na`)); err != nil {
		t.Fatalf("Write: %v", err)
	}
	size, err := TrimTornTail(directory)
	if err != nil {
		t.Fatalf("TrimTornTail: %v", err)
	}
	if size != 0 {
		t.Fatalf("size = %d, want 0", size)
	}
	if size, err := TrimTornTail(filepath.Join(t.TempDir(), "missing")); err != nil || size != 0 {
		t.Fatalf("TrimTornTail(missing) = %d, %v; want 0, nil", size, err)
	}
}

func TestReadEventsHonorsLimit(t *testing.T) {
	directory, _ := createTestSession(t)
	events := openTestFile(t, directory, KindEventsFile)
	appendEvents(t, events, "e1", "e2")
	limit, _ := CurrentOffset(events)
	appendEvents(t, events, "e3")

	read, _, err := ReadEvents(events, int64(limit))
	if err != nil {
		t.Fatalf("ReadEvents: %v", err)
	}
	if !equalNames(eventNames(read), "e1", "e2") {
		t.Fatalf("events = %v, want [e1 e2]", eventNames(read))
	}
}

func TestTruncateDiscardsTail(t *testing.T) {
	directory, _ := createTestSession(t)
	events := openTestFile(t, directory, KindEventsFile)
	appendEvents(t, events, "e1")
	keep, _ := CurrentOffset(events)
	appendEvents(t, events, "e2")

	if err := Truncate(events, keep); err != nil {
		t.Fatalf("Truncate: %v", err)
	}
	read, _, err := ReadEvents(events, -1)
	if err != nil {
		t.Fatalf("ReadEvents: %v", err)
	}
	if !equalNames(eventNames(read), "e1") {
		t.Fatalf("events = %v, want [e1]", eventNames(read))
	}
}

func TestCompactionKeepsOnlyTail(t *testing.T) {
	directory, _ := createTestSession(t)
	events := openTestFile(t, directory, KindEventsFile)
	appendEvents(t, events, "e1", "e2")
	watermark, _ := CurrentOffset(events)
	appendEvents(t, events, "e3")

	if err := StageCompaction(directory, events, watermark, 0o600); err != nil {
		t.Fatalf("StageCompaction: %v", err)
	}
	if err := CommitCompaction(directory); err != nil {
		t.Fatalf("CommitCompaction: %v", err)
	}

	reopened := openTestFile(t, directory, KindEventsFile)
	read, _, err := ReadEvents(reopened, -1)
	if err != nil {
		t.Fatalf("ReadEvents: %v", err)
	}
	if !equalNames(eventNames(read), "e3") {
		t.Fatalf("events = %v, want [e3]", eventNames(read))
	}
}

func TestLoadSessionRecoversInterruptedCompaction(t *testing.T) {
	tests := []struct {
		name       string
		compacting bool
		staged     bool
		wantEvents []string
	}{
		{name: "crash before flag", compacting: false, staged: true, wantEvents: []string{"e1", "e2", "e3"}},
		{name: "crash before rename", compacting: true, staged: true, wantEvents: []string{"e3"}},
		{name: "crash before clearing flag", compacting: true, staged: false, wantEvents: []string{"e1", "e2", "e3"}},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			directory, session := createTestSession(t)
			events := openTestFile(t, directory, KindEventsFile)
			appendEvents(t, events, "e1", "e2")
			watermark, _ := CurrentOffset(events)
			appendEvents(t, events, "e3")

			if test.staged {
				if err := StageCompaction(directory, events, watermark, 0o600); err != nil {
					t.Fatalf("StageCompaction: %v", err)
				}
			}
			if test.compacting {
				sessionFile := openTestFile(t, directory, KindSessionFile)
				flagged := session.WithSyncOffset(0).WithCompacting(true)
				if err := WriteSession(flagged, sessionFile); err != nil {
					t.Fatalf("WriteSession: %v", err)
				}
			}

			loaded, err := LoadSession(directory, "session-a", 0o600)
			if err != nil {
				t.Fatalf("LoadSession: %v", err)
			}
			if loaded.Compacting {
				t.Fatal("Compacting flag still set after recovery")
			}
			if _, err := os.Stat(filepath.Join(directory, compactFileName)); !errors.Is(err, os.ErrNotExist) {
				t.Fatalf("compact file left behind: %v", err)
			}

			reopened := openTestFile(t, directory, KindEventsFile)
			read, _, err := ReadEvents(reopened, -1)
			if err != nil {
				t.Fatalf("ReadEvents: %v", err)
			}
			if !equalNames(eventNames(read), test.wantEvents...) {
				t.Fatalf("events = %v, want %v", eventNames(read), test.wantEvents)
			}
		})
	}
}

func TestLoadSessionRepairsEmptyRecord(t *testing.T) {
	directory := filepath.Join(t.TempDir(), "session-b")
	if err := os.MkdirAll(directory, 0o700); err != nil {
		t.Fatalf("MkdirAll: %v", err)
	}
	if err := os.WriteFile(filepath.Join(directory, SessionFileName), nil, 0o600); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	session, err := LoadSession(directory, "session-b", 0o600)
	if err != nil {
		t.Fatalf("LoadSession: %v", err)
	}
	if session.SessionID != "session-b" {
		t.Fatalf("SessionID = %q, want session-b", session.SessionID)
	}
}

func TestStorageErrorKinds(t *testing.T) {
	_, err := OpenFile(filepath.Join(t.TempDir(), "missing", "deeper"), KindSessionFile, 0o600)
	if !errors.Is(err, ErrIO) {
		t.Fatalf("OpenFile in a missing directory: got %v, want ErrIO", err)
	}
	var storageError *StorageError
	if !errors.As(err, &storageError) || storageError.Operation != "open" {
		t.Fatalf("expected *StorageError with operation open, got %#v", err)
	}
	if errors.Is(err, ErrSessionNotFound) {
		t.Fatal("I/O error matched ErrSessionNotFound")
	}
}

func TestSessionPropertyUpdatesCopyOnWrite(t *testing.T) {
	original := NewSession("s", testTime).WithUpdatedProperty("plan", "free")
	updated := original.WithUpdatedProperties(map[string]any{"plan": "pro", "seats": 3})

	if original.UserProperties["plan"] != "free" {
		t.Fatal("update mutated the previous snapshot")
	}
	if updated.UserProperties["plan"] != "pro" || updated.UserProperties["seats"] != 3 {
		t.Fatalf("updated properties = %v", updated.UserProperties)
	}
	if _, synced := updated.SyncOffset(); synced {
		t.Fatal("new session reports a recorded sync")
	}
	if offset, synced := updated.WithSyncOffset(0).SyncOffset(); !synced || offset != 0 {
		t.Fatal("zero watermark must still count as a recorded sync")
	}
}

func TestOpenCreatesThenLoads(t *testing.T) {
	directory := filepath.Join(t.TempDir(), "session-c")

	files, created, err := Open(directory, "session-c", testTime, 0o600)
	if err != nil {
		t.Fatalf("Open (create): %v", err)
	}
	appendEvents(t, files.Events, "e1")
	if err := files.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	files, loaded, err := Open(directory, "session-c", testTime.Add(time.Hour), 0o600)
	if err != nil {
		t.Fatalf("Open (load): %v", err)
	}
	defer files.Close()
	if !loaded.CreatedAt.Equal(created.CreatedAt) {
		t.Fatalf("CreatedAt = %v, want %v", loaded.CreatedAt, created.CreatedAt)
	}
	read, _, err := ReadEvents(files.Events, -1)
	if err != nil {
		t.Fatalf("ReadEvents: %v", err)
	}
	if !equalNames(eventNames(read), "e1") {
		t.Fatalf("events = %v, want [e1]", eventNames(read))
	}
}
