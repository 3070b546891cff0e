// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package sessionstorage

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/bureau-foundation/sessionlog/lib/clock"
	"github.com/bureau-foundation/sessionlog/lib/eventstore"
	"github.com/bureau-foundation/sessionlog/lib/sessionreader"
	"github.com/bureau-foundation/sessionlog/lib/testutil"
)

var epoch = time.Date(2026, 4, 1, 9, 0, 0, 0, time.UTC)

func openStorage(t *testing.T, base string, fake *clock.FakeClock) *Storage {
	t.Helper()
	reader, err := sessionreader.New(sessionreader.Config{
		BasePath: base,
		Clock:    fake,
		NewID:    func() string { return testutil.UniqueID("session") },
	})
	if err != nil {
		t.Fatalf("sessionreader.New: %v", err)
	}
	storage, err := New(Config{Reader: reader, Clock: fake})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { storage.Close() })
	return storage
}

func appendNamed(t *testing.T, storage *Storage, names ...string) {
	t.Helper()
	for _, name := range names {
		if err := storage.AppendEvent(context.Background(), eventstore.Event{Name: name}); err != nil {
			t.Fatalf("AppendEvent(%s): %v", name, err)
		}
	}
}

func currentEventNames(t *testing.T, storage *Storage, base string) []string {
	t.Helper()
	session, err := storage.CurrentSession(context.Background())
	if err != nil {
		t.Fatalf("CurrentSession: %v", err)
	}
	events, _, err := sessionreader.ReadSessionEvents(base, session.SessionID)
	if err != nil {
		t.Fatalf("ReadSessionEvents: %v", err)
	}
	names := make([]string, len(events))
	for i, event := range events {
		names[i] = event.Name
	}
	return names
}

func requireNames(t *testing.T, got []string, want ...string) {
	t.Helper()
	if len(got) != len(want) {
		t.Fatalf("events = %v, want %v", got, want)
	}
	for i := range got {
		if got[i] != want[i] {
			t.Fatalf("events = %v, want %v", got, want)
		}
	}
}

func TestInitializeSessionsPersistsImmediately(t *testing.T) {
	base := testutil.SessionBase(t)
	storage := openStorage(t, base, clock.Fake(epoch))
	ctx := context.Background()

	if err := storage.InitializeSessions(ctx); err != nil {
		t.Fatalf("InitializeSessions: %v", err)
	}
	session, err := storage.CurrentSession(ctx)
	if err != nil {
		t.Fatalf("CurrentSession: %v", err)
	}
	snapshot, err := sessionreader.ReadSnapshot(base, session.SessionID)
	if err != nil {
		t.Fatalf("ReadSnapshot: %v", err)
	}
	if !snapshot.Session.CreatedAt.Equal(epoch) {
		t.Fatalf("on-disk CreatedAt = %v, want %v", snapshot.Session.CreatedAt, epoch)
	}
}

func TestAppendEventDurableAcrossRestart(t *testing.T) {
	base := testutil.SessionBase(t)
	fake := clock.Fake(epoch)
	storage := openStorage(t, base, fake)
	appendNamed(t, storage, "e1", "e2")
	first, err := storage.CurrentSession(context.Background())
	if err != nil {
		t.Fatalf("CurrentSession: %v", err)
	}
	if err := storage.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	restarted := openStorage(t, base, fake)
	second, err := restarted.CurrentSession(context.Background())
	if err != nil {
		t.Fatalf("CurrentSession after restart: %v", err)
	}
	if second.SessionID != first.SessionID {
		t.Fatalf("restart created session %s, want to resume %s", second.SessionID, first.SessionID)
	}
	names := currentEventNames(t, restarted, base)
	if len(names) == 0 || names[len(names)-1] != "e2" {
		t.Fatalf("last event after restart = %v, want e2 last", names)
	}
}

func TestAppendAfterCrashMidWriteLandsOnItsOwnLine(t *testing.T) {
	base := testutil.SessionBase(t)
	fake := clock.Fake(epoch)
	storage := openStorage(t, base, fake)
	appendNamed(t, storage, "e1")
	session, err := storage.CurrentSession(context.Background())
	if err != nil {
		t.Fatalf("CurrentSession: %v", err)
	}
	if err := storage.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	// The process died partway through writing e2.
	path := filepath.Join(base, sessionreader.SessionsDirectoryName, session.SessionID, eventstore.EventsFileName)
	log, err := os.OpenFile(path, os.O_WRONLY|os.O_APPEND, 0)
	if err != nil {
		t.Fatalf("OpenFile: %v", err)
	}
	if _, err := log.Write([]byte(`{"name":"e2","crea`)); err != nil {
		t.Fatalf("Write: %v", err)
	}
	log.Close()

	restarted := openStorage(t, base, fake)
	appendNamed(t, restarted, "e3")

	events, skipped, err := sessionreader.ReadSessionEvents(base, session.SessionID)
	if err != nil {
		t.Fatalf("ReadSessionEvents: %v", err)
	}
	names := make([]string, len(events))
	for i, event := range events {
		names[i] = event.Name
	}
	requireNames(t, names, "e1", "e3")
	if skipped != 0 {
		t.Fatalf("skipped = %d, want 0 after the torn line was trimmed", skipped)
	}
}

func TestHasNewEventsSemantics(t *testing.T) {
	base := testutil.SessionBase(t)
	storage := openStorage(t, base, clock.Fake(epoch))
	ctx := context.Background()

	check := func(want bool, step string) {
		t.Helper()
		got, err := storage.HasNewEvents(ctx)
		if err != nil {
			t.Fatalf("HasNewEvents (%s): %v", step, err)
		}
		if got != want {
			t.Fatalf("HasNewEvents (%s) = %v, want %v", step, got, want)
		}
	}

	check(true, "fresh session")
	if _, err := storage.RecordSyncBegan(ctx); err != nil {
		t.Fatalf("RecordSyncBegan: %v", err)
	}
	check(false, "after RecordSyncBegan")
	appendNamed(t, storage, "e1")
	check(true, "after append")
}

func TestWatermarkMonotonicUntilPurge(t *testing.T) {
	base := testutil.SessionBase(t)
	storage := openStorage(t, base, clock.Fake(epoch))
	ctx := context.Background()

	var previous uint64
	for i := range 4 {
		appendNamed(t, storage, testutil.UniqueID("event"))
		watermark, err := storage.RecordSyncBegan(ctx)
		if err != nil {
			t.Fatalf("RecordSyncBegan: %v", err)
		}
		if watermark < previous {
			t.Fatalf("round %d: watermark decreased from %d to %d", i, previous, watermark)
		}
		previous = watermark
	}

	if err := storage.DeleteSynchronizedData(ctx, nil); err != nil {
		t.Fatalf("DeleteSynchronizedData: %v", err)
	}
	session, err := storage.CurrentSession(ctx)
	if err != nil {
		t.Fatalf("CurrentSession: %v", err)
	}
	if offset, synced := session.SyncOffset(); !synced || offset != 0 {
		t.Fatalf("watermark after purge = %d (synced %v), want 0", offset, synced)
	}
}

func TestSyncSliceAndPurgeEndToEnd(t *testing.T) {
	base := testutil.SessionBase(t)
	storage := openStorage(t, base, clock.Fake(epoch))
	ctx := context.Background()

	appendNamed(t, storage, "e1", "e2")
	if _, err := storage.RecordSyncBegan(ctx); err != nil {
		t.Fatalf("RecordSyncBegan: %v", err)
	}
	appendNamed(t, storage, "e3")

	pending, err := storage.PendingCurrentSession(ctx)
	if err != nil {
		t.Fatalf("PendingCurrentSession: %v", err)
	}
	got := make([]string, len(pending.Events))
	for i, event := range pending.Events {
		got[i] = event.Name
	}
	requireNames(t, got, "e1", "e2")

	if err := storage.DeleteSynchronizedData(ctx, nil); err != nil {
		t.Fatalf("DeleteSynchronizedData: %v", err)
	}
	requireNames(t, currentEventNames(t, storage, base), "e3")

	session, err := storage.CurrentSession(ctx)
	if err != nil {
		t.Fatalf("CurrentSession: %v", err)
	}
	if offset, _ := session.SyncOffset(); offset != 0 {
		t.Fatalf("watermark = %d, want 0", offset)
	}
	if session.Compacting {
		t.Fatal("compaction flag left set")
	}

	// Appends after the purge land in the compacted log.
	appendNamed(t, storage, "e4")
	requireNames(t, currentEventNames(t, storage, base), "e3", "e4")
}

func TestDeleteSynchronizedDataIdempotent(t *testing.T) {
	base := testutil.SessionBase(t)
	fake := clock.Fake(epoch)
	storage := openStorage(t, base, fake)
	ctx := context.Background()

	appendNamed(t, storage, "old")
	completed, err := storage.CurrentSession(ctx)
	if err != nil {
		t.Fatalf("CurrentSession: %v", err)
	}
	if err := storage.EndSession(ctx); err != nil {
		t.Fatalf("EndSession: %v", err)
	}
	appendNamed(t, storage, "current")

	ids := []string{completed.SessionID}
	if err := storage.DeleteSynchronizedData(ctx, ids); err != nil {
		t.Fatalf("first DeleteSynchronizedData: %v", err)
	}
	if err := storage.DeleteSynchronizedData(ctx, ids); err != nil {
		t.Fatalf("second DeleteSynchronizedData: %v", err)
	}
	requireNames(t, currentEventNames(t, storage, base), "current")
	if dirs := testutil.SessionDirectories(t, base); len(dirs) != 1 {
		t.Fatalf("session directories = %v, want only the current one", dirs)
	}
}

func TestEndSessionStartsNewSession(t *testing.T) {
	base := testutil.SessionBase(t)
	fake := clock.Fake(epoch)
	storage := openStorage(t, base, fake)
	ctx := context.Background()

	appendNamed(t, storage, "e1")
	first, err := storage.CurrentSession(ctx)
	if err != nil {
		t.Fatalf("CurrentSession: %v", err)
	}
	fake.Advance(time.Minute)
	if err := storage.EndSession(ctx); err != nil {
		t.Fatalf("EndSession: %v", err)
	}

	hasCompleted, err := storage.HasCompletedSessions(ctx)
	if err != nil {
		t.Fatalf("HasCompletedSessions: %v", err)
	}
	if !hasCompleted {
		t.Fatal("ended session not reported as completed")
	}
	second, err := storage.CurrentSession(ctx)
	if err != nil {
		t.Fatalf("CurrentSession: %v", err)
	}
	if second.SessionID == first.SessionID {
		t.Fatal("EndSession did not start a new session")
	}

	var uploaded []string
	for batch, err := range storage.AllSessionsForUpload(ctx) {
		if err != nil {
			t.Fatalf("AllSessionsForUpload: %v", err)
		}
		uploaded = append(uploaded, batch.Session.SessionID)
		if batch.Session.EndedAt == nil || !batch.Session.EndedAt.Equal(epoch.Add(time.Minute)) {
			t.Fatalf("ended_at = %v, want %v", batch.Session.EndedAt, epoch.Add(time.Minute))
		}
	}
	requireNames(t, uploaded, first.SessionID)
}

func TestUserPropertiesLastWriteWins(t *testing.T) {
	base := testutil.SessionBase(t)
	storage := openStorage(t, base, clock.Fake(epoch))
	ctx := context.Background()

	if err := storage.UpdateUserProperty(ctx, "plan", "free"); err != nil {
		t.Fatalf("UpdateUserProperty: %v", err)
	}
	if err := storage.UpdateUserProperties(ctx, map[string]any{"plan": "pro", "region": "eu"}); err != nil {
		t.Fatalf("UpdateUserProperties: %v", err)
	}
	if err := storage.UpdateUserProperty(ctx, "region", nil); err != nil {
		t.Fatalf("UpdateUserProperty(nil): %v", err)
	}

	session, err := storage.CurrentSession(ctx)
	if err != nil {
		t.Fatalf("CurrentSession: %v", err)
	}
	if session.UserProperties["plan"] != "pro" {
		t.Fatalf("plan = %v, want pro", session.UserProperties["plan"])
	}
	if _, ok := session.UserProperties["region"]; ok {
		t.Fatal("nil value did not remove region")
	}
	snapshot, err := sessionreader.ReadSnapshot(base, session.SessionID)
	if err != nil {
		t.Fatalf("ReadSnapshot: %v", err)
	}
	if snapshot.Session.UserProperties["plan"] != "pro" {
		t.Fatalf("on-disk plan = %v, want pro", snapshot.Session.UserProperties["plan"])
	}
}

func TestAsyncAppendsCompleteInOrder(t *testing.T) {
	base := testutil.SessionBase(t)
	storage := openStorage(t, base, clock.Fake(epoch))

	var results []<-chan error
	want := []string{"a", "b", "c", "d"}
	for _, name := range want {
		results = append(results, storage.AppendEventAsync(eventstore.Event{Name: name}))
	}
	for _, result := range results {
		testutil.RequireResult(t, result, 5*time.Second, "async append")
	}
	requireNames(t, currentEventNames(t, storage, base), want...)
}

func TestConcurrentAppendsAllLand(t *testing.T) {
	base := testutil.SessionBase(t)
	storage := openStorage(t, base, clock.Fake(epoch))

	var wg sync.WaitGroup
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range 10 {
				if err := storage.AppendEvent(context.Background(), eventstore.Event{Name: "x"}); err != nil {
					t.Errorf("AppendEvent: %v", err)
				}
			}
		}()
	}
	wg.Wait()
	if names := currentEventNames(t, storage, base); len(names) != 80 {
		t.Fatalf("events = %d, want 80", len(names))
	}
}

func TestFailedOperationDoesNotStopQueue(t *testing.T) {
	base := testutil.SessionBase(t)
	storage := openStorage(t, base, clock.Fake(epoch))
	ctx := context.Background()

	if err := storage.DeleteSynchronizedData(ctx, []string{"../outside"}); err == nil {
		t.Fatal("DeleteSynchronizedData accepted an invalid id")
	}
	appendNamed(t, storage, "after-failure")
	requireNames(t, currentEventNames(t, storage, base), "after-failure")
}

func TestSuspendThenAppendReopens(t *testing.T) {
	base := testutil.SessionBase(t)
	storage := openStorage(t, base, clock.Fake(epoch))
	ctx := context.Background()

	appendNamed(t, storage, "before")
	if err := storage.Suspend(ctx); err != nil {
		t.Fatalf("Suspend: %v", err)
	}
	appendNamed(t, storage, "after")
	requireNames(t, currentEventNames(t, storage, base), "before", "after")
}

func TestOperationsAfterCloseFail(t *testing.T) {
	base := testutil.SessionBase(t)
	storage := openStorage(t, base, clock.Fake(epoch))
	if err := storage.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := storage.AppendEvent(context.Background(), eventstore.Event{Name: "late"}); !errors.Is(err, ErrClosed) {
		t.Fatalf("AppendEvent after Close = %v, want ErrClosed", err)
	}
	result := testutil.RequireReceive(t, storage.AppendEventAsync(eventstore.Event{Name: "late"}), 5*time.Second, "async after close")
	if !errors.Is(result, ErrClosed) {
		t.Fatalf("AppendEventAsync after Close = %v, want ErrClosed", result)
	}
	if err := storage.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}
	// The lock was released: a new storage can open the base.
	openStorage(t, base, clock.Fake(epoch))
}
