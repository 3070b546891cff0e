// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package sessionstorage is the single synchronization point for the
// session log. Every operation becomes a job on one FIFO queue drained
// by one goroutine, so no two operations touch the session files at
// the same time and operations from one caller complete in call order.
//
// Errors are local to the job that produced them: a failed write is
// reported to its caller (or its future, for [Storage.AppendEventAsync])
// and the queue keeps running. The in-memory session record is replaced
// only after the corresponding write succeeded, so [Storage.CurrentSession]
// never returns a value that is not already on disk.
//
// Sync bookkeeping uses a per-session watermark:
//
//   - [Storage.RecordSyncBegan] moves it to the end of the log.
//   - [Storage.PendingCurrentSession] returns the events below it.
//   - [Storage.DeleteSynchronizedData] discards those events and resets
//     it to zero, and removes uploaded completed sessions.
//
// A session is suspended (handles closed, session kept) when the
// process is backgrounded or closed, and ended only by
// [Storage.EndSession]. A restart resumes the latest unended session.
package sessionstorage
