// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package sessionreader manages the session directories under a base
// path: which session is current, the cached file handles of that
// session, enumeration of every session on disk, and deletion.
//
// A Reader holds an exclusive flock on the base path for its lifetime;
// a second Reader on the same path (in this or another process) fails
// with [ErrBaseLocked]. The read-only helpers in inspect.go do not take
// the lock and never modify anything.
//
// The "current" session is the one new events go to. On startup it is
// the most recently created session without an ended_at; every other
// directory is a completed session waiting for upload.
package sessionreader
