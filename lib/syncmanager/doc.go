// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package syncmanager schedules uploads of locally buffered data.
//
// A [Manager] is an actor: the goroutine running [Manager.Run] owns the
// state (idle or syncing, plus the pending follow-up mode) and every
// public method is a request to it. A sync cycle runs on its own
// goroutine and performs one or more passes; each pass re-checks that
// some [Module] has data, then calls every module's SynchronizeData in
// registration order. A module that fails (or panics) is logged and the
// pass continues with the next one.
//
// Requests that arrive during a cycle are coalesced into at most one
// follow-up. Immediate dominates eventual; an immediate follow-up runs
// right away, an eventual one is dropped because the periodic timer
// started by [Manager.StartSyncTimer] will pick up the data.
//
// Each pass is bracketed by SyncBegan and SyncEnded notifications that
// share a token. Without an [AuthProvider] every request is skipped.
package syncmanager
