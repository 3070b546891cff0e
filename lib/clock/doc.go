// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package clock provides an injectable time source.
//
// Components that schedule work (the sync timer, the background
// execution budget) or stamp times onto persisted records take a Clock
// instead of calling the time package directly. Real delegates to the
// time package; Fake is frozen until the test calls Advance.
//
// A test that starts a goroutine which registers a timer should call
// WaitForTimers before Advance, so the advance cannot race ahead of the
// registration:
//
//	fake := clock.Fake(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
//	manager.StartSyncTimer(ctx)
//	fake.WaitForTimers(1)
//	fake.Advance(30 * time.Second)
package clock
