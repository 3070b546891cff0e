// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package testutil provides shared test helpers.
//
// [RequireReceive], [RequireNoReceive], [RequireClosed], and
// [RequireResult] encapsulate the timeout safety valve pattern (select
// with a time.After fallback) so individual tests never call time.After
// directly. They are the only place in the test suite where real
// wall-clock timeouts are used; everything else runs on lib/clock's
// fake clock.
//
// [SessionBase] and [SessionDirectories] set up and inspect a session
// log base path. [UniqueID] generates predictable identifiers.
//
// All helpers call t.Fatalf on failure rather than returning errors,
// since test setup failures are not recoverable.
package testutil
