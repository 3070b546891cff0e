// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package lifecycle turns host application lifecycle signals into
// session events, sync requests, and session boundaries.
//
// Each [Signal] maps to an [Action] in a [Table]. The table is data so
// that deployments can change the mapping in configuration; the
// default follows the usual mobile pattern: going inactive flushes
// immediately and arms a background budget, and when that budget runs
// out the session ends even if the flush has not finished. Becoming
// active again before expiry cancels the budget and the session
// continues.
package lifecycle
