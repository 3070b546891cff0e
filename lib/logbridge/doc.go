// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package logbridge turns application log records into session
// events, so diagnostics travel with the telemetry they explain.
//
// Each record becomes an event named "log" whose metadata holds the
// level, the message, and every attribute flattened to dotted keys.
// Appends go through the storage queue without waiting.
package logbridge
