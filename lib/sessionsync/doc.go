// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package sessionsync is the session log's sync module: it turns a
// sync pass into watermark bookkeeping, uploads, and purges.
//
// The current session is uploaded as the slice of its log below a
// freshly recorded watermark; events appended during the upload wait
// for the next pass. Completed sessions are read one at a time and
// grouped into payloads bounded by encoded size and session count.
// Only data the endpoint accepted is deleted.
package sessionsync
