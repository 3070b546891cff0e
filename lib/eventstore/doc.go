// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package eventstore is the physical representation of one session on
// disk:
//
//	<base>/sessions/<sessionId>/
//	    session.json   one JSON Session, rewritten in place on every change
//	    events.log     newline-delimited JSON Events, append-only
//
// Every write is fsynced before the function returns. Every failure is
// a *StorageError carrying the path and operation; nothing here retries.
//
// The functions operate on *os.File handles owned by the caller
// (lib/sessionreader caches them). The only mutation of events.log other
// than appending is removing the synchronized prefix, which is done by
// the staged compaction protocol in compact.go.
package eventstore
