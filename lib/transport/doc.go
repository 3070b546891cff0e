// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package transport delivers upload payloads to the ingest endpoint.
//
// A [Payload] is encoded with lib/codec (deterministic CBOR, optional
// compression) and POSTed with:
//
//	Authorization:    Bearer <token from the TokenSource>
//	Content-Type:     application/cbor
//	Content-Encoding: lz4 | zstd (omitted for none)
//	Idempotency-Key:  BLAKE3 digest of the uncompressed encoding
//
// Anything other than a 2xx response is an [*Error]; the caller treats
// it as "not yet synchronized" and keeps the data. The receiving side
// uses [Decode] (see cmd/sessionlog-collector).
package transport
