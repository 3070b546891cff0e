// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package codec is the wire encoding of upload payloads.
//
// Sessions and events are stored on disk as JSON (one session.json and
// one newline-delimited events.log per session) because those files
// must be readable with ordinary tools and appendable one record at a
// time. When a batch of sessions leaves the device it is re-encoded as
// deterministic CBOR, optionally compressed, and tagged with a BLAKE3
// digest of the encoded bytes:
//
//	encoded, err := codec.Marshal(payload)
//	body, err := codec.Compress(encoded, codec.CompressionZstd)
//	key := codec.Digest(encoded)
//
// Struct types that travel in payloads carry `json` tags only;
// fxamacker/cbor reads them as a fallback, so one tag controls field
// names in both the on-disk JSON and the CBOR payload.
package codec
