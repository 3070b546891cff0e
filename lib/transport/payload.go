// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package transport

import (
	"fmt"
	"time"

	"github.com/bureau-foundation/sessionlog/lib/codec"
	"github.com/bureau-foundation/sessionlog/lib/eventstore"
)

// ContentType is the media type of an upload body before compression.
const ContentType = "application/cbor"

// Payload is one upload: sessions with their events, and items from
// other producers. Either part may be empty.
type Payload struct {
	Sessions []eventstore.SessionUploadBatch `json:"sessions,omitempty"`
	Items    []Item                          `json:"items,omitempty"`
}

// Item is one keyed record from a producer other than the session log.
// Value is the producer's own CBOR encoding.
type Item struct {
	Kind      string    `json:"kind"`
	Key       string    `json:"key"`
	Value     []byte    `json:"value"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Records returns the number of events across all sessions.
func (p Payload) Records() int {
	count := 0
	for _, session := range p.Sessions {
		count += len(session.Events)
	}
	return count
}

// Encoded is a payload ready to send.
type Encoded struct {
	Body        []byte
	Compression codec.Compression

	// Digest identifies the uncompressed encoding; identical payloads
	// produce identical digests across retries.
	Digest string

	// Size is the uncompressed encoded size.
	Size int
}

// Encode serializes payload to deterministic CBOR and compresses it.
func Encode(payload Payload, compression codec.Compression) (Encoded, error) {
	encoded, err := codec.Marshal(payload)
	if err != nil {
		return Encoded{}, fmt.Errorf("encoding upload payload: %w", err)
	}
	body, err := codec.Compress(encoded, compression)
	if err != nil {
		return Encoded{}, fmt.Errorf("compressing upload payload: %w", err)
	}
	return Encoded{
		Body:        body,
		Compression: compression,
		Digest:      codec.Digest(encoded),
		Size:        len(encoded),
	}, nil
}

// Decode reverses Encode. contentEncoding is the Content-Encoding
// header value ("" for none).
func Decode(body []byte, contentEncoding string) (Payload, string, error) {
	compression, err := codec.ParseCompression(contentEncoding)
	if err != nil {
		return Payload{}, "", err
	}
	encoded, err := codec.Decompress(body, compression)
	if err != nil {
		return Payload{}, "", fmt.Errorf("decompressing upload payload: %w", err)
	}
	var payload Payload
	if err := codec.Unmarshal(encoded, &payload); err != nil {
		return Payload{}, "", fmt.Errorf("decoding upload payload: %w", err)
	}
	return payload, codec.Digest(encoded), nil
}

// EncodedSize returns the uncompressed encoded size of a session
// batch, for sizing payloads before building them.
func EncodedSize(batch eventstore.SessionUploadBatch) (int, error) {
	return codec.MarshalSize(batch)
}
