// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package codec

import (
	"encoding/hex"

	"github.com/zeebo/blake3"
)

// uploadDomainKey separates upload digests from any other BLAKE3 use of
// the same bytes. ASCII, zero-padded to 32 bytes.
var uploadDomainKey = [32]byte{
	'b', 'u', 'r', 'e', 'a', 'u', '.', 's', 'e', 's', 's', 'i', 'o', 'n', 'l', 'o',
	'g', '.', 'u', 'p', 'l', 'o', 'a', 'd', 0, 0, 0, 0, 0, 0, 0, 0,
}

// Digest returns the hex BLAKE3 keyed hash of an encoded (uncompressed)
// payload. The transport sends it as the idempotency key: a retried
// upload of the same sessions carries the same key, so the receiver can
// drop the duplicate.
func Digest(encoded []byte) string {
	hasher, err := blake3.NewKeyed(uploadDomainKey[:])
	if err != nil {
		// NewKeyed only fails for keys that are not 32 bytes.
		panic("codec: blake3 keyed hasher: " + err.Error())
	}
	hasher.Write(encoded)
	return hex.EncodeToString(hasher.Sum(nil))
}
