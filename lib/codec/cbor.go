// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package codec

import (
	"io"
	"reflect"

	"github.com/fxamacker/cbor/v2"
)

// Upload payloads are encoded with Core Deterministic Encoding (RFC 8949
// §4.2) so that the same sessions always produce the same bytes, and
// therefore the same idempotency digest, across retries.
var (
	encMode cbor.EncMode
	decMode cbor.DecMode
)

func init() {
	var err error

	encOptions := cbor.CoreDetEncOptions()
	// Session and event timestamps travel as RFC 3339 text with
	// sub-second precision rather than as CBOR epoch numbers.
	encOptions.Time = cbor.TimeRFC3339Nano
	encMode, err = encOptions.EncMode()
	if err != nil {
		panic("codec: CBOR encoder initialization failed: " + err.Error())
	}

	decMode, err = cbor.DecOptions{
		// User properties and event metadata are map[string]any; the
		// decoder must not produce map[interface{}]interface{} for
		// nested maps or JSON re-encoding breaks.
		DefaultMapType: reflect.TypeOf(map[string]any(nil)),
	}.DecMode()
	if err != nil {
		panic("codec: CBOR decoder initialization failed: " + err.Error())
	}
}

// Marshal encodes v to deterministic CBOR.
func Marshal(v any) ([]byte, error) {
	return encMode.Marshal(v)
}

// Unmarshal decodes CBOR data into v.
func Unmarshal(data []byte, v any) error {
	return decMode.Unmarshal(data, v)
}

// Decoder is a CBOR stream decoder.
type Decoder = cbor.Decoder

// NewDecoder returns a decoder reading from r with the package's
// decoding options.
func NewDecoder(r io.Reader) *Decoder {
	return decMode.NewDecoder(r)
}

// Diagnose returns the RFC 8949 diagnostic notation for data. The
// inspector and the mock collector use it to print payloads.
func Diagnose(data []byte) (string, error) {
	return cbor.Diagnose(data)
}

// MarshalSize returns the encoded size of v. Used to keep upload
// payloads under the configured byte bound before the payload is
// actually assembled.
func MarshalSize(v any) (int, error) {
	data, err := encMode.Marshal(v)
	if err != nil {
		return 0, err
	}
	return len(data), nil
}
