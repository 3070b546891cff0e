// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package transport

import (
	"errors"
	"fmt"
)

// Error is a failed upload. StatusCode is zero when no response was
// received (connection refused, timeout, cancelled).
type Error struct {
	StatusCode int
	Message    string
	Err        error
}

func (e *Error) Error() string {
	if e.StatusCode != 0 {
		if e.Message == "" {
			return fmt.Sprintf("upload: HTTP %d", e.StatusCode)
		}
		return fmt.Sprintf("upload: HTTP %d: %s", e.StatusCode, e.Message)
	}
	return fmt.Sprintf("upload: %v", e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// IsRejected reports whether the endpoint received the payload and
// refused it (4xx other than 408 and 429). Retrying the same payload
// will not help.
func IsRejected(err error) bool {
	var uploadError *Error
	if !errors.As(err, &uploadError) {
		return false
	}
	code := uploadError.StatusCode
	return code >= 400 && code < 500 && code != 408 && code != 429
}
