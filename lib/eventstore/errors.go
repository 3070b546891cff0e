// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package eventstore

import (
	"errors"
	"fmt"
)

// ErrorKind classifies a StorageError.
type ErrorKind int

const (
	// KindIO is a failed filesystem operation: permissions, disk
	// full, a revoked handle that could not be reopened.
	KindIO ErrorKind = iota

	// KindSessionNotFound means the session directory does not exist.
	KindSessionNotFound

	// KindSessionInUse means the operation targeted the current
	// in-progress session, which may not be deleted.
	KindSessionInUse
)

// Sentinels for errors.Is against a *StorageError of the matching kind.
var (
	ErrIO              = errors.New("storage i/o failure")
	ErrSessionNotFound = errors.New("session not found")
	ErrSessionInUse    = errors.New("session is in use")
)

// StorageError is the only error type returned by the storage layers.
// Path and Operation say what was being done when it failed.
type StorageError struct {
	Kind      ErrorKind
	SessionID string
	Path      string
	Operation string
	Err       error
}

func (e *StorageError) Error() string {
	switch e.Kind {
	case KindSessionNotFound:
		return fmt.Sprintf("session %s not found at %s", e.SessionID, e.Path)
	case KindSessionInUse:
		return fmt.Sprintf("session %s is the current session", e.SessionID)
	default:
		if e.Err == nil {
			return fmt.Sprintf("%s %s failed", e.Operation, e.Path)
		}
		return fmt.Sprintf("%s %s: %v", e.Operation, e.Path, e.Err)
	}
}

func (e *StorageError) Unwrap() error { return e.Err }

// Is matches the kind sentinels.
func (e *StorageError) Is(target error) bool {
	switch target {
	case ErrIO:
		return e.Kind == KindIO
	case ErrSessionNotFound:
		return e.Kind == KindSessionNotFound
	case ErrSessionInUse:
		return e.Kind == KindSessionInUse
	}
	return false
}

// IOError wraps err as a KindIO StorageError.
func IOError(operation, path string, err error) error {
	return &StorageError{Kind: KindIO, Path: path, Operation: operation, Err: err}
}
