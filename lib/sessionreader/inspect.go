// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package sessionreader

import (
	"errors"
	"iter"
	"os"
	"path/filepath"

	"github.com/bureau-foundation/sessionlog/lib/eventstore"
)

// Snapshot is a read-only view of one session directory.
type Snapshot struct {
	Session    eventstore.Session
	Directory  string
	EventBytes int64
}

// Pending returns the number of event bytes past the watermark.
func (s Snapshot) Pending() int64 {
	offset, _ := s.Session.SyncOffset()
	if int64(offset) >= s.EventBytes {
		return 0
	}
	return s.EventBytes - int64(offset)
}

// Snapshots yields every session under basePath without taking the
// base path lock and without repairing anything, so it is safe to run
// while another process owns the log.
func Snapshots(basePath string) iter.Seq2[Snapshot, error] {
	return func(yield func(Snapshot, error) bool) {
		for directory, err := range sessionDirectories(filepath.Join(basePath, SessionsDirectoryName)) {
			if err != nil {
				yield(Snapshot{}, err)
				return
			}
			if !yield(ReadSnapshot(basePath, filepath.Base(directory))) {
				return
			}
		}
	}
}

// ReadSnapshot reads one session's record and event log size.
func ReadSnapshot(basePath, sessionID string) (Snapshot, error) {
	directory, err := sessionDirectory(basePath, sessionID)
	if err != nil {
		return Snapshot{}, err
	}
	file, err := os.Open(filepath.Join(directory, eventstore.SessionFileName))
	if err != nil {
		return Snapshot{}, openError(sessionID, directory, err)
	}
	defer file.Close()
	session, err := eventstore.ReadSession(file)
	if err != nil {
		return Snapshot{}, err
	}

	snapshot := Snapshot{Session: session, Directory: directory}
	info, err := os.Stat(filepath.Join(directory, eventstore.EventsFileName))
	if err == nil {
		snapshot.EventBytes = info.Size()
	} else if !errors.Is(err, os.ErrNotExist) {
		return Snapshot{}, eventstore.IOError("stat", directory, err)
	}
	return snapshot, nil
}

// ReadSessionEvents decodes a session's whole event log read-only.
// skipped counts torn or undecodable lines.
func ReadSessionEvents(basePath, sessionID string) (events []eventstore.Event, skipped int, err error) {
	directory, err := sessionDirectory(basePath, sessionID)
	if err != nil {
		return nil, 0, err
	}
	if _, err := os.Stat(directory); err != nil {
		return nil, 0, openError(sessionID, directory, err)
	}
	decoded, err := readAllEvents(directory)
	if err != nil {
		return nil, 0, err
	}
	return decoded.events, decoded.skipped, nil
}

func sessionDirectory(basePath, sessionID string) (string, error) {
	if err := eventstore.ValidateSessionID(sessionID); err != nil {
		return "", err
	}
	return filepath.Join(basePath, SessionsDirectoryName, sessionID), nil
}

func openError(sessionID, directory string, err error) error {
	if errors.Is(err, os.ErrNotExist) {
		return &eventstore.StorageError{
			Kind:      eventstore.KindSessionNotFound,
			SessionID: sessionID,
			Path:      directory,
			Operation: "open",
			Err:       err,
		}
	}
	return eventstore.IOError("open", directory, err)
}
