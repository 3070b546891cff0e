// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package eventstore

import (
	"errors"
	"io"
	"os"
	"path/filepath"
)

// compactFileName holds the retained tail of events.log while a
// compaction is in progress.
const compactFileName = EventsFileName + ".compact"

// Discarding the synchronized prefix of events.log is a read-tail and
// rewrite, done in four durable steps so a crash at any point leaves
// either the old log with the old watermark, or the new log with a
// zero watermark:
//
//  1. StageCompaction copies [offset, EOF) into events.log.compact and
//     fsyncs it.
//  2. The caller writes the session with watermark 0 and Compacting set.
//  3. CommitCompaction renames the compact file over events.log. The
//     caller must reopen its events handle.
//  4. The caller writes the session with Compacting cleared.
//
// RecoverCompaction reconciles a directory left between steps.

// StageCompaction writes the bytes of events from offset to the end
// into the compact file. The cost is proportional to the retained
// tail, not the whole log.
func StageCompaction(directory string, events *os.File, offset uint64, mode os.FileMode) error {
	path := filepath.Join(directory, compactFileName)
	info, err := events.Stat()
	if err != nil {
		return IOError("stat", events.Name(), err)
	}
	if offset > uint64(info.Size()) {
		offset = uint64(info.Size())
	}

	compact, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, mode)
	if err != nil {
		return IOError("create", path, err)
	}
	tail := io.NewSectionReader(events, int64(offset), info.Size()-int64(offset))
	if _, err := io.Copy(compact, tail); err != nil {
		compact.Close()
		os.Remove(path)
		return IOError("copy", path, err)
	}
	if err := compact.Sync(); err != nil {
		compact.Close()
		os.Remove(path)
		return IOError("sync", path, err)
	}
	if err := compact.Close(); err != nil {
		os.Remove(path)
		return IOError("close", path, err)
	}
	return nil
}

// AbortCompaction removes a staged compact file. Used when step 2
// fails, so the old log and watermark remain authoritative.
func AbortCompaction(directory string) error {
	path := filepath.Join(directory, compactFileName)
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return IOError("remove", path, err)
	}
	return nil
}

// CommitCompaction replaces events.log with the staged compact file.
func CommitCompaction(directory string) error {
	from := filepath.Join(directory, compactFileName)
	to := filepath.Join(directory, EventsFileName)
	if err := os.Rename(from, to); err != nil {
		return IOError("rename", from, err)
	}
	syncDirectory(directory)
	return nil
}

// RecoverCompaction finishes or discards a compaction interrupted by a
// crash. compacting is the flag read from session.json. Returns true
// when the caller must persist the session with the flag cleared.
func RecoverCompaction(directory string, compacting bool) (bool, error) {
	path := filepath.Join(directory, compactFileName)
	_, err := os.Stat(path)
	staged := err == nil
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return false, IOError("stat", path, err)
	}

	switch {
	case compacting && staged:
		// Crashed after step 2: the zero watermark is durable, so the
		// rename must happen.
		if err := CommitCompaction(directory); err != nil {
			return false, err
		}
		return true, nil
	case compacting:
		// Crashed after step 3.
		return true, nil
	case staged:
		// Crashed before step 2: the old log is still authoritative.
		return false, AbortCompaction(directory)
	}
	return false, nil
}
