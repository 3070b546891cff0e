// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package eventstore

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"
)

// File names inside a session directory.
const (
	SessionFileName = "session.json"
	EventsFileName  = "events.log"
)

// FileKind selects one of the two files backing a session.
type FileKind int

const (
	KindSessionFile FileKind = iota
	KindEventsFile
)

func (k FileKind) String() string {
	if k == KindEventsFile {
		return "events"
	}
	return "session"
}

// FileName returns the file name for k inside a session directory.
func (k FileKind) FileName() string {
	if k == KindEventsFile {
		return EventsFileName
	}
	return SessionFileName
}

// recordSeparator terminates every event line.
const recordSeparator = '\n'

// OpenFile opens (creating if needed) one of the session's files. The
// events file is opened in append mode and positioned at its end, so
// CurrentOffset is its size.
func OpenFile(directory string, kind FileKind, mode os.FileMode) (*os.File, error) {
	path := filepath.Join(directory, kind.FileName())
	flags := os.O_RDWR | os.O_CREATE
	if kind == KindEventsFile {
		flags |= os.O_APPEND
	}
	file, err := os.OpenFile(path, flags, mode)
	if err != nil {
		return nil, IOError("open", path, err)
	}
	if kind == KindEventsFile {
		if _, err := file.Seek(0, io.SeekEnd); err != nil {
			file.Close()
			return nil, IOError("seek", path, err)
		}
	}
	return file, nil
}

// Create makes the session directory and writes the initial session
// record. The events file is created empty.
func Create(directory string, session Session, mode os.FileMode) error {
	if err := os.MkdirAll(directory, 0o700); err != nil {
		return IOError("mkdir", directory, err)
	}
	sessionFile, err := OpenFile(directory, KindSessionFile, mode)
	if err != nil {
		return err
	}
	defer sessionFile.Close()
	if err := WriteSession(session, sessionFile); err != nil {
		return err
	}
	eventsFile, err := OpenFile(directory, KindEventsFile, mode)
	if err != nil {
		return err
	}
	if err := eventsFile.Close(); err != nil {
		return IOError("close", eventsFile.Name(), err)
	}
	syncDirectory(filepath.Dir(directory))
	return nil
}

// Files holds the two open handles of one session.
type Files struct {
	Session *os.File
	Events  *os.File
}

// Close closes both handles and returns the first error.
func (f *Files) Close() error {
	var first error
	for _, file := range []*os.File{f.Session, f.Events} {
		if file == nil {
			continue
		}
		if err := file.Close(); err != nil && first == nil && !errors.Is(err, os.ErrClosed) {
			first = IOError("close", file.Name(), err)
		}
	}
	return first
}

// Open opens or creates the session stored in directory. A missing
// directory is created with an initial record for sessionID stamped
// with now. An existing one is loaded and repaired by LoadSession.
func Open(directory, sessionID string, now time.Time, mode os.FileMode) (*Files, Session, error) {
	var session Session
	if _, err := os.Stat(filepath.Join(directory, SessionFileName)); errors.Is(err, os.ErrNotExist) {
		session = NewSession(sessionID, now)
		if err := Create(directory, session, mode); err != nil {
			return nil, Session{}, err
		}
	} else if err != nil {
		return nil, Session{}, IOError("stat", directory, err)
	} else if session, err = LoadSession(directory, sessionID, mode); err != nil {
		return nil, Session{}, err
	}

	sessionFile, err := OpenFile(directory, KindSessionFile, mode)
	if err != nil {
		return nil, Session{}, err
	}
	eventsFile, err := OpenFile(directory, KindEventsFile, mode)
	if err != nil {
		sessionFile.Close()
		return nil, Session{}, err
	}
	return &Files{Session: sessionFile, Events: eventsFile}, session, nil
}

// errEmptySession marks a session.json with no content: the process
// died between creating the file and its first write.
var errEmptySession = errors.New("empty session record")

// ReadSession decodes the whole session file.
func ReadSession(file *os.File) (Session, error) {
	info, err := file.Stat()
	if err != nil {
		return Session{}, IOError("stat", file.Name(), err)
	}
	if info.Size() == 0 {
		return Session{}, IOError("read", file.Name(), errEmptySession)
	}
	data := make([]byte, info.Size())
	if _, err := file.ReadAt(data, 0); err != nil && !errors.Is(err, io.EOF) {
		return Session{}, IOError("read", file.Name(), err)
	}
	var session Session
	if err := json.Unmarshal(data, &session); err != nil {
		return Session{}, IOError("decode", file.Name(), err)
	}
	if session.UserProperties == nil {
		session.UserProperties = map[string]any{}
	}
	return session, nil
}

// LoadSession opens a session directory's metadata read-write, repairs
// it if needed, and returns it. An empty record (crash during
// creation) is rewritten with sessionID and the directory's
// modification time. An interrupted compaction is completed or rolled
// back (see RecoverCompaction), a torn final event line is trimmed (see
// TrimTornTail), and a watermark past the trimmed end is pulled back to
// it.
func LoadSession(directory, sessionID string, mode os.FileMode) (Session, error) {
	file, err := OpenFile(directory, KindSessionFile, mode)
	if err != nil {
		return Session{}, err
	}
	defer file.Close()

	session, err := ReadSession(file)
	if errors.Is(err, errEmptySession) {
		createdAt := time.Now()
		if info, statErr := os.Stat(directory); statErr == nil {
			createdAt = info.ModTime()
		}
		session = NewSession(sessionID, createdAt)
		if err := WriteSession(session, file); err != nil {
			return Session{}, err
		}
	} else if err != nil {
		return Session{}, err
	}

	clearFlag, err := RecoverCompaction(directory, session.Compacting)
	if err != nil {
		return Session{}, err
	}
	dirty := clearFlag
	if clearFlag {
		session = session.WithCompacting(false)
	}

	size, err := TrimTornTail(directory)
	if err != nil {
		return Session{}, err
	}
	if watermark, synced := session.SyncOffset(); synced && watermark > size {
		session = session.WithSyncOffset(size)
		dirty = true
	}
	if dirty {
		if err := WriteSession(session, file); err != nil {
			return Session{}, err
		}
	}
	return session, nil
}

// TrimTornTail cuts events.log back to just after its last record
// separator, discarding a partial record left by a crash mid-write so
// the next append starts on a fresh line. Returns the resulting size.
// A missing log is size 0.
func TrimTornTail(directory string) (uint64, error) {
	path := filepath.Join(directory, EventsFileName)
	file, err := os.OpenFile(path, os.O_RDWR, 0)
	if errors.Is(err, os.ErrNotExist) {
		return 0, nil
	}
	if err != nil {
		return 0, IOError("open", path, err)
	}
	defer file.Close()

	info, err := file.Stat()
	if err != nil {
		return 0, IOError("stat", path, err)
	}
	size := info.Size()
	keep, err := lastRecordEnd(file, size)
	if err != nil {
		return 0, IOError("read", path, err)
	}
	if keep == size {
		return uint64(size), nil
	}
	if err := file.Truncate(keep); err != nil {
		return 0, IOError("truncate", path, err)
	}
	if err := file.Sync(); err != nil {
		return 0, IOError("sync", path, err)
	}
	return uint64(keep), nil
}

// lastRecordEnd returns the offset just past the last record separator
// in the first size bytes of file, or 0 when there is none.
func lastRecordEnd(file *os.File, size int64) (int64, error) {
	buffer := make([]byte, 4096)
	end := size
	for end > 0 {
		start := max(end-int64(len(buffer)), 0)
		chunk := buffer[:end-start]
		if _, err := file.ReadAt(chunk, start); err != nil && !errors.Is(err, io.EOF) {
			return 0, err
		}
		if index := bytes.LastIndexByte(chunk, recordSeparator); index >= 0 {
			return start + int64(index) + 1, nil
		}
		end = start
	}
	return 0, nil
}

// WriteSession replaces the content of the session file with session.
// When the new encoding is shorter than what is on disk the file is
// truncated first so no stale trailing bytes survive. The data is
// fsynced before returning.
func WriteSession(session Session, file *os.File) error {
	data, err := json.Marshal(session)
	if err != nil {
		return IOError("encode", file.Name(), err)
	}
	info, err := file.Stat()
	if err != nil {
		return IOError("stat", file.Name(), err)
	}
	if info.Size() > int64(len(data)) {
		if err := file.Truncate(int64(len(data))); err != nil {
			return IOError("truncate", file.Name(), err)
		}
	}
	if _, err := file.Seek(0, io.SeekStart); err != nil {
		return IOError("seek", file.Name(), err)
	}
	if _, err := file.Write(data); err != nil {
		return IOError("write", file.Name(), err)
	}
	if err := file.Sync(); err != nil {
		return IOError("sync", file.Name(), err)
	}
	return nil
}

// AppendEvent writes one event line at the end of the events file and
// fsyncs it. When the write or sync fails the file is cut back to its
// previous size, so a failed append never leaves a partial line.
func AppendEvent(event Event, file *os.File) error {
	data, err := json.Marshal(event)
	if err != nil {
		return IOError("encode", file.Name(), err)
	}
	data = append(data, recordSeparator)
	info, err := file.Stat()
	if err != nil {
		return IOError("stat", file.Name(), err)
	}
	if _, err := file.Write(data); err != nil {
		file.Truncate(info.Size())
		return IOError("write", file.Name(), err)
	}
	if err := file.Sync(); err != nil {
		file.Truncate(info.Size())
		return IOError("sync", file.Name(), err)
	}
	return nil
}

// CurrentOffset returns the handle's current position. For the events
// handle this is the size of the log.
func CurrentOffset(file *os.File) (uint64, error) {
	offset, err := file.Seek(0, io.SeekCurrent)
	if err != nil {
		return 0, IOError("seek", file.Name(), err)
	}
	return uint64(offset), nil
}

// Truncate discards every byte from offset to the end of the file and
// leaves the handle positioned at the new end.
func Truncate(file *os.File, offset uint64) error {
	if err := file.Truncate(int64(offset)); err != nil {
		return IOError("truncate", file.Name(), err)
	}
	if _, err := file.Seek(int64(offset), io.SeekStart); err != nil {
		return IOError("seek", file.Name(), err)
	}
	if err := file.Sync(); err != nil {
		return IOError("sync", file.Name(), err)
	}
	return nil
}

// ReadEvents decodes events from the start of the file up to limit
// bytes (limit < 0 means to the end). A final line without a record
// separator is a torn write from a crash and is ignored, as is any
// line that fails to decode; skipped counts both.
func ReadEvents(file *os.File, limit int64) (events []Event, skipped int, err error) {
	if limit < 0 {
		info, statErr := file.Stat()
		if statErr != nil {
			return nil, 0, IOError("stat", file.Name(), statErr)
		}
		limit = info.Size()
	}

	reader := bufio.NewReader(io.NewSectionReader(file, 0, limit))
	for {
		line, readErr := reader.ReadBytes(recordSeparator)
		if readErr != nil {
			if !errors.Is(readErr, io.EOF) {
				return nil, skipped, IOError("read", file.Name(), readErr)
			}
			if len(bytes.TrimSpace(line)) > 0 {
				skipped++
			}
			return events, skipped, nil
		}
		line = bytes.TrimSpace(line)
		if len(line) == 0 {
			continue
		}
		var event Event
		if err := json.Unmarshal(line, &event); err != nil {
			skipped++
			continue
		}
		events = append(events, event)
	}
}

// syncDirectory fsyncs a directory so a create, rename, or delete in it
// is durable. Best effort: not every filesystem supports it.
func syncDirectory(path string) {
	directory, err := os.Open(path)
	if err != nil {
		return
	}
	directory.Sync()
	directory.Close()
}

// ValidateSessionID rejects ids that would escape the base directory.
func ValidateSessionID(sessionID string) error {
	if sessionID == "" || sessionID == "." || sessionID == ".." || filepath.Base(sessionID) != sessionID {
		return fmt.Errorf("invalid session id %q", sessionID)
	}
	return nil
}
