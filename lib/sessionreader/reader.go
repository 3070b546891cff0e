// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package sessionreader

import (
	"errors"
	"fmt"
	"io"
	"iter"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	"github.com/bureau-foundation/sessionlog/lib/clock"
	"github.com/bureau-foundation/sessionlog/lib/eventstore"
)

// SessionsDirectoryName is the directory under the base path that holds
// one directory per session.
const SessionsDirectoryName = "sessions"

// Config configures a Reader.
type Config struct {
	// BasePath is the root of the session log. Sessions live in
	// BasePath/sessions.
	BasePath string

	// LockPath is the file locked for the lifetime of the Reader.
	// Defaults to BasePath/sessions/.lock.
	LockPath string

	// FileMode is the permission for newly created files. Defaults
	// to 0600.
	FileMode os.FileMode

	// Clock stamps new sessions. Defaults to clock.Real().
	Clock clock.Clock

	// Logger defaults to a discard logger.
	Logger *slog.Logger

	// NewID generates session ids. Defaults to uuid.NewString.
	NewID func() string
}

// Context is the current session: its directory, the record loaded
// when it was opened, and the cached file handles.
type Context struct {
	SessionID string
	Directory string

	// Session is the record as it was on disk when the context was
	// opened. Session Storage keeps the live copy.
	Session eventstore.Session

	sessionFile *os.File
	eventsFile  *os.File
}

// Reader owns the session directories under a base path and the file
// handles of the current session. It is not safe for concurrent use:
// Session Storage calls it from a single goroutine.
type Reader struct {
	sessionsPath string
	fileMode     os.FileMode
	clock        clock.Clock
	logger       *slog.Logger
	newID        func() string
	lock         *baseLock

	current *Context
}

// New creates the sessions directory if needed and takes the base
// path lock.
func New(config Config) (*Reader, error) {
	if config.BasePath == "" {
		return nil, errors.New("sessionreader: BasePath is required")
	}
	if config.FileMode == 0 {
		config.FileMode = 0o600
	}
	if config.Clock == nil {
		config.Clock = clock.Real()
	}
	if config.Logger == nil {
		config.Logger = slog.New(slog.DiscardHandler)
	}
	if config.NewID == nil {
		config.NewID = uuid.NewString
	}

	sessionsPath := filepath.Join(config.BasePath, SessionsDirectoryName)
	if err := os.MkdirAll(sessionsPath, 0o700); err != nil {
		return nil, eventstore.IOError("mkdir", sessionsPath, err)
	}
	lockPath := config.LockPath
	if lockPath == "" {
		lockPath = filepath.Join(sessionsPath, ".lock")
	}
	lock, err := acquireLock(lockPath)
	if err != nil {
		return nil, err
	}

	return &Reader{
		sessionsPath: sessionsPath,
		fileMode:     config.FileMode,
		clock:        config.Clock,
		logger:       config.Logger,
		newID:        config.NewID,
		lock:         lock,
	}, nil
}

// SessionsPath returns BasePath/sessions.
func (r *Reader) SessionsPath() string { return r.sessionsPath }

// FileMode returns the permission used for new files.
func (r *Reader) FileMode() os.FileMode { return r.fileMode }

// Current returns the open context, or nil.
func (r *Reader) Current() *Context { return r.current }

// LoadOrCreateCurrent returns the current session context. Without a
// cached context it resumes the most recently created session that has
// not been ended, or creates a new one. Repeated calls return the same
// context until CloseCurrent.
func (r *Reader) LoadOrCreateCurrent() (*Context, error) {
	if r.current != nil {
		return r.current, nil
	}

	var open []eventstore.Session
	for directory, err := range r.AllSessionDirectories() {
		if err != nil {
			return nil, err
		}
		session, err := eventstore.LoadSession(directory, filepath.Base(directory), r.fileMode)
		if err != nil {
			r.logger.Warn("skipping unreadable session",
				"path", directory,
				"error", err,
			)
			continue
		}
		if !session.Ended() {
			open = append(open, session)
		}
	}

	var latest *eventstore.Session
	for i := range open {
		session := &open[i]
		if latest == nil || session.CreatedAt.After(latest.CreatedAt) ||
			(session.CreatedAt.Equal(latest.CreatedAt) && session.SessionID > latest.SessionID) {
			latest = session
		}
	}
	// Older unended sessions were left by processes that died without
	// ending them. They are completed now and must never be resumed.
	for _, session := range open {
		if latest != nil && session.SessionID != latest.SessionID {
			r.markEnded(session)
		}
	}

	sessionID := ""
	if latest != nil {
		sessionID = latest.SessionID
	} else {
		sessionID = r.newID()
		if err := eventstore.ValidateSessionID(sessionID); err != nil {
			return nil, err
		}
	}

	directory := filepath.Join(r.sessionsPath, sessionID)
	files, session, err := eventstore.Open(directory, sessionID, r.clock.Now(), r.fileMode)
	if err != nil {
		return nil, err
	}
	if latest != nil {
		r.logger.Info("resumed session", "session_id", sessionID, "created_at", session.CreatedAt)
	} else {
		r.logger.Info("created session", "session_id", sessionID)
	}

	r.current = &Context{
		SessionID:   sessionID,
		Directory:   directory,
		Session:     session,
		sessionFile: files.Session,
		eventsFile:  files.Events,
	}
	return r.current, nil
}

func (r *Reader) markEnded(session eventstore.Session) {
	directory := filepath.Join(r.sessionsPath, session.SessionID)
	file, err := eventstore.OpenFile(directory, eventstore.KindSessionFile, r.fileMode)
	if err == nil {
		err = eventstore.WriteSession(session.WithEndedAt(r.clock.Now()), file)
		file.Close()
	}
	if err != nil {
		r.logger.Warn("marking superseded session ended failed",
			"session_id", session.SessionID,
			"error", err,
		)
		return
	}
	r.logger.Info("superseded session marked ended", "session_id", session.SessionID)
}

// HandleFor returns the cached handle of kind for context, opening it
// if needed. A handle that was closed (Suspend, Invalidate) or revoked
// by the operating system is reopened.
func (r *Reader) HandleFor(context *Context, kind eventstore.FileKind) (*os.File, error) {
	slot := &context.sessionFile
	if kind == eventstore.KindEventsFile {
		slot = &context.eventsFile
	}

	if *slot != nil {
		_, err := (*slot).Stat()
		if err == nil {
			return *slot, nil
		}
		r.logger.Info("reopening invalidated handle",
			"session_id", context.SessionID,
			"file", kind.String(),
			"error", err,
		)
		(*slot).Close()
		*slot = nil
	}

	file, err := eventstore.OpenFile(context.Directory, kind, r.fileMode)
	if err != nil {
		return nil, err
	}
	*slot = file
	return file, nil
}

// Invalidate closes the cached handle of kind so the next HandleFor
// opens a fresh one. Used after the events file is replaced.
func (r *Reader) Invalidate(context *Context, kind eventstore.FileKind) {
	slot := &context.sessionFile
	if kind == eventstore.KindEventsFile {
		slot = &context.eventsFile
	}
	if *slot != nil {
		(*slot).Close()
		*slot = nil
	}
}

// Suspend closes the current session's handles but keeps the context,
// so the next operation reopens them. Called when the process is about
// to lose file access (backgrounding).
func (r *Reader) Suspend() error {
	if r.current == nil {
		return nil
	}
	return closeHandles(r.current)
}

// CloseCurrent flushes and closes the current session's handles and
// forgets the context. The next LoadOrCreateCurrent scans again.
func (r *Reader) CloseCurrent() error {
	if r.current == nil {
		return nil
	}
	err := closeHandles(r.current)
	r.current = nil
	return err
}

func closeHandles(context *Context) error {
	var errs []error
	for _, slot := range []**os.File{&context.sessionFile, &context.eventsFile} {
		file := *slot
		if file == nil {
			continue
		}
		if err := file.Sync(); err != nil && !errors.Is(err, os.ErrClosed) {
			errs = append(errs, eventstore.IOError("sync", file.Name(), err))
		}
		if err := file.Close(); err != nil && !errors.Is(err, os.ErrClosed) {
			errs = append(errs, eventstore.IOError("close", file.Name(), err))
		}
		*slot = nil
	}
	return errors.Join(errs...)
}

// Close closes the current session and releases the base path lock.
func (r *Reader) Close() error {
	return errors.Join(r.CloseCurrent(), r.lock.release())
}

// AllSessionDirectories yields the path of every session directory,
// reading the parent directory in chunks. Order is directory
// enumeration order.
func (r *Reader) AllSessionDirectories() iter.Seq2[string, error] {
	return sessionDirectories(r.sessionsPath)
}

func sessionDirectories(sessionsPath string) iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		parent, err := os.Open(sessionsPath)
		if err != nil {
			if errors.Is(err, os.ErrNotExist) {
				return
			}
			yield("", eventstore.IOError("open", sessionsPath, err))
			return
		}
		defer parent.Close()

		for {
			entries, err := parent.ReadDir(64)
			for _, entry := range entries {
				if !entry.IsDir() || strings.HasPrefix(entry.Name(), ".") {
					continue
				}
				if !yield(filepath.Join(sessionsPath, entry.Name()), nil) {
					return
				}
			}
			if errors.Is(err, io.EOF) {
				return
			}
			if err != nil {
				yield("", eventstore.IOError("readdir", sessionsPath, err))
				return
			}
		}
	}
}

// DeleteSession removes a session directory. The current session is
// refused with ErrSessionInUse; a missing directory is
// ErrSessionNotFound.
func (r *Reader) DeleteSession(sessionID string) error {
	if err := eventstore.ValidateSessionID(sessionID); err != nil {
		return err
	}
	directory := filepath.Join(r.sessionsPath, sessionID)
	if r.current != nil && r.current.SessionID == sessionID {
		return &eventstore.StorageError{
			Kind:      eventstore.KindSessionInUse,
			SessionID: sessionID,
			Path:      directory,
			Operation: "delete",
		}
	}
	if _, err := os.Stat(directory); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return &eventstore.StorageError{
				Kind:      eventstore.KindSessionNotFound,
				SessionID: sessionID,
				Path:      directory,
				Operation: "delete",
				Err:       err,
			}
		}
		return eventstore.IOError("stat", directory, err)
	}
	if err := os.RemoveAll(directory); err != nil {
		return eventstore.IOError("remove", directory, err)
	}
	r.logger.Debug("deleted session", "session_id", sessionID)
	return nil
}

// HasCompletedSessions reports whether any session directory other
// than the current one exists.
func (r *Reader) HasCompletedSessions() (bool, error) {
	for directory, err := range r.AllSessionDirectories() {
		if err != nil {
			return false, err
		}
		if r.current == nil || filepath.Base(directory) != r.current.SessionID {
			return true, nil
		}
	}
	return false, nil
}

// GenerateUploadBatches yields one batch per completed session,
// reading each session's events only when its batch is requested. A
// session that cannot be read yields an error and enumeration
// continues with the next one. The sequence is finite and should be
// called again to retry from scratch.
func (r *Reader) GenerateUploadBatches() iter.Seq2[eventstore.SessionUploadBatch, error] {
	return func(yield func(eventstore.SessionUploadBatch, error) bool) {
		for directory, err := range r.AllSessionDirectories() {
			if err != nil {
				yield(eventstore.SessionUploadBatch{}, err)
				return
			}
			sessionID := filepath.Base(directory)
			if r.current != nil && sessionID == r.current.SessionID {
				continue
			}
			batch, err := r.loadBatch(directory, sessionID)
			if err != nil {
				r.logger.Warn("reading completed session failed",
					"session_id", sessionID,
					"error", err,
				)
			}
			if !yield(batch, err) {
				return
			}
		}
	}
}

func (r *Reader) loadBatch(directory, sessionID string) (eventstore.SessionUploadBatch, error) {
	session, err := eventstore.LoadSession(directory, sessionID, r.fileMode)
	if err != nil {
		return eventstore.SessionUploadBatch{}, err
	}
	events, err := readAllEvents(directory)
	if err != nil {
		return eventstore.SessionUploadBatch{}, err
	}
	if skipped := events.skipped; skipped > 0 {
		r.logger.Warn("skipped undecodable events",
			"session_id", sessionID,
			"count", skipped,
		)
	}
	return eventstore.SessionUploadBatch{Session: session, Events: events.events}, nil
}

type decodedEvents struct {
	events  []eventstore.Event
	skipped int
}

func readAllEvents(directory string) (decodedEvents, error) {
	path := filepath.Join(directory, eventstore.EventsFileName)
	file, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		return decodedEvents{}, nil
	}
	if err != nil {
		return decodedEvents{}, eventstore.IOError("open", path, err)
	}
	defer file.Close()
	events, skipped, err := eventstore.ReadEvents(file, -1)
	if err != nil {
		return decodedEvents{}, fmt.Errorf("reading %s: %w", path, err)
	}
	return decodedEvents{events: events, skipped: skipped}, nil
}
