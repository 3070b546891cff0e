// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package sessionstorage

import (
	"context"
	"errors"
	"iter"
	"log/slog"
	"maps"
	"sync"

	"github.com/bureau-foundation/sessionlog/lib/clock"
	"github.com/bureau-foundation/sessionlog/lib/eventstore"
	"github.com/bureau-foundation/sessionlog/lib/sessionreader"
)

// DefaultQueueDepth is the number of submitted operations that may
// wait for the worker before submitters block.
const DefaultQueueDepth = 256

// Config configures a Storage.
type Config struct {
	Reader     *sessionreader.Reader
	Clock      clock.Clock
	Logger     *slog.Logger
	QueueDepth int
}

// Storage serializes every read and write of the session log onto one
// worker goroutine. Methods are safe for concurrent use; operations
// from one goroutine complete in the order they were called.
type Storage struct {
	clock  clock.Clock
	logger *slog.Logger

	jobs      chan job
	stop      chan struct{}
	done      chan struct{}
	closeOnce sync.Once
	closeErr  error

	// submitClosed is set by Close after the close job ran. Senders
	// hold the read lock while sending so none can slip in after it.
	submitMutex  sync.RWMutex
	submitClosed bool

	// Owned by the worker goroutine.
	reader  *sessionreader.Reader
	current *sessionreader.Context
	session eventstore.Session
	closed  bool
}

// New starts the storage worker. The reader is owned by the Storage
// from here on and is closed by Close.
func New(config Config) (*Storage, error) {
	if config.Reader == nil {
		return nil, errors.New("sessionstorage: Reader is required")
	}
	if config.Clock == nil {
		config.Clock = clock.Real()
	}
	if config.Logger == nil {
		config.Logger = slog.New(slog.DiscardHandler)
	}
	if config.QueueDepth <= 0 {
		config.QueueDepth = DefaultQueueDepth
	}
	s := &Storage{
		clock:  config.Clock,
		logger: config.Logger,
		jobs:   make(chan job, config.QueueDepth),
		stop:   make(chan struct{}),
		done:   make(chan struct{}),
		reader: config.Reader,
	}
	go s.worker()
	return s, nil
}

// ensureCurrent loads or creates the current session and adopts its
// record as the in-memory snapshot when the context changed.
func (s *Storage) ensureCurrent() (*sessionreader.Context, error) {
	context, err := s.reader.LoadOrCreateCurrent()
	if err != nil {
		return nil, err
	}
	if context != s.current {
		s.current = context
		s.session = context.Session
	}
	return context, nil
}

// persist writes session to disk and, only when that succeeded, makes
// it the in-memory snapshot.
func (s *Storage) persist(session eventstore.Session) error {
	handle, err := s.reader.HandleFor(s.current, eventstore.KindSessionFile)
	if err != nil {
		return err
	}
	if err := eventstore.WriteSession(session, handle); err != nil {
		return err
	}
	s.session = session
	return nil
}

func (s *Storage) eventsOffset() (uint64, error) {
	handle, err := s.reader.HandleFor(s.current, eventstore.KindEventsFile)
	if err != nil {
		return 0, err
	}
	return eventstore.CurrentOffset(handle)
}

// InitializeSessions loads or creates the current session and writes
// it to disk, so a session exists even if no event is ever appended.
func (s *Storage) InitializeSessions(ctx context.Context) error {
	return s.do(ctx, "initialize", func() error {
		if _, err := s.ensureCurrent(); err != nil {
			return err
		}
		return s.persist(s.session)
	})
}

// CurrentSession returns a copy of the current session record. The
// copy always matches what is on disk.
func (s *Storage) CurrentSession(ctx context.Context) (eventstore.Session, error) {
	var session eventstore.Session
	err := s.do(ctx, "current_session", func() error {
		if _, err := s.ensureCurrent(); err != nil {
			return err
		}
		session = s.session
		session.UserProperties = maps.Clone(s.session.UserProperties)
		return nil
	})
	return session, err
}

// UpdateUserProperty sets one user property on the current session. A
// nil value removes the key.
func (s *Storage) UpdateUserProperty(ctx context.Context, key string, value any) error {
	return s.do(ctx, "update_user_property", func() error {
		if _, err := s.ensureCurrent(); err != nil {
			return err
		}
		return s.persist(s.session.WithUpdatedProperty(key, value))
	})
}

// UpdateUserProperties applies every entry as UpdateUserProperty would,
// in a single write.
func (s *Storage) UpdateUserProperties(ctx context.Context, properties map[string]any) error {
	properties = maps.Clone(properties)
	return s.do(ctx, "update_user_properties", func() error {
		if _, err := s.ensureCurrent(); err != nil {
			return err
		}
		return s.persist(s.session.WithUpdatedProperties(properties))
	})
}

// AppendEvent appends event to the current session's log and waits
// until it is durable. A zero CreatedAt is stamped with the clock.
func (s *Storage) AppendEvent(ctx context.Context, event eventstore.Event) error {
	return s.do(ctx, "append_event", s.appendJob(event))
}

// AppendEventAsync enqueues an append and returns its result future,
// which receives exactly one value. It blocks only while the queue is
// full.
func (s *Storage) AppendEventAsync(event eventstore.Event) <-chan error {
	return s.submit(context.Background(), "append_event", s.appendJob(event))
}

func (s *Storage) appendJob(event eventstore.Event) func() error {
	if event.CreatedAt.IsZero() {
		event.CreatedAt = s.clock.Now()
	}
	event.CreatedAt = event.CreatedAt.UTC()
	event.Metadata = maps.Clone(event.Metadata)
	return func() error {
		if _, err := s.ensureCurrent(); err != nil {
			return err
		}
		handle, err := s.reader.HandleFor(s.current, eventstore.KindEventsFile)
		if err != nil {
			return err
		}
		return eventstore.AppendEvent(event, handle)
	}
}

// HasNewEvents reports whether the current session's log has grown
// past its watermark. A session that was never synced always has new
// events.
func (s *Storage) HasNewEvents(ctx context.Context) (bool, error) {
	var hasNew bool
	err := s.do(ctx, "has_new_events", func() error {
		if _, err := s.ensureCurrent(); err != nil {
			return err
		}
		watermark, synced := s.session.SyncOffset()
		if !synced {
			hasNew = true
			return nil
		}
		offset, err := s.eventsOffset()
		if err != nil {
			return err
		}
		hasNew = offset > watermark
		return nil
	})
	return hasNew, err
}

// HasCompletedSessions reports whether any session other than the
// current one is waiting for upload.
func (s *Storage) HasCompletedSessions(ctx context.Context) (bool, error) {
	var hasCompleted bool
	err := s.do(ctx, "has_completed_sessions", func() error {
		if _, err := s.ensureCurrent(); err != nil {
			return err
		}
		var err error
		hasCompleted, err = s.reader.HasCompletedSessions()
		return err
	})
	return hasCompleted, err
}

// RecordSyncBegan moves the current session's watermark to the end of
// its log and persists it. Events appended later belong to the next
// sync. Returns the new watermark.
func (s *Storage) RecordSyncBegan(ctx context.Context) (uint64, error) {
	var watermark uint64
	err := s.do(ctx, "record_sync_began", func() error {
		if _, err := s.ensureCurrent(); err != nil {
			return err
		}
		offset, err := s.eventsOffset()
		if err != nil {
			return err
		}
		if previous, synced := s.session.SyncOffset(); synced && offset < previous {
			// The log cannot shrink except through a purge, which
			// resets the watermark. Never move it backwards.
			offset = previous
		}
		if err := s.persist(s.session.WithSyncOffset(offset)); err != nil {
			return err
		}
		watermark = offset
		return nil
	})
	return watermark, err
}

// PendingCurrentSession returns the current session record with the
// events between the start of its log and the watermark: the slice
// the in-flight sync covers.
func (s *Storage) PendingCurrentSession(ctx context.Context) (eventstore.SessionUploadBatch, error) {
	var batch eventstore.SessionUploadBatch
	err := s.do(ctx, "pending_current_session", func() error {
		if _, err := s.ensureCurrent(); err != nil {
			return err
		}
		session := s.session
		session.UserProperties = maps.Clone(s.session.UserProperties)
		batch = eventstore.SessionUploadBatch{Session: session}

		watermark, _ := s.session.SyncOffset()
		if watermark == 0 {
			return nil
		}
		handle, err := s.reader.HandleFor(s.current, eventstore.KindEventsFile)
		if err != nil {
			return err
		}
		events, skipped, err := eventstore.ReadEvents(handle, int64(watermark))
		if err != nil {
			return err
		}
		if skipped > 0 {
			s.logger.Warn("skipped undecodable events",
				"session_id", s.current.SessionID,
				"count", skipped,
			)
		}
		batch.Events = events
		return nil
	})
	return batch, err
}

// AllSessionsForUpload yields an upload batch per completed session.
// Each step runs on the storage queue, so a session's events are read
// only when its batch is requested and never concurrently with a
// write. The sequence is finite; call again to start over.
func (s *Storage) AllSessionsForUpload(ctx context.Context) iter.Seq2[eventstore.SessionUploadBatch, error] {
	return func(yield func(eventstore.SessionUploadBatch, error) bool) {
		var next func() (eventstore.SessionUploadBatch, error, bool)
		var stop func()
		err := s.do(ctx, "upload_batches", func() error {
			if _, err := s.ensureCurrent(); err != nil {
				return err
			}
			next, stop = iter.Pull2(s.reader.GenerateUploadBatches())
			return nil
		})
		if err != nil {
			yield(eventstore.SessionUploadBatch{}, err)
			return
		}
		defer func() {
			if s.do(context.Background(), "upload_batches_stop", func() error { stop(); return nil }) != nil {
				// The worker is gone, nothing else can be calling next.
				stop()
			}
		}()

		for {
			var batch eventstore.SessionUploadBatch
			var batchErr error
			var ok bool
			err := s.do(ctx, "upload_batches_next", func() error {
				batch, batchErr, ok = next()
				return nil
			})
			if err != nil {
				yield(eventstore.SessionUploadBatch{}, err)
				return
			}
			if !ok || !yield(batch, batchErr) {
				return
			}
		}
	}
}

// DeleteSynchronizedData removes the directories of the given
// completed sessions and discards the synchronized prefix of the
// current session's log, resetting its watermark to zero. Ids that no
// longer exist are ignored, so repeating a call is harmless. Every id
// is attempted; failures are joined.
func (s *Storage) DeleteSynchronizedData(ctx context.Context, sessionIDs []string) error {
	sessionIDs = append([]string(nil), sessionIDs...)
	return s.do(ctx, "delete_synchronized_data", func() error {
		if _, err := s.ensureCurrent(); err != nil {
			return err
		}
		var errs []error
		for _, sessionID := range sessionIDs {
			if sessionID == s.current.SessionID {
				continue
			}
			err := s.reader.DeleteSession(sessionID)
			if errors.Is(err, eventstore.ErrSessionNotFound) {
				s.logger.Debug("synchronized session already deleted", "session_id", sessionID)
				continue
			}
			if err != nil {
				errs = append(errs, err)
			}
		}
		if err := s.purgeCurrent(); err != nil {
			errs = append(errs, err)
		}
		return errors.Join(errs...)
	})
}

// purgeCurrent discards events before the watermark using the staged
// compaction protocol. On failure before the rename the old log and
// watermark stay authoritative.
func (s *Storage) purgeCurrent() error {
	watermark, _ := s.session.SyncOffset()
	if watermark == 0 {
		return nil
	}
	directory := s.current.Directory
	events, err := s.reader.HandleFor(s.current, eventstore.KindEventsFile)
	if err != nil {
		return err
	}
	if err := eventstore.StageCompaction(directory, events, watermark, s.reader.FileMode()); err != nil {
		return err
	}

	original := s.session
	if err := s.persist(original.WithSyncOffset(0).WithCompacting(true)); err != nil {
		if abortErr := eventstore.AbortCompaction(directory); abortErr != nil {
			return errors.Join(err, abortErr)
		}
		return err
	}
	if err := eventstore.CommitCompaction(directory); err != nil {
		// Put the old watermark back before the staged file can be
		// applied by recovery on top of later appends.
		rollbackErr := s.persist(original)
		if rollbackErr == nil {
			rollbackErr = eventstore.AbortCompaction(directory)
		}
		return errors.Join(err, rollbackErr)
	}
	s.reader.Invalidate(s.current, eventstore.KindEventsFile)

	if err := s.persist(s.session.WithCompacting(false)); err != nil {
		// The rename is done. Recovery clears the flag on next load.
		s.logger.Warn("clearing compaction flag failed",
			"session_id", s.current.SessionID,
			"error", err,
		)
	}
	s.logger.Debug("purged synchronized events",
		"session_id", s.current.SessionID,
		"bytes", watermark,
	)
	return nil
}

// EndSession stamps ended_at on the current session and closes it. The
// next operation starts a new session; the ended one becomes a
// completed session waiting for upload.
func (s *Storage) EndSession(ctx context.Context) error {
	return s.do(ctx, "end_session", func() error {
		if s.reader.Current() == nil {
			return nil
		}
		if _, err := s.ensureCurrent(); err != nil {
			return err
		}
		endErr := s.persist(s.session.WithEndedAt(s.clock.Now()))
		closeErr := s.reader.CloseCurrent()
		s.current = nil
		s.session = eventstore.Session{}
		return errors.Join(endErr, closeErr)
	})
}

// Suspend closes the current session's file handles without ending
// it. Handles reopen on the next operation.
func (s *Storage) Suspend(ctx context.Context) error {
	return s.do(ctx, "suspend", func() error {
		return s.reader.Suspend()
	})
}

// Close flushes and closes the current session without ending it,
// releases the base path lock, and stops the worker. Operations
// submitted afterwards fail with ErrClosed.
func (s *Storage) Close() error {
	s.closeOnce.Do(func() {
		s.closeErr = s.do(context.Background(), "close", func() error {
			s.closed = true
			s.current = nil
			return s.reader.Close()
		})
		s.submitMutex.Lock()
		s.submitClosed = true
		s.submitMutex.Unlock()
		close(s.stop)
		<-s.done
	})
	return s.closeErr
}
