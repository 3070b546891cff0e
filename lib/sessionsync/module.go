// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package sessionsync

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"log/slog"

	"github.com/bureau-foundation/sessionlog/lib/eventstore"
	"github.com/bureau-foundation/sessionlog/lib/transport"
)

// Defaults for payload bounds.
const (
	DefaultMaxBatchBytes    = 1 << 20
	DefaultMaxBatchSessions = 25
)

// Storage is the subset of *sessionstorage.Storage the module uses.
type Storage interface {
	HasNewEvents(ctx context.Context) (bool, error)
	HasCompletedSessions(ctx context.Context) (bool, error)
	RecordSyncBegan(ctx context.Context) (uint64, error)
	PendingCurrentSession(ctx context.Context) (eventstore.SessionUploadBatch, error)
	AllSessionsForUpload(ctx context.Context) iter.Seq2[eventstore.SessionUploadBatch, error]
	DeleteSynchronizedData(ctx context.Context, sessionIDs []string) error
}

// Uploader delivers one payload. *transport.Client satisfies it.
type Uploader interface {
	Upload(ctx context.Context, payload transport.Payload) error
}

// Config configures a Module.
type Config struct {
	Storage  Storage
	Uploader Uploader

	// MaxBatchBytes bounds the uncompressed encoded size of one
	// payload of completed sessions. A single session larger than
	// this is sent on its own.
	MaxBatchBytes int

	// MaxBatchSessions bounds the number of sessions per payload.
	MaxBatchSessions int

	Logger *slog.Logger
}

// Module uploads the session log. It satisfies syncmanager.Module.
type Module struct {
	storage          Storage
	uploader         Uploader
	maxBatchBytes    int
	maxBatchSessions int
	logger           *slog.Logger
}

// New returns a Module.
func New(config Config) *Module {
	if config.MaxBatchBytes <= 0 {
		config.MaxBatchBytes = DefaultMaxBatchBytes
	}
	if config.MaxBatchSessions <= 0 {
		config.MaxBatchSessions = DefaultMaxBatchSessions
	}
	if config.Logger == nil {
		config.Logger = slog.New(slog.DiscardHandler)
	}
	return &Module{
		storage:          config.Storage,
		uploader:         config.Uploader,
		maxBatchBytes:    config.MaxBatchBytes,
		maxBatchSessions: config.MaxBatchSessions,
		logger:           config.Logger,
	}
}

func (m *Module) Name() string { return "sessions" }

// HasDataToSync reports new events on the current session or completed
// sessions on disk.
func (m *Module) HasDataToSync(ctx context.Context) bool {
	hasNew, err := m.storage.HasNewEvents(ctx)
	if err != nil {
		m.logger.Warn("checking for new events failed", "error", err)
	}
	if hasNew {
		return true
	}
	hasCompleted, err := m.storage.HasCompletedSessions(ctx)
	if err != nil {
		m.logger.Warn("checking for completed sessions failed", "error", err)
	}
	return hasCompleted
}

// SynchronizeData uploads the current session up to a fresh watermark,
// then completed sessions in bounded payloads, then deletes whatever
// the endpoint confirmed. A failed upload of the current session stops
// the pass; a failed payload of completed sessions stops further
// payloads but still deletes what was confirmed before it.
//
// Everything before the watermark is unconfirmed, since confirmed
// events are purged, so a non-zero watermark is always uploaded even
// when nothing was appended since the last attempt.
func (m *Module) SynchronizeData(ctx context.Context) error {
	hasNew, err := m.storage.HasNewEvents(ctx)
	if err != nil {
		return fmt.Errorf("checking for new events: %w", err)
	}
	watermark, err := m.storage.RecordSyncBegan(ctx)
	if err != nil {
		return fmt.Errorf("recording sync watermark: %w", err)
	}

	if hasNew || watermark > 0 {
		pending, err := m.storage.PendingCurrentSession(ctx)
		if err != nil {
			return fmt.Errorf("reading current session: %w", err)
		}
		payload := transport.Payload{Sessions: []eventstore.SessionUploadBatch{pending}}
		if err := m.uploader.Upload(ctx, payload); err != nil {
			return fmt.Errorf("uploading current session %s: %w", pending.Session.SessionID, err)
		}
		m.logger.Debug("uploaded current session",
			"session_id", pending.Session.SessionID,
			"events", len(pending.Events),
			"watermark", watermark,
		)
	}

	confirmed, uploadErr := m.uploadCompleted(ctx)
	deleteErr := m.storage.DeleteSynchronizedData(ctx, confirmed)
	if deleteErr != nil {
		deleteErr = fmt.Errorf("deleting synchronized data: %w", deleteErr)
	}
	return errors.Join(uploadErr, deleteErr)
}

// uploadCompleted sends completed sessions in payloads bounded by size
// and count, and returns the ids the endpoint accepted.
func (m *Module) uploadCompleted(ctx context.Context) ([]string, error) {
	var confirmed []string
	var pending []eventstore.SessionUploadBatch
	pendingBytes := 0

	flush := func() error {
		if len(pending) == 0 {
			return nil
		}
		payload := transport.Payload{Sessions: pending}
		if err := m.uploader.Upload(ctx, payload); err != nil {
			return fmt.Errorf("uploading %d completed sessions: %w", len(pending), err)
		}
		for _, batch := range pending {
			confirmed = append(confirmed, batch.Session.SessionID)
		}
		m.logger.Debug("uploaded completed sessions",
			"sessions", len(pending),
			"events", payload.Records(),
			"encoded_bytes", pendingBytes,
		)
		pending = nil
		pendingBytes = 0
		return nil
	}

	for batch, err := range m.storage.AllSessionsForUpload(ctx) {
		if err != nil {
			// Unreadable sessions stay on disk for a later attempt.
			m.logger.Warn("skipping unreadable completed session", "error", err)
			continue
		}
		size, err := transport.EncodedSize(batch)
		if err != nil {
			m.logger.Warn("skipping unencodable session",
				"session_id", batch.Session.SessionID,
				"error", err,
			)
			continue
		}
		if len(pending) > 0 && (pendingBytes+size > m.maxBatchBytes || len(pending) >= m.maxBatchSessions) {
			if err := flush(); err != nil {
				return confirmed, err
			}
		}
		pending = append(pending, batch)
		pendingBytes += size
	}
	return confirmed, flush()
}
