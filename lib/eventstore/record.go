// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package eventstore

import (
	"maps"
	"time"
)

// Session is the metadata record stored in session.json. Values are
// treated as immutable: the With* methods return modified copies so a
// caller can keep the previous snapshot until the new one is durable.
type Session struct {
	SessionID string     `json:"session_id"`
	CreatedAt time.Time  `json:"created_at"`
	EndedAt   *time.Time `json:"ended_at,omitempty"`

	// UserProperties is last-write-wins per key.
	UserProperties map[string]any `json:"user_properties"`

	// EventsHandleOffsetAtSync is the watermark: the events.log size
	// captured when the last sync began. Nil means the session has
	// never been synced.
	EventsHandleOffsetAtSync *uint64 `json:"events_handle_offset_at_sync,omitempty"`

	// Compacting is set while the synchronized prefix of events.log
	// is being discarded. See StageCompaction.
	Compacting bool `json:"compacting,omitempty"`
}

// NewSession returns an empty session record.
func NewSession(sessionID string, createdAt time.Time) Session {
	return Session{
		SessionID:      sessionID,
		CreatedAt:      createdAt.UTC(),
		UserProperties: map[string]any{},
	}
}

// SyncOffset returns the watermark and whether a sync was ever
// recorded.
func (s Session) SyncOffset() (uint64, bool) {
	if s.EventsHandleOffsetAtSync == nil {
		return 0, false
	}
	return *s.EventsHandleOffsetAtSync, true
}

// Ended reports whether the session was explicitly ended.
func (s Session) Ended() bool { return s.EndedAt != nil }

// WithUpdatedProperty sets key to value. A nil value removes the key.
func (s Session) WithUpdatedProperty(key string, value any) Session {
	s.UserProperties = maps.Clone(s.UserProperties)
	if s.UserProperties == nil {
		s.UserProperties = map[string]any{}
	}
	if value == nil {
		delete(s.UserProperties, key)
	} else {
		s.UserProperties[key] = value
	}
	return s
}

// WithUpdatedProperties applies every entry of properties as
// WithUpdatedProperty would.
func (s Session) WithUpdatedProperties(properties map[string]any) Session {
	s.UserProperties = maps.Clone(s.UserProperties)
	if s.UserProperties == nil {
		s.UserProperties = map[string]any{}
	}
	for key, value := range properties {
		if value == nil {
			delete(s.UserProperties, key)
		} else {
			s.UserProperties[key] = value
		}
	}
	return s
}

// WithSyncOffset records offset as the watermark.
func (s Session) WithSyncOffset(offset uint64) Session {
	s.EventsHandleOffsetAtSync = &offset
	return s
}

// WithCompacting sets the compaction flag.
func (s Session) WithCompacting(compacting bool) Session {
	s.Compacting = compacting
	return s
}

// WithEndedAt marks the session ended.
func (s Session) WithEndedAt(endedAt time.Time) Session {
	endedAt = endedAt.UTC()
	s.EndedAt = &endedAt
	return s
}

// Event is one record of events.log.
type Event struct {
	Name      string         `json:"name"`
	CreatedAt time.Time      `json:"created_at"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

// SessionUploadBatch is one session's metadata with the events that
// are ready to upload.
type SessionUploadBatch struct {
	Session Session `json:"session"`
	Events  []Event `json:"events"`
}
