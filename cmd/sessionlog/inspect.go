// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/bureau-foundation/sessionlog/lib/codec"
	"github.com/bureau-foundation/sessionlog/lib/eventstore"
	"github.com/bureau-foundation/sessionlog/lib/sessionreader"
	"github.com/bureau-foundation/sessionlog/lib/transport"
)

type inspector struct {
	base   string
	json   bool
	limit  int
	stdout io.Writer
	stderr io.Writer
}

// sessionSummary is the list/show row.
type sessionSummary struct {
	SessionID      string         `json:"session_id"`
	State          string         `json:"state"`
	CreatedAt      time.Time      `json:"created_at"`
	EndedAt        *time.Time     `json:"ended_at,omitempty"`
	EventBytes     int64          `json:"event_bytes"`
	PendingBytes   int64          `json:"pending_bytes"`
	Synced         bool           `json:"synced"`
	UserProperties map[string]any `json:"user_properties,omitempty"`
	Directory      string         `json:"directory"`
}

func summarize(snapshot sessionreader.Snapshot) sessionSummary {
	session := snapshot.Session
	_, synced := session.SyncOffset()
	summary := sessionSummary{
		SessionID:      session.SessionID,
		State:          "open",
		CreatedAt:      session.CreatedAt,
		EndedAt:        session.EndedAt,
		EventBytes:     snapshot.EventBytes,
		PendingBytes:   snapshot.Pending(),
		Synced:         synced,
		UserProperties: session.UserProperties,
		Directory:      snapshot.Directory,
	}
	switch {
	case session.Compacting:
		summary.State = "compacting"
	case session.Ended():
		summary.State = "ended"
	}
	return summary
}

func (i *inspector) list() error {
	var summaries []sessionSummary
	for snapshot, err := range sessionreader.Snapshots(i.base) {
		if err != nil {
			fmt.Fprintf(i.stderr, "warning: %v\n", err)
			continue
		}
		summaries = append(summaries, summarize(snapshot))
	}
	sort.Slice(summaries, func(a, b int) bool {
		return summaries[a].CreatedAt.Before(summaries[b].CreatedAt)
	})
	if i.json {
		if summaries == nil {
			summaries = []sessionSummary{}
		}
		return writeJSON(i.stdout, summaries)
	}
	if len(summaries) == 0 {
		fmt.Fprintf(i.stdout, "no sessions under %s\n", i.base)
		return nil
	}
	writer := tabwriter.NewWriter(i.stdout, 2, 0, 3, ' ', 0)
	fmt.Fprintf(writer, "SESSION\tSTATE\tCREATED\tEVENT BYTES\tPENDING\n")
	for _, summary := range summaries {
		fmt.Fprintf(writer, "%s\t%s\t%s\t%d\t%d\n",
			summary.SessionID,
			summary.State,
			summary.CreatedAt.Local().Format(time.DateTime),
			summary.EventBytes,
			summary.PendingBytes,
		)
	}
	return writer.Flush()
}

func (i *inspector) show(sessionID string) error {
	snapshot, err := sessionreader.ReadSnapshot(i.base, sessionID)
	if err != nil {
		return err
	}
	summary := summarize(snapshot)
	if i.json {
		return writeJSON(i.stdout, summary)
	}
	writer := tabwriter.NewWriter(i.stdout, 2, 0, 2, ' ', 0)
	fmt.Fprintf(writer, "Session:\t%s\n", summary.SessionID)
	fmt.Fprintf(writer, "State:\t%s\n", summary.State)
	fmt.Fprintf(writer, "Created:\t%s\n", summary.CreatedAt.Format(time.RFC3339Nano))
	if summary.EndedAt != nil {
		fmt.Fprintf(writer, "Ended:\t%s\n", summary.EndedAt.Format(time.RFC3339Nano))
	}
	fmt.Fprintf(writer, "Event bytes:\t%d\n", summary.EventBytes)
	if summary.Synced {
		fmt.Fprintf(writer, "Pending bytes:\t%d\n", summary.PendingBytes)
	} else {
		fmt.Fprintf(writer, "Pending bytes:\t%d (never synced)\n", summary.PendingBytes)
	}
	fmt.Fprintf(writer, "Directory:\t%s\n", summary.Directory)
	keys := make([]string, 0, len(summary.UserProperties))
	for key := range summary.UserProperties {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	for _, key := range keys {
		fmt.Fprintf(writer, "Property %s:\t%v\n", key, summary.UserProperties[key])
	}
	return writer.Flush()
}

func (i *inspector) readEvents(sessionID string) ([]eventstore.Event, error) {
	events, skipped, err := sessionreader.ReadSessionEvents(i.base, sessionID)
	if err != nil {
		return nil, err
	}
	if skipped > 0 {
		fmt.Fprintf(i.stderr, "warning: skipped %d undecodable lines\n", skipped)
	}
	if i.limit > 0 && len(events) > i.limit {
		events = events[:i.limit]
	}
	return events, nil
}

func (i *inspector) events(sessionID string) error {
	events, err := i.readEvents(sessionID)
	if err != nil {
		return err
	}
	if i.json {
		if events == nil {
			events = []eventstore.Event{}
		}
		return writeJSON(i.stdout, events)
	}
	writer := tabwriter.NewWriter(i.stdout, 2, 0, 3, ' ', 0)
	fmt.Fprintf(writer, "TIME\tEVENT\tMETADATA\n")
	for _, event := range events {
		fmt.Fprintf(writer, "%s\t%s\t%s\n",
			event.CreatedAt.Local().Format("15:04:05.000"),
			event.Name,
			formatMetadata(event.Metadata),
		)
	}
	return writer.Flush()
}

// payload prints the CBOR payload this session would upload as, in
// diagnostic notation, preceded by its idempotency key.
func (i *inspector) payload(sessionID string) error {
	snapshot, err := sessionreader.ReadSnapshot(i.base, sessionID)
	if err != nil {
		return err
	}
	events, err := i.readEvents(sessionID)
	if err != nil {
		return err
	}
	encoded, err := transport.Encode(transport.Payload{Sessions: []eventstore.SessionUploadBatch{{
		Session: snapshot.Session,
		Events:  events,
	}}}, codec.CompressionNone)
	if err != nil {
		return err
	}
	diagnostic, err := codec.Diagnose(encoded.Body)
	if err != nil {
		return err
	}
	if i.json {
		return writeJSON(i.stdout, map[string]any{
			"idempotency_key": encoded.Digest,
			"size":            encoded.Size,
			"diagnostic":      diagnostic,
		})
	}
	fmt.Fprintf(i.stdout, "# idempotency key %s, %d bytes\n%s\n", encoded.Digest, encoded.Size, diagnostic)
	return nil
}

func formatMetadata(metadata map[string]any) string {
	keys := make([]string, 0, len(metadata))
	for key := range metadata {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	parts := make([]string, len(keys))
	for index, key := range keys {
		parts[index] = fmt.Sprintf("%s=%v", key, metadata[key])
	}
	return strings.Join(parts, " ")
}

func writeJSON(w io.Writer, value any) error {
	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	return encoder.Encode(value)
}
