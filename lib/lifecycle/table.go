// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package lifecycle

import (
	"errors"
	"fmt"
	"sort"

	"github.com/bureau-foundation/sessionlog/lib/syncmanager"
)

// Signal is a lifecycle transition reported by the host application.
type Signal string

const (
	SignalBecameActive          Signal = "became_active"
	SignalWillResignActive      Signal = "will_resign_active"
	SignalEnteredBackground     Signal = "entered_background"
	SignalSignificantTimeChange Signal = "significant_time_change"
	SignalMemoryWarning         Signal = "memory_warning"
	SignalTerminating           Signal = "terminating"
)

// Event names recorded by the default table.
const (
	EventAppStateChanged       = "app_state_changed"
	EventSignificantTimeChange = "significant_time_change"
	EventMemoryWarning         = "memory_warning"
)

// Action is what one signal does. Fields are strings so a table can be
// written in a configuration file.
type Action struct {
	// Sync is "", "eventual", or "immediate".
	Sync string `yaml:"sync"`

	// Event, when set, is recorded as a session event. State, when
	// set, becomes its "state" metadata.
	Event string `yaml:"event"`
	State string `yaml:"state"`

	// Timer is "", "start", or "stop".
	Timer string `yaml:"timer"`

	// Background is "", "begin", or "end". Begin arms the background
	// budget, at whose expiry the session ends; end disarms it.
	Background string `yaml:"background"`

	// Suspend closes the session's file handles without ending it.
	Suspend bool `yaml:"suspend"`

	// EndSession ends the session immediately.
	EndSession bool `yaml:"end_session"`
}

// Table maps signals to actions.
type Table map[Signal]Action

// DefaultTable is the standard mapping: activation asks for an
// eventual sync and starts the timer; resigning asks for an immediate
// sync, stops the timer, and arms the background budget; a significant
// time change syncs immediately; termination suspends.
func DefaultTable() Table {
	return Table{
		SignalBecameActive: {
			Sync: "eventual", Event: EventAppStateChanged, State: "active",
			Timer: "start", Background: "end",
		},
		SignalWillResignActive: {
			Sync: "immediate", Event: EventAppStateChanged, State: "inactive",
			Timer: "stop", Background: "begin",
		},
		SignalEnteredBackground: {
			Event: EventAppStateChanged, State: "background",
		},
		SignalSignificantTimeChange: {
			Sync: "immediate", Event: EventSignificantTimeChange,
		},
		SignalMemoryWarning: {
			Event: EventMemoryWarning,
		},
		SignalTerminating: {
			Event: EventAppStateChanged, State: "terminating",
			Timer: "stop", Background: "end", Suspend: true,
		},
	}
}

// Merge returns a copy of t with every entry of overrides replacing
// the entry for the same signal.
func (t Table) Merge(overrides Table) Table {
	merged := make(Table, len(t)+len(overrides))
	for signal, action := range t {
		merged[signal] = action
	}
	for signal, action := range overrides {
		merged[signal] = action
	}
	return merged
}

// Validate checks every action.
func (t Table) Validate() error {
	signals := make([]string, 0, len(t))
	for signal := range t {
		signals = append(signals, string(signal))
	}
	sort.Strings(signals)

	var errs []error
	for _, name := range signals {
		if err := t[Signal(name)].validate(); err != nil {
			errs = append(errs, fmt.Errorf("signal %s: %w", name, err))
		}
	}
	return errors.Join(errs...)
}

func (a Action) mode() syncmanager.Mode {
	if a.Sync == "" {
		return syncmanager.ModeNone
	}
	mode, _ := syncmanager.ParseMode(a.Sync)
	return mode
}

func (a Action) validate() error {
	var errs []error
	if a.Sync != "" {
		if _, err := syncmanager.ParseMode(a.Sync); err != nil {
			errs = append(errs, err)
		}
	}
	switch a.Timer {
	case "", "start", "stop":
	default:
		errs = append(errs, fmt.Errorf("timer must be start or stop (got %q)", a.Timer))
	}
	switch a.Background {
	case "", "begin", "end":
	default:
		errs = append(errs, fmt.Errorf("background must be begin or end (got %q)", a.Background))
	}
	if a.State != "" && a.Event == "" {
		errs = append(errs, errors.New("state is set without an event"))
	}
	if a.EndSession && a.Background == "begin" {
		errs = append(errs, errors.New("end_session and background begin are contradictory"))
	}
	return errors.Join(errs...)
}
