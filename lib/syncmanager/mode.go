// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package syncmanager

import "fmt"

// Mode is the urgency of a sync request. The ordering matters: a
// pending request is only ever replaced by a higher mode.
type Mode int

const (
	// ModeNone means no request.
	ModeNone Mode = iota

	// ModeEventual asks for a sync at some point. When it arrives
	// during a cycle it is absorbed: the periodic timer will catch
	// the data later.
	ModeEventual

	// ModeImmediate asks for a sync now. When it arrives during a
	// cycle another full cycle runs right after.
	ModeImmediate
)

func (m Mode) String() string {
	switch m {
	case ModeNone:
		return "none"
	case ModeEventual:
		return "eventual"
	case ModeImmediate:
		return "immediate"
	default:
		return fmt.Sprintf("Mode(%d)", int(m))
	}
}

// ParseMode parses "eventual" or "immediate".
func ParseMode(s string) (Mode, error) {
	switch s {
	case "eventual":
		return ModeEventual, nil
	case "immediate":
		return ModeImmediate, nil
	default:
		return ModeNone, fmt.Errorf("unknown sync mode %q (valid: eventual, immediate)", s)
	}
}

// Outcome says what EnqueueSync did with a request.
type Outcome int

const (
	// OutcomeStarted means the manager was idle and a cycle started.
	OutcomeStarted Outcome = iota

	// OutcomeCoalesced means a cycle was running and the request was
	// folded into the pending follow-up.
	OutcomeCoalesced

	// OutcomeNoData means no module had anything to sync.
	OutcomeNoData

	// OutcomeNoAuthProvider means sync is disabled because there are
	// no credentials to upload with.
	OutcomeNoAuthProvider
)

func (o Outcome) String() string {
	switch o {
	case OutcomeStarted:
		return "started"
	case OutcomeCoalesced:
		return "coalesced"
	case OutcomeNoData:
		return "no_data"
	case OutcomeNoAuthProvider:
		return "no_auth_provider"
	default:
		return fmt.Sprintf("Outcome(%d)", int(o))
	}
}
