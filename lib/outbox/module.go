// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package outbox

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
)

// DefaultMaxBatch is the most records handed to one send.
const DefaultMaxBatch = 100

// SendFunc delivers one batch. A nil return means every record in the
// batch was accepted.
type SendFunc func(ctx context.Context, records []Record) error

// ModuleConfig configures a Module.
type ModuleConfig struct {
	Outbox *Outbox
	Send   SendFunc

	// Name identifies the module in sync logs. Defaults to "outbox".
	Name string

	// MaxBatch defaults to DefaultMaxBatch.
	MaxBatch int

	Logger *slog.Logger
}

// Module drains an Outbox as a sync manager module.
type Module struct {
	outbox   *Outbox
	send     SendFunc
	name     string
	maxBatch int
	logger   *slog.Logger
}

// NewModule returns a Module.
func NewModule(config ModuleConfig) (*Module, error) {
	if config.Outbox == nil || config.Send == nil {
		return nil, errors.New("outbox: Outbox and Send are required")
	}
	if config.Name == "" {
		config.Name = "outbox"
	}
	if config.MaxBatch <= 0 {
		config.MaxBatch = DefaultMaxBatch
	}
	if config.Logger == nil {
		config.Logger = slog.New(slog.DiscardHandler)
	}
	return &Module{
		outbox:   config.Outbox,
		send:     config.Send,
		name:     config.Name,
		maxBatch: config.MaxBatch,
		logger:   config.Logger,
	}, nil
}

// Name implements syncmanager.Module.
func (m *Module) Name() string { return m.name }

// HasDataToSync implements syncmanager.Module. A database error counts
// as no data; the next check tries again.
func (m *Module) HasDataToSync(ctx context.Context) bool {
	count, err := m.outbox.Count(ctx)
	if err != nil {
		m.logger.Warn("checking outbox failed", "module", m.name, "error", err)
		return false
	}
	return count > 0
}

// SynchronizeData implements syncmanager.Module. The records pending
// at the start are sent in batches of at most MaxBatch; each accepted
// batch is acknowledged, and a failed batch stays pending without
// stopping the remaining batches.
func (m *Module) SynchronizeData(ctx context.Context) error {
	records, err := m.outbox.Pending(ctx, 0)
	if err != nil {
		return err
	}

	var errs []error
	for start := 0; start < len(records); start += m.maxBatch {
		batch := records[start:min(start+m.maxBatch, len(records))]
		if err := m.send(ctx, batch); err != nil {
			m.logger.Warn("outbox batch failed", "module", m.name, "records", len(batch), "error", err)
			errs = append(errs, fmt.Errorf("sending %d records: %w", len(batch), err))
			if failErr := m.outbox.RecordFailure(ctx, batch); failErr != nil {
				errs = append(errs, failErr)
			}
			continue
		}
		removed, err := m.outbox.Acknowledge(ctx, batch)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		m.logger.Debug("outbox batch delivered",
			"module", m.name,
			"records", len(batch),
			"removed", removed,
		)
	}
	return errors.Join(errs...)
}
