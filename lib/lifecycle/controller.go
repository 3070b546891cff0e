// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/bureau-foundation/sessionlog/lib/clock"
	"github.com/bureau-foundation/sessionlog/lib/eventstore"
	"github.com/bureau-foundation/sessionlog/lib/syncmanager"
)

// DefaultBackgroundBudget is how long the process may keep working
// after resigning active before the session is ended.
const DefaultBackgroundBudget = 25 * time.Second

// Storage is the subset of *sessionstorage.Storage the controller uses.
type Storage interface {
	AppendEvent(ctx context.Context, event eventstore.Event) error
	EndSession(ctx context.Context) error
	Suspend(ctx context.Context) error
}

// Syncer is the subset of *syncmanager.Manager the controller uses.
type Syncer interface {
	EnqueueSync(ctx context.Context, mode syncmanager.Mode) (syncmanager.Outcome, error)
	StartSyncTimer(ctx context.Context) error
	StopSyncTimer(ctx context.Context) error
}

// Config configures a Controller.
type Config struct {
	Storage Storage
	Sync    Syncer

	// Table defaults to DefaultTable().
	Table Table

	// BackgroundBudget defaults to DefaultBackgroundBudget.
	BackgroundBudget time.Duration

	Clock  clock.Clock
	Logger *slog.Logger
}

// Controller applies lifecycle signals to storage and the sync manager.
type Controller struct {
	storage Storage
	sync    Syncer
	table   Table
	budget  time.Duration
	clock   clock.Clock
	logger  *slog.Logger

	mu         sync.Mutex
	budgetTask *clock.Timer
	generation uint64
	expired    chan struct{}
}

// New validates the table and returns a Controller.
func New(config Config) (*Controller, error) {
	if config.Storage == nil || config.Sync == nil {
		return nil, errors.New("lifecycle: Storage and Sync are required")
	}
	if config.Table == nil {
		config.Table = DefaultTable()
	}
	if err := config.Table.Validate(); err != nil {
		return nil, fmt.Errorf("lifecycle: invalid signal table: %w", err)
	}
	if config.BackgroundBudget <= 0 {
		config.BackgroundBudget = DefaultBackgroundBudget
	}
	if config.Clock == nil {
		config.Clock = clock.Real()
	}
	if config.Logger == nil {
		config.Logger = slog.New(slog.DiscardHandler)
	}
	return &Controller{
		storage: config.Storage,
		sync:    config.Sync,
		table:   config.Table,
		budget:  config.BackgroundBudget,
		clock:   config.Clock,
		logger:  config.Logger,
		expired: make(chan struct{}, 1),
	}, nil
}

// Handle applies the action configured for signal. Every step is
// attempted; failures are joined. Unknown signals are an error.
func (c *Controller) Handle(ctx context.Context, signal Signal) error {
	action, ok := c.table[signal]
	if !ok {
		return fmt.Errorf("lifecycle: unknown signal %q", signal)
	}
	c.logger.Debug("lifecycle signal", "signal", string(signal))

	var errs []error
	if action.Background == "end" {
		c.endBackground()
	}
	if action.Event != "" {
		event := eventstore.Event{Name: action.Event}
		if action.State != "" {
			event.Metadata = map[string]any{"state": action.State}
		}
		if err := c.storage.AppendEvent(ctx, event); err != nil {
			errs = append(errs, fmt.Errorf("recording %s: %w", action.Event, err))
		}
	}
	switch action.Timer {
	case "start":
		if err := c.sync.StartSyncTimer(ctx); err != nil {
			errs = append(errs, fmt.Errorf("starting sync timer: %w", err))
		}
	case "stop":
		if err := c.sync.StopSyncTimer(ctx); err != nil {
			errs = append(errs, fmt.Errorf("stopping sync timer: %w", err))
		}
	}
	if mode := action.mode(); mode != syncmanager.ModeNone {
		if _, err := c.sync.EnqueueSync(ctx, mode); err != nil {
			errs = append(errs, fmt.Errorf("enqueueing %s sync: %w", mode, err))
		}
	}
	if action.Background == "begin" {
		c.beginBackground()
	}
	if action.Suspend {
		if err := c.storage.Suspend(ctx); err != nil {
			errs = append(errs, fmt.Errorf("suspending storage: %w", err))
		}
	}
	if action.EndSession {
		if err := c.storage.EndSession(ctx); err != nil {
			errs = append(errs, fmt.Errorf("ending session: %w", err))
		}
	}
	return errors.Join(errs...)
}

// beginBackground arms the budget. An armed budget is replaced.
func (c *Controller) beginBackground() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.budgetTask != nil {
		c.budgetTask.Stop()
	}
	c.generation++
	generation := c.generation
	c.budgetTask = c.clock.AfterFunc(c.budget, func() { c.expire(generation) })
	c.logger.Debug("background budget armed", "budget", c.budget)
}

// endBackground disarms the budget, if armed.
func (c *Controller) endBackground() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.budgetTask == nil {
		return
	}
	c.budgetTask.Stop()
	c.budgetTask = nil
	c.generation++
	c.logger.Debug("background budget cancelled")
}

// expire ends the session when the budget runs out, whether or not a
// sync is still in flight. A budget that was cancelled or replaced
// after this callback was scheduled does nothing.
func (c *Controller) expire(generation uint64) {
	c.mu.Lock()
	if generation != c.generation || c.budgetTask == nil {
		c.mu.Unlock()
		return
	}
	c.budgetTask = nil
	c.mu.Unlock()

	c.logger.Info("background budget expired, ending session", "budget", c.budget)
	if err := c.storage.EndSession(context.Background()); err != nil {
		c.logger.Error("ending session after background budget failed", "error", err)
	}
	select {
	case c.expired <- struct{}{}:
	default:
	}
}

// InBackground reports whether the background budget is armed.
func (c *Controller) InBackground() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.budgetTask != nil
}

// Expired receives after each budget expiry has ended the session.
func (c *Controller) Expired() <-chan struct{} { return c.expired }

// Stop disarms the background budget, for shutdown. Signals handled
// afterwards still apply.
func (c *Controller) Stop() { c.endBackground() }
