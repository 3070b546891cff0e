// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package syncmanager

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/bureau-foundation/sessionlog/lib/clock"
	"github.com/bureau-foundation/sessionlog/lib/logbridge"
)

// DefaultInterval is the period of the sync timer.
const DefaultInterval = 30 * time.Second

// Module is a producer of data that must be uploaded. The session log
// is one; sibling caches register alongside it.
type Module interface {
	Name() string

	// HasDataToSync reports whether SynchronizeData would upload
	// anything. Errors count as no data.
	HasDataToSync(ctx context.Context) bool

	// SynchronizeData uploads what is pending. A failure leaves the
	// data in place for a later cycle.
	SynchronizeData(ctx context.Context) error
}

// AuthProvider supplies credentials for uploads. Without one, sync
// requests are skipped.
type AuthProvider interface {
	Token(ctx context.Context) (string, error)
}

var (
	// ErrNoAuthProvider is the reason a sync was skipped when no
	// AuthProvider is configured.
	ErrNoAuthProvider = errors.New("no authentication provider configured")

	// ErrStopped is returned by requests made after Run returned or
	// while it is shutting down.
	ErrStopped = errors.New("sync manager is stopped")
)

// Config configures a Manager.
type Config struct {
	Modules      []Module
	AuthProvider AuthProvider

	// Interval is the sync timer period. Defaults to DefaultInterval.
	Interval time.Duration

	Clock  clock.Clock
	Logger *slog.Logger
}

// State is a snapshot of the manager.
type State struct {
	Syncing      bool
	Enqueued     Mode
	TimerRunning bool

	// Passes counts completed sync passes since Run started.
	Passes uint64
}

// Manager decides when modules synchronize. At most one cycle runs at
// a time; requests arriving during a cycle are coalesced into at most
// one follow-up, with immediate dominating eventual.
//
// All state is owned by the goroutine running Run. Public methods send
// it a request and wait for the answer.
type Manager struct {
	modules  []Module
	auth     AuthProvider
	interval time.Duration
	clock    clock.Clock
	logger   *slog.Logger

	requests    chan func()
	stopped     chan struct{}
	running     atomic.Bool
	subscribers subscribers
	cycles      sync.WaitGroup

	// Owned by the Run goroutine.
	syncing  bool
	stopping bool
	enqueued Mode
	passes   uint64
	timer    *syncTimer
	cycleCtx context.Context
}

// New creates a Manager. Nothing happens until Run is called.
func New(config Config) *Manager {
	if config.Interval <= 0 {
		config.Interval = DefaultInterval
	}
	if config.Clock == nil {
		config.Clock = clock.Real()
	}
	if config.Logger == nil {
		config.Logger = slog.New(slog.DiscardHandler)
	}
	return &Manager{
		modules:  append([]Module(nil), config.Modules...),
		auth:     config.AuthProvider,
		interval: config.Interval,
		clock:    config.Clock,
		logger:   config.Logger,
		requests: make(chan func()),
		stopped:  make(chan struct{}),
	}
}

// Run processes requests until ctx is cancelled. On cancellation the
// timer stops, new requests are refused, and Run returns once the
// in-flight cycle (if any) has finished. A cycle is never interrupted:
// modules see a context that is not cancelled with ctx.
func (m *Manager) Run(ctx context.Context) error {
	if !m.running.CompareAndSwap(false, true) {
		return errors.New("syncmanager: Run called twice")
	}
	defer close(m.stopped)
	m.cycleCtx = context.WithoutCancel(ctx)

	done := ctx.Done()
	for {
		select {
		case request := <-m.requests:
			request()
		case <-done:
			done = nil
			m.stopping = true
			m.stopTimer()
			if m.syncing {
				m.logger.Info("waiting for in-flight sync before stopping")
			}
		}
		if m.stopping && !m.syncing {
			m.cycles.Wait()
			return nil
		}
	}
}

// call runs f on the Run goroutine and waits for it.
func (m *Manager) call(ctx context.Context, f func()) error {
	finished := make(chan struct{})
	select {
	case m.requests <- func() { f(); close(finished) }:
	case <-m.stopped:
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}
	<-finished
	return nil
}

// EnqueueSync requests a sync. It returns as soon as the request was
// either started, coalesced, or skipped; it never waits for the cycle.
func (m *Manager) EnqueueSync(ctx context.Context, mode Mode) (Outcome, error) {
	if m.auth == nil {
		m.logger.Log(ctx, logbridge.LevelTrace, "skipping sync",
			"mode", mode.String(),
			"reason", ErrNoAuthProvider.Error(),
		)
		return OutcomeNoAuthProvider, nil
	}
	if !m.hasDataToSync(ctx) {
		m.logger.Debug("skipping sync, nothing to upload", "mode", mode.String())
		return OutcomeNoData, nil
	}

	var outcome Outcome
	var refused bool
	err := m.call(ctx, func() {
		if m.stopping {
			refused = true
			return
		}
		if m.syncing {
			if mode > m.enqueued {
				m.enqueued = mode
			}
			outcome = OutcomeCoalesced
			return
		}
		m.syncing = true
		m.cycles.Add(1)
		go m.runCycle(mode)
		outcome = OutcomeStarted
	})
	if err == nil && refused {
		err = ErrStopped
	}
	if err != nil {
		return outcome, err
	}
	m.logger.Debug("sync enqueued", "mode", mode.String(), "outcome", outcome.String())
	return outcome, nil
}

// runCycle performs passes until no immediate follow-up is pending.
func (m *Manager) runCycle(mode Mode) {
	defer m.cycles.Done()
	ctx := m.cycleCtx
	for {
		token := uuid.NewString()
		m.publish(Notification{Kind: SyncBegan, Token: token, Mode: mode})
		m.runPass(ctx, token, mode)

		var next Mode
		m.call(context.Background(), func() {
			m.passes++
			next = m.enqueued
			m.enqueued = ModeNone
			if next != ModeImmediate {
				m.syncing = false
			}
		})
		m.publish(Notification{Kind: SyncEnded, Token: token, Mode: mode})

		switch next {
		case ModeImmediate:
			m.logger.Debug("immediate sync requested during cycle, repeating", "sync_token", token)
			mode = ModeImmediate
		case ModeEventual:
			m.logger.Debug("dropping eventual follow-up, the timer will catch it", "sync_token", token)
			return
		default:
			return
		}
	}
}

// runPass synchronizes every module once. One module's failure does
// not stop the others.
func (m *Manager) runPass(ctx context.Context, token string, mode Mode) {
	if !m.hasDataToSync(ctx) {
		m.logger.Debug("no data available to sync", "sync_token", token)
		return
	}
	start := m.clock.Now()
	m.logger.Debug("starting sync", "sync_token", token, "mode", mode.String())
	for _, module := range m.modules {
		if err := synchronize(ctx, module); err != nil {
			m.logger.Warn("module sync failed",
				"module", module.Name(),
				"sync_token", token,
				"error", err,
			)
		}
	}
	m.logger.Log(ctx, logbridge.LevelTrace, "sync pass complete",
		"sync_token", token,
		"duration", m.clock.Now().Sub(start),
	)
}

func synchronize(ctx context.Context, module Module) (err error) {
	defer func() {
		if recovered := recover(); recovered != nil {
			err = fmt.Errorf("module %s panicked: %v", module.Name(), recovered)
		}
	}()
	return module.SynchronizeData(ctx)
}

func (m *Manager) hasDataToSync(ctx context.Context) bool {
	for _, module := range m.modules {
		if module.HasDataToSync(ctx) {
			return true
		}
	}
	return false
}

func (m *Manager) publish(n Notification) {
	if skipped := m.subscribers.publish(n); skipped > 0 {
		m.logger.Warn("skipped unseen sync passes for slow subscribers",
			"notification", n.Kind.String(),
			"sync_token", n.Token,
			"skipped", skipped,
		)
	}
}

// Subscribe returns a channel of sync notifications and a function
// that unsubscribes and closes it. Notifications arrive in publish
// order. A subscriber that receives SyncBegan for a token always
// receives the matching SyncEnded; a reader that falls far behind may
// miss whole passes it never saw begin.
func (m *Manager) Subscribe() (<-chan Notification, func()) {
	return m.subscribers.add()
}

// Snapshot returns the current state.
func (m *Manager) Snapshot(ctx context.Context) (State, error) {
	var state State
	err := m.call(ctx, func() {
		state = State{
			Syncing:      m.syncing,
			Enqueued:     m.enqueued,
			TimerRunning: m.timer != nil,
			Passes:       m.passes,
		}
	})
	return state, err
}
