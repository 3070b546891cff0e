// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package syncmanager

import (
	"context"

	"github.com/bureau-foundation/sessionlog/lib/clock"
	"github.com/bureau-foundation/sessionlog/lib/logbridge"
)

type syncTimer struct {
	ticker *clock.Ticker
	stop   chan struct{}
}

// StartSyncTimer starts the periodic timer that requests an immediate
// sync every interval. A running timer is replaced.
func (m *Manager) StartSyncTimer(ctx context.Context) error {
	var refused bool
	err := m.call(ctx, func() {
		if m.stopping {
			refused = true
			return
		}
		m.stopTimer()
		m.logger.Log(ctx, logbridge.LevelTrace, "starting sync timer", "interval", m.interval)
		timer := &syncTimer{
			ticker: m.clock.NewTicker(m.interval),
			stop:   make(chan struct{}),
		}
		m.timer = timer
		go m.tick(timer)
	})
	if err == nil && refused {
		return ErrStopped
	}
	return err
}

// StopSyncTimer stops the timer if it is running.
func (m *Manager) StopSyncTimer(ctx context.Context) error {
	return m.call(ctx, m.stopTimer)
}

// stopTimer runs on the Run goroutine.
func (m *Manager) stopTimer() {
	if m.timer == nil {
		return
	}
	m.logger.Log(context.Background(), logbridge.LevelTrace, "stopping sync timer")
	m.timer.ticker.Stop()
	close(m.timer.stop)
	m.timer = nil
}

func (m *Manager) tick(timer *syncTimer) {
	for {
		select {
		case <-timer.ticker.C:
			m.logger.Log(context.Background(), logbridge.LevelTrace, "sync timer fired")
			if _, err := m.EnqueueSync(context.Background(), ModeImmediate); err != nil {
				return
			}
		case <-timer.stop:
			return
		}
	}
}
