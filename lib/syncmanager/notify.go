// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package syncmanager

import "sync"

// NotificationKind distinguishes the two sync notifications.
type NotificationKind int

const (
	SyncBegan NotificationKind = iota
	SyncEnded
)

func (k NotificationKind) String() string {
	if k == SyncEnded {
		return "sync_ended"
	}
	return "sync_began"
}

// Notification brackets one pass of a sync cycle. Began and Ended of
// the same pass carry the same Token, so an observer (a background
// keep-alive, for instance) can tie its own lifetime to the pass.
type Notification struct {
	Kind  NotificationKind
	Token string
	Mode  Mode
}

// subscriberBacklog is how many undelivered notifications a subscriber
// may accumulate before whole passes it has not seen yet are skipped.
const subscriberBacklog = 16

// subscriber queues notifications for one channel. A forwarding
// goroutine moves them from the queue to the channel, so publishing
// never blocks on a slow reader.
//
// Once SyncBegan for a token has left the queue, SyncEnded for that
// token is always delivered. Only passes whose Began and Ended are both
// still queued may be skipped, and both are skipped together.
type subscriber struct {
	out  chan Notification
	wake chan struct{}
	done chan struct{}

	mu    sync.Mutex
	queue []Notification
}

func (s *subscriber) forward() {
	defer close(s.out)
	for {
		s.mu.Lock()
		if len(s.queue) == 0 {
			s.mu.Unlock()
			select {
			case <-s.wake:
				continue
			case <-s.done:
				return
			}
		}
		next := s.queue[0]
		s.queue = s.queue[1:]
		s.mu.Unlock()

		select {
		case s.out <- next:
		case <-s.done:
			return
		}
	}
}

// enqueue appends n and returns how many queued notifications were
// skipped to stay within the backlog.
func (s *subscriber) enqueue(n Notification) int {
	s.mu.Lock()
	s.queue = append(s.queue, n)
	skipped := 0
	for len(s.queue) > subscriberBacklog && s.skipOldestPassLocked() {
		skipped += 2
	}
	s.mu.Unlock()

	select {
	case s.wake <- struct{}{}:
	default:
	}
	return skipped
}

// skipOldestPassLocked removes the oldest Began/Ended pair that is
// entirely queued. Reports false when there is none.
func (s *subscriber) skipOldestPassLocked() bool {
	for began, candidate := range s.queue {
		if candidate.Kind != SyncBegan {
			continue
		}
		for ended := began + 1; ended < len(s.queue); ended++ {
			if s.queue[ended].Kind == SyncEnded && s.queue[ended].Token == candidate.Token {
				s.queue = append(s.queue[:ended], s.queue[ended+1:]...)
				s.queue = append(s.queue[:began], s.queue[began+1:]...)
				return true
			}
		}
	}
	return false
}

type subscribers struct {
	mu   sync.Mutex
	next int
	subs map[int]*subscriber
}

func (s *subscribers) add() (<-chan Notification, func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.subs == nil {
		s.subs = make(map[int]*subscriber)
	}
	id := s.next
	s.next++
	sub := &subscriber{
		out:  make(chan Notification),
		wake: make(chan struct{}, 1),
		done: make(chan struct{}),
	}
	s.subs[id] = sub
	go sub.forward()

	var once sync.Once
	return sub.out, func() {
		once.Do(func() {
			s.mu.Lock()
			delete(s.subs, id)
			s.mu.Unlock()
			close(sub.done)
		})
	}
}

// publish queues n for every subscriber without blocking and returns
// how many notifications were skipped across all of them.
func (s *subscribers) publish(n Notification) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	skipped := 0
	for _, sub := range s.subs {
		skipped += sub.enqueue(n)
	}
	return skipped
}
