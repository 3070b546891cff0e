// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package sessionstorage

import (
	"context"
	"errors"
	"os"
)

// ErrClosed is returned by operations submitted after Close.
var ErrClosed = errors.New("session storage is closed")

// job is one unit of work on the storage queue.
type job struct {
	operation string
	run       func() error
	result    chan error
}

// worker executes jobs one at a time in submission order. Once stop is
// closed no more jobs can be submitted; whatever is still buffered is
// answered with ErrClosed.
func (s *Storage) worker() {
	defer close(s.done)
	for {
		select {
		case j := <-s.jobs:
			if s.closed {
				j.result <- ErrClosed
				continue
			}
			j.result <- s.execute(j)
		case <-s.stop:
			for {
				select {
				case j := <-s.jobs:
					j.result <- ErrClosed
				default:
					return
				}
			}
		}
	}
}

// execute runs j, retrying once when the failure was a handle closed
// underneath us. The reader reopens invalidated handles on the retry.
func (s *Storage) execute(j job) error {
	err := j.run()
	if err != nil && errors.Is(err, os.ErrClosed) {
		s.logger.Info("retrying after closed handle",
			"operation", j.operation,
			"error", err,
		)
		err = j.run()
	}
	if err != nil {
		s.logger.Warn("storage operation failed",
			"operation", j.operation,
			"error", err,
		)
	}
	return err
}

// submit enqueues run and returns its one-shot result, which always
// receives exactly one value. It blocks while the queue is full.
func (s *Storage) submit(ctx context.Context, operation string, run func() error) <-chan error {
	result := make(chan error, 1)
	s.submitMutex.RLock()
	defer s.submitMutex.RUnlock()
	if s.submitClosed {
		result <- ErrClosed
		return result
	}
	select {
	case s.jobs <- job{operation: operation, run: run, result: result}:
	case <-ctx.Done():
		result <- ctx.Err()
	}
	return result
}

// do submits run and waits for it. A cancelled ctx stops the wait but
// not the job once it has been queued.
func (s *Storage) do(ctx context.Context, operation string, run func() error) error {
	result := s.submit(ctx, operation, run)
	select {
	case err := <-result:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}
