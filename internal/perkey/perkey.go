// Copyright 2024 The Mellium Contributors.
// Use of this source code is governed by the BSD 2-clause
// license that can be found in the LICENSE file.

// Package perkey provides a scheduler that serializes work per key while
// allowing work for different keys to execute concurrently.
//
// It is used to replicate routing table changes: every peer node is a key, so
// changes reach each peer in the order they were made without a slow peer
// holding up the others or the caller.
package perkey // import "mellium.im/xmppd/internal/perkey"

import (
	"errors"
	"sync"
)

// ErrSchedulerClosed is returned when Go is called on a closed scheduler.
var ErrSchedulerClosed = errors.New("perkey: scheduler is closed")

// Scheduler runs functions such that for any given key they are executed
// sequentially, in submission order.
// Functions for different keys run in parallel.
// The zero value is not usable, use New.
type Scheduler[K comparable] struct {
	mu     sync.Mutex
	queues map[K]*queue
	closed bool
	wg     sync.WaitGroup
}

type queue struct {
	tasks   []func()
	running bool
}

// New creates a new Scheduler.
func New[K comparable]() *Scheduler[K] {
	return &Scheduler[K]{
		queues: make(map[K]*queue),
	}
}

// Go schedules fn to run for key and returns without waiting for it.
func (s *Scheduler[K]) Go(key K, fn func()) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrSchedulerClosed
	}
	q := s.queues[key]
	if q == nil {
		q = &queue{}
		s.queues[key] = q
	}
	q.tasks = append(q.tasks, fn)
	if !q.running {
		q.running = true
		s.wg.Add(1)
		go s.run(key, q)
	}
	return nil
}

// Drop discards the functions queued for key that have not started yet and
// returns how many were discarded.
func (s *Scheduler[K]) Drop(key K) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	q := s.queues[key]
	if q == nil {
		return 0
	}
	n := len(q.tasks)
	q.tasks = nil
	return n
}

// Pending returns the number of functions queued for key that have not
// started yet.
func (s *Scheduler[K]) Pending(key K) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if q := s.queues[key]; q != nil {
		return len(q.tasks)
	}
	return 0
}

// Close stops accepting new functions and waits for the queued ones to
// finish.
func (s *Scheduler[K]) Close() {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	s.wg.Wait()
}

func (s *Scheduler[K]) run(key K, q *queue) {
	defer s.wg.Done()
	for {
		s.mu.Lock()
		if len(q.tasks) == 0 {
			q.running = false
			if s.queues[key] == q {
				delete(s.queues, key)
			}
			s.mu.Unlock()
			return
		}
		fn := q.tasks[0]
		q.tasks[0] = nil
		q.tasks = q.tasks[1:]
		s.mu.Unlock()

		fn()
	}
}
