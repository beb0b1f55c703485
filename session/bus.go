// Copyright 2024 The Mellium Contributors.
// Use of this source code is governed by the BSD 2-clause
// license that can be found in the LICENSE file.

package session

import (
	"fmt"
	"log/slog"
	"sort"
	"sync"
)

// EventType is the kind of a session lifecycle event.
type EventType uint8

// A list of session event types.
const (
	EventCreated EventType = iota + 1
	EventAuthenticated
	EventBound
	EventDestroyed
)

func (t EventType) String() string {
	switch t {
	case EventCreated:
		return "created"
	case EventAuthenticated:
		return "authenticated"
	case EventBound:
		return "resource-bound"
	case EventDestroyed:
		return "destroyed"
	}
	return "unknown"
}

// Event is published on a Bus whenever a session changes state.
// Err is the close reason of an EventDestroyed event.
type Event struct {
	Type    EventType
	Session *Session
	Err     error
}

// ListenerID identifies a listener added to a Bus.
type ListenerID uint64

// Bus delivers session events to listeners.
// A failing listener (one that returns an error or panics) is logged and does
// not affect other listeners or the session transition that produced the
// event.
type Bus struct {
	mu        sync.RWMutex
	listeners map[ListenerID]func(Event) error
	next      ListenerID
	log       *slog.Logger
}

// NewBus returns a bus without listeners.
// If log is nil listener failures are discarded.
func NewBus(log *slog.Logger) *Bus {
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}
	return &Bus{
		listeners: make(map[ListenerID]func(Event) error),
		log:       log,
	}
}

// Add registers fn and returns an id that can be passed to Remove.
func (b *Bus) Add(fn func(Event) error) ListenerID {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.next++
	b.listeners[b.next] = fn
	return b.next
}

// Remove unregisters a listener.
// It reports whether the listener was registered.
func (b *Bus) Remove(id ListenerID) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	_, ok := b.listeners[id]
	delete(b.listeners, id)
	return ok
}

// Len returns the number of registered listeners.
func (b *Bus) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.listeners)
}

// Publish calls every listener with ev in registration order.
func (b *Bus) Publish(ev Event) {
	if b == nil {
		return
	}
	b.mu.RLock()
	ids := make([]ListenerID, 0, len(b.listeners))
	for id := range b.listeners {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	fns := make([]func(Event) error, 0, len(ids))
	for _, id := range ids {
		fns = append(fns, b.listeners[id])
	}
	b.mu.RUnlock()

	for _, fn := range fns {
		if err := b.invoke(fn, ev); err != nil {
			attrs := []any{
				slog.String("event", ev.Type.String()),
				slog.Any("error", err),
			}
			if ev.Session != nil {
				attrs = append(attrs, slog.String("session", ev.Session.ID()))
			}
			b.log.Warn("session listener failed", attrs...)
		}
	}
}

func (b *Bus) invoke(fn func(Event) error, ev Event) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return fn(ev)
}
