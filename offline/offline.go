// Copyright 2024 The Mellium Contributors.
// Use of this source code is governed by the BSD 2-clause
// license that can be found in the LICENSE file.

// Package offline holds messages for users that are not online.
//
// The storage policy follows XEP-0160: Best Practices for Handling Offline
// Messages, including the XEP-0334 message processing hints.
package offline // import "mellium.im/xmppd/offline"

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/benbjohnson/clock"
	lru "github.com/hashicorp/golang-lru/v2"

	"mellium.im/xmppd/internal/ns"
	"mellium.im/xmppd/jid"
	"mellium.im/xmppd/stanza"
)

// Defaults used when the corresponding option is not set.
const (
	DefaultMaxUsers = 10000
	DefaultPerUser  = 100
)

// ErrQuotaExceeded is returned by Store when the recipient already has the
// maximum number of stored messages.
var ErrQuotaExceeded = errors.New("offline: message quota exceeded")

// An Option is used to configure a Store.
type Option func(*Store)

// MaxUsers bounds the number of users with stored messages.
// When the bound is reached the queue of the least recently used user is
// discarded.
func MaxUsers(n int) Option {
	return func(s *Store) {
		s.maxUsers = n
	}
}

// PerUser bounds the number of messages stored for a single user.
func PerUser(n int) Option {
	return func(s *Store) {
		s.perUser = n
	}
}

// Clock sets the time source used for delay stamps.
func Clock(c clock.Clock) Option {
	return func(s *Store) {
		s.clock = c
	}
}

// Logger sets the logger used by the store.
func Logger(l *slog.Logger) Option {
	return func(s *Store) {
		s.log = l
	}
}

// Store is an in-memory offline message store.
type Store struct {
	maxUsers int
	perUser  int
	clock    clock.Clock
	log      *slog.Logger

	mu    sync.Mutex
	users *lru.Cache[jid.JID, []stanza.Message]
}

// New returns an empty store.
func New(opts ...Option) (*Store, error) {
	s := &Store{
		maxUsers: DefaultMaxUsers,
		perUser:  DefaultPerUser,
	}
	for _, o := range opts {
		o(s)
	}
	if s.clock == nil {
		s.clock = clock.New()
	}
	if s.log == nil {
		s.log = slog.New(slog.DiscardHandler)
	}
	if s.perUser <= 0 {
		return nil, fmt.Errorf("offline: invalid per user limit %d", s.perUser)
	}
	users, err := lru.New[jid.JID, []stanza.Message](s.maxUsers)
	if err != nil {
		return nil, fmt.Errorf("offline: %w", err)
	}
	s.users = users
	return s, nil
}

// ShouldStore reports whether msg should be kept for later delivery.
//
// Messages of type normal and chat that carry content are stored, messages of
// type error, groupchat and headline are not.
// A <no-store/> hint always prevents storage and a <store/> hint forces it for
// anything but errors.
// Messages whose only payload is a chat state notification are not stored.
func (s *Store) ShouldStore(msg stanza.Message) bool {
	if msg.To.Localpart() == "" {
		return false
	}
	typ := msg.EffectiveType()
	if typ == stanza.ErrorMessage {
		return false
	}
	switch {
	case msg.Payload.Has(ns.Hints, "no-store"), msg.Payload.Has(ns.Hints, "no-permanent-store"):
		return false
	case msg.Payload.Has(ns.Hints, "store"):
		return true
	}
	switch typ {
	case stanza.NormalMessage, stanza.ChatMessage:
	default:
		return false
	}
	if msg.Body != "" || msg.Subject != "" {
		return true
	}
	if len(msg.Payload) == 0 || msg.Payload.OnlyNS(ns.ChatStates) {
		return false
	}
	return true
}

// Store keeps msg for its bare recipient.
// Messages without a delay are stamped with the time they were first stored.
func (s *Store) Store(ctx context.Context, msg stanza.Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	to := msg.To.Bare()
	if to.Localpart() == "" {
		return fmt.Errorf("offline: cannot store message for %s", msg.To)
	}
	if msg.Delay == nil {
		msg.Delay = &stanza.Delay{
			From:   to.Domain(),
			Stamp:  s.clock.Now().UTC(),
			Reason: "Offline Storage",
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	queue, ok := s.users.Get(to)
	if len(queue) >= s.perUser {
		return fmt.Errorf("%w: %s", ErrQuotaExceeded, to)
	}
	if !ok && s.users.Len() >= s.maxUsers {
		if addr, msgs, ok := s.users.GetOldest(); ok {
			s.log.Warn("discarding offline messages", slog.String("jid", addr.String()), slog.Int("messages", len(msgs)))
		}
	}
	s.users.Add(to, append(queue, msg))
	return nil
}

// Count returns the number of messages stored for the bare form of addr.
func (s *Store) Count(addr jid.JID) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	queue, _ := s.users.Peek(addr.Bare())
	return len(queue)
}

// Drain removes and returns every message stored for the bare form of addr
// in the order they were stored.
func (s *Store) Drain(addr jid.JID) []stanza.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	bare := addr.Bare()
	queue, ok := s.users.Peek(bare)
	if !ok {
		return nil
	}
	s.users.Remove(bare)
	return queue
}

// Users returns the number of users with stored messages.
func (s *Store) Users() int {
	return s.users.Len()
}
