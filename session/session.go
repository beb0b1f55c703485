// Copyright 2024 The Mellium Contributors.
// Use of this source code is governed by the BSD 2-clause
// license that can be found in the LICENSE file.

package session

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/benbjohnson/clock"

	"mellium.im/xmppd/internal"
	"mellium.im/xmppd/jid"
	"mellium.im/xmppd/stanza"
)

// Errors returned by session operations.
var (
	ErrQueueFull  = errors.New("session: outbound queue full")
	ErrStalled    = errors.New("session: peer stalled")
	ErrClosed     = errors.New("session: closed")
	ErrNotClient  = errors.New("session: resource binding requires a client session")
	ErrTransition = errors.New("session: invalid state transition")
)

// Conn is the transport end of a session.
// WriteStanza is only ever called from one goroutine at a time.
type Conn interface {
	WriteStanza(stanza.Stanza) error
	Close() error
}

// Directory is anything that indexes sessions and must forget them when they
// close.
type Directory interface {
	RemoveSession(*Session)
}

// Session is a single authenticated (or authenticating) endpoint attached to
// this node.
type Session struct {
	id    string
	kind  Kind
	owner string
	conn  Conn

	mu       sync.Mutex
	addr     jid.JID
	closeErr error

	status   atomic.Uint32
	closing  atomic.Bool
	priority atomic.Int32

	full      atomic.Bool
	fullMu    sync.Mutex
	fullSince time.Time

	queue     chan stanza.Stanza
	done      chan struct{}
	closeOnce sync.Once

	bus          *Bus
	dir          Directory
	clock        clock.Clock
	stallTimeout time.Duration
	log          *slog.Logger
	metrics      Metrics
}

// New creates a session in the Connecting state and starts its writer.
func New(conn Conn, kind Kind, opts ...Option) *Session {
	o := getOpts(opts...)
	s := &Session{
		id:           internal.RandomID(internal.IDLen),
		kind:         kind,
		owner:        o.owner,
		conn:         conn,
		queue:        make(chan stanza.Stanza, o.queueSize),
		done:         make(chan struct{}),
		bus:          o.bus,
		dir:          o.dir,
		clock:        o.clock,
		stallTimeout: o.stallTimeout,
		metrics:      o.metrics,
	}
	s.log = o.log.With(slog.String("session", s.id), slog.String("kind", kind.String()))
	go s.writeLoop()
	s.metrics.Opened(kind)
	s.log.Debug("session created")
	s.bus.Publish(Event{Type: EventCreated, Session: s})
	return s
}

// ID returns an opaque identifier that is unique on this node.
func (s *Session) ID() string { return s.id }

// Kind returns the kind of the session.
func (s *Session) Kind() Kind { return s.kind }

// Owner returns the cluster node that owns the session.
func (s *Session) Owner() string { return s.owner }

// Status returns the current lifecycle state.
func (s *Session) Status() Status { return Status(s.status.Load()) }

// IsClosing reports whether Close has started.
// A closing session is never returned by a directory lookup.
func (s *Session) IsClosing() bool { return s.closing.Load() }

// Address returns the address of the session.
// It is the zero JID until the session authenticates, bare for authenticated
// clients and full once a resource is bound.
func (s *Session) Address() jid.JID {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.addr
}

// Priority returns the presence priority of a client session.
func (s *Session) Priority() int { return int(s.priority.Load()) }

// SetPriority records the presence priority of a client session.
// Priorities are clamped to the int8 range used on the wire.
func (s *Session) SetPriority(p int) {
	switch {
	case p > 127:
		p = 127
	case p < -128:
		p = -128
	}
	s.priority.Store(int32(p))
}

// Err returns the reason the session was closed, if any.
func (s *Session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closeErr
}

// Done returns a channel that is closed when the session closes.
func (s *Session) Done() <-chan struct{} { return s.done }

// Authenticate moves the session from Connecting to Authenticated and records
// the authenticated address.
// Clients authenticate as a bare JID, peers and components as a domain.
func (s *Session) Authenticate(addr jid.JID) error {
	s.mu.Lock()
	if s.closing.Load() {
		s.mu.Unlock()
		return ErrClosed
	}
	if s.Status() != Connecting {
		s.mu.Unlock()
		return fmt.Errorf("%w: authenticate from %s", ErrTransition, s.Status())
	}
	if s.kind == Client {
		addr = addr.Bare()
	} else {
		addr = addr.Domain()
	}
	s.addr = addr
	s.status.Store(uint32(Authenticated))
	s.mu.Unlock()

	s.log.Debug("session authenticated", slog.String("jid", addr.String()))
	s.bus.Publish(Event{Type: EventAuthenticated, Session: s})
	return nil
}

// Bind assigns a resource to an authenticated client session and moves it to
// Bound.
// Bind does not make the session routable; the caller adds it to the
// directory afterwards.
func (s *Session) Bind(resource string) (jid.JID, error) {
	if s.kind != Client {
		return jid.JID{}, ErrNotClient
	}
	s.mu.Lock()
	if s.closing.Load() {
		s.mu.Unlock()
		return jid.JID{}, ErrClosed
	}
	if s.Status() != Authenticated {
		st := s.Status()
		s.mu.Unlock()
		return jid.JID{}, fmt.Errorf("%w: bind from %s", ErrTransition, st)
	}
	if resource == "" {
		resource = internal.RandomID(internal.IDLen)
	}
	full, err := s.addr.WithResource(resource)
	if err != nil {
		s.mu.Unlock()
		return jid.JID{}, err
	}
	s.addr = full
	s.status.Store(uint32(Bound))
	s.mu.Unlock()

	s.log.Debug("resource bound", slog.String("jid", full.String()))
	s.bus.Publish(Event{Type: EventBound, Session: s})
	return full, nil
}

// Send queues st for delivery without blocking.
// If the queue is full ErrQueueFull is returned; once it has stayed full for
// longer than the stall timeout the session is closed and ErrStalled is
// returned instead.
func (s *Session) Send(st stanza.Stanza) error {
	if s.closing.Load() {
		return ErrClosed
	}
	select {
	case s.queue <- st:
		if s.full.Load() {
			s.fullMu.Lock()
			s.full.Store(false)
			s.fullMu.Unlock()
		}
		return nil
	default:
	}

	now := s.clock.Now()
	s.fullMu.Lock()
	if !s.full.Load() {
		s.fullSince = now
		s.full.Store(true)
	}
	stalled := now.Sub(s.fullSince) >= s.stallTimeout
	s.fullMu.Unlock()

	s.metrics.QueueFull(s.kind)
	if stalled {
		s.log.Warn("closing stalled session", slog.String("jid", s.Address().String()))
		s.metrics.Stalled(s.kind)
		s.Close(ErrStalled)
		return ErrStalled
	}
	return ErrQueueFull
}

// Pending returns the number of queued stanzas that have not been written.
func (s *Session) Pending() int { return len(s.queue) }

// Close closes the session.
// The session is removed from its directory first, so that no lookup can
// return it, then marked Closed and its connection closed.
// Only the first call has any effect; later calls return nil.
func (s *Session) Close(reason error) error {
	var err error
	s.closeOnce.Do(func() {
		s.closing.Store(true)
		if s.dir != nil {
			s.dir.RemoveSession(s)
		}
		s.mu.Lock()
		s.closeErr = reason
		s.status.Store(uint32(Closed))
		s.mu.Unlock()
		close(s.done)
		err = s.conn.Close()

		s.metrics.Closed(s.kind)
		if reason != nil {
			s.log.Debug("session closed", slog.Any("error", reason))
		} else {
			s.log.Debug("session closed")
		}
		s.bus.Publish(Event{Type: EventDestroyed, Session: s, Err: reason})
	})
	return err
}

func (s *Session) writeLoop() {
	for {
		select {
		case <-s.done:
			return
		case st := <-s.queue:
			if err := s.conn.WriteStanza(st); err != nil {
				select {
				case <-s.done:
				default:
					s.log.Debug("write failed", slog.Any("error", err))
					s.Close(err)
				}
				return
			}
			s.metrics.Sent(s.kind)
		}
	}
}

func (s *Session) String() string {
	return fmt.Sprintf("%s(%s %s)", s.kind, s.id, s.Address())
}
