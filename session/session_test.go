// Copyright 2024 The Mellium Contributors.
// Use of this source code is governed by the BSD 2-clause
// license that can be found in the LICENSE file.

package session_test

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/require"

	"mellium.im/xmppd/jid"
	"mellium.im/xmppd/session"
	"mellium.im/xmppd/stanza"
)

type fakeConn struct {
	mu      sync.Mutex
	written []stanza.Stanza
	closed  bool

	started chan struct{}
	release chan struct{}
	once    sync.Once
}

func newFakeConn() *fakeConn {
	return &fakeConn{release: make(chan struct{})}
}

// blocking returns a conn whose writes block until it is closed.
func blockingConn() *fakeConn {
	c := newFakeConn()
	c.started = make(chan struct{}, 16)
	return c
}

func (c *fakeConn) WriteStanza(st stanza.Stanza) error {
	if c.started != nil {
		c.started <- struct{}{}
		<-c.release
		return errors.New("closed")
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.written = append(c.written, st)
	return nil
}

func (c *fakeConn) Close() error {
	c.once.Do(func() {
		c.mu.Lock()
		c.closed = true
		c.mu.Unlock()
		close(c.release)
	})
	return nil
}

func (c *fakeConn) Written() []stanza.Stanza {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]stanza.Stanza(nil), c.written...)
}

func (c *fakeConn) Closed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

type recordingDir struct {
	mu      sync.Mutex
	removed []*session.Session
	status  []session.Status
}

func (d *recordingDir) RemoveSession(s *session.Session) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.removed = append(d.removed, s)
	d.status = append(d.status, s.Status())
}

func TestLifecycle(t *testing.T) {
	conn := newFakeConn()
	dir := &recordingDir{}
	s := session.New(conn, session.Client, session.InDirectory(dir), session.Owner("node-a"))
	require.Equal(t, session.Connecting, s.Status())
	require.NotEmpty(t, s.ID())
	require.Equal(t, "node-a", s.Owner())
	require.True(t, s.Address().IsZero())

	require.NoError(t, s.Authenticate(jid.MustParse("juliet@example.com/ignored")))
	require.Equal(t, session.Authenticated, s.Status())
	require.Equal(t, "juliet@example.com", s.Address().String())

	full, err := s.Bind("balcony")
	require.NoError(t, err)
	require.Equal(t, "juliet@example.com/balcony", full.String())
	require.Equal(t, session.Bound, s.Status())
	require.Equal(t, full, s.Address())

	reason := errors.New("bye")
	require.NoError(t, s.Close(reason))
	require.Equal(t, session.Closed, s.Status())
	require.True(t, s.IsClosing())
	require.ErrorIs(t, s.Err(), reason)
	require.True(t, conn.Closed())

	require.Len(t, dir.removed, 1)
	require.Same(t, s, dir.removed[0])
	require.NotEqual(t, session.Closed, dir.status[0], "session must leave the directory before it is marked closed")

	require.NoError(t, s.Close(nil))
	require.Len(t, dir.removed, 1)
	require.ErrorIs(t, s.Send(stanza.Message{}), session.ErrClosed)
}

func TestInvalidTransitions(t *testing.T) {
	s := session.New(newFakeConn(), session.Client)
	defer s.Close(nil)

	_, err := s.Bind("r")
	require.ErrorIs(t, err, session.ErrTransition)

	require.NoError(t, s.Authenticate(jid.MustParse("romeo@example.net")))
	require.ErrorIs(t, s.Authenticate(jid.MustParse("romeo@example.net")), session.ErrTransition)

	_, err = s.Bind("")
	require.NoError(t, err)
	require.NotEmpty(t, s.Address().Resourcepart())

	_, err = s.Bind("again")
	require.ErrorIs(t, err, session.ErrTransition)
}

func TestBindRequiresClient(t *testing.T) {
	for _, k := range []session.Kind{session.OutgoingPeer, session.IncomingPeer, session.Component} {
		t.Run(k.String(), func(t *testing.T) {
			s := session.New(newFakeConn(), k)
			defer s.Close(nil)
			require.NoError(t, s.Authenticate(jid.MustParse("user@muc.example.net/x")))
			require.Equal(t, "muc.example.net", s.Address().String())
			_, err := s.Bind("r")
			require.ErrorIs(t, err, session.ErrNotClient)
		})
	}
}

func TestAuthenticateAfterClose(t *testing.T) {
	s := session.New(newFakeConn(), session.Client)
	require.NoError(t, s.Close(nil))
	require.ErrorIs(t, s.Authenticate(jid.MustParse("a@b")), session.ErrClosed)
	require.Equal(t, session.Closed, s.Status())
}

func TestSendWritesInOrder(t *testing.T) {
	conn := newFakeConn()
	s := session.New(conn, session.Client)
	defer s.Close(nil)

	for i := 0; i < 10; i++ {
		require.NoError(t, s.Send(stanza.Message{ID: string(rune('a' + i))}))
	}
	require.Eventually(t, func() bool { return len(conn.Written()) == 10 }, time.Second, time.Millisecond)
	for i, st := range conn.Written() {
		require.Equal(t, string(rune('a'+i)), st.Head().ID)
	}
}

func TestStalledPeerIsClosed(t *testing.T) {
	clk := clock.NewMock()
	conn := blockingConn()
	dir := &recordingDir{}
	s := session.New(conn, session.OutgoingPeer,
		session.Clock(clk),
		session.QueueSize(1),
		session.StallTimeout(30*time.Second),
		session.InDirectory(dir),
	)

	require.NoError(t, s.Send(stanza.Message{ID: "1"}))
	<-conn.started
	require.NoError(t, s.Send(stanza.Message{ID: "2"}))

	require.ErrorIs(t, s.Send(stanza.Message{ID: "3"}), session.ErrQueueFull)
	clk.Add(10 * time.Second)
	require.ErrorIs(t, s.Send(stanza.Message{ID: "4"}), session.ErrQueueFull)
	require.NotEqual(t, session.Closed, s.Status())

	clk.Add(21 * time.Second)
	require.ErrorIs(t, s.Send(stanza.Message{ID: "5"}), session.ErrStalled)
	require.Equal(t, session.Closed, s.Status())
	require.ErrorIs(t, s.Err(), session.ErrStalled)
	require.True(t, conn.Closed())
	require.Len(t, dir.removed, 1)
}

func TestSetPriorityClamps(t *testing.T) {
	s := session.New(newFakeConn(), session.Client)
	defer s.Close(nil)
	s.SetPriority(5)
	require.Equal(t, 5, s.Priority())
	s.SetPriority(1000)
	require.Equal(t, 127, s.Priority())
	s.SetPriority(-1000)
	require.Equal(t, -128, s.Priority())
}

func TestEventsPublished(t *testing.T) {
	bus := session.NewBus(nil)
	var mu sync.Mutex
	var got []session.EventType
	bus.Add(func(ev session.Event) error {
		mu.Lock()
		defer mu.Unlock()
		got = append(got, ev.Type)
		return nil
	})

	s := session.New(newFakeConn(), session.Client, session.Events(bus))
	require.NoError(t, s.Authenticate(jid.MustParse("a@example.com")))
	_, err := s.Bind("r")
	require.NoError(t, err)
	require.NoError(t, s.Close(nil))

	mu.Lock()
	defer mu.Unlock()
	require.Equal(t, []session.EventType{
		session.EventCreated,
		session.EventAuthenticated,
		session.EventBound,
		session.EventDestroyed,
	}, got)
}
