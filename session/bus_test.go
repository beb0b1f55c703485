// Copyright 2024 The Mellium Contributors.
// Use of this source code is governed by the BSD 2-clause
// license that can be found in the LICENSE file.

package session_test

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"mellium.im/xmppd/jid"
	"mellium.im/xmppd/session"
)

func TestBusIsolatesListeners(t *testing.T) {
	bus := session.NewBus(nil)
	var calls []string
	bus.Add(func(session.Event) error {
		calls = append(calls, "first")
		panic("boom")
	})
	bus.Add(func(session.Event) error {
		calls = append(calls, "second")
		return errors.New("failed")
	})
	bus.Add(func(session.Event) error {
		calls = append(calls, "third")
		return nil
	})

	s := session.New(newFakeConn(), session.Client, session.Events(bus))
	require.Equal(t, []string{"first", "second", "third"}, calls)

	require.NoError(t, s.Authenticate(jid.MustParse("a@example.com")))
	require.Equal(t, session.Authenticated, s.Status())
	require.NoError(t, s.Close(nil))
	require.Equal(t, session.Closed, s.Status())
	require.Len(t, calls, 9)
}

func TestBusRemove(t *testing.T) {
	bus := session.NewBus(nil)
	n := 0
	id := bus.Add(func(session.Event) error {
		n++
		return nil
	})
	require.Equal(t, 1, bus.Len())
	bus.Publish(session.Event{Type: session.EventCreated})
	require.True(t, bus.Remove(id))
	require.False(t, bus.Remove(id))
	bus.Publish(session.Event{Type: session.EventCreated})
	require.Equal(t, 1, n)
	require.Equal(t, 0, bus.Len())
}

func TestNilBusPublish(t *testing.T) {
	var bus *session.Bus
	require.NotPanics(t, func() {
		bus.Publish(session.Event{Type: session.EventCreated})
	})
}
