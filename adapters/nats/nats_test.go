// Copyright 2024 The Mellium Contributors.
// Use of this source code is governed by the BSD 2-clause
// license that can be found in the LICENSE file.

package nats_test

import (
	"context"
	"errors"
	"slices"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	natsadapter "mellium.im/xmppd/adapters/nats"
	"mellium.im/xmppd/cluster"
	"mellium.im/xmppd/jid"
	"mellium.im/xmppd/route"
	"mellium.im/xmppd/server"
	"mellium.im/xmppd/session"
	"mellium.im/xmppd/stanza"
)

func TestNATS(t *testing.T) {
	connect := natsadapter.NewTestContainer(t)

	t.Run("reuse connection", func(t *testing.T) {
		shared := natsadapter.ReuseConnection(connect)
		nc1, release1, err := shared()
		require.NoError(t, err)
		nc2, release2, err := shared()
		require.NoError(t, err)
		require.Same(t, nc1, nc2)

		release1()
		release1()
		require.Equal(t, "CONNECTED", nc1.Status().String())
		release2()
		require.Equal(t, "CLOSED", nc1.Status().String())
	})

	t.Run("transport", func(t *testing.T) {
		tp, err := natsadapter.NewTransport(natsadapter.TransportConfig{Connect: connect, SubjectPrefix: "transport"})
		require.NoError(t, err)
		defer tp.Close()

		sub, err := tp.Subscribe(t.Context(), "node-b", func(_ context.Context, env cluster.Envelope) ([]byte, error) {
			if env.Type == "fail" {
				return nil, errors.New("boom")
			}
			return env.Data, nil
		})
		require.NoError(t, err)

		data, err := tp.Request(t.Context(), cluster.Envelope{Node: "node-b", Type: "echo", Data: []byte("hello")})
		require.NoError(t, err)
		require.Equal(t, "hello", string(data))

		_, err = tp.Request(t.Context(), cluster.Envelope{Node: "node-b", Type: "fail"})
		var remote *cluster.RemoteError
		require.ErrorAs(t, err, &remote)
		require.Equal(t, "boom", remote.Message)

		_, err = tp.Request(t.Context(), cluster.Envelope{Node: "node-c", Type: "echo"})
		require.ErrorIs(t, err, cluster.ErrNoSubscriber)

		require.NoError(t, sub.Unsubscribe())
		require.NoError(t, sub.Unsubscribe())
		require.NoError(t, tp.Close())
		_, err = tp.Request(t.Context(), cluster.Envelope{Node: "node-b"})
		require.ErrorIs(t, err, cluster.ErrTransportClosed)
	})

	t.Run("membership", func(t *testing.T) {
		cfg := natsadapter.MembershipConfig{Connect: connect, SubjectPrefix: "membership", Interval: 50 * time.Millisecond}
		a, err := natsadapter.NewMembership("node-a", cfg)
		require.NoError(t, err)
		defer a.Close()
		b, err := natsadapter.NewMembership("node-b", cfg)
		require.NoError(t, err)
		defer b.Close()

		left := make(chan cluster.NodeID, 1)
		stop := a.Subscribe(func(ev cluster.Event) {
			if ev.Type == cluster.NodeLeft {
				left <- ev.Node
			}
		})
		defer stop()

		require.NoError(t, a.Start(t.Context()))
		require.ErrorIs(t, a.Start(t.Context()), natsadapter.ErrStarted)
		require.NoError(t, b.Start(t.Context()))
		require.Eventually(t, func() bool {
			return slices.Contains(a.Members(), "node-b") && slices.Contains(b.Members(), "node-a")
		}, 5*time.Second, 10*time.Millisecond)

		require.NoError(t, b.Close())
		select {
		case id := <-left:
			require.Equal(t, cluster.NodeID("node-b"), id)
		case <-time.After(5 * time.Second):
			t.Fatal("departure of node-b not observed")
		}
	})

	t.Run("servers", func(t *testing.T) {
		shared := natsadapter.ReuseConnection(connect)
		servers := make(map[cluster.NodeID]*server.Server)
		for _, id := range []cluster.NodeID{"node-a", "node-b"} {
			tp, err := natsadapter.NewTransport(natsadapter.TransportConfig{Connect: shared, SubjectPrefix: "servers"})
			require.NoError(t, err)
			m, err := natsadapter.NewMembership(id, natsadapter.MembershipConfig{Connect: shared, SubjectPrefix: "servers", Interval: 50 * time.Millisecond})
			require.NoError(t, err)
			srv, err := server.New(id, server.Domains("example.com"), server.Membership(m), server.Transport(tp))
			require.NoError(t, err)
			require.NoError(t, srv.Start(t.Context()))
			require.NoError(t, m.Start(t.Context()))
			t.Cleanup(func() {
				m.Close()
				srv.Close()
			})
			servers[id] = srv
		}

		conn := &chanConn{ch: make(chan stanza.Stanza, 1)}
		juliet := servers["node-b"].NewSession(conn, session.Client)
		require.NoError(t, juliet.Authenticate(jid.MustParse("juliet@example.com")))
		_, err := servers["node-b"].BindClient(juliet, "balcony")
		require.NoError(t, err)

		a := servers["node-a"]
		require.Eventually(t, func() bool {
			return a.Table().GetRoute(juliet.Address()).Kind == route.Remote
		}, 5*time.Second, 10*time.Millisecond)

		a.Route(t.Context(), stanza.Message{
			ID:   "n1",
			From: jid.MustParse("romeo@example.com/orchard"),
			To:   jid.MustParse("juliet@example.com"),
			Type: stanza.ChatMessage,
			Body: "over the wire",
		})
		select {
		case st := <-conn.ch:
			require.Equal(t, "n1", st.Head().ID)
		case <-time.After(5 * time.Second):
			t.Fatal("message not delivered across nodes")
		}
	})
}

type chanConn struct {
	ch chan stanza.Stanza
}

func (c *chanConn) WriteStanza(st stanza.Stanza) error {
	c.ch <- st
	return nil
}

func (c *chanConn) Close() error { return nil }
