// Copyright 2024 The Mellium Contributors.
// Use of this source code is governed by the BSD 2-clause
// license that can be found in the LICENSE file.

package router_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"mellium.im/xmppd/component"
	"mellium.im/xmppd/jid"
	"mellium.im/xmppd/route"
	"mellium.im/xmppd/router"
	"mellium.im/xmppd/session"
	"mellium.im/xmppd/stanza"
)

func TestComponentDelivery(t *testing.T) {
	comps := fakeComponents{}
	f := newFixture(t, router.ComponentLookup(comps))
	domain := jid.MustParse("muc.example.com")
	conn := newRecConn()
	c := session.New(conn, session.Component, session.InDirectory(f.table))
	defer c.Close(nil)
	require.NoError(t, c.Authenticate(domain))
	require.NoError(t, f.table.AddRoute(domain, c))
	comps[domain] = component.Handle{Domain: domain, Route: f.table.GetRoute(domain)}

	romeo, _ := f.bind(t, "romeo@example.com/orchard", 0)
	f.router.RouteFrom(t.Context(), romeo, stanza.Message{ID: "1", From: romeo.Address(), To: jid.MustParse("room@muc.example.com"), Type: stanza.GroupChatMessage, Body: "hi"})
	f.router.RouteFrom(t.Context(), romeo, stanza.Presence{ID: "2", From: romeo.Address(), To: jid.MustParse("room@muc.example.com/romeo")})
	f.router.RouteFrom(t.Context(), romeo, stanza.IQ{ID: "3", From: romeo.Address(), To: domain, Type: stanza.GetIQ})

	require.Equal(t, "1", conn.next(t).Head().ID)
	require.Equal(t, "2", conn.next(t).Head().ID)
	require.Equal(t, "3", conn.next(t).Head().ID)
}

func TestComponentMissingTimesOut(t *testing.T) {
	f := newFixture(t, router.ComponentLookup(fakeComponents{}))
	romeo, rconn := f.bind(t, "romeo@example.com/orchard", 0)
	to := jid.MustParse("room@muc.example.com")

	f.router.RouteFrom(t.Context(), romeo, stanza.Message{ID: "m1", From: romeo.Address(), To: to, Body: "hi"})
	reply := rconn.next(t).(stanza.Message)
	require.Equal(t, "m1", reply.ID)
	require.Equal(t, romeo.Address(), reply.To)
	require.Equal(t, to, reply.From)
	require.Equal(t, stanza.RemoteServerTimeout, reply.Error.Condition)

	f.router.RouteFrom(t.Context(), romeo, stanza.IQ{ID: "q1", From: romeo.Address(), To: to, Type: stanza.SetIQ})
	iq := rconn.next(t).(stanza.IQ)
	require.Equal(t, "q1", iq.ID)
	require.Equal(t, romeo.Address(), iq.To)
	require.Equal(t, to, iq.From)
	require.Equal(t, stanza.RemoteServerTimeout, iq.Error.Condition)

	f.router.RouteFrom(t.Context(), romeo, stanza.Presence{ID: "p1", From: romeo.Address(), To: to})
	f.router.RouteFrom(t.Context(), romeo, stanza.IQ{ID: "q2", From: romeo.Address(), To: to, Type: stanza.ResultIQ})
	rconn.expectNone(t, romeo)
}

func TestComponentClosedTimesOut(t *testing.T) {
	comps := fakeComponents{}
	f := newFixture(t, router.ComponentLookup(comps))
	domain := jid.MustParse("muc.example.com")
	c := session.New(newRecConn(), session.Component, session.InDirectory(f.table))
	require.NoError(t, c.Authenticate(domain))
	require.NoError(t, f.table.AddRoute(domain, c))
	comps[domain] = component.Handle{Domain: domain, Route: route.Route{Kind: route.Local, Addr: domain, Session: c}}
	c.Close(nil)

	romeo, rconn := f.bind(t, "romeo@example.com/orchard", 0)
	f.router.RouteFrom(t.Context(), romeo, stanza.Message{ID: "m1", From: romeo.Address(), To: domain, Body: "hi"})
	reply := rconn.next(t).(stanza.Message)
	require.Equal(t, stanza.RemoteServerTimeout, reply.Error.Condition)
}

func TestServedDomainIsNotComponent(t *testing.T) {
	f := newFixture(t, router.ComponentLookup(fakeComponents{}))
	_, c := f.bind(t, "juliet@example.com/balcony", 0)
	f.router.Route(t.Context(), stanza.Message{ID: "1", From: jid.MustParse("romeo@example.net/x"), To: jid.MustParse("juliet@example.com/balcony"), Body: "hi"})
	require.Equal(t, "1", c.next(t).Head().ID)
	require.True(t, f.router.Serves(jid.MustParse("example.com")))
	require.False(t, f.router.Serves(jid.MustParse("muc.example.com")))
}
