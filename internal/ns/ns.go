// Copyright 2016 The Mellium Contributors.
// Use of this source code is governed by the BSD 2-clause
// license that can be found in the LICENSE file.

// Package ns provides namespace constants that are used by the stanza, router
// and component packages.
package ns // import "mellium.im/xmppd/internal/ns"

// List of commonly used namespaces.
const (
	Client    = "jabber:client"
	Server    = "jabber:server"
	Component = "jabber:component:accept"
	Stanza    = "urn:ietf:params:xml:ns:xmpp-stanzas"
	XML       = "http://www.w3.org/XML/1998/namespace"

	AMP        = "http://jabber.org/protocol/amp"
	ChatStates = "http://jabber.org/protocol/chatstates"
	Delay      = "urn:xmpp:delay"
	Hints      = "urn:xmpp:hints"
	Ping       = "urn:xmpp:ping"
)
