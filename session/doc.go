// Copyright 2024 The Mellium Contributors.
// Use of this source code is governed by the BSD 2-clause
// license that can be found in the LICENSE file.

// Package session tracks the live endpoints attached to a server node.
//
// A Session is created by the transport layer once a stream is open, moves to
// Authenticated after SASL (or the component handshake) and, for clients, to
// Bound after resource binding.
// Closed is terminal.
// Outbound stanzas are queued and written by a goroutine owned by the
// session, so a slow peer never blocks whoever is routing to it.
package session // import "mellium.im/xmppd/session"
