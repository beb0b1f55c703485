// Copyright 2014 The Mellium Contributors.
// Use of this source code is governed by the BSD 2-clause
// license that can be found in the LICENSE file.

// Package jid implements XMPP addresses (historically called "Jabber ID's" or
// "JID's") as described in RFC 7622.
//
// A JID is an immutable value.
// Full JIDs (localpart@domainpart/resourcepart), bare JIDs
// (localpart@domainpart) and domain JIDs (domainpart) are all represented by
// the same type and may be compared with == or used as map keys, which is how
// the routing table indexes them.
package jid // import "mellium.im/xmppd/jid"
