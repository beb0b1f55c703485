// Copyright 2015 Sam Whited.
// Use of this source code is governed by the BSD 2-clause license that can be
// found in the LICENSE file.

// The server package wires the routing core of a cluster node together.
//
// A Server owns the session event bus, the node registry, the routing table,
// the stanza router and the cluster node that executes tasks sent by other
// nodes.
// The transport layer hands it sessions once stream negotiation is done and
// feeds it the stanzas those sessions receive.
package server // import "mellium.im/xmppd/server"
