// Copyright 2024 The Mellium Contributors.
// Use of this source code is governed by the BSD 2-clause
// license that can be found in the LICENSE file.

// Package router decides where stanzas go.
//
// A Router resolves the recipient of every stanza through a routing table and
// either hands it to a local session, ships it to the node that owns the
// recipient, or applies the fallback of the stanza kind: messages go to the
// offline store or bounce, IQs get an error reply and presence is dropped.
// Routing never fails from the point of view of the caller.
package router // import "mellium.im/xmppd/router"
