// Copyright 2024 The Mellium Contributors.
// Use of this source code is governed by the BSD 2-clause
// license that can be found in the LICENSE file.

// Package route is the session directory of a cluster node.
//
// A Table resolves addresses at three granularities: full JIDs map to exactly
// one session, bare JIDs map to the set of bound resources ordered by presence
// priority, and domains map to the single component or peer that serves them.
// Every entry either holds a local session or names the remote node that owns
// it.
package route // import "mellium.im/xmppd/route"
