// Copyright 2024 The Mellium Contributors.
// Use of this source code is governed by the BSD 2-clause
// license that can be found in the LICENSE file.

// Package cluster lets several server processes share one routing directory.
//
// Every process is a node identified by a [NodeID].
// A [Membership] service reports nodes joining and leaving, and the
// [Registry] keeps one canonical [Member] per live node.
//
// Work that must happen on another node is described by a [Task] and sent
// with a [Dispatcher]:
//
//	d := cluster.NewDispatcher(cluster.DispatcherOptions{
//	    Local:     "node-a",
//	    Transport: transport,
//	    Registry:  registry,
//	})
//	err := d.Deliver(ctx, "node-b", to, msg)
//
// The receiving side runs a [Node] which decodes tasks and hands them to an
// [Executor].
// Tasks are executed at most once and in-flight tasks cannot be cancelled;
// a dispatch that does not complete within its timeout is reported as a
// failure.
//
// # Transport Layer
//
// [Transport] abstracts the messaging infrastructure.
// [MemoryTransport] connects nodes living in the same process and is what the
// tests use; the NATS implementation lives in
// mellium.im/xmppd/adapters/nats.
package cluster // import "mellium.im/xmppd/cluster"
