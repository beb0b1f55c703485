// Copyright 2024 The Mellium Contributors.
// Use of this source code is governed by the BSD 2-clause
// license that can be found in the LICENSE file.

package route

import (
	"errors"
	"fmt"

	"mellium.im/xmppd/cluster"
	"mellium.im/xmppd/jid"
	"mellium.im/xmppd/session"
)

// Errors returned when adding routes.
var (
	ErrNotRoutable = errors.New("route: bare address without a resource cannot be routed")
	ErrNotBound    = errors.New("route: session is not ready to be routed")
	ErrNoSession   = errors.New("route: nil session")

	// ErrBoundLocally is returned by ApplyRemote when another node advertises a
	// full address that a live local session holds.
	ErrBoundLocally = errors.New("route: address is bound to a local session")
)

// ConflictError is returned when a domain is already served by a different
// live session or node.
type ConflictError struct {
	Domain jid.JID
	Owner  cluster.NodeID
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("route: domain %s already owned by %s", e.Domain, e.Owner)
}

// Kind is the result variant of a lookup.
type Kind uint8

// A list of route kinds.
const (
	NotFound Kind = iota
	Local
	Remote
)

func (k Kind) String() string {
	switch k {
	case Local:
		return "local"
	case Remote:
		return "remote"
	}
	return "not-found"
}

// Route is the result of resolving an address.
// Session is set for Local routes, Node is the owning node of any found route.
type Route struct {
	Kind     Kind
	Addr     jid.JID
	Session  *session.Session
	Node     cluster.NodeID
	Priority int
}

// Found reports whether the route resolved to a session or node.
func (r Route) Found() bool {
	return r.Kind != NotFound
}

type entry struct {
	addr     jid.JID
	sess     *session.Session
	node     cluster.NodeID
	priority int
	seq      uint64
}

func (e *entry) local() bool {
	return e.sess != nil
}

// live reports whether the entry may be returned by a lookup.
func (e *entry) live() bool {
	return e.sess == nil || !e.sess.IsClosing()
}

func (e *entry) route() Route {
	k := Remote
	if e.local() {
		k = Local
	}
	return Route{
		Kind:     k,
		Addr:     e.addr,
		Session:  e.sess,
		Node:     e.node,
		Priority: e.priority,
	}
}

// before reports whether a sorts ahead of b in a resource set.
// Higher priorities come first, ties go to the most recent binding.
func before(a, b *entry) bool {
	if a.priority != b.priority {
		return a.priority > b.priority
	}
	return a.seq > b.seq
}
