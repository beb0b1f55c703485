// Copyright 2024 The Mellium Contributors.
// Use of this source code is governed by the BSD 2-clause
// license that can be found in the LICENSE file.

package cluster

import (
	"sort"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
)

// EventType is the kind of a membership change.
type EventType uint8

// A list of membership event types.
const (
	NodeJoined EventType = iota + 1
	NodeLeft
)

func (t EventType) String() string {
	switch t {
	case NodeJoined:
		return "joined"
	case NodeLeft:
		return "left"
	}
	return "unknown"
}

// Event is a membership change.
type Event struct {
	Type EventType
	Node NodeID
	At   time.Time
}

// Membership is the cluster membership service as seen from one node.
type Membership interface {
	// Local returns the identity of the node the view belongs to.
	Local() NodeID

	// Members returns every live node, including the local one.
	Members() []NodeID

	// Subscribe registers fn for membership events.
	// Before Subscribe returns fn is called with a NodeJoined event for every
	// node that is already live, so subscribers never miss a member.
	// Events are delivered one at a time and fn must not call back into the
	// membership service.
	Subscribe(fn func(Event)) (unsubscribe func())
}

// Group is an in-process membership service.
// Nodes Join and Leave explicitly; it is used when several nodes share a
// process (tests and single binary deployments) and as the building block of
// other membership implementations.
type Group struct {
	clock clock.Clock

	// deliver serializes event delivery so that subscribers observe events in
	// the order in which they happened.
	deliver sync.Mutex

	mu      sync.Mutex
	members map[NodeID]time.Time
	subs    map[int]func(Event)
	next    int
}

// NewGroup returns an empty group.
// If clk is nil the wall clock is used.
func NewGroup(clk clock.Clock) *Group {
	if clk == nil {
		clk = clock.New()
	}
	return &Group{
		clock:   clk,
		members: make(map[NodeID]time.Time),
		subs:    make(map[int]func(Event)),
	}
}

// Join adds id to the group and returns the membership view of that node.
// Joining twice is a no-op apart from returning a new view.
func (g *Group) Join(id NodeID) Membership {
	g.deliver.Lock()
	defer g.deliver.Unlock()

	g.mu.Lock()
	_, ok := g.members[id]
	now := g.clock.Now()
	if !ok {
		g.members[id] = now
	}
	subs := g.subscribers()
	g.mu.Unlock()

	if !ok {
		g.emit(subs, Event{Type: NodeJoined, Node: id, At: now})
	}
	return groupView{g: g, local: id}
}

// Leave removes id from the group.
func (g *Group) Leave(id NodeID) {
	g.deliver.Lock()
	defer g.deliver.Unlock()

	g.mu.Lock()
	_, ok := g.members[id]
	delete(g.members, id)
	subs := g.subscribers()
	g.mu.Unlock()

	if ok {
		g.emit(subs, Event{Type: NodeLeft, Node: id, At: g.clock.Now()})
	}
}

// Members returns every node in the group, oldest first.
func (g *Group) Members() []NodeID {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make([]NodeID, 0, len(g.members))
	for id := range g.members {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool {
		ti, tj := g.members[out[i]], g.members[out[j]]
		if !ti.Equal(tj) {
			return ti.Before(tj)
		}
		return out[i] < out[j]
	})
	return out
}

// Subscribe satisfies the Membership interface.
func (g *Group) Subscribe(fn func(Event)) func() {
	g.deliver.Lock()
	defer g.deliver.Unlock()

	g.mu.Lock()
	id := g.next
	g.next++
	g.subs[id] = fn
	current := make([]Event, 0, len(g.members))
	for node, at := range g.members {
		current = append(current, Event{Type: NodeJoined, Node: node, At: at})
	}
	g.mu.Unlock()

	sort.Slice(current, func(i, j int) bool { return current[i].At.Before(current[j].At) })
	for _, ev := range current {
		fn(ev)
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			g.mu.Lock()
			delete(g.subs, id)
			g.mu.Unlock()
		})
	}
}

func (g *Group) subscribers() []func(Event) {
	keys := make([]int, 0, len(g.subs))
	for k := range g.subs {
		keys = append(keys, k)
	}
	sort.Ints(keys)
	subs := make([]func(Event), 0, len(keys))
	for _, k := range keys {
		subs = append(subs, g.subs[k])
	}
	return subs
}

func (g *Group) emit(subs []func(Event), ev Event) {
	for _, fn := range subs {
		fn(ev)
	}
}

type groupView struct {
	g     *Group
	local NodeID
}

func (v groupView) Local() NodeID                   { return v.local }
func (v groupView) Members() []NodeID               { return v.g.Members() }
func (v groupView) Subscribe(fn func(Event)) func() { return v.g.Subscribe(fn) }

// Standalone returns the membership of a single node cluster.
func Standalone(id NodeID) Membership {
	g := NewGroup(nil)
	return g.Join(id)
}
