// Copyright 2024 The Mellium Contributors.
// Use of this source code is governed by the BSD 2-clause
// license that can be found in the LICENSE file.

package cluster

import (
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/benbjohnson/clock"
)

// NodeID identifies a cluster node.
// It is a value type: two NodeIDs built from the same bytes are equal and may
// be used interchangeably as map keys.
type NodeID string

// Bytes returns a copy of the raw identity.
func (id NodeID) Bytes() []byte {
	return []byte(id)
}

func (id NodeID) String() string {
	return string(id)
}

// Member is the canonical record of a live node.
// For as long as a node is live the Registry hands out the same *Member for it.
type Member struct {
	ID       NodeID
	JoinedAt time.Time

	senior atomic.Bool
}

// Senior reports whether the member is the oldest live member of the cluster.
func (m *Member) Senior() bool {
	return m.senior.Load()
}

// RegistryOptions configures a Registry.
type RegistryOptions struct {
	Log     *slog.Logger
	Clock   clock.Clock
	Metrics Metrics
}

// Registry keeps one canonical Member per live node.
// It is only mutated in response to membership events.
type Registry struct {
	mu      sync.RWMutex
	members map[NodeID]*Member
	log     *slog.Logger
	clock   clock.Clock
	metrics Metrics
}

// NewRegistry returns an empty registry.
func NewRegistry(opts RegistryOptions) *Registry {
	r := &Registry{
		members: make(map[NodeID]*Member),
		log:     opts.Log,
		clock:   opts.Clock,
		metrics: opts.Metrics,
	}
	if r.log == nil {
		r.log = slog.New(slog.DiscardHandler)
	}
	if r.clock == nil {
		r.clock = clock.New()
	}
	if r.metrics == nil {
		r.metrics = NopMetrics()
	}
	return r
}

// Intern returns the canonical Member for the identity b, creating it if the
// node is not yet known.
// Concurrent calls with equal bytes return the same pointer.
func (r *Registry) Intern(b []byte) *Member {
	return r.join(NodeID(b), time.Time{})
}

func (r *Registry) join(id NodeID, at time.Time) *Member {
	r.mu.RLock()
	m, ok := r.members[id]
	r.mu.RUnlock()
	if ok {
		return m
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if m, ok := r.members[id]; ok {
		return m
	}
	if at.IsZero() {
		at = r.clock.Now()
	}
	m = &Member{ID: id, JoinedAt: at}
	r.members[id] = m
	r.electLocked()
	r.metrics.Members(len(r.members))
	r.log.Debug("member joined", slog.String("node", string(id)))
	return m
}

// Forget removes the node from the registry.
// A later Intern for the same identity creates a new Member.
func (r *Registry) Forget(id NodeID) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	m, ok := r.members[id]
	if !ok {
		return false
	}
	delete(r.members, id)
	m.senior.Store(false)
	r.electLocked()
	r.metrics.Members(len(r.members))
	r.log.Debug("member left", slog.String("node", string(id)))
	return true
}

// Lookup returns the Member for id if the node is live.
func (r *Registry) Lookup(id NodeID) (*Member, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	m, ok := r.members[id]
	return m, ok
}

// IsLive reports whether id is a live member.
func (r *Registry) IsLive(id NodeID) bool {
	_, ok := r.Lookup(id)
	return ok
}

// Members returns the live members ordered by seniority.
func (r *Registry) Members() []*Member {
	r.mu.RLock()
	out := make([]*Member, 0, len(r.members))
	for _, m := range r.members {
		out = append(out, m)
	}
	r.mu.RUnlock()
	sortMembers(out)
	return out
}

// Senior returns the oldest live member.
func (r *Registry) Senior() (*Member, bool) {
	members := r.Members()
	if len(members) == 0 {
		return nil, false
	}
	return members[0], true
}

// Watch keeps the registry in sync with the events of m until the returned
// function is called.
func (r *Registry) Watch(m Membership) (stop func()) {
	return m.Subscribe(func(ev Event) {
		switch ev.Type {
		case NodeJoined:
			r.join(ev.Node, ev.At)
		case NodeLeft:
			r.Forget(ev.Node)
		}
	})
}

func (r *Registry) electLocked() {
	var senior *Member
	for _, m := range r.members {
		if senior == nil || older(m, senior) {
			senior = m
		}
	}
	for _, m := range r.members {
		m.senior.Store(m == senior)
	}
}

func older(a, b *Member) bool {
	if !a.JoinedAt.Equal(b.JoinedAt) {
		return a.JoinedAt.Before(b.JoinedAt)
	}
	return a.ID < b.ID
}

func sortMembers(m []*Member) {
	sort.Slice(m, func(i, j int) bool { return older(m[i], m[j]) })
}
