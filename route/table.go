// Copyright 2024 The Mellium Contributors.
// Use of this source code is governed by the BSD 2-clause
// license that can be found in the LICENSE file.

package route

import (
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/spaolacci/murmur3"

	"mellium.im/xmppd/cluster"
	"mellium.im/xmppd/jid"
	"mellium.im/xmppd/session"
)

// Replicator publishes changes to local routes to other nodes.
// Replicate is called after the local table has been updated and must not
// block.
type Replicator interface {
	Replicate(task cluster.Task)
}

// userStripe holds the full and bare routes of every bare JID that hashes to
// it.
// Both maps of one user live in the same stripe, so a writer updates the
// resource set and the full entry under a single lock.
type userStripe struct {
	sync.RWMutex
	full map[jid.JID]*entry
	bare map[jid.JID][]*entry
}

type domainStripe struct {
	sync.RWMutex
	m map[jid.JID]*entry
}

// Table is a concurrent session directory.
// The zero value is not usable, create tables with New.
type Table struct {
	local   cluster.NodeID
	users   []userStripe
	domains []domainStripe
	seq     atomic.Uint64

	smu   sync.Mutex
	owned map[*session.Session]map[jid.JID]struct{}

	registry   *cluster.Registry
	replicator Replicator
	log        *slog.Logger
	metrics    Metrics
}

// New returns an empty table for the node local.
func New(local cluster.NodeID, opts ...Option) (*Table, error) {
	if local == "" {
		return nil, errors.New("route: empty local node id")
	}
	o := getOpts(opts...)
	t := &Table{
		local:      local,
		users:      make([]userStripe, o.stripes),
		domains:    make([]domainStripe, o.stripes),
		owned:      make(map[*session.Session]map[jid.JID]struct{}),
		registry:   o.registry,
		replicator: o.replicator,
		log:        o.log,
		metrics:    o.metrics,
	}
	for i := range t.users {
		t.users[i].full = make(map[jid.JID]*entry)
		t.users[i].bare = make(map[jid.JID][]*entry)
	}
	for i := range t.domains {
		t.domains[i].m = make(map[jid.JID]*entry)
	}
	return t, nil
}

// Local returns the node the table belongs to.
func (t *Table) Local() cluster.NodeID {
	return t.local
}

func stripe(key jid.JID, n int) int {
	return int(murmur3.Sum32([]byte(key.String())) % uint32(n))
}

func (t *Table) userStripe(addr jid.JID) *userStripe {
	return &t.users[stripe(addr.Bare(), len(t.users))]
}

func (t *Table) domainStripe(addr jid.JID) *domainStripe {
	return &t.domains[stripe(addr.Domain(), len(t.domains))]
}

// AddRoute makes s reachable at addr.
// A full address also adds s to the resource set of the bare address.
// A domain address fails with a *ConflictError if another live session or
// node already serves the domain.
// Client sessions must be Bound, other kinds Authenticated.
func (t *Table) AddRoute(addr jid.JID, s *session.Session) error {
	switch {
	case s == nil:
		return ErrNoSession
	case s.IsClosing():
		return session.ErrClosed
	case !routable(s):
		return fmt.Errorf("%w: %s is %s", ErrNotBound, s.Kind(), s.Status())
	}

	e := &entry{
		addr:     addr,
		sess:     s,
		node:     t.local,
		priority: s.Priority(),
		seq:      t.seq.Add(1),
	}
	var err error
	switch {
	case addr.IsDomain():
		err = t.putDomain(e)
	case addr.IsBare():
		return ErrNotRoutable
	default:
		err = t.putUser(e)
	}
	if err != nil {
		return err
	}
	t.own(s, addr)
	t.replicate(cluster.Task{
		Kind:     cluster.TaskRouteAdd,
		Origin:   t.local,
		Target:   addr,
		Priority: e.priority,
	})

	// The session may have started closing while it was being inserted, in
	// which case its own RemoveSession may already have run.
	if s.IsClosing() {
		t.RemoveSession(s)
		t.replicate(cluster.Task{
			Kind:   cluster.TaskRouteRemove,
			Origin: t.local,
			Target: addr,
		})
		return session.ErrClosed
	}

	t.log.Debug("route added", slog.String("jid", addr.String()), slog.String("session", s.ID()))
	return nil
}

func routable(s *session.Session) bool {
	st := s.Status()
	if s.Kind() == session.Client {
		return st == session.Bound
	}
	return st == session.Authenticated || st == session.Bound
}

// putUser inserts e in the full and bare maps.
// A remote entry never replaces a live local one.
func (t *Table) putUser(e *entry) error {
	bare := e.addr.Bare()
	us := t.userStripe(e.addr)
	us.Lock()
	if old, ok := us.full[e.addr]; ok && !e.local() && old.local() && old.live() {
		us.Unlock()
		return ErrBoundLocally
	}
	us.bare[bare] = insert(us.bare[bare], e)
	us.full[e.addr] = e
	us.Unlock()
	t.metrics.Added(GranularityFull, e.local())
	return nil
}

func (t *Table) putDomain(e *entry) error {
	ds := t.domainStripe(e.addr)
	ds.Lock()
	defer ds.Unlock()
	if old, ok := ds.m[e.addr]; ok && old.live() && !t.sameOwner(old, e) {
		return &ConflictError{Domain: e.addr, Owner: old.node}
	}
	ds.m[e.addr] = e
	t.metrics.Added(GranularityDomain, e.local())
	return nil
}

func (t *Table) sameOwner(a, b *entry) bool {
	if a.local() || b.local() {
		return a.sess == b.sess
	}
	return a.node == b.node
}

// insert adds e to a resource set, replacing any entry for the same address.
func insert(set []*entry, e *entry) []*entry {
	set = slices.DeleteFunc(set, func(o *entry) bool { return o.addr == e.addr })
	i := sort.Search(len(set), func(i int) bool { return before(e, set[i]) })
	return slices.Insert(set, i, e)
}

func (t *Table) own(s *session.Session, addr jid.JID) {
	t.smu.Lock()
	defer t.smu.Unlock()
	m, ok := t.owned[s]
	if !ok {
		m = make(map[jid.JID]struct{})
		t.owned[s] = m
	}
	m[addr] = struct{}{}
}

// RemoveRoute removes whatever route is registered for addr.
// Removing a route that does not exist is a no-op.
func (t *Table) RemoveRoute(addr jid.JID) {
	if e := t.remove(addr, nil); e != nil && e.local() {
		t.disown(e.sess, addr)
	}
}

// RemoveSession removes every route that points at s.
// Routes that have since been taken over by another session are left alone.
func (t *Table) RemoveSession(s *session.Session) {
	t.smu.Lock()
	addrs := t.owned[s]
	delete(t.owned, s)
	t.smu.Unlock()

	for addr := range addrs {
		t.remove(addr, func(e *entry) bool { return e.sess == s })
	}
}

func (t *Table) disown(s *session.Session, addr jid.JID) {
	t.smu.Lock()
	defer t.smu.Unlock()
	if m, ok := t.owned[s]; ok {
		delete(m, addr)
		if len(m) == 0 {
			delete(t.owned, s)
		}
	}
}

// remove deletes the route for addr if match is nil or reports true for it
// and returns the removed entry.
func (t *Table) remove(addr jid.JID, match func(*entry) bool) *entry {
	var removed *entry
	var granularity string
	switch {
	case addr.IsDomain():
		granularity = GranularityDomain
		ds := t.domainStripe(addr)
		ds.Lock()
		if e, ok := ds.m[addr]; ok && (match == nil || match(e)) {
			delete(ds.m, addr)
			removed = e
		}
		ds.Unlock()
	case addr.IsBare():
		return nil
	default:
		granularity = GranularityFull
		bare := addr.Bare()
		us := t.userStripe(addr)
		us.Lock()
		if e, ok := us.full[addr]; ok && (match == nil || match(e)) {
			delete(us.full, addr)
			removed = e
			us.removeBare(bare, e)
		}
		us.Unlock()
	}
	if removed == nil {
		return nil
	}
	t.metrics.Removed(granularity, removed.local())
	if removed.local() {
		t.log.Debug("route removed", slog.String("jid", addr.String()))
		t.replicate(cluster.Task{
			Kind:   cluster.TaskRouteRemove,
			Origin: t.local,
			Target: addr,
		})
	}
	return removed
}

// removeBare must be called with the stripe locked.
func (us *userStripe) removeBare(bare jid.JID, e *entry) {
	set := slices.DeleteFunc(us.bare[bare], func(o *entry) bool { return o == e })
	if len(set) == 0 {
		delete(us.bare, bare)
		return
	}
	us.bare[bare] = set
}

// GetRoute resolves addr at the granularity of its form.
// Full addresses match exactly, bare addresses resolve to the bound resource
// with the highest priority, and domains match the domain map.
func (t *Table) GetRoute(addr jid.JID) Route {
	var r Route
	var granularity string
	switch {
	case addr.IsDomain():
		granularity = GranularityDomain
		r = t.getDomain(addr)
	case addr.IsBare():
		granularity = GranularityBare
		r = t.getBare(addr)
	default:
		granularity = GranularityFull
		r = t.getFull(addr)
	}
	t.metrics.Lookup(granularity, r.Kind)
	return r
}

func (t *Table) getFull(addr jid.JID) Route {
	us := t.userStripe(addr)
	us.RLock()
	e, ok := us.full[addr]
	us.RUnlock()
	if !ok || !e.live() {
		return Route{Addr: addr}
	}
	return e.route()
}

func (t *Table) getBare(addr jid.JID) Route {
	us := t.userStripe(addr)
	us.RLock()
	defer us.RUnlock()
	for _, e := range us.bare[addr] {
		if e.live() {
			return e.route()
		}
	}
	return Route{Addr: addr}
}

func (t *Table) getDomain(addr jid.JID) Route {
	ds := t.domainStripe(addr)
	ds.RLock()
	e, ok := ds.m[addr]
	ds.RUnlock()
	if !ok || !e.live() {
		return Route{Addr: addr}
	}
	return e.route()
}

// BestRoute resolves addr the way a router picks a single target: a full
// address tries the exact resource, a bare address tries its best resource,
// and when neither matches (or addr is a domain) the route of the domain is
// used, which is how users of peers and components are reached.
// A full address is never resolved to a different resource.
func (t *Table) BestRoute(addr jid.JID) Route {
	if !addr.IsDomain() {
		if r := t.GetRoute(addr); r.Found() {
			return r
		}
	}
	r := t.GetRoute(addr.Domain())
	if !r.Found() {
		r.Addr = addr
	}
	return r
}

// Routes returns every live bound resource of the bare form of addr in
// priority order.
func (t *Table) Routes(addr jid.JID) []Route {
	bare := addr.Bare()
	us := t.userStripe(bare)
	us.RLock()
	defer us.RUnlock()
	set := us.bare[bare]
	routes := make([]Route, 0, len(set))
	for _, e := range set {
		if e.live() {
			routes = append(routes, e.route())
		}
	}
	return routes
}

// SetPriority changes the presence priority of the resource at the full
// address addr and reorders its resource set.
// It reports whether a route was found.
func (t *Table) SetPriority(addr jid.JID, priority int) bool {
	if addr.IsBare() {
		return false
	}
	bare := addr.Bare()
	us := t.userStripe(addr)
	us.Lock()
	old, ok := us.full[addr]
	if !ok {
		us.Unlock()
		return false
	}
	e := &entry{
		addr:     old.addr,
		sess:     old.sess,
		node:     old.node,
		priority: priority,
		seq:      old.seq,
	}
	us.removeBare(bare, old)
	us.bare[bare] = insert(us.bare[bare], e)
	us.full[addr] = e
	us.Unlock()

	if e.local() {
		e.sess.SetPriority(priority)
		t.replicate(cluster.Task{
			Kind:     cluster.TaskRouteAdd,
			Origin:   t.local,
			Target:   addr,
			Priority: priority,
		})

		// A removal that ran after the lock was released may have been
		// replicated before the update above.
		us.RLock()
		cur, ok := us.full[addr]
		us.RUnlock()
		if !ok || cur.sess != e.sess {
			t.replicate(cluster.Task{
				Kind:   cluster.TaskRouteRemove,
				Origin: t.local,
				Target: addr,
			})
		}
	}
	return true
}

// PurgeNode removes every route owned by the remote node id and returns the
// number of routes removed.
func (t *Table) PurgeNode(id cluster.NodeID) int {
	if id == t.local {
		return 0
	}
	owned := func(e *entry) bool { return !e.local() && e.node == id }
	var n int
	for i := range t.users {
		us := &t.users[i]
		us.Lock()
		for addr, e := range us.full {
			if owned(e) {
				delete(us.full, addr)
				us.removeBare(addr.Bare(), e)
				n++
			}
		}
		us.Unlock()
	}
	for i := range t.domains {
		ds := &t.domains[i]
		ds.Lock()
		for addr, e := range ds.m {
			if owned(e) {
				delete(ds.m, addr)
				n++
			}
		}
		ds.Unlock()
	}
	t.metrics.Purged(n)
	if n > 0 {
		t.log.Info("purged routes of departed node", slog.String("node", id.String()), slog.Int("routes", n))
	}
	return n
}

// Watch purges the routes of every node that leaves m until the returned
// function is called.
func (t *Table) Watch(m cluster.Membership) (stop func()) {
	return m.Subscribe(func(ev cluster.Event) {
		if ev.Type == cluster.NodeLeft {
			t.PurgeNode(ev.Node)
		}
	})
}

// ApplyRemote applies a route advertisement received from another node.
func (t *Table) ApplyRemote(task cluster.Task) error {
	if task.Origin == "" || task.Origin == t.local {
		return fmt.Errorf("route: advertisement from invalid origin %q", task.Origin)
	}
	if t.registry != nil && !t.registry.IsLive(task.Origin) {
		return fmt.Errorf("%w: %s", cluster.ErrUnknownNode, task.Origin)
	}
	addr := task.Target
	switch task.Kind {
	case cluster.TaskRouteAdd:
		e := &entry{
			addr:     addr,
			node:     task.Origin,
			priority: task.Priority,
			seq:      t.seq.Add(1),
		}
		switch {
		case addr.IsDomain():
			return t.putDomain(e)
		case addr.IsBare():
			return ErrNotRoutable
		}
		if err := t.putUser(e); err != nil {
			t.log.Warn("resource bound on two nodes",
				slog.String("jid", addr.String()),
				slog.String("node", task.Origin.String()))
			return err
		}
		return nil
	case cluster.TaskRouteRemove:
		t.remove(addr, func(e *entry) bool { return !e.local() && e.node == task.Origin })
		return nil
	}
	return fmt.Errorf("route: cannot apply %s task", task.Kind)
}

// LocalAdverts returns a route.add task for every live local route.
// It is sent to nodes that join the cluster.
func (t *Table) LocalAdverts() []cluster.Task {
	var tasks []cluster.Task
	add := func(e *entry) {
		if e.local() && e.live() {
			tasks = append(tasks, cluster.Task{
				Kind:     cluster.TaskRouteAdd,
				Origin:   t.local,
				Target:   e.addr,
				Priority: e.priority,
			})
		}
	}
	for i := range t.users {
		us := &t.users[i]
		us.RLock()
		for _, e := range us.full {
			add(e)
		}
		us.RUnlock()
	}
	for i := range t.domains {
		ds := &t.domains[i]
		ds.RLock()
		for _, e := range ds.m {
			add(e)
		}
		ds.RUnlock()
	}
	return tasks
}

// Len returns the number of full and domain routes in the table.
func (t *Table) Len() int {
	var n int
	for i := range t.users {
		us := &t.users[i]
		us.RLock()
		n += len(us.full)
		us.RUnlock()
	}
	for i := range t.domains {
		ds := &t.domains[i]
		ds.RLock()
		n += len(ds.m)
		ds.RUnlock()
	}
	return n
}

func (t *Table) replicate(task cluster.Task) {
	if t.replicator != nil {
		t.replicator.Replicate(task)
	}
}
