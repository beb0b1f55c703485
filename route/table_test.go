// Copyright 2024 The Mellium Contributors.
// Use of this source code is governed by the BSD 2-clause
// license that can be found in the LICENSE file.

package route_test

import (
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"mellium.im/xmppd/cluster"
	"mellium.im/xmppd/jid"
	"mellium.im/xmppd/route"
	"mellium.im/xmppd/session"
	"mellium.im/xmppd/stanza"
)

const local cluster.NodeID = "node-a"

type nopConn struct{}

func (nopConn) WriteStanza(stanza.Stanza) error { return nil }
func (nopConn) Close() error                    { return nil }

type recorder struct {
	mu    sync.Mutex
	tasks []cluster.Task
}

func (r *recorder) Replicate(task cluster.Task) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tasks = append(r.tasks, task)
}

func (r *recorder) Tasks() []cluster.Task {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]cluster.Task(nil), r.tasks...)
}

// interceptor runs hook on each task before recording it.
type interceptor struct {
	recorder
	hook func(cluster.Task)
}

func (r *interceptor) Replicate(task cluster.Task) {
	if r.hook != nil {
		r.hook(task)
	}
	r.recorder.Replicate(task)
}

func newTable(t *testing.T, opts ...route.Option) *route.Table {
	t.Helper()
	tbl, err := route.New(local, opts...)
	require.NoError(t, err)
	return tbl
}

// bound returns a bound client session for the full JID addr that removes
// itself from tbl when closed.
func bound(t *testing.T, tbl *route.Table, addr string, priority int) (*session.Session, jid.JID) {
	t.Helper()
	j := jid.MustParse(addr)
	s := session.New(nopConn{}, session.Client, session.InDirectory(tbl), session.Owner(string(local)))
	require.NoError(t, s.Authenticate(j.Bare()))
	full, err := s.Bind(j.Resourcepart())
	require.NoError(t, err)
	s.SetPriority(priority)
	t.Cleanup(func() { s.Close(nil) })
	return s, full
}

func component(t *testing.T, tbl *route.Table, domain string) *session.Session {
	t.Helper()
	s := session.New(nopConn{}, session.Component, session.InDirectory(tbl))
	require.NoError(t, s.Authenticate(jid.MustParse(domain)))
	t.Cleanup(func() { s.Close(nil) })
	return s
}

func TestNewRequiresLocalNode(t *testing.T) {
	_, err := route.New("")
	require.Error(t, err)
}

func TestFullRouteMostRecentWins(t *testing.T) {
	tbl := newTable(t)
	s1, addr := bound(t, tbl, "juliet@example.com/balcony", 0)
	s2, _ := bound(t, tbl, "juliet@example.com/balcony", 0)

	require.NoError(t, tbl.AddRoute(addr, s1))
	r := tbl.GetRoute(addr)
	require.Equal(t, route.Local, r.Kind)
	require.Same(t, s1, r.Session)
	require.Equal(t, local, r.Node)

	require.NoError(t, tbl.AddRoute(addr, s2))
	require.Same(t, s2, tbl.GetRoute(addr).Session)
	require.Len(t, tbl.Routes(addr.Bare()), 1)

	tbl.RemoveRoute(addr)
	require.Equal(t, route.NotFound, tbl.GetRoute(addr).Kind)
	require.Empty(t, tbl.Routes(addr.Bare()))
}

func TestRemoveRouteIdempotent(t *testing.T) {
	tbl := newTable(t)
	s1, a1 := bound(t, tbl, "romeo@example.net/orchard", 0)
	s2, a2 := bound(t, tbl, "romeo@example.net/garden", 0)
	require.NoError(t, tbl.AddRoute(a1, s1))
	require.NoError(t, tbl.AddRoute(a2, s2))

	tbl.RemoveRoute(a1)
	once := []route.Route{tbl.GetRoute(a1), tbl.GetRoute(a2), tbl.GetRoute(a1.Bare())}
	lenOnce := tbl.Len()

	tbl.RemoveRoute(a1)
	twice := []route.Route{tbl.GetRoute(a1), tbl.GetRoute(a2), tbl.GetRoute(a1.Bare())}
	require.Equal(t, once, twice)
	require.Equal(t, lenOnce, tbl.Len())

	require.NotPanics(t, func() { tbl.RemoveRoute(jid.MustParse("nobody@example.net/x")) })
}

func TestBareResolvesHighestPriority(t *testing.T) {
	tbl := newTable(t)
	var best *session.Session
	for i, p := range []int{5, 1, 3} {
		s, addr := bound(t, tbl, fmt.Sprintf("juliet@example.com/r%d", i), p)
		require.NoError(t, tbl.AddRoute(addr, s))
		if p == 5 {
			best = s
		}
	}
	r := tbl.GetRoute(jid.MustParse("juliet@example.com"))
	require.Equal(t, route.Local, r.Kind)
	require.Same(t, best, r.Session)
	require.Equal(t, 5, r.Priority)

	routes := tbl.Routes(jid.MustParse("juliet@example.com"))
	require.Len(t, routes, 3)
	require.Equal(t, []int{5, 3, 1}, []int{routes[0].Priority, routes[1].Priority, routes[2].Priority})
}

func TestBareTieGoesToMostRecent(t *testing.T) {
	tbl := newTable(t)
	s1, a1 := bound(t, tbl, "juliet@example.com/first", 1)
	s2, a2 := bound(t, tbl, "juliet@example.com/second", 1)
	require.NoError(t, tbl.AddRoute(a1, s1))
	require.NoError(t, tbl.AddRoute(a2, s2))
	require.Same(t, s2, tbl.GetRoute(a1.Bare()).Session)
}

func TestSetPriorityReorders(t *testing.T) {
	tbl := newTable(t)
	s1, a1 := bound(t, tbl, "juliet@example.com/first", 1)
	s2, a2 := bound(t, tbl, "juliet@example.com/second", 2)
	require.NoError(t, tbl.AddRoute(a1, s1))
	require.NoError(t, tbl.AddRoute(a2, s2))
	require.Same(t, s2, tbl.GetRoute(a1.Bare()).Session)

	require.True(t, tbl.SetPriority(a1, 10))
	require.Same(t, s1, tbl.GetRoute(a1.Bare()).Session)
	require.Equal(t, 10, s1.Priority())
	require.Equal(t, 10, tbl.GetRoute(a1).Priority)

	require.False(t, tbl.SetPriority(jid.MustParse("juliet@example.com/none"), 1))
}

func TestSetPriorityRacingRemove(t *testing.T) {
	rec := &interceptor{}
	tbl := newTable(t, route.Replicate(rec))
	s, addr := bound(t, tbl, "juliet@example.com/balcony", 1)
	require.NoError(t, tbl.AddRoute(addr, s))

	var once sync.Once
	rec.hook = func(task cluster.Task) {
		if task.Kind == cluster.TaskRouteAdd && task.Priority == 5 {
			once.Do(func() { tbl.RemoveRoute(addr) })
		}
	}
	require.True(t, tbl.SetPriority(addr, 5))
	require.Equal(t, route.NotFound, tbl.GetRoute(addr).Kind)

	tasks := rec.Tasks()
	last := tasks[len(tasks)-1]
	require.Equal(t, cluster.TaskRouteRemove, last.Kind)
	require.Equal(t, addr, last.Target)
}

func TestSetPriorityReplicatesOnce(t *testing.T) {
	rec := &recorder{}
	tbl := newTable(t, route.Replicate(rec))
	s, addr := bound(t, tbl, "juliet@example.com/balcony", 1)
	require.NoError(t, tbl.AddRoute(addr, s))
	require.True(t, tbl.SetPriority(addr, 5))

	tasks := rec.Tasks()
	require.Len(t, tasks, 2)
	require.Equal(t, cluster.TaskRouteAdd, tasks[1].Kind)
	require.Equal(t, 5, tasks[1].Priority)
}

func TestAddRouteRequiresReadySession(t *testing.T) {
	tbl := newTable(t)
	s := session.New(nopConn{}, session.Client)
	defer s.Close(nil)
	addr := jid.MustParse("juliet@example.com/balcony")
	require.ErrorIs(t, tbl.AddRoute(addr, s), route.ErrNotBound)

	require.NoError(t, s.Authenticate(addr.Bare()))
	require.ErrorIs(t, tbl.AddRoute(addr, s), route.ErrNotBound)

	_, err := s.Bind("balcony")
	require.NoError(t, err)
	require.ErrorIs(t, tbl.AddRoute(addr.Bare(), s), route.ErrNotRoutable)
	require.ErrorIs(t, tbl.AddRoute(addr, nil), route.ErrNoSession)

	s.Close(nil)
	require.ErrorIs(t, tbl.AddRoute(addr, s), session.ErrClosed)
	require.Equal(t, route.NotFound, tbl.GetRoute(addr).Kind)
}

func TestCloseRemovesRoutes(t *testing.T) {
	rec := &recorder{}
	tbl := newTable(t, route.Replicate(rec))
	s, addr := bound(t, tbl, "juliet@example.com/balcony", 0)
	require.NoError(t, tbl.AddRoute(addr, s))

	require.NoError(t, s.Close(errors.New("gone")))
	require.Equal(t, route.NotFound, tbl.GetRoute(addr).Kind)
	require.Equal(t, route.NotFound, tbl.GetRoute(addr.Bare()).Kind)
	require.Zero(t, tbl.Len())

	tasks := rec.Tasks()
	require.Len(t, tasks, 2)
	require.Equal(t, cluster.TaskRouteAdd, tasks[0].Kind)
	require.Equal(t, cluster.TaskRouteRemove, tasks[1].Kind)
	require.Equal(t, addr, tasks[1].Target)
	require.Equal(t, local, tasks[1].Origin)
}

func TestRemoveSessionKeepsReplacement(t *testing.T) {
	tbl := newTable(t)
	s1, addr := bound(t, tbl, "juliet@example.com/balcony", 0)
	s2, _ := bound(t, tbl, "juliet@example.com/balcony", 0)
	require.NoError(t, tbl.AddRoute(addr, s1))
	require.NoError(t, tbl.AddRoute(addr, s2))

	s1.Close(nil)
	require.Same(t, s2, tbl.GetRoute(addr).Session)
}

func TestDomainConflict(t *testing.T) {
	tbl := newTable(t)
	domain := jid.MustParse("muc.example.com")
	c1 := component(t, tbl, "muc.example.com")
	c2 := component(t, tbl, "muc.example.com")

	require.NoError(t, tbl.AddRoute(domain, c1))
	require.NoError(t, tbl.AddRoute(domain, c1))

	err := tbl.AddRoute(domain, c2)
	var conflict *route.ConflictError
	require.ErrorAs(t, err, &conflict)
	require.Equal(t, domain, conflict.Domain)
	require.Equal(t, local, conflict.Owner)

	c1.Close(nil)
	require.NoError(t, tbl.AddRoute(domain, c2))
	require.Same(t, c2, tbl.GetRoute(domain).Session)
}

func TestBestRoute(t *testing.T) {
	tbl := newTable(t)
	s1, a1 := bound(t, tbl, "juliet@example.com/balcony", 0)
	require.NoError(t, tbl.AddRoute(a1, s1))
	peer := session.New(nopConn{}, session.OutgoingPeer, session.InDirectory(tbl))
	defer peer.Close(nil)
	require.NoError(t, peer.Authenticate(jid.MustParse("example.net")))
	require.NoError(t, tbl.AddRoute(jid.MustParse("example.net"), peer))

	for i, tc := range []struct {
		addr string
		want *session.Session
	}{
		0: {addr: "juliet@example.com/balcony", want: s1},
		1: {addr: "juliet@example.com", want: s1},
		2: {addr: "juliet@example.com/other"},
		3: {addr: "example.com"},
		4: {addr: "romeo@example.net/orchard", want: peer},
		5: {addr: "romeo@example.net", want: peer},
		6: {addr: "example.net", want: peer},
		7: {addr: "nobody@example.org"},
	} {
		t.Run(fmt.Sprintf("%d", i), func(t *testing.T) {
			addr := jid.MustParse(tc.addr)
			r := tbl.BestRoute(addr)
			if tc.want == nil {
				require.Equal(t, route.NotFound, r.Kind)
				require.Equal(t, addr, r.Addr)
				return
			}
			require.Same(t, tc.want, r.Session)
		})
	}
}

func TestApplyRemote(t *testing.T) {
	tbl := newTable(t)
	addr := jid.MustParse("romeo@example.net/orchard")

	require.NoError(t, tbl.ApplyRemote(cluster.Task{Kind: cluster.TaskRouteAdd, Origin: "node-b", Target: addr, Priority: 2}))
	r := tbl.GetRoute(addr)
	require.Equal(t, route.Remote, r.Kind)
	require.Equal(t, cluster.NodeID("node-b"), r.Node)
	require.Nil(t, r.Session)
	require.Equal(t, route.Remote, tbl.GetRoute(addr.Bare()).Kind)

	// Removes from a different node do not apply.
	require.NoError(t, tbl.ApplyRemote(cluster.Task{Kind: cluster.TaskRouteRemove, Origin: "node-c", Target: addr}))
	require.Equal(t, route.Remote, tbl.GetRoute(addr).Kind)

	require.NoError(t, tbl.ApplyRemote(cluster.Task{Kind: cluster.TaskRouteRemove, Origin: "node-b", Target: addr}))
	require.Equal(t, route.NotFound, tbl.GetRoute(addr).Kind)
	require.Equal(t, route.NotFound, tbl.GetRoute(addr.Bare()).Kind)

	require.Error(t, tbl.ApplyRemote(cluster.Task{Kind: cluster.TaskRouteAdd, Origin: local, Target: addr}))
	require.Error(t, tbl.ApplyRemote(cluster.Task{Kind: cluster.TaskDeliver, Origin: "node-b", Target: addr}))
}

func TestApplyRemoteDomainConflict(t *testing.T) {
	tbl := newTable(t)
	domain := jid.MustParse("muc.example.com")
	c := component(t, tbl, "muc.example.com")
	require.NoError(t, tbl.AddRoute(domain, c))

	err := tbl.ApplyRemote(cluster.Task{Kind: cluster.TaskRouteAdd, Origin: "node-b", Target: domain})
	var conflict *route.ConflictError
	require.ErrorAs(t, err, &conflict)
	require.Same(t, c, tbl.GetRoute(domain).Session)
}

func TestApplyRemoteKeepsLocalResource(t *testing.T) {
	tbl := newTable(t)
	s, addr := bound(t, tbl, "juliet@example.com/balcony", 0)
	require.NoError(t, tbl.AddRoute(addr, s))

	task := cluster.Task{Kind: cluster.TaskRouteAdd, Origin: "node-b", Target: addr, Priority: 3}
	require.ErrorIs(t, tbl.ApplyRemote(task), route.ErrBoundLocally)
	r := tbl.GetRoute(addr)
	require.Equal(t, route.Local, r.Kind)
	require.Same(t, s, r.Session)
	require.Len(t, tbl.Routes(addr.Bare()), 1)

	require.NoError(t, s.Close(nil))
	require.NoError(t, tbl.ApplyRemote(task))
	require.Equal(t, route.Remote, tbl.GetRoute(addr).Kind)
}

func TestApplyRemoteRequiresLiveNode(t *testing.T) {
	reg := cluster.NewRegistry(cluster.RegistryOptions{})
	tbl := newTable(t, route.Registry(reg))
	addr := jid.MustParse("romeo@example.net/orchard")
	task := cluster.Task{Kind: cluster.TaskRouteAdd, Origin: "node-b", Target: addr}

	require.ErrorIs(t, tbl.ApplyRemote(task), cluster.ErrUnknownNode)
	reg.Intern([]byte("node-b"))
	require.NoError(t, tbl.ApplyRemote(task))
	require.Equal(t, route.Remote, tbl.GetRoute(addr).Kind)
}

func TestPurgeNode(t *testing.T) {
	tbl := newTable(t)
	s, mine := bound(t, tbl, "juliet@example.com/balcony", 0)
	require.NoError(t, tbl.AddRoute(mine, s))

	remote := []jid.JID{
		jid.MustParse("romeo@example.net/orchard"),
		jid.MustParse("romeo@example.net/garden"),
		jid.MustParse("juliet@example.com/phone"),
		jid.MustParse("pubsub.example.com"),
	}
	for _, addr := range remote {
		require.NoError(t, tbl.ApplyRemote(cluster.Task{Kind: cluster.TaskRouteAdd, Origin: "node-b", Target: addr}))
	}
	other := jid.MustParse("mercutio@example.org/x")
	require.NoError(t, tbl.ApplyRemote(cluster.Task{Kind: cluster.TaskRouteAdd, Origin: "node-c", Target: other}))

	require.Zero(t, tbl.PurgeNode(local))
	require.Equal(t, 4, tbl.PurgeNode("node-b"))
	for _, addr := range remote {
		require.Equal(t, route.NotFound, tbl.GetRoute(addr).Kind, addr.String())
		require.Equal(t, route.NotFound, tbl.BestRoute(addr).Kind, addr.String())
	}
	require.Equal(t, route.NotFound, tbl.GetRoute(jid.MustParse("romeo@example.net")).Kind)
	require.Same(t, s, tbl.GetRoute(mine.Bare()).Session)
	require.Equal(t, route.Remote, tbl.GetRoute(other).Kind)
	require.Zero(t, tbl.PurgeNode("node-b"))
}

func TestWatchPurgesDepartedNodes(t *testing.T) {
	g := cluster.NewGroup(nil)
	view := g.Join(local)
	g.Join("node-b")

	tbl := newTable(t)
	stop := tbl.Watch(view)
	defer stop()

	addr := jid.MustParse("romeo@example.net/orchard")
	require.NoError(t, tbl.ApplyRemote(cluster.Task{Kind: cluster.TaskRouteAdd, Origin: "node-b", Target: addr}))
	g.Leave("node-b")
	require.Equal(t, route.NotFound, tbl.GetRoute(addr).Kind)
}

func TestLocalAdverts(t *testing.T) {
	tbl := newTable(t)
	s, addr := bound(t, tbl, "juliet@example.com/balcony", 4)
	require.NoError(t, tbl.AddRoute(addr, s))
	c := component(t, tbl, "muc.example.com")
	require.NoError(t, tbl.AddRoute(jid.MustParse("muc.example.com"), c))
	require.NoError(t, tbl.ApplyRemote(cluster.Task{Kind: cluster.TaskRouteAdd, Origin: "node-b", Target: jid.MustParse("romeo@example.net/x")}))

	adverts := tbl.LocalAdverts()
	require.Len(t, adverts, 2)
	targets := map[jid.JID]cluster.Task{}
	for _, a := range adverts {
		require.Equal(t, cluster.TaskRouteAdd, a.Kind)
		require.Equal(t, local, a.Origin)
		targets[a.Target] = a
	}
	require.Equal(t, 4, targets[addr].Priority)
	require.Contains(t, targets, jid.MustParse("muc.example.com"))
}
