// Copyright 2015 Sam Whited.
// Use of this source code is governed by the BSD 2-clause license that can be
// found in the LICENSE file.

package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"go.uber.org/multierr"

	"mellium.im/xmppd/cluster"
	"mellium.im/xmppd/component"
	"mellium.im/xmppd/jid"
	"mellium.im/xmppd/offline"
	"mellium.im/xmppd/route"
	"mellium.im/xmppd/router"
	"mellium.im/xmppd/session"
	"mellium.im/xmppd/stanza"
)

// Errors returned by the server.
var (
	ErrShutdown = errors.New("server: shutting down")
	ErrNotLocal = errors.New("server: target is not connected to this node")
)

// A Server is the routing core of one cluster node.
type Server struct {
	local      cluster.NodeID
	opts       options
	membership cluster.Membership
	transport  cluster.Transport
	registry   *cluster.Registry
	table      *route.Table
	dispatcher *cluster.Dispatcher
	node       *cluster.Node
	router     *router.Router
	components *component.Manager
	offline    *offline.Store
	bus        *session.Bus
	repl       *replicator
	log        *slog.Logger
	metrics    Metrics

	cancel    context.CancelFunc
	stops     []func()
	closeOnce sync.Once
	closeErr  error

	mu       sync.Mutex
	sessions map[*session.Session]struct{}
}

// New builds every component of a node called local.
// The node does not receive tasks from other nodes until Run is called.
func New(local cluster.NodeID, opts ...Option) (*Server, error) {
	if local == "" {
		return nil, errors.New("server: empty node id")
	}
	o := getOpts(opts...)
	s := &Server{
		local:      local,
		opts:       o,
		membership: o.membership,
		transport:  o.transport,
		log:        o.log.With(slog.String("node", local.String())),
		metrics:    o.metrics.withDefaults(),
		sessions:   make(map[*session.Session]struct{}),
	}
	if s.membership == nil {
		s.membership = cluster.Standalone(local)
	}
	if s.membership.Local() != local {
		return nil, fmt.Errorf("server: membership belongs to %s, not %s", s.membership.Local(), local)
	}
	if s.transport == nil {
		s.transport = cluster.NewMemoryTransport().WithLog(s.log)
	}

	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel

	s.registry = cluster.NewRegistry(cluster.RegistryOptions{
		Log:     s.log,
		Clock:   o.clock,
		Metrics: s.metrics.Cluster,
	})
	s.stops = append(s.stops, s.registry.Watch(s.membership))

	s.repl = newReplicator(ctx, local, s.log)
	table, err := route.New(local,
		route.Registry(s.registry),
		route.Replicate(s.repl),
		route.Logger(s.log),
		route.WithMetrics(s.metrics.Route),
	)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("server: build routing table: %w", err)
	}
	s.table = table
	s.stops = append(s.stops, table.Watch(s.membership))

	s.dispatcher, err = cluster.NewDispatcher(cluster.DispatcherOptions{
		Local:     local,
		Transport: s.transport,
		Registry:  s.registry,
		Timeout:   o.dispatchTimeout,
		Log:       s.log,
		Metrics:   s.metrics.Cluster,
	})
	if err != nil {
		cancel()
		return nil, err
	}
	s.repl.dispatcher = s.dispatcher

	offlineOpts := []offline.Option{offline.Clock(o.clock), offline.Logger(s.log)}
	if o.offlineUsers > 0 {
		offlineOpts = append(offlineOpts, offline.MaxUsers(o.offlineUsers))
	}
	if o.offlinePerUser > 0 {
		offlineOpts = append(offlineOpts, offline.PerUser(o.offlinePerUser))
	}
	s.offline, err = offline.New(offlineOpts...)
	if err != nil {
		cancel()
		return nil, err
	}

	compOpts := []component.Option{component.Logger(s.log)}
	for domain, secret := range o.components {
		compOpts = append(compOpts, component.Secret(domain, secret))
	}
	s.components = component.NewManager(table, compOpts...)

	routerOpts := append([]router.Option{
		router.Domains(o.domains...),
		router.Dispatch(s.dispatcher),
		router.Offline(s.offline),
		router.ComponentLookup(s.components),
		router.Logger(s.log),
		router.WithMetrics(s.metrics.Router),
	}, o.iq...)
	s.router = router.New(table, routerOpts...)

	s.bus = session.NewBus(s.log)
	s.bus.Add(s.trackSession)

	s.node = cluster.NewNode(cluster.NodeOptions{
		ID:        local,
		Transport: s.transport,
		Executor:  cluster.ExecutorFunc(s.execute),
		Log:       s.log,
		Metrics:   s.metrics.Cluster,
	})

	s.stops = append(s.stops, s.membership.Subscribe(func(ev cluster.Event) {
		switch ev.Type {
		case cluster.NodeJoined:
			s.repl.join(ev.Node, s.table.LocalAdverts)
		case cluster.NodeLeft:
			s.repl.leave(ev.Node)
		}
	}))
	return s, nil
}

// Local returns the identity of the node.
func (s *Server) Local() cluster.NodeID { return s.local }

// Table returns the routing table of the node.
func (s *Server) Table() *route.Table { return s.table }

// Router returns the stanza router of the node.
func (s *Server) Router() *router.Router { return s.router }

// Registry returns the registry of live cluster members.
func (s *Server) Registry() *cluster.Registry { return s.registry }

// Bus returns the session event bus.
// Listeners added to it observe every session created by NewSession.
func (s *Server) Bus() *session.Bus { return s.bus }

// Components returns the external component manager.
func (s *Server) Components() *component.Manager { return s.components }

// Offline returns the offline message store.
func (s *Server) Offline() *offline.Store { return s.offline }

// Start subscribes the node to the tasks sent to it by other nodes.
// It returns once the subscription is in place.
func (s *Server) Start(ctx context.Context) error {
	return s.node.Run(ctx)
}

// Run starts the server and blocks until ctx is done, then closes it.
func (s *Server) Run(ctx context.Context) error {
	if err := s.Start(ctx); err != nil {
		return err
	}
	<-ctx.Done()
	return s.Close()
}

// Close closes every session of the node, stops following membership and
// closes the transport.
func (s *Server) Close() error {
	s.closeOnce.Do(func() {
		s.log.Info("shutting down")
		for _, stop := range s.stops {
			stop()
		}
		s.cancel()

		s.mu.Lock()
		sessions := make([]*session.Session, 0, len(s.sessions))
		for sess := range s.sessions {
			sessions = append(sessions, sess)
		}
		s.mu.Unlock()

		var err error
		for _, sess := range sessions {
			err = multierr.Append(err, sess.Close(ErrShutdown))
		}
		s.repl.close()
		err = multierr.Append(err, s.transport.Close())
		s.closeErr = err
	})
	return s.closeErr
}

// NewSession creates a session owned by this node.
// The session publishes its events on the server bus and leaves the routing
// table when it closes.
func (s *Server) NewSession(conn session.Conn, kind session.Kind) *session.Session {
	opts := []session.Option{
		session.Owner(s.local.String()),
		session.Events(s.bus),
		session.InDirectory(s.table),
		session.Clock(s.opts.clock),
		session.Logger(s.log),
		session.WithMetrics(s.metrics.Session),
	}
	if s.opts.queueSize > 0 {
		opts = append(opts, session.QueueSize(s.opts.queueSize))
	}
	if s.opts.stallTimeout > 0 {
		opts = append(opts, session.StallTimeout(s.opts.stallTimeout))
	}
	return session.New(conn, kind, opts...)
}

// BindClient binds resource on an authenticated client session and makes it
// routable.
func (s *Server) BindClient(sess *session.Session, resource string) (jid.JID, error) {
	full, err := sess.Bind(resource)
	if err != nil {
		return jid.JID{}, err
	}
	if err := s.table.AddRoute(full, sess); err != nil {
		return jid.JID{}, err
	}
	return full, nil
}

// AttachPeer authenticates a server to server session as domain and makes the
// domain routable through it.
func (s *Server) AttachPeer(sess *session.Session, domain jid.JID) error {
	if err := sess.Authenticate(domain); err != nil {
		return err
	}
	return s.table.AddRoute(domain.Domain(), sess)
}

// RegisterComponent completes the handshake of a component session.
func (s *Server) RegisterComponent(sess *session.Session, domain jid.JID, streamID, digest string) error {
	return s.components.Register(sess, domain, streamID, digest)
}

// DeliverOffline sends every message stored for the user of sess to it and
// returns the number of messages sent.
func (s *Server) DeliverOffline(sess *session.Session) int {
	msgs := s.offline.Drain(sess.Address())
	for i, msg := range msgs {
		if err := sess.Send(msg); err != nil {
			s.log.Warn("offline delivery interrupted", slog.String("session", sess.ID()), slog.Any("error", err))
			for _, rest := range msgs[i:] {
				if err := s.offline.Store(context.Background(), rest); err != nil {
					s.log.Warn("offline message lost", slog.String("jid", rest.To.String()), slog.Any("error", err))
				}
			}
			return i
		}
	}
	return len(msgs)
}

// Route routes a stanza generated by the server or another subsystem.
func (s *Server) Route(ctx context.Context, st stanza.Stanza) {
	s.router.Route(ctx, st)
}

// RouteFrom routes a stanza received on sess.
func (s *Server) RouteFrom(ctx context.Context, sess *session.Session, st stanza.Stanza) {
	s.router.RouteFrom(ctx, sess, st)
}

// Sessions returns the number of open sessions created by this server.
func (s *Server) Sessions() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}

func (s *Server) trackSession(ev session.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch ev.Type {
	case session.EventCreated:
		s.sessions[ev.Session] = struct{}{}
	case session.EventDestroyed:
		delete(s.sessions, ev.Session)
	}
	return nil
}

// execute runs a task received from another node.
// Deliveries are resolved through the local table and only ever reach
// sessions connected to this node.
func (s *Server) execute(_ context.Context, task cluster.Task) error {
	switch task.Kind {
	case cluster.TaskDeliver:
		st, err := task.DecodeStanza()
		if err != nil {
			return err
		}
		rt := s.table.GetRoute(task.Target)
		if rt.Kind != route.Local {
			return fmt.Errorf("%w: %s", ErrNotLocal, task.Target)
		}
		return rt.Session.Send(st)
	case cluster.TaskRouteAdd, cluster.TaskRouteRemove:
		return s.table.ApplyRemote(task)
	}
	return fmt.Errorf("server: unknown task kind %q", task.Kind)
}
