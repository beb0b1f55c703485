// Copyright 2024 The Mellium Contributors.
// Use of this source code is governed by the BSD 2-clause
// license that can be found in the LICENSE file.

package router

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"mellium.im/xmppd/cluster"
	"mellium.im/xmppd/component"
	"mellium.im/xmppd/jid"
	"mellium.im/xmppd/route"
	"mellium.im/xmppd/session"
	"mellium.im/xmppd/stanza"
)

// OfflineStore decides whether an undeliverable message is kept for later.
type OfflineStore interface {
	ShouldStore(msg stanza.Message) bool
	Store(ctx context.Context, msg stanza.Message) error
}

// Dispatcher delivers a stanza to a session owned by another node.
type Dispatcher interface {
	Deliver(ctx context.Context, node cluster.NodeID, to jid.JID, st stanza.Stanza) error
}

// Components looks up connected external components.
type Components interface {
	Lookup(domain jid.JID) (component.Handle, bool)
}

var (
	errNotFound       = errors.New("router: no route")
	errNotDeliverable = errors.New("router: session not deliverable")
	errNoDispatcher   = errors.New("router: no dispatcher for remote route")
)

// Router routes stanzas to local sessions, remote nodes and components.
type Router struct {
	table      *route.Table
	domains    map[string]struct{}
	dispatcher Dispatcher
	offline    OfflineStore
	components Components
	iq         *IQMux
	log        *slog.Logger
	metrics    Metrics
}

// New returns a router that resolves addresses through table.
// A handler for XEP-0199 pings to served domains is registered unless one is
// provided with HandleIQ.
func New(table *route.Table, opts ...Option) *Router {
	o := getOpts(opts...)
	r := &Router{
		table:      table,
		domains:    make(map[string]struct{}, len(o.domains)),
		dispatcher: o.dispatcher,
		offline:    o.offline,
		components: o.components,
		iq:         NewIQMux(),
		log:        o.log,
		metrics:    o.metrics,
	}
	for _, d := range o.domains {
		r.domains[d] = struct{}{}
	}
	for _, p := range o.iq {
		r.iq.Handle(p.typ, p.payload, p.h)
	}
	if _, ok := r.iq.Handler(stanza.GetIQ, pingName); !ok {
		r.iq.Handle(stanza.GetIQ, pingName, Ping)
	}
	return r
}

// Serves reports whether domain is one of the domains served by the cluster.
func (r *Router) Serves(domain jid.JID) bool {
	_, ok := r.domains[domain.Domainpart()]
	return ok
}

// isComponentDomain reports whether addr lives on a subdomain of a served
// domain.
func (r *Router) isComponentDomain(addr jid.JID) bool {
	if r.components == nil {
		return false
	}
	d := addr.Domainpart()
	if _, ok := r.domains[d]; ok {
		return false
	}
	for served := range r.domains {
		if strings.HasSuffix(d, "."+served) {
			return true
		}
	}
	return false
}

// Route routes a stanza that did not arrive on a session, for example one
// generated by the server or received from another subsystem.
func (r *Router) Route(ctx context.Context, st stanza.Stanza) {
	r.RouteFrom(ctx, nil, st)
}

// RouteFrom routes a stanza received on the session origin.
// It never fails or panics; failures are converted into the fallback of the
// stanza kind.
func (r *Router) RouteFrom(ctx context.Context, origin *session.Session, st stanza.Stanza) {
	defer func() {
		if rec := recover(); rec != nil {
			kind := "unknown"
			if st != nil {
				kind = st.Kind().String()
			}
			r.metrics.Panicked(kind)
			r.log.Error("panic while routing stanza", slog.String("kind", kind), slog.Any("error", fmt.Errorf("%v", rec)))
		}
	}()

	switch s := st.(type) {
	case stanza.Message:
		r.routeMessage(ctx, origin, s)
	case *stanza.Message:
		r.routeMessage(ctx, origin, *s)
	case stanza.Presence:
		r.routePresence(ctx, origin, s)
	case *stanza.Presence:
		r.routePresence(ctx, origin, *s)
	case stanza.IQ:
		r.routeIQ(ctx, origin, s)
	case *stanza.IQ:
		r.routeIQ(ctx, origin, *s)
	default:
		r.log.Warn("dropping unknown stanza", slog.String("kind", fmt.Sprintf("%T", st)))
	}
}

// authorized reports whether a stanza from origin may be routed.
func authorized(origin *session.Session) bool {
	if origin == nil {
		return true
	}
	st := origin.Status()
	return st == session.Authenticated || st == session.Bound
}

// deliver hands st to the endpoint rt resolves to.
func (r *Router) deliver(ctx context.Context, rt route.Route, st stanza.Stanza) (outcome string, err error) {
	switch rt.Kind {
	case route.Local:
		if !authorized(rt.Session) || rt.Session.IsClosing() {
			return "", errNotDeliverable
		}
		return OutcomeLocal, rt.Session.Send(st)
	case route.Remote:
		if r.dispatcher == nil {
			return "", errNoDispatcher
		}
		return OutcomeRemote, r.dispatcher.Deliver(ctx, rt.Node, rt.Addr, st)
	}
	return "", errNotFound
}

// rejectUnauthorized sends a not-authorized error straight back down the
// origin session with the addresses cleared so that it cannot be routed
// anywhere else.
func (r *Router) rejectUnauthorized(origin *session.Session, st stanza.Stanza) {
	reply := stanza.Bounce(st, stanza.NewError(stanza.NotAuthorized))
	switch s := reply.(type) {
	case stanza.Message:
		s.To, s.From = jid.JID{}, jid.JID{}
		reply = s
	case stanza.IQ:
		s.To, s.From = jid.JID{}, jid.JID{}
		reply = s
	}
	if err := origin.Send(reply); err != nil {
		r.log.Debug("could not reject unauthorized stanza", slog.String("session", origin.ID()), slog.Any("error", err))
	}
	r.metrics.Routed(st.Kind().String(), OutcomeBounced)
}
