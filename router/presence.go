// Copyright 2024 The Mellium Contributors.
// Use of this source code is governed by the BSD 2-clause
// license that can be found in the LICENSE file.

package router

import (
	"context"
	"log/slog"

	"mellium.im/xmppd/route"
	"mellium.im/xmppd/session"
	"mellium.im/xmppd/stanza"
)

const kindPresence = "presence"

func (r *Router) routePresence(ctx context.Context, origin *session.Session, p stanza.Presence) {
	if !authorized(origin) {
		r.metrics.Routed(kindPresence, OutcomeDropped)
		return
	}
	if p.To.IsZero() {
		// Broadcast presence is handled by roster logic elsewhere; the routing
		// core only tracks the priority it announces.
		if origin != nil && origin.Kind() == session.Client && p.Type == stanza.AvailablePresence {
			r.table.SetPriority(origin.Address(), int(p.Priority))
		}
		r.metrics.Routed(kindPresence, OutcomeHandled)
		return
	}
	if r.isComponentDomain(p.To) {
		r.routeComponent(ctx, p)
		return
	}

	var targets []route.Route
	switch {
	case p.To.Resourcepart() != "" || p.To.IsDomain():
		targets = []route.Route{r.table.BestRoute(p.To)}
	default:
		targets = r.table.Routes(p.To)
		if len(targets) == 0 {
			targets = []route.Route{r.table.BestRoute(p.To)}
		}
	}

	for _, rt := range targets {
		if !rt.Found() {
			r.metrics.Routed(kindPresence, OutcomeDropped)
			continue
		}
		outcome, err := r.deliver(ctx, rt, p)
		if err != nil {
			r.log.Debug("presence not delivered",
				slog.String("jid", rt.Addr.String()),
				slog.String("kind", rt.Kind.String()),
				slog.Any("error", err))
			r.metrics.Routed(kindPresence, OutcomeDropped)
			continue
		}
		r.metrics.Routed(kindPresence, outcome)
	}
}
