// Copyright 2024 The Mellium Contributors.
// Use of this source code is governed by the BSD 2-clause
// license that can be found in the LICENSE file.

package router

import (
	"context"
	"errors"
	"log/slog"

	"mellium.im/xmppd/session"
	"mellium.im/xmppd/stanza"
)

const kindIQ = "iq"

func (r *Router) routeIQ(ctx context.Context, origin *session.Session, iq stanza.IQ) {
	if !authorized(origin) {
		if !iq.IsResponse() {
			r.rejectUnauthorized(origin, iq)
		}
		return
	}
	if iq.From.IsZero() && origin != nil {
		iq.From = origin.Address()
	}
	switch {
	case iq.To.IsZero() || (iq.To.IsDomain() && r.Serves(iq.To)):
		r.handleIQ(ctx, iq)
		return
	case r.isComponentDomain(iq.To):
		r.routeComponent(ctx, iq)
		return
	}

	// A full address resolves to that resource or to the peer serving its
	// domain, never to a sibling resource.
	rt := r.table.BestRoute(iq.To)
	outcome, err := r.deliver(ctx, rt, iq)
	if err == nil {
		r.metrics.Routed(kindIQ, outcome)
		return
	}
	r.log.Debug("iq not delivered",
		slog.String("jid", iq.To.String()),
		slog.String("kind", rt.Kind.String()),
		slog.Any("error", err))
	r.bounceIQ(ctx, iq, stanza.ServiceUnavailable)
}

// handleIQ dispatches an IQ addressed to the server to the local handlers.
func (r *Router) handleIQ(ctx context.Context, iq stanza.IQ) {
	resp, err := r.iq.HandleIQ(ctx, iq)
	if iq.IsResponse() {
		r.metrics.Routed(kindIQ, OutcomeHandled)
		return
	}
	if err != nil {
		var se stanza.Error
		if !errors.As(err, &se) {
			r.log.Warn("iq handler failed", slog.String("jid", iq.From.String()), slog.Any("error", err))
			se = stanza.NewError(stanza.InternalServerError)
		}
		r.bounceIQ(ctx, iq, se.Condition)
		return
	}
	r.metrics.Routed(kindIQ, OutcomeHandled)
	if resp.ID == "" && resp.Type == "" {
		return
	}
	r.routeIQ(ctx, nil, resp)
}

// bounceIQ sends exactly one error reply for a request that could not be
// delivered or handled.
// Results, errors and IQs without a sender are never answered.
func (r *Router) bounceIQ(ctx context.Context, iq stanza.IQ, cond stanza.Condition) {
	if iq.IsResponse() || iq.From.IsZero() {
		r.metrics.Routed(kindIQ, OutcomeDropped)
		return
	}
	r.metrics.Routed(kindIQ, OutcomeBounced)
	r.routeIQ(ctx, nil, iq.ErrorReply(stanza.NewError(cond)))
}
