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

const kindMessage = "message"

func (r *Router) routeMessage(ctx context.Context, origin *session.Session, msg stanza.Message) {
	if !authorized(origin) {
		if !msg.IsError() {
			r.rejectUnauthorized(origin, msg)
		}
		return
	}
	if msg.To.IsZero() {
		if origin == nil {
			r.metrics.Routed(kindMessage, OutcomeDropped)
			return
		}
		msg.To = origin.Address().Bare()
	}
	if r.isComponentDomain(msg.To) {
		r.routeComponent(ctx, msg)
		return
	}
	if msg.EffectiveType() == stanza.HeadlineMessage && msg.To.IsBare() {
		if r.broadcastHeadline(ctx, msg) == 0 {
			r.offlineMessage(ctx, msg)
		}
		return
	}

	rt := r.resolveMessage(msg)
	outcome, err := r.deliver(ctx, rt, msg)
	if err == nil {
		r.metrics.Routed(kindMessage, outcome)
		return
	}
	r.log.Debug("message not delivered",
		slog.String("jid", msg.To.String()),
		slog.String("kind", rt.Kind.String()),
		slog.Any("error", err))
	r.offlineMessage(ctx, msg)
}

// resolveMessage picks the endpoint for a message.
// Bare addresses only deliver to resources with a non-negative priority and
// normal, chat and headline messages to an unavailable resource are treated
// as if they were sent to the bare address.
func (r *Router) resolveMessage(msg stanza.Message) route.Route {
	to := msg.To
	if to.Resourcepart() != "" {
		rt := r.table.BestRoute(to)
		if rt.Found() {
			return rt
		}
		switch msg.EffectiveType() {
		case stanza.NormalMessage, stanza.ChatMessage, stanza.HeadlineMessage:
			to = to.Bare()
		default:
			return rt
		}
	}
	if to.IsDomain() {
		return r.table.BestRoute(to)
	}
	if routes := r.table.Routes(to); len(routes) > 0 {
		if routes[0].Priority >= 0 {
			return routes[0]
		}
		return route.Route{Addr: to}
	}
	return r.table.BestRoute(to)
}

// broadcastHeadline delivers a headline sent to a bare address to every
// resource with a non-negative priority and returns how many received it.
func (r *Router) broadcastHeadline(ctx context.Context, msg stanza.Message) int {
	var n int
	for _, rt := range r.table.Routes(msg.To) {
		if rt.Priority < 0 {
			continue
		}
		outcome, err := r.deliver(ctx, rt, msg)
		if err != nil {
			r.log.Debug("headline not delivered",
				slog.String("jid", rt.Addr.String()),
				slog.Any("error", err))
			continue
		}
		r.metrics.Routed(kindMessage, outcome)
		n++
	}
	return n
}

// offlineMessage is the fallback for messages that could not be delivered.
func (r *Router) offlineMessage(ctx context.Context, msg stanza.Message) {
	if r.offline != nil && r.Serves(msg.To) && r.offline.ShouldStore(msg) {
		err := r.offline.Store(ctx, msg)
		if err == nil {
			r.metrics.Routed(kindMessage, OutcomeOffline)
			return
		}
		r.log.Warn("storing offline message failed", slog.String("jid", msg.To.String()), slog.Any("error", err))
		r.bounceMessage(ctx, msg, stanza.ServiceUnavailable)
		return
	}

	switch msg.EffectiveType() {
	case stanza.NormalMessage, stanza.ChatMessage, stanza.GroupChatMessage:
		r.bounceMessage(ctx, msg, stanza.ServiceUnavailable)
	default:
		r.metrics.Routed(kindMessage, OutcomeDropped)
	}
}

// bounceMessage routes an error reply back to the sender of msg.
// Errors are never answered, so a bounce that fails is dropped.
func (r *Router) bounceMessage(ctx context.Context, msg stanza.Message, cond stanza.Condition) {
	if msg.IsError() || msg.From.IsZero() {
		r.metrics.Routed(kindMessage, OutcomeDropped)
		return
	}
	r.metrics.Routed(kindMessage, OutcomeBounced)
	r.routeMessage(ctx, nil, msg.ErrorReply(stanza.NewError(cond)))
}
