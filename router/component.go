// Copyright 2024 The Mellium Contributors.
// Use of this source code is governed by the BSD 2-clause
// license that can be found in the LICENSE file.

package router

import (
	"context"
	"log/slog"

	"mellium.im/xmppd/stanza"
)

const kindComponent = "component"

// routeComponent delivers a stanza addressed to a component domain.
// When the component is not connected or delivery fails the sender gets a
// remote-server-timeout error through the ordinary message or IQ path.
func (r *Router) routeComponent(ctx context.Context, st stanza.Stanza) {
	to := st.Head().To
	h, ok := r.components.Lookup(to.Domain())
	if ok {
		outcome, err := r.deliver(ctx, h.Route, st)
		if err == nil {
			r.metrics.Routed(kindComponent, outcome)
			return
		}
		r.log.Debug("component delivery failed", slog.String("jid", h.Domain.String()), slog.Any("error", err))
	}

	switch s := st.(type) {
	case stanza.Message:
		if s.IsError() || s.From.IsZero() {
			break
		}
		r.metrics.Routed(kindComponent, OutcomeBounced)
		r.routeMessage(ctx, nil, s.ErrorReply(stanza.NewError(stanza.RemoteServerTimeout)))
		return
	case stanza.IQ:
		if s.IsResponse() || s.From.IsZero() {
			break
		}
		r.metrics.Routed(kindComponent, OutcomeBounced)
		r.routeIQ(ctx, nil, s.ErrorReply(stanza.NewError(stanza.RemoteServerTimeout)))
		return
	}
	r.metrics.Routed(kindComponent, OutcomeDropped)
}
