// Copyright 2015 Sam Whited.
// Use of this source code is governed by the BSD 2-clause license that can be
// found in the LICENSE file.

package server

import (
	"encoding/xml"
	"log/slog"
	"time"

	"github.com/benbjohnson/clock"

	"mellium.im/xmppd/cluster"
	"mellium.im/xmppd/jid"
	"mellium.im/xmppd/router"
	"mellium.im/xmppd/stanza"
)

// An Option is used to configure a Server.
type Option func(*options)

type options struct {
	domains         []string
	membership      cluster.Membership
	transport       cluster.Transport
	dispatchTimeout time.Duration
	components      map[jid.JID]string
	offlineUsers    int
	offlinePerUser  int
	queueSize       int
	stallTimeout    time.Duration
	iq              []router.Option
	clock           clock.Clock
	log             *slog.Logger
	metrics         Metrics
}

func getOpts(o ...Option) (res options) {
	for _, f := range o {
		f(&res)
	}
	if res.clock == nil {
		res.clock = clock.New()
	}
	if res.log == nil {
		res.log = slog.New(slog.DiscardHandler)
	}
	return
}

// The Domains option sets the domains served by the cluster.
func Domains(domain ...string) Option {
	return func(o *options) {
		o.domains = append(o.domains, domain...)
	}
}

// The Membership option sets the cluster membership service.
// If it is not set the node runs on its own.
func Membership(m cluster.Membership) Option {
	return func(o *options) {
		o.membership = m
	}
}

// The Transport option sets the transport used to exchange tasks with other
// nodes.
// If it is not set an in-process transport is used.
// The server closes the transport when it is closed.
func Transport(t cluster.Transport) Option {
	return func(o *options) {
		o.transport = t
	}
}

// The DispatchTimeout option bounds how long the server waits for another node
// to execute a task.
func DispatchTimeout(d time.Duration) Option {
	return func(o *options) {
		o.dispatchTimeout = d
	}
}

// The Component option accepts an external component for domain that
// authenticates with secret.
func Component(domain jid.JID, secret string) Option {
	return func(o *options) {
		if o.components == nil {
			o.components = make(map[jid.JID]string)
		}
		o.components[domain.Domain()] = secret
	}
}

// The OfflineLimits option bounds the offline message store.
func OfflineLimits(users, perUser int) Option {
	return func(o *options) {
		o.offlineUsers = users
		o.offlinePerUser = perUser
	}
}

// The SessionQueue option sets the outbound queue size of new sessions and
// how long a queue may stay full before the session is closed.
func SessionQueue(size int, stall time.Duration) Option {
	return func(o *options) {
		o.queueSize = size
		o.stallTimeout = stall
	}
}

// The IQ option registers a handler for IQs addressed to a served domain.
func IQ(typ stanza.IQType, payload xml.Name, h router.IQHandler) Option {
	return func(o *options) {
		o.iq = append(o.iq, router.HandleIQ(typ, payload, h))
	}
}

// The Clock option sets the time source of the server and its sessions.
func Clock(c clock.Clock) Option {
	return func(o *options) {
		o.clock = c
	}
}

// The Logger option sets the logger used by the server and every component it
// creates.
func Logger(l *slog.Logger) Option {
	return func(o *options) {
		o.log = l
	}
}

// The WithMetrics option sets the metrics sinks used by the server.
func WithMetrics(m Metrics) Option {
	return func(o *options) {
		o.metrics = m
	}
}
