// Copyright 2024 The Mellium Contributors.
// Use of this source code is governed by the BSD 2-clause
// license that can be found in the LICENSE file.

package router

import (
	"encoding/xml"
	"log/slog"

	"mellium.im/xmppd/stanza"
)

// An Option is used to configure a Router.
type Option func(*options)

type options struct {
	domains    []string
	dispatcher Dispatcher
	offline    OfflineStore
	components Components
	iq         []iqPattern
	log        *slog.Logger
	metrics    Metrics
}

type iqPattern struct {
	typ     stanza.IQType
	payload xml.Name
	h       IQHandler
}

func getOpts(o ...Option) (res options) {
	for _, f := range o {
		f(&res)
	}
	if res.log == nil {
		res.log = slog.New(slog.DiscardHandler)
	}
	if res.metrics == nil {
		res.metrics = NopMetrics()
	}
	return
}

// The Domains option sets the domains served by the cluster.
// Stanzas addressed to a served domain are handled by the server itself and
// subdomains of a served domain are candidates for component routing.
func Domains(domain ...string) Option {
	return func(o *options) {
		o.domains = append(o.domains, domain...)
	}
}

// The Dispatch option sets the dispatcher used to deliver stanzas to sessions
// owned by other nodes.
// Without it remote routes are treated as delivery failures.
func Dispatch(d Dispatcher) Option {
	return func(o *options) {
		o.dispatcher = d
	}
}

// The Offline option sets the store consulted for undeliverable messages.
func Offline(s OfflineStore) Option {
	return func(o *options) {
		o.offline = s
	}
}

// The ComponentLookup option enables component routing.
func ComponentLookup(c Components) Option {
	return func(o *options) {
		o.components = c
	}
}

// The HandleIQ option registers h for IQs addressed to a served domain that
// match the type and payload name.
// See IQMux for how patterns are matched.
func HandleIQ(typ stanza.IQType, payload xml.Name, h IQHandler) Option {
	return func(o *options) {
		o.iq = append(o.iq, iqPattern{typ: typ, payload: payload, h: h})
	}
}

// The Logger option sets the logger used by the router.
func Logger(l *slog.Logger) Option {
	return func(o *options) {
		o.log = l
	}
}

// The WithMetrics option sets the metrics sink used by the router.
func WithMetrics(m Metrics) Option {
	return func(o *options) {
		o.metrics = m
	}
}
