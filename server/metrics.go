// Copyright 2024 The Mellium Contributors.
// Use of this source code is governed by the BSD 2-clause
// license that can be found in the LICENSE file.

package server

import (
	"mellium.im/xmppd/cluster"
	"mellium.im/xmppd/route"
	"mellium.im/xmppd/router"
	"mellium.im/xmppd/session"
)

// Metrics groups the metrics sinks of the components owned by a server.
// Nil fields discard their measurements.
type Metrics struct {
	Cluster cluster.Metrics
	Route   route.Metrics
	Router  router.Metrics
	Session session.Metrics
}

func (m Metrics) withDefaults() Metrics {
	if m.Cluster == nil {
		m.Cluster = cluster.NopMetrics()
	}
	if m.Route == nil {
		m.Route = route.NopMetrics()
	}
	if m.Router == nil {
		m.Router = router.NopMetrics()
	}
	if m.Session == nil {
		m.Session = session.NopMetrics()
	}
	return m
}
