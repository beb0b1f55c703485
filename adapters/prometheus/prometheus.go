// Copyright 2024 The Mellium Contributors.
// Use of this source code is governed by the BSD 2-clause
// license that can be found in the LICENSE file.

// Package prometheus provides Prometheus implementations of the metrics
// interfaces of the cluster, route, router and session packages.
package prometheus // import "mellium.im/xmppd/adapters/prometheus"

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"mellium.im/xmppd/metrics"
	"mellium.im/xmppd/server"
)

const namespace = "xmppd"

// Default histogram buckets for latency metrics (in seconds).
var defaultBuckets = []float64{
	.0005, .001, .0025, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5,
}

type timer struct {
	h     prometheus.Observer
	start time.Time
}

func newTimer(h prometheus.Observer) metrics.Timer {
	return &timer{h: h, start: time.Now()}
}

func (t *timer) ObserveDuration() {
	t.h.Observe(time.Since(t.start).Seconds())
}

// NewServerMetrics registers the metrics of every layer of a node on reg and
// returns them in the form expected by server.WithMetrics.
func NewServerMetrics(reg prometheus.Registerer) server.Metrics {
	return server.Metrics{
		Cluster: NewClusterMetrics(reg),
		Route:   NewRouteMetrics(reg),
		Router:  NewRouterMetrics(reg),
		Session: NewSessionMetrics(reg),
	}
}

func boolLabel(b bool) string {
	return strconv.FormatBool(b)
}

func locality(local bool) string {
	if local {
		return "local"
	}
	return "remote"
}
