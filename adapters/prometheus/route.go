// Copyright 2024 The Mellium Contributors.
// Use of this source code is governed by the BSD 2-clause
// license that can be found in the LICENSE file.

package prometheus

import (
	"github.com/prometheus/client_golang/prometheus"

	"mellium.im/xmppd/route"
)

type routeMetrics struct {
	routes  *prometheus.GaugeVec
	changes *prometheus.CounterVec
	lookups *prometheus.CounterVec
	purged  prometheus.Counter
}

// NewRouteMetrics creates a Prometheus implementation of route.Metrics.
func NewRouteMetrics(reg prometheus.Registerer) route.Metrics {
	m := &routeMetrics{
		routes: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "route",
			Name:      "entries",
			Help:      "Number of routing table entries",
		}, []string{"granularity", "locality"}),

		changes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "route",
			Name:      "changes_total",
			Help:      "Total number of routes added and removed",
		}, []string{"granularity", "locality", "op"}),

		lookups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "route",
			Name:      "lookups_total",
			Help:      "Total number of route lookups by result",
		}, []string{"granularity", "result"}),

		purged: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "route",
			Name:      "purged_total",
			Help:      "Total number of routes removed because their node left",
		}),
	}

	reg.MustRegister(m.routes, m.changes, m.lookups, m.purged)
	return m
}

func (m *routeMetrics) Added(granularity string, local bool) {
	m.routes.WithLabelValues(granularity, locality(local)).Inc()
	m.changes.WithLabelValues(granularity, locality(local), "add").Inc()
}

func (m *routeMetrics) Removed(granularity string, local bool) {
	m.routes.WithLabelValues(granularity, locality(local)).Dec()
	m.changes.WithLabelValues(granularity, locality(local), "remove").Inc()
}

func (m *routeMetrics) Lookup(granularity string, kind route.Kind) {
	m.lookups.WithLabelValues(granularity, kind.String()).Inc()
}

func (m *routeMetrics) Purged(n int) {
	m.purged.Add(float64(n))
}

var _ route.Metrics = (*routeMetrics)(nil)
