// Copyright 2024 The Mellium Contributors.
// Use of this source code is governed by the BSD 2-clause
// license that can be found in the LICENSE file.

package prometheus

import (
	"github.com/prometheus/client_golang/prometheus"

	"mellium.im/xmppd/router"
)

type routerMetrics struct {
	routed   *prometheus.CounterVec
	panicked *prometheus.CounterVec
}

// NewRouterMetrics creates a Prometheus implementation of router.Metrics.
func NewRouterMetrics(reg prometheus.Registerer) router.Metrics {
	m := &routerMetrics{
		routed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "router",
			Name:      "stanzas_total",
			Help:      "Total number of stanzas routed by outcome",
		}, []string{"kind", "outcome"}),

		panicked: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "router",
			Name:      "panics_total",
			Help:      "Total number of stanzas whose routing panicked",
		}, []string{"kind"}),
	}

	reg.MustRegister(m.routed, m.panicked)
	return m
}

func (m *routerMetrics) Routed(kind, outcome string) {
	m.routed.WithLabelValues(kind, outcome).Inc()
}

func (m *routerMetrics) Panicked(kind string) {
	m.panicked.WithLabelValues(kind).Inc()
}

var _ router.Metrics = (*routerMetrics)(nil)
