// Copyright 2024 The Mellium Contributors.
// Use of this source code is governed by the BSD 2-clause
// license that can be found in the LICENSE file.

package prometheus

import (
	"github.com/prometheus/client_golang/prometheus"

	"mellium.im/xmppd/cluster"
	"mellium.im/xmppd/metrics"
)

type clusterMetrics struct {
	dispatchDuration *prometheus.HistogramVec
	dispatchTotal    *prometheus.CounterVec
	transportErrors  *prometheus.CounterVec
	tasksExecuted    *prometheus.CounterVec
	members          prometheus.Gauge
}

// NewClusterMetrics creates a Prometheus implementation of cluster.Metrics.
func NewClusterMetrics(reg prometheus.Registerer) cluster.Metrics {
	m := &clusterMetrics{
		dispatchDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "cluster",
			Name:      "dispatch_duration_seconds",
			Help:      "Latency of tasks sent to other nodes in seconds",
			Buckets:   defaultBuckets,
		}, []string{"kind"}),

		dispatchTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "cluster",
			Name:      "dispatch_total",
			Help:      "Total number of tasks sent to other nodes",
		}, []string{"kind", "success"}),

		transportErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "cluster",
			Name:      "transport_errors_total",
			Help:      "Total number of transport errors",
		}, []string{"error_type"}),

		tasksExecuted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "cluster",
			Name:      "tasks_executed_total",
			Help:      "Total number of tasks executed for other nodes",
		}, []string{"kind", "success"}),

		members: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "cluster",
			Name:      "members",
			Help:      "Number of live cluster members",
		}),
	}

	reg.MustRegister(
		m.dispatchDuration,
		m.dispatchTotal,
		m.transportErrors,
		m.tasksExecuted,
		m.members,
	)
	return m
}

func (m *clusterMetrics) DispatchDuration(kind string) metrics.Timer {
	return newTimer(m.dispatchDuration.WithLabelValues(kind))
}

func (m *clusterMetrics) DispatchCompleted(kind string, success bool) {
	m.dispatchTotal.WithLabelValues(kind, boolLabel(success)).Inc()
}

func (m *clusterMetrics) TransportError(errorType string) {
	m.transportErrors.WithLabelValues(errorType).Inc()
}

func (m *clusterMetrics) TaskExecuted(kind string, success bool) {
	m.tasksExecuted.WithLabelValues(kind, boolLabel(success)).Inc()
}

func (m *clusterMetrics) Members(count int) {
	m.members.Set(float64(count))
}

var _ cluster.Metrics = (*clusterMetrics)(nil)
