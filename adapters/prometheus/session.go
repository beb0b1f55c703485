// Copyright 2024 The Mellium Contributors.
// Use of this source code is governed by the BSD 2-clause
// license that can be found in the LICENSE file.

package prometheus

import (
	"github.com/prometheus/client_golang/prometheus"

	"mellium.im/xmppd/session"
)

type sessionMetrics struct {
	active    *prometheus.GaugeVec
	opened    *prometheus.CounterVec
	sent      *prometheus.CounterVec
	queueFull *prometheus.CounterVec
	stalled   *prometheus.CounterVec
}

// NewSessionMetrics creates a Prometheus implementation of session.Metrics.
func NewSessionMetrics(reg prometheus.Registerer) session.Metrics {
	counter := func(name, help string) *prometheus.CounterVec {
		return prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "session",
			Name:      name,
			Help:      help,
		}, []string{"kind"})
	}
	m := &sessionMetrics{
		active: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "session",
			Name:      "active",
			Help:      "Number of open sessions",
		}, []string{"kind"}),
		opened:    counter("opened_total", "Total number of sessions opened"),
		sent:      counter("stanzas_sent_total", "Total number of stanzas queued on sessions"),
		queueFull: counter("queue_full_total", "Total number of stanzas rejected by a full send queue"),
		stalled:   counter("stalled_total", "Total number of sessions closed because they stopped reading"),
	}

	reg.MustRegister(m.active, m.opened, m.sent, m.queueFull, m.stalled)
	return m
}

func (m *sessionMetrics) Opened(kind session.Kind) {
	m.opened.WithLabelValues(kind.String()).Inc()
	m.active.WithLabelValues(kind.String()).Inc()
}

func (m *sessionMetrics) Closed(kind session.Kind) {
	m.active.WithLabelValues(kind.String()).Dec()
}

func (m *sessionMetrics) Sent(kind session.Kind) {
	m.sent.WithLabelValues(kind.String()).Inc()
}

func (m *sessionMetrics) QueueFull(kind session.Kind) {
	m.queueFull.WithLabelValues(kind.String()).Inc()
}

func (m *sessionMetrics) Stalled(kind session.Kind) {
	m.stalled.WithLabelValues(kind.String()).Inc()
}

var _ session.Metrics = (*sessionMetrics)(nil)
