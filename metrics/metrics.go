// Copyright 2024 The Mellium Contributors.
// Use of this source code is governed by the BSD 2-clause
// license that can be found in the LICENSE file.

// Package metrics defines the instrumentation interfaces used by the routing
// core.
// The core only ever talks to these interfaces; concrete backends live in
// adapters such as mellium.im/xmppd/adapters/prometheus.
package metrics // import "mellium.im/xmppd/metrics"

// Counter is a monotonically increasing metric.
type Counter interface {
	Inc()
	Add(delta float64)
}

// Gauge is a metric that can go up and down.
type Gauge interface {
	Set(value float64)
	Inc()
	Dec()
	Add(delta float64)
}

// Histogram samples observations such as queue depths or latencies.
type Histogram interface {
	Observe(value float64)
}

// Timer measures the duration of a single operation.
// ObserveDuration records the time elapsed since the timer was created.
type Timer interface {
	ObserveDuration()
}

type nop struct{}

func (nop) Inc()             {}
func (nop) Dec()             {}
func (nop) Add(float64)      {}
func (nop) Set(float64)      {}
func (nop) Observe(float64)  {}
func (nop) ObserveDuration() {}

// NopCounter returns a Counter that discards everything.
func NopCounter() Counter { return nop{} }

// NopGauge returns a Gauge that discards everything.
func NopGauge() Gauge { return nop{} }

// NopHistogram returns a Histogram that discards everything.
func NopHistogram() Histogram { return nop{} }

// NopTimer returns a Timer that discards everything.
func NopTimer() Timer { return nop{} }
