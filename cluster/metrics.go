// Copyright 2024 The Mellium Contributors.
// Use of this source code is governed by the BSD 2-clause
// license that can be found in the LICENSE file.

package cluster

import "mellium.im/xmppd/metrics"

// Metrics defines the instrumentation of the cluster layer.
// All methods are thread-safe.
type Metrics interface {
	// Dispatching side
	DispatchDuration(kind string) metrics.Timer
	DispatchCompleted(kind string, success bool)

	// Transport errors: no_subscriber, timeout, closed, unknown_node, remote
	TransportError(errorType string)

	// Executing side
	TaskExecuted(kind string, success bool)

	// Registry
	Members(count int)
}

type nopMetrics struct{}

func (nopMetrics) DispatchDuration(string) metrics.Timer { return metrics.NopTimer() }
func (nopMetrics) DispatchCompleted(string, bool)        {}
func (nopMetrics) TransportError(string)                 {}
func (nopMetrics) TaskExecuted(string, bool)             {}
func (nopMetrics) Members(int)                           {}

// NopMetrics returns a Metrics implementation that discards everything.
func NopMetrics() Metrics { return nopMetrics{} }
