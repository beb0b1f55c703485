// Copyright 2024 The Mellium Contributors.
// Use of this source code is governed by the BSD 2-clause
// license that can be found in the LICENSE file.

package session

// Metrics receives session lifecycle and queue measurements.
type Metrics interface {
	Opened(kind Kind)
	Closed(kind Kind)
	Sent(kind Kind)
	QueueFull(kind Kind)
	Stalled(kind Kind)
}

type nopMetrics struct{}

// NopMetrics returns a Metrics that discards everything.
func NopMetrics() Metrics { return nopMetrics{} }

func (nopMetrics) Opened(Kind)    {}
func (nopMetrics) Closed(Kind)    {}
func (nopMetrics) Sent(Kind)      {}
func (nopMetrics) QueueFull(Kind) {}
func (nopMetrics) Stalled(Kind)   {}
