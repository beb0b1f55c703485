// Copyright 2024 The Mellium Contributors.
// Use of this source code is governed by the BSD 2-clause
// license that can be found in the LICENSE file.

package router

// Outcomes reported to Metrics.
const (
	OutcomeLocal   = "local"
	OutcomeRemote  = "remote"
	OutcomeOffline = "offline"
	OutcomeBounced = "bounced"
	OutcomeDropped = "dropped"
	OutcomeHandled = "handled"
)

// Metrics receives routing outcomes.
type Metrics interface {
	Routed(kind string, outcome string)
	Panicked(kind string)
}

type nopMetrics struct{}

// NopMetrics returns a Metrics that discards everything.
func NopMetrics() Metrics { return nopMetrics{} }

func (nopMetrics) Routed(string, string) {}
func (nopMetrics) Panicked(string)       {}
