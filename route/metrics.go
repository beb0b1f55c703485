// Copyright 2024 The Mellium Contributors.
// Use of this source code is governed by the BSD 2-clause
// license that can be found in the LICENSE file.

package route

// Granularities reported to Metrics.
const (
	GranularityFull   = "full"
	GranularityBare   = "bare"
	GranularityDomain = "domain"
)

// Metrics receives routing table measurements.
type Metrics interface {
	Added(granularity string, local bool)
	Removed(granularity string, local bool)
	Lookup(granularity string, kind Kind)
	Purged(n int)
}

type nopMetrics struct{}

// NopMetrics returns a Metrics that discards everything.
func NopMetrics() Metrics { return nopMetrics{} }

func (nopMetrics) Added(string, bool)   {}
func (nopMetrics) Removed(string, bool) {}
func (nopMetrics) Lookup(string, Kind)  {}
func (nopMetrics) Purged(int)           {}
