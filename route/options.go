// Copyright 2024 The Mellium Contributors.
// Use of this source code is governed by the BSD 2-clause
// license that can be found in the LICENSE file.

package route

import (
	"log/slog"

	"mellium.im/xmppd/cluster"
)

const defaultStripes = 64

// An Option is used to configure a Table.
type Option func(*options)

type options struct {
	stripes    int
	registry   *cluster.Registry
	replicator Replicator
	log        *slog.Logger
	metrics    Metrics
}

func getOpts(o ...Option) (res options) {
	for _, f := range o {
		f(&res)
	}
	if res.stripes <= 0 {
		res.stripes = defaultStripes
	}
	if res.log == nil {
		res.log = slog.New(slog.DiscardHandler)
	}
	if res.metrics == nil {
		res.metrics = NopMetrics()
	}
	return
}

// The Stripes option sets the number of lock stripes per map.
func Stripes(n int) Option {
	return func(o *options) {
		o.stripes = n
	}
}

// The Registry option makes the table reject remote routes advertised by
// nodes that are not live members of the cluster.
func Registry(r *cluster.Registry) Option {
	return func(o *options) {
		o.registry = r
	}
}

// The Replicate option publishes every change to a local route to r.
func Replicate(r Replicator) Option {
	return func(o *options) {
		o.replicator = r
	}
}

// The Logger option sets the logger used by the table.
func Logger(l *slog.Logger) Option {
	return func(o *options) {
		o.log = l
	}
}

// The WithMetrics option sets the metrics sink used by the table.
func WithMetrics(m Metrics) Option {
	return func(o *options) {
		o.metrics = m
	}
}
