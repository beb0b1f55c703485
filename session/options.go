// Copyright 2024 The Mellium Contributors.
// Use of this source code is governed by the BSD 2-clause
// license that can be found in the LICENSE file.

package session

import (
	"log/slog"
	"time"

	"github.com/benbjohnson/clock"
)

// Defaults used when the corresponding option is not set.
const (
	DefaultQueueSize    = 256
	DefaultStallTimeout = 30 * time.Second
)

// An Option is used to configure new sessions.
type Option func(*options)

type options struct {
	owner        string
	bus          *Bus
	dir          Directory
	clock        clock.Clock
	queueSize    int
	stallTimeout time.Duration
	log          *slog.Logger
	metrics      Metrics
}

func getOpts(o ...Option) (res options) {
	for _, f := range o {
		f(&res)
	}
	if res.clock == nil {
		res.clock = clock.New()
	}
	if res.queueSize <= 0 {
		res.queueSize = DefaultQueueSize
	}
	if res.stallTimeout <= 0 {
		res.stallTimeout = DefaultStallTimeout
	}
	if res.log == nil {
		res.log = slog.New(slog.DiscardHandler)
	}
	if res.metrics == nil {
		res.metrics = NopMetrics()
	}
	return
}

// The Owner option records the cluster node that owns the session.
func Owner(node string) Option {
	return func(o *options) {
		o.owner = node
	}
}

// The Events option publishes lifecycle events of the session on bus.
func Events(bus *Bus) Option {
	return func(o *options) {
		o.bus = bus
	}
}

// The InDirectory option makes the session remove itself from dir when it is
// closed, before its status becomes Closed.
func InDirectory(dir Directory) Option {
	return func(o *options) {
		o.dir = dir
	}
}

// The Clock option sets the time source used to detect stalled peers.
func Clock(c clock.Clock) Option {
	return func(o *options) {
		o.clock = c
	}
}

// The QueueSize option sets the number of stanzas that may be waiting to be
// written before Send starts failing.
func QueueSize(n int) Option {
	return func(o *options) {
		o.queueSize = n
	}
}

// The StallTimeout option sets how long the outbound queue may stay full
// before the session is closed.
func StallTimeout(d time.Duration) Option {
	return func(o *options) {
		o.stallTimeout = d
	}
}

// The Logger option sets the logger used by the session.
func Logger(l *slog.Logger) Option {
	return func(o *options) {
		o.log = l
	}
}

// The WithMetrics option sets the metrics sink used by the session.
func WithMetrics(m Metrics) Option {
	return func(o *options) {
		o.metrics = m
	}
}
