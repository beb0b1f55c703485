// Copyright 2024 The Mellium Contributors.
// Use of this source code is governed by the BSD 2-clause
// license that can be found in the LICENSE file.

package cluster

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"mellium.im/xmppd/jid"
	"mellium.im/xmppd/stanza"
)

// DefaultDispatchTimeout bounds a dispatch when no timeout is configured.
const DefaultDispatchTimeout = 5 * time.Second

// DispatcherOptions configures a Dispatcher.
type DispatcherOptions struct {
	// Local is the identity of the dispatching node.
	Local NodeID

	Transport ClientTransport

	// Registry, if set, is used to refuse dispatching to nodes that are not
	// live.
	Registry *Registry

	Timeout time.Duration
	Log     *slog.Logger
	Metrics Metrics
}

// Dispatcher sends tasks to other nodes.
type Dispatcher struct {
	local    NodeID
	t        ClientTransport
	registry *Registry
	timeout  time.Duration
	log      *slog.Logger
	metrics  Metrics
}

// NewDispatcher returns a Dispatcher.
func NewDispatcher(opts DispatcherOptions) (*Dispatcher, error) {
	if opts.Transport == nil {
		return nil, fmt.Errorf("cluster: DispatcherOptions.Transport is required")
	}
	d := &Dispatcher{
		local:    opts.Local,
		t:        opts.Transport,
		registry: opts.Registry,
		timeout:  opts.Timeout,
		log:      opts.Log,
		metrics:  opts.Metrics,
	}
	if d.timeout <= 0 {
		d.timeout = DefaultDispatchTimeout
	}
	if d.log == nil {
		d.log = slog.New(slog.DiscardHandler)
	}
	if d.metrics == nil {
		d.metrics = NopMetrics()
	}
	return d, nil
}

// Local returns the identity of the dispatching node.
func (d *Dispatcher) Local() NodeID {
	return d.local
}

// Dispatch sends task to node and waits for it to be executed.
// It never waits longer than the configured timeout.
// On failure the returned error is a *DeliveryError.
func (d *Dispatcher) Dispatch(ctx context.Context, node NodeID, task Task) error {
	if task.Origin == "" {
		task.Origin = d.local
	}
	timer := d.metrics.DispatchDuration(string(task.Kind))
	err := d.dispatch(ctx, node, task)
	timer.ObserveDuration()
	d.metrics.DispatchCompleted(string(task.Kind), err == nil)
	if err != nil {
		d.log.Debug("dispatch failed",
			slog.String("node", string(node)),
			slog.String("kind", string(task.Kind)),
			slog.String("jid", task.Target.String()),
			slog.Any("error", err),
		)
		return &DeliveryError{Node: node, Kind: task.Kind, Err: err}
	}
	return nil
}

// Deliver asks node to deliver st to the local session that to resolves to on
// that node.
func (d *Dispatcher) Deliver(ctx context.Context, node NodeID, to jid.JID, st stanza.Stanza) error {
	task, err := DeliverTask(to, st)
	if err != nil {
		return &DeliveryError{Node: node, Kind: TaskDeliver, Err: err}
	}
	return d.Dispatch(ctx, node, task)
}

func (d *Dispatcher) dispatch(ctx context.Context, node NodeID, task Task) error {
	if d.registry != nil && !d.registry.IsLive(node) {
		d.metrics.TransportError("unknown_node")
		return ErrUnknownNode
	}
	data, err := encodeTask(task)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	_, err = d.t.Request(ctx, Envelope{
		Node: node,
		From: d.local,
		Type: string(task.Kind),
		Data: data,
	})
	var remote *RemoteError
	switch {
	case err == nil:
		return nil
	case errors.Is(err, context.DeadlineExceeded):
		d.metrics.TransportError("timeout")
		return ErrTimeout
	case errors.Is(err, ErrNoSubscriber):
		d.metrics.TransportError("no_subscriber")
	case errors.Is(err, ErrTransportClosed):
		d.metrics.TransportError("closed")
	case errors.As(err, &remote):
		d.metrics.TransportError("remote")
	}
	return err
}
