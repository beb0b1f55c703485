// Copyright 2024 The Mellium Contributors.
// Use of this source code is governed by the BSD 2-clause
// license that can be found in the LICENSE file.

package cluster

import (
	"context"
	"fmt"
	"log/slog"
)

// Executor executes tasks received from other nodes.
type Executor interface {
	Execute(ctx context.Context, task Task) error
}

// ExecutorFunc is an adapter to allow the use of ordinary functions as
// executors.
type ExecutorFunc func(ctx context.Context, task Task) error

// Execute calls f(ctx, task).
func (f ExecutorFunc) Execute(ctx context.Context, task Task) error {
	return f(ctx, task)
}

// NodeOptions configures a Node.
type NodeOptions struct {
	ID        NodeID
	Transport ServerTransport
	Executor  Executor
	Log       *slog.Logger
	Metrics   Metrics
}

// Node receives the tasks addressed to one node and executes them.
type Node struct {
	id      NodeID
	t       ServerTransport
	exec    Executor
	log     *slog.Logger
	metrics Metrics
}

// NewNode returns a node that is not yet receiving.
func NewNode(opts NodeOptions) *Node {
	n := &Node{
		id:      opts.ID,
		t:       opts.Transport,
		exec:    opts.Executor,
		log:     opts.Log,
		metrics: opts.Metrics,
	}
	if n.log == nil {
		n.log = slog.New(slog.DiscardHandler)
	}
	n.log = n.log.With(slog.String("node", string(n.id)))
	if n.metrics == nil {
		n.metrics = NopMetrics()
	}
	if n.exec == nil {
		n.exec = ExecutorFunc(func(context.Context, Task) error {
			return fmt.Errorf("no executor registered")
		})
	}
	return n
}

// ID returns the identity of the node.
func (n *Node) ID() NodeID {
	return n.id
}

// Run subscribes the node inbox.
// Tasks are received until ctx is done.
func (n *Node) Run(ctx context.Context) error {
	n.log.Info("starting node")
	if _, err := n.t.Subscribe(ctx, n.id, n.handle); err != nil {
		return fmt.Errorf("cluster: subscribe node %s: %w", n.id, err)
	}
	return nil
}

func (n *Node) handle(ctx context.Context, env Envelope) ([]byte, error) {
	task, err := decodeTask(env.Data)
	if err != nil {
		n.metrics.TaskExecuted(env.Type, false)
		return nil, fmt.Errorf("decode task: %w", err)
	}
	if task.Origin == "" {
		task.Origin = env.From
	}
	err = n.exec.Execute(ctx, task)
	n.metrics.TaskExecuted(string(task.Kind), err == nil)
	if err != nil {
		n.log.Debug("task failed",
			slog.String("kind", string(task.Kind)),
			slog.String("origin", string(task.Origin)),
			slog.String("jid", task.Target.String()),
			slog.Any("error", err),
		)
		return nil, err
	}
	return nil, nil
}
