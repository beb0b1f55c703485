// Copyright 2024 The Mellium Contributors.
// Use of this source code is governed by the BSD 2-clause
// license that can be found in the LICENSE file.

package server

import (
	"context"
	"log/slog"
	"sync"

	"mellium.im/xmppd/cluster"
	"mellium.im/xmppd/internal/perkey"
)

// replicator sends changes to local routes to every peer node.
// Tasks for one peer are dispatched in order, one at a time.
type replicator struct {
	local      cluster.NodeID
	dispatcher *cluster.Dispatcher
	queue      *perkey.Scheduler[cluster.NodeID]
	ctx        context.Context
	log        *slog.Logger

	mu    sync.RWMutex
	peers map[cluster.NodeID]struct{}
}

func newReplicator(ctx context.Context, local cluster.NodeID, log *slog.Logger) *replicator {
	return &replicator{
		local: local,
		queue: perkey.New[cluster.NodeID](),
		ctx:   ctx,
		log:   log,
		peers: make(map[cluster.NodeID]struct{}),
	}
}

// Replicate satisfies route.Replicator.
func (r *replicator) Replicate(task cluster.Task) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for id := range r.peers {
		r.send(id, task)
	}
}

// join starts replicating to id and sends it the tasks returned by adverts.
// Changes replicated while the adverts are collected are queued after them.
func (r *replicator) join(id cluster.NodeID, adverts func() []cluster.Task) {
	if id == r.local {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.peers[id] = struct{}{}
	for _, task := range adverts() {
		r.send(id, task)
	}
}

// leave stops replicating to id and discards the tasks still queued for it.
func (r *replicator) leave(id cluster.NodeID) {
	r.mu.Lock()
	delete(r.peers, id)
	r.mu.Unlock()
	if n := r.queue.Drop(id); n > 0 {
		r.log.Debug("dropped pending route updates", slog.String("node", id.String()), slog.Int("tasks", n))
	}
}

func (r *replicator) send(id cluster.NodeID, task cluster.Task) {
	err := r.queue.Go(id, func() {
		if r.ctx.Err() != nil {
			return
		}
		err := r.dispatcher.Dispatch(r.ctx, id, task)
		if err != nil {
			r.log.Debug("route update not delivered",
				slog.String("node", id.String()),
				slog.String("jid", task.Target.String()),
				slog.Any("error", err))
		}
	})
	if err != nil {
		r.log.Debug("route update not queued", slog.String("node", id.String()), slog.Any("error", err))
	}
}

func (r *replicator) close() {
	r.queue.Close()
}
