// Copyright 2024 The Mellium Contributors.
// Use of this source code is governed by the BSD 2-clause
// license that can be found in the LICENSE file.

package cluster

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
)

// MemoryTransport connects nodes that live in the same process.
type MemoryTransport struct {
	mu  sync.RWMutex
	log *slog.Logger

	closed bool

	// node -> subID -> handler
	subs map[NodeID]map[string]Handler

	// replyTo -> chan response bytes
	inboxes map[string]chan []byte

	seq uint64
}

// NewMemoryTransport returns an open in-process transport.
func NewMemoryTransport() *MemoryTransport {
	return &MemoryTransport{
		log:     slog.New(slog.DiscardHandler),
		subs:    make(map[NodeID]map[string]Handler),
		inboxes: make(map[string]chan []byte),
	}
}

// WithLog sets the logger and returns the transport.
func (t *MemoryTransport) WithLog(log *slog.Logger) *MemoryTransport {
	t.log = log.With(slog.String("transport", "mem"))
	return t
}

// Request satisfies the ClientTransport interface.
func (t *MemoryTransport) Request(ctx context.Context, env Envelope) ([]byte, error) {
	replyTo := t.newID("inbox")
	replyCh, err := t.registerInbox(replyTo)
	if err != nil {
		return nil, err
	}
	defer t.unregisterInbox(replyTo)

	env.ReplyTo = replyTo

	t.mu.RLock()
	if t.closed {
		t.mu.RUnlock()
		return nil, ErrTransportClosed
	}
	// Copy handlers to avoid holding the lock while invoking user code.
	handlers := make([]Handler, 0, len(t.subs[env.Node]))
	for _, h := range t.subs[env.Node] {
		handlers = append(handlers, h)
	}
	t.mu.RUnlock()

	if len(handlers) == 0 {
		return nil, ErrNoSubscriber
	}
	for _, h := range handlers {
		go t.invokeHandler(ctx, h, env)
	}

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case b, ok := <-replyCh:
		if !ok {
			return nil, ErrTransportClosed
		}
		return DecodeResponse(b)
	}
}

// Subscribe satisfies the ServerTransport interface.
func (t *MemoryTransport) Subscribe(ctx context.Context, node NodeID, h Handler) (Subscription, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return nil, ErrTransportClosed
	}
	if t.subs[node] == nil {
		t.subs[node] = make(map[string]Handler)
	}

	subID := t.newID("sub")
	t.subs[node][subID] = h
	t.log.Debug("subscribe", slog.String("node", string(node)))

	s := &subscription{
		t:     t,
		node:  node,
		subID: subID,
	}
	context.AfterFunc(ctx, func() {
		_ = s.Unsubscribe()
	})
	return s, nil
}

// Close satisfies the Transport interface.
// Pending requests fail with ErrTransportClosed.
func (t *MemoryTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return nil
	}
	t.closed = true

	for k, ch := range t.inboxes {
		close(ch)
		delete(t.inboxes, k)
	}
	for node := range t.subs {
		delete(t.subs, node)
	}
	t.log.Debug("closed")
	return nil
}

type subscription struct {
	t     *MemoryTransport
	node  NodeID
	subID string
	once  sync.Once
}

func (s *subscription) Unsubscribe() error {
	s.once.Do(func() {
		s.t.mu.Lock()
		defer s.t.mu.Unlock()
		if subs := s.t.subs[s.node]; subs != nil {
			delete(subs, s.subID)
			if len(subs) == 0 {
				delete(s.t.subs, s.node)
			}
		}
	})
	return nil
}

func (t *MemoryTransport) invokeHandler(ctx context.Context, h Handler, env Envelope) {
	resp, err := h(ctx, env)
	b := EncodeResponse(resp, err)

	// The inbox is closed and removed under the write lock, so holding the read
	// lock makes the send safe.
	t.mu.RLock()
	defer t.mu.RUnlock()
	ch := t.inboxes[env.ReplyTo]
	if ch == nil {
		t.log.Debug("dropping response", slog.String("reply_to", env.ReplyTo))
		return
	}
	select {
	case ch <- b:
	default:
	}
}

func (t *MemoryTransport) newID(prefix string) string {
	return fmt.Sprintf("%s.%d", prefix, atomic.AddUint64(&t.seq, 1))
}

func (t *MemoryTransport) registerInbox(replyTo string) (<-chan []byte, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return nil, ErrTransportClosed
	}
	// Buffered so that a handler can reply before the requester selects.
	ch := make(chan []byte, 1)
	t.inboxes[replyTo] = ch
	return ch, nil
}

func (t *MemoryTransport) unregisterInbox(replyTo string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if ch := t.inboxes[replyTo]; ch != nil {
		close(ch)
		delete(t.inboxes, replyTo)
	}
}
