// Copyright 2024 The Mellium Contributors.
// Use of this source code is governed by the BSD 2-clause
// license that can be found in the LICENSE file.

package nats

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	natsgo "github.com/nats-io/nats.go"

	"mellium.im/xmppd/cluster"
)

// DefaultSubjectPrefix is the prefix of every subject used by the adapter.
const DefaultSubjectPrefix = "xmppd"

// TransportConfig configures a Transport.
type TransportConfig struct {
	Connect       Connector    // Connect creates the NATS connection. If nil, ConnectDefault() is used.
	Log           *slog.Logger // Log for diagnostics (optional)
	SubjectPrefix string       // SubjectPrefix of node subjects, e.g. "xmppd" -> xmppd.node.<id>
}

// Transport is a cluster.Transport that sends every task as a NATS request on
// the subject of the target node.
type Transport struct {
	nc      *natsgo.Conn
	closeNc closeFunc
	log     *slog.Logger
	prefix  string

	mu   sync.Mutex
	subs map[*natsgo.Subscription]struct{}

	closed atomic.Bool
}

// NewTransport connects to NATS.
func NewTransport(cfg TransportConfig) (*Transport, error) {
	connect := cfg.Connect
	if connect == nil {
		connect = ConnectDefault()
	}
	log := cfg.Log
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}
	prefix := cfg.SubjectPrefix
	if prefix == "" {
		prefix = DefaultSubjectPrefix
	}

	nc, closeNc, err := connect()
	if err != nil {
		return nil, fmt.Errorf("nats: connect: %w", err)
	}
	return &Transport{
		nc:      nc,
		closeNc: closeNc,
		log:     log.With(slog.String("transport", "nats")),
		prefix:  prefix,
		subs:    make(map[*natsgo.Subscription]struct{}),
	}, nil
}

func nodeSubject(prefix string, node cluster.NodeID) string {
	return prefix + ".node." + node.String()
}

// Request satisfies the cluster.ClientTransport interface.
func (t *Transport) Request(ctx context.Context, env cluster.Envelope) ([]byte, error) {
	if t.closed.Load() {
		return nil, cluster.ErrTransportClosed
	}
	payload, err := json.Marshal(env)
	if err != nil {
		return nil, fmt.Errorf("nats: encode envelope: %w", err)
	}

	msg, err := t.nc.RequestWithContext(ctx, nodeSubject(t.prefix, env.Node), payload)
	switch {
	case err == nil:
	case errors.Is(err, natsgo.ErrNoResponders):
		return nil, cluster.ErrNoSubscriber
	case errors.Is(err, natsgo.ErrConnectionClosed):
		return nil, cluster.ErrTransportClosed
	case ctx.Err() != nil:
		return nil, ctx.Err()
	default:
		return nil, fmt.Errorf("nats: request: %w", err)
	}
	return cluster.DecodeResponse(msg.Data)
}

// Subscribe satisfies the cluster.ServerTransport interface.
func (t *Transport) Subscribe(ctx context.Context, node cluster.NodeID, h cluster.Handler) (cluster.Subscription, error) {
	if t.closed.Load() {
		return nil, cluster.ErrTransportClosed
	}

	sub, err := t.nc.Subscribe(nodeSubject(t.prefix, node), func(msg *natsgo.Msg) {
		var env cluster.Envelope
		if err := json.Unmarshal(msg.Data, &env); err != nil {
			t.log.Error("failed to decode envelope", slog.Any("error", err))
			return
		}
		env.ReplyTo = msg.Reply

		data, err := h(ctx, env)
		if msg.Reply == "" {
			return
		}
		if err := msg.Respond(cluster.EncodeResponse(data, err)); err != nil {
			t.log.Error("failed to publish reply", slog.Any("error", err))
		}
	})
	if err != nil {
		return nil, fmt.Errorf("nats: subscribe node %s: %w", node, err)
	}
	// Make sure the server knows about the subscription before the first
	// request for this node can be sent.
	if err := t.nc.Flush(); err != nil {
		_ = sub.Unsubscribe()
		return nil, fmt.Errorf("nats: flush: %w", err)
	}

	t.mu.Lock()
	t.subs[sub] = struct{}{}
	t.mu.Unlock()

	s := &subscription{sub: sub, t: t}
	context.AfterFunc(ctx, func() {
		_ = s.Unsubscribe()
	})
	t.log.Debug("subscribe", slog.String("node", node.String()))
	return s, nil
}

// Close unsubscribes every node and releases the connection.
// Closing twice is a no-op.
func (t *Transport) Close() error {
	if t.closed.Swap(true) {
		return nil
	}
	t.mu.Lock()
	for s := range t.subs {
		_ = s.Unsubscribe()
	}
	t.subs = make(map[*natsgo.Subscription]struct{})
	t.mu.Unlock()
	t.closeNc()
	return nil
}

type subscription struct {
	sub  *natsgo.Subscription
	t    *Transport
	once sync.Once
	err  error
}

func (s *subscription) Unsubscribe() error {
	s.once.Do(func() {
		s.t.mu.Lock()
		_, ok := s.t.subs[s.sub]
		delete(s.t.subs, s.sub)
		s.t.mu.Unlock()
		if ok {
			s.err = s.sub.Unsubscribe()
		}
	})
	return s.err
}

var _ cluster.Transport = (*Transport)(nil)
