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
	"time"

	"github.com/benbjohnson/clock"
	natsgo "github.com/nats-io/nats.go"

	"mellium.im/xmppd/cluster"
)

// Heartbeat defaults.
const (
	DefaultHeartbeatInterval = time.Second
	DefaultMissedHeartbeats  = 3
)

// ErrStarted is returned when a membership is started twice.
var ErrStarted = errors.New("nats: membership already started")

// MembershipConfig configures a Membership.
type MembershipConfig struct {
	Connect       Connector     // Connect creates the NATS connection. If nil, ConnectDefault() is used.
	Log           *slog.Logger  // Log for diagnostics (optional)
	SubjectPrefix string        // SubjectPrefix of the heartbeat subject, e.g. "xmppd" -> xmppd.heartbeat
	Interval      time.Duration // Interval between two heartbeats of the local node.
	Missed        int           // Missed heartbeats after which a node is considered gone.
	Clock         clock.Clock
}

type heartbeat struct {
	Node    cluster.NodeID `json:"node"`
	Leaving bool           `json:"leaving,omitempty"`
}

// Membership is a cluster.Membership in which every node announces itself by
// publishing heartbeats.
// A node joins when its first heartbeat is seen and leaves when it says so or
// when it misses too many heartbeats.
type Membership struct {
	local    cluster.NodeID
	subject  string
	interval time.Duration
	timeout  time.Duration
	clock    clock.Clock
	log      *slog.Logger

	nc      *natsgo.Conn
	closeNc closeFunc

	group *cluster.Group

	// mu serializes changes of seen with the matching group events.
	mu   sync.Mutex
	seen map[cluster.NodeID]time.Time

	startOnce sync.Once
	closeOnce sync.Once
	started   bool
	sub       *natsgo.Subscription
	cancel    context.CancelFunc
	done      chan struct{}
}

// NewMembership connects to NATS.
// The local node is not announced until Start is called.
func NewMembership(local cluster.NodeID, cfg MembershipConfig) (*Membership, error) {
	if local == "" {
		return nil, errors.New("nats: empty node id")
	}
	m := newMembership(local, cfg)
	connect := cfg.Connect
	if connect == nil {
		connect = ConnectDefault()
	}
	nc, closeNc, err := connect()
	if err != nil {
		return nil, fmt.Errorf("nats: connect: %w", err)
	}
	m.nc, m.closeNc = nc, closeNc
	return m, nil
}

func newMembership(local cluster.NodeID, cfg MembershipConfig) *Membership {
	prefix := cfg.SubjectPrefix
	if prefix == "" {
		prefix = DefaultSubjectPrefix
	}
	interval := cfg.Interval
	if interval <= 0 {
		interval = DefaultHeartbeatInterval
	}
	missed := cfg.Missed
	if missed <= 0 {
		missed = DefaultMissedHeartbeats
	}
	clk := cfg.Clock
	if clk == nil {
		clk = clock.New()
	}
	log := cfg.Log
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}
	return &Membership{
		local:    local,
		subject:  prefix + ".heartbeat",
		interval: interval,
		timeout:  time.Duration(missed) * interval,
		clock:    clk,
		log:      log.With(slog.String("membership", "nats")),
		group:    cluster.NewGroup(clk),
		seen:     make(map[cluster.NodeID]time.Time),
		done:     make(chan struct{}),
		closeNc:  func() {},
	}
}

// Local satisfies the cluster.Membership interface.
func (m *Membership) Local() cluster.NodeID { return m.local }

// Members satisfies the cluster.Membership interface.
func (m *Membership) Members() []cluster.NodeID { return m.group.Members() }

// Subscribe satisfies the cluster.Membership interface.
func (m *Membership) Subscribe(fn func(cluster.Event)) func() {
	return m.group.Subscribe(fn)
}

// Start joins the local node, starts listening for the heartbeats of other
// nodes and publishes heartbeats until ctx is done or Close is called.
func (m *Membership) Start(ctx context.Context) error {
	err := ErrStarted
	m.startOnce.Do(func() {
		err = m.start(ctx)
	})
	return err
}

func (m *Membership) start(ctx context.Context) error {
	sub, err := m.nc.Subscribe(m.subject, func(msg *natsgo.Msg) {
		var hb heartbeat
		if err := json.Unmarshal(msg.Data, &hb); err != nil {
			m.log.Warn("invalid heartbeat", slog.Any("error", err))
			return
		}
		m.receive(hb)
	})
	if err != nil {
		return fmt.Errorf("nats: subscribe heartbeats: %w", err)
	}
	m.sub = sub
	m.group.Join(m.local)
	if err := m.publish(false); err != nil {
		m.log.Warn("publishing heartbeat failed", slog.Any("error", err))
	}

	ctx, m.cancel = context.WithCancel(ctx)
	m.started = true
	go m.loop(ctx)
	return nil
}

func (m *Membership) loop(ctx context.Context) {
	defer close(m.done)
	ticker := m.clock.Ticker(m.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := m.publish(false); err != nil {
				m.log.Warn("publishing heartbeat failed", slog.Any("error", err))
			}
			m.sweep()
		}
	}
}

func (m *Membership) publish(leaving bool) error {
	b, err := json.Marshal(heartbeat{Node: m.local, Leaving: leaving})
	if err != nil {
		return err
	}
	return m.nc.Publish(m.subject, b)
}

// receive records a heartbeat of another node.
func (m *Membership) receive(hb heartbeat) {
	if hb.Node == "" || hb.Node == m.local {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if hb.Leaving {
		if _, ok := m.seen[hb.Node]; ok {
			delete(m.seen, hb.Node)
			m.log.Info("node left", slog.String("node", hb.Node.String()))
			m.group.Leave(hb.Node)
		}
		return
	}
	_, known := m.seen[hb.Node]
	m.seen[hb.Node] = m.clock.Now()
	if !known {
		m.log.Info("node joined", slog.String("node", hb.Node.String()))
		m.group.Join(hb.Node)
	}
}

// sweep removes the nodes whose last heartbeat is too old.
func (m *Membership) sweep() {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.clock.Now()
	for id, last := range m.seen {
		if now.Sub(last) < m.timeout {
			continue
		}
		delete(m.seen, id)
		m.log.Warn("node expired", slog.String("node", id.String()), slog.Duration("silent", now.Sub(last)))
		m.group.Leave(id)
	}
}

// Close announces that the local node leaves, stops the heartbeats and
// releases the connection.
func (m *Membership) Close() error {
	var err error
	m.closeOnce.Do(func() {
		if m.started {
			m.cancel()
			<-m.done
			err = m.publish(true)
			if m.sub != nil {
				if uerr := m.sub.Unsubscribe(); err == nil {
					err = uerr
				}
			}
			if ferr := m.nc.Flush(); err == nil {
				err = ferr
			}
		}
		m.group.Leave(m.local)
		m.closeNc()
	})
	return err
}

var _ cluster.Membership = (*Membership)(nil)
