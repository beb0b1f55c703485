// Copyright 2017 The Mellium Contributors.
// Use of this source code is governed by the BSD 2-clause
// license that can be found in the LICENSE file.

// Package component keeps track of the XEP-0114: Jabber Component Protocol
// components served by a cluster.
package component // import "mellium.im/xmppd/component"

import (
	/* #nosec */
	"crypto/sha1"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"mellium.im/xmppd/jid"
	"mellium.im/xmppd/route"
	"mellium.im/xmppd/session"
)

// A list of namespaces used by this package, provided as a convenience.
const (
	NSAccept = `jabber:component:accept`
)

// Errors returned when registering components.
var (
	ErrUnknownComponent = errors.New("component: no component configured for domain")
	ErrHandshake        = errors.New("component: handshake digest mismatch")
	ErrNotComponent     = errors.New("component: session is not a component session")
)

// Handshake returns the hex encoded digest a component sends to prove that it
// knows the shared secret for the stream with the given id.
func Handshake(streamID, secret string) string {
	/* #nosec */
	h := sha1.New()

	// hash.Write never returns an error per the documentation.
	/* #nosec */
	_, _ = h.Write([]byte(streamID))

	// hash.Write never returns an error per the documentation.
	/* #nosec */
	_, _ = h.Write([]byte(secret))
	return hex.EncodeToString(h.Sum(nil))
}

// Handle is a component that can currently be reached.
type Handle struct {
	Domain jid.JID
	Route  route.Route
}

// Local reports whether the component is connected to this node.
func (h Handle) Local() bool {
	return h.Route.Kind == route.Local
}

// An Option is used to configure a Manager.
type Option func(*Manager)

// Secret configures a component domain and its shared secret.
func Secret(domain jid.JID, secret string) Option {
	return func(m *Manager) {
		m.secrets[domain.Domain()] = secret
	}
}

// Logger sets the logger used by the manager.
func Logger(l *slog.Logger) Option {
	return func(m *Manager) {
		m.log = l
	}
}

// Manager authenticates component sessions and registers their domains on a
// routing table.
// Every node of a cluster is expected to share the same configuration, so
// that a component connected to any node can be looked up from all of them.
type Manager struct {
	table *route.Table
	log   *slog.Logger

	mu      sync.RWMutex
	secrets map[jid.JID]string
}

// NewManager returns a manager that registers components on table.
func NewManager(table *route.Table, opts ...Option) *Manager {
	m := &Manager{
		table:   table,
		secrets: make(map[jid.JID]string),
	}
	for _, o := range opts {
		o(m)
	}
	if m.log == nil {
		m.log = slog.New(slog.DiscardHandler)
	}
	return m
}

// Configure adds or replaces a component domain at runtime.
func (m *Manager) Configure(domain jid.JID, secret string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.secrets[domain.Domain()] = secret
}

// Domains returns every configured component domain in lexical order.
func (m *Manager) Domains() []jid.JID {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]jid.JID, 0, len(m.secrets))
	for d := range m.secrets {
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].String() < out[j].String() })
	return out
}

// IsComponent reports whether domain is configured as a component.
func (m *Manager) IsComponent(domain jid.JID) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.secrets[domain.Domain()]
	return ok
}

// Verify checks the handshake digest sent by a component that opened a stream
// to domain with the stream id streamID.
func (m *Manager) Verify(domain jid.JID, streamID, digest string) error {
	m.mu.RLock()
	secret, ok := m.secrets[domain.Domain()]
	m.mu.RUnlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownComponent, domain)
	}
	want := Handshake(streamID, secret)
	if subtle.ConstantTimeCompare([]byte(want), []byte(digest)) != 1 {
		return ErrHandshake
	}
	return nil
}

// Register verifies the handshake of a connecting component session,
// authenticates it as domain and adds the domain route.
// If another live component already serves the domain a *route.ConflictError
// is returned and the session is left unregistered.
func (m *Manager) Register(s *session.Session, domain jid.JID, streamID, digest string) error {
	if s.Kind() != session.Component {
		return ErrNotComponent
	}
	domain = domain.Domain()
	if err := m.Verify(domain, streamID, digest); err != nil {
		m.log.Warn("component handshake failed", slog.String("jid", domain.String()), slog.Any("error", err))
		return err
	}
	if err := s.Authenticate(domain); err != nil {
		return err
	}
	if err := m.table.AddRoute(domain, s); err != nil {
		return err
	}
	m.log.Info("component registered", slog.String("jid", domain.String()), slog.String("session", s.ID()))
	return nil
}

// Lookup returns the component serving domain if it is configured and
// connected to some node of the cluster.
func (m *Manager) Lookup(domain jid.JID) (Handle, bool) {
	domain = domain.Domain()
	if !m.IsComponent(domain) {
		return Handle{}, false
	}
	r := m.table.GetRoute(domain)
	if !r.Found() {
		return Handle{}, false
	}
	return Handle{Domain: domain, Route: r}, true
}
