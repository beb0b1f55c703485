// Copyright 2020 The Mellium Contributors.
// Use of this source code is governed by the BSD 2-clause
// license that can be found in the LICENSE file.

package router

import (
	"context"
	"encoding/xml"

	"mellium.im/xmppd/stanza"
)

// IQHandler responds to an IQ stanza addressed to the server.
// The returned IQ is routed back to the sender when iq is a request.
// A returned stanza.Error is sent as an error reply, any other error as an
// internal-server-error.
type IQHandler interface {
	HandleIQ(ctx context.Context, iq stanza.IQ) (stanza.IQ, error)
}

// The IQHandlerFunc type is an adapter to allow the use of ordinary functions
// as IQ handlers. If f is a function with the appropriate signature,
// IQHandlerFunc(f) is an IQHandler that calls f.
type IQHandlerFunc func(ctx context.Context, iq stanza.IQ) (stanza.IQ, error)

// HandleIQ calls f(ctx, iq).
func (f IQHandlerFunc) HandleIQ(ctx context.Context, iq stanza.IQ) (stanza.IQ, error) {
	return f(ctx, iq)
}

type patternKey struct {
	xml.Name
	Type stanza.IQType
}

// IQMux matches IQs by their type and the XML name of their first payload
// element (if any).
// If either the namespace or the localname is left off, any namespace or
// localname will be matched.
// Full XML names take precedence, followed by wildcard localnames, followed by
// wildcard namespaces.
type IQMux struct {
	patterns map[patternKey]IQHandler
}

// NewIQMux allocates and returns an empty IQMux.
func NewIQMux() *IQMux {
	return &IQMux{patterns: make(map[patternKey]IQHandler)}
}

// Handle registers h for the type and payload name.
// It panics if h is nil or the pattern is already registered.
func (m *IQMux) Handle(typ stanza.IQType, payload xml.Name, h IQHandler) {
	if h == nil {
		panic("router: nil IQ handler")
	}
	pattern := patternKey{Name: payload, Type: typ}
	if _, ok := m.patterns[pattern]; ok {
		panic("router: multiple registrations for {" + pattern.Space + "}" + pattern.Local)
	}
	m.patterns[pattern] = h
}

// Handler returns the handler to use for an IQ payload with the given name and
// type.
// If no handler exists, a default handler that replies service-unavailable is
// returned (h is always non-nil) and ok is false.
func (m *IQMux) Handler(iqType stanza.IQType, name xml.Name) (h IQHandler, ok bool) {
	pattern := patternKey{Name: name, Type: iqType}
	h = m.patterns[pattern]
	if h != nil {
		return h, true
	}

	n := name
	n.Space = ""
	pattern.Name = n
	h = m.patterns[pattern]
	if h != nil {
		return h, true
	}

	n = name
	n.Local = ""
	pattern.Name = n
	h = m.patterns[pattern]
	if h != nil {
		return h, true
	}

	pattern.Name = xml.Name{}
	h = m.patterns[pattern]
	if h != nil {
		return h, true
	}

	return IQHandlerFunc(iqFallback), false
}

// HandleIQ dispatches the IQ to the handler whose pattern most closely
// matches its payload.
func (m *IQMux) HandleIQ(ctx context.Context, iq stanza.IQ) (stanza.IQ, error) {
	var name xml.Name
	if len(iq.Payload) > 0 {
		name = iq.Payload[0].XMLName
	}
	typ := iq.Type
	if typ == "" {
		typ = stanza.GetIQ
	}
	h, _ := m.Handler(typ, name)
	return h.HandleIQ(ctx, iq)
}

func iqFallback(_ context.Context, iq stanza.IQ) (stanza.IQ, error) {
	return stanza.IQ{}, stanza.NewError(stanza.ServiceUnavailable)
}
