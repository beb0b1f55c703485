// Copyright 2024 The Mellium Contributors.
// Use of this source code is governed by the BSD 2-clause
// license that can be found in the LICENSE file.

package cluster

import (
	"context"
	"encoding/json"
	"fmt"
)

// Envelope is the unit of transfer between nodes.
type Envelope struct {
	Node    NodeID `json:"node"`
	From    NodeID `json:"from,omitempty"`
	Type    string `json:"type"`
	Data    []byte `json:"data"`
	ReplyTo string `json:"reply_to,omitempty"`
}

// Subscription is an active subscription of a node inbox.
type Subscription interface {
	Unsubscribe() error
}

// Handler handles envelopes addressed to a node and returns the reply.
type Handler = func(ctx context.Context, env Envelope) ([]byte, error)

// ClientTransport sends envelopes to other nodes.
type ClientTransport interface {
	// Request sends env to env.Node and waits for the reply or for ctx to be
	// done.
	Request(ctx context.Context, env Envelope) ([]byte, error)

	Close() error
}

// ServerTransport delivers envelopes addressed to a node.
type ServerTransport interface {
	// Subscribe delivers envelopes addressed to node to h until the
	// subscription is cancelled or ctx is done.
	Subscribe(ctx context.Context, node NodeID, h Handler) (Subscription, error)

	Close() error
}

// Transport sends envelopes and lets a node receive the envelopes addressed to
// it.
type Transport interface {
	ClientTransport
	ServerTransport
}

// responseFrame is the reply encoding shared by every transport.
type responseFrame struct {
	Data []byte `json:"data,omitempty"`
	Err  string `json:"err,omitempty"`
}

// EncodeResponse encodes the outcome of a handler for the wire.
func EncodeResponse(data []byte, err error) []byte {
	rf := responseFrame{Data: data}
	if err != nil {
		rf.Err = err.Error()
		rf.Data = nil
	}
	b, _ := json.Marshal(rf)
	return b
}

// DecodeResponse decodes a reply produced by EncodeResponse.
// A handler error is returned as a *RemoteError.
func DecodeResponse(b []byte) ([]byte, error) {
	var rf responseFrame
	if err := json.Unmarshal(b, &rf); err != nil {
		return nil, fmt.Errorf("cluster: decode response: %w", err)
	}
	if rf.Err != "" {
		return nil, &RemoteError{Message: rf.Err}
	}
	return rf.Data, nil
}
