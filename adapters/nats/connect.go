// Copyright 2024 The Mellium Contributors.
// Use of this source code is governed by the BSD 2-clause
// license that can be found in the LICENSE file.

// Package nats connects the nodes of a cluster through a NATS server.
//
// Tasks travel on one subject per node and the cluster membership is derived
// from heartbeats published on a shared subject.
package nats // import "mellium.im/xmppd/adapters/nats"

import (
	"os"
	"sync"

	natsgo "github.com/nats-io/nats.go"
)

type closeFunc = func()

// Connector opens a NATS connection and returns the function that releases
// it.
type Connector func() (nc *natsgo.Conn, close closeFunc, err error)

// ReuseConnection shares a single connection between every caller of the
// returned Connector.
// The connection is closed when the last lease is released.
func ReuseConnection(connect Connector) Connector {
	var mu sync.Mutex
	var nc *natsgo.Conn
	var closeConn closeFunc
	var leased int
	release := func() {
		mu.Lock()
		defer mu.Unlock()
		leased--
		if leased == 0 && nc != nil {
			closeConn()
			nc = nil
		}
	}
	return func() (*natsgo.Conn, closeFunc, error) {
		mu.Lock()
		defer mu.Unlock()
		if nc == nil {
			var err error
			nc, closeConn, err = connect()
			if err != nil {
				return nil, nil, err
			}
		}
		leased++
		var once sync.Once
		return nc, func() { once.Do(release) }, nil
	}
}

// ConnectURL returns a Connector dialing natsURL.
func ConnectURL(natsURL string, opts ...natsgo.Option) Connector {
	return func() (*natsgo.Conn, closeFunc, error) {
		all := append([]natsgo.Option{natsgo.MaxReconnects(-1)}, opts...)
		nc, err := natsgo.Connect(natsURL, all...)
		if err != nil {
			return nil, nil, err
		}
		return nc, func() { nc.Close() }, nil
	}
}

// ConnectDefault dials the server named by the NATS_URL environment variable
// or the default NATS URL.
func ConnectDefault() Connector {
	if natsURL := os.Getenv("NATS_URL"); natsURL != "" {
		return ConnectURL(natsURL)
	}
	return ConnectURL(natsgo.DefaultURL)
}
