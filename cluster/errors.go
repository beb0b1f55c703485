// Copyright 2024 The Mellium Contributors.
// Use of this source code is governed by the BSD 2-clause
// license that can be found in the LICENSE file.

package cluster

import (
	"errors"
	"fmt"
)

var (
	// Transport errors
	ErrTransportClosed = errors.New("cluster: transport closed")
	ErrNoSubscriber    = errors.New("cluster: no subscriber for node")

	// Dispatch errors
	ErrTimeout     = errors.New("cluster: dispatch timed out")
	ErrUnknownNode = errors.New("cluster: unknown or departed node")
)

// DeliveryError is returned by a Dispatcher when a task could not be executed
// on the target node.
type DeliveryError struct {
	Node NodeID
	Kind TaskKind
	Err  error
}

func (e *DeliveryError) Error() string {
	return fmt.Sprintf("cluster: %s to node %s failed: %v", e.Kind, e.Node, e.Err)
}

func (e *DeliveryError) Unwrap() error {
	return e.Err
}

// RemoteError carries an error returned by the executor of another node.
type RemoteError struct {
	Message string
}

func (e *RemoteError) Error() string {
	return "cluster: remote: " + e.Message
}
