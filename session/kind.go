// Copyright 2024 The Mellium Contributors.
// Use of this source code is governed by the BSD 2-clause
// license that can be found in the LICENSE file.

package session

// Kind is the kind of endpoint at the other end of a session.
type Kind uint8

// A list of session kinds.
const (
	Client Kind = iota
	OutgoingPeer
	IncomingPeer
	Component
)

func (k Kind) String() string {
	switch k {
	case Client:
		return "client"
	case OutgoingPeer:
		return "s2s-out"
	case IncomingPeer:
		return "s2s-in"
	case Component:
		return "component"
	}
	return "unknown"
}

// Status is the lifecycle state of a session.
type Status uint32

// A list of session states.
// States only ever move forward.
const (
	Connecting Status = iota
	Authenticated
	Bound
	Closed
)

func (s Status) String() string {
	switch s {
	case Connecting:
		return "connecting"
	case Authenticated:
		return "authenticated"
	case Bound:
		return "bound"
	case Closed:
		return "closed"
	}
	return "unknown"
}
