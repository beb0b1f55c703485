// Copyright 2024 The Mellium Contributors.
// Use of this source code is governed by the BSD 2-clause
// license that can be found in the LICENSE file.

package cluster

import (
	"encoding/json"
	"fmt"

	"mellium.im/xmppd/jid"
	"mellium.im/xmppd/stanza"
)

// TaskKind is the kind of work a Task asks a node to perform.
type TaskKind string

// A list of task kinds.
const (
	// TaskDeliver asks the node to deliver Stanza to the local session that
	// Target resolves to on that node.
	TaskDeliver TaskKind = "deliver"

	// TaskRouteAdd tells the node that Target is now reachable through Origin.
	TaskRouteAdd TaskKind = "route.add"

	// TaskRouteRemove tells the node that Target is no longer reachable through
	// Origin.
	TaskRouteRemove TaskKind = "route.remove"
)

// Task is a unit of work executed on exactly one node at most once.
type Task struct {
	Kind     TaskKind `json:"kind"`
	Origin   NodeID   `json:"origin"`
	Target   jid.JID  `json:"target"`
	Stanza   []byte   `json:"stanza,omitempty"`
	Priority int      `json:"priority,omitempty"`
}

// DeliverTask returns a TaskDeliver for st addressed to to.
func DeliverTask(to jid.JID, st stanza.Stanza) (Task, error) {
	b, err := stanza.Marshal(st)
	if err != nil {
		return Task{}, fmt.Errorf("cluster: encode stanza: %w", err)
	}
	return Task{Kind: TaskDeliver, Target: to, Stanza: b}, nil
}

// DecodeStanza decodes the stanza carried by a TaskDeliver.
func (t Task) DecodeStanza() (stanza.Stanza, error) {
	return stanza.Unmarshal(t.Stanza)
}

func encodeTask(t Task) ([]byte, error) {
	return json.Marshal(t)
}

func decodeTask(b []byte) (Task, error) {
	var t Task
	err := json.Unmarshal(b, &t)
	return t, err
}
