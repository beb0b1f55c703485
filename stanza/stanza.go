// Copyright 2016 The Mellium Contributors.
// Use of this source code is governed by the BSD 2-clause
// license that can be found in the LICENSE file.

package stanza

import (
	"bytes"
	"encoding/xml"
	"errors"
	"fmt"
	"io"

	"mellium.im/xmppd/jid"
)

// Kind is the kind of a stanza.
type Kind uint8

// A list of stanza kinds.
const (
	MessageKind Kind = iota + 1
	PresenceKind
	IQKind
)

func (k Kind) String() string {
	switch k {
	case MessageKind:
		return "message"
	case PresenceKind:
		return "presence"
	case IQKind:
		return "iq"
	}
	return "unknown"
}

// Header contains the routing attributes shared by every stanza.
type Header struct {
	ID   string
	To   jid.JID
	From jid.JID
	Lang string
}

// Stanza is implemented by Message, Presence, and IQ.
type Stanza interface {
	// Head returns the routing attributes of the stanza.
	Head() Header

	// Kind reports which of the three stanza kinds the value is.
	Kind() Kind

	// IsError reports whether the stanza has the error type.
	IsError() bool
}

// ErrUnknownStanza is returned by Unmarshal when the root element is not a
// message, presence, or iq.
var ErrUnknownStanza = errors.New("stanza: unknown stanza element")

// Marshal returns the XML encoding of st.
func Marshal(st Stanza) ([]byte, error) {
	return xml.Marshal(st)
}

// Unmarshal decodes the first stanza found in b.
func Unmarshal(b []byte) (Stanza, error) {
	d := xml.NewDecoder(bytes.NewReader(b))
	for {
		tok, err := d.Token()
		if err != nil {
			if err == io.EOF {
				err = io.ErrUnexpectedEOF
			}
			return nil, err
		}
		start, ok := tok.(xml.StartElement)
		if !ok {
			continue
		}
		switch start.Name.Local {
		case "message":
			var m Message
			err = d.DecodeElement(&m, &start)
			return m, err
		case "presence":
			var p Presence
			err = d.DecodeElement(&p, &start)
			return p, err
		case "iq":
			var iq IQ
			err = d.DecodeElement(&iq, &start)
			return iq, err
		}
		return nil, fmt.Errorf("%w: %s", ErrUnknownStanza, start.Name.Local)
	}
}

// Bounce returns an error reply to st with the to and from attributes swapped
// and the id preserved.
func Bounce(st Stanza, e Error) Stanza {
	switch s := st.(type) {
	case Message:
		return s.ErrorReply(e)
	case *Message:
		return s.ErrorReply(e)
	case Presence:
		return s.ErrorReply(e)
	case *Presence:
		return s.ErrorReply(e)
	case IQ:
		return s.ErrorReply(e)
	case *IQ:
		return s.ErrorReply(e)
	}
	return nil
}
