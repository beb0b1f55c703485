// Copyright 2016 The Mellium Contributors.
// Use of this source code is governed by the BSD 2-clause
// license that can be found in the LICENSE file.

package stanza

import (
	"encoding/xml"

	"mellium.im/xmppd/jid"
)

// Message is an XMPP stanza that contains a payload for direct one-to-one
// communication with another network entity. It is often used for sending chat
// messages to an individual or group chat server, or for notifications and
// alerts that don't require a response.
type Message struct {
	XMLName xml.Name    `xml:"message"`
	ID      string      `xml:"id,attr,omitempty"`
	To      jid.JID     `xml:"to,attr"`
	From    jid.JID     `xml:"from,attr"`
	Lang    string      `xml:"http://www.w3.org/XML/1998/namespace lang,attr,omitempty"`
	Type    MessageType `xml:"type,attr,omitempty"`
	Subject string      `xml:"subject,omitempty"`
	Body    string      `xml:"body,omitempty"`
	Thread  string      `xml:"thread,omitempty"`
	Delay   *Delay      `xml:"urn:xmpp:delay delay,omitempty"`
	Error   *Error      `xml:"error,omitempty"`
	Payload Elements    `xml:",any"`
}

// Head satisfies the Stanza interface.
func (m Message) Head() Header {
	return Header{ID: m.ID, To: m.To, From: m.From, Lang: m.Lang}
}

// Kind satisfies the Stanza interface.
func (Message) Kind() Kind {
	return MessageKind
}

// IsError reports whether the message has the error type.
func (m Message) IsError() bool {
	return m.Type == ErrorMessage
}

// EffectiveType returns the message type, treating a missing type as normal.
func (m Message) EffectiveType() MessageType {
	if m.Type == "" {
		return NormalMessage
	}
	return m.Type
}

// ErrorReply returns a copy of the message of type error addressed back to
// the sender.
func (m Message) ErrorReply(e Error) Message {
	m.To, m.From = m.From, m.To
	m.Type = ErrorMessage
	m.Error = &e
	return m
}

// MessageType is the type of a message stanza.
// It should normally be one of the constants defined in this package.
type MessageType string

const (
	// NormalMessage is a standalone message that is sent outside the context of a
	// one-to-one conversation or groupchat, and to which it is expected that the
	// recipient will reply. Typically a receiving client will present a message
	// of type "normal" in an interface that enables the recipient to reply, but
	// without a conversation history.
	NormalMessage MessageType = "normal"

	// ChatMessage represents a message sent in the context of a one-to-one chat
	// session.  Typically an interactive client will present a message of type
	// "chat" in an interface that enables one-to-one chat between the two
	// parties, including an appropriate conversation history.
	ChatMessage MessageType = "chat"

	// ErrorMessage is generated by an entity that experiences an error when
	// processing a message received from another entity.
	ErrorMessage MessageType = "error"

	// GroupChatMessage is sent in the context of a multi-user chat environment.
	// Typically a receiving client will present a message of type "groupchat" in
	// an interface that enables many-to-many chat between the parties, including
	// a roster of parties in the chatroom and an appropriate conversation
	// history.
	GroupChatMessage MessageType = "groupchat"

	// HeadlineMessage provides an alert, a notification, or other transient
	// information to which no reply is expected (e.g., news headlines, sports
	// updates, near-real-time market data, or syndicated content). Because no
	// reply to the message is expected, typically a receiving client will present
	// a message of type "headline" in an interface that appropriately
	// differentiates the message from standalone messages, chat messages, and
	// groupchat messages (e.g., by not providing the recipient with the ability
	// to reply).
	HeadlineMessage MessageType = "headline"
)
