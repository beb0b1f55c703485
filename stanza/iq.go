// Copyright 2016 Sam Whited.
// Use of this source code is governed by the BSD 2-clause license that can be
// found in the LICENSE file.

package stanza

import (
	"encoding/xml"

	"mellium.im/xmppd/jid"
)

// IQ ("Information Query") is used as a general request response mechanism.
// IQ's are one-to-one, provide get and set semantics, and always require a
// response in the form of a result or an error.
type IQ struct {
	XMLName xml.Name `xml:"iq"`
	ID      string   `xml:"id,attr"`
	To      jid.JID  `xml:"to,attr"`
	From    jid.JID  `xml:"from,attr"`
	Lang    string   `xml:"http://www.w3.org/XML/1998/namespace lang,attr,omitempty"`
	Type    IQType   `xml:"type,attr"`
	Error   *Error   `xml:"error,omitempty"`
	Payload Elements `xml:",any"`
}

// Head satisfies the Stanza interface.
func (iq IQ) Head() Header {
	return Header{ID: iq.ID, To: iq.To, From: iq.From, Lang: iq.Lang}
}

// Kind satisfies the Stanza interface.
func (IQ) Kind() Kind {
	return IQKind
}

// IsError reports whether the IQ has the error type.
func (iq IQ) IsError() bool {
	return iq.Type == ErrorIQ
}

// IsResponse reports whether the IQ is a result or an error, neither of which
// may be answered.
func (iq IQ) IsResponse() bool {
	return iq.Type == ResultIQ || iq.Type == ErrorIQ
}

// Result returns a result IQ addressed back to the sender with the same id.
func (iq IQ) Result(payload ...Element) IQ {
	return IQ{
		XMLName: iq.XMLName,
		ID:      iq.ID,
		To:      iq.From,
		From:    iq.To,
		Lang:    iq.Lang,
		Type:    ResultIQ,
		Payload: payload,
	}
}

// ErrorReply returns an error IQ addressed back to the sender with the same
// id. The original payload is kept.
func (iq IQ) ErrorReply(e Error) IQ {
	iq.To, iq.From = iq.From, iq.To
	iq.Type = ErrorIQ
	iq.Error = &e
	return iq
}

// IQType is the type of an IQ stanza.
// It should normally be one of the constants defined in this package.
type IQType string

const (
	// GetIQ is used to query another entity for information.
	GetIQ IQType = "get"

	// SetIQ is used to provide data to another entity, set new values, and
	// replace existing values.
	SetIQ IQType = "set"

	// ResultIQ is sent in response to a successful get or set IQ.
	ResultIQ IQType = "result"

	// ErrorIQ is sent to report that an error occurred during the delivery or
	// processing of a get or set IQ.
	ErrorIQ IQType = "error"
)

// MarshalText ensures that the zero value for IQType is marshaled to XML as a
// valid IQ get request.
// It satisfies the encoding.TextMarshaler interface for IQType.
func (t IQType) MarshalText() ([]byte, error) {
	if t == "" {
		t = GetIQ
	}
	return []byte(t), nil
}
