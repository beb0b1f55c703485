// Copyright 2016 The Mellium Contributors.
// Use of this source code is governed by the BSD 2-clause
// license that can be found in the LICENSE file.

package stanza

import (
	"encoding/xml"

	"mellium.im/xmlstream"
	"mellium.im/xmppd/internal/ns"
	"mellium.im/xmppd/jid"
)

// ErrorType is the type of an stanza error payloads.
// It should normally be one of the constants defined in this package.
type ErrorType string

const (
	// Cancel indicates that the error cannot be remedied and the operation should
	// not be retried.
	Cancel ErrorType = "cancel"

	// Auth indicates that an operation should be retried after providing
	// credentials.
	Auth ErrorType = "auth"

	// Continue indicates that the operation can proceed (the condition was only a
	// warning).
	Continue ErrorType = "continue"

	// Modify indicates that the operation can be retried after changing the data
	// sent.
	Modify ErrorType = "modify"

	// Wait is indicates that an error is temporary and may be retried.
	Wait ErrorType = "wait"
)

// Condition represents a more specific stanza error condition that can be
// encapsulated by an <error/> element.
type Condition string

// A list of stanza error conditions defined in RFC 6120 §8.3.3.
const (
	BadRequest            Condition = "bad-request"
	Conflict              Condition = "conflict"
	FeatureNotImplemented Condition = "feature-not-implemented"
	Forbidden             Condition = "forbidden"
	Gone                  Condition = "gone"
	InternalServerError   Condition = "internal-server-error"
	ItemNotFound          Condition = "item-not-found"
	JIDMalformed          Condition = "jid-malformed"
	NotAcceptable         Condition = "not-acceptable"
	NotAllowed            Condition = "not-allowed"
	NotAuthorized         Condition = "not-authorized"
	PolicyViolation       Condition = "policy-violation"
	RecipientUnavailable  Condition = "recipient-unavailable"
	Redirect              Condition = "redirect"
	RegistrationRequired  Condition = "registration-required"
	RemoteServerNotFound  Condition = "remote-server-not-found"
	RemoteServerTimeout   Condition = "remote-server-timeout"
	ResourceConstraint    Condition = "resource-constraint"

	// ServiceUnavailable is also returned in place of ItemNotFound or
	// RecipientUnavailable whenever the latter would leak the recipient's
	// network availability to an entity not authorized to know it.
	ServiceUnavailable   Condition = "service-unavailable"
	SubscriptionRequired Condition = "subscription-required"
	UndefinedCondition   Condition = "undefined-condition"
	UnexpectedRequest    Condition = "unexpected-request"
)

// DefaultType returns the error type that RFC 6120 associates with c.
func (c Condition) DefaultType() ErrorType {
	switch c {
	case BadRequest, JIDMalformed, NotAcceptable, PolicyViolation, Redirect:
		return Modify
	case Forbidden, NotAuthorized, RegistrationRequired, SubscriptionRequired:
		return Auth
	case RecipientUnavailable, RemoteServerTimeout, ResourceConstraint, UnexpectedRequest:
		return Wait
	}
	return Cancel
}

// Error is an implementation of error intended to be marshalable and
// unmarshalable as XML.
type Error struct {
	XMLName   xml.Name
	By        jid.JID
	Type      ErrorType
	Condition Condition
	Lang      string
	Text      string
}

// NewError returns an Error with the condition c and its default type.
func NewError(c Condition) Error {
	return Error{Type: c.DefaultType(), Condition: c}
}

// Error satisfies the error interface by returning the text if set, or the
// condition otherwise.
func (se Error) Error() string {
	if se.Text != "" {
		return se.Text
	}
	return string(se.Condition)
}

// TokenReader satisfies the xmlstream.Marshaler interface for Error.
func (se Error) TokenReader() xml.TokenReader {
	start := xml.StartElement{
		Name: xml.Name{Space: ``, Local: "error"},
		Attr: []xml.Attr{},
	}
	if string(se.Type) != "" {
		start.Attr = append(start.Attr, xml.Attr{Name: xml.Name{Local: "type"}, Value: string(se.Type)})
	}
	a, err := se.By.MarshalXMLAttr(xml.Name{Space: "", Local: "by"})
	if err == nil && a.Value != "" {
		start.Attr = append(start.Attr, a)
	}

	inner := []xml.TokenReader{
		xmlstream.Wrap(
			nil,
			xml.StartElement{
				Name: xml.Name{Space: ns.Stanza, Local: string(se.Condition)},
			},
		),
	}
	if se.Text != "" {
		var attrs []xml.Attr
		// xml:lang attribute is optional, don't include it if it's empty.
		if se.Lang != "" {
			attrs = []xml.Attr{{
				Name:  xml.Name{Space: ns.XML, Local: "lang"},
				Value: se.Lang,
			}}
		}
		inner = append(inner, xmlstream.Wrap(
			xmlstream.Token(xml.CharData(se.Text)),
			xml.StartElement{
				Name: xml.Name{Space: ns.Stanza, Local: "text"},
				Attr: attrs,
			},
		))
	}

	return xmlstream.Wrap(
		xmlstream.MultiReader(inner...),
		start,
	)
}

// WriteXML satisfies the xmlstream.WriterTo interface.
// It is like MarshalXML except it writes tokens to w.
func (se Error) WriteXML(w xmlstream.TokenWriter) (n int, err error) {
	return xmlstream.Copy(w, se.TokenReader())
}

// MarshalXML satisfies the xml.Marshaler interface for Error.
func (se Error) MarshalXML(e *xml.Encoder, _ xml.StartElement) error {
	_, err := se.WriteXML(e)
	return err
}

// UnmarshalXML satisfies the xml.Unmarshaler interface for Error.
// If more than one text element is present the one matching se.Lang is kept,
// falling back to the first.
func (se *Error) UnmarshalXML(d *xml.Decoder, start xml.StartElement) error {
	decoded := struct {
		Conditions []struct {
			XMLName xml.Name
		} `xml:",any"`
		Type ErrorType `xml:"type,attr"`
		By   jid.JID   `xml:"by,attr"`
		Text []struct {
			Lang string `xml:"http://www.w3.org/XML/1998/namespace lang,attr"`
			Data string `xml:",chardata"`
		} `xml:"urn:ietf:params:xml:ns:xmpp-stanzas text"`
	}{}
	if err := d.DecodeElement(&decoded, &start); err != nil {
		return err
	}
	se.XMLName = start.Name
	se.Type = decoded.Type
	se.By = decoded.By
	for _, c := range decoded.Conditions {
		if c.XMLName.Space == ns.Stanza {
			se.Condition = Condition(c.XMLName.Local)
			break
		}
	}

	want := se.Lang
	se.Text, se.Lang = "", ""
	for _, text := range decoded.Text {
		if text.Data == "" {
			continue
		}
		if se.Text == "" || (want != "" && text.Lang == want) {
			se.Text = text.Data
			se.Lang = text.Lang
		}
	}
	return nil
}
