// Copyright 2021 The Mellium Contributors.
// Use of this source code is governed by the BSD 2-clause
// license that can be found in the LICENSE file.

package stanza

import (
	"encoding/xml"
	"time"

	"mellium.im/xmlstream"
	"mellium.im/xmppd/internal/ns"
	"mellium.im/xmppd/jid"
)

// Delay can be added to a stanza to indicate that stanza delivery was delayed,
// for example when a message is handed out of offline storage (XEP-0203).
type Delay struct {
	From   jid.JID
	Stamp  time.Time
	Reason string
}

// TokenReader satisfies the xmlstream.Marshaler interface.
func (d Delay) TokenReader() xml.TokenReader {
	attr := []xml.Attr{
		{Name: xml.Name{Local: "stamp"}, Value: d.Stamp.UTC().Format(time.RFC3339Nano)},
	}
	if !d.From.IsZero() {
		attr = append(attr, xml.Attr{Name: xml.Name{Local: "from"}, Value: d.From.String()})
	}
	var inner xml.TokenReader
	if d.Reason != "" {
		inner = xmlstream.Token(xml.CharData(d.Reason))
	}
	return xmlstream.Wrap(inner, xml.StartElement{
		Name: xml.Name{Space: ns.Delay, Local: "delay"},
		Attr: attr,
	})
}

// WriteXML satisfies the xmlstream.WriterTo interface.
// It is like MarshalXML except it writes tokens to w.
func (d Delay) WriteXML(w xmlstream.TokenWriter) (n int, err error) {
	return xmlstream.Copy(w, d.TokenReader())
}

// MarshalXML implements xml.Marshaler.
func (d Delay) MarshalXML(e *xml.Encoder, _ xml.StartElement) error {
	_, err := d.WriteXML(e)
	return err
}

// UnmarshalXML implements xml.Unmarshaler.
func (d *Delay) UnmarshalXML(dec *xml.Decoder, start xml.StartElement) error {
	decoded := struct {
		From   jid.JID `xml:"from,attr"`
		Stamp  string  `xml:"stamp,attr"`
		Reason string  `xml:",chardata"`
	}{}
	if err := dec.DecodeElement(&decoded, &start); err != nil {
		return err
	}
	stamp, err := time.Parse(time.RFC3339Nano, decoded.Stamp)
	if err != nil {
		return err
	}
	d.From = decoded.From
	d.Stamp = stamp
	d.Reason = decoded.Reason
	return nil
}
