// Copyright 2021 The Mellium Contributors.
// Use of this source code is governed by the BSD 2-clause
// license that can be found in the LICENSE file.

package stanza

import (
	"encoding/xml"
)

// Element is an extension payload carried by a stanza as raw XML.
type Element struct {
	XMLName xml.Name
	Attr    []xml.Attr `xml:",any,attr"`
	Inner   []byte     `xml:",innerxml"`
}

// UnmarshalXML satisfies the xml.Unmarshaler interface for Element.
// Namespace declarations are not kept as attributes because the namespace is
// already recorded in XMLName and would otherwise be written twice.
func (e *Element) UnmarshalXML(d *xml.Decoder, start xml.StartElement) error {
	inner := struct {
		Inner []byte `xml:",innerxml"`
	}{}
	if err := d.DecodeElement(&inner, &start); err != nil {
		return err
	}
	e.XMLName = start.Name
	e.Attr = nil
	for _, a := range start.Attr {
		if a.Name.Space == "xmlns" || (a.Name.Space == "" && a.Name.Local == "xmlns") {
			continue
		}
		e.Attr = append(e.Attr, a)
	}
	e.Inner = inner.Inner
	return nil
}

// Elements is a list of payload elements.
type Elements []Element

// Find returns the first element with the given namespace and local name.
// An empty local name matches any element in the namespace.
func (p Elements) Find(space, local string) (Element, bool) {
	for _, e := range p {
		if e.XMLName.Space == space && (local == "" || e.XMLName.Local == local) {
			return e, true
		}
	}
	return Element{}, false
}

// Has reports whether any element with the given namespace and local name is
// present.
func (p Elements) Has(space, local string) bool {
	_, ok := p.Find(space, local)
	return ok
}

// OnlyNS reports whether p is non-empty and every element is in the given
// namespace.
func (p Elements) OnlyNS(space string) bool {
	if len(p) == 0 {
		return false
	}
	for _, e := range p {
		if e.XMLName.Space != space {
			return false
		}
	}
	return true
}
