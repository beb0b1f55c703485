// Copyright 2014 The Mellium Contributors.
// Use of this source code is governed by the BSD 2-clause
// license that can be found in the LICENSE file.

package jid

import (
	"bytes"
	"encoding/xml"
	"net"
	"strconv"
	"strings"
	"unicode/utf8"

	"golang.org/x/net/idna"
	"golang.org/x/text/secure/precis"
)

// JID represents an XMPP address (Jabber ID) comprising a localpart,
// domainpart, and resourcepart. All parts of a JID are guaranteed to be valid
// UTF-8 and will be represented in their canonical form which gives comparison
// the greatest chance of succeeding.
//
// JID is a comparable value type: two JIDs are equal if and only if == reports
// them as equal, which makes them usable as map keys.
// The zero value is the empty address and is never the result of a successful
// parse.
type JID struct {
	locallen  int
	domainlen int
	data      string
}

// InvalidAddressError is returned when a string or a set of parts cannot be
// turned into a valid JID.
type InvalidAddressError struct {
	Addr   string
	Reason string
}

func (e *InvalidAddressError) Error() string {
	if e.Addr == "" {
		return "jid: invalid address: " + e.Reason
	}
	return "jid: invalid address " + strconv.Quote(e.Addr) + ": " + e.Reason
}

func invalid(addr, reason string) error {
	return &InvalidAddressError{Addr: addr, Reason: reason}
}

// Parse constructs a new JID from the given string representation.
func Parse(s string) (JID, error) {
	localpart, domainpart, resourcepart, err := SplitString(s)
	if err != nil {
		return JID{}, err
	}
	j, err := New(localpart, domainpart, resourcepart)
	if err != nil {
		if e, ok := err.(*InvalidAddressError); ok && e.Addr == "" {
			e.Addr = s
		}
		return JID{}, err
	}
	return j, nil
}

// MustParse is like Parse but panics if the JID cannot be parsed.
// It simplifies safe initialization of JIDs from known-good constant strings.
func MustParse(s string) JID {
	j, err := Parse(s)
	if err != nil {
		if strconv.CanBackquote(s) {
			s = "`" + s + "`"
		} else {
			s = strconv.Quote(s)
		}
		panic(`jid: Parse(` + s + `): ` + err.Error())
	}
	return j
}

// New constructs a new JID from the given localpart, domainpart, and
// resourcepart.
func New(localpart, domainpart, resourcepart string) (JID, error) {
	// Ensure that parts are valid UTF-8 (and short circuit the rest of the
	// process if they're not). We'll check the domainpart after performing
	// the IDNA ToUnicode operation.
	if !utf8.ValidString(localpart) || !utf8.ValidString(resourcepart) {
		return JID{}, invalid("", "contains invalid UTF-8")
	}

	// RFC 7622 §3.2.1.  Preparation
	//
	//    An entity that prepares a string for inclusion in an XMPP domainpart
	//    slot MUST ensure that the string consists only of Unicode code points
	//    that are allowed in NR-LDH labels or U-labels as defined in
	//    [RFC5890].  This implies that the string MUST NOT include A-labels as
	//    defined in [RFC5890]; each A-label MUST be converted to a U-label
	//    during preparation of a string for inclusion in a domainpart slot.
	//
	// IPv6 literals are not labels and are left alone.
	if !isIP6Literal(domainpart) {
		var err error
		domainpart, err = idna.ToUnicode(domainpart)
		if err != nil {
			return JID{}, invalid("", err.Error())
		}
		domainpart = strings.ToLower(domainpart)
	}

	if !utf8.ValidString(domainpart) {
		return JID{}, invalid("", "domainpart contains invalid UTF-8")
	}

	var (
		lenlocal int
		err      error
	)
	data := make([]byte, 0, len(localpart)+len(domainpart)+len(resourcepart))

	if localpart != "" {
		data, err = precis.UsernameCaseMapped.Append(data, []byte(localpart))
		if err != nil {
			return JID{}, invalid("", "localpart: "+err.Error())
		}
		lenlocal = len(data)
	}

	data = append(data, domainpart...)

	if resourcepart != "" {
		data, err = precis.OpaqueString.Append(data, []byte(resourcepart))
		if err != nil {
			return JID{}, invalid("", "resourcepart: "+err.Error())
		}
	}

	if err := commonChecks(data[:lenlocal], domainpart, data[lenlocal+len(domainpart):]); err != nil {
		return JID{}, err
	}

	return JID{
		locallen:  lenlocal,
		domainlen: len(domainpart),
		data:      string(data),
	}, nil
}

// WithResource returns a copy of the JID with a new resourcepart.
// This elides validation of the localpart and domainpart.
func (j JID) WithResource(resourcepart string) (JID, error) {
	bare := j.Bare()
	if resourcepart == "" {
		return bare, nil
	}
	if !utf8.ValidString(resourcepart) {
		return JID{}, invalid("", "contains invalid UTF-8")
	}
	data, err := precis.OpaqueString.Append([]byte(bare.data), []byte(resourcepart))
	if err != nil {
		return JID{}, invalid("", "resourcepart: "+err.Error())
	}
	if len(data)-len(bare.data) > 1023 {
		return JID{}, invalid("", "the resourcepart must be smaller than 1024 bytes")
	}
	bare.data = string(data)
	return bare, nil
}

// Bare returns a copy of the JID without a resourcepart. This is sometimes
// called a "bare" JID.
func (j JID) Bare() JID {
	return JID{
		locallen:  j.locallen,
		domainlen: j.domainlen,
		data:      j.data[:j.domainlen+j.locallen],
	}
}

// Domain returns a copy of the JID without a resourcepart or localpart.
func (j JID) Domain() JID {
	return JID{
		domainlen: j.domainlen,
		data:      j.data[j.locallen : j.domainlen+j.locallen],
	}
}

// Localpart gets the localpart of a JID (eg "username").
func (j JID) Localpart() string {
	return j.data[:j.locallen]
}

// Domainpart gets the domainpart of a JID (eg. "example.net").
func (j JID) Domainpart() string {
	return j.data[j.locallen : j.locallen+j.domainlen]
}

// Resourcepart gets the resourcepart of a JID.
func (j JID) Resourcepart() string {
	return j.data[j.locallen+j.domainlen:]
}

// IsZero reports whether j is the empty address.
func (j JID) IsZero() bool {
	return j.domainlen == 0
}

// IsBare reports whether j has a localpart and no resourcepart.
func (j JID) IsBare() bool {
	return j.locallen > 0 && len(j.data) == j.locallen+j.domainlen
}

// IsDomain reports whether j consists of nothing but a domainpart.
func (j JID) IsDomain() bool {
	return j.domainlen > 0 && len(j.data) == j.domainlen
}

// Network satisfies the net.Addr interface by returning the name of the network
// ("xmpp").
func (JID) Network() string {
	return "xmpp"
}

// String converts an JID to its string representation.
func (j JID) String() string {
	s := j.Domainpart()
	if j.locallen > 0 {
		s = j.data[:j.locallen] + "@" + s
	}
	if rp := j.Resourcepart(); rp != "" {
		s = s + "/" + rp
	}
	return s
}

// Equal performs an octet-for-octet comparison with the given JID.
func (j JID) Equal(j2 JID) bool {
	return j == j2
}

// BareEqual reports whether j and j2 have the same localpart and domainpart,
// ignoring any resourcepart.
func (j JID) BareEqual(j2 JID) bool {
	return j.Bare() == j2.Bare()
}

// MarshalXML satisfies the xml.Marshaler interface and marshals the JID as
// XML chardata.
func (j JID) MarshalXML(e *xml.Encoder, start xml.StartElement) (err error) {
	if err = e.EncodeToken(start); err != nil {
		return
	}
	if err = e.EncodeToken(xml.CharData(j.String())); err != nil {
		return
	}
	return e.EncodeToken(start.End())
}

// UnmarshalXML satisfies the xml.Unmarshaler interface and unmarshals the JID
// from the elements chardata.
func (j *JID) UnmarshalXML(d *xml.Decoder, start xml.StartElement) error {
	data := struct {
		CharData string `xml:",chardata"`
	}{}
	if err := d.DecodeElement(&data, &start); err != nil {
		return err
	}
	j2, err := Parse(data.CharData)
	if err != nil {
		return err
	}
	*j = j2
	return nil
}

// MarshalXMLAttr satisfies the xml.MarshalerAttr interface and marshals the JID
// as an XML attribute.
// The zero JID produces no attribute.
func (j JID) MarshalXMLAttr(name xml.Name) (xml.Attr, error) {
	if j.IsZero() {
		return xml.Attr{}, nil
	}
	return xml.Attr{Name: name, Value: j.String()}, nil
}

// UnmarshalXMLAttr satisfies the xml.UnmarshalerAttr interface and unmarshals
// an XML attribute into a valid JID (or returns an error).
func (j *JID) UnmarshalXMLAttr(attr xml.Attr) error {
	if attr.Value == "" {
		*j = JID{}
		return nil
	}
	j2, err := Parse(attr.Value)
	if err != nil {
		return err
	}
	*j = j2
	return nil
}

// MarshalText satisfies encoding.TextMarshaler.
func (j JID) MarshalText() ([]byte, error) {
	return []byte(j.String()), nil
}

// UnmarshalText satisfies encoding.TextUnmarshaler.
func (j *JID) UnmarshalText(text []byte) error {
	if len(text) == 0 {
		*j = JID{}
		return nil
	}
	j2, err := Parse(string(text))
	if err != nil {
		return err
	}
	*j = j2
	return nil
}

// SplitString splits out the localpart, domainpart, and resourcepart from a
// string representation of a JID. The parts are not guaranteed to be valid, and
// each part must be 1023 bytes or less.
func SplitString(s string) (localpart, domainpart, resourcepart string, err error) {

	// RFC 7622 §3.1.  Fundamentals:
	//
	//    Implementation Note: When dividing a JID into its component parts,
	//    an implementation needs to match the separator characters '@' and
	//    '/' before applying any transformation algorithms, which might
	//    decompose certain Unicode code points to the separator characters.
	//
	// so let's do that now. First we'll parse the domainpart using the rules
	// defined in §3.2:
	//
	//    The domainpart of a JID is the portion that remains once the
	//    following parsing steps are taken:
	//
	//    1.  Remove any portion from the first '/' character to the end of the
	//        string (if there is a '/' character present).
	sep := strings.Index(s, "/")

	if sep != -1 {
		// If the resource part exists, make sure it isn't empty.
		if sep == len(s)-1 {
			err = invalid(s, "the resourcepart must be larger than 0 bytes")
			return
		}
		resourcepart = s[sep+1:]
		s = s[:sep]
	}

	//    2.  Remove any portion from the beginning of the string to the first
	//        '@' character (if there is an '@' character present).

	sep = strings.Index(s, "@")

	switch sep {
	case -1:
		// There is no @ sign, and therefore no localpart.
		domainpart = s
	case 0:
		// The JID starts with an @ sign (invalid empty localpart)
		err = invalid(s, "the localpart must be larger than 0 bytes")
		return
	default:
		domainpart = s[sep+1:]
		localpart = s[:sep]
	}

	// We'll throw out any trailing dots on domainparts, since they're ignored:
	//
	//    If the domainpart includes a final character considered to be a label
	//    separator (dot) by [RFC1034], this character MUST be stripped from
	//    the domainpart before the JID of which it is a part is used for the
	//    purpose of routing an XML stanza, comparing against another JID, or
	//    constructing an XMPP URI or IRI [RFC5122].  In particular, such a
	//    character MUST be stripped before any other canonicalization steps
	//    are taken.

	domainpart = strings.TrimSuffix(domainpart, ".")
	if domainpart == "" {
		err = invalid(s, "the domainpart is missing")
	}

	return
}

func isIP6Literal(domainpart string) bool {
	return len(domainpart) > 2 && strings.HasPrefix(domainpart, "[") &&
		strings.HasSuffix(domainpart, "]")
}

func checkIP6String(domainpart string) error {
	// If the domainpart is a valid IPv6 address (with brackets), short circuit.
	if l := len(domainpart); isIP6Literal(domainpart) {
		if ip := net.ParseIP(domainpart[1 : l-1]); ip == nil || ip.To4() != nil {
			return invalid("", "domainpart is not a valid IPv6 address")
		}
	}
	return nil
}

func commonChecks(localpart []byte, domainpart string, resourcepart []byte) error {
	l := len(localpart)
	if l > 1023 {
		return invalid("", "the localpart must be smaller than 1024 bytes")
	}

	// RFC 7622 §3.3.1 provides a small table of characters which are still not
	// allowed in localpart's even though the IdentifierClass base class and the
	// UsernameCaseMapped profile don't forbid them; disallow them here.
	if bytes.ContainsAny(localpart, `"&'/:<>@`) {
		return invalid("", "localpart contains forbidden characters")
	}

	l = len(resourcepart)
	if l > 1023 {
		return invalid("", "the resourcepart must be smaller than 1024 bytes")
	}

	l = len(domainpart)
	if l < 1 || l > 1023 {
		return invalid("", "the domainpart must be between 1 and 1023 bytes")
	}

	if strings.ContainsAny(domainpart, `@/ "&'<>`) ||
		(!isIP6Literal(domainpart) && strings.ContainsAny(domainpart, "[]")) {
		return invalid("", "domainpart contains forbidden characters")
	}

	return checkIP6String(domainpart)
}
