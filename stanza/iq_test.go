// Copyright 2016 The Mellium Contributors.
// Use of this source code is governed by the BSD 2-clause
// license that can be found in the LICENSE file.

package stanza_test

import (
	"bytes"
	"encoding"
	"encoding/xml"
	"fmt"
	"testing"

	"mellium.im/xmppd/internal/ns"
	"mellium.im/xmppd/jid"
	"mellium.im/xmppd/stanza"
)

var _ encoding.TextMarshaler = stanza.IQType("")

func TestMarshalIQTypeAttr(t *testing.T) {
	for i, tc := range [...]struct {
		iqtype stanza.IQType
		value  string
	}{
		0: {stanza.IQType(""), "get"},
		1: {stanza.GetIQ, "get"},
		2: {stanza.SetIQ, "set"},
		3: {stanza.ResultIQ, "result"},
		4: {stanza.ErrorIQ, "error"},
	} {
		t.Run(fmt.Sprintf("%d", i), func(t *testing.T) {
			b, err := xml.Marshal(stanza.IQ{Type: tc.iqtype})
			if err != nil {
				t.Fatal("Got unexpected error while marshaling IQ:", err)
			}

			if err == nil && !bytes.Contains(b, []byte(fmt.Sprintf(`type="%s"`, tc.value))) {
				t.Errorf(`Expected output to contain type="%s", found: %s`, tc.value, b)
			}
		})
	}
}

func TestUnmarshalIQTypeAttr(t *testing.T) {
	for i, tc := range [...]struct {
		iq     string
		iqtype stanza.IQType
	}{
		0: {`<iq/>`, stanza.IQType("")},
		1: {`<iq type=""/>`, stanza.IQType("")},
		2: {`<iq type="get"/>`, stanza.GetIQ},
		3: {`<iq type="error"/>`, stanza.ErrorIQ},
		4: {`<iq type="result"/>`, stanza.ResultIQ},
		5: {`<iq type="set"/>`, stanza.SetIQ},
	} {
		t.Run(fmt.Sprintf("%d", i), func(t *testing.T) {
			iq := stanza.IQ{}
			switch err := xml.Unmarshal([]byte(tc.iq), &iq); {
			case err != nil:
				t.Errorf("Got unexpected error while unmarshaling IQ: %v", err)
			case tc.iqtype != iq.Type:
				t.Errorf("Wrong type when unmarshaling IQ: want=%s, got=%s", tc.iqtype, iq.Type)
			}
		})
	}
}

func TestIQResult(t *testing.T) {
	iq := stanza.IQ{
		ID:   "123",
		To:   jid.MustParse("to@example.net"),
		From: jid.MustParse("from@example.net"),
		Type: stanza.SetIQ,
	}
	reply := iq.Result(stanza.Element{XMLName: xml.Name{Local: "foo"}})

	b, err := xml.Marshal(reply)
	if err != nil {
		t.Fatal(err)
	}
	const expected = `<iq id="123" to="from@example.net" from="to@example.net" type="result"><foo></foo></iq>`
	if out := string(b); out != expected {
		t.Errorf("want=%q, got=%q", expected, out)
	}
}

func TestIQErrorReply(t *testing.T) {
	ping := stanza.Element{XMLName: xml.Name{Space: ns.Ping, Local: "ping"}}
	iq := stanza.IQ{
		ID:      "123",
		To:      jid.MustParse("to@example.net/a"),
		From:    jid.MustParse("from@example.net/b"),
		Type:    stanza.GetIQ,
		Payload: stanza.Elements{ping},
	}
	reply := iq.ErrorReply(stanza.NewError(stanza.ServiceUnavailable))
	switch {
	case reply.ID != iq.ID:
		t.Errorf("wrong id: want=%q, got=%q", iq.ID, reply.ID)
	case reply.To != iq.From || reply.From != iq.To:
		t.Errorf("addresses not swapped: to=%s from=%s", reply.To, reply.From)
	case reply.Type != stanza.ErrorIQ:
		t.Errorf("wrong type: %s", reply.Type)
	case reply.Error == nil || reply.Error.Condition != stanza.ServiceUnavailable:
		t.Errorf("wrong error: %+v", reply.Error)
	case !reply.Payload.Has(ns.Ping, "ping"):
		t.Errorf("payload should be kept")
	case iq.Error != nil || iq.Type != stanza.GetIQ:
		t.Errorf("original IQ was mutated")
	}
	if !reply.IsResponse() || iq.IsResponse() {
		t.Errorf("IsResponse mismatch")
	}
}
