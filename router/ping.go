// Copyright 2017 The Mellium Contributors.
// Use of this source code is governed by the BSD 2-clause
// license that can be found in the LICENSE file.

package router

import (
	"context"
	"encoding/xml"

	"mellium.im/xmppd/internal/ns"
	"mellium.im/xmppd/stanza"
)

var pingName = xml.Name{Space: ns.Ping, Local: "ping"}

// Ping answers XEP-0199: XMPP Ping requests addressed to the server.
var Ping IQHandler = IQHandlerFunc(func(_ context.Context, iq stanza.IQ) (stanza.IQ, error) {
	return iq.Result(), nil
})
