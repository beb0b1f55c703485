// Copyright 2016 Sam Whited.
// Use of this source code is governed by the BSD 2-clause license that can be
// found in the LICENSE file.

// Package internal holds helpers shared by the session, cluster and server
// packages.
package internal // import "mellium.im/xmppd/internal"

import (
	gonanoid "github.com/matoous/go-nanoid/v2"
)

// IDLen is the length of identifiers handed out to sessions and stanzas.
const IDLen = 16

const idAlphabet = "0123456789abcdefghijklmnopqrstuvwxyz"

// RandomID generates a new random identifier of the given length. If the OS's
// entropy pool isn't initialized, or we can't generate random numbers for some
// other reason, panic.
func RandomID(n int) string {
	if n <= 0 {
		return ""
	}
	id, err := gonanoid.Generate(idAlphabet, n)
	if err != nil {
		panic(err)
	}
	return id
}
