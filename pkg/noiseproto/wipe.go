// Copyright 2026 Jeremy Hahn
// SPDX-License-Identifier: MIT

package noiseproto

import "github.com/flynn/noise"

// WipeBytes zeros b in place. The garbage collector may already have copied
// the contents elsewhere.
func WipeBytes(b []byte) {
	clear(b)
}

// WipeDHKey zeros both halves of a key.
func WipeDHKey(key *noise.DHKey) {
	if key == nil {
		return
	}
	WipeBytes(key.Private)
	WipeBytes(key.Public)
}
