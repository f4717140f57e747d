// Package memzero wipes key material once it is no longer needed.
package memzero

import "runtime"

// Zero overwrites b with zeros.
func Zero(b []byte) {
	clear(b)
	runtime.KeepAlive(b)
}

// Zeros wipes every buffer in bufs.
func Zeros(bufs ...[]byte) {
	for _, b := range bufs {
		Zero(b)
	}
}
