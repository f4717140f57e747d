// Package rendezvous runs the new-device side of a QR code login: it opens
// an end-to-end encrypted channel to an already signed-in device through an
// untrusted relay, obtains a login token, signs in, and cross-checks the
// verifying device's keys against the homeserver before trusting it.
//
// A ceremony is single-use. Every failure is terminal and reported as an
// *Error carrying a Reason; the channel is closed on every exit path.
package rendezvous
