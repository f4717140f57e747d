// Package gossip is the key gossip engine. It issues, tracks, cancels and
// answers requests for missing room keys and secrets across the local user's
// own devices.
//
// Outgoing requests move through a fixed state machine (see Transition).
// The request table is guarded by a single mutex held for each whole
// read-modify-write, including the to-device sends it triggers, so every
// operation on a request observes a total order.
//
// Withheld replies are recorded and never retried automatically; Resend is
// the only way to ask again.
package gossip
