// Package relay carries rendezvous frames between two devices.
//
// The devices never trust the relay: everything they exchange through it is
// already end-to-end encrypted by the rendezvous secure channel. Two
// transports are provided:
//
//   - HTTPTransport speaks the MSC3886 simple rendezvous protocol against
//     an HTTP relay such as Server. A channel is a single slot created with
//     POST, written with PUT (If-Match), polled with GET (If-None-Match)
//     and removed with DELETE. 404 and 410 mean the channel expired.
//   - QUICTransport connects the two devices directly. The device that
//     shows the code listens; the scanner dials. Frames are length-prefixed
//     on a single bidirectional stream.
//
// Server is the in-memory HTTP relay used by cmd/rendezvous-relay.
package relay
