// Package megolm is the group session manager. It owns inbound and outbound
// Megolm session lifecycle: decrypting room events with replay detection,
// encrypting with per-room rotation, sharing room keys, and importing or
// exporting session keys.
//
// Message-index consumption is serialized per (sender key, session id);
// different sessions proceed concurrently.
package megolm
