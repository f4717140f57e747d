// Package domain defines the data models and contracts shared by cipherlink's
// services: identifiers, device and cross-signing keys, group sessions, key
// requests and the to-device payloads that carry them.
//
// Plain types live in types/, interfaces in interfaces/; this package
// re-exports both for compact imports.
package domain
