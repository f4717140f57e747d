// Package main runs the in-memory HTTP rendezvous relay used for QR login
// during development and tests.
//
// HTTP API
//
//	POST /
//	    Create a channel. 201 with Location (the channel URI) and ETag.
//
//	PUT /{id}   (If-Match: <etag>)
//	    Replace the channel payload. 202 with the new ETag, 412 if the
//	    If-Match value is stale.
//
//	GET /{id}   (If-None-Match: <etag>)
//	    Return the payload, or 304 when it has not changed.
//
//	DELETE /{id}
//	    Remove the channel.
//
// Behaviour
//
//   - All state is held in memory and lost on process exit.
//   - Channels expire --ttl after their last write; expired channels answer 404.
//   - Each request is access-logged at debug level.
//   - The default listen address is :8080.
//
// The relay only ever sees ciphertext frames of the secure channel.
package main
