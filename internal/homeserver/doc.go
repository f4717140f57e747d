// Package homeserver is a minimal client-server API client covering the
// calls the crypto core makes: login flows, token login, keys/query and
// sendToDevice.
//
// Non-2xx responses are returned as *Error carrying the Matrix errcode.
package homeserver
