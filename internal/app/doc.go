// Package app wires application dependencies for the CLI.
//
// It loads Config from the home directory, opens the sealed store and
// builds the trust store, group session manager, gossip engine and
// homeserver client, exposing them via the Wire struct for commands to use.
package app
