// Package commands defines the cipherlink CLI and wires dependencies for subcommands.
//
// Commands
//
//   - init              Create the device account
//   - fingerprint       Print the device fingerprint
//   - devices <user>    List a user's devices and their trust state
//   - verify            Mark a device as locally verified
//   - block / unblock   Block or unblock a device
//   - keys export       Write an encrypted room key export
//   - keys import       Import an encrypted room key export
//   - requests list     Show outgoing key and secret requests
//   - requests resend   Cancel and resend a request
//   - login <code>      Sign in this device by scanning a QR login code
//
// # Implementation
//
// The root command loads <home>/config.yaml, applies flag overrides and
// opens the sealed store before any subcommand runs, so handlers share one
// app.Wire.
package commands
