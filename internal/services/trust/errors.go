package trust

import "errors"

var (
	// ErrSignatureMismatch is returned when a signature does not verify or a
	// presented key differs from the stored one.
	ErrSignatureMismatch = errors.New("trust: signature mismatch")
	// ErrMissingSignature is returned when a required signature is absent.
	// It also matches ErrSignatureMismatch.
	ErrMissingSignature error = missingSignatureError{}
	// ErrDeviceKeysChanged is returned when a known device reappears with
	// different keys. The stored identity is kept.
	ErrDeviceKeysChanged = errors.New("trust: device keys changed")
	// ErrInvalidDeviceKeys is returned for malformed device key uploads.
	ErrInvalidDeviceKeys = errors.New("trust: invalid device keys")
	// ErrInvalidCrossSigningKey is returned for malformed cross-signing keys.
	ErrInvalidCrossSigningKey = errors.New("trust: invalid cross-signing key")
	// ErrUnknownDevice is returned for operations on a device we have no record of.
	ErrUnknownDevice = errors.New("trust: unknown device")
	// ErrUnknownMasterKey is returned when a user's master key is required but unknown.
	ErrUnknownMasterKey = errors.New("trust: unknown master key")
)

type missingSignatureError struct{}

func (missingSignatureError) Error() string { return "trust: missing signature" }

func (missingSignatureError) Is(target error) bool { return target == ErrSignatureMismatch }
