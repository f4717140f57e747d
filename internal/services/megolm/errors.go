package megolm

import (
	"errors"
	"fmt"
)

// DecryptionCode classifies a failed decryption.
type DecryptionCode string

const (
	CodeUnknownSession      DecryptionCode = "UNKNOWN_INBOUND_SESSION_ID"
	CodeRoomMismatch        DecryptionCode = "INBOUND_SESSION_MISMATCH_ROOM_ID"
	CodeDuplicatedIndex     DecryptionCode = "DUPLICATED_MESSAGE_INDEX"
	CodeUnknownIndex        DecryptionCode = "UNKNOWN_MESSAGE_INDEX"
	CodeUnableToDecrypt     DecryptionCode = "UNABLE_TO_DECRYPT"
	CodeBadEncryptedMessage DecryptionCode = "BAD_ENCRYPTED_MESSAGE"
)

var (
	ErrUnknownSession         = errors.New("megolm: unknown inbound session")
	ErrRoomMismatch           = errors.New("megolm: session belongs to another room")
	ErrDuplicatedMessageIndex = errors.New("megolm: duplicated message index")
	ErrUnknownAlgorithm       = errors.New("megolm: unsupported algorithm")
	ErrSessionIDMismatch      = errors.New("megolm: session key does not match session id")
)

// DecryptionError is returned by Decrypt. Only CodeUnknownSession is worth
// retrying, after the missing key arrives.
type DecryptionError struct {
	Code   DecryptionCode
	Detail string
	Err    error
}

func (e *DecryptionError) Error() string {
	if e.Detail == "" {
		return fmt.Sprintf("decrypt: %s", e.Code)
	}
	return fmt.Sprintf("decrypt: %s: %s", e.Code, e.Detail)
}

func (e *DecryptionError) Unwrap() error { return e.Err }

// Is matches the package sentinels against the code.
func (e *DecryptionError) Is(target error) bool {
	switch target {
	case ErrUnknownSession:
		return e.Code == CodeUnknownSession
	case ErrRoomMismatch:
		return e.Code == CodeRoomMismatch
	case ErrDuplicatedMessageIndex:
		return e.Code == CodeDuplicatedIndex
	}
	return false
}

// Retryable reports whether decrypting again later may succeed.
func (e *DecryptionError) Retryable() bool { return e.Code == CodeUnknownSession }

func decryptionError(code DecryptionCode, detail string, err error) *DecryptionError {
	return &DecryptionError{Code: code, Detail: detail, Err: err}
}
