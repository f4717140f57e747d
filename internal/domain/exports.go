package domain

import (
	interfaces "cipherlink/internal/domain/interfaces"
	types "cipherlink/internal/domain/types"
)

// Type aliases expose domain types from the types subpackage for compact imports.
type (
	UserID                  = types.UserID
	DeviceID                = types.DeviceID
	RoomID                  = types.RoomID
	SessionID               = types.SessionID
	Curve25519              = types.Curve25519
	Ed25519                 = types.Ed25519
	Fingerprint             = types.Fingerprint
	Algorithm               = types.Algorithm
	KeyAlgorithm            = types.KeyAlgorithm
	KeyID                   = types.KeyID
	Signatures              = types.Signatures
	X25519Public            = types.X25519Public
	X25519Private           = types.X25519Private
	Ed25519Public           = types.Ed25519Public
	Ed25519Private          = types.Ed25519Private
	Account                 = types.Account
	Device                  = types.Device
	DeviceKeysJSON          = types.DeviceKeysJSON
	TrustLevel              = types.TrustLevel
	TrustState              = types.TrustState
	KeyUsage                = types.KeyUsage
	CrossSigningKey         = types.CrossSigningKey
	CrossSigningRecord      = types.CrossSigningRecord
	CrossSigningKeys        = types.CrossSigningKeys
	KeysQueryResponse       = types.KeysQueryResponse
	InboundGroupSession     = types.InboundGroupSession
	OutboundGroupSession    = types.OutboundGroupSession
	ExportedSession         = types.ExportedSession
	EncryptedEvent          = types.EncryptedEvent
	PlainEvent              = types.PlainEvent
	OutgoingRequestState    = types.OutgoingRequestState
	OutgoingKeyRequest      = types.OutgoingKeyRequest
	RequestKind             = types.RequestKind
	RequestReply            = types.RequestReply
	RequestResult           = types.RequestResult
	WithheldCode            = types.WithheldCode
	RoomKeyContent          = types.RoomKeyContent
	RequestedKeyInfo        = types.RequestedKeyInfo
	RoomKeyRequestContent   = types.RoomKeyRequestContent
	ForwardedRoomKeyContent = types.ForwardedRoomKeyContent
	WithheldContent         = types.WithheldContent
	SecretRequestContent    = types.SecretRequestContent
	SecretSendContent       = types.SecretSendContent
	ToDeviceEvent           = types.ToDeviceEvent
)

// Interface aliases expose domain interfaces from the interfaces subpackage.
type (
	AccountStore         = interfaces.AccountStore
	AccountService       = interfaces.AccountService
	DeviceStore          = interfaces.DeviceStore
	CrossSigningStore    = interfaces.CrossSigningStore
	InboundSessionStore  = interfaces.InboundSessionStore
	OutboundSessionStore = interfaces.OutboundSessionStore
	OutgoingRequestStore = interfaces.OutgoingRequestStore
	SecretStore          = interfaces.SecretStore
	ToDeviceSender       = interfaces.ToDeviceSender
	KeyQuerier           = interfaces.KeyQuerier
	LoginFlow            = interfaces.LoginFlow
	Credentials          = interfaces.Credentials
	LoginClient          = interfaces.LoginClient
	TrustService         = interfaces.TrustService
	GroupSessionService  = interfaces.GroupSessionService
	KeyRequester         = interfaces.KeyRequester
	SecretRequester      = interfaces.SecretRequester
)

// Constant re-exports for packages that only import domain.
const (
	AlgorithmOlmV1    = types.AlgorithmOlmV1
	AlgorithmMegolmV1 = types.AlgorithmMegolmV1

	KeyAlgorithmEd25519    = types.KeyAlgorithmEd25519
	KeyAlgorithmCurve25519 = types.KeyAlgorithmCurve25519

	UsageMaster      = types.UsageMaster
	UsageSelfSigning = types.UsageSelfSigning
	UsageUserSigning = types.UsageUserSigning

	TrustStateBlocked              = types.TrustStateBlocked
	TrustStateUnset                = types.TrustStateUnset
	TrustStateCrossSignedUntrusted = types.TrustStateCrossSignedUntrusted
	TrustStateCrossSignedVerified  = types.TrustStateCrossSignedVerified
	TrustStateVerified             = types.TrustStateVerified

	RequestUnsent                           = types.RequestUnsent
	RequestSent                             = types.RequestSent
	RequestSentThenCanceled                 = types.RequestSentThenCanceled
	RequestCancellationPending              = types.RequestCancellationPending
	RequestCancellationPendingAndWillResend = types.RequestCancellationPendingAndWillResend

	WithheldBlacklisted  = types.WithheldBlacklisted
	WithheldUnverified   = types.WithheldUnverified
	WithheldUnauthorised = types.WithheldUnauthorised
	WithheldUnavailable  = types.WithheldUnavailable
	WithheldNoOlm        = types.WithheldNoOlm

	KindRoomKey = types.KindRoomKey
	KindSecret  = types.KindSecret

	EventRoomKey          = types.EventRoomKey
	EventForwardedRoomKey = types.EventForwardedRoomKey
	EventRoomKeyRequest   = types.EventRoomKeyRequest
	EventRoomKeyWithheld  = types.EventRoomKeyWithheld
	EventSecretRequest    = types.EventSecretRequest
	EventSecretSend       = types.EventSecretSend

	ActionRequest             = types.ActionRequest
	ActionRequestCancellation = types.ActionRequestCancellation

	SecretCrossSigningMaster      = types.SecretCrossSigningMaster
	SecretCrossSigningSelfSigning = types.SecretCrossSigningSelfSigning
	SecretCrossSigningUserSigning = types.SecretCrossSigningUserSigning
	SecretMegolmBackup            = types.SecretMegolmBackup
)

// Function re-exports.
var (
	NewKeyID      = types.NewKeyID
	PendingStates = types.PendingStates
)
