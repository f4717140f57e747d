package types

// TrustLevel is derived from signature chains. LocallyVerified is a manual
// override that survives recomputation; CrossSigningVerified is always
// recomputed.
type TrustLevel struct {
	LocallyVerified      bool `json:"locally_verified"`
	CrossSigningVerified bool `json:"cross_signing_verified"`
}

// TrustState is the user-facing summary of a device's trust.
type TrustState int

const (
	TrustStateBlocked TrustState = iota - 1
	TrustStateUnset
	TrustStateCrossSignedUntrusted
	TrustStateCrossSignedVerified
	TrustStateVerified
)

func (t TrustState) String() string {
	switch t {
	case TrustStateBlocked:
		return "blocked"
	case TrustStateUnset:
		return "unverified"
	case TrustStateCrossSignedUntrusted:
		return "cross-signed-untrusted"
	case TrustStateCrossSignedVerified:
		return "cross-signed-verified"
	case TrustStateVerified:
		return "verified"
	default:
		return "unknown"
	}
}
