package types

// Raw key material. The wire forms are Curve25519 and Ed25519 in core.go.
type (
	X25519Public  [32]byte
	X25519Private [32]byte
	Ed25519Public [32]byte
	// Ed25519Private uses the crypto/ed25519 seed||public layout.
	Ed25519Private [64]byte
)

func (p X25519Public) Slice() []byte   { return p[:] }
func (k X25519Private) Slice() []byte  { return k[:] }
func (p Ed25519Public) Slice() []byte  { return p[:] }
func (k Ed25519Private) Slice() []byte { return k[:] }

// IsZero reports whether the key was never set.
func (p X25519Public) IsZero() bool { return p == X25519Public{} }

// IsZero reports whether the key was never set.
func (p Ed25519Public) IsZero() bool { return p == Ed25519Public{} }
