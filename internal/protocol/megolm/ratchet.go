package megolm

import (
	"crypto/hmac"
	"crypto/sha256"
	"io"

	"golang.org/x/crypto/hkdf"
)

const (
	ratchetParts      = 4
	ratchetPartLength = 32
	ratchetLength     = ratchetParts * ratchetPartLength

	aesKeyLength = 32
	macKeyLength = 32
	ivLength     = 16
)

var partSeeds = [ratchetParts][]byte{{0x00}, {0x01}, {0x02}, {0x03}}

type ratchet struct {
	data    [ratchetLength]byte
	counter uint32
}

func (r *ratchet) part(i int) []byte {
	return r.data[i*ratchetPartLength : (i+1)*ratchetPartLength]
}

// rehashPart sets R(to) = HMAC(R(from), seed(to)).
func (r *ratchet) rehashPart(from, to int) {
	mac := hmac.New(sha256.New, r.part(from))
	mac.Write(partSeeds[to])
	copy(r.part(to), mac.Sum(nil))
}

// advance moves the ratchet forward by one message.
func (r *ratchet) advance() {
	mask := uint32(0x00ffffff)
	h := 0
	r.counter++
	for h < ratchetParts {
		if r.counter&mask == 0 {
			break
		}
		h++
		mask >>= 8
	}
	for i := ratchetParts - 1; i >= h; i-- {
		r.rehashPart(h, i)
	}
}

// advanceTo moves the ratchet forward to target. Moving backwards wraps
// around the 32-bit counter; callers reject that before calling.
func (r *ratchet) advanceTo(target uint32) {
	for j := 0; j < ratchetParts; j++ {
		shift := uint((ratchetParts - j - 1) * 8)
		mask := ^uint32(0) << shift
		steps := ((target >> shift) - (r.counter >> shift)) & 0xff
		if steps == 0 {
			continue
		}
		// All but the last step only bump R(j).
		for ; steps > 1; steps-- {
			r.rehashPart(j, j)
		}
		// The last step also resets R(j+1)..R(3).
		for k := ratchetParts - 1; k >= j; k-- {
			r.rehashPart(j, k)
		}
		r.counter = target & mask
	}
}

// messageKeys derives the AES key, HMAC key and IV for the current index.
func (r *ratchet) messageKeys() (aesKey, macKey, iv []byte) {
	kdf := hkdf.New(sha256.New, r.data[:], nil, []byte("MEGOLM_KEYS"))
	out := make([]byte, aesKeyLength+macKeyLength+ivLength)
	_, _ = io.ReadFull(kdf, out)
	return out[:aesKeyLength], out[aesKeyLength : aesKeyLength+macKeyLength], out[aesKeyLength+macKeyLength:]
}
