package megolm

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/binary"
	"errors"
	"fmt"

	"cipherlink/internal/util/memzero"
)

const (
	messageVersion = 0x03
	macLength      = 8
	signatureSize  = 64

	tagIndex      = 0x08
	tagCiphertext = 0x12
)

var (
	ErrBadMessageFormat = errors.New("megolm: bad message format")
	ErrBadMessageMAC    = errors.New("megolm: bad message mac")
	ErrBadSignature     = errors.New("megolm: bad message signature")
	ErrUnknownIndex     = errors.New("megolm: message index precedes first known index")
)

type message struct {
	index      uint32
	ciphertext []byte
}

// encodePayload writes version, index and ciphertext in protobuf style.
func (m message) encodePayload() []byte {
	out := []byte{messageVersion, tagIndex}
	out = binary.AppendUvarint(out, uint64(m.index))
	out = append(out, tagCiphertext)
	out = binary.AppendUvarint(out, uint64(len(m.ciphertext)))
	return append(out, m.ciphertext...)
}

// decodeMessage splits raw into payload, mac and signature and parses the
// payload fields.
func decodeMessage(raw []byte) (msg message, payload, mac, sig []byte, err error) {
	if len(raw) < 1+macLength+signatureSize {
		return msg, nil, nil, nil, ErrBadMessageFormat
	}
	if raw[0] != messageVersion {
		return msg, nil, nil, nil, fmt.Errorf("%w: version %d", ErrBadMessageFormat, raw[0])
	}
	end := len(raw) - macLength - signatureSize
	payload, mac, sig = raw[:end], raw[end:end+macLength], raw[end+macLength:]

	var haveIndex, haveCiphertext bool
	buf := payload[1:]
	for len(buf) > 0 {
		tag := buf[0]
		buf = buf[1:]
		val, n := binary.Uvarint(buf)
		if n <= 0 {
			return msg, nil, nil, nil, ErrBadMessageFormat
		}
		buf = buf[n:]
		switch tag {
		case tagIndex:
			if val > uint64(^uint32(0)) {
				return msg, nil, nil, nil, ErrBadMessageFormat
			}
			msg.index = uint32(val)
			haveIndex = true
		case tagCiphertext:
			if val > uint64(len(buf)) {
				return msg, nil, nil, nil, ErrBadMessageFormat
			}
			msg.ciphertext = buf[:val]
			buf = buf[val:]
			haveCiphertext = true
		default:
			return msg, nil, nil, nil, fmt.Errorf("%w: unknown tag 0x%02x", ErrBadMessageFormat, tag)
		}
	}
	if !haveIndex || !haveCiphertext {
		return msg, nil, nil, nil, ErrBadMessageFormat
	}
	return msg, payload, mac, sig, nil
}

func seal(r *ratchet, plaintext []byte) (payloadAndMAC []byte, err error) {
	aesKey, macKey, iv := r.messageKeys()
	defer memzero.Zeros(aesKey, macKey)

	block, err := aes.NewCipher(aesKey)
	if err != nil {
		return nil, err
	}
	padded := pkcs7Pad(plaintext, aes.BlockSize)
	ct := make([]byte, len(padded))
	cipher.NewCBCEncrypter(block, iv).CryptBlocks(ct, padded)

	payload := message{index: r.counter, ciphertext: ct}.encodePayload()
	return append(payload, truncatedMAC(macKey, payload)...), nil
}

func open(r *ratchet, msg message, payload, mac []byte) ([]byte, error) {
	aesKey, macKey, iv := r.messageKeys()
	defer memzero.Zeros(aesKey, macKey)

	if !hmac.Equal(truncatedMAC(macKey, payload), mac) {
		return nil, ErrBadMessageMAC
	}
	if len(msg.ciphertext) == 0 || len(msg.ciphertext)%aes.BlockSize != 0 {
		return nil, ErrBadMessageFormat
	}
	block, err := aes.NewCipher(aesKey)
	if err != nil {
		return nil, err
	}
	pt := make([]byte, len(msg.ciphertext))
	cipher.NewCBCDecrypter(block, iv).CryptBlocks(pt, msg.ciphertext)
	return pkcs7Unpad(pt, aes.BlockSize)
}

func truncatedMAC(key, data []byte) []byte {
	h := hmac.New(sha256.New, key)
	h.Write(data)
	return h.Sum(nil)[:macLength]
}

func pkcs7Pad(b []byte, size int) []byte {
	n := size - len(b)%size
	return append(append([]byte(nil), b...), bytes.Repeat([]byte{byte(n)}, n)...)
}

func pkcs7Unpad(b []byte, size int) ([]byte, error) {
	if len(b) == 0 || len(b)%size != 0 {
		return nil, ErrBadMessageFormat
	}
	n := int(b[len(b)-1])
	if n == 0 || n > size || n > len(b) {
		return nil, ErrBadMessageFormat
	}
	for _, c := range b[len(b)-n:] {
		if int(c) != n {
			return nil, ErrBadMessageFormat
		}
	}
	return b[:len(b)-n], nil
}
