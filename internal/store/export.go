package store

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"crypto/sha512"
	"encoding/base64"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/crypto/pbkdf2"

	"cipherlink/internal/domain"
	"cipherlink/internal/util/memzero"
)

const (
	exportHeader  = "-----BEGIN MEGOLM SESSION DATA-----"
	exportFooter  = "-----END MEGOLM SESSION DATA-----"
	exportVersion = 0x01
	exportLine    = 76

	// DefaultExportRounds is the PBKDF2 iteration count for new exports.
	DefaultExportRounds = 500000
)

// ErrBadExport is returned for export files that are not well formed.
var ErrBadExport = errors.New("store: malformed key export")

// EncryptExport serializes sessions and protects them with password in the
// armored Megolm session data format.
func EncryptExport(sessions []domain.ExportedSession, password string, rounds int) ([]byte, error) {
	if rounds <= 0 {
		rounds = DefaultExportRounds
	}
	if sessions == nil {
		sessions = []domain.ExportedSession{}
	}
	plain, err := json.Marshal(sessions)
	if err != nil {
		return nil, err
	}

	var salt, iv [16]byte
	if _, err := rand.Read(salt[:]); err != nil {
		return nil, err
	}
	if _, err := rand.Read(iv[:]); err != nil {
		return nil, err
	}
	// Clear bit 63 so the CTR counter cannot wrap for any realistic length.
	iv[8] &= 0x7f

	aesKey, macKey := exportKeys(password, salt[:], rounds)
	defer memzero.Zeros(aesKey, macKey)

	block, err := aes.NewCipher(aesKey)
	if err != nil {
		return nil, err
	}
	ct := make([]byte, len(plain))
	cipher.NewCTR(block, iv[:]).XORKeyStream(ct, plain)

	var body bytes.Buffer
	body.WriteByte(exportVersion)
	body.Write(salt[:])
	body.Write(iv[:])
	_ = binary.Write(&body, binary.BigEndian, uint32(rounds))
	body.Write(ct)
	mac := hmac.New(sha256.New, macKey)
	mac.Write(body.Bytes())
	body.Write(mac.Sum(nil))

	enc := base64.StdEncoding.EncodeToString(body.Bytes())
	var out strings.Builder
	out.WriteString(exportHeader + "\n")
	for len(enc) > exportLine {
		out.WriteString(enc[:exportLine] + "\n")
		enc = enc[exportLine:]
	}
	out.WriteString(enc + "\n")
	out.WriteString(exportFooter + "\n")
	return []byte(out.String()), nil
}

// DecryptExport reverses EncryptExport. A wrong password yields
// ErrWrongPassphrase.
func DecryptExport(data []byte, password string) ([]domain.ExportedSession, error) {
	text := strings.TrimSpace(string(data))
	start := strings.Index(text, exportHeader)
	end := strings.Index(text, exportFooter)
	if start < 0 || end < start {
		return nil, fmt.Errorf("%w: missing armor", ErrBadExport)
	}
	armored := strings.Join(strings.Fields(text[start+len(exportHeader):end]), "")
	raw, err := base64.RawStdEncoding.DecodeString(strings.TrimRight(armored, "="))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadExport, err)
	}

	const fixed = 1 + 16 + 16 + 4
	if len(raw) < fixed+sha256.Size {
		return nil, fmt.Errorf("%w: too short", ErrBadExport)
	}
	if raw[0] != exportVersion {
		return nil, fmt.Errorf("%w: unsupported version %d", ErrBadExport, raw[0])
	}
	salt := raw[1:17]
	iv := raw[17:33]
	rounds := binary.BigEndian.Uint32(raw[33:37])
	if rounds == 0 {
		return nil, fmt.Errorf("%w: zero rounds", ErrBadExport)
	}
	body, sum := raw[:len(raw)-sha256.Size], raw[len(raw)-sha256.Size:]

	aesKey, macKey := exportKeys(password, salt, int(rounds))
	defer memzero.Zeros(aesKey, macKey)

	mac := hmac.New(sha256.New, macKey)
	mac.Write(body)
	if !hmac.Equal(mac.Sum(nil), sum) {
		return nil, ErrWrongPassphrase
	}

	block, err := aes.NewCipher(aesKey)
	if err != nil {
		return nil, err
	}
	ct := body[fixed:]
	plain := make([]byte, len(ct))
	cipher.NewCTR(block, iv).XORKeyStream(plain, ct)

	var sessions []domain.ExportedSession
	if err := json.Unmarshal(plain, &sessions); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadExport, err)
	}
	return sessions, nil
}

func exportKeys(password string, salt []byte, rounds int) (aesKey, macKey []byte) {
	k := pbkdf2.Key([]byte(password), salt, rounds, 64, sha512.New)
	return k[:32], k[32:]
}
