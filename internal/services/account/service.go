package account

import (
	"errors"
	"fmt"
	"unicode"

	"cipherlink/internal/crypto"
	"cipherlink/internal/domain"
)

const (
	// minPassphraseLength defines the minimum number of characters required for a passphrase.
	minPassphraseLength = 12
)

var (
	// ErrWeakPassphrase is returned when the passphrase fails the strength policy.
	ErrWeakPassphrase = fmt.Errorf(
		"passphrase is too weak (must be at least %d characters and include upper, lower, "+
			"number, and symbol)",
		minPassphraseLength,
	)
	// ErrNoAccount is returned by LoadAccount before CreateAccount was run.
	ErrNoAccount = errors.New("account: not initialised")
	// ErrAccountExists is returned by CreateAccount when an account is already stored.
	ErrAccountExists = errors.New("account: already initialised")
)

// Service manages the device account using a backing store.
//
// The account contains:
//   - Curve25519 identity key pair, published as curve25519:<device>.
//   - Ed25519 key pair, published as ed25519:<device> and used to sign
//     the device key upload.
type Service struct {
	store domain.AccountStore
}

// New returns an account service backed by the given store.
func New(s domain.AccountStore) *Service { return &Service{store: s} }

// CreateAccount generates a new identity for (user, device), saves it sealed
// with the passphrase, and returns it with the fingerprint of the Ed25519 key.
func (s *Service) CreateAccount(
	passphrase string,
	user domain.UserID,
	device domain.DeviceID,
) (domain.Account, domain.Fingerprint, error) {
	if !isSecurePassphrase(passphrase) {
		return domain.Account{}, "", ErrWeakPassphrase
	}
	if user == "" || device == "" {
		return domain.Account{}, "", errors.New("account: user and device id are required")
	}
	if _, ok, err := s.store.LoadAccount(passphrase); err != nil {
		return domain.Account{}, "", err
	} else if ok {
		return domain.Account{}, "", ErrAccountExists
	}

	identityPrivateKey, identityPublicKey, err := crypto.GenerateX25519()
	if err != nil {
		return domain.Account{}, "", err
	}
	signingPrivateKey, signingPublicKey, err := crypto.GenerateEd25519()
	if err != nil {
		return domain.Account{}, "", err
	}

	acct := domain.Account{
		UserID:   user,
		DeviceID: device,
		XPub:     identityPublicKey,
		XPriv:    identityPrivateKey,
		EdPub:    signingPublicKey,
		EdPriv:   signingPrivateKey,
	}
	if err := s.store.SaveAccount(passphrase, acct); err != nil {
		return domain.Account{}, "", err
	}
	return acct, Fingerprint(acct), nil
}

// LoadAccount unseals and returns the device account.
func (s *Service) LoadAccount(passphrase string) (domain.Account, error) {
	acct, ok, err := s.store.LoadAccount(passphrase)
	if err != nil {
		return domain.Account{}, err
	}
	if !ok {
		return domain.Account{}, ErrNoAccount
	}
	if acct.XPub.IsZero() || acct.EdPub.IsZero() {
		return domain.Account{}, errors.New("account: stored identity has no keys")
	}
	return acct, nil
}

// DeviceKeys returns the self-signed device key upload for account.
func (s *Service) DeviceKeys(acct domain.Account) (domain.DeviceKeysJSON, error) {
	signingKeyID := domain.NewKeyID(domain.KeyAlgorithmEd25519, acct.DeviceID.String())
	keys := domain.DeviceKeysJSON{
		UserID:     acct.UserID,
		DeviceID:   acct.DeviceID,
		Algorithms: []domain.Algorithm{domain.AlgorithmOlmV1, domain.AlgorithmMegolmV1},
		Keys: map[domain.KeyID]string{
			signingKeyID: crypto.EncodeEd25519(acct.EdPub).String(),
			domain.NewKeyID(domain.KeyAlgorithmCurve25519, acct.DeviceID.String()): crypto.EncodeCurve25519(acct.XPub).String(),
		},
	}
	sig, err := crypto.SignJSON(acct.EdPriv, keys)
	if err != nil {
		return domain.DeviceKeysJSON{}, err
	}
	keys.Signatures = domain.Signatures{}
	keys.Signatures.Add(acct.UserID, signingKeyID, sig)
	return keys, nil
}

// Fingerprint returns the display fingerprint of the account's Ed25519 key.
func Fingerprint(acct domain.Account) domain.Fingerprint {
	return crypto.Fingerprint(crypto.EncodeEd25519(acct.EdPub))
}

// isSecurePassphrase enforces a basic strength policy.
func isSecurePassphrase(passphrase string) bool {
	var hasUpper, hasLower, hasDigit, hasSymbol bool
	if len(passphrase) < minPassphraseLength {
		return false
	}
	for _, r := range passphrase {
		switch {
		case unicode.IsUpper(r):
			hasUpper = true
		case unicode.IsLower(r):
			hasLower = true
		case unicode.IsDigit(r):
			hasDigit = true
		case unicode.IsPunct(r), unicode.IsSymbol(r):
			hasSymbol = true
		}
	}
	return hasUpper && hasLower && hasDigit && hasSymbol
}

// Compile-time assertion that Service implements domain.AccountService.
var _ domain.AccountService = (*Service)(nil)
