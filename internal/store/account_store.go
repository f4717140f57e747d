package store

import (
	"encoding/json"

	"cipherlink/internal/domain"
)

const (
	bucketAccount = "account"
	accountKey    = "self"
)

// AccountKVStore keeps the device identity sealed under its own passphrase,
// independent of how the underlying KV protects its data.
type AccountKVStore struct {
	kv KV
}

// NewAccountKVStore returns an AccountKVStore over kv.
func NewAccountKVStore(kv KV) *AccountKVStore { return &AccountKVStore{kv: kv} }

// SaveAccount seals and stores the account.
func (s *AccountKVStore) SaveAccount(passphrase string, account domain.Account) error {
	raw, err := json.Marshal(account)
	if err != nil {
		return err
	}
	N, r, p := scryptParamsDefault()
	sl, err := newSealer(passphrase, N, r, p)
	if err != nil {
		return err
	}
	sealed, err := sl.seal(raw)
	if err != nil {
		return err
	}
	return s.kv.Update(func(t Tx) error {
		return t.Put(bucketAccount, accountKey, sealed)
	})
}

// LoadAccount opens the stored account. ok is false when none was saved.
func (s *AccountKVStore) LoadAccount(passphrase string) (domain.Account, bool, error) {
	var sealed []byte
	_ = s.kv.View(func(t Tx) error {
		sealed, _ = t.Get(bucketAccount, accountKey)
		return nil
	})
	if sealed == nil {
		return domain.Account{}, false, nil
	}
	raw, _, err := openBlob(passphrase, sealed)
	if err != nil {
		return domain.Account{}, false, err
	}
	var account domain.Account
	if err := json.Unmarshal(raw, &account); err != nil {
		return domain.Account{}, false, err
	}
	return account, true, nil
}

// Compile-time assertion that AccountKVStore implements domain.AccountStore.
var _ domain.AccountStore = (*AccountKVStore)(nil)
