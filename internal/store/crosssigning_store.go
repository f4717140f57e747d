package store

import (
	"cipherlink/internal/domain"
)

const bucketCrossSigning = "cross_signing"

// CrossSigningKVStore persists one authoritative key per (user, usage).
type CrossSigningKVStore struct {
	kv KV
}

// NewCrossSigningKVStore returns a CrossSigningKVStore over kv.
func NewCrossSigningKVStore(kv KV) *CrossSigningKVStore { return &CrossSigningKVStore{kv: kv} }

func (s *CrossSigningKVStore) GetCrossSigningKey(
	user domain.UserID,
	usage domain.KeyUsage,
) (*domain.CrossSigningRecord, bool, error) {
	var rec domain.CrossSigningRecord
	var ok bool
	err := s.kv.View(func(t Tx) (err error) {
		ok, err = getJSON(t, bucketCrossSigning, compositeKey(user.String(), string(usage)), &rec)
		return err
	})
	if err != nil || !ok {
		return nil, false, err
	}
	return &rec, true, nil
}

// PutCrossSigningKey stores record under its user and primary usage.
func (s *CrossSigningKVStore) PutCrossSigningKey(record *domain.CrossSigningRecord) error {
	key := compositeKey(record.Key.UserID.String(), string(record.Key.PrimaryUsage()))
	return s.kv.Update(func(t Tx) error {
		return putJSON(t, bucketCrossSigning, key, record)
	})
}

// Compile-time assertion that CrossSigningKVStore implements domain.CrossSigningStore.
var _ domain.CrossSigningStore = (*CrossSigningKVStore)(nil)
