package store

import "cipherlink/internal/domain"

const bucketSecrets = "secrets"

// SecretKVStore keeps secrets received from our other devices.
type SecretKVStore struct {
	kv KV
}

// NewSecretKVStore returns a SecretKVStore over kv.
func NewSecretKVStore(kv KV) *SecretKVStore { return &SecretKVStore{kv: kv} }

func (s *SecretKVStore) PutSecret(name, value string) error {
	return s.kv.Update(func(t Tx) error {
		return t.Put(bucketSecrets, name, []byte(value))
	})
}

func (s *SecretKVStore) GetSecret(name string) (string, bool, error) {
	var v []byte
	var ok bool
	err := s.kv.View(func(t Tx) error {
		v, ok = t.Get(bucketSecrets, name)
		return nil
	})
	return string(v), ok, err
}

// Compile-time assertion that SecretKVStore implements domain.SecretStore.
var _ domain.SecretStore = (*SecretKVStore)(nil)
