package store

import (
	"sort"

	"cipherlink/internal/domain"
)

const bucketRequests = "outgoing_requests"

// RequestKVStore persists the outgoing key and secret request table.
type RequestKVStore struct {
	kv KV
}

// NewRequestKVStore returns a RequestKVStore over kv.
func NewRequestKVStore(kv KV) *RequestKVStore { return &RequestKVStore{kv: kv} }

func (s *RequestKVStore) GetOutgoingRequest(requestID string) (*domain.OutgoingKeyRequest, bool, error) {
	var req domain.OutgoingKeyRequest
	var ok bool
	err := s.kv.View(func(t Tx) (err error) {
		ok, err = getJSON(t, bucketRequests, requestID, &req)
		return err
	})
	if err != nil || !ok {
		return nil, false, err
	}
	return &req, true, nil
}

func (s *RequestKVStore) PutOutgoingRequest(request *domain.OutgoingKeyRequest) error {
	return s.kv.Update(func(t Tx) error {
		return putJSON(t, bucketRequests, request.RequestID, request)
	})
}

func (s *RequestKVStore) DeleteOutgoingRequest(requestID string) error {
	return s.kv.Update(func(t Tx) error {
		return t.Delete(bucketRequests, requestID)
	})
}

// ListOutgoingRequests returns all requests ordered by creation time.
func (s *RequestKVStore) ListOutgoingRequests() ([]*domain.OutgoingKeyRequest, error) {
	var out []*domain.OutgoingKeyRequest
	err := s.kv.View(func(t Tx) (err error) {
		out, err = listJSON[domain.OutgoingKeyRequest](t, bucketRequests, "")
		return err
	})
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, err
}

// Compile-time assertion that RequestKVStore implements domain.OutgoingRequestStore.
var _ domain.OutgoingRequestStore = (*RequestKVStore)(nil)
