package store

import (
	"cipherlink/internal/domain"
)

const bucketDevices = "devices"

// DeviceKVStore persists device identities keyed by (user, device).
type DeviceKVStore struct {
	kv KV
}

// NewDeviceKVStore returns a DeviceKVStore over kv.
func NewDeviceKVStore(kv KV) *DeviceKVStore { return &DeviceKVStore{kv: kv} }

func deviceKey(user domain.UserID, device domain.DeviceID) string {
	return compositeKey(user.String(), device.String())
}

func (s *DeviceKVStore) GetDevice(user domain.UserID, device domain.DeviceID) (*domain.Device, bool, error) {
	var d domain.Device
	var ok bool
	err := s.kv.View(func(t Tx) (err error) {
		ok, err = getJSON(t, bucketDevices, deviceKey(user, device), &d)
		return err
	})
	if err != nil || !ok {
		return nil, false, err
	}
	return &d, true, nil
}

func (s *DeviceKVStore) PutDevice(device *domain.Device) error {
	return s.kv.Update(func(t Tx) error {
		return putJSON(t, bucketDevices, deviceKey(device.UserID, device.DeviceID), device)
	})
}

// ListDevices returns the user's devices ordered by device id.
func (s *DeviceKVStore) ListDevices(user domain.UserID) ([]*domain.Device, error) {
	var out []*domain.Device
	err := s.kv.View(func(t Tx) (err error) {
		out, err = listJSON[domain.Device](t, bucketDevices, user.String()+keySep)
		return err
	})
	return out, err
}

func (s *DeviceKVStore) DeleteDevice(user domain.UserID, device domain.DeviceID) error {
	return s.kv.Update(func(t Tx) error {
		return t.Delete(bucketDevices, deviceKey(user, device))
	})
}

// Compile-time assertion that DeviceKVStore implements domain.DeviceStore.
var _ domain.DeviceStore = (*DeviceKVStore)(nil)
