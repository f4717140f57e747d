package store

// Stores bundles every repository over one KV.
type Stores struct {
	Accounts     *AccountKVStore
	Devices      *DeviceKVStore
	CrossSigning *CrossSigningKVStore
	Inbound      *InboundSessionKVStore
	Outbound     *OutboundSessionKVStore
	Requests     *RequestKVStore
	Secrets      *SecretKVStore
}

// NewStores builds all repositories over kv.
func NewStores(kv KV) *Stores {
	return &Stores{
		Accounts:     NewAccountKVStore(kv),
		Devices:      NewDeviceKVStore(kv),
		CrossSigning: NewCrossSigningKVStore(kv),
		Inbound:      NewInboundSessionKVStore(kv),
		Outbound:     NewOutboundSessionKVStore(kv),
		Requests:     NewRequestKVStore(kv),
		Secrets:      NewSecretKVStore(kv),
	}
}
