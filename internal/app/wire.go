package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/rs/zerolog"

	"cipherlink/internal/domain"
	"cipherlink/internal/events"
	"cipherlink/internal/homeserver"
	"cipherlink/internal/relay"
	accountsvc "cipherlink/internal/services/account"
	gossipsvc "cipherlink/internal/services/gossip"
	megolmsvc "cipherlink/internal/services/megolm"
	"cipherlink/internal/services/rendezvous"
	trustsvc "cipherlink/internal/services/trust"
	"cipherlink/internal/store"
)

// Wire bundles all stores, services, and clients for the CLI. The services
// are nil until an account exists; see Ready.
type Wire struct {
	Config   Config
	Store    *store.FileKV
	Stores   *store.Stores
	Bus      *events.Bus
	Accounts *accountsvc.Service
	HTTP     *http.Client

	Account    domain.Account
	Homeserver *homeserver.Client
	Trust      *trustsvc.Service
	Megolm     *megolmsvc.Service
	Gossip     *gossipsvc.Engine

	passphrase string
	log        zerolog.Logger
}

// NewWire opens the sealed store under cfg.Home and, when an account is
// stored, builds the crypto services for it.
func NewWire(cfg Config, passphrase string, log zerolog.Logger) (*Wire, error) {
	kv, err := store.OpenFileKV(cfg.StorePath(), passphrase)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	stores := store.NewStores(kv)
	w := &Wire{
		Config:     cfg,
		Store:      kv,
		Stores:     stores,
		Bus:        events.NewBus(),
		Accounts:   accountsvc.New(stores.Accounts),
		HTTP:       cfg.httpClient(),
		passphrase: passphrase,
		log:        log,
	}
	acct, err := w.Accounts.LoadAccount(passphrase)
	switch {
	case errors.Is(err, accountsvc.ErrNoAccount):
		return w, nil
	case err != nil:
		return nil, err
	}
	if err := w.build(acct); err != nil {
		return nil, err
	}
	return w, nil
}

// Ready reports whether the crypto services are available.
func (w *Wire) Ready() bool { return w.Gossip != nil }

// RequireAccount returns accountsvc.ErrNoAccount until an account exists.
func (w *Wire) RequireAccount() error {
	if !w.Ready() {
		return accountsvc.ErrNoAccount
	}
	return nil
}

// CreateAccount generates the identity for (user, device), records our own
// device as verified in the trust store and builds the services.
func (w *Wire) CreateAccount(user domain.UserID, device domain.DeviceID) (domain.Fingerprint, error) {
	acct, fp, err := w.Accounts.CreateAccount(w.passphrase, user, device)
	if err != nil {
		return "", err
	}
	if err := w.build(acct); err != nil {
		return "", err
	}
	keys, err := w.Accounts.DeviceKeys(acct)
	if err != nil {
		return "", err
	}
	if _, err := w.Trust.UpsertDevice(keys); err != nil {
		return "", fmt.Errorf("record own device: %w", err)
	}
	if err := w.Trust.SetDeviceVerification(domain.TrustLevel{LocallyVerified: true}, user, device); err != nil {
		return "", err
	}
	return fp, nil
}

func (w *Wire) build(acct domain.Account) error {
	cfg := w.Config
	w.Account = acct
	w.Homeserver = homeserver.New(cfg.HomeserverURL, cfg.AccessToken, w.log)
	w.Homeserver.HTTP = w.HTTP

	w.Trust = trustsvc.New(acct.UserID, w.Stores.Devices, w.Stores.CrossSigning, w.Bus, w.log)
	w.Megolm = megolmsvc.New(acct, w.Stores.Inbound, w.Stores.Outbound, w.Homeserver, w.Bus, w.log,
		megolmsvc.WithRotation(megolmsvc.RotationPolicy{
			Period:   cfg.Megolm.RotationPeriod,
			Messages: cfg.Megolm.RotationMessages,
		}))
	if w.Gossip != nil {
		w.Gossip.Close()
	}
	w.Gossip = gossipsvc.New(acct.UserID, acct.DeviceID, w.Stores.Requests, w.Trust, w.Megolm,
		w.Stores.Secrets, w.Homeserver, w.Bus, w.log, gossipsvc.Config{
			RatePerSecond: cfg.Gossip.Rate,
			Burst:         cfg.Gossip.Burst,
		})
	w.Megolm.SetKeyRequester(w.Gossip)
	return nil
}

// ForgetDevice removes a device record and drops every inbound session it
// sent. It returns the number of sessions dropped.
func (w *Wire) ForgetDevice(user domain.UserID, device domain.DeviceID) (int, error) {
	if err := w.RequireAccount(); err != nil {
		return 0, err
	}
	if user == w.Account.UserID && device == w.Account.DeviceID {
		return 0, errors.New("cannot forget this device")
	}
	dev, err := w.Trust.RemoveDevice(user, device)
	if err != nil {
		return 0, err
	}
	identity := dev.IdentityKey()
	if identity == "" {
		return 0, nil
	}
	return w.Megolm.ForgetDevice(identity)
}

// SyncKeys refreshes the stored device and cross-signing keys of users.
func (w *Wire) SyncKeys(ctx context.Context, users ...domain.UserID) error {
	if err := w.RequireAccount(); err != nil {
		return err
	}
	resp, err := w.Homeserver.QueryKeys(ctx, users)
	if err != nil {
		return err
	}
	return w.Trust.ApplyKeysQuery(resp)
}

// Ceremony builds the new-device side of the QR login. A successful login
// creates the account for the returned credentials and records them in
// Config; the caller saves it.
func (w *Wire) Ceremony(deviceName string, confirm func(ctx context.Context, checksum string) error) *rendezvous.Ceremony {
	login := homeserver.New(w.Config.HomeserverURL, "", w.log)
	login.HTTP = w.HTTP
	return rendezvous.New(login, w.onLogin, w.log, rendezvous.Options{
		ReceiveTimeout:  w.Config.Rendezvous.ReceiveTimeout,
		DeviceName:      deviceName,
		ConfirmChecksum: confirm,
	})
}

func (w *Wire) onLogin(_ context.Context, creds domain.Credentials) (*rendezvous.LoggedIn, error) {
	if w.Ready() {
		return nil, accountsvc.ErrAccountExists
	}
	w.Config.HomeserverURL = creds.HomeserverURL
	w.Config.UserID = creds.UserID
	w.Config.DeviceID = creds.DeviceID
	w.Config.AccessToken = creds.AccessToken
	if _, err := w.CreateAccount(creds.UserID, creds.DeviceID); err != nil {
		return nil, err
	}
	return &rendezvous.LoggedIn{
		Fingerprint: w.Megolm.SigningKey(),
		Trust:       w.Trust,
		Keys:        w.Homeserver,
		Secrets:     w.Gossip,
	}, nil
}

// OpenScanner connects to the rendezvous named by code.
func (w *Wire) OpenScanner(ctx context.Context, code *rendezvous.Code) (rendezvous.Transport, error) {
	return relay.OpenScanner(ctx, code, w.HTTP, w.Config.Rendezvous.PollInterval)
}
