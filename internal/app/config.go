package app

import (
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"cipherlink/internal/domain"
	"cipherlink/internal/services/gossip"
	"cipherlink/internal/services/megolm"
	"cipherlink/internal/services/rendezvous"
	"cipherlink/internal/store"
)

const (
	configFile = "config.yaml"

	minReceiveTimeout = 30 * time.Second
	maxReceiveTimeout = 60 * time.Second
)

// Config holds runtime wiring options for building the app.
type Config struct {
	Home          string          `yaml:"-"` // config directory, e.g. $HOME/.cipherlink
	HomeserverURL string          `yaml:"homeserver_url,omitempty"`
	UserID        domain.UserID   `yaml:"user_id,omitempty"`
	DeviceID      domain.DeviceID `yaml:"device_id,omitempty"`
	AccessToken   string          `yaml:"access_token,omitempty"`

	Rendezvous RendezvousConfig `yaml:"rendezvous"`
	Megolm     MegolmConfig     `yaml:"megolm"`
	Gossip     GossipConfig     `yaml:"gossip"`

	HTTP *http.Client `yaml:"-"` // optional; defaults to http.DefaultClient
}

// RendezvousConfig tunes the QR login ceremony.
type RendezvousConfig struct {
	ReceiveTimeout time.Duration `yaml:"receive_timeout"`
	PollInterval   time.Duration `yaml:"poll_interval"`
}

// MegolmConfig is the outbound session rotation policy.
type MegolmConfig struct {
	RotationPeriod   time.Duration `yaml:"rotation_period"`
	RotationMessages int           `yaml:"rotation_messages"`
}

// GossipConfig throttles incoming key and secret requests per device.
type GossipConfig struct {
	Rate  float64 `yaml:"rate"`
	Burst int     `yaml:"burst"`
}

// DefaultConfig returns the configuration used when home has no config file.
func DefaultConfig(home string) Config {
	return Config{
		Home: home,
		Rendezvous: RendezvousConfig{
			ReceiveTimeout: rendezvous.DefaultReceiveTimeout,
			PollInterval:   time.Second,
		},
		Megolm: MegolmConfig{
			RotationPeriod:   megolm.DefaultRotation.Period,
			RotationMessages: megolm.DefaultRotation.Messages,
		},
		Gossip: GossipConfig{
			Rate:  gossip.DefaultConfig.RatePerSecond,
			Burst: gossip.DefaultConfig.Burst,
		},
	}
}

// LoadConfig reads <home>/config.yaml over the defaults. A missing file is
// not an error. The result is clamped and validated.
func LoadConfig(home string) (Config, error) {
	cfg := DefaultConfig(home)
	raw, err := os.ReadFile(filepath.Join(home, configFile))
	switch {
	case errors.Is(err, os.ErrNotExist):
	case err != nil:
		return Config{}, err
	default:
		if err := yaml.Unmarshal(raw, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse %s: %w", configFile, err)
		}
		cfg.Home = home
	}
	cfg.clamp()
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Save writes cfg to <home>/config.yaml.
func (c Config) Save() error {
	if err := os.MkdirAll(c.Home, 0o700); err != nil {
		return err
	}
	raw, err := yaml.Marshal(c)
	if err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(c.Home, configFile), raw, 0o600)
}

// StorePath is the sealed crypto store inside Home.
func (c Config) StorePath() string { return filepath.Join(c.Home, store.StateFilename) }

// clamp pulls the receive timeout into the supported window. Zero values
// fall back to defaults.
func (c *Config) clamp() {
	switch {
	case c.Rendezvous.ReceiveTimeout == 0:
		c.Rendezvous.ReceiveTimeout = rendezvous.DefaultReceiveTimeout
	case c.Rendezvous.ReceiveTimeout < minReceiveTimeout:
		c.Rendezvous.ReceiveTimeout = minReceiveTimeout
	case c.Rendezvous.ReceiveTimeout > maxReceiveTimeout:
		c.Rendezvous.ReceiveTimeout = maxReceiveTimeout
	}
	if c.Rendezvous.PollInterval == 0 {
		c.Rendezvous.PollInterval = time.Second
	}
}

// Validate rejects out-of-range values.
func (c Config) Validate() error {
	var errs []error
	if c.Home == "" {
		errs = append(errs, errors.New("home is required"))
	}
	if c.Rendezvous.ReceiveTimeout < minReceiveTimeout || c.Rendezvous.ReceiveTimeout > maxReceiveTimeout {
		errs = append(errs, fmt.Errorf("rendezvous.receive_timeout %s outside [%s, %s]",
			c.Rendezvous.ReceiveTimeout, minReceiveTimeout, maxReceiveTimeout))
	}
	if c.Rendezvous.PollInterval < 0 {
		errs = append(errs, errors.New("rendezvous.poll_interval must not be negative"))
	}
	if c.Megolm.RotationPeriod <= 0 {
		errs = append(errs, errors.New("megolm.rotation_period must be positive"))
	}
	if c.Megolm.RotationMessages <= 0 {
		errs = append(errs, errors.New("megolm.rotation_messages must be positive"))
	}
	if c.Gossip.Rate < 0 {
		errs = append(errs, errors.New("gossip.rate must not be negative"))
	}
	if c.Gossip.Burst < 1 {
		errs = append(errs, errors.New("gossip.burst must be at least 1"))
	}
	if (c.UserID == "") != (c.DeviceID == "") {
		errs = append(errs, errors.New("user_id and device_id must be set together"))
	}
	return errors.Join(errs...)
}

func (c Config) httpClient() *http.Client {
	if c.HTTP != nil {
		return c.HTTP
	}
	return http.DefaultClient
}
