package homeserver

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"cipherlink/internal/domain"
)

const (
	pathLogin        = "/_matrix/client/v3/login"
	pathKeysQuery    = "/_matrix/client/v3/keys/query"
	pathSendToDevice = "/_matrix/client/v3/sendToDevice/"
)

// Error is a non-2xx response.
type Error struct {
	Status  int    `json:"-"`
	ErrCode string `json:"errcode"`
	Message string `json:"error"`
}

func (e *Error) Error() string {
	if e.ErrCode != "" {
		return fmt.Sprintf("homeserver: %d %s: %s", e.Status, e.ErrCode, e.Message)
	}
	return fmt.Sprintf("homeserver: %d", e.Status)
}

// Client talks to one homeserver. AccessToken may be empty for the login
// calls.
type Client struct {
	Base        string
	AccessToken string
	HTTP        *http.Client

	log   zerolog.Logger
	txnID func() string
}

// New returns a client for base, e.g. https://matrix.example.org.
func New(base, accessToken string, log zerolog.Logger) *Client {
	return &Client{
		Base:        strings.TrimRight(base, "/"),
		AccessToken: accessToken,
		HTTP:        http.DefaultClient,
		log:         log.With().Str("component", "homeserver").Logger(),
		txnID:       uuid.NewString,
	}
}

var (
	_ domain.LoginClient    = (*Client)(nil)
	_ domain.KeyQuerier     = (*Client)(nil)
	_ domain.ToDeviceSender = (*Client)(nil)
)

type loginFlowsResponse struct {
	Flows []domain.LoginFlow `json:"flows"`
}

// LoginFlows lists the login types homeserverURL accepts.
func (c *Client) LoginFlows(ctx context.Context, homeserverURL string) ([]domain.LoginFlow, error) {
	var out loginFlowsResponse
	if err := c.do(ctx, http.MethodGet, baseOr(homeserverURL, c.Base)+pathLogin, nil, &out, false); err != nil {
		return nil, err
	}
	return out.Flows, nil
}

type tokenLoginRequest struct {
	Type                     string `json:"type"`
	Token                    string `json:"token"`
	InitialDeviceDisplayName string `json:"initial_device_display_name,omitempty"`
}

// LoginWithToken exchanges a login token for an access token on
// homeserverURL.
func (c *Client) LoginWithToken(ctx context.Context, homeserverURL, token, deviceName string) (domain.Credentials, error) {
	base := baseOr(homeserverURL, c.Base)
	var creds domain.Credentials
	err := c.do(ctx, http.MethodPost, base+pathLogin, tokenLoginRequest{
		Type:                     "m.login.token",
		Token:                    token,
		InitialDeviceDisplayName: deviceName,
	}, &creds, false)
	if err != nil {
		return domain.Credentials{}, err
	}
	if creds.HomeserverURL == "" {
		creds.HomeserverURL = base
	}
	return creds, nil
}

type keysQueryRequest struct {
	DeviceKeys map[domain.UserID][]domain.DeviceID `json:"device_keys"`
}

// QueryKeys fetches the device and cross-signing keys of users.
func (c *Client) QueryKeys(ctx context.Context, users []domain.UserID) (*domain.KeysQueryResponse, error) {
	req := keysQueryRequest{DeviceKeys: make(map[domain.UserID][]domain.DeviceID, len(users))}
	for _, u := range users {
		req.DeviceKeys[u] = []domain.DeviceID{}
	}
	var out domain.KeysQueryResponse
	if err := c.do(ctx, http.MethodPost, c.Base+pathKeysQuery, req, &out, true); err != nil {
		return nil, err
	}
	return &out, nil
}

type sendToDeviceRequest struct {
	Messages map[domain.UserID]map[domain.DeviceID]any `json:"messages"`
}

// SendToDevice sends one to-device event.
func (c *Client) SendToDevice(ctx context.Context, user domain.UserID, device domain.DeviceID, eventType string, payload any) error {
	return c.SendToDevices(ctx, map[domain.UserID][]domain.DeviceID{user: {device}}, eventType, payload)
}

// SendToDevices sends the same event to every recipient in one request.
func (c *Client) SendToDevices(ctx context.Context, recipients map[domain.UserID][]domain.DeviceID, eventType string, payload any) error {
	body := sendToDeviceRequest{Messages: make(map[domain.UserID]map[domain.DeviceID]any, len(recipients))}
	for user, devices := range recipients {
		m := make(map[domain.DeviceID]any, len(devices))
		for _, d := range devices {
			m[d] = payload
		}
		body.Messages[user] = m
	}
	txn := c.txnID()
	path := pathSendToDevice + url.PathEscape(eventType) + "/" + url.PathEscape(txn)
	if err := c.do(ctx, http.MethodPut, c.Base+path, body, nil, true); err != nil {
		return err
	}
	c.log.Debug().Str("event_type", eventType).Str("txn_id", txn).Int("users", len(recipients)).Msg("to-device sent")
	return nil
}

func (c *Client) do(ctx context.Context, method, u string, in, out any, auth bool) error {
	var body io.Reader
	if in != nil {
		buf := new(bytes.Buffer)
		if err := json.NewEncoder(buf).Encode(in); err != nil {
			return err
		}
		body = buf
	}
	req, err := http.NewRequestWithContext(ctx, method, u, body)
	if err != nil {
		return err
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if auth && c.AccessToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.AccessToken)
	}
	resp, err := c.HTTP.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode/100 != 2 {
		herr := &Error{Status: resp.StatusCode}
		_ = json.NewDecoder(io.LimitReader(resp.Body, 1<<16)).Decode(herr)
		return herr
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

func baseOr(u, fallback string) string {
	if u == "" {
		return fallback
	}
	return strings.TrimRight(u, "/")
}
