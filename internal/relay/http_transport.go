package relay

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"cipherlink/internal/services/rendezvous"
)

// DefaultPollInterval is the wait between GETs that found nothing new.
const DefaultPollInterval = time.Second

const maxFrame = 1 << 20

// HTTPTransport is one side of an MSC3886 rendezvous channel.
type HTTPTransport struct {
	client *http.Client
	uri    string
	poll   time.Duration

	mu   sync.Mutex
	etag string
}

var _ rendezvous.Transport = (*HTTPTransport)(nil)

// NewHTTPTransport joins the channel at uri, as read from a code.
func NewHTTPTransport(client *http.Client, uri string, poll time.Duration) *HTTPTransport {
	if client == nil {
		client = http.DefaultClient
	}
	if poll <= 0 {
		poll = DefaultPollInterval
	}
	return &HTTPTransport{client: client, uri: uri, poll: poll}
}

// CreateHTTPChannel creates a new channel on the relay at relayURL and
// returns the creator's side. URI gives the address to put in the code.
func CreateHTTPChannel(ctx context.Context, client *http.Client, relayURL string, poll time.Duration) (*HTTPTransport, error) {
	t := NewHTTPTransport(client, "", poll)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, relayURL, http.NoBody)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/octet-stream")
	resp, err := t.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusCreated {
		return nil, fmt.Errorf("relay post %s: %s", relayURL, resp.Status)
	}
	loc, err := resp.Location()
	if err != nil {
		return nil, fmt.Errorf("relay post %s: %w", relayURL, err)
	}
	t.uri = loc.String()
	t.etag = resp.Header.Get("ETag")
	return t, nil
}

// URI is the channel address.
func (t *HTTPTransport) URI() string { return t.uri }

// Send replaces the channel content with frame.
func (t *HTTPTransport) Send(ctx context.Context, frame []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, t.uri, bytes.NewReader(frame))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/octet-stream")
	t.mu.Lock()
	if t.etag != "" {
		req.Header.Set("If-Match", t.etag)
	}
	t.mu.Unlock()

	resp, err := t.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	switch resp.StatusCode {
	case http.StatusAccepted, http.StatusOK, http.StatusNoContent:
	case http.StatusNotFound, http.StatusGone:
		return rendezvous.ErrExpired
	default:
		return fmt.Errorf("relay put %s: %s", t.uri, resp.Status)
	}
	t.mu.Lock()
	t.etag = resp.Header.Get("ETag")
	t.mu.Unlock()
	return nil
}

// Receive polls until the peer writes something new.
func (t *HTTPTransport) Receive(ctx context.Context) ([]byte, error) {
	for {
		frame, ok, err := t.poll1(ctx)
		if err != nil || ok {
			return frame, err
		}
		timer := time.NewTimer(t.poll)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-timer.C:
		}
	}
}

func (t *HTTPTransport) poll1(ctx context.Context) ([]byte, bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, t.uri, nil)
	if err != nil {
		return nil, false, err
	}
	t.mu.Lock()
	if t.etag != "" {
		req.Header.Set("If-None-Match", t.etag)
	}
	t.mu.Unlock()

	resp, err := t.client.Do(req)
	if err != nil {
		return nil, false, err
	}
	defer resp.Body.Close()
	switch resp.StatusCode {
	case http.StatusNotModified:
		return nil, false, nil
	case http.StatusNotFound, http.StatusGone:
		return nil, false, rendezvous.ErrExpired
	case http.StatusOK:
	default:
		return nil, false, fmt.Errorf("relay get %s: %s", t.uri, resp.Status)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxFrame))
	if err != nil {
		return nil, false, err
	}
	t.mu.Lock()
	t.etag = resp.Header.Get("ETag")
	t.mu.Unlock()
	if len(body) == 0 {
		// Freshly created channel.
		return nil, false, nil
	}
	return body, true, nil
}

// Cancel deletes the channel from the relay.
func (t *HTTPTransport) Cancel(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, t.uri, nil)
	if err != nil {
		return err
	}
	resp, err := t.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode/100 != 2 && resp.StatusCode != http.StatusNotFound {
		return fmt.Errorf("relay delete %s: %s", t.uri, resp.Status)
	}
	return nil
}

// Close is a no-op; the relay expires abandoned channels.
func (t *HTTPTransport) Close() error { return nil }
