package relay_test

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cipherlink/internal/relay"
	"cipherlink/internal/services/rendezvous"
)

func newRelay(t *testing.T, ttl time.Duration, opts ...relay.Option) (*relay.Server, *httptest.Server) {
	t.Helper()
	srv := relay.NewServer(ttl, zerolog.Nop(), opts...)
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return srv, ts
}

func do(t *testing.T, method, url string, body string, headers map[string]string) *http.Response {
	t.Helper()
	req, err := http.NewRequest(method, url, strings.NewReader(body))
	require.NoError(t, err)
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func TestServer_Protocol(t *testing.T) {
	srv, ts := newRelay(t, time.Minute)

	created := do(t, http.MethodPost, ts.URL+"/", "", nil)
	require.Equal(t, http.StatusCreated, created.StatusCode)
	loc, err := created.Location()
	require.NoError(t, err)
	etag := created.Header.Get("ETag")
	require.NotEmpty(t, etag)
	assert.Equal(t, 1, srv.Len())

	notModified := do(t, http.MethodGet, loc.String(), "", map[string]string{"If-None-Match": etag})
	assert.Equal(t, http.StatusNotModified, notModified.StatusCode)

	stale := do(t, http.MethodPut, loc.String(), "x", map[string]string{"If-Match": `"stale"`})
	assert.Equal(t, http.StatusPreconditionFailed, stale.StatusCode)

	put := do(t, http.MethodPut, loc.String(), "hello", map[string]string{"If-Match": etag})
	require.Equal(t, http.StatusAccepted, put.StatusCode)
	next := put.Header.Get("ETag")
	assert.NotEqual(t, etag, next)

	got := do(t, http.MethodGet, loc.String(), "", map[string]string{"If-None-Match": etag})
	require.Equal(t, http.StatusOK, got.StatusCode)
	body, err := io.ReadAll(got.Body)
	require.NoError(t, err)
	assert.Equal(t, "hello", string(body))
	assert.Equal(t, next, got.Header.Get("ETag"))

	del := do(t, http.MethodDelete, loc.String(), "", nil)
	assert.Equal(t, http.StatusNoContent, del.StatusCode)
	gone := do(t, http.MethodGet, loc.String(), "", nil)
	assert.Equal(t, http.StatusNotFound, gone.StatusCode)
	assert.Zero(t, srv.Len())
}

func TestServer_ChannelsExpire(t *testing.T) {
	srv, ts := newRelay(t, 20*time.Millisecond)
	created := do(t, http.MethodPost, ts.URL+"/", "", nil)
	loc, err := created.Location()
	require.NoError(t, err)

	time.Sleep(50 * time.Millisecond)
	resp := do(t, http.MethodGet, loc.String(), "", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Zero(t, srv.Len())
}

func TestServer_ThrottlesCreation(t *testing.T) {
	srv, ts := newRelay(t, time.Minute, relay.WithCreateRate(0.001, 2))

	assert.Equal(t, http.StatusCreated, do(t, http.MethodPost, ts.URL+"/", "", nil).StatusCode)
	assert.Equal(t, http.StatusCreated, do(t, http.MethodPost, ts.URL+"/", "", nil).StatusCode)
	limited := do(t, http.MethodPost, ts.URL+"/", "", nil)
	assert.Equal(t, http.StatusTooManyRequests, limited.StatusCode)
	assert.NotEmpty(t, limited.Header.Get("Retry-After"))
	assert.Equal(t, 2, srv.Len())
}

func TestServer_CapsLiveChannels(t *testing.T) {
	srv, ts := newRelay(t, time.Minute, relay.WithCreateRate(0, 0), relay.WithMaxChannels(2))

	var locs []string
	for i := 0; i < 2; i++ {
		created := do(t, http.MethodPost, ts.URL+"/", "", nil)
		require.Equal(t, http.StatusCreated, created.StatusCode)
		loc, err := created.Location()
		require.NoError(t, err)
		locs = append(locs, loc.String())
	}
	full := do(t, http.MethodPost, ts.URL+"/", "", nil)
	assert.Equal(t, http.StatusServiceUnavailable, full.StatusCode)
	assert.Equal(t, 2, srv.Len())

	// Removing a channel frees its place.
	require.Equal(t, http.StatusNoContent, do(t, http.MethodDelete, locs[0], "", nil).StatusCode)
	assert.Equal(t, http.StatusCreated, do(t, http.MethodPost, ts.URL+"/", "", nil).StatusCode)
}

func TestHTTPTransport_TakesTurns(t *testing.T) {
	_, ts := newRelay(t, time.Minute)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	creator, err := relay.CreateHTTPChannel(ctx, ts.Client(), ts.URL+"/", 10*time.Millisecond)
	require.NoError(t, err)
	scanner := relay.NewHTTPTransport(ts.Client(), creator.URI(), 10*time.Millisecond)

	require.NoError(t, scanner.Send(ctx, []byte("one")))
	got, err := creator.Receive(ctx)
	require.NoError(t, err)
	assert.Equal(t, "one", string(got))

	require.NoError(t, creator.Send(ctx, []byte("two")))
	got, err = scanner.Receive(ctx)
	require.NoError(t, err)
	assert.Equal(t, "two", string(got))

	// Nothing new for the creator: its own write is not echoed back.
	short, done := context.WithTimeout(ctx, 50*time.Millisecond)
	defer done()
	_, err = creator.Receive(short)
	require.ErrorIs(t, err, context.DeadlineExceeded)

	require.NoError(t, scanner.Cancel(ctx))
	_, err = creator.Receive(ctx)
	require.ErrorIs(t, err, rendezvous.ErrExpired)
	require.ErrorIs(t, creator.Send(ctx, []byte("late")), rendezvous.ErrExpired)
}

func TestHTTPTransport_SecureChannel(t *testing.T) {
	_, ts := newRelay(t, time.Minute)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	creatorT, err := relay.CreateHTTPChannel(ctx, ts.Client(), ts.URL+"/", 5*time.Millisecond)
	require.NoError(t, err)
	creator, err := rendezvous.NewCreatorChannel(creatorT)
	require.NoError(t, err)

	code := &rendezvous.Code{
		Intent: rendezvous.IntentLoginOnExistingDevice,
		Rendezvous: rendezvous.Details{
			Algorithm: "org.matrix.msc3903.rendezvous.v2.curve25519-aes-sha256",
			Transport: rendezvous.TransportDetails{Type: rendezvous.TransportHTTP, URI: creatorT.URI()},
			Key:       creator.PublicKey(),
		},
	}
	raw, err := code.Marshal()
	require.NoError(t, err)
	parsed, err := rendezvous.ParseCode(raw)
	require.NoError(t, err)

	scannerT, err := relay.OpenScanner(ctx, parsed, ts.Client(), 5*time.Millisecond)
	require.NoError(t, err)
	scanner, err := rendezvous.NewScannerChannel(scannerT, parsed)
	require.NoError(t, err)

	creatorSum := make(chan string, 1)
	go func() {
		sum, err := creator.Connect(ctx)
		if err != nil {
			sum = "error: " + err.Error()
		}
		creatorSum <- sum
	}()
	sum, err := scanner.Connect(ctx)
	require.NoError(t, err)
	assert.Equal(t, sum, <-creatorSum)

	require.NoError(t, creator.Send(ctx, []byte(`{"type":"m.login.progress"}`)))
	msg, err := scanner.Receive(ctx)
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"m.login.progress"}`, string(msg))

	require.NoError(t, scanner.Close())
	require.NoError(t, creator.Close())
}
