package relay

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math/big"
	"net/url"
	"sync"
	"time"

	quic "github.com/quic-go/quic-go"

	"cipherlink/internal/services/rendezvous"
)

const (
	quicALPN         = "cipherlink-rendezvous"
	quicScheme       = "quic"
	quicIdleTimeout  = 90 * time.Second
	quicKeepAlive    = 15 * time.Second
	quicHandshakeMax = 10 * time.Second

	codeCancelled quic.ApplicationErrorCode = 1
)

var errFrameTooLarge = errors.New("relay: frame too large")

func quicConfig() *quic.Config {
	return &quic.Config{
		MaxIdleTimeout:       quicIdleTimeout,
		KeepAlivePeriod:      quicKeepAlive,
		HandshakeIdleTimeout: quicHandshakeMax,
	}
}

// ephemeralTLS returns a throwaway self-signed certificate. The rendezvous
// channel authenticates the peers, so the certificate is never checked.
func ephemeralTLS() (*tls.Config, error) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, err
	}
	template := x509.Certificate{
		SerialNumber: big.NewInt(1),
		NotBefore:    time.Now().Add(-time.Minute),
		NotAfter:     time.Now().Add(time.Hour),
		KeyUsage:     x509.KeyUsageDigitalSignature,
		ExtKeyUsage:  []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
		DNSNames:     []string{"localhost"},
	}
	der, err := x509.CreateCertificate(rand.Reader, &template, &template, pub, priv)
	if err != nil {
		return nil, err
	}
	return &tls.Config{
		Certificates: []tls.Certificate{{Certificate: [][]byte{der}, PrivateKey: priv}},
		NextProtos:   []string{quicALPN},
		MinVersion:   tls.VersionTLS13,
	}, nil
}

// QUICListener waits for the scanning device to dial in.
type QUICListener struct {
	ln *quic.Listener
}

// ListenQUIC listens on addr (host:port) for one rendezvous peer.
func ListenQUIC(addr string) (*QUICListener, error) {
	tlsConf, err := ephemeralTLS()
	if err != nil {
		return nil, err
	}
	ln, err := quic.ListenAddr(addr, tlsConf, quicConfig())
	if err != nil {
		return nil, err
	}
	return &QUICListener{ln: ln}, nil
}

// URI is the address to put in the code.
func (l *QUICListener) URI() string {
	return (&url.URL{Scheme: quicScheme, Host: l.ln.Addr().String()}).String()
}

// Accept waits for the peer's connection and first stream.
func (l *QUICListener) Accept(ctx context.Context) (*QUICTransport, error) {
	conn, err := l.ln.Accept(ctx)
	if err != nil {
		return nil, err
	}
	stream, err := conn.AcceptStream(ctx)
	if err != nil {
		_ = conn.CloseWithError(0, "")
		return nil, err
	}
	return newQUICTransport(conn, stream, l.ln), nil
}

// Close stops listening.
func (l *QUICListener) Close() error { return l.ln.Close() }

// DialQUIC connects to the listener named by a quic:// code URI.
func DialQUIC(ctx context.Context, uri string) (*QUICTransport, error) {
	u, err := url.Parse(uri)
	if err != nil {
		return nil, err
	}
	if u.Scheme != quicScheme || u.Host == "" {
		return nil, fmt.Errorf("relay: not a quic uri: %q", uri)
	}
	tlsConf := &tls.Config{
		InsecureSkipVerify: true,
		NextProtos:         []string{quicALPN},
		MinVersion:         tls.VersionTLS13,
	}
	conn, err := quic.DialAddr(ctx, u.Host, tlsConf, quicConfig())
	if err != nil {
		return nil, err
	}
	stream, err := conn.OpenStreamSync(ctx)
	if err != nil {
		_ = conn.CloseWithError(0, "")
		return nil, err
	}
	return newQUICTransport(conn, stream, nil), nil
}

type frameOrErr struct {
	frame []byte
	err   error
}

// QUICTransport exchanges length-prefixed frames on one stream.
type QUICTransport struct {
	conn   *quic.Conn
	stream *quic.Stream
	ln     *quic.Listener

	writeMu   sync.Mutex
	frames    chan frameOrErr
	done      chan struct{}
	closeOnce sync.Once
}

var _ rendezvous.Transport = (*QUICTransport)(nil)

func newQUICTransport(conn *quic.Conn, stream *quic.Stream, ln *quic.Listener) *QUICTransport {
	t := &QUICTransport{conn: conn, stream: stream, ln: ln, frames: make(chan frameOrErr, 4), done: make(chan struct{})}
	go t.readLoop()
	return t
}

func (t *QUICTransport) readLoop() {
	defer close(t.frames)
	var hdr [4]byte
	for {
		if _, err := io.ReadFull(t.stream, hdr[:]); err != nil {
			t.push(frameOrErr{err: err})
			return
		}
		n := binary.BigEndian.Uint32(hdr[:])
		if n > maxFrame {
			t.push(frameOrErr{err: errFrameTooLarge})
			return
		}
		buf := make([]byte, n)
		if _, err := io.ReadFull(t.stream, buf); err != nil {
			t.push(frameOrErr{err: err})
			return
		}
		if !t.push(frameOrErr{frame: buf}) {
			return
		}
	}
}

func (t *QUICTransport) push(f frameOrErr) bool {
	select {
	case t.frames <- f:
		return true
	case <-t.done:
		return false
	}
}

// Send writes one frame.
func (t *QUICTransport) Send(ctx context.Context, frame []byte) error {
	if len(frame) > maxFrame {
		return errFrameTooLarge
	}
	t.writeMu.Lock()
	defer t.writeMu.Unlock()
	if deadline, ok := ctx.Deadline(); ok {
		_ = t.stream.SetWriteDeadline(deadline)
		defer func() { _ = t.stream.SetWriteDeadline(time.Time{}) }()
	}
	buf := make([]byte, 4+len(frame))
	binary.BigEndian.PutUint32(buf, uint32(len(frame)))
	copy(buf[4:], frame)
	_, err := t.stream.Write(buf)
	return err
}

// Receive returns the next frame.
func (t *QUICTransport) Receive(ctx context.Context) ([]byte, error) {
	select {
	case f, ok := <-t.frames:
		if !ok {
			return nil, io.EOF
		}
		return f.frame, f.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Cancel closes the connection with an application error the peer sees.
func (t *QUICTransport) Cancel(context.Context) error {
	return t.conn.CloseWithError(codeCancelled, "rendezvous cancelled")
}

// Close shuts the stream, the connection and, on the listening side, the
// listener.
func (t *QUICTransport) Close() error {
	var err error
	t.closeOnce.Do(func() {
		close(t.done)
		_ = t.stream.Close()
		err = t.conn.CloseWithError(0, "")
		if t.ln != nil {
			err = errors.Join(err, t.ln.Close())
		}
	})
	return err
}
