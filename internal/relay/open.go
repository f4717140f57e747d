package relay

import (
	"context"
	"net/http"
	"time"

	"cipherlink/internal/services/rendezvous"
)

// OpenScanner joins the channel a scanned code points at.
func OpenScanner(ctx context.Context, code *rendezvous.Code, client *http.Client, poll time.Duration) (rendezvous.Transport, error) {
	switch code.Rendezvous.Transport.Type {
	case rendezvous.TransportHTTP:
		return NewHTTPTransport(client, code.Rendezvous.Transport.URI, poll), nil
	case rendezvous.TransportQUIC:
		t, err := DialQUIC(ctx, code.Rendezvous.Transport.URI)
		if err != nil {
			return nil, err
		}
		return t, nil
	}
	return nil, &rendezvous.Error{Reason: rendezvous.ReasonUnsupportedTransport}
}
