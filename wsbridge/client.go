package wsbridge

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"charm-wallet-bridge/bridge"

	"github.com/charmbracelet/log"
	"github.com/gorilla/websocket"
)

// Dial opens a provider socket to the wallet at endpoint (ws:// or wss://)
// announcing origin as the dapp's origin. The wallet's origin is derived
// from endpoint.
func Dial(ctx context.Context, endpoint, origin string, logger *log.Logger) (*Conn, error) {
	self, err := bridge.NormalizeOrigin(origin)
	if err != nil {
		return nil, err
	}
	peer, err := walletOrigin(endpoint)
	if err != nil {
		return nil, err
	}
	header := http.Header{}
	header.Set("Origin", self)
	ws, resp, err := websocket.DefaultDialer.DialContext(ctx, endpoint, header)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("wsbridge: dial %s: %w (status %d)", endpoint, err, resp.StatusCode)
		}
		return nil, fmt.Errorf("wsbridge: dial %s: %w", endpoint, err)
	}
	return newConn(ws, peer, logger), nil
}

// Connect dials the wallet and returns a provider reading from the socket.
// The provider closes when the socket does.
func Connect(ctx context.Context, endpoint, origin string, logger *log.Logger, opts ...bridge.ProviderOption) (*bridge.Provider, *Conn, error) {
	conn, err := Dial(ctx, endpoint, origin, logger)
	if err != nil {
		return nil, nil, err
	}
	p, err := bridge.NewProvider(conn, conn.PeerOrigin(), opts...)
	if err != nil {
		_ = conn.Close()
		return nil, nil, err
	}
	go func() {
		_ = conn.Serve(p)
		p.Close()
	}()
	return p, conn, nil
}

func walletOrigin(endpoint string) (string, error) {
	u, err := url.Parse(endpoint)
	if err != nil {
		return "", fmt.Errorf("wsbridge: parse endpoint: %w", err)
	}
	switch strings.ToLower(u.Scheme) {
	case "ws":
		u.Scheme = "http"
	case "wss":
		u.Scheme = "https"
	default:
		return "", fmt.Errorf("wsbridge: endpoint %q must be ws:// or wss://", endpoint)
	}
	return bridge.NormalizeOrigin(u.Scheme + "://" + u.Host)
}
