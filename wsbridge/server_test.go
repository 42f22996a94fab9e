package wsbridge

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"charm-wallet-bridge/approval"
	"charm-wallet-bridge/bridge"
	"charm-wallet-bridge/wallet"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const dappOrigin = "https://dapp.example"

type fixture struct {
	server   *Server
	gate     *approval.Gate
	account  common.Address
	ts       *httptest.Server
	endpoint string
	// dapp side collectors, fed by the providers from connect
	dapp *bridge.ProviderMetrics
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store := wallet.NewStore()
	account, err := store.Generate()
	require.NoError(t, err)

	reg := prometheus.NewRegistry()
	gate := approval.NewGate(approval.ModeQueue, nil)
	host, err := bridge.NewHost(bridge.HostOptions{
		Accounts: store,
		Signer:   wallet.NewSigner(nil, nil, nil),
		Gate:     gate,
		Metrics:  bridge.NewMetrics(reg),
	})
	require.NoError(t, err)

	srv, err := NewServer(Options{Host: host, AllowedOrigins: []string{dappOrigin}, Registry: reg})
	require.NoError(t, err)
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(func() {
		srv.closeAll()
		ts.Close()
		host.Close()
		gate.Close()
	})
	return &fixture{
		server:   srv,
		gate:     gate,
		account:  account,
		ts:       ts,
		endpoint: "ws" + strings.TrimPrefix(ts.URL, "http") + ProviderPath,
		dapp:     bridge.NewProviderMetrics(prometheus.NewRegistry()),
	}
}

func (f *fixture) connect(t *testing.T) *bridge.Provider {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	p, conn, err := Connect(ctx, f.endpoint, dappOrigin, nil,
		bridge.WithRequestTimeout(5*time.Second), bridge.WithProviderMetrics(f.dapp))
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	require.Eventually(t, func() bool { return f.server.Clients() == 1 }, 2*time.Second, 5*time.Millisecond)
	return p
}

func TestPersonalSignOverWebsocket(t *testing.T) {
	f := newFixture(t)
	p := f.connect(t)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	raw, err := p.Request(ctx, bridge.RequestArguments{Method: bridge.MethodRequestAccounts})
	require.NoError(t, err)
	var disclosed []common.Address
	require.NoError(t, json.Unmarshal(raw, &disclosed))
	assert.Equal(t, []common.Address{f.account}, disclosed)

	go func() {
		req, err := f.gate.Next(ctx)
		if err != nil {
			return
		}
		if payload, ok := req.Payload.(approval.MessagePayload); ok && payload.Text == "Hello" {
			_ = req.Approve()
			return
		}
		_ = req.Reject("unexpected payload")
	}()

	raw, err = p.Request(ctx, bridge.RequestArguments{
		Method: bridge.MethodPersonalSign,
		Params: []any{"0x48656c6c6f", f.account.Hex()},
	})
	require.NoError(t, err)

	var sigHex string
	require.NoError(t, json.Unmarshal(raw, &sigHex))
	sig, err := hexutil.Decode(sigHex)
	require.NoError(t, err)
	sig[crypto.RecoveryIDOffset] -= 27
	pub, err := crypto.SigToPub(accounts.TextHash([]byte("Hello")), sig)
	require.NoError(t, err)
	assert.Equal(t, f.account, crypto.PubkeyToAddress(*pub))
}

func TestUnknownMethodOverWebsocket(t *testing.T) {
	f := newFixture(t)
	p := f.connect(t)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_, err := p.Request(ctx, bridge.RequestArguments{Method: "eth_mining"})
	var rpcErr *bridge.RPCError
	require.ErrorAs(t, err, &rpcErr)
	assert.Equal(t, bridge.CodeInternal, rpcErr.Code)
	assert.Equal(t, "Unsupported method: eth_mining", rpcErr.Message)
	assert.Equal(t, 0.0, testutil.ToFloat64(f.dapp.PendingCalls))
	assert.Equal(t, 0.0, testutil.ToFloat64(f.dapp.Timeouts))
}

func TestRefusesUnlistedOrigin(t *testing.T) {
	f := newFixture(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	_, err := Dial(ctx, f.endpoint, "https://evil.example", nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "403")
	assert.Equal(t, 1.0, testutil.ToFloat64(f.server.refused))
	assert.Zero(t, f.server.Clients())

	_, err = Dial(ctx, f.endpoint, "*", nil)
	assert.ErrorIs(t, err, bridge.ErrWildcardOrigin)
}

func TestRevokeClosesSockets(t *testing.T) {
	f := newFixture(t)
	p := f.connect(t)

	f.server.Revoke(dappOrigin)
	assert.NotContains(t, f.server.Allowed(), dappOrigin)
	require.Eventually(t, func() bool {
		ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
		defer cancel()
		_, err := p.Request(ctx, bridge.RequestArguments{Method: bridge.MethodAccounts})
		return errors.Is(err, bridge.ErrProviderClosed)
	}, 3*time.Second, 10*time.Millisecond)
	require.Eventually(t, func() bool { return f.server.Clients() == 0 }, 2*time.Second, 5*time.Millisecond)
}

func TestConnPostMessageTarget(t *testing.T) {
	f := newFixture(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	conn, err := Dial(ctx, f.endpoint, dappOrigin, nil)
	require.NoError(t, err)
	defer conn.Close()

	assert.Equal(t, f.ts.URL, conn.PeerOrigin())
	assert.ErrorIs(t, conn.PostMessage([]byte(`{}`), "https://elsewhere.example"), ErrTargetOriginMismatch)
	assert.ErrorIs(t, conn.PostMessage([]byte(`{}`), "*"), bridge.ErrWildcardOrigin)
	assert.NoError(t, conn.PostMessage([]byte(`{}`), conn.PeerOrigin()))

	require.NoError(t, conn.Close())
	assert.ErrorIs(t, conn.PostMessage([]byte(`{}`), conn.PeerOrigin()), ErrConnClosed)
}

func TestHealthAndMetrics(t *testing.T) {
	f := newFixture(t)
	p := f.connect(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_, err := p.Request(ctx, bridge.RequestArguments{Method: bridge.MethodAccounts})
	require.NoError(t, err)

	resp, err := http.Get(f.ts.URL + "/health")
	require.NoError(t, err)
	defer resp.Body.Close()
	var h health
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&h))
	assert.Equal(t, "ok", h.Status)
	assert.Equal(t, 1, h.Clients)
	assert.Equal(t, 1, h.Connections)
	assert.Equal(t, []string{dappOrigin}, h.Allowed)

	resp, err = http.Get(f.ts.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), `wallet_bridge_requests_total{method="eth_accounts",outcome="ok"} 1`)
	assert.Contains(t, string(body), "wallet_bridge_ws_clients 1")
}

func TestDialRejectsHTTPEndpoint(t *testing.T) {
	_, err := Dial(context.Background(), "http://127.0.0.1:1/provider", dappOrigin, nil)
	assert.ErrorContains(t, err, "ws://")
}
