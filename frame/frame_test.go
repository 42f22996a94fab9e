package frame

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"charm-wallet-bridge/approval"
	"charm-wallet-bridge/bridge"
	"charm-wallet-bridge/wallet"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newWindow(t *testing.T, name, origin string) *Window {
	t.Helper()
	w, err := New(name, origin)
	require.NoError(t, err)
	t.Cleanup(w.Close)
	return w
}

type recorder struct {
	mu  sync.Mutex
	evs []bridge.MessageEvent
}

func (r *recorder) HandleMessage(ev bridge.MessageEvent) {
	r.mu.Lock()
	r.evs = append(r.evs, ev)
	r.mu.Unlock()
}

func (r *recorder) events() []bridge.MessageEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]bridge.MessageEvent(nil), r.evs...)
}

func TestPostMessageTargetOrigin(t *testing.T) {
	parent := newWindow(t, "wallet", "https://wallet.example")
	child := newWindow(t, "dapp", "https://dapp.example")
	toChild, _ := Link(parent, child)

	assert.ErrorIs(t, toChild.PostMessage([]byte("x"), "*"), bridge.ErrWildcardOrigin)
	assert.ErrorIs(t, toChild.PostMessage([]byte("x"), "https://evil.example"), ErrOriginMismatch)
	assert.NoError(t, toChild.PostMessage([]byte("x"), "https://DAPP.example:443"))
}

func TestMessageSourceAndOrigin(t *testing.T) {
	parent := newWindow(t, "wallet", "https://wallet.example")
	child := newWindow(t, "dapp", "https://dapp.example")
	toChild, toParent := Link(parent, child)

	rec := &recorder{}
	child.AddListener(rec)
	payload := []byte("hello")
	require.NoError(t, toChild.PostMessage(payload, child.Origin()))
	payload[0] = 'j'

	require.Eventually(t, func() bool { return len(rec.events()) == 1 }, time.Second, time.Millisecond)
	ev := rec.events()[0]
	assert.Same(t, toParent, ev.Source)
	assert.Equal(t, "https://wallet.example", ev.Origin)
	assert.Equal(t, []byte("hello"), ev.Data, "posted data must be copied")
	assert.Same(t, parent, toChild.reverse.Target())
}

func TestEventLoopOrder(t *testing.T) {
	a := newWindow(t, "a", "https://a.example")
	b := newWindow(t, "b", "https://b.example")
	toB, _ := Link(a, b)

	rec := &recorder{}
	remove := b.AddListener(rec)
	b.AddListener(HandlerFunc(func(bridge.MessageEvent) { panic("listener bug") }))

	const n = 100
	for i := 0; i < n; i++ {
		data, _ := json.Marshal(i)
		require.NoError(t, toB.PostMessage(data, b.Origin()))
	}
	require.Eventually(t, func() bool { return len(rec.events()) == n }, 2*time.Second, time.Millisecond)
	for i, ev := range rec.events() {
		var got int
		require.NoError(t, json.Unmarshal(ev.Data, &got))
		assert.Equal(t, i, got)
	}

	remove()
	require.NoError(t, toB.PostMessage([]byte("0"), b.Origin()))
	time.Sleep(20 * time.Millisecond)
	assert.Len(t, rec.events(), n)
}

func TestPostToClosedWindow(t *testing.T) {
	a := newWindow(t, "a", "https://a.example")
	b := newWindow(t, "b", "https://b.example")
	toB, _ := Link(a, b)
	b.Close()
	assert.ErrorIs(t, toB.PostMessage([]byte("x"), b.Origin()), ErrClosed)
}

type embedFixture struct {
	gate    *approval.Gate
	host    *bridge.Host
	store   *wallet.Store
	account common.Address
	wallet  *Window
}

func newEmbedFixture(t *testing.T) *embedFixture {
	t.Helper()
	store := wallet.NewStore()
	account, err := store.Generate()
	require.NoError(t, err)
	gate := approval.NewGate(approval.ModeQueue, nil)
	host, err := bridge.NewHost(bridge.HostOptions{
		Accounts: store,
		Signer:   wallet.NewSigner(nil, nil, nil),
		Gate:     gate,
	})
	require.NoError(t, err)
	t.Cleanup(func() {
		host.Close()
		gate.Close()
	})
	return &embedFixture{
		gate:    gate,
		host:    host,
		store:   store,
		account: account,
		wallet:  newWindow(t, "wallet", "https://wallet.example"),
	}
}

func TestEmbedSameOriginSignsMessage(t *testing.T) {
	f := newEmbedFixture(t)
	dapp := newWindow(t, "dapp", "https://wallet.example")
	e, err := Embed(f.host, f.wallet, dapp)
	require.NoError(t, err)
	t.Cleanup(e.Close)
	require.NotNil(t, e.Provider)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	raw, err := e.Provider.Request(ctx, bridge.RequestArguments{Method: bridge.MethodRequestAccounts})
	require.NoError(t, err)
	var disclosed []common.Address
	require.NoError(t, json.Unmarshal(raw, &disclosed))
	assert.Equal(t, []common.Address{f.account}, disclosed)

	go func() {
		if req, err := f.gate.Next(ctx); err == nil {
			_ = req.Approve()
		}
	}()
	raw, err = e.Provider.Request(ctx, bridge.RequestArguments{
		Method: bridge.MethodPersonalSign,
		Params: []any{"0x48656c6c6f", f.account.Hex()},
	})
	require.NoError(t, err)

	var sigHex string
	require.NoError(t, json.Unmarshal(raw, &sigHex))
	sig, err := hexutil.Decode(sigHex)
	require.NoError(t, err)
	require.Len(t, sig, crypto.SignatureLength)
	sig[crypto.RecoveryIDOffset] -= 27
	pub, err := crypto.SigToPub(accounts.TextHash([]byte("Hello")), sig)
	require.NoError(t, err)
	assert.Equal(t, f.account, crypto.PubkeyToAddress(*pub))
}

func TestEmbedCrossOriginNeedsPreloadedProvider(t *testing.T) {
	f := newEmbedFixture(t)
	dapp := newWindow(t, "dapp", "https://dapp.example")
	e, err := Embed(f.host, f.wallet, dapp)
	require.NoError(t, err)
	t.Cleanup(e.Close)
	assert.Nil(t, e.Provider)

	p, err := InstallProvider(dapp, e.DappToWallet, f.wallet.Origin())
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	raw, err := p.Request(ctx, bridge.RequestArguments{Method: bridge.MethodAccounts})
	require.NoError(t, err)
	var disclosed []common.Address
	require.NoError(t, json.Unmarshal(raw, &disclosed))
	assert.Equal(t, []common.Address{f.account}, disclosed)

	_, err = p.Request(ctx, bridge.RequestArguments{Method: "wallet_addEthereumChain"})
	var rpcErr *bridge.RPCError
	require.ErrorAs(t, err, &rpcErr)
	assert.Equal(t, bridge.CodeInternal, rpcErr.Code)

	changed := make(chan []common.Address, 1)
	p.OnAccountsChanged(func(a []common.Address) { changed <- a })
	require.True(t, f.host.Disconnect(dapp.Origin()))
	select {
	case got := <-changed:
		assert.Empty(t, got)
	case <-ctx.Done():
		t.Fatal("accountsChanged not delivered")
	}

	// closing the dapp window tears its provider down
	dapp.Close()
	require.Eventually(t, func() bool {
		_, err := p.Request(ctx, bridge.RequestArguments{Method: bridge.MethodAccounts})
		return errors.Is(err, bridge.ErrProviderClosed)
	}, 2*time.Second, 5*time.Millisecond)
}
