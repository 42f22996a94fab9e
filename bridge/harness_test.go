package bridge

import (
	"context"
	"crypto/ecdsa"
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"

	"charm-wallet-bridge/approval"
	"charm-wallet-bridge/wallet"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"
	"github.com/stretchr/testify/require"
)

const (
	walletOrigin = "https://wallet.example"
	dappOrigin   = "https://dapp.example"
)

// testPort records everything posted through it and, when deliver is set,
// hands each message to the other side on a fresh goroutine.
type testPort struct {
	target string
	source Port
	origin string

	mu      sync.Mutex
	posts   [][]byte
	deliver func(MessageEvent)
}

func (p *testPort) PostMessage(data []byte, targetOrigin string) error {
	if targetOrigin != p.target {
		return fmt.Errorf("test port: target %q, want %q", targetOrigin, p.target)
	}
	p.mu.Lock()
	p.posts = append(p.posts, append([]byte(nil), data...))
	deliver := p.deliver
	p.mu.Unlock()
	if deliver != nil {
		go deliver(MessageEvent{Source: p.source, Origin: p.origin, Data: data})
	}
	return nil
}

func (p *testPort) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.posts)
}

// waitRequests waits for n posted requests and decodes them.
func (p *testPort) waitRequests(t *testing.T, n int) []RequestEnvelope {
	t.Helper()
	require.Eventually(t, func() bool { return p.count() >= n }, 2*time.Second, 5*time.Millisecond)
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]RequestEnvelope, 0, len(p.posts))
	for _, raw := range p.posts {
		var env RequestEnvelope
		require.NoError(t, json.Unmarshal(raw, &env))
		out = append(out, env)
	}
	return out
}

func responseFrom(t *testing.T, id uint64, result any, rpcErr *RPCError) []byte {
	t.Helper()
	env := ResponseEnvelope{Type: TypeResponse, ID: id}
	if rpcErr != nil {
		env.Data.Error = rpcErr
	} else {
		raw, err := json.Marshal(result)
		require.NoError(t, err)
		env.Data.Result = raw
	}
	data, err := json.Marshal(env)
	require.NoError(t, err)
	return data
}

// trace is an ordered log shared by fakes to assert call order.
type trace struct {
	mu    sync.Mutex
	steps []string
}

func (tr *trace) add(step string) {
	tr.mu.Lock()
	tr.steps = append(tr.steps, step)
	tr.mu.Unlock()
}

func (tr *trace) list() []string {
	tr.mu.Lock()
	defer tr.mu.Unlock()
	return append([]string(nil), tr.steps...)
}

// scriptedGate answers every decision the same way.
type scriptedGate struct {
	approve bool
	trace   *trace

	mu       sync.Mutex
	kinds    []approval.Kind
	payloads []any
}

func (g *scriptedGate) RequestDecision(_ context.Context, kind approval.Kind, _ string, payload any) (approval.Decision, error) {
	g.mu.Lock()
	g.kinds = append(g.kinds, kind)
	g.payloads = append(g.payloads, payload)
	g.mu.Unlock()
	if g.trace != nil {
		g.trace.add("decide:" + string(kind))
	}
	if g.approve {
		return approval.Decision{Approved: true}, nil
	}
	return approval.Decision{Reason: "nope"}, &approval.RejectedError{Kind: kind, Reason: "nope"}
}

func (g *scriptedGate) calls() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.kinds)
}

func (g *scriptedGate) payload(i int) any {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.payloads[i]
}

// spySigner records what it was asked to sign.
type spySigner struct {
	trace *trace
	sig   []byte
	hash  common.Hash
	err   error
	panic bool

	mu      sync.Mutex
	calls   int
	lastMsg []byte
	lastTx  wallet.TxFields
	lastTD  apitypes.TypedData
}

func (s *spySigner) record(step string) {
	if s.panic {
		panic("signer exploded")
	}
	s.mu.Lock()
	s.calls++
	s.mu.Unlock()
	if s.trace != nil {
		s.trace.add(step)
	}
}

func (s *spySigner) SignTransaction(_ context.Context, f wallet.TxFields, _ *ecdsa.PrivateKey) (common.Hash, error) {
	s.record("sign:transaction")
	s.mu.Lock()
	s.lastTx = f
	s.mu.Unlock()
	return s.hash, s.err
}

func (s *spySigner) SignPersonalMessage(msg []byte, _ *ecdsa.PrivateKey) ([]byte, error) {
	s.record("sign:message")
	s.mu.Lock()
	s.lastMsg = msg
	s.mu.Unlock()
	return s.sig, s.err
}

func (s *spySigner) SignTypedData(td apitypes.TypedData, _ *ecdsa.PrivateKey) ([]byte, error) {
	s.record("sign:typed-data")
	s.mu.Lock()
	s.lastTD = td
	s.mu.Unlock()
	return s.sig, s.err
}

func (s *spySigner) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

// harness wires a Provider to a Host session through two test ports.
type harness struct {
	provider *Provider
	host     *Host
	session  *Session
	store    *wallet.Store
	account  common.Address
	toHost   *testPort
	toDapp   *testPort
}

type harnessOption func(*HostOptions)

func withPolicy(p ConnectPolicy) harnessOption {
	return func(o *HostOptions) { o.ConnectPolicy = p }
}

func withMetrics(m *Metrics) harnessOption {
	return func(o *HostOptions) { o.Metrics = m }
}

func withoutAccounts() harnessOption {
	return func(o *HostOptions) { o.Accounts = wallet.NewStore() }
}

func newHarness(t *testing.T, gate DecisionGate, signer SigningDelegate, opts ...harnessOption) *harness {
	t.Helper()
	store := wallet.NewStore()
	account, err := store.Generate()
	require.NoError(t, err)

	hostOpts := HostOptions{Accounts: store, Signer: signer, Gate: gate}
	for _, opt := range opts {
		opt(&hostOpts)
	}
	host, err := NewHost(hostOpts)
	require.NoError(t, err)

	toHost := &testPort{target: walletOrigin, origin: dappOrigin}
	toDapp := &testPort{target: dappOrigin, origin: walletOrigin}
	toHost.source, toDapp.source = toDapp, toHost

	provider, err := NewProvider(toHost, walletOrigin, WithRequestTimeout(5*time.Second))
	require.NoError(t, err)
	session, err := host.Attach(toDapp, dappOrigin)
	require.NoError(t, err)

	toHost.deliver = session.HandleMessage
	toDapp.deliver = provider.HandleMessage

	t.Cleanup(func() {
		host.Close()
		provider.Close()
	})
	return &harness{
		provider: provider,
		host:     host,
		session:  session,
		store:    store,
		account:  account,
		toHost:   toHost,
		toDapp:   toDapp,
	}
}

func (h *harness) call(t *testing.T, method string, params ...any) (json.RawMessage, error) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return h.provider.Request(ctx, RequestArguments{Method: method, Params: params})
}

func requireCode(t *testing.T, err error, code int) *RPCError {
	t.Helper()
	var rpcErr *RPCError
	require.ErrorAs(t, err, &rpcErr)
	require.Equal(t, code, rpcErr.Code, rpcErr.Message)
	return rpcErr
}
