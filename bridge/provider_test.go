package bridge

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type callResult struct {
	raw json.RawMessage
	err error
}

func newTestProvider(t *testing.T, opts ...ProviderOption) (*Provider, *testPort) {
	t.Helper()
	parent := &testPort{target: walletOrigin}
	p, err := NewProvider(parent, walletOrigin, opts...)
	require.NoError(t, err)
	t.Cleanup(p.Close)
	return p, parent
}

func startCall(p *Provider, method string) <-chan callResult {
	out := make(chan callResult, 1)
	go func() {
		raw, err := p.Request(context.Background(), RequestArguments{Method: method})
		out <- callResult{raw, err}
	}()
	return out
}

func wait(t *testing.T, ch <-chan callResult) callResult {
	t.Helper()
	select {
	case r := <-ch:
		return r
	case <-time.After(2 * time.Second):
		t.Fatal("call did not settle")
		return callResult{}
	}
}

func TestNewProviderRejectsWildcard(t *testing.T) {
	_, err := NewProvider(&testPort{}, "*")
	assert.ErrorIs(t, err, ErrWildcardOrigin)

	_, err = NewProvider(nil, walletOrigin)
	assert.Error(t, err)
}

func TestProviderRequestEnvelope(t *testing.T) {
	p, parent := newTestProvider(t)
	res := startCall(p, MethodAccounts)

	req := parent.waitRequests(t, 1)[0]
	assert.Equal(t, TypeRequest, req.Type)
	assert.Equal(t, MethodAccounts, req.Data.Method)
	assert.JSONEq(t, `[]`, string(req.Data.Params))

	p.HandleMessage(MessageEvent{Source: parent, Origin: walletOrigin, Data: responseFrom(t, req.ID, []string{"0xabc"}, nil)})
	r := wait(t, res)
	require.NoError(t, r.err)
	assert.JSONEq(t, `["0xabc"]`, string(r.raw))
	assert.Zero(t, p.Pending())
}

func TestProviderCorrelationUniqueness(t *testing.T) {
	p, parent := newTestProvider(t)
	const n = 50

	results := make([]<-chan callResult, n)
	for i := range results {
		results[i] = startCall(p, "eth_test")
	}
	reqs := parent.waitRequests(t, n)

	seen := make(map[uint64]bool, n)
	for _, r := range reqs {
		require.False(t, seen[r.ID], "id %d issued twice", r.ID)
		seen[r.ID] = true
	}
	assert.Equal(t, n, p.Pending())

	// answer every request with its own id
	for _, r := range reqs {
		p.HandleMessage(MessageEvent{Source: parent, Origin: walletOrigin, Data: responseFrom(t, r.ID, r.ID, nil)})
	}
	got := make(map[uint64]bool, n)
	for _, ch := range results {
		r := wait(t, ch)
		require.NoError(t, r.err)
		var id uint64
		require.NoError(t, json.Unmarshal(r.raw, &id))
		got[id] = true
	}
	assert.Len(t, got, n)
	assert.Zero(t, p.Pending())
}

func TestProviderOutOfOrderResponses(t *testing.T) {
	p, parent := newTestProvider(t)

	a := startCall(p, "eth_a")
	parent.waitRequests(t, 1)
	b := startCall(p, "eth_b")
	reqs := parent.waitRequests(t, 2)
	idA, idB := reqs[0].ID, reqs[1].ID
	require.Equal(t, "eth_a", reqs[0].Data.Method)

	p.HandleMessage(MessageEvent{Source: parent, Origin: walletOrigin, Data: responseFrom(t, idB, "for-b", nil)})
	rb := wait(t, b)
	require.NoError(t, rb.err)
	assert.JSONEq(t, `"for-b"`, string(rb.raw))

	p.HandleMessage(MessageEvent{Source: parent, Origin: walletOrigin, Data: responseFrom(t, idA, "for-a", nil)})
	ra := wait(t, a)
	require.NoError(t, ra.err)
	assert.JSONEq(t, `"for-a"`, string(ra.raw))
}

func TestProviderErrorResponse(t *testing.T) {
	p, parent := newTestProvider(t)
	res := startCall(p, MethodPersonalSign)
	req := parent.waitRequests(t, 1)[0]

	p.HandleMessage(MessageEvent{Source: parent, Origin: walletOrigin, Data: responseFrom(t, req.ID, nil, &RPCError{Code: CodeUserRejected, Message: "User rejected the request"})})
	r := wait(t, res)
	rpcErr := requireCode(t, r.err, CodeUserRejected)
	assert.Equal(t, "User rejected the request", rpcErr.Message)
}

func TestProviderSourceFiltering(t *testing.T) {
	p, parent := newTestProvider(t)
	res := startCall(p, MethodAccounts)
	req := parent.waitRequests(t, 1)[0]
	data := responseFrom(t, req.ID, "spoofed", nil)

	stranger := &testPort{target: walletOrigin}
	p.HandleMessage(MessageEvent{Source: stranger, Origin: walletOrigin, Data: data})
	p.HandleMessage(MessageEvent{Source: parent, Origin: "https://evil.example", Data: data})
	p.HandleMessage(MessageEvent{Source: parent, Origin: walletOrigin, Data: []byte(`{not json`)})
	p.HandleMessage(MessageEvent{Source: parent, Origin: walletOrigin, Data: []byte(`{"type":"provider_response","id":1,"data":{}}`)})

	assert.Equal(t, 1, p.Pending())
	select {
	case <-res:
		t.Fatal("foreign message settled the call")
	case <-time.After(20 * time.Millisecond):
	}

	p.HandleMessage(MessageEvent{Source: parent, Origin: walletOrigin, Data: responseFrom(t, req.ID, "genuine", nil)})
	r := wait(t, res)
	require.NoError(t, r.err)
	assert.JSONEq(t, `"genuine"`, string(r.raw))
}

func TestProviderTimeout(t *testing.T) {
	m := NewProviderMetrics(prometheus.NewRegistry())
	p, parent := newTestProvider(t, WithRequestTimeout(200*time.Millisecond), WithProviderMetrics(m))
	res := startCall(p, MethodAccounts)
	req := parent.waitRequests(t, 1)[0]
	assert.Equal(t, 1.0, testutil.ToFloat64(m.PendingCalls))

	r := wait(t, res)
	assert.ErrorIs(t, r.err, ErrRequestTimeout)
	assert.Zero(t, p.Pending())
	assert.Equal(t, 0.0, testutil.ToFloat64(m.PendingCalls))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Timeouts))

	// a late answer is ignored
	p.HandleMessage(MessageEvent{Source: parent, Origin: walletOrigin, Data: responseFrom(t, req.ID, "late", nil)})
	assert.Zero(t, p.Pending())
}

func TestProviderContextCancel(t *testing.T) {
	p, parent := newTestProvider(t)
	ctx, cancel := context.WithCancel(context.Background())
	out := make(chan error, 1)
	go func() {
		_, err := p.Request(ctx, RequestArguments{Method: MethodAccounts})
		out <- err
	}()
	parent.waitRequests(t, 1)
	cancel()
	assert.ErrorIs(t, <-out, context.Canceled)
	assert.Zero(t, p.Pending())
}

func TestProviderClose(t *testing.T) {
	p, parent := newTestProvider(t)
	res := startCall(p, MethodAccounts)
	parent.waitRequests(t, 1)

	p.Close()
	r := wait(t, res)
	requireCode(t, r.err, CodeDisconnected)

	_, err := p.Request(context.Background(), RequestArguments{Method: MethodAccounts})
	assert.ErrorIs(t, err, ErrProviderClosed)
	p.Close()
}

func TestProviderLegacySend(t *testing.T) {
	p, parent := newTestProvider(t)

	var wg sync.WaitGroup
	wg.Add(1)
	var (
		gotErr  error
		gotResp *JSONRPCResponse
	)
	p.SendAsync(context.Background(), JSONRPCRequest{ID: 42, JSONRPC: "2.0", Method: MethodAccounts}, func(err error, resp *JSONRPCResponse) {
		gotErr, gotResp = err, resp
		wg.Done()
	})
	req := parent.waitRequests(t, 1)[0]
	p.HandleMessage(MessageEvent{Source: parent, Origin: walletOrigin, Data: responseFrom(t, req.ID, []string{}, nil)})
	wg.Wait()

	require.NoError(t, gotErr)
	require.NotNil(t, gotResp)
	assert.Equal(t, 42, gotResp.ID)
	assert.Equal(t, "2.0", gotResp.JSONRPC)
	assert.JSONEq(t, `[]`, string(gotResp.Result))

	t.Run("error", func(t *testing.T) {
		done := make(chan error, 1)
		go p.Send(context.Background(), JSONRPCRequest{ID: "x", Method: "eth_nope"}, func(err error, resp *JSONRPCResponse) {
			assert.Nil(t, resp)
			done <- err
		})
		req := parent.waitRequests(t, 2)[1]
		p.HandleMessage(MessageEvent{Source: parent, Origin: walletOrigin, Data: responseFrom(t, req.ID, nil, unsupportedMethod("eth_nope"))})
		requireCode(t, <-done, CodeInternal)
	})
}

func TestProviderEvents(t *testing.T) {
	p, parent := newTestProvider(t)
	account := common.HexToAddress("0x70997970C51812dc3A010C7d01b50e0d17dc79C8")

	got := make(chan []common.Address, 2)
	id := p.OnAccountsChanged(func(accounts []common.Address) { got <- accounts })

	event, err := json.Marshal(EventEnvelope{
		Type: TypeEvent,
		Data: EventData{Event: EventAccountsChanged, Params: json.RawMessage(`["` + account.Hex() + `"]`)},
	})
	require.NoError(t, err)

	p.HandleMessage(MessageEvent{Source: &testPort{}, Origin: walletOrigin, Data: event})
	p.HandleMessage(MessageEvent{Source: parent, Origin: walletOrigin, Data: event})
	require.Len(t, got, 1)
	assert.Equal(t, []common.Address{account}, <-got)

	assert.True(t, p.RemoveListener(EventAccountsChanged, id))
	assert.False(t, p.RemoveListener(EventAccountsChanged, id))
	p.HandleMessage(MessageEvent{Source: parent, Origin: walletOrigin, Data: event})
	assert.Empty(t, got)
}
