package bridge

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/charmbracelet/log"
	"github.com/ethereum/go-ethereum/common"
)

// DefaultRequestTimeout bounds how long a call waits for the host.
const DefaultRequestTimeout = 5 * time.Minute

// RequestArguments is the argument of Provider.Request.
type RequestArguments struct {
	Method string `json:"method"`
	Params []any  `json:"params,omitempty"`
}

// JSONRPCRequest is the payload accepted by the legacy Send/SendAsync calls.
type JSONRPCRequest struct {
	ID      any    `json:"id"`
	JSONRPC string `json:"jsonrpc"`
	Method  string `json:"method"`
	Params  []any  `json:"params,omitempty"`
}

// JSONRPCResponse is what legacy callbacks receive on success.
type JSONRPCResponse struct {
	ID      any             `json:"id"`
	JSONRPC string          `json:"jsonrpc"`
	Result  json.RawMessage `json:"result"`
}

// Callback is the legacy (error, response) calling convention.
type Callback func(err error, resp *JSONRPCResponse)

// ProviderOption configures a Provider.
type ProviderOption func(*Provider)

// WithRequestTimeout overrides DefaultRequestTimeout.
func WithRequestTimeout(d time.Duration) ProviderOption {
	return func(p *Provider) { p.timeout = d }
}

// WithProviderLogger sets the provider's logger.
func WithProviderLogger(l *log.Logger) ProviderOption {
	return func(p *Provider) { p.logger = l }
}

// WithProviderMetrics records pending calls and timeouts on m.
func WithProviderMetrics(m *ProviderMetrics) ProviderOption {
	return func(p *Provider) { p.metrics = m }
}

// Provider is the call surface handed to dapp code. It only talks to its
// parent port and only accepts messages coming back from it.
type Provider struct {
	parent       Port
	walletOrigin string
	timeout      time.Duration
	logger       *log.Logger
	metrics      *ProviderMetrics

	nextID  atomic.Uint64
	pending *pendingTable
	events  *emitter

	closeOnce sync.Once
	closed    atomic.Bool
}

// NewProvider returns a provider that posts to parent and trusts replies
// only from walletOrigin.
func NewProvider(parent Port, walletOrigin string, opts ...ProviderOption) (*Provider, error) {
	if parent == nil {
		return nil, fmt.Errorf("bridge: provider needs a parent port")
	}
	origin, err := NormalizeOrigin(walletOrigin)
	if err != nil {
		return nil, err
	}
	p := &Provider{
		parent:       parent,
		walletOrigin: origin,
		timeout:      DefaultRequestTimeout,
		pending:      newPendingTable(),
		events:       newEmitter(),
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.logger == nil {
		p.logger = log.New(io.Discard)
	}
	return p, nil
}

// Request posts a call to the host and waits for its result. It returns
// ErrRequestTimeout when no response arrives in time, the host's *RPCError
// when the call fails there, or ctx.Err() when ctx ends first.
func (p *Provider) Request(ctx context.Context, args RequestArguments) (json.RawMessage, error) {
	if p.closed.Load() {
		return nil, ErrProviderClosed
	}
	params := args.Params
	if params == nil {
		params = []any{}
	}
	rawParams, err := json.Marshal(params)
	if err != nil {
		return nil, fmt.Errorf("bridge: encode params for %s: %w", args.Method, err)
	}

	call := newPendingCall(p.nextID.Add(1), args.Method)
	data, err := json.Marshal(RequestEnvelope{
		Type: TypeRequest,
		ID:   call.id,
		Data: RequestData{Method: args.Method, Params: rawParams},
	})
	if err != nil {
		return nil, fmt.Errorf("bridge: encode request: %w", err)
	}

	if err := p.pending.insert(call, p.timeout, p.onTimeout); err != nil {
		return nil, err
	}
	p.metrics.pending(1)
	if p.closed.Load() {
		// Close may have drained before the insert landed.
		if _, ok := p.pending.take(call.id); ok {
			p.metrics.pending(-1)
			return nil, ErrProviderClosed
		}
		out := <-call.done
		return out.result, out.err
	}

	if err := p.parent.PostMessage(data, p.walletOrigin); err != nil {
		if _, ok := p.pending.take(call.id); ok {
			p.metrics.pending(-1)
		}
		return nil, fmt.Errorf("bridge: post %s: %w", args.Method, err)
	}

	select {
	case out := <-call.done:
		return out.result, out.err
	case <-ctx.Done():
		if _, ok := p.pending.take(call.id); ok {
			p.metrics.pending(-1)
			return nil, ctx.Err()
		}
		// Someone else already removed the call and is about to settle it.
		out := <-call.done
		return out.result, out.err
	}
}

func (p *Provider) onTimeout(c *pendingCall) {
	p.metrics.pending(-1)
	p.metrics.timeout()
	p.logger.Warn("provider request timed out", "id", c.id, "method", c.method, "after", p.timeout)
}

// Send runs a legacy JSON-RPC payload and invokes cb before returning.
func (p *Provider) Send(ctx context.Context, payload JSONRPCRequest, cb Callback) {
	result, err := p.Request(ctx, RequestArguments{Method: payload.Method, Params: payload.Params})
	if err != nil {
		cb(err, nil)
		return
	}
	cb(nil, &JSONRPCResponse{ID: payload.ID, JSONRPC: "2.0", Result: result})
}

// SendAsync is Send on its own goroutine.
func (p *Provider) SendAsync(ctx context.Context, payload JSONRPCRequest, cb Callback) {
	go p.Send(ctx, payload, cb)
}

// On registers fn for event.
func (p *Provider) On(event string, fn Listener) ListenerID {
	return p.events.on(event, fn)
}

// RemoveListener unregisters a listener returned by On. It reports whether
// the listener was registered.
func (p *Provider) RemoveListener(event string, id ListenerID) bool {
	return p.events.off(event, id)
}

// OnAccountsChanged registers fn for accountsChanged with decoded addresses.
func (p *Provider) OnAccountsChanged(fn func([]common.Address)) ListenerID {
	return p.On(EventAccountsChanged, func(params json.RawMessage) {
		var accounts []common.Address
		if err := json.Unmarshal(params, &accounts); err != nil {
			p.logger.Debug("dropping malformed accountsChanged", "err", err)
			return
		}
		fn(accounts)
	})
}

// HandleMessage feeds one inbound message to the provider. Messages from
// another source or origin, malformed envelopes and unknown ids are ignored.
func (p *Provider) HandleMessage(ev MessageEvent) {
	if ev.Source != p.parent || ev.Origin != p.walletOrigin {
		return
	}
	typ, ok := envelopeType(ev.Data)
	if !ok {
		return
	}
	switch typ {
	case TypeResponse:
		var env ResponseEnvelope
		if err := json.Unmarshal(ev.Data, &env); err != nil || !env.Data.valid() {
			p.logger.Debug("dropping malformed response", "err", err)
			return
		}
		call, ok := p.pending.take(env.ID)
		if !ok {
			return
		}
		p.metrics.pending(-1)
		if env.Data.Error != nil {
			call.settle(outcome{err: env.Data.Error})
			return
		}
		call.settle(outcome{result: env.Data.Result})
	case TypeEvent:
		var env EventEnvelope
		if err := json.Unmarshal(ev.Data, &env); err != nil || env.Data.Event == "" {
			return
		}
		p.events.emit(env.Data.Event, env.Data.Params)
	}
}

// Pending reports how many calls await a response.
func (p *Provider) Pending() int {
	return p.pending.len()
}

// Close rejects every pending call with ErrProviderClosed. Later calls fail
// immediately.
func (p *Provider) Close() {
	p.closeOnce.Do(func() {
		p.closed.Store(true)
		for _, c := range p.pending.drain() {
			p.metrics.pending(-1)
			c.settle(outcome{err: ErrProviderClosed})
		}
	})
}
