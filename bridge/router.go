package bridge

import (
	"bytes"
	"context"
	"crypto/ecdsa"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/big"
	"strings"
	"sync"
	"time"
	"unicode"
	"unicode/utf8"

	"charm-wallet-bridge/approval"
	"charm-wallet-bridge/wallet"

	"github.com/charmbracelet/log"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"
)

// AccountStore is the wallet's local key material.
type AccountStore interface {
	Accounts() []common.Address
	PrivateKey(addr common.Address) (*ecdsa.PrivateKey, bool)
}

// SigningDelegate performs the actual signing once a request is approved.
type SigningDelegate interface {
	SignTransaction(ctx context.Context, f wallet.TxFields, key *ecdsa.PrivateKey) (common.Hash, error)
	SignPersonalMessage(msg []byte, key *ecdsa.PrivateKey) ([]byte, error)
	SignTypedData(td apitypes.TypedData, key *ecdsa.PrivateKey) ([]byte, error)
}

// DecisionGate suspends a request until the user decides. *approval.Gate
// satisfies it.
type DecisionGate interface {
	RequestDecision(ctx context.Context, kind approval.Kind, origin string, payload any) (approval.Decision, error)
}

// ConnectPolicy selects whether account disclosure asks the user first.
type ConnectPolicy string

const (
	// ConnectAuto discloses the first local account without a prompt.
	ConnectAuto ConnectPolicy = "auto"
	// ConnectPrompt asks the user before eth_requestAccounts connects an
	// origin. eth_accounts never prompts and returns [] until connected.
	ConnectPrompt ConnectPolicy = "prompt"
)

// ParseConnectPolicy validates a configured policy. Empty means ConnectAuto.
func ParseConnectPolicy(s string) (ConnectPolicy, error) {
	switch ConnectPolicy(s) {
	case "", ConnectAuto:
		return ConnectAuto, nil
	case ConnectPrompt:
		return ConnectPrompt, nil
	}
	return "", fmt.Errorf("bridge: unknown connect policy %q", s)
}

// HostOptions wires a Host to its collaborators. Accounts, Signer and Gate
// are required.
type HostOptions struct {
	Accounts      AccountStore
	Signer        SigningDelegate
	Gate          DecisionGate
	Connections   *ConnectionTable
	ConnectPolicy ConnectPolicy
	Logger        *log.Logger
	Metrics       *Metrics
}

// Host is the trusted side of the bridge. It owns the connection table and
// routes requests from every attached frame.
type Host struct {
	accounts AccountStore
	signer   SigningDelegate
	gate     DecisionGate
	conns    *ConnectionTable
	policy   ConnectPolicy
	logger   *log.Logger
	metrics  *Metrics

	mu       sync.Mutex
	sessions map[*Session]struct{}
	active   common.Address
}

// NewHost validates opts and returns a host.
func NewHost(opts HostOptions) (*Host, error) {
	if opts.Accounts == nil || opts.Signer == nil || opts.Gate == nil {
		return nil, errors.New("bridge: host needs accounts, signer and gate")
	}
	if opts.Connections == nil {
		opts.Connections = NewConnectionTable()
	}
	policy, err := ParseConnectPolicy(string(opts.ConnectPolicy))
	if err != nil {
		return nil, err
	}
	if opts.Logger == nil {
		opts.Logger = log.New(io.Discard)
	}
	return &Host{
		accounts: opts.Accounts,
		signer:   opts.Signer,
		gate:     opts.Gate,
		conns:    opts.Connections,
		policy:   policy,
		logger:   opts.Logger,
		metrics:  opts.Metrics,
		sessions: make(map[*Session]struct{}),
	}, nil
}

// Attach starts serving the frame reachable through port, whose content
// belongs to origin. Only messages whose source is port and whose origin
// is origin are routed, and replies are posted back to origin only.
func (h *Host) Attach(port Port, origin string) (*Session, error) {
	if port == nil {
		return nil, errors.New("bridge: attach needs a port")
	}
	origin, err := NormalizeOrigin(origin)
	if err != nil {
		return nil, err
	}
	ctx, cancel := context.WithCancel(context.Background())
	s := &Session{
		host:   h,
		port:   port,
		origin: origin,
		ctx:    ctx,
		cancel: cancel,
		logger: h.logger.With("origin", origin),
	}
	h.mu.Lock()
	h.sessions[s] = struct{}{}
	h.mu.Unlock()
	s.logger.Debug("frame attached")
	return s, nil
}

// Connections lists the connected origins.
func (h *Host) Connections() []Connection {
	return h.conns.List()
}

// Disconnect forgets origin's connection and tells its frames their
// accounts are gone. It reports whether origin was connected.
func (h *Host) Disconnect(origin string) bool {
	if !h.conns.Delete(origin) {
		return false
	}
	h.metrics.connections(h.conns.Len())
	h.logger.Info("dapp disconnected", "origin", origin)
	h.notifyOrigin(origin, EventAccountsChanged, []common.Address{})
	return true
}

// SwitchAccount discloses addr to every connected origin in place of the
// accounts it had, and pushes accountsChanged to their frames.
func (h *Host) SwitchAccount(addr common.Address) error {
	if _, ok := h.accounts.PrivateKey(addr); !ok {
		return ErrSignerNotFound
	}
	for _, c := range h.conns.List() {
		h.conns.Set(c.Origin, []common.Address{addr})
		h.notifyOrigin(c.Origin, EventAccountsChanged, []common.Address{addr})
	}
	h.mu.Lock()
	h.active = addr
	h.mu.Unlock()
	h.logger.Info("active account switched", "account", addr.Hex())
	return nil
}

// ActiveAccount is the account disclosed to newly connecting origins: the
// last one switched to, or the first local account.
func (h *Host) ActiveAccount() (common.Address, bool) {
	h.mu.Lock()
	active := h.active
	h.mu.Unlock()
	if active != (common.Address{}) {
		if _, ok := h.accounts.PrivateKey(active); ok {
			return active, true
		}
	}
	local := h.accounts.Accounts()
	if len(local) == 0 {
		return common.Address{}, false
	}
	return local[0], true
}

// Close detaches every session.
func (h *Host) Close() {
	h.mu.Lock()
	sessions := make([]*Session, 0, len(h.sessions))
	for s := range h.sessions {
		sessions = append(sessions, s)
	}
	h.mu.Unlock()
	for _, s := range sessions {
		s.Close()
	}
}

func (h *Host) notifyOrigin(origin, event string, params any) {
	h.mu.Lock()
	var targets []*Session
	for s := range h.sessions {
		if s.origin == origin {
			targets = append(targets, s)
		}
	}
	h.mu.Unlock()
	for _, s := range targets {
		if err := s.Notify(event, params); err != nil {
			s.logger.Warn("event not delivered", "event", event, "err", err)
		}
	}
}

func (h *Host) detach(s *Session) {
	h.mu.Lock()
	delete(h.sessions, s)
	h.mu.Unlock()
}

// Session serves one attached frame.
type Session struct {
	host   *Host
	port   Port
	origin string
	logger *log.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	mu     sync.Mutex
	closed bool
}

// Origin is the origin the session was attached with.
func (s *Session) Origin() string { return s.origin }

// HandleMessage routes one inbound message. Anything that is not a request
// from the attached frame is ignored. Each request is dispatched on its own
// goroutine and always answered.
func (s *Session) HandleMessage(ev MessageEvent) {
	if ev.Source != s.port || ev.Origin != s.origin {
		return
	}
	if typ, ok := envelopeType(ev.Data); !ok || typ != TypeRequest {
		return
	}
	var env RequestEnvelope
	if err := json.Unmarshal(ev.Data, &env); err != nil {
		s.logger.Debug("dropping malformed request", "err", err)
		return
	}
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.wg.Add(1)
	s.mu.Unlock()
	go func() {
		defer s.wg.Done()
		s.serve(env)
	}()
}

// Notify pushes an out-of-band event to the frame.
func (s *Session) Notify(event string, params any) error {
	raw, err := json.Marshal(params)
	if err != nil {
		return fmt.Errorf("bridge: encode %s params: %w", event, err)
	}
	data, err := json.Marshal(EventEnvelope{
		Type: TypeEvent,
		Data: EventData{Event: event, Params: raw},
	})
	if err != nil {
		return err
	}
	return s.port.PostMessage(data, s.origin)
}

// Close stops routing, withdraws the session's outstanding approvals and
// waits for in-flight dispatches to finish.
func (s *Session) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.mu.Unlock()
	s.cancel()
	s.wg.Wait()
	s.host.detach(s)
	s.logger.Debug("frame detached")
}

func (s *Session) serve(env RequestEnvelope) {
	method := env.Data.Method
	result, err := s.dispatchSafely(method, env.Data.Params)

	resp := ResponseEnvelope{Type: TypeResponse, ID: env.ID}
	if err == nil {
		resp.Data.Result, err = json.Marshal(result)
	}
	if err != nil {
		resp.Data = ResponseData{Error: toRPCError(err)}
		s.host.metrics.request(method, outcomeOf(resp.Data.Error))
		s.logger.Info("request failed", "id", env.ID, "method", method, "code", resp.Data.Error.Code, "err", resp.Data.Error.Message)
	} else {
		s.host.metrics.request(method, "ok")
		s.logger.Debug("request served", "id", env.ID, "method", method)
	}

	data, err := json.Marshal(resp)
	if err != nil {
		s.logger.Error("encode response", "id", env.ID, "err", err)
		return
	}
	if err := s.port.PostMessage(data, s.origin); err != nil {
		s.logger.Warn("response not delivered", "id", env.ID, "method", method, "err", err)
	}
}

func outcomeOf(e *RPCError) string {
	switch {
	case strings.HasPrefix(e.Message, "Unsupported method"):
		return "unsupported"
	case e.Code == CodeUserRejected || e.Code == CodeUserRejectedConnection:
		return "rejected"
	}
	return "error"
}

// dispatchSafely turns a panic in any handler into an internal error.
func (s *Session) dispatchSafely(method string, rawParams json.RawMessage) (result any, err error) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("dispatch panicked", "method", method, "panic", r)
			result, err = nil, fmt.Errorf("internal error handling %s", method)
		}
	}()
	params, err := decodeParams(rawParams)
	if err != nil {
		return nil, invalidParams("params must be an array")
	}
	return s.dispatch(s.ctx, method, params)
}

func (s *Session) dispatch(ctx context.Context, method string, params []json.RawMessage) (any, error) {
	switch method {
	case MethodAccounts:
		return s.disclose(ctx, false)
	case MethodRequestAccounts:
		return s.disclose(ctx, true)
	case MethodSendTransaction:
		return s.sendTransaction(ctx, params)
	case MethodPersonalSign:
		return s.personalSign(ctx, params)
	case MethodSignTypedDataV4:
		return s.signTypedData(ctx, params)
	}
	return nil, unsupportedMethod(method)
}

func (s *Session) disclose(ctx context.Context, prompt bool) ([]common.Address, error) {
	if c, ok := s.host.conns.Get(s.origin); ok {
		return c.Accounts, nil
	}
	account, ok := s.host.ActiveAccount()
	if !ok {
		return []common.Address{}, nil
	}

	if s.host.policy == ConnectPrompt {
		if !prompt {
			return []common.Address{}, nil
		}
		if err := s.approve(ctx, approval.KindConnect, approval.ConnectPayload{Account: account}); err != nil {
			return nil, err
		}
		// another request may have connected the origin while we waited
		if c, ok := s.host.conns.Get(s.origin); ok {
			return c.Accounts, nil
		}
	}

	c := s.host.conns.Set(s.origin, []common.Address{account})
	s.host.metrics.connections(s.host.conns.Len())
	s.logger.Info("dapp connected", "account", account.Hex())
	return c.Accounts, nil
}

func (s *Session) sendTransaction(ctx context.Context, params []json.RawMessage) (string, error) {
	if len(params) == 0 {
		return "", invalidParams("missing transaction object")
	}
	var f wallet.TxFields
	if err := json.Unmarshal(params[0], &f); err != nil {
		return "", invalidParams("invalid transaction object: %v", err)
	}
	payload := approval.TransactionPayload{
		From:   f.From,
		To:     f.To,
		Value:  f.ValueWei(),
		Data:   f.Calldata(),
		Fields: indentJSON(params[0]),
	}
	if err := s.approve(ctx, approval.KindTransaction, payload); err != nil {
		return "", err
	}
	key, err := s.signingKey(f.From)
	if err != nil {
		return "", err
	}
	hash, err := s.host.signer.SignTransaction(ctx, f, key)
	if errors.Is(err, wallet.ErrInvalidTransaction) {
		return "", invalidParams("%s", strings.TrimPrefix(err.Error(), "wallet: "))
	}
	if err != nil {
		return "", err
	}
	s.logger.Info("transaction sent", "hash", hash.Hex())
	return hash.Hex(), nil
}

func (s *Session) personalSign(ctx context.Context, params []json.RawMessage) (string, error) {
	if len(params) < 2 {
		return "", invalidParams("personal_sign expects [message, address]")
	}
	var rawMsg string
	if err := json.Unmarshal(params[0], &rawMsg); err != nil {
		return "", invalidParams("message must be a string")
	}
	addr, err := parseAddress(params[1])
	if err != nil {
		return "", err
	}
	msg, text, decoded := decodeMessage(rawMsg)
	payload := approval.MessagePayload{Address: addr, Raw: rawMsg, Text: text, Decoded: decoded}
	if err := s.approve(ctx, approval.KindMessageSign, payload); err != nil {
		return "", err
	}
	key, err := s.signingKey(addr)
	if err != nil {
		return "", err
	}
	sig, err := s.host.signer.SignPersonalMessage(msg, key)
	if err != nil {
		return "", err
	}
	return hexutil.Encode(sig), nil
}

func (s *Session) signTypedData(ctx context.Context, params []json.RawMessage) (string, error) {
	if len(params) < 2 {
		return "", invalidParams("eth_signTypedData_v4 expects [address, typedData]")
	}
	addr, err := parseAddress(params[0])
	if err != nil {
		return "", err
	}
	td, raw, err := parseTypedData(params[1])
	if err != nil {
		return "", err
	}
	payload := approval.TypedDataPayload{
		Address:     addr,
		PrimaryType: td.PrimaryType,
		Domain:      describeDomain(td.Domain),
		Pretty:      indentJSON(raw),
	}
	if err := s.approve(ctx, approval.KindTypedDataSign, payload); err != nil {
		return "", err
	}
	key, err := s.signingKey(addr)
	if err != nil {
		return "", err
	}
	sig, err := s.host.signer.SignTypedData(td, key)
	if err != nil {
		return "", err
	}
	return hexutil.Encode(sig), nil
}

// approve waits for the user and maps a refusal onto the wire error codes.
func (s *Session) approve(ctx context.Context, kind approval.Kind, payload any) error {
	start := time.Now()
	_, err := s.host.gate.RequestDecision(ctx, kind, s.origin, payload)
	s.host.metrics.approvalWait(string(kind), start)
	if err == nil {
		return nil
	}
	var rejected *approval.RejectedError
	switch {
	case errors.As(err, &rejected):
		if kind == approval.KindConnect {
			return &RPCError{Code: CodeUserRejectedConnection, Message: "User rejected the connection request"}
		}
		return &RPCError{Code: CodeUserRejected, Message: rejected.Reason}
	case errors.Is(err, approval.ErrBusy):
		return &RPCError{Code: CodeInternal, Message: "Another request is awaiting approval"}
	case errors.Is(err, approval.ErrClosed), errors.Is(err, context.Canceled):
		return &RPCError{Code: CodeDisconnected, Message: "Wallet disconnected"}
	}
	return fmt.Errorf("approval: %w", err)
}

func (s *Session) signingKey(addr common.Address) (*ecdsa.PrivateKey, error) {
	key, ok := s.host.accounts.PrivateKey(addr)
	if !ok {
		s.logger.Warn("no key for requested signer", "address", addr.Hex())
		return nil, ErrSignerNotFound
	}
	return key, nil
}

func parseAddress(raw json.RawMessage) (common.Address, error) {
	var s string
	if err := json.Unmarshal(raw, &s); err != nil || !common.IsHexAddress(s) {
		return common.Address{}, invalidParams("invalid address %s", string(raw))
	}
	return common.HexToAddress(s), nil
}

// parseTypedData accepts the structure either as a JSON string or inline.
// It also returns the structure's JSON for display.
func parseTypedData(raw json.RawMessage) (apitypes.TypedData, []byte, error) {
	var td apitypes.TypedData
	var asString string
	if err := json.Unmarshal(raw, &asString); err == nil {
		raw = json.RawMessage(asString)
	}
	if err := json.Unmarshal(raw, &td); err != nil {
		return td, nil, invalidParams("invalid typed data: %v", err)
	}
	if td.PrimaryType == "" || len(td.Types) == 0 {
		return td, nil, invalidParams("typed data needs types and primaryType")
	}
	return td, raw, nil
}

func describeDomain(d apitypes.TypedDataDomain) string {
	parts := []string{}
	if d.Name != "" {
		parts = append(parts, d.Name)
	}
	if d.Version != "" {
		parts = append(parts, "v"+d.Version)
	}
	if d.ChainId != nil {
		parts = append(parts, "chain "+(*big.Int)(d.ChainId).String())
	}
	if d.VerifyingContract != "" {
		parts = append(parts, d.VerifyingContract)
	}
	return strings.Join(parts, " · ")
}

func indentJSON(raw []byte) string {
	var out bytes.Buffer
	if err := json.Indent(&out, raw, "", "  "); err != nil {
		return string(raw)
	}
	return out.String()
}

// decodeMessage returns the bytes to sign for a personal_sign message and
// the text to show the user. Hex input is decoded; when the result is not
// readable text, the raw value is shown instead.
func decodeMessage(raw string) (msg []byte, text string, decoded bool) {
	if !strings.HasPrefix(raw, "0x") && !strings.HasPrefix(raw, "0X") {
		return []byte(raw), raw, false
	}
	b, err := hexutil.Decode(raw)
	if err != nil {
		return []byte(raw), raw, false
	}
	if !readable(b) {
		return b, raw, false
	}
	return b, string(b), true
}

func readable(b []byte) bool {
	if len(b) == 0 || !utf8.Valid(b) {
		return false
	}
	for _, r := range string(b) {
		if !unicode.IsPrint(r) && !unicode.IsSpace(r) {
			return false
		}
	}
	return true
}
