// Package approval suspends sensitive wallet operations until the user makes
// an explicit decision.
//
// Requesters call Gate.RequestDecision and block. The UI calls Gate.Next to
// receive the request to present and answers it exactly once with Approve or
// Reject. Requests are presented one at a time; in ModeQueue later requests
// wait their turn, in ModeReject they fail immediately with ErrBusy.
package approval

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/charmbracelet/log"
)

// Kind classifies what the user is asked to approve.
type Kind string

const (
	KindConnect       Kind = "connect"
	KindTransaction   Kind = "transaction"
	KindMessageSign   Kind = "message-sign"
	KindTypedDataSign Kind = "typed-data-sign"
)

// Mode selects how a request arriving while another is outstanding is handled.
type Mode string

const (
	ModeQueue  Mode = "queue"
	ModeReject Mode = "reject"
)

// ParseMode validates a configured mode. An empty string means ModeQueue.
func ParseMode(s string) (Mode, error) {
	switch Mode(s) {
	case "", ModeQueue:
		return ModeQueue, nil
	case ModeReject:
		return ModeReject, nil
	}
	return "", fmt.Errorf("approval: unknown mode %q", s)
}

var (
	// ErrAlreadyDecided is returned when a request is decided a second time
	// or after its requester went away.
	ErrAlreadyDecided = errors.New("approval: request already decided")
	// ErrBusy is returned in ModeReject while another request is outstanding,
	// and in either mode once an origin has reached its limit.
	ErrBusy = errors.New("approval: another request is awaiting a decision")
	// ErrClosed is returned once the gate is closed, also to requests that
	// were still waiting when it closed.
	ErrClosed = errors.New("approval: gate closed")
)

// DefaultRejectReason is used when the UI rejects without a reason.
const DefaultRejectReason = "User rejected the request"

// RejectedError is returned to the requester when the user says no.
type RejectedError struct {
	Kind   Kind
	Reason string
}

func (e *RejectedError) Error() string {
	return fmt.Sprintf("approval: %s rejected: %s", e.Kind, e.Reason)
}

// Decision is the user's answer.
type Decision struct {
	Approved bool
	Reason   string

	// closed marks the answer Close gives to requests still waiting.
	closed bool
}

const (
	statePending int32 = iota
	stateDecided
)

// Request is one decision presented to the user.
type Request struct {
	ID        uint64
	Kind      Kind
	Origin    string
	Payload   any
	CreatedAt time.Time

	gate      *Gate
	state     atomic.Int32
	decision  chan Decision
	presented bool // guarded by gate.mu
}

// Approve resolves the request positively.
func (r *Request) Approve() error {
	return r.decide(Decision{Approved: true})
}

// Reject resolves the request negatively.
func (r *Request) Reject(reason string) error {
	if reason == "" {
		reason = DefaultRejectReason
	}
	return r.decide(Decision{Reason: reason})
}

// Decided reports whether the request has been answered or withdrawn.
func (r *Request) Decided() bool {
	return r.state.Load() == stateDecided
}

func (r *Request) decide(d Decision) error {
	if !r.state.CompareAndSwap(statePending, stateDecided) {
		return ErrAlreadyDecided
	}
	r.decision <- d
	r.gate.release(r)
	return nil
}

// DefaultOriginLimit caps the requests one origin may have outstanding in
// ModeQueue.
const DefaultOriginLimit = 8

// GateOption configures a Gate.
type GateOption func(*Gate)

// WithOriginLimit overrides DefaultOriginLimit. n <= 0 removes the cap.
func WithOriginLimit(n int) GateOption {
	return func(g *Gate) { g.originLimit = n }
}

// Gate brokers decisions between requesters and a single UI.
type Gate struct {
	mode        Mode
	logger      *log.Logger
	originLimit int

	mu      sync.Mutex
	nextID  uint64
	current *Request
	queue   []*Request
	changed chan struct{}
	closed  bool
}

// NewGate returns an open gate.
func NewGate(mode Mode, logger *log.Logger, opts ...GateOption) *Gate {
	if logger == nil {
		logger = log.New(io.Discard)
	}
	if mode == "" {
		mode = ModeQueue
	}
	g := &Gate{mode: mode, logger: logger, originLimit: DefaultOriginLimit, changed: make(chan struct{})}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// outstandingLocked counts the undecided requests from origin.
func (g *Gate) outstandingLocked(origin string) int {
	n := 0
	if g.current != nil && g.current.Origin == origin {
		n++
	}
	for _, r := range g.queue {
		if r.Origin == origin {
			n++
		}
	}
	return n
}

// RequestDecision blocks until the user decides or ctx ends. A rejection is
// returned as *RejectedError alongside the decision.
func (g *Gate) RequestDecision(ctx context.Context, kind Kind, origin string, payload any) (Decision, error) {
	g.mu.Lock()
	if g.closed {
		g.mu.Unlock()
		return Decision{}, ErrClosed
	}
	if g.mode == ModeReject && g.current != nil {
		g.mu.Unlock()
		g.logger.Warn("approval refused, gate busy", "kind", kind, "origin", origin)
		return Decision{}, ErrBusy
	}
	if g.originLimit > 0 && g.outstandingLocked(origin) >= g.originLimit {
		g.mu.Unlock()
		g.logger.Warn("approval refused, origin has too many waiting", "kind", kind, "origin", origin, "limit", g.originLimit)
		return Decision{}, ErrBusy
	}
	g.nextID++
	req := &Request{
		ID:        g.nextID,
		Kind:      kind,
		Origin:    origin,
		Payload:   payload,
		CreatedAt: time.Now(),
		gate:      g,
		decision:  make(chan Decision, 1),
	}
	if g.current == nil {
		g.current = req
	} else {
		g.queue = append(g.queue, req)
	}
	g.broadcastLocked()
	g.mu.Unlock()

	g.logger.Info("approval requested", "id", req.ID, "kind", kind, "origin", origin)

	select {
	case d := <-req.decision:
		return g.result(req, d)
	case <-ctx.Done():
		if req.state.CompareAndSwap(statePending, stateDecided) {
			g.release(req)
			g.logger.Info("approval withdrawn", "id", req.ID, "err", ctx.Err())
			return Decision{}, ctx.Err()
		}
		return g.result(req, <-req.decision)
	}
}

func (g *Gate) result(req *Request, d Decision) (Decision, error) {
	if d.closed {
		g.logger.Info("approval abandoned, gate closed", "id", req.ID, "kind", req.Kind)
		return Decision{}, ErrClosed
	}
	if !d.Approved {
		g.logger.Info("approval rejected", "id", req.ID, "kind", req.Kind, "reason", d.Reason)
		return d, &RejectedError{Kind: req.Kind, Reason: d.Reason}
	}
	g.logger.Info("approval granted", "id", req.ID, "kind", req.Kind)
	return d, nil
}

// release takes a decided request out of the gate and presents the next one.
func (g *Gate) release(r *Request) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.current == r {
		g.current = nil
		if len(g.queue) > 0 {
			g.current = g.queue[0]
			g.queue = g.queue[1:]
		}
	} else {
		for i, q := range g.queue {
			if q == r {
				g.queue = append(g.queue[:i], g.queue[i+1:]...)
				break
			}
		}
	}
	g.broadcastLocked()
}

func (g *Gate) broadcastLocked() {
	close(g.changed)
	g.changed = make(chan struct{})
}

// Next blocks until a request is ready to be shown and returns it. Each
// request is returned by Next once.
func (g *Gate) Next(ctx context.Context) (*Request, error) {
	for {
		g.mu.Lock()
		if g.closed {
			g.mu.Unlock()
			return nil, ErrClosed
		}
		if c := g.current; c != nil && !c.presented {
			c.presented = true
			g.mu.Unlock()
			return c, nil
		}
		ch := g.changed
		g.mu.Unlock()

		select {
		case <-ch:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

// Current returns the request being presented, or nil.
func (g *Gate) Current() *Request {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.current
}

// Len counts the outstanding requests, the presented one included.
func (g *Gate) Len() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	n := len(g.queue)
	if g.current != nil {
		n++
	}
	return n
}

// Close rejects every outstanding request and makes further calls fail
// with ErrClosed.
func (g *Gate) Close() {
	g.mu.Lock()
	if g.closed {
		g.mu.Unlock()
		return
	}
	g.closed = true
	outstanding := append([]*Request(nil), g.queue...)
	if g.current != nil {
		outstanding = append(outstanding, g.current)
	}
	g.current, g.queue = nil, nil
	g.broadcastLocked()
	g.mu.Unlock()

	for _, r := range outstanding {
		if r.state.CompareAndSwap(statePending, stateDecided) {
			r.decision <- Decision{Reason: "wallet closed", closed: true}
		}
	}
}
