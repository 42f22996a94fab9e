package bridge

import (
	"encoding/json"
	"sync"
	"time"
)

type outcome struct {
	result json.RawMessage
	err    error
}

// pendingCall is one outstanding request. done is buffered so that whoever
// removes the call from the table can settle it without blocking.
type pendingCall struct {
	id     uint64
	method string
	done   chan outcome
	timer  *time.Timer
}

func newPendingCall(id uint64, method string) *pendingCall {
	return &pendingCall{id: id, method: method, done: make(chan outcome, 1)}
}

func (c *pendingCall) settle(o outcome) {
	c.done <- o
}

// pendingTable maps request ids to pending calls. A call is settled only by
// the goroutine that removed it, so each call is settled exactly once.
type pendingTable struct {
	mu    sync.Mutex
	calls map[uint64]*pendingCall
}

func newPendingTable() *pendingTable {
	return &pendingTable{calls: make(map[uint64]*pendingCall)}
}

// insert adds c and arms its timer. When the timer wins, the call is removed
// and rejected with ErrRequestTimeout; other entries are untouched.
func (t *pendingTable) insert(c *pendingCall, timeout time.Duration, onTimeout func(*pendingCall)) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.calls[c.id]; ok {
		return errDuplicateID
	}
	t.calls[c.id] = c
	if timeout > 0 {
		id := c.id
		c.timer = time.AfterFunc(timeout, func() {
			if expired, ok := t.take(id); ok {
				if onTimeout != nil {
					onTimeout(expired)
				}
				expired.settle(outcome{err: ErrRequestTimeout})
			}
		})
	}
	return nil
}

// take removes and returns the call for id, stopping its timer.
func (t *pendingTable) take(id uint64) (*pendingCall, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	c, ok := t.calls[id]
	if !ok {
		return nil, false
	}
	delete(t.calls, id)
	if c.timer != nil {
		c.timer.Stop()
	}
	return c, true
}

// drain removes every call and returns them for settlement.
func (t *pendingTable) drain() []*pendingCall {
	t.mu.Lock()
	defer t.mu.Unlock()
	calls := make([]*pendingCall, 0, len(t.calls))
	for id, c := range t.calls {
		delete(t.calls, id)
		if c.timer != nil {
			c.timer.Stop()
		}
		calls = append(calls, c)
	}
	return calls
}

func (t *pendingTable) len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.calls)
}
