package bridge

import (
	"sort"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// Connection records the accounts disclosed to one origin.
type Connection struct {
	Origin      string
	Accounts    []common.Address
	ConnectedAt time.Time
}

// ConnectionTable holds at most one Connection per origin.
type ConnectionTable struct {
	mu    sync.RWMutex
	conns map[string]Connection
}

// NewConnectionTable returns an empty table.
func NewConnectionTable() *ConnectionTable {
	return &ConnectionTable{conns: make(map[string]Connection)}
}

// Get returns the connection for origin, with its own copy of the accounts.
func (t *ConnectionTable) Get(origin string) (Connection, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	c, ok := t.conns[origin]
	if !ok {
		return Connection{}, false
	}
	c.Accounts = append([]common.Address(nil), c.Accounts...)
	return c, true
}

// Set creates or overwrites the connection for origin.
func (t *ConnectionTable) Set(origin string, accounts []common.Address) Connection {
	c := Connection{
		Origin:      origin,
		Accounts:    append([]common.Address(nil), accounts...),
		ConnectedAt: time.Now(),
	}
	t.mu.Lock()
	t.conns[origin] = c
	t.mu.Unlock()
	c.Accounts = append([]common.Address(nil), accounts...)
	return c
}

// Delete removes the connection for origin and reports whether one existed.
func (t *ConnectionTable) Delete(origin string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, ok := t.conns[origin]
	delete(t.conns, origin)
	return ok
}

// List returns every connection ordered by origin.
func (t *ConnectionTable) List() []Connection {
	t.mu.RLock()
	out := make([]Connection, 0, len(t.conns))
	for _, c := range t.conns {
		c.Accounts = append([]common.Address(nil), c.Accounts...)
		out = append(out, c)
	}
	t.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Origin < out[j].Origin })
	return out
}

// Len returns the number of connected origins.
func (t *ConnectionTable) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.conns)
}
