package bridge

import (
	"encoding/json"
	"sync"
)

// Listener receives the params of an event.
type Listener func(params json.RawMessage)

// ListenerID identifies a registration for RemoveListener. Funcs are not
// comparable, so listeners are removed by id rather than by value.
type ListenerID uint64

type emitter struct {
	mu        sync.Mutex
	next      ListenerID
	listeners map[string]map[ListenerID]Listener
}

func newEmitter() *emitter {
	return &emitter{listeners: make(map[string]map[ListenerID]Listener)}
}

func (e *emitter) on(event string, fn Listener) ListenerID {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.next++
	if e.listeners[event] == nil {
		e.listeners[event] = make(map[ListenerID]Listener)
	}
	e.listeners[event][e.next] = fn
	return e.next
}

func (e *emitter) off(event string, id ListenerID) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	set, ok := e.listeners[event]
	if !ok {
		return false
	}
	if _, ok := set[id]; !ok {
		return false
	}
	delete(set, id)
	if len(set) == 0 {
		delete(e.listeners, event)
	}
	return true
}

// emit calls every listener of event outside the lock, so listeners may
// register or remove listeners themselves.
func (e *emitter) emit(event string, params json.RawMessage) int {
	e.mu.Lock()
	fns := make([]Listener, 0, len(e.listeners[event]))
	for _, fn := range e.listeners[event] {
		fns = append(fns, fn)
	}
	e.mu.Unlock()
	for _, fn := range fns {
		fn(params)
	}
	return len(fns)
}
