// Package frame models browsing contexts inside one process. Each Window
// runs its own event loop and delivers messages to its listeners one at a
// time, in arrival order. Windows talk only through Handles, which refuse
// to post anywhere but the target window's exact origin.
package frame

import (
	"errors"
	"fmt"
	"io"
	"sync"

	"charm-wallet-bridge/bridge"

	"github.com/charmbracelet/log"
)

var (
	// ErrClosed is returned when posting to a closed window.
	ErrClosed = errors.New("frame: window closed")
	// ErrOriginMismatch is returned when the target origin is not the
	// receiving window's origin.
	ErrOriginMismatch = errors.New("frame: target origin does not match recipient")
)

// Handler receives messages on a window's event loop.
type Handler interface {
	HandleMessage(ev bridge.MessageEvent)
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ev bridge.MessageEvent)

// HandleMessage calls f(ev).
func (f HandlerFunc) HandleMessage(ev bridge.MessageEvent) { f(ev) }

// Window is one browsing context identified by its origin.
type Window struct {
	name   string
	origin string
	logger *log.Logger

	mu        sync.Mutex
	queue     []bridge.MessageEvent
	wake      chan struct{}
	listeners map[int]Handler
	nextID    int
	closed    bool
	done      chan struct{}
}

// Option configures a Window.
type Option func(*Window)

// WithLogger sets the window's logger.
func WithLogger(l *log.Logger) Option {
	return func(w *Window) { w.logger = l }
}

// New starts a window for origin. name is only used in logs.
func New(name, origin string, opts ...Option) (*Window, error) {
	o, err := bridge.NormalizeOrigin(origin)
	if err != nil {
		return nil, fmt.Errorf("frame %s: %w", name, err)
	}
	w := &Window{
		name:      name,
		origin:    o,
		wake:      make(chan struct{}, 1),
		listeners: make(map[int]Handler),
		done:      make(chan struct{}),
	}
	for _, opt := range opts {
		opt(w)
	}
	if w.logger == nil {
		w.logger = log.New(io.Discard)
	}
	w.logger = w.logger.With("window", name)
	go w.loop()
	return w, nil
}

// Origin returns the window's normalized origin.
func (w *Window) Origin() string { return w.origin }

// AddListener registers h and returns a function that removes it.
func (w *Window) AddListener(h Handler) (remove func()) {
	w.mu.Lock()
	id := w.nextID
	w.nextID++
	w.listeners[id] = h
	w.mu.Unlock()
	return func() {
		w.mu.Lock()
		delete(w.listeners, id)
		w.mu.Unlock()
	}
}

// Close stops the event loop. Queued messages are dropped.
func (w *Window) Close() {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return
	}
	w.closed = true
	w.queue = nil
	w.mu.Unlock()
	close(w.done)
}

// Done is closed once the window is closed.
func (w *Window) Done() <-chan struct{} { return w.done }

func (w *Window) enqueue(ev bridge.MessageEvent) error {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return ErrClosed
	}
	w.queue = append(w.queue, ev)
	w.mu.Unlock()
	select {
	case w.wake <- struct{}{}:
	default:
	}
	return nil
}

func (w *Window) loop() {
	for {
		select {
		case <-w.done:
			return
		case <-w.wake:
		}
		for {
			w.mu.Lock()
			if w.closed || len(w.queue) == 0 {
				w.mu.Unlock()
				break
			}
			ev := w.queue[0]
			w.queue = w.queue[1:]
			handlers := make([]Handler, 0, len(w.listeners))
			for _, h := range w.listeners {
				handlers = append(handlers, h)
			}
			w.mu.Unlock()

			for _, h := range handlers {
				w.dispatch(h, ev)
			}
		}
	}
}

func (w *Window) dispatch(h Handler, ev bridge.MessageEvent) {
	defer func() {
		if r := recover(); r != nil {
			w.logger.Error("listener panicked", "origin", ev.Origin, "panic", r)
		}
	}()
	h.HandleMessage(ev)
}

// Handle is one window's reference to another, the value it posts through.
// It implements bridge.Port.
type Handle struct {
	from, to *Window
	reverse  *Handle
}

var _ bridge.Port = (*Handle)(nil)

// Link connects two windows and returns a's handle to b and b's handle to
// a. A message posted through aToB arrives at b with bToA as its source.
func Link(a, b *Window) (aToB, bToA *Handle) {
	aToB = &Handle{from: a, to: b}
	bToA = &Handle{from: b, to: a}
	aToB.reverse, bToA.reverse = bToA, aToB
	return aToB, bToA
}

// Target returns the window the handle posts to.
func (h *Handle) Target() *Window { return h.to }

// PostMessage queues a copy of data on the target window. targetOrigin
// must be the target's exact origin; "*" is refused.
func (h *Handle) PostMessage(data []byte, targetOrigin string) error {
	want, err := bridge.NormalizeOrigin(targetOrigin)
	if err != nil {
		return err
	}
	if want != h.to.origin {
		h.from.logger.Warn("refusing cross-origin post", "target", want, "recipient", h.to.origin)
		return ErrOriginMismatch
	}
	return h.to.enqueue(bridge.MessageEvent{
		Source: h.reverse,
		Origin: h.from.origin,
		Data:   append([]byte(nil), data...),
	})
}
