// Package wsbridge carries provider envelopes over websockets. Dapps dial
// the wallet's /provider endpoint; each connection becomes a bridge.Port
// and a host session bound to the dapp's Origin header.
package wsbridge

import (
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"charm-wallet-bridge/bridge"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 1 << 20
)

var (
	// ErrTargetOriginMismatch is returned when a post names an origin other
	// than the peer's.
	ErrTargetOriginMismatch = errors.New("wsbridge: target origin does not match peer")
	// ErrConnClosed is returned when posting on a closed connection.
	ErrConnClosed = errors.New("wsbridge: connection closed")
)

// MessageHandler receives the messages read from a connection.
type MessageHandler interface {
	HandleMessage(ev bridge.MessageEvent)
}

// Conn is a websocket connection used as a bridge.Port. Messages read from
// it carry the Conn itself as their source and the peer origin.
type Conn struct {
	ID string

	ws         *websocket.Conn
	peerOrigin string
	logger     *log.Logger

	writeMu   sync.Mutex
	closeOnce sync.Once
	done      chan struct{}
}

var _ bridge.Port = (*Conn)(nil)

func newConn(ws *websocket.Conn, peerOrigin string, logger *log.Logger) *Conn {
	if logger == nil {
		logger = log.New(io.Discard)
	}
	id := uuid.NewString()
	return &Conn{
		ID:         id,
		ws:         ws,
		peerOrigin: peerOrigin,
		logger:     logger.With("conn", id[:8], "peer", peerOrigin),
		done:       make(chan struct{}),
	}
}

// PeerOrigin is the origin of the other end.
func (c *Conn) PeerOrigin() string { return c.peerOrigin }

// PostMessage writes data as one text frame. targetOrigin must be the peer
// origin.
func (c *Conn) PostMessage(data []byte, targetOrigin string) error {
	want, err := bridge.NormalizeOrigin(targetOrigin)
	if err != nil {
		return err
	}
	if want != c.peerOrigin {
		return fmt.Errorf("%w: %s", ErrTargetOriginMismatch, want)
	}
	select {
	case <-c.done:
		return ErrConnClosed
	default:
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
	if err := c.ws.WriteMessage(websocket.TextMessage, data); err != nil {
		return fmt.Errorf("wsbridge: write: %w", err)
	}
	return nil
}

// Serve reads messages and hands them to h until the connection fails or
// is closed. It keeps the connection alive with pings.
func (c *Conn) Serve(h MessageHandler) error {
	defer c.Close()

	c.ws.SetReadLimit(maxMessageSize)
	_ = c.ws.SetReadDeadline(time.Now().Add(pongWait))
	c.ws.SetPongHandler(func(string) error {
		return c.ws.SetReadDeadline(time.Now().Add(pongWait))
	})
	go c.pingLoop()

	for {
		typ, data, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.logger.Warn("websocket read failed", "err", err)
				return err
			}
			return nil
		}
		if typ != websocket.TextMessage {
			continue
		}
		h.HandleMessage(bridge.MessageEvent{Source: c, Origin: c.peerOrigin, Data: data})
	}
}

func (c *Conn) pingLoop() {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-c.done:
			return
		case <-ticker.C:
			c.writeMu.Lock()
			err := c.ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait))
			c.writeMu.Unlock()
			if err != nil {
				c.logger.Debug("ping failed", "err", err)
				return
			}
		}
	}
}

// Done is closed when the connection closes.
func (c *Conn) Done() <-chan struct{} { return c.done }

// Close sends a close frame and releases the connection.
func (c *Conn) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.done)
		c.writeMu.Lock()
		_ = c.ws.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(writeWait))
		c.writeMu.Unlock()
		err = c.ws.Close()
	})
	return err
}
