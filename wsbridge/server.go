package wsbridge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"sort"
	"sync"
	"time"

	"charm-wallet-bridge/bridge"

	"github.com/charmbracelet/log"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// ProviderPath is where dapps open their websocket.
const ProviderPath = "/provider"

// Options configures a Server. Host is required.
type Options struct {
	Host           *bridge.Host
	AllowedOrigins []string
	// Registry backs /metrics and receives the server's own collectors.
	Registry *prometheus.Registry
	Logger   *log.Logger
}

// Server accepts dapp websockets from allow-listed origins and attaches a
// host session to each.
type Server struct {
	host     *bridge.Host
	logger   *log.Logger
	registry *prometheus.Registry
	upgrader websocket.Upgrader
	clients  prometheus.Gauge
	refused  prometheus.Counter

	mu      sync.RWMutex
	allowed map[string]bool
	conns   map[*Conn]struct{}
}

// NewServer validates the allow-list and builds a server.
func NewServer(opts Options) (*Server, error) {
	if opts.Host == nil {
		return nil, errors.New("wsbridge: server needs a host")
	}
	if opts.Logger == nil {
		opts.Logger = log.New(io.Discard)
	}
	if opts.Registry == nil {
		opts.Registry = prometheus.NewRegistry()
	}
	s := &Server{
		host:     opts.Host,
		logger:   opts.Logger,
		registry: opts.Registry,
		allowed:  make(map[string]bool),
		conns:    make(map[*Conn]struct{}),
		clients: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "wallet_bridge_ws_clients",
			Help: "Dapp websockets currently open.",
		}),
		refused: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "wallet_bridge_ws_refused_total",
			Help: "Websocket upgrades refused because of the origin allow-list.",
		}),
	}
	if err := s.registry.Register(s.clients); err != nil {
		return nil, fmt.Errorf("wsbridge: register metrics: %w", err)
	}
	if err := s.registry.Register(s.refused); err != nil {
		return nil, fmt.Errorf("wsbridge: register metrics: %w", err)
	}
	for _, o := range opts.AllowedOrigins {
		if err := s.Allow(o); err != nil {
			return nil, err
		}
	}
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin:     s.checkOrigin,
	}
	return s, nil
}

// Allow adds origin to the allow-list.
func (s *Server) Allow(origin string) error {
	o, err := bridge.NormalizeOrigin(origin)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.allowed[o] = true
	s.mu.Unlock()
	return nil
}

// Revoke removes origin from the allow-list and closes its open sockets.
func (s *Server) Revoke(origin string) {
	o, err := bridge.NormalizeOrigin(origin)
	if err != nil {
		return
	}
	s.mu.Lock()
	delete(s.allowed, o)
	var victims []*Conn
	for c := range s.conns {
		if c.peerOrigin == o {
			victims = append(victims, c)
		}
	}
	s.mu.Unlock()
	for _, c := range victims {
		_ = c.Close()
	}
}

// Allowed lists the allow-listed origins.
func (s *Server) Allowed() []string {
	s.mu.RLock()
	out := make([]string, 0, len(s.allowed))
	for o := range s.allowed {
		out = append(out, o)
	}
	s.mu.RUnlock()
	sort.Strings(out)
	return out
}

// Clients returns the number of open dapp sockets.
func (s *Server) Clients() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.conns)
}

func (s *Server) originAllowed(r *http.Request) (string, bool) {
	o, err := bridge.NormalizeOrigin(r.Header.Get("Origin"))
	if err != nil {
		return "", false
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return o, s.allowed[o]
}

func (s *Server) checkOrigin(r *http.Request) bool {
	_, ok := s.originAllowed(r)
	return ok
}

// Handler routes the provider socket, /metrics and /health.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc(ProviderPath, s.serveProvider)
	mux.Handle("/metrics", promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{}))
	mux.HandleFunc("/health", s.serveHealth)
	return mux
}

func (s *Server) serveProvider(w http.ResponseWriter, r *http.Request) {
	origin, ok := s.originAllowed(r)
	if !ok {
		s.refused.Inc()
		s.logger.Warn("refusing dapp socket", "origin", r.Header.Get("Origin"), "remote", r.RemoteAddr)
		http.Error(w, "origin not allowed", http.StatusForbidden)
		return
	}
	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Debug("upgrade failed", "origin", origin, "err", err)
		return
	}
	conn := newConn(ws, origin, s.logger)
	session, err := s.host.Attach(conn, origin)
	if err != nil {
		s.logger.Error("attach failed", "origin", origin, "err", err)
		_ = conn.Close()
		return
	}

	s.track(conn, true)
	conn.logger.Info("dapp socket opened")
	_ = conn.Serve(session)
	session.Close()
	s.track(conn, false)
	conn.logger.Info("dapp socket closed")
}

func (s *Server) track(c *Conn, open bool) {
	s.mu.Lock()
	if open {
		s.conns[c] = struct{}{}
	} else {
		delete(s.conns, c)
	}
	n := len(s.conns)
	s.mu.Unlock()
	s.clients.Set(float64(n))
}

type health struct {
	Status      string   `json:"status"`
	Clients     int      `json:"clients"`
	Connections int      `json:"connections"`
	Allowed     []string `json:"allowed"`
}

func (s *Server) serveHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(health{
		Status:      "ok",
		Clients:     s.Clients(),
		Connections: len(s.host.Connections()),
		Allowed:     s.Allowed(),
	})
}

// ListenAndServe serves on addr until ctx ends, then shuts down. ready, if
// not nil, receives the bound address once listening.
func (s *Server) ListenAndServe(ctx context.Context, addr string, ready chan<- net.Addr) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("wsbridge: listen %s: %w", addr, err)
	}
	srv := &http.Server{Handler: s.Handler(), ReadHeaderTimeout: 10 * time.Second}
	if ready != nil {
		ready <- ln.Addr()
	}
	s.logger.Info("bridge listening", "addr", ln.Addr().String())

	errc := make(chan error, 1)
	go func() { errc <- srv.Serve(ln) }()

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	s.closeAll()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("wsbridge: shutdown: %w", err)
	}
	return nil
}

func (s *Server) closeAll() {
	s.mu.RLock()
	conns := make([]*Conn, 0, len(s.conns))
	for c := range s.conns {
		conns = append(conns, c)
	}
	s.mu.RUnlock()
	for _, c := range conns {
		_ = c.Close()
	}
}
