package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sslkit/sslkit-go/pkg/session"
	"github.com/sslkit/sslkit-go/pkg/status"
	"github.com/sslkit/sslkit-go/pkg/transport"
	"github.com/sslkit/sslkit-go/pkg/version"
)

// DefaultHandshakeTimeout bounds a server-side handshake.
const DefaultHandshakeTimeout = 10 * time.Second

// Handler serves one established connection. The connection is closed
// when Handler returns. ctx is cancelled when the server stops.
type Handler func(ctx context.Context, conn *Conn)

// ServerConfig configures a Server.
type ServerConfig struct {
	// Context must use a server method. Datagram methods listen on UDP.
	Context *session.Context

	// Address to listen on (e.g., ":4433" or "127.0.0.1:0").
	Address string

	// Handler serves established connections.
	Handler Handler

	// HandshakeTimeout bounds each handshake (default: 10s).
	HandshakeTimeout time.Duration

	// IdleTimeout closes established connections that have not read or
	// written for this long. Zero disables the reaper.
	IdleTimeout time.Duration

	// ReaperInterval is how often idle connections are checked
	// (default: IdleTimeout/4).
	ReaperInterval time.Duration

	// PollInterval is the socket poll deadline (default: 20ms).
	PollInterval time.Duration

	// Setup, if set, runs on every new session before the handshake with
	// the session's socket transport.
	Setup func(*session.Session, transport.Transport) error

	// Logger receives connection lifecycle messages (optional).
	Logger *slog.Logger

	// OnConnect is called after a handshake completes.
	OnConnect func(conn *Conn)

	// OnDisconnect is called after a connection is closed.
	OnDisconnect func(conn *Conn)

	// OnError is called when accepting or a handshake fails.
	OnError func(remote net.Addr, err error)
}

// Server accepts TLS connections over TCP or DTLS associations over UDP.
type Server struct {
	config ServerConfig

	listener net.Listener
	packet   net.PacketConn

	// DTLS peers keyed by remote address.
	peers   map[string]*udpPeer
	peersMu sync.Mutex

	conns *connTracker

	running atomic.Bool
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// NewServer validates config and returns a stopped Server.
func NewServer(config ServerConfig) (*Server, error) {
	if config.Context == nil {
		return nil, status.Errorf(status.CodeBadParameter, "server has no context")
	}
	if m := config.Context.Method(); m.Role() != version.RoleServer {
		return nil, status.Errorf(status.CodeBadMethod, "%s cannot accept", m)
	}
	if config.Handler == nil {
		return nil, status.Errorf(status.CodeBadParameter, "server has no handler")
	}
	if config.HandshakeTimeout == 0 {
		config.HandshakeTimeout = DefaultHandshakeTimeout
	}
	if config.PollInterval == 0 {
		config.PollInterval = DefaultPollInterval
	}
	if config.IdleTimeout > 0 && config.ReaperInterval == 0 {
		config.ReaperInterval = config.IdleTimeout / 4
	}
	return &Server{
		config: config,
		peers:  make(map[string]*udpPeer),
		conns:  newConnTracker(),
	}, nil
}

// Start listens and begins accepting connections.
func (s *Server) Start(ctx context.Context) error {
	if s.running.Load() {
		return fmt.Errorf("server already running")
	}
	s.ctx, s.cancel = context.WithCancel(ctx)

	if s.config.Context.Method().Datagram() {
		pc, err := net.ListenPacket("udp", s.config.Address)
		if err != nil {
			s.cancel()
			return status.Wrap(status.CodeTransport, fmt.Errorf("failed to listen: %w", err))
		}
		s.packet = pc
		s.running.Store(true)
		s.wg.Add(1)
		go s.readLoop()
	} else {
		listener, err := net.Listen("tcp", s.config.Address)
		if err != nil {
			s.cancel()
			return status.Wrap(status.CodeTransport, fmt.Errorf("failed to listen: %w", err))
		}
		s.listener = listener
		s.running.Store(true)
		s.wg.Add(1)
		go s.acceptLoop()
	}

	if s.config.IdleTimeout > 0 {
		s.wg.Add(1)
		go s.runIdleReaper()
	}
	s.debugLog("server started", "addr", s.Addr(), "method", s.config.Context.Method())
	return nil
}

// Stop closes the listener and every connection, then waits for the
// handlers to return.
func (s *Server) Stop() error {
	if !s.running.Swap(false) {
		return nil
	}
	s.cancel()

	if s.listener != nil {
		_ = s.listener.Close()
	}
	if s.packet != nil {
		_ = s.packet.Close()
	}
	s.peersMu.Lock()
	for _, p := range s.peers {
		_ = p.Close()
	}
	s.peersMu.Unlock()
	if n := s.conns.CloseAll(); n > 0 {
		s.debugLog("closed connections on stop", "count", n)
	}

	s.wg.Wait()
	return nil
}

// Addr returns the listen address.
func (s *Server) Addr() net.Addr {
	switch {
	case s.listener != nil:
		return s.listener.Addr()
	case s.packet != nil:
		return s.packet.LocalAddr()
	}
	return nil
}

// ConnectionCount returns the number of established connections.
func (s *Server) ConnectionCount() int {
	return s.conns.Len()
}

func (s *Server) acceptLoop() {
	defer s.wg.Done()

	for s.running.Load() {
		nc, err := s.listener.Accept()
		if err != nil {
			if s.running.Load() {
				s.reportError(nil, fmt.Errorf("accept error: %w", err))
			}
			continue
		}

		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			sess, err := s.config.Context.NewSession()
			if err != nil {
				_ = nc.Close()
				s.reportError(nc.RemoteAddr(), err)
				return
			}
			tr := transport.NewStream(nc, transport.NonBlocking(s.config.PollInterval))
			s.serve(newConn(sess, tr, nc, nc.RemoteAddr()))
		}()
	}
}

// readLoop demultiplexes datagrams from the shared socket by source
// address. The first datagram from a new address starts a session.
func (s *Server) readLoop() {
	defer s.wg.Done()

	buf := make([]byte, 64*1024)
	for s.running.Load() {
		n, addr, err := s.packet.ReadFrom(buf)
		if err != nil {
			if s.running.Load() && !errors.Is(err, net.ErrClosed) {
				s.reportError(nil, fmt.Errorf("read error: %w", err))
			}
			continue
		}
		data := append([]byte(nil), buf[:n]...)

		s.peersMu.Lock()
		p, ok := s.peers[addr.String()]
		if !ok {
			p = newUDPPeer(s.packet, addr, s.config.PollInterval)
			s.peers[addr.String()] = p
			s.wg.Add(1)
			go s.handlePeer(p)
		}
		s.peersMu.Unlock()

		if !p.deliver(data) {
			s.debugLog("dropped datagram", "peer", addr)
		}
	}
}

func (s *Server) handlePeer(p *udpPeer) {
	defer s.wg.Done()
	defer func() {
		s.peersMu.Lock()
		if s.peers[p.addr.String()] == p {
			delete(s.peers, p.addr.String())
		}
		s.peersMu.Unlock()
		_ = p.Close()
	}()

	sess, err := s.config.Context.NewSession()
	if err != nil {
		s.reportError(p.addr, err)
		return
	}
	s.serve(newConn(sess, p, p, p.addr))
}

// serve completes the handshake and runs the handler.
func (s *Server) serve(conn *Conn) {
	if err := conn.setup(s.config.Setup); err != nil {
		_ = conn.Close()
		s.reportError(conn.RemoteAddr(), err)
		return
	}

	ctx, cancel := context.WithTimeout(s.ctx, s.config.HandshakeTimeout)
	err := conn.handshake(ctx, version.RoleServer)
	cancel()
	if err != nil {
		_ = conn.Close()
		if s.running.Load() {
			s.reportError(conn.RemoteAddr(), err)
		}
		return
	}

	conn.activity = func() { s.conns.Touch(conn) }
	s.conns.Add(conn)
	s.debugLog("connection established",
		"conn", conn.ID(),
		"peer", conn.RemoteAddr(),
		"version", conn.Version(),
		"suite", conn.CipherSuiteName())
	if s.config.OnConnect != nil {
		s.config.OnConnect(conn)
	}

	defer func() {
		s.conns.Remove(conn)
		_ = conn.Close()
		s.debugLog("connection closed", "conn", conn.ID())
		if s.config.OnDisconnect != nil {
			s.config.OnDisconnect(conn)
		}
	}()
	s.config.Handler(s.ctx, conn)
}

// runIdleReaper periodically closes connections that exceeded IdleTimeout.
func (s *Server) runIdleReaper() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.config.ReaperInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			if closed := s.conns.CloseIdle(s.config.IdleTimeout); closed > 0 {
				s.debugLog("idleReaper: closed connections", "count", closed)
			}
		}
	}
}

func (s *Server) reportError(remote net.Addr, err error) {
	if s.config.Logger != nil {
		e := status.TranslateError(err)
		s.config.Logger.Warn("connection failed",
			"peer", remote,
			"kind", e.Kind,
			"code", int(e.Code),
			"error", e.Message)
	}
	if s.config.OnError != nil {
		s.config.OnError(remote, err)
	}
}

func (s *Server) debugLog(msg string, args ...any) {
	if s.config.Logger != nil {
		s.config.Logger.Debug(msg, args...)
	}
}
