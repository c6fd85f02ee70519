package service

import (
	"context"
	"errors"
	"io"
	"net"
	"sync"
	"sync/atomic"

	"github.com/sslkit/sslkit-go/pkg/cert"
	"github.com/sslkit/sslkit-go/pkg/session"
	"github.com/sslkit/sslkit-go/pkg/status"
	"github.com/sslkit/sslkit-go/pkg/transport"
	"github.com/sslkit/sslkit-go/pkg/version"
)

// Conn is an established session bound to a socket, presented as a
// blocking io.ReadWriteCloser.
//
// The underlying socket is always polled, so Close may be called from any
// goroutine while another one is blocked in Read or Write.
type Conn struct {
	sess   *session.Session
	tr     transport.Transport
	socket io.Closer
	remote net.Addr

	// activity, if set, runs after every successful Read or Write.
	activity func()

	mu        sync.Mutex
	closed    atomic.Bool
	closeOnce sync.Once
	closeErr  error
}

// newConn binds tr to sess. socket is closed with the Conn.
func newConn(sess *session.Session, tr transport.Transport, socket io.Closer, remote net.Addr) *Conn {
	sess.BindTransport(tr)
	return &Conn{sess: sess, tr: tr, socket: socket, remote: remote}
}

// handshake drives Connect or Accept until the session is established,
// ctx is done, or the handshake fails.
func (c *Conn) handshake(ctx context.Context, role version.Role) error {
	step := c.sess.Accept
	if role == version.RoleClient {
		step = c.sess.Connect
	}
	for {
		c.mu.Lock()
		err := step()
		c.mu.Unlock()
		if err == nil {
			return nil
		}
		if !status.IsWouldBlock(err) {
			return err
		}
		if c.closed.Load() {
			return net.ErrClosed
		}
		if err := ctx.Err(); err != nil {
			return status.Wrap(status.CodeHandshakeTimeout, err)
		}
	}
}

// Read blocks until application data arrives. It returns io.EOF after the
// peer's close_notify.
func (c *Conn) Read(p []byte) (int, error) {
	for {
		if c.closed.Load() {
			return 0, net.ErrClosed
		}
		c.mu.Lock()
		n, err := c.sess.Read(p)
		c.mu.Unlock()
		if n > 0 && c.activity != nil {
			c.activity()
		}
		if !status.IsWouldBlock(err) {
			return n, err
		}
	}
}

// Write blocks until all of p has been sent.
func (c *Conn) Write(p []byte) (int, error) {
	written := 0
	for written < len(p) {
		if c.closed.Load() {
			return written, net.ErrClosed
		}
		c.mu.Lock()
		n, err := c.sess.Write(p[written:])
		c.mu.Unlock()
		written += n
		if err != nil && !status.IsWouldBlock(err) {
			return written, err
		}
	}
	if written > 0 && c.activity != nil {
		c.activity()
	}
	return written, nil
}

// Close sends close_notify, releases the session and closes the socket.
func (c *Conn) Close() error {
	c.closeOnce.Do(func() {
		c.closed.Store(true)
		c.mu.Lock()
		err := c.sess.Close()
		if derr := c.sess.Destroy(); err == nil {
			err = derr
		}
		c.mu.Unlock()
		// Callback contexts may already have closed the socket.
		if cerr := c.socket.Close(); err == nil && !errors.Is(cerr, net.ErrClosed) {
			err = cerr
		}
		c.closeErr = err
	})
	return c.closeErr
}

// ID returns the session identifier.
func (c *Conn) ID() string {
	return c.sess.ID()
}

// RemoteAddr returns the peer address.
func (c *Conn) RemoteAddr() net.Addr {
	return c.remote
}

// Version returns the negotiated protocol version.
func (c *Conn) Version() version.Version {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sess.Version()
}

// CipherSuiteName returns the negotiated cipher suite name.
func (c *Conn) CipherSuiteName() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sess.CipherSuiteName()
}

// PeerCertificate describes the peer's leaf certificate, or nil.
func (c *Conn) PeerCertificate() *cert.PeerInfo {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sess.PeerCertificate()
}

// setup runs fn with the session and its socket transport.
func (c *Conn) setup(fn func(*session.Session, transport.Transport) error) error {
	if fn == nil {
		return nil
	}
	return fn(c.sess, c.tr)
}

// Session returns the underlying session. Callers must not use it
// concurrently with the Conn.
func (c *Conn) Session() *session.Session {
	return c.sess
}

var _ io.ReadWriteCloser = (*Conn)(nil)
