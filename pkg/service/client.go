// Package service runs sslkit sessions over real sockets: a Dialer for
// clients and a Server that accepts TLS over TCP or DTLS over UDP.
//
// Sockets are wrapped with transport.NonBlocking and the session calls are
// retried until they make progress, so every Conn presents the ordinary
// blocking io.ReadWriteCloser contract.
package service

import (
	"context"
	"fmt"
	"net"
	"time"

	"github.com/sslkit/sslkit-go/pkg/session"
	"github.com/sslkit/sslkit-go/pkg/status"
	"github.com/sslkit/sslkit-go/pkg/transport"
	"github.com/sslkit/sslkit-go/pkg/version"
)

const (
	// DefaultConnectTimeout bounds dialing plus the handshake.
	DefaultConnectTimeout = 30 * time.Second

	// DefaultPollInterval is how long a socket read waits before the
	// session sees a would-block.
	DefaultPollInterval = 20 * time.Millisecond
)

// Dialer opens client connections with a shared Context.
type Dialer struct {
	// Context must use a client method.
	Context *session.Context

	// ConnectTimeout bounds dialing plus the handshake (default: 30s).
	ConnectTimeout time.Duration

	// PollInterval is the socket poll deadline (default: 20ms).
	PollInterval time.Duration

	// Setup, if set, runs on the new session before the handshake. It
	// receives the socket transport, which I/O callbacks can use as their
	// context.
	Setup func(*session.Session, transport.Transport) error
}

// Dial connects to address, sends serverName in the SNI extension when it
// is not empty, and completes the handshake. Datagram methods dial UDP.
func (d *Dialer) Dial(ctx context.Context, address, serverName string) (*Conn, error) {
	if d.Context == nil {
		return nil, status.Errorf(status.CodeBadParameter, "dialer has no context")
	}
	method := d.Context.Method()
	if method.Role() != version.RoleClient {
		return nil, status.Errorf(status.CodeBadMethod, "%s cannot dial", method)
	}

	timeout := d.ConnectTimeout
	if timeout == 0 {
		timeout = DefaultConnectTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	sess, err := d.Context.NewSession()
	if err != nil {
		return nil, err
	}
	conn, err := d.bind(ctx, sess, method, address)
	if err != nil {
		_ = sess.Destroy()
		return nil, err
	}
	if serverName != "" {
		sess.SetServerName(serverName)
	}
	if err := conn.setup(d.Setup); err != nil {
		_ = conn.Close()
		return nil, err
	}
	if err := conn.handshake(ctx, version.RoleClient); err != nil {
		_ = conn.Close()
		return nil, err
	}
	return conn, nil
}

func (d *Dialer) bind(ctx context.Context, sess *session.Session, method version.Method, address string) (*Conn, error) {
	poll := d.PollInterval
	if poll == 0 {
		poll = DefaultPollInterval
	}

	if method.Datagram() {
		raddr, err := net.ResolveUDPAddr("udp", address)
		if err != nil {
			return nil, status.Wrap(status.CodeTransport, err)
		}
		pc, err := net.ListenPacket("udp", ":0")
		if err != nil {
			return nil, status.Wrap(status.CodeTransport, err)
		}
		return newConn(sess, transport.NewDatagram(pc, raddr, transport.NonBlocking(poll)), pc, raddr), nil
	}

	var dialer net.Dialer
	nc, err := dialer.DialContext(ctx, "tcp", address)
	if err != nil {
		return nil, status.Wrap(status.CodeTransport, fmt.Errorf("dial %s: %w", address, err))
	}
	return newConn(sess, transport.NewStream(nc, transport.NonBlocking(poll)), nc, nc.RemoteAddr()), nil
}
