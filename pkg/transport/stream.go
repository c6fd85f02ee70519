package transport

import (
	"net"
	"time"
)

// Stream adapts a net.Conn.
type Stream struct {
	conn net.Conn
	opts options
}

// NewStream wraps conn. Without NonBlocking, Send and Receive block like the
// underlying connection.
func NewStream(conn net.Conn, opts ...Option) *Stream {
	return &Stream{conn: conn, opts: buildOptions(opts)}
}

// Send writes p to the connection.
func (s *Stream) Send(p []byte) (int, error) {
	if s.opts.nonBlocking {
		if err := s.conn.SetWriteDeadline(time.Now().Add(s.opts.poll)); err != nil {
			return 0, err
		}
	}
	n, err := s.conn.Write(p)
	return n, mapTimeout(err)
}

// Receive reads from the connection.
func (s *Stream) Receive(p []byte) (int, error) {
	if s.opts.nonBlocking {
		if err := s.conn.SetReadDeadline(time.Now().Add(s.opts.poll)); err != nil {
			return 0, err
		}
	}
	n, err := s.conn.Read(p)
	if n > 0 && err != nil {
		// Deliver the bytes now; the error resurfaces on the next call.
		return n, nil
	}
	return n, mapTimeout(err)
}

// PeerAddr returns the remote address.
func (s *Stream) PeerAddr() net.Addr {
	return s.conn.RemoteAddr()
}

// Close closes the connection.
func (s *Stream) Close() error {
	return s.conn.Close()
}

var (
	_ Transport     = (*Stream)(nil)
	_ PeerAddresser = (*Stream)(nil)
)
