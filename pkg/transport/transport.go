// Package transport adapts byte-stream and datagram channels to the
// non-blocking send/receive contract used by sslkit sessions.
//
// A Transport never blocks when constructed in non-blocking mode; operations
// that cannot make progress return ErrWouldBlock, possibly together with a
// partial count. Datagram transports deliver exactly one datagram per
// Receive and send one datagram per Send.
package transport

import (
	"errors"
	"net"
	"os"
	"time"

	"github.com/sslkit/sslkit-go/pkg/status"
)

// ErrWouldBlock is returned when an operation would block.
var ErrWouldBlock = status.ErrWouldBlock

// ErrClosed is returned by operations on a closed transport.
var ErrClosed = errors.New("transport closed")

// Transport moves bytes to and from the peer.
type Transport interface {
	// Send writes p and returns the number of bytes accepted.
	Send(p []byte) (int, error)

	// Receive reads into p and returns the number of bytes read.
	// Receive returns io.EOF when the peer has closed the channel.
	Receive(p []byte) (int, error)
}

// PeerAddresser is implemented by transports that know their peer address.
type PeerAddresser interface {
	PeerAddr() net.Addr
}

// DefaultPollTimeout is the deadline used by non-blocking socket adapters.
const DefaultPollTimeout = time.Millisecond

// Option configures socket adapters.
type Option func(*options)

type options struct {
	nonBlocking bool
	poll        time.Duration
}

// NonBlocking makes every operation return ErrWouldBlock instead of waiting
// longer than poll for the socket. A zero poll uses DefaultPollTimeout.
func NonBlocking(poll time.Duration) Option {
	return func(o *options) {
		o.nonBlocking = true
		if poll <= 0 {
			poll = DefaultPollTimeout
		}
		o.poll = poll
	}
}

func buildOptions(opts []Option) options {
	var o options
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// mapTimeout turns deadline expiry into ErrWouldBlock.
func mapTimeout(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, os.ErrDeadlineExceeded) {
		return ErrWouldBlock
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return ErrWouldBlock
	}
	return err
}
