package service

import (
	"io"
	"net"
	"sync"
	"time"

	"github.com/sslkit/sslkit-go/pkg/transport"
)

// peerBacklog is the number of datagrams queued per peer before new ones
// are dropped.
const peerBacklog = 64

// udpPeer is the transport of one DTLS peer behind a shared listening
// socket. The server's read loop feeds it; Send writes straight to the
// socket.
type udpPeer struct {
	pc   net.PacketConn
	addr net.Addr
	poll time.Duration

	in        chan []byte
	done      chan struct{}
	closeOnce sync.Once
}

func newUDPPeer(pc net.PacketConn, addr net.Addr, poll time.Duration) *udpPeer {
	return &udpPeer{
		pc:   pc,
		addr: addr,
		poll: poll,
		in:   make(chan []byte, peerBacklog),
		done: make(chan struct{}),
	}
}

// deliver queues one datagram. It reports false when the backlog is full
// or the peer is closed.
func (p *udpPeer) deliver(b []byte) bool {
	select {
	case <-p.done:
		return false
	default:
	}
	select {
	case p.in <- b:
		return true
	default:
		return false
	}
}

func (p *udpPeer) Send(b []byte) (int, error) {
	select {
	case <-p.done:
		return 0, transport.ErrClosed
	default:
	}
	return p.pc.WriteTo(b, p.addr)
}

func (p *udpPeer) Receive(b []byte) (int, error) {
	timer := time.NewTimer(p.poll)
	defer timer.Stop()
	select {
	case d := <-p.in:
		return copy(b, d), nil
	case <-p.done:
		return 0, io.EOF
	case <-timer.C:
		return 0, transport.ErrWouldBlock
	}
}

func (p *udpPeer) PeerAddr() net.Addr {
	return p.addr
}

// Close detaches the peer. The shared socket stays open.
func (p *udpPeer) Close() error {
	p.closeOnce.Do(func() { close(p.done) })
	return nil
}

var (
	_ transport.Transport     = (*udpPeer)(nil)
	_ transport.PeerAddresser = (*udpPeer)(nil)
)
