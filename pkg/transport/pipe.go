package transport

import (
	"io"
	"net"
	"sync"

	"github.com/eapache/queue"
)

// pipeAddr is the net.Addr reported by pipe ends.
type pipeAddr string

func (a pipeAddr) Network() string { return "pipe" }
func (a pipeAddr) String() string  { return string(a) }

// pipeBuffer is one direction of a Pipe.
type pipeBuffer struct {
	datagram bool
	stream   []byte
	packets  *queue.Queue
	closed   bool
}

// Pipe is an in-memory, non-blocking, bidirectional channel. In datagram
// mode each Send is delivered as one unit to Receive; in stream mode bytes
// are concatenated. It is used to connect two sessions in one goroutine.
type Pipe struct {
	mu   sync.Mutex
	bufs [2]*pipeBuffer
}

// PipeEnd is one side of a Pipe.
type PipeEnd struct {
	pipe *Pipe
	side int

	// Drop, if set, is consulted for every outgoing datagram; returning true
	// discards it.
	Drop func(p []byte) bool
}

// NewPipe returns the two connected ends of a new pipe.
func NewPipe(datagram bool) (*PipeEnd, *PipeEnd) {
	p := &Pipe{}
	for i := range p.bufs {
		p.bufs[i] = &pipeBuffer{datagram: datagram}
		if datagram {
			p.bufs[i].packets = queue.New()
		}
	}
	return &PipeEnd{pipe: p, side: 0}, &PipeEnd{pipe: p, side: 1}
}

// Send queues p for the other end.
func (e *PipeEnd) Send(p []byte) (int, error) {
	e.pipe.mu.Lock()
	defer e.pipe.mu.Unlock()

	out := e.pipe.bufs[1-e.side]
	if out.closed || e.pipe.bufs[e.side].closed {
		return 0, ErrClosed
	}
	if out.datagram {
		if e.Drop != nil && e.Drop(p) {
			return len(p), nil
		}
		out.packets.Add(append([]byte(nil), p...))
		return len(p), nil
	}
	out.stream = append(out.stream, p...)
	return len(p), nil
}

// Receive returns queued data or ErrWouldBlock when none is available.
func (e *PipeEnd) Receive(p []byte) (int, error) {
	e.pipe.mu.Lock()
	defer e.pipe.mu.Unlock()

	in := e.pipe.bufs[e.side]
	if in.datagram {
		if in.packets.Length() == 0 {
			if in.closed {
				return 0, io.EOF
			}
			return 0, ErrWouldBlock
		}
		pkt := in.packets.Remove().([]byte)
		return copy(p, pkt), nil
	}
	if len(in.stream) == 0 {
		if in.closed {
			return 0, io.EOF
		}
		return 0, ErrWouldBlock
	}
	n := copy(p, in.stream)
	in.stream = in.stream[n:]
	return n, nil
}

// Pending returns the number of queued datagrams (datagram mode) or bytes
// (stream mode) waiting for this end.
func (e *PipeEnd) Pending() int {
	e.pipe.mu.Lock()
	defer e.pipe.mu.Unlock()

	in := e.pipe.bufs[e.side]
	if in.datagram {
		return in.packets.Length()
	}
	return len(in.stream)
}

// Close marks the other end's input as closed once drained.
func (e *PipeEnd) Close() error {
	e.pipe.mu.Lock()
	defer e.pipe.mu.Unlock()
	e.pipe.bufs[1-e.side].closed = true
	return nil
}

// PeerAddr returns a stable pseudo-address for the other end.
func (e *PipeEnd) PeerAddr() net.Addr {
	if e.side == 0 {
		return pipeAddr("pipe-1")
	}
	return pipeAddr("pipe-0")
}

var (
	_ Transport     = (*PipeEnd)(nil)
	_ PeerAddresser = (*PipeEnd)(nil)
)
