package transport

import (
	"net"
	"time"
)

// Datagram adapts a net.PacketConn bound to a single peer. Datagrams from
// other addresses are discarded.
type Datagram struct {
	conn net.PacketConn
	peer net.Addr
	opts options

	// Foreign counts datagrams discarded because they came from another address.
	Foreign int
}

// NewDatagram wraps conn for exchanging datagrams with peer.
func NewDatagram(conn net.PacketConn, peer net.Addr, opts ...Option) *Datagram {
	return &Datagram{conn: conn, peer: peer, opts: buildOptions(opts)}
}

// Send writes p as a single datagram.
func (d *Datagram) Send(p []byte) (int, error) {
	if d.opts.nonBlocking {
		if err := d.conn.SetWriteDeadline(time.Now().Add(d.opts.poll)); err != nil {
			return 0, err
		}
	}
	n, err := d.conn.WriteTo(p, d.peer)
	return n, mapTimeout(err)
}

// Receive reads one datagram from the peer into p.
func (d *Datagram) Receive(p []byte) (int, error) {
	for {
		if d.opts.nonBlocking {
			if err := d.conn.SetReadDeadline(time.Now().Add(d.opts.poll)); err != nil {
				return 0, err
			}
		}
		n, from, err := d.conn.ReadFrom(p)
		if err != nil {
			return 0, mapTimeout(err)
		}
		if from.String() != d.peer.String() {
			d.Foreign++
			continue
		}
		return n, nil
	}
}

// PeerAddr returns the bound peer address.
func (d *Datagram) PeerAddr() net.Addr {
	return d.peer
}

var (
	_ Transport     = (*Datagram)(nil)
	_ PeerAddresser = (*Datagram)(nil)
)
