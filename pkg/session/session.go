package session

import (
	"crypto/x509"
	"io"
	"net"
	"time"

	"github.com/google/uuid"

	"github.com/sslkit/sslkit-go/pkg/callback"
	"github.com/sslkit/sslkit-go/pkg/cert"
	"github.com/sslkit/sslkit-go/pkg/ciphersuite"
	"github.com/sslkit/sslkit-go/pkg/log"
	"github.com/sslkit/sslkit-go/pkg/record"
	"github.com/sslkit/sslkit-go/pkg/retransmit"
	"github.com/sslkit/sslkit-go/pkg/status"
	"github.com/sslkit/sslkit-go/pkg/transport"
	"github.com/sslkit/sslkit-go/pkg/version"
)

// Session is one TLS or DTLS connection. It is not safe for concurrent use.
type Session struct {
	owner *Context
	cfg   *config
	id    string

	role     version.Role
	datagram bool

	transport transport.Transport
	peerAddr  net.Addr
	contexts  callback.Contexts

	state     State
	err       error
	destroyed bool

	serverName string

	// Negotiated parameters, set when the handshake completes.
	vers        version.Version
	suite       *ciphersuite.Suite
	peerChain   []*x509.Certificate
	peerInfo    *cert.PeerInfo
	established bool

	conn conn
	hs   *handshakeState

	timer *retransmit.Timer

	// pendingWrite is the plaintext count of a queued record not yet
	// acknowledged to the caller.
	pendingWrite int
	appData      []byte
	peerClosed   bool
	sentClose    bool
}

func newSession(owner *Context, cfg *config) (*Session, error) {
	s := &Session{
		owner:    owner,
		cfg:      cfg,
		id:       uuid.New().String(),
		role:     cfg.method.Role(),
		datagram: cfg.method.Datagram(),
	}
	s.conn.init(s)
	if s.datagram {
		s.timer = retransmit.NewTimer(cfg.clock, cfg.retransmit)
	}
	return s, nil
}

// ID returns the connection identifier used in protocol events.
func (s *Session) ID() string {
	return s.id
}

// State returns the lifecycle state.
func (s *Session) State() State {
	return s.state
}

// BindTransport sets the transport used when no I/O callbacks are
// registered. A transport implementing transport.PeerAddresser supplies
// the peer address for DTLS cookies and events.
func (s *Session) BindTransport(t transport.Transport) {
	s.transport = t
	if pa, ok := t.(transport.PeerAddresser); ok {
		s.peerAddr = pa.PeerAddr()
	}
}

// BindDatagram binds a packet socket exchanging datagrams with peer. The
// socket is polled without blocking.
func (s *Session) BindDatagram(pc net.PacketConn, peer net.Addr) {
	s.BindTransport(transport.NewDatagram(pc, peer, transport.NonBlocking(0)))
}

// SetServerName sets the name sent in the server_name extension and
// checked against the server certificate in VerifyPeer mode.
func (s *Session) SetServerName(name string) {
	s.serverName = name
}

// ServerName returns the name set with SetServerName, or on a server the
// name requested by the client.
func (s *Session) ServerName() string {
	return s.serverName
}

// SetCallbackContext sets the opaque value passed to callbacks of kind.
// Values implementing io.Closer are closed by Destroy.
func (s *Session) SetCallbackContext(kind callback.Kind, v any) {
	s.contexts.Set(kind, v)
}

// CallbackContext returns the value set for kind.
func (s *Session) CallbackContext(kind callback.Kind) any {
	return s.contexts.Get(kind)
}

// Connect runs the client handshake. It returns nil once established,
// status.CodeWantRead or status.CodeWantWrite when the transport would
// block, or a fatal error after which the Session is in StateErrored.
func (s *Session) Connect() error {
	if s.role != version.RoleClient {
		return status.Errorf(status.CodeBadState, "Connect on a %s session", s.role)
	}
	return s.handshake()
}

// Accept runs the server handshake with the same contract as Connect.
func (s *Session) Accept() error {
	if s.role != version.RoleServer {
		return status.Errorf(status.CodeBadState, "Accept on a %s session", s.role)
	}
	return s.handshake()
}

// Read reads application data. It returns io.EOF after the peer's
// close_notify.
func (s *Session) Read(p []byte) (int, error) {
	if err := s.checkData(); err != nil {
		return 0, err
	}
	for len(s.appData) == 0 {
		if s.peerClosed {
			return 0, io.EOF
		}
		if err := s.conn.flush(); err != nil {
			return 0, s.fail(err)
		}
		if err := s.conn.readRecord(); err != nil {
			return 0, s.fail(err)
		}
	}
	n := copy(p, s.appData)
	s.appData = s.appData[n:]
	return n, nil
}

// Write writes at most one record of p and returns the count consumed.
//
// When the transport would block after the record was queued, Write
// returns zero and a would-block code; the next call, normally with the
// same buffer, flushes the record and returns its count without consuming
// new data.
func (s *Session) Write(p []byte) (int, error) {
	if err := s.checkData(); err != nil {
		return 0, err
	}
	if s.pendingWrite > 0 {
		if err := s.conn.flush(); err != nil {
			return 0, s.fail(err)
		}
		n := s.pendingWrite
		s.pendingWrite = 0
		return n, nil
	}
	if len(p) == 0 {
		return 0, nil
	}

	n := min(len(p), record.MaxPlaintext)
	if err := s.conn.writeRecord(record.TypeApplicationData, p[:n]); err != nil {
		return 0, s.fail(err)
	}
	s.pendingWrite = n
	if err := s.conn.flush(); err != nil {
		return 0, s.fail(err)
	}
	s.pendingWrite = 0
	return n, nil
}

// Close sends close_notify when established and moves the Session to
// StateClosed. Calling Close again has no effect.
func (s *Session) Close() error {
	if s.state == StateClosed {
		return nil
	}
	var err error
	if s.state == StateEstablished && !s.sentClose {
		s.sentClose = true
		if err = s.conn.sendAlert(record.AlertLevelWarning, record.AlertCloseNotify); err == nil {
			if err = s.conn.flush(); status.IsWouldBlock(err) {
				err = nil
			}
		}
	}
	s.setState(StateClosed, "closed by caller")
	return err
}

// Destroy releases the transport binding and the callback contexts and
// returns the Session's slot in its Context.
func (s *Session) Destroy() error {
	if s.destroyed {
		return nil
	}
	s.destroyed = true
	s.transport = nil
	err := s.contexts.Release()
	s.owner.live.Add(-1)
	return err
}

// LastError returns the fatal error that moved the Session to StateErrored.
func (s *Session) LastError() error {
	return s.err
}

// GetError translates err, or the last fatal error when err is nil.
func (s *Session) GetError(err error) status.Error {
	if err == nil {
		err = s.err
	}
	return status.TranslateError(err)
}

// Version returns the negotiated protocol version, zero before the
// handshake completed.
func (s *Session) Version() version.Version {
	if !s.established {
		return 0
	}
	return s.vers
}

// CipherSuiteName returns the OpenSSL name of the negotiated suite, empty
// before the handshake completed.
func (s *Session) CipherSuiteName() string {
	if !s.established || s.suite == nil {
		return ""
	}
	return s.suite.Name
}

// PeerCertificateChain returns the chain sent by the peer, leaf first.
func (s *Session) PeerCertificateChain() []*x509.Certificate {
	if !s.established {
		return nil
	}
	return s.peerChain
}

// PeerCertificate returns the identity of the peer's leaf certificate, or
// nil when the peer sent none.
func (s *Session) PeerCertificate() *cert.PeerInfo {
	if !s.established {
		return nil
	}
	return s.peerInfo
}

// Timeout returns the time until the next DTLS retransmission, or a
// negative duration when none is pending.
func (s *Session) Timeout() time.Duration {
	if s.timer == nil || s.state != StateHandshaking {
		return -1
	}
	return s.timer.Remaining()
}

func (s *Session) checkData() error {
	if s.destroyed {
		return status.Errorf(status.CodeBadState, "session destroyed")
	}
	switch s.state {
	case StateEstablished:
		return nil
	case StateErrored:
		return status.Errorf(status.CodeBadState, "session is %s: %v", s.state, s.err)
	default:
		return status.Errorf(status.CodeBadState, "session is %s", s.state)
	}
}

// fail records a fatal error and moves to StateErrored. Would-block
// results pass through unchanged.
func (s *Session) fail(err error) error {
	if err == nil || status.IsWouldBlock(err) {
		return err
	}
	if s.state == StateErrored {
		return s.err
	}
	s.err = err
	if alert, ok := alertFor(err); ok {
		// Best effort; the transport may be gone.
		if s.conn.sendAlert(record.AlertLevelFatal, alert) == nil {
			_ = s.conn.flush()
		}
	}
	e := status.TranslateError(err)
	s.logError(e, err)
	s.setState(StateErrored, err.Error())
	return err
}

func (s *Session) setState(to State, reason string) {
	from := s.state
	if from == to {
		return
	}
	s.state = to
	s.event(log.Event{
		Layer:    log.LayerSession,
		Category: log.CategoryState,
		StateChange: &log.StateChangeEvent{
			Entity:   log.StateEntitySession,
			OldState: from.String(),
			NewState: to.String(),
			Reason:   reason,
		},
	})
	sev := log.SeverityInfo
	if to == StateErrored {
		sev = log.SeverityError
	}
	s.diagf(sev, "session %s: %s -> %s", shortID(s.id), from, to)
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
