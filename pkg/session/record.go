package session

import (
	"errors"
	"io"

	"github.com/sslkit/sslkit-go/pkg/callback"
	"github.com/sslkit/sslkit-go/pkg/ciphersuite"
	"github.com/sslkit/sslkit-go/pkg/log"
	"github.com/sslkit/sslkit-go/pkg/record"
	"github.com/sslkit/sslkit-go/pkg/status"
	"github.com/sslkit/sslkit-go/pkg/version"
)

// cipherState is the protection of one direction at one epoch. A nil
// protector is the null protection of epoch zero.
type cipherState struct {
	epoch uint16
	seq   uint64
	suite *ciphersuite.Suite
	keys  record.Keys
	prot  record.Protector
}

// conn is the record layer of a Session.
type conn struct {
	s        *Session
	datagram bool

	// wr holds the write state of every epoch so DTLS flights spanning a
	// cipher change can be resent.
	wr        []*cipherState
	rd        *cipherState
	wrPending *cipherState
	rdPending *cipherState
	replay    record.ReplayWindow

	rbuf []byte
	in   []byte
	out  [][]byte
}

func (c *conn) init(s *Session) {
	c.s = s
	c.datagram = s.datagram
	c.wr = []*cipherState{{}}
	c.rd = &cipherState{}
	size := 1 << 14
	if c.datagram {
		size = record.DTLSHeaderLen + record.MaxCiphertext
	}
	c.rbuf = make([]byte, size)
}

func (c *conn) writeState() *cipherState {
	return c.wr[len(c.wr)-1]
}

// newState builds the protection for the next epoch.
func (c *conn) newState(suite *ciphersuite.Suite, keys record.Keys, seal bool) (*cipherState, error) {
	prot, err := record.NewProtector(suite, c.s.vers, keys, seal)
	if err != nil {
		return nil, err
	}
	epoch := c.rd.epoch + 1
	if seal {
		epoch = c.writeState().epoch + 1
	}
	return &cipherState{epoch: epoch, suite: suite, keys: keys, prot: prot}, nil
}

// changeWriteState activates the pending write state after a
// ChangeCipherSpec was queued.
func (c *conn) changeWriteState() {
	c.wr = append(c.wr, c.wrPending)
	c.wrPending = nil
}

// changeReadState activates the pending read state on a received
// ChangeCipherSpec. It reports false when no state is pending.
func (c *conn) changeReadState() bool {
	if c.rdPending == nil {
		return false
	}
	c.rd = c.rdPending
	c.rdPending = nil
	c.replay.Reset()
	return true
}

// recordVersion is the negotiated version, or the lowest version of the
// method while hellos are exchanged.
func (c *conn) recordVersion() version.Version {
	if c.s.vers != 0 {
		return c.s.vers
	}
	low, _ := c.s.cfg.method.Range()
	return low
}

// writeRecord seals payload with the current write state and queues it.
// Payloads above the record limit are split.
func (c *conn) writeRecord(typ record.ContentType, payload []byte) error {
	return c.writeWith(c.writeState(), typ, payload)
}

func (c *conn) writeWith(cs *cipherState, typ record.ContentType, payload []byte) error {
	for {
		n := min(len(payload), record.MaxPlaintext)
		if err := c.seal(cs, typ, payload[:n]); err != nil {
			return err
		}
		payload = payload[n:]
		if len(payload) == 0 {
			return nil
		}
	}
}

func (c *conn) seal(cs *cipherState, typ record.ContentType, payload []byte) error {
	h := record.Header{
		Type:    typ,
		Version: c.recordVersion(),
		Epoch:   cs.epoch,
		Seq:     cs.seq,
		Length:  len(payload),
	}

	frag := payload
	if cs.prot != nil {
		var err error
		if fn := c.s.cfg.callbacks.MacEncrypt(); fn != nil {
			in := &callback.RecordInput{Header: h, Payload: payload, Suite: cs.suite, Keys: cs.keys}
			frag, err = fn(c.s, c.s.contexts.Get(callback.KindMacEncrypt), in)
		} else {
			frag, err = cs.prot.Seal(h, payload)
		}
		if err != nil {
			return status.Errorf(status.CodeEncryptFailure, "seal %s record: %w", typ, err)
		}
	}
	if len(frag) > record.MaxCiphertext {
		return status.Errorf(status.CodeRecordOverflow, "sealed record of %d bytes", len(frag))
	}
	cs.seq++

	buf := make([]byte, 0, record.HeaderLen(c.datagram)+len(frag))
	buf = h.AppendHeader(buf, len(frag))
	buf = append(buf, frag...)
	c.out = append(c.out, buf)

	c.s.logRecord(log.DirectionOut, h, len(frag))
	return nil
}

// sendAlert queues an alert with the current write state.
func (c *conn) sendAlert(level record.AlertLevel, desc record.Alert) error {
	if err := c.writeRecord(record.TypeAlert, []byte{byte(level), byte(desc)}); err != nil {
		return err
	}
	c.s.logAlert(log.DirectionOut, level, desc)
	return nil
}

// flush sends queued records. Each DTLS record is its own datagram.
func (c *conn) flush() error {
	for len(c.out) > 0 {
		n, err := c.s.send(c.out[0])
		switch {
		case n >= len(c.out[0]) || (c.datagram && n > 0):
			c.out[0] = nil
			c.out = c.out[1:]
		case n > 0:
			c.out[0] = c.out[0][n:]
		}
		if err != nil {
			return err
		}
	}
	c.out = nil
	return nil
}

// fill receives more input. A DTLS receive yields one datagram.
func (c *conn) fill() error {
	n, err := c.s.recv(c.rbuf)
	if n > 0 {
		c.in = append(c.in, c.rbuf[:n]...)
		if status.IsWouldBlock(err) {
			err = nil
		}
	}
	return err
}

// readRecord reads and processes one record. Records dropped under DTLS
// rules do not count.
func (c *conn) readRecord() error {
	for {
		h, n, err := record.ParseHeader(c.in, c.datagram)
		if err != nil {
			if !c.datagram {
				return err
			}
			c.in = c.in[:0]
			continue
		}
		if n == 0 || len(c.in) < n+h.Length {
			if c.datagram {
				// Records never span datagrams.
				c.in = c.in[:0]
			}
			if err := c.fill(); err != nil {
				return err
			}
			continue
		}

		frag := append([]byte(nil), c.in[n:n+h.Length]...)
		c.in = c.in[n+h.Length:]
		if len(c.in) == 0 {
			c.in = c.in[:0:0]
		}

		ok, err := c.process(h, frag)
		if err != nil || ok {
			return err
		}
	}
}

// process opens one record and dispatches it. It returns false when the
// record was dropped.
//
// Once a version is negotiated every record except an alert must carry it.
// DTLS drops a mismatched record; TLS fails.
func (c *conn) process(h record.Header, frag []byte) (bool, error) {
	if c.s.vers != 0 && h.Version != c.s.vers && h.Type != record.TypeAlert {
		if c.datagram {
			return false, nil
		}
		return false, status.Errorf(status.CodeVersionMismatch, "record version %s, negotiated %s", h.Version, c.s.vers)
	}
	cs := c.rd
	if c.datagram {
		if h.Epoch != cs.epoch || !c.replay.Check(h.Seq) {
			return false, nil
		}
	} else {
		h.Seq = cs.seq
	}

	pt, err := c.open(cs, h, frag)
	if err != nil {
		return false, err
	}
	if c.datagram {
		c.replay.Accept(h.Seq)
	} else {
		cs.seq++
	}
	c.s.logRecord(log.DirectionIn, h, len(frag))

	switch h.Type {
	case record.TypeAlert:
		return true, c.s.handleAlert(pt)
	case record.TypeChangeCipherSpec:
		return true, c.s.handleChangeCipherSpec(pt)
	case record.TypeHandshake:
		return true, c.s.handleHandshakeRecord(pt)
	default:
		return c.s.handleApplicationData(pt)
	}
}

func (c *conn) open(cs *cipherState, h record.Header, frag []byte) ([]byte, error) {
	if cs.prot == nil {
		return frag, nil
	}
	var pt []byte
	var err error
	if fn := c.s.cfg.callbacks.DecryptVerify(); fn != nil {
		in := &callback.RecordInput{Header: h, Payload: frag, Suite: cs.suite, Keys: cs.keys}
		pt, err = fn(c.s, c.s.contexts.Get(callback.KindDecryptVerify), in)
	} else {
		pt, err = cs.prot.Open(h, frag)
	}
	if err != nil {
		return nil, status.Errorf(status.CodeMacFailure, "open %s record: %w", h.Type, err)
	}
	if len(pt) > record.MaxPlaintext {
		return nil, status.Errorf(status.CodeRecordOverflow, "record plaintext of %d bytes", len(pt))
	}
	return pt, nil
}

// send writes p through the IOSend callback or the bound transport.
func (s *Session) send(p []byte) (int, error) {
	var n int
	var err error
	switch {
	case s.cfg.callbacks.IOSend() != nil:
		n, err = s.cfg.callbacks.IOSend()(s, s.contexts.Get(callback.KindIOSend), p)
	case s.transport != nil:
		n, err = s.transport.Send(p)
	default:
		return 0, status.Errorf(status.CodeNoTransport, "no transport bound")
	}
	return n, ioError(err, status.CodeWantWrite)
}

// recv reads through the IORecv callback or the bound transport.
func (s *Session) recv(p []byte) (int, error) {
	var n int
	var err error
	switch {
	case s.cfg.callbacks.IORecv() != nil:
		n, err = s.cfg.callbacks.IORecv()(s, s.contexts.Get(callback.KindIORecv), p)
	case s.transport != nil:
		n, err = s.transport.Receive(p)
	default:
		return 0, status.Errorf(status.CodeNoTransport, "no transport bound")
	}
	if n == 0 && err == nil {
		err = status.ErrWouldBlock
	}
	return n, ioError(err, status.CodeWantRead)
}

func ioError(err error, want status.Code) error {
	switch {
	case err == nil:
		return nil
	case status.IsWouldBlock(err):
		return want
	case errors.Is(err, io.EOF):
		return status.Errorf(status.CodeConnectionClosed, "peer closed the transport: %w", err)
	default:
		return status.Wrap(status.CodeTransport, err)
	}
}

func (s *Session) handleAlert(p []byte) error {
	if len(p) != 2 {
		return status.Errorf(status.CodeMalformedMessage, "alert of %d bytes", len(p))
	}
	level, desc := record.AlertLevel(p[0]), record.Alert(p[1])
	s.logAlert(log.DirectionIn, level, desc)

	if desc == record.AlertCloseNotify {
		s.peerClosed = true
		return nil
	}
	if level == record.AlertLevelFatal {
		return status.Errorf(status.CodeAlertReceived, "peer sent fatal alert %s", desc)
	}
	s.diagf(log.SeverityWarn, "session %s: peer sent warning alert %s", shortID(s.id), desc)
	return nil
}

func (s *Session) handleChangeCipherSpec(p []byte) error {
	if len(p) != 1 || p[0] != 1 {
		return status.Errorf(status.CodeMalformedMessage, "bad change_cipher_spec")
	}
	if !s.conn.changeReadState() {
		if s.datagram {
			// Retransmitted with a flight we already processed.
			return nil
		}
		return status.Errorf(status.CodeUnexpectedMessage, "unexpected change_cipher_spec")
	}
	if s.hs != nil {
		s.hs.ccsReceived = true
	}
	return nil
}

func (s *Session) handleApplicationData(p []byte) (bool, error) {
	if s.state != StateEstablished {
		if s.datagram {
			return false, nil
		}
		return false, status.Errorf(status.CodeUnexpectedMessage, "application data during handshake")
	}
	s.appData = append(s.appData, p...)
	return true, nil
}

// alertFor maps a fatal error to the alert sent to the peer. Transport,
// state and received-alert errors send nothing.
func alertFor(err error) (record.Alert, bool) {
	code := status.CodeOf(err)
	switch code {
	case status.CodeNoSharedCipher, status.CodeKeyExchangeFailure:
		return record.AlertHandshakeFailure, true
	case status.CodeVersionMismatch:
		return record.AlertProtocolVersion, true
	case status.CodeMalformedMessage:
		return record.AlertDecodeError, true
	case status.CodeUnexpectedMessage:
		return record.AlertUnexpectedMessage, true
	case status.CodeBadCertificateChain, status.CodeNoPeerCert,
		status.CodeVerifyCallbackReject, status.CodeHostnameMismatch:
		return record.AlertBadCertificate, true
	case status.CodeUntrustedIssuer:
		return record.AlertUnknownCA, true
	case status.CodeCertExpired:
		return record.AlertCertificateExpired, true
	case status.CodeCertRevoked:
		return record.AlertCertificateRevoked, true
	case status.CodeBadSignature, status.CodeFinishedMismatch:
		return record.AlertDecryptError, true
	case status.CodeMacFailure, status.CodeDecryptFailure:
		return record.AlertBadRecordMAC, true
	case status.CodeRecordOverflow:
		return record.AlertRecordOverflow, true
	case status.CodeAlertReceived:
		return 0, false
	}
	switch code.Kind() {
	case status.KindRevocation:
		return record.AlertCertificateUnknown, true
	case status.KindHandshake:
		return record.AlertInternalError, true
	}
	return 0, false
}
