package session

import (
	"crypto"
	"crypto/hmac"
	"crypto/rand"
	"errors"
	"fmt"
	"io"

	"github.com/sslkit/sslkit-go/pkg/callback"
	"github.com/sslkit/sslkit-go/pkg/handshake"
	"github.com/sslkit/sslkit-go/pkg/log"
	"github.com/sslkit/sslkit-go/pkg/record"
	"github.com/sslkit/sslkit-go/pkg/retransmit"
	"github.com/sslkit/sslkit-go/pkg/status"
	"github.com/sslkit/sslkit-go/pkg/version"
)

const (
	tlsMessageHeaderLen  = 4
	dtlsMessageHeaderLen = 12

	// maxMessageLen bounds a reassembled handshake message.
	maxMessageLen = 1 << 17

	// reassemblyWindow is how far ahead of the next expected DTLS message
	// fragments are buffered.
	reassemblyWindow = 8

	// protectionOverhead is reserved in each DTLS datagram for the MAC,
	// explicit IV and padding of an encrypted handshake record.
	protectionOverhead = 64
)

// hsState is a step of the handshake state machine.
type hsState uint8

const (
	stateStart hsState = iota
	stateWaitServerHello
	stateWaitServerCert
	stateWaitServerKeyExchange
	stateWaitServerHelloDone
	stateWaitClientHello
	stateWaitClientCert
	stateWaitClientKeyExchange
	stateWaitCertVerify
	stateWaitFinished
	stateDone
)

var hsStateNames = [...]string{
	stateStart:                 "START",
	stateWaitServerHello:       "WAIT_SERVER_HELLO",
	stateWaitServerCert:        "WAIT_SERVER_CERTIFICATE",
	stateWaitServerKeyExchange: "WAIT_SERVER_KEY_EXCHANGE",
	stateWaitServerHelloDone:   "WAIT_SERVER_HELLO_DONE",
	stateWaitClientHello:       "WAIT_CLIENT_HELLO",
	stateWaitClientCert:        "WAIT_CLIENT_CERTIFICATE",
	stateWaitClientKeyExchange: "WAIT_CLIENT_KEY_EXCHANGE",
	stateWaitCertVerify:        "WAIT_CERTIFICATE_VERIFY",
	stateWaitFinished:          "WAIT_FINISHED",
	stateDone:                  "DONE",
}

func (s hsState) String() string {
	if int(s) < len(hsStateNames) {
		return hsStateNames[s]
	}
	return fmt.Sprintf("hsState(%d)", uint8(s))
}

// message is a complete handshake message.
type message struct {
	typ  handshake.Type
	seq  uint16
	body []byte

	// raw is the framing hashed into the transcript. For DTLS it is the
	// unfragmented 12-byte header form.
	raw []byte
}

// fragments collects the pieces of one DTLS message.
type fragments struct {
	typ    handshake.Type
	body   []byte
	filled []bool
	have   int
}

func (f *fragments) add(off int, data []byte) {
	copy(f.body[off:], data)
	for i := off; i < off+len(data); i++ {
		if !f.filled[i] {
			f.filled[i] = true
			f.have++
		}
	}
}

func (f *fragments) complete() bool {
	return f.have == len(f.body)
}

// flightEntry is one message of the last flight sent, kept for DTLS
// retransmission. Entries are resealed on every resend.
type flightEntry struct {
	epoch   uint16
	ctype   record.ContentType
	typ     handshake.Type
	seq     uint16
	payload []byte
}

// handshakeState is the per-handshake working set.
type handshakeState struct {
	state hsState
	done  bool

	transcript   handshake.Transcript
	clientRandom []byte
	serverRandom []byte
	master       []byte
	premaster    []byte

	// Client.
	offered     version.Version
	suiteIDs    []uint16
	cookie      []byte
	certRequest *handshake.CertificateRequest

	// Server.
	clientVersion version.Version
	peerSchemes   []handshake.SignatureScheme
	cookieSecret  []byte
	curve         handshake.CurveID
	scheme        handshake.SignatureScheme

	ecdhe       *handshake.KeyPair
	ccsReceived bool

	// TLS message stream.
	buf []byte

	// DTLS sequencing.
	sendSeq      uint16
	recvSeq      uint16
	acceptAnySeq bool
	pending      map[uint16]*fragments
	flight       []flightEntry
	triggerSeq   int

	queue []*message
}

func newHandshakeState(role version.Role, datagram bool) *handshakeState {
	hs := &handshakeState{
		state:      stateStart,
		triggerSeq: -1,
		pending:    make(map[uint16]*fragments),
	}
	if role == version.RoleServer {
		hs.state = stateWaitClientHello
		hs.acceptAnySeq = datagram
	}
	return hs
}

func (hs *handshakeState) add(m *message) {
	hs.transcript.Add(m.raw)
}

func (s *Session) setHandshakeState(to hsState) {
	from := s.hs.state
	s.hs.state = to
	s.event(log.Event{
		Layer:    log.LayerHandshake,
		Category: log.CategoryState,
		StateChange: &log.StateChangeEvent{
			Entity:   log.StateEntityHandshake,
			OldState: from.String(),
			NewState: to.String(),
		},
	})
}

// handshake drives the handshake as far as the transport allows.
func (s *Session) handshake() error {
	if s.destroyed {
		return status.Errorf(status.CodeBadState, "session destroyed")
	}
	switch s.state {
	case StateEstablished:
		return nil
	case StateErrored:
		return s.err
	case StateClosed:
		return status.Errorf(status.CodeBadState, "session closed")
	case StateInit:
		if s.transport == nil && (s.cfg.callbacks.IOSend() == nil || s.cfg.callbacks.IORecv() == nil) {
			return status.Errorf(status.CodeNoTransport, "no transport bound and no I/O callbacks registered")
		}
		s.hs = newHandshakeState(s.role, s.datagram)
		s.setState(StateHandshaking, "handshake started")
	}

	for {
		if err := s.conn.flush(); err != nil {
			return s.fail(err)
		}
		if s.hs.done {
			s.finishHandshake()
			return nil
		}
		err := s.step()
		if err == nil {
			continue
		}
		if status.CodeOf(err) == status.CodeWantRead && s.timer != nil && s.timer.Expired() {
			err = s.onTimeout()
		}
		return s.fail(err)
	}
}

func (s *Session) step() error {
	if s.role == version.RoleClient {
		return s.clientStep()
	}
	return s.serverStep()
}

// onTimeout resends the outstanding flight after the retransmission
// timer fired.
func (s *Session) onTimeout() error {
	if err := s.timer.Retry(); err != nil {
		if errors.Is(err, retransmit.ErrExhausted) {
			return status.Errorf(status.CodeHandshakeTimeout, "no response after %d retransmissions", s.timer.Retries())
		}
		return err
	}
	s.diagf(log.SeverityDebug, "session %s: retransmitting flight (attempt %d)", shortID(s.id), s.timer.Retries())
	if err := s.retransmitFlight(); err != nil {
		return err
	}
	if err := s.conn.flush(); err != nil {
		return err
	}
	return status.CodeWantRead
}

func (s *Session) finishHandshake() {
	hs := s.hs
	s.established = true
	if s.timer != nil {
		s.timer.Stop()
	}
	hs.premaster = nil
	hs.master = nil
	hs.ecdhe = nil
	if !s.datagram {
		// DTLS keeps the final flight for retransmission.
		s.hs = nil
	}
	s.setState(StateEstablished, fmt.Sprintf("%s %s", s.vers, s.suite.Name))
}

// nextMessage returns the next complete handshake message, reading
// records as needed.
func (s *Session) nextMessage() (*message, error) {
	for len(s.hs.queue) == 0 {
		if s.peerClosed {
			return nil, status.Errorf(status.CodeConnectionClosed, "peer closed during handshake")
		}
		if err := s.conn.readRecord(); err != nil {
			return nil, err
		}
	}
	m := s.hs.queue[0]
	s.hs.queue = s.hs.queue[1:]
	if s.timer != nil {
		s.timer.Stop()
	}
	s.logHandshake(log.DirectionIn, m.typ, len(m.body), m.seq, false)
	return m, nil
}

// expect returns the next message, which must be of type typ.
func (s *Session) expect(typ handshake.Type) (*message, error) {
	m, err := s.nextMessage()
	if err != nil {
		return nil, err
	}
	if m.typ != typ {
		return nil, unexpected(m, typ)
	}
	return m, nil
}

func unexpected(m *message, want ...handshake.Type) error {
	return status.Errorf(status.CodeUnexpectedMessage, "got %s, want %v", m.typ, want)
}

func malformed(typ handshake.Type) error {
	return status.Errorf(status.CodeMalformedMessage, "malformed %s", typ)
}

// handleHandshakeRecord splits a handshake record into messages.
func (s *Session) handleHandshakeRecord(p []byte) error {
	if s.hs == nil || s.hs.done {
		return s.postHandshake(p)
	}
	if s.datagram {
		return s.parseDatagramMessages(p)
	}

	hs := s.hs
	hs.buf = append(hs.buf, p...)
	for len(hs.buf) >= tlsMessageHeaderLen {
		n := int(hs.buf[1])<<16 | int(hs.buf[2])<<8 | int(hs.buf[3])
		if n > maxMessageLen {
			return status.Errorf(status.CodeMalformedMessage, "handshake message of %d bytes", n)
		}
		if len(hs.buf) < tlsMessageHeaderLen+n {
			break
		}
		raw := append([]byte(nil), hs.buf[:tlsMessageHeaderLen+n]...)
		hs.buf = hs.buf[tlsMessageHeaderLen+n:]
		hs.queue = append(hs.queue, &message{
			typ:  handshake.Type(raw[0]),
			body: raw[tlsMessageHeaderLen:],
			raw:  raw,
		})
	}
	return nil
}

type dtlsFragment struct {
	typ    handshake.Type
	length int
	seq    uint16
	off    int
	data   []byte
}

// nextFragment parses one DTLS handshake fragment header and body.
func nextFragment(p []byte) (dtlsFragment, []byte, bool) {
	if len(p) < dtlsMessageHeaderLen {
		return dtlsFragment{}, nil, false
	}
	f := dtlsFragment{
		typ:    handshake.Type(p[0]),
		length: int(p[1])<<16 | int(p[2])<<8 | int(p[3]),
		seq:    uint16(p[4])<<8 | uint16(p[5]),
		off:    int(p[6])<<16 | int(p[7])<<8 | int(p[8]),
	}
	n := int(p[9])<<16 | int(p[10])<<8 | int(p[11])
	p = p[dtlsMessageHeaderLen:]
	if len(p) < n || f.off+n > f.length || f.length > maxMessageLen {
		return dtlsFragment{}, nil, false
	}
	f.data = p[:n]
	return f, p[n:], true
}

func (s *Session) parseDatagramMessages(p []byte) error {
	hs := s.hs
	for len(p) > 0 {
		f, rest, ok := nextFragment(p)
		if !ok {
			// Malformed datagram content is dropped.
			return nil
		}
		p = rest

		if hs.acceptAnySeq && f.typ == handshake.TypeClientHello {
			hs.recvSeq = f.seq
			clear(hs.pending)
		}
		if f.seq < hs.recvSeq {
			if int(f.seq) == hs.triggerSeq && f.off == 0 {
				if err := s.retransmitFlight(); err != nil {
					return err
				}
			}
			continue
		}
		if f.seq >= hs.recvSeq+reassemblyWindow {
			continue
		}

		fr := hs.pending[f.seq]
		if fr == nil {
			fr = &fragments{typ: f.typ, body: make([]byte, f.length), filled: make([]bool, f.length)}
			hs.pending[f.seq] = fr
		}
		if fr.typ != f.typ || len(fr.body) != f.length {
			continue
		}
		fr.add(f.off, f.data)

		for {
			next := hs.pending[hs.recvSeq]
			if next == nil || !next.complete() {
				break
			}
			delete(hs.pending, hs.recvSeq)
			hs.queue = append(hs.queue, &message{
				typ:  next.typ,
				seq:  hs.recvSeq,
				body: next.body,
				raw:  dtlsFrame(next.typ, hs.recvSeq, 0, len(next.body), next.body),
			})
			hs.recvSeq++
		}
	}
	return nil
}

// postHandshake handles handshake records after the handshake finished.
func (s *Session) postHandshake(p []byte) error {
	if s.datagram {
		if s.hs == nil {
			return nil
		}
		for len(p) > 0 {
			f, rest, ok := nextFragment(p)
			if !ok {
				return nil
			}
			p = rest
			if int(f.seq) == s.hs.triggerSeq && f.off == 0 {
				if err := s.retransmitFlight(); err != nil {
					return err
				}
				if err := s.conn.flush(); err != nil && !status.IsWouldBlock(err) {
					return err
				}
			}
		}
		return nil
	}
	if len(p) >= tlsMessageHeaderLen && handshake.Type(p[0]) == handshake.TypeHelloRequest {
		s.diagf(log.SeverityDebug, "session %s: declining renegotiation", shortID(s.id))
		return s.conn.sendAlert(record.AlertLevelWarning, record.AlertNoRenegotiation)
	}
	return status.Errorf(status.CodeUnexpectedMessage, "handshake message after handshake")
}

func tlsFrame(typ handshake.Type, body []byte) []byte {
	n := len(body)
	out := make([]byte, 0, tlsMessageHeaderLen+n)
	out = append(out, byte(typ), byte(n>>16), byte(n>>8), byte(n))
	return append(out, body...)
}

func dtlsFrame(typ handshake.Type, seq uint16, off, n int, body []byte) []byte {
	total := len(body)
	out := make([]byte, 0, dtlsMessageHeaderLen+n)
	out = append(out,
		byte(typ), byte(total>>16), byte(total>>8), byte(total),
		byte(seq>>8), byte(seq),
		byte(off>>16), byte(off>>8), byte(off),
		byte(n>>16), byte(n>>8), byte(n))
	return append(out, body[off:off+n]...)
}

// beginFlight starts a new outgoing flight.
func (s *Session) beginFlight() {
	hs := s.hs
	hs.flight = hs.flight[:0]
	if s.datagram && hs.recvSeq > 0 {
		hs.triggerSeq = int(hs.recvSeq) - 1
	}
}

// endFlight arms the retransmission timer when a reply is expected.
func (s *Session) endFlight(awaitReply bool) {
	if s.timer != nil && awaitReply {
		s.timer.Start()
	}
}

// writeMessage frames body, adds it to the transcript and sends it as part
// of the current flight.
func (s *Session) writeMessage(typ handshake.Type, body []byte) error {
	hs := s.hs
	e := flightEntry{
		epoch:   s.conn.writeState().epoch,
		ctype:   record.TypeHandshake,
		typ:     typ,
		seq:     hs.sendSeq,
		payload: body,
	}
	if s.datagram {
		hs.transcript.Add(dtlsFrame(typ, e.seq, 0, len(body), body))
		hs.sendSeq++
	} else {
		hs.transcript.Add(tlsFrame(typ, body))
	}
	s.logHandshake(log.DirectionOut, typ, len(body), e.seq, false)
	if s.datagram {
		hs.flight = append(hs.flight, e)
	}
	return s.sendEntry(&e)
}

// writeChangeCipherSpec sends ChangeCipherSpec and switches the write side
// to the pending keys.
func (s *Session) writeChangeCipherSpec() error {
	e := flightEntry{
		epoch:   s.conn.writeState().epoch,
		ctype:   record.TypeChangeCipherSpec,
		payload: []byte{1},
	}
	if s.datagram {
		s.hs.flight = append(s.hs.flight, e)
	}
	if err := s.sendEntry(&e); err != nil {
		return err
	}
	s.conn.changeWriteState()
	return nil
}

func (s *Session) sendEntry(e *flightEntry) error {
	cs := s.conn.wr[e.epoch]
	if e.ctype != record.TypeHandshake {
		return s.conn.writeWith(cs, e.ctype, e.payload)
	}
	if !s.datagram {
		return s.conn.writeWith(cs, record.TypeHandshake, tlsFrame(e.typ, e.payload))
	}

	maxFrag := s.cfg.mtu - record.DTLSHeaderLen - dtlsMessageHeaderLen - protectionOverhead
	if maxFrag < 64 {
		maxFrag = 64
	}
	for off := 0; ; {
		n := min(len(e.payload)-off, maxFrag)
		if err := s.conn.writeWith(cs, record.TypeHandshake, dtlsFrame(e.typ, e.seq, off, n, e.payload)); err != nil {
			return err
		}
		off += n
		if off >= len(e.payload) {
			return nil
		}
	}
}

// retransmitFlight resends the last flight with fresh record sequence
// numbers.
func (s *Session) retransmitFlight() error {
	for i := range s.hs.flight {
		e := &s.hs.flight[i]
		if e.ctype == record.TypeHandshake {
			s.logHandshake(log.DirectionOut, e.typ, len(e.payload), e.seq, true)
		}
		if err := s.sendEntry(e); err != nil {
			return err
		}
	}
	return nil
}

// writeFinished sends Finished over the transcript so far.
func (s *Session) writeFinished() error {
	hs := s.hs
	prf := s.suite.PRFHash(s.vers)
	verify := handshake.FinishedData(prf, hs.master, s.role == version.RoleClient, hs.transcript.Sum(prf))
	return s.writeMessage(handshake.TypeFinished, verify)
}

// readFinished checks the peer's Finished message.
func (s *Session) readFinished(m *message) error {
	hs := s.hs
	if m.typ != handshake.TypeFinished {
		return unexpected(m, handshake.TypeFinished)
	}
	if !hs.ccsReceived {
		return status.Errorf(status.CodeUnexpectedMessage, "Finished before change_cipher_spec")
	}
	if len(m.body) != handshake.FinishedLen {
		return malformed(m.typ)
	}
	prf := s.suite.PRFHash(s.vers)
	want := handshake.FinishedData(prf, hs.master, s.role != version.RoleClient, hs.transcript.Sum(prf))
	if !hmac.Equal(want, m.body) {
		return status.Errorf(status.CodeFinishedMismatch, "peer Finished does not match the transcript")
	}
	hs.add(m)
	return nil
}

// deriveKeys computes the master secret and the pending cipher states.
func (s *Session) deriveKeys(premaster []byte) error {
	hs := s.hs
	prf := s.suite.PRFHash(s.vers)
	hs.master = handshake.MasterSecret(prf, premaster, hs.clientRandom, hs.serverRandom)
	clientKeys, serverKeys := handshake.KeyBlock(prf, s.suite, hs.master, hs.clientRandom, hs.serverRandom)

	wk, rk := clientKeys, serverKeys
	if s.role == version.RoleServer {
		wk, rk = serverKeys, clientKeys
	}
	wr, err := s.conn.newState(s.suite, wk, true)
	if err != nil {
		return err
	}
	rd, err := s.conn.newState(s.suite, rk, false)
	if err != nil {
		return err
	}
	s.conn.wrPending, s.conn.rdPending = wr, rd
	return nil
}

func randomBytes(n int) ([]byte, error) {
	b := make([]byte, n)
	if _, err := io.ReadFull(rand.Reader, b); err != nil {
		return nil, status.Errorf(status.CodeKeyExchangeFailure, "random: %w", err)
	}
	return b, nil
}

// pkSign signs digest with the local key or the PKSign callback.
func (s *Session) pkSign(h crypto.Hash, digest []byte, scheme handshake.SignatureScheme) ([]byte, error) {
	in := &callback.SignInput{Hash: h, Digest: digest, Scheme: scheme}
	if s.cfg.key != nil {
		in.KeyDER = s.cfg.key.DER
	}
	var sig []byte
	var err error
	if fn := s.cfg.callbacks.PKSign(); fn != nil {
		sig, err = fn(s, s.contexts.Get(callback.KindPKSign), in)
	} else {
		sig, err = callback.DefaultSign(in)
	}
	if err == nil && len(sig) == 0 {
		err = errors.New("empty signature")
	}
	if err != nil {
		return nil, status.Errorf(status.CodeSignFailure, "sign: %w", err)
	}
	return sig, nil
}

// pkVerify checks a peer signature with the PKVerify callback or the
// built-in verifier.
func (s *Session) pkVerify(h crypto.Hash, digest, sig []byte, scheme handshake.SignatureScheme, spki []byte) error {
	in := &callback.VerifyInput{Hash: h, Digest: digest, Signature: sig, Scheme: scheme, PublicKeyDER: spki}
	var err error
	if fn := s.cfg.callbacks.PKVerify(); fn != nil {
		err = fn(s, s.contexts.Get(callback.KindPKVerify), in)
	} else {
		err = callback.DefaultVerify(in)
	}
	if err != nil {
		return status.Errorf(status.CodeBadSignature, "verify: %w", err)
	}
	return nil
}

func (s *Session) pkEncrypt(plaintext, spki []byte) ([]byte, error) {
	in := &callback.EncryptInput{Plaintext: plaintext, PublicKeyDER: spki}
	var out []byte
	var err error
	if fn := s.cfg.callbacks.PKEncrypt(); fn != nil {
		out, err = fn(s, s.contexts.Get(callback.KindPKEncrypt), in)
	} else {
		out, err = callback.DefaultEncrypt(in)
	}
	if err != nil {
		return nil, status.Errorf(status.CodeKeyExchangeFailure, "encrypt premaster: %w", err)
	}
	return out, nil
}

func (s *Session) pkDecrypt(ciphertext []byte) ([]byte, error) {
	in := &callback.DecryptInput{Ciphertext: ciphertext}
	if s.cfg.key != nil {
		in.KeyDER = s.cfg.key.DER
	}
	if fn := s.cfg.callbacks.PKDecrypt(); fn != nil {
		return fn(s, s.contexts.Get(callback.KindPKDecrypt), in)
	}
	return callback.DefaultDecrypt(in)
}
