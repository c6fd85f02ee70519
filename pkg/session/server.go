package session

import (
	"crypto/hmac"
	"crypto/sha256"
	"slices"

	"github.com/sslkit/sslkit-go/pkg/cert"
	"github.com/sslkit/sslkit-go/pkg/ciphersuite"
	"github.com/sslkit/sslkit-go/pkg/handshake"
	"github.com/sslkit/sslkit-go/pkg/log"
	"github.com/sslkit/sslkit-go/pkg/record"
	"github.com/sslkit/sslkit-go/pkg/status"
	"github.com/sslkit/sslkit-go/pkg/version"
)

const rsaPremasterLen = 48

func (s *Session) serverStep() error {
	m, err := s.nextMessage()
	if err != nil {
		return err
	}
	switch s.hs.state {
	case stateWaitClientHello:
		return s.handleClientHello(m)
	case stateWaitClientCert:
		return s.handleClientCertificate(m)
	case stateWaitClientKeyExchange:
		return s.handleClientKeyExchange(m)
	case stateWaitCertVerify:
		return s.handleCertificateVerify(m)
	case stateWaitFinished:
		return s.handleClientFinished(m)
	}
	return unexpected(m)
}

// negotiateVersion picks the highest version of the method not above the
// client's offer.
func negotiateVersion(method version.Method, offered version.Version) (version.Version, bool) {
	minVers, maxVers := method.Range()
	if maxVers.Datagram() {
		// DTLS version numbers decrease as versions increase.
		switch {
		case offered <= maxVers:
			return maxVers, true
		case method.Allows(offered):
			return offered, true
		}
		return 0, false
	}
	switch {
	case offered >= maxVers:
		return maxVers, true
	case offered < minVers || offered.Rank() == 0:
		return 0, false
	}
	return offered, true
}

func (s *Session) cookie(clientRandom []byte) []byte {
	mac := hmac.New(sha256.New, s.hs.cookieSecret)
	if s.peerAddr != nil {
		mac.Write([]byte(s.peerAddr.String()))
	}
	mac.Write(clientRandom)
	return mac.Sum(nil)
}

func (s *Session) handleClientHello(m *message) error {
	hs := s.hs
	if m.typ != handshake.TypeClientHello {
		return unexpected(m, handshake.TypeClientHello)
	}
	ch := handshake.ClientHello{Datagram: s.datagram}
	if !ch.Unmarshal(m.body) {
		return malformed(m.typ)
	}

	if s.datagram {
		if hs.cookieSecret == nil {
			secret, err := randomBytes(32)
			if err != nil {
				return err
			}
			hs.cookieSecret = secret
		}
		want := s.cookie(ch.Random)
		if !hmac.Equal(want, ch.Cookie) {
			return s.sendHelloVerifyRequest(m.seq, want)
		}
		hs.acceptAnySeq = false
		hs.sendSeq = m.seq
	}
	hs.add(m)

	vers, ok := negotiateVersion(s.cfg.method, ch.Version)
	if !ok {
		return status.Errorf(status.CodeVersionMismatch, "client offered %s", ch.Version)
	}
	if !slices.Contains(ch.CompressionMethods, 0) {
		return status.Errorf(status.CodeMalformedMessage, "client does not offer null compression")
	}
	s.vers = vers

	suite, err := s.selectSuite(&ch)
	if err != nil {
		return err
	}
	s.suite = suite
	hs.clientRandom = ch.Random
	hs.clientVersion = ch.Version
	hs.peerSchemes = ch.SignatureSchemes
	if ch.ServerName != "" {
		s.serverName = ch.ServerName
	}
	serverRandom, err := randomBytes(handshake.RandomLen)
	if err != nil {
		return err
	}
	hs.serverRandom = serverRandom
	return s.sendServerFlight(&ch)
}

// selectSuite picks the first configured suite the client offered that the
// certificate and the client's curves and signature schemes can serve.
func (s *Session) selectSuite(ch *handshake.ClientHello) (*ciphersuite.Suite, error) {
	hs := s.hs
	leaf := s.cfg.chain.Leaf()
	if leaf == nil {
		return nil, status.Errorf(status.CodeNoSharedCipher, "no server certificate configured")
	}
	alg := handshake.AlgorithmOfCert(leaf)

	curve, haveCurve := handshake.SelectCurve(ch.SupportedGroups)
	scheme, haveScheme := handshake.Select(alg, ch.SignatureSchemes)
	if !s.vers.SignatureAlgorithms() {
		haveScheme = true
	}

	for _, su := range s.cfg.suites {
		if !slices.Contains(ch.CipherSuites, su.ID) || !su.Supports(s.vers) || !authMatches(su, leaf) {
			continue
		}
		if su.KeyExchange == ciphersuite.KeyExchangeECDHE && (!haveCurve || !haveScheme) {
			continue
		}
		hs.curve = curve
		hs.scheme = scheme
		return su, nil
	}
	return nil, status.Errorf(status.CodeNoSharedCipher, "no shared cipher suite among %d offered", len(ch.CipherSuites))
}

// sendHelloVerifyRequest answers a ClientHello without a valid cookie. It
// keeps no state and is not retransmitted.
func (s *Session) sendHelloVerifyRequest(seq uint16, cookie []byte) error {
	low, _ := s.cfg.method.Range()
	hvr := handshake.HelloVerifyRequest{Version: low, Cookie: cookie}
	body := hvr.Marshal()
	s.logHandshake(log.DirectionOut, handshake.TypeHelloVerifyRequest, len(body), seq, false)
	return s.conn.writeRecord(record.TypeHandshake, dtlsFrame(handshake.TypeHelloVerifyRequest, seq, 0, len(body), body))
}

// sendServerFlight sends ServerHello Certificate [ServerKeyExchange]
// [CertificateRequest] ServerHelloDone.
func (s *Session) sendServerFlight(ch *handshake.ClientHello) error {
	hs := s.hs
	s.beginFlight()

	sh := handshake.ServerHello{
		Version:             s.vers,
		Random:              hs.serverRandom,
		CipherSuite:         s.suite.ID,
		SecureRenegotiation: ch.SecureRenegotiation,
	}
	ecdhe := s.suite.KeyExchange == ciphersuite.KeyExchangeECDHE
	if ecdhe && len(ch.PointFormats) > 0 {
		sh.PointFormats = []uint8{0}
	}
	if err := s.writeMessage(handshake.TypeServerHello, sh.Marshal()); err != nil {
		return err
	}

	certMsg := handshake.Certificate{Chain: s.cfg.chain.Raw()}
	if err := s.writeMessage(handshake.TypeCertificate, certMsg.Marshal()); err != nil {
		return err
	}

	if ecdhe {
		if err := s.writeServerKeyExchange(); err != nil {
			return err
		}
	}

	next := stateWaitClientKeyExchange
	if s.cfg.verifyMode != VerifyNone {
		cr := handshake.CertificateRequest{
			CertificateTypes: []uint8{handshake.CertTypeRSASign, handshake.CertTypeECDSASign},
			HasSchemes:       s.vers.SignatureAlgorithms(),
		}
		if cr.HasSchemes {
			cr.SignatureSchemes = handshake.DefaultSchemes
		}
		for _, ca := range s.cfg.trust.Certificates() {
			cr.Authorities = append(cr.Authorities, ca.RawSubject)
		}
		if err := s.writeMessage(handshake.TypeCertificateRequest, cr.Marshal()); err != nil {
			return err
		}
		next = stateWaitClientCert
	}

	if err := s.writeMessage(handshake.TypeServerHelloDone, nil); err != nil {
		return err
	}
	s.endFlight(true)
	s.setHandshakeState(next)
	return nil
}

func (s *Session) writeServerKeyExchange() error {
	hs := s.hs
	kp, err := handshake.GenerateKey(hs.curve, nil)
	if err != nil {
		return status.Wrap(status.CodeKeyExchangeFailure, err)
	}
	hs.ecdhe = kp

	alg := handshake.AlgorithmOfCert(s.cfg.chain.Leaf())
	ske := handshake.ServerKeyExchange{
		Curve:     hs.curve,
		PublicKey: kp.PublicKey,
		Scheme:    hs.scheme,
		HasScheme: s.vers.SignatureAlgorithms(),
	}
	h := handshake.SigningHash(s.vers, hs.scheme, alg)
	sig, err := s.pkSign(h, handshake.Digest(h, hs.clientRandom, hs.serverRandom, ske.Params()), hs.scheme)
	if err != nil {
		return err
	}
	ske.Signature = sig
	return s.writeMessage(handshake.TypeServerKeyExchange, ske.Marshal())
}

func (s *Session) handleClientCertificate(m *message) error {
	if m.typ != handshake.TypeCertificate {
		return unexpected(m, handshake.TypeCertificate)
	}
	var msg handshake.Certificate
	if !msg.Unmarshal(m.body) {
		return malformed(m.typ)
	}
	if len(msg.Chain) == 0 {
		if s.cfg.verifyMode == VerifyFailIfNoPeerCert {
			return status.Errorf(status.CodeNoPeerCert, "client sent no certificate")
		}
		s.hs.add(m)
		s.setHandshakeState(stateWaitClientKeyExchange)
		return nil
	}

	chain, err := cert.ParseRawChain(msg.Chain)
	if err != nil {
		return status.Wrap(status.CodeBadCertificateChain, err)
	}
	if err := s.verifyPeer(chain); err != nil {
		return err
	}
	s.hs.add(m)
	s.setPeerChain(chain)
	s.setHandshakeState(stateWaitClientKeyExchange)
	return nil
}

func (s *Session) handleClientKeyExchange(m *message) error {
	hs := s.hs
	if m.typ != handshake.TypeClientKeyExchange {
		return unexpected(m, handshake.TypeClientKeyExchange)
	}
	cke := handshake.ClientKeyExchange{ECDHE: s.suite.KeyExchange == ciphersuite.KeyExchangeECDHE}
	if !cke.Unmarshal(m.body) {
		return malformed(m.typ)
	}

	var premaster []byte
	if cke.ECDHE {
		shared, err := hs.ecdhe.Shared(cke.Data)
		if err != nil {
			return status.Errorf(status.CodeKeyExchangeFailure, "ECDHE: %w", err)
		}
		premaster = shared
	} else {
		// A bad premaster continues with a random one so the failure
		// surfaces at Finished.
		fallback, err := randomBytes(rsaPremasterLen)
		if err != nil {
			return err
		}
		fallback[0], fallback[1] = byte(hs.clientVersion>>8), byte(hs.clientVersion)
		premaster = fallback
		pm, err := s.pkDecrypt(cke.Data)
		switch {
		case err != nil:
			s.diagf(log.SeverityDebug, "session %s: premaster decryption failed: %v", shortID(s.id), err)
		case len(pm) != rsaPremasterLen:
		case pm[0] != fallback[0] || pm[1] != fallback[1]:
		default:
			premaster = pm
		}
	}
	hs.add(m)
	if err := s.deriveKeys(premaster); err != nil {
		return err
	}

	if len(s.peerChain) > 0 {
		s.setHandshakeState(stateWaitCertVerify)
	} else {
		s.setHandshakeState(stateWaitFinished)
	}
	return nil
}

func (s *Session) handleCertificateVerify(m *message) error {
	hs := s.hs
	if m.typ != handshake.TypeCertificateVerify {
		return unexpected(m, handshake.TypeCertificateVerify)
	}
	cv := handshake.CertificateVerify{HasScheme: s.vers.SignatureAlgorithms()}
	if !cv.Unmarshal(m.body) {
		return malformed(m.typ)
	}

	leaf := s.peerChain[0]
	alg := handshake.AlgorithmOfCert(leaf)
	h := handshake.LegacyHash(alg)
	if cv.HasScheme {
		if !cv.Scheme.Known() || cv.Scheme.IsECDSA() != (alg == handshake.KeyECDSA) {
			return status.Errorf(status.CodeBadSignature, "client used signature scheme %s", cv.Scheme)
		}
		h = cv.Scheme.Hash()
	}
	digest := handshake.Digest(h, hs.transcript.Bytes())
	if err := s.pkVerify(h, digest, cv.Signature, cv.Scheme, leaf.RawSubjectPublicKeyInfo); err != nil {
		return err
	}
	hs.add(m)
	s.setHandshakeState(stateWaitFinished)
	return nil
}

func (s *Session) handleClientFinished(m *message) error {
	if err := s.readFinished(m); err != nil {
		return err
	}
	s.beginFlight()
	if err := s.writeChangeCipherSpec(); err != nil {
		return err
	}
	if err := s.writeFinished(); err != nil {
		return err
	}
	// The last flight is resent only when the client repeats its own.
	s.endFlight(false)
	s.setHandshakeState(stateDone)
	s.hs.done = true
	return nil
}
