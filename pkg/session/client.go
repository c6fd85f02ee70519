package session

import (
	"crypto/x509"
	"net"
	"slices"

	"github.com/sslkit/sslkit-go/pkg/cert"
	"github.com/sslkit/sslkit-go/pkg/ciphersuite"
	"github.com/sslkit/sslkit-go/pkg/handshake"
	"github.com/sslkit/sslkit-go/pkg/status"
)

func (s *Session) clientStep() error {
	hs := s.hs
	if hs.state == stateStart {
		return s.sendClientHello()
	}

	m, err := s.nextMessage()
	if err != nil {
		return err
	}
	switch hs.state {
	case stateWaitServerHello:
		return s.handleServerHello(m)
	case stateWaitServerCert:
		return s.handleServerCertificate(m)
	case stateWaitServerKeyExchange:
		return s.handleServerKeyExchange(m)
	case stateWaitServerHelloDone:
		return s.handleServerHelloDone(m)
	case stateWaitFinished:
		if err := s.readFinished(m); err != nil {
			return err
		}
		s.setHandshakeState(stateDone)
		hs.done = true
		return nil
	}
	return unexpected(m)
}

func (s *Session) sendClientHello() error {
	hs := s.hs
	_, maxVers := s.cfg.method.Range()

	if hs.clientRandom == nil {
		r, err := randomBytes(handshake.RandomLen)
		if err != nil {
			return err
		}
		hs.clientRandom = r
		hs.offered = maxVers
		hs.suiteIDs = nil
		for _, su := range s.cfg.suites {
			if su.Supports(maxVers) {
				hs.suiteIDs = append(hs.suiteIDs, su.ID)
			}
		}
		if len(hs.suiteIDs) == 0 {
			return status.Errorf(status.CodeNoSharedCipher, "no configured suite supports %s", maxVers)
		}
	}

	ch := &handshake.ClientHello{
		Version:             maxVers,
		Random:              hs.clientRandom,
		Cookie:              hs.cookie,
		CipherSuites:        hs.suiteIDs,
		CompressionMethods:  []uint8{0},
		SupportedGroups:     handshake.DefaultCurves,
		PointFormats:        []uint8{0},
		SecureRenegotiation: true,
		Datagram:            s.datagram,
	}
	if maxVers.SignatureAlgorithms() {
		ch.SignatureSchemes = handshake.DefaultSchemes
	}
	if s.serverName != "" && net.ParseIP(s.serverName) == nil {
		ch.ServerName = s.serverName
	}

	s.beginFlight()
	if err := s.writeMessage(handshake.TypeClientHello, ch.Marshal()); err != nil {
		return err
	}
	s.endFlight(true)
	s.setHandshakeState(stateWaitServerHello)
	return nil
}

func (s *Session) handleServerHello(m *message) error {
	hs := s.hs
	if s.datagram && m.typ == handshake.TypeHelloVerifyRequest {
		var hvr handshake.HelloVerifyRequest
		if !hvr.Unmarshal(m.body) || len(hvr.Cookie) == 0 {
			return malformed(m.typ)
		}
		// The cookie exchange is not part of the transcript.
		hs.cookie = hvr.Cookie
		hs.transcript.Reset()
		return s.sendClientHello()
	}
	if m.typ != handshake.TypeServerHello {
		return unexpected(m, handshake.TypeServerHello)
	}

	var sh handshake.ServerHello
	if !sh.Unmarshal(m.body) {
		return malformed(m.typ)
	}
	if !s.cfg.method.Allows(sh.Version) || sh.Version.Rank() > hs.offered.Rank() {
		return status.Errorf(status.CodeVersionMismatch, "server selected %s", sh.Version)
	}
	if sh.CompressionMethod != 0 {
		return status.Errorf(status.CodeMalformedMessage, "server selected compression %d", sh.CompressionMethod)
	}
	suite := ciphersuite.ByID(sh.CipherSuite)
	if suite == nil || !slices.Contains(hs.suiteIDs, sh.CipherSuite) || !suite.Supports(sh.Version) {
		return status.Errorf(status.CodeNoSharedCipher, "server selected suite 0x%04x", sh.CipherSuite)
	}
	hs.add(m)

	s.vers = sh.Version
	s.suite = suite
	hs.serverRandom = sh.Random
	s.setHandshakeState(stateWaitServerCert)
	return nil
}

func (s *Session) handleServerCertificate(m *message) error {
	if m.typ != handshake.TypeCertificate {
		return unexpected(m, handshake.TypeCertificate)
	}
	var msg handshake.Certificate
	if !msg.Unmarshal(m.body) {
		return malformed(m.typ)
	}
	if len(msg.Chain) == 0 {
		return status.Errorf(status.CodeNoPeerCert, "server sent an empty certificate chain")
	}
	chain, err := cert.ParseRawChain(msg.Chain)
	if err != nil {
		return status.Wrap(status.CodeBadCertificateChain, err)
	}
	if !authMatches(s.suite, chain.Leaf()) {
		return status.Errorf(status.CodeBadCertificateChain, "%s key does not fit %s", chain.Leaf().PublicKeyAlgorithm, s.suite.Name)
	}
	if err := s.verifyPeer(chain); err != nil {
		return err
	}
	s.hs.add(m)
	s.setPeerChain(chain)

	if s.suite.KeyExchange == ciphersuite.KeyExchangeECDHE {
		s.setHandshakeState(stateWaitServerKeyExchange)
	} else {
		s.setHandshakeState(stateWaitServerHelloDone)
	}
	return nil
}

func (s *Session) handleServerKeyExchange(m *message) error {
	hs := s.hs
	if m.typ != handshake.TypeServerKeyExchange {
		return unexpected(m, handshake.TypeServerKeyExchange)
	}
	ske := handshake.ServerKeyExchange{HasScheme: s.vers.SignatureAlgorithms()}
	if !ske.Unmarshal(m.body) {
		return malformed(m.typ)
	}

	leaf := s.peerChain[0]
	alg := handshake.AlgorithmOfCert(leaf)
	if ske.HasScheme && (!ske.Scheme.Known() || ske.Scheme.IsECDSA() != (alg == handshake.KeyECDSA)) {
		return status.Errorf(status.CodeBadSignature, "server used signature scheme %s", ske.Scheme)
	}
	h := handshake.SigningHash(s.vers, ske.Scheme, alg)
	digest := handshake.Digest(h, hs.clientRandom, hs.serverRandom, ske.Params())
	if err := s.pkVerify(h, digest, ske.Signature, ske.Scheme, leaf.RawSubjectPublicKeyInfo); err != nil {
		return err
	}

	if !ske.Curve.Supported() {
		return status.Errorf(status.CodeKeyExchangeFailure, "server selected curve %s", ske.Curve)
	}
	kp, err := handshake.GenerateKey(ske.Curve, nil)
	if err != nil {
		return status.Wrap(status.CodeKeyExchangeFailure, err)
	}
	shared, err := kp.Shared(ske.PublicKey)
	if err != nil {
		return status.Errorf(status.CodeKeyExchangeFailure, "ECDHE: %w", err)
	}
	hs.add(m)
	hs.ecdhe = kp
	hs.premaster = shared
	s.setHandshakeState(stateWaitServerHelloDone)
	return nil
}

func (s *Session) handleServerHelloDone(m *message) error {
	hs := s.hs
	switch m.typ {
	case handshake.TypeCertificateRequest:
		if hs.certRequest != nil {
			return unexpected(m, handshake.TypeServerHelloDone)
		}
		cr := &handshake.CertificateRequest{HasSchemes: s.vers.SignatureAlgorithms()}
		if !cr.Unmarshal(m.body) {
			return malformed(m.typ)
		}
		hs.add(m)
		hs.certRequest = cr
		return nil
	case handshake.TypeServerHelloDone:
		if len(m.body) != 0 {
			return malformed(m.typ)
		}
		hs.add(m)
		return s.sendClientFlight()
	}
	return unexpected(m, handshake.TypeCertificateRequest, handshake.TypeServerHelloDone)
}

// sendClientFlight sends [Certificate] ClientKeyExchange
// [CertificateVerify] ChangeCipherSpec Finished.
func (s *Session) sendClientFlight() error {
	hs := s.hs
	s.beginFlight()

	chain := s.cfg.chain
	if hs.certRequest != nil {
		msg := handshake.Certificate{Chain: chain.Raw()}
		if err := s.writeMessage(handshake.TypeCertificate, msg.Marshal()); err != nil {
			return err
		}
	}

	cke := handshake.ClientKeyExchange{ECDHE: s.suite.KeyExchange == ciphersuite.KeyExchangeECDHE}
	if cke.ECDHE {
		cke.Data = hs.ecdhe.PublicKey
	} else {
		premaster, err := randomBytes(rsaPremasterLen)
		if err != nil {
			return err
		}
		premaster[0], premaster[1] = byte(hs.offered>>8), byte(hs.offered)
		enc, err := s.pkEncrypt(premaster, s.peerChain[0].RawSubjectPublicKeyInfo)
		if err != nil {
			return err
		}
		hs.premaster = premaster
		cke.Data = enc
	}
	if err := s.writeMessage(handshake.TypeClientKeyExchange, cke.Marshal()); err != nil {
		return err
	}
	if err := s.deriveKeys(hs.premaster); err != nil {
		return err
	}

	if hs.certRequest != nil && len(chain) > 0 {
		if err := s.writeCertificateVerify(chain.Leaf()); err != nil {
			return err
		}
	}

	if err := s.writeChangeCipherSpec(); err != nil {
		return err
	}
	if err := s.writeFinished(); err != nil {
		return err
	}
	s.endFlight(true)
	s.setHandshakeState(stateWaitFinished)
	return nil
}

func (s *Session) writeCertificateVerify(leaf *x509.Certificate) error {
	hs := s.hs
	alg := handshake.AlgorithmOfCert(leaf)
	cv := handshake.CertificateVerify{HasScheme: s.vers.SignatureAlgorithms()}
	h := handshake.LegacyHash(alg)
	if cv.HasScheme {
		scheme, ok := handshake.Select(alg, hs.certRequest.SignatureSchemes)
		if !ok {
			return status.Errorf(status.CodeSignFailure, "server accepts no signature scheme for the client key")
		}
		cv.Scheme = scheme
		h = scheme.Hash()
	}
	sig, err := s.pkSign(h, handshake.Digest(h, hs.transcript.Bytes()), cv.Scheme)
	if err != nil {
		return err
	}
	cv.Signature = sig
	return s.writeMessage(handshake.TypeCertificateVerify, cv.Marshal())
}

// authMatches reports whether the certificate key fits the suite's
// authentication algorithm.
func authMatches(suite *ciphersuite.Suite, leaf *x509.Certificate) bool {
	switch handshake.AlgorithmOfCert(leaf) {
	case handshake.KeyRSA:
		return suite.Auth == ciphersuite.AuthRSA
	case handshake.KeyECDSA:
		return suite.Auth == ciphersuite.AuthECDSA
	}
	return false
}

func (s *Session) setPeerChain(chain cert.Chain) {
	s.peerChain = chain
	if leaf := chain.Leaf(); leaf != nil {
		s.peerInfo = cert.NewPeerInfo(leaf)
	}
}
