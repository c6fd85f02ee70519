package session

import (
	"context"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/asn1"

	"github.com/sslkit/sslkit-go/pkg/callback"
	"github.com/sslkit/sslkit-go/pkg/cert"
	"github.com/sslkit/sslkit-go/pkg/log"
	"github.com/sslkit/sslkit-go/pkg/status"
	"github.com/sslkit/sslkit-go/pkg/version"
)

// verifyPeer applies the verification mode to the peer chain. A registered
// VerifyFunc has the last word.
func (s *Session) verifyPeer(chain cert.Chain) error {
	if s.cfg.verifyMode == VerifyNone {
		return nil
	}

	err := s.verifyChain(chain)
	fn := s.cfg.verifyFunc
	if fn == nil {
		return err
	}
	if fn(err == nil, &VerifyInfo{Chain: chain, Err: err}) {
		if err != nil {
			s.diagf(log.SeverityWarn, "session %s: verify callback accepted a failed chain: %v", shortID(s.id), err)
		}
		return nil
	}
	if err == nil {
		return status.Errorf(status.CodeVerifyCallbackReject, "verify callback rejected the peer certificate")
	}
	return err
}

func (s *Session) verifyChain(chain cert.Chain) error {
	opts := cert.VerifyOptions{
		Roots: s.cfg.trust,
		Usage: x509.ExtKeyUsageServerAuth,
	}
	if s.role == version.RoleServer {
		opts.Usage = x509.ExtKeyUsageClientAuth
	} else {
		opts.ServerName = s.serverName
	}
	chains, err := cert.VerifyChain(chain, opts)
	if err != nil {
		return err
	}
	if s.cfg.revocation == nil {
		return nil
	}
	return s.cfg.revocation.Check(context.Background(), chains[0], s.missingCRL)
}

// missingCRL asks the MissingCRL callback whether an issuer without a CRL
// is acceptable. Without a callback the check fails closed.
func (s *Session) missingCRL(rawIssuer []byte, issuer *x509.Certificate) bool {
	fn := s.cfg.callbacks.MissingCRL()
	if fn == nil {
		return false
	}
	in := &callback.MissingCRLInput{RawIssuer: rawIssuer}
	if issuer != nil {
		in.Issuer = issuer.Subject
	} else {
		var rdn pkix.RDNSequence
		if _, err := asn1.Unmarshal(rawIssuer, &rdn); err == nil {
			in.Issuer.FillFromRDNSequence(&rdn)
		}
	}
	ok := fn(s, s.contexts.Get(callback.KindMissingCRL), in)
	s.diagf(log.SeverityInfo, "session %s: no CRL for %s, callback accepted=%t", shortID(s.id), in.Issuer, ok)
	return ok
}
