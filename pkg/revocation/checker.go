package revocation

import (
	"context"
	"crypto/x509"
	"time"

	"github.com/sslkit/sslkit-go/pkg/status"
)

// MissingCRLHandler decides whether verification proceeds for an issuer
// without a loaded CRL. issuer may be nil when the issuing certificate is
// not part of the chain.
type MissingCRLHandler func(rawIssuer []byte, issuer *x509.Certificate) bool

// Checker applies the configured revocation mechanisms to a chain.
type Checker struct {
	// CRL enables CRL checking against Store.
	CRL   bool
	Store *CRLStore

	// OCSP enables OCSP queries through Responder.
	OCSP      bool
	Responder *OCSPChecker

	Options Options

	// Now overrides the clock used for CRL expiry. Nil means time.Now.
	Now func() time.Time
}

// Enabled reports whether any mechanism is on.
func (c *Checker) Enabled() bool {
	return c != nil && (c.CRL || c.OCSP)
}

// Check runs one verification attempt over chain, leaf first, which should
// end at the trust anchor. missing is consulted at most once per distinct
// issuer lacking a CRL; a nil handler denies.
func (c *Checker) Check(ctx context.Context, chain []*x509.Certificate, missing MissingCRLHandler) error {
	if !c.Enabled() || len(chain) == 0 {
		return nil
	}
	if c.CRL {
		if err := c.checkCRL(chain, missing); err != nil {
			return err
		}
	}
	if c.OCSP {
		if err := c.checkOCSP(ctx, chain); err != nil {
			return err
		}
	}
	return nil
}

// subjects returns the certificates to check: the leaf, or every
// certificate that is not self-issued when all is set.
func subjects(chain []*x509.Certificate, all bool) []*x509.Certificate {
	if !all {
		return chain[:1]
	}
	out := make([]*x509.Certificate, 0, len(chain))
	for _, cert := range chain {
		if string(cert.RawIssuer) == string(cert.RawSubject) {
			continue
		}
		out = append(out, cert)
	}
	return out
}

// issuerOf finds the certificate in chain that issued cert.
func issuerOf(chain []*x509.Certificate, cert *x509.Certificate) *x509.Certificate {
	for _, c := range chain {
		if c != cert && string(c.RawSubject) == string(cert.RawIssuer) {
			return c
		}
	}
	return nil
}

func (c *Checker) checkCRL(chain []*x509.Certificate, missing MissingCRLHandler) error {
	now := time.Now()
	if c.Now != nil {
		now = c.Now()
	}
	// decided records the handler's answer per issuer for this attempt.
	decided := make(map[string]bool)

	for _, cert := range subjects(chain, c.Options.Has(CRLCheckAll)) {
		key := string(cert.RawIssuer)
		issuer := issuerOf(chain, cert)

		var crl *x509.RevocationList
		var ok bool
		if c.Store != nil {
			crl, ok = c.Store.Lookup(cert.RawIssuer)
		}
		if !ok {
			allow, asked := decided[key]
			if !asked {
				allow = missing != nil && missing(cert.RawIssuer, issuer)
				decided[key] = allow
			}
			if !allow {
				return status.Errorf(status.CodeCRLMissing, "no CRL for issuer %s", cert.Issuer)
			}
			continue
		}

		if issuer != nil {
			if err := crl.CheckSignatureFrom(issuer); err != nil {
				return status.Errorf(status.CodeCRLMissing, "CRL for %s has a bad signature: %w", cert.Issuer, err)
			}
		}
		if Expired(crl, now) {
			return status.Errorf(status.CodeCRLExpired, "CRL for %s expired at %s",
				cert.Issuer, crl.NextUpdate.Format(time.RFC3339))
		}
		if Revoked(crl, cert.SerialNumber) {
			return status.Errorf(status.CodeCertRevoked, "certificate %X revoked by %s (CRL)",
				cert.SerialNumber, cert.Issuer)
		}
	}
	return nil
}

func (c *Checker) checkOCSP(ctx context.Context, chain []*x509.Certificate) error {
	if c.Responder == nil {
		return status.Errorf(status.CodeOCSPUnreachable, "OCSP enabled without a responder")
	}
	for _, cert := range subjects(chain, c.Options.Has(OCSPCheckAll)) {
		issuer := issuerOf(chain, cert)
		if issuer == nil {
			if c.Options.Has(OCSPFailOpen) {
				continue
			}
			return status.Errorf(status.CodeOCSPUnreachable, "issuer of %s not in chain", cert.Subject)
		}
		if err := c.Responder.CheckCert(ctx, cert, issuer); err != nil {
			return err
		}
	}
	return nil
}
