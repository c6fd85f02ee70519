package cert

import (
	"crypto/x509"
	"errors"
	"time"

	"github.com/sslkit/sslkit-go/pkg/status"
)

// VerifyOptions controls chain verification.
type VerifyOptions struct {
	Roots *TrustStore

	// ServerName, when set, must match the leaf.
	ServerName string

	// Usage is the extended key usage the leaf must allow. Zero accepts any.
	Usage x509.ExtKeyUsage

	// CurrentTime overrides the verification time. Zero means now.
	CurrentTime time.Time
}

// VerifyChain verifies chain[0] up to a trust anchor using chain[1:] as
// intermediates. It returns the verified chains, each ending at an anchor.
func VerifyChain(chain Chain, opts VerifyOptions) ([][]*x509.Certificate, error) {
	leaf := chain.Leaf()
	if leaf == nil {
		return nil, status.CodeNoPeerCert
	}
	if opts.Roots == nil || opts.Roots.Len() == 0 {
		return nil, status.Errorf(status.CodeUntrustedIssuer, "no trust anchors configured")
	}

	inter := x509.NewCertPool()
	for _, c := range chain[1:] {
		inter.AddCert(c)
	}
	vo := x509.VerifyOptions{
		Roots:         opts.Roots.Pool(),
		Intermediates: inter,
		DNSName:       opts.ServerName,
		CurrentTime:   opts.CurrentTime,
		KeyUsages:     []x509.ExtKeyUsage{x509.ExtKeyUsageAny},
	}
	if opts.Usage != 0 {
		vo.KeyUsages = []x509.ExtKeyUsage{opts.Usage}
	}

	chains, err := leaf.Verify(vo)
	if err != nil {
		return nil, MapVerifyError(err)
	}
	return chains, nil
}

// MapVerifyError translates an x509 verification error to a status code,
// keeping the original error as the cause.
func MapVerifyError(err error) error {
	var unknown x509.UnknownAuthorityError
	if errors.As(err, &unknown) {
		return status.Wrap(status.CodeUntrustedIssuer, err)
	}
	var host x509.HostnameError
	if errors.As(err, &host) {
		return status.Wrap(status.CodeHostnameMismatch, err)
	}
	var invalid x509.CertificateInvalidError
	if errors.As(err, &invalid) && invalid.Reason == x509.Expired {
		return status.Wrap(status.CodeCertExpired, err)
	}
	return status.Wrap(status.CodeBadCertificateChain, err)
}
