package cert

import (
	"crypto/x509"
	"fmt"
	"iter"
	"time"
)

// PeerInfo describes a peer certificate.
type PeerInfo struct {
	Subject   string
	Issuer    string
	Serial    string
	NotBefore time.Time
	NotAfter  time.Time
	IsCA      bool

	cert *x509.Certificate
	next int
}

// NewPeerInfo extracts information from cert. It returns nil for nil.
func NewPeerInfo(cert *x509.Certificate) *PeerInfo {
	if cert == nil {
		return nil
	}
	return &PeerInfo{
		Subject:   cert.Subject.String(),
		Issuer:    cert.Issuer.String(),
		Serial:    fmt.Sprintf("%X", cert.SerialNumber),
		NotBefore: cert.NotBefore,
		NotAfter:  cert.NotAfter,
		IsCA:      cert.IsCA,
		cert:      cert,
	}
}

// Certificate returns the described certificate.
func (p *PeerInfo) Certificate() *x509.Certificate {
	return p.cert
}

// altNames lists DNS names, email addresses, IP addresses and URIs in that
// order.
func altNames(cert *x509.Certificate) []string {
	var out []string
	out = append(out, cert.DNSNames...)
	out = append(out, cert.EmailAddresses...)
	for _, ip := range cert.IPAddresses {
		out = append(out, ip.String())
	}
	for _, u := range cert.URIs {
		out = append(out, u.String())
	}
	return out
}

// NextAltName returns the next subject alternative name, or "" once the
// names are exhausted. The sequence restarts after returning "".
func (p *PeerInfo) NextAltName() string {
	names := altNames(p.cert)
	if p.next >= len(names) {
		p.next = 0
		return ""
	}
	n := names[p.next]
	p.next++
	return n
}

// ResetAltNames restarts the NextAltName sequence.
func (p *PeerInfo) ResetAltNames() {
	p.next = 0
}

// AltNames yields the subject alternative names lazily.
func (p *PeerInfo) AltNames() iter.Seq[string] {
	return func(yield func(string) bool) {
		for _, n := range altNames(p.cert) {
			if !yield(n) {
				return
			}
		}
	}
}
