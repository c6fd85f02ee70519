package cert

import (
	"crypto"
	"crypto/x509"
	"fmt"
	"strings"
)

// Format is the encoding of certificate or key material.
type Format uint8

const (
	FormatPEM Format = iota + 1
	FormatDER
)

// String returns a human-readable format name.
func (f Format) String() string {
	switch f {
	case FormatPEM:
		return "PEM"
	case FormatDER:
		return "DER"
	default:
		return fmt.Sprintf("Format(%d)", uint8(f))
	}
}

// ParseFormat accepts "pem" or "der" in any case.
func ParseFormat(s string) (Format, bool) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "PEM":
		return FormatPEM, true
	case "DER", "ASN1":
		return FormatDER, true
	default:
		return 0, false
	}
}

// Valid reports whether f is a known format.
func (f Format) Valid() bool {
	return f == FormatPEM || f == FormatDER
}

// Key is a loaded private key.
type Key struct {
	Signer crypto.Signer

	// DER is the PKCS#8 encoding of the key.
	DER []byte
}

// Public returns the public half of the key.
func (k *Key) Public() crypto.PublicKey {
	if k == nil || k.Signer == nil {
		return nil
	}
	return k.Signer.Public()
}

// Chain is a certificate chain, leaf first.
type Chain []*x509.Certificate

// Leaf returns the first certificate or nil.
func (c Chain) Leaf() *x509.Certificate {
	if len(c) == 0 {
		return nil
	}
	return c[0]
}

// Raw returns the DER encoding of each certificate.
func (c Chain) Raw() [][]byte {
	out := make([][]byte, len(c))
	for i, cert := range c {
		out[i] = cert.Raw
	}
	return out
}

// ParseRawChain parses DER certificates as received in a handshake.
func ParseRawChain(raw [][]byte) (Chain, error) {
	out := make(Chain, 0, len(raw))
	for _, der := range raw {
		c, err := x509.ParseCertificate(der)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, nil
}
