package cert

import (
	"bytes"
	"crypto"
	"crypto/ecdsa"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"os"

	"github.com/sslkit/sslkit-go/pkg/status"
)

// PEM encoding/decoding errors.
var (
	ErrInvalidPEM = errors.New("invalid PEM data")
	ErrNoCerts    = errors.New("no certificates found")
)

const (
	pemTypeCert  = "CERTIFICATE"
	pemTypePKCS8 = "PRIVATE KEY"
)

// EncodeCertPEM encodes an X.509 certificate to PEM format.
func EncodeCertPEM(cert *x509.Certificate) []byte {
	return pem.EncodeToMemory(&pem.Block{
		Type:  pemTypeCert,
		Bytes: cert.Raw,
	})
}

// EncodeChainPEM concatenates the PEM encoding of each certificate.
func EncodeChainPEM(chain Chain) []byte {
	var buf bytes.Buffer
	for _, c := range chain {
		buf.Write(EncodeCertPEM(c))
	}
	return buf.Bytes()
}

// EncodeKeyPEM encodes a private key as a PKCS#8 PEM block.
func EncodeKeyPEM(key crypto.Signer) ([]byte, error) {
	der, err := x509.MarshalPKCS8PrivateKey(key)
	if err != nil {
		return nil, err
	}
	return pem.EncodeToMemory(&pem.Block{Type: pemTypePKCS8, Bytes: der}), nil
}

// ParseChain parses certificate material. PEM input may carry several
// CERTIFICATE blocks; other block types are skipped. DER input is a single
// certificate.
func ParseChain(data []byte, format Format) (Chain, error) {
	switch format {
	case FormatDER:
		c, err := x509.ParseCertificate(data)
		if err != nil {
			return nil, status.Wrap(status.CodeBadCertificate, err)
		}
		return Chain{c}, nil
	case FormatPEM:
		var out Chain
		rest := data
		for {
			var block *pem.Block
			block, rest = pem.Decode(rest)
			if block == nil {
				break
			}
			if block.Type != pemTypeCert {
				continue
			}
			c, err := x509.ParseCertificate(block.Bytes)
			if err != nil {
				return nil, status.Wrap(status.CodeBadCertificate, err)
			}
			out = append(out, c)
		}
		if len(out) == 0 {
			return nil, status.Wrap(status.CodeBadCertificate, ErrNoCerts)
		}
		return out, nil
	default:
		return nil, status.Errorf(status.CodeBadFileType, "unsupported format %s", format)
	}
}

// LoadChain reads a certificate chain from path.
func LoadChain(path string, format Format) (Chain, error) {
	if !format.Valid() {
		return nil, status.Errorf(status.CodeBadFileType, "unsupported format %s", format)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, status.Wrap(status.CodeBadFile, err)
	}
	return ParseChain(data, format)
}

// ParseKey parses a private key in PEM or DER form.
func ParseKey(data []byte, format Format) (*Key, error) {
	var der []byte
	switch format {
	case FormatDER:
		der = data
	case FormatPEM:
		rest := data
		for {
			var block *pem.Block
			block, rest = pem.Decode(rest)
			if block == nil {
				return nil, status.Wrap(status.CodeBadKey, ErrInvalidPEM)
			}
			if block.Type == pemTypePKCS8 || block.Type == "RSA PRIVATE KEY" || block.Type == "EC PRIVATE KEY" {
				der = block.Bytes
				break
			}
		}
	default:
		return nil, status.Errorf(status.CodeBadFileType, "unsupported format %s", format)
	}

	signer, err := parsePrivateKey(der)
	if err != nil {
		return nil, status.Wrap(status.CodeBadKey, err)
	}
	pkcs8, err := x509.MarshalPKCS8PrivateKey(signer)
	if err != nil {
		return nil, status.Wrap(status.CodeBadKey, err)
	}
	return &Key{Signer: signer, DER: pkcs8}, nil
}

// LoadKey reads a private key from path.
func LoadKey(path string, format Format) (*Key, error) {
	if !format.Valid() {
		return nil, status.Errorf(status.CodeBadFileType, "unsupported format %s", format)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, status.Wrap(status.CodeBadFile, err)
	}
	return ParseKey(data, format)
}

func parsePrivateKey(der []byte) (crypto.Signer, error) {
	if k, err := x509.ParsePKCS8PrivateKey(der); err == nil {
		switch k := k.(type) {
		case *rsa.PrivateKey:
			return k, nil
		case *ecdsa.PrivateKey:
			return k, nil
		default:
			return nil, errors.New("unsupported private key type")
		}
	}
	if k, err := x509.ParsePKCS1PrivateKey(der); err == nil {
		return k, nil
	}
	if k, err := x509.ParseECPrivateKey(der); err == nil {
		return k, nil
	}
	return nil, errors.New("unrecognized private key encoding")
}

// MatchKey checks that key is the private half of cert's public key.
func MatchKey(cert *x509.Certificate, key *Key) error {
	if cert == nil || key == nil {
		return status.Errorf(status.CodeKeyMismatch, "certificate and key required")
	}
	type equaler interface {
		Equal(crypto.PublicKey) bool
	}
	pub, ok := cert.PublicKey.(equaler)
	if !ok {
		return status.Errorf(status.CodeKeyMismatch, "unsupported public key type %T", cert.PublicKey)
	}
	if !pub.Equal(key.Public()) {
		return status.Errorf(status.CodeKeyMismatch, "private key does not match certificate")
	}
	return nil
}
