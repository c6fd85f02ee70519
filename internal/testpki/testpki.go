// Package testpki generates throwaway certificate hierarchies for tests.
package testpki

import (
	"crypto"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"math/big"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"
)

// Alg selects the key algorithm of a generated certificate.
type Alg int

const (
	ECDSA Alg = iota
	RSA
)

// CA is a certificate authority able to issue certificates and CRLs.
type CA struct {
	Cert *x509.Certificate
	Key  crypto.Signer

	// Parents lists the issuing CAs up to the root, nearest first.
	Parents []*x509.Certificate
}

// Leaf is an end-entity certificate with its key.
type Leaf struct {
	Cert *x509.Certificate
	Key  crypto.Signer

	// Chain is the leaf followed by any intermediates, excluding the root.
	Chain []*x509.Certificate
}

// LeafOptions customizes an issued certificate.
type LeafOptions struct {
	CommonName string
	DNSNames   []string
	IPs        []net.IP
	Emails     []string
	Alg        Alg
	NotBefore  time.Time
	NotAfter   time.Time
	OCSPServer []string
	Serial     *big.Int
}

// GenerateKey creates a key of alg.
func GenerateKey(t testing.TB, alg Alg) crypto.Signer {
	t.Helper()
	if alg == RSA {
		k, err := rsa.GenerateKey(rand.Reader, 2048)
		if err != nil {
			t.Fatalf("generate RSA key: %v", err)
		}
		return k
	}
	k, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		t.Fatalf("generate ECDSA key: %v", err)
	}
	return k
}

func serial(t testing.TB) *big.Int {
	t.Helper()
	n, err := rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 64))
	if err != nil {
		t.Fatalf("generate serial: %v", err)
	}
	return n.Add(n, big.NewInt(1))
}

func create(t testing.TB, tmpl, parent *x509.Certificate, pub crypto.PublicKey, signer crypto.Signer) *x509.Certificate {
	t.Helper()
	der, err := x509.CreateCertificate(rand.Reader, tmpl, parent, pub, signer)
	if err != nil {
		t.Fatalf("create certificate %q: %v", tmpl.Subject.CommonName, err)
	}
	c, err := x509.ParseCertificate(der)
	if err != nil {
		t.Fatalf("parse certificate: %v", err)
	}
	return c
}

// NewRootCA creates a self-signed root.
func NewRootCA(t testing.TB, name string, alg Alg) *CA {
	t.Helper()
	key := GenerateKey(t, alg)
	now := time.Now()
	tmpl := &x509.Certificate{
		SerialNumber:          serial(t),
		Subject:               pkix.Name{CommonName: name, Organization: []string{"sslkit test"}},
		NotBefore:             now.Add(-time.Hour),
		NotAfter:              now.Add(24 * time.Hour),
		KeyUsage:              x509.KeyUsageCertSign | x509.KeyUsageCRLSign,
		BasicConstraintsValid: true,
		IsCA:                  true,
	}
	return &CA{Cert: create(t, tmpl, tmpl, key.Public(), key), Key: key}
}

// Intermediate issues a subordinate CA.
func (ca *CA) Intermediate(t testing.TB, name string, alg Alg) *CA {
	t.Helper()
	key := GenerateKey(t, alg)
	now := time.Now()
	tmpl := &x509.Certificate{
		SerialNumber:          serial(t),
		Subject:               pkix.Name{CommonName: name, Organization: []string{"sslkit test"}},
		NotBefore:             now.Add(-time.Hour),
		NotAfter:              now.Add(24 * time.Hour),
		KeyUsage:              x509.KeyUsageCertSign | x509.KeyUsageCRLSign,
		BasicConstraintsValid: true,
		IsCA:                  true,
	}
	return &CA{
		Cert:    create(t, tmpl, ca.Cert, key.Public(), ca.Key),
		Key:     key,
		Parents: append([]*x509.Certificate{ca.Cert}, ca.Parents...),
	}
}

// Issue creates an end-entity certificate usable for both client and server
// authentication.
func (ca *CA) Issue(t testing.TB, opts LeafOptions) *Leaf {
	t.Helper()
	key := GenerateKey(t, opts.Alg)
	tmpl := leafTemplate(t, opts)
	c := create(t, tmpl, ca.Cert, key.Public(), ca.Key)

	chain := []*x509.Certificate{c}
	if len(ca.Parents) > 0 {
		chain = append(chain, ca.Cert)
		chain = append(chain, ca.Parents[:len(ca.Parents)-1]...)
	}
	return &Leaf{Cert: c, Key: key, Chain: chain}
}

// SelfSigned creates a self-signed end-entity certificate.
func SelfSigned(t testing.TB, opts LeafOptions) *Leaf {
	t.Helper()
	key := GenerateKey(t, opts.Alg)
	tmpl := leafTemplate(t, opts)
	c := create(t, tmpl, tmpl, key.Public(), key)
	return &Leaf{Cert: c, Key: key, Chain: []*x509.Certificate{c}}
}

func leafTemplate(t testing.TB, opts LeafOptions) *x509.Certificate {
	t.Helper()
	now := time.Now()
	if opts.NotBefore.IsZero() {
		opts.NotBefore = now.Add(-time.Hour)
	}
	if opts.NotAfter.IsZero() {
		opts.NotAfter = now.Add(24 * time.Hour)
	}
	if opts.Serial == nil {
		opts.Serial = serial(t)
	}
	if opts.CommonName == "" {
		opts.CommonName = "localhost"
	}
	usage := x509.KeyUsageDigitalSignature
	if opts.Alg == RSA {
		usage |= x509.KeyUsageKeyEncipherment
	}
	return &x509.Certificate{
		SerialNumber:          opts.Serial,
		Subject:               pkix.Name{CommonName: opts.CommonName, Organization: []string{"sslkit test"}},
		DNSNames:              opts.DNSNames,
		IPAddresses:           opts.IPs,
		EmailAddresses:        opts.Emails,
		NotBefore:             opts.NotBefore,
		NotAfter:              opts.NotAfter,
		KeyUsage:              usage,
		ExtKeyUsage:           []x509.ExtKeyUsage{x509.ExtKeyUsageClientAuth, x509.ExtKeyUsageServerAuth},
		BasicConstraintsValid: true,
		OCSPServer:            opts.OCSPServer,
	}
}

// CRL issues a revocation list. A zero nextUpdate defaults to one hour
// from now.
func (ca *CA) CRL(t testing.TB, revoked []*big.Int, thisUpdate, nextUpdate time.Time) []byte {
	t.Helper()
	if thisUpdate.IsZero() {
		thisUpdate = time.Now().Add(-time.Minute)
	}
	if nextUpdate.IsZero() {
		nextUpdate = time.Now().Add(time.Hour)
	}
	entries := make([]x509.RevocationListEntry, 0, len(revoked))
	for _, s := range revoked {
		entries = append(entries, x509.RevocationListEntry{SerialNumber: s, RevocationTime: thisUpdate})
	}
	der, err := x509.CreateRevocationList(rand.Reader, &x509.RevocationList{
		Number:                    serial(t),
		ThisUpdate:                thisUpdate,
		NextUpdate:                nextUpdate,
		RevokedCertificateEntries: entries,
	}, ca.Cert, ca.Key)
	if err != nil {
		t.Fatalf("create CRL: %v", err)
	}
	return der
}

// ChainPEM encodes certificates as concatenated PEM blocks.
func ChainPEM(certs ...*x509.Certificate) []byte {
	var out []byte
	for _, c := range certs {
		out = append(out, pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: c.Raw})...)
	}
	return out
}

// KeyPEM encodes a key as PKCS#8 PEM.
func KeyPEM(t testing.TB, key crypto.Signer) []byte {
	t.Helper()
	der, err := x509.MarshalPKCS8PrivateKey(key)
	if err != nil {
		t.Fatalf("marshal key: %v", err)
	}
	return pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: der})
}

// KeyDER encodes a key as PKCS#8 DER.
func KeyDER(t testing.TB, key crypto.Signer) []byte {
	t.Helper()
	der, err := x509.MarshalPKCS8PrivateKey(key)
	if err != nil {
		t.Fatalf("marshal key: %v", err)
	}
	return der
}

// WriteFile writes data under dir and returns the path.
func WriteFile(t testing.TB, dir, name string, data []byte) string {
	t.Helper()
	if err := os.MkdirAll(dir, 0o700); err != nil {
		t.Fatalf("create %s: %v", dir, err)
	}
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, data, 0o600); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
	return path
}

// Files is a leaf written to disk next to its CA bundle.
type Files struct {
	Chain string
	Key   string
	CA    string
}

// WriteLeaf writes the leaf chain, key and root as PEM files in dir using
// prefix for the file names.
func WriteLeaf(t testing.TB, dir, prefix string, leaf *Leaf, root *CA) Files {
	t.Helper()
	f := Files{
		Chain: WriteFile(t, dir, prefix+"-chain.pem", ChainPEM(leaf.Chain...)),
		Key:   WriteFile(t, dir, prefix+"-key.pem", KeyPEM(t, leaf.Key)),
	}
	if root != nil {
		f.CA = WriteFile(t, dir, prefix+"-ca.pem", ChainPEM(root.Cert))
	}
	return f
}
