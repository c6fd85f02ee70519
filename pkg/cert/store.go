package cert

import (
	"crypto/x509"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/sslkit/sslkit-go/pkg/status"
)

// TrustStore holds trust anchors. It is safe for concurrent use.
type TrustStore struct {
	mu    sync.RWMutex
	pool  *x509.CertPool
	certs []*x509.Certificate
}

// NewTrustStore creates an empty trust store.
func NewTrustStore() *TrustStore {
	return &TrustStore{pool: x509.NewCertPool()}
}

// LoadTrustAnchors builds a store from a PEM bundle file, a directory of
// PEM or DER certificate files, or both. At least one must be non-empty.
func LoadTrustAnchors(file, dir string) (*TrustStore, error) {
	if file == "" && dir == "" {
		return nil, status.Errorf(status.CodeBadParameter, "trust anchor file or directory required")
	}
	s := NewTrustStore()
	if file != "" {
		if err := s.AddFile(file); err != nil {
			return nil, err
		}
	}
	if dir != "" {
		if err := s.AddDir(dir); err != nil {
			return nil, err
		}
	}
	if s.Len() == 0 {
		return nil, status.Errorf(status.CodeNoTrustAnchors, "no certificates in %q %q", file, dir)
	}
	return s, nil
}

// Add adds certificates to the store.
func (s *TrustStore) Add(certs ...*x509.Certificate) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range certs {
		s.pool.AddCert(c)
		s.certs = append(s.certs, c)
	}
}

// AddFile adds every certificate in a PEM bundle, or a single DER
// certificate.
func (s *TrustStore) AddFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return status.Wrap(status.CodeBadFile, err)
	}
	chain, err := parseAny(data)
	if err != nil {
		return err
	}
	s.Add(chain...)
	return nil
}

// AddDir adds certificates from every regular file in dir. Files that hold
// no certificate are skipped.
func (s *TrustStore) AddDir(dir string) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return status.Wrap(status.CodeBadFile, err)
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.Type().IsRegular() {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)
	for _, name := range names {
		data, err := os.ReadFile(filepath.Join(dir, name))
		if err != nil {
			continue
		}
		if chain, err := parseAny(data); err == nil {
			s.Add(chain...)
		}
	}
	return nil
}

// Pool returns the anchors as a pool for x509 verification.
func (s *TrustStore) Pool() *x509.CertPool {
	if s == nil {
		return nil
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.pool.Clone()
}

// Certificates returns the anchors in load order.
func (s *TrustStore) Certificates() []*x509.Certificate {
	if s == nil {
		return nil
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]*x509.Certificate(nil), s.certs...)
}

// Len returns the number of anchors.
func (s *TrustStore) Len() int {
	if s == nil {
		return 0
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.certs)
}

// FindIssuer returns an anchor whose subject matches cert's issuer.
func (s *TrustStore) FindIssuer(cert *x509.Certificate) *x509.Certificate {
	for _, c := range s.Certificates() {
		if string(c.RawSubject) == string(cert.RawIssuer) {
			return c
		}
	}
	return nil
}

// parseAny accepts PEM with one or more certificates or a single DER
// certificate.
func parseAny(data []byte) (Chain, error) {
	if chain, err := ParseChain(data, FormatPEM); err == nil {
		return chain, nil
	}
	return ParseChain(data, FormatDER)
}
