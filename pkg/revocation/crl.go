package revocation

import (
	"crypto/x509"
	"encoding/pem"
	"fmt"
	"math/big"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/sslkit/sslkit-go/pkg/log"
	"github.com/sslkit/sslkit-go/pkg/status"
)

const pemTypeCRL = "X509 CRL"

// CRLStore holds the CRLs of a directory, one per issuer. Readers see a
// consistent snapshot while the directory is reloaded.
type CRLStore struct {
	mu   sync.RWMutex
	dir  string
	crls map[string]*x509.RevocationList

	logf log.SeverityFunc
}

// NewCRLStore creates an empty store.
func NewCRLStore() *CRLStore {
	return &CRLStore{crls: make(map[string]*x509.RevocationList)}
}

// SetLogger routes diagnostics of background reloads to fn.
func (s *CRLStore) SetLogger(fn log.SeverityFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.logf = fn
}

func (s *CRLStore) log(sev log.Severity, format string, args ...any) {
	s.mu.RLock()
	fn := s.logf
	s.mu.RUnlock()
	if fn != nil {
		fn(sev, fmt.Sprintf(format, args...))
	}
}

// LoadDir replaces the store contents with the CRLs in dir. Files that do
// not parse as CRLs are skipped. When two CRLs name the same issuer the one
// with the later ThisUpdate wins.
func (s *CRLStore) LoadDir(dir string) error {
	crls, err := readDir(dir)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.dir = dir
	s.crls = crls
	s.mu.Unlock()
	return nil
}

// Reload reads the last loaded directory again. On failure the previous
// snapshot is kept.
func (s *CRLStore) Reload() error {
	s.mu.RLock()
	dir := s.dir
	s.mu.RUnlock()
	if dir == "" {
		return status.Errorf(status.CodeBadCRLDir, "no CRL directory loaded")
	}
	return s.LoadDir(dir)
}

// Dir returns the loaded directory.
func (s *CRLStore) Dir() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.dir
}

// Add inserts a CRL, replacing an older one of the same issuer.
func (s *CRLStore) Add(crl *x509.RevocationList) {
	s.mu.Lock()
	defer s.mu.Unlock()
	insert(s.crls, crl)
}

// Lookup returns the CRL issued by the subject rawIssuer.
func (s *CRLStore) Lookup(rawIssuer []byte) (*x509.RevocationList, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	crl, ok := s.crls[string(rawIssuer)]
	return crl, ok
}

// Len returns the number of issuers with a CRL.
func (s *CRLStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.crls)
}

func insert(m map[string]*x509.RevocationList, crl *x509.RevocationList) {
	key := string(crl.RawIssuer)
	if old, ok := m[key]; ok && old.ThisUpdate.After(crl.ThisUpdate) {
		return
	}
	m[key] = crl
}

func readDir(dir string) (map[string]*x509.RevocationList, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, status.Wrap(status.CodeBadCRLDir, err)
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.Type().IsRegular() {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)

	out := make(map[string]*x509.RevocationList)
	for _, name := range names {
		data, err := os.ReadFile(filepath.Join(dir, name))
		if err != nil {
			continue
		}
		for _, crl := range ParseCRLs(data) {
			insert(out, crl)
		}
	}
	return out, nil
}

// ParseCRLs parses PEM "X509 CRL" blocks or a single DER CRL. Unparseable
// input yields nothing.
func ParseCRLs(data []byte) []*x509.RevocationList {
	var out []*x509.RevocationList
	rest := data
	for {
		var block *pem.Block
		block, rest = pem.Decode(rest)
		if block == nil {
			break
		}
		if block.Type != pemTypeCRL {
			continue
		}
		if crl, err := x509.ParseRevocationList(block.Bytes); err == nil {
			out = append(out, crl)
		}
	}
	if len(out) > 0 {
		return out
	}
	if crl, err := x509.ParseRevocationList(data); err == nil {
		out = append(out, crl)
	}
	return out
}

// Revoked reports whether serial is listed in crl.
func Revoked(crl *x509.RevocationList, serial *big.Int) bool {
	for _, e := range crl.RevokedCertificateEntries {
		if e.SerialNumber != nil && e.SerialNumber.Cmp(serial) == 0 {
			return true
		}
	}
	return false
}

// Expired reports whether crl is past its NextUpdate at now. A CRL without
// NextUpdate never expires.
func Expired(crl *x509.RevocationList, now time.Time) bool {
	return !crl.NextUpdate.IsZero() && now.After(crl.NextUpdate)
}
