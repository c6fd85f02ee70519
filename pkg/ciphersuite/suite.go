// Package ciphersuite holds the table of supported cipher suites and parses
// OpenSSL-style colon-delimited cipher lists.
package ciphersuite

import (
	"crypto"
	"strings"

	"github.com/sslkit/sslkit-go/pkg/status"
	"github.com/sslkit/sslkit-go/pkg/version"
)

// KeyExchange is the key exchange algorithm of a suite.
type KeyExchange uint8

const (
	KeyExchangeRSA KeyExchange = iota
	KeyExchangeECDHE
)

// String returns the key exchange name.
func (k KeyExchange) String() string {
	if k == KeyExchangeECDHE {
		return "ECDHE"
	}
	return "RSA"
}

// Auth is the peer authentication algorithm of a suite.
type Auth uint8

const (
	AuthRSA Auth = iota
	AuthECDSA
)

// String returns the authentication name.
func (a Auth) String() string {
	if a == AuthECDSA {
		return "ECDSA"
	}
	return "RSA"
}

// Cipher is the bulk record protection of a suite.
type Cipher uint8

const (
	CipherAESCBC Cipher = iota
	CipherAESGCM
)

// Suite describes one cipher suite.
type Suite struct {
	ID          uint16
	Name        string
	IANAName    string
	KeyExchange KeyExchange
	Auth        Auth
	Cipher      Cipher

	// KeyLen is the symmetric key length in bytes.
	KeyLen int

	// MAC is the HMAC hash of CBC suites; zero for AEAD suites.
	MAC crypto.Hash

	// Hash is the PRF hash under TLS 1.2 semantics.
	Hash crypto.Hash

	// TLS12Only marks suites that require TLS 1.2 or DTLS 1.2.
	TLS12Only bool
}

// MACLen returns the MAC key and tag length; zero for AEAD suites.
func (s *Suite) MACLen() int {
	if s.Cipher == CipherAESGCM {
		return 0
	}
	return s.MAC.Size()
}

// IVLen returns the length of the IV material taken from the key block.
func (s *Suite) IVLen() int {
	if s.Cipher == CipherAESGCM {
		return 4
	}
	return 16
}

// Supports reports whether the suite may be negotiated at v.
func (s *Suite) Supports(v version.Version) bool {
	return !s.TLS12Only || v.SignatureAlgorithms()
}

// PRFHash returns the hash the PRF and Finished computation use at v. The
// zero value selects the MD5/SHA-1 construction of TLS 1.0 and 1.1.
func (s *Suite) PRFHash(v version.Version) crypto.Hash {
	if v.SignatureAlgorithms() {
		return s.Hash
	}
	return 0
}

// String returns the OpenSSL name.
func (s *Suite) String() string {
	return s.Name
}

var suites = []*Suite{
	{0xc02b, "ECDHE-ECDSA-AES128-GCM-SHA256", "TLS_ECDHE_ECDSA_WITH_AES_128_GCM_SHA256", KeyExchangeECDHE, AuthECDSA, CipherAESGCM, 16, 0, crypto.SHA256, true},
	{0xc02f, "ECDHE-RSA-AES128-GCM-SHA256", "TLS_ECDHE_RSA_WITH_AES_128_GCM_SHA256", KeyExchangeECDHE, AuthRSA, CipherAESGCM, 16, 0, crypto.SHA256, true},
	{0xc02c, "ECDHE-ECDSA-AES256-GCM-SHA384", "TLS_ECDHE_ECDSA_WITH_AES_256_GCM_SHA384", KeyExchangeECDHE, AuthECDSA, CipherAESGCM, 32, 0, crypto.SHA384, true},
	{0xc030, "ECDHE-RSA-AES256-GCM-SHA384", "TLS_ECDHE_RSA_WITH_AES_256_GCM_SHA384", KeyExchangeECDHE, AuthRSA, CipherAESGCM, 32, 0, crypto.SHA384, true},
	{0xc023, "ECDHE-ECDSA-AES128-SHA256", "TLS_ECDHE_ECDSA_WITH_AES_128_CBC_SHA256", KeyExchangeECDHE, AuthECDSA, CipherAESCBC, 16, crypto.SHA256, crypto.SHA256, true},
	{0xc027, "ECDHE-RSA-AES128-SHA256", "TLS_ECDHE_RSA_WITH_AES_128_CBC_SHA256", KeyExchangeECDHE, AuthRSA, CipherAESCBC, 16, crypto.SHA256, crypto.SHA256, true},
	{0xc024, "ECDHE-ECDSA-AES256-SHA384", "TLS_ECDHE_ECDSA_WITH_AES_256_CBC_SHA384", KeyExchangeECDHE, AuthECDSA, CipherAESCBC, 32, crypto.SHA384, crypto.SHA384, true},
	{0xc028, "ECDHE-RSA-AES256-SHA384", "TLS_ECDHE_RSA_WITH_AES_256_CBC_SHA384", KeyExchangeECDHE, AuthRSA, CipherAESCBC, 32, crypto.SHA384, crypto.SHA384, true},
	{0xc009, "ECDHE-ECDSA-AES128-SHA", "TLS_ECDHE_ECDSA_WITH_AES_128_CBC_SHA", KeyExchangeECDHE, AuthECDSA, CipherAESCBC, 16, crypto.SHA1, crypto.SHA256, false},
	{0xc013, "ECDHE-RSA-AES128-SHA", "TLS_ECDHE_RSA_WITH_AES_128_CBC_SHA", KeyExchangeECDHE, AuthRSA, CipherAESCBC, 16, crypto.SHA1, crypto.SHA256, false},
	{0xc00a, "ECDHE-ECDSA-AES256-SHA", "TLS_ECDHE_ECDSA_WITH_AES_256_CBC_SHA", KeyExchangeECDHE, AuthECDSA, CipherAESCBC, 32, crypto.SHA1, crypto.SHA256, false},
	{0xc014, "ECDHE-RSA-AES256-SHA", "TLS_ECDHE_RSA_WITH_AES_256_CBC_SHA", KeyExchangeECDHE, AuthRSA, CipherAESCBC, 32, crypto.SHA1, crypto.SHA256, false},
	{0x009c, "AES128-GCM-SHA256", "TLS_RSA_WITH_AES_128_GCM_SHA256", KeyExchangeRSA, AuthRSA, CipherAESGCM, 16, 0, crypto.SHA256, true},
	{0x009d, "AES256-GCM-SHA384", "TLS_RSA_WITH_AES_256_GCM_SHA384", KeyExchangeRSA, AuthRSA, CipherAESGCM, 32, 0, crypto.SHA384, true},
	{0x003c, "AES128-SHA256", "TLS_RSA_WITH_AES_128_CBC_SHA256", KeyExchangeRSA, AuthRSA, CipherAESCBC, 16, crypto.SHA256, crypto.SHA256, true},
	{0x003d, "AES256-SHA256", "TLS_RSA_WITH_AES_256_CBC_SHA256", KeyExchangeRSA, AuthRSA, CipherAESCBC, 32, crypto.SHA256, crypto.SHA256, true},
	{0x002f, "AES128-SHA", "TLS_RSA_WITH_AES_128_CBC_SHA", KeyExchangeRSA, AuthRSA, CipherAESCBC, 16, crypto.SHA1, crypto.SHA256, false},
	{0x0035, "AES256-SHA", "TLS_RSA_WITH_AES_256_CBC_SHA", KeyExchangeRSA, AuthRSA, CipherAESCBC, 32, crypto.SHA1, crypto.SHA256, false},
}

// All returns every supported suite in default preference order.
func All() []*Suite {
	out := make([]*Suite, len(suites))
	copy(out, suites)
	return out
}

// ByID returns the suite with the given wire identifier, or nil.
func ByID(id uint16) *Suite {
	for _, s := range suites {
		if s.ID == id {
			return s
		}
	}
	return nil
}

// ByName returns the suite with the given OpenSSL or IANA name, or nil.
func ByName(name string) *Suite {
	for _, s := range suites {
		if strings.EqualFold(s.Name, name) || strings.EqualFold(s.IANAName, name) {
			return s
		}
	}
	return nil
}

// ParseList resolves a colon-delimited cipher list. Unknown entries are
// ignored and duplicates collapse; "ALL" and "DEFAULT" expand to the full
// table. An empty result is CodeNoCipherMatch.
func ParseList(spec string) ([]*Suite, error) {
	var out []*Suite
	seen := make(map[uint16]bool)
	add := func(s *Suite) {
		if !seen[s.ID] {
			seen[s.ID] = true
			out = append(out, s)
		}
	}

	for _, name := range strings.FieldsFunc(spec, func(r rune) bool { return r == ':' || r == ',' || r == ' ' }) {
		switch strings.ToUpper(name) {
		case "ALL", "DEFAULT":
			for _, s := range suites {
				add(s)
			}
			continue
		}
		if s := ByName(name); s != nil {
			add(s)
		}
	}
	if len(out) == 0 {
		return nil, status.Errorf(status.CodeNoCipherMatch, "cipher list %q", spec)
	}
	return out, nil
}

// Names returns the OpenSSL names of list joined by colons.
func Names(list []*Suite) string {
	names := make([]string, len(list))
	for i, s := range list {
		names[i] = s.Name
	}
	return strings.Join(names, ":")
}
