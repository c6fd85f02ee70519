package handshake

import (
	"crypto"
	"crypto/ecdsa"
	"crypto/md5"
	"crypto/rsa"
	"crypto/sha1"
	_ "crypto/sha256"
	_ "crypto/sha512"
	"crypto/x509"
	"fmt"

	"github.com/sslkit/sslkit-go/pkg/version"
)

// SignatureScheme is a TLS 1.2 SignatureAndHashAlgorithm pair encoded as
// hash<<8 | signature.
type SignatureScheme uint16

const (
	PKCS1WithSHA256        SignatureScheme = 0x0401
	ECDSAWithP256AndSHA256 SignatureScheme = 0x0403
	PKCS1WithSHA384        SignatureScheme = 0x0501
	ECDSAWithP384AndSHA384 SignatureScheme = 0x0503
	PKCS1WithSHA1          SignatureScheme = 0x0201
	ECDSAWithSHA1          SignatureScheme = 0x0203
)

// DefaultSchemes is the preference-ordered list advertised and accepted.
var DefaultSchemes = []SignatureScheme{
	ECDSAWithP256AndSHA256,
	PKCS1WithSHA256,
	ECDSAWithP384AndSHA384,
	PKCS1WithSHA384,
	ECDSAWithSHA1,
	PKCS1WithSHA1,
}

// Hash returns the digest algorithm of the scheme, or 0 when unknown.
func (s SignatureScheme) Hash() crypto.Hash {
	switch s >> 8 {
	case 2:
		return crypto.SHA1
	case 4:
		return crypto.SHA256
	case 5:
		return crypto.SHA384
	default:
		return 0
	}
}

// IsECDSA reports whether the scheme signs with ECDSA.
func (s SignatureScheme) IsECDSA() bool {
	return s&0xff == 3
}

// Known reports whether the scheme is one of DefaultSchemes.
func (s SignatureScheme) Known() bool {
	for _, d := range DefaultSchemes {
		if d == s {
			return true
		}
	}
	return false
}

func (s SignatureScheme) String() string {
	switch s {
	case PKCS1WithSHA256:
		return "rsa_pkcs1_sha256"
	case ECDSAWithP256AndSHA256:
		return "ecdsa_secp256r1_sha256"
	case PKCS1WithSHA384:
		return "rsa_pkcs1_sha384"
	case ECDSAWithP384AndSHA384:
		return "ecdsa_secp384r1_sha384"
	case PKCS1WithSHA1:
		return "rsa_pkcs1_sha1"
	case ECDSAWithSHA1:
		return "ecdsa_sha1"
	default:
		return fmt.Sprintf("SignatureScheme(0x%04x)", uint16(s))
	}
}

// KeyAlgorithm classifies a signing key.
type KeyAlgorithm int

const (
	KeyUnknown KeyAlgorithm = iota
	KeyRSA
	KeyECDSA
)

// AlgorithmOf returns the algorithm of a public or private key.
func AlgorithmOf(key any) KeyAlgorithm {
	switch key.(type) {
	case *rsa.PublicKey, *rsa.PrivateKey:
		return KeyRSA
	case *ecdsa.PublicKey, *ecdsa.PrivateKey:
		return KeyECDSA
	default:
		return KeyUnknown
	}
}

// AlgorithmOfCert returns the algorithm of a certificate's public key.
func AlgorithmOfCert(cert *x509.Certificate) KeyAlgorithm {
	return AlgorithmOf(cert.PublicKey)
}

// Select picks the first scheme in DefaultSchemes that the peer offered and
// that fits the key. An empty peer list means the peer sent no
// signature_algorithms extension, in which case SHA-1 is assumed.
func Select(alg KeyAlgorithm, peer []SignatureScheme) (SignatureScheme, bool) {
	if len(peer) == 0 {
		switch alg {
		case KeyRSA:
			return PKCS1WithSHA1, true
		case KeyECDSA:
			return ECDSAWithSHA1, true
		}
		return 0, false
	}
	for _, s := range DefaultSchemes {
		if s.IsECDSA() != (alg == KeyECDSA) || alg == KeyUnknown {
			continue
		}
		for _, p := range peer {
			if p == s {
				return s, true
			}
		}
	}
	return 0, false
}

// LegacyHash returns the digest used for signatures before TLS 1.2: the
// 36-byte MD5||SHA-1 concatenation for RSA and SHA-1 for ECDSA.
func LegacyHash(alg KeyAlgorithm) crypto.Hash {
	if alg == KeyECDSA {
		return crypto.SHA1
	}
	return crypto.MD5SHA1
}

// SigningHash returns the digest algorithm for a signature at the given
// version. The scheme is ignored below TLS 1.2.
func SigningHash(v version.Version, scheme SignatureScheme, alg KeyAlgorithm) crypto.Hash {
	if v.SignatureAlgorithms() {
		return scheme.Hash()
	}
	return LegacyHash(alg)
}

// Digest hashes data with h. crypto.MD5SHA1 yields the 36-byte legacy form.
func Digest(h crypto.Hash, data ...[]byte) []byte {
	if h == crypto.MD5SHA1 {
		m := md5.New()
		s := sha1.New()
		for _, d := range data {
			m.Write(d)
			s.Write(d)
		}
		return s.Sum(m.Sum(nil))
	}
	hh := h.New()
	for _, d := range data {
		hh.Write(d)
	}
	return hh.Sum(nil)
}
