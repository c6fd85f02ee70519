package handshake

import (
	"crypto/ecdh"
	"crypto/rand"
	"fmt"
	"io"

	"golang.org/x/crypto/curve25519"
)

// CurveID is a named group from the supported_groups extension.
type CurveID uint16

const (
	CurveP256   CurveID = 23
	CurveP384   CurveID = 24
	CurveX25519 CurveID = 29
)

// DefaultCurves is the preference-ordered list of supported groups.
var DefaultCurves = []CurveID{CurveX25519, CurveP256, CurveP384}

func (c CurveID) String() string {
	switch c {
	case CurveP256:
		return "P-256"
	case CurveP384:
		return "P-384"
	case CurveX25519:
		return "X25519"
	default:
		return fmt.Sprintf("Curve(%d)", uint16(c))
	}
}

// Supported reports whether the curve is implemented.
func (c CurveID) Supported() bool {
	switch c {
	case CurveP256, CurveP384, CurveX25519:
		return true
	}
	return false
}

// SelectCurve picks the first of our curves the peer offered. An empty peer
// list selects P-256.
func SelectCurve(peer []CurveID) (CurveID, bool) {
	if len(peer) == 0 {
		return CurveP256, true
	}
	for _, c := range DefaultCurves {
		for _, p := range peer {
			if p == c {
				return c, true
			}
		}
	}
	return 0, false
}

// KeyPair is an ephemeral ECDHE key.
type KeyPair struct {
	Curve     CurveID
	PublicKey []byte

	x25519 []byte
	nist   *ecdh.PrivateKey
}

// GenerateKey creates an ephemeral key on curve.
func GenerateKey(curve CurveID, rnd io.Reader) (*KeyPair, error) {
	if rnd == nil {
		rnd = rand.Reader
	}
	kp := &KeyPair{Curve: curve}
	switch curve {
	case CurveX25519:
		kp.x25519 = make([]byte, curve25519.ScalarSize)
		if _, err := io.ReadFull(rnd, kp.x25519); err != nil {
			return nil, err
		}
		pub, err := curve25519.X25519(kp.x25519, curve25519.Basepoint)
		if err != nil {
			return nil, err
		}
		kp.PublicKey = pub
	case CurveP256, CurveP384:
		priv, err := nistCurve(curve).GenerateKey(rnd)
		if err != nil {
			return nil, err
		}
		kp.nist = priv
		kp.PublicKey = priv.PublicKey().Bytes()
	default:
		return nil, fmt.Errorf("unsupported curve %s", curve)
	}
	return kp, nil
}

// Shared computes the shared secret with the peer's public point.
func (kp *KeyPair) Shared(peer []byte) ([]byte, error) {
	switch kp.Curve {
	case CurveX25519:
		return curve25519.X25519(kp.x25519, peer)
	case CurveP256, CurveP384:
		pub, err := nistCurve(kp.Curve).NewPublicKey(peer)
		if err != nil {
			return nil, err
		}
		return kp.nist.ECDH(pub)
	default:
		return nil, fmt.Errorf("unsupported curve %s", kp.Curve)
	}
}

func nistCurve(c CurveID) ecdh.Curve {
	if c == CurveP384 {
		return ecdh.P384()
	}
	return ecdh.P256()
}
