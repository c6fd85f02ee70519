package record

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/hmac"
	"crypto/rand"
	_ "crypto/sha1"
	_ "crypto/sha256"
	_ "crypto/sha512"
	"crypto/subtle"
	"hash"
	"io"

	"github.com/sslkit/sslkit-go/pkg/ciphersuite"
	"github.com/sslkit/sslkit-go/pkg/status"
	"github.com/sslkit/sslkit-go/pkg/version"
)

// Keys is the key material of one direction.
type Keys struct {
	MACKey []byte
	Key    []byte
	IV     []byte
}

// Protector applies record protection for one direction. Seal receives a
// header whose Length is the plaintext length and returns the fragment to
// put on the wire; Open receives a header whose Length is the fragment
// length and returns the plaintext.
type Protector interface {
	Seal(h Header, plaintext []byte) ([]byte, error)
	Open(h Header, fragment []byte) ([]byte, error)
}

// Null is the protection of epoch zero.
type Null struct{}

func (Null) Seal(_ Header, p []byte) ([]byte, error) { return p, nil }
func (Null) Open(_ Header, p []byte) ([]byte, error) { return p, nil }

// NewProtector builds the built-in protection for suite at v.
func NewProtector(suite *ciphersuite.Suite, v version.Version, keys Keys, seal bool) (Protector, error) {
	block, err := aes.NewCipher(keys.Key)
	if err != nil {
		return nil, status.Wrap(status.CodeKeyExchangeFailure, err)
	}
	if suite.Cipher == ciphersuite.CipherAESGCM {
		aead, err := cipher.NewGCM(block)
		if err != nil {
			return nil, status.Wrap(status.CodeKeyExchangeFailure, err)
		}
		return &gcmProtector{aead: aead, salt: append([]byte(nil), keys.IV[:4]...)}, nil
	}

	c := &cbcProtector{
		block:    block,
		mac:      hmac.New(suite.MAC.New, keys.MACKey),
		explicit: v.ExplicitIV(),
	}
	if !c.explicit {
		if seal {
			c.enc = cipher.NewCBCEncrypter(block, keys.IV)
		} else {
			c.dec = cipher.NewCBCDecrypter(block, keys.IV)
		}
	}
	return c, nil
}

// additionalData is seq || type || version || length.
func additionalData(h Header, n int) []byte {
	seq := h.Sequence()
	ad := make([]byte, 0, 13)
	ad = append(ad, seq[:]...)
	return append(ad, byte(h.Type), byte(h.Version>>8), byte(h.Version), byte(n>>8), byte(n))
}

type cbcProtector struct {
	block    cipher.Block
	mac      hash.Hash
	explicit bool

	// enc and dec chain the IV across records for TLS 1.0.
	enc cipher.BlockMode
	dec cipher.BlockMode
}

func (c *cbcProtector) computeMAC(h Header, data []byte) []byte {
	c.mac.Reset()
	c.mac.Write(additionalData(h, len(data)))
	c.mac.Write(data)
	return c.mac.Sum(nil)
}

func (c *cbcProtector) Seal(h Header, plaintext []byte) ([]byte, error) {
	bs := c.block.BlockSize()
	mac := c.computeMAC(h, plaintext)

	n := len(plaintext) + len(mac)
	padLen := bs - n%bs
	ivLen := 0
	if c.explicit {
		ivLen = bs
	}

	out := make([]byte, ivLen+n+padLen)
	copy(out[ivLen:], plaintext)
	copy(out[ivLen+len(plaintext):], mac)
	for i := ivLen + n; i < len(out); i++ {
		out[i] = byte(padLen - 1)
	}

	enc := c.enc
	if c.explicit {
		if _, err := io.ReadFull(rand.Reader, out[:bs]); err != nil {
			return nil, status.Wrap(status.CodeEncryptFailure, err)
		}
		enc = cipher.NewCBCEncrypter(c.block, out[:bs])
	}
	enc.CryptBlocks(out[ivLen:], out[ivLen:])
	return out, nil
}

func (c *cbcProtector) Open(h Header, fragment []byte) ([]byte, error) {
	bs := c.block.BlockSize()
	macSize := c.mac.Size()

	dec := c.dec
	if c.explicit {
		if len(fragment) < bs {
			return nil, status.CodeDecryptFailure
		}
		dec = cipher.NewCBCDecrypter(c.block, fragment[:bs])
		fragment = fragment[bs:]
	}
	if len(fragment)%bs != 0 || len(fragment) < roundUp(macSize+1, bs) {
		return nil, status.CodeDecryptFailure
	}

	payload := make([]byte, len(fragment))
	dec.CryptBlocks(payload, fragment)

	toRemove, good := extractPadding(payload)
	n := len(payload) - macSize - toRemove
	// Clamp to zero without branching on secret data.
	n = subtle.ConstantTimeSelect(int(uint32(n)>>31), 0, n)

	remoteMAC := payload[n : n+macSize]
	h.Length = n
	localMAC := c.computeMAC(h, payload[:n])

	if subtle.ConstantTimeCompare(localMAC, remoteMAC) != 1 || good != 255 {
		return nil, status.CodeMacFailure
	}
	return payload[:n], nil
}

func roundUp(a, b int) int {
	return a + (b-a%b)%b
}

// extractPadding returns, in constant time, the length of the padding to
// remove from the end of payload and a byte which is 255 if the padding
// was valid and 0 otherwise.
func extractPadding(payload []byte) (toRemove int, good byte) {
	if len(payload) < 1 {
		return 0, 0
	}

	paddingLen := payload[len(payload)-1]
	t := uint(len(payload)-1) - uint(paddingLen)
	good = byte(int32(^t) >> 31)

	toCheck := 256
	if toCheck > len(payload) {
		toCheck = len(payload)
	}
	for i := 0; i < toCheck; i++ {
		t := uint(paddingLen) - uint(i)
		mask := byte(int32(^t) >> 31)
		b := payload[len(payload)-1-i]
		good &^= mask&paddingLen ^ mask&b
	}

	good &= good << 4
	good &= good << 2
	good &= good << 1
	good = uint8(int8(good) >> 7)

	paddingLen &= good
	toRemove = int(paddingLen) + 1
	return toRemove, good
}

type gcmProtector struct {
	aead cipher.AEAD
	salt []byte
}

const gcmExplicitLen = 8

func (g *gcmProtector) nonce(explicit []byte) []byte {
	nonce := make([]byte, 0, 12)
	nonce = append(nonce, g.salt...)
	return append(nonce, explicit...)
}

func (g *gcmProtector) Seal(h Header, plaintext []byte) ([]byte, error) {
	seq := h.Sequence()
	out := make([]byte, gcmExplicitLen, gcmExplicitLen+len(plaintext)+g.aead.Overhead())
	copy(out, seq[:])
	return g.aead.Seal(out, g.nonce(seq[:]), plaintext, additionalData(h, len(plaintext))), nil
}

func (g *gcmProtector) Open(h Header, fragment []byte) ([]byte, error) {
	if len(fragment) < gcmExplicitLen+g.aead.Overhead() {
		return nil, status.CodeDecryptFailure
	}
	n := len(fragment) - gcmExplicitLen - g.aead.Overhead()
	plaintext, err := g.aead.Open(nil, g.nonce(fragment[:gcmExplicitLen]), fragment[gcmExplicitLen:], additionalData(h, n))
	if err != nil {
		return nil, status.CodeMacFailure
	}
	return plaintext, nil
}
