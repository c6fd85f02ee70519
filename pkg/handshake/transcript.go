package handshake

import (
	"crypto"
	"crypto/md5"
	"crypto/sha1"
)

// Transcript accumulates handshake messages for Finished and
// CertificateVerify computation. Messages are kept verbatim so the hash can
// be chosen after the cipher suite is negotiated.
type Transcript struct {
	buf []byte
}

// Add appends a framed handshake message.
func (t *Transcript) Add(msg []byte) {
	t.buf = append(t.buf, msg...)
}

// Reset clears the transcript.
func (t *Transcript) Reset() {
	t.buf = t.buf[:0]
}

// Bytes returns the accumulated messages.
func (t *Transcript) Bytes() []byte {
	return t.buf
}

// Sum hashes the transcript. A zero hash selects MD5||SHA-1.
func (t *Transcript) Sum(h crypto.Hash) []byte {
	if h == 0 {
		m := md5.Sum(t.buf)
		s := sha1.Sum(t.buf)
		return append(m[:], s[:]...)
	}
	hh := h.New()
	hh.Write(t.buf)
	return hh.Sum(nil)
}
