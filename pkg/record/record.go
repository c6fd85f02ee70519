// Package record implements TLS and DTLS record framing and record
// protection (MAC-then-encrypt CBC and AES-GCM).
package record

import (
	"encoding/binary"
	"fmt"

	"github.com/sslkit/sslkit-go/pkg/status"
	"github.com/sslkit/sslkit-go/pkg/version"
)

// ContentType is the record content type.
type ContentType uint8

const (
	TypeChangeCipherSpec ContentType = 20
	TypeAlert            ContentType = 21
	TypeHandshake        ContentType = 22
	TypeApplicationData  ContentType = 23
)

// String returns the content type name.
func (t ContentType) String() string {
	switch t {
	case TypeChangeCipherSpec:
		return "change_cipher_spec"
	case TypeAlert:
		return "alert"
	case TypeHandshake:
		return "handshake"
	case TypeApplicationData:
		return "application_data"
	default:
		return fmt.Sprintf("content_type(%d)", uint8(t))
	}
}

// Record size limits.
const (
	MaxPlaintext  = 16384
	MaxCiphertext = MaxPlaintext + 2048

	TLSHeaderLen  = 5
	DTLSHeaderLen = 13

	// seqMask48 keeps the low 48 bits of a DTLS sequence number.
	seqMask48 = 1<<48 - 1
)

// HeaderLen returns the record header length for the transport kind.
func HeaderLen(datagram bool) int {
	if datagram {
		return DTLSHeaderLen
	}
	return TLSHeaderLen
}

// Header is a record header. Epoch is only meaningful for DTLS.
type Header struct {
	Type    ContentType
	Version version.Version
	Epoch   uint16
	Seq     uint64
	Length  int
}

// Sequence returns the 8-byte big-endian sequence number fed to the MAC and
// AEAD computations. For DTLS it is the epoch followed by the 48-bit
// sequence number.
func (h Header) Sequence() [8]byte {
	var out [8]byte
	if h.Version.Datagram() {
		binary.BigEndian.PutUint64(out[:], uint64(h.Epoch)<<48|h.Seq&seqMask48)
	} else {
		binary.BigEndian.PutUint64(out[:], h.Seq)
	}
	return out
}

// AppendHeader appends the wire header with the given fragment length.
func (h Header) AppendHeader(b []byte, fragmentLen int) []byte {
	b = append(b, byte(h.Type), byte(h.Version>>8), byte(h.Version))
	if h.Version.Datagram() {
		b = append(b, byte(h.Epoch>>8), byte(h.Epoch))
		s := h.Seq & seqMask48
		b = append(b, byte(s>>40), byte(s>>32), byte(s>>24), byte(s>>16), byte(s>>8), byte(s))
	}
	return append(b, byte(fragmentLen>>8), byte(fragmentLen))
}

// ParseHeader parses a record header from b. It returns the header, with
// Length set to the fragment length, and the header length consumed.
// Short input returns n == 0 and no error.
func ParseHeader(b []byte, datagram bool) (Header, int, error) {
	hl := HeaderLen(datagram)
	if len(b) < hl {
		return Header{}, 0, nil
	}
	h := Header{
		Type:    ContentType(b[0]),
		Version: version.Version(binary.BigEndian.Uint16(b[1:3])),
	}
	if datagram {
		h.Epoch = binary.BigEndian.Uint16(b[3:5])
		h.Seq = uint64(b[5])<<40 | uint64(b[6])<<32 | uint64(b[7])<<24 |
			uint64(b[8])<<16 | uint64(b[9])<<8 | uint64(b[10])
	}
	h.Length = int(binary.BigEndian.Uint16(b[hl-2 : hl]))

	if h.Type < TypeChangeCipherSpec || h.Type > TypeApplicationData {
		return h, hl, status.Errorf(status.CodeUnexpectedMessage, "record content type %d", h.Type)
	}
	if h.Length > MaxCiphertext {
		return h, hl, status.Errorf(status.CodeRecordOverflow, "record length %d", h.Length)
	}
	return h, hl, nil
}
