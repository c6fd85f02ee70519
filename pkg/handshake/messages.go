// Package handshake encodes and decodes TLS/DTLS 1.0-1.2 handshake message
// bodies and implements the key schedule (PRF, master secret, key block,
// Finished verify data).
//
// Message types only cover bodies. Framing (the 4-byte TLS header or the
// 12-byte DTLS header with fragment fields) is done by the session, which
// owns message sequencing and fragmentation.
package handshake

import (
	"fmt"

	"golang.org/x/crypto/cryptobyte"

	"github.com/sslkit/sslkit-go/pkg/version"
)

// Type is a handshake message type.
type Type uint8

const (
	TypeHelloRequest       Type = 0
	TypeClientHello        Type = 1
	TypeServerHello        Type = 2
	TypeHelloVerifyRequest Type = 3
	TypeCertificate        Type = 11
	TypeServerKeyExchange  Type = 12
	TypeCertificateRequest Type = 13
	TypeServerHelloDone    Type = 14
	TypeCertificateVerify  Type = 15
	TypeClientKeyExchange  Type = 16
	TypeFinished           Type = 20
)

// String returns the message name.
func (t Type) String() string {
	switch t {
	case TypeHelloRequest:
		return "HelloRequest"
	case TypeClientHello:
		return "ClientHello"
	case TypeServerHello:
		return "ServerHello"
	case TypeHelloVerifyRequest:
		return "HelloVerifyRequest"
	case TypeCertificate:
		return "Certificate"
	case TypeServerKeyExchange:
		return "ServerKeyExchange"
	case TypeCertificateRequest:
		return "CertificateRequest"
	case TypeServerHelloDone:
		return "ServerHelloDone"
	case TypeCertificateVerify:
		return "CertificateVerify"
	case TypeClientKeyExchange:
		return "ClientKeyExchange"
	case TypeFinished:
		return "Finished"
	default:
		return fmt.Sprintf("Handshake(%d)", uint8(t))
	}
}

// Extension types.
const (
	extServerName          uint16 = 0
	extSupportedGroups     uint16 = 10
	extPointFormats        uint16 = 11
	extSignatureAlgorithms uint16 = 13
	extRenegotiationInfo   uint16 = 0xff01
)

const (
	pointFormatUncompressed uint8 = 0
	curveTypeNamed          uint8 = 3
)

// RandomLen is the length of the hello random values.
const RandomLen = 32

// ClientHello is the first client message.
type ClientHello struct {
	Version             version.Version
	Random              []byte
	SessionID           []byte
	Cookie              []byte
	CipherSuites        []uint16
	CompressionMethods  []uint8
	ServerName          string
	SupportedGroups     []CurveID
	PointFormats        []uint8
	SignatureSchemes    []SignatureScheme
	SecureRenegotiation bool

	// Datagram selects the DTLS layout, which carries a cookie.
	Datagram bool
}

// Marshal encodes the message body.
func (m *ClientHello) Marshal() []byte {
	var b cryptobyte.Builder
	b.AddUint16(uint16(m.Version))
	b.AddBytes(m.Random)
	b.AddUint8LengthPrefixed(func(b *cryptobyte.Builder) { b.AddBytes(m.SessionID) })
	if m.Datagram {
		b.AddUint8LengthPrefixed(func(b *cryptobyte.Builder) { b.AddBytes(m.Cookie) })
	}
	b.AddUint16LengthPrefixed(func(b *cryptobyte.Builder) {
		for _, s := range m.CipherSuites {
			b.AddUint16(s)
		}
	})
	b.AddUint8LengthPrefixed(func(b *cryptobyte.Builder) { b.AddBytes(m.CompressionMethods) })

	var ext cryptobyte.Builder
	if m.ServerName != "" {
		ext.AddUint16(extServerName)
		ext.AddUint16LengthPrefixed(func(b *cryptobyte.Builder) {
			b.AddUint16LengthPrefixed(func(b *cryptobyte.Builder) {
				b.AddUint8(0)
				b.AddUint16LengthPrefixed(func(b *cryptobyte.Builder) { b.AddBytes([]byte(m.ServerName)) })
			})
		})
	}
	if len(m.SupportedGroups) > 0 {
		ext.AddUint16(extSupportedGroups)
		ext.AddUint16LengthPrefixed(func(b *cryptobyte.Builder) {
			b.AddUint16LengthPrefixed(func(b *cryptobyte.Builder) {
				for _, c := range m.SupportedGroups {
					b.AddUint16(uint16(c))
				}
			})
		})
	}
	if len(m.PointFormats) > 0 {
		ext.AddUint16(extPointFormats)
		ext.AddUint16LengthPrefixed(func(b *cryptobyte.Builder) {
			b.AddUint8LengthPrefixed(func(b *cryptobyte.Builder) { b.AddBytes(m.PointFormats) })
		})
	}
	if len(m.SignatureSchemes) > 0 {
		ext.AddUint16(extSignatureAlgorithms)
		ext.AddUint16LengthPrefixed(func(b *cryptobyte.Builder) {
			b.AddUint16LengthPrefixed(func(b *cryptobyte.Builder) {
				for _, s := range m.SignatureSchemes {
					b.AddUint16(uint16(s))
				}
			})
		})
	}
	if m.SecureRenegotiation {
		ext.AddUint16(extRenegotiationInfo)
		ext.AddUint16LengthPrefixed(func(b *cryptobyte.Builder) {
			b.AddUint8LengthPrefixed(func(*cryptobyte.Builder) {})
		})
	}
	if extBytes := ext.BytesOrPanic(); len(extBytes) > 0 {
		b.AddUint16LengthPrefixed(func(b *cryptobyte.Builder) { b.AddBytes(extBytes) })
	}
	return b.BytesOrPanic()
}

// Unmarshal decodes the message body. Datagram must be set beforehand.
func (m *ClientHello) Unmarshal(body []byte) bool {
	s := cryptobyte.String(body)
	var vers uint16
	var sid, cookie, suites, comp cryptobyte.String
	if !s.ReadUint16(&vers) || !s.ReadBytes(&m.Random, RandomLen) ||
		!s.ReadUint8LengthPrefixed(&sid) || len(sid) > 32 {
		return false
	}
	m.Version = version.Version(vers)
	m.SessionID = []byte(sid)
	if m.Datagram {
		if !s.ReadUint8LengthPrefixed(&cookie) {
			return false
		}
		m.Cookie = []byte(cookie)
	}
	if !s.ReadUint16LengthPrefixed(&suites) || len(suites) == 0 || len(suites)%2 != 0 {
		return false
	}
	m.CipherSuites = nil
	for !suites.Empty() {
		var id uint16
		suites.ReadUint16(&id)
		m.CipherSuites = append(m.CipherSuites, id)
	}
	if !s.ReadUint8LengthPrefixed(&comp) || len(comp) == 0 {
		return false
	}
	m.CompressionMethods = []uint8(comp)

	if s.Empty() {
		return true
	}
	var exts cryptobyte.String
	if !s.ReadUint16LengthPrefixed(&exts) || !s.Empty() {
		return false
	}
	for !exts.Empty() {
		var typ uint16
		var data cryptobyte.String
		if !exts.ReadUint16(&typ) || !exts.ReadUint16LengthPrefixed(&data) {
			return false
		}
		switch typ {
		case extServerName:
			var list cryptobyte.String
			if !data.ReadUint16LengthPrefixed(&list) {
				return false
			}
			for !list.Empty() {
				var nameType uint8
				var name cryptobyte.String
				if !list.ReadUint8(&nameType) || !list.ReadUint16LengthPrefixed(&name) {
					return false
				}
				if nameType == 0 {
					m.ServerName = string(name)
				}
			}
		case extSupportedGroups:
			var list cryptobyte.String
			if !data.ReadUint16LengthPrefixed(&list) || len(list)%2 != 0 {
				return false
			}
			for !list.Empty() {
				var c uint16
				list.ReadUint16(&c)
				m.SupportedGroups = append(m.SupportedGroups, CurveID(c))
			}
		case extPointFormats:
			var list cryptobyte.String
			if !data.ReadUint8LengthPrefixed(&list) {
				return false
			}
			m.PointFormats = []uint8(list)
		case extSignatureAlgorithms:
			var list cryptobyte.String
			if !data.ReadUint16LengthPrefixed(&list) || len(list)%2 != 0 {
				return false
			}
			for !list.Empty() {
				var sc uint16
				list.ReadUint16(&sc)
				m.SignatureSchemes = append(m.SignatureSchemes, SignatureScheme(sc))
			}
		case extRenegotiationInfo:
			m.SecureRenegotiation = true
		}
	}
	return true
}

// ServerHello is the server's reply to ClientHello.
type ServerHello struct {
	Version             version.Version
	Random              []byte
	SessionID           []byte
	CipherSuite         uint16
	CompressionMethod   uint8
	PointFormats        []uint8
	SecureRenegotiation bool
	ServerNameAck       bool
}

// Marshal encodes the message body.
func (m *ServerHello) Marshal() []byte {
	var b cryptobyte.Builder
	b.AddUint16(uint16(m.Version))
	b.AddBytes(m.Random)
	b.AddUint8LengthPrefixed(func(b *cryptobyte.Builder) { b.AddBytes(m.SessionID) })
	b.AddUint16(m.CipherSuite)
	b.AddUint8(m.CompressionMethod)

	var ext cryptobyte.Builder
	if m.ServerNameAck {
		ext.AddUint16(extServerName)
		ext.AddUint16(0)
	}
	if len(m.PointFormats) > 0 {
		ext.AddUint16(extPointFormats)
		ext.AddUint16LengthPrefixed(func(b *cryptobyte.Builder) {
			b.AddUint8LengthPrefixed(func(b *cryptobyte.Builder) { b.AddBytes(m.PointFormats) })
		})
	}
	if m.SecureRenegotiation {
		ext.AddUint16(extRenegotiationInfo)
		ext.AddUint16LengthPrefixed(func(b *cryptobyte.Builder) {
			b.AddUint8LengthPrefixed(func(*cryptobyte.Builder) {})
		})
	}
	if extBytes := ext.BytesOrPanic(); len(extBytes) > 0 {
		b.AddUint16LengthPrefixed(func(b *cryptobyte.Builder) { b.AddBytes(extBytes) })
	}
	return b.BytesOrPanic()
}

// Unmarshal decodes the message body. Unknown extensions are skipped.
func (m *ServerHello) Unmarshal(body []byte) bool {
	s := cryptobyte.String(body)
	var vers uint16
	var sid cryptobyte.String
	if !s.ReadUint16(&vers) || !s.ReadBytes(&m.Random, RandomLen) ||
		!s.ReadUint8LengthPrefixed(&sid) || len(sid) > 32 ||
		!s.ReadUint16(&m.CipherSuite) || !s.ReadUint8(&m.CompressionMethod) {
		return false
	}
	m.Version = version.Version(vers)
	m.SessionID = []byte(sid)

	if s.Empty() {
		return true
	}
	var exts cryptobyte.String
	if !s.ReadUint16LengthPrefixed(&exts) || !s.Empty() {
		return false
	}
	for !exts.Empty() {
		var typ uint16
		var data cryptobyte.String
		if !exts.ReadUint16(&typ) || !exts.ReadUint16LengthPrefixed(&data) {
			return false
		}
		switch typ {
		case extServerName:
			m.ServerNameAck = true
		case extPointFormats:
			var list cryptobyte.String
			if !data.ReadUint8LengthPrefixed(&list) {
				return false
			}
			m.PointFormats = []uint8(list)
		case extRenegotiationInfo:
			var rc cryptobyte.String
			if !data.ReadUint8LengthPrefixed(&rc) || len(rc) != 0 {
				return false
			}
			m.SecureRenegotiation = true
		}
	}
	return true
}

// HelloVerifyRequest carries the DTLS cookie.
type HelloVerifyRequest struct {
	Version version.Version
	Cookie  []byte
}

// Marshal encodes the message body.
func (m *HelloVerifyRequest) Marshal() []byte {
	var b cryptobyte.Builder
	b.AddUint16(uint16(m.Version))
	b.AddUint8LengthPrefixed(func(b *cryptobyte.Builder) { b.AddBytes(m.Cookie) })
	return b.BytesOrPanic()
}

// Unmarshal decodes the message body.
func (m *HelloVerifyRequest) Unmarshal(body []byte) bool {
	s := cryptobyte.String(body)
	var vers uint16
	var cookie cryptobyte.String
	if !s.ReadUint16(&vers) || !s.ReadUint8LengthPrefixed(&cookie) || !s.Empty() {
		return false
	}
	m.Version = version.Version(vers)
	m.Cookie = []byte(cookie)
	return true
}

// Certificate carries a DER certificate chain, leaf first.
type Certificate struct {
	Chain [][]byte
}

// Marshal encodes the message body.
func (m *Certificate) Marshal() []byte {
	var b cryptobyte.Builder
	b.AddUint24LengthPrefixed(func(b *cryptobyte.Builder) {
		for _, c := range m.Chain {
			b.AddUint24LengthPrefixed(func(b *cryptobyte.Builder) { b.AddBytes(c) })
		}
	})
	return b.BytesOrPanic()
}

// Unmarshal decodes the message body.
func (m *Certificate) Unmarshal(body []byte) bool {
	s := cryptobyte.String(body)
	var list cryptobyte.String
	if !s.ReadUint24LengthPrefixed(&list) || !s.Empty() {
		return false
	}
	m.Chain = nil
	for !list.Empty() {
		var c cryptobyte.String
		if !list.ReadUint24LengthPrefixed(&c) || len(c) == 0 {
			return false
		}
		m.Chain = append(m.Chain, []byte(c))
	}
	return true
}

// ServerKeyExchange carries signed ECDHE parameters.
type ServerKeyExchange struct {
	Curve     CurveID
	PublicKey []byte
	Scheme    SignatureScheme
	Signature []byte

	// HasScheme selects the TLS 1.2 layout.
	HasScheme bool
}

// Params returns the signed portion: curve type, curve and public point.
func (m *ServerKeyExchange) Params() []byte {
	var b cryptobyte.Builder
	b.AddUint8(curveTypeNamed)
	b.AddUint16(uint16(m.Curve))
	b.AddUint8LengthPrefixed(func(b *cryptobyte.Builder) { b.AddBytes(m.PublicKey) })
	return b.BytesOrPanic()
}

// Marshal encodes the message body.
func (m *ServerKeyExchange) Marshal() []byte {
	b := cryptobyte.NewBuilder(m.Params())
	if m.HasScheme {
		b.AddUint16(uint16(m.Scheme))
	}
	b.AddUint16LengthPrefixed(func(b *cryptobyte.Builder) { b.AddBytes(m.Signature) })
	return b.BytesOrPanic()
}

// Unmarshal decodes the message body. HasScheme must be set beforehand.
func (m *ServerKeyExchange) Unmarshal(body []byte) bool {
	s := cryptobyte.String(body)
	var curveType uint8
	var curve uint16
	var pub, sig cryptobyte.String
	if !s.ReadUint8(&curveType) || curveType != curveTypeNamed ||
		!s.ReadUint16(&curve) || !s.ReadUint8LengthPrefixed(&pub) || len(pub) == 0 {
		return false
	}
	m.Curve = CurveID(curve)
	m.PublicKey = []byte(pub)
	if m.HasScheme {
		var sc uint16
		if !s.ReadUint16(&sc) {
			return false
		}
		m.Scheme = SignatureScheme(sc)
	}
	if !s.ReadUint16LengthPrefixed(&sig) || !s.Empty() {
		return false
	}
	m.Signature = []byte(sig)
	return true
}

// Client certificate types.
const (
	CertTypeRSASign   uint8 = 1
	CertTypeECDSASign uint8 = 64
)

// CertificateRequest asks the client for a certificate.
type CertificateRequest struct {
	CertificateTypes []uint8
	SignatureSchemes []SignatureScheme
	Authorities      [][]byte

	// HasSchemes selects the TLS 1.2 layout.
	HasSchemes bool
}

// Marshal encodes the message body.
func (m *CertificateRequest) Marshal() []byte {
	var b cryptobyte.Builder
	b.AddUint8LengthPrefixed(func(b *cryptobyte.Builder) { b.AddBytes(m.CertificateTypes) })
	if m.HasSchemes {
		b.AddUint16LengthPrefixed(func(b *cryptobyte.Builder) {
			for _, s := range m.SignatureSchemes {
				b.AddUint16(uint16(s))
			}
		})
	}
	b.AddUint16LengthPrefixed(func(b *cryptobyte.Builder) {
		for _, dn := range m.Authorities {
			b.AddUint16LengthPrefixed(func(b *cryptobyte.Builder) { b.AddBytes(dn) })
		}
	})
	return b.BytesOrPanic()
}

// Unmarshal decodes the message body. HasSchemes must be set beforehand.
func (m *CertificateRequest) Unmarshal(body []byte) bool {
	s := cryptobyte.String(body)
	var types, cas cryptobyte.String
	if !s.ReadUint8LengthPrefixed(&types) || len(types) == 0 {
		return false
	}
	m.CertificateTypes = []uint8(types)
	if m.HasSchemes {
		var list cryptobyte.String
		if !s.ReadUint16LengthPrefixed(&list) || len(list)%2 != 0 {
			return false
		}
		for !list.Empty() {
			var sc uint16
			list.ReadUint16(&sc)
			m.SignatureSchemes = append(m.SignatureSchemes, SignatureScheme(sc))
		}
	}
	if !s.ReadUint16LengthPrefixed(&cas) || !s.Empty() {
		return false
	}
	for !cas.Empty() {
		var dn cryptobyte.String
		if !cas.ReadUint16LengthPrefixed(&dn) {
			return false
		}
		m.Authorities = append(m.Authorities, []byte(dn))
	}
	return true
}

// ClientKeyExchange carries the RSA-encrypted premaster secret or the
// client's ECDHE public point.
type ClientKeyExchange struct {
	// Data is the encrypted premaster secret or the public point.
	Data []byte

	// ECDHE selects the 8-bit length prefix of an ECDHE point.
	ECDHE bool
}

// Marshal encodes the message body.
func (m *ClientKeyExchange) Marshal() []byte {
	var b cryptobyte.Builder
	if m.ECDHE {
		b.AddUint8LengthPrefixed(func(b *cryptobyte.Builder) { b.AddBytes(m.Data) })
	} else {
		b.AddUint16LengthPrefixed(func(b *cryptobyte.Builder) { b.AddBytes(m.Data) })
	}
	return b.BytesOrPanic()
}

// Unmarshal decodes the message body. ECDHE must be set beforehand.
func (m *ClientKeyExchange) Unmarshal(body []byte) bool {
	s := cryptobyte.String(body)
	var data cryptobyte.String
	var ok bool
	if m.ECDHE {
		ok = s.ReadUint8LengthPrefixed(&data)
	} else {
		ok = s.ReadUint16LengthPrefixed(&data)
	}
	if !ok || !s.Empty() || len(data) == 0 {
		return false
	}
	m.Data = []byte(data)
	return true
}

// CertificateVerify proves possession of the client certificate key.
type CertificateVerify struct {
	Scheme    SignatureScheme
	Signature []byte
	HasScheme bool
}

// Marshal encodes the message body.
func (m *CertificateVerify) Marshal() []byte {
	var b cryptobyte.Builder
	if m.HasScheme {
		b.AddUint16(uint16(m.Scheme))
	}
	b.AddUint16LengthPrefixed(func(b *cryptobyte.Builder) { b.AddBytes(m.Signature) })
	return b.BytesOrPanic()
}

// Unmarshal decodes the message body. HasScheme must be set beforehand.
func (m *CertificateVerify) Unmarshal(body []byte) bool {
	s := cryptobyte.String(body)
	if m.HasScheme {
		var sc uint16
		if !s.ReadUint16(&sc) {
			return false
		}
		m.Scheme = SignatureScheme(sc)
	}
	var sig cryptobyte.String
	if !s.ReadUint16LengthPrefixed(&sig) || !s.Empty() {
		return false
	}
	m.Signature = []byte(sig)
	return true
}
