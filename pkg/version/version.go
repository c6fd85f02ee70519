// Package version defines protocol wire versions and the method identifiers
// a context is created with.
package version

import (
	"fmt"
	"strings"
)

// Version is a record-layer protocol version as it appears on the wire.
type Version uint16

// Wire versions.
const (
	SSL30  Version = 0x0300
	TLS10  Version = 0x0301
	TLS11  Version = 0x0302
	TLS12  Version = 0x0303
	DTLS10 Version = 0xfeff
	DTLS12 Version = 0xfefd
)

// String returns the conventional version name, e.g. "TLSv1.2".
func (v Version) String() string {
	switch v {
	case SSL30:
		return "SSLv3"
	case TLS10:
		return "TLSv1"
	case TLS11:
		return "TLSv1.1"
	case TLS12:
		return "TLSv1.2"
	case DTLS10:
		return "DTLSv1"
	case DTLS12:
		return "DTLSv1.2"
	default:
		return fmt.Sprintf("0x%04x", uint16(v))
	}
}

// Parse parses a version name as returned by String (case-insensitive).
func Parse(s string) (Version, error) {
	switch strings.ToLower(s) {
	case "sslv3":
		return SSL30, nil
	case "tlsv1", "tlsv1.0":
		return TLS10, nil
	case "tlsv1.1":
		return TLS11, nil
	case "tlsv1.2":
		return TLS12, nil
	case "dtlsv1", "dtlsv1.0":
		return DTLS10, nil
	case "dtlsv1.2":
		return DTLS12, nil
	default:
		return 0, fmt.Errorf("invalid version %q", s)
	}
}

// Datagram reports whether v is a DTLS version.
func (v Version) Datagram() bool {
	return v == DTLS10 || v == DTLS12
}

// Rank orders versions within a family: TLS 1.0 = 1, TLS 1.1 and DTLS 1.0
// = 2, TLS 1.2 and DTLS 1.2 = 3. Unknown versions rank 0.
func (v Version) Rank() int {
	switch v {
	case TLS10:
		return 1
	case TLS11, DTLS10:
		return 2
	case TLS12, DTLS12:
		return 3
	default:
		return 0
	}
}

// ExplicitIV reports whether CBC records carry a per-record IV.
func (v Version) ExplicitIV() bool {
	return v.Rank() >= 2
}

// SignatureAlgorithms reports whether the version negotiates signature
// schemes and uses a suite-specific PRF hash (TLS 1.2 semantics).
func (v Version) SignatureAlgorithms() bool {
	return v.Rank() >= 3
}

// Role is the side of the connection.
type Role uint8

const (
	RoleClient Role = iota
	RoleServer
)

// String returns "client" or "server".
func (r Role) String() string {
	if r == RoleServer {
		return "server"
	}
	return "client"
}

// Method identifies the protocol and role a context is created for.
type Method uint8

// Methods. The zero value is invalid.
const (
	MethodInvalid Method = iota
	SSLv3Client
	SSLv3Server
	TLSv1Client
	TLSv1Server
	TLSv1_1Client
	TLSv1_1Server
	TLSv1_2Client
	TLSv1_2Server
	DTLSv1Client
	DTLSv1Server
	DTLSv1_2Client
	DTLSv1_2Server
	// SSLv23Client and SSLv23Server negotiate the highest TLS version both
	// sides support.
	SSLv23Client
	SSLv23Server
)

type methodInfo struct {
	name     string
	role     Role
	min, max Version
}

var methods = map[Method]methodInfo{
	SSLv3Client:    {"sslv3-client", RoleClient, SSL30, SSL30},
	SSLv3Server:    {"sslv3-server", RoleServer, SSL30, SSL30},
	TLSv1Client:    {"tlsv1-client", RoleClient, TLS10, TLS10},
	TLSv1Server:    {"tlsv1-server", RoleServer, TLS10, TLS10},
	TLSv1_1Client:  {"tlsv1.1-client", RoleClient, TLS11, TLS11},
	TLSv1_1Server:  {"tlsv1.1-server", RoleServer, TLS11, TLS11},
	TLSv1_2Client:  {"tlsv1.2-client", RoleClient, TLS12, TLS12},
	TLSv1_2Server:  {"tlsv1.2-server", RoleServer, TLS12, TLS12},
	DTLSv1Client:   {"dtlsv1-client", RoleClient, DTLS10, DTLS10},
	DTLSv1Server:   {"dtlsv1-server", RoleServer, DTLS10, DTLS10},
	DTLSv1_2Client: {"dtlsv1.2-client", RoleClient, DTLS12, DTLS12},
	DTLSv1_2Server: {"dtlsv1.2-server", RoleServer, DTLS12, DTLS12},
	SSLv23Client:   {"sslv23-client", RoleClient, TLS10, TLS12},
	SSLv23Server:   {"sslv23-server", RoleServer, TLS10, TLS12},
}

// String returns the method name used in configuration files.
func (m Method) String() string {
	if info, ok := methods[m]; ok {
		return info.name
	}
	return "invalid"
}

// ParseMethod parses a method name as returned by String.
func ParseMethod(s string) (Method, error) {
	s = strings.ToLower(s)
	for m, info := range methods {
		if info.name == s {
			return m, nil
		}
	}
	return MethodInvalid, fmt.Errorf("invalid method %q", s)
}

// Known reports whether m is a recognized method.
func (m Method) Known() bool {
	_, ok := methods[m]
	return ok
}

// Supported reports whether sessions can be created for m. SSLv3 is
// recognized but not supported.
func (m Method) Supported() bool {
	info, ok := methods[m]
	return ok && info.min != SSL30
}

// Role returns the side m acts as.
func (m Method) Role() Role {
	return methods[m].role
}

// Datagram reports whether m runs over datagrams (DTLS).
func (m Method) Datagram() bool {
	return methods[m].max.Datagram()
}

// Range returns the lowest and highest version m may negotiate.
func (m Method) Range() (min, max Version) {
	info := methods[m]
	return info.min, info.max
}

// Allows reports whether v lies within the method's range.
func (m Method) Allows(v Version) bool {
	info, ok := methods[m]
	if !ok || v.Datagram() != info.max.Datagram() {
		return false
	}
	return v.Rank() >= info.min.Rank() && v.Rank() <= info.max.Rank()
}

// ForClientFlag maps the example client's -v flag (0 = SSLv3 .. 3 = TLS 1.2,
// -1 = SSLv23) to a method, selecting DTLS variants when datagram is set.
func ForClientFlag(v int, datagram bool) (Method, error) {
	if datagram {
		switch v {
		case 2:
			return DTLSv1Client, nil
		case 3, -1:
			return DTLSv1_2Client, nil
		default:
			return MethodInvalid, fmt.Errorf("no DTLS method for version %d", v)
		}
	}
	switch v {
	case 0:
		return SSLv3Client, nil
	case 1:
		return TLSv1Client, nil
	case 2:
		return TLSv1_1Client, nil
	case 3:
		return TLSv1_2Client, nil
	case -1:
		return SSLv23Client, nil
	default:
		return MethodInvalid, fmt.Errorf("invalid version %d", v)
	}
}
