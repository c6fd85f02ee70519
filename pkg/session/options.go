package session

import (
	"crypto/x509"
	"fmt"
	"strings"

	"github.com/benbjohnson/clock"
	"github.com/sirupsen/logrus"

	"github.com/sslkit/sslkit-go/pkg/log"
	"github.com/sslkit/sslkit-go/pkg/retransmit"
)

// DefaultMTU bounds the size of DTLS datagrams produced during the
// handshake.
const DefaultMTU = 1400

// Option configures a Context at creation.
type Option func(*Context)

// WithLogger sets the protocol event logger.
func WithLogger(logger log.Logger) Option {
	return func(c *Context) {
		c.logger = logger
	}
}

// WithLogrus routes diagnostics to logger when no Logging callback is
// registered.
func WithLogrus(logger *logrus.Logger) Option {
	return func(c *Context) {
		c.logrus = logger
	}
}

// WithClock sets the clock used for DTLS retransmission and event
// timestamps.
func WithClock(clk clock.Clock) Option {
	return func(c *Context) {
		c.clock = clk
	}
}

// WithRetransmitConfig sets the DTLS retransmission schedule.
func WithRetransmitConfig(cfg retransmit.Config) Option {
	return func(c *Context) {
		c.retransmit = cfg
	}
}

// WithMTU sets the DTLS datagram size limit for handshake messages.
func WithMTU(mtu int) Option {
	return func(c *Context) {
		if mtu > 0 {
			c.mtu = mtu
		}
	}
}

// VerifyMode is the peer certificate policy.
type VerifyMode uint8

const (
	// VerifyNone accepts any peer certificate. Servers do not request one.
	VerifyNone VerifyMode = iota

	// VerifyPeer verifies the peer chain. Servers request a client
	// certificate but accept clients that send none.
	VerifyPeer

	// VerifyFailIfNoPeerCert is VerifyPeer where a server also rejects
	// clients without a certificate.
	VerifyFailIfNoPeerCert
)

// String returns the mode name used in configuration files.
func (m VerifyMode) String() string {
	switch m {
	case VerifyNone:
		return "none"
	case VerifyPeer:
		return "peer"
	case VerifyFailIfNoPeerCert:
		return "require"
	default:
		return fmt.Sprintf("VerifyMode(%d)", uint8(m))
	}
}

// ParseVerifyMode parses a mode name as returned by String.
func ParseVerifyMode(s string) (VerifyMode, error) {
	switch strings.ToLower(s) {
	case "none":
		return VerifyNone, nil
	case "peer":
		return VerifyPeer, nil
	case "require", "fail-if-no-peer-cert":
		return VerifyFailIfNoPeerCert, nil
	default:
		return 0, fmt.Errorf("invalid verify mode %q", s)
	}
}

// VerifyInfo describes the outcome of built-in chain verification.
type VerifyInfo struct {
	// Chain is the certificate chain as sent by the peer, leaf first.
	Chain []*x509.Certificate

	// Err is the built-in verification or revocation error, nil when the
	// chain verified.
	Err error
}

// VerifyFunc decides whether a peer chain is accepted. preverified is the
// built-in result; the returned value replaces it.
type VerifyFunc func(preverified bool, info *VerifyInfo) bool
