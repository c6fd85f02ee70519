// Package status defines the status codes reported by every sslkit component
// and translates them into a small error taxonomy.
//
// A Code is itself an error. Built-in failures and failures reported by
// user-registered callbacks share the same code space, so callers never need
// to know where a failure originated.
package status

import (
	"errors"
	"fmt"
)

// Code is an engine status code.
type Code int

// Success.
const (
	CodeSuccess Code = 0
)

// Configuration errors (1xx).
const (
	// CodeBadMethod indicates an unknown or unsupported protocol method.
	CodeBadMethod Code = 101
	// CodeBadFile indicates a file that could not be read.
	CodeBadFile Code = 102
	// CodeBadFileType indicates a file format other than PEM or DER.
	CodeBadFileType Code = 103
	// CodeBadCertificate indicates malformed certificate content.
	CodeBadCertificate Code = 104
	// CodeBadKey indicates malformed private key content.
	CodeBadKey Code = 105
	// CodeKeyMismatch indicates a private key that does not match the certificate.
	CodeKeyMismatch Code = 106
	// CodeBadParameter indicates an invalid argument.
	CodeBadParameter Code = 107
	// CodeNoCipherMatch indicates a cipher list with no known suites.
	CodeNoCipherMatch Code = 108
	// CodeBadCRLDir indicates an unreadable CRL directory.
	CodeBadCRLDir Code = 109
	// CodeCallbackPair indicates only one half of a paired callback was registered.
	CodeCallbackPair Code = 110
	// CodeNoTrustAnchors indicates trust anchor loading produced no certificates.
	CodeNoTrustAnchors Code = 111
)

// State errors (2xx).
const (
	// CodeBadState indicates an operation invoked in the wrong session state.
	CodeBadState Code = 201
	// CodeNoTransport indicates a handshake started without a bound transport.
	CodeNoTransport Code = 202
	// CodeContextInUse indicates a context destroyed while sessions are live.
	CodeContextInUse Code = 203
	// CodeContextDestroyed indicates use of a destroyed context.
	CodeContextDestroyed Code = 204
)

// Handshake errors (3xx).
const (
	CodeNoSharedCipher       Code = 301
	CodeVersionMismatch      Code = 302
	CodeMalformedMessage     Code = 303
	CodeUnexpectedMessage    Code = 304
	CodeBadCertificateChain  Code = 305
	CodeUntrustedIssuer      Code = 306
	CodeCertExpired          Code = 307
	CodeNoPeerCert           Code = 308
	CodeBadSignature         Code = 309
	CodeFinishedMismatch     Code = 310
	CodeMacFailure           Code = 311
	CodeDecryptFailure       Code = 312
	CodeEncryptFailure       Code = 313
	CodeSignFailure          Code = 314
	CodeKeyExchangeFailure   Code = 315
	CodeAlertReceived        Code = 316
	CodeHostnameMismatch     Code = 317
	CodeVerifyCallbackReject Code = 318
)

// Transport errors (4xx).
const (
	CodeTransport        Code = 401
	CodeConnectionClosed Code = 402
	CodeHandshakeTimeout Code = 403
	CodeRecordOverflow   Code = 404
)

// Would-block outcomes (5xx).
const (
	// CodeWouldBlock is the sentinel transports and I/O callbacks return.
	CodeWouldBlock Code = 501
	// CodeWantRead indicates the session needs the transport to become readable.
	CodeWantRead Code = 502
	// CodeWantWrite indicates the session needs the transport to become writable.
	CodeWantWrite Code = 503
)

// Revocation errors (6xx).
const (
	CodeCertRevoked     Code = 601
	CodeCRLMissing      Code = 602
	CodeCRLExpired      Code = 603
	CodeOCSPUnreachable Code = 604
	CodeOCSPUnknown     Code = 605
	CodeOCSPBadResponse Code = 606
)

// ErrWouldBlock is returned by transports and I/O callbacks when the
// operation cannot make progress without blocking.
var ErrWouldBlock error = CodeWouldBlock

// Kind is a category of the error taxonomy.
type Kind uint8

const (
	KindNone Kind = iota
	KindConfig
	KindState
	KindHandshake
	KindTransport
	KindWouldBlock
	KindRevocation
)

// String returns the kind name.
func (k Kind) String() string {
	switch k {
	case KindNone:
		return "None"
	case KindConfig:
		return "ConfigError"
	case KindState:
		return "StateError"
	case KindHandshake:
		return "HandshakeError"
	case KindTransport:
		return "TransportError"
	case KindWouldBlock:
		return "WouldBlock"
	case KindRevocation:
		return "RevocationError"
	default:
		return "Unknown"
	}
}

// Error is the translated form of a Code.
type Error struct {
	Code    Code
	Kind    Kind
	Message string
}

// String formats the diagnostic as "Kind: message (code N)".
func (e Error) String() string {
	return fmt.Sprintf("%s: %s (code %d)", e.Kind, e.Message, int(e.Code))
}

var messages = map[Code]string{
	CodeSuccess: "success",

	CodeBadMethod:      "unsupported protocol method",
	CodeBadFile:        "file could not be read",
	CodeBadFileType:    "unsupported file type",
	CodeBadCertificate: "malformed certificate",
	CodeBadKey:         "malformed private key",
	CodeKeyMismatch:    "private key does not match certificate",
	CodeBadParameter:   "bad parameter",
	CodeNoCipherMatch:  "no known cipher suite in list",
	CodeBadCRLDir:      "CRL directory could not be read",
	CodeCallbackPair:   "paired callbacks must be registered together",
	CodeNoTrustAnchors: "no trust anchors loaded",

	CodeBadState:         "operation not valid in current session state",
	CodeNoTransport:      "no transport bound to session",
	CodeContextInUse:     "context still referenced by live sessions",
	CodeContextDestroyed: "context has been destroyed",

	CodeNoSharedCipher:       "no shared cipher suite",
	CodeVersionMismatch:      "protocol version mismatch",
	CodeMalformedMessage:     "malformed handshake message",
	CodeUnexpectedMessage:    "unexpected message",
	CodeBadCertificateChain:  "peer certificate chain failed verification",
	CodeUntrustedIssuer:      "peer certificate issuer is not trusted",
	CodeCertExpired:          "peer certificate expired or not yet valid",
	CodeNoPeerCert:           "peer did not present a certificate",
	CodeBadSignature:         "signature verification failed",
	CodeFinishedMismatch:     "finished message verification failed",
	CodeMacFailure:           "record MAC verification failed",
	CodeDecryptFailure:       "record decryption failed",
	CodeEncryptFailure:       "record encryption failed",
	CodeSignFailure:          "signing failed",
	CodeKeyExchangeFailure:   "key exchange failed",
	CodeAlertReceived:        "fatal alert received from peer",
	CodeHostnameMismatch:     "peer certificate does not match server name",
	CodeVerifyCallbackReject: "verify callback rejected peer certificate",

	CodeTransport:        "transport failure",
	CodeConnectionClosed: "connection closed by peer",
	CodeHandshakeTimeout: "handshake timed out",
	CodeRecordOverflow:   "record exceeds maximum size",

	CodeWouldBlock: "operation would block",
	CodeWantRead:   "operation would block waiting for read",
	CodeWantWrite:  "operation would block waiting for write",

	CodeCertRevoked:     "certificate revoked",
	CodeCRLMissing:      "no CRL available for issuer",
	CodeCRLExpired:      "CRL has expired",
	CodeOCSPUnreachable: "OCSP responder unreachable",
	CodeOCSPUnknown:     "OCSP status unknown",
	CodeOCSPBadResponse: "OCSP response invalid",
}

// Kind returns the taxonomy kind of the code.
func (c Code) Kind() Kind {
	switch c / 100 {
	case 0:
		if c == CodeSuccess {
			return KindNone
		}
	case 1:
		return KindConfig
	case 2:
		return KindState
	case 3:
		return KindHandshake
	case 4:
		return KindTransport
	case 5:
		return KindWouldBlock
	case 6:
		return KindRevocation
	}
	return KindTransport
}

// Error implements error.
func (c Code) Error() string {
	return Translate(c).Message
}

// Translate maps a code to its kind and message. Unknown codes are reported
// as transport errors.
func Translate(code Code) Error {
	msg, ok := messages[code]
	if !ok {
		msg = fmt.Sprintf("unknown error %d", int(code))
	}
	return Error{Code: code, Kind: code.Kind(), Message: msg}
}

// CodeOf extracts the Code carried by err. Errors that do not carry a Code
// report CodeTransport.
func CodeOf(err error) Code {
	if err == nil {
		return CodeSuccess
	}
	var c Code
	if errors.As(err, &c) {
		return c
	}
	return CodeTransport
}

// KindOf returns the taxonomy kind of err.
func KindOf(err error) Kind {
	return CodeOf(err).Kind()
}

// IsWouldBlock reports whether err is a would-block outcome.
func IsWouldBlock(err error) bool {
	return err != nil && KindOf(err) == KindWouldBlock
}

// TranslateError translates any error. The message of a wrapped error keeps
// its cause.
func TranslateError(err error) Error {
	e := Translate(CodeOf(err))
	if err != nil {
		e.Message = err.Error()
	}
	return e
}

type wrapped struct {
	code  Code
	cause error
}

func (w *wrapped) Error() string {
	return w.code.Error() + ": " + w.cause.Error()
}

func (w *wrapped) Unwrap() []error {
	return []error{w.code, w.cause}
}

// Wrap attaches code to cause. If cause already carries a Code it is
// returned unchanged, so a code chosen deeper in the stack wins.
func Wrap(code Code, cause error) error {
	if cause == nil {
		return code
	}
	var c Code
	if errors.As(cause, &c) {
		return cause
	}
	return &wrapped{code: code, cause: cause}
}

// Errorf wraps a formatted cause with code.
func Errorf(code Code, format string, args ...any) error {
	return &wrapped{code: code, cause: fmt.Errorf(format, args...)}
}
