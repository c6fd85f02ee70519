package callback

import (
	"crypto"
	"crypto/x509/pkix"
	"fmt"

	"github.com/sslkit/sslkit-go/pkg/ciphersuite"
	"github.com/sslkit/sslkit-go/pkg/handshake"
	"github.com/sslkit/sslkit-go/pkg/log"
	"github.com/sslkit/sslkit-go/pkg/record"
)

// Kind identifies a callback slot.
type Kind uint8

const (
	KindIOSend Kind = iota + 1
	KindIORecv
	KindMacEncrypt
	KindDecryptVerify
	KindPKSign
	KindPKVerify
	KindPKEncrypt
	KindPKDecrypt
	KindMissingCRL
	KindLogging
)

// Kinds lists every slot in declaration order.
var Kinds = []Kind{
	KindIOSend, KindIORecv, KindMacEncrypt, KindDecryptVerify,
	KindPKSign, KindPKVerify, KindPKEncrypt, KindPKDecrypt,
	KindMissingCRL, KindLogging,
}

var kindNames = map[Kind]string{
	KindIOSend:        "IO_SEND",
	KindIORecv:        "IO_RECV",
	KindMacEncrypt:    "MAC_ENCRYPT",
	KindDecryptVerify: "DECRYPT_VERIFY",
	KindPKSign:        "PK_SIGN",
	KindPKVerify:      "PK_VERIFY",
	KindPKEncrypt:     "PK_ENCRYPT",
	KindPKDecrypt:     "PK_DECRYPT",
	KindMissingCRL:    "MISSING_CRL",
	KindLogging:       "LOGGING",
}

func (k Kind) String() string {
	if n, ok := kindNames[k]; ok {
		return n
	}
	return fmt.Sprintf("Kind(%d)", uint8(k))
}

// ParseKind returns the Kind for a name such as "PK_SIGN".
func ParseKind(s string) (Kind, bool) {
	for k, n := range kindNames {
		if n == s {
			return k, true
		}
	}
	return 0, false
}

// Handle identifies the Session a callback runs for.
type Handle interface {
	ID() string
}

// Callback is implemented by every function type in this package.
type Callback interface {
	Kind() Kind
	callback()
}

// IOSendFunc replaces Transport.Send. It may return status.ErrWouldBlock
// with a partial count.
type IOSendFunc func(h Handle, ctx any, p []byte) (int, error)

// IORecvFunc replaces Transport.Receive. It may return status.ErrWouldBlock.
type IORecvFunc func(h Handle, ctx any, p []byte) (int, error)

// RecordInput is the input of the record protection callbacks. For
// MacEncrypt, Header.Length is the plaintext length and Payload the
// plaintext. For DecryptVerify, Header.Length is the fragment length and
// Payload the fragment.
type RecordInput struct {
	Header  record.Header
	Payload []byte

	// Suite and Keys describe the negotiated protection of this direction.
	Suite *ciphersuite.Suite
	Keys  record.Keys
}

// Sequence returns the 8-byte big-endian sequence number of the record.
func (in *RecordInput) Sequence() [8]byte {
	return in.Header.Sequence()
}

// MacEncryptFunc protects one outgoing record and returns the exact fragment
// the negotiated suite puts on the wire.
type MacEncryptFunc func(h Handle, ctx any, in *RecordInput) ([]byte, error)

// DecryptVerifyFunc authenticates and decrypts one incoming fragment.
type DecryptVerifyFunc func(h Handle, ctx any, in *RecordInput) ([]byte, error)

// SignInput is a signing request for the local private key.
type SignInput struct {
	// Hash is the digest algorithm; crypto.MD5SHA1 for legacy RSA.
	Hash   crypto.Hash
	Digest []byte
	Scheme handshake.SignatureScheme

	// KeyDER is the configured private key in PKCS#8 form. It is nil when
	// no key was loaded into the Context.
	KeyDER []byte
}

// VerifyInput is a signature check against the peer's public key.
type VerifyInput struct {
	Hash      crypto.Hash
	Digest    []byte
	Signature []byte
	Scheme    handshake.SignatureScheme

	// PublicKeyDER is the peer's SubjectPublicKeyInfo.
	PublicKeyDER []byte
}

// EncryptInput is an RSA key exchange encryption to the peer's key.
type EncryptInput struct {
	Plaintext    []byte
	PublicKeyDER []byte
}

// DecryptInput is an RSA key exchange decryption with the local key.
type DecryptInput struct {
	Ciphertext []byte
	KeyDER     []byte
}

// PKSignFunc replaces the default signature operation.
type PKSignFunc func(h Handle, ctx any, in *SignInput) ([]byte, error)

// PKVerifyFunc replaces the default signature verification. A nil error
// accepts the signature.
type PKVerifyFunc func(h Handle, ctx any, in *VerifyInput) error

// PKEncryptFunc replaces the default RSA encryption.
type PKEncryptFunc func(h Handle, ctx any, in *EncryptInput) ([]byte, error)

// PKDecryptFunc replaces the default RSA decryption.
type PKDecryptFunc func(h Handle, ctx any, in *DecryptInput) ([]byte, error)

// MissingCRLInput names an issuer with no loaded CRL.
type MissingCRLInput struct {
	Issuer    pkix.Name
	RawIssuer []byte
}

// MissingCRLFunc decides whether verification proceeds for an issuer
// without a CRL. Returning true accepts.
type MissingCRLFunc func(h Handle, ctx any, in *MissingCRLInput) bool

// LogFunc receives diagnostic messages. It has no effect on protocol state.
type LogFunc func(severity log.Severity, message string)

func (IOSendFunc) Kind() Kind        { return KindIOSend }
func (IORecvFunc) Kind() Kind        { return KindIORecv }
func (MacEncryptFunc) Kind() Kind    { return KindMacEncrypt }
func (DecryptVerifyFunc) Kind() Kind { return KindDecryptVerify }
func (PKSignFunc) Kind() Kind        { return KindPKSign }
func (PKVerifyFunc) Kind() Kind      { return KindPKVerify }
func (PKEncryptFunc) Kind() Kind     { return KindPKEncrypt }
func (PKDecryptFunc) Kind() Kind     { return KindPKDecrypt }
func (MissingCRLFunc) Kind() Kind    { return KindMissingCRL }
func (LogFunc) Kind() Kind           { return KindLogging }

func (IOSendFunc) callback()        {}
func (IORecvFunc) callback()        {}
func (MacEncryptFunc) callback()    {}
func (DecryptVerifyFunc) callback() {}
func (PKSignFunc) callback()        {}
func (PKVerifyFunc) callback()      {}
func (PKEncryptFunc) callback()     {}
func (PKDecryptFunc) callback()     {}
func (MissingCRLFunc) callback()    {}
func (LogFunc) callback()           {}

// Compile-time interface checks.
var (
	_ Callback = IOSendFunc(nil)
	_ Callback = IORecvFunc(nil)
	_ Callback = MacEncryptFunc(nil)
	_ Callback = DecryptVerifyFunc(nil)
	_ Callback = PKSignFunc(nil)
	_ Callback = PKVerifyFunc(nil)
	_ Callback = PKEncryptFunc(nil)
	_ Callback = PKDecryptFunc(nil)
	_ Callback = MissingCRLFunc(nil)
	_ Callback = LogFunc(nil)
)
