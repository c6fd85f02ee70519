package callback

import (
	"crypto"
	"crypto/ecdsa"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"errors"

	"github.com/sslkit/sslkit-go/pkg/status"
)

// ParsePrivateKeyDER parses a PKCS#8, PKCS#1 or SEC 1 private key.
func ParsePrivateKeyDER(der []byte) (crypto.Signer, error) {
	if len(der) == 0 {
		return nil, status.Errorf(status.CodeBadKey, "no private key")
	}
	if k, err := x509.ParsePKCS8PrivateKey(der); err == nil {
		if s, ok := k.(crypto.Signer); ok {
			return s, nil
		}
		return nil, status.Errorf(status.CodeBadKey, "unsupported private key type %T", k)
	}
	if k, err := x509.ParsePKCS1PrivateKey(der); err == nil {
		return k, nil
	}
	if k, err := x509.ParseECPrivateKey(der); err == nil {
		return k, nil
	}
	return nil, status.Errorf(status.CodeBadKey, "unrecognized private key encoding")
}

// DefaultSign signs in.Digest with the key in in.KeyDER. RSA keys use
// PKCS#1 v1.5 and ECDSA keys produce an ASN.1 signature.
func DefaultSign(in *SignInput) ([]byte, error) {
	key, err := ParsePrivateKeyDER(in.KeyDER)
	if err != nil {
		return nil, status.Errorf(status.CodeSignFailure, "sign: %w", err)
	}
	var sig []byte
	switch k := key.(type) {
	case *rsa.PrivateKey:
		sig, err = rsa.SignPKCS1v15(rand.Reader, k, in.Hash, in.Digest)
	case *ecdsa.PrivateKey:
		sig, err = ecdsa.SignASN1(rand.Reader, k, in.Digest)
	default:
		return nil, status.Errorf(status.CodeSignFailure, "unsupported key type %T", key)
	}
	if err != nil {
		return nil, status.Wrap(status.CodeSignFailure, err)
	}
	return sig, nil
}

// DefaultVerify checks in.Signature against the public key in
// in.PublicKeyDER.
func DefaultVerify(in *VerifyInput) error {
	pub, err := x509.ParsePKIXPublicKey(in.PublicKeyDER)
	if err != nil {
		return status.Wrap(status.CodeBadSignature, err)
	}
	switch k := pub.(type) {
	case *rsa.PublicKey:
		if err := rsa.VerifyPKCS1v15(k, in.Hash, in.Digest, in.Signature); err != nil {
			return status.Wrap(status.CodeBadSignature, err)
		}
	case *ecdsa.PublicKey:
		if !ecdsa.VerifyASN1(k, in.Digest, in.Signature) {
			return status.Wrap(status.CodeBadSignature, errors.New("ecdsa verification failed"))
		}
	default:
		return status.Errorf(status.CodeBadSignature, "unsupported public key type %T", pub)
	}
	return nil
}

// DefaultEncrypt encrypts in.Plaintext to the RSA key in in.PublicKeyDER.
func DefaultEncrypt(in *EncryptInput) ([]byte, error) {
	pub, err := x509.ParsePKIXPublicKey(in.PublicKeyDER)
	if err != nil {
		return nil, status.Wrap(status.CodeKeyExchangeFailure, err)
	}
	k, ok := pub.(*rsa.PublicKey)
	if !ok {
		return nil, status.Errorf(status.CodeKeyExchangeFailure, "RSA key exchange needs an RSA key, got %T", pub)
	}
	out, err := rsa.EncryptPKCS1v15(rand.Reader, k, in.Plaintext)
	if err != nil {
		return nil, status.Wrap(status.CodeKeyExchangeFailure, err)
	}
	return out, nil
}

// DefaultDecrypt decrypts in.Ciphertext with the RSA key in in.KeyDER.
func DefaultDecrypt(in *DecryptInput) ([]byte, error) {
	key, err := ParsePrivateKeyDER(in.KeyDER)
	if err != nil {
		return nil, status.Errorf(status.CodeKeyExchangeFailure, "decrypt: %w", err)
	}
	k, ok := key.(*rsa.PrivateKey)
	if !ok {
		return nil, status.Errorf(status.CodeKeyExchangeFailure, "RSA key exchange needs an RSA key, got %T", key)
	}
	out, err := rsa.DecryptPKCS1v15(rand.Reader, k, in.Ciphertext)
	if err != nil {
		return nil, status.Wrap(status.CodeKeyExchangeFailure, err)
	}
	return out, nil
}
