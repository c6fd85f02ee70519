package callback

import (
	"crypto"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sslkit/sslkit-go/pkg/log"
	"github.com/sslkit/sslkit-go/pkg/status"
)

type testHandle string

func (h testHandle) ID() string { return string(h) }

func TestRegistryRegisterOverwrites(t *testing.T) {
	r := NewRegistry()
	calls := 0
	r.Register(IOSendFunc(func(Handle, any, []byte) (int, error) { calls = 1; return 0, nil }))
	r.Register(IOSendFunc(func(Handle, any, []byte) (int, error) { calls = 2; return 0, nil }))

	send := r.IOSend()
	require.NotNil(t, send)
	_, _ = send(testHandle("s"), nil, nil)
	assert.Equal(t, 2, calls)
	assert.Equal(t, []Kind{KindIOSend}, r.Registered())

	r.Register(IOSendFunc(nil))
	assert.False(t, r.Has(KindIOSend), "nil function clears the slot")
	assert.Nil(t, r.IOSend())
}

func TestRegistryValidatePairs(t *testing.T) {
	tests := []struct {
		name  string
		kinds []Callback
		ok    bool
	}{
		{"empty", nil, true},
		{"io pair", []Callback{
			IOSendFunc(func(Handle, any, []byte) (int, error) { return 0, nil }),
			IORecvFunc(func(Handle, any, []byte) (int, error) { return 0, nil }),
		}, true},
		{"send only", []Callback{
			IOSendFunc(func(Handle, any, []byte) (int, error) { return 0, nil }),
		}, true},
		{"encrypt only", []Callback{
			MacEncryptFunc(func(Handle, any, *RecordInput) ([]byte, error) { return nil, nil }),
		}, false},
		{"decrypt only", []Callback{
			DecryptVerifyFunc(func(Handle, any, *RecordInput) ([]byte, error) { return nil, nil }),
		}, false},
		{"record pair with pk", []Callback{
			MacEncryptFunc(func(Handle, any, *RecordInput) ([]byte, error) { return nil, nil }),
			DecryptVerifyFunc(func(Handle, any, *RecordInput) ([]byte, error) { return nil, nil }),
			PKSignFunc(func(Handle, any, *SignInput) ([]byte, error) { return nil, nil }),
		}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := NewRegistry()
			for _, cb := range tt.kinds {
				r.Register(cb)
			}
			err := r.Validate()
			if tt.ok {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Equal(t, status.CodeCallbackPair, status.CodeOf(err))
			assert.Equal(t, status.KindConfig, status.KindOf(err))
		})
	}
}

func TestRegistrySnapshotIsIndependent(t *testing.T) {
	r := NewRegistry()
	r.Register(LogFunc(func(log.Severity, string) {}))
	snap := r.Snapshot()
	r.Unregister(KindLogging)

	assert.NotNil(t, snap.Logging())
	assert.Nil(t, r.Logging())
}

func TestKindNames(t *testing.T) {
	for _, k := range Kinds {
		parsed, ok := ParseKind(k.String())
		require.True(t, ok, k.String())
		assert.Equal(t, k, parsed)
	}
	assert.Equal(t, "Kind(99)", Kind(99).String())
	assert.Equal(t, KindMissingCRL, MissingCRLFunc(nil).Kind())
}

type closer struct {
	closed int
	err    error
}

func (c *closer) Close() error {
	c.closed++
	return c.err
}

func TestContextsRelease(t *testing.T) {
	var c Contexts
	shared := &closer{}
	failing := &closer{err: errors.New("boom")}
	c.Set(KindIOSend, shared)
	c.Set(KindIORecv, shared)
	c.Set(KindPKSign, failing)
	c.Set(KindLogging, "not a closer")

	assert.Equal(t, shared, c.Get(KindIORecv))

	err := c.Release()
	assert.ErrorContains(t, err, "boom")
	assert.Equal(t, 1, shared.closed)
	assert.Equal(t, 1, failing.closed)
	assert.Nil(t, c.Get(KindIOSend))

	assert.NoError(t, c.Release(), "second release is a no-op")
}

func TestDefaultSignVerifyRSA(t *testing.T) {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	keyDER, err := x509.MarshalPKCS8PrivateKey(key)
	require.NoError(t, err)
	pubDER, err := x509.MarshalPKIXPublicKey(&key.PublicKey)
	require.NoError(t, err)

	digest := sha256.Sum256([]byte("transcript"))
	sig, err := DefaultSign(&SignInput{Hash: crypto.SHA256, Digest: digest[:], KeyDER: keyDER})
	require.NoError(t, err)

	in := &VerifyInput{Hash: crypto.SHA256, Digest: digest[:], Signature: sig, PublicKeyDER: pubDER}
	require.NoError(t, DefaultVerify(in))

	in.Signature = append([]byte(nil), sig...)
	in.Signature[0] ^= 0xff
	err = DefaultVerify(in)
	assert.Equal(t, status.CodeBadSignature, status.CodeOf(err))
}

func TestDefaultSignVerifyECDSA(t *testing.T) {
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)
	keyDER, err := x509.MarshalECPrivateKey(key)
	require.NoError(t, err)
	pubDER, err := x509.MarshalPKIXPublicKey(&key.PublicKey)
	require.NoError(t, err)

	digest := sha256.Sum256([]byte("params"))
	sig, err := DefaultSign(&SignInput{Hash: crypto.SHA256, Digest: digest[:], KeyDER: keyDER})
	require.NoError(t, err)
	assert.NoError(t, DefaultVerify(&VerifyInput{Hash: crypto.SHA256, Digest: digest[:], Signature: sig, PublicKeyDER: pubDER}))
}

func TestDefaultEncryptDecrypt(t *testing.T) {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	keyDER := x509.MarshalPKCS1PrivateKey(key)
	pubDER, err := x509.MarshalPKIXPublicKey(&key.PublicKey)
	require.NoError(t, err)

	premaster := make([]byte, 48)
	premaster[0], premaster[1] = 3, 3
	ct, err := DefaultEncrypt(&EncryptInput{Plaintext: premaster, PublicKeyDER: pubDER})
	require.NoError(t, err)

	pt, err := DefaultDecrypt(&DecryptInput{Ciphertext: ct, KeyDER: keyDER})
	require.NoError(t, err)
	assert.Equal(t, premaster, pt)
}

func TestDefaultOperationsRejectBadKeys(t *testing.T) {
	_, err := DefaultSign(&SignInput{Hash: crypto.SHA256, Digest: make([]byte, 32)})
	assert.Equal(t, status.CodeSignFailure, status.CodeOf(err))

	ek, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)
	pubDER, err := x509.MarshalPKIXPublicKey(&ek.PublicKey)
	require.NoError(t, err)
	_, err = DefaultEncrypt(&EncryptInput{Plaintext: []byte("x"), PublicKeyDER: pubDER})
	assert.Equal(t, status.CodeKeyExchangeFailure, status.CodeOf(err))

	_, err = DefaultDecrypt(&DecryptInput{Ciphertext: []byte("x"), KeyDER: []byte("junk")})
	assert.Equal(t, status.CodeKeyExchangeFailure, status.CodeOf(err))
}
