package revocation

import (
	"context"
	"encoding/pem"
	"math/big"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sslkit/sslkit-go/internal/testpki"
	"github.com/sslkit/sslkit-go/pkg/status"
)

func crlPEM(der []byte) []byte {
	return pem.EncodeToMemory(&pem.Block{Type: pemTypeCRL, Bytes: der})
}

func TestCRLStoreLoadDir(t *testing.T) {
	dir := t.TempDir()
	rootA := testpki.NewRootCA(t, "Root A", testpki.ECDSA)
	rootB := testpki.NewRootCA(t, "Root B", testpki.ECDSA)

	testpki.WriteFile(t, dir, "a.pem", crlPEM(rootA.CRL(t, []*big.Int{big.NewInt(7)}, time.Time{}, time.Time{})))
	testpki.WriteFile(t, dir, "b.crl", rootB.CRL(t, nil, time.Time{}, time.Time{}))
	testpki.WriteFile(t, dir, "notes.txt", []byte("ignored"))

	store := NewCRLStore()
	require.NoError(t, store.LoadDir(dir))
	assert.Equal(t, 2, store.Len())
	assert.Equal(t, dir, store.Dir())

	crl, ok := store.Lookup(rootA.Cert.RawSubject)
	require.True(t, ok)
	assert.True(t, Revoked(crl, big.NewInt(7)))
	assert.False(t, Revoked(crl, big.NewInt(8)))
}

func TestCRLStoreNewerWins(t *testing.T) {
	root := testpki.NewRootCA(t, "Root", testpki.ECDSA)
	store := NewCRLStore()

	older := ParseCRLs(root.CRL(t, []*big.Int{big.NewInt(1)}, time.Now().Add(-2*time.Hour), time.Time{}))
	newer := ParseCRLs(root.CRL(t, nil, time.Now().Add(-time.Minute), time.Time{}))
	require.Len(t, older, 1)
	require.Len(t, newer, 1)

	store.Add(newer[0])
	store.Add(older[0])

	crl, ok := store.Lookup(root.Cert.RawSubject)
	require.True(t, ok)
	assert.False(t, Revoked(crl, big.NewInt(1)), "older CRL must not replace a newer one")
}

func TestCRLStoreBadDir(t *testing.T) {
	store := NewCRLStore()
	err := store.LoadDir(filepath.Join(t.TempDir(), "missing"))
	assert.Equal(t, status.CodeBadCRLDir, status.CodeOf(err))
	assert.Equal(t, status.KindConfig, status.KindOf(err))

	assert.Equal(t, status.CodeBadCRLDir, status.CodeOf(store.Reload()))
}

func TestCRLStoreWatchReloads(t *testing.T) {
	dir := t.TempDir()
	root := testpki.NewRootCA(t, "Root", testpki.ECDSA)

	store := NewCRLStore()
	require.NoError(t, store.LoadDir(dir))
	require.Equal(t, 0, store.Len())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		store.Watch(ctx, 50*time.Millisecond)
	}()

	testpki.WriteFile(t, dir, "root.pem", crlPEM(root.CRL(t, nil, time.Time{}, time.Time{})))

	assert.Eventually(t, func() bool { return store.Len() == 1 }, 5*time.Second, 20*time.Millisecond)

	cancel()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Watch did not stop")
	}
}

func TestOptionsString(t *testing.T) {
	assert.Equal(t, "none", Options(0).String())
	assert.Equal(t, "crl-check-all|ocsp-fail-open", (CRLCheckAll | OCSPFailOpen).String())
	assert.True(t, (OCSPNoNonce | OCSPCheckAll).Has(OCSPNoNonce))
}
