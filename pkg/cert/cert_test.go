package cert

import (
	"crypto/x509"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/sslkit/sslkit-go/internal/testpki"
	"github.com/sslkit/sslkit-go/pkg/status"
)

func TestParseFormat(t *testing.T) {
	tests := []struct {
		in   string
		want Format
		ok   bool
	}{
		{"pem", FormatPEM, true},
		{" DER ", FormatDER, true},
		{"asn1", FormatDER, true},
		{"p12", 0, false},
	}
	for _, tt := range tests {
		got, ok := ParseFormat(tt.in)
		if got != tt.want || ok != tt.ok {
			t.Errorf("ParseFormat(%q) = %v, %v", tt.in, got, ok)
		}
	}
}

func TestLoadChainAndKey(t *testing.T) {
	dir := t.TempDir()
	root := testpki.NewRootCA(t, "Root", testpki.ECDSA)
	inter := root.Intermediate(t, "Intermediate", testpki.ECDSA)
	leaf := inter.Issue(t, testpki.LeafOptions{CommonName: "server", DNSNames: []string{"server.test"}})
	files := testpki.WriteLeaf(t, dir, "server", leaf, root)

	chain, err := LoadChain(files.Chain, FormatPEM)
	if err != nil {
		t.Fatalf("LoadChain: %v", err)
	}
	if len(chain) != 2 || chain.Leaf().Subject.CommonName != "server" {
		t.Fatalf("chain = %d certs, leaf %q", len(chain), chain.Leaf().Subject.CommonName)
	}

	key, err := LoadKey(files.Key, FormatPEM)
	if err != nil {
		t.Fatalf("LoadKey: %v", err)
	}
	if err := MatchKey(chain.Leaf(), key); err != nil {
		t.Errorf("MatchKey: %v", err)
	}

	other := testpki.GenerateKey(t, testpki.ECDSA)
	otherKey, err := ParseKey(testpki.KeyPEM(t, other), FormatPEM)
	if err != nil {
		t.Fatal(err)
	}
	if err := MatchKey(chain.Leaf(), otherKey); status.CodeOf(err) != status.CodeKeyMismatch {
		t.Errorf("mismatch = %v", err)
	}
}

func TestLoadDER(t *testing.T) {
	dir := t.TempDir()
	leaf := testpki.SelfSigned(t, testpki.LeafOptions{Alg: testpki.RSA})
	certPath := testpki.WriteFile(t, dir, "leaf.der", leaf.Cert.Raw)
	keyPath := testpki.WriteFile(t, dir, "leaf.key.der", testpki.KeyDER(t, leaf.Key))

	chain, err := LoadChain(certPath, FormatDER)
	if err != nil {
		t.Fatalf("LoadChain: %v", err)
	}
	key, err := LoadKey(keyPath, FormatDER)
	if err != nil {
		t.Fatalf("LoadKey: %v", err)
	}
	if err := MatchKey(chain.Leaf(), key); err != nil {
		t.Errorf("MatchKey: %v", err)
	}
	if _, err := x509.ParsePKCS8PrivateKey(key.DER); err != nil {
		t.Errorf("Key.DER is not PKCS#8: %v", err)
	}
}

func TestLoadErrors(t *testing.T) {
	dir := t.TempDir()
	garbage := testpki.WriteFile(t, dir, "garbage.pem", []byte("not a certificate"))

	tests := []struct {
		name string
		err  error
		want status.Code
	}{
		{"missing chain", second(LoadChain(filepath.Join(dir, "nope.pem"), FormatPEM)), status.CodeBadFile},
		{"bad format", second(LoadChain(garbage, Format(9))), status.CodeBadFileType},
		{"malformed chain", second(LoadChain(garbage, FormatPEM)), status.CodeBadCertificate},
		{"malformed DER", second(LoadChain(garbage, FormatDER)), status.CodeBadCertificate},
		{"missing key", secondKey(LoadKey(filepath.Join(dir, "nope.key"), FormatPEM)), status.CodeBadFile},
		{"malformed key", secondKey(LoadKey(garbage, FormatPEM)), status.CodeBadKey},
		{"malformed DER key", secondKey(LoadKey(garbage, FormatDER)), status.CodeBadKey},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := status.CodeOf(tt.err); got != tt.want {
				t.Errorf("code = %v (%v), want %v", got, tt.err, tt.want)
			}
			if status.KindOf(tt.err) != status.KindConfig {
				t.Errorf("kind = %v", status.KindOf(tt.err))
			}
		})
	}
}

func second(_ Chain, err error) error  { return err }
func secondKey(_ *Key, err error) error { return err }

func TestLoadTrustAnchors(t *testing.T) {
	dir := t.TempDir()
	rootA := testpki.NewRootCA(t, "Root A", testpki.ECDSA)
	rootB := testpki.NewRootCA(t, "Root B", testpki.RSA)
	bundle := testpki.WriteFile(t, dir, "bundle.pem", testpki.ChainPEM(rootA.Cert))

	caDir := filepath.Join(dir, "cas")
	if err := os.Mkdir(caDir, 0o700); err != nil {
		t.Fatal(err)
	}
	testpki.WriteFile(t, caDir, "b.der", rootB.Cert.Raw)
	testpki.WriteFile(t, caDir, "README", []byte("ignored"))

	store, err := LoadTrustAnchors(bundle, caDir)
	if err != nil {
		t.Fatalf("LoadTrustAnchors: %v", err)
	}
	if store.Len() != 2 {
		t.Errorf("Len = %d, want 2", store.Len())
	}

	if _, err := LoadTrustAnchors("", ""); status.CodeOf(err) != status.CodeBadParameter {
		t.Errorf("empty args = %v", err)
	}
	emptyDir := t.TempDir()
	if _, err := LoadTrustAnchors("", emptyDir); status.CodeOf(err) != status.CodeNoTrustAnchors {
		t.Errorf("empty dir = %v", err)
	}
	if _, err := LoadTrustAnchors(filepath.Join(dir, "missing.pem"), ""); status.CodeOf(err) != status.CodeBadFile {
		t.Errorf("missing file = %v", err)
	}
}

func TestVerifyChain(t *testing.T) {
	root := testpki.NewRootCA(t, "Root", testpki.ECDSA)
	inter := root.Intermediate(t, "Intermediate", testpki.ECDSA)
	leaf := inter.Issue(t, testpki.LeafOptions{CommonName: "server", DNSNames: []string{"server.test"}})
	store := NewTrustStore()
	store.Add(root.Cert)

	t.Run("valid", func(t *testing.T) {
		chains, err := VerifyChain(leaf.Chain, VerifyOptions{Roots: store, ServerName: "server.test"})
		if err != nil {
			t.Fatalf("VerifyChain: %v", err)
		}
		if len(chains[0]) != 3 {
			t.Errorf("chain length = %d", len(chains[0]))
		}
	})

	t.Run("missing intermediate", func(t *testing.T) {
		_, err := VerifyChain(Chain{leaf.Cert}, VerifyOptions{Roots: store})
		if status.CodeOf(err) != status.CodeUntrustedIssuer {
			t.Errorf("err = %v", err)
		}
	})

	t.Run("hostname", func(t *testing.T) {
		_, err := VerifyChain(leaf.Chain, VerifyOptions{Roots: store, ServerName: "other.test"})
		if status.CodeOf(err) != status.CodeHostnameMismatch {
			t.Errorf("err = %v", err)
		}
	})

	t.Run("expired", func(t *testing.T) {
		old := root.Issue(t, testpki.LeafOptions{
			NotBefore: time.Now().Add(-48 * time.Hour),
			NotAfter:  time.Now().Add(-24 * time.Hour),
		})
		_, err := VerifyChain(old.Chain, VerifyOptions{Roots: store})
		if status.CodeOf(err) != status.CodeCertExpired {
			t.Errorf("err = %v", err)
		}
	})

	t.Run("self-signed", func(t *testing.T) {
		self := testpki.SelfSigned(t, testpki.LeafOptions{})
		_, err := VerifyChain(self.Chain, VerifyOptions{Roots: store})
		if status.KindOf(err) != status.KindHandshake {
			t.Errorf("kind = %v (%v)", status.KindOf(err), err)
		}
	})

	t.Run("no certificate", func(t *testing.T) {
		_, err := VerifyChain(nil, VerifyOptions{Roots: store})
		if status.CodeOf(err) != status.CodeNoPeerCert {
			t.Errorf("err = %v", err)
		}
	})
}

func TestPeerInfoAltNames(t *testing.T) {
	root := testpki.NewRootCA(t, "Root", testpki.ECDSA)
	leaf := root.Issue(t, testpki.LeafOptions{
		CommonName: "peer",
		DNSNames:   []string{"a.test", "b.test"},
		IPs:        []net.IP{net.ParseIP("127.0.0.1")},
	})

	info := NewPeerInfo(leaf.Cert)
	if info.Subject == "" || info.Issuer == "" {
		t.Fatalf("info = %+v", info)
	}

	want := []string{"a.test", "b.test", "127.0.0.1"}
	for round := 0; round < 2; round++ {
		var got []string
		for n := info.NextAltName(); n != ""; n = info.NextAltName() {
			got = append(got, n)
		}
		if len(got) != len(want) {
			t.Fatalf("round %d: got %v, want %v", round, got, want)
		}
		for i := range want {
			if got[i] != want[i] {
				t.Errorf("round %d: name %d = %q, want %q", round, i, got[i], want[i])
			}
		}
	}

	var seq []string
	for n := range info.AltNames() {
		seq = append(seq, n)
		break
	}
	if len(seq) != 1 || seq[0] != "a.test" {
		t.Errorf("AltNames = %v", seq)
	}

	if NewPeerInfo(nil) != nil {
		t.Error("NewPeerInfo(nil) should be nil")
	}
}
