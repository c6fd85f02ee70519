package record

import (
	"bytes"
	"crypto/rand"
	"errors"
	"testing"

	"github.com/sslkit/sslkit-go/pkg/ciphersuite"
	"github.com/sslkit/sslkit-go/pkg/status"
	"github.com/sslkit/sslkit-go/pkg/version"
)

func TestHeaderRoundTripTLS(t *testing.T) {
	h := Header{Type: TypeHandshake, Version: version.TLS12}
	b := h.AppendHeader(nil, 300)
	if !bytes.Equal(b, []byte{22, 3, 3, 1, 44}) {
		t.Fatalf("header bytes = %x", b)
	}

	got, n, err := ParseHeader(b, false)
	if err != nil || n != TLSHeaderLen {
		t.Fatalf("ParseHeader: n=%d err=%v", n, err)
	}
	if got.Type != TypeHandshake || got.Version != version.TLS12 || got.Length != 300 {
		t.Errorf("parsed %+v", got)
	}
}

func TestHeaderRoundTripDTLS(t *testing.T) {
	h := Header{Type: TypeApplicationData, Version: version.DTLS12, Epoch: 1, Seq: 0x0102030405}
	b := h.AppendHeader(nil, 64)
	if len(b) != DTLSHeaderLen {
		t.Fatalf("len = %d", len(b))
	}

	got, n, err := ParseHeader(b, true)
	if err != nil || n != DTLSHeaderLen {
		t.Fatalf("ParseHeader: n=%d err=%v", n, err)
	}
	if got.Epoch != 1 || got.Seq != 0x0102030405 || got.Length != 64 {
		t.Errorf("parsed %+v", got)
	}
	seq := got.Sequence()
	if !bytes.Equal(seq[:], []byte{0, 1, 0, 1, 2, 3, 4, 5}) {
		t.Errorf("Sequence = %x", seq)
	}
}

func TestParseHeaderShortAndInvalid(t *testing.T) {
	if _, n, err := ParseHeader([]byte{22, 3}, false); n != 0 || err != nil {
		t.Errorf("short input: n=%d err=%v", n, err)
	}
	if _, _, err := ParseHeader([]byte{99, 3, 3, 0, 1}, false); !errors.Is(err, status.CodeUnexpectedMessage) {
		t.Errorf("bad type: err=%v", err)
	}
	if _, _, err := ParseHeader([]byte{23, 3, 3, 0xff, 0xff}, false); !errors.Is(err, status.CodeRecordOverflow) {
		t.Errorf("oversize: err=%v", err)
	}
}

func testKeys(t *testing.T, suite *ciphersuite.Suite) Keys {
	t.Helper()
	k := Keys{
		MACKey: make([]byte, suite.MACLen()),
		Key:    make([]byte, suite.KeyLen),
		IV:     make([]byte, suite.IVLen()),
	}
	for _, b := range [][]byte{k.MACKey, k.Key, k.IV} {
		rand.Read(b)
	}
	return k
}

func TestProtectorRoundTrip(t *testing.T) {
	tests := []struct {
		suite string
		ver   version.Version
	}{
		{"AES128-SHA", version.TLS10},
		{"AES128-SHA", version.TLS11},
		{"AES256-SHA256", version.TLS12},
		{"ECDHE-RSA-AES256-SHA384", version.TLS12},
		{"ECDHE-RSA-AES128-GCM-SHA256", version.TLS12},
		{"ECDHE-ECDSA-AES256-GCM-SHA384", version.DTLS12},
		{"AES128-SHA", version.DTLS10},
	}

	for _, tt := range tests {
		t.Run(tt.suite+"/"+tt.ver.String(), func(t *testing.T) {
			suite := ciphersuite.ByName(tt.suite)
			keys := testKeys(t, suite)
			sealer, err := NewProtector(suite, tt.ver, keys, true)
			if err != nil {
				t.Fatalf("NewProtector(seal): %v", err)
			}
			opener, err := NewProtector(suite, tt.ver, keys, false)
			if err != nil {
				t.Fatalf("NewProtector(open): %v", err)
			}

			for seq, msg := range []string{"hello from sslkit", "", "a longer message that spans several AES blocks of data"} {
				h := Header{Type: TypeApplicationData, Version: tt.ver, Epoch: 1, Seq: uint64(seq), Length: len(msg)}
				frag, err := sealer.Seal(h, []byte(msg))
				if err != nil {
					t.Fatalf("Seal: %v", err)
				}
				h.Length = len(frag)
				got, err := opener.Open(h, frag)
				if err != nil {
					t.Fatalf("Open record %d: %v", seq, err)
				}
				if string(got) != msg {
					t.Errorf("record %d = %q, want %q", seq, got, msg)
				}
			}
		})
	}
}

func TestProtectorDetectsTampering(t *testing.T) {
	for _, name := range []string{"AES128-SHA", "ECDHE-RSA-AES128-GCM-SHA256"} {
		t.Run(name, func(t *testing.T) {
			suite := ciphersuite.ByName(name)
			keys := testKeys(t, suite)
			sealer, _ := NewProtector(suite, version.TLS12, keys, true)
			opener, _ := NewProtector(suite, version.TLS12, keys, false)

			h := Header{Type: TypeApplicationData, Version: version.TLS12, Seq: 7, Length: 5}
			frag, _ := sealer.Seal(h, []byte("hello"))
			frag[len(frag)-1] ^= 0x01

			if _, err := opener.Open(h, frag); !errors.Is(err, status.CodeMacFailure) {
				t.Errorf("err = %v, want CodeMacFailure", err)
			}
		})
	}
}

func TestProtectorWrongSequence(t *testing.T) {
	suite := ciphersuite.ByName("AES128-SHA")
	keys := testKeys(t, suite)
	sealer, _ := NewProtector(suite, version.TLS12, keys, true)
	opener, _ := NewProtector(suite, version.TLS12, keys, false)

	h := Header{Type: TypeApplicationData, Version: version.TLS12, Seq: 1}
	frag, _ := sealer.Seal(h, []byte("payload"))
	h.Seq = 2
	if _, err := opener.Open(h, frag); !errors.Is(err, status.CodeMacFailure) {
		t.Errorf("err = %v, want CodeMacFailure", err)
	}
}

func TestGCMFragmentLayout(t *testing.T) {
	suite := ciphersuite.ByName("ECDHE-RSA-AES128-GCM-SHA256")
	sealer, _ := NewProtector(suite, version.TLS12, testKeys(t, suite), true)

	h := Header{Type: TypeApplicationData, Version: version.TLS12, Seq: 0x0a0b}
	frag, _ := sealer.Seal(h, []byte("abc"))
	if len(frag) != 8+3+16 {
		t.Fatalf("fragment length = %d", len(frag))
	}
	if !bytes.Equal(frag[:8], []byte{0, 0, 0, 0, 0, 0, 0x0a, 0x0b}) {
		t.Errorf("explicit nonce = %x", frag[:8])
	}
}

func TestExtractPadding(t *testing.T) {
	good := []byte{1, 2, 3, 2, 2, 2}
	n, ok := extractPadding(good)
	if n != 3 || ok != 255 {
		t.Errorf("valid padding: n=%d ok=%d", n, ok)
	}
	bad := []byte{1, 2, 3, 1, 2, 2}
	if _, ok := extractPadding(bad); ok != 0 {
		t.Error("invalid padding accepted")
	}
}

func TestReplayWindow(t *testing.T) {
	var w ReplayWindow

	if !w.Check(0) {
		t.Fatal("first record rejected")
	}
	w.Accept(0)
	if w.Check(0) {
		t.Error("replay of 0 accepted")
	}

	w.Accept(5)
	if !w.Check(3) {
		t.Error("in-window unseen record rejected")
	}
	w.Accept(3)
	if w.Check(3) || w.Check(5) {
		t.Error("replays accepted")
	}

	w.Accept(100)
	if w.Check(30) {
		t.Error("record older than the window accepted")
	}
	if !w.Check(99) {
		t.Error("recent unseen record rejected")
	}

	w.Reset()
	if !w.Check(0) {
		t.Error("Reset did not clear state")
	}
}

func TestAlertString(t *testing.T) {
	if AlertBadRecordMAC.String() != "bad_record_mac" {
		t.Errorf("got %q", AlertBadRecordMAC.String())
	}
	if Alert(250).String() != "alert(250)" {
		t.Errorf("got %q", Alert(250).String())
	}
	if TypeHandshake.String() != "handshake" {
		t.Errorf("got %q", TypeHandshake.String())
	}
}
