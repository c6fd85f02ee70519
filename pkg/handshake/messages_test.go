package handshake

import (
	"bytes"
	"reflect"
	"testing"

	"github.com/sslkit/sslkit-go/pkg/version"
)

func testRandom(seed byte) []byte {
	r := make([]byte, RandomLen)
	for i := range r {
		r[i] = seed + byte(i)
	}
	return r
}

func TestClientHelloExtensions(t *testing.T) {
	in := &ClientHello{
		Version:             version.TLS12,
		Random:              testRandom(1),
		CipherSuites:        []uint16{0xc02f, 0x002f},
		CompressionMethods:  []uint8{0},
		ServerName:          "example.test",
		SupportedGroups:     DefaultCurves,
		PointFormats:        []uint8{0},
		SignatureSchemes:    DefaultSchemes,
		SecureRenegotiation: true,
	}

	var out ClientHello
	if !out.Unmarshal(in.Marshal()) {
		t.Fatal("Unmarshal failed")
	}
	if out.ServerName != "example.test" {
		t.Errorf("ServerName = %q", out.ServerName)
	}
	if !reflect.DeepEqual(out.CipherSuites, in.CipherSuites) {
		t.Errorf("CipherSuites = %v", out.CipherSuites)
	}
	if !reflect.DeepEqual(out.SupportedGroups, in.SupportedGroups) {
		t.Errorf("SupportedGroups = %v", out.SupportedGroups)
	}
	if !reflect.DeepEqual(out.SignatureSchemes, in.SignatureSchemes) {
		t.Errorf("SignatureSchemes = %v", out.SignatureSchemes)
	}
	if !out.SecureRenegotiation {
		t.Error("renegotiation_info not parsed")
	}
	if len(out.Cookie) != 0 {
		t.Error("TLS hello must not carry a cookie")
	}
}

func TestClientHelloDatagramCookie(t *testing.T) {
	in := &ClientHello{
		Version:            version.DTLS12,
		Random:             testRandom(7),
		Cookie:             []byte{0xde, 0xad, 0xbe, 0xef},
		CipherSuites:       []uint16{0xc02b},
		CompressionMethods: []uint8{0},
		Datagram:           true,
	}
	body := in.Marshal()

	out := ClientHello{Datagram: true}
	if !out.Unmarshal(body) {
		t.Fatal("Unmarshal failed")
	}
	if !bytes.Equal(out.Cookie, in.Cookie) {
		t.Errorf("Cookie = %x", out.Cookie)
	}

	// Parsed as TLS the cookie length byte shifts everything.
	tlsView := ClientHello{}
	if tlsView.Unmarshal(body) && reflect.DeepEqual(tlsView.CipherSuites, in.CipherSuites) {
		t.Error("datagram layout must differ from stream layout")
	}
}

func TestClientHelloSkipsUnknownExtensions(t *testing.T) {
	in := &ClientHello{
		Version:            version.TLS12,
		Random:             testRandom(2),
		CipherSuites:       []uint16{0x002f},
		CompressionMethods: []uint8{0},
	}
	body := in.Marshal()
	// Append an extensions block with an unknown type 0x1234.
	body = append(body, 0x00, 0x06, 0x12, 0x34, 0x00, 0x02, 0xaa, 0xbb)

	var out ClientHello
	if !out.Unmarshal(body) {
		t.Fatal("unknown extension rejected")
	}
}

func TestClientHelloTruncated(t *testing.T) {
	in := &ClientHello{
		Version:            version.TLS10,
		Random:             testRandom(3),
		CipherSuites:       []uint16{0x002f},
		CompressionMethods: []uint8{0},
	}
	body := in.Marshal()
	for i := 0; i < len(body)-1; i++ {
		var out ClientHello
		if out.Unmarshal(body[:i]) {
			t.Fatalf("truncated body of %d bytes accepted", i)
		}
	}
}

func TestServerHello(t *testing.T) {
	in := &ServerHello{
		Version:             version.TLS12,
		Random:              testRandom(9),
		SessionID:           []byte{1, 2, 3},
		CipherSuite:         0xc030,
		PointFormats:        []uint8{0},
		SecureRenegotiation: true,
	}
	var out ServerHello
	if !out.Unmarshal(in.Marshal()) {
		t.Fatal("Unmarshal failed")
	}
	if !reflect.DeepEqual(&out, in) {
		t.Errorf("got %+v, want %+v", out, *in)
	}
}

func TestCertificateChain(t *testing.T) {
	in := &Certificate{Chain: [][]byte{{1, 2, 3}, {4, 5}}}
	var out Certificate
	if !out.Unmarshal(in.Marshal()) {
		t.Fatal("Unmarshal failed")
	}
	if !reflect.DeepEqual(out.Chain, in.Chain) {
		t.Errorf("Chain = %v", out.Chain)
	}

	var empty Certificate
	if !empty.Unmarshal((&Certificate{}).Marshal()) || len(empty.Chain) != 0 {
		t.Error("empty certificate list should parse")
	}
}

func TestServerKeyExchangeLayouts(t *testing.T) {
	in := &ServerKeyExchange{
		Curve:     CurveP256,
		PublicKey: bytes.Repeat([]byte{4}, 65),
		Scheme:    ECDSAWithP256AndSHA256,
		Signature: []byte{9, 9, 9},
		HasScheme: true,
	}
	body := in.Marshal()
	if !bytes.HasPrefix(body, in.Params()) {
		t.Fatal("body must start with signed params")
	}
	if body[0] != 3 || body[1] != 0 || body[2] != 23 || body[3] != 65 {
		t.Errorf("params header = %x", body[:4])
	}

	out := ServerKeyExchange{HasScheme: true}
	if !out.Unmarshal(body) {
		t.Fatal("Unmarshal failed")
	}
	if out.Scheme != in.Scheme || !bytes.Equal(out.Signature, in.Signature) {
		t.Errorf("got %+v", out)
	}

	legacy := *in
	legacy.HasScheme = false
	lb := legacy.Marshal()
	if len(lb) != len(body)-2 {
		t.Errorf("legacy layout length = %d, want %d", len(lb), len(body)-2)
	}
}

func TestCertificateRequest(t *testing.T) {
	in := &CertificateRequest{
		CertificateTypes: []uint8{CertTypeRSASign, CertTypeECDSASign},
		SignatureSchemes: []SignatureScheme{PKCS1WithSHA256},
		Authorities:      [][]byte{[]byte("dn")},
		HasSchemes:       true,
	}
	out := CertificateRequest{HasSchemes: true}
	if !out.Unmarshal(in.Marshal()) {
		t.Fatal("Unmarshal failed")
	}
	if !reflect.DeepEqual(&out, in) {
		t.Errorf("got %+v", out)
	}
}

func TestClientKeyExchangePrefixes(t *testing.T) {
	rsaKX := (&ClientKeyExchange{Data: make([]byte, 256)}).Marshal()
	if rsaKX[0] != 1 || rsaKX[1] != 0 {
		t.Errorf("RSA prefix = %x", rsaKX[:2])
	}
	ecKX := (&ClientKeyExchange{Data: make([]byte, 32), ECDHE: true}).Marshal()
	if ecKX[0] != 32 || len(ecKX) != 33 {
		t.Errorf("ECDHE prefix = %x", ecKX[:1])
	}

	out := ClientKeyExchange{ECDHE: true}
	if !out.Unmarshal(ecKX) || len(out.Data) != 32 {
		t.Error("ECDHE Unmarshal failed")
	}
}

func TestCertificateVerifyAndHVR(t *testing.T) {
	cv := &CertificateVerify{Scheme: PKCS1WithSHA1, Signature: []byte{1}, HasScheme: true}
	out := CertificateVerify{HasScheme: true}
	if !out.Unmarshal(cv.Marshal()) || out.Scheme != PKCS1WithSHA1 {
		t.Errorf("CertificateVerify = %+v", out)
	}

	hvr := &HelloVerifyRequest{Version: version.DTLS10, Cookie: []byte("cookie")}
	var hout HelloVerifyRequest
	if !hout.Unmarshal(hvr.Marshal()) || string(hout.Cookie) != "cookie" {
		t.Errorf("HelloVerifyRequest = %+v", hout)
	}
}

func TestTypeNames(t *testing.T) {
	if TypeClientHello.String() != "ClientHello" || TypeFinished.String() != "Finished" {
		t.Error("unexpected names")
	}
	if Type(99).String() != "Handshake(99)" {
		t.Errorf("unknown = %s", Type(99))
	}
}
