package session

import (
	"crypto/tls"
	"crypto/x509"
	"io"
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"github.com/sslkit/sslkit-go/pkg/transport"
	"github.com/sslkit/sslkit-go/pkg/version"
)

// Go's TLS stack negotiates the ECDHE suites by default.
const interopSuites = "ECDHE-ECDSA-AES128-GCM-SHA256:ECDHE-ECDSA-AES256-GCM-SHA384:ECDHE-RSA-AES128-GCM-SHA256"

func loopback(t *testing.T) net.Listener {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { _ = ln.Close() })
	return ln
}

func TestInteropWithGoServer(t *testing.T) {
	f := newFixture(t)
	ln := loopback(t)

	pool := x509.NewCertPool()
	pool.AddCert(f.root.Cert)
	serverCfg := &tls.Config{
		Certificates: []tls.Certificate{{
			Certificate: [][]byte{f.ecdsa.Cert.Raw, f.ecdsa.Chain[1].Raw},
			PrivateKey:  f.ecdsa.Key,
		}},
		ClientAuth: tls.RequireAndVerifyClientCert,
		ClientCAs:  pool,
		MaxVersion: tls.VersionTLS12,
	}

	var g errgroup.Group
	g.Go(func() error {
		conn, err := ln.Accept()
		if err != nil {
			return err
		}
		defer conn.Close()
		tc := tls.Server(conn, serverCfg)
		if err := tc.Handshake(); err != nil {
			return err
		}
		buf := make([]byte, len(testMessage))
		if _, err := io.ReadFull(tc, buf); err != nil {
			return err
		}
		_, err = tc.Write(buf)
		return err
	})

	ctx := newTestContext(t, version.SSLv23Client)
	ctx.SetTrustStore(f.trust())
	require.NoError(t, ctx.SetCipherList(interopSuites))
	useLeaf(t, ctx, f.client)

	conn, err := net.Dial("tcp", ln.Addr().String())
	require.NoError(t, err)
	defer conn.Close()

	s := newTestSession(t, ctx)
	s.BindTransport(transport.NewStream(conn))
	s.SetServerName("localhost")
	require.NoError(t, s.Connect())
	assert.Equal(t, version.TLS12, s.Version())
	assert.Equal(t, "ECDHE-ECDSA-AES128-GCM-SHA256", s.CipherSuiteName())

	writeAll(t, s, []byte(testMessage))
	assert.Equal(t, testMessage, string(readAll(t, s, len(testMessage))))
	require.NoError(t, g.Wait())
}

func TestInteropWithGoClient(t *testing.T) {
	f := newFixture(t)
	ln := loopback(t)

	pool := x509.NewCertPool()
	pool.AddCert(f.root.Cert)
	clientCfg := &tls.Config{
		RootCAs:    pool,
		ServerName: "localhost",
		MaxVersion: tls.VersionTLS12,
	}

	var g errgroup.Group
	var got []byte
	g.Go(func() error {
		conn, err := net.Dial("tcp", ln.Addr().String())
		if err != nil {
			return err
		}
		tc := tls.Client(conn, clientCfg)
		defer tc.Close()
		if _, err := tc.Write([]byte(testMessage)); err != nil {
			return err
		}
		got = make([]byte, len(testMessage))
		_, err = io.ReadFull(tc, got)
		return err
	})

	ctx := newTestContext(t, version.TLSv1_2Server)
	require.NoError(t, ctx.SetCipherList(interopSuites))
	useLeaf(t, ctx, f.ecdsa)

	conn, err := ln.Accept()
	require.NoError(t, err)
	defer conn.Close()

	s := newTestSession(t, ctx)
	s.BindTransport(transport.NewStream(conn))
	require.NoError(t, s.Accept())
	assert.Equal(t, "localhost", s.ServerName())

	msg := readAll(t, s, len(testMessage))
	writeAll(t, s, msg)
	require.NoError(t, g.Wait())
	assert.Equal(t, testMessage, string(got))
}
