package session

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/sslkit/sslkit-go/internal/testpki"
	"github.com/sslkit/sslkit-go/pkg/cert"
	"github.com/sslkit/sslkit-go/pkg/log"
	"github.com/sslkit/sslkit-go/pkg/status"
	"github.com/sslkit/sslkit-go/pkg/transport"
	"github.com/sslkit/sslkit-go/pkg/version"
)

// testMessage is the payload echoed by the round-trip tests.
const testMessage = "hello from sslkit"

type fixture struct {
	root   *testpki.CA
	inter  *testpki.CA
	rsa    *testpki.Leaf
	ecdsa  *testpki.Leaf
	client *testpki.Leaf
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	root := testpki.NewRootCA(t, "sslkit test root", testpki.ECDSA)
	inter := root.Intermediate(t, "sslkit test intermediate", testpki.ECDSA)
	return &fixture{
		root:   root,
		inter:  inter,
		rsa:    inter.Issue(t, testpki.LeafOptions{CommonName: "localhost", DNSNames: []string{"localhost"}, Alg: testpki.RSA}),
		ecdsa:  inter.Issue(t, testpki.LeafOptions{CommonName: "localhost", DNSNames: []string{"localhost"}, Alg: testpki.ECDSA}),
		client: inter.Issue(t, testpki.LeafOptions{CommonName: "client", Alg: testpki.ECDSA}),
	}
}

func (f *fixture) trust() *cert.TrustStore {
	store := cert.NewTrustStore()
	store.Add(f.root.Cert)
	return store
}

func newTestContext(t *testing.T, method version.Method, opts ...Option) *Context {
	t.Helper()
	ctx, err := NewContext(method, opts...)
	require.NoError(t, err)
	return ctx
}

func useLeaf(t *testing.T, ctx *Context, leaf *testpki.Leaf) {
	t.Helper()
	require.NoError(t, ctx.UseCertificateChainBytes(testpki.ChainPEM(leaf.Chain...), cert.FormatPEM))
	require.NoError(t, ctx.UsePrivateKeyBytes(testpki.KeyPEM(t, leaf.Key), cert.FormatPEM))
}

func newTestSession(t *testing.T, ctx *Context) *Session {
	t.Helper()
	s, err := ctx.NewSession()
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Destroy() })
	return s
}

// connectedPair creates a client and a server Session joined by an
// in-memory pipe.
func connectedPair(t *testing.T, clientCtx, serverCtx *Context) (*Session, *Session, *transport.PipeEnd, *transport.PipeEnd) {
	t.Helper()
	client := newTestSession(t, clientCtx)
	server := newTestSession(t, serverCtx)
	a, b := transport.NewPipe(clientCtx.Method().Datagram())
	client.BindTransport(a)
	server.BindTransport(b)
	return client, server, a, b
}

func settled(s *Session, err error) bool {
	return s.State() == StateEstablished || (err != nil && !status.IsWouldBlock(err))
}

// runHandshake alternates Connect and Accept until both sides settle. Once
// one side fails the other gets a few more turns to read the alert.
func runHandshake(t *testing.T, client, server *Session) (clientErr, serverErr error) {
	t.Helper()
	grace := -1
	for i := 0; i < 1000; i++ {
		if client.State() != StateEstablished {
			clientErr = client.Connect()
		}
		if server.State() != StateEstablished {
			serverErr = server.Accept()
		}
		if settled(client, clientErr) && settled(server, serverErr) {
			return clientErr, serverErr
		}
		if grace < 0 && (settled(client, clientErr) || settled(server, serverErr)) &&
			(client.State() == StateErrored || server.State() == StateErrored) {
			grace = 5
		}
		if grace == 0 {
			return clientErr, serverErr
		}
		if grace > 0 {
			grace--
		}
	}
	t.Fatalf("handshake did not settle: client=%v server=%v", clientErr, serverErr)
	return nil, nil
}

func mustHandshake(t *testing.T, client, server *Session) {
	t.Helper()
	cerr, serr := runHandshake(t, client, server)
	require.NoError(t, cerr)
	require.NoError(t, serr)
	require.Equal(t, StateEstablished, client.State())
	require.Equal(t, StateEstablished, server.State())
}

// readAll reads from s until n bytes arrived, giving writer turns to flush.
func readAll(t *testing.T, s *Session, n int) []byte {
	t.Helper()
	var out []byte
	buf := make([]byte, 4096)
	for i := 0; len(out) < n && i < 1000; i++ {
		k, err := s.Read(buf)
		if err != nil {
			require.True(t, status.IsWouldBlock(err), "read: %v", err)
			continue
		}
		out = append(out, buf[:k]...)
	}
	require.Len(t, out, n)
	return out
}

func writeAll(t *testing.T, s *Session, p []byte) {
	t.Helper()
	for i := 0; len(p) > 0 && i < 1000; i++ {
		n, err := s.Write(p)
		if err != nil {
			require.True(t, status.IsWouldBlock(err), "write: %v", err)
			continue
		}
		p = p[n:]
	}
	require.Empty(t, p)
}

// eventRecorder is a log.Logger that keeps every event.
type eventRecorder struct {
	mu     sync.Mutex
	events []log.Event
}

func (r *eventRecorder) Log(e log.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

func (r *eventRecorder) handshakes(name string) []log.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []log.Event
	for _, e := range r.events {
		if e.Handshake != nil && e.Handshake.Name == name {
			out = append(out, e)
		}
	}
	return out
}

func (r *eventRecorder) retransmits() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, e := range r.events {
		if e.Handshake != nil && e.Handshake.Retransmit {
			n++
		}
	}
	return n
}
