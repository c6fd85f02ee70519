package session

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sslkit/sslkit-go/pkg/callback"
	"github.com/sslkit/sslkit-go/pkg/log"
	"github.com/sslkit/sslkit-go/pkg/record"
	"github.com/sslkit/sslkit-go/pkg/status"
	"github.com/sslkit/sslkit-go/pkg/transport"
	"github.com/sslkit/sslkit-go/pkg/version"
)

func TestHandshakeAndEcho(t *testing.T) {
	f := newFixture(t)

	tests := []struct {
		name        string
		client      version.Method
		server      version.Method
		suite       string
		ecdsa       bool
		wantVersion version.Version
	}{
		{"tls12 rsa", version.TLSv1_2Client, version.TLSv1_2Server, "AES128-SHA", false, version.TLS12},
		{"tls12 rsa gcm", version.TLSv1_2Client, version.TLSv1_2Server, "AES256-GCM-SHA384", false, version.TLS12},
		{"tls12 ecdhe ecdsa gcm", version.TLSv1_2Client, version.TLSv1_2Server, "ECDHE-ECDSA-AES128-GCM-SHA256", true, version.TLS12},
		{"tls12 ecdhe rsa cbc", version.TLSv1_2Client, version.TLSv1_2Server, "ECDHE-RSA-AES256-SHA384", false, version.TLS12},
		{"tls11 rsa", version.TLSv1_1Client, version.TLSv1_1Server, "AES256-SHA", false, version.TLS11},
		{"tls10 rsa", version.TLSv1Client, version.TLSv1Server, "AES128-SHA", false, version.TLS10},
		{"tls10 ecdhe ecdsa", version.TLSv1Client, version.TLSv1Server, "ECDHE-ECDSA-AES128-SHA", true, version.TLS10},
		{"sslv23 to tls11", version.SSLv23Client, version.TLSv1_1Server, "AES128-SHA", false, version.TLS11},
		{"sslv23 both", version.SSLv23Client, version.SSLv23Server, "ECDHE-RSA-AES128-GCM-SHA256", false, version.TLS12},
		{"dtls12 ecdhe", version.DTLSv1_2Client, version.DTLSv1_2Server, "ECDHE-ECDSA-AES128-GCM-SHA256", true, version.DTLS12},
		{"dtls12 rsa", version.DTLSv1_2Client, version.DTLSv1_2Server, "AES128-SHA", false, version.DTLS12},
		{"dtls10 rsa", version.DTLSv1Client, version.DTLSv1Server, "AES128-SHA", false, version.DTLS10},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clientCtx := newTestContext(t, tt.client)
			clientCtx.SetVerifyMode(VerifyNone, nil)
			require.NoError(t, clientCtx.SetCipherList(tt.suite))

			serverCtx := newTestContext(t, tt.server)
			if tt.ecdsa {
				useLeaf(t, serverCtx, f.ecdsa)
			} else {
				useLeaf(t, serverCtx, f.rsa)
			}

			client, server, _, _ := connectedPair(t, clientCtx, serverCtx)
			mustHandshake(t, client, server)

			assert.Equal(t, tt.suite, client.CipherSuiteName())
			assert.Equal(t, tt.suite, server.CipherSuiteName())
			assert.Equal(t, tt.wantVersion, client.Version())
			assert.Equal(t, tt.wantVersion, server.Version())
			require.Len(t, client.PeerCertificateChain(), 2)
			assert.Equal(t, "localhost", client.PeerCertificate().Certificate().Subject.CommonName)
			assert.Nil(t, server.PeerCertificate())

			writeAll(t, client, []byte(testMessage))
			assert.Equal(t, testMessage, string(readAll(t, server, len(testMessage))))

			writeAll(t, server, []byte(strings.ToUpper(testMessage)))
			assert.Equal(t, strings.ToUpper(testMessage), string(readAll(t, client, len(testMessage))))
		})
	}
}

func TestLargeWriteSplitsRecords(t *testing.T) {
	f := newFixture(t)
	clientCtx := newTestContext(t, version.TLSv1_2Client)
	clientCtx.SetVerifyMode(VerifyNone, nil)
	serverCtx := newTestContext(t, version.TLSv1_2Server)
	useLeaf(t, serverCtx, f.ecdsa)

	client, server, _, _ := connectedPair(t, clientCtx, serverCtx)
	mustHandshake(t, client, server)

	payload := bytes.Repeat([]byte("0123456789abcdef"), 2500)
	n, err := client.Write(payload)
	require.NoError(t, err)
	assert.Equal(t, record.MaxPlaintext, n)

	writeAll(t, client, payload[n:])
	assert.Equal(t, payload, readAll(t, server, len(payload)))
}

// flakyEnd makes every I/O callback report would-block a fixed number of
// times before touching the pipe.
type flakyEnd struct {
	end    *transport.PipeEnd
	blocks int

	sendLeft int
	recvLeft int
	blocked  atomic.Int32
}

func registerFlakyIO(ctx *Context) {
	ctx.RegisterCallback(callback.IOSendFunc(func(_ callback.Handle, c any, p []byte) (int, error) {
		fe := c.(*flakyEnd)
		if fe.sendLeft > 0 {
			fe.sendLeft--
			fe.blocked.Add(1)
			return 0, status.ErrWouldBlock
		}
		fe.sendLeft = fe.blocks
		return fe.end.Send(p)
	}))
	ctx.RegisterCallback(callback.IORecvFunc(func(_ callback.Handle, c any, p []byte) (int, error) {
		fe := c.(*flakyEnd)
		if fe.recvLeft > 0 {
			fe.recvLeft--
			fe.blocked.Add(1)
			return 0, status.ErrWouldBlock
		}
		fe.recvLeft = fe.blocks
		return fe.end.Receive(p)
	}))
}

func TestSendCallbackWithTransport(t *testing.T) {
	f := newFixture(t)
	var sent atomic.Int32
	clientCtx := newTestContext(t, version.TLSv1_2Client)
	clientCtx.SetVerifyMode(VerifyNone, nil)
	clientCtx.RegisterCallback(callback.IOSendFunc(func(_ callback.Handle, c any, p []byte) (int, error) {
		sent.Add(1)
		return c.(*transport.PipeEnd).Send(p)
	}))
	serverCtx := newTestContext(t, version.TLSv1_2Server)
	useLeaf(t, serverCtx, f.ecdsa)

	client, server, a, _ := connectedPair(t, clientCtx, serverCtx)
	client.SetCallbackContext(callback.KindIOSend, a)

	mustHandshake(t, client, server)
	writeAll(t, client, []byte(testMessage))
	assert.Equal(t, testMessage, string(readAll(t, server, len(testMessage))))
	writeAll(t, server, []byte(testMessage))
	assert.Equal(t, testMessage, string(readAll(t, client, len(testMessage))))
	assert.Positive(t, sent.Load())
}

func TestIOCallbacksWouldBlock(t *testing.T) {
	f := newFixture(t)
	for _, blocks := range []int{0, 1, 10} {
		for _, method := range []version.Method{version.TLSv1_2Client, version.DTLSv1_2Client} {
			t.Run(fmt.Sprintf("%s/blocks=%d", method, blocks), func(t *testing.T) {
				serverMethod := version.TLSv1_2Server
				if method.Datagram() {
					serverMethod = version.DTLSv1_2Server
				}
				clientCtx := newTestContext(t, method)
				clientCtx.SetVerifyMode(VerifyNone, nil)
				registerFlakyIO(clientCtx)
				serverCtx := newTestContext(t, serverMethod)
				useLeaf(t, serverCtx, f.rsa)
				registerFlakyIO(serverCtx)

				client := newTestSession(t, clientCtx)
				server := newTestSession(t, serverCtx)
				a, b := transport.NewPipe(method.Datagram())
				ca := &flakyEnd{end: a, blocks: blocks, sendLeft: blocks, recvLeft: blocks}
				sb := &flakyEnd{end: b, blocks: blocks, sendLeft: blocks, recvLeft: blocks}
				client.SetCallbackContext(callback.KindIOSend, ca)
				client.SetCallbackContext(callback.KindIORecv, ca)
				server.SetCallbackContext(callback.KindIOSend, sb)
				server.SetCallbackContext(callback.KindIORecv, sb)

				mustHandshake(t, client, server)
				writeAll(t, client, []byte(testMessage))
				assert.Equal(t, testMessage, string(readAll(t, server, len(testMessage))))

				if blocks > 0 {
					assert.Positive(t, ca.blocked.Load())
					assert.Positive(t, sb.blocked.Load())
				}
			})
		}
	}
}

func TestRecordCallbacks(t *testing.T) {
	f := newFixture(t)
	var sealed, opened atomic.Int32

	register := func(ctx *Context) {
		ctx.RegisterCallback(callback.MacEncryptFunc(func(_ callback.Handle, _ any, in *callback.RecordInput) ([]byte, error) {
			sealed.Add(1)
			p, err := record.NewProtector(in.Suite, in.Header.Version, in.Keys, true)
			if err != nil {
				return nil, err
			}
			return p.Seal(in.Header, in.Payload)
		}))
		ctx.RegisterCallback(callback.DecryptVerifyFunc(func(_ callback.Handle, _ any, in *callback.RecordInput) ([]byte, error) {
			opened.Add(1)
			p, err := record.NewProtector(in.Suite, in.Header.Version, in.Keys, false)
			if err != nil {
				return nil, err
			}
			return p.Open(in.Header, in.Payload)
		}))
	}

	for _, suite := range []string{"AES128-SHA", "ECDHE-RSA-AES128-GCM-SHA256"} {
		t.Run(suite, func(t *testing.T) {
			sealed.Store(0)
			opened.Store(0)
			clientCtx := newTestContext(t, version.TLSv1_2Client)
			clientCtx.SetVerifyMode(VerifyNone, nil)
			require.NoError(t, clientCtx.SetCipherList(suite))
			register(clientCtx)
			serverCtx := newTestContext(t, version.TLSv1_2Server)
			useLeaf(t, serverCtx, f.rsa)
			register(serverCtx)

			client, server, _, _ := connectedPair(t, clientCtx, serverCtx)
			mustHandshake(t, client, server)
			writeAll(t, client, []byte(testMessage))
			assert.Equal(t, testMessage, string(readAll(t, server, len(testMessage))))

			// Finished on both sides plus the application record.
			assert.GreaterOrEqual(t, sealed.Load(), int32(3))
			assert.GreaterOrEqual(t, opened.Load(), int32(3))
		})
	}
}

func TestDecryptVerifyFailureIsFatal(t *testing.T) {
	f := newFixture(t)
	clientCtx := newTestContext(t, version.TLSv1_2Client)
	clientCtx.SetVerifyMode(VerifyNone, nil)
	serverCtx := newTestContext(t, version.TLSv1_2Server)
	useLeaf(t, serverCtx, f.rsa)
	serverCtx.RegisterCallback(callback.DecryptVerifyFunc(func(callback.Handle, any, *callback.RecordInput) ([]byte, error) {
		return nil, errors.New("hsm rejected the record")
	}))
	serverCtx.RegisterCallback(callback.MacEncryptFunc(func(_ callback.Handle, _ any, in *callback.RecordInput) ([]byte, error) {
		p, err := record.NewProtector(in.Suite, in.Header.Version, in.Keys, true)
		if err != nil {
			return nil, err
		}
		return p.Seal(in.Header, in.Payload)
	}))

	client, server, _, _ := connectedPair(t, clientCtx, serverCtx)
	_, serr := runHandshake(t, client, server)
	require.Error(t, serr)
	assert.Equal(t, status.CodeMacFailure, status.CodeOf(serr))
	assert.Equal(t, StateErrored, server.State())
	assert.Equal(t, StateErrored, client.State())
	assert.Equal(t, status.CodeAlertReceived, status.CodeOf(client.LastError()))
}

func TestCloseNotify(t *testing.T) {
	f := newFixture(t)
	clientCtx := newTestContext(t, version.TLSv1_2Client)
	clientCtx.SetVerifyMode(VerifyNone, nil)
	serverCtx := newTestContext(t, version.TLSv1_2Server)
	useLeaf(t, serverCtx, f.ecdsa)

	client, server, _, _ := connectedPair(t, clientCtx, serverCtx)
	mustHandshake(t, client, server)

	require.NoError(t, client.Close())
	assert.Equal(t, StateClosed, client.State())
	require.NoError(t, client.Close())

	buf := make([]byte, 16)
	_, err := server.Read(buf)
	assert.ErrorIs(t, err, io.EOF)

	_, err = client.Write([]byte("late"))
	assert.Equal(t, status.CodeBadState, status.CodeOf(err))
}

func TestHelloRequestDeclined(t *testing.T) {
	f := newFixture(t)
	clientCtx := newTestContext(t, version.TLSv1_2Client)
	clientCtx.SetVerifyMode(VerifyNone, nil)
	rec := &eventRecorder{}
	serverCtx := newTestContext(t, version.TLSv1_2Server, WithLogger(rec))
	useLeaf(t, serverCtx, f.ecdsa)

	client, server, _, _ := connectedPair(t, clientCtx, serverCtx)
	mustHandshake(t, client, server)

	// HelloRequest is an empty handshake message.
	require.NoError(t, server.conn.writeRecord(record.TypeHandshake, []byte{0, 0, 0, 0}))
	writeAll(t, server, []byte(testMessage))
	assert.Equal(t, testMessage, string(readAll(t, client, len(testMessage))))

	buf := make([]byte, 16)
	_, err := server.Read(buf)
	assert.True(t, status.IsWouldBlock(err))
	assert.Equal(t, StateEstablished, server.State())

	var sawNoRenegotiation bool
	for _, e := range rec.events {
		if e.Alert != nil && e.Direction == log.DirectionIn && e.Alert.Description == uint8(record.AlertNoRenegotiation) {
			sawNoRenegotiation = true
		}
	}
	assert.True(t, sawNoRenegotiation)
}

func TestRoleMismatch(t *testing.T) {
	f := newFixture(t)
	clientCtx := newTestContext(t, version.TLSv1_2Client)
	serverCtx := newTestContext(t, version.TLSv1_2Server)
	useLeaf(t, serverCtx, f.ecdsa)

	client := newTestSession(t, clientCtx)
	server := newTestSession(t, serverCtx)
	assert.Equal(t, status.CodeBadState, status.CodeOf(client.Accept()))
	assert.Equal(t, status.CodeBadState, status.CodeOf(server.Connect()))
	assert.Equal(t, StateInit, client.State())
}

func TestNoTransport(t *testing.T) {
	ctx := newTestContext(t, version.TLSv1_2Client)
	s := newTestSession(t, ctx)

	err := s.Connect()
	assert.Equal(t, status.CodeNoTransport, status.CodeOf(err))
	assert.Equal(t, status.KindState, s.GetError(err).Kind)
	assert.Equal(t, StateInit, s.State())

	_, err = s.Read(make([]byte, 1))
	assert.Equal(t, status.CodeBadState, status.CodeOf(err))
}

func TestDataAfterFailedHandshake(t *testing.T) {
	f := newFixture(t)
	clientCtx := newTestContext(t, version.TLSv1_2Client)
	serverCtx := newTestContext(t, version.TLSv1_2Server)
	useLeaf(t, serverCtx, f.ecdsa)

	client, server, _, _ := connectedPair(t, clientCtx, serverCtx)
	cerr, _ := runHandshake(t, client, server)
	require.Equal(t, status.CodeUntrustedIssuer, status.CodeOf(cerr))
	require.Equal(t, StateErrored, client.State())

	_, err := client.Write([]byte(testMessage))
	assert.Equal(t, status.CodeBadState, status.CodeOf(err))
	assert.Equal(t, status.KindState, status.KindOf(err))

	_, err = client.Read(make([]byte, 16))
	assert.Equal(t, status.CodeBadState, status.CodeOf(err))
	assert.Equal(t, status.KindState, status.KindOf(err))

	assert.Equal(t, status.CodeUntrustedIssuer, status.CodeOf(client.LastError()))
	assert.Equal(t, status.KindHandshake, client.GetError(nil).Kind)
}

func TestDestroyedSession(t *testing.T) {
	ctx := newTestContext(t, version.TLSv1_2Client)
	s, err := ctx.NewSession()
	require.NoError(t, err)
	assert.Equal(t, 1, ctx.LiveSessions())

	closed := &closerValue{}
	s.SetCallbackContext(callback.KindPKSign, closed)
	require.NoError(t, s.Destroy())
	require.NoError(t, s.Destroy())
	assert.True(t, closed.closed)
	assert.Equal(t, 0, ctx.LiveSessions())

	assert.Equal(t, status.CodeBadState, status.CodeOf(s.Connect()))
}

type closerValue struct{ closed bool }

func (c *closerValue) Close() error {
	c.closed = true
	return nil
}

func TestEventsAndDiagnostics(t *testing.T) {
	f := newFixture(t)
	rec := &eventRecorder{}
	var diag []string
	clientCtx := newTestContext(t, version.TLSv1_2Client, WithLogger(rec))
	clientCtx.SetVerifyMode(VerifyNone, nil)
	clientCtx.RegisterCallback(callback.LogFunc(func(_ log.Severity, msg string) {
		diag = append(diag, msg)
	}))
	serverCtx := newTestContext(t, version.TLSv1_2Server)
	useLeaf(t, serverCtx, f.ecdsa)

	client, server, _, _ := connectedPair(t, clientCtx, serverCtx)
	mustHandshake(t, client, server)

	hellos := rec.handshakes("ClientHello")
	require.Len(t, hellos, 1)
	assert.Equal(t, log.DirectionOut, hellos[0].Direction)
	assert.Equal(t, client.ID(), hellos[0].ConnectionID)
	assert.Equal(t, log.RoleClient, hellos[0].LocalRole)
	require.Len(t, rec.handshakes("Finished"), 2)

	last := rec.events[len(rec.events)-1]
	require.NotNil(t, last.StateChange)
	assert.Equal(t, "ESTABLISHED", last.StateChange.NewState)
	assert.Equal(t, "TLSv1.2", last.Protocol)

	joined := strings.Join(diag, "\n")
	assert.Contains(t, joined, "INIT -> HANDSHAKING")
	assert.Contains(t, joined, "HANDSHAKING -> ESTABLISHED")
}

func TestVersionMismatch(t *testing.T) {
	f := newFixture(t)
	clientCtx := newTestContext(t, version.TLSv1_2Client)
	clientCtx.SetVerifyMode(VerifyNone, nil)
	serverCtx := newTestContext(t, version.TLSv1Server)
	useLeaf(t, serverCtx, f.rsa)

	client, server, _, _ := connectedPair(t, clientCtx, serverCtx)
	cerr, serr := runHandshake(t, client, server)
	assert.Equal(t, status.CodeVersionMismatch, status.CodeOf(cerr))
	assert.Equal(t, status.KindHandshake, client.GetError(nil).Kind)
	assert.Equal(t, status.CodeAlertReceived, status.CodeOf(serr))
}

func TestRecordVersionMismatch(t *testing.T) {
	f := newFixture(t)

	t.Run("tls fails", func(t *testing.T) {
		clientCtx := newTestContext(t, version.TLSv1_2Client)
		clientCtx.SetVerifyMode(VerifyNone, nil)
		serverCtx := newTestContext(t, version.TLSv1_2Server)
		useLeaf(t, serverCtx, f.ecdsa)

		client, server, _, b := connectedPair(t, clientCtx, serverCtx)
		mustHandshake(t, client, server)

		// Application data record stamped TLSv1.1.
		_, err := b.Send([]byte{23, 0x03, 0x02, 0x00, 0x04, 'l', 'a', 't', 'e'})
		require.NoError(t, err)

		_, err = client.Read(make([]byte, 16))
		assert.Equal(t, status.CodeVersionMismatch, status.CodeOf(err))
		assert.Equal(t, StateErrored, client.State())
	})

	t.Run("dtls drops", func(t *testing.T) {
		clientCtx := newTestContext(t, version.DTLSv1_2Client)
		clientCtx.SetVerifyMode(VerifyNone, nil)
		serverCtx := newTestContext(t, version.DTLSv1_2Server)
		useLeaf(t, serverCtx, f.ecdsa)

		client, server, _, b := connectedPair(t, clientCtx, serverCtx)
		mustHandshake(t, client, server)

		// Epoch 1 application data record stamped DTLSv1.0.
		_, err := b.Send([]byte{23, 0xfe, 0xff, 0x00, 0x01, 0, 0, 0, 0, 0, 0x40, 0x00, 0x04, 'l', 'a', 't', 'e'})
		require.NoError(t, err)

		_, err = client.Read(make([]byte, 16))
		assert.True(t, status.IsWouldBlock(err))
		assert.Equal(t, StateEstablished, client.State())

		writeAll(t, server, []byte(testMessage))
		assert.Equal(t, testMessage, string(readAll(t, client, len(testMessage))))
	})
}

func TestNoSharedCipher(t *testing.T) {
	f := newFixture(t)
	clientCtx := newTestContext(t, version.TLSv1_2Client)
	clientCtx.SetVerifyMode(VerifyNone, nil)
	require.NoError(t, clientCtx.SetCipherList("AES128-SHA"))
	serverCtx := newTestContext(t, version.TLSv1_2Server)
	require.NoError(t, serverCtx.SetCipherList("AES256-SHA"))
	useLeaf(t, serverCtx, f.rsa)

	client, server, _, _ := connectedPair(t, clientCtx, serverCtx)
	cerr, serr := runHandshake(t, client, server)
	assert.Equal(t, status.CodeNoSharedCipher, status.CodeOf(serr))
	assert.Equal(t, status.CodeAlertReceived, status.CodeOf(cerr))
}

func TestServerWithoutMatchingKeySuite(t *testing.T) {
	f := newFixture(t)
	clientCtx := newTestContext(t, version.TLSv1_2Client)
	clientCtx.SetVerifyMode(VerifyNone, nil)
	require.NoError(t, clientCtx.SetCipherList("ECDHE-RSA-AES128-GCM-SHA256"))
	serverCtx := newTestContext(t, version.TLSv1_2Server)
	useLeaf(t, serverCtx, f.ecdsa)

	client, server, _, _ := connectedPair(t, clientCtx, serverCtx)
	_, serr := runHandshake(t, client, server)
	assert.Equal(t, status.CodeNoSharedCipher, status.CodeOf(serr))
}

// A failed RSA decryption continues with a random premaster, so the
// mismatch shows up when the client's first protected record arrives.
func TestPKDecryptFailureFailsHandshake(t *testing.T) {
	f := newFixture(t)
	clientCtx := newTestContext(t, version.TLSv1_2Client)
	clientCtx.SetVerifyMode(VerifyNone, nil)
	require.NoError(t, clientCtx.SetCipherList("AES128-SHA"))
	serverCtx := newTestContext(t, version.TLSv1_2Server)
	useLeaf(t, serverCtx, f.rsa)
	serverCtx.RegisterCallback(callback.PKDecryptFunc(func(callback.Handle, any, *callback.DecryptInput) ([]byte, error) {
		return nil, errors.New("token removed")
	}))

	client, server, _, _ := connectedPair(t, clientCtx, serverCtx)
	cerr, serr := runHandshake(t, client, server)
	assert.Equal(t, status.CodeMacFailure, status.CodeOf(serr))
	assert.Equal(t, status.CodeAlertReceived, status.CodeOf(cerr))
}

func TestPKCallbacksDelegating(t *testing.T) {
	f := newFixture(t)
	var signs, verifies, encrypts, decrypts atomic.Int32

	clientCtx := newTestContext(t, version.TLSv1_2Client)
	clientCtx.SetVerifyMode(VerifyNone, nil)
	clientCtx.RegisterCallback(callback.PKEncryptFunc(func(_ callback.Handle, _ any, in *callback.EncryptInput) ([]byte, error) {
		encrypts.Add(1)
		return callback.DefaultEncrypt(in)
	}))
	clientCtx.RegisterCallback(callback.PKVerifyFunc(func(_ callback.Handle, _ any, in *callback.VerifyInput) error {
		verifies.Add(1)
		return callback.DefaultVerify(in)
	}))

	serverCtx := newTestContext(t, version.TLSv1_2Server)
	useLeaf(t, serverCtx, f.rsa)
	serverCtx.RegisterCallback(callback.PKSignFunc(func(_ callback.Handle, _ any, in *callback.SignInput) ([]byte, error) {
		signs.Add(1)
		return callback.DefaultSign(in)
	}))
	serverCtx.RegisterCallback(callback.PKDecryptFunc(func(_ callback.Handle, _ any, in *callback.DecryptInput) ([]byte, error) {
		decrypts.Add(1)
		return callback.DefaultDecrypt(in)
	}))

	for _, suite := range []string{"AES128-SHA", "ECDHE-RSA-AES128-SHA"} {
		require.NoError(t, clientCtx.SetCipherList(suite))
		client, server, _, _ := connectedPair(t, clientCtx, serverCtx)
		mustHandshake(t, client, server)
	}
	assert.Equal(t, int32(1), encrypts.Load())
	assert.Equal(t, int32(1), decrypts.Load())
	assert.Equal(t, int32(1), signs.Load())
	assert.Equal(t, int32(1), verifies.Load())
}

func TestPKSignFailure(t *testing.T) {
	f := newFixture(t)
	failing := callback.PKSignFunc(func(callback.Handle, any, *callback.SignInput) ([]byte, error) {
		return nil, errors.New("signing service unavailable")
	})

	t.Run("server ECDHE", func(t *testing.T) {
		clientCtx := newTestContext(t, version.TLSv1_2Client)
		clientCtx.SetVerifyMode(VerifyNone, nil)
		serverCtx := newTestContext(t, version.TLSv1_2Server)
		useLeaf(t, serverCtx, f.ecdsa)
		serverCtx.RegisterCallback(failing)

		client, server, _, _ := connectedPair(t, clientCtx, serverCtx)
		cerr, serr := runHandshake(t, client, server)
		assert.Equal(t, status.CodeSignFailure, status.CodeOf(serr))
		assert.Equal(t, StateErrored, server.State())
		assert.Equal(t, status.KindHandshake, server.GetError(nil).Kind)
		assert.Equal(t, StateErrored, client.State())
		assert.Equal(t, status.KindHandshake, status.KindOf(cerr))
	})

	t.Run("client certificate", func(t *testing.T) {
		clientCtx := newTestContext(t, version.TLSv1_2Client)
		clientCtx.SetVerifyMode(VerifyNone, nil)
		useLeaf(t, clientCtx, f.client)
		clientCtx.RegisterCallback(failing)
		serverCtx := newTestContext(t, version.TLSv1_2Server)
		useLeaf(t, serverCtx, f.rsa)
		serverCtx.SetTrustStore(f.trust())
		serverCtx.SetVerifyMode(VerifyFailIfNoPeerCert, nil)

		client, server, _, _ := connectedPair(t, clientCtx, serverCtx)
		cerr, serr := runHandshake(t, client, server)
		assert.Equal(t, status.CodeSignFailure, status.CodeOf(cerr))
		assert.Equal(t, StateErrored, client.State())
		assert.Equal(t, StateErrored, server.State())
		assert.Equal(t, status.KindHandshake, status.KindOf(serr))
	})

	t.Run("client signature garbage", func(t *testing.T) {
		clientCtx := newTestContext(t, version.TLSv1_2Client)
		clientCtx.SetVerifyMode(VerifyNone, nil)
		useLeaf(t, clientCtx, f.client)
		clientCtx.RegisterCallback(callback.PKSignFunc(func(callback.Handle, any, *callback.SignInput) ([]byte, error) {
			return []byte("not a signature"), nil
		}))
		serverCtx := newTestContext(t, version.TLSv1_2Server)
		useLeaf(t, serverCtx, f.rsa)
		serverCtx.SetTrustStore(f.trust())
		serverCtx.SetVerifyMode(VerifyPeer, nil)

		client, server, _, _ := connectedPair(t, clientCtx, serverCtx)
		cerr, serr := runHandshake(t, client, server)
		assert.Equal(t, status.CodeBadSignature, status.CodeOf(serr))
		assert.Equal(t, status.CodeAlertReceived, status.CodeOf(cerr))
	})
}

func TestMutualAuthentication(t *testing.T) {
	f := newFixture(t)
	for _, method := range []version.Method{version.TLSv1_2Client, version.TLSv1Client, version.DTLSv1_2Client} {
		t.Run(method.String(), func(t *testing.T) {
			serverMethod := map[version.Method]version.Method{
				version.TLSv1_2Client:  version.TLSv1_2Server,
				version.TLSv1Client:    version.TLSv1Server,
				version.DTLSv1_2Client: version.DTLSv1_2Server,
			}[method]

			clientCtx := newTestContext(t, method)
			clientCtx.SetTrustStore(f.trust())
			useLeaf(t, clientCtx, f.client)
			serverCtx := newTestContext(t, serverMethod)
			useLeaf(t, serverCtx, f.ecdsa)
			serverCtx.SetTrustStore(f.trust())
			serverCtx.SetVerifyMode(VerifyFailIfNoPeerCert, nil)

			client, server, _, _ := connectedPair(t, clientCtx, serverCtx)
			client.SetServerName("localhost")
			mustHandshake(t, client, server)

			peer := server.PeerCertificate()
			require.NotNil(t, peer)
			assert.Contains(t, peer.Subject, "CN=client")
			assert.Equal(t, "localhost", server.ServerName())
		})
	}
}

func TestClientWithoutCertificate(t *testing.T) {
	f := newFixture(t)
	for _, mode := range []VerifyMode{VerifyPeer, VerifyFailIfNoPeerCert} {
		t.Run(mode.String(), func(t *testing.T) {
			clientCtx := newTestContext(t, version.TLSv1_2Client)
			clientCtx.SetVerifyMode(VerifyNone, nil)
			serverCtx := newTestContext(t, version.TLSv1_2Server)
			useLeaf(t, serverCtx, f.ecdsa)
			serverCtx.SetTrustStore(f.trust())
			serverCtx.SetVerifyMode(mode, nil)

			client, server, _, _ := connectedPair(t, clientCtx, serverCtx)
			cerr, serr := runHandshake(t, client, server)
			if mode == VerifyPeer {
				require.NoError(t, cerr)
				require.NoError(t, serr)
				assert.Nil(t, server.PeerCertificate())
				return
			}
			assert.Equal(t, status.CodeNoPeerCert, status.CodeOf(serr))
		})
	}
}
