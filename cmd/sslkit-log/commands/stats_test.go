package commands

import (
	"bytes"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/sslkit/sslkit-go/internal/testpki"
	"github.com/sslkit/sslkit-go/pkg/cert"
	"github.com/sslkit/sslkit-go/pkg/log"
	"github.com/sslkit/sslkit-go/pkg/session"
	"github.com/sslkit/sslkit-go/pkg/status"
	"github.com/sslkit/sslkit-go/pkg/transport"
	"github.com/sslkit/sslkit-go/pkg/version"
)

func TestStatsCounts(t *testing.T) {
	ts := time.Date(2026, 1, 28, 10, 0, 0, 0, time.UTC)
	events := []log.Event{
		{Timestamp: ts, ConnectionID: "a", Layer: log.LayerRecord, Category: log.CategoryMessage},
		{Timestamp: ts, ConnectionID: "a", Layer: log.LayerHandshake, Category: log.CategoryMessage,
			Handshake: &log.HandshakeEvent{Name: "Finished", Retransmit: true}},
		{Timestamp: ts, ConnectionID: "b", Layer: log.LayerRecord, Category: log.CategoryAlert,
			Alert: &log.AlertEvent{Level: 2, Description: 42, Name: "bad_certificate"}},
		{Timestamp: ts.Add(time.Second), ConnectionID: "b", Layer: log.LayerSession, Category: log.CategoryError,
			Error: &log.ErrorEventData{Message: "test"}},
	}
	path := createTestLogFile(t, events)

	var buf bytes.Buffer
	if err := RunStats(path, &buf); err != nil {
		t.Fatalf("RunStats failed: %v", err)
	}
	output := buf.String()

	for _, want := range []string{
		"Total Events: 4",
		"RECORD:",
		"HANDSHAKE:",
		"SESSION:",
		"ALERT:",
		"Sessions: 2",
		"bad_certificate:",
		"Retransmitted messages: 1",
		"Errors: 1",
		"Duration:   1s",
	} {
		if !strings.Contains(output, want) {
			t.Errorf("expected %q in output:\n%s", want, output)
		}
	}
}

func TestStatsEmptyFile(t *testing.T) {
	path := createTestLogFile(t, nil)

	var buf bytes.Buffer
	if err := RunStats(path, &buf); err != nil {
		t.Fatalf("RunStats failed: %v", err)
	}
	if !strings.Contains(buf.String(), "Total Events: 0") {
		t.Errorf("expected zero events, got:\n%s", buf.String())
	}
}

// TestStatsOfCapturedHandshake records a real handshake and analyzes it.
func TestStatsOfCapturedHandshake(t *testing.T) {
	path := filepath.Join(t.TempDir(), "capture.tlog")
	fl, err := log.NewFileLogger(path)
	if err != nil {
		t.Fatal(err)
	}

	root := testpki.NewRootCA(t, "log test root", testpki.ECDSA)
	leaf := root.Issue(t, testpki.LeafOptions{DNSNames: []string{"localhost"}})

	clientCtx, err := session.NewContext(version.TLSv1_2Client, session.WithLogger(fl))
	if err != nil {
		t.Fatal(err)
	}
	clientCtx.SetVerifyMode(session.VerifyNone, nil)
	serverCtx, err := session.NewContext(version.TLSv1_2Server, session.WithLogger(fl))
	if err != nil {
		t.Fatal(err)
	}
	if err := serverCtx.UseCertificateChainBytes(testpki.ChainPEM(leaf.Chain...), cert.FormatPEM); err != nil {
		t.Fatal(err)
	}
	if err := serverCtx.UsePrivateKeyBytes(testpki.KeyPEM(t, leaf.Key), cert.FormatPEM); err != nil {
		t.Fatal(err)
	}

	client, _ := clientCtx.NewSession()
	server, _ := serverCtx.NewSession()
	defer client.Destroy()
	defer server.Destroy()
	a, b := transport.NewPipe(false)
	client.BindTransport(a)
	server.BindTransport(b)
	for i := 0; i < 50 && (client.State() != session.StateEstablished || server.State() != session.StateEstablished); i++ {
		if err := client.Connect(); err != nil && !status.IsWouldBlock(err) {
			t.Fatalf("connect: %v", err)
		}
		if err := server.Accept(); err != nil && !status.IsWouldBlock(err) {
			t.Fatalf("accept: %v", err)
		}
	}
	if client.State() != session.StateEstablished {
		t.Fatalf("handshake did not complete: %s", client.State())
	}
	fl.Close()

	var buf bytes.Buffer
	if err := RunStats(path, &buf); err != nil {
		t.Fatalf("RunStats failed: %v", err)
	}
	output := buf.String()
	for _, want := range []string{"Sessions: 2", "CLIENT", "SERVER", "HANDSHAKE:"} {
		if !strings.Contains(output, want) {
			t.Errorf("expected %q in output:\n%s", want, output)
		}
	}
}
