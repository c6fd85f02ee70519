package status

import (
	"errors"
	"fmt"
	"io"
	"testing"
)

func TestTranslateKinds(t *testing.T) {
	tests := []struct {
		code Code
		kind Kind
	}{
		{CodeSuccess, KindNone},
		{CodeBadMethod, KindConfig},
		{CodeKeyMismatch, KindConfig},
		{CodeBadState, KindState},
		{CodeContextInUse, KindState},
		{CodeNoSharedCipher, KindHandshake},
		{CodeBadSignature, KindHandshake},
		{CodeTransport, KindTransport},
		{CodeHandshakeTimeout, KindTransport},
		{CodeWantRead, KindWouldBlock},
		{CodeWouldBlock, KindWouldBlock},
		{CodeCertRevoked, KindRevocation},
		{CodeCRLMissing, KindRevocation},
	}

	for _, tt := range tests {
		t.Run(fmt.Sprintf("%d", int(tt.code)), func(t *testing.T) {
			e := Translate(tt.code)
			if e.Kind != tt.kind {
				t.Errorf("Kind = %v, want %v", e.Kind, tt.kind)
			}
			if e.Message == "" {
				t.Error("empty message")
			}
		})
	}
}

func TestTranslateUnknownCode(t *testing.T) {
	e := Translate(Code(-42))
	if e.Kind != KindTransport {
		t.Errorf("Kind = %v, want TransportError", e.Kind)
	}
	if e.Message != "unknown error -42" {
		t.Errorf("Message = %q", e.Message)
	}
}

func TestKindOfForeignError(t *testing.T) {
	if KindOf(io.ErrUnexpectedEOF) != KindTransport {
		t.Error("foreign errors should translate to TransportError")
	}
	if KindOf(nil) != KindNone {
		t.Error("nil should translate to None")
	}
}

func TestWrapKeepsCodeAndCause(t *testing.T) {
	cause := errors.New("disk on fire")
	err := Wrap(CodeBadFile, cause)

	if !errors.Is(err, CodeBadFile) {
		t.Error("errors.Is(code) = false")
	}
	if !errors.Is(err, cause) {
		t.Error("errors.Is(cause) = false")
	}
	if KindOf(err) != KindConfig {
		t.Errorf("KindOf = %v, want ConfigError", KindOf(err))
	}
	if got := err.Error(); got != "file could not be read: disk on fire" {
		t.Errorf("Error() = %q", got)
	}
}

func TestWrapPreservesInnerCode(t *testing.T) {
	inner := Wrap(CodeCertRevoked, errors.New("serial 42"))
	outer := Wrap(CodeBadCertificateChain, inner)

	if CodeOf(outer) != CodeCertRevoked {
		t.Errorf("CodeOf = %d, want %d", CodeOf(outer), CodeCertRevoked)
	}
}

func TestIsWouldBlock(t *testing.T) {
	if !IsWouldBlock(ErrWouldBlock) {
		t.Error("ErrWouldBlock not detected")
	}
	if !IsWouldBlock(fmt.Errorf("send: %w", CodeWantWrite)) {
		t.Error("wrapped CodeWantWrite not detected")
	}
	if IsWouldBlock(CodeTransport) {
		t.Error("CodeTransport detected as would-block")
	}
	if IsWouldBlock(nil) {
		t.Error("nil detected as would-block")
	}
}

func TestErrorString(t *testing.T) {
	got := Translate(CodeNoSharedCipher).String()
	want := "HandshakeError: no shared cipher suite (code 301)"
	if got != want {
		t.Errorf("String() = %q, want %q", got, want)
	}
}
