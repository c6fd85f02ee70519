package main

import (
	"bytes"
	"fmt"
	"io"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/sslkit/sslkit-go/pkg/callback"
	"github.com/sslkit/sslkit-go/pkg/log"
	"github.com/sslkit/sslkit-go/pkg/record"
	"github.com/sslkit/sslkit-go/pkg/session"
	"github.com/sslkit/sslkit-go/pkg/status"
	"github.com/sslkit/sslkit-go/pkg/transport"
)

// registerIOCallbacks sends and receives records through the socket
// transport stored as the session's I/O callback context.
func registerIOCallbacks(ctx *session.Context, logger *logrus.Logger) {
	ctx.RegisterCallback(callback.IOSendFunc(func(h callback.Handle, c any, p []byte) (int, error) {
		tr, ok := c.(transport.Transport)
		if !ok {
			return 0, status.Errorf(status.CodeBadParameter, "no I/O context for %s", h.ID())
		}
		n, err := tr.Send(p)
		logger.WithFields(logrus.Fields{"session": h.ID(), "bytes": n}).Trace("io send")
		return n, err
	}))
	ctx.RegisterCallback(callback.IORecvFunc(func(h callback.Handle, c any, p []byte) (int, error) {
		tr, ok := c.(transport.Transport)
		if !ok {
			return 0, status.Errorf(status.CodeBadParameter, "no I/O context for %s", h.ID())
		}
		n, err := tr.Receive(p)
		if n > 0 {
			logger.WithFields(logrus.Fields{"session": h.ID(), "bytes": n}).Trace("io recv")
		}
		return n, err
	}))
}

// registerLogCallback prints library diagnostics to out.
func registerLogCallback(ctx *session.Context, out io.Writer) {
	ctx.RegisterCallback(callback.LogFunc(func(sev log.Severity, msg string) {
		fmt.Fprintf(out, "[sslkit %s] %s\n", sev, msg)
	}))
}

// registerMissingCRLCallback reports issuers without a CRL and accepts them.
func registerMissingCRLCallback(ctx *session.Context, out io.Writer) {
	ctx.RegisterCallback(callback.MissingCRLFunc(func(_ callback.Handle, _ any, in *callback.MissingCRLInput) bool {
		fmt.Fprintf(out, "CRL missing for issuer %s, continuing\n", in.Issuer)
		return true
	}))
}

// registerPKCallbacks routes every public key operation through the
// built-in implementations and traces them.
func registerPKCallbacks(ctx *session.Context, logger *logrus.Logger) {
	trace := func(h callback.Handle, op string) {
		logger.WithField("session", h.ID()).Debugf("pk %s", op)
	}
	ctx.RegisterCallback(callback.PKSignFunc(func(h callback.Handle, _ any, in *callback.SignInput) ([]byte, error) {
		trace(h, "sign")
		return callback.DefaultSign(in)
	}))
	ctx.RegisterCallback(callback.PKVerifyFunc(func(h callback.Handle, _ any, in *callback.VerifyInput) error {
		trace(h, "verify")
		return callback.DefaultVerify(in)
	}))
	ctx.RegisterCallback(callback.PKEncryptFunc(func(h callback.Handle, _ any, in *callback.EncryptInput) ([]byte, error) {
		trace(h, "encrypt")
		return callback.DefaultEncrypt(in)
	}))
	ctx.RegisterCallback(callback.PKDecryptFunc(func(h callback.Handle, _ any, in *callback.DecryptInput) ([]byte, error) {
		trace(h, "decrypt")
		return callback.DefaultDecrypt(in)
	}))
}

// protectors keeps one record protector per session and direction. CBC
// protection at TLS 1.0 chains its IV across records, so a protector must
// live as long as its keys.
type protectors struct {
	mu sync.Mutex
	m  map[protectorKey]*protectorEntry
}

type protectorKey struct {
	session string
	seal    bool
}

type protectorEntry struct {
	key []byte
	p   record.Protector
}

func (ps *protectors) get(h callback.Handle, in *callback.RecordInput, seal bool) (record.Protector, error) {
	ps.mu.Lock()
	defer ps.mu.Unlock()

	k := protectorKey{session: h.ID(), seal: seal}
	if e, ok := ps.m[k]; ok && bytes.Equal(e.key, in.Keys.Key) {
		return e.p, nil
	}
	p, err := record.NewProtector(in.Suite, in.Header.Version, in.Keys, seal)
	if err != nil {
		return nil, err
	}
	if ps.m == nil {
		ps.m = make(map[protectorKey]*protectorEntry)
	}
	ps.m[k] = &protectorEntry{key: append([]byte(nil), in.Keys.Key...), p: p}
	return p, nil
}

// registerRecordCallbacks performs record protection in the application
// instead of the session.
func registerRecordCallbacks(ctx *session.Context) *protectors {
	ps := &protectors{}
	ctx.RegisterCallback(callback.MacEncryptFunc(func(h callback.Handle, _ any, in *callback.RecordInput) ([]byte, error) {
		p, err := ps.get(h, in, true)
		if err != nil {
			return nil, err
		}
		return p.Seal(in.Header, in.Payload)
	}))
	ctx.RegisterCallback(callback.DecryptVerifyFunc(func(h callback.Handle, _ any, in *callback.RecordInput) ([]byte, error) {
		p, err := ps.get(h, in, false)
		if err != nil {
			return nil, err
		}
		return p.Open(in.Header, in.Payload)
	}))
	return ps
}
