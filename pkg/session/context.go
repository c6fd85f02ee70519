package session

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/benbjohnson/clock"
	"github.com/sirupsen/logrus"

	"github.com/sslkit/sslkit-go/pkg/callback"
	"github.com/sslkit/sslkit-go/pkg/cert"
	"github.com/sslkit/sslkit-go/pkg/ciphersuite"
	"github.com/sslkit/sslkit-go/pkg/log"
	"github.com/sslkit/sslkit-go/pkg/retransmit"
	"github.com/sslkit/sslkit-go/pkg/revocation"
	"github.com/sslkit/sslkit-go/pkg/status"
	"github.com/sslkit/sslkit-go/pkg/version"
)

// Context is the configuration shared by the Sessions spawned from it.
//
// Configure a Context before spawning Sessions. Each Session takes a
// snapshot of the configuration when it is created, so later changes only
// affect Sessions created afterwards. The Context counts its live Sessions
// but keeps no reference to them.
type Context struct {
	method version.Method

	mu         sync.RWMutex
	chain      cert.Chain
	key        *cert.Key
	trust      *cert.TrustStore
	suites     []*ciphersuite.Suite
	verifyMode VerifyMode
	verifyFunc VerifyFunc

	crl          bool
	ocsp         bool
	revOpts      revocation.Options
	crlStore     *revocation.CRLStore
	stopMonitor  context.CancelFunc
	monitorDone  chan struct{}
	ocspChecker  *revocation.OCSPChecker
	ocspOverride string
	ocspFetcher  revocation.Fetcher

	callbacks *callback.Registry

	logger     log.Logger
	logrus     *logrus.Logger
	clock      clock.Clock
	retransmit retransmit.Config
	mtu        int

	// lifecycle orders NewSession against Destroy.
	lifecycle sync.Mutex
	live      atomic.Int32
	destroyed atomic.Bool
}

// NewContext creates a Context for method. Unknown methods and SSLv3 are
// rejected with status.CodeBadMethod.
//
// Client contexts default to VerifyPeer and server contexts to VerifyNone.
func NewContext(method version.Method, opts ...Option) (*Context, error) {
	if !method.Known() {
		return nil, status.Errorf(status.CodeBadMethod, "unknown method %d", method)
	}
	if !method.Supported() {
		return nil, status.Errorf(status.CodeBadMethod, "%s is not supported", method)
	}

	c := &Context{
		method:     method,
		suites:     ciphersuite.All(),
		callbacks:  callback.NewRegistry(),
		clock:      clock.New(),
		retransmit: retransmit.DefaultConfig(),
		mtu:        DefaultMTU,
	}
	if method.Role() == version.RoleClient {
		c.verifyMode = VerifyPeer
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Method returns the method the Context was created for.
func (c *Context) Method() version.Method {
	return c.method
}

// UseCertificateChain loads the local certificate chain, leaf first.
func (c *Context) UseCertificateChain(path string, format cert.Format) error {
	chain, err := cert.LoadChain(path, format)
	if err != nil {
		return err
	}
	return c.setChain(chain)
}

// UseCertificateChainBytes is UseCertificateChain for in-memory data.
func (c *Context) UseCertificateChainBytes(data []byte, format cert.Format) error {
	chain, err := cert.ParseChain(data, format)
	if err != nil {
		return err
	}
	return c.setChain(chain)
}

func (c *Context) setChain(chain cert.Chain) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.key != nil {
		if err := cert.MatchKey(chain.Leaf(), c.key); err != nil {
			return err
		}
	}
	c.chain = chain
	return nil
}

// UsePrivateKey loads the private key matching the certificate chain.
func (c *Context) UsePrivateKey(path string, format cert.Format) error {
	key, err := cert.LoadKey(path, format)
	if err != nil {
		return err
	}
	return c.setKey(key)
}

// UsePrivateKeyBytes is UsePrivateKey for in-memory data.
func (c *Context) UsePrivateKeyBytes(data []byte, format cert.Format) error {
	key, err := cert.ParseKey(data, format)
	if err != nil {
		return err
	}
	return c.setKey(key)
}

func (c *Context) setKey(key *cert.Key) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if leaf := c.chain.Leaf(); leaf != nil {
		if err := cert.MatchKey(leaf, key); err != nil {
			return err
		}
	}
	c.key = key
	return nil
}

// LoadTrustAnchors loads trusted certificates from a file, a directory or
// both. At least one must be given.
func (c *Context) LoadTrustAnchors(file, dir string) error {
	store, err := cert.LoadTrustAnchors(file, dir)
	if err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.trust = store
	return nil
}

// SetTrustStore replaces the trust anchors.
func (c *Context) SetTrustStore(store *cert.TrustStore) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.trust = store
}

// SetVerifyMode sets the peer verification policy and an optional callback
// whose decision overrides the built-in result.
func (c *Context) SetVerifyMode(mode VerifyMode, fn VerifyFunc) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.verifyMode = mode
	c.verifyFunc = fn
}

// VerifyMode returns the configured verify mode.
func (c *Context) VerifyMode() VerifyMode {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.verifyMode
}

// SetCipherList restricts the cipher suites to a colon-delimited list of
// OpenSSL or IANA names in preference order. Unknown names are ignored; a
// list without any known name is status.CodeNoCipherMatch.
func (c *Context) SetCipherList(spec string) error {
	suites, err := ciphersuite.ParseList(spec)
	if err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.suites = suites
	return nil
}

// CipherList returns the configured suites as a colon-delimited list.
func (c *Context) CipherList() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return ciphersuite.Names(c.suites)
}

// EnableRevocation turns on CRL or OCSP checking of verified peer chains.
// Options accumulate across calls.
func (c *Context) EnableRevocation(kind revocation.Kind, opts revocation.Options) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	switch kind {
	case revocation.KindCRL:
		c.crl = true
		if c.crlStore == nil {
			c.crlStore = revocation.NewCRLStore()
		}
	case revocation.KindOCSP:
		c.ocsp = true
	default:
		return status.Errorf(status.CodeBadParameter, "unknown revocation kind %d", kind)
	}
	c.revOpts |= opts
	c.ocspChecker = nil
	return nil
}

// SetOCSPResponderOverride sets the responder URL used instead of the one
// named in certificates.
func (c *Context) SetOCSPResponderOverride(url string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ocspOverride = url
	if url != "" {
		c.revOpts |= revocation.OCSPURLOverride
	}
	c.ocspChecker = nil
}

// SetOCSPFetcher replaces the HTTP transport of OCSP queries.
func (c *Context) SetOCSPFetcher(f revocation.Fetcher) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ocspFetcher = f
	c.ocspChecker = nil
}

// SetCRLDirectory loads the CRLs in path. With monitor set, a background
// watcher reloads the directory when it changes until Destroy.
func (c *Context) SetCRLDirectory(path string, monitor bool) error {
	store := revocation.NewCRLStore()
	store.SetLogger(c.diag)
	if err := store.LoadDir(path); err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.stopMonitorLocked()
	c.crlStore = store
	if monitor {
		ctx, cancel := context.WithCancel(context.Background())
		done := make(chan struct{})
		go func() {
			defer close(done)
			store.Watch(ctx, revocation.DefaultPollInterval)
		}()
		c.stopMonitor = cancel
		c.monitorDone = done
	}
	c.diag(log.SeverityInfo, fmt.Sprintf("loaded %d CRLs from %s", store.Len(), path))
	return nil
}

func (c *Context) stopMonitorLocked() {
	if c.stopMonitor == nil {
		return
	}
	c.stopMonitor()
	<-c.monitorDone
	c.stopMonitor = nil
	c.monitorDone = nil
}

// CRLStore returns the CRL store, or nil when none was configured.
func (c *Context) CRLStore() *revocation.CRLStore {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.crlStore
}

// RegisterCallback registers cb for its kind, replacing any earlier
// registration of that kind.
func (c *Context) RegisterCallback(cb callback.Callback) {
	c.callbacks.Register(cb)
}

// LiveSessions returns the number of Sessions not yet destroyed.
func (c *Context) LiveSessions() int {
	return int(c.live.Load())
}

// Destroy releases the Context. It fails with status.CodeContextInUse while
// Sessions spawned from it are alive.
func (c *Context) Destroy() error {
	c.lifecycle.Lock()
	defer c.lifecycle.Unlock()
	if n := c.live.Load(); n > 0 {
		return status.Errorf(status.CodeContextInUse, "%d live sessions", n)
	}
	if !c.destroyed.CompareAndSwap(false, true) {
		return nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stopMonitorLocked()
	c.key = nil
	c.chain = nil
	c.ocspChecker = nil
	return nil
}

// diag delivers a diagnostic message to the Logging callback, or to logrus
// when none is registered.
func (c *Context) diag(sev log.Severity, msg string) {
	if fn := c.callbacks.Logging(); fn != nil {
		fn(sev, msg)
		return
	}
	if c.logrus != nil {
		log.LogrusSink(c.logrus)(sev, msg)
	}
}

// config is the snapshot of a Context taken by a Session.
type config struct {
	method     version.Method
	chain      cert.Chain
	key        *cert.Key
	trust      *cert.TrustStore
	suites     []*ciphersuite.Suite
	verifyMode VerifyMode
	verifyFunc VerifyFunc
	revocation *revocation.Checker
	callbacks  *callback.Registry
	logger     log.Logger
	clock      clock.Clock
	retransmit retransmit.Config
	mtu        int
}

func (c *Context) snapshot() *config {
	c.mu.Lock()
	defer c.mu.Unlock()

	cfg := &config{
		method:     c.method,
		chain:      c.chain,
		key:        c.key,
		trust:      c.trust,
		suites:     c.suites,
		verifyMode: c.verifyMode,
		verifyFunc: c.verifyFunc,
		callbacks:  c.callbacks.Snapshot(),
		logger:     c.logger,
		clock:      c.clock,
		retransmit: c.retransmit,
		mtu:        c.mtu,
	}
	if c.crl || c.ocsp {
		if c.ocsp && c.ocspChecker == nil {
			c.ocspChecker = revocation.NewOCSPChecker(c.ocspFetcher, c.ocspOverride, c.revOpts)
		}
		cfg.revocation = &revocation.Checker{
			CRL:       c.crl,
			Store:     c.crlStore,
			OCSP:      c.ocsp,
			Responder: c.ocspChecker,
			Options:   c.revOpts,
		}
	}
	return cfg
}

// NewSession spawns a Session. It fails with status.CodeCallbackPair when
// only one callback of a pair is registered and with
// status.CodeContextDestroyed after Destroy.
func (c *Context) NewSession() (*Session, error) {
	c.lifecycle.Lock()
	defer c.lifecycle.Unlock()
	if c.destroyed.Load() {
		return nil, status.CodeContextDestroyed
	}
	if err := c.callbacks.Validate(); err != nil {
		return nil, err
	}
	s, err := newSession(c, c.snapshot())
	if err != nil {
		return nil, err
	}
	c.live.Add(1)
	return s, nil
}
