// Command sslkit-client connects to a TLS or DTLS server, shows the peer
// certificate and negotiated parameters, and exchanges one message.
//
// Usage:
//
//	sslkit-client [flags]
//
// Flags:
//
//	-h string        Host to connect to (default "localhost")
//	-p int           Port to connect to (default 11111)
//	-v int           SSL version: 0 = SSLv3, 1 = TLS 1.0, 2 = TLS 1.1,
//	                 3 = TLS 1.2, -1 = highest common (default 3)
//	-l string        Cipher list
//	-c string        Certificate file (default "../certs/client-cert.pem")
//	-k string        Private key file (default "../certs/client-key.pem")
//	-A string        Certificate authority file (default "../certs/ca-cert.pem")
//	-d               Disable peer verification
//	-u               Use UDP DTLS (-v 2 = DTLS 1.0, -v 3 = DTLS 1.2)
//	-s string        Server name sent in the SNI extension
//	-iocb            Send and receive through I/O callbacks
//	-logtest         Print library diagnostics through a Logging callback
//	-U               Protect records in MAC/encrypt callbacks
//	-P               Route public key operations through callbacks
//	-crl-dir string  Enable CRL checking with the CRLs in this directory
//	-m               Monitor the CRL directory for changes
//	-o               Enable OCSP checking without nonces
//	-O string        OCSP responder URL used for every query
//	-config string   Configuration file (replaces the certificate flags)
//	-i               Interactive mode: send each typed line
//	-protocol-log    Write protocol events to this file (see sslkit-log)
//	-log-level       Log level: trace, debug, info, warn, error (default "info")
//
// Examples:
//
//	# TLS 1.2 with the default test certificates
//	sslkit-client -h localhost -p 11111
//
//	# DTLS 1.2 through I/O callbacks
//	sslkit-client -u -iocb
//
//	# CRL checking with directory monitoring
//	sslkit-client -crl-dir ../certs/crl -m
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"net"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/sslkit/sslkit-go/cmd/sslkit-client/interactive"
	"github.com/sslkit/sslkit-go/pkg/callback"
	"github.com/sslkit/sslkit-go/pkg/cert"
	"github.com/sslkit/sslkit-go/pkg/config"
	"github.com/sslkit/sslkit-go/pkg/log"
	"github.com/sslkit/sslkit-go/pkg/revocation"
	"github.com/sslkit/sslkit-go/pkg/service"
	"github.com/sslkit/sslkit-go/pkg/session"
	"github.com/sslkit/sslkit-go/pkg/transport"
	"github.com/sslkit/sslkit-go/pkg/version"
)

const (
	defaultCRLDir = "../certs/crl"
	helloMessage  = "hello from sslkit"
)

// Config holds the client settings.
type Config struct {
	Host    string
	Port    int
	Version int
	Ciphers string

	CertFile string
	KeyFile  string
	CAFile   string
	NoVerify bool

	DTLS       bool
	ServerName string

	IOCallbacks     bool
	LogCallback     bool
	RecordCallbacks bool
	PKCallbacks     bool

	CRLDir     string
	CRLMonitor bool
	OCSP       bool
	OCSPURL    string

	ConfigFile  string
	Interactive bool
	ProtocolLog string
	LogLevel    string
	Message     string
	Timeout     time.Duration
}

func registerFlags(fs *flag.FlagSet, c *Config) {
	fs.StringVar(&c.Host, "h", "localhost", "Host to connect to")
	fs.IntVar(&c.Port, "p", 11111, "Port to connect to")
	fs.IntVar(&c.Version, "v", 3, "SSL version: 0 = SSLv3, 1 = TLS 1.0, 2 = TLS 1.1, 3 = TLS 1.2, -1 = highest common")
	fs.StringVar(&c.Ciphers, "l", "", "Cipher list")
	fs.StringVar(&c.CertFile, "c", "../certs/client-cert.pem", "Certificate file")
	fs.StringVar(&c.KeyFile, "k", "../certs/client-key.pem", "Private key file")
	fs.StringVar(&c.CAFile, "A", "../certs/ca-cert.pem", "Certificate authority file")
	fs.BoolVar(&c.NoVerify, "d", false, "Disable peer verification")
	fs.BoolVar(&c.DTLS, "u", false, "Use UDP DTLS")
	fs.StringVar(&c.ServerName, "s", "", "Server name sent in the SNI extension")
	fs.BoolVar(&c.IOCallbacks, "iocb", false, "Send and receive through I/O callbacks")
	fs.BoolVar(&c.LogCallback, "logtest", false, "Print library diagnostics through a Logging callback")
	fs.BoolVar(&c.RecordCallbacks, "U", false, "Protect records in MAC/encrypt callbacks")
	fs.BoolVar(&c.PKCallbacks, "P", false, "Route public key operations through callbacks")
	fs.StringVar(&c.CRLDir, "crl-dir", "", "Enable CRL checking with the CRLs in this directory")
	fs.BoolVar(&c.CRLMonitor, "m", false, "Monitor the CRL directory for changes")
	fs.BoolVar(&c.OCSP, "o", false, "Enable OCSP checking without nonces")
	fs.StringVar(&c.OCSPURL, "O", "", "OCSP responder URL used for every query")
	fs.StringVar(&c.ConfigFile, "config", "", "Configuration file (replaces the certificate flags)")
	fs.BoolVar(&c.Interactive, "i", false, "Interactive mode: send each typed line")
	fs.StringVar(&c.ProtocolLog, "protocol-log", "", "Write protocol events to this file")
	fs.StringVar(&c.LogLevel, "log-level", "info", "Log level: trace, debug, info, warn, error")
	fs.StringVar(&c.Message, "msg", helloMessage, "Message sent after the handshake")
	fs.DurationVar(&c.Timeout, "timeout", service.DefaultConnectTimeout, "Connect and handshake timeout")
}

func main() {
	var cfg Config
	registerFlags(flag.CommandLine, &cfg)
	flag.Parse()

	logger := newLogger(cfg.LogLevel)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, &cfg, logger, os.Stdout); err != nil {
		logger.WithError(err).Error("client failed")
		os.Exit(1)
	}
}

func newLogger(level string) *logrus.Logger {
	logger := logrus.New()
	logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		logger.Warnf("unknown log level %q, using info", level)
		lvl = logrus.InfoLevel
	}
	logger.SetLevel(lvl)
	return logger
}

func run(ctx context.Context, cfg *Config, logger *logrus.Logger, out io.Writer) error {
	sslCtx, cleanup, err := buildContext(cfg, logger, out)
	if err != nil {
		return err
	}
	defer cleanup()

	dialer := &service.Dialer{Context: sslCtx, ConnectTimeout: cfg.Timeout}
	if useIOCallbacks(cfg) {
		dialer.Setup = func(s *session.Session, tr transport.Transport) error {
			s.SetCallbackContext(callback.KindIOSend, tr)
			s.SetCallbackContext(callback.KindIORecv, tr)
			return nil
		}
	}

	addr := net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port))
	conn, err := dialer.Dial(ctx, addr, cfg.ServerName)
	if err != nil {
		fmt.Fprintf(out, "connect failed. err = %v\n", err)
		return err
	}
	defer conn.Close()

	host, _, err := net.SplitHostPort(conn.RemoteAddr().String())
	if err != nil {
		host = cfg.Host
	}
	fmt.Fprintf(out, "Connected to %s on port %d\n", host, cfg.Port)
	if useIOCallbacks(cfg) {
		fmt.Fprintln(out, "Registered I/O callbacks")
	}
	showPeer(out, conn)

	if cfg.Interactive {
		shell, err := interactive.New(conn)
		if err != nil {
			return err
		}
		logger.SetOutput(shell.Stdout())
		return shell.Run()
	}
	return exchange(out, conn, cfg.Message)
}

// buildContext creates the client context from cfg and registers the
// callbacks it asks for. cleanup destroys the context and closes the
// protocol log.
func buildContext(cfg *Config, logger *logrus.Logger, out io.Writer) (*session.Context, func(), error) {
	opts := []session.Option{session.WithLogrus(logger)}
	var fileLog *log.FileLogger
	if cfg.ProtocolLog != "" {
		fl, err := log.NewFileLogger(cfg.ProtocolLog)
		if err != nil {
			return nil, nil, fmt.Errorf("protocol log: %w", err)
		}
		fileLog = fl
		opts = append(opts, session.WithLogger(fl))
	}
	closeLog := func() {
		if fileLog != nil {
			_ = fileLog.Close()
		}
	}

	ctx, err := newContext(cfg, opts)
	if err != nil {
		closeLog()
		return nil, nil, err
	}
	cleanup := func() {
		_ = ctx.Destroy()
		closeLog()
	}
	if err := configureRevocation(ctx, cfg, out); err != nil {
		cleanup()
		return nil, nil, err
	}

	if useIOCallbacks(cfg) {
		registerIOCallbacks(ctx, logger)
	}
	if cfg.LogCallback {
		registerLogCallback(ctx, out)
	}
	if cfg.RecordCallbacks {
		registerRecordCallbacks(ctx)
	}
	if cfg.PKCallbacks {
		registerPKCallbacks(ctx, logger)
	}
	return ctx, cleanup, nil
}

// useIOCallbacks reports whether records go through the I/O callbacks.
// DTLS always does.
func useIOCallbacks(cfg *Config) bool {
	return cfg.IOCallbacks || cfg.DTLS
}

func newContext(cfg *Config, opts []session.Option) (*session.Context, error) {
	if cfg.ConfigFile != "" {
		c, err := config.Load(cfg.ConfigFile)
		if err != nil {
			return nil, err
		}
		if c.MethodValue().Role() != version.RoleClient {
			return nil, fmt.Errorf("%s: method %s is not a client method", cfg.ConfigFile, c.Method)
		}
		cfg.DTLS = c.MethodValue().Datagram()
		if cfg.ServerName == "" {
			cfg.ServerName = c.ServerName
		}
		return c.NewContext(opts...)
	}

	method, err := version.ForClientFlag(cfg.Version, cfg.DTLS)
	if err != nil {
		return nil, err
	}
	ctx, err := session.NewContext(method, opts...)
	if err != nil {
		return nil, err
	}
	if err := applyFlags(ctx, cfg); err != nil {
		_ = ctx.Destroy()
		return nil, err
	}
	return ctx, nil
}

func applyFlags(ctx *session.Context, cfg *Config) error {
	if cfg.CertFile != "" && cfg.KeyFile != "" {
		if err := ctx.UseCertificateChain(cfg.CertFile, cert.FormatPEM); err != nil {
			return fmt.Errorf("certificate: %w", err)
		}
		if err := ctx.UsePrivateKey(cfg.KeyFile, cert.FormatPEM); err != nil {
			return fmt.Errorf("private key: %w", err)
		}
	}
	if cfg.NoVerify {
		ctx.SetVerifyMode(session.VerifyNone, nil)
	} else if err := ctx.LoadTrustAnchors(cfg.CAFile, ""); err != nil {
		return fmt.Errorf("trust anchors: %w", err)
	}
	if cfg.Ciphers != "" {
		if err := ctx.SetCipherList(cfg.Ciphers); err != nil {
			return err
		}
	}
	return nil
}

func configureRevocation(ctx *session.Context, cfg *Config, out io.Writer) error {
	dir := cfg.CRLDir
	if dir == "" && cfg.CRLMonitor {
		dir = defaultCRLDir
	}
	if dir != "" {
		if err := ctx.EnableRevocation(revocation.KindCRL, revocation.CRLCheckAll); err != nil {
			return err
		}
		if err := ctx.SetCRLDirectory(dir, cfg.CRLMonitor); err != nil {
			return fmt.Errorf("crl: %w", err)
		}
	}
	if ctx.CRLStore() != nil {
		registerMissingCRLCallback(ctx, out)
	}

	if cfg.OCSP {
		if err := ctx.EnableRevocation(revocation.KindOCSP, revocation.OCSPNoNonce); err != nil {
			return err
		}
		if cfg.OCSPURL != "" {
			ctx.SetOCSPResponderOverride(cfg.OCSPURL)
		}
	}
	return nil
}

func showPeer(out io.Writer, conn interactive.Conn) {
	if peer := conn.PeerCertificate(); peer != nil {
		fmt.Fprintf(out, "issuer : %s\n", peer.Issuer)
		fmt.Fprintf(out, "subject : %s\n", peer.Subject)
		for name := range peer.AltNames() {
			fmt.Fprintf(out, "altname = %s\n", name)
		}
	} else {
		fmt.Fprintln(out, "peer has no cert!")
	}
	fmt.Fprintf(out, "SSL version is %s\n", conn.Version())
	fmt.Fprintf(out, "SSL cipher suite is %s\n", conn.CipherSuiteName())
}

func exchange(out io.Writer, conn io.ReadWriter, msg string) error {
	if _, err := conn.Write([]byte(msg)); err != nil {
		return fmt.Errorf("write: %w", err)
	}
	buf := make([]byte, 16*1024)
	n, err := conn.Read(buf)
	if err != nil {
		return fmt.Errorf("read: %w", err)
	}
	fmt.Fprintf(out, "got back: %s\n", buf[:n])
	return nil
}
