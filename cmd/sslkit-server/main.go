// Command sslkit-server is an echo server for TLS over TCP and DTLS over
// UDP. Every established connection gets back whatever it sends.
//
// Usage:
//
//	sslkit-server [flags]
//
// Flags:
//
//	-b string                 Address to bind (default "")
//	-p int                    Port to listen on (default 11111)
//	-method string            Server method (default "tlsv1.2-server")
//	-u                        Use DTLS 1.2 over UDP
//	-c string                 Certificate file (default "../certs/server-cert.pem")
//	-k string                 Private key file (default "../certs/server-key.pem")
//	-A string                 CA file for client certificates (default "../certs/client-cert.pem")
//	-verify string            Client verification: none, peer, require (default "none")
//	-l string                 Cipher list
//	-crl-dir string           Enable CRL checking of client certificates
//	-m                        Monitor the CRL directory for changes
//	-config string            Configuration file (replaces the flags above)
//	-handshake-timeout        Handshake timeout (default 10s)
//	-idle-timeout             Close connections idle this long (default 0, off)
//	-protocol-log string      Write protocol events to this file (see sslkit-log)
//	-log-level string         Log level: debug, info, warn, error (default "info")
//
// Examples:
//
//	# TLS 1.2 echo server on port 11111
//	sslkit-server
//
//	# DTLS server requiring client certificates
//	sslkit-server -u -verify require -A ../certs/ca-cert.pem
//
//	# Server from a configuration file
//	sslkit-server -config /etc/sslkit/server.yaml
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/sslkit/sslkit-go/pkg/callback"
	"github.com/sslkit/sslkit-go/pkg/cert"
	"github.com/sslkit/sslkit-go/pkg/config"
	"github.com/sslkit/sslkit-go/pkg/log"
	"github.com/sslkit/sslkit-go/pkg/revocation"
	"github.com/sslkit/sslkit-go/pkg/service"
	"github.com/sslkit/sslkit-go/pkg/session"
	"github.com/sslkit/sslkit-go/pkg/version"
)

// Config holds the server settings.
type Config struct {
	Bind    string
	Port    int
	Method  string
	DTLS    bool
	Ciphers string

	CertFile string
	KeyFile  string
	CAFile   string
	Verify   string

	CRLDir     string
	CRLMonitor bool

	ConfigFile       string
	HandshakeTimeout time.Duration
	IdleTimeout      time.Duration
	ProtocolLog      string
	LogLevel         string
}

func registerFlags(fs *flag.FlagSet, c *Config) {
	fs.StringVar(&c.Bind, "b", "", "Address to bind")
	fs.IntVar(&c.Port, "p", 11111, "Port to listen on")
	fs.StringVar(&c.Method, "method", version.TLSv1_2Server.String(), "Server method")
	fs.BoolVar(&c.DTLS, "u", false, "Use DTLS 1.2 over UDP")
	fs.StringVar(&c.Ciphers, "l", "", "Cipher list")
	fs.StringVar(&c.CertFile, "c", "../certs/server-cert.pem", "Certificate file")
	fs.StringVar(&c.KeyFile, "k", "../certs/server-key.pem", "Private key file")
	fs.StringVar(&c.CAFile, "A", "../certs/client-cert.pem", "CA file for client certificates")
	fs.StringVar(&c.Verify, "verify", "none", "Client verification: none, peer, require")
	fs.StringVar(&c.CRLDir, "crl-dir", "", "Enable CRL checking of client certificates")
	fs.BoolVar(&c.CRLMonitor, "m", false, "Monitor the CRL directory for changes")
	fs.StringVar(&c.ConfigFile, "config", "", "Configuration file (replaces the flags above)")
	fs.DurationVar(&c.HandshakeTimeout, "handshake-timeout", service.DefaultHandshakeTimeout, "Handshake timeout")
	fs.DurationVar(&c.IdleTimeout, "idle-timeout", 0, "Close connections idle this long")
	fs.StringVar(&c.ProtocolLog, "protocol-log", "", "Write protocol events to this file")
	fs.StringVar(&c.LogLevel, "log-level", "info", "Log level: debug, info, warn, error")
}

func main() {
	var cfg Config
	registerFlags(flag.CommandLine, &cfg)
	flag.Parse()

	logger := newLogger(cfg.LogLevel)

	srv, cleanup, err := newServer(&cfg, logger)
	if err != nil {
		logger.Error("failed to configure server", "error", err)
		os.Exit(1)
	}
	defer cleanup()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := srv.Start(ctx); err != nil {
		logger.Error("failed to start server", "error", err)
		os.Exit(1)
	}
	logger.Info("listening", "addr", srv.Addr())

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	logger.Info("received signal", "signal", sig)

	if err := srv.Stop(); err != nil {
		logger.Warn("stop failed", "error", err)
	}
}

func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
}

// newServer builds the context and the echo server. cleanup destroys the
// context and closes the protocol log; call it after Stop.
func newServer(cfg *Config, logger *slog.Logger) (*service.Server, func(), error) {
	var loggers []log.Logger
	if logger.Enabled(context.Background(), slog.LevelDebug) {
		loggers = append(loggers, log.NewSlogAdapter(logger))
	}
	var fileLog *log.FileLogger
	if cfg.ProtocolLog != "" {
		fl, err := log.NewFileLogger(cfg.ProtocolLog)
		if err != nil {
			return nil, nil, fmt.Errorf("protocol log: %w", err)
		}
		fileLog = fl
		loggers = append(loggers, fl)
	}
	closeLog := func() {
		if fileLog != nil {
			_ = fileLog.Close()
		}
	}
	var opts []session.Option
	if len(loggers) > 0 {
		opts = append(opts, session.WithLogger(log.NewMultiLogger(loggers...)))
	}

	ctx, listen, err := newContext(cfg, opts)
	if err != nil {
		closeLog()
		return nil, nil, err
	}
	ctx.RegisterCallback(callback.LogFunc(func(sev log.Severity, msg string) {
		logger.Log(context.Background(), slogLevel(sev), msg)
	}))
	cleanup := func() {
		_ = ctx.Destroy()
		closeLog()
	}

	srv, err := service.NewServer(service.ServerConfig{
		Context:          ctx,
		Address:          listen,
		Handler:          service.Echo(logger),
		HandshakeTimeout: cfg.HandshakeTimeout,
		IdleTimeout:      cfg.IdleTimeout,
		Logger:           logger,
		OnConnect: func(c *service.Conn) {
			logger.Info("client connected",
				"peer", c.RemoteAddr(),
				"version", c.Version(),
				"suite", c.CipherSuiteName())
		},
		OnDisconnect: func(c *service.Conn) {
			logger.Info("client disconnected", "peer", c.RemoteAddr())
		},
	})
	if err != nil {
		cleanup()
		return nil, nil, err
	}
	return srv, cleanup, nil
}

// newContext returns the server context and the listen address.
func newContext(cfg *Config, opts []session.Option) (*session.Context, string, error) {
	listen := net.JoinHostPort(cfg.Bind, strconv.Itoa(cfg.Port))

	if cfg.ConfigFile != "" {
		c, err := config.Load(cfg.ConfigFile)
		if err != nil {
			return nil, "", err
		}
		if c.MethodValue().Role() != version.RoleServer {
			return nil, "", fmt.Errorf("%s: method %s is not a server method", cfg.ConfigFile, c.Method)
		}
		if c.Listen != "" {
			listen = c.Listen
		}
		ctx, err := c.NewContext(opts...)
		return ctx, listen, err
	}

	method, err := serverMethod(cfg)
	if err != nil {
		return nil, "", err
	}
	ctx, err := session.NewContext(method, opts...)
	if err != nil {
		return nil, "", err
	}
	if err := applyFlags(ctx, cfg); err != nil {
		_ = ctx.Destroy()
		return nil, "", err
	}
	return ctx, listen, nil
}

func serverMethod(cfg *Config) (version.Method, error) {
	if cfg.DTLS {
		return version.DTLSv1_2Server, nil
	}
	m, err := version.ParseMethod(cfg.Method)
	if err != nil {
		return version.MethodInvalid, err
	}
	if m.Role() != version.RoleServer {
		return version.MethodInvalid, fmt.Errorf("method %s is not a server method", m)
	}
	return m, nil
}

func applyFlags(ctx *session.Context, cfg *Config) error {
	if err := ctx.UseCertificateChain(cfg.CertFile, cert.FormatPEM); err != nil {
		return fmt.Errorf("certificate: %w", err)
	}
	if err := ctx.UsePrivateKey(cfg.KeyFile, cert.FormatPEM); err != nil {
		return fmt.Errorf("private key: %w", err)
	}

	mode, err := session.ParseVerifyMode(cfg.Verify)
	if err != nil {
		return err
	}
	ctx.SetVerifyMode(mode, nil)
	if mode != session.VerifyNone {
		if err := ctx.LoadTrustAnchors(cfg.CAFile, ""); err != nil {
			return fmt.Errorf("trust anchors: %w", err)
		}
	}
	if cfg.Ciphers != "" {
		if err := ctx.SetCipherList(cfg.Ciphers); err != nil {
			return err
		}
	}
	if cfg.CRLDir != "" {
		if err := ctx.EnableRevocation(revocation.KindCRL, revocation.CRLCheckAll); err != nil {
			return err
		}
		if err := ctx.SetCRLDirectory(cfg.CRLDir, cfg.CRLMonitor); err != nil {
			return fmt.Errorf("crl: %w", err)
		}
	}
	return nil
}

func slogLevel(sev log.Severity) slog.Level {
	switch sev {
	case log.SeverityDebug:
		return slog.LevelDebug
	case log.SeverityWarn:
		return slog.LevelWarn
	case log.SeverityError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
