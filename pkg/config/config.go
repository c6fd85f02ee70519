// Package config loads session.Context settings from YAML files.
//
// A minimal client configuration:
//
//	method: tlsv1.2-client
//	trust: {file: certs/ca-cert.pem}
//	server_name: www.example.com
//
// Relative paths are resolved against the directory of the file passed to
// Load.
package config

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/sslkit/sslkit-go/pkg/cert"
	"github.com/sslkit/sslkit-go/pkg/ciphersuite"
	"github.com/sslkit/sslkit-go/pkg/retransmit"
	"github.com/sslkit/sslkit-go/pkg/revocation"
	"github.com/sslkit/sslkit-go/pkg/session"
	"github.com/sslkit/sslkit-go/pkg/status"
	"github.com/sslkit/sslkit-go/pkg/version"
)

// Config is the file representation of a Context.
type Config struct {
	Method      string `yaml:"method"`
	Certificate *File  `yaml:"certificate,omitempty"`
	PrivateKey  *File  `yaml:"private_key,omitempty"`
	Trust       *Trust `yaml:"trust,omitempty"`
	Verify      string `yaml:"verify,omitempty"`
	Ciphers     string `yaml:"ciphers,omitempty"`
	ServerName  string `yaml:"server_name,omitempty"`
	CRL         CRL    `yaml:"crl,omitempty"`
	OCSP        OCSP   `yaml:"ocsp,omitempty"`
	DTLS        DTLS   `yaml:"dtls,omitempty"`
	MTU         int    `yaml:"mtu,omitempty"`

	// Listen is the address served by sslkit-server.
	Listen string `yaml:"listen,omitempty"`
}

// File names certificate or key material on disk.
type File struct {
	Path   string `yaml:"path"`
	Format string `yaml:"format,omitempty"`
}

// Trust names the trust anchors. Either field may be empty.
type Trust struct {
	File string `yaml:"file,omitempty"`
	Dir  string `yaml:"dir,omitempty"`
}

// CRL configures CRL checking.
type CRL struct {
	Enabled  bool   `yaml:"enabled"`
	Dir      string `yaml:"dir,omitempty"`
	Monitor  bool   `yaml:"monitor,omitempty"`
	CheckAll bool   `yaml:"check_all,omitempty"`
}

// OCSP configures OCSP checking.
type OCSP struct {
	Enabled   bool   `yaml:"enabled"`
	Responder string `yaml:"responder,omitempty"`
	NoNonce   bool   `yaml:"no_nonce,omitempty"`
	FailOpen  bool   `yaml:"fail_open,omitempty"`
	CheckAll  bool   `yaml:"check_all,omitempty"`
}

// DTLS holds the flight retransmission timer.
type DTLS struct {
	InitialTimeout time.Duration `yaml:"initial_timeout,omitempty"`
	MaxTimeout     time.Duration `yaml:"max_timeout,omitempty"`
	MaxRetries     int           `yaml:"max_retries,omitempty"`
}

// LoadError reports a configuration file that could not be used.
type LoadError struct {
	File    string
	Message string
	Cause   error
}

func (e *LoadError) Error() string {
	msg := e.Message
	if e.File != "" {
		msg = e.File + ": " + msg
	}
	if e.Cause != nil {
		msg += ": " + e.Cause.Error()
	}
	return msg
}

func (e *LoadError) Unwrap() error {
	return e.Cause
}

// Parse decodes and validates YAML configuration data.
func Parse(data []byte) (*Config, error) {
	var c Config
	if err := yaml.Unmarshal(data, &c); err != nil {
		return nil, &LoadError{
			Message: "failed to parse YAML",
			Cause:   status.Wrap(status.CodeBadParameter, err),
		}
	}
	if err := c.Validate(); err != nil {
		return nil, &LoadError{Message: "invalid configuration", Cause: err}
	}
	return &c, nil
}

// Load reads path and resolves relative paths against its directory.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &LoadError{
			File:    path,
			Message: "failed to read file",
			Cause:   status.Wrap(status.CodeBadFile, err),
		}
	}
	c, err := Parse(data)
	if err != nil {
		if le, ok := err.(*LoadError); ok {
			le.File = path
		}
		return nil, err
	}
	c.resolve(filepath.Dir(path))
	return c, nil
}

func (c *Config) resolve(base string) {
	abs := func(p *string) {
		if *p != "" && !filepath.IsAbs(*p) {
			*p = filepath.Join(base, *p)
		}
	}
	if c.Certificate != nil {
		abs(&c.Certificate.Path)
	}
	if c.PrivateKey != nil {
		abs(&c.PrivateKey.Path)
	}
	if c.Trust != nil {
		abs(&c.Trust.File)
		abs(&c.Trust.Dir)
	}
	abs(&c.CRL.Dir)
}

// Validate checks every field that can be checked without touching files.
func (c *Config) Validate() error {
	m, err := version.ParseMethod(c.Method)
	if err != nil {
		return status.Wrap(status.CodeBadMethod, err)
	}
	if !m.Supported() {
		return status.Errorf(status.CodeBadMethod, "%s is not supported", m)
	}
	if c.Verify != "" {
		if _, err := session.ParseVerifyMode(c.Verify); err != nil {
			return status.Wrap(status.CodeBadParameter, err)
		}
	}
	for name, f := range map[string]*File{"certificate": c.Certificate, "private_key": c.PrivateKey} {
		if f == nil {
			continue
		}
		if f.Path == "" {
			return status.Errorf(status.CodeBadParameter, "%s: path is required", name)
		}
		if _, err := f.format(); err != nil {
			return err
		}
	}
	if (c.Certificate == nil) != (c.PrivateKey == nil) {
		return status.Errorf(status.CodeBadParameter, "certificate and private_key must be given together")
	}
	if c.Trust != nil && c.Trust.File == "" && c.Trust.Dir == "" {
		return status.Errorf(status.CodeBadParameter, "trust: file or dir is required")
	}
	if c.Ciphers != "" {
		if _, err := ciphersuite.ParseList(c.Ciphers); err != nil {
			return err
		}
	}
	if c.CRL.Monitor && c.CRL.Dir == "" {
		return status.Errorf(status.CodeBadParameter, "crl: monitor requires dir")
	}
	if r := c.OCSP.Responder; r != "" {
		u, err := url.Parse(r)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") {
			return status.Errorf(status.CodeBadParameter, "ocsp: responder %q is not an http URL", r)
		}
	}
	if c.DTLS.InitialTimeout < 0 || c.DTLS.MaxTimeout < 0 || c.DTLS.MaxRetries < 0 {
		return status.Errorf(status.CodeBadParameter, "dtls: timer settings must not be negative")
	}
	if c.DTLS.MaxTimeout > 0 && c.DTLS.MaxTimeout < c.DTLS.InitialTimeout {
		return status.Errorf(status.CodeBadParameter, "dtls: max_timeout below initial_timeout")
	}
	if c.MTU < 0 {
		return status.Errorf(status.CodeBadParameter, "mtu must not be negative")
	}
	return nil
}

func (f *File) format() (cert.Format, error) {
	if f.Format == "" {
		return cert.FormatPEM, nil
	}
	format, ok := cert.ParseFormat(f.Format)
	if !ok {
		return 0, status.Errorf(status.CodeBadFileType, "unknown format %q", f.Format)
	}
	return format, nil
}

// MethodValue returns the parsed method. Call it after Validate.
func (c *Config) MethodValue() version.Method {
	m, _ := version.ParseMethod(c.Method)
	return m
}

// Retransmit returns the DTLS timer settings with defaults filled in.
func (c *Config) Retransmit() retransmit.Config {
	cfg := retransmit.DefaultConfig()
	if c.DTLS.InitialTimeout > 0 {
		cfg.Initial = c.DTLS.InitialTimeout
	}
	if c.DTLS.MaxTimeout > 0 {
		cfg.Max = c.DTLS.MaxTimeout
	}
	if c.DTLS.MaxRetries > 0 {
		cfg.MaxRetries = c.DTLS.MaxRetries
	}
	return cfg
}

// NewContext builds a Context from the configuration. opts are applied
// after the options derived from the file.
func (c *Config) NewContext(opts ...session.Option) (*session.Context, error) {
	if err := c.Validate(); err != nil {
		return nil, err
	}
	base := []session.Option{session.WithRetransmitConfig(c.Retransmit())}
	if c.MTU > 0 {
		base = append(base, session.WithMTU(c.MTU))
	}
	ctx, err := session.NewContext(c.MethodValue(), append(base, opts...)...)
	if err != nil {
		return nil, err
	}
	if err := c.apply(ctx); err != nil {
		_ = ctx.Destroy()
		return nil, err
	}
	return ctx, nil
}

func (c *Config) apply(ctx *session.Context) error {
	if c.Certificate != nil {
		format, _ := c.Certificate.format()
		if err := ctx.UseCertificateChain(c.Certificate.Path, format); err != nil {
			return fmt.Errorf("certificate: %w", err)
		}
		format, _ = c.PrivateKey.format()
		if err := ctx.UsePrivateKey(c.PrivateKey.Path, format); err != nil {
			return fmt.Errorf("private_key: %w", err)
		}
	}
	if c.Trust != nil {
		if err := ctx.LoadTrustAnchors(c.Trust.File, c.Trust.Dir); err != nil {
			return fmt.Errorf("trust: %w", err)
		}
	}
	if c.Verify != "" {
		mode, _ := session.ParseVerifyMode(c.Verify)
		ctx.SetVerifyMode(mode, nil)
	}
	if c.Ciphers != "" {
		if err := ctx.SetCipherList(c.Ciphers); err != nil {
			return err
		}
	}

	if c.CRL.Enabled {
		var opts revocation.Options
		if c.CRL.CheckAll {
			opts |= revocation.CRLCheckAll
		}
		if err := ctx.EnableRevocation(revocation.KindCRL, opts); err != nil {
			return err
		}
		if c.CRL.Dir != "" {
			if err := ctx.SetCRLDirectory(c.CRL.Dir, c.CRL.Monitor); err != nil {
				return fmt.Errorf("crl: %w", err)
			}
		}
	}
	if c.OCSP.Enabled {
		var opts revocation.Options
		if c.OCSP.CheckAll {
			opts |= revocation.OCSPCheckAll
		}
		if c.OCSP.NoNonce {
			opts |= revocation.OCSPNoNonce
		}
		if c.OCSP.FailOpen {
			opts |= revocation.OCSPFailOpen
		}
		if err := ctx.EnableRevocation(revocation.KindOCSP, opts); err != nil {
			return err
		}
		if c.OCSP.Responder != "" {
			ctx.SetOCSPResponderOverride(c.OCSP.Responder)
		}
	}
	return nil
}
