package revocation

import (
	"bytes"
	"context"
	"crypto/rand"
	"crypto/sha1"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/asn1"
	"encoding/hex"
	"errors"
	"fmt"
	"math/big"
	"time"

	lrucache "github.com/cognusion/go-cache-lru"
	"golang.org/x/crypto/ocsp"
	"golang.org/x/sync/singleflight"

	"github.com/sslkit/sslkit-go/pkg/status"
)

const (
	// DefaultCacheSize bounds the number of cached OCSP responses.
	DefaultCacheSize = 1024

	cacheCleanupInterval = time.Minute
	nonceLen             = 16
)

var (
	oidSHA1      = asn1.ObjectIdentifier{1, 3, 14, 3, 2, 26}
	oidOCSPNonce = asn1.ObjectIdentifier{1, 3, 6, 1, 5, 5, 7, 48, 1, 2}
)

// ErrNoResponder is returned when a certificate names no OCSP responder and
// no override is configured.
var ErrNoResponder = errors.New("no OCSP responder")

// OCSPChecker queries OCSP responders. It is safe for concurrent use.
type OCSPChecker struct {
	fetcher  Fetcher
	override string
	opts     Options
	now      func() time.Time

	cache *lrucache.Cache
	group singleflight.Group
}

// NewOCSPChecker creates a checker. A nil fetcher uses HTTPFetcher.
func NewOCSPChecker(fetcher Fetcher, override string, opts Options) *OCSPChecker {
	if fetcher == nil {
		fetcher = &HTTPFetcher{}
	}
	return &OCSPChecker{
		fetcher:  fetcher,
		override: override,
		opts:     opts,
		now:      time.Now,
		cache:    lrucache.NewWithLRU(lrucache.NoExpiration, cacheCleanupInterval, DefaultCacheSize),
	}
}

// SetOverride sets the responder URL that takes precedence over the
// certificate's own responders.
func (c *OCSPChecker) SetOverride(url string) {
	c.override = url
}

// ResponderURL returns the URL queried for cert.
func (c *OCSPChecker) ResponderURL(cert *x509.Certificate) (string, error) {
	if c.override != "" {
		return c.override, nil
	}
	if len(cert.OCSPServer) > 0 {
		return cert.OCSPServer[0], nil
	}
	return "", ErrNoResponder
}

// CheckCert returns nil when the responder reports cert as good.
func (c *OCSPChecker) CheckCert(ctx context.Context, cert, issuer *x509.Certificate) error {
	resp, err := c.status(ctx, cert, issuer)
	if err != nil {
		if status.CodeOf(err) == status.CodeOCSPUnreachable && c.opts.Has(OCSPFailOpen) {
			return nil
		}
		return err
	}
	switch resp.Status {
	case ocsp.Good:
		return nil
	case ocsp.Revoked:
		return status.Errorf(status.CodeCertRevoked, "certificate %X revoked at %s (OCSP)",
			cert.SerialNumber, resp.RevokedAt.Format(time.RFC3339))
	default:
		return status.Errorf(status.CodeOCSPUnknown, "responder does not know certificate %X", cert.SerialNumber)
	}
}

func cacheKey(cert, issuer *x509.Certificate) string {
	h := sha1.Sum(issuer.RawSubject)
	return hex.EncodeToString(h[:]) + ":" + cert.SerialNumber.Text(16)
}

func (c *OCSPChecker) status(ctx context.Context, cert, issuer *x509.Certificate) (*ocsp.Response, error) {
	key := cacheKey(cert, issuer)
	if v, ok := c.cache.Get(key); ok {
		return v.(*ocsp.Response), nil
	}

	v, err, _ := c.group.Do(key, func() (any, error) {
		resp, err := c.query(ctx, cert, issuer)
		if err != nil {
			return nil, err
		}
		if !resp.NextUpdate.IsZero() {
			if ttl := resp.NextUpdate.Sub(c.now()); ttl > 0 {
				c.cache.Set(key, resp, ttl)
			}
		}
		return resp, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*ocsp.Response), nil
}

func (c *OCSPChecker) query(ctx context.Context, cert, issuer *x509.Certificate) (*ocsp.Response, error) {
	url, err := c.ResponderURL(cert)
	if err != nil {
		return nil, status.Wrap(status.CodeOCSPUnreachable, err)
	}

	var nonce []byte
	if !c.opts.Has(OCSPNoNonce) {
		nonce = make([]byte, nonceLen)
		if _, err := rand.Read(nonce); err != nil {
			return nil, status.Wrap(status.CodeOCSPUnreachable, err)
		}
	}
	req, err := CreateRequest(cert, issuer, nonce)
	if err != nil {
		return nil, status.Wrap(status.CodeOCSPBadResponse, err)
	}

	der, err := c.fetcher.Fetch(ctx, url, req)
	if err != nil {
		return nil, status.Errorf(status.CodeOCSPUnreachable, "query %s: %w", url, err)
	}

	resp, err := ocsp.ParseResponseForCert(der, cert, issuer)
	if err != nil {
		return nil, status.Errorf(status.CodeOCSPBadResponse, "parse response from %s: %w", url, err)
	}
	if nonce != nil {
		if err := checkNonce(resp, nonce); err != nil {
			return nil, err
		}
	}
	if now := c.now(); !resp.NextUpdate.IsZero() && now.After(resp.NextUpdate) {
		return nil, status.Errorf(status.CodeOCSPBadResponse, "stale response from %s", url)
	}
	return resp, nil
}

type certID struct {
	HashAlgorithm pkix.AlgorithmIdentifier
	NameHash      []byte
	IssuerKeyHash []byte
	SerialNumber  *big.Int
}

type singleRequest struct {
	Cert certID
}

type tbsRequest struct {
	Version     int `asn1:"explicit,tag:0,default:0,optional"`
	RequestList []singleRequest
	Extensions  []pkix.Extension `asn1:"explicit,tag:2,optional"`
}

type ocspRequest struct {
	TBSRequest tbsRequest
}

// CreateRequest builds a DER OCSP request for cert with SHA-1 CertID
// hashes. A non-empty nonce is carried in the request extensions.
func CreateRequest(cert, issuer *x509.Certificate, nonce []byte) ([]byte, error) {
	var spki struct {
		Algorithm pkix.AlgorithmIdentifier
		PublicKey asn1.BitString
	}
	if _, err := asn1.Unmarshal(issuer.RawSubjectPublicKeyInfo, &spki); err != nil {
		return nil, fmt.Errorf("parse issuer key: %w", err)
	}
	nameHash := sha1.Sum(issuer.RawSubject)
	keyHash := sha1.Sum(spki.PublicKey.RightAlign())

	req := ocspRequest{TBSRequest: tbsRequest{
		RequestList: []singleRequest{{Cert: certID{
			HashAlgorithm: pkix.AlgorithmIdentifier{
				Algorithm:  oidSHA1,
				Parameters: asn1.RawValue{Tag: 5},
			},
			NameHash:      nameHash[:],
			IssuerKeyHash: keyHash[:],
			SerialNumber:  cert.SerialNumber,
		}}},
	}}
	if len(nonce) > 0 {
		value, err := asn1.Marshal(nonce)
		if err != nil {
			return nil, err
		}
		req.TBSRequest.Extensions = []pkix.Extension{{Id: oidOCSPNonce, Value: value}}
	}
	return asn1.Marshal(req)
}

// RequestNonce extracts the nonce from a DER request built by
// CreateRequest.
func RequestNonce(der []byte) ([]byte, bool) {
	var req ocspRequest
	if _, err := asn1.Unmarshal(der, &req); err != nil {
		return nil, false
	}
	return findNonce(req.TBSRequest.Extensions)
}

type responseData struct {
	Version        int `asn1:"optional,default:0,explicit,tag:0"`
	RawResponderID asn1.RawValue
	ProducedAt     time.Time `asn1:"generalized"`
	Responses      []asn1.RawValue
	Extensions     []pkix.Extension `asn1:"explicit,tag:1,optional"`
}

func findNonce(exts []pkix.Extension) ([]byte, bool) {
	for _, e := range exts {
		if !e.Id.Equal(oidOCSPNonce) {
			continue
		}
		var n []byte
		if _, err := asn1.Unmarshal(e.Value, &n); err != nil {
			// Some responders put the raw nonce in the extension value.
			return e.Value, true
		}
		return n, true
	}
	return nil, false
}

// checkNonce verifies an echoed nonce. A response without a nonce is
// accepted because many responders serve pre-signed responses.
func checkNonce(resp *ocsp.Response, nonce []byte) error {
	got, ok := findNonce(resp.Extensions)
	if !ok && len(resp.TBSResponseData) > 0 {
		var rd responseData
		if _, err := asn1.Unmarshal(resp.TBSResponseData, &rd); err == nil {
			got, ok = findNonce(rd.Extensions)
		}
	}
	if ok && !bytes.Equal(got, nonce) {
		return status.Errorf(status.CodeOCSPBadResponse, "nonce mismatch")
	}
	return nil
}
