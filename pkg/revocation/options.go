package revocation

import "strings"

// Kind selects a revocation mechanism.
type Kind uint8

const (
	KindCRL Kind = iota + 1
	KindOCSP
)

func (k Kind) String() string {
	switch k {
	case KindCRL:
		return "CRL"
	case KindOCSP:
		return "OCSP"
	default:
		return "UNKNOWN"
	}
}

// Options is a bitmask of revocation policy flags.
type Options uint32

const (
	// CRLCheckAll checks every certificate in the chain instead of the leaf.
	CRLCheckAll Options = 1 << iota

	// OCSPCheckAll queries every certificate in the chain instead of the leaf.
	OCSPCheckAll

	// OCSPNoNonce omits the nonce extension from requests.
	OCSPNoNonce

	// OCSPURLOverride sends every query to the configured responder, even
	// when the certificate names its own.
	OCSPURLOverride

	// OCSPFailOpen accepts certificates whose responder cannot be reached.
	OCSPFailOpen
)

var optionNames = []struct {
	opt  Options
	name string
}{
	{CRLCheckAll, "crl-check-all"},
	{OCSPCheckAll, "ocsp-check-all"},
	{OCSPNoNonce, "ocsp-no-nonce"},
	{OCSPURLOverride, "ocsp-url-override"},
	{OCSPFailOpen, "ocsp-fail-open"},
}

// Has reports whether all bits of o2 are set.
func (o Options) Has(o2 Options) bool {
	return o&o2 == o2
}

func (o Options) String() string {
	var parts []string
	for _, n := range optionNames {
		if o.Has(n.opt) {
			parts = append(parts, n.name)
		}
	}
	if len(parts) == 0 {
		return "none"
	}
	return strings.Join(parts, "|")
}
