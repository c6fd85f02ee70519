// Package revocation checks certificate revocation status with CRLs and
// OCSP.
//
// CRLs are loaded from a directory into a CRLStore indexed by issuer. The
// store can watch its directory and swap in a fresh snapshot when files
// change. OCSP queries go through a Fetcher, are cached until the
// responder's NextUpdate, and concurrent queries for the same certificate
// are collapsed.
//
// A Checker applies both mechanisms to one verification attempt. Issuers
// without a CRL are reported to a MissingCRLHandler at most once per
// attempt; without a handler a missing CRL denies the chain.
package revocation
