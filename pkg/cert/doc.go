// Package cert loads certificate and key material and verifies peer
// certificate chains.
//
// Certificates and keys are read as PEM or DER. A chain file in PEM form may
// hold several certificates, leaf first. Private keys are accepted in
// PKCS#8, PKCS#1 and SEC 1 encodings and are normalized to PKCS#8 DER so
// public-key callbacks always see the same form.
//
// Trust anchors come from a bundle file, a directory of certificate files,
// or both. Chain verification maps x509 failures onto status codes so a
// session can report them without inspecting x509 error types itself.
package cert
