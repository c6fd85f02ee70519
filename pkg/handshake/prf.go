package handshake

import (
	"crypto"
	"crypto/hmac"
	"crypto/md5"
	"crypto/sha1"
	"hash"

	"github.com/sslkit/sslkit-go/pkg/ciphersuite"
	"github.com/sslkit/sslkit-go/pkg/record"
)

const (
	// MasterSecretLen is the length of the master secret.
	MasterSecretLen = 48

	// FinishedLen is the length of the Finished verify data.
	FinishedLen = 12
)

const (
	labelMaster         = "master secret"
	labelKeyExpansion   = "key expansion"
	labelClientFinished = "client finished"
	labelServerFinished = "server finished"
)

// pHash is P_hash from RFC 5246 section 5.
func pHash(out, secret, seed []byte, h func() hash.Hash) {
	mac := hmac.New(h, secret)
	mac.Write(seed)
	a := mac.Sum(nil)

	for j := 0; j < len(out); {
		mac.Reset()
		mac.Write(a)
		mac.Write(seed)
		b := mac.Sum(nil)
		j += copy(out[j:], b)

		mac.Reset()
		mac.Write(a)
		a = mac.Sum(nil)
	}
}

// PRF computes n bytes of the TLS pseudo-random function. A zero prfHash
// selects the TLS 1.0/1.1 construction (MD5 xor SHA-1 over split halves).
func PRF(prfHash crypto.Hash, secret []byte, label string, seed []byte, n int) []byte {
	labelSeed := make([]byte, 0, len(label)+len(seed))
	labelSeed = append(labelSeed, label...)
	labelSeed = append(labelSeed, seed...)

	out := make([]byte, n)
	if prfHash != 0 {
		pHash(out, secret, labelSeed, prfHash.New)
		return out
	}

	half := (len(secret) + 1) / 2
	s1, s2 := secret[:half], secret[len(secret)-half:]
	pHash(out, s1, labelSeed, md5.New)
	tmp := make([]byte, n)
	pHash(tmp, s2, labelSeed, sha1.New)
	for i := range out {
		out[i] ^= tmp[i]
	}
	return out
}

// MasterSecret derives the master secret from the premaster secret.
func MasterSecret(prfHash crypto.Hash, premaster, clientRandom, serverRandom []byte) []byte {
	seed := make([]byte, 0, 2*RandomLen)
	seed = append(seed, clientRandom...)
	seed = append(seed, serverRandom...)
	return PRF(prfHash, premaster, labelMaster, seed, MasterSecretLen)
}

// KeyBlock expands the master secret into client and server write keys.
func KeyBlock(prfHash crypto.Hash, suite *ciphersuite.Suite, master, clientRandom, serverRandom []byte) (client, server record.Keys) {
	macLen, keyLen, ivLen := suite.MACLen(), suite.KeyLen, suite.IVLen()

	seed := make([]byte, 0, 2*RandomLen)
	seed = append(seed, serverRandom...)
	seed = append(seed, clientRandom...)
	block := PRF(prfHash, master, labelKeyExpansion, seed, 2*(macLen+keyLen+ivLen))

	take := func(n int) []byte {
		out := block[:n:n]
		block = block[n:]
		return out
	}
	client.MACKey = take(macLen)
	server.MACKey = take(macLen)
	client.Key = take(keyLen)
	server.Key = take(keyLen)
	client.IV = take(ivLen)
	server.IV = take(ivLen)
	return client, server
}

// FinishedData computes verify_data for the given side over the transcript
// hash.
func FinishedData(prfHash crypto.Hash, master []byte, client bool, transcriptHash []byte) []byte {
	label := labelServerFinished
	if client {
		label = labelClientFinished
	}
	return PRF(prfHash, master, label, transcriptHash, FinishedLen)
}
