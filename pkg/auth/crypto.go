package auth

import (
	"crypto/rand"
	"crypto/rc4"
	"strings"
	"time"

	"github.com/ineffectivecoder/tschexec/internal/crypto"
	"github.com/ineffectivecoder/tschexec/internal/encoding"
)

// filetimeEpoch is 1970-01-01 in 100ns ticks since 1601-01-01
const filetimeEpoch = 116444736000000000

func randomBytes(b []byte) {
	rand.Read(b)
}

func rc4Encrypt(key, plaintext []byte) []byte {
	c, err := rc4.NewCipher(key)
	if err != nil {
		return plaintext
	}
	out := make([]byte, len(plaintext))
	c.XORKeyStream(out, plaintext)
	return out
}

// NTHash is MD4 over the UTF-16LE password
func NTHash(password string) []byte {
	return crypto.MD4Hash(encoding.ToUTF16LE(password))
}

// NTLMv2Hash keys HMAC-MD5 with the NT hash over the upper-cased user name
// and the domain
func NTLMv2Hash(ntHash []byte, username, domain string) []byte {
	return crypto.HMACMD5(ntHash, encoding.ToUTF16LE(strings.ToUpper(username)+domain))
}

// ComputeNTLMv2HashFromPassword is NTLMv2Hash over NTHash(password)
func ComputeNTLMv2HashFromPassword(password, username, domain string) []byte {
	return NTLMv2Hash(NTHash(password), username, domain)
}

// NTLMv2Response returns NTProofStr followed by the client blob, and the
// session base key derived from NTProofStr.
func NTLMv2Response(ntlmv2Hash, serverChallenge, clientChallenge, timestamp, targetInfo []byte) ([]byte, []byte) {
	blob := ntlmv2Blob(clientChallenge, timestamp, targetInfo)
	proof := crypto.HMACMD5(ntlmv2Hash, concat(serverChallenge, blob))
	return concat(proof, blob), crypto.HMACMD5(ntlmv2Hash, proof)
}

// ntlmv2Blob builds the client blob. Without a server timestamp the local
// clock is used.
func ntlmv2Blob(clientChallenge, timestamp, targetInfo []byte) []byte {
	blob := make([]byte, 0, 32+len(targetInfo))
	blob = append(blob, 1, 1, 0, 0, 0, 0, 0, 0)
	if len(timestamp) == 8 {
		blob = append(blob, timestamp...)
	} else {
		blob = encoding.AppendUint64LE(blob, uint64(time.Now().UnixNano()/100+filetimeEpoch))
	}
	blob = append(blob, clientChallenge...)
	blob = append(blob, 0, 0, 0, 0)
	blob = append(blob, targetInfo...)
	return append(blob, 0, 0, 0, 0)
}

// GenerateClientChallenge returns 8 random bytes
func GenerateClientChallenge() []byte {
	c := make([]byte, 8)
	randomBytes(c)
	return c
}

// LMv2Response is HMAC-MD5 over both challenges followed by the client
// challenge
func LMv2Response(ntlmv2Hash, serverChallenge, clientChallenge []byte) []byte {
	return concat(crypto.HMACMD5(ntlmv2Hash, concat(serverChallenge, clientChallenge)), clientChallenge)
}

func concat(a, b []byte) []byte {
	out := make([]byte, 0, len(a)+len(b))
	return append(append(out, a...), b...)
}
