package dcerpc

import (
	"crypto/hmac"
	"crypto/md5"
	"crypto/rc4"
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/ineffectivecoder/tschexec/pkg/auth"
)

// rpcNegotiateFlags are the Type 1 flags Windows accepts for a sealed
// binding: 56, KEY_EXCH, 128, TARGET_INFO, extended session security,
// ALWAYS_SIGN, NTLM, SEAL, SIGN, REQUEST_TARGET and UNICODE. No VERSION.
const rpcNegotiateFlags uint32 = 0xe0888235

// rpcAuthenticateFlags are asked for in the Type 3. Optional bits the
// challenge lacks are dropped.
const rpcAuthenticateFlags = 0x62000231 |
	auth.NtlmsspNegotiateExtendedSessionSecurity |
	auth.NtlmsspNegotiateTargetInfo

const ntlmVerifierLen = 16

// signing and sealing key derivation constants (MS-NLMP 3.4.5)
const (
	clientSignMagic = "session key to client-to-server signing key magic constant\x00"
	serverSignMagic = "session key to server-to-client signing key magic constant\x00"
	clientSealMagic = "session key to client-to-server sealing key magic constant\x00"
	serverSealMagic = "session key to server-to-client sealing key magic constant\x00"
)

// NTLMAuth is NTLMv2 with extended session security. The RC4 handles are
// continuous streams for the life of the binding, each sealed PDU
// consuming the payload and then the 8 byte checksum.
type NTLMAuth struct {
	creds auth.Credentials

	clientSignKey []byte
	serverSignKey []byte
	clientSeal    *rc4.Cipher
	serverSeal    *rc4.Cipher
	seq           uint32
}

// NewNTLMAuth creates an NTLM provider for creds
func NewNTLMAuth(creds auth.Credentials) *NTLMAuth {
	return &NTLMAuth{creds: creds}
}

func (a *NTLMAuth) AuthType() uint8    { return AuthTypeNTLM }
func (a *NTLMAuth) AlterContext() bool { return false }
func (a *NTLMAuth) VerifierLen() int   { return ntlmVerifierLen }
func (a *NTLMAuth) PadAlign() int      { return 4 }

// Negotiate returns the Type 1 message
func (a *NTLMAuth) Negotiate() ([]byte, error) {
	return auth.NewNegotiateMessageWithFlags(rpcNegotiateFlags).Marshal(), nil
}

// Accept processes the Type 2 message and returns the Type 3
func (a *NTLMAuth) Accept(token []byte) ([]byte, error) {
	challenge, err := auth.ParseChallengeMessage(token)
	if err != nil {
		return nil, fmt.Errorf("invalid NTLM challenge: %w", err)
	}

	opts := auth.OptionsFor(a.creds, "")
	opts.NegotiateFlags = rpcAuthenticateFlags
	if host := challenge.HostName(); host != "" {
		opts.TargetName = "cifs/" + host
	}
	msg := auth.NewAuthenticateMessage(challenge, opts)

	if msg.NegotiateFlags&auth.NtlmsspNegotiateSeal == 0 {
		return nil, errors.New("server refused NTLM sealing")
	}
	a.deriveKeys(msg.SessionKey())
	return msg.Marshal(), nil
}

func (a *NTLMAuth) deriveKeys(key []byte) {
	a.clientSignKey = magicKey(key, clientSignMagic)
	a.serverSignKey = magicKey(key, serverSignMagic)
	a.clientSeal, _ = rc4.NewCipher(magicKey(key, clientSealMagic))
	a.serverSeal, _ = rc4.NewCipher(magicKey(key, serverSealMagic))
	a.seq = 0
}

func magicKey(key []byte, magic string) []byte {
	h := md5.New()
	h.Write(key)
	h.Write([]byte(magic))
	return h.Sum(nil)
}

// Seal signs the plaintext PDU, then encrypts the payload and the
// checksum on the client stream.
func (a *NTLMAuth) Seal(msg, payload []byte) ([]byte, error) {
	if a.clientSeal == nil {
		return nil, ErrNotBound
	}
	checksum := ntlmChecksum(a.clientSignKey, a.seq, msg)
	a.clientSeal.XORKeyStream(payload, payload)
	a.clientSeal.XORKeyStream(checksum, checksum)

	verifier := make([]byte, ntlmVerifierLen)
	binary.LittleEndian.PutUint32(verifier[0:4], 1)
	copy(verifier[4:12], checksum)
	binary.LittleEndian.PutUint32(verifier[12:16], a.seq)
	a.seq++
	return verifier, nil
}

// Unseal decrypts payload and the checksum on the server stream and
// verifies the signature over the decrypted PDU.
func (a *NTLMAuth) Unseal(msg, payload, verifier []byte) error {
	if a.serverSeal == nil {
		return ErrNotBound
	}
	if len(verifier) < ntlmVerifierLen {
		return ErrBufferTooSmall
	}
	a.serverSeal.XORKeyStream(payload, payload)
	checksum := make([]byte, 8)
	a.serverSeal.XORKeyStream(checksum, verifier[4:12])

	seq := binary.LittleEndian.Uint32(verifier[12:16])
	if !hmac.Equal(checksum, ntlmChecksum(a.serverSignKey, seq, msg)) {
		return ErrBadVerifier
	}
	return nil
}

// ntlmChecksum is the first 8 bytes of HMAC_MD5(key, seq || msg)
func ntlmChecksum(key []byte, seq uint32, msg []byte) []byte {
	h := hmac.New(md5.New, key)
	var s [4]byte
	binary.LittleEndian.PutUint32(s[:], seq)
	h.Write(s[:])
	h.Write(msg)
	return h.Sum(nil)[:8]
}
