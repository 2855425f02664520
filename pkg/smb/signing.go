package smb

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/binary"

	"github.com/ineffectivecoder/tschexec/pkg/smb/types"
)

// signature field of the SMB2 header
const (
	signatureOffset = 48
	signatureSize   = 16
)

// messageSignature computes the header signature of message with the
// signature field treated as zero. SMB 2.x uses HMAC-SHA256, 3.x AES-CMAC.
func messageSignature(dialect types.Dialect, key, message []byte) []byte {
	buf := make([]byte, len(message))
	copy(buf, message)
	clear(buf[signatureOffset : signatureOffset+signatureSize])

	if dialect >= types.DialectSMB3_0 {
		return aesCMAC(key, buf)
	}
	mac := hmac.New(sha256.New, key)
	mac.Write(buf)
	return mac.Sum(nil)[:signatureSize]
}

// signMessage returns a copy of message with its signature field set
func signMessage(dialect types.Dialect, key, message []byte) []byte {
	if len(key) == 0 || len(message) < types.SMB2HeaderSize {
		return message
	}
	sig := messageSignature(dialect, key, message)
	signed := make([]byte, len(message))
	copy(signed, message)
	copy(signed[signatureOffset:], sig)
	return signed
}

func verifySignature(dialect types.Dialect, key, message []byte) bool {
	if len(key) == 0 || len(message) < types.SMB2HeaderSize {
		return false
	}
	return hmac.Equal(message[signatureOffset:signatureOffset+signatureSize], messageSignature(dialect, key, message))
}

// aesCMAC is AES-128-CMAC (RFC 4493)
func aesCMAC(key, message []byte) []byte {
	block, err := aes.NewCipher(key[:16])
	if err != nil {
		return make([]byte, signatureSize)
	}
	k1, k2 := cmacSubkeys(block)

	n := (len(message) + aes.BlockSize - 1) / aes.BlockSize
	complete := n > 0 && len(message)%aes.BlockSize == 0
	if n == 0 {
		n = 1
	}

	x := make([]byte, aes.BlockSize)
	for i := 0; i < n-1; i++ {
		xorInto(x, message[i*aes.BlockSize:])
		block.Encrypt(x, x)
	}

	last := make([]byte, aes.BlockSize)
	tail := message[(n-1)*aes.BlockSize:]
	copy(last, tail)
	if complete {
		xorInto(last, k1)
	} else {
		last[len(tail)] = 0x80
		xorInto(last, k2)
	}
	xorInto(x, last)
	block.Encrypt(x, x)
	return x
}

func cmacSubkeys(block cipher.Block) (k1, k2 []byte) {
	l := make([]byte, aes.BlockSize)
	block.Encrypt(l, l)
	k1 = doubleBlock(l)
	k2 = doubleBlock(k1)
	return k1, k2
}

// doubleBlock multiplies b by x in GF(2^128)
func doubleBlock(b []byte) []byte {
	hi := binary.BigEndian.Uint64(b[:8])
	lo := binary.BigEndian.Uint64(b[8:])
	out := make([]byte, aes.BlockSize)
	binary.BigEndian.PutUint64(out[:8], hi<<1|lo>>63)
	binary.BigEndian.PutUint64(out[8:], lo<<1)
	if hi>>63 == 1 {
		out[15] ^= 0x87
	}
	return out
}

// xorInto XORs src into dst over len(dst) bytes
func xorInto(dst, src []byte) {
	for i := range dst {
		dst[i] ^= src[i]
	}
}

// SMB 3.0/3.0.2 key derivation labels and contexts
var (
	labelSigning  = []byte("SMB2AESCMAC\x00")
	ctxSigning    = []byte("SmbSign\x00")
	labelCipher   = []byte("SMB2AESCCM\x00")
	ctxServerIn   = []byte("ServerIn \x00")
	ctxServerOut  = []byte("ServerOut\x00")
	labelSigning3 = []byte("SMBSigningKey\x00")
	labelC2S      = []byte("SMBC2SCipherKey\x00")
	labelS2C      = []byte("SMBS2CCipherKey\x00")
)

// deriveSigningKey returns the signing key for dialect. SMB 2.x signs with
// the session key itself. preauthHash is only used by 3.1.1.
func deriveSigningKey(sessionKey []byte, dialect types.Dialect, preauthHash []byte) []byte {
	switch {
	case dialect < types.DialectSMB3_0:
		return sessionKey
	case dialect >= types.DialectSMB3_1_1:
		return kdf(sessionKey, labelSigning3, preauthHash)
	}
	return kdf(sessionKey, labelSigning, ctxSigning)
}

func deriveEncryptionKey(sessionKey []byte, dialect types.Dialect, preauthHash []byte) []byte {
	switch {
	case dialect < types.DialectSMB3_0:
		return nil
	case dialect >= types.DialectSMB3_1_1:
		return kdf(sessionKey, labelC2S, preauthHash)
	}
	return kdf(sessionKey, labelCipher, ctxServerIn)
}

func deriveDecryptionKey(sessionKey []byte, dialect types.Dialect, preauthHash []byte) []byte {
	switch {
	case dialect < types.DialectSMB3_0:
		return nil
	case dialect >= types.DialectSMB3_1_1:
		return kdf(sessionKey, labelS2C, preauthHash)
	}
	return kdf(sessionKey, labelCipher, ctxServerOut)
}

// kdf is the SP800-108 counter mode KDF with HMAC-SHA256, one iteration,
// 128-bit output.
func kdf(key, label, context []byte) []byte {
	h := hmac.New(sha256.New, key)
	h.Write([]byte{0, 0, 0, 1})
	h.Write(label)
	h.Write([]byte{0})
	h.Write(context)
	h.Write([]byte{0, 0, 0, 128})
	return h.Sum(nil)[:16]
}
