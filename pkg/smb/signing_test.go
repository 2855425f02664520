package smb

import (
	"bytes"
	"encoding/hex"
	"testing"

	"github.com/ineffectivecoder/tschexec/pkg/smb/types"
)

func mustHex(t *testing.T, s string) []byte {
	t.Helper()
	b, err := hex.DecodeString(s)
	if err != nil {
		t.Fatalf("bad hex %q: %v", s, err)
	}
	return b
}

func TestAESCMACVectors(t *testing.T) {
	key := mustHex(t, "2b7e151628aed2a6abf7158809cf4f3c")

	tests := []struct {
		name string
		msg  string
		want string
	}{
		{"empty", "", "bb1d6929e95937287fa37d129b756746"},
		{"one block", "6bc1bee22e409f96e93d7e117393172a", "070a16b46b4d4144f79bdd9dd04a287c"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := aesCMAC(key, mustHex(t, tt.msg))
			if !bytes.Equal(got, mustHex(t, tt.want)) {
				t.Errorf("aesCMAC = %x, want %s", got, tt.want)
			}
		})
	}
}

func TestSignAndVerify(t *testing.T) {
	key := []byte("0123456789abcdef")

	for _, d := range []types.Dialect{types.DialectSMB2_1, types.DialectSMB3_0} {
		t.Run(DialectName(d), func(t *testing.T) {
			msg := make([]byte, 80)
			copy(msg, []byte{0xFE, 'S', 'M', 'B'})
			msg[70] = 0x42

			signed := signMessage(d, key, msg)
			if bytes.Equal(signed[signatureOffset:signatureOffset+signatureSize], make([]byte, signatureSize)) {
				t.Fatal("signature field left empty")
			}
			if !bytes.Equal(msg[signatureOffset:signatureOffset+signatureSize], make([]byte, signatureSize)) {
				t.Error("signMessage modified its input")
			}
			if !verifySignature(d, key, signed) {
				t.Error("verification of signed message failed")
			}

			signed[70] ^= 0xFF
			if verifySignature(d, key, signed) {
				t.Error("verification of tampered message succeeded")
			}
		})
	}
}

func TestDeriveKeys(t *testing.T) {
	sessionKey := []byte("0123456789abcdef")

	if got := deriveSigningKey(sessionKey, types.DialectSMB2_1, nil); !bytes.Equal(got, sessionKey) {
		t.Error("SMB 2.x should sign with the session key")
	}
	if got := deriveEncryptionKey(sessionKey, types.DialectSMB2_1, nil); got != nil {
		t.Error("SMB 2.x has no encryption key")
	}

	sign := deriveSigningKey(sessionKey, types.DialectSMB3_0, nil)
	enc := deriveEncryptionKey(sessionKey, types.DialectSMB3_0, nil)
	dec := deriveDecryptionKey(sessionKey, types.DialectSMB3_0, nil)
	for name, k := range map[string][]byte{"signing": sign, "encryption": enc, "decryption": dec} {
		if len(k) != 16 {
			t.Errorf("%s key length = %d, want 16", name, len(k))
		}
	}
	if bytes.Equal(sign, enc) || bytes.Equal(enc, dec) {
		t.Error("derived keys should differ")
	}
}
