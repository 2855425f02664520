package smb

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/hmac"
	"crypto/rand"
	"encoding/binary"
	"errors"
	"fmt"
)

// Cipher identifiers
const (
	EncryptionAES128CCM uint16 = 0x0001
	EncryptionAES128GCM uint16 = 0x0002
)

// TransformHeaderSize is the size of SMB2_TRANSFORM_HEADER
const TransformHeaderSize = 52

var transformProtocolID = [4]byte{0xFD, 'S', 'M', 'B'}

// ErrDecrypt is returned when a sealed message fails authentication
var ErrDecrypt = errors.New("message authentication failed")

// TransformHeader is SMB2_TRANSFORM_HEADER (MS-SMB2 2.2.41)
type TransformHeader struct {
	Signature           [16]byte
	Nonce               [16]byte
	OriginalMessageSize uint32
	Flags               uint16
	SessionID           uint64
}

// Marshal serializes the transform header
func (h *TransformHeader) Marshal() []byte {
	buf := make([]byte, TransformHeaderSize)
	copy(buf[0:4], transformProtocolID[:])
	copy(buf[4:20], h.Signature[:])
	copy(buf[20:36], h.Nonce[:])
	binary.LittleEndian.PutUint32(buf[36:40], h.OriginalMessageSize)
	binary.LittleEndian.PutUint16(buf[42:44], h.Flags)
	binary.LittleEndian.PutUint64(buf[44:52], h.SessionID)
	return buf
}

// Unmarshal parses a transform header
func (h *TransformHeader) Unmarshal(buf []byte) error {
	if len(buf) < TransformHeaderSize {
		return errors.New("buffer too small for transform header")
	}
	if !isEncryptedMessage(buf) {
		return errors.New("invalid transform header protocol ID")
	}
	copy(h.Signature[:], buf[4:20])
	copy(h.Nonce[:], buf[20:36])
	h.OriginalMessageSize = binary.LittleEndian.Uint32(buf[36:40])
	h.Flags = binary.LittleEndian.Uint16(buf[42:44])
	h.SessionID = binary.LittleEndian.Uint64(buf[44:52])
	return nil
}

func isEncryptedMessage(msg []byte) bool {
	return len(msg) >= 4 && [4]byte(msg[:4]) == transformProtocolID
}

func nonceSize(cipherID uint16) int {
	if cipherID == EncryptionAES128GCM {
		return 12
	}
	return 11
}

// encryptMessage wraps plaintext in a transform header. The AEAD covers
// header bytes 20..52 as associated data.
func encryptMessage(cipherID uint16, key []byte, sessionID uint64, plaintext []byte) ([]byte, error) {
	aead, err := newAEAD(cipherID, key)
	if err != nil {
		return nil, err
	}

	h := TransformHeader{
		OriginalMessageSize: uint32(len(plaintext)),
		Flags:               0x0001,
		SessionID:           sessionID,
	}
	if _, err := rand.Read(h.Nonce[:nonceSize(cipherID)]); err != nil {
		return nil, fmt.Errorf("failed to generate nonce: %w", err)
	}

	aad := h.Marshal()[20:]
	sealed := aead.Seal(nil, h.Nonce[:nonceSize(cipherID)], plaintext, aad)
	ct, tag := sealed[:len(plaintext)], sealed[len(plaintext):]
	copy(h.Signature[:], tag)

	return append(h.Marshal(), ct...), nil
}

func decryptMessage(cipherID uint16, key []byte, msg []byte) ([]byte, error) {
	aead, err := newAEAD(cipherID, key)
	if err != nil {
		return nil, err
	}

	var h TransformHeader
	if err := h.Unmarshal(msg); err != nil {
		return nil, err
	}

	sealed := append(append([]byte{}, msg[TransformHeaderSize:]...), h.Signature[:]...)
	pt, err := aead.Open(nil, h.Nonce[:nonceSize(cipherID)], sealed, msg[20:TransformHeaderSize])
	if err != nil {
		return nil, ErrDecrypt
	}
	return pt, nil
}

func newAEAD(cipherID uint16, key []byte) (cipher.AEAD, error) {
	if len(key) < 16 {
		return nil, errors.New("encryption key too short")
	}
	block, err := aes.NewCipher(key[:16])
	if err != nil {
		return nil, err
	}
	switch cipherID {
	case EncryptionAES128GCM:
		return cipher.NewGCM(block)
	case EncryptionAES128CCM:
		return &ccm{block: block, nonceLen: 11, tagLen: 16}, nil
	}
	return nil, fmt.Errorf("unsupported cipher: 0x%04X", cipherID)
}

// ccm is AES-CCM (RFC 3610) as a cipher.AEAD. The length field size is
// 15 minus the nonce length.
type ccm struct {
	block    cipher.Block
	nonceLen int
	tagLen   int
}

func (c *ccm) NonceSize() int { return c.nonceLen }
func (c *ccm) Overhead() int  { return c.tagLen }

func (c *ccm) lenSize() int { return 15 - c.nonceLen }

// counter returns A_i for block index i
func (c *ccm) counter(nonce []byte, i uint64) []byte {
	a := make([]byte, aes.BlockSize)
	a[0] = byte(c.lenSize() - 1)
	copy(a[1:], nonce)
	for j := 15; j > c.nonceLen; j-- {
		a[j] = byte(i)
		i >>= 8
	}
	return a
}

// mac computes the raw CBC-MAC tag T
func (c *ccm) mac(nonce, plaintext, aad []byte) []byte {
	b0 := make([]byte, aes.BlockSize)
	b0[0] = byte((c.tagLen-2)/2)<<3 | byte(c.lenSize()-1)
	if len(aad) > 0 {
		b0[0] |= 0x40
	}
	copy(b0[1:], nonce)
	n := uint64(len(plaintext))
	for j := 15; j > c.nonceLen; j-- {
		b0[j] = byte(n)
		n >>= 8
	}

	x := make([]byte, aes.BlockSize)
	c.block.Encrypt(x, b0)

	absorb := func(data []byte) {
		for len(data) > 0 {
			blk := make([]byte, aes.BlockSize)
			k := copy(blk, data)
			data = data[k:]
			xorInto(x, blk)
			c.block.Encrypt(x, x)
		}
	}
	if len(aad) > 0 {
		// aad is always short here; two-byte length form
		hdr := make([]byte, 2+len(aad))
		binary.BigEndian.PutUint16(hdr, uint16(len(aad)))
		copy(hdr[2:], aad)
		absorb(hdr)
	}
	absorb(plaintext)
	return x[:c.tagLen]
}

func (c *ccm) ctr(nonce, dst, src []byte) {
	cipher.NewCTR(c.block, c.counter(nonce, 1)).XORKeyStream(dst, src)
}

func (c *ccm) tagMask(nonce []byte) []byte {
	s0 := make([]byte, aes.BlockSize)
	c.block.Encrypt(s0, c.counter(nonce, 0))
	return s0
}

func (c *ccm) Seal(dst, nonce, plaintext, aad []byte) []byte {
	tag := c.mac(nonce, plaintext, aad)
	xorInto(tag, c.tagMask(nonce))

	out := make([]byte, len(plaintext), len(plaintext)+c.tagLen)
	c.ctr(nonce, out, plaintext)
	return append(dst, append(out, tag...)...)
}

func (c *ccm) Open(dst, nonce, ciphertext, aad []byte) ([]byte, error) {
	if len(ciphertext) < c.tagLen {
		return nil, ErrDecrypt
	}
	ct, tag := ciphertext[:len(ciphertext)-c.tagLen], ciphertext[len(ciphertext)-c.tagLen:]

	pt := make([]byte, len(ct))
	c.ctr(nonce, pt, ct)

	want := c.mac(nonce, pt, aad)
	xorInto(want, c.tagMask(nonce))
	if !hmac.Equal(want, tag) {
		return nil, ErrDecrypt
	}
	return append(dst, pt...), nil
}
