package dcerpc

import (
	"encoding/binary"
	"errors"
	"fmt"
	"time"

	"github.com/jcmturner/gofork/encoding/asn1"
	"github.com/jcmturner/gokrb5/v8/asn1tools"
	"github.com/jcmturner/gokrb5/v8/crypto"
	"github.com/jcmturner/gokrb5/v8/gssapi"
	"github.com/jcmturner/gokrb5/v8/iana/asnAppTag"
	"github.com/jcmturner/gokrb5/v8/iana/chksumtype"
	"github.com/jcmturner/gokrb5/v8/iana/etypeID"
	"github.com/jcmturner/gokrb5/v8/iana/flags"
	"github.com/jcmturner/gokrb5/v8/iana/keyusage"
	"github.com/jcmturner/gokrb5/v8/iana/msgtype"
	"github.com/jcmturner/gokrb5/v8/messages"
	"github.com/jcmturner/gokrb5/v8/spnego"
	"github.com/jcmturner/gokrb5/v8/types"

	"github.com/ineffectivecoder/tschexec/pkg/auth"
)

// GSS context flags carried in the authenticator checksum (RFC 4121 4.1.1)
const (
	gssMutual   = 0x02
	gssReplay   = 0x04
	gssSequence = 0x08
	gssConf     = 0x10
	gssInteg    = 0x20
	gssDCEStyle = 0x1000
)

// wrap token layout (RFC 4121 4.2.6.2)
const (
	wrapHeaderLen = 16
	wrapRRC       = 28
	wrapFlags     = 0x06 // Sealed | AcceptorSubkey
)

// krbVerifierLen is header + rotated confounder, header copy and HMAC for
// AES with a 16 byte aligned payload
const krbVerifierLen = wrapHeaderLen + wrapRRC + 16

// KerberosAuth is Kerberos through SPNEGO in DCE style. The bind carries
// an AP-REQ asking for mutual authentication, the bind_ack an AP-REP with
// the acceptor subkey, and the client answers with its own AP-REP in an
// alter_context. Sealing uses RFC 4121 wrap tokens under the subkey.
type KerberosAuth struct {
	creds auth.KerberosProvider
	spn   string

	ticketKey types.EncryptionKey
	key       types.EncryptionKey
	sendSeq   uint64
}

// NewKerberosAuth creates a Kerberos provider authenticating to spn,
// usually "host/<target>".
func NewKerberosAuth(creds auth.KerberosProvider, spn string) *KerberosAuth {
	return &KerberosAuth{creds: creds, spn: spn}
}

func (a *KerberosAuth) AuthType() uint8    { return AuthTypeNegotiate }
func (a *KerberosAuth) AlterContext() bool { return true }
func (a *KerberosAuth) VerifierLen() int   { return krbVerifierLen }
func (a *KerberosAuth) PadAlign() int      { return 16 }

// Negotiate returns a NegTokenInit with a raw AP-REQ as mech token
func (a *KerberosAuth) Negotiate() ([]byte, error) {
	tkt, key, err := a.creds.ServiceTicket(a.spn)
	if err != nil {
		return nil, err
	}
	a.ticketKey = key

	realm, cname := a.creds.Principal()
	authenticator, err := types.NewAuthenticator(realm, cname)
	if err != nil {
		return nil, fmt.Errorf("failed to create authenticator: %w", err)
	}
	authenticator.Cksum = types.Checksum{
		CksumType: chksumtype.GSSAPI,
		Checksum:  gssChecksum(gssConf | gssInteg | gssSequence | gssReplay | gssMutual | gssDCEStyle),
	}

	apReq, err := messages.NewAPReq(tkt, key, authenticator)
	if err != nil {
		return nil, err
	}
	types.SetFlag(&apReq.APOptions, flags.APOptionMutualRequired)
	raw, err := apReq.Marshal()
	if err != nil {
		return nil, fmt.Errorf("failed to marshal AP-REQ: %w", err)
	}

	tok := spnego.SPNEGOToken{
		Init: true,
		NegTokenInit: spnego.NegTokenInit{
			MechTypes:      []asn1.ObjectIdentifier{gssapi.OIDMSLegacyKRB5.OID()},
			MechTokenBytes: raw,
		},
	}
	return tok.Marshal()
}

// gssChecksum is the 0x8003 checksum body without channel bindings
func gssChecksum(contextFlags uint32) []byte {
	b := make([]byte, 24)
	binary.LittleEndian.PutUint32(b[0:4], 16)
	binary.LittleEndian.PutUint32(b[20:24], contextFlags)
	return b
}

// Accept reads the server AP-REP, switches to its subkey and sequence
// number, and returns the client AP-REP.
func (a *KerberosAuth) Accept(token []byte) ([]byte, error) {
	var resp spnego.NegTokenResp
	if err := resp.Unmarshal(token); err != nil {
		return nil, fmt.Errorf("invalid SPNEGO response: %w", err)
	}
	if len(resp.ResponseToken) == 0 {
		return nil, errors.New("SPNEGO response carries no AP-REP")
	}

	var rep messages.APRep
	if err := rep.Unmarshal(resp.ResponseToken); err != nil {
		return nil, fmt.Errorf("invalid AP-REP: %w", err)
	}
	plain, err := crypto.DecryptEncPart(rep.EncPart, a.ticketKey, keyusage.AP_REP_ENCPART)
	if err != nil {
		return nil, fmt.Errorf("failed to decrypt AP-REP: %w", err)
	}
	var part messages.EncAPRepPart
	if err := part.Unmarshal(plain); err != nil {
		return nil, err
	}

	a.key = a.ticketKey
	if len(part.Subkey.KeyValue) > 0 {
		a.key = part.Subkey
	}
	switch a.key.KeyType {
	case etypeID.AES128_CTS_HMAC_SHA1_96, etypeID.AES256_CTS_HMAC_SHA1_96:
	default:
		return nil, fmt.Errorf("unsupported etype %d for sealing", a.key.KeyType)
	}
	a.sendSeq = uint64(part.SequenceNumber)

	return a.clientAPRep(part.SequenceNumber)
}

type encAPRepPart struct {
	CTime          time.Time `asn1:"generalized,explicit,tag:0"`
	Cusec          int       `asn1:"explicit,tag:1"`
	SequenceNumber int64     `asn1:"optional,explicit,tag:3"`
}

type apRep struct {
	PVNO    int                 `asn1:"explicit,tag:0"`
	MsgType int                 `asn1:"explicit,tag:1"`
	EncPart types.EncryptedData `asn1:"explicit,tag:2"`
}

// negTokenResp is a NegTokenResp with only responseToken, which is what
// the DCE style third leg carries.
type negTokenResp struct {
	ResponseToken []byte `asn1:"explicit,tag:2"`
}

func (a *KerberosAuth) clientAPRep(seq int64) ([]byte, error) {
	now := time.Now().UTC()
	b, err := asn1.Marshal(encAPRepPart{
		CTime:          now.Truncate(time.Second),
		Cusec:          now.Nanosecond() / int(time.Microsecond),
		SequenceNumber: seq,
	})
	if err != nil {
		return nil, err
	}
	b = asn1tools.AddASNAppTag(b, asnAppTag.EncAPRepPart)

	ed, err := crypto.GetEncryptedData(b, a.ticketKey, keyusage.AP_REP_ENCPART, 0)
	if err != nil {
		return nil, fmt.Errorf("failed to encrypt AP-REP: %w", err)
	}
	rb, err := asn1.Marshal(apRep{PVNO: 5, MsgType: msgtype.KRB_AP_REP, EncPart: ed})
	if err != nil {
		return nil, err
	}
	rb = asn1tools.AddASNAppTag(rb, asnAppTag.APREP)

	nb, err := asn1.Marshal(negTokenResp{ResponseToken: rb})
	if err != nil {
		return nil, err
	}
	return asn1.Marshal(asn1.RawValue{Class: asn1.ClassContextSpecific, Tag: 1, IsCompound: true, Bytes: nb})
}

func (a *KerberosAuth) wrapHeader(ec, rrc uint16) []byte {
	h := make([]byte, wrapHeaderLen)
	h[0], h[1], h[2], h[3] = 0x05, 0x04, wrapFlags, 0xFF
	binary.BigEndian.PutUint16(h[4:6], ec)
	binary.BigEndian.PutUint16(h[6:8], rrc)
	binary.BigEndian.PutUint64(h[8:16], a.sendSeq)
	return h
}

// Seal wraps payload. The ciphertext is rotated so that payload keeps its
// length and everything else goes into the auth_value.
func (a *KerberosAuth) Seal(msg, payload []byte) ([]byte, error) {
	if len(a.key.KeyValue) == 0 {
		return nil, ErrNotBound
	}
	et, err := crypto.GetEtype(a.key.KeyType)
	if err != nil {
		return nil, err
	}

	ec := (16 - len(payload)%16) % 16
	plain := make([]byte, 0, len(payload)+ec+wrapHeaderLen)
	plain = append(plain, payload...)
	for i := 0; i < ec; i++ {
		plain = append(plain, 0xFF)
	}
	plain = append(plain, a.wrapHeader(uint16(ec), 0)...)

	_, c, err := et.EncryptMessage(a.key.KeyValue, plain, keyusage.GSSAPI_INITIATOR_SEAL)
	if err != nil {
		return nil, fmt.Errorf("wrap failed: %w", err)
	}
	c = rotateRight(c, wrapRRC+ec)

	split := wrapHeaderLen + wrapRRC + ec
	verifier := append(a.wrapHeader(uint16(ec), wrapRRC), c[:split]...)
	copy(payload, c[split:])
	a.sendSeq++
	return verifier, nil
}

// Unseal reverses the acceptor's wrap token in place
func (a *KerberosAuth) Unseal(msg, payload, verifier []byte) error {
	if len(a.key.KeyValue) == 0 {
		return ErrNotBound
	}
	if len(verifier) < wrapHeaderLen || verifier[0] != 0x05 || verifier[1] != 0x04 {
		return ErrBadVerifier
	}
	ec := int(binary.BigEndian.Uint16(verifier[4:6]))
	rrc := int(binary.BigEndian.Uint16(verifier[6:8]))

	c := make([]byte, 0, len(verifier)-wrapHeaderLen+len(payload))
	c = append(c, verifier[wrapHeaderLen:]...)
	c = append(c, payload...)
	c = rotateRight(c, len(c)-(rrc+ec)%len(c))

	plain, err := crypto.DecryptMessage(c, a.key, keyusage.GSSAPI_ACCEPTOR_SEAL)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrBadVerifier, err)
	}
	n := len(plain) - ec - wrapHeaderLen
	if n != len(payload) {
		return ErrBadVerifier
	}
	copy(payload, plain[:n])
	return nil
}

// rotateRight moves the last n bytes of b to the front
func rotateRight(b []byte, n int) []byte {
	if len(b) == 0 {
		return b
	}
	n %= len(b)
	out := make([]byte, 0, len(b))
	out = append(out, b[len(b)-n:]...)
	return append(out, b[:len(b)-n]...)
}
