package auth

import (
	"github.com/ineffectivecoder/tschexec/internal/encoding"
)

// AuthenticateMessage is an NTLMSSP AUTHENTICATE_MESSAGE carrying an NTLMv2
// response
type AuthenticateMessage struct {
	NegotiateFlags uint32
	Version        NTLMVersion

	LmChallengeResponse       []byte
	NtChallengeResponse       []byte
	DomainName                []byte
	UserName                  []byte
	Workstation               []byte
	EncryptedRandomSessionKey []byte

	sessionBaseKey     []byte
	exportedSessionKey []byte
}

// AuthenticateOptions configures type 3 generation
type AuthenticateOptions struct {
	Domain      string
	Username    string
	Workstation string
	NTLMv2Hash  []byte // pass-the-hash
	Password    string

	// NegotiateFlags, when set, are the flags the client asked for. The
	// optional ones the server did not echo are dropped. Zero means take
	// the challenge flags as they are.
	NegotiateFlags uint32
	// TargetName is added to the target info as MsvAvTargetName
	TargetName string
}

// optionalFlags are only kept in a type 3 when the challenge carried them
const optionalFlags = NtlmsspNegotiate128 | NtlmsspNegotiate56 |
	NtlmsspNegotiateKeyExchange | NtlmsspNegotiateSeal |
	NtlmsspNegotiateSign | NtlmsspNegotiateVersion

// OptionsFor maps creds onto type 3 fields
func OptionsFor(creds Credentials, workstation string) AuthenticateOptions {
	opts := AuthenticateOptions{
		Domain:      creds.Domain(),
		Username:    creds.Username(),
		Workstation: workstation,
	}
	switch c := creds.(type) {
	case *PasswordCredentials:
		opts.Password = c.Password()
	case *HashCredentials:
		opts.NTLMv2Hash = NTLMv2Hash(c.NTHash(), c.Username(), c.Domain())
	case *AnonymousCredentials:
		opts.Username = ""
		opts.Domain = ""
	}
	return opts
}

// NewAuthenticateMessage answers challenge
func NewAuthenticateMessage(challenge *ChallengeMessage, opts AuthenticateOptions) *AuthenticateMessage {
	flags := challenge.NegotiateFlags
	if opts.NegotiateFlags != 0 {
		flags = opts.NegotiateFlags &^ (optionalFlags &^ challenge.NegotiateFlags)
	}
	m := &AuthenticateMessage{NegotiateFlags: flags, Version: DefaultVersion()}

	hash := opts.NTLMv2Hash
	if len(hash) == 0 && opts.Password != "" {
		hash = ComputeNTLMv2HashFromPassword(opts.Password, opts.Username, opts.Domain)
	}

	targetInfo := challenge.TargetInfo
	if opts.TargetName != "" && len(challenge.AvPairs) > 0 {
		pairs := append([]AvPair{}, challenge.AvPairs...)
		pairs = append(pairs, AvPair{AvID: MsvAvTargetName, Value: encoding.ToUTF16LE(opts.TargetName)})
		targetInfo = MarshalAvPairs(pairs)
	}

	clientChallenge := GenerateClientChallenge()
	m.NtChallengeResponse, m.sessionBaseKey = NTLMv2Response(hash, challenge.ServerChallenge[:],
		clientChallenge, challenge.GetTimestamp(), targetInfo)
	m.LmChallengeResponse = LMv2Response(hash, challenge.ServerChallenge[:], clientChallenge)

	m.DomainName = encoding.ToUTF16LE(opts.Domain)
	m.UserName = encoding.ToUTF16LE(opts.Username)
	m.Workstation = encoding.ToUTF16LE(opts.Workstation)

	// With KEY_EXCH the exported session key is random and travels RC4
	// encrypted under the base key. Signing must use the exported key.
	m.exportedSessionKey = m.sessionBaseKey
	if flags&NtlmsspNegotiateKeyExchange != 0 {
		m.exportedSessionKey = make([]byte, 16)
		randomBytes(m.exportedSessionKey)
		m.EncryptedRandomSessionKey = rc4Encrypt(m.sessionBaseKey, m.exportedSessionKey)
	}
	return m
}

// Marshal serializes the message. Version and a zero MIC are only present
// when VERSION was negotiated.
func (m *AuthenticateMessage) Marshal() []byte {
	fixed := 64
	if m.NegotiateFlags&NtlmsspNegotiateVersion != 0 {
		fixed = 88
	}
	fields := [][]byte{
		m.LmChallengeResponse, m.NtChallengeResponse, m.DomainName,
		m.UserName, m.Workstation, m.EncryptedRandomSessionKey,
	}

	buf := make([]byte, 0, fixed+256)
	buf = append(buf, ntlmSignature[:]...)
	buf = encoding.AppendUint32LE(buf, NtLmAuthenticate)
	offset := fixed
	for _, f := range fields {
		buf = encoding.AppendUint16LE(buf, uint16(len(f)))
		buf = encoding.AppendUint16LE(buf, uint16(len(f)))
		buf = encoding.AppendUint32LE(buf, uint32(offset))
		offset += len(f)
	}
	buf = encoding.AppendUint32LE(buf, m.NegotiateFlags)
	if fixed > 64 {
		buf = append(buf, m.Version.Marshal()...)
		buf = append(buf, make([]byte, 16)...)
	}
	for _, f := range fields {
		buf = append(buf, f...)
	}
	return buf
}

// SessionKey returns the key SMB signing and RPC sealing derive from
func (m *AuthenticateMessage) SessionKey() []byte {
	if len(m.exportedSessionKey) > 0 {
		return m.exportedSessionKey
	}
	return m.sessionBaseKey
}
