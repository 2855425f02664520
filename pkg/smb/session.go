package smb

import (
	"context"
	"errors"
	"fmt"

	"github.com/jcmturner/gofork/encoding/asn1"
	"github.com/jcmturner/gokrb5/v8/spnego"

	"github.com/ineffectivecoder/tschexec/pkg/auth"
	"github.com/ineffectivecoder/tschexec/pkg/smb/types"
)

// oidNTLMSSP is 1.3.6.1.4.1.311.2.2.10
var oidNTLMSSP = asn1.ObjectIdentifier{1, 3, 6, 1, 4, 1, 311, 2, 2, 10}

// Session represents an authenticated SMB session
type Session struct {
	transport       *Transport
	sessionID       uint64
	messageID       uint64
	signingRequired bool
	signingKey      []byte
	dialect         types.Dialect
	maxReadSize     uint32
	maxWriteSize    uint32

	// SMB 3.x encryption
	encryptMessages bool
	encryptionKey   []byte
	decryptionKey   []byte
	cipherID        uint16

	isAuthenticated bool
}

// NewSession creates a new session from a negotiation result
func NewSession(transport *Transport, negResult *NegotiateResult) *Session {
	s := &Session{
		transport:       transport,
		signingRequired: negResult.RequiresSigning,
		dialect:         negResult.Dialect,
		maxReadSize:     negResult.MaxReadSize,
		maxWriteSize:    negResult.MaxWriteSize,
		messageID:       1, // negotiate used 0
	}

	if negResult.SupportsEncryption && negResult.Dialect >= types.DialectSMB3_0 {
		s.cipherID = negResult.EncryptionCipher
		if s.cipherID == 0 {
			s.cipherID = EncryptionAES128CCM
		}
		s.encryptMessages = negResult.RequiresEncryption
	}

	return s
}

// Authenticate performs session setup with Kerberos when creds provide it,
// NTLM otherwise.
func (s *Session) Authenticate(ctx context.Context, creds auth.Credentials) error {
	if krb, ok := creds.(auth.KerberosProvider); ok && krb.IsKerberos() {
		return s.authenticateKerberos(ctx, krb)
	}
	return s.authenticateNTLM(ctx, creds)
}

func (s *Session) authenticateKerberos(ctx context.Context, krb auth.KerberosProvider) error {
	token, sessionKey, err := krb.SessionSetupToken("cifs/" + s.transport.RemoteHost())
	if err != nil {
		return fmt.Errorf("failed to build kerberos token: %w", err)
	}

	hdr, body, err := s.sessionSetup(token, types.StatusMoreProcessingReq)
	if err != nil {
		return fmt.Errorf("kerberos session setup failed: %w", err)
	}
	s.sessionID = hdr.SessionID

	// Some servers want an empty continuation before completing.
	if hdr.Status == types.StatusMoreProcessingReq {
		if hdr, body, err = s.sessionSetup(nil); err != nil {
			return fmt.Errorf("kerberos session setup continuation failed: %w", err)
		}
	}

	var setupResp types.SessionSetupResponse
	if err := setupResp.Unmarshal(body); err != nil {
		return fmt.Errorf("failed to parse session setup response: %w", err)
	}

	s.completeSession(setupResp.IsGuest(), sessionKeyBlock(sessionKey))
	return nil
}

func (s *Session) authenticateNTLM(ctx context.Context, creds auth.Credentials) error {
	type1 := auth.NewNegotiateMessage()
	init := spnego.SPNEGOToken{
		Init: true,
		NegTokenInit: spnego.NegTokenInit{
			MechTypes:      []asn1.ObjectIdentifier{oidNTLMSSP},
			MechTokenBytes: type1.Marshal(),
		},
	}
	buf, err := init.Marshal()
	if err != nil {
		return fmt.Errorf("failed to wrap negotiate message: %w", err)
	}

	hdr, body, err := s.sessionSetup(buf, types.StatusMoreProcessingReq)
	if err != nil {
		return fmt.Errorf("session setup (type1) failed: %w", err)
	}
	if hdr.Status != types.StatusMoreProcessingReq {
		return fmt.Errorf("session setup (type1): unexpected status 0x%08X", uint32(hdr.Status))
	}
	s.sessionID = hdr.SessionID

	var setupResp types.SessionSetupResponse
	if err := setupResp.Unmarshal(body); err != nil {
		return fmt.Errorf("failed to parse session setup response: %w", err)
	}

	type2Bytes := unwrapNTLMSSP(setupResp.SecurityBuffer)
	if type2Bytes == nil {
		return errors.New("failed to extract NTLMSSP challenge")
	}
	challenge, err := auth.ParseChallengeMessage(type2Bytes)
	if err != nil {
		return fmt.Errorf("failed to parse challenge: %w", err)
	}

	type3 := auth.NewAuthenticateMessage(challenge, auth.OptionsFor(creds, "WORKSTATION"))
	resp := spnego.SPNEGOToken{
		Resp: true,
		NegTokenResp: spnego.NegTokenResp{
			NegState:      1, // accept-incomplete
			ResponseToken: type3.Marshal(),
		},
	}
	if buf, err = resp.Marshal(); err != nil {
		return fmt.Errorf("failed to wrap authenticate message: %w", err)
	}

	_, body, err = s.sessionSetup(buf)
	if err != nil {
		return fmt.Errorf("session setup (type3) failed: %w", err)
	}
	if err := setupResp.Unmarshal(body); err != nil {
		return fmt.Errorf("failed to parse session setup response: %w", err)
	}

	s.completeSession(setupResp.IsGuest(), type3.SessionKey())
	return nil
}

// completeSession marks the session authenticated. Guest and null sessions
// carry no usable key, so nothing is signed or sealed for them.
func (s *Session) completeSession(guest bool, sessionKey []byte) {
	s.isAuthenticated = true

	if guest || len(sessionKey) == 0 {
		return
	}
	if s.signingRequired {
		s.signingKey = deriveSigningKey(sessionKey, s.dialect, nil)
	}
	if s.dialect >= types.DialectSMB3_0 && s.cipherID != 0 {
		s.encryptionKey = deriveEncryptionKey(sessionKey, s.dialect, nil)
		s.decryptionKey = deriveDecryptionKey(sessionKey, s.dialect, nil)
	}
}

// sessionKeyBlock truncates or zero-pads a Kerberos session key to the
// 16 bytes SMB key derivation expects.
func sessionKeyBlock(key []byte) []byte {
	if len(key) == 0 {
		return nil
	}
	out := make([]byte, 16)
	copy(out, key)
	return out
}

func (s *Session) sessionSetup(token []byte, allowed ...types.NTStatus) (*types.Header, []byte, error) {
	req := types.NewSessionSetupRequest(token)
	return s.exchange(types.CommandSessionSetup, 0, req.Marshal(), allowed...)
}

// exchange sends one request on treeID and returns the response header and
// body. Any status other than success or one listed in allowed becomes an
// *NTStatusError.
func (s *Session) exchange(cmd types.Command, treeID uint32, payload []byte, allowed ...types.NTStatus) (*types.Header, []byte, error) {
	header := types.NewHeader(cmd, s.nextMessageID())
	header.SessionID = s.sessionID
	header.TreeID = treeID

	resp, err := s.sendRecv(header, payload)
	if err != nil {
		return nil, nil, err
	}
	if len(resp) < types.SMB2HeaderSize {
		return nil, nil, fmt.Errorf("response too short: %d bytes", len(resp))
	}

	var respHeader types.Header
	if err := respHeader.Unmarshal(resp[:types.SMB2HeaderSize]); err != nil {
		return nil, nil, fmt.Errorf("failed to parse response header: %w", err)
	}
	if !respHeader.Status.IsSuccess() {
		ok := false
		for _, st := range allowed {
			if respHeader.Status == st {
				ok = true
				break
			}
		}
		if !ok {
			return &respHeader, nil, StatusToError(respHeader.Status)
		}
	}
	return &respHeader, resp[types.SMB2HeaderSize:], nil
}

func (s *Session) signs() bool {
	return s.signingRequired && len(s.signingKey) > 0 && s.isAuthenticated && !s.encryptMessages
}

func (s *Session) sendRecv(header *types.Header, payload []byte) ([]byte, error) {
	if s.signs() {
		header.Flags |= types.FlagsSigned
	}

	msg := append(header.Marshal(), payload...)

	if s.signs() {
		msg = signMessage(s.dialect, s.signingKey, msg)
	}

	if s.encryptMessages && len(s.encryptionKey) > 0 && s.isAuthenticated {
		encrypted, err := encryptMessage(s.cipherID, s.encryptionKey, s.sessionID, msg)
		if err != nil {
			return nil, fmt.Errorf("failed to encrypt message: %w", err)
		}
		msg = encrypted
	}

	if err := s.transport.Send(msg); err != nil {
		return nil, err
	}
	return s.recvResponse()
}

// recvResponse reads the next final response, skipping interim
// STATUS_PENDING replies.
func (s *Session) recvResponse() ([]byte, error) {
	for {
		resp, err := s.transport.Recv()
		if err != nil {
			return nil, err
		}

		sealed := isEncryptedMessage(resp)
		if sealed && len(s.decryptionKey) > 0 {
			if resp, err = decryptMessage(s.cipherID, s.decryptionKey, resp); err != nil {
				return nil, fmt.Errorf("failed to decrypt response: %w", err)
			}
		}
		if len(resp) < types.SMB2HeaderSize {
			return resp, nil
		}

		var respHeader types.Header
		if err := respHeader.Unmarshal(resp[:types.SMB2HeaderSize]); err != nil {
			return resp, nil
		}
		if respHeader.Status == types.StatusPending {
			continue
		}

		if !sealed && s.signs() && respHeader.Flags&types.FlagsSigned != 0 {
			if !verifySignature(s.dialect, s.signingKey, resp) {
				return nil, errors.New("invalid message signature")
			}
		}
		return resp, nil
	}
}

func (s *Session) nextMessageID() uint64 {
	id := s.messageID
	s.messageID++
	return id
}

// IsAuthenticated reports a completed session setup
func (s *Session) IsAuthenticated() bool {
	return s.isAuthenticated
}

// Close sends LOGOFF. Errors are returned but the session is considered
// closed either way.
func (s *Session) Close() error {
	if !s.isAuthenticated {
		return nil
	}
	_, _, err := s.exchange(types.CommandLogoff, 0, (&types.LogoffRequest{}).Marshal())
	s.isAuthenticated = false
	return err
}

// unwrapNTLMSSP extracts the NTLMSSP message from a SPNEGO NegTokenResp,
// falling back to a signature scan for raw or unusual encodings.
func unwrapNTLMSSP(data []byte) []byte {
	var tok spnego.SPNEGOToken
	if err := tok.Unmarshal(data); err == nil && tok.Resp && isNTLMSSP(tok.NegTokenResp.ResponseToken) {
		return tok.NegTokenResp.ResponseToken
	}
	for i := 0; i+8 <= len(data); i++ {
		if isNTLMSSP(data[i:]) {
			return data[i:]
		}
	}
	return nil
}

func isNTLMSSP(b []byte) bool {
	return len(b) >= 8 && string(b[:8]) == "NTLMSSP\x00"
}
