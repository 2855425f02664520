package smb

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"

	"github.com/ineffectivecoder/tschexec/pkg/smb/types"
)

// NegotiateResult holds the result of dialect negotiation
type NegotiateResult struct {
	Dialect         types.Dialect
	ServerGUID      [16]byte
	MaxTransactSize uint32
	MaxReadSize     uint32
	MaxWriteSize    uint32
	RequiresSigning bool
	Capabilities    types.Capabilities

	SupportsEncryption bool
	RequiresEncryption bool
	EncryptionCipher   uint16
}

// Negotiate sends NEGOTIATE as message 0 and parses the server's choice.
// An empty dialects list offers SMB 2.0.2 through 3.0.2.
func Negotiate(ctx context.Context, t *Transport, dialects ...types.Dialect) (*NegotiateResult, error) {
	req := types.NewNegotiateRequest()
	if len(dialects) > 0 {
		req.Dialects = dialects
	}
	rand.Read(req.ClientGUID[:])

	header := types.NewHeader(types.CommandNegotiate, 0)
	resp, err := t.SendRecv(append(header.Marshal(), req.Marshal()...))
	if err != nil {
		return nil, fmt.Errorf("negotiate failed: %w", err)
	}
	if len(resp) < types.SMB2HeaderSize {
		return nil, errors.New("negotiate response too short")
	}

	var respHeader types.Header
	if err := respHeader.Unmarshal(resp[:types.SMB2HeaderSize]); err != nil {
		return nil, fmt.Errorf("failed to parse response header: %w", err)
	}
	if !respHeader.Status.IsSuccess() {
		return nil, fmt.Errorf("negotiate failed: %w", StatusToError(respHeader.Status))
	}

	var negResp types.NegotiateResponse
	if err := negResp.Unmarshal(resp[types.SMB2HeaderSize:]); err != nil {
		return nil, fmt.Errorf("failed to parse negotiate response: %w", err)
	}
	if negResp.DialectRevision == types.DialectWildcard {
		return nil, errors.New("server returned wildcard dialect")
	}

	res := &NegotiateResult{
		Dialect:         negResp.DialectRevision,
		ServerGUID:      negResp.ServerGUID,
		MaxTransactSize: negResp.MaxTransactSize,
		MaxReadSize:     negResp.MaxReadSize,
		MaxWriteSize:    negResp.MaxWriteSize,
		RequiresSigning: negResp.RequiresSigning(),
		Capabilities:    negResp.Capabilities,
	}
	if negResp.Capabilities&types.GlobalCapEncryption != 0 && negResp.IsSMB3() {
		res.SupportsEncryption = true
		res.EncryptionCipher = EncryptionAES128CCM
	}
	return res, nil
}

// DialectName returns a human-readable dialect name
func DialectName(d types.Dialect) string {
	switch d {
	case types.DialectSMB2_0_2:
		return "SMB 2.0.2"
	case types.DialectSMB2_1:
		return "SMB 2.1"
	case types.DialectSMB3_0:
		return "SMB 3.0"
	case types.DialectSMB3_0_2:
		return "SMB 3.0.2"
	case types.DialectSMB3_1_1:
		return "SMB 3.1.1"
	}
	return fmt.Sprintf("unknown (0x%04X)", uint16(d))
}
