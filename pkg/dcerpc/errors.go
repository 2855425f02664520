package dcerpc

import (
	"errors"
	"fmt"
)

// Common errors
var (
	ErrBufferTooSmall = errors.New("buffer too small")
	ErrBindFailed     = errors.New("bind failed")
	ErrNotBound       = errors.New("not bound to interface")
	ErrBadVerifier    = errors.New("auth verifier mismatch")
	ErrCallFailed     = errors.New("RPC call failed")
)

// Well-known fault and reject codes
const (
	StatusAccessDenied        uint32 = 0x00000005
	StatusNcaOpRangeError     uint32 = 0x1C010002
	StatusNcaUnknownIf        uint32 = 0x1C010003
	StatusNcaProtoError       uint32 = 0x1C01000B
	StatusSecPkgError         uint32 = 0x00000721
	StatusNcaInvalidPresCtxID uint32 = 0x1C00001C
)

var faultNames = map[uint32]string{
	StatusAccessDenied:        "rpc_s_access_denied",
	StatusNcaOpRangeError:     "nca_s_op_rng_error",
	StatusNcaUnknownIf:        "nca_s_unk_if",
	StatusNcaProtoError:       "nca_s_proto_error",
	StatusSecPkgError:         "rpc_s_sec_pkg_error",
	StatusNcaInvalidPresCtxID: "nca_s_fault_invalid_pres_context_id",
}

// FaultError is a fault PDU returned for a call
type FaultError struct {
	Status uint32
}

func (e *FaultError) Error() string {
	if name, ok := faultNames[e.Status]; ok {
		return fmt.Sprintf("RPC fault: %s (0x%08X)", name, e.Status)
	}
	return fmt.Sprintf("RPC fault: status 0x%08X", e.Status)
}

// Unwrap makes every fault match ErrCallFailed
func (e *FaultError) Unwrap() error {
	return ErrCallFailed
}

// BindNakError is a bind_nak with its reject reason
type BindNakError struct {
	Reason uint16
}

func (e *BindNakError) Error() string {
	return fmt.Sprintf("bind rejected: reason %d", e.Reason)
}

func (e *BindNakError) Unwrap() error {
	return ErrBindFailed
}
