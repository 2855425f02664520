// Package types defines the SMB2/SMB3 wire constants and the messages the
// client exchanges to reach named pipes and read or delete files.
package types

// Dialect versions for SMB2/SMB3 negotiation
type Dialect uint16

const (
	DialectSMB2_0_2 Dialect = 0x0202 // SMB 2.0.2
	DialectSMB2_1   Dialect = 0x0210 // SMB 2.1
	DialectSMB3_0   Dialect = 0x0300 // SMB 3.0
	DialectSMB3_0_2 Dialect = 0x0302 // SMB 3.0.2
	DialectSMB3_1_1 Dialect = 0x0311 // SMB 3.1.1
	DialectWildcard Dialect = 0x02FF
)

// Command values for SMB2 header. Only the commands the client sends.
type Command uint16

const (
	CommandNegotiate      Command = 0x0000
	CommandSessionSetup   Command = 0x0001
	CommandLogoff         Command = 0x0002
	CommandTreeConnect    Command = 0x0003
	CommandTreeDisconnect Command = 0x0004
	CommandCreate         Command = 0x0005
	CommandClose          Command = 0x0006
	CommandRead           Command = 0x0008
	CommandWrite          Command = 0x0009
)

// HeaderFlags for SMB2 header
type HeaderFlags uint32

const (
	FlagsServerToRedir HeaderFlags = 0x00000001
	FlagsAsyncCommand  HeaderFlags = 0x00000002
	FlagsSigned        HeaderFlags = 0x00000008
)

// NTStatus is the status field of a response
type NTStatus uint32

const (
	StatusSuccess               NTStatus = 0x00000000
	StatusPending               NTStatus = 0x00000103
	StatusMoreEntries           NTStatus = 0x00000105
	StatusBufferOverflow        NTStatus = 0x80000005
	StatusNoMoreFiles           NTStatus = 0x80000006
	StatusInvalidParameter      NTStatus = 0xC000000D
	StatusNoSuchFile            NTStatus = 0xC000000F
	StatusEndOfFile             NTStatus = 0xC0000011
	StatusMoreProcessingReq     NTStatus = 0xC0000016
	StatusAccessDenied          NTStatus = 0xC0000022
	StatusObjectNameNotFound    NTStatus = 0xC0000034
	StatusObjectNameCollision   NTStatus = 0xC0000035
	StatusObjectPathNotFound    NTStatus = 0xC000003A
	StatusSharingViolation      NTStatus = 0xC0000043
	StatusDeletePending         NTStatus = 0xC0000056
	StatusLogonFailure          NTStatus = 0xC000006D
	StatusPasswordExpired       NTStatus = 0xC0000071
	StatusAccountDisabled       NTStatus = 0xC0000072
	StatusNotSupported          NTStatus = 0xC00000BB
	StatusBadNetworkName        NTStatus = 0xC00000CC
	StatusPipeBroken            NTStatus = 0xC000014B
	StatusNetworkSessionExpired NTStatus = 0xC000035C
)

// IsSuccess reports whether the response carries data. STATUS_BUFFER_OVERFLOW
// on a pipe read means more data is waiting, not failure.
func (s NTStatus) IsSuccess() bool {
	return s == StatusSuccess || s == StatusMoreEntries || s == StatusBufferOverflow
}

// IsError reports an error severity status
func (s NTStatus) IsError() bool {
	return s&0xC0000000 == 0xC0000000
}

// AccessMask for file access rights
type AccessMask uint32

const (
	FileReadData       AccessMask = 0x00000001
	FileWriteData      AccessMask = 0x00000002
	FileReadAttributes AccessMask = 0x00000080
	Delete             AccessMask = 0x00010000
	Synchronize        AccessMask = 0x00100000
)

// CreateDisposition for create operations
type CreateDisposition uint32

const (
	FileOpen CreateDisposition = 1 // fail if the file does not exist
)

// CreateOptions for create operations
type CreateOptions uint32

const (
	FileNonDirectoryFile CreateOptions = 0x00000040
	FileDeleteOnClose    CreateOptions = 0x00001000
)

// FileAttributes for files and directories
type FileAttributes uint32

const FileAttributeNormal FileAttributes = 0x00000080

// ShareAccess for file sharing
type ShareAccess uint32

const (
	FileShareRead   ShareAccess = 0x00000001
	FileShareWrite  ShareAccess = 0x00000002
	FileShareDelete ShareAccess = 0x00000004
)

// ShareType indicates the type of share
type ShareType uint8

const (
	ShareTypeDisk ShareType = 0x01
	ShareTypePipe ShareType = 0x02
)

// SecurityMode flags
type SecurityMode uint8

const (
	NegotiateSigningEnabled  SecurityMode = 0x01
	NegotiateSigningRequired SecurityMode = 0x02
)

// Capabilities flags
type Capabilities uint32

const (
	GlobalCapDFS        Capabilities = 0x00000001
	GlobalCapLargeMTU   Capabilities = 0x00000004
	GlobalCapEncryption Capabilities = 0x00000040
)

// SMB2ProtocolID starts every SMB2 header
var SMB2ProtocolID = [4]byte{0xFE, 'S', 'M', 'B'}

// SMB2HeaderSize is the fixed header length
const SMB2HeaderSize = 64
