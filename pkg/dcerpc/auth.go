package dcerpc

// Authenticator is a security provider for a PKT_PRIVACY binding.
//
// The bind carries Negotiate's token. Accept consumes the token of the
// bind_ack and returns the token of the third leg, which travels in an
// auth3 PDU or, when AlterContext reports true, an alter_context.
type Authenticator interface {
	AuthType() uint8
	Negotiate() ([]byte, error)
	Accept(token []byte) ([]byte, error)
	AlterContext() bool

	// Seal encrypts payload in place and returns the auth_value. msg is
	// the PDU up to the auth_value, payload a sub-slice of it holding the
	// stub and auth pad.
	Seal(msg, payload []byte) ([]byte, error)
	// Unseal decrypts payload in place and checks verifier
	Unseal(msg, payload, verifier []byte) error

	// VerifierLen is the auth_value length of a sealed PDU
	VerifierLen() int
	// PadAlign is the stub alignment the sealed payload needs
	PadAlign() int
}
