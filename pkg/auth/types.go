// Package auth provides NTLM and Kerberos authentication material for SMB
// sessions and DCE/RPC binds.
package auth

import (
	"github.com/jcmturner/gokrb5/v8/messages"
	"github.com/jcmturner/gokrb5/v8/types"
)

// Credentials identify the account a session or bind authenticates as
type Credentials interface {
	Domain() string
	Username() string
	IsHashAuth() bool
}

// KerberosProvider is implemented by credentials that can obtain tickets
type KerberosProvider interface {
	Credentials
	IsKerberos() bool
	// SessionSetupToken returns a SPNEGO NegTokenInit for spn together with
	// the ticket session key, which SMB uses for signing.
	SessionSetupToken(spn string) (token []byte, sessionKey []byte, err error)
	// ServiceTicket returns the raw ticket and session key for spn.
	ServiceTicket(spn string) (messages.Ticket, types.EncryptionKey, error)
	// Principal returns the client realm and name.
	Principal() (string, types.PrincipalName)
}

type account struct {
	domain, username string
}

func (a account) Domain() string   { return a.domain }
func (a account) Username() string { return a.username }

// PasswordCredentials authenticate with a cleartext password
type PasswordCredentials struct {
	account
	password string
}

// NewPasswordCredentials creates password credentials
func NewPasswordCredentials(domain, username, password string) *PasswordCredentials {
	return &PasswordCredentials{account{domain, username}, password}
}

func (c *PasswordCredentials) Password() string { return c.password }
func (c *PasswordCredentials) IsHashAuth() bool { return false }

// HashCredentials pass the NT hash instead of a password
type HashCredentials struct {
	account
	ntHash [16]byte
}

// NewHashCredentials creates pass-the-hash credentials. ntHash is copied
// and truncated or zero padded to 16 bytes.
func NewHashCredentials(domain, username string, ntHash []byte) *HashCredentials {
	c := &HashCredentials{account: account{domain, username}}
	copy(c.ntHash[:], ntHash)
	return c
}

// NTHash returns a copy of the hash
func (c *HashCredentials) NTHash() []byte {
	return append([]byte(nil), c.ntHash[:]...)
}

func (c *HashCredentials) IsHashAuth() bool { return true }

// AnonymousCredentials bind with an empty user
type AnonymousCredentials struct{ account }

// NewAnonymousCredentials creates anonymous credentials
func NewAnonymousCredentials() *AnonymousCredentials {
	return &AnonymousCredentials{}
}

func (c *AnonymousCredentials) IsHashAuth() bool { return false }

// NTOWF returns the NT one-way function of creds: the hash itself for
// pass-the-hash, MD4 of the password otherwise. Anonymous credentials
// yield nil.
func NTOWF(creds Credentials) []byte {
	switch c := creds.(type) {
	case *HashCredentials:
		return c.NTHash()
	case *PasswordCredentials:
		return NTHash(c.Password())
	}
	return nil
}
