package atexec

import (
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ineffectivecoder/tschexec/pkg/auth"
)

// Policy bounds a wait loop. The loop stops after MaxAttempts tries or
// once another sleep would pass Timeout, whichever comes first.
type Policy struct {
	Interval    time.Duration
	MaxAttempts int
	Timeout     time.Duration
}

func (p Policy) validate(name string) error {
	if p.Interval <= 0 || p.MaxAttempts <= 0 || p.Timeout <= 0 {
		return fmt.Errorf("%s policy needs a positive interval, attempt count and timeout", name)
	}
	return nil
}

// Config configures an Executor. It is copied by New and not modified
// afterwards.
type Config struct {
	Target    string
	Port      int
	Timeout   time.Duration // SMB dial and I/O timeout
	Socks5URL string

	Username string
	Domain   string
	Password string
	Hashes   string // LM:NT or NT, hex
	AESKey   string // hex, 128 or 256 bit

	Kerberos   bool
	KDCHost    string
	CCachePath string

	// AllowEmptySecret binds with an empty password when no secret was
	// supplied, for null session testing.
	AllowEmptySecret bool

	// ShareName is the caller's share the target writes to in fileless mode
	ShareName string
	// LocalShareDir is where that share lands on the local filesystem
	LocalShareDir  string
	PreferFileless bool

	TaskNameLength int
	// VerifyCleanup lists the root task folder after delete and warns if
	// the task is still there.
	VerifyCleanup bool

	Poll      Policy
	ShareRead Policy
	LocalRead Policy
}

// DefaultConfig returns the default configuration
func DefaultConfig() Config {
	return Config{
		Port:             445,
		Timeout:          30 * time.Second,
		AllowEmptySecret: true,
		ShareName:        "share",
		LocalShareDir:    "/tmp/tschexec_hosted",
		TaskNameLength:   8,
		Poll:             Policy{Interval: 2 * time.Second, MaxAttempts: 150, Timeout: 5 * time.Minute},
		ShareRead:        Policy{Interval: 3 * time.Second, MaxAttempts: 40, Timeout: 2 * time.Minute},
		LocalRead:        Policy{Interval: 2 * time.Second, MaxAttempts: 30, Timeout: time.Minute},
	}
}

// Validate checks the configuration
func (c Config) Validate() error {
	if c.Target == "" {
		return errors.New("target is required")
	}
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("invalid port %d", c.Port)
	}
	if c.TaskNameLength < 8 {
		return fmt.Errorf("task name length %d is below 8", c.TaskNameLength)
	}
	for name, p := range map[string]Policy{"poll": c.Poll, "share read": c.ShareRead, "local read": c.LocalRead} {
		if err := p.validate(name); err != nil {
			return err
		}
	}
	if _, err := ParseHashes(c.Hashes); err != nil {
		return err
	}
	if _, err := c.aesKey(); err != nil {
		return err
	}
	if (c.AESKey != "" || c.CCachePath != "") && !c.Kerberos {
		return errors.New("AES keys and ccaches need Kerberos")
	}
	if !c.hasSecret() && !c.AllowEmptySecret {
		return ErrNoCredentials
	}
	if c.PreferFileless && c.ShareName == "" {
		return errors.New("fileless mode needs a share name")
	}
	return nil
}

func (c Config) hasSecret() bool {
	return c.Password != "" || c.Hashes != "" || c.AESKey != "" || c.CCachePath != ""
}

// ParseHashes parses "LM:NT", ":NT" or "NT" and returns the NT hash. An
// empty string yields nil.
func ParseHashes(s string) ([]byte, error) {
	if s == "" {
		return nil, nil
	}
	nt := s
	if i := strings.IndexByte(s, ':'); i >= 0 {
		if lm := s[:i]; lm != "" {
			if b, err := hex.DecodeString(lm); err != nil || len(b) != 16 {
				return nil, fmt.Errorf("invalid LM hash %q", lm)
			}
		}
		nt = s[i+1:]
	}
	b, err := hex.DecodeString(nt)
	if err != nil || len(b) != 16 {
		return nil, fmt.Errorf("invalid NT hash %q", nt)
	}
	return b, nil
}

func (c Config) aesKey() ([]byte, error) {
	if c.AESKey == "" {
		return nil, nil
	}
	b, err := hex.DecodeString(c.AESKey)
	if err != nil || (len(b) != 16 && len(b) != 32) {
		return nil, errors.New("AES key must be 32 or 64 hex characters")
	}
	return b, nil
}

// credentials builds the SMB and RPC credential material. Validate has
// already accepted c.
func (c Config) credentials() (auth.Credentials, error) {
	nt, _ := ParseHashes(c.Hashes)

	if c.Kerberos {
		key, _ := c.aesKey()
		krb, err := auth.NewKerberosCredentials(auth.KerberosConfig{
			Username:   c.Username,
			Realm:      c.Domain,
			Password:   c.Password,
			NTHash:     nt,
			AESKey:     key,
			CCachePath: c.CCachePath,
			KDCHost:    c.KDCHost,
		})
		if err != nil {
			return nil, err
		}
		if err := krb.Login(); err != nil {
			krb.Close()
			return nil, fmt.Errorf("kerberos login failed: %w", err)
		}
		return krb, nil
	}

	switch {
	case nt != nil:
		return auth.NewHashCredentials(c.Domain, c.Username, nt), nil
	case c.Password != "":
		return auth.NewPasswordCredentials(c.Domain, c.Username, c.Password), nil
	case c.Username == "":
		return auth.NewAnonymousCredentials(), nil
	}
	// explicit empty secret
	return auth.NewHashCredentials(c.Domain, c.Username, auth.NTHash("")), nil
}
