package atexec

import (
	"bytes"
	"errors"
	"testing"

	"github.com/ineffectivecoder/tschexec/pkg/auth"
)

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		modify func(*Config)
		ok     bool
	}{
		{"defaults", func(*Config) {}, true},
		{"no target", func(c *Config) { c.Target = "" }, false},
		{"bad port", func(c *Config) { c.Port = 70000 }, false},
		{"short task name", func(c *Config) { c.TaskNameLength = 6 }, false},
		{"zero poll interval", func(c *Config) { c.Poll.Interval = 0 }, false},
		{"no read attempts", func(c *Config) { c.ShareRead.MaxAttempts = 0 }, false},
		{"bad hash", func(c *Config) { c.Hashes = "zz" }, false},
		{"hash", func(c *Config) { c.Hashes = ":31d6cfe0d16ae931b73c59d7e0c089c0" }, true},
		{"aes without kerberos", func(c *Config) { c.AESKey = "00112233445566778899aabbccddeeff" }, false},
		{"aes with kerberos", func(c *Config) {
			c.Kerberos = true
			c.AESKey = "00112233445566778899aabbccddeeff"
		}, true},
		{"short aes key", func(c *Config) {
			c.Kerberos = true
			c.AESKey = "0011"
		}, false},
		{"ccache without kerberos", func(c *Config) { c.CCachePath = "/tmp/krb5cc" }, false},
		{"fileless without share", func(c *Config) {
			c.PreferFileless = true
			c.ShareName = ""
		}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			cfg.Target = "dc01"
			tt.modify(&cfg)
			if err := cfg.Validate(); (err == nil) != tt.ok {
				t.Errorf("Validate() = %v", err)
			}
		})
	}
}

func TestEmptySecret(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Target = "dc01"
	cfg.Username = "guest"

	if err := cfg.Validate(); err != nil {
		t.Fatalf("allowed empty secret rejected: %v", err)
	}
	creds, err := cfg.credentials()
	if err != nil {
		t.Fatal(err)
	}
	hc, ok := creds.(*auth.HashCredentials)
	if !ok || !bytes.Equal(hc.NTHash(), auth.NTHash("")) {
		t.Errorf("credentials = %#v, want the empty password hash", creds)
	}

	cfg.AllowEmptySecret = false
	if err := cfg.Validate(); !errors.Is(err, ErrNoCredentials) {
		t.Errorf("Validate() = %v, want ErrNoCredentials", err)
	}
}

func TestCredentials(t *testing.T) {
	tests := []struct {
		name  string
		cfg   Config
		check func(auth.Credentials) bool
	}{
		{"anonymous", Config{}, func(c auth.Credentials) bool {
			_, ok := c.(*auth.AnonymousCredentials)
			return ok
		}},
		{"password", Config{Username: "u", Password: "p"}, func(c auth.Credentials) bool {
			pc, ok := c.(*auth.PasswordCredentials)
			return ok && pc.Password() == "p"
		}},
		{"hash", Config{Username: "u", Hashes: "aad3b435b51404eeaad3b435b51404ee:31d6cfe0d16ae931b73c59d7e0c089c0"}, func(c auth.Credentials) bool {
			hc, ok := c.(*auth.HashCredentials)
			return ok && hc.IsHashAuth()
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			creds, err := tt.cfg.credentials()
			if err != nil {
				t.Fatal(err)
			}
			if !tt.check(creds) {
				t.Errorf("credentials = %#v", creds)
			}
		})
	}
}

func TestParseHashes(t *testing.T) {
	const nt = "31d6cfe0d16ae931b73c59d7e0c089c0"
	tests := []struct {
		in string
		ok bool
	}{
		{"", true},
		{nt, true},
		{":" + nt, true},
		{"aad3b435b51404eeaad3b435b51404ee:" + nt, true},
		{"aad3:" + nt, false},
		{nt[:30], false},
		{"not-hex-not-hex-not-hex-not-hex!", false},
	}
	for _, tt := range tests {
		b, err := ParseHashes(tt.in)
		if (err == nil) != tt.ok {
			t.Errorf("ParseHashes(%q) error = %v", tt.in, err)
			continue
		}
		if tt.ok && tt.in != "" && len(b) != 16 {
			t.Errorf("ParseHashes(%q) = %x", tt.in, b)
		}
	}
}

func TestPolicyValidate(t *testing.T) {
	if err := (Policy{Interval: 1, MaxAttempts: 1, Timeout: 1}).validate("x"); err != nil {
		t.Error(err)
	}
	if err := (Policy{Interval: 1, Timeout: 1}).validate("x"); err == nil {
		t.Error("zero attempts accepted")
	}
}
