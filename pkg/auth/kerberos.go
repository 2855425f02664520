package auth

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/jcmturner/gokrb5/v8/client"
	"github.com/jcmturner/gokrb5/v8/config"
	"github.com/jcmturner/gokrb5/v8/credentials"
	"github.com/jcmturner/gokrb5/v8/iana/etypeID"
	"github.com/jcmturner/gokrb5/v8/iana/nametype"
	"github.com/jcmturner/gokrb5/v8/keytab"
	"github.com/jcmturner/gokrb5/v8/messages"
	"github.com/jcmturner/gokrb5/v8/spnego"
	"github.com/jcmturner/gokrb5/v8/types"
)

// ErrNoKerberosSecret is returned when none of password, key, keytab or
// ccache was supplied.
var ErrNoKerberosSecret = errors.New("no kerberos secret supplied")

// KerberosConfig selects the source of Kerberos key material. The first
// non-empty source wins in this order: CCachePath, KeytabPath, AESKey,
// NTHash, Password.
type KerberosConfig struct {
	Username   string
	Realm      string
	Password   string
	NTHash     []byte // RC4-HMAC key
	AESKey     []byte // 16 or 32 bytes
	KeytabPath string
	CCachePath string
	KDCHost    string // host or host:port; DNS lookup when empty
}

// KerberosCredentials holds Kerberos authentication material
type KerberosCredentials struct {
	domain    string
	username  string
	realm     string
	krbClient *client.Client
}

// NewKerberosCredentials builds a Kerberos client from cfg. No KDC traffic
// happens until Login or the first ticket request.
func NewKerberosCredentials(cfg KerberosConfig) (*KerberosCredentials, error) {
	realm := strings.ToUpper(cfg.Realm)

	krbConf, err := loadKrb5Config(realm, cfg.KDCHost)
	if err != nil {
		return nil, err
	}
	settings := []func(*client.Settings){client.DisablePAFXFAST(true)}

	var cl *client.Client
	username := cfg.Username
	switch {
	case cfg.CCachePath != "":
		cc, err := credentials.LoadCCache(cfg.CCachePath)
		if err != nil {
			return nil, fmt.Errorf("failed to load ccache: %w", err)
		}
		cl, err = client.NewFromCCache(cc, krbConf, settings...)
		if err != nil {
			return nil, fmt.Errorf("failed to create Kerberos client: %w", err)
		}
		if len(cc.DefaultPrincipal.PrincipalName.NameString) > 0 {
			username = cc.DefaultPrincipal.PrincipalName.NameString[0]
		}
		if realm == "" {
			realm = cc.DefaultPrincipal.Realm
		}
	case cfg.KeytabPath != "":
		kt, err := keytab.Load(cfg.KeytabPath)
		if err != nil {
			return nil, fmt.Errorf("failed to load keytab: %w", err)
		}
		cl = client.NewWithKeytab(username, realm, kt, krbConf, settings...)
	case len(cfg.AESKey) > 0:
		var et int32
		switch len(cfg.AESKey) {
		case 16:
			et = etypeID.AES128_CTS_HMAC_SHA1_96
		case 32:
			et = etypeID.AES256_CTS_HMAC_SHA1_96
		default:
			return nil, fmt.Errorf("AES key must be 16 or 32 bytes, got %d", len(cfg.AESKey))
		}
		kt, err := keytabFromKey(username, realm, et, cfg.AESKey)
		if err != nil {
			return nil, err
		}
		cl = client.NewWithKeytab(username, realm, kt, krbConf, settings...)
	case len(cfg.NTHash) > 0:
		if len(cfg.NTHash) != 16 {
			return nil, fmt.Errorf("NT hash must be 16 bytes, got %d", len(cfg.NTHash))
		}
		kt, err := keytabFromKey(username, realm, etypeID.RC4_HMAC, cfg.NTHash)
		if err != nil {
			return nil, err
		}
		cl = client.NewWithKeytab(username, realm, kt, krbConf, settings...)
	case cfg.Password != "":
		cl = client.NewWithPassword(username, realm, cfg.Password, krbConf, settings...)
	default:
		return nil, ErrNoKerberosSecret
	}

	return &KerberosCredentials{
		domain:    realm,
		username:  username,
		realm:     realm,
		krbClient: cl,
	}, nil
}

// keytabFromKey serialises a one-entry v2 keytab holding key and loads it.
// gokrb5 only builds keytab entries from passwords, so raw keys go through
// the file format.
func keytabFromKey(username, realm string, etype int32, key []byte) (*keytab.Keytab, error) {
	var e bytes.Buffer
	be := binary.BigEndian
	binary.Write(&e, be, int16(1))
	binary.Write(&e, be, int16(len(realm)))
	e.WriteString(realm)
	binary.Write(&e, be, int16(len(username)))
	e.WriteString(username)
	binary.Write(&e, be, int32(nametype.KRB_NT_PRINCIPAL))
	binary.Write(&e, be, uint32(time.Now().Unix()))
	e.WriteByte(1) // kvno8
	binary.Write(&e, be, uint16(etype))
	binary.Write(&e, be, uint16(len(key)))
	e.Write(key)
	binary.Write(&e, be, uint32(1))

	var b bytes.Buffer
	b.Write([]byte{0x05, 0x02})
	binary.Write(&b, be, int32(e.Len()))
	b.Write(e.Bytes())

	kt := keytab.New()
	if err := kt.Unmarshal(b.Bytes()); err != nil {
		return nil, fmt.Errorf("failed to build keytab: %w", err)
	}
	return kt, nil
}

// Domain returns the domain
func (k *KerberosCredentials) Domain() string {
	return k.domain
}

// Username returns the username
func (k *KerberosCredentials) Username() string {
	return k.username
}

// IsHashAuth returns false for Kerberos
func (k *KerberosCredentials) IsHashAuth() bool {
	return false
}

// IsKerberos returns true
func (k *KerberosCredentials) IsKerberos() bool {
	return true
}

// Login performs the AS exchange. Clients loaded from a ccache are already
// logged in and this is a no-op for them.
func (k *KerberosCredentials) Login() error {
	if k.krbClient == nil {
		return fmt.Errorf("Kerberos client not initialized")
	}
	if k.krbClient.Credentials.HasPassword() || k.krbClient.Credentials.HasKeytab() {
		return k.krbClient.Login()
	}
	return nil
}

// SessionSetupToken returns a SPNEGO NegTokenInit carrying a KRB5 AP-REQ
// for spn and the ticket session key.
func (k *KerberosCredentials) SessionSetupToken(spn string) ([]byte, []byte, error) {
	tkt, key, err := k.ServiceTicket(spn)
	if err != nil {
		return nil, nil, err
	}
	init, err := spnego.NewNegTokenInitKRB5(k.krbClient, tkt, key)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to build AP-REQ: %w", err)
	}
	tok := spnego.SPNEGOToken{Init: true, NegTokenInit: init}
	b, err := tok.Marshal()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to marshal SPNEGO token: %w", err)
	}
	return b, key.KeyValue, nil
}

// ServiceTicket gets a TGS ticket for the given SPN
func (k *KerberosCredentials) ServiceTicket(spn string) (messages.Ticket, types.EncryptionKey, error) {
	if k.krbClient == nil {
		return messages.Ticket{}, types.EncryptionKey{}, fmt.Errorf("Kerberos client not initialized")
	}
	tkt, key, err := k.krbClient.GetServiceTicket(spn)
	if err != nil {
		return tkt, key, fmt.Errorf("failed to get service ticket for %s: %w", spn, err)
	}
	return tkt, key, nil
}

// Principal returns the client realm and principal name
func (k *KerberosCredentials) Principal() (string, types.PrincipalName) {
	return k.krbClient.Credentials.Domain(), k.krbClient.Credentials.CName()
}

// Close destroys the Kerberos client
func (k *KerberosCredentials) Close() {
	if k.krbClient != nil {
		k.krbClient.Destroy()
	}
}

// loadKrb5Config loads krb5.conf from KRB5_CONFIG or the standard location.
// Without one, a minimal config is generated for realm, pointing at kdcHost
// when given and falling back to DNS otherwise.
func loadKrb5Config(realm, kdcHost string) (*config.Config, error) {
	if kdcHost == "" {
		for _, path := range []string{os.Getenv("KRB5_CONFIG"), "/etc/krb5.conf", "/etc/krb5/krb5.conf"} {
			if path == "" {
				continue
			}
			if _, err := os.Stat(path); err == nil {
				return config.Load(path)
			}
		}
	}
	return config.NewFromString(krb5ConfigString(realm, kdcHost))
}

func krb5ConfigString(realm, kdcHost string) string {
	var sb strings.Builder
	sb.WriteString("[libdefaults]\n")
	if realm != "" {
		fmt.Fprintf(&sb, "  default_realm = %s\n", realm)
	}
	sb.WriteString("  dns_lookup_realm = false\n")
	fmt.Fprintf(&sb, "  dns_lookup_kdc = %t\n", kdcHost == "")
	sb.WriteString("  udp_preference_limit = 1\n")
	sb.WriteString("  default_tkt_enctypes = aes256-cts-hmac-sha1-96 aes128-cts-hmac-sha1-96 rc4-hmac\n")
	sb.WriteString("  default_tgs_enctypes = aes256-cts-hmac-sha1-96 aes128-cts-hmac-sha1-96 rc4-hmac\n")
	sb.WriteString("  permitted_enctypes = aes256-cts-hmac-sha1-96 aes128-cts-hmac-sha1-96 rc4-hmac\n")
	if realm != "" && kdcHost != "" {
		if !strings.Contains(kdcHost, ":") {
			kdcHost += ":88"
		}
		fmt.Fprintf(&sb, "\n[realms]\n  %s = {\n    kdc = %s\n  }\n", realm, kdcHost)
		fmt.Fprintf(&sb, "\n[domain_realm]\n  .%s = %s\n  %s = %s\n",
			strings.ToLower(realm), realm, strings.ToLower(realm), realm)
	}
	return sb.String()
}
