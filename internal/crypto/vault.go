// Package crypto seals target credential bundles at rest with AES-256-GCM
// under a key derived from a master secret.
package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"golang.org/x/crypto/pbkdf2"
)

const (
	// KeySize is the AES-256 key length in bytes
	KeySize = 32
	// NonceSize is the GCM nonce length
	NonceSize = 12
	// SaltSize is the PBKDF2 salt length
	SaltSize = 16
	// Iterations is the PBKDF2 work factor
	Iterations = 100000

	sealPrefix = "v1:"
)

// ErrNoMasterKey is returned when sealing or opening without a master key
var ErrNoMasterKey = errors.New("no master key configured")

// Credentials is the decrypted credential bundle of a target
type Credentials struct {
	Username     string   `json:"username,omitempty"`
	Password     string   `json:"password,omitempty"`
	APIKey       string   `json:"api_key,omitempty"`
	ClientID     string   `json:"client_id,omitempty"`
	ClientSecret string   `json:"client_secret,omitempty"`
	TokenURL     string   `json:"token_url,omitempty"`
	Scopes       []string `json:"scopes,omitempty"`
}

// String never reveals secrets
func (c Credentials) String() string {
	mask := func(s string) string {
		if s == "" {
			return ""
		}
		return "****"
	}
	return fmt.Sprintf("Credentials{username=%q password=%s api_key=%s client_id=%q client_secret=%s}",
		c.Username, mask(c.Password), mask(c.APIKey), c.ClientID, mask(c.ClientSecret))
}

// Map exposes credentials to field resolution under the "credentials" key
func (c Credentials) Map() map[string]interface{} {
	return map[string]interface{}{
		"username": c.Username,
		"password": c.Password,
		"api_key":  c.APIKey,
	}
}

// Vault seals and opens credential bundles
type Vault struct {
	master []byte
}

// NewVault creates a vault keyed by the master secret
func NewVault(master string) *Vault {
	return &Vault{master: []byte(master)}
}

func (v *Vault) gcm(salt []byte) (cipher.AEAD, error) {
	key := pbkdf2.Key(v.master, salt, Iterations, KeySize, sha256.New)
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCM: %w", err)
	}
	return gcm, nil
}

// SealBytes encrypts plaintext into a printable "v1:" envelope of
// base64(salt | nonce | ciphertext).
func (v *Vault) SealBytes(plaintext []byte) (string, error) {
	if len(v.master) == 0 {
		return "", ErrNoMasterKey
	}
	buf := make([]byte, SaltSize+NonceSize)
	if _, err := io.ReadFull(rand.Reader, buf); err != nil {
		return "", fmt.Errorf("failed to generate salt and nonce: %w", err)
	}
	gcm, err := v.gcm(buf[:SaltSize])
	if err != nil {
		return "", err
	}
	out := gcm.Seal(buf, buf[SaltSize:], plaintext, nil)
	return sealPrefix + base64.StdEncoding.EncodeToString(out), nil
}

// OpenBytes reverses SealBytes
func (v *Vault) OpenBytes(sealed string) ([]byte, error) {
	if len(v.master) == 0 {
		return nil, ErrNoMasterKey
	}
	if !strings.HasPrefix(sealed, sealPrefix) {
		return nil, fmt.Errorf("unsupported sealed format")
	}
	raw, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(sealed, sealPrefix))
	if err != nil {
		return nil, fmt.Errorf("failed to decode sealed data: %w", err)
	}
	if len(raw) <= SaltSize+NonceSize {
		return nil, fmt.Errorf("sealed data too short")
	}
	gcm, err := v.gcm(raw[:SaltSize])
	if err != nil {
		return nil, err
	}
	plaintext, err := gcm.Open(nil, raw[SaltSize:SaltSize+NonceSize], raw[SaltSize+NonceSize:], nil)
	if err != nil {
		return nil, fmt.Errorf("decryption failed: %w", err)
	}
	return plaintext, nil
}

// Seal encrypts a credential bundle
func (v *Vault) Seal(c Credentials) (string, error) {
	data, err := json.Marshal(c)
	if err != nil {
		return "", fmt.Errorf("failed to marshal credentials: %w", err)
	}
	return v.SealBytes(data)
}

// Open decrypts a credential bundle. An empty string yields empty
// credentials so targets without authentication need no master key.
func (v *Vault) Open(sealed string) (Credentials, error) {
	var c Credentials
	if strings.TrimSpace(sealed) == "" {
		return c, nil
	}
	data, err := v.OpenBytes(sealed)
	if err != nil {
		return c, err
	}
	if err := json.Unmarshal(data, &c); err != nil {
		return c, fmt.Errorf("failed to unmarshal credentials: %w", err)
	}
	return c, nil
}
