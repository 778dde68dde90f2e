package crypto

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSealOpenRoundTrip(t *testing.T) {
	v := NewVault("correct horse battery staple")
	creds := Credentials{Username: "broker01", Password: "s3cr3t!", Scopes: []string{"declarations"}}

	sealed, err := v.Seal(creds)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(sealed, "v1:"))
	assert.NotContains(t, sealed, "s3cr3t")

	again, err := v.Seal(creds)
	require.NoError(t, err)
	assert.NotEqual(t, sealed, again, "salt and nonce must be random")

	got, err := v.Open(sealed)
	require.NoError(t, err)
	assert.Equal(t, creds, got)
}

func TestOpenFailures(t *testing.T) {
	v := NewVault("master")
	sealed, err := v.Seal(Credentials{Password: "x"})
	require.NoError(t, err)

	_, err = NewVault("other").Open(sealed)
	assert.ErrorContains(t, err, "decryption failed")

	_, err = v.Open("plain-text-password")
	assert.ErrorContains(t, err, "unsupported")

	_, err = v.Open("v1:AAAA")
	assert.Error(t, err)

	tampered := sealed[:len(sealed)-4] + "AAAA"
	_, err = v.Open(tampered)
	assert.Error(t, err)

	_, err = NewVault("").Open(sealed)
	assert.ErrorIs(t, err, ErrNoMasterKey)
}

func TestOpenEmpty(t *testing.T) {
	c, err := NewVault("").Open("  ")
	require.NoError(t, err)
	assert.Equal(t, Credentials{}, c)
}

func TestCredentialsStringRedacts(t *testing.T) {
	c := Credentials{Username: "broker01", Password: "s3cr3t", APIKey: "k-123", ClientSecret: "cs"}
	s := c.String()
	assert.Contains(t, s, "broker01")
	assert.NotContains(t, s, "s3cr3t")
	assert.NotContains(t, s, "k-123")
	assert.NotContains(t, s, "cs}")
}
