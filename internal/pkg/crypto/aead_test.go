package crypto

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncryptDecryptRoundTrip(t *testing.T) {
	key, err := GenerateKey()
	require.NoError(t, err)

	payloads := [][]byte{
		{},
		[]byte("bucket/2026/10/19/users/u1/f_report.pdf"),
		bytes.Repeat([]byte{0xff, 0x00}, 4096),
	}
	for _, p := range payloads {
		blob, err := Encrypt(p, key)
		require.NoError(t, err)
		assert.Len(t, blob.IV, NonceSize)
		assert.Len(t, blob.Ciphertext, len(p)+TagSize)

		parsed, err := ParseBlob(blob.String())
		require.NoError(t, err)
		got, err := Decrypt(parsed, key)
		require.NoError(t, err)
		assert.True(t, bytes.Equal(p, got))
	}
}

func TestEncryptUsesFreshIV(t *testing.T) {
	key, _ := GenerateKey()
	a, err := EncryptString("same", key)
	require.NoError(t, err)
	b, err := EncryptString("same", key)
	require.NoError(t, err)
	assert.NotEqual(t, a, b)
}

func TestDecryptFailsClosed(t *testing.T) {
	key, _ := GenerateKey()
	other, _ := GenerateKey()

	s, err := EncryptString("secret path", key)
	require.NoError(t, err)

	_, err = DecryptString(s, other)
	assert.ErrorIs(t, err, ErrAuthentication)

	blob, err := ParseBlob(s)
	require.NoError(t, err)
	blob.Ciphertext[0] ^= 0x01
	_, err = Decrypt(blob, key)
	assert.ErrorIs(t, err, ErrAuthentication)

	_, err = DecryptString(s, key[:16])
	assert.ErrorIs(t, err, ErrInvalidKey)
}

func TestParseBlobRejectsMalformed(t *testing.T) {
	key, _ := GenerateKey()
	valid, _ := EncryptString("x", key)
	parts := strings.SplitN(valid, ":", 3)

	cases := map[string]string{
		"empty":          "",
		"two parts":      parts[0] + ":" + parts[1],
		"wrong alg":      "DES:" + parts[1] + ":" + parts[2],
		"bad iv base64":  parts[0] + ":***:" + parts[2],
		"short iv":       parts[0] + ":AAAA:" + parts[2],
		"bad ciphertext": parts[0] + ":" + parts[1] + ":!!",
	}
	for name, in := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := ParseBlob(in)
			assert.ErrorIs(t, err, ErrMalformedBlob)
		})
	}
}

func TestDeriveKey(t *testing.T) {
	secret := []byte("master-secret")
	a, err := DeriveKey(secret, PurposeCredentials)
	require.NoError(t, err)
	b, err := DeriveKey(secret, PurposeCredentials)
	require.NoError(t, err)
	c, err := DeriveKey(secret, PurposeKeyWrapping)
	require.NoError(t, err)

	assert.Len(t, a, KeySize)
	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)

	_, err = DeriveKey(nil, PurposeCredentials)
	assert.Error(t, err)
}
